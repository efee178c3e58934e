// Package s3test provides an in-memory S3 endpoint for tests. It verifies
// SigV4 signatures the way a real service would and can be driven without
// DNS through Server.Doer.
package s3test

import (
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/damacus/iron-objects/internal/sigv4"
)

// Object is a stored object.
type Object struct {
	Data        []byte
	ContentType string
	Metadata    map[string]string
	Modified    time.Time
}

// Recorded is a request as the server saw it.
type Recorded struct {
	Method        string
	Host          string
	EscapedPath   string
	RawQuery      string
	Header        http.Header
	Body          []byte
	Authorization string
}

// Server is a single-region fake keyed by bucket then object key.
type Server struct {
	Region    string
	AccessKey string
	Secret    string

	mu       sync.Mutex
	buckets  map[string]map[string]Object
	requests []Recorded
	failures []int
	listBody []byte
}

// New returns a server accepting accessKey/secret in region with the
// given buckets created empty.
func New(region, accessKey, secret string, buckets ...string) *Server {
	s := &Server{
		Region:    region,
		AccessKey: accessKey,
		Secret:    secret,
		buckets:   map[string]map[string]Object{},
	}
	for _, b := range buckets {
		s.buckets[b] = map[string]Object{}
	}
	return s
}

// Put seeds an object.
func (s *Server) Put(bucket, key string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.buckets[bucket] == nil {
		s.buckets[bucket] = map[string]Object{}
	}
	s.buckets[bucket][key] = Object{Data: data, ContentType: "application/octet-stream", Modified: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

// Object returns a stored object.
func (s *Server) Object(bucket, key string) (Object, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.buckets[bucket][key]
	return o, ok
}

// FailNext makes the next len(statuses) requests answer with those statuses.
func (s *Server) FailNext(statuses ...int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, statuses...)
}

// ServeListBody makes every listing answer 200 with body.
func (s *Server) ServeListBody(body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listBody = []byte(body)
}

// Requests returns every request received so far.
func (s *Server) Requests() []Recorded {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Recorded(nil), s.requests...)
}

// Doer serves requests in-process, so virtual-hosted names need no DNS.
func (s *Server) Doer() DoerFunc {
	return func(req *http.Request) (*http.Response, error) {
		if err := req.Context().Err(); err != nil {
			return nil, err
		}
		rec := httptest.NewRecorder()
		s.ServeHTTP(rec, req)
		return rec.Result(), nil
	}
}

// DoerFunc matches the client transport seam.
type DoerFunc func(*http.Request) (*http.Response, error)

func (f DoerFunc) Do(req *http.Request) (*http.Response, error) { return f(req) }

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	s.mu.Lock()
	s.requests = append(s.requests, Recorded{
		Method:        r.Method,
		Host:          r.Host,
		EscapedPath:   r.URL.EscapedPath(),
		RawQuery:      r.URL.RawQuery,
		Header:        r.Header.Clone(),
		Body:          body,
		Authorization: r.Header.Get("Authorization"),
	})
	var forced int
	if len(s.failures) > 0 {
		forced, s.failures = s.failures[0], s.failures[1:]
	}
	s.mu.Unlock()

	if forced != 0 {
		writeError(w, forced, "InternalError", "injected failure")
		return
	}

	if code, msg := s.verify(r, body); code != "" {
		writeError(w, http.StatusForbidden, code, msg)
		return
	}

	bucket := strings.SplitN(r.Host, ".", 2)[0]
	s.mu.Lock()
	objects, ok := s.buckets[bucket]
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "NoSuchBucket", "The specified bucket does not exist")
		return
	}

	key, err := sigv4.DecodeKey(r.URL.EscapedPath())
	if err != nil {
		writeError(w, http.StatusBadRequest, "InvalidURI", err.Error())
		return
	}

	switch {
	case key == "" && r.Method == http.MethodGet:
		s.list(w, r, objects)
	case r.Method == http.MethodPut:
		meta := map[string]string{}
		for name, values := range r.Header {
			lower := strings.ToLower(name)
			if strings.HasPrefix(lower, "x-amz-meta-") {
				meta[strings.TrimPrefix(lower, "x-amz-meta-")] = values[0]
			}
		}
		s.mu.Lock()
		objects[key] = Object{Data: body, ContentType: r.Header.Get("Content-Type"), Metadata: meta, Modified: time.Now().UTC()}
		s.mu.Unlock()
		w.Header().Set("ETag", `"`+sigv4.HashPayload(body)[:32]+`"`)
		w.WriteHeader(http.StatusOK)
	case r.Method == http.MethodGet:
		s.mu.Lock()
		obj, ok := objects[key]
		s.mu.Unlock()
		if !ok {
			writeError(w, http.StatusNotFound, "NoSuchKey", "The specified key does not exist.")
			return
		}
		w.Header().Set("Content-Type", obj.ContentType)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(obj.Data)
	case r.Method == http.MethodDelete:
		s.mu.Lock()
		delete(objects, key)
		s.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	default:
		writeError(w, http.StatusMethodNotAllowed, "MethodNotAllowed", r.Method)
	}
}

// verify recomputes the signature from what arrived on the wire.
func (s *Server) verify(r *http.Request, body []byte) (code, msg string) {
	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, sigv4.Algorithm+" Credential=") {
		return "AccessDenied", "missing or malformed Authorization"
	}
	if !strings.HasPrefix(auth, sigv4.Algorithm+" Credential="+s.AccessKey+"/") {
		return "InvalidAccessKeyId", "The AWS Access Key Id you provided does not exist in our records."
	}

	payloadHash := r.Header.Get("X-Amz-Content-Sha256")
	if payloadHash != sigv4.UnsignedPayload && payloadHash != sigv4.HashPayload(body) {
		return "XAmzContentSHA256Mismatch", "The provided 'x-amz-content-sha256' header does not match what was computed."
	}

	signedAt, err := time.Parse(sigv4.DateFormat, r.Header.Get("X-Amz-Date"))
	if err != nil {
		return "AccessDenied", "missing or malformed X-Amz-Date"
	}

	expected, err := sigv4.Sign(sigv4.Request{
		Method: r.Method,
		Target: sigv4.Target{
			Host:           r.Host,
			CanonicalURI:   r.URL.EscapedPath(),
			CanonicalQuery: r.URL.RawQuery,
		},
		PayloadHash: payloadHash,
	}, sigv4.Credentials{
		AccessKeyID:     s.AccessKey,
		SecretAccessKey: []byte(s.Secret),
		Region:          s.Region,
	}, signedAt)
	if err != nil || expected.Authorization != auth {
		return "SignatureDoesNotMatch", "The request signature we calculated does not match the signature you provided."
	}
	return "", ""
}

type listBucketResult struct {
	XMLName        xml.Name       `xml:"http://s3.amazonaws.com/doc/2006-03-01/ ListBucketResult"`
	Name           string         `xml:"Name"`
	Prefix         string         `xml:"Prefix"`
	Delimiter      string         `xml:"Delimiter,omitempty"`
	MaxKeys        int            `xml:"MaxKeys"`
	IsTruncated    bool           `xml:"IsTruncated"`
	Contents       []listContents `xml:"Contents"`
	CommonPrefixes []listPrefix   `xml:"CommonPrefixes"`
}

type listContents struct {
	Key          string `xml:"Key"`
	LastModified string `xml:"LastModified"`
	ETag         string `xml:"ETag"`
	Size         int    `xml:"Size"`
	StorageClass string `xml:"StorageClass"`
}

type listPrefix struct {
	Prefix string `xml:"Prefix"`
}

func (s *Server) list(w http.ResponseWriter, r *http.Request, objects map[string]Object) {
	s.mu.Lock()
	override := s.listBody
	keys := make([]string, 0, len(objects))
	for k := range objects {
		keys = append(keys, k)
	}
	snapshot := make(map[string]Object, len(objects))
	for k, v := range objects {
		snapshot[k] = v
	}
	s.mu.Unlock()

	if override != nil {
		w.Header().Set("Content-Type", "application/xml")
		_, _ = w.Write(override)
		return
	}

	prefix := r.URL.Query().Get("prefix")
	delimiter := r.URL.Query().Get("delimiter")
	sort.Strings(keys)

	result := listBucketResult{
		Name:      strings.SplitN(r.Host, ".", 2)[0],
		Prefix:    prefix,
		Delimiter: delimiter,
		MaxKeys:   1000,
	}
	seen := map[string]bool{}
	for _, k := range keys {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		rest := strings.TrimPrefix(k, prefix)
		if delimiter != "" {
			if i := strings.Index(rest, delimiter); i >= 0 {
				p := prefix + rest[:i+len(delimiter)]
				if !seen[p] {
					seen[p] = true
					result.CommonPrefixes = append(result.CommonPrefixes, listPrefix{Prefix: p})
				}
				continue
			}
		}
		obj := snapshot[k]
		result.Contents = append(result.Contents, listContents{
			Key:          k,
			LastModified: obj.Modified.UTC().Format("2006-01-02T15:04:05.000Z"),
			ETag:         `"` + sigv4.HashPayload(obj.Data)[:32] + `"`,
			Size:         len(obj.Data),
			StorageClass: "STANDARD",
		})
	}

	out, err := xml.Marshal(result)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "InternalError", err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/xml")
	_, _ = io.WriteString(w, xml.Header)
	_, _ = w.Write(out)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(status)
	_, _ = fmt.Fprintf(w, "%s<Error><Code>%s</Code><Message>%s</Message></Error>", xml.Header, code, message)
}
