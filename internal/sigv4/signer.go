// Package sigv4 implements AWS Signature Version 4 request signing for S3
// compatible services, together with the URL and query canonicalization the
// signature depends on.
package sigv4

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
	"time"
)

const (
	Algorithm       = "AWS4-HMAC-SHA256"
	DateFormat      = "20060102T150405Z"
	Service         = "s3"
	Terminator      = "aws4_request"
	UnsignedPayload = "UNSIGNED-PAYLOAD"

	// SignedHeaders lists the canonical headers in the order they are signed.
	SignedHeaders = "host;x-amz-content-sha256;x-amz-date"
)

// EmptyPayloadHash is the SHA-256 of zero bytes.
const EmptyPayloadHash = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"

var (
	ErrMissingAccessKey   = errors.New("sigv4: missing access key id")
	ErrMissingSecret      = errors.New("sigv4: missing secret access key")
	ErrMissingRegion      = errors.New("sigv4: missing region")
	ErrMissingPayloadHash = errors.New("sigv4: missing payload hash")
)

// Credentials is the signing view of an access key pair. SecretAccessKey is
// a byte slice so its owner can wipe it.
type Credentials struct {
	AccessKeyID     string
	SecretAccessKey []byte
	Region          string
}

// Request carries everything about a request that ends up in the signature.
type Request struct {
	Method      string
	Target      Target
	PayloadHash string
}

// Signed is the result of signing one request. It is built and consumed
// within a single call and never persisted.
type Signed struct {
	Method           string
	CanonicalURI     string
	CanonicalQuery   string
	CanonicalHeaders string
	SignedHeaders    string
	PayloadHash      string
	AmzDate          string
	CredentialScope  string
	StringToSign     string
	Signature        string
	Authorization    string
	Host             string
}

// HashPayload returns the lowercase hex SHA-256 of the exact bytes sent.
func HashPayload(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// CanonicalHeaders renders the three signed headers, each newline-terminated.
func CanonicalHeaders(host, payloadHash, amzDate string) string {
	return "host:" + host + "\n" +
		"x-amz-content-sha256:" + payloadHash + "\n" +
		"x-amz-date:" + amzDate + "\n"
}

// CanonicalRequest joins the six canonical request parts with newlines.
func CanonicalRequest(method, canonicalURI, canonicalQuery, canonicalHeaders, signedHeaders, payloadHash string) string {
	return strings.Join([]string{
		method,
		canonicalURI,
		canonicalQuery,
		canonicalHeaders,
		signedHeaders,
		payloadHash,
	}, "\n")
}

// CredentialScope returns date/region/service/aws4_request.
func CredentialScope(dateStamp, region, service string) string {
	return dateStamp + "/" + region + "/" + service + "/" + Terminator
}

// StringToSign hashes the canonical request and prefixes algorithm, date and scope.
func StringToSign(amzDate, scope, canonicalRequest string) string {
	sum := sha256.Sum256([]byte(canonicalRequest))
	return Algorithm + "\n" + amzDate + "\n" + scope + "\n" + hex.EncodeToString(sum[:])
}

// DeriveSigningKey runs the HMAC-SHA256 chain from the secret down to the
// per-day, per-region, per-service signing key.
func DeriveSigningKey(secret []byte, dateStamp, region, service string) []byte {
	seed := make([]byte, 0, len("AWS4")+len(secret))
	seed = append(seed, "AWS4"...)
	seed = append(seed, secret...)
	defer clear(seed)

	kDate := hmacSHA256(seed, dateStamp)
	kRegion := hmacSHA256(kDate, region)
	kService := hmacSHA256(kRegion, service)
	return hmacSHA256(kService, Terminator)
}

// AuthorizationHeader renders the Authorization header value.
func AuthorizationHeader(accessKeyID, scope, signedHeaders, signature string) string {
	return Algorithm + " Credential=" + accessKeyID + "/" + scope +
		", SignedHeaders=" + signedHeaders + ", Signature=" + signature
}

// Sign computes the SigV4 signature for req at time now. It keeps no state
// between calls and is safe for concurrent use.
func Sign(req Request, creds Credentials, now time.Time) (Signed, error) {
	if creds.AccessKeyID == "" {
		return Signed{}, ErrMissingAccessKey
	}
	if len(creds.SecretAccessKey) == 0 {
		return Signed{}, ErrMissingSecret
	}
	if creds.Region == "" {
		return Signed{}, ErrMissingRegion
	}
	if req.PayloadHash == "" {
		return Signed{}, ErrMissingPayloadHash
	}

	amzDate := now.UTC().Format(DateFormat)
	dateStamp := amzDate[:8]

	headers := CanonicalHeaders(req.Target.Host, req.PayloadHash, amzDate)
	canonical := CanonicalRequest(req.Method, req.Target.CanonicalURI, req.Target.CanonicalQuery, headers, SignedHeaders, req.PayloadHash)
	scope := CredentialScope(dateStamp, creds.Region, Service)
	toSign := StringToSign(amzDate, scope, canonical)

	key := DeriveSigningKey(creds.SecretAccessKey, dateStamp, creds.Region, Service)
	signature := hex.EncodeToString(hmacSHA256(key, toSign))
	clear(key)

	return Signed{
		Method:           req.Method,
		CanonicalURI:     req.Target.CanonicalURI,
		CanonicalQuery:   req.Target.CanonicalQuery,
		CanonicalHeaders: headers,
		SignedHeaders:    SignedHeaders,
		PayloadHash:      req.PayloadHash,
		AmzDate:          amzDate,
		CredentialScope:  scope,
		StringToSign:     toSign,
		Signature:        signature,
		Authorization:    AuthorizationHeader(creds.AccessKeyID, scope, SignedHeaders, signature),
		Host:             req.Target.Host,
	}, nil
}

// Apply copies the signed headers onto an outgoing request.
func (s Signed) Apply(r *http.Request) {
	r.Host = s.Host
	r.Header.Set("X-Amz-Date", s.AmzDate)
	r.Header.Set("X-Amz-Content-Sha256", s.PayloadHash)
	r.Header.Set("Authorization", s.Authorization)
}

func hmacSHA256(key []byte, data string) []byte {
	h := hmac.New(sha256.New, key)
	h.Write([]byte(data))
	return h.Sum(nil)
}
