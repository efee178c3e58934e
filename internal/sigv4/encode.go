package sigv4

import (
	"net/url"
	"sort"
	"strings"
)

const upperHex = "0123456789ABCDEF"

// URIEncode percent-encodes every byte outside the RFC 3986 unreserved set
// (A-Z a-z 0-9 - _ . ~) using uppercase hex, the way SigV4 expects.
func URIEncode(value string) string {
	var b strings.Builder
	b.Grow(len(value) * 3)
	for i := 0; i < len(value); i++ {
		c := value[i]
		if isUnreserved(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(upperHex[c>>4])
		b.WriteByte(upperHex[c&0x0F])
	}
	return b.String()
}

func isUnreserved(c byte) bool {
	return (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') ||
		c == '-' || c == '_' || c == '.' || c == '~'
}

// EncodeKeyPath turns an object key into a request path. Each segment is
// encoded on its own so "/" stays a literal separator. An empty key maps to "/".
func EncodeKeyPath(key string) string {
	if key == "" {
		return "/"
	}
	segments := strings.Split(key, "/")
	for i, seg := range segments {
		segments[i] = URIEncode(seg)
	}
	return "/" + strings.Join(segments, "/")
}

// DecodeKey reverses EncodeKeyPath.
func DecodeKey(path string) (string, error) {
	path = strings.TrimPrefix(path, "/")
	segments := strings.Split(path, "/")
	for i, seg := range segments {
		decoded, err := url.PathUnescape(seg)
		if err != nil {
			return "", err
		}
		segments[i] = decoded
	}
	return strings.Join(segments, "/"), nil
}

// CanonicalQuery serializes query parameters with names sorted bytewise. A
// parameter with an empty value is written as the bare encoded name.
//
// The same string is used for the request URL and for signing; never build
// either of them any other way.
func CanonicalQuery(params map[string]string) string {
	if len(params) == 0 {
		return ""
	}
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)

	pairs := make([]string, 0, len(names))
	for _, name := range names {
		value := params[name]
		if value == "" {
			pairs = append(pairs, URIEncode(name))
			continue
		}
		pairs = append(pairs, URIEncode(name)+"="+URIEncode(value))
	}
	return strings.Join(pairs, "&")
}
