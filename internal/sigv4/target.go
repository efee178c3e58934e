package sigv4

import (
	"net/url"
	"strings"
)

// Target is a fully resolved request location. CanonicalURI and
// CanonicalQuery are exactly what travels in URL, so a signature computed
// from them always describes the request actually sent.
type Target struct {
	URL            *url.URL
	Host           string
	CanonicalURI   string
	CanonicalQuery string
}

// BuildTarget builds a virtual-hosted-style URL: the bucket becomes a
// subdomain of endpoint and the key becomes the path.
func BuildTarget(endpoint, bucket string, useSSL bool, key string, query map[string]string) Target {
	host := bucket + "." + strings.TrimSuffix(stripScheme(endpoint), "/")
	scheme := "http"
	if useSSL {
		scheme = "https"
	}

	canonicalURI := EncodeKeyPath(key)
	canonicalQuery := CanonicalQuery(query)

	u := &url.URL{
		Scheme:   scheme,
		Host:     host,
		Path:     "/" + key,
		RawPath:  canonicalURI,
		RawQuery: canonicalQuery,
	}
	if key == "" {
		u.Path = "/"
	}

	return Target{
		URL:            u,
		Host:           host,
		CanonicalURI:   canonicalURI,
		CanonicalQuery: canonicalQuery,
	}
}

func stripScheme(endpoint string) string {
	if i := strings.Index(endpoint, "://"); i >= 0 {
		return endpoint[i+3:]
	}
	return endpoint
}
