package kv

import (
	"fmt"
	"net/url"
	"strconv"
)

// ParsedURL contains parsed KV store connection information
type ParsedURL struct {
	Type     string // "redis", "file", or "memory"
	Host     string
	Port     int
	Password string
	DB       int    // redis database number
	Path     string // file store location
}

// ParseURL parses a KV store URL into connection parameters
// Supports:
//   - redis://[:password@]host:port[/db]
//   - file:///path/to/store.json
//   - memory://
func ParseURL(rawURL string) (*ParsedURL, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}

	switch u.Scheme {
	case "redis":
		return parseRedisURL(u)
	case "file":
		return parseFileURL(u)
	case "memory":
		return &ParsedURL{Type: "memory"}, nil
	default:
		return nil, fmt.Errorf("unsupported KV store type: %q", u.Scheme)
	}
}

func parseRedisURL(u *url.URL) (*ParsedURL, error) {
	parsed := &ParsedURL{
		Type: "redis",
		Host: u.Hostname(),
		Port: 6379,
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("redis URL needs a host")
	}

	if u.Port() != "" {
		port, err := strconv.Atoi(u.Port())
		if err != nil {
			return nil, fmt.Errorf("invalid port: %w", err)
		}
		parsed.Port = port
	}

	if u.User != nil {
		if pass, ok := u.User.Password(); ok {
			parsed.Password = pass
		}
	}

	if u.Path != "" && u.Path != "/" {
		db, err := strconv.Atoi(u.Path[1:])
		if err != nil {
			return nil, fmt.Errorf("invalid database number: %w", err)
		}
		parsed.DB = db
	}

	return parsed, nil
}

// file:///abs/path -> /abs/path, file://rel/path -> rel/path
func parseFileURL(u *url.URL) (*ParsedURL, error) {
	path := u.Path
	if u.Host != "" {
		path = u.Host + u.Path
	}
	if path == "" {
		return nil, fmt.Errorf("file URL needs a path")
	}
	return &ParsedURL{Type: "file", Path: path}, nil
}
