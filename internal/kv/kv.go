// Package kv provides the small key/value stores used to persist client
// configuration. Stores are selected by URL scheme.
package kv

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var ErrNotFound = errors.New("kv: key not found")

// KV is a byte-valued key/value store.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Close() error
	Type() string
}

// Factory builds a store from a parsed URL.
type Factory func(parsed *ParsedURL) (KV, error)

var (
	factoriesMu sync.RWMutex
	factories   = map[string]Factory{}
)

// RegisterFactory makes a store type available to Open.
func RegisterFactory(scheme string, f Factory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	factories[scheme] = f
}

// Open parses rawURL and builds the matching store.
func Open(rawURL string) (KV, error) {
	parsed, err := ParseURL(rawURL)
	if err != nil {
		return nil, err
	}

	factoriesMu.RLock()
	f, ok := factories[parsed.Type]
	factoriesMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("kv: no factory registered for %q", parsed.Type)
	}
	return f(parsed)
}
