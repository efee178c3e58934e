package services

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// SessionStore maps browser sessions to connected clients. Entries expire
// after the TTL or when the store is full; an evicted client is
// disconnected so its secret is wiped.
type SessionStore struct {
	lru *expirable.LRU[string, *Client]
}

func NewSessionStore(size int, ttl time.Duration) *SessionStore {
	return &SessionStore{
		lru: expirable.NewLRU[string, *Client](size, func(_ string, c *Client) {
			_ = c.Disconnect(context.Background())
		}, ttl),
	}
}

// Create registers c under a new random session id.
func (s *SessionStore) Create(c *Client) (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	id := hex.EncodeToString(buf)
	s.lru.Add(id, c)
	return id, nil
}

func (s *SessionStore) Get(id string) (*Client, bool) {
	return s.lru.Get(id)
}

// Remove drops the session and disconnects its client.
func (s *SessionStore) Remove(id string) {
	s.lru.Remove(id)
}

func (s *SessionStore) Len() int {
	return s.lru.Len()
}

// Purge ends every session, disconnecting each client.
func (s *SessionStore) Purge() {
	s.lru.Purge()
}
