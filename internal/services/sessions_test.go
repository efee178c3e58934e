package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionStore_CreateGetRemove(t *testing.T) {
	store := NewSessionStore(10, time.Hour)
	c, _ := connectedClient(t)

	id, err := store.Create(c)
	require.NoError(t, err)
	assert.Len(t, id, 64)

	got, ok := store.Get(id)
	require.True(t, ok)
	assert.Same(t, c, got)

	store.Remove(id)
	_, ok = store.Get(id)
	assert.False(t, ok)
	assert.Equal(t, StateDisconnected, c.ConnState())
	assert.True(t, c.secret.empty())
}

func TestSessionStore_EvictsOldest(t *testing.T) {
	store := NewSessionStore(1, time.Hour)
	first, _ := connectedClient(t)
	second, _ := connectedClient(t)

	_, err := store.Create(first)
	require.NoError(t, err)
	_, err = store.Create(second)
	require.NoError(t, err)

	assert.Equal(t, 1, store.Len())
	assert.Equal(t, StateDisconnected, first.ConnState())
	assert.Equal(t, StateConnected, second.ConnState())
}

func TestSessionStore_Expires(t *testing.T) {
	store := NewSessionStore(10, 20*time.Millisecond)
	c, _ := connectedClient(t)
	id, err := store.Create(c)
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		_, ok := store.Get(id)
		return !ok
	}, time.Second, 10*time.Millisecond)
}

func TestSessionStore_PurgeDisconnectsAll(t *testing.T) {
	store := NewSessionStore(10, time.Hour)
	a, _ := connectedClient(t)
	b, _ := connectedClient(t)
	_, err := store.Create(a)
	require.NoError(t, err)
	_, err = store.Create(b)
	require.NoError(t, err)

	store.Purge()

	assert.Equal(t, 0, store.Len())
	assert.Equal(t, StateDisconnected, a.ConnState())
	assert.Equal(t, StateDisconnected, b.ConnState())
}
