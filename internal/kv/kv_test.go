package kv

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exerciseStore(t *testing.T, store KV) {
	t.Helper()
	ctx := context.Background()

	_, err := store.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.Set(ctx, "a", []byte("one")))
	got, err := store.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, []byte("one"), got)

	require.NoError(t, store.Set(ctx, "a", []byte("two")))
	got, err = store.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, []byte("two"), got)

	require.NoError(t, store.Delete(ctx, "a"))
	_, err = store.Get(ctx, "a")
	assert.ErrorIs(t, err, ErrNotFound)

	// deleting an absent key is fine
	require.NoError(t, store.Delete(ctx, "a"))
	require.NoError(t, store.Close())
}

func TestMemory(t *testing.T) {
	exerciseStore(t, NewMemory())
}

func TestMemory_ReturnsCopies(t *testing.T) {
	m := NewMemory()
	value := []byte("abc")
	require.NoError(t, m.Set(context.Background(), "k", value))
	value[0] = 'z'

	got, err := m.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(got))
}

func TestFile(t *testing.T) {
	exerciseStore(t, NewFile(filepath.Join(t.TempDir(), "nested", "store.json")))
}

func TestFile_PersistsAcrossInstances(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.json")
	require.NoError(t, NewFile(path).Set(context.Background(), "k", []byte("v")))

	got, err := NewFile(path).Get(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestFile_Corrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	_, err := NewFile(path).Get(context.Background(), "k")
	assert.ErrorContains(t, err, "corrupt store")
}

func TestRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	exerciseStore(t, NewRedis(&redis.Options{Addr: mr.Addr()}))
}

func TestOpen(t *testing.T) {
	mr := miniredis.RunT(t)

	store, err := Open("memory://")
	require.NoError(t, err)
	assert.Equal(t, "memory", store.Type())

	store, err = Open("file://" + filepath.Join(t.TempDir(), "s.json"))
	require.NoError(t, err)
	assert.Equal(t, "file", store.Type())

	store, err = Open("redis://" + mr.Addr() + "/0")
	require.NoError(t, err)
	assert.Equal(t, "redis", store.Type())
	require.NoError(t, store.(*Redis).Ping(context.Background()))
	require.NoError(t, store.Close())

	_, err = Open("rocksdb:///tmp/x")
	assert.Error(t, err)
}

func TestParseURL(t *testing.T) {
	tests := []struct {
		raw     string
		want    ParsedURL
		wantErr bool
	}{
		{raw: "memory://", want: ParsedURL{Type: "memory"}},
		{raw: "redis://cache:6380/2", want: ParsedURL{Type: "redis", Host: "cache", Port: 6380, DB: 2}},
		{raw: "redis://:pw@cache", want: ParsedURL{Type: "redis", Host: "cache", Port: 6379, Password: "pw"}},
		{raw: "file:///var/lib/iron/kv.json", want: ParsedURL{Type: "file", Path: "/var/lib/iron/kv.json"}},
		{raw: "file://data/kv.json", want: ParsedURL{Type: "file", Path: "data/kv.json"}},
		{raw: "redis://cache/notanumber", wantErr: true},
		{raw: "redis:///0", wantErr: true},
		{raw: "ftp://x", wantErr: true},
	}

	for i, tt := range tests {
		t.Run(strconv.Itoa(i)+"_"+tt.raw, func(t *testing.T) {
			got, err := ParseURL(tt.raw)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, *got)
		})
	}
}
