package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/modlist/cache"
	"github.com/meigma/modlist/hashing"
)

func openStore(t *testing.T, path string) *Store {
	t.Helper()
	s, err := Open(path, WithPoolSize(2))
	require.NoError(t, err)
	return s
}

func TestStoreHashes(t *testing.T) {
	t.Parallel()

	s := openStore(t, filepath.Join(t.TempDir(), "cache.db"))
	t.Cleanup(func() { _ = s.Close() })
	ctx := context.Background()

	_, ok, err := s.GetHash(ctx, "/x")
	require.NoError(t, err)
	assert.False(t, ok)

	// High bit set exercises the signed column round-trip.
	h := hashing.Hash(0xfedcba9876543210)
	require.NoError(t, s.PutHash(ctx, "/x", cache.HashEntry{Hash: h, ModTime: 42}))
	require.NoError(t, s.PutHash(ctx, "/x", cache.HashEntry{Hash: h, ModTime: 43}))

	e, ok, err := s.GetHash(ctx, "/x")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, h, e.Hash)
	assert.Equal(t, int64(43), e.ModTime)
}

func TestStorePatchesPersist(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "cache.db")
	ctx := context.Background()
	src, dest := hashing.Sum([]byte("a")), hashing.Sum([]byte("b"))

	s := openStore(t, path)
	require.NoError(t, s.PutPatch(ctx, src, dest, []byte("patch-1")))
	require.NoError(t, s.PutPatch(ctx, src, dest, []byte("patch-2")))
	require.NoError(t, s.Close())

	reopened := openStore(t, path)
	t.Cleanup(func() { _ = reopened.Close() })

	got, ok, err := reopened.GetPatch(ctx, src, dest)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("patch-1"), got)

	has, err := reopened.HasPatch(ctx, dest, src)
	require.NoError(t, err)
	assert.False(t, has)
}
