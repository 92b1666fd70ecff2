package hashing

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/opencontainers/go-digest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mapCache struct {
	mu sync.Mutex
	m  map[string]CacheEntry
}

func newMapCache() *mapCache {
	return &mapCache{m: make(map[string]CacheEntry)}
}

func (c *mapCache) GetHash(_ context.Context, path string) (CacheEntry, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.m[path]
	return e, ok, nil
}

func (c *mapCache) PutHash(_ context.Context, path string, entry CacheEntry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[path] = entry
	return nil
}

func countingOpener(count *atomic.Int64) Opener {
	return func(path string) (io.ReadCloser, error) {
		count.Add(1)
		return os.Open(path)
	}
}

func TestHasherCacheHitSkipsRead(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "file.bin")
	require.NoError(t, os.WriteFile(path, []byte("cached content"), 0o600))

	var opens atomic.Int64
	cache := newMapCache()
	h := NewHasher(cache, WithOpener(countingOpener(&opens)))
	ctx := context.Background()

	first, err := h.File(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, Sum([]byte("cached content")), first)
	assert.Equal(t, int64(1), opens.Load())

	second, err := h.File(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, int64(1), opens.Load(), "unchanged file must not be re-read")

	entry, ok, err := cache.GetHash(ctx, NormalizePath(path))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, first, entry.Hash)
}

func TestHasherRehashesOnModTimeChange(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "file.bin")
	require.NoError(t, os.WriteFile(path, []byte("v1"), 0o600))

	var opens atomic.Int64
	h := NewHasher(newMapCache(), WithOpener(countingOpener(&opens)))
	ctx := context.Background()

	_, err := h.File(ctx, path)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("v2"), 0o600))
	later := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(path, later, later))

	got, err := h.File(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, Sum([]byte("v2")), got)
	assert.Equal(t, int64(2), opens.Load())
}

func TestHasherTolerant(t *testing.T) {
	t.Parallel()

	h := NewHasher(nil)
	missing := filepath.Join(t.TempDir(), "missing")

	_, err := h.File(context.Background(), missing)
	require.Error(t, err)
	assert.Equal(t, Invalid, h.FileTolerant(context.Background(), missing))
}

func TestHasherCanceled(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "file.bin")
	require.NoError(t, os.WriteFile(path, []byte("data"), 0o600))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewHasher(nil).FileUncached(ctx, path)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStrongVerification(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	a := filepath.Join(dir, "a")
	b := filepath.Join(dir, "b")
	c := filepath.Join(dir, "c")
	require.NoError(t, os.WriteFile(a, []byte("same"), 0o600))
	require.NoError(t, os.WriteFile(b, []byte("same"), 0o600))
	require.NoError(t, os.WriteFile(c, []byte("different"), 0o600))

	same, err := SameContent(a, b)
	require.NoError(t, err)
	assert.True(t, same)

	same, err = SameContent(a, c)
	require.NoError(t, err)
	assert.False(t, same)

	want := digest.FromString("same")
	assert.NoError(t, VerifyStrong(strings.NewReader("same"), want))
	assert.ErrorIs(t, VerifyStrong(strings.NewReader("nope"), want), ErrDigestMismatch)
}
