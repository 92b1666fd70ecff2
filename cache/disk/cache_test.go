package disk

import (
	"bytes"
	"context"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/meigma/modlist/cache"
	"github.com/meigma/modlist/hashing"
)

func TestCachePutGet(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	c, err := New(dir)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	ctx := context.Background()
	src, dest := hashing.Sum([]byte("src")), hashing.Sum([]byte("dest"))

	patch := []byte("OCTODELTA patch bytes")
	if err := c.PutPatch(ctx, src, dest, patch); err != nil {
		t.Fatalf("PutPatch() error = %v", err)
	}

	got, ok, err := c.GetPatch(ctx, src, dest)
	if err != nil {
		t.Fatalf("GetPatch() error = %v", err)
	}
	if !ok {
		t.Fatal("GetPatch() ok = false, want true")
	}
	if !bytes.Equal(got, patch) {
		t.Fatalf("GetPatch() = %q, want %q", got, patch)
	}

	hexKey := hex.EncodeToString(cache.PatchKey(src, dest))
	path := filepath.Join(dir, hexKey[:defaultShardPrefixLen], hexKey)
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected cache file at %s: %v", path, err)
	}
}

func TestCacheAppendOnly(t *testing.T) {
	t.Parallel()

	c, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	ctx := context.Background()

	if err := c.PutPatch(ctx, 1, 2, []byte("first")); err != nil {
		t.Fatalf("PutPatch() error = %v", err)
	}
	if err := c.PutPatch(ctx, 1, 2, []byte("second")); err != nil {
		t.Fatalf("PutPatch() error = %v", err)
	}
	got, _, err := c.GetPatch(ctx, 1, 2)
	if err != nil {
		t.Fatalf("GetPatch() error = %v", err)
	}
	if string(got) != "first" {
		t.Fatalf("GetPatch() = %q, want %q", got, "first")
	}
}

func TestCacheMiss(t *testing.T) {
	t.Parallel()

	c, err := New(t.TempDir(), WithShardPrefixLen(0))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	ctx := context.Background()

	_, ok, err := c.GetPatch(ctx, 3, 4)
	if err != nil || ok {
		t.Fatalf("GetPatch() = ok %v err %v, want miss", ok, err)
	}
	has, err := c.HasPatch(ctx, 3, 4)
	if err != nil || has {
		t.Fatalf("HasPatch() = %v err %v, want false", has, err)
	}
}

func TestNewRejectsBadConfig(t *testing.T) {
	t.Parallel()

	if _, err := New(""); err == nil {
		t.Fatal("New(\"\") error = nil, want error")
	}
	if _, err := New(t.TempDir(), WithShardPrefixLen(-1)); err == nil {
		t.Fatal("New() with negative shard length error = nil, want error")
	}
}
