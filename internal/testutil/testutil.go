// Package testutil provides fixtures shared by package tests: deterministic
// random content, archive writers and I/O counters.
package testutil

import (
	"archive/tar"
	"bytes"
	"io"
	"maps"
	"math/rand/v2"
	"os"
	"path/filepath"
	"slices"
	"sync/atomic"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/require"

	"github.com/meigma/modlist/bsa"
)

// RandomBytes returns n pseudo-random bytes derived from seed.
func RandomBytes(n int, seed uint64) []byte {
	r := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)) //nolint:gosec // test data
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(r.Uint32())
	}
	return b
}

// Mutate returns a copy of b with the byte at i inverted.
func Mutate(b []byte, i int) []byte {
	out := bytes.Clone(b)
	out[i] ^= 0xff
	return out
}

// WriteFile writes data to dir/rel, creating parent directories, and returns
// the full path.
func WriteFile(t testing.TB, dir, rel string, data []byte) string {
	t.Helper()
	p := filepath.Join(dir, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o750))
	require.NoError(t, os.WriteFile(p, data, 0o600))
	return p
}

// ZipBytes returns a zip archive holding entries, written in name order.
func ZipBytes(t testing.TB, entries map[string][]byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, name := range slices.Sorted(maps.Keys(entries)) {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write(entries[name])
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

// WriteZip writes a zip archive holding entries to dir/rel.
func WriteZip(t testing.TB, dir, rel string, entries map[string][]byte) string {
	t.Helper()
	return WriteFile(t, dir, rel, ZipBytes(t, entries))
}

// TarGzBytes returns a gzip-compressed tar archive holding entries.
func TarGzBytes(t testing.TB, entries map[string][]byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for _, name := range slices.Sorted(maps.Keys(entries)) {
		data := entries[name]
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name:     name,
			Mode:     0o644,
			Size:     int64(len(data)),
			Typeflag: tar.TypeReg,
		}))
		_, err := tw.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	return buf.Bytes()
}

// WriteBSA writes a Skyrim SE archive holding entries to dir/rel. Entries
// are added in path order with compression on.
func WriteBSA(t testing.TB, dir, rel string, entries map[string][]byte) string {
	t.Helper()
	state := bsa.DefaultTES4State(bsa.VersionSSE)
	b, err := bsa.NewBuilder(state)
	require.NoError(t, err)
	for i, name := range slices.Sorted(maps.Keys(entries)) {
		require.NoError(t, b.AddFile(bsa.NewFileState(state, i, name, true), bytes.NewReader(entries[name])))
	}
	p := filepath.Join(dir, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o750))
	require.NoError(t, b.Build(p))
	return p
}

// CountingOpener opens files while counting how many times it was called.
type CountingOpener struct {
	opens atomic.Int64
}

// Open opens path for reading.
func (c *CountingOpener) Open(path string) (io.ReadCloser, error) {
	c.opens.Add(1)
	return os.Open(path) //nolint:gosec // test path
}

// Opens returns the number of Open calls so far.
func (c *CountingOpener) Opens() int64 {
	return c.opens.Load()
}
