package hashing

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"golang.org/x/sync/singleflight"
)

// CacheEntry is the last computed hash of a file and the modification time it
// was computed at, in Unix nanoseconds.
type CacheEntry struct {
	Hash    Hash
	ModTime int64
}

// Cache stores the last computed hash for a path.
//
// Implementations must be safe for concurrent use.
type Cache interface {
	GetHash(ctx context.Context, path string) (CacheEntry, bool, error)
	PutHash(ctx context.Context, path string, entry CacheEntry) error
}

// Opener opens a file for hashing.
type Opener func(path string) (io.ReadCloser, error)

// Hasher hashes files on disk, consulting a [Cache] keyed by normalized
// absolute path before touching file contents.
type Hasher struct {
	cache  Cache
	open   Opener
	logger *slog.Logger
	group  singleflight.Group
}

// Option configures a Hasher.
type Option func(*Hasher)

// WithLogger sets the logger for cache diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Hasher) {
		h.logger = logger
	}
}

// WithOpener replaces the function used to open files for reading.
func WithOpener(open Opener) Option {
	return func(h *Hasher) {
		h.open = open
	}
}

// NewHasher returns a Hasher backed by cache. A nil cache disables caching.
func NewHasher(cache Cache, opts ...Option) *Hasher {
	h := &Hasher{cache: cache}
	for _, opt := range opts {
		opt(h)
	}
	if h.open == nil {
		h.open = func(path string) (io.ReadCloser, error) {
			return os.Open(path) //nolint:gosec // caller-supplied path
		}
	}
	return h
}

func (h *Hasher) log() *slog.Logger {
	if h.logger != nil {
		return h.logger
	}
	return slog.New(slog.DiscardHandler)
}

// NormalizePath returns the cache key form of path.
func NormalizePath(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	return filepath.ToSlash(filepath.Clean(abs))
}

// File returns the hash of the file at path.
//
// If the cache holds an entry whose modification time equals the file's
// current modification time, the cached hash is returned without reading the
// file. Otherwise the file is hashed and the cache is updated.
func (h *Hasher) File(ctx context.Context, path string) (Hash, error) {
	key := NormalizePath(path)
	v, err, _ := h.group.Do(key, func() (any, error) {
		return h.file(ctx, key, path)
	})
	if err != nil {
		return Invalid, err
	}
	return v.(Hash), nil //nolint:errcheck // group only stores Hash values
}

// FileTolerant is like File but returns [Invalid] instead of an error when
// the file cannot be read. The result must not be used as a dedup key unless
// it is valid.
func (h *Hasher) FileTolerant(ctx context.Context, path string) Hash {
	sum, err := h.File(ctx, path)
	if err != nil {
		h.log().Warn("hashing failed", "path", path, "err", err)
		return Invalid
	}
	return sum
}

// FileUncached hashes the file at path without consulting the cache.
func (h *Hasher) FileUncached(ctx context.Context, path string) (Hash, error) {
	if err := ctx.Err(); err != nil {
		return Invalid, err
	}
	f, err := h.open(path)
	if err != nil {
		return Invalid, err
	}
	defer f.Close()

	sum, _, err := Reader(&ctxReader{ctx: ctx, r: f})
	if err != nil {
		return Invalid, fmt.Errorf("hash %s: %w", path, err)
	}
	return sum, nil
}

func (h *Hasher) file(ctx context.Context, key, path string) (Hash, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Invalid, err
	}
	if !info.Mode().IsRegular() {
		return Invalid, fmt.Errorf("hash %s: %w", path, fs.ErrInvalid)
	}
	modTime := info.ModTime().UnixNano()

	if h.cache != nil {
		entry, ok, err := h.cache.GetHash(ctx, key)
		if err != nil {
			h.log().Warn("hash cache lookup failed", "path", key, "err", err)
		} else if ok && entry.ModTime == modTime && entry.Hash.IsValid() {
			return entry.Hash, nil
		}
	}

	sum, err := h.FileUncached(ctx, path)
	if err != nil {
		return Invalid, err
	}
	if h.cache != nil && sum.IsValid() {
		if err := h.cache.PutHash(ctx, key, CacheEntry{Hash: sum, ModTime: modTime}); err != nil {
			h.log().Warn("hash cache update failed", "path", key, "err", err)
		}
	}
	return sum, nil
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (r *ctxReader) Read(p []byte) (int, error) {
	if err := r.ctx.Err(); err != nil {
		return 0, err
	}
	return r.r.Read(p)
}
