// Package vfs indexes files on disk, and the contents of archives nested to
// any depth inside them, by content hash.
//
// A [Context] owns the current [Index] snapshot. Indexing passes run three
// stages connected by bounded channels: ingest decides which concrete files
// are new, changed, unchanged or deleted by comparing size and modification
// time against the previous snapshot; index hashes new and changed files and
// recursively extracts recognized containers into private staging
// directories; publish swaps a complete new snapshot in atomically. Readers
// never observe a partially updated index.
package vfs

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/meigma/modlist/hashing"
	"github.com/meigma/modlist/workqueue"
)

var (
	// ErrNotFound is returned when a path or hash path is not indexed.
	ErrNotFound = errors.New("vfs: file not found")

	// ErrNotExtractable is returned when a container cannot be unpacked.
	ErrNotExtractable = errors.New("vfs: not extractable")
)

// DefaultQueueSize is the capacity of the channels between indexing stages.
const DefaultQueueSize = 64

// Option configures a Context.
type Option func(*Context)

// WithStagingRoot sets the directory under which extraction directories are
// created.
func WithStagingRoot(dir string) Option {
	return func(c *Context) {
		c.stagingRoot = dir
	}
}

// WithWorkers sets the worker count of the Context's own queue.
func WithWorkers(n int) Option {
	return func(c *Context) {
		c.workers = n
	}
}

// WithQueue shares an existing work queue.
func WithQueue(q *workqueue.Queue) Option {
	return func(c *Context) {
		c.queue = q
	}
}

// WithQueueSize sets the capacity of the channels between indexing stages.
func WithQueueSize(n int) Option {
	return func(c *Context) {
		if n > 0 {
			c.queueSize = n
		}
	}
}

// WithExtractors replaces the container extractors.
func WithExtractors(extractors ...Extractor) Option {
	return func(c *Context) {
		c.extractors = extractors
	}
}

// WithHasher sets the file hasher, typically one backed by a persistent
// hash cache.
func WithHasher(h *hashing.Hasher) Option {
	return func(c *Context) {
		c.hasher = h
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Context) {
		c.logger = logger
	}
}

// New returns a Context with an empty index.
func New(opts ...Option) *Context {
	c := &Context{
		stagingRoot: filepath.Join(os.TempDir(), "modlist-staging"),
		queueSize:   DefaultQueueSize,
		extractors:  DefaultExtractors(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.queue == nil {
		c.queue = workqueue.New(c.workers, workqueue.WithLogger(c.logger))
	}
	if c.hasher == nil {
		c.hasher = hashing.NewHasher(nil, hashing.WithLogger(c.logger))
	}
	c.index.Store(emptyIndex())
	return c
}

func (c *Context) log() *slog.Logger {
	if c.logger != nil {
		return c.logger
	}
	return slog.New(slog.DiscardHandler)
}
