package modlist

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/meigma/modlist/cache"
	"github.com/meigma/modlist/cache/disk"
	"github.com/meigma/modlist/cache/sqlite"
	"github.com/meigma/modlist/download"
)

// Option configures a Client.
type Option func(*Client) error

// Names of the entries WithCacheDir creates.
const (
	CacheDBName       = "cache.db"
	PatchCacheDirName = "patches"
	SnapshotName      = "index.vfs"
)

// WithLogger sets a logger for the client and everything it drives.
// If nil, a discard logger is used (default behavior).
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) error {
		c.logger = logger
		return nil
	}
}

// WithWorkers sets the number of concurrent workers. Zero or less means one
// per CPU.
func WithWorkers(n int) Option {
	return func(c *Client) error {
		c.workers = n
		return nil
	}
}

// WithCacheDir keeps file hashes, patches and the file index in dir.
//
// This creates:
//   - dir/cache.db  - sqlite store of file hashes
//   - dir/patches/  - sharded patch cache
//   - dir/index.vfs - file index snapshot
func WithCacheDir(dir string) Option {
	return func(c *Client) error {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return err
		}
		store, err := sqlite.Open(filepath.Join(dir, CacheDBName), sqlite.WithLogger(c.logger))
		if err != nil {
			return fmt.Errorf("open cache: %w", err)
		}
		c.closers = append(c.closers, store)
		c.hashCache = store

		patches, err := disk.New(filepath.Join(dir, PatchCacheDirName))
		if err != nil {
			return fmt.Errorf("open patch cache: %w", err)
		}
		c.patchCache = patches
		c.snapshot = filepath.Join(dir, SnapshotName)
		return nil
	}
}

// WithHashCache sets a custom file hash cache.
// Import github.com/meigma/modlist/cache/sqlite for a persistent implementation.
func WithHashCache(hc cache.HashCache) Option {
	return func(c *Client) error {
		if hc == nil {
			return errors.New("hash cache is nil")
		}
		c.hashCache = hc
		return nil
	}
}

// WithPatchCache sets a custom patch cache.
// Import github.com/meigma/modlist/cache/disk for the disk implementation.
func WithPatchCache(pc cache.PatchCache) Option {
	return func(c *Client) error {
		if pc == nil {
			return errors.New("patch cache is nil")
		}
		c.patchCache = pc
		return nil
	}
}

// WithSnapshot persists the file index at path between runs.
func WithSnapshot(path string) Option {
	return func(c *Client) error {
		c.snapshot = path
		return nil
	}
}

// WithStagingDir sets where archives are extracted while indexing, patching
// and installing.
func WithStagingDir(dir string) Option {
	return func(c *Client) error {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return err
		}
		c.stagingDir = dir
		return nil
	}
}

// WithProgress sets a callback for progress updates.
func WithProgress(fn ProgressFunc) Option {
	return func(c *Client) error {
		c.progress = fn
		return nil
	}
}

// WithDownloaders registers downloaders, replacing any default for the same
// kind of archive.
func WithDownloaders(downloaders ...download.Downloader) Option {
	return func(c *Client) error {
		c.downloaders = append(c.downloaders, downloaders...)
		return nil
	}
}

// WithArchiveVerification makes Compile check that every archive the plan
// needs can still be downloaded.
func WithArchiveVerification(enabled bool) Option {
	return func(c *Client) error {
		c.verify = enabled
		return nil
	}
}
