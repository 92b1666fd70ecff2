package vfs

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/meigma/modlist/hashing"
	"github.com/meigma/modlist/workqueue"
)

// Context owns the published index and runs indexing passes.
type Context struct {
	stagingRoot string
	workers     int
	queueSize   int
	extractors  []Extractor
	hasher      *hashing.Hasher
	queue       *workqueue.Queue
	logger      *slog.Logger

	index atomic.Pointer[Index]

	// pass serializes indexing passes so each publish starts from the
	// snapshot the previous one produced.
	pass sync.Mutex
}

// Index returns the current snapshot.
func (c *Context) Index() *Index {
	return c.index.Load()
}

// Queue returns the work queue used for indexing.
func (c *Context) Queue() *workqueue.Queue {
	return c.queue
}

// Hasher returns the file hasher.
func (c *Context) Hasher() *hashing.Hasher {
	return c.hasher
}

// PassStats summarizes one indexing pass.
type PassStats struct {
	Added     int
	Updated   int
	Unchanged int
	Deleted   int
}

// AddRoot indexes every file under dir. Files that were indexed under dir
// before and no longer exist are removed with their whole subtree.
func (c *Context) AddRoot(ctx context.Context, dir string) (PassStats, error) {
	return c.AddRoots(ctx, []string{dir})
}

// AddRoots indexes every file under each of dirs.
func (c *Context) AddRoots(ctx context.Context, dirs []string) (PassStats, error) {
	prefixes := make([]string, len(dirs))
	var paths []string
	for i, dir := range dirs {
		prefixes[i] = strings.TrimSuffix(hashing.NormalizePath(dir), "/") + "/"
		err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				if os.IsNotExist(err) && p == dir {
					return filepath.SkipDir
				}
				return err
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			if d.Type().IsRegular() {
				paths = append(paths, p)
			}
			return nil
		})
		if err != nil {
			return PassStats{}, fmt.Errorf("vfs: walk %s: %w", dir, err)
		}
	}
	inScope := func(root string) bool {
		for _, p := range prefixes {
			if strings.HasPrefix(root, p) {
				return true
			}
		}
		return false
	}
	return c.run(ctx, paths, inScope)
}

// AddFiles indexes the given concrete files. Listed files that no longer
// exist are removed from the index.
func (c *Context) AddFiles(ctx context.Context, paths []string) (PassStats, error) {
	scope := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		scope[hashing.NormalizePath(p)] = struct{}{}
	}
	return c.run(ctx, paths, func(root string) bool {
		_, ok := scope[root]
		return ok
	})
}

type ingestItem struct {
	path    string
	key     string
	size    int64
	modTime time.Time
	update  bool
}

// run executes one ingest, index, publish pass over paths. Roots for which
// inScope returns true and that are not present among paths are deleted.
func (c *Context) run(ctx context.Context, paths []string, inScope func(string) bool) (PassStats, error) {
	c.pass.Lock()
	defer c.pass.Unlock()

	prior := c.Index()
	var stats PassStats
	seen := make(map[string]struct{}, len(paths))
	var fresh []*VirtualFile

	toIndex := make(chan ingestItem, c.queueSize)
	results := make(chan *VirtualFile, c.queueSize)
	g, gctx := errgroup.WithContext(ctx)

	// Ingest.
	g.Go(func() error {
		defer close(toIndex)
		for _, p := range paths {
			if err := gctx.Err(); err != nil {
				return err
			}
			info, err := os.Stat(p)
			if os.IsNotExist(err) {
				continue
			}
			if err != nil {
				return fmt.Errorf("vfs: stat %s: %w", p, err)
			}
			if !info.Mode().IsRegular() {
				continue
			}
			key := hashing.NormalizePath(p)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}

			old, had := prior.byRootPath[key]
			if had && old.Size == info.Size() && old.LastModified.Equal(info.ModTime()) {
				stats.Unchanged++
				continue
			}
			item := ingestItem{path: p, key: key, size: info.Size(), modTime: info.ModTime(), update: had}
			select {
			case toIndex <- item:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})

	// Index.
	var workers sync.WaitGroup
	for range max(1, c.queue.Workers()) {
		workers.Add(1)
		g.Go(func() error {
			defer workers.Done()
			for item := range toIndex {
				var vf *VirtualFile
				err := c.queue.Do(gctx, func(ctx context.Context) error {
					var err error
					vf, err = c.indexRoot(ctx, item)
					return err
				})
				if err != nil {
					return err
				}
				select {
				case results <- vf:
				case <-gctx.Done():
					return gctx.Err()
				}
			}
			return nil
		})
	}
	g.Go(func() error {
		workers.Wait()
		close(results)
		return nil
	})

	// Publish collects; the swap happens once every stage succeeded.
	var updated int
	g.Go(func() error {
		for vf := range results {
			fresh = append(fresh, vf)
			if _, ok := prior.byRootPath[vf.Name]; ok {
				updated++
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return PassStats{}, err
	}

	roots := maps.Clone(prior.byRootPath)
	if roots == nil {
		roots = make(map[string]*VirtualFile)
	}
	for key := range prior.byRootPath {
		if _, ok := seen[key]; !ok && inScope(key) {
			delete(roots, key)
			stats.Deleted++
		}
	}
	for _, vf := range fresh {
		roots[vf.Name] = vf
	}
	stats.Updated = updated
	stats.Added = len(fresh) - stats.Updated

	c.index.Store(newIndex(roots))
	c.log().Info("index published",
		"added", stats.Added, "updated", stats.Updated,
		"unchanged", stats.Unchanged, "deleted", stats.Deleted,
		"count", c.Index().Len())
	return stats, nil
}

// indexRoot hashes a concrete file and expands it if it is a container.
func (c *Context) indexRoot(ctx context.Context, item ingestItem) (*VirtualFile, error) {
	sum, err := c.hasher.File(ctx, item.path)
	if err != nil {
		return nil, fmt.Errorf("vfs: %w", err)
	}
	vf := &VirtualFile{
		Name:         item.key,
		Size:         item.size,
		LastModified: item.modTime,
		Hash:         sum,
	}
	c.log().Debug("indexed", "path", item.key, "hash", sum, "size", item.size)
	if err := c.expand(ctx, vf, item.path); err != nil {
		return nil, err
	}
	return vf, nil
}

// extractorFor returns the first extractor that recognizes path.
func (c *Context) extractorFor(path string) Extractor {
	for _, e := range c.extractors {
		if e.CanExtract(path) {
			return e
		}
	}
	return nil
}

// newStagingDir returns a fresh, process-unique extraction directory.
func (c *Context) newStagingDir() (string, error) {
	dir := filepath.Join(c.stagingRoot, uuid.NewString())
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("vfs: create staging dir: %w", err)
	}
	return dir, nil
}

// expand extracts vf if it is a container, indexes every member as a child
// and recurses into nested containers. The staging directory is removed
// before returning.
func (c *Context) expand(ctx context.Context, vf *VirtualFile, path string) (err error) {
	ext := c.extractorFor(path)
	if ext == nil {
		return nil
	}
	dir, err := c.newStagingDir()
	if err != nil {
		return err
	}
	defer func() {
		if rerr := os.RemoveAll(dir); rerr != nil && err == nil {
			err = fmt.Errorf("vfs: remove staging dir: %w", rerr)
		}
	}()

	if err := ext.Extract(ctx, path, dir); err != nil {
		return fmt.Errorf("vfs: %s %s: %w", ext.Name(), vf.FullPath(), err)
	}
	vf.archive = true

	err = filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		sum, err := c.hasher.FileUncached(ctx, p)
		if err != nil {
			return err
		}
		child := &VirtualFile{
			Name:   filepath.ToSlash(rel),
			Parent: vf,
			Size:   info.Size(),
			Hash:   sum,
		}
		if err := c.expand(ctx, child, p); err != nil {
			return err
		}
		vf.Children = append(vf.Children, child)
		return nil
	})
	if err != nil {
		return err
	}
	sortChildren(vf.Children)
	c.log().Debug("expanded archive", "archive", vf.FullPath(), "extractor", ext.Name(), "count", len(vf.Children))
	return nil
}
