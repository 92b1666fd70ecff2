package modlist

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"sync"

	"github.com/meigma/modlist/cache"
	"github.com/meigma/modlist/compile"
	"github.com/meigma/modlist/download"
	"github.com/meigma/modlist/hashing"
	"github.com/meigma/modlist/install"
	"github.com/meigma/modlist/patch"
	"github.com/meigma/modlist/vfs"
	"github.com/meigma/modlist/workqueue"
)

// Re-exported configuration and result types.
type (
	// CompileConfig names the folders a plan is compiled from.
	CompileConfig = compile.Config

	// CompileResult describes a written plan.
	CompileResult = compile.Result

	// InstallResult summarizes an install.
	InstallResult = install.Result

	// Layout tells an install where things live on this machine.
	Layout = install.Layout

	// DirLayout is a Layout over plain folders.
	DirLayout = install.DirLayout
)

// Client compiles and installs plans.
//
// A Client owns one file index, shared by every operation, and the caches
// behind it. Operations run on a shared work queue sized by [WithWorkers].
type Client struct {
	logger      *slog.Logger
	workers     int
	stagingDir  string
	progress    ProgressFunc
	hashCache   cache.HashCache
	patchCache  cache.PatchCache
	downloaders []download.Downloader
	verify      bool
	snapshot    string
	closers     []io.Closer

	once  sync.Once
	queue *workqueue.Queue
	vfs   *vfs.Context
}

// NewClient creates a client with the given options.
//
// Without [WithCacheDir], [WithHashCache] or [WithPatchCache] the caches
// live in memory for the lifetime of the client.
func NewClient(opts ...Option) (*Client, error) {
	c := &Client{}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, errors.Join(err, c.Close())
		}
	}
	if c.hashCache == nil || c.patchCache == nil {
		mem := cache.NewMemory()
		if c.hashCache == nil {
			c.hashCache = mem
		}
		if c.patchCache == nil {
			c.patchCache = mem
		}
	}
	return c, nil
}

func (c *Client) log() *slog.Logger {
	if c.logger != nil {
		return c.logger
	}
	return slog.New(slog.DiscardHandler)
}

func (c *Client) init() {
	c.once.Do(func() {
		c.queue = workqueue.New(c.workers,
			workqueue.WithProgress(c.progress),
			workqueue.WithLogger(c.logger),
		)
		opts := []vfs.Option{
			vfs.WithQueue(c.queue),
			vfs.WithHasher(hashing.NewHasher(c.hashCache, hashing.WithLogger(c.logger))),
			vfs.WithLogger(c.logger),
		}
		if c.stagingDir != "" {
			opts = append(opts, vfs.WithStagingRoot(c.stagingDir))
		}
		c.vfs = vfs.New(opts...)
		if c.snapshot == "" {
			return
		}
		err := c.vfs.LoadSnapshot(c.snapshot)
		switch {
		case err == nil, errors.Is(err, fs.ErrNotExist):
		default:
			// A stale snapshot only costs a re-index.
			c.log().Warn("ignoring index snapshot", "path", c.snapshot, "err", err)
		}
	})
}

// VFS returns the client's file index.
func (c *Client) VFS() *vfs.Context {
	c.init()
	return c.vfs
}

// Index adds the given folders to the file index, extracting and indexing
// every archive found in them, and returns the updated index.
func (c *Client) Index(ctx context.Context, dirs ...string) (*vfs.Index, error) {
	c.init()
	stats, err := c.vfs.AddRoots(ctx, dirs)
	if err != nil {
		return nil, err
	}
	c.log().Info("indexed", "count", c.vfs.Index().Len(), "added", stats.Added, "updated", stats.Updated, "deleted", stats.Deleted)
	if err := c.saveSnapshot(); err != nil {
		return nil, err
	}
	return c.vfs.Index(), nil
}

func (c *Client) saveSnapshot() error {
	if c.snapshot == "" {
		return nil
	}
	return c.vfs.WriteSnapshot(c.snapshot)
}

func (c *Client) patches() *patch.Dispatcher {
	return patch.NewDispatcher(c.patchCache, patch.WithLogger(c.logger))
}

func (c *Client) dispatcher(extra ...download.Downloader) *download.Dispatcher {
	opts := []download.DispatcherOption{download.WithDispatcherLogger(c.logger)}
	for _, d := range append(extra, c.downloaders...) {
		opts = append(opts, download.WithDownloader(d))
	}
	return download.NewDispatcher(opts...)
}

// Compile matches the files under cfg.SourceRoot against the downloaded
// archives and writes a plan to cfg.Output. Options are applied after the
// client's own, so they may override them.
func (c *Client) Compile(ctx context.Context, cfg CompileConfig, opts ...compile.Option) (*CompileResult, error) {
	c.init()
	base := []compile.Option{
		compile.WithVFS(c.vfs),
		compile.WithPatchDispatcher(c.patches()),
		compile.WithLogger(c.logger),
	}
	if c.verify {
		base = append(base, compile.WithVerifier(c.dispatcher()))
	}
	comp, err := compile.New(cfg, append(base, opts...)...)
	if err != nil {
		return nil, err
	}
	res, err := comp.Compile(ctx)
	if err != nil {
		return nil, err
	}
	return res, c.saveSnapshot()
}

// Install replays the plan at planPath into layout.
func (c *Client) Install(ctx context.Context, planPath string, layout Layout, opts ...install.Option) (*InstallResult, error) {
	c.init()
	games := download.NewGameFile(func(_, rel string) (string, error) {
		return layout.ResolveGamePath(rel)
	})
	base := []install.Option{
		install.WithVFS(c.vfs),
		install.WithDownloads(c.dispatcher(games)),
		install.WithLogger(c.logger),
	}
	inst, err := install.New(planPath, layout, append(base, opts...)...)
	if err != nil {
		return nil, err
	}
	return inst.Install(ctx)
}

// Close releases the caches opened by the client.
func (c *Client) Close() error {
	var errs []error
	for _, cl := range c.closers {
		errs = append(errs, cl.Close())
	}
	c.closers = nil
	return errors.Join(errs...)
}
