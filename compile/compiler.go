package compile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/meigma/modlist/download"
	"github.com/meigma/modlist/hashing"
	"github.com/meigma/modlist/patch"
	"github.com/meigma/modlist/plan"
	"github.com/meigma/modlist/vfs"
	"github.com/meigma/modlist/workqueue"
)

// ErrInvalidConfig is returned by New for incomplete configurations.
var ErrInvalidConfig = errors.New("compile: invalid config")

// Config names the folders a compilation reads and the plan it writes.
type Config struct {
	// SourceRoot is the installed setup to capture.
	SourceRoot string
	// DownloadsRoot holds the archives and their .meta files.
	DownloadsRoot string
	// GameRoot is the game installation. Optional.
	GameRoot string
	// Game names the game in game-file archive states.
	Game string
	// Output is the plan file to write.
	Output string
}

// Info is the descriptive part of a plan.
type Info struct {
	Name        string
	Author      string
	Description string
	Version     string
	Website     string
	Readme      string
}

// Compiler produces a plan from a Config.
type Compiler struct {
	cfg           Config
	info          Info
	vfs           *vfs.Context
	patches       *patch.Dispatcher
	verifier      *download.Dispatcher
	stack         []Step
	ignoreMissing bool
	strongVerify  bool
	logger        *slog.Logger
}

// Option configures a Compiler.
type Option func(*Compiler)

// WithVFS sets the file index to use. Its queue runs the matching work.
func WithVFS(vc *vfs.Context) Option {
	return func(c *Compiler) {
		c.vfs = vc
	}
}

// WithPatchDispatcher sets the patch builder, and with it the patch cache.
func WithPatchDispatcher(d *patch.Dispatcher) Option {
	return func(c *Compiler) {
		c.patches = d
	}
}

// WithVerifier checks that every selected archive can still be downloaded.
func WithVerifier(d *download.Dispatcher) Option {
	return func(c *Compiler) {
		c.verifier = d
	}
}

// WithStack replaces the default step stack.
func WithStack(steps ...Step) Option {
	return func(c *Compiler) {
		c.stack = steps
	}
}

// WithIgnoreMissing drops unmatched files instead of failing.
func WithIgnoreMissing(ignore bool) Option {
	return func(c *Compiler) {
		c.ignoreMissing = ignore
	}
}

// WithStrongVerify confirms content matches with sha256 before accepting
// them.
func WithStrongVerify(enabled bool) Option {
	return func(c *Compiler) {
		c.strongVerify = enabled
	}
}

// WithInfo sets the plan's descriptive fields.
func WithInfo(info Info) Option {
	return func(c *Compiler) {
		c.info = info
	}
}

// WithLogger sets the logger for compilation events.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Compiler) {
		c.logger = logger
	}
}

// New creates a Compiler.
func New(cfg Config, opts ...Option) (*Compiler, error) {
	switch {
	case cfg.SourceRoot == "":
		return nil, fmt.Errorf("%w: source root is required", ErrInvalidConfig)
	case cfg.DownloadsRoot == "":
		return nil, fmt.Errorf("%w: downloads root is required", ErrInvalidConfig)
	case cfg.Output == "":
		return nil, fmt.Errorf("%w: output is required", ErrInvalidConfig)
	}
	for _, p := range []*string{&cfg.SourceRoot, &cfg.DownloadsRoot, &cfg.GameRoot} {
		if *p != "" {
			*p = filepath.FromSlash(hashing.NormalizePath(*p))
		}
	}

	c := &Compiler{cfg: cfg}
	for _, opt := range opts {
		opt(c)
	}
	if c.vfs == nil {
		c.vfs = vfs.New(vfs.WithLogger(c.logger))
	}
	if c.patches == nil {
		c.patches = patch.NewDispatcher(nil, patch.WithLogger(c.logger))
	}
	if c.stack == nil {
		c.stack = DefaultStack(cfg)
	}
	return c, nil
}

// DefaultStack returns the steps used when none are configured: ignore the
// downloads folder if it sits inside the source, then match game files,
// archive contents, rebuilt BSAs, remapped text and near matches, in that
// order.
func DefaultStack(cfg Config) []Step {
	var steps []Step
	if rel, ok := relativeTo(cfg.SourceRoot, cfg.DownloadsRoot); ok {
		steps = append(steps, IgnoreInFolder{Folder: rel})
	}
	steps = append(steps,
		IgnoreSuffix{Suffix: download.MetaSuffix},
		IgnoreSuffix{Suffix: plan.Extension},
		GameFileMatch{},
		DirectMatch{},
		DeconstructBSAs{},
		IncludeRemapped{},
		PatchByName{},
		DropAll{},
	)
	return steps
}

func relativeTo(root, dir string) (string, bool) {
	rel, err := filepath.Rel(root, dir)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", false
	}
	return filepath.ToSlash(rel), true
}

func (c *Compiler) log() *slog.Logger {
	if c.logger != nil {
		return c.logger
	}
	return slog.New(slog.DiscardHandler)
}

// Result describes a written plan.
type Result struct {
	ModList *plan.ModList
	Path    string
	Meta    *plan.Meta
	// Unmatched lists files dropped under WithIgnoreMissing.
	Unmatched []*plan.NoMatch
}

// Compile indexes the configured folders, matches every source file and
// writes the plan with its sidecar files.
func (c *Compiler) Compile(ctx context.Context) (*Result, error) {
	q := c.vfs.Queue()
	roots := []string{c.cfg.SourceRoot, c.cfg.DownloadsRoot}
	if c.cfg.GameRoot != "" {
		roots = append(roots, c.cfg.GameRoot)
	}
	q.Report("indexing", 0)
	stats, err := c.vfs.AddRoots(ctx, roots)
	if err != nil {
		return nil, err
	}
	c.log().Info("indexed folders", "count", c.vfs.Index().Len(), "added", stats.Added, "updated", stats.Updated)

	archives, err := LoadArchives(c.vfs.Index(), c.cfg.DownloadsRoot, c.cfg.GameRoot, c.cfg.Game, c.log())
	if err != nil {
		return nil, err
	}
	cc := newContext(c.vfs, c.cfg, archives, c.strongVerify)

	files := c.sourceFiles(cc)
	c.log().Info("matching files", "count", len(files), "archives", len(archives))
	q.Report("matching", 0)
	results, err := workqueue.Map(ctx, q, files, func(ctx context.Context, f RawSourceFile) (plan.Directive, error) {
		return RunStack(ctx, cc, c.stack, f)
	})
	if err != nil {
		return nil, err
	}

	directives, unmatched := flatten(results)
	if len(unmatched) > 0 {
		if !c.ignoreMissing {
			return nil, &NoMatchError{Files: unmatched}
		}
		c.log().Warn("continuing without unmatched files", "count", len(unmatched))
	}

	q.Report("building patches", 0)
	if err := BuildPatches(ctx, cc, q, c.patches, directives); err != nil {
		return nil, err
	}
	selected, err := GatherArchives(ctx, cc, c.verifier, directives)
	if err != nil {
		return nil, err
	}
	directives = append(directives, IncludeArchiveMetadata(cc, selected)...)

	m := &plan.ModList{
		Name:        c.info.Name,
		Author:      c.info.Author,
		Description: c.info.Description,
		Version:     c.info.Version,
		Game:        c.cfg.Game,
		Website:     c.info.Website,
		Readme:      c.info.Readme,
		Archives:    selected,
		Directives:  directives,
	}
	m.SortDirectives()
	if err := m.Validate(); err != nil {
		return nil, err
	}

	q.Report("exporting", 0)
	meta, err := export(cc, m, c.cfg.Output)
	if err != nil {
		return nil, err
	}
	c.log().Info("wrote plan", "path", c.cfg.Output, "size", meta.Size, "count", len(m.Directives))
	return &Result{ModList: m, Path: c.cfg.Output, Meta: meta, Unmatched: unmatched}, nil
}

func (c *Compiler) sourceFiles(cc *Context) []RawSourceFile {
	prefix := strings.TrimSuffix(hashing.NormalizePath(c.cfg.SourceRoot), "/") + "/"
	output := hashing.NormalizePath(c.cfg.Output)
	var files []RawSourceFile
	for _, root := range cc.index.RootsUnder(c.cfg.SourceRoot) {
		if root.Name == output {
			continue
		}
		files = append(files, RawSourceFile{
			File:         root,
			Path:         strings.TrimPrefix(root.Name, prefix),
			AbsolutePath: filepath.FromSlash(root.Name),
		})
	}
	return files
}

// flatten expands deconstructed archives and splits off unmatched files.
// Ignored files are dropped.
func flatten(results []plan.Directive) (directives []plan.Directive, unmatched []*plan.NoMatch) {
	var add func(d plan.Directive)
	add = func(d plan.Directive) {
		switch d := d.(type) {
		case *Deconstructed:
			directives = append(directives, d.CreateBSA)
			for _, m := range d.Members {
				add(m)
			}
		case *plan.NoMatch:
			unmatched = append(unmatched, d)
		case *plan.IgnoredDirectly:
		default:
			directives = append(directives, d)
		}
	}
	for _, d := range results {
		add(d)
	}
	return directives, unmatched
}

func export(cc *Context, m *plan.ModList, out string) (*plan.Meta, error) {
	w, err := plan.Create(out)
	if err != nil {
		return nil, err
	}
	referenced := make(map[string]struct{})
	for _, d := range m.Directives {
		if id := blobID(d); id != "" {
			referenced[id] = struct{}{}
		}
	}
	err = cc.blobs.each(func(id string, data []byte) error {
		if _, ok := referenced[id]; !ok {
			return nil
		}
		return w.PutBlob(id, data)
	})
	if err != nil {
		w.Abort()
		return nil, err
	}
	if err := w.Finish(m); err != nil {
		return nil, err
	}
	meta, err := plan.WriteMeta(out, m)
	if err != nil {
		return nil, err
	}
	if err := plan.WriteReport(out, m); err != nil {
		return nil, err
	}
	return meta, nil
}

func blobID(d plan.Directive) string {
	switch d := d.(type) {
	case *plan.InlineFile:
		return d.SourceDataID
	case *plan.RemappedInlineFile:
		return d.SourceDataID
	case *plan.ArchiveMeta:
		return d.SourceDataID
	case *plan.PatchedFromArchive:
		return d.PatchID
	}
	return ""
}
