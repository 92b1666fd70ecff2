package compile

import (
	"context"
	"os"
	"path"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/meigma/modlist/download"
	"github.com/meigma/modlist/hashing"
	"github.com/meigma/modlist/plan"
	"github.com/meigma/modlist/vfs"
)

// IndexedArchive is a downloaded archive, or a game file, that directives
// may draw bytes from.
type IndexedArchive struct {
	File  *vfs.VirtualFile
	Name  string
	State download.State
}

// IsGameFile reports whether the archive ships with the game.
func (a *IndexedArchive) IsGameFile() bool {
	return a.State.Kind() == download.KindGameFile
}

// Context is the read-only view of a compilation that steps match against.
type Context struct {
	vfs   *vfs.Context
	index *vfs.Index

	sourceRoot    string
	downloadsRoot string
	gameRoot      string
	strongVerify  bool

	archives  map[hashing.Hash]*IndexedArchive
	gameFiles map[string]*vfs.VirtualFile
	byName    map[string][]*vfs.VirtualFile

	blobs *blobStore
}

func newContext(vc *vfs.Context, cfg Config, archives []*IndexedArchive, strongVerify bool) *Context {
	c := &Context{
		vfs:           vc,
		index:         vc.Index(),
		sourceRoot:    cfg.SourceRoot,
		downloadsRoot: cfg.DownloadsRoot,
		gameRoot:      cfg.GameRoot,
		strongVerify:  strongVerify,
		archives:      make(map[hashing.Hash]*IndexedArchive, len(archives)),
		gameFiles:     make(map[string]*vfs.VirtualFile),
		byName:        make(map[string][]*vfs.VirtualFile),
		blobs:         newBlobStore(),
	}
	for _, a := range archives {
		// The first archive with a given hash wins; callers pass them in
		// a stable order.
		if _, dup := c.archives[a.File.Hash]; dup {
			continue
		}
		c.archives[a.File.Hash] = a
		if gs, ok := a.State.(*download.GameFileState); ok {
			c.gameFiles[strings.ToLower(gs.GameFile)] = a.File
		}
		for f := range a.File.ThisAndAllChildren() {
			name := strings.ToLower(path.Base(lastPart(f)))
			c.byName[name] = append(c.byName[name], f)
		}
	}
	return c
}

func lastPart(f *vfs.VirtualFile) string {
	if f.IsConcrete() {
		return strings.ReplaceAll(f.Name, "\\", "/")
	}
	return f.Name
}

// Index returns the file index being matched against.
func (c *Context) Index() *vfs.Index { return c.index }

// SourceRoot returns the folder being compiled.
func (c *Context) SourceRoot() string { return c.sourceRoot }

// DownloadsRoot returns the folder holding downloaded archives.
func (c *Context) DownloadsRoot() string { return c.downloadsRoot }

// GameRoot returns the game installation folder, or "".
func (c *Context) GameRoot() string { return c.gameRoot }

// Archive returns the indexed archive with the given hash.
func (c *Context) Archive(hash hashing.Hash) (*IndexedArchive, bool) {
	a, ok := c.archives[hash]
	return a, ok
}

// Candidates returns the files inside indexed archives with hash h,
// shallowest first.
func (c *Context) Candidates(h hashing.Hash) []*vfs.VirtualFile {
	var out []*vfs.VirtualFile
	for _, f := range c.index.LookupHash(h) {
		if _, ok := c.archives[f.Root().Hash]; ok {
			out = append(out, f)
		}
	}
	return out
}

// ByName returns the files inside indexed archives whose base name matches
// name, ignoring case.
func (c *Context) ByName(name string) []*vfs.VirtualFile {
	return c.byName[strings.ToLower(name)]
}

// GameFile returns the game file at the game-relative path rel.
func (c *Context) GameFile(rel string) (*vfs.VirtualFile, bool) {
	f, ok := c.gameFiles[strings.ToLower(rel)]
	return f, ok
}

// RemapRoots returns the folders replaced in remapped text files.
func (c *Context) RemapRoots() map[plan.Root]string {
	return map[plan.Root]string{
		plan.RootInstall:  c.sourceRoot,
		plan.RootDownload: c.downloadsRoot,
		plan.RootGame:     c.gameRoot,
	}
}

// Include stores data in the plan and returns its blob id. Identical data
// is stored once. Safe for concurrent use.
func (c *Context) Include(data []byte) string {
	return c.blobs.put(data)
}

// ReadAll returns the bytes of f.
func (c *Context) ReadAll(ctx context.Context, f RawSourceFile) ([]byte, error) {
	if f.AbsolutePath != "" {
		return os.ReadFile(f.AbsolutePath)
	}
	return c.readVirtual(ctx, f.File)
}

func (c *Context) readVirtual(ctx context.Context, vf *vfs.VirtualFile) ([]byte, error) {
	staged, unstage, err := c.vfs.Stage(ctx, []*vfs.VirtualFile{vf})
	if err != nil {
		return nil, err
	}
	defer unstage()
	return os.ReadFile(staged[vf])
}

// SameContent compares f and candidate by strong digest. It returns true
// without reading when strong verification is off.
func (c *Context) SameContent(ctx context.Context, f RawSourceFile, candidate *vfs.VirtualFile) (bool, error) {
	if !c.strongVerify {
		return true, nil
	}
	files := []*vfs.VirtualFile{candidate}
	if f.AbsolutePath == "" {
		files = append(files, f.File)
	}
	staged, unstage, err := c.vfs.Stage(ctx, files)
	if err != nil {
		return false, err
	}
	defer unstage()

	src := f.AbsolutePath
	if src == "" {
		src = staged[f.File]
	}
	return hashing.SameContent(src, staged[candidate])
}

type blobStore struct {
	mu    sync.Mutex
	ids   map[hashing.Hash]string
	data  map[string][]byte
	order []string
}

func newBlobStore() *blobStore {
	return &blobStore{ids: map[hashing.Hash]string{}, data: map[string][]byte{}}
}

func (s *blobStore) put(data []byte) string {
	h := hashing.Sum(data)
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.ids[h]; ok {
		return id
	}
	id := uuid.NewString()
	s.ids[h] = id
	s.data[id] = data
	s.order = append(s.order, id)
	return id
}

func (s *blobStore) get(id string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.data[id]
	return b, ok
}

// each yields blobs in insertion order.
func (s *blobStore) each(fn func(id string, data []byte) error) error {
	s.mu.Lock()
	order := append([]string(nil), s.order...)
	s.mu.Unlock()
	for _, id := range order {
		data, _ := s.get(id)
		if err := fn(id, data); err != nil {
			return err
		}
	}
	return nil
}
