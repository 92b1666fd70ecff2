package compile

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"github.com/meigma/modlist/download"
	"github.com/meigma/modlist/hashing"
	"github.com/meigma/modlist/plan"
	"github.com/meigma/modlist/vfs"
)

// LoadArchives returns the downloaded archives under downloadsRoot that have
// a .meta file, followed by every file of the game installation. Downloads
// without metadata cannot be fetched again and are skipped.
func LoadArchives(idx *vfs.Index, downloadsRoot, gameRoot, game string, logger *slog.Logger) ([]*IndexedArchive, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	var out []*IndexedArchive
	for _, root := range idx.RootsUnder(downloadsRoot) {
		if strings.HasSuffix(root.Name, download.MetaSuffix) {
			continue
		}
		state, err := download.ReadMetaFile(filepath.FromSlash(root.Name))
		if errors.Is(err, fs.ErrNotExist) {
			logger.Warn("skipping download without meta", "path", root.Name)
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, &IndexedArchive{File: root, Name: path.Base(root.Name), State: state})
	}

	if gameRoot == "" {
		return out, nil
	}
	prefix := strings.TrimSuffix(hashing.NormalizePath(gameRoot), "/") + "/"
	for _, root := range idx.RootsUnder(gameRoot) {
		rel := strings.TrimPrefix(root.Name, prefix)
		out = append(out, &IndexedArchive{
			File: root,
			Name: path.Base(rel),
			State: &download.GameFileState{
				Game:     game,
				GameFile: rel,
				Hash:     root.Hash,
			},
		})
	}
	return out, nil
}

// GatherArchives returns the archives the directives draw from, ordered by
// name. When verifier is not nil every archive must still be obtainable.
func GatherArchives(ctx context.Context, c *Context, verifier *download.Dispatcher, directives []plan.Directive) ([]*plan.Archive, error) {
	seen := make(map[hashing.Hash]struct{})
	var out []*plan.Archive
	for _, d := range directives {
		base, ok := plan.BaseHash(d)
		if !ok {
			continue
		}
		if _, dup := seen[base]; dup {
			continue
		}
		seen[base] = struct{}{}

		ia, ok := c.Archive(base)
		if !ok {
			return nil, fmt.Errorf("%w: %s needs %s", ErrMissingArchive, d.Dest().To, base)
		}
		a := &plan.Archive{Name: ia.Name, Hash: ia.File.Hash, Size: ia.File.Size}
		a.SetState(ia.State)
		if c.strongVerify {
			dg, err := hashing.StrongFile(filepath.FromSlash(ia.File.Name))
			if err != nil {
				return nil, fmt.Errorf("compile: digest %s: %w", a.Name, err)
			}
			a.Digest = dg
		}
		if verifier != nil && !ia.IsGameFile() {
			ok, err := verifier.Verify(ctx, a)
			if err != nil && !errors.Is(err, download.ErrNoDownloader) {
				return nil, fmt.Errorf("compile: verify %s: %w", a.Name, err)
			}
			if err == nil && !ok {
				return nil, fmt.Errorf("compile: %s can no longer be downloaded", a.Name)
			}
		}
		out = append(out, a)
	}
	slices.SortFunc(out, func(a, b *plan.Archive) int { return strings.Compare(a.Name, b.Name) })
	return out, nil
}

// IncludeArchiveMetadata returns directives that write each downloaded
// archive's .meta file next to it at install time. Game files have none.
func IncludeArchiveMetadata(c *Context, archives []*plan.Archive) []plan.Directive {
	var out []plan.Directive
	for _, a := range archives {
		if a.State.Kind() == download.KindGameFile {
			continue
		}
		data := []byte(a.State.MetaINI())
		out = append(out, &plan.ArchiveMeta{
			Target:       plan.Target{To: a.Name + download.MetaSuffix, Size: int64(len(data)), Hash: hashing.Sum(data)},
			SourceDataID: c.Include(data),
		})
	}
	return out
}
