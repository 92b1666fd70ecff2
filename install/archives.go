package install

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/meigma/modlist/download"
	"github.com/meigma/modlist/hashing"
	"github.com/meigma/modlist/patch"
	"github.com/meigma/modlist/plan"
	"github.com/meigma/modlist/vfs"
	"github.com/meigma/modlist/workqueue"
)

// hashArchives returns the path of every archive found in the downloads
// folder with the hash the plan expects, keyed by that hash.
func (i *Installer) hashArchives(ctx context.Context, archives []*plan.Archive) (map[hashing.Hash]string, error) {
	hasher := i.vfs.Hasher()
	type hit struct {
		hash hashing.Hash
		path string
	}
	hits, err := workqueue.MapUnordered(ctx, i.vfs.Queue(), archives, func(ctx context.Context, a *plan.Archive) (hit, error) {
		p, err := i.layout.DownloadsPath(a.Name)
		if err != nil {
			return hit{}, err
		}
		h, err := hasher.File(ctx, p)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			return hit{}, nil
		case err != nil:
			return hit{}, err
		}
		if h != a.Hash {
			i.log().Warn("download does not match plan", "archive", a.Name, "hash", h, "want", a.Hash)
			return hit{}, nil
		}
		return hit{hash: h, path: p}, nil
	})
	if err != nil {
		return nil, err
	}
	found := make(map[hashing.Hash]string, len(hits))
	for _, h := range hits {
		if h.hash.IsValid() {
			found[h.hash] = h.path
		}
	}
	return found, nil
}

// downloadMissing fetches missing archives and returns the ones that now
// exist. Manual archives are requested last so every automatic download
// has finished by the time a user is asked for help. Failed downloads are
// logged and left missing.
func (i *Installer) downloadMissing(ctx context.Context, missing []*plan.Archive) ([]*plan.Archive, error) {
	ordered := slices.Clone(missing)
	slices.SortStableFunc(ordered, func(a, b *plan.Archive) int {
		return boolOrder(isManual(a), isManual(b))
	})

	var (
		mu   sync.Mutex
		done []*plan.Archive
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(i.parallelism)
	for _, a := range ordered {
		g.Go(func() error {
			dest, err := i.layout.DownloadsPath(a.Name)
			if err != nil {
				return err
			}
			err = i.downloads.Download(gctx, a, dest)
			switch {
			case err == nil:
				mu.Lock()
				done = append(done, a)
				mu.Unlock()
			case gctx.Err() != nil:
				return gctx.Err()
			case download.IsManual(err):
				i.log().Warn("archive must be downloaded by hand", "archive", a.Name, "err", err)
			default:
				i.log().Error("download failed", "archive", a.Name, "err", err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return done, nil
}

func isManual(a *plan.Archive) bool {
	return a.State != nil && a.State.Kind() == download.KindManual
}

func boolOrder(a, b bool) int {
	switch {
	case a == b:
		return 0
	case a:
		return 1
	default:
		return -1
	}
}

func (i *Installer) indexArchives(ctx context.Context, found map[hashing.Hash]string) error {
	paths := slices.Sorted(maps.Values(found))
	_, err := i.vfs.AddFiles(ctx, paths)
	return err
}

type archiveJob struct {
	source     *vfs.VirtualFile
	directives []plan.Directive
}

// InstallArchives writes every file drawn from an archive and returns how
// many were written.
//
// Directives are grouped by root archive so each archive is extracted once.
// Within a group the first directive for a source file is produced from the
// staged bytes and the remaining identical outputs are copied from it.
// Patched files are rebuilt from the patch stored in the plan. Every output
// is checked against its expected hash; outputs that fail are returned as
// failures unless the installer fails fast.
func (i *Installer) InstallArchives(ctx context.Context, pf *plan.File, directives []plan.Directive) (int, []Failure, error) {
	idx := i.vfs.Index()
	groups := make(map[hashing.Hash]map[*vfs.VirtualFile][]plan.Directive)
	for _, d := range directives {
		var hp vfs.HashPath
		switch d := d.(type) {
		case *plan.FromArchive:
			hp = d.ArchiveHashPath
		case *plan.PatchedFromArchive:
			hp = d.ArchiveHashPath
		default:
			continue
		}
		f, ok := idx.FileForHashPath(hp)
		if !ok {
			return 0, nil, fmt.Errorf("%w: %s: source %s not indexed", ErrMissingArchive, d.Dest().To, hp)
		}
		byFile := groups[hp.BaseHash]
		if byFile == nil {
			byFile = make(map[*vfs.VirtualFile][]plan.Directive)
			groups[hp.BaseHash] = byFile
		}
		byFile[f] = append(byFile[f], d)
	}

	var (
		mu    sync.Mutex
		count int
	)
	failed := &failureLog{failFast: i.failFast}
	bases := slices.Sorted(maps.Keys(groups))
	err := workqueue.ForEach(ctx, i.vfs.Queue(), bases, func(ctx context.Context, base hashing.Hash) error {
		jobs := make([]archiveJob, 0, len(groups[base]))
		for f, ds := range groups[base] {
			jobs = append(jobs, archiveJob{source: f, directives: ds})
		}
		n, err := i.installArchive(ctx, pf, jobs, failed)
		mu.Lock()
		count += n
		mu.Unlock()
		return err
	})
	return count, failed.failures(), err
}

func (i *Installer) installArchive(ctx context.Context, pf *plan.File, jobs []archiveJob, failed *failureLog) (int, error) {
	sources := make([]*vfs.VirtualFile, len(jobs))
	for j, job := range jobs {
		sources[j] = job.source
	}
	staged, unstage, err := i.vfs.Stage(ctx, sources)
	if err != nil {
		return 0, err
	}
	defer unstage()

	n := 0
	for _, job := range jobs {
		src := staged[job.source]
		// Plain copies first, so later copies can reuse an output already
		// written and verified.
		slices.SortStableFunc(job.directives, func(a, b plan.Directive) int {
			_, pa := a.(*plan.PatchedFromArchive)
			_, pb := b.(*plan.PatchedFromArchive)
			return boolOrder(pa, pb)
		})
		var written string
		for _, d := range job.directives {
			if err := ctx.Err(); err != nil {
				return n, err
			}
			dest, err := i.layout.OutputPath(d.Dest().To)
			if err != nil {
				return n, err
			}
			switch d := d.(type) {
			case *plan.FromArchive:
				from := src
				if written != "" {
					from = written
				}
				err = copyVerified(from, dest, d.Hash)
				if err == nil {
					written = dest
				}
			case *plan.PatchedFromArchive:
				err = applyPatch(pf, src, dest, d)
			}
			if err != nil {
				if ferr := failed.add(d.Dest().To, err); ferr != nil {
					return n, ferr
				}
				i.log().Warn("file failed", "path", d.Dest().To, "err", err)
				continue
			}
			n++
		}
	}
	i.log().Debug("installed from archive", "count", n, "archive", jobs[0].source.Root().Name)
	return n, nil
}

// copyVerified copies src to dest through a temporary file and renames it
// into place once the bytes hash to want.
func copyVerified(src, dest string, want hashing.Hash) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	return writeVerified(dest, in, want)
}

func applyPatch(pf *plan.File, src, dest string, d *plan.PatchedFromArchive) error {
	old, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	delta, err := pf.ReadBlob(d.PatchID)
	if err != nil {
		return err
	}
	data, err := patch.ApplyVerified(old, delta, d.Hash)
	if err != nil {
		return err
	}
	return writeFile(dest, data)
}

func writeVerified(dest string, r io.Reader, want hashing.Hash) error {
	tmp, err := os.CreateTemp(filepath.Dir(dest), ".install-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	w := hashing.NewWriter(tmp)
	if _, err := io.Copy(w, r); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if want.IsValid() {
		if err := hashing.Verify(want, w.Sum()); err != nil {
			return err
		}
	}
	return os.Rename(tmp.Name(), dest)
}

func writeFile(dest string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(dest), ".install-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), dest)
}
