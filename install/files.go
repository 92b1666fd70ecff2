package install

import (
	"context"
	"os"
	"slices"
	"strings"
	"sync"

	"github.com/meigma/modlist/bsa"
	"github.com/meigma/modlist/hashing"
	"github.com/meigma/modlist/plan"
	"github.com/meigma/modlist/workqueue"
)

// writeIncluded writes files stored in the plan. Remapped text has its path
// placeholders replaced with this machine's folders, so its hash is not
// checked.
func (i *Installer) writeIncluded(ctx context.Context, pf *plan.File, directives []plan.Directive) (int, []Failure, error) {
	var included []plan.Directive
	for _, d := range directives {
		switch d.(type) {
		case *plan.InlineFile, *plan.RemappedInlineFile:
			included = append(included, d)
		}
	}
	roots := i.roots()
	failed := &failureLog{failFast: i.failFast}
	var (
		mu      sync.Mutex
		written int
	)
	err := workqueue.ForEach(ctx, i.vfs.Queue(), included, func(_ context.Context, d plan.Directive) error {
		dest, err := i.layout.OutputPath(d.Dest().To)
		if err != nil {
			return err
		}
		switch d := d.(type) {
		case *plan.InlineFile:
			data, err := pf.ReadBlob(d.SourceDataID)
			if err != nil {
				return err
			}
			if err := hashing.Verify(d.Hash, hashing.Sum(data)); err != nil {
				i.log().Warn("file failed", "path", d.To, "err", err)
				return failed.add(d.To, err)
			}
			if err := writeFile(dest, data); err != nil {
				return err
			}
		case *plan.RemappedInlineFile:
			data, err := pf.ReadBlob(d.SourceDataID)
			if err != nil {
				return err
			}
			if err := writeFile(dest, []byte(plan.Unmap(string(data), roots))); err != nil {
				return err
			}
		}
		mu.Lock()
		written++
		mu.Unlock()
		return nil
	})
	if err != nil {
		return written, nil, err
	}
	return written, failed.failures(), nil
}

func (i *Installer) roots() map[plan.Root]string {
	rl, ok := i.layout.(RootedLayout)
	if !ok {
		return nil
	}
	roots := make(map[plan.Root]string)
	for root, dir := range rl.Roots() {
		if dir != "" {
			roots[root] = dir
		}
	}
	return roots
}

// writeArchiveMeta restores the .meta files next to the downloaded archives
// so a later compile can find where they came from.
func (i *Installer) writeArchiveMeta(_ context.Context, pf *plan.File, directives []plan.Directive) error {
	for _, d := range directives {
		am, ok := d.(*plan.ArchiveMeta)
		if !ok {
			continue
		}
		dest, err := i.layout.DownloadsPath(am.To)
		if err != nil {
			return err
		}
		if _, err := os.Stat(dest); err == nil {
			continue
		}
		data, err := pf.ReadBlob(am.SourceDataID)
		if err != nil {
			return err
		}
		if err := writeFile(dest, data); err != nil {
			return err
		}
	}
	return nil
}

// BuildBSAs packs the members written under the temporary folder into the
// game archives the plan describes, then removes the temporary folder. It
// returns the number of archives built. An archive missing a member, or
// whose rebuilt bytes do not hash to the recorded value, is a failure.
func (i *Installer) BuildBSAs(ctx context.Context, directives []plan.Directive) (int, []Failure, error) {
	var creates []*plan.CreateBSA
	for _, d := range directives {
		if cb, ok := d.(*plan.CreateBSA); ok {
			creates = append(creates, cb)
		}
	}
	var (
		mu    sync.Mutex
		built int
	)
	failed := &failureLog{failFast: i.failFast}
	err := workqueue.ForEach(ctx, i.vfs.Queue(), creates, func(ctx context.Context, cb *plan.CreateBSA) error {
		if err := i.buildBSA(ctx, cb); err != nil {
			i.log().Warn("archive failed", "path", cb.To, "err", err)
			return failed.add(cb.To, err)
		}
		mu.Lock()
		built++
		mu.Unlock()
		return nil
	})
	if err != nil {
		return built, nil, err
	}

	temp, err := i.layout.OutputPath(plan.TempBSAFolder)
	if err != nil {
		return built, nil, err
	}
	return built, failed.failures(), os.RemoveAll(temp)
}

func (i *Installer) buildBSA(ctx context.Context, cb *plan.CreateBSA) error {
	b, err := bsa.NewBuilder(cb.State)
	if err != nil {
		return err
	}
	states := slices.Clone(cb.FileStates)
	slices.SortStableFunc(states, func(a, b bsa.FileState) int {
		return a.Index - b.Index
	})
	for _, fs := range states {
		if err := ctx.Err(); err != nil {
			return err
		}
		rel := strings.Join([]string{plan.TempBSAFolder, cb.TempID, fs.Path}, "/")
		src, err := i.layout.OutputPath(rel)
		if err != nil {
			return err
		}
		if err := addFile(b, fs, src); err != nil {
			return err
		}
	}

	dest, err := i.layout.OutputPath(cb.To)
	if err != nil {
		return err
	}
	if err := b.Build(dest); err != nil {
		return err
	}
	got, err := i.vfs.Hasher().FileUncached(ctx, dest)
	if err != nil {
		return err
	}
	return hashing.Verify(cb.Hash, got)
}

func addFile(b bsa.Builder, fs bsa.FileState, src string) error {
	f, err := os.Open(src)
	if err != nil {
		return err
	}
	defer f.Close()
	return b.AddFile(fs, f)
}
