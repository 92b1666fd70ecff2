package compile

import (
	"context"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/meigma/modlist/hashing"
	"github.com/meigma/modlist/patch"
	"github.com/meigma/modlist/plan"
	"github.com/meigma/modlist/vfs"
	"github.com/meigma/modlist/workqueue"
)

type patchJob struct {
	directive *plan.PatchedFromArchive
	choice    vfs.HashPath
}

// BuildPatches resolves every PatchedFromArchive directive to one patch.
//
// Each candidate source is patched against the file's bytes. Candidates are
// grouped by root archive so each archive is staged once per build. The
// smallest patch wins and is stored in the plan. A directive left without a
// patch is an error.
func BuildPatches(ctx context.Context, c *Context, q *workqueue.Queue, patches *patch.Dispatcher, directives []plan.Directive) error {
	var pending []*plan.PatchedFromArchive
	groups := make(map[hashing.Hash][]patchJob)
	for _, d := range directives {
		p, ok := d.(*plan.PatchedFromArchive)
		if !ok || p.Resolved() {
			continue
		}
		pending = append(pending, p)
		for _, choice := range p.Choices {
			groups[choice.BaseHash] = append(groups[choice.BaseHash], patchJob{directive: p, choice: choice})
		}
	}
	if len(pending) == 0 {
		return nil
	}

	bases := slices.Sorted(maps.Keys(groups))
	err := workqueue.ForEach(ctx, q, bases, func(ctx context.Context, base hashing.Hash) error {
		return buildArchivePatches(ctx, c, patches, directives, groups[base])
	})
	if err != nil {
		return err
	}

	for _, p := range pending {
		if err := choosePatch(ctx, c, patches, p); err != nil {
			return err
		}
	}
	return nil
}

func buildArchivePatches(ctx context.Context, c *Context, patches *patch.Dispatcher, directives []plan.Directive, jobs []patchJob) error {
	sources := make([]*vfs.VirtualFile, len(jobs))
	for i, job := range jobs {
		f, ok := c.index.FileForHashPath(job.choice)
		if !ok {
			return fmt.Errorf("%w: %s: source %s not indexed", ErrUnresolvedPatch, job.directive.To, job.choice)
		}
		sources[i] = f
	}
	staged, unstage, err := c.vfs.Stage(ctx, sources)
	if err != nil {
		return err
	}
	defer unstage()

	for i, job := range jobs {
		if _, ok, err := patches.Cached(ctx, sources[i].Hash, job.directive.Hash); err != nil {
			return err
		} else if ok {
			continue
		}
		src, err := os.ReadFile(staged[sources[i]])
		if err != nil {
			return err
		}
		dest, err := c.destData(ctx, directives, job.directive.To)
		if err != nil {
			return err
		}
		if _, err := patches.Build(ctx, src, sources[i].Hash, dest, job.directive.Hash); err != nil {
			return fmt.Errorf("compile: patch %s: %w", job.directive.To, err)
		}
	}
	return nil
}

func choosePatch(ctx context.Context, c *Context, patches *patch.Dispatcher, p *plan.PatchedFromArchive) error {
	type option struct {
		choice vfs.HashPath
		from   hashing.Hash
		data   []byte
	}
	var best *option
	for _, choice := range p.Choices {
		f, ok := c.index.FileForHashPath(choice)
		if !ok {
			continue
		}
		data, ok, err := patches.Cached(ctx, f.Hash, p.Hash)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		if best == nil || len(data) < len(best.data) {
			best = &option{choice: choice, from: f.Hash, data: data}
		}
	}
	if best == nil {
		return fmt.Errorf("%w: %s", ErrUnresolvedPatch, p.To)
	}
	p.ArchiveHashPath = best.choice
	p.FromHash = best.from
	p.PatchID = c.Include(best.data)
	p.Choices = nil
	return nil
}

// destData returns the bytes a directive must produce, read from the source
// folder or, for members of a deconstructed archive, from that archive.
func (c *Context) destData(ctx context.Context, directives []plan.Directive, to string) ([]byte, error) {
	prefix := plan.TempBSAFolder + "/"
	if !strings.HasPrefix(to, prefix) {
		return os.ReadFile(filepath.Join(c.sourceRoot, filepath.FromSlash(to)))
	}
	id, member, ok := strings.Cut(strings.TrimPrefix(to, prefix), "/")
	if !ok {
		return nil, fmt.Errorf("compile: malformed archive member path %s", to)
	}
	for _, d := range directives {
		cb, ok := d.(*plan.CreateBSA)
		if !ok || cb.TempID != id {
			continue
		}
		root, ok := c.index.LookupRoot(filepath.Join(c.sourceRoot, filepath.FromSlash(cb.To)))
		if !ok {
			break
		}
		child, ok := root.Child(member)
		if !ok {
			break
		}
		return c.readVirtual(ctx, child)
	}
	return nil, fmt.Errorf("%w: %s", vfs.ErrNotFound, to)
}
