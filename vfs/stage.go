package vfs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"

	"github.com/meigma/modlist/internal/pathutil"
)

// Staged maps requested files to on-disk paths holding their bytes.
type Staged map[*VirtualFile]string

// Stage makes the bytes of files available on disk. Concrete files are used
// in place. For nested files every distinct ancestor archive is extracted
// exactly once, outermost first, into its own staging directory.
//
// The returned unstage function removes the staging directories and must be
// called on every exit path once the staged paths are no longer needed.
// Stage runs on the calling goroutine and does not take a queue slot, so it
// is safe to call from inside queued work.
func (c *Context) Stage(ctx context.Context, files []*VirtualFile) (Staged, func() error, error) {
	s := &stager{c: c, extracted: make(map[*VirtualFile]string)}
	out := make(Staged, len(files))
	for _, f := range files {
		p, err := s.pathOf(ctx, f)
		if err != nil {
			return nil, nil, errors.Join(err, s.cleanup())
		}
		out[f] = p
	}
	c.log().Debug("staged files", "count", len(files), "archives", len(s.dirs))
	return out, s.cleanup, nil
}

type stager struct {
	c         *Context
	extracted map[*VirtualFile]string
	dirs      []string
}

func (s *stager) pathOf(ctx context.Context, f *VirtualFile) (string, error) {
	if f.IsConcrete() {
		return f.Name, nil
	}
	dir, err := s.extract(ctx, f.Parent)
	if err != nil {
		return "", err
	}
	p, err := pathutil.SafeJoin(dir, f.Name)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(p); err != nil {
		return "", fmt.Errorf("%w: %s", ErrNotFound, f.FullPath())
	}
	return p, nil
}

func (s *stager) extract(ctx context.Context, archive *VirtualFile) (string, error) {
	if dir, ok := s.extracted[archive]; ok {
		return dir, nil
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	src, err := s.pathOf(ctx, archive)
	if err != nil {
		return "", err
	}
	ext := s.c.extractorFor(src)
	if ext == nil {
		return "", fmt.Errorf("%w: %s", ErrNotExtractable, archive.FullPath())
	}
	dir, err := s.c.newStagingDir()
	if err != nil {
		return "", err
	}
	s.dirs = append(s.dirs, dir)
	if err := ext.Extract(ctx, src, dir); err != nil {
		return "", fmt.Errorf("vfs: stage %s: %w", archive.FullPath(), err)
	}
	s.extracted[archive] = dir
	return dir, nil
}

// cleanup removes staging directories innermost first.
func (s *stager) cleanup() error {
	var errs []error
	for _, dir := range slices.Backward(s.dirs) {
		if err := os.RemoveAll(dir); err != nil {
			errs = append(errs, err)
		}
	}
	s.dirs = nil
	return errors.Join(errs...)
}
