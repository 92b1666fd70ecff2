package bsa

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/meigma/modlist/internal/pathutil"
)

// Extract writes every entry of r beneath dir and returns the written paths
// keyed by entry path. Entries whose path would escape dir are rejected.
func Extract(ctx context.Context, r Reader, dir string) (map[string]string, error) {
	out := make(map[string]string, len(r.Files()))
	for _, f := range r.Files() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		dest, err := pathutil.SafeJoin(dir, f.Path())
		if err != nil {
			return nil, fmt.Errorf("bsa: extract %s: %w", f.Path(), err)
		}
		if err := extractFile(f, dest); err != nil {
			return nil, fmt.Errorf("bsa: extract %s: %w", f.Path(), err)
		}
		out[f.Path()] = dest
	}
	return out, nil
}

func extractFile(f File, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o750); err != nil {
		return err
	}
	fh, err := os.Create(dest) //nolint:gosec // joined under the extraction root
	if err != nil {
		return err
	}
	w := bufio.NewWriter(fh)
	if err := f.CopyDataTo(w); err != nil {
		fh.Close()
		return err
	}
	if err := w.Flush(); err != nil {
		fh.Close()
		return err
	}
	return fh.Close()
}
