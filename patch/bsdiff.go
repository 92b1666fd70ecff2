package patch

import (
	"fmt"

	"github.com/gabstv/go-bsdiff/pkg/bsdiff"
	"github.com/gabstv/go-bsdiff/pkg/bspatch"
)

// Bsdiff builds BSDIFF40 patches. It accepts every pair but is slower and
// more memory hungry than [Delta], so it is not in the default priority
// list on its own.
type Bsdiff struct{}

// Name implements Patcher.
func (Bsdiff) Name() string { return "bsdiff" }

// Magic implements Patcher.
func (Bsdiff) Magic() [MagicSize]byte { return magicBsdiff }

// CanPatch implements Patcher.
func (Bsdiff) CanPatch(_, _ []byte) bool { return true }

// Build implements Patcher.
func (Bsdiff) Build(src, dest []byte) ([]byte, error) {
	p, err := bsdiff.Bytes(src, dest)
	if err != nil {
		return nil, fmt.Errorf("patch: bsdiff: %w", err)
	}
	return p, nil
}

func applyBsdiff(old, patch []byte) ([]byte, error) {
	out, err := bspatch.Bytes(old, patch)
	if err != nil {
		return nil, fmt.Errorf("%w: bspatch: %v", ErrCorruptPatch, err)
	}
	return out, nil
}
