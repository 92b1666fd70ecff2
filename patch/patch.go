// Package patch builds and applies binary patches between byte sequences.
//
// Two patch containers are supported, recognized by their first eight
// bytes: OCTODELTA, a content-defined-chunking delta, and BSDIFF40. A
// [Dispatcher] tries registered [Patcher] implementations in priority order
// and caches every built patch by (source hash, destination hash) before
// returning it.
package patch

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/meigma/modlist/hashing"
)

// MagicSize is the number of leading bytes used to recognize a patch.
const MagicSize = 8

var (
	// ErrUnknownPatchFormat is returned when a patch has an unrecognized magic.
	ErrUnknownPatchFormat = errors.New("patch: unknown patch format")

	// ErrCorruptPatch is returned when a patch stream is malformed.
	ErrCorruptPatch = errors.New("patch: corrupt patch")

	// ErrNoPatcher is returned when no registered patcher accepts a pair.
	ErrNoPatcher = errors.New("patch: no patcher accepts pair")
)

// Patcher builds patches of one format.
type Patcher interface {
	// Name identifies the patcher in logs.
	Name() string

	// Magic returns the leading bytes of patches this patcher builds.
	Magic() [MagicSize]byte

	// CanPatch reports whether the patcher accepts the pair.
	CanPatch(src, dest []byte) bool

	// Build returns a patch that turns src into dest.
	Build(src, dest []byte) ([]byte, error)
}

var (
	magicDelta  = [MagicSize]byte{'O', 'C', 'T', 'O', 'D', 'E', 'L', 'T'}
	magicBsdiff = [MagicSize]byte{'B', 'S', 'D', 'I', 'F', 'F', '4', '0'}
)

// Apply reconstructs new bytes from old and patch, choosing the applier by
// the patch magic. Callers must verify the result; see [ApplyVerified].
func Apply(old, patch []byte) ([]byte, error) {
	if len(patch) < MagicSize {
		return nil, fmt.Errorf("%w: %d byte patch", ErrUnknownPatchFormat, len(patch))
	}
	var magic [MagicSize]byte
	copy(magic[:], patch)
	switch magic {
	case magicDelta:
		return applyDelta(old, patch)
	case magicBsdiff:
		return applyBsdiff(old, patch)
	default:
		return nil, fmt.Errorf("%w: magic %q", ErrUnknownPatchFormat, bytes.ToValidUTF8(magic[:], []byte("?")))
	}
}

// ApplyVerified applies patch and checks the result against want. A mismatch
// wraps [hashing.ErrHashMismatch].
func ApplyVerified(old, patch []byte, want hashing.Hash) ([]byte, error) {
	out, err := Apply(old, patch)
	if err != nil {
		return nil, err
	}
	if err := hashing.Verify(want, hashing.Sum(out)); err != nil {
		return nil, err
	}
	return out, nil
}

// FormatOf returns the name of the container patch is encoded in, or "" if
// the magic is not recognized.
func FormatOf(patch []byte) string {
	switch {
	case bytes.HasPrefix(patch, magicDelta[:]):
		return "octodelta"
	case bytes.HasPrefix(patch, magicBsdiff[:]):
		return "bsdiff40"
	default:
		return ""
	}
}
