package hashing

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/opencontainers/go-digest"
)

// ErrDigestMismatch is returned when content does not match its expected
// strong digest.
var ErrDigestMismatch = errors.New("hashing: digest mismatch")

// Strong returns the canonical (sha256) digest of everything read from r.
//
// Strong digests back the optional verification pass that guards against
// 64-bit hash collisions before a hash match is trusted for substitution.
func Strong(r io.Reader) (digest.Digest, error) {
	return digest.Canonical.FromReader(r)
}

// StrongFile returns the canonical digest of the file at path.
func StrongFile(path string) (digest.Digest, error) {
	f, err := os.Open(path) //nolint:gosec // caller-supplied path
	if err != nil {
		return "", err
	}
	defer f.Close()
	return Strong(f)
}

// VerifyStrong reads r to the end and checks it against want.
func VerifyStrong(r io.Reader, want digest.Digest) error {
	if err := want.Validate(); err != nil {
		return fmt.Errorf("verify digest: %w", err)
	}
	v := want.Verifier()
	if _, err := io.Copy(v, r); err != nil {
		return fmt.Errorf("verify digest: %w", err)
	}
	if !v.Verified() {
		return fmt.Errorf("%w: want %s", ErrDigestMismatch, want)
	}
	return nil
}

// SameContent reports whether two files have equal strong digests.
func SameContent(a, b string) (bool, error) {
	da, err := StrongFile(a)
	if err != nil {
		return false, err
	}
	db, err := StrongFile(b)
	if err != nil {
		return false, err
	}
	return da == db, nil
}
