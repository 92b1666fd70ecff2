// Package hashing computes and caches content hashes.
//
// A [Hash] is the 64-bit xxHash of a byte sequence. Two sequences with the
// same hash are treated as identical for deduplication. The zero value is
// reserved and means "no hash".
package hashing

import (
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"github.com/cespare/xxhash/v2"
)

// Invalid is the reserved "no hash" value.
const Invalid Hash = 0

// Size is the encoded size of a Hash in bytes.
const Size = 8

var (
	// ErrHashMismatch is returned when content does not hash to its expected value.
	ErrHashMismatch = errors.New("hashing: hash mismatch")

	// ErrInvalidHash is returned when a hash string cannot be decoded.
	ErrInvalidHash = errors.New("hashing: invalid hash")
)

// Hash is an xxHash64 content hash.
type Hash uint64

// IsValid reports whether h is usable as a dedup key.
func (h Hash) IsValid() bool {
	return h != Invalid
}

// Bytes returns the little-endian encoding of h.
func (h Hash) Bytes() []byte {
	b := make([]byte, Size)
	binary.LittleEndian.PutUint64(b, uint64(h))
	return b
}

// String returns the base64 form of the little-endian bytes.
func (h Hash) String() string {
	return base64.StdEncoding.EncodeToString(h.Bytes())
}

// Hex returns the hex form of the little-endian bytes.
func (h Hash) Hex() string {
	return hex.EncodeToString(h.Bytes())
}

// MarshalText implements encoding.TextMarshaler.
func (h Hash) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (h *Hash) UnmarshalText(text []byte) error {
	parsed, err := ParseHash(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

// FromBytes decodes a little-endian hash.
func FromBytes(b []byte) (Hash, error) {
	if len(b) != Size {
		return Invalid, fmt.Errorf("%w: want %d bytes, got %d", ErrInvalidHash, Size, len(b))
	}
	return Hash(binary.LittleEndian.Uint64(b)), nil
}

// ParseHash decodes the base64 form produced by [Hash.String].
func ParseHash(s string) (Hash, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return Invalid, fmt.Errorf("%w: %v", ErrInvalidHash, err)
	}
	return FromBytes(b)
}

// ParseHex decodes the form produced by [Hash.Hex].
func ParseHex(s string) (Hash, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return Invalid, fmt.Errorf("%w: %v", ErrInvalidHash, err)
	}
	return FromBytes(b)
}

// Sum hashes b.
func Sum(b []byte) Hash {
	return Hash(xxhash.Sum64(b))
}

// SumString hashes s.
func SumString(s string) Hash {
	return Hash(xxhash.Sum64String(s))
}

// Reader hashes everything read from r and returns the hash and byte count.
// Memory use is bounded by the copy buffer.
func Reader(r io.Reader) (Hash, int64, error) {
	d := xxhash.New()
	n, err := io.Copy(d, r)
	if err != nil {
		return Invalid, n, err
	}
	return Hash(d.Sum64()), n, nil
}

// Writer hashes everything written to it and forwards the bytes to W.
// A nil W discards the bytes.
type Writer struct {
	W io.Writer
	N int64
	d *xxhash.Digest
}

// NewWriter returns a hashing writer over w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{W: w, d: xxhash.New()}
}

// Write implements io.Writer.
func (w *Writer) Write(p []byte) (int, error) {
	if w.W != nil {
		n, err := w.W.Write(p)
		w.d.Write(p[:n]) //nolint:errcheck // xxhash never fails
		w.N += int64(n)
		return n, err
	}
	w.d.Write(p) //nolint:errcheck // xxhash never fails
	w.N += int64(len(p))
	return len(p), nil
}

// Sum returns the hash of the bytes written so far.
func (w *Writer) Sum() Hash {
	return Hash(w.d.Sum64())
}

// Verify returns ErrHashMismatch when got differs from want.
func Verify(want, got Hash) error {
	if want != got {
		return fmt.Errorf("%w: want %s, got %s", ErrHashMismatch, want, got)
	}
	return nil
}
