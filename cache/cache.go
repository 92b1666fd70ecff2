// Package cache provides the hash cache and patch cache services.
//
// Both caches are explicit services: they are opened by the caller, passed to
// the components that need them, and closed at shutdown. The in-memory
// implementation here serves tests and one-shot runs; [sqlite] and [disk]
// provide persistent stores.
//
// The patch cache is content-addressed by the ordered pair (source hash,
// destination hash). A patch between two specific byte sequences never needs
// to be recomputed, so entries are append-only and safe to share across
// unrelated builds.
package cache

import (
	"context"
	"encoding/binary"
	"errors"

	"github.com/meigma/modlist/hashing"
)

// KeySize is the length of a patch cache key.
const KeySize = 2 * hashing.Size

// ErrClosed is returned when a closed cache is used.
var ErrClosed = errors.New("cache: closed")

// HashCache maps a normalized absolute path to the last computed hash and the
// modification time it was computed at.
type HashCache = hashing.Cache

// HashEntry is a hash cache value.
type HashEntry = hashing.CacheEntry

// PatchCache stores patch bytes keyed by (source hash, destination hash).
//
// Implementations must be safe for concurrent use. PutPatch on an existing
// key keeps the stored value.
type PatchCache interface {
	// GetPatch returns the stored patch for the pair.
	GetPatch(ctx context.Context, src, dest hashing.Hash) ([]byte, bool, error)

	// PutPatch stores a patch for the pair.
	PutPatch(ctx context.Context, src, dest hashing.Hash, patch []byte) error

	// HasPatch reports whether a patch exists without loading it.
	HasPatch(ctx context.Context, src, dest hashing.Hash) (bool, error)
}

// PatchKey returns the 16-byte key for a pair: the little-endian source hash
// followed by the little-endian destination hash.
func PatchKey(src, dest hashing.Hash) []byte {
	key := make([]byte, KeySize)
	binary.LittleEndian.PutUint64(key[:hashing.Size], uint64(src))
	binary.LittleEndian.PutUint64(key[hashing.Size:], uint64(dest))
	return key
}

// SplitPatchKey decodes a key produced by [PatchKey].
func SplitPatchKey(key []byte) (src, dest hashing.Hash, ok bool) {
	if len(key) != KeySize {
		return hashing.Invalid, hashing.Invalid, false
	}
	src = hashing.Hash(binary.LittleEndian.Uint64(key[:hashing.Size]))
	dest = hashing.Hash(binary.LittleEndian.Uint64(key[hashing.Size:]))
	return src, dest, true
}
