package cache

import (
	"context"
	"sync"

	"github.com/meigma/modlist/hashing"
)

type patchKey struct {
	src, dest hashing.Hash
}

// Memory is an in-memory HashCache and PatchCache.
type Memory struct {
	mu      sync.RWMutex
	hashes  map[string]HashEntry
	patches map[patchKey][]byte
}

// NewMemory returns an empty in-memory cache.
func NewMemory() *Memory {
	return &Memory{
		hashes:  make(map[string]HashEntry),
		patches: make(map[patchKey][]byte),
	}
}

// GetHash implements HashCache.
func (m *Memory) GetHash(_ context.Context, path string) (HashEntry, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.hashes[path]
	return e, ok, nil
}

// PutHash implements HashCache.
func (m *Memory) PutHash(_ context.Context, path string, entry HashEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hashes[path] = entry
	return nil
}

// GetPatch implements PatchCache.
func (m *Memory) GetPatch(_ context.Context, src, dest hashing.Hash) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.patches[patchKey{src, dest}]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), p...), true, nil
}

// PutPatch implements PatchCache.
func (m *Memory) PutPatch(_ context.Context, src, dest hashing.Hash, patch []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := patchKey{src, dest}
	if _, ok := m.patches[k]; ok {
		return nil
	}
	m.patches[k] = append([]byte(nil), patch...)
	return nil
}

// HasPatch implements PatchCache.
func (m *Memory) HasPatch(_ context.Context, src, dest hashing.Hash) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.patches[patchKey{src, dest}]
	return ok, nil
}

// Len returns the number of cached hashes and patches.
func (m *Memory) Len() (hashes, patches int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.hashes), len(m.patches)
}
