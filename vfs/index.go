package vfs

import (
	"iter"
	"maps"
	"slices"
	"strings"

	"github.com/meigma/modlist/hashing"
)

// Index is an immutable snapshot of every indexed file with three lookup
// views: by full path, by root path and by content hash. One hash may map to
// many files; all of them are kept.
//
// An Index is never modified after it is published. Indexing passes build a
// new one and swap it in.
type Index struct {
	byFullPath map[string]*VirtualFile
	byRootPath map[string]*VirtualFile
	byHash     map[hashing.Hash][]*VirtualFile
}

func emptyIndex() *Index {
	return newIndex(nil)
}

func newIndex(roots map[string]*VirtualFile) *Index {
	idx := &Index{
		byFullPath: make(map[string]*VirtualFile),
		byRootPath: make(map[string]*VirtualFile, len(roots)),
		byHash:     make(map[hashing.Hash][]*VirtualFile),
	}
	for name, root := range roots {
		idx.byRootPath[name] = root
		for f := range root.ThisAndAllChildren() {
			idx.byFullPath[f.FullPath()] = f
			if f.Hash.IsValid() {
				idx.byHash[f.Hash] = append(idx.byHash[f.Hash], f)
			}
		}
	}
	// Stable candidate order keeps matching deterministic across runs.
	for h, files := range idx.byHash {
		slices.SortFunc(files, func(a, b *VirtualFile) int {
			if d := a.NestingFactor() - b.NestingFactor(); d != 0 {
				return d
			}
			return strings.Compare(a.FullPath(), b.FullPath())
		})
		idx.byHash[h] = files
	}
	return idx
}

// Len returns the number of files in the index, including nested ones.
func (idx *Index) Len() int {
	return len(idx.byFullPath)
}

// Lookup returns the file with the given full path.
func (idx *Index) Lookup(fullPath string) (*VirtualFile, bool) {
	f, ok := idx.byFullPath[fullPath]
	return f, ok
}

// LookupRoot returns the concrete file at path.
func (idx *Index) LookupRoot(path string) (*VirtualFile, bool) {
	f, ok := idx.byRootPath[hashing.NormalizePath(path)]
	return f, ok
}

// LookupHash returns every file with hash h, shallowest first.
func (idx *Index) LookupHash(h hashing.Hash) []*VirtualFile {
	return idx.byHash[h]
}

// HasHash reports whether any file has hash h.
func (idx *Index) HasHash(h hashing.Hash) bool {
	return len(idx.byHash[h]) > 0
}

// Roots returns the concrete files ordered by path.
func (idx *Index) Roots() []*VirtualFile {
	keys := slices.Sorted(maps.Keys(idx.byRootPath))
	out := make([]*VirtualFile, len(keys))
	for i, k := range keys {
		out[i] = idx.byRootPath[k]
	}
	return out
}

// RootsUnder returns the concrete files located under dir, ordered by path.
func (idx *Index) RootsUnder(dir string) []*VirtualFile {
	prefix := strings.TrimSuffix(hashing.NormalizePath(dir), "/") + "/"
	var out []*VirtualFile
	for _, r := range idx.Roots() {
		if strings.HasPrefix(r.Name, prefix) {
			out = append(out, r)
		}
	}
	return out
}

// All yields every indexed file ordered by full path.
func (idx *Index) All() iter.Seq[*VirtualFile] {
	return func(yield func(*VirtualFile) bool) {
		for _, k := range slices.Sorted(maps.Keys(idx.byFullPath)) {
			if !yield(idx.byFullPath[k]) {
				return
			}
		}
	}
}

// Hashes returns the distinct hashes in the index.
func (idx *Index) Hashes() []hashing.Hash {
	return slices.Sorted(maps.Keys(idx.byHash))
}

// FileForHashPath resolves a hash path against the index. The base hash may
// name any concrete file with that content.
func (idx *Index) FileForHashPath(p HashPath) (*VirtualFile, bool) {
	for _, base := range idx.byHash[p.BaseHash] {
		if !base.IsConcrete() {
			continue
		}
		f := base
		ok := true
		for _, part := range p.Paths {
			if f, ok = f.Child(part); !ok {
				break
			}
		}
		if ok {
			return f, true
		}
	}
	return nil, false
}
