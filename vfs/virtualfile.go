package vfs

import (
	"iter"
	"slices"
	"strings"
	"time"

	"github.com/meigma/modlist/hashing"
)

// Separator joins the segments of a full path. The first segment is the
// on-disk path of the root file; each following segment is a path inside the
// archive named by the previous one.
const Separator = "|"

// VirtualFile is a file on disk or a file nested inside one or more
// archives.
//
// A VirtualFile is either a leaf or an archive whose Children were produced
// by extracting it. The root of every chain is a concrete file. Children are
// owned by their parent; Parent is a back-reference used to rebuild paths.
type VirtualFile struct {
	// Name is the path relative to Parent, or the normalized absolute path
	// for a root.
	Name string

	// Parent is nil for concrete files.
	Parent *VirtualFile

	// Children are ordered by Name.
	Children []*VirtualFile

	Size int64

	// LastModified is only meaningful for concrete files.
	LastModified time.Time

	Hash hashing.Hash

	archive bool
}

// IsConcrete reports whether the file exists directly on disk.
func (f *VirtualFile) IsConcrete() bool {
	return f.Parent == nil
}

// IsArchive reports whether the file was extracted and indexed as a container.
func (f *VirtualFile) IsArchive() bool {
	return f.archive
}

// Root returns the concrete file at the top of the chain.
func (f *VirtualFile) Root() *VirtualFile {
	for f.Parent != nil {
		f = f.Parent
	}
	return f
}

// PathParts returns the segments from the root down to f.
func (f *VirtualFile) PathParts() []string {
	var parts []string
	for v := f; v != nil; v = v.Parent {
		parts = append(parts, v.Name)
	}
	slices.Reverse(parts)
	return parts
}

// FullPath returns the path segments joined with [Separator].
func (f *VirtualFile) FullPath() string {
	return strings.Join(f.PathParts(), Separator)
}

// NestingFactor returns the depth of f; concrete files have depth 1.
func (f *VirtualFile) NestingFactor() int {
	n := 0
	for v := f; v != nil; v = v.Parent {
		n++
	}
	return n
}

// HashPath returns the content-addressed path to f: the hash of the root
// archive followed by the inner paths.
func (f *VirtualFile) HashPath() HashPath {
	parts := f.PathParts()
	return HashPath{BaseHash: f.Root().Hash, Paths: parts[1:]}
}

// Child returns the direct child with the given name.
func (f *VirtualFile) Child(name string) (*VirtualFile, bool) {
	i, ok := slices.BinarySearchFunc(f.Children, name, func(c *VirtualFile, n string) int {
		return strings.Compare(c.Name, n)
	})
	if !ok {
		return nil, false
	}
	return f.Children[i], true
}

// ThisAndAllChildren yields f followed by every descendant, depth first.
func (f *VirtualFile) ThisAndAllChildren() iter.Seq[*VirtualFile] {
	return func(yield func(*VirtualFile) bool) {
		f.walk(yield)
	}
}

func (f *VirtualFile) walk(yield func(*VirtualFile) bool) bool {
	if !yield(f) {
		return false
	}
	for _, c := range f.Children {
		if !c.walk(yield) {
			return false
		}
	}
	return true
}

// String returns the full path.
func (f *VirtualFile) String() string {
	return f.FullPath()
}

func sortChildren(children []*VirtualFile) {
	slices.SortFunc(children, func(a, b *VirtualFile) int { return strings.Compare(a.Name, b.Name) })
}

// HashPath locates a file by content: the hash of a concrete archive and the
// chain of paths inside it.
type HashPath struct {
	BaseHash hashing.Hash `cbor:"1,keyasint" json:"baseHash"`
	Paths    []string     `cbor:"2,keyasint,omitempty" json:"paths,omitempty"`
}

// IsRoot reports whether the path names a concrete file.
func (p HashPath) IsRoot() bool {
	return len(p.Paths) == 0
}

// String renders the path as the base hash followed by the inner paths.
func (p HashPath) String() string {
	return strings.Join(append([]string{p.BaseHash.String()}, p.Paths...), Separator)
}

// Equal reports whether two hash paths name the same location.
func (p HashPath) Equal(o HashPath) bool {
	return p.BaseHash == o.BaseHash && slices.Equal(p.Paths, o.Paths)
}
