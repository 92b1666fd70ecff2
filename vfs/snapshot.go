package vfs

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	flatbuffers "github.com/google/flatbuffers/go"
	"github.com/klauspost/compress/zstd"

	"github.com/meigma/modlist/hashing"
	"github.com/meigma/modlist/internal/fb"
)

// ErrCorruptSnapshot is returned when a persisted index cannot be decoded.
var ErrCorruptSnapshot = errors.New("vfs: corrupt snapshot")

const (
	snapshotVersion   = 1
	snapshotAlgorithm = "xxh64"
)

// WriteSnapshot persists the current index to path as zstd-compressed
// FlatBuffers. A later process can [Context.LoadSnapshot] it and re-index
// incrementally.
func (c *Context) WriteSnapshot(path string) error {
	roots := c.Index().Roots()
	data := encodeSnapshot(roots)

	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	compressed := enc.EncodeAll(data, nil)
	if err := enc.Close(); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".snapshot-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(compressed); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	c.log().Info("snapshot written", "path", path, "count", len(roots), "size", len(compressed))
	return nil
}

// LoadSnapshot replaces the current index with the one persisted at path.
func (c *Context) LoadSnapshot(path string) error {
	raw, err := os.ReadFile(path) //nolint:gosec // caller-supplied path
	if err != nil {
		return err
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return err
	}
	defer dec.Close()
	data, err := dec.DecodeAll(raw, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCorruptSnapshot, err)
	}
	roots, err := decodeSnapshot(data)
	if err != nil {
		return err
	}

	c.pass.Lock()
	defer c.pass.Unlock()
	c.index.Store(newIndex(roots))
	c.log().Info("snapshot loaded", "path", path, "count", len(roots))
	return nil
}

func encodeSnapshot(roots []*VirtualFile) []byte {
	b := flatbuffers.NewBuilder(1024)
	offsets := make([]flatbuffers.UOffsetT, len(roots))
	for i, r := range roots {
		offsets[i] = encodeNode(b, r)
	}
	fb.SnapshotStartRootsVector(b, len(offsets))
	for i := len(offsets) - 1; i >= 0; i-- {
		b.PrependUOffsetT(offsets[i])
	}
	rootsVec := b.EndVector(len(offsets))
	alg := b.CreateString(snapshotAlgorithm)

	fb.SnapshotStart(b)
	fb.SnapshotAddVersion(b, snapshotVersion)
	fb.SnapshotAddHashAlgorithm(b, alg)
	fb.SnapshotAddRoots(b, rootsVec)
	fb.FinishSnapshotBuffer(b, fb.SnapshotEnd(b))
	return b.FinishedBytes()
}

// encodeNode writes f after its children, since FlatBuffers tables must be
// built bottom up.
func encodeNode(b *flatbuffers.Builder, f *VirtualFile) flatbuffers.UOffsetT {
	children := make([]flatbuffers.UOffsetT, len(f.Children))
	for i, c := range f.Children {
		children[i] = encodeNode(b, c)
	}
	var childVec flatbuffers.UOffsetT
	if len(children) > 0 {
		fb.NodeStartChildrenVector(b, len(children))
		for i := len(children) - 1; i >= 0; i-- {
			b.PrependUOffsetT(children[i])
		}
		childVec = b.EndVector(len(children))
	}
	name := b.CreateString(f.Name)

	fb.NodeStart(b)
	fb.NodeAddName(b, name)
	fb.NodeAddSize(b, f.Size)
	if f.IsConcrete() {
		fb.NodeAddMtimeNs(b, f.LastModified.UnixNano())
	}
	fb.NodeAddHash(b, uint64(f.Hash))
	fb.NodeAddArchive(b, f.archive)
	if len(children) > 0 {
		fb.NodeAddChildren(b, childVec)
	}
	return fb.NodeEnd(b)
}

func decodeSnapshot(data []byte) (roots map[string]*VirtualFile, err error) {
	if len(data) < flatbuffers.SizeUOffsetT {
		return nil, fmt.Errorf("%w: truncated", ErrCorruptSnapshot)
	}
	// Accessors index the buffer directly and panic on bad offsets.
	defer func() {
		if r := recover(); r != nil {
			roots, err = nil, fmt.Errorf("%w: %v", ErrCorruptSnapshot, r)
		}
	}()

	s := fb.GetRootAsSnapshot(data, 0)
	if v := s.Version(); v != snapshotVersion {
		return nil, fmt.Errorf("%w: version %d", ErrCorruptSnapshot, v)
	}
	if alg := string(s.HashAlgorithm()); alg != snapshotAlgorithm {
		return nil, fmt.Errorf("%w: hash algorithm %q", ErrCorruptSnapshot, alg)
	}
	roots = make(map[string]*VirtualFile, s.RootsLength())
	var node fb.Node
	for i := range s.RootsLength() {
		if !s.Roots(&node, i) {
			return nil, fmt.Errorf("%w: root %d", ErrCorruptSnapshot, i)
		}
		vf := decodeNode(&node, nil)
		roots[vf.Name] = vf
	}
	return roots, nil
}

func decodeNode(n *fb.Node, parent *VirtualFile) *VirtualFile {
	vf := &VirtualFile{
		Name:    string(n.Name()),
		Parent:  parent,
		Size:    n.Size(),
		Hash:    hashing.Hash(n.Hash()),
		archive: n.Archive(),
	}
	if parent == nil {
		vf.LastModified = time.Unix(0, n.MtimeNs())
	}
	if count := n.ChildrenLength(); count > 0 {
		vf.Children = make([]*VirtualFile, count)
		var child fb.Node
		for i := range count {
			n.Children(&child, i)
			vf.Children[i] = decodeNode(&child, vf)
		}
	}
	return vf
}
