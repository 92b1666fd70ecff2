package patch

import (
	"bytes"
	"encoding/binary"
)

const (
	ddsHeaderEnd = 128
	ddsDX10End   = ddsHeaderEnd + 20
)

var (
	ddsMagic   = []byte("DDS ")
	fourCCDX10 = [4]byte{'D', 'X', '1', '0'}
)

// ddsInfo is the part of a DDS header that decides whether two textures
// share a layout.
type ddsInfo struct {
	width, height, depth, mips uint32
	format                     ddsFormat
}

// ddsFormat identifies the pixel encoding.
type ddsFormat struct {
	pfFlags  uint32
	fourCC   [4]byte
	bitCount uint32
	masks    [4]uint32
	dxgi     uint32
}

func parseDDS(b []byte) (ddsInfo, bool) {
	if len(b) < ddsHeaderEnd || !bytes.HasPrefix(b, ddsMagic) {
		return ddsInfo{}, false
	}
	le := binary.LittleEndian
	if le.Uint32(b[4:]) != 124 {
		return ddsInfo{}, false
	}
	info := ddsInfo{
		height: le.Uint32(b[12:]),
		width:  le.Uint32(b[16:]),
		depth:  le.Uint32(b[24:]),
		mips:   le.Uint32(b[28:]),
	}
	info.format.pfFlags = le.Uint32(b[80:])
	copy(info.format.fourCC[:], b[84:88])
	info.format.bitCount = le.Uint32(b[88:])
	for i := range info.format.masks {
		info.format.masks[i] = le.Uint32(b[92+4*i:])
	}
	if info.format.fourCC == fourCCDX10 {
		if len(b) < ddsDX10End {
			return ddsInfo{}, false
		}
		info.format.dxgi = le.Uint32(b[ddsHeaderEnd:])
	}
	return info, true
}

// DDS patches textures that were re-encoded in a different pixel format at
// the same dimensions, where recompression defeats chunk matching. It
// builds BSDIFF40 patches.
type DDS struct{}

// Name implements Patcher.
func (DDS) Name() string { return "dds" }

// Magic implements Patcher.
func (DDS) Magic() [MagicSize]byte { return magicBsdiff }

// CanPatch accepts DDS pairs with equal width, height, depth and mip count
// whose pixel formats differ.
func (DDS) CanPatch(src, dest []byte) bool {
	a, ok := parseDDS(src)
	if !ok {
		return false
	}
	b, ok := parseDDS(dest)
	if !ok {
		return false
	}
	return a.width == b.width && a.height == b.height &&
		a.depth == b.depth && a.mips == b.mips &&
		a.format != b.format
}

// Build implements Patcher.
func (DDS) Build(src, dest []byte) ([]byte, error) {
	return Bsdiff{}.Build(src, dest)
}
