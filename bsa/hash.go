package bsa

import (
	"encoding/binary"
	"hash/crc32"
	"math/bits"
	"path"
	"strings"
)

// FolderHash returns the TES4 hash of a folder path.
func FolderHash(folder string) uint64 {
	return tes4Hash(strings.ToLower(archivePath(folder)), "")
}

// FileNameHash returns the TES4 hash of a file name without its folder.
func FileNameHash(name string) uint64 {
	name = strings.ToLower(name)
	ext := path.Ext(name)
	return tes4Hash(strings.TrimSuffix(name, ext), ext)
}

func tes4Hash(name, ext string) uint64 {
	n := len(name)
	var b [4]byte
	if n > 0 {
		b[0] = name[n-1]
		b[3] = name[0]
	}
	if n >= 3 {
		b[1] = name[n-2]
	}
	b[2] = byte(n)
	h1 := binary.LittleEndian.Uint32(b[:])

	switch ext {
	case ".kf":
		h1 |= 0x80
	case ".nif":
		h1 |= 0x8000
	case ".dds":
		h1 |= 0x8080
	case ".wav":
		h1 |= 0x80000000
	}

	var h2 uint32
	for i := 1; i < n-2; i++ {
		h2 = h2*0x1003f + uint32(name[i])
	}
	var h3 uint32
	for i := range len(ext) {
		h3 = h3*0x1003f + uint32(ext[i])
	}
	return uint64(h2+h3)<<32 + uint64(h1)
}

// TES3Hash returns the two 32-bit halves of the Morrowind name hash.
func TES3Hash(p string) (low, high uint32) {
	name := strings.ToLower(archivePath(p))
	half := len(name) / 2

	var sum uint32
	var off uint
	i := 0
	for ; i < half; i++ {
		sum ^= uint32(name[i]) << (off & 0x1f)
		off += 8
	}
	low = sum

	sum, off = 0, 0
	for ; i < len(name); i++ {
		temp := uint32(name[i]) << (off & 0x1f)
		sum ^= temp
		sum = bits.RotateLeft32(sum, -int(temp&0x1f))
		off += 8
	}
	return low, sum
}

var ba2Table = crc32.MakeTable(crc32.IEEE)

// BA2Hash returns the Fallout 4 name hash: a reflected CRC-32 with zero
// initial value and no final inversion over the lowercased name.
func BA2Hash(s string) uint32 {
	s = strings.ToLower(archivePath(s))
	var crc uint32
	for i := range len(s) {
		crc = (crc >> 8) ^ ba2Table[byte(crc)^s[i]]
	}
	return crc
}
