package patch

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/cespare/xxhash/v2"

	"github.com/meigma/modlist/hashing"
)

const (
	deltaHeader    = "OCTODELTA"
	deltaVersion   = 0x01
	deltaAlgorithm = "XXH64"
	deltaEndHeader = ">>>"

	cmdCopy byte = 0x60
	cmdData byte = 0x80
)

// Delta builds OCTODELTA patches: the source is split into content-defined
// chunks to form a signature, and the destination is encoded as copies of
// signature chunks and literal data. It accepts every pair.
type Delta struct{}

// Name implements Patcher.
func (Delta) Name() string { return "delta" }

// Magic implements Patcher.
func (Delta) Magic() [MagicSize]byte { return magicDelta }

// CanPatch implements Patcher.
func (Delta) CanPatch(_, _ []byte) bool { return true }

type sigKey struct {
	hash   uint64
	length int
}

// signature maps each distinct source chunk to its first offset.
func signature(src []byte) map[sigKey]int {
	sig := make(map[sigKey]int)
	for _, c := range chunks(src) {
		k := sigKey{hash: xxhash.Sum64(src[c.offset : c.offset+c.length]), length: c.length}
		if _, ok := sig[k]; !ok {
			sig[k] = c.offset
		}
	}
	return sig
}

// Build implements Patcher.
func (Delta) Build(src, dest []byte) ([]byte, error) {
	sig := signature(src)

	var out bytes.Buffer
	writeDeltaHeader(&out, hashing.Sum(src))

	w := deltaWriter{out: &out}
	for _, c := range chunks(dest) {
		piece := dest[c.offset : c.offset+c.length]
		k := sigKey{hash: xxhash.Sum64(piece), length: c.length}
		if off, ok := sig[k]; ok && bytes.Equal(src[off:off+c.length], piece) {
			w.copy(int64(off), int64(c.length))
			continue
		}
		w.data(piece)
	}
	w.flush()
	return out.Bytes(), nil
}

func writeDeltaHeader(out *bytes.Buffer, srcHash hashing.Hash) {
	out.WriteString(deltaHeader)
	out.WriteByte(deltaVersion)
	out.WriteByte(byte(len(deltaAlgorithm)))
	out.WriteString(deltaAlgorithm)
	var n [4]byte
	binary.LittleEndian.PutUint32(n[:], hashing.Size)
	out.Write(n[:])
	out.Write(srcHash.Bytes())
	out.WriteString(deltaEndHeader)
}

// deltaWriter merges adjacent commands of the same kind.
type deltaWriter struct {
	out *bytes.Buffer

	copyOff, copyLen int64
	pending          []byte
}

func (w *deltaWriter) copy(off, n int64) {
	w.flushData()
	if w.copyLen > 0 && w.copyOff+w.copyLen == off {
		w.copyLen += n
		return
	}
	w.flushCopy()
	w.copyOff, w.copyLen = off, n
}

func (w *deltaWriter) data(b []byte) {
	w.flushCopy()
	w.pending = append(w.pending, b...)
}

func (w *deltaWriter) flushCopy() {
	if w.copyLen == 0 {
		return
	}
	var buf [17]byte
	buf[0] = cmdCopy
	binary.LittleEndian.PutUint64(buf[1:], uint64(w.copyOff)) //nolint:gosec // non-negative
	binary.LittleEndian.PutUint64(buf[9:], uint64(w.copyLen)) //nolint:gosec // non-negative
	w.out.Write(buf[:])
	w.copyLen = 0
}

func (w *deltaWriter) flushData() {
	if len(w.pending) == 0 {
		return
	}
	var buf [9]byte
	buf[0] = cmdData
	binary.LittleEndian.PutUint64(buf[1:], uint64(len(w.pending)))
	w.out.Write(buf[:])
	w.out.Write(w.pending)
	w.pending = w.pending[:0]
}

func (w *deltaWriter) flush() {
	w.flushCopy()
	w.flushData()
}

func applyDelta(old, patch []byte) ([]byte, error) {
	r := bytes.NewReader(patch)
	header := make([]byte, len(deltaHeader)+1)
	if _, err := io.ReadFull(r, header); err != nil || string(header[:len(deltaHeader)]) != deltaHeader {
		return nil, fmt.Errorf("%w: bad delta header", ErrCorruptPatch)
	}
	if header[len(deltaHeader)] != deltaVersion {
		return nil, fmt.Errorf("%w: delta version %d", ErrCorruptPatch, header[len(deltaHeader)])
	}
	algLen, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptPatch, err)
	}
	alg := make([]byte, algLen)
	if _, err := io.ReadFull(r, alg); err != nil || string(alg) != deltaAlgorithm {
		return nil, fmt.Errorf("%w: hash algorithm %q", ErrCorruptPatch, alg)
	}
	var hashLen uint32
	if err := binary.Read(r, binary.LittleEndian, &hashLen); err != nil || hashLen != hashing.Size {
		return nil, fmt.Errorf("%w: hash length %d", ErrCorruptPatch, hashLen)
	}
	var srcHash uint64
	if err := binary.Read(r, binary.LittleEndian, &srcHash); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptPatch, err)
	}
	end := make([]byte, len(deltaEndHeader))
	if _, err := io.ReadFull(r, end); err != nil || string(end) != deltaEndHeader {
		return nil, fmt.Errorf("%w: missing header terminator", ErrCorruptPatch)
	}
	if err := hashing.Verify(hashing.Hash(srcHash), hashing.Sum(old)); err != nil {
		return nil, fmt.Errorf("patch: delta source: %w", err)
	}

	var out bytes.Buffer
	for r.Len() > 0 {
		cmd, _ := r.ReadByte()
		switch cmd {
		case cmdCopy:
			var args [2]uint64
			if err := binary.Read(r, binary.LittleEndian, &args); err != nil {
				return nil, fmt.Errorf("%w: truncated copy", ErrCorruptPatch)
			}
			off, n := args[0], args[1]
			if off > uint64(len(old)) || n > uint64(len(old))-off {
				return nil, fmt.Errorf("%w: copy [%d,+%d) outside source of %d bytes", ErrCorruptPatch, off, n, len(old))
			}
			out.Write(old[off : off+n])
		case cmdData:
			var n uint64
			if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
				return nil, fmt.Errorf("%w: truncated data", ErrCorruptPatch)
			}
			if n > uint64(r.Len()) {
				return nil, fmt.Errorf("%w: data length %d exceeds patch", ErrCorruptPatch, n)
			}
			if _, err := io.CopyN(&out, r, int64(n)); err != nil { //nolint:gosec // bounded by patch length
				return nil, fmt.Errorf("%w: %v", ErrCorruptPatch, err)
			}
		default:
			return nil, fmt.Errorf("%w: command 0x%02x", ErrCorruptPatch, cmd)
		}
	}
	return out.Bytes(), nil
}
