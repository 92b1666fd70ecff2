package bsa

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"os"
	"path"
	"strings"
	"sync"
)

// BA2 general archive versions.
const (
	BA2Version1 uint32 = 1
	BA2Version7 uint32 = 7
	BA2Version8 uint32 = 8
)

const (
	ba2TypeGeneral     = "GNRL"
	ba2HeaderSize      = 24
	ba2RecordSize      = 36
	ba2DefaultFlags    = 0x00100100
	ba2RecordAlignment = 0xBAADF00D
)

type ba2Header struct {
	Magic           [4]byte
	Version         uint32
	Type            [4]byte
	FileCount       uint32
	NameTableOffset uint64
}

type ba2Record struct {
	NameHash     uint32
	Ext          [4]byte
	DirHash      uint32
	Flags        uint32
	Offset       uint64
	PackedSize   uint32
	UnpackedSize uint32
	Align        uint32
}

// DefaultBA2State returns the state of a Fallout 4 general archive.
func DefaultBA2State() ArchiveState {
	return ArchiveState{Format: FormatBA2, Version: BA2Version1, Type: ba2TypeGeneral}
}

type ba2Reader struct {
	f     *os.File
	state ArchiveState
	files []File
}

func (r *ba2Reader) State() ArchiveState { return r.state }
func (r *ba2Reader) Files() []File       { return r.files }
func (r *ba2Reader) Close() error        { return r.f.Close() }

func openBA2(f *os.File, fileSize int64) (*ba2Reader, error) {
	var h ba2Header
	if err := readStruct(f, 0, &h); err != nil {
		return nil, err
	}
	switch h.Version {
	case BA2Version1, BA2Version7, BA2Version8:
	default:
		return nil, fmt.Errorf("%w: ba2 version %d", ErrUnsupportedVersion, h.Version)
	}
	if typ := string(h.Type[:]); typ != ba2TypeGeneral {
		return nil, fmt.Errorf("%w: ba2 type %q", ErrUnsupportedVersion, typ)
	}
	if ba2HeaderSize+int64(h.FileCount)*ba2RecordSize > fileSize || h.NameTableOffset > uint64(fileSize) {
		return nil, fmt.Errorf("%w: ba2 tables exceed file size", ErrCorrupt)
	}

	r := &ba2Reader{
		f:     f,
		state: ArchiveState{Format: FormatBA2, Version: h.Version, Type: ba2TypeGeneral},
		files: make([]File, h.FileCount),
	}

	namePos := int64(h.NameTableOffset) //nolint:gosec // checked above
	for i := range int(h.FileCount) {
		var rec ba2Record
		if err := readStruct(f, ba2HeaderSize+int64(i)*ba2RecordSize, &rec); err != nil {
			return nil, err
		}
		lb, err := readBytes(f, namePos, 2)
		if err != nil {
			return nil, err
		}
		n := int(le.Uint16(lb))
		name, err := readBytes(f, namePos+2, n)
		if err != nil {
			return nil, err
		}
		namePos += 2 + int64(n)

		stored := int64(rec.PackedSize)
		if stored == 0 {
			stored = int64(rec.UnpackedSize)
		}
		if int64(rec.Offset)+stored > fileSize { //nolint:gosec // bounded by file size
			return nil, fmt.Errorf("%w: ba2 entry %d past end of file", ErrCorrupt, i)
		}
		r.files[i] = &ba2File{
			ra:    f,
			path:  logicalPath(string(name)),
			index: i,
			rec:   rec,
		}
	}
	return r, nil
}

type ba2File struct {
	ra    io.ReaderAt
	path  string
	index int
	rec   ba2Record
}

func (f *ba2File) Path() string     { return f.path }
func (f *ba2File) Size() int64      { return int64(f.rec.UnpackedSize) }
func (f *ba2File) Compressed() bool { return f.rec.PackedSize != 0 }

func (f *ba2File) State() FileState {
	return FileState{
		Path:       f.path,
		Index:      f.index,
		Compressed: f.Compressed(),
		Flags:      f.rec.Flags,
		Align:      f.rec.Align,
	}
}

func (f *ba2File) CopyDataTo(w io.Writer) error {
	off := int64(f.rec.Offset) //nolint:gosec // checked at open
	if f.Compressed() {
		section := io.NewSectionReader(f.ra, off, int64(f.rec.PackedSize))
		return decompress(codecZlib, section, w, f.Size())
	}
	_, err := io.Copy(w, io.NewSectionReader(f.ra, off, f.Size()))
	return err
}

type ba2Entry struct {
	state    FileState
	name     string
	rec      ba2Record
	data     []byte
	unpacked int
}

type ba2Builder struct {
	state ArchiveState

	mu      sync.Mutex
	entries []*ba2Entry
	seen    map[string]struct{}
}

func (b *ba2Builder) AddFile(state FileState, r io.Reader) error {
	data, err := bufferEntry(r)
	if err != nil {
		return err
	}
	if int64(len(data)) > math.MaxUint32 {
		return fmt.Errorf("bsa: %s: entry too large", state.Path)
	}
	name := archivePath(state.Path)
	if len(name) > math.MaxUint16 {
		return fmt.Errorf("%w: %s", ErrNameTooLong, state.Path)
	}
	dir, base := splitPath(state.Path)
	ext := path.Ext(base)

	e := &ba2Entry{state: state, name: name, data: data, unpacked: len(data)}
	e.rec.NameHash = BA2Hash(strings.TrimSuffix(base, ext))
	e.rec.DirHash = BA2Hash(dir)
	copy(e.rec.Ext[:], strings.ToLower(strings.TrimPrefix(ext, ".")))
	e.rec.Flags = state.Flags
	if e.rec.Flags == 0 {
		e.rec.Flags = ba2DefaultFlags
	}
	e.rec.Align = state.Align
	if e.rec.Align == 0 {
		e.rec.Align = ba2RecordAlignment
	}
	if state.Compressed {
		packed, err := compress(codecZlib, data)
		if err != nil {
			return fmt.Errorf("bsa: compress %s: %w", state.Path, err)
		}
		e.data = packed
	}

	key := strings.ToLower(name)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.seen == nil {
		b.seen = make(map[string]struct{})
	}
	if _, ok := b.seen[key]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicatePath, state.Path)
	}
	b.seen[key] = struct{}{}
	b.entries = append(b.entries, e)
	return nil
}

// Build writes the header, records, data and name table, with entries in
// their original index order.
func (b *ba2Builder) Build(p string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	entries := sortedByIndex(b.entries, func(e *ba2Entry) int { return e.state.Index })
	pos := int64(ba2HeaderSize) + int64(len(entries))*ba2RecordSize
	for _, e := range entries {
		e.rec.Offset = uint64(pos)              //nolint:gosec // non-negative
		e.rec.UnpackedSize = uint32(e.unpacked) //nolint:gosec // checked in AddFile
		if e.state.Compressed {
			e.rec.PackedSize = uint32(len(e.data)) //nolint:gosec // bounded by unpacked size
		} else {
			e.rec.PackedSize = 0
		}
		pos += int64(len(e.data))
	}

	version := b.state.Version
	if version == 0 {
		version = BA2Version1
	}
	h := ba2Header{
		Magic:           magicBA2,
		Version:         version,
		FileCount:       uint32(len(entries)), //nolint:gosec // bounded by archive size
		NameTableOffset: uint64(pos),          //nolint:gosec // non-negative
	}
	copy(h.Type[:], ba2TypeGeneral)

	out, err := os.Create(p) //nolint:gosec // caller-supplied path
	if err != nil {
		return err
	}
	w := bufio.NewWriterSize(out, 1<<20)
	if err := writeLE(w, &h); err != nil {
		return closeWith(out, err)
	}
	for _, e := range entries {
		if err := writeLE(w, &e.rec); err != nil {
			return closeWith(out, err)
		}
	}
	for _, e := range entries {
		if _, err := w.Write(e.data); err != nil {
			return closeWith(out, err)
		}
	}
	var buf []byte
	for _, e := range entries {
		buf = le.AppendUint16(buf[:0], uint16(len(e.name))) //nolint:gosec // checked in AddFile
		buf = append(buf, e.name...)
		if _, err := w.Write(buf); err != nil {
			return closeWith(out, err)
		}
	}
	if err := w.Flush(); err != nil {
		return closeWith(out, err)
	}
	return out.Close()
}
