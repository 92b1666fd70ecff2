package bsa

import (
	"bufio"
	"cmp"
	"fmt"
	"io"
	"math"
	"os"
	"slices"
	"strings"
	"sync"
)

const (
	tes3Version    uint32 = 0x100
	tes3HeaderSize        = 12
)

type tes3Reader struct {
	f     *os.File
	state ArchiveState
	files []File
}

func (r *tes3Reader) State() ArchiveState { return r.state }
func (r *tes3Reader) Files() []File       { return r.files }
func (r *tes3Reader) Close() error        { return r.f.Close() }

func openTES3(f *os.File, fileSize int64) (*tes3Reader, error) {
	hdr, err := readBytes(f, 0, tes3HeaderSize)
	if err != nil {
		return nil, err
	}
	hashOffset := int64(le.Uint32(hdr[4:]))
	count := int64(le.Uint32(hdr[8:]))
	if count*12 > hashOffset || tes3HeaderSize+hashOffset+count*8 > fileSize {
		return nil, fmt.Errorf("%w: tes3 tables exceed file size", ErrCorrupt)
	}

	records, err := readBytes(f, tes3HeaderSize, int(count*8))
	if err != nil {
		return nil, err
	}
	nameOffsets, err := readBytes(f, tes3HeaderSize+count*8, int(count*4))
	if err != nil {
		return nil, err
	}
	namesStart := tes3HeaderSize + count*12
	names, err := readBytes(f, namesStart, int(hashOffset-count*12))
	if err != nil {
		return nil, err
	}
	dataStart := tes3HeaderSize + hashOffset + count*8

	r := &tes3Reader{
		f:     f,
		state: ArchiveState{Format: FormatTES3, Version: tes3Version},
		files: make([]File, count),
	}
	for i := range int(count) {
		size := int64(le.Uint32(records[i*8:]))
		offset := int64(le.Uint32(records[i*8+4:]))
		nameOff := int(le.Uint32(nameOffsets[i*4:]))
		if nameOff >= len(names) {
			return nil, fmt.Errorf("%w: tes3 name offset %d", ErrCorrupt, nameOff)
		}
		name := names[nameOff:]
		if end := strings.IndexByte(string(name), 0); end >= 0 {
			name = name[:end]
		}
		if dataStart+offset+size > fileSize {
			return nil, fmt.Errorf("%w: tes3 entry %d past end of file", ErrCorrupt, i)
		}
		r.files[i] = &tes3File{
			ra:     f,
			path:   logicalPath(string(name)),
			offset: dataStart + offset,
			size:   size,
		}
	}

	// Records are in hash order; Index follows the data layout so a rebuild
	// writes the data blocks back in the same order.
	byOffset := make([]*tes3File, len(r.files))
	for i, file := range r.files {
		byOffset[i] = file.(*tes3File)
	}
	slices.SortStableFunc(byOffset, func(a, b *tes3File) int { return cmp.Compare(a.offset, b.offset) })
	for i, file := range byOffset {
		file.index = i
	}
	return r, nil
}

type tes3File struct {
	ra     io.ReaderAt
	path   string
	index  int
	offset int64
	size   int64
}

func (f *tes3File) Path() string     { return f.path }
func (f *tes3File) Size() int64      { return f.size }
func (f *tes3File) Compressed() bool { return false }

func (f *tes3File) State() FileState {
	return FileState{Path: f.path, Index: f.index}
}

func (f *tes3File) CopyDataTo(w io.Writer) error {
	_, err := io.Copy(w, io.NewSectionReader(f.ra, f.offset, f.size))
	return err
}

type tes3Entry struct {
	state     FileState
	name      string
	low, high uint32
	data      []byte
}

type tes3Builder struct {
	state ArchiveState

	mu      sync.Mutex
	entries []*tes3Entry
	seen    map[string]struct{}
}

func (b *tes3Builder) AddFile(state FileState, r io.Reader) error {
	data, err := bufferEntry(r)
	if err != nil {
		return err
	}
	if int64(len(data)) > math.MaxUint32 {
		return fmt.Errorf("bsa: %s: entry too large", state.Path)
	}
	name := strings.ToLower(archivePath(state.Path))
	low, high := TES3Hash(state.Path)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.seen == nil {
		b.seen = make(map[string]struct{})
	}
	if _, ok := b.seen[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicatePath, state.Path)
	}
	b.seen[name] = struct{}{}
	b.entries = append(b.entries, &tes3Entry{state: state, name: name, low: low, high: high, data: data})
	return nil
}

// Build writes every table in hash order while data is laid out in the
// entries' original index order.
func (b *tes3Builder) Build(path string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	sorted := slices.Clone(b.entries)
	slices.SortFunc(sorted, func(a, c *tes3Entry) int {
		if r := cmp.Compare(a.low, c.low); r != 0 {
			return r
		}
		return cmp.Compare(a.high, c.high)
	})
	byIndex := sortedByIndex(b.entries, func(e *tes3Entry) int { return e.state.Index })

	offsets := make(map[*tes3Entry]uint32, len(byIndex))
	var dataPos int64
	for _, e := range byIndex {
		offsets[e] = uint32(dataPos) //nolint:gosec // checked below
		dataPos += int64(len(e.data))
	}
	if dataPos > math.MaxUint32 {
		return fmt.Errorf("bsa: archive exceeds 4 GiB")
	}

	n := int64(len(sorted))
	var namesLen int64
	for _, e := range sorted {
		namesLen += int64(len(e.name)) + 1
	}
	hashOffset := 12*n + namesLen

	out, err := os.Create(path) //nolint:gosec // caller-supplied path
	if err != nil {
		return err
	}
	w := bufio.NewWriterSize(out, 1<<20)

	buf := make([]byte, 0, tes3HeaderSize+n*12+namesLen+n*8)
	buf = le.AppendUint32(buf, tes3Version)
	buf = le.AppendUint32(buf, uint32(hashOffset)) //nolint:gosec // bounded by archive size
	buf = le.AppendUint32(buf, uint32(n))          //nolint:gosec // bounded by archive size
	for _, e := range sorted {
		buf = le.AppendUint32(buf, uint32(len(e.data))) //nolint:gosec // checked in AddFile
		buf = le.AppendUint32(buf, offsets[e])
	}
	var nameOff uint32
	for _, e := range sorted {
		buf = le.AppendUint32(buf, nameOff)
		nameOff += uint32(len(e.name)) + 1 //nolint:gosec // bounded by archive size
	}
	for _, e := range sorted {
		buf = append(buf, e.name...)
		buf = append(buf, 0)
	}
	for _, e := range sorted {
		buf = le.AppendUint32(buf, e.low)
		buf = le.AppendUint32(buf, e.high)
	}
	if _, err := w.Write(buf); err != nil {
		return closeWith(out, err)
	}
	for _, e := range byIndex {
		if _, err := w.Write(e.data); err != nil {
			return closeWith(out, err)
		}
	}
	if err := w.Flush(); err != nil {
		return closeWith(out, err)
	}
	return out.Close()
}
