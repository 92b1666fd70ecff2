// Package bsa reads and writes Bethesda game archive containers.
//
// Three sibling formats are supported, distinguished by the signature at the
// start of the file:
//   - TES3 (Morrowind), signature 0x00000100
//   - TES4 family "BSA\0": version 103 (Oblivion), 104 (Fallout 3, Skyrim LE)
//     and 105 (Skyrim SE)
//   - BA2 "BTDX" general archives (Fallout 4)
//
// [OpenRead] sniffs the signature and returns the matching [Reader]. Builders
// returned by [NewBuilder] lay out headers, records, name tables and data in
// the order and with the name hashes the game engine expects.
//
// Logical paths use forward slashes. Archives store backslashes; conversion
// happens at the boundary.
package bsa

import (
	"bytes"
	"cmp"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
)

var (
	// ErrUnknownFormat is returned when a file signature is not a supported archive.
	ErrUnknownFormat = errors.New("bsa: unknown archive format")

	// ErrUnsupportedVersion is returned for recognized containers with an unsupported version or type.
	ErrUnsupportedVersion = errors.New("bsa: unsupported archive version")

	// ErrCorrupt is returned when archive structures are inconsistent.
	ErrCorrupt = errors.New("bsa: corrupt archive")

	// ErrNameTooLong is returned when a name does not fit its length prefix.
	ErrNameTooLong = errors.New("bsa: name too long")

	// ErrDuplicatePath is returned when a builder receives the same path twice.
	ErrDuplicatePath = errors.New("bsa: duplicate path")
)

// Format identifies an archive container family.
type Format uint8

// Supported formats.
const (
	FormatUnknown Format = iota
	FormatTES3
	FormatTES4
	FormatBA2
)

// String returns the format name.
func (f Format) String() string {
	switch f {
	case FormatTES3:
		return "tes3"
	case FormatTES4:
		return "tes4"
	case FormatBA2:
		return "ba2"
	default:
		return "unknown"
	}
}

var le = binary.LittleEndian

var (
	magicTES4 = [4]byte{'B', 'S', 'A', 0}
	magicBA2  = [4]byte{'B', 'T', 'D', 'X'}
	magicTES3 = [4]byte{0x00, 0x01, 0x00, 0x00}
)

// ArchiveState holds the container-level settings needed to rebuild an
// archive.
type ArchiveState struct {
	Format       Format `cbor:"1,keyasint"`
	Version      uint32 `cbor:"2,keyasint"`
	ArchiveFlags uint32 `cbor:"3,keyasint,omitempty"`
	FileFlags    uint32 `cbor:"4,keyasint,omitempty"`
	Type         string `cbor:"5,keyasint,omitempty"`
}

// HasFolderNames reports whether real folder names are stored. When false,
// entry paths are synthetic "<folder hash>/<file name>" paths.
func (s ArchiveState) HasFolderNames() bool {
	if s.Format == FormatTES4 {
		return s.ArchiveFlags&FlagIncludeDirectoryNames != 0
	}
	return true
}

// Compressed reports whether entries are compressed by default.
func (s ArchiveState) Compressed() bool {
	return s.Format == FormatTES4 && s.ArchiveFlags&FlagCompressed != 0
}

// FileState holds the per-entry settings needed to place an entry in a
// rebuilt archive.
type FileState struct {
	// Path is the logical, slash-separated path.
	Path string `cbor:"1,keyasint"`

	// Index is the entry's position in the source archive.
	Index int `cbor:"2,keyasint"`

	// FlipCompression inverts the archive default for this TES4 entry.
	FlipCompression bool `cbor:"3,keyasint,omitempty"`

	// Compressed marks a BA2 entry as packed.
	Compressed bool `cbor:"4,keyasint,omitempty"`

	// FolderHash and FileHash override the computed TES4 name hashes.
	// They are required when folder names are not stored.
	FolderHash uint64 `cbor:"5,keyasint,omitempty"`
	FileHash   uint64 `cbor:"6,keyasint,omitempty"`

	// BA2 record fields.
	Flags uint32 `cbor:"7,keyasint,omitempty"`
	Align uint32 `cbor:"8,keyasint,omitempty"`
}

// NewFileState returns the state for a fresh entry at path with the given
// compression decision under archive.
func NewFileState(archive ArchiveState, index int, path string, compressed bool) FileState {
	fs := FileState{Path: path, Index: index}
	switch archive.Format {
	case FormatTES4:
		fs.FlipCompression = compressed != archive.Compressed()
	case FormatBA2:
		fs.Compressed = compressed
	}
	return fs
}

// Reader is an open archive.
type Reader interface {
	// State returns the container-level settings.
	State() ArchiveState

	// Files returns the entries in record order.
	Files() []File

	// Close releases the underlying file.
	Close() error
}

// File is one archive entry.
type File interface {
	// Path returns the logical path, or the synthetic folder-hash path when
	// folder names are absent.
	Path() string

	// Size returns the uncompressed size.
	Size() int64

	// Compressed reports whether the stored bytes are compressed.
	Compressed() bool

	// State returns the settings needed to rebuild this entry.
	State() FileState

	// CopyDataTo writes the decompressed bytes to w. Safe for concurrent use.
	CopyDataTo(w io.Writer) error
}

// Builder accumulates entries and writes one archive.
type Builder interface {
	// AddFile adds an entry read from r.
	AddFile(state FileState, r io.Reader) error

	// Build writes the archive to path.
	Build(path string) error
}

// Sniff returns the format of the archive signature in magic.
func Sniff(magic []byte) Format {
	if len(magic) < 4 {
		return FormatUnknown
	}
	var m [4]byte
	copy(m[:], magic)
	switch m {
	case magicTES4:
		return FormatTES4
	case magicBA2:
		return FormatBA2
	case magicTES3:
		return FormatTES3
	default:
		return FormatUnknown
	}
}

// MightBeArchive reports whether the file at path has a supported signature.
func MightBeArchive(path string) bool {
	f, err := os.Open(path) //nolint:gosec // caller-supplied path
	if err != nil {
		return false
	}
	defer f.Close()
	var m [4]byte
	if _, err := io.ReadFull(f, m[:]); err != nil {
		return false
	}
	return Sniff(m[:]) != FormatUnknown
}

// OpenRead opens the archive at path, choosing the reader by signature.
func OpenRead(path string) (Reader, error) {
	f, err := os.Open(path) //nolint:gosec // caller-supplied path
	if err != nil {
		return nil, err
	}
	var m [4]byte
	if _, err := io.ReadFull(f, m[:]); err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: %s: short header", ErrUnknownFormat, path)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}

	var r Reader
	switch Sniff(m[:]) {
	case FormatTES4:
		r, err = openTES4(f, info.Size())
	case FormatBA2:
		r, err = openBA2(f, info.Size())
	case FormatTES3:
		r, err = openTES3(f, info.Size())
	default:
		err = fmt.Errorf("%w: %s: magic %x", ErrUnknownFormat, path, m)
	}
	if err != nil {
		f.Close()
		return nil, err
	}
	return r, nil
}

// NewBuilder returns a builder for archives with the given state.
func NewBuilder(state ArchiveState) (Builder, error) {
	switch state.Format {
	case FormatTES4:
		switch state.Version {
		case VersionOblivion, VersionSkyrim, VersionSSE:
		default:
			return nil, fmt.Errorf("%w: tes4 version %d", ErrUnsupportedVersion, state.Version)
		}
		return &tes4Builder{state: state}, nil
	case FormatBA2:
		if state.Type != "" && state.Type != ba2TypeGeneral {
			return nil, fmt.Errorf("%w: ba2 type %q", ErrUnsupportedVersion, state.Type)
		}
		return &ba2Builder{state: state}, nil
	case FormatTES3:
		return &tes3Builder{state: state}, nil
	default:
		return nil, fmt.Errorf("%w: %v", ErrUnknownFormat, state.Format)
	}
}

// archivePath converts a logical path to the stored backslash form.
func archivePath(p string) string {
	return strings.ReplaceAll(p, "/", `\`)
}

// logicalPath converts a stored path to the logical slash form.
func logicalPath(p string) string {
	return strings.ReplaceAll(p, `\`, "/")
}

// splitPath splits a logical path into its folder and file name.
func splitPath(p string) (dir, name string) {
	p = logicalPath(p)
	if i := strings.LastIndexByte(p, '/'); i >= 0 {
		return p[:i], p[i+1:]
	}
	return "", p
}

// readBytes reads exactly n bytes at off.
func readBytes(r io.ReaderAt, off int64, n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := r.ReadAt(buf, off); err != nil {
		return nil, fmt.Errorf("%w: read %d bytes at %d: %v", ErrCorrupt, n, off, err)
	}
	return buf, nil
}

// readStruct decodes a little-endian structure at off.
func readStruct(r io.ReaderAt, off int64, v any) error {
	size := binary.Size(v)
	buf, err := readBytes(r, off, size)
	if err != nil {
		return err
	}
	return binary.Read(bytes.NewReader(buf), binary.LittleEndian, v)
}

// writeLE encodes a little-endian structure to w.
func writeLE(w io.Writer, v any) error {
	return binary.Write(w, le, v)
}

// sortedByIndex returns a copy of entries stably ordered by their source index.
func sortedByIndex[E any](entries []E, index func(E) int) []E {
	out := slices.Clone(entries)
	slices.SortStableFunc(out, func(a, b E) int { return cmp.Compare(index(a), index(b)) })
	return out
}

// bufferEntry reads r fully.
func bufferEntry(r io.Reader) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(r); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
