package bsa

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// TES4 family versions.
const (
	VersionOblivion uint32 = 103
	VersionSkyrim   uint32 = 104
	VersionSSE      uint32 = 105
)

// TES4 archive flags.
const (
	FlagIncludeDirectoryNames      uint32 = 0x1
	FlagIncludeFileNames           uint32 = 0x2
	FlagCompressed                 uint32 = 0x4
	FlagRetainDirectoryNames       uint32 = 0x8
	FlagRetainFileNames            uint32 = 0x10
	FlagRetainFileNameOffsets      uint32 = 0x20
	FlagXbox360                    uint32 = 0x40
	FlagRetainStringsDuringStartup uint32 = 0x80
	FlagEmbedFileNames             uint32 = 0x100
	FlagXMemCodec                  uint32 = 0x200
)

// TES4 file flags describe the content types present in the archive.
const (
	FileFlagMeshes   uint32 = 0x1
	FileFlagTextures uint32 = 0x2
	FileFlagMenus    uint32 = 0x4
	FileFlagSounds   uint32 = 0x8
	FileFlagVoices   uint32 = 0x10
	FileFlagShaders  uint32 = 0x20
	FileFlagTrees    uint32 = 0x40
	FileFlagFonts    uint32 = 0x80
	FileFlagMisc     uint32 = 0x100
)

const (
	tes4HeaderSize      = 36
	tes4FileRecordSize  = 16
	sizeFlipCompression = 0x40000000
	sizeMask            = 0x3fffffff
)

type tes4Header struct {
	Magic             [4]byte
	Version           uint32
	Offset            uint32
	ArchiveFlags      uint32
	FolderCount       uint32
	FileCount         uint32
	FolderNamesLength uint32
	FileNamesLength   uint32
	FileFlags         uint32
}

type tes4FolderRecord struct {
	hash   uint64
	count  uint32
	offset uint64
}

type tes4FileRecord struct {
	Hash   uint64
	Size   uint32
	Offset uint32
}

// DefaultTES4State returns the settings Skyrim SE archives are usually built with.
func DefaultTES4State(version uint32) ArchiveState {
	return ArchiveState{
		Format:       FormatTES4,
		Version:      version,
		ArchiveFlags: FlagIncludeDirectoryNames | FlagIncludeFileNames | FlagCompressed | FlagRetainDirectoryNames | FlagRetainFileNames,
	}
}

func tes4Codec(version uint32) codec {
	if version == VersionSSE {
		return codecLZ4
	}
	return codecZlib
}

func tes4Embeds(state ArchiveState) bool {
	return state.Version != VersionOblivion && state.ArchiveFlags&FlagEmbedFileNames != 0
}

func tes4FolderRecordSize(version uint32) int64 {
	if version == VersionSSE {
		return 24
	}
	return 16
}

type tes4Reader struct {
	f     *os.File
	state ArchiveState
	files []File
}

func (r *tes4Reader) State() ArchiveState { return r.state }
func (r *tes4Reader) Files() []File       { return r.files }
func (r *tes4Reader) Close() error        { return r.f.Close() }

func openTES4(f *os.File, fileSize int64) (*tes4Reader, error) {
	var h tes4Header
	if err := readStruct(f, 0, &h); err != nil {
		return nil, err
	}
	switch h.Version {
	case VersionOblivion, VersionSkyrim, VersionSSE:
	default:
		return nil, fmt.Errorf("%w: tes4 version %d", ErrUnsupportedVersion, h.Version)
	}
	if h.Offset != tes4HeaderSize {
		return nil, fmt.Errorf("%w: header offset %d", ErrCorrupt, h.Offset)
	}
	recSize := tes4FolderRecordSize(h.Version)
	if int64(h.FolderCount)*recSize > fileSize || int64(h.FileCount)*tes4FileRecordSize > fileSize {
		return nil, fmt.Errorf("%w: record counts exceed file size", ErrCorrupt)
	}

	state := ArchiveState{
		Format:       FormatTES4,
		Version:      h.Version,
		ArchiveFlags: h.ArchiveFlags,
		FileFlags:    h.FileFlags,
	}
	r := &tes4Reader{f: f, state: state}

	folders := make([]tes4FolderRecord, h.FolderCount)
	raw, err := readBytes(f, tes4HeaderSize, int(int64(h.FolderCount)*recSize))
	if err != nil {
		return nil, err
	}
	for i := range folders {
		b := raw[int64(i)*recSize:]
		folders[i].hash = le.Uint64(b)
		folders[i].count = le.Uint32(b[8:])
		if h.Version == VersionSSE {
			folders[i].offset = le.Uint64(b[16:])
		} else {
			folders[i].offset = uint64(le.Uint32(b[12:]))
		}
	}

	type pending struct {
		folder     string
		folderHash uint64
		rec        tes4FileRecord
	}
	var records []pending
	pos := tes4HeaderSize + int64(h.FolderCount)*recSize
	hasNames := h.ArchiveFlags&FlagIncludeDirectoryNames != 0
	for _, folder := range folders {
		name := ""
		if hasNames {
			lb, err := readBytes(f, pos, 1)
			if err != nil {
				return nil, err
			}
			n := int(lb[0])
			nb, err := readBytes(f, pos+1, n)
			if err != nil {
				return nil, err
			}
			name = logicalPath(strings.TrimRight(string(nb), "\x00"))
			pos += 1 + int64(n)
		} else {
			name = strconv.FormatUint(folder.hash, 10)
		}
		if uint64(len(records))+uint64(folder.count) > uint64(h.FileCount) {
			return nil, fmt.Errorf("%w: folder file counts exceed header", ErrCorrupt)
		}
		for range folder.count {
			var rec tes4FileRecord
			if err := readStruct(f, pos, &rec); err != nil {
				return nil, err
			}
			records = append(records, pending{folder: name, folderHash: folder.hash, rec: rec})
			pos += tes4FileRecordSize
		}
	}
	if len(records) != int(h.FileCount) {
		return nil, fmt.Errorf("%w: %d file records, header says %d", ErrCorrupt, len(records), h.FileCount)
	}

	var names []string
	if h.ArchiveFlags&FlagIncludeFileNames != 0 {
		blob, err := readBytes(f, pos, int(h.FileNamesLength))
		if err != nil {
			return nil, err
		}
		names = strings.Split(strings.TrimSuffix(string(blob), "\x00"), "\x00")
		if len(names) != len(records) {
			return nil, fmt.Errorf("%w: %d file names for %d records", ErrCorrupt, len(names), len(records))
		}
	}

	embeds := tes4Embeds(state)
	c := tes4Codec(h.Version)
	r.files = make([]File, len(records))
	for i, p := range records {
		name := strconv.FormatUint(p.rec.Hash, 10)
		if names != nil {
			name = names[i]
		}
		tf := &tes4File{
			ra:         f,
			index:      i,
			folderHash: p.folderHash,
			hash:       p.rec.Hash,
			flip:       p.rec.Size&sizeFlipCompression != 0,
			codec:      c,
		}
		tf.compressed = state.Compressed() != tf.flip
		if p.folder == "" {
			tf.path = name
		} else {
			tf.path = p.folder + "/" + name
		}
		if err := tf.locate(int64(p.rec.Offset), int64(p.rec.Size&sizeMask), embeds, fileSize); err != nil {
			return nil, fmt.Errorf("%s: %w", tf.path, err)
		}
		r.files[i] = tf
	}
	return r, nil
}

type tes4File struct {
	ra         io.ReaderAt
	path       string
	index      int
	folderHash uint64
	hash       uint64
	flip       bool
	compressed bool
	codec      codec
	dataOffset int64
	dataLen    int64
	size       int64
}

// locate resolves where the payload starts and how large it is once
// decompressed.
func (f *tes4File) locate(offset, stored int64, embeds bool, fileSize int64) error {
	if offset+stored > fileSize {
		return fmt.Errorf("%w: data past end of file", ErrCorrupt)
	}
	start := offset
	if embeds {
		lb, err := readBytes(f.ra, start, 1)
		if err != nil {
			return err
		}
		start += 1 + int64(lb[0])
	}
	if f.compressed {
		sb, err := readBytes(f.ra, start, 4)
		if err != nil {
			return err
		}
		f.size = int64(le.Uint32(sb))
		start += 4
	}
	f.dataOffset = start
	f.dataLen = offset + stored - start
	if f.dataLen < 0 {
		return fmt.Errorf("%w: negative payload length", ErrCorrupt)
	}
	if !f.compressed {
		f.size = f.dataLen
	}
	return nil
}

func (f *tes4File) Path() string     { return f.path }
func (f *tes4File) Size() int64      { return f.size }
func (f *tes4File) Compressed() bool { return f.compressed }

func (f *tes4File) State() FileState {
	return FileState{
		Path:            f.path,
		Index:           f.index,
		FlipCompression: f.flip,
		FolderHash:      f.folderHash,
		FileHash:        f.hash,
	}
}

func (f *tes4File) CopyDataTo(w io.Writer) error {
	section := io.NewSectionReader(f.ra, f.dataOffset, f.dataLen)
	if f.compressed {
		return decompress(f.codec, section, w, f.size)
	}
	_, err := io.Copy(w, section)
	return err
}
