package bsa

import (
	"bufio"
	"cmp"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"slices"
	"strconv"
	"strings"
	"sync"
)

type tes4Entry struct {
	path       string
	folder     string
	name       string
	folderHash uint64
	fileHash   uint64
	flip       bool
	compressed bool
	origSize   int
	data       []byte
}

type tes4Folder struct {
	name    string
	hash    uint64
	entries []*tes4Entry
}

type tes4Builder struct {
	state ArchiveState

	mu      sync.Mutex
	entries []*tes4Entry
	seen    map[string]struct{}
}

func (b *tes4Builder) AddFile(state FileState, r io.Reader) error {
	data, err := bufferEntry(r)
	if err != nil {
		return err
	}
	folder, name := splitPath(state.Path)
	e := &tes4Entry{
		path:       logicalPath(state.Path),
		folder:     folder,
		name:       name,
		folderHash: state.FolderHash,
		fileHash:   state.FileHash,
		flip:       state.FlipCompression,
		compressed: b.state.Compressed() != state.FlipCompression,
		origSize:   len(data),
		data:       data,
	}
	if e.folderHash == 0 {
		e.folderHash = FolderHash(folder)
		// Synthetic paths carry the folder hash as their only folder segment.
		if !b.state.HasFolderNames() {
			if h, err := strconv.ParseUint(folder, 10, 64); err == nil {
				e.folderHash = h
			}
		}
	}
	if e.fileHash == 0 {
		e.fileHash = FileNameHash(name)
	}
	if e.compressed {
		packed, err := compress(tes4Codec(b.state.Version), data)
		if err != nil {
			return fmt.Errorf("bsa: compress %s: %w", state.Path, err)
		}
		e.data = packed
	}

	key := strings.ToLower(e.path)
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

// layout groups entries into folders ordered by hash, with each folder's
// files ordered by hash. Data is written in the same order.
func (b *tes4Builder) layout() []*tes4Folder {
	byHash := make(map[uint64]*tes4Folder)
	var folders []*tes4Folder
	for _, e := range b.entries {
		f, ok := byHash[e.folderHash]
		if !ok {
			f = &tes4Folder{name: e.folder, hash: e.folderHash}
			byHash[e.folderHash] = f
			folders = append(folders, f)
		}
		f.entries = append(f.entries, e)
	}
	slices.SortFunc(folders, func(a, c *tes4Folder) int { return cmp.Compare(a.hash, c.hash) })
	for _, f := range folders {
		slices.SortFunc(f.entries, func(a, c *tes4Entry) int {
			if r := cmp.Compare(a.fileHash, c.fileHash); r != 0 {
				return r
			}
			return strings.Compare(a.name, c.name)
		})
	}
	return folders
}

func (b *tes4Builder) Build(path string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	folders := b.layout()
	dirNames := b.state.ArchiveFlags&FlagIncludeDirectoryNames != 0
	fileNames := b.state.ArchiveFlags&FlagIncludeFileNames != 0
	embeds := tes4Embeds(b.state)

	var folderNamesLen, fileNamesLen int64
	for _, f := range folders {
		if dirNames {
			if len(archivePath(f.name))+1 > math.MaxUint8 {
				return fmt.Errorf("%w: folder %q", ErrNameTooLong, f.name)
			}
			folderNamesLen += int64(len(f.name)) + 1
		}
		if fileNames {
			for _, e := range f.entries {
				fileNamesLen += int64(len(e.name)) + 1
			}
		}
	}

	recSize := tes4FolderRecordSize(b.state.Version)
	pos := tes4HeaderSize + int64(len(folders))*recSize
	folderOffsets := make([]int64, len(folders))
	for i, f := range folders {
		folderOffsets[i] = pos + fileNamesLen
		if dirNames {
			pos += int64(len(f.name)) + 2
		}
		pos += int64(len(f.entries)) * tes4FileRecordSize
	}
	if fileNames {
		pos += fileNamesLen
	}

	// Assign data offsets.
	type placed struct {
		offset int64
		size   int64
		prefix []byte
	}
	places := make(map[*tes4Entry]placed, len(b.entries))
	for _, f := range folders {
		for _, e := range f.entries {
			var prefix []byte
			if embeds {
				full := archivePath(e.path)
				if len(full) > math.MaxUint8 {
					return fmt.Errorf("%w: embedded name %q", ErrNameTooLong, e.path)
				}
				prefix = append(prefix, byte(len(full)))
				prefix = append(prefix, full...)
			}
			if e.compressed {
				prefix = le.AppendUint32(prefix, uint32(e.origSize)) //nolint:gosec // bounded by sizeMask below
			}
			size := int64(len(prefix) + len(e.data))
			if size > sizeMask || int64(e.origSize) > math.MaxUint32 {
				return fmt.Errorf("bsa: %s: entry too large", e.path)
			}
			places[e] = placed{offset: pos, size: size, prefix: prefix}
			pos += size
		}
	}
	if pos > math.MaxUint32 {
		return fmt.Errorf("bsa: archive exceeds 4 GiB")
	}

	out, err := os.Create(path) //nolint:gosec // caller-supplied path
	if err != nil {
		return err
	}
	w := bufio.NewWriterSize(out, 1<<20)

	h := tes4Header{
		Magic:             magicTES4,
		Version:           b.state.Version,
		Offset:            tes4HeaderSize,
		ArchiveFlags:      b.state.ArchiveFlags,
		FolderCount:       uint32(len(folders)), //nolint:gosec // bounded by archive size
		FileCount:         uint32(len(b.entries)),
		FolderNamesLength: uint32(folderNamesLen),
		FileNamesLength:   uint32(fileNamesLen),
		FileFlags:         b.state.FileFlags,
	}
	if h.FileFlags == 0 {
		h.FileFlags = inferFileFlags(b.entries)
	}
	if err := binary.Write(w, le, &h); err != nil {
		return closeWith(out, err)
	}

	var buf []byte
	for i, f := range folders {
		buf = le.AppendUint64(buf[:0], f.hash)
		buf = le.AppendUint32(buf, uint32(len(f.entries))) //nolint:gosec // bounded by archive size
		if b.state.Version == VersionSSE {
			buf = le.AppendUint32(buf, 0)
			buf = le.AppendUint64(buf, uint64(folderOffsets[i])) //nolint:gosec // non-negative
		} else {
			buf = le.AppendUint32(buf, uint32(folderOffsets[i])) //nolint:gosec // checked above
		}
		if _, err := w.Write(buf); err != nil {
			return closeWith(out, err)
		}
	}

	for _, f := range folders {
		buf = buf[:0]
		if dirNames {
			name := archivePath(f.name)
			buf = append(buf, byte(len(name)+1))
			buf = append(buf, name...)
			buf = append(buf, 0)
		}
		for _, e := range f.entries {
			p := places[e]
			size := uint32(p.size) //nolint:gosec // checked against sizeMask
			if e.flip {
				size |= sizeFlipCompression
			}
			buf = le.AppendUint64(buf, e.fileHash)
			buf = le.AppendUint32(buf, size)
			buf = le.AppendUint32(buf, uint32(p.offset)) //nolint:gosec // checked above
		}
		if _, err := w.Write(buf); err != nil {
			return closeWith(out, err)
		}
	}

	if fileNames {
		for _, f := range folders {
			for _, e := range f.entries {
				if _, err := w.WriteString(e.name + "\x00"); err != nil {
					return closeWith(out, err)
				}
			}
		}
	}

	for _, f := range folders {
		for _, e := range f.entries {
			if _, err := w.Write(places[e].prefix); err != nil {
				return closeWith(out, err)
			}
			if _, err := w.Write(e.data); err != nil {
				return closeWith(out, err)
			}
		}
	}

	if err := w.Flush(); err != nil {
		return closeWith(out, err)
	}
	return out.Close()
}

// inferFileFlags derives content-type flags from entry extensions.
func inferFileFlags(entries []*tes4Entry) uint32 {
	var flags uint32
	for _, e := range entries {
		ext := strings.ToLower(e.name)
		if i := strings.LastIndexByte(ext, '.'); i >= 0 {
			ext = ext[i:]
		} else {
			ext = ""
		}
		switch ext {
		case ".nif":
			flags |= FileFlagMeshes
		case ".dds":
			flags |= FileFlagTextures
		case ".xml", ".swf":
			flags |= FileFlagMenus
		case ".wav", ".xwm":
			flags |= FileFlagSounds
		case ".mp3", ".ogg", ".fuz", ".lip":
			flags |= FileFlagVoices
		case ".fxp", ".sdp":
			flags |= FileFlagShaders
		case ".spt":
			flags |= FileFlagTrees
		case ".fnt", ".tex":
			flags |= FileFlagFonts
		default:
			flags |= FileFlagMisc
		}
	}
	return flags
}

func closeWith(f *os.File, err error) error {
	f.Close()
	return err
}
