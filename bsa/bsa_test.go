package bsa

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type entry struct {
	path       string
	data       []byte
	compressed bool
}

func buildArchive(t *testing.T, state ArchiveState, entries []entry) string {
	t.Helper()
	b, err := NewBuilder(state)
	require.NoError(t, err)
	for i, e := range entries {
		fs := NewFileState(state, i, e.path, e.compressed)
		require.NoError(t, b.AddFile(fs, bytes.NewReader(e.data)))
	}
	out := filepath.Join(t.TempDir(), "archive."+state.Format.String())
	require.NoError(t, b.Build(out))
	return out
}

func readAll(t *testing.T, f File) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, f.CopyDataTo(&buf))
	return buf.Bytes()
}

func contents(t *testing.T, r Reader) map[string][]byte {
	t.Helper()
	out := make(map[string][]byte)
	for _, f := range r.Files() {
		out[f.Path()] = readAll(t, f)
	}
	return out
}

func sampleEntries() []entry {
	return []entry{
		{path: "textures/x.dds", data: bytes.Repeat([]byte("tex"), 200), compressed: true},
		{path: "meshes/y.nif", data: bytes.Repeat([]byte{7}, 300)},
		{path: "meshes/armor/z.nif", data: []byte("nested mesh"), compressed: true},
	}
}

func TestTES4RoundTrip(t *testing.T) {
	for _, version := range []uint32{VersionOblivion, VersionSkyrim, VersionSSE} {
		t.Run(fmt.Sprintf("v%d", version), func(t *testing.T) {
			state := DefaultTES4State(version)
			if version != VersionOblivion {
				state.ArchiveFlags |= FlagEmbedFileNames
			}
			entries := sampleEntries()
			path := buildArchive(t, state, entries)

			r, err := OpenRead(path)
			require.NoError(t, err)
			defer r.Close()

			assert.Equal(t, FormatTES4, r.State().Format)
			assert.Equal(t, version, r.State().Version)
			got := contents(t, r)
			require.Len(t, got, len(entries))
			for _, e := range entries {
				assert.Equal(t, e.data, got[e.path], e.path)
			}
		})
	}
}

func TestTES4CompressionFlags(t *testing.T) {
	state := DefaultTES4State(VersionSSE)
	path := buildArchive(t, state, []entry{
		{path: "textures/x.dds", data: bytes.Repeat([]byte("a"), 500), compressed: true},
		{path: "meshes/y.nif", data: bytes.Repeat([]byte("b"), 300), compressed: false},
	})

	r, err := OpenRead(path)
	require.NoError(t, err)
	defer r.Close()

	byPath := make(map[string]File)
	for _, f := range r.Files() {
		byPath[f.Path()] = f
	}
	tex := byPath["textures/x.dds"]
	require.NotNil(t, tex)
	assert.True(t, tex.Compressed())
	assert.False(t, tex.State().FlipCompression)
	assert.Equal(t, int64(500), tex.Size())

	mesh := byPath["meshes/y.nif"]
	require.NotNil(t, mesh)
	assert.False(t, mesh.Compressed())
	assert.True(t, mesh.State().FlipCompression)
	assert.Equal(t, int64(300), mesh.Size())
}

func rebuild(t *testing.T, path string) string {
	t.Helper()
	r, err := OpenRead(path)
	require.NoError(t, err)
	defer r.Close()

	b, err := NewBuilder(r.State())
	require.NoError(t, err)
	for _, f := range r.Files() {
		require.NoError(t, b.AddFile(f.State(), bytes.NewReader(readAll(t, f))))
	}
	out := filepath.Join(t.TempDir(), "rebuilt."+r.State().Format.String())
	require.NoError(t, b.Build(out))
	return out
}

func TestRebuildFromStateIsByteIdentical(t *testing.T) {
	t.Parallel()

	// Added out of hash order so data order and record order differ.
	entries := append(sampleEntries(),
		entry{path: "sound/fx/q.wav", data: bytes.Repeat([]byte("q"), 90)},
		entry{path: "icons/c.tga", data: nil},
		entry{path: "meshes/a.nif", data: []byte("first mesh"), compressed: true},
		entry{path: "textures/m/n.dds", data: bytes.Repeat([]byte{1, 2, 3}, 40)},
	)
	tests := []struct {
		name  string
		state ArchiveState
	}{
		{name: "tes3", state: ArchiveState{Format: FormatTES3, Version: tes3Version}},
		{name: "oblivion", state: DefaultTES4State(VersionOblivion)},
		{name: "skyrim", state: DefaultTES4State(VersionSkyrim)},
		{name: "skyrim se", state: DefaultTES4State(VersionSSE)},
		{name: "without folder names", state: ArchiveState{Format: FormatTES4, Version: VersionSkyrim, ArchiveFlags: FlagIncludeFileNames}},
		{name: "ba2", state: DefaultBA2State()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			first := buildArchive(t, tt.state, entries)
			second := rebuild(t, first)

			a, err := os.ReadFile(first)
			require.NoError(t, err)
			c, err := os.ReadFile(second)
			require.NoError(t, err)
			assert.True(t, bytes.Equal(a, c), "rebuild from recorded state must be byte-identical")
		})
	}
}

func TestTES3IndexFollowsDataOrder(t *testing.T) {
	t.Parallel()

	state := ArchiveState{Format: FormatTES3, Version: tes3Version}
	entries := []entry{
		{path: "textures/z.dds", data: []byte("zz")},
		{path: "meshes/a.nif", data: []byte("aaaa")},
		{path: "icons/m.tga", data: []byte("m")},
	}
	r, err := OpenRead(buildArchive(t, state, entries))
	require.NoError(t, err)
	defer r.Close()

	byPath := make(map[string]int)
	for _, f := range r.Files() {
		byPath[f.Path()] = f.State().Index
	}
	for i, e := range entries {
		assert.Equal(t, i, byPath[e.path], e.path)
	}
}

func TestTES4WithoutFolderNamesFromLogicalPaths(t *testing.T) {
	t.Parallel()

	state := ArchiveState{Format: FormatTES4, Version: VersionSkyrim, ArchiveFlags: FlagIncludeFileNames}
	path := buildArchive(t, state, []entry{
		{path: "textures/x.dds", data: []byte("pixels")},
		{path: "meshes/y.nif", data: []byte("mesh")},
	})

	r, err := OpenRead(path)
	require.NoError(t, err)
	defer r.Close()
	require.Len(t, r.Files(), 2)
	hashes := make(map[uint64]string)
	for _, f := range r.Files() {
		hashes[f.State().FolderHash] = string(readAll(t, f))
	}
	assert.Equal(t, map[uint64]string{
		FolderHash("textures"): "pixels",
		FolderHash("meshes"):   "mesh",
	}, hashes)
}

func TestTES4WithoutFolderNames(t *testing.T) {
	state := ArchiveState{Format: FormatTES4, Version: VersionSkyrim, ArchiveFlags: FlagIncludeFileNames}
	b, err := NewBuilder(state)
	require.NoError(t, err)
	fs := NewFileState(state, 0, "textures/x.dds", false)
	fs.FolderHash = FolderHash("textures")
	require.NoError(t, b.AddFile(fs, strings.NewReader("pixels")))
	out := filepath.Join(t.TempDir(), "nodirs.bsa")
	require.NoError(t, b.Build(out))

	r, err := OpenRead(out)
	require.NoError(t, err)
	defer r.Close()
	require.Len(t, r.Files(), 1)
	f := r.Files()[0]
	assert.False(t, r.State().HasFolderNames())
	assert.True(t, strings.HasSuffix(f.Path(), "/x.dds"))
	assert.Equal(t, FolderHash("textures"), f.State().FolderHash)
	assert.Equal(t, []byte("pixels"), readAll(t, f))
}

func TestTES3RoundTrip(t *testing.T) {
	state := ArchiveState{Format: FormatTES3, Version: tes3Version}
	entries := []entry{
		{path: "meshes/b.nif", data: []byte("bbbb")},
		{path: "textures/a.dds", data: []byte("aaaaaaa")},
		{path: "icons/c.tga", data: nil},
	}
	path := buildArchive(t, state, entries)

	r, err := OpenRead(path)
	require.NoError(t, err)
	defer r.Close()
	assert.Equal(t, FormatTES3, r.State().Format)
	got := contents(t, r)
	require.Len(t, got, len(entries))
	for _, e := range entries {
		assert.Equal(t, len(e.data), len(got[e.path]), e.path)
		assert.True(t, bytes.Equal(e.data, got[e.path]), e.path)
	}
}

func TestBA2RoundTrip(t *testing.T) {
	state := DefaultBA2State()
	entries := sampleEntries()
	path := buildArchive(t, state, entries)

	r, err := OpenRead(path)
	require.NoError(t, err)
	defer r.Close()
	assert.Equal(t, FormatBA2, r.State().Format)
	assert.Equal(t, "GNRL", r.State().Type)

	files := r.Files()
	require.Len(t, files, len(entries))
	for i, f := range files {
		assert.Equal(t, entries[i].path, f.Path())
		assert.Equal(t, entries[i].compressed, f.Compressed())
		assert.Equal(t, entries[i].data, readAll(t, f))
		assert.Equal(t, uint32(ba2DefaultFlags), f.State().Flags)
	}
}

func TestBA2RejectsTextureArchives(t *testing.T) {
	_, err := NewBuilder(ArchiveState{Format: FormatBA2, Type: "DX10"})
	require.ErrorIs(t, err, ErrUnsupportedVersion)
}

func TestDecompressChecksDeclaredSize(t *testing.T) {
	t.Parallel()

	data := bytes.Repeat([]byte("member data "), 64)
	tests := []struct {
		name    string
		codec   codec
		size    int64
		wantErr bool
	}{
		{name: "zlib exact", codec: codecZlib, size: int64(len(data))},
		{name: "lz4 exact", codec: codecLZ4, size: int64(len(data))},
		{name: "zlib short header", codec: codecZlib, size: int64(len(data)) - 1, wantErr: true},
		{name: "lz4 short header", codec: codecLZ4, size: int64(len(data)) - 1, wantErr: true},
		{name: "zlib long header", codec: codecZlib, size: int64(len(data)) + 1, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			packed, err := compress(tt.codec, data)
			require.NoError(t, err)
			var out bytes.Buffer
			err = decompress(tt.codec, bytes.NewReader(packed), &out, tt.size)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrCorrupt)
				assert.LessOrEqual(t, int64(out.Len()), tt.size)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, data, out.Bytes())
		})
	}
}

func TestDuplicatePath(t *testing.T) {
	state := DefaultTES4State(VersionSSE)
	b, err := NewBuilder(state)
	require.NoError(t, err)
	require.NoError(t, b.AddFile(NewFileState(state, 0, "a/b.txt", false), strings.NewReader("1")))
	err = b.AddFile(NewFileState(state, 1, "A/B.txt", false), strings.NewReader("2"))
	require.ErrorIs(t, err, ErrDuplicatePath)
}

func TestOpenReadUnknownMagic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "junk.bsa")
	require.NoError(t, os.WriteFile(path, []byte("ZZZZ not an archive"), 0o600))

	_, err := OpenRead(path)
	require.ErrorIs(t, err, ErrUnknownFormat)
	assert.False(t, MightBeArchive(path))
}

func TestSniff(t *testing.T) {
	assert.Equal(t, FormatTES4, Sniff([]byte("BSA\x00")))
	assert.Equal(t, FormatBA2, Sniff([]byte("BTDX")))
	assert.Equal(t, FormatTES3, Sniff([]byte{0, 1, 0, 0}))
	assert.Equal(t, FormatUnknown, Sniff([]byte("PK")))
}

func TestExtract(t *testing.T) {
	state := DefaultTES4State(VersionSSE)
	path := buildArchive(t, state, sampleEntries())
	r, err := OpenRead(path)
	require.NoError(t, err)
	defer r.Close()

	dir := t.TempDir()
	written, err := Extract(context.Background(), r, dir)
	require.NoError(t, err)
	require.Len(t, written, 3)

	data, err := os.ReadFile(filepath.Join(dir, "meshes", "armor", "z.nif"))
	require.NoError(t, err)
	assert.Equal(t, []byte("nested mesh"), data)
}

func TestExtractCanceled(t *testing.T) {
	path := buildArchive(t, DefaultBA2State(), sampleEntries())
	r, err := OpenRead(path)
	require.NoError(t, err)
	defer r.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = Extract(ctx, r, t.TempDir())
	require.ErrorIs(t, err, context.Canceled)
}

func TestHashes(t *testing.T) {
	// Same name, different extension flags.
	assert.NotEqual(t, FileNameHash("a.dds"), FileNameHash("a.nif"))
	assert.Equal(t, FileNameHash("Armor.NIF"), FileNameHash("armor.nif"))
	assert.Equal(t, FolderHash(`meshes\armor`), FolderHash("meshes/armor"))

	// The low word packs last char, second to last, length and first char.
	h := FolderHash("abc")
	assert.Equal(t, uint32('c')|uint32('b')<<8|uint32(3)<<16|uint32('a')<<24, uint32(h))

	low, high := TES3Hash("meshes/a.nif")
	low2, high2 := TES3Hash(`MESHES\A.NIF`)
	assert.Equal(t, low, low2)
	assert.Equal(t, high, high2)

	assert.Equal(t, uint32(0), BA2Hash(""))
	assert.Equal(t, BA2Hash("Meshes/Foo"), BA2Hash(`meshes\foo`))
}
