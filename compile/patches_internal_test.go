package compile

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/modlist/cache"
	"github.com/meigma/modlist/hashing"
	"github.com/meigma/modlist/internal/testutil"
	"github.com/meigma/modlist/patch"
	"github.com/meigma/modlist/plan"
	"github.com/meigma/modlist/vfs"
)

func TestPatchSourceExcludesIdenticalCopies(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	root := t.TempDir()
	source := filepath.Join(root, "source")
	downloads := filepath.Join(root, "downloads")

	a := testutil.RandomBytes(8192, 11)
	aPrime := testutil.Mutate(a, 4000)
	testutil.WriteFile(t, downloads, "A.bin", a)
	testutil.WriteFile(t, downloads, "A.bin.meta", []byte("[General]\ndirectURL=https://example.com/A.bin\n"))
	testutil.WriteZip(t, downloads, "Z.zip", map[string][]byte{"A.bin": aPrime})
	testutil.WriteFile(t, downloads, "Z.zip.meta", []byte("[General]\ndirectURL=https://example.com/Z.zip\n"))
	testutil.WriteFile(t, source, "A.bin", aPrime)

	vc := vfs.New(vfs.WithStagingRoot(t.TempDir()))
	_, err := vc.AddRoots(ctx, []string{source, downloads})
	require.NoError(t, err)

	cfg := Config{SourceRoot: source, DownloadsRoot: downloads}
	archives, err := LoadArchives(vc.Index(), downloads, "", "", nil)
	require.NoError(t, err)
	require.Len(t, archives, 2)
	c := newContext(vc, cfg, archives, false)

	src, ok := vc.Index().LookupRoot(filepath.Join(source, "A.bin"))
	require.True(t, ok)
	f := RawSourceFile{File: src, Path: "A.bin", AbsolutePath: filepath.Join(source, "A.bin")}

	// PatchByName runs first so the identical copy in Z.zip is not a direct
	// match; it must still not be offered as a patch source.
	d, err := RunStack(ctx, c, []Step{PatchByName{}, DropAll{}}, f)
	require.NoError(t, err)
	p, ok := d.(*plan.PatchedFromArchive)
	require.True(t, ok, "got %T", d)
	require.Len(t, p.Choices, 1)
	assert.Equal(t, hashing.Sum(a), p.Choices[0].BaseHash)
	assert.Empty(t, p.Choices[0].Paths)

	patches := patch.NewDispatcher(cache.NewMemory())
	require.NoError(t, BuildPatches(ctx, c, vc.Queue(), patches, []plan.Directive{p}))
	require.True(t, p.Resolved())
	assert.Empty(t, p.Choices)
	assert.Equal(t, hashing.Sum(a), p.FromHash)

	data, ok := c.blobs.get(p.PatchID)
	require.True(t, ok)
	rebuilt, err := patch.ApplyVerified(a, data, hashing.Sum(aPrime))
	require.NoError(t, err)
	assert.Equal(t, aPrime, rebuilt)
}

func TestBuildPatchesReusesCache(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	root := t.TempDir()
	source := filepath.Join(root, "source")
	downloads := filepath.Join(root, "downloads")
	a := testutil.RandomBytes(4096, 12)
	aPrime := testutil.Mutate(a, 10)
	testutil.WriteZip(t, downloads, "m.zip", map[string][]byte{"x/a.esp": a})
	testutil.WriteFile(t, downloads, "m.zip.meta", []byte("[General]\nmanualURL=https://example.com/m\n"))
	testutil.WriteFile(t, source, "a.esp", aPrime)

	vc := vfs.New(vfs.WithStagingRoot(t.TempDir()))
	_, err := vc.AddRoots(ctx, []string{source, downloads})
	require.NoError(t, err)
	archives, err := LoadArchives(vc.Index(), downloads, "", "", nil)
	require.NoError(t, err)

	pc := cache.NewMemory()
	build := func() *plan.PatchedFromArchive {
		c := newContext(vc, Config{SourceRoot: source, DownloadsRoot: downloads}, archives, false)
		src, ok := vc.Index().LookupRoot(filepath.Join(source, "a.esp"))
		require.True(t, ok)
		d, err := PatchByName{}.Run(ctx, c, RawSourceFile{File: src, Path: "a.esp"})
		require.NoError(t, err)
		p := d.(*plan.PatchedFromArchive)
		require.NoError(t, BuildPatches(ctx, c, vc.Queue(), patch.NewDispatcher(pc), []plan.Directive{p}))
		return p
	}

	first := build()
	_, cached, err := patch.NewDispatcher(pc).Cached(ctx, hashing.Sum(a), hashing.Sum(aPrime))
	require.NoError(t, err)
	assert.True(t, cached)

	second := build()
	assert.Equal(t, first.FromHash, second.FromHash)
	assert.Equal(t, []string{"x/a.esp"}, second.ArchiveHashPath.Paths)
}

func TestBuildPatchesKeepsSmallestChoice(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	root := t.TempDir()
	source := filepath.Join(root, "source")
	downloads := filepath.Join(root, "downloads")
	near := testutil.RandomBytes(8192, 13)
	far := testutil.RandomBytes(8192, 14)
	target := testutil.Mutate(near, 100)
	testutil.WriteZip(t, downloads, "near.zip", map[string][]byte{"data/plugin.esp": near})
	testutil.WriteFile(t, downloads, "near.zip.meta", []byte("[General]\nmanualURL=https://example.com/near\n"))
	testutil.WriteZip(t, downloads, "far.zip", map[string][]byte{"other/plugin.esp": far})
	testutil.WriteFile(t, downloads, "far.zip.meta", []byte("[General]\nmanualURL=https://example.com/far\n"))
	testutil.WriteFile(t, source, "plugin.esp", target)

	vc := vfs.New(vfs.WithStagingRoot(t.TempDir()))
	_, err := vc.AddRoots(ctx, []string{source, downloads})
	require.NoError(t, err)
	archives, err := LoadArchives(vc.Index(), downloads, "", "", nil)
	require.NoError(t, err)
	c := newContext(vc, Config{SourceRoot: source, DownloadsRoot: downloads}, archives, false)

	src, ok := vc.Index().LookupRoot(filepath.Join(source, "plugin.esp"))
	require.True(t, ok)
	d, err := PatchByName{}.Run(ctx, c, RawSourceFile{File: src, Path: "plugin.esp"})
	require.NoError(t, err)
	p, ok := d.(*plan.PatchedFromArchive)
	require.True(t, ok, "got %T", d)
	require.Len(t, p.Choices, 2)
	assert.False(t, p.Resolved())

	pc := cache.NewMemory()
	patches := patch.NewDispatcher(pc)
	require.NoError(t, BuildPatches(ctx, c, vc.Queue(), patches, []plan.Directive{p}))
	require.True(t, p.Resolved())
	assert.Empty(t, p.Choices)
	assert.NotEmpty(t, p.PatchID)
	assert.Equal(t, hashing.Sum(near), p.FromHash)
	assert.Equal(t, []string{"data/plugin.esp"}, p.ArchiveHashPath.Paths)

	chosen, ok := c.blobs.get(p.PatchID)
	require.True(t, ok)
	rejected, ok, err := patches.Cached(ctx, hashing.Sum(far), hashing.Sum(target))
	require.NoError(t, err)
	require.True(t, ok, "every choice is built before one is kept")
	assert.Less(t, len(chosen), len(rejected))

	rebuilt, err := patch.ApplyVerified(near, chosen, hashing.Sum(target))
	require.NoError(t, err)
	assert.Equal(t, target, rebuilt)
}
