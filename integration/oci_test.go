//go:build integration

package integration

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/opencontainers/go-digest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/modlist"
	"github.com/meigma/modlist/download"
	"github.com/meigma/modlist/hashing"
	"github.com/meigma/modlist/internal/testutil"
	"github.com/meigma/modlist/plan"
)

func newTestClient(tb testing.TB, opts ...modlist.Option) *modlist.Client {
	tb.Helper()

	// Always use plain HTTP for the local registry.
	all := append([]modlist.Option{
		modlist.WithDownloaders(download.NewOCI(download.WithPlainHTTP(true))),
		modlist.WithStagingDir(tb.TempDir()),
	}, opts...)
	c, err := modlist.NewClient(all...)
	require.NoError(tb, err, "create test client")
	tb.Cleanup(func() { c.Close() })
	return c
}

func TestOCIDownloadVerifiesDigest(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := testRepo(getRegistry(t), "download")
	data := testutil.ZipBytes(t, map[string][]byte{"a.txt": []byte("hello")})
	dgst := pushBlob(t, repo, data)

	state, err := download.ParseMeta(string(ociMeta(repo, dgst)))
	require.NoError(t, err)
	archive := &download.Archive{Name: "a.zip", Hash: hashing.Sum(data), Size: int64(len(data)), Digest: dgst}
	archive.SetState(state)

	d := download.NewDispatcher(download.WithDownloader(download.NewOCI(download.WithPlainHTTP(true))))
	ok, err := d.Verify(ctx, archive)
	require.NoError(t, err)
	assert.True(t, ok)

	dest := filepath.Join(t.TempDir(), "a.zip")
	require.NoError(t, d.Download(ctx, archive, dest))
	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	archive.Hash = hashing.Sum([]byte("something else"))
	err = d.Download(ctx, archive, filepath.Join(t.TempDir(), "b.zip"))
	require.ErrorIs(t, err, hashing.ErrHashMismatch)
}

func TestOCIVerifyMissingBlob(t *testing.T) {
	t.Parallel()

	repo := testRepo(getRegistry(t), "missing")
	pushBlob(t, repo, []byte("placeholder"))
	state, err := download.ParseMeta(string(ociMeta(repo, digest.FromBytes([]byte("never pushed")))))
	require.NoError(t, err)
	archive := &download.Archive{Name: "x.zip", Size: 12}
	archive.SetState(state)

	ok, err := download.NewOCI(download.WithPlainHTTP(true)).Verify(context.Background(), archive)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCompileAndInstallFromRegistry(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := testRepo(getRegistry(t), "roundtrip")
	a := testutil.RandomBytes(64<<10, 61)
	aPrime := testutil.Mutate(a, 1000)
	data := testutil.ZipBytes(t, map[string][]byte{"data/a.esp": a, "data/b.txt": []byte("b")})
	dgst := pushBlob(t, repo, data)

	root := t.TempDir()
	source := filepath.Join(root, "source")
	downloads := filepath.Join(root, "downloads")
	testutil.WriteFile(t, downloads, "mod.zip", data)
	testutil.WriteFile(t, downloads, "mod.zip"+download.MetaSuffix, ociMeta(repo, dgst))
	testutil.WriteFile(t, source, "mods/m/a.esp", aPrime)
	testutil.WriteFile(t, source, "mods/m/b.txt", []byte("b"))

	planPath := filepath.Join(root, "list"+plan.Extension)
	c := newTestClient(t, modlist.WithArchiveVerification(true))
	res, err := c.Compile(ctx, modlist.CompileConfig{SourceRoot: source, DownloadsRoot: downloads, Output: planPath})
	require.NoError(t, err)
	require.Len(t, res.ModList.Archives, 1)
	assert.Equal(t, download.KindOCI, res.ModList.Archives[0].State.Kind())

	// A fresh machine has nothing downloaded yet.
	layout := modlist.DirLayout{
		Output:    filepath.Join(root, "install"),
		Downloads: filepath.Join(root, "fresh-downloads"),
	}
	ires, err := newTestClient(t).Install(ctx, planPath, layout)
	require.NoError(t, err)
	assert.Equal(t, 1, ires.Downloaded)
	assert.Equal(t, 2, ires.Installed)

	got, err := os.ReadFile(filepath.Join(layout.Output, "mods", "m", "a.esp"))
	require.NoError(t, err)
	assert.Equal(t, aPrime, got)
}
