package install_test

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/modlist/bsa"
	"github.com/meigma/modlist/cache"
	"github.com/meigma/modlist/compile"
	"github.com/meigma/modlist/hashing"
	"github.com/meigma/modlist/install"
	"github.com/meigma/modlist/internal/testutil"
	"github.com/meigma/modlist/plan"
	"github.com/meigma/modlist/vfs"
)

type setup struct {
	source, downloads, planPath string
}

func compileSetup(t *testing.T, build func(s setup)) setup {
	t.Helper()
	root := t.TempDir()
	s := setup{
		source:    filepath.Join(root, "source"),
		downloads: filepath.Join(root, "downloads"),
		planPath:  filepath.Join(root, "list"+plan.Extension),
	}
	build(s)
	c, err := compile.New(compile.Config{
		SourceRoot:    s.source,
		DownloadsRoot: s.downloads,
		Output:        s.planPath,
	}, compile.WithVFS(vfs.New(vfs.WithStagingRoot(t.TempDir()))))
	require.NoError(t, err)
	_, err = c.Compile(context.Background())
	require.NoError(t, err)
	return s
}

func newInstaller(t *testing.T, planPath string, layout install.DirLayout, opts ...install.Option) *install.Installer {
	t.Helper()
	opts = append([]install.Option{install.WithVFS(vfs.New(vfs.WithStagingRoot(t.TempDir())))}, opts...)
	inst, err := install.New(planPath, layout, opts...)
	require.NoError(t, err)
	return inst
}

func readFile(t *testing.T, path string) []byte {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return data
}

func TestInstallReproducesSource(t *testing.T) {
	t.Parallel()

	a := testutil.RandomBytes(3000, 21)
	c := testutil.RandomBytes(5000, 22)
	cPrime := testutil.Mutate(c, 2500)
	mesh := testutil.RandomBytes(600, 23)
	tex := testutil.RandomBytes(800, 24)

	s := compileSetup(t, func(s setup) {
		testutil.WriteZip(t, s.downloads, "mod.zip", map[string][]byte{
			"data/a.bin":     a,
			"data/c.bin":     c,
			"meshes/m.nif":   mesh,
			"textures/t.dds": tex,
		})
		testutil.WriteFile(t, s.downloads, "mod.zip.meta", []byte("[General]\nmanualURL=https://example.com/mod\n"))
		testutil.WriteFile(t, s.source, "mods/one/a.bin", a)
		testutil.WriteFile(t, s.source, "mods/two/a.bin", a)
		testutil.WriteFile(t, s.source, "mods/one/c.bin", cPrime)
		testutil.WriteFile(t, s.source, "profiles/p/settings.ini",
			[]byte("[Paths]\nroot="+filepath.ToSlash(s.source)+"/mods\n"))
		testutil.WriteBSA(t, s.source, "mods/one/packed.bsa", map[string][]byte{
			"meshes/m.nif":   mesh,
			"textures/t.dds": tex,
		})
	})

	output := filepath.Join(t.TempDir(), "output")
	layout := install.DirLayout{Output: output, Downloads: s.downloads}
	res, err := newInstaller(t, s.planPath, layout, install.WithoutDownloads()).Install(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.Downloaded)
	assert.Empty(t, res.Missing)
	assert.Equal(t, 7, res.Installed)

	assert.Equal(t, a, readFile(t, filepath.Join(output, "mods/one/a.bin")))
	assert.Equal(t, a, readFile(t, filepath.Join(output, "mods/two/a.bin")))
	assert.Equal(t, cPrime, readFile(t, filepath.Join(output, "mods/one/c.bin")))
	assert.Equal(t, "[Paths]\nroot="+filepath.ToSlash(output)+"/mods\n",
		string(readFile(t, filepath.Join(output, "profiles/p/settings.ini"))))

	r, err := bsa.OpenRead(filepath.Join(output, "mods/one/packed.bsa"))
	require.NoError(t, err)
	defer r.Close()
	got := make(map[string][]byte)
	for _, f := range r.Files() {
		var buf bytes.Buffer
		require.NoError(t, f.CopyDataTo(&buf))
		got[f.Path()] = buf.Bytes()
	}
	assert.Equal(t, map[string][]byte{"meshes/m.nif": mesh, "textures/t.dds": tex}, got)
	assert.Equal(t, readFile(t, filepath.Join(s.source, "mods/one/packed.bsa")),
		readFile(t, filepath.Join(output, "mods/one/packed.bsa")))
	assert.NoDirExists(t, filepath.Join(output, plan.TempBSAFolder))
}

// corruptedArchive compiles a plan from mod.zip, then rewrites one member
// of the archive while the hash cache still vouches for the old bytes. It
// returns the plan and a VFS factory sharing that cache.
func corruptedArchive(t *testing.T) (setup, func() *vfs.Context) {
	t.Helper()
	ctx := context.Background()
	s := compileSetup(t, func(s setup) {
		testutil.WriteZip(t, s.downloads, "mod.zip", map[string][]byte{
			"a.txt": []byte("original"),
			"b.txt": []byte("untouched"),
		})
		testutil.WriteFile(t, s.downloads, "mod.zip.meta", []byte("[General]\nmanualURL=https://example.com/mod\n"))
		testutil.WriteFile(t, s.source, "a.txt", []byte("original"))
		testutil.WriteFile(t, s.source, "b.txt", []byte("untouched"))
	})

	hasher := hashing.NewHasher(cache.NewMemory())
	zipPath := filepath.Join(s.downloads, "mod.zip")
	info, err := os.Stat(zipPath)
	require.NoError(t, err)
	_, err = hasher.File(ctx, zipPath)
	require.NoError(t, err)

	testutil.WriteZip(t, s.downloads, "mod.zip", map[string][]byte{
		"a.txt": []byte("tampered"),
		"b.txt": []byte("untouched"),
	})
	require.NoError(t, os.Chtimes(zipPath, info.ModTime(), info.ModTime()))

	return s, func() *vfs.Context {
		return vfs.New(vfs.WithStagingRoot(t.TempDir()), vfs.WithHasher(hasher))
	}
}

func TestInstallCollectsFailedFiles(t *testing.T) {
	t.Parallel()

	s, newVFS := corruptedArchive(t)
	output := t.TempDir()
	layout := install.DirLayout{Output: output, Downloads: s.downloads}
	res, err := newInstaller(t, s.planPath, layout, install.WithoutDownloads(), install.WithVFS(newVFS())).
		Install(context.Background())

	require.ErrorIs(t, err, install.ErrFilesFailed)
	require.ErrorIs(t, err, hashing.ErrHashMismatch)
	var failed *install.FailedFilesError
	require.True(t, errors.As(err, &failed))
	require.NotNil(t, res)
	require.Len(t, res.Failed, 1)
	assert.Equal(t, "a.txt", res.Failed[0].To)
	assert.Equal(t, res.Failed, failed.Failures)

	assert.Equal(t, []byte("untouched"), readFile(t, filepath.Join(output, "b.txt")))
	assert.NoFileExists(t, filepath.Join(output, "a.txt"))
}

func TestInstallFailFast(t *testing.T) {
	t.Parallel()

	s, newVFS := corruptedArchive(t)
	layout := install.DirLayout{Output: t.TempDir(), Downloads: s.downloads}
	res, err := newInstaller(t, s.planPath, layout,
		install.WithoutDownloads(), install.WithVFS(newVFS()), install.WithFailFast(true)).
		Install(context.Background())

	require.ErrorIs(t, err, hashing.ErrHashMismatch)
	assert.NotErrorIs(t, err, install.ErrFilesFailed)
	assert.Nil(t, res)
}

func TestInstallDownloadsMissingArchives(t *testing.T) {
	t.Parallel()

	payload := testutil.ZipBytes(t, map[string][]byte{"x/a.esp": testutil.RandomBytes(1500, 31)})
	var gets atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			gets.Add(1)
		}
		http.ServeContent(w, r, "mod.zip", time.Unix(0, 0), bytes.NewReader(payload))
	}))
	t.Cleanup(srv.Close)

	s := compileSetup(t, func(s setup) {
		testutil.WriteFile(t, s.downloads, "mod.zip", payload)
		testutil.WriteFile(t, s.downloads, "mod.zip.meta", []byte("[General]\ndirectURL="+srv.URL+"/mod.zip\n"))
		testutil.WriteFile(t, s.source, "a.esp", testutil.RandomBytes(1500, 31))
	})

	root := t.TempDir()
	layout := install.DirLayout{
		Output:    filepath.Join(root, "output"),
		Downloads: filepath.Join(root, "downloads"),
	}
	res, err := newInstaller(t, s.planPath, layout).Install(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Downloaded)
	assert.Equal(t, 1, res.Installed)
	assert.Positive(t, gets.Load())
	assert.Equal(t, payload, readFile(t, filepath.Join(layout.Downloads, "mod.zip")))
	assert.Contains(t, string(readFile(t, filepath.Join(layout.Downloads, "mod.zip.meta"))), "directURL=")
	assert.FileExists(t, filepath.Join(layout.Output, "a.esp"))
}

func TestInstallMissingArchivePolicy(t *testing.T) {
	t.Parallel()

	s := compileSetup(t, func(s setup) {
		testutil.WriteZip(t, s.downloads, "manual.zip", map[string][]byte{"a.txt": []byte("from manual")})
		testutil.WriteFile(t, s.downloads, "manual.zip.meta", []byte("[General]\nmanualURL=https://example.com/manual\n"))
		testutil.WriteZip(t, s.downloads, "kept.zip", map[string][]byte{"b.txt": []byte("from kept")})
		testutil.WriteFile(t, s.downloads, "kept.zip.meta", []byte("[General]\nmanualURL=https://example.com/kept\n"))
		testutil.WriteFile(t, s.source, "a.txt", []byte("from manual"))
		testutil.WriteFile(t, s.source, "b.txt", []byte("from kept"))
	})
	require.NoError(t, os.Remove(filepath.Join(s.downloads, "manual.zip")))

	output := filepath.Join(t.TempDir(), "output")
	layout := install.DirLayout{Output: output, Downloads: s.downloads}

	_, err := newInstaller(t, s.planPath, layout).Install(context.Background())
	require.ErrorIs(t, err, install.ErrMissingArchive)
	var missing *install.MissingArchivesError
	require.True(t, errors.As(err, &missing))
	require.Len(t, missing.Archives, 1)
	assert.Equal(t, "manual.zip", missing.Archives[0].Name)
	assert.NoFileExists(t, filepath.Join(output, "b.txt"))

	res, err := newInstaller(t, s.planPath, layout, install.WithIgnoreMissing(true)).Install(context.Background())
	require.NoError(t, err)
	assert.Len(t, res.Missing, 1)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, "from kept", string(readFile(t, filepath.Join(output, "b.txt"))))
	assert.NoFileExists(t, filepath.Join(output, "a.txt"))
}

func TestInstallRejectsTamperedArchive(t *testing.T) {
	t.Parallel()

	s := compileSetup(t, func(s setup) {
		testutil.WriteZip(t, s.downloads, "mod.zip", map[string][]byte{"a.txt": []byte("original")})
		testutil.WriteFile(t, s.downloads, "mod.zip.meta", []byte("[General]\nmanualURL=https://example.com/mod\n"))
		testutil.WriteFile(t, s.source, "a.txt", []byte("original"))
	})
	testutil.WriteZip(t, s.downloads, "mod.zip", map[string][]byte{"a.txt": []byte("tampered")})

	layout := install.DirLayout{Output: t.TempDir(), Downloads: s.downloads}
	_, err := newInstaller(t, s.planPath, layout, install.WithoutDownloads()).Install(context.Background())
	require.ErrorIs(t, err, install.ErrMissingArchive)
}

func TestDirLayoutKeepsPathsInside(t *testing.T) {
	t.Parallel()

	l := install.DirLayout{Output: "/out", Downloads: "/dl"}
	_, err := l.OutputPath("../escape.txt")
	require.Error(t, err)
	_, err = l.DownloadsPath("/abs.zip")
	require.Error(t, err)
	_, err = l.ResolveGamePath("Data/Skyrim.esm")
	require.ErrorIs(t, err, install.ErrNoGameFolder)

	p, err := l.OutputPath("mods/a.txt")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/out", "mods", "a.txt"), p)
}

func TestNewValidates(t *testing.T) {
	t.Parallel()

	_, err := install.New("", install.DirLayout{})
	require.ErrorIs(t, err, install.ErrInvalidConfig)
}
