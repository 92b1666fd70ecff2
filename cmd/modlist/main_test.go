package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/modlist/hashing"
	"github.com/meigma/modlist/internal/testutil"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestBSAListAndExtract(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	archive := testutil.WriteBSA(t, dir, "test.bsa", map[string][]byte{
		"meshes/a.nif":   []byte("mesh bytes"),
		"textures/b.dds": bytes.Repeat([]byte("t"), 4096),
	})

	out, err := run(t, "bsa", "list", archive)
	require.NoError(t, err)
	assert.Contains(t, out, "tes4 version 105, 2 entries")
	assert.Contains(t, out, "meshes/a.nif")
	assert.Contains(t, out, "textures/b.dds")

	dest := filepath.Join(dir, "out")
	out, err = run(t, "bsa", "extract", archive, dest)
	require.NoError(t, err)
	assert.Contains(t, out, "extracted 2 entries")
	got, err := os.ReadFile(filepath.Join(dest, "meshes", "a.nif"))
	require.NoError(t, err)
	assert.Equal(t, "mesh bytes", string(got))
}

func TestPatchBuildAndApply(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	src := testutil.RandomBytes(8192, 51)
	dest := testutil.Mutate(src, 4096)
	srcPath := testutil.WriteFile(t, dir, "src.bin", src)
	destPath := testutil.WriteFile(t, dir, "dest.bin", dest)
	patchPath := filepath.Join(dir, "p.patch")
	outPath := filepath.Join(dir, "out.bin")

	_, err := run(t, "patch", "build", srcPath, destPath, patchPath)
	require.NoError(t, err)
	assert.FileExists(t, patchPath)

	_, err = run(t, "patch", "apply", "--hash", hashing.Sum(dest).String(), srcPath, patchPath, outPath)
	require.NoError(t, err)
	got, err := os.ReadFile(outPath)
	require.NoError(t, err)
	assert.Equal(t, dest, got)

	_, err = run(t, "patch", "apply", "--hash", hashing.Sum(src).String(), srcPath, patchPath, outPath)
	require.ErrorIs(t, err, hashing.ErrHashMismatch)
}

func TestCompileAndInstall(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	source := filepath.Join(root, "source")
	downloads := filepath.Join(root, "downloads")
	a := testutil.RandomBytes(2048, 52)
	testutil.WriteZip(t, downloads, "mod.zip", map[string][]byte{"a.esp": a})
	testutil.WriteFile(t, downloads, "mod.zip.meta", []byte("[General]\nmanualURL=https://example.com/mod\n"))
	testutil.WriteFile(t, source, "mods/m/a.esp", a)
	planPath := filepath.Join(root, "my.modlist")

	out, err := run(t, "compile",
		"--cache-dir", filepath.Join(root, "cache"),
		"--source", source, "--downloads", downloads, "-o", planPath, "--name", "cli test")
	require.NoError(t, err)
	assert.Contains(t, out, "1 archives")
	assert.Contains(t, out, "1 files")

	output := filepath.Join(root, "output")
	out, err = run(t, "install", planPath, "-o", output, "--downloads", downloads, "--no-download")
	require.NoError(t, err)
	assert.Contains(t, out, "installed cli test: 1 files")
	got, err := os.ReadFile(filepath.Join(output, "mods", "m", "a.esp"))
	require.NoError(t, err)
	assert.Equal(t, a, got)
}

func TestIndex(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	testutil.WriteZip(t, dir, "a.zip", map[string][]byte{"x.txt": []byte("x"), "y.txt": []byte("y")})
	out, err := run(t, "index", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "3 files in 1 top-level files")
}

func TestInvalidLogLevelFromEnv(t *testing.T) {
	t.Setenv(EnvPrefix+"_LOG_LEVEL", "loud")
	_, err := run(t, "bsa", "list", "missing.bsa")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "log level")
}

func TestCompileRequiresFlags(t *testing.T) {
	t.Parallel()

	_, err := run(t, "compile", "--source", t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "required flag")
}
