package download_test

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

	"github.com/meigma/modlist/download"
	"github.com/meigma/modlist/hashing"
	"github.com/meigma/modlist/internal/testutil"
)

func TestParseMeta(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		text string
		kind download.Kind
		key  string
	}{
		{
			name: "http",
			text: "[General]\ndirectURL=https://example.com/a.zip\ndirectURLHeaders=X-A: 1|X-B: 2\n",
			kind: download.KindHTTP,
			key:  "http|https://example.com/a.zip",
		},
		{
			name: "oci",
			text: "[General]\nociReference=localhost:5000/mods/a\nociDigest=sha256:" + string(bytes.Repeat([]byte("a"), 64)) + "\n",
			kind: download.KindOCI,
		},
		{
			name: "game file",
			text: "; comment\n[General]\ngameName=skyrim\ngameFile=Data/Skyrim.esm\n",
			kind: download.KindGameFile,
			key:  "gamefile|skyrim||data/skyrim.esm",
		},
		{
			name: "byte order mark",
			text: "\ufeff[General]\ndirectURL=https://example.com/b.zip\n",
			kind: download.KindHTTP,
			key:  "http|https://example.com/b.zip",
		},
		{
			name: "manual",
			text: "[General]\nmanualURL=https://example.com\nprompt=click it\n",
			kind: download.KindManual,
		},
		{
			name: "unknown flag",
			text: "[General]\nunknownArchive=true\nfoo=bar\n",
			kind: download.KindUnknown,
			key:  "unknown|foo=bar",
		},
		{
			name: "no recognized key",
			text: "[General]\nfoo=bar\n[Other]\ndirectURL=https://ignored\n",
			kind: download.KindUnknown,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			state, err := download.ParseMeta(tt.text)
			require.NoError(t, err)
			assert.Equal(t, tt.kind, state.Kind())
			if tt.key != "" {
				assert.Equal(t, tt.key, state.PrimaryKey())
			}

			again, err := download.ParseMeta(state.MetaINI())
			require.NoError(t, err)
			assert.Equal(t, state, again)
		})
	}
}

func TestParseMetaInvalid(t *testing.T) {
	t.Parallel()

	for _, text := range []string{
		"[General]\ndirectURL=ftp://example.com/a\n",
		"[General]\ndirectURL=https://example.com\ndirectURLHeaders=nocolon\n",
		"[General]\nociReference=r/a\nociDigest=nope\n",
		"[General]\ngameName=skyrim\n",
		"[General]\ngameName=skyrim\ngameFile=a\nhash=***\n",
		"[General\n",
		"[General]\njunk\n",
	} {
		_, err := download.ParseMeta(text)
		require.ErrorIs(t, err, download.ErrInvalidMeta, text)
	}
}

func TestReadMetaFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	archive := testutil.WriteFile(t, dir, "a.zip", []byte("zip"))
	testutil.WriteFile(t, dir, "a.zip.meta", []byte("[General]\nmanualURL=https://example.com\n"))

	state, err := download.ReadMetaFile(archive)
	require.NoError(t, err)
	assert.Equal(t, download.KindManual, state.Kind())

	_, err = download.ReadMetaFile(filepath.Join(dir, "missing.zip"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func httpArchive(t *testing.T, data []byte) (*download.Archive, *atomic.Int32) {
	t.Helper()
	var gets atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			gets.Add(1)
		}
		http.ServeContent(w, r, "a.zip", time.Time{}, bytes.NewReader(data))
	}))
	t.Cleanup(server.Close)

	archive := &download.Archive{Name: "a.zip", Hash: hashing.Sum(data), Size: int64(len(data))}
	archive.SetState(&download.HTTPState{URL: server.URL + "/a.zip"})
	return archive, &gets
}

func TestDispatcherHTTP(t *testing.T) {
	t.Parallel()

	data := testutil.RandomBytes(20_000, 7)
	archive, gets := httpArchive(t, data)
	// Drop the parsed state to exercise resolution from the meta text.
	archive.State = nil

	d := download.NewDispatcher(download.WithDownloader(download.NewHTTP(download.WithChunkSize(4096))))
	dest := filepath.Join(t.TempDir(), "downloads", "a.zip")
	require.NoError(t, d.Download(context.Background(), archive, dest))

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, data, got)
	assert.Equal(t, int32(5), gets.Load())

	ok, err := d.Verify(context.Background(), archive)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestHTTPFailureLeavesNoFile(t *testing.T) {
	t.Parallel()

	data := testutil.RandomBytes(1000, 8)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			http.ServeContent(w, r, "a.zip", time.Time{}, bytes.NewReader(data))
			return
		}
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	t.Cleanup(server.Close)

	archive := &download.Archive{Name: "a.zip", Hash: hashing.Sum(data), Size: int64(len(data))}
	archive.SetState(&download.HTTPState{URL: server.URL + "/a.zip"})

	dir := t.TempDir()
	dest := filepath.Join(dir, "a.zip")
	err := download.NewHTTP(download.WithRetries(2)).Download(context.Background(), archive, dest)
	require.ErrorIs(t, err, download.ErrRetriesExhausted)
	assert.NoFileExists(t, dest)
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestDispatcherRejectsWrongHash(t *testing.T) {
	t.Parallel()

	archive, _ := httpArchive(t, []byte("actual bytes"))
	archive.Hash = hashing.Sum([]byte("other bytes!"))

	d := download.NewDispatcher()
	dest := filepath.Join(t.TempDir(), "a.zip")
	err := d.Download(context.Background(), archive, dest)
	require.ErrorIs(t, err, hashing.ErrHashMismatch)
	assert.NoFileExists(t, dest)
	entries, err := os.ReadDir(filepath.Dir(dest))
	require.NoError(t, err)
	assert.Empty(t, entries, "partial download left behind")
}

func TestDispatcherStrongDigest(t *testing.T) {
	t.Parallel()

	data := []byte("strong bytes")
	archive, _ := httpArchive(t, data)
	archive.Digest, _ = hashing.Strong(bytes.NewReader([]byte("not it")))

	err := download.NewDispatcher().Download(context.Background(), archive, filepath.Join(t.TempDir(), "a"))
	require.ErrorIs(t, err, hashing.ErrDigestMismatch)
}

func TestDispatcherManual(t *testing.T) {
	t.Parallel()

	archive := &download.Archive{Name: "m.7z"}
	archive.SetState(&download.ManualState{URL: "https://example.com/m", Prompt: "log in first"})

	err := download.NewDispatcher().Download(context.Background(), archive, filepath.Join(t.TempDir(), "m.7z"))
	require.ErrorIs(t, err, download.ErrManualDownload)
	assert.True(t, download.IsManual(err))
	assert.Contains(t, err.Error(), "log in first")
}

func TestDispatcherNoDownloader(t *testing.T) {
	t.Parallel()

	archive := &download.Archive{Name: "u"}
	archive.SetState(&download.UnknownState{Fields: map[string]string{"x": "y"}})

	err := download.NewDispatcher().Download(context.Background(), archive, filepath.Join(t.TempDir(), "u"))
	require.ErrorIs(t, err, download.ErrNoDownloader)
}

type prepCounter struct {
	download.Manual
	prepares atomic.Int32
}

func (p *prepCounter) Prepare(context.Context) error {
	p.prepares.Add(1)
	return errors.New("login failed")
}

func TestDispatcherPreparesOnce(t *testing.T) {
	t.Parallel()

	pc := &prepCounter{}
	d := download.NewDispatcher(download.WithDownloader(pc))
	archive := &download.Archive{Name: "m"}
	archive.SetState(&download.ManualState{URL: "https://example.com"})

	for range 3 {
		_, err := d.Verify(context.Background(), archive)
		require.EqualError(t, err, "login failed")
	}
	assert.Equal(t, int32(1), pc.prepares.Load())
}

func TestGameFile(t *testing.T) {
	t.Parallel()

	game := t.TempDir()
	data := []byte("master file")
	testutil.WriteFile(t, game, "Data/Skyrim.esm", data)
	resolve := func(_, rel string) (string, error) {
		return filepath.Join(game, filepath.FromSlash(rel)), nil
	}

	archive := &download.Archive{Name: "Skyrim.esm", Hash: hashing.Sum(data), Size: int64(len(data))}
	archive.SetState(&download.GameFileState{Game: "skyrim", GameFile: "Data/Skyrim.esm"})

	d := download.NewDispatcher(download.WithDownloader(download.NewGameFile(resolve)))
	dest := filepath.Join(t.TempDir(), "Skyrim.esm")
	require.NoError(t, d.Download(context.Background(), archive, dest))
	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	missing := &download.Archive{Name: "x"}
	missing.SetState(&download.GameFileState{Game: "skyrim", GameFile: "Data/none.esm"})
	ok, err := d.Verify(context.Background(), missing)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStaticCredentials(t *testing.T) {
	t.Parallel()

	store := download.StaticCredentials("https://registry.example.com:5000/v2", "u", "p")
	cred, err := store.Get(context.Background(), "registry.example.com:5000")
	require.NoError(t, err)
	assert.Equal(t, "u", cred.Username)

	other, err := store.Get(context.Background(), "elsewhere.io")
	require.NoError(t, err)
	assert.Empty(t, other.Username)

	hub := download.StaticCredentials("docker.io", "h", "p")
	cred, err = hub.Get(context.Background(), "registry-1.docker.io")
	require.NoError(t, err)
	assert.Equal(t, "h", cred.Username)
}
