package modlist

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/modlist/cache"
	"github.com/meigma/modlist/hashing"
	"github.com/meigma/modlist/internal/testutil"
	"github.com/meigma/modlist/plan"
)

func TestNewClientDefaults(t *testing.T) {
	t.Parallel()

	c, err := NewClient()
	require.NoError(t, err)
	defer c.Close()

	assert.IsType(t, &cache.Memory{}, c.hashCache)
	assert.Same(t, c.hashCache, c.patchCache)
	assert.Empty(t, c.snapshot)
}

func TestClientOptions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		opt     Option
		wantErr string
	}{
		{name: "nil hash cache", opt: WithHashCache(nil), wantErr: "hash cache is nil"},
		{name: "nil patch cache", opt: WithPatchCache(nil), wantErr: "patch cache is nil"},
		{name: "workers", opt: WithWorkers(3)},
		{name: "downloaders", opt: WithDownloaders()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			c, err := NewClient(tt.opt)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			require.NoError(t, c.Close())
		})
	}
}

func TestWithCacheDirPersistsIndex(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	cacheDir := t.TempDir()
	data := t.TempDir()
	testutil.WriteZip(t, data, "mod.zip", map[string][]byte{"a/b.txt": []byte("nested")})
	testutil.WriteFile(t, data, "loose.txt", []byte("loose"))

	c, err := NewClient(WithCacheDir(cacheDir), WithStagingDir(t.TempDir()))
	require.NoError(t, err)
	idx, err := c.Index(ctx, data)
	require.NoError(t, err)
	assert.Len(t, idx.LookupHash(hashing.Sum([]byte("nested"))), 1)
	require.NoError(t, c.Close())

	assert.FileExists(t, filepath.Join(cacheDir, CacheDBName))
	assert.FileExists(t, filepath.Join(cacheDir, SnapshotName))
	assert.DirExists(t, filepath.Join(cacheDir, PatchCacheDirName))

	reopened, err := NewClient(WithCacheDir(cacheDir), WithStagingDir(t.TempDir()))
	require.NoError(t, err)
	defer reopened.Close()
	restored := reopened.VFS().Index()
	assert.Equal(t, idx.Len(), restored.Len())
	assert.True(t, restored.HasHash(hashing.Sum([]byte("loose"))))
}

func TestClientCompileAndInstall(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	root := t.TempDir()
	source := filepath.Join(root, "source")
	downloads := filepath.Join(root, "downloads")
	a := testutil.RandomBytes(4096, 41)
	aPrime := testutil.Mutate(a, 17)
	testutil.WriteZip(t, downloads, "mod.zip", map[string][]byte{"data/a.esp": a, "data/b.esp": []byte("b")})
	testutil.WriteFile(t, downloads, "mod.zip.meta", []byte("[General]\nmanualURL=https://example.com/mod\n"))
	testutil.WriteFile(t, source, "mods/x/a.esp", aPrime)
	testutil.WriteFile(t, source, "mods/x/b.esp", []byte("b"))

	var (
		mu     sync.Mutex
		stages = make(map[string]bool)
	)
	c, err := NewClient(
		WithCacheDir(filepath.Join(root, "cache")),
		WithStagingDir(filepath.Join(root, "staging")),
		WithWorkers(2),
		WithProgress(func(ev ProgressEvent) {
			mu.Lock()
			stages[ev.Description] = true
			mu.Unlock()
		}),
	)
	require.NoError(t, err)
	defer c.Close()

	planPath := filepath.Join(root, "list"+plan.Extension)
	res, err := c.Compile(ctx, CompileConfig{SourceRoot: source, DownloadsRoot: downloads, Output: planPath})
	require.NoError(t, err)
	require.Len(t, res.ModList.Archives, 1)
	assert.Len(t, res.ModList.OfKind(plan.KindPatchedFromArchive), 1)

	output := filepath.Join(root, "output")
	ires, err := c.Install(ctx, planPath, DirLayout{Output: output, Downloads: downloads})
	require.NoError(t, err)
	assert.Equal(t, 2, ires.Installed)

	got, err := os.ReadFile(filepath.Join(output, "mods/x/a.esp"))
	require.NoError(t, err)
	assert.Equal(t, aPrime, got)

	mu.Lock()
	defer mu.Unlock()
	assert.True(t, stages["building patches"])
	assert.True(t, stages["installing archives"])
}
