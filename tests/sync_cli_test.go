// Sync tests exercising the transfer engine across two configured
// profiles, the way the msc CLI's sync command drives it.
package tests

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/objectfs/msc/pkg/client"
	"github.com/objectfs/msc/pkg/config"
	"github.com/objectfs/msc/pkg/storage"
)

func syncFixture(t *testing.T) (ctx context.Context, source, target *client.Client, targetDir string) {
	t.Helper()
	ctx = context.Background()
	sourceDir := t.TempDir()
	targetDir = t.TempDir()

	cfgPath := writeConfig(t, `
profiles:
  source:
    storage_provider:
      type: file
      options:
        base_path: `+sourceDir+`
  target:
    storage_provider:
      type: file
      options:
        base_path: `+targetDir+`
`)
	cfg, err := config.LoadFile(cfgPath)
	require.NoError(t, err)
	source, err = client.FromConfig(ctx, cfg, "source")
	require.NoError(t, err)
	target, err = client.FromConfig(ctx, cfg, "target")
	require.NoError(t, err)
	return ctx, source, target, targetDir
}

func TestSyncBetweenProfiles(t *testing.T) {
	ctx, source, target, targetDir := syncFixture(t)

	payloads := map[string]string{
		"images/0001.jpg":  "jpeg-bytes",
		"images/0002.jpg":  "more-jpeg-bytes",
		"labels/0001.json": `{"label":"cat"}`,
	}
	for key, body := range payloads {
		require.NoError(t, source.Write(ctx, key, []byte(body), storage.PutOptions{}))
	}

	result, err := client.Sync(ctx, source, target, client.SyncOptions{Workers: 4})
	require.NoError(t, err)
	assert.EqualValues(t, 3, result.Copied)

	for key, want := range payloads {
		data, err := os.ReadFile(filepath.Join(targetDir, key))
		require.NoError(t, err)
		assert.Equal(t, want, string(data), key)
	}
}

func TestSyncDeleteUnmatchedBetweenProfiles(t *testing.T) {
	ctx, source, target, targetDir := syncFixture(t)

	require.NoError(t, source.Write(ctx, "kept.bin", []byte("k"), storage.PutOptions{}))
	require.NoError(t, target.Write(ctx, "dropped.bin", []byte("d"), storage.PutOptions{}))

	result, err := client.Sync(ctx, source, target, client.SyncOptions{DeleteUnmatched: true})
	require.NoError(t, err)
	assert.EqualValues(t, 1, result.Copied)
	assert.EqualValues(t, 1, result.Deleted)

	_, err = os.Stat(filepath.Join(targetDir, "dropped.bin"))
	assert.True(t, os.IsNotExist(err), "dropped.bin should be gone")
}

func TestSyncReportsSkipsOnSecondRun(t *testing.T) {
	ctx, source, target, _ := syncFixture(t)

	require.NoError(t, source.Write(ctx, "stable.bin", []byte("same"), storage.PutOptions{}))

	_, err := client.Sync(ctx, source, target, client.SyncOptions{})
	require.NoError(t, err)

	result, err := client.Sync(ctx, source, target, client.SyncOptions{})
	require.NoError(t, err)
	assert.EqualValues(t, 0, result.Copied)
	assert.EqualValues(t, 1, result.Skipped)
}
