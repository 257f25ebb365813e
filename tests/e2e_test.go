// End-to-end tests wiring the whole stack together the way an
// application would: configuration file -> client factory -> provider,
// cache, manifest, and hint, all against a POSIX backend.
package tests

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/objectfs/msc/pkg/cache"
	fscache "github.com/objectfs/msc/pkg/cache/filesystem"
	"github.com/objectfs/msc/pkg/client"
	"github.com/objectfs/msc/pkg/config"
	"github.com/objectfs/msc/pkg/errors"
	"github.com/objectfs/msc/pkg/hint"
	"github.com/objectfs/msc/pkg/manifest"
	"github.com/objectfs/msc/pkg/objmeta"
	"github.com/objectfs/msc/pkg/storage"
	"github.com/objectfs/msc/pkg/storage/posix"
)

func writeConfig(t *testing.T, yaml string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "msc_config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))
	return path
}

func TestConfigToClientRoundTrip(t *testing.T) {
	ctx := context.Background()
	dataDir := t.TempDir()

	cfgPath := writeConfig(t, `
profiles:
  data:
    storage_provider:
      type: file
      options:
        base_path: `+dataDir+`
    retry:
      max_attempts: 3
      delay: 10ms
`)
	cfg, err := config.LoadFile(cfgPath)
	require.NoError(t, err)

	c, err := client.FromConfig(ctx, cfg, "data")
	require.NoError(t, err)

	require.NoError(t, c.Write(ctx, "a/b/c.txt", []byte("hello"), storage.PutOptions{}))

	got, err := c.Read(ctx, "a/b/c.txt", &objmeta.Range{Offset: 1, Size: 3})
	require.NoError(t, err)
	assert.Equal(t, "ell", string(got))

	require.NoError(t, c.Delete(ctx, "a/b/c.txt"))
	_, err = c.Read(ctx, "a/b/c.txt", nil)
	assert.True(t, errors.Is(err, errors.KindNotFound), "Read after Delete = %v", err)
}

func TestCachedReadsAcrossClients(t *testing.T) {
	ctx := context.Background()

	provider, err := posix.New(t.TempDir())
	require.NoError(t, err)
	backend, err := fscache.New(t.TempDir(), "e2e", cache.Config{
		MaxCacheSize:   1 << 20,
		EvictionPolicy: cache.PolicyLRU,
	})
	require.NoError(t, err)

	// A renamed provider so the client doesn't suppress its cache for
	// local-POSIX backends.
	c := client.New(client.Config{
		Provider: &cloudishProvider{provider},
		Cache:    backend,
	})

	require.NoError(t, c.Write(ctx, "dataset/part.bin", []byte("cached-bytes"), storage.PutOptions{}))
	_, err = c.Read(ctx, "dataset/part.bin", nil)
	require.NoError(t, err)

	hit, err := backend.Contains(ctx, "dataset/part.bin:None")
	require.NoError(t, err)
	require.True(t, hit, "first read should populate the cache")

	// Remove the object behind the cache's back: a full read must still
	// be served from the cache.
	require.NoError(t, provider.DeleteObject(ctx, "dataset/part.bin", ""))
	got, err := c.Read(ctx, "dataset/part.bin", nil)
	require.NoError(t, err)
	assert.Equal(t, "cached-bytes", string(got))
}

func TestManifestSnapshotLifecycle(t *testing.T) {
	ctx := context.Background()
	provider, err := posix.New(t.TempDir())
	require.NoError(t, err)

	m, err := manifest.New(ctx, provider, "manifests", true)
	require.NoError(t, err)
	for _, key := range []string{"train/a.tar", "train/b.tar", "val/c.json"} {
		require.NoError(t, m.AddFile(key, objmeta.ObjectMetadata{
			Key:           key,
			ContentLength: 1,
			LastModified:  time.Now().UTC(),
		}))
	}
	require.NoError(t, m.CommitUpdates(ctx))

	// A fresh provider instance loads the committed snapshot.
	reloaded, err := manifest.New(ctx, provider, "manifests", false)
	require.NoError(t, err)
	tars, err := reloaded.Glob(ctx, "**/*.tar")
	require.NoError(t, err)
	assert.Len(t, tars, 2)

	err = reloaded.AddFile("x", objmeta.ObjectMetadata{})
	assert.True(t, errors.Is(err, errors.KindInvalidArgument), "AddFile on read-only manifest = %v", err)
}

func TestHintTakeoverAfterAbandonedHeartbeat(t *testing.T) {
	ctx := context.Background()
	provider, err := posix.New(t.TempDir())
	require.NoError(t, err)

	// A crashed holder's leftover: a hint object nobody is heartbeating.
	stale := []byte(`{"timestamp":"` + time.Now().UTC().Format(time.RFC3339) + `"}`)
	require.NoError(t, provider.PutObject(ctx, "locks/writer", stale, storage.PutOptions{}))

	holder, err := hint.New(provider, "locks/writer",
		hint.WithHeartbeatInterval(time.Second),
		hint.WithHeartbeatBuffer(500*time.Millisecond))
	require.NoError(t, err)

	ok, err := holder.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok, "holder should take over after the lease lifespan")
	require.NoError(t, holder.Release(ctx))
}

// cloudishProvider renames a POSIX provider so the client treats it as
// a remote backend (and therefore uses the cache).
type cloudishProvider struct {
	storage.Provider
}

func (c *cloudishProvider) Name() string { return "s3" }
