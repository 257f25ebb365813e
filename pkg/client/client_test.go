package client

import (
	"context"
	"testing"
	"time"

	"github.com/objectfs/msc/pkg/cache"
	fscache "github.com/objectfs/msc/pkg/cache/filesystem"
	"github.com/objectfs/msc/pkg/circuit"
	"github.com/objectfs/msc/pkg/errors"
	"github.com/objectfs/msc/pkg/manifest"
	"github.com/objectfs/msc/pkg/retry"
	"github.com/objectfs/msc/pkg/storage"
	"github.com/objectfs/msc/pkg/storage/posix"
)

func TestWriteReadDeleteRoundTrip(t *testing.T) {
	ctx := context.Background()
	provider, err := posix.New(t.TempDir())
	if err != nil {
		t.Fatalf("posix.New: %v", err)
	}
	c := New(Config{Provider: provider})

	if err := c.Write(ctx, "a/b.bin", []byte("hello"), storage.PutOptions{}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := c.Read(ctx, "a/b.bin", nil)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != "hello" {
		t.Fatalf("Read = %q, want %q", got, "hello")
	}

	if err := c.Delete(ctx, "a/b.bin"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := c.Read(ctx, "a/b.bin", nil); !errors.Is(err, errors.KindNotFound) {
		t.Fatalf("Read after delete = %v, want NotFound", err)
	}
}

func TestWriteRejectedWhenManifestAlreadyHasPath(t *testing.T) {
	ctx := context.Background()
	provider, err := posix.New(t.TempDir())
	if err != nil {
		t.Fatalf("posix.New: %v", err)
	}
	m, err := manifest.New(ctx, provider, "manifests", true)
	if err != nil {
		t.Fatalf("manifest.New: %v", err)
	}
	c := New(Config{Provider: provider, MetadataProvider: m})

	if err := c.Write(ctx, "x.bin", []byte("one"), storage.PutOptions{}); err != nil {
		t.Fatalf("first Write: %v", err)
	}
	if err := m.CommitUpdates(ctx); err != nil {
		t.Fatalf("CommitUpdates: %v", err)
	}

	if err := c.Write(ctx, "x.bin", []byte("two"), storage.PutOptions{}); !errors.Is(err, errors.KindExists) {
		t.Fatalf("second Write = %v, want AlreadyExists", err)
	}
}

func TestDeleteRemovesManifestEntry(t *testing.T) {
	ctx := context.Background()
	provider, err := posix.New(t.TempDir())
	if err != nil {
		t.Fatalf("posix.New: %v", err)
	}
	m, err := manifest.New(ctx, provider, "manifests", true)
	if err != nil {
		t.Fatalf("manifest.New: %v", err)
	}
	c := New(Config{Provider: provider, MetadataProvider: m})

	if err := c.Write(ctx, "gone.bin", []byte("data"), storage.PutOptions{}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := m.CommitUpdates(ctx); err != nil {
		t.Fatalf("CommitUpdates: %v", err)
	}
	if err := c.Delete(ctx, "gone.bin"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := m.GetObjectMetadata(ctx, "gone.bin", true); !errors.Is(err, errors.KindNotFound) {
		t.Fatalf("expected manifest entry gone, got %v", err)
	}
}

func TestReadPopulatesAndServesFromCache(t *testing.T) {
	ctx := context.Background()
	backendDir := t.TempDir()
	provider, err := posix.New(backendDir)
	if err != nil {
		t.Fatalf("posix.New: %v", err)
	}

	cacheBackend, err := fscache.New(t.TempDir(), "default", cache.Config{EvictionPolicy: cache.PolicyNone})
	if err != nil {
		t.Fatalf("fscache.New: %v", err)
	}

	// A non-POSIX-named provider wrapper so the client doesn't treat this
	// as the local-POSIX no-cache case; reuse posix's delegate under a
	// different reported Name via a thin wrapper.
	c := New(Config{Provider: &renamedProvider{Provider: provider, name: "s3"}, Cache: cacheBackend})

	if err := c.Write(ctx, "cached.bin", []byte("via-cache"), storage.PutOptions{}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	first, err := c.Read(ctx, "cached.bin", nil)
	if err != nil {
		t.Fatalf("first Read: %v", err)
	}
	if string(first) != "via-cache" {
		t.Fatalf("first Read = %q", first)
	}

	hit, err := cacheBackend.Contains(ctx, "cached.bin:None")
	if err != nil {
		t.Fatalf("Contains: %v", err)
	}
	if !hit {
		t.Fatal("expected cache to be populated after first read")
	}

	second, err := c.Read(ctx, "cached.bin", nil)
	if err != nil {
		t.Fatalf("second Read: %v", err)
	}
	if string(second) != "via-cache" {
		t.Fatalf("second Read = %q", second)
	}
}

// renamedProvider forwards every call to the embedded storage.Provider
// except Name, letting tests exercise the "non-POSIX" caching path
// against a POSIX-backed substrate.
type renamedProvider struct {
	storage.Provider
	name string
}

func (r *renamedProvider) Name() string { return r.name }

func TestOpenBreakerShortCircuitsReads(t *testing.T) {
	ctx := context.Background()
	provider, err := posix.New(t.TempDir())
	if err != nil {
		t.Fatalf("posix.New: %v", err)
	}
	breaker := circuit.New("file", circuit.Config{TripAfter: 1, Timeout: time.Hour})
	c := New(Config{
		Provider: provider,
		Breaker:  breaker,
		Retry:    retry.Config{MaxAttempts: 1, Delay: time.Millisecond},
	})

	if err := c.Write(ctx, "guarded.bin", []byte("x"), storage.PutOptions{}); err != nil {
		t.Fatalf("Write: %v", err)
	}

	// Trip the breaker directly, simulating a run of backend failures.
	breaker.Execute(ctx, func(context.Context) error {
		return errors.Runtime("", "guarded.bin", nil)
	})

	if _, err := c.Read(ctx, "guarded.bin", nil); !errors.Is(err, errors.KindRetryable) {
		t.Fatalf("Read through open breaker = %v, want Retryable", err)
	}

	breaker.Reset()
	got, err := c.Read(ctx, "guarded.bin", nil)
	if err != nil {
		t.Fatalf("Read after Reset: %v", err)
	}
	if string(got) != "x" {
		t.Fatalf("Read = %q", got)
	}
}

func TestSemanticMissDoesNotTripBreaker(t *testing.T) {
	ctx := context.Background()
	provider, err := posix.New(t.TempDir())
	if err != nil {
		t.Fatalf("posix.New: %v", err)
	}
	breaker := circuit.New("file", circuit.Config{TripAfter: 1, Timeout: time.Hour})
	c := New(Config{
		Provider: provider,
		Breaker:  breaker,
		Retry:    retry.Config{MaxAttempts: 1, Delay: time.Millisecond},
	})

	for i := 0; i < 5; i++ {
		if _, err := c.Read(ctx, "absent.bin", nil); !errors.Is(err, errors.KindNotFound) {
			t.Fatalf("Read = %v, want NotFound", err)
		}
	}
	if breaker.State() != circuit.StateClosed {
		t.Fatalf("breaker state = %v, want closed after semantic misses", breaker.State())
	}
}
