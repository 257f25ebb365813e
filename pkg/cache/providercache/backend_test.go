package providercache

import (
	"context"
	"testing"

	"github.com/objectfs/msc/pkg/cache"
	"github.com/objectfs/msc/pkg/storage/posix"
)

func newTestBackend(t *testing.T) *Backend {
	t.Helper()
	substrate, err := posix.New(t.TempDir())
	if err != nil {
		t.Fatalf("posix.New: %v", err)
	}
	return New(substrate, "cache", "default", true)
}

func TestRoundTrip(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)

	if err := b.Set(ctx, "obj/a:etag1", cache.Source{Bytes: []byte("payload")}); err != nil {
		t.Fatalf("Set: %v", err)
	}

	data, ok, err := b.Read(ctx, "obj/a:etag1")
	if err != nil || !ok {
		t.Fatalf("Read = %v, %v, %v", data, ok, err)
	}
	if string(data) != "payload" {
		t.Fatalf("Read = %q, want payload", data)
	}
}

func TestEtagMismatchIsMiss(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)

	if err := b.Set(ctx, "obj/a:etag1", cache.Source{Bytes: []byte("v1")}); err != nil {
		t.Fatalf("Set: %v", err)
	}

	_, ok, err := b.Read(ctx, "obj/a:etag2")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if ok {
		t.Fatal("expected etag mismatch to be a cache miss")
	}
}

func TestSetFromPathNotSupported(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)
	if err := b.Set(ctx, "obj/a", cache.Source{Path: "/tmp/whatever"}); err == nil {
		t.Fatal("expected Set from local path to fail for the provider-backed cache")
	}
}

func TestRefreshCacheIsNoOp(t *testing.T) {
	b := newTestBackend(t)
	ok, err := b.RefreshCache(context.Background())
	if err != nil || !ok {
		t.Fatalf("RefreshCache = %v, %v", ok, err)
	}
}
