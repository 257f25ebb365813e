package filesystem

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/objectfs/msc/pkg/cache"
)

func newTestBackend(t *testing.T, cfg cache.Config) *Backend {
	t.Helper()
	b, err := New(t.TempDir(), "default", cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return b
}

func TestSetAndRead(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t, cache.Config{UseEtag: true})

	if err := b.Set(ctx, "a/b.bin:etag1", cache.Source{Bytes: []byte("hello")}); err != nil {
		t.Fatalf("Set: %v", err)
	}

	data, ok, err := b.Read(ctx, "a/b.bin:etag1")
	if err != nil || !ok {
		t.Fatalf("Read = %v, %v, %v", data, ok, err)
	}
	if string(data) != "hello" {
		t.Fatalf("Read = %q, want hello", data)
	}
}

func TestReadEtagMismatch(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t, cache.Config{UseEtag: true})

	if err := b.Set(ctx, "a/b.bin:etag1", cache.Source{Bytes: []byte("hello")}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	_, ok, err := b.Read(ctx, "a/b.bin:etag2")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if ok {
		t.Fatal("expected stale etag to miss")
	}
}

func TestSetFromLocalPathMovesFile(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t, cache.Config{})

	srcDir := t.TempDir()
	src := filepath.Join(srcDir, "source.bin")
	if err := os.WriteFile(src, []byte("moved"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if err := b.Set(ctx, "moved/obj.bin", cache.Source{Path: src}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if _, err := os.Stat(src); !os.IsNotExist(err) {
		t.Fatal("expected source file to be moved, not copied")
	}

	data, ok, err := b.Read(ctx, "moved/obj.bin")
	if err != nil || !ok || string(data) != "moved" {
		t.Fatalf("Read = %q, %v, %v", data, ok, err)
	}
}

func TestDeleteIsIdempotent(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t, cache.Config{})
	if err := b.Delete(ctx, "never-existed"); err != nil {
		t.Fatalf("Delete(missing): %v", err)
	}
}

func TestCacheSizeExcludesLockFiles(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t, cache.Config{})

	if err := b.Set(ctx, "x.bin", cache.Source{Bytes: []byte("12345")}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := os.WriteFile(filepath.Join(b.root, ".x.bin.lock"), []byte("lockdata"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	size, err := b.CacheSize(ctx)
	if err != nil {
		t.Fatalf("CacheSize: %v", err)
	}
	if size != 5 {
		t.Fatalf("CacheSize = %d, want 5 (lock file must be excluded)", size)
	}
}

func TestRefreshCacheEvictsOverLimit(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t, cache.Config{
		EvictionPolicy: cache.PolicyFIFO,
		MaxCacheSize:   5,
	})

	if err := b.Set(ctx, "old.bin", cache.Source{Bytes: []byte("aaaaa")}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	time.Sleep(10 * time.Millisecond)
	if err := b.Set(ctx, "new.bin", cache.Source{Bytes: []byte("bbbbb")}); err != nil {
		t.Fatalf("Set: %v", err)
	}

	ok, err := b.RefreshCache(ctx)
	if err != nil || !ok {
		t.Fatalf("RefreshCache = %v, %v", ok, err)
	}

	size, err := b.CacheSize(ctx)
	if err != nil {
		t.Fatalf("CacheSize: %v", err)
	}
	if size > 5 {
		t.Fatalf("CacheSize after refresh = %d, want <= 5", size)
	}
	if _, ok, _ := b.Read(ctx, "new.bin"); !ok {
		t.Fatal("expected newest file to survive FIFO eviction")
	}
}

func TestAcquireLockExcludesConcurrentHolder(t *testing.T) {
	b := newTestBackend(t, cache.Config{})

	l1, err := b.AcquireLock("k")
	if err != nil {
		t.Fatalf("AcquireLock: %v", err)
	}
	if err := l1.Lock(context.Background()); err != nil {
		t.Fatalf("Lock: %v", err)
	}
	defer l1.Unlock()

	l2, err := b.AcquireLock("k")
	if err != nil {
		t.Fatalf("AcquireLock: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if err := l2.Lock(ctx); err == nil {
		l2.Unlock()
		t.Fatal("expected second lock attempt to fail while first holder holds it")
	}
}
