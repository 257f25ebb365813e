package manifest

import (
	"context"
	"testing"
	"time"

	"github.com/objectfs/msc/pkg/errors"
	"github.com/objectfs/msc/pkg/objmeta"
	"github.com/objectfs/msc/pkg/storage"
	"github.com/objectfs/msc/pkg/storage/posix"
)

func newEmptyProvider(t *testing.T) (*Provider, storage.Provider) {
	t.Helper()
	substrate, err := posix.New(t.TempDir())
	if err != nil {
		t.Fatalf("posix.New: %v", err)
	}
	p, err := New(context.Background(), substrate, "manifests", true)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p, substrate
}

func TestCommitThenReload(t *testing.T) {
	ctx := context.Background()
	p, substrate := newEmptyProvider(t)

	meta := objmeta.ObjectMetadata{Key: "a/b.bin", ContentLength: 42, LastModified: time.Now().UTC().Truncate(time.Second)}
	if err := p.AddFile("a/b.bin", meta); err != nil {
		t.Fatalf("AddFile: %v", err)
	}
	if err := p.CommitUpdates(ctx); err != nil {
		t.Fatalf("CommitUpdates: %v", err)
	}

	reloaded, err := New(ctx, substrate, "manifests", true)
	if err != nil {
		t.Fatalf("reload New: %v", err)
	}
	got, err := reloaded.GetObjectMetadata(ctx, "a/b.bin", false)
	if err != nil {
		t.Fatalf("GetObjectMetadata: %v", err)
	}
	if got.ContentLength != 42 {
		t.Fatalf("ContentLength = %d, want 42", got.ContentLength)
	}
}

func TestPendingNotVisibleUntilCommit(t *testing.T) {
	ctx := context.Background()
	p, _ := newEmptyProvider(t)

	if err := p.AddFile("pending.bin", objmeta.ObjectMetadata{Key: "pending.bin", ContentLength: 1}); err != nil {
		t.Fatalf("AddFile: %v", err)
	}

	if _, err := p.GetObjectMetadata(ctx, "pending.bin", false); !errors.Is(err, errors.KindNotFound) {
		t.Fatalf("expected NotFound without include_pending, got %v", err)
	}
	if _, err := p.GetObjectMetadata(ctx, "pending.bin", true); err != nil {
		t.Fatalf("expected pending add to be visible with include_pending: %v", err)
	}

	it, err := p.ListObjects(ctx, storage.ListOptions{})
	if err != nil {
		t.Fatalf("ListObjects: %v", err)
	}
	defer it.Close()
	for it.Next(ctx) {
		if it.Object().Key == "pending.bin" {
			t.Fatal("pending add must not be visible to ListObjects before commit")
		}
	}
}

func TestAddRejectedWhenNotWritable(t *testing.T) {
	ctx := context.Background()
	substrate, err := posix.New(t.TempDir())
	if err != nil {
		t.Fatalf("posix.New: %v", err)
	}
	p, err := New(ctx, substrate, "manifests", false)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := p.AddFile("a.bin", objmeta.ObjectMetadata{Key: "a.bin"}); err == nil {
		t.Fatal("expected AddFile to fail on a read-only manifest")
	}
}

func TestListObjectsBoundariesAndDirectories(t *testing.T) {
	ctx := context.Background()
	p, _ := newEmptyProvider(t)

	for _, k := range []string{"d/a.bin", "d/b.bin", "d/sub/c.bin"} {
		if err := p.AddFile(k, objmeta.ObjectMetadata{Key: k, ContentLength: 1, LastModified: time.Now().UTC()}); err != nil {
			t.Fatalf("AddFile(%s): %v", k, err)
		}
	}
	if err := p.CommitUpdates(ctx); err != nil {
		t.Fatalf("CommitUpdates: %v", err)
	}

	it, err := p.ListObjects(ctx, storage.ListOptions{Prefix: "d/", IncludeDirectories: true})
	if err != nil {
		t.Fatalf("ListObjects: %v", err)
	}
	defer it.Close()

	var keys []string
	for it.Next(ctx) {
		keys = append(keys, it.Object().Key)
	}
	want := []string{"d/a.bin", "d/b.bin", "d/sub/"}
	if len(keys) != len(want) {
		t.Fatalf("keys = %v, want %v", keys, want)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Fatalf("keys[%d] = %q, want %q", i, keys[i], want[i])
		}
	}
}

func TestRemoveFileRequiresExistingKey(t *testing.T) {
	p, _ := newEmptyProvider(t)
	if err := p.RemoveFile("does-not-exist.bin"); !errors.Is(err, errors.KindNotFound) {
		t.Fatalf("RemoveFile(missing) = %v, want NotFound", err)
	}
}
