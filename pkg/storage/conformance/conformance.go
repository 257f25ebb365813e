// Package conformance exercises the universal provider invariants
// (round-trip, list boundaries, delimiter listing, directory info, glob,
// conditional create) against any storage.Provider, so each concrete
// backend's test package can run the same suite instead of re-deriving
// it.
package conformance

import (
	"context"
	"testing"

	"github.com/objectfs/msc/pkg/errors"
	"github.com/objectfs/msc/pkg/storage"
)

// Run exercises every universal provider invariant against provider.
// Call it from each backend's _test.go with a freshly constructed,
// empty-namespace provider.
func Run(t *testing.T, provider storage.Provider) {
	t.Helper()
	t.Run("RoundTrip", func(t *testing.T) { testRoundTrip(t, provider) })
	t.Run("ListBoundaries", func(t *testing.T) { testListBoundaries(t, provider) })
	t.Run("DelimiterListing", func(t *testing.T) { testDelimiterListing(t, provider) })
	t.Run("DirectoryInfo", func(t *testing.T) { testDirectoryInfo(t, provider) })
	t.Run("Glob", func(t *testing.T) { testGlob(t, provider) })
	t.Run("ConditionalCreate", func(t *testing.T) { testConditionalCreate(t, provider) })
}

func testRoundTrip(t *testing.T, p storage.Provider) {
	t.Helper()
	ctx := context.Background()
	key := "roundtrip/object.bin"
	body := []byte("hello, msc")

	if err := p.PutObject(ctx, key, body, storage.PutOptions{}); err != nil {
		t.Fatalf("PutObject: %v", err)
	}
	got, err := p.GetObject(ctx, key, nil)
	if err != nil {
		t.Fatalf("GetObject: %v", err)
	}
	if string(got) != string(body) {
		t.Fatalf("GetObject = %q, want %q", got, body)
	}

	info, err := p.GetObjectMetadata(ctx, key, true)
	if err != nil {
		t.Fatalf("GetObjectMetadata: %v", err)
	}
	if info.ContentLength != int64(len(body)) {
		t.Fatalf("ContentLength = %d, want %d", info.ContentLength, len(body))
	}
}

func testListBoundaries(t *testing.T, p storage.Provider) {
	t.Helper()
	ctx := context.Background()
	keys := []string{"boundaries/a", "boundaries/b", "boundaries/c", "boundaries/d"}
	for _, k := range keys {
		if err := p.PutObject(ctx, k, []byte(k), storage.PutOptions{}); err != nil {
			t.Fatalf("PutObject(%s): %v", k, err)
		}
	}

	it, err := p.ListObjects(ctx, storage.ListOptions{
		Prefix:     "boundaries/",
		StartAfter: "boundaries/a",
		EndAt:      "boundaries/c",
	})
	if err != nil {
		t.Fatalf("ListObjects: %v", err)
	}
	defer it.Close()

	var got []string
	for it.Next(ctx) {
		got = append(got, it.Object().Key)
	}
	if err := it.Err(); err != nil {
		t.Fatalf("iterator error: %v", err)
	}

	want := []string{"boundaries/b", "boundaries/c"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func testDelimiterListing(t *testing.T, p storage.Provider) {
	t.Helper()
	ctx := context.Background()
	if err := p.PutObject(ctx, "delim/sub/a.txt", []byte("a"), storage.PutOptions{}); err != nil {
		t.Fatalf("PutObject: %v", err)
	}
	if err := p.PutObject(ctx, "delim/sub/b.txt", []byte("b"), storage.PutOptions{}); err != nil {
		t.Fatalf("PutObject: %v", err)
	}

	it, err := p.ListObjects(ctx, storage.ListOptions{Prefix: "delim/", IncludeDirectories: true})
	if err != nil {
		t.Fatalf("ListObjects: %v", err)
	}
	defer it.Close()

	sawDir := false
	seen := map[string]bool{}
	for it.Next(ctx) {
		obj := it.Object()
		if obj.IsDirectory() {
			if seen[obj.Key] {
				t.Fatalf("duplicate directory entry for %q", obj.Key)
			}
			seen[obj.Key] = true
			sawDir = true
		}
	}
	if err := it.Err(); err != nil {
		t.Fatalf("iterator error: %v", err)
	}
	if !sawDir {
		t.Fatal("expected at least one synthetic directory entry")
	}
}

func testDirectoryInfo(t *testing.T, p storage.Provider) {
	t.Helper()
	ctx := context.Background()
	if err := p.PutObject(ctx, "dirinfo/child.txt", []byte("x"), storage.PutOptions{}); err != nil {
		t.Fatalf("PutObject: %v", err)
	}

	info, err := p.GetObjectMetadata(ctx, "dirinfo/", false)
	if err != nil {
		t.Fatalf("GetObjectMetadata(dir): %v", err)
	}
	if !info.IsDirectory() {
		t.Fatalf("expected directory type, got %v", info.Type)
	}

	_, err = p.GetObjectMetadata(ctx, "does-not-exist/", false)
	if !errors.Is(err, errors.KindNotFound) {
		t.Fatalf("expected NotFound for missing directory, got %v", err)
	}
}

func testGlob(t *testing.T, p storage.Provider) {
	t.Helper()
	ctx := context.Background()
	if err := p.PutObject(ctx, "glob/top.ext", []byte("x"), storage.PutOptions{}); err != nil {
		t.Fatalf("PutObject: %v", err)
	}
	if err := p.PutObject(ctx, "glob/nested/deep.ext", []byte("x"), storage.PutOptions{}); err != nil {
		t.Fatalf("PutObject: %v", err)
	}

	all, err := p.Glob(ctx, "glob/**/*.ext")
	if err != nil {
		t.Fatalf("Glob: %v", err)
	}
	if len(all) < 2 {
		t.Fatalf("Glob(**) = %v, want at least 2 matches", all)
	}

	top, err := p.Glob(ctx, "glob/*.ext")
	if err != nil {
		t.Fatalf("Glob: %v", err)
	}
	for _, k := range top {
		if k != "glob/top.ext" {
			t.Fatalf("Glob(top-level) unexpectedly matched %q", k)
		}
	}
}

func testConditionalCreate(t *testing.T, p storage.Provider) {
	t.Helper()
	ctx := context.Background()
	key := "conditional/create.txt"

	err := p.PutObject(ctx, key, []byte("first"), storage.PutOptions{IfNoneMatch: "*"})
	if err != nil {
		t.Fatalf("first create-if-absent: %v", err)
	}

	err = p.PutObject(ctx, key, []byte("second"), storage.PutOptions{IfNoneMatch: "*"})
	if !errors.Is(err, errors.KindPreconditionFailed) {
		t.Fatalf("second create-if-absent: got %v, want PreconditionFailed", err)
	}
}
