package ais

import (
	"errors"
	"io"
	"testing"

	mscerrors "github.com/objectfs/msc/pkg/errors"
	"github.com/objectfs/msc/pkg/storage"
)

func TestRegistryRejectsMissingBucket(t *testing.T) {
	_, err := storage.New(Name, map[string]interface{}{"proxy_url": "http://proxy:8080"})
	if !mscerrors.Is(err, mscerrors.KindInvalidArgument) {
		t.Fatalf("got %v, want KindInvalidArgument", err)
	}
}

func TestRegistryRejectsMissingProxyURL(t *testing.T) {
	_, err := storage.New(Name, map[string]interface{}{"bucket": "b"})
	if !mscerrors.Is(err, mscerrors.KindInvalidArgument) {
		t.Fatalf("got %v, want KindInvalidArgument", err)
	}
}

func TestTranslateErrorClassifiesBySubstring(t *testing.T) {
	cases := []struct {
		msg  string
		kind mscerrors.Kind
	}{
		{"object foo does not exist", mscerrors.KindNotFound},
		{"GET failed: 404 not found", mscerrors.KindNotFound},
		{"PUT failed: 412 precondition failed", mscerrors.KindPreconditionFailed},
		{"proxy returned 503, try again later", mscerrors.KindRetryable},
		{"some other failure", mscerrors.KindRuntime},
	}
	for _, c := range cases {
		err := translateError(errors.New(c.msg), "bucket", "key")
		if !mscerrors.Is(err, c.kind) {
			t.Errorf("translateError(%q) kind mismatch, want %s, got %v", c.msg, c.kind, err)
		}
	}
}

func TestTranslateErrorNilIsNil(t *testing.T) {
	if err := translateError(nil, "b", "k"); err != nil {
		t.Fatalf("translateError(nil) = %v, want nil", err)
	}
}

func TestMemReaderReopens(t *testing.T) {
	r := newMemReader([]byte("hello"))
	first, _ := io.ReadAll(r)
	if string(first) != "hello" {
		t.Fatalf("first read = %q, want hello", first)
	}
	reopened, err := r.Open()
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	second, _ := io.ReadAll(reopened)
	if string(second) != "hello" {
		t.Fatalf("reopened read = %q, want hello", second)
	}
}

func TestDirOf(t *testing.T) {
	cases := map[string]string{
		"a/b/c.txt": "a/b",
		"c.txt":     ".",
	}
	for in, want := range cases {
		if got := dirOf(in); got != want {
			t.Errorf("dirOf(%q) = %q, want %q", in, got, want)
		}
	}
}
