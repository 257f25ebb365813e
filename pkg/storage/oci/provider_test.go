package oci

import (
	"testing"

	mscerrors "github.com/objectfs/msc/pkg/errors"
	"github.com/objectfs/msc/pkg/storage"
)

func TestRegistryRejectsMissingBucket(t *testing.T) {
	_, err := storage.New(Name, map[string]interface{}{})
	if !mscerrors.Is(err, mscerrors.KindInvalidArgument) {
		t.Fatalf("got %v, want KindInvalidArgument", err)
	}
}

func TestConfigWithDefaultsFillsMultipart(t *testing.T) {
	cfg := Config{}.withDefaults()
	if cfg.Multipart.ThresholdBytes != storage.DefaultMultipartConfig().ThresholdBytes {
		t.Fatalf("Multipart = %+v, want defaults", cfg.Multipart)
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
