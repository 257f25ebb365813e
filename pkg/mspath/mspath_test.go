package mspath

import "testing"

func TestJoin(t *testing.T) {
	cases := []struct{ base, p, want string }{
		{"bucket/prefix", "a/b.txt", "bucket/prefix/a/b.txt"},
		{"bucket", "/a/b.txt", "bucket/a/b.txt"},
		{"", "a/b.txt", "a/b.txt"},
		{"bucket/prefix/", "", "bucket/prefix"},
	}
	for _, tc := range cases {
		if got := Join(tc.base, tc.p); got != tc.want {
			t.Errorf("Join(%q, %q) = %q, want %q", tc.base, tc.p, got, tc.want)
		}
	}
}

func TestKeyPrefixAndBucket(t *testing.T) {
	if got := KeyPrefix("bucket/prefix"); got != "prefix" {
		t.Errorf("KeyPrefix = %q, want prefix", got)
	}
	if got := KeyPrefix("bucket"); got != "" {
		t.Errorf("KeyPrefix(bare bucket) = %q, want empty", got)
	}
	if got := Bucket("bucket/prefix"); got != "bucket" {
		t.Errorf("Bucket = %q, want bucket", got)
	}
}

func TestLiteralPrefix(t *testing.T) {
	cases := []struct{ pattern, want string }{
		{"a/b/*.ext", "a/b/"},
		{"**/*.ext", ""},
		{"a/b/c.txt", "a/b/c.txt"},
		{"*.ext", ""},
	}
	for _, tc := range cases {
		if got := LiteralPrefix(tc.pattern); got != tc.want {
			t.Errorf("LiteralPrefix(%q) = %q, want %q", tc.pattern, got, tc.want)
		}
	}
}

func TestGlobMatch(t *testing.T) {
	cases := []struct {
		pattern, key string
		want         bool
	}{
		{"*.ext", "top.ext", true},
		{"*.ext", "a/nested.ext", false},
		{"**/*.ext", "a/b/c.ext", true},
		{"**/*.ext", "top.ext", true},
		{"a/**/c.ext", "a/b/d/c.ext", true},
		{"a/**/c.ext", "a/c.ext", true},
		{"a/?.txt", "a/b.txt", true},
		{"a/[bc].txt", "a/d.txt", false},
	}
	for _, tc := range cases {
		if got := GlobMatch(tc.pattern, tc.key); got != tc.want {
			t.Errorf("GlobMatch(%q, %q) = %v, want %v", tc.pattern, tc.key, got, tc.want)
		}
	}
}
