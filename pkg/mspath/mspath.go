// Package mspath implements the path manipulation and glob matching
// helpers shared by every storage backend: base-path joining, key-prefix
// extraction for directory-emulation backends, literal-prefix extraction
// from glob patterns, and glob matching with *//?/[...]/** support.
package mspath

import (
	"path"
	"strings"
)

// Join concatenates basePath and p with exactly one separating slash,
// stripping p's leading slashes first, without
// cleaning ".."/"." segments (keys are opaque strings, not filesystem
// paths, for flat-key backends).
func Join(basePath, p string) string {
	p = strings.TrimPrefix(p, "/")
	if basePath == "" {
		return p
	}
	if p == "" {
		return strings.TrimSuffix(basePath, "/")
	}
	return strings.TrimSuffix(basePath, "/") + "/" + p
}

// KeyPrefix extracts the key portion of a base path — for "bucket/prefix"
// style base paths, the part after the first "/". For a bare bucket
// ("bucket" or "bucket/") it returns "".
func KeyPrefix(basePath string) string {
	basePath = strings.TrimSuffix(basePath, "/")
	idx := strings.Index(basePath, "/")
	if idx < 0 {
		return ""
	}
	return basePath[idx+1:]
}

// Bucket extracts the bucket/container portion of a base path: the
// segment before the first "/".
func Bucket(basePath string) string {
	basePath = strings.TrimSuffix(basePath, "/")
	idx := strings.Index(basePath, "/")
	if idx < 0 {
		return basePath
	}
	return basePath[:idx]
}

// NormalizePrefix ensures a non-empty prefix ends in "/", the contract
// manifest and provider listings share.
func NormalizePrefix(prefix string) string {
	if prefix == "" {
		return ""
	}
	if !strings.HasSuffix(prefix, "/") {
		return prefix + "/"
	}
	return prefix
}

// LiteralPrefix returns the directory portion (up to and including the
// last "/") of a glob pattern that precedes its first wildcard character,
// or the whole pattern when it has no wildcard; used to scope
// list_objects calls before client-side filtering.
func LiteralPrefix(pattern string) string {
	idx := strings.IndexAny(pattern, "*?[")
	if idx < 0 {
		return pattern
	}
	prefix := pattern[:idx]
	if i := strings.LastIndex(prefix, "/"); i >= 0 {
		return prefix[:i+1]
	}
	return ""
}

// GlobMatch reports whether key matches pattern. Pattern supports "*"
// (any run of non-"/" characters), "?" (single non-"/" character),
// "[...]" character classes, and "**" (globstar: matches zero or more
// complete path segments, including "/").
func GlobMatch(pattern, key string) bool {
	return globMatch(splitPattern(pattern), strings.Split(key, "/"))
}

// splitPattern splits a glob pattern into path segments while keeping
// "**" as a distinguished segment.
func splitPattern(pattern string) []string {
	return strings.Split(pattern, "/")
}

func globMatch(patSegs, keySegs []string) bool {
	if len(patSegs) == 0 {
		return len(keySegs) == 0
	}
	head := patSegs[0]
	if head == "**" {
		if len(patSegs) == 1 {
			return true
		}
		for i := 0; i <= len(keySegs); i++ {
			if globMatch(patSegs[1:], keySegs[i:]) {
				return true
			}
		}
		return false
	}
	if len(keySegs) == 0 {
		return false
	}
	ok, err := path.Match(head, keySegs[0])
	if err != nil || !ok {
		return false
	}
	return globMatch(patSegs[1:], keySegs[1:])
}
