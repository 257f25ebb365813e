package posix

import (
	"strings"

	"github.com/pkg/xattr"
)

// xattrEtagName is the extended attribute used to stash the ETag CAS
// token for conditional POSIX writes; the value is whatever the caller
// supplied; it is compared for equality only, never interpreted.
const xattrEtagName = "user.msc.etag"

// xattrMetaPrefix namespaces user-metadata extended attributes so they
// don't collide with the etag attribute or attributes other tools set.
const xattrMetaPrefix = "user.msc.meta."

func readXattrEtag(path string) (string, error) {
	data, err := xattr.Get(path, xattrEtagName)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// writeXattrMetadata stores each user-metadata key/value pair as its own
// extended attribute. Failure is never fatal: some filesystems (tmpfs
// without xattr support, certain network mounts) cannot store them, and
// metadata is then dropped rather than failing the write.
func writeXattrMetadata(path string, metadata map[string]string) error {
	for k, v := range metadata {
		if err := xattr.Set(path, xattrMetaPrefix+k, []byte(v)); err != nil {
			return err
		}
	}
	return nil
}

func readXattrMetadata(path string) (map[string]string, error) {
	names, err := xattr.List(path)
	if err != nil {
		return nil, err
	}
	md := map[string]string{}
	for _, name := range names {
		if !strings.HasPrefix(name, xattrMetaPrefix) {
			continue
		}
		data, err := xattr.Get(path, name)
		if err != nil {
			continue
		}
		md[strings.TrimPrefix(name, xattrMetaPrefix)] = string(data)
	}
	if len(md) == 0 {
		return nil, nil
	}
	return md, nil
}
