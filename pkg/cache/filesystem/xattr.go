package filesystem

import "github.com/pkg/xattr"

// etagXattrName stores the etag a cache entry was written with, so
// Contains/Read can check freshness without a side-channel index file.
const etagXattrName = "user.etag"

func readEtag(path string) (string, error) {
	data, err := xattr.Get(path, etagXattrName)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func writeEtag(path, etag string) error {
	return xattr.Set(path, etagXattrName, []byte(etag))
}
