// Package posix implements the StorageProvider contract over a local
// POSIX filesystem: atomic writes via temp-file + rename, owner-only
// file permissions, and best-effort extended-attribute user metadata.
package posix

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/objectfs/msc/pkg/errors"
	"github.com/objectfs/msc/pkg/objmeta"
	"github.com/objectfs/msc/pkg/storage"
)

// Name is the storage_provider.type string this backend registers under.
const Name = "file"

func init() {
	storage.Register(Name, func(options map[string]interface{}) (storage.Provider, error) {
		basePath, _ := options["base_path"].(string)
		return New(basePath)
	})
}

// Provider is the POSIX filesystem backend. It is a thin Provider-facing
// shell around storage.Base, which does path rewriting and calls back
// into delegate for the actual filesystem work.
type Provider struct {
	base *storage.Base
}

// New constructs a POSIX provider rooted at basePath, which must be
// absolute (empty is treated as "/").
func New(basePath string) (*Provider, error) {
	if basePath == "" {
		basePath = "/"
	}
	if basePath[0] != '/' {
		return nil, errors.InvalidArgument("posix base_path %q must be an absolute path", basePath)
	}
	p := &Provider{}
	p.base = &storage.Base{RealRoot: basePath, Delegate: &delegate{}}
	return p, nil
}

func (p *Provider) Name() string { return Name }

func (p *Provider) PutObject(ctx context.Context, path string, body []byte, opts storage.PutOptions) error {
	return p.base.PutObject(ctx, path, body, opts)
}

func (p *Provider) GetObject(ctx context.Context, path string, rng *objmeta.Range) ([]byte, error) {
	return p.base.GetObject(ctx, path, rng)
}

func (p *Provider) CopyObject(ctx context.Context, src, dest string) (uint64, error) {
	return p.base.CopyObject(ctx, src, dest)
}

func (p *Provider) DeleteObject(ctx context.Context, path string, ifMatch string) error {
	return p.base.DeleteObject(ctx, path, ifMatch)
}

func (p *Provider) GetObjectMetadata(ctx context.Context, path string, strict bool) (objmeta.ObjectMetadata, error) {
	return p.base.GetObjectMetadata(ctx, path, strict)
}

func (p *Provider) ListObjects(ctx context.Context, opts storage.ListOptions) (storage.ObjectIterator, error) {
	return p.base.ListObjects(ctx, opts)
}

func (p *Provider) UploadFile(ctx context.Context, remotePath, sourcePath string) (uint64, error) {
	return p.base.UploadFile(ctx, remotePath, sourcePath)
}

func (p *Provider) DownloadFile(ctx context.Context, remotePath, sinkPath string) (uint64, error) {
	return p.base.DownloadFile(ctx, remotePath, sinkPath)
}

func (p *Provider) Glob(ctx context.Context, pattern string) ([]string, error) {
	return p.base.Glob(ctx, pattern)
}

func (p *Provider) IsFile(ctx context.Context, path string) (bool, error) {
	return p.base.IsFile(ctx, path)
}

// delegate implements storage.Delegate against the local filesystem. Its
// paths are always "real" (already base-path-joined).
type delegate struct{}

func (d *delegate) Name() string { return Name }

func (d *delegate) PutObject(ctx context.Context, realPath string, body []byte, opts storage.PutOptions) error {
	if opts.IfNoneMatch == "*" {
		if _, err := os.Stat(realPath); err == nil {
			return errors.PreconditionFailed("", realPath)
		}
	}
	if opts.IfMatch != "" {
		cur, err := readXattrEtag(realPath)
		if err == nil && cur != opts.IfMatch {
			return errors.PreconditionFailed("", realPath)
		}
	}
	if err := os.MkdirAll(filepath.Dir(realPath), 0o750); err != nil {
		return errors.Runtime("", realPath, err)
	}
	if err := atomicWrite(bytes.NewReader(body), realPath); err != nil {
		return errors.Runtime("", realPath, err)
	}
	if err := os.Chmod(realPath, 0o600); err != nil {
		return errors.Runtime("", realPath, err)
	}
	if len(opts.UserMetadata) > 0 {
		_ = writeXattrMetadata(realPath, opts.UserMetadata) // best-effort, dropped silently if unsupported
	}
	return nil
}

func (d *delegate) GetObject(ctx context.Context, realPath string, rng *objmeta.Range) ([]byte, error) {
	f, err := os.Open(realPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NotFound("", realPath)
		}
		return nil, errors.Runtime("", realPath, err)
	}
	defer f.Close()

	if rng == nil {
		data, err := io.ReadAll(f)
		if err != nil {
			return nil, errors.Runtime("", realPath, err)
		}
		return data, nil
	}
	if _, err := f.Seek(int64(rng.Offset), io.SeekStart); err != nil {
		return nil, errors.Runtime("", realPath, err)
	}
	buf := make([]byte, rng.Size)
	n, err := io.ReadFull(f, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return nil, errors.Runtime("", realPath, err)
	}
	return buf[:n], nil
}

func (d *delegate) CopyObject(ctx context.Context, realSrc, realDest string) (uint64, error) {
	info, err := os.Stat(realSrc)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, errors.NotFound("", realSrc)
		}
		return 0, errors.Runtime("", realSrc, err)
	}
	src, err := os.Open(realSrc)
	if err != nil {
		return 0, errors.Runtime("", realSrc, err)
	}
	defer src.Close()

	if err := os.MkdirAll(filepath.Dir(realDest), 0o750); err != nil {
		return 0, errors.Runtime("", realDest, err)
	}
	if err := atomicWrite(src, realDest); err != nil {
		return 0, errors.Runtime("", realDest, err)
	}
	_ = os.Chmod(realDest, 0o600)
	return uint64(info.Size()), nil
}

func (d *delegate) DeleteObject(ctx context.Context, realPath string, ifMatch string) error {
	if ifMatch != "" {
		cur, err := readXattrEtag(realPath)
		if err == nil && cur != ifMatch {
			return errors.PreconditionFailed("", realPath)
		}
	}
	info, err := os.Stat(realPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.Runtime("", realPath, err)
	}
	if info.IsDir() {
		return nil
	}
	if err := os.Remove(realPath); err != nil && !os.IsNotExist(err) {
		return errors.Runtime("", realPath, err)
	}
	return nil
}

func (d *delegate) GetObjectMetadata(ctx context.Context, realPath string, strict bool) (objmeta.ObjectMetadata, error) {
	probePath := realPath
	isDirProbe := len(probePath) > 0 && probePath[len(probePath)-1] == '/'
	if isDirProbe {
		probePath = probePath[:len(probePath)-1]
	}

	info, err := os.Stat(probePath)
	if err != nil {
		if !strict && !isDirProbe {
			// Non-strict mode retries a file-style miss as a directory probe.
			if dirInfo, dirErr := os.Stat(probePath); dirErr == nil && dirInfo.IsDir() {
				return objmeta.ObjectMetadata{
					Key:          probePath,
					Type:         objmeta.TypeDirectory,
					LastModified: dirInfo.ModTime().UTC(),
				}, nil
			}
		}
		return objmeta.ObjectMetadata{}, errors.NotFound("", realPath)
	}

	if info.IsDir() {
		return objmeta.ObjectMetadata{
			Key:          probePath,
			Type:         objmeta.TypeDirectory,
			LastModified: info.ModTime().UTC(),
		}, nil
	}

	m := objmeta.ObjectMetadata{
		Key:           probePath,
		Type:          objmeta.TypeFile,
		ContentLength: info.Size(),
		LastModified:  info.ModTime().UTC(),
	}
	if etag, err := readXattrEtag(probePath); err == nil {
		m.ETag = etag
	}
	if md, err := readXattrMetadata(probePath); err == nil {
		m.Metadata = md
	}
	return m, nil
}

// ListObjects lists objects under realPrefix. With IncludeDirectories it
// lists a single directory level, synthesizing directory entries for
// subdirectories (the delimiter-listing contract). Without it, it walks
// the whole subtree and returns every file as a flat, sorted key list
// (the default, non-delimited contract every backend shares).
func (d *delegate) ListObjects(ctx context.Context, realPrefix string, opts storage.ListOptions) (storage.ObjectIterator, error) {
	if opts.IncludeDirectories {
		return d.listSingleLevel(realPrefix, opts)
	}
	return d.listRecursive(realPrefix, opts)
}

func (d *delegate) listSingleLevel(realPrefix string, opts storage.ListOptions) (storage.ObjectIterator, error) {
	entries, err := os.ReadDir(realPrefix)
	if err != nil {
		if os.IsNotExist(err) {
			return storage.NewSliceIterator(nil), nil
		}
		return nil, errors.Runtime("", realPrefix, err)
	}

	var items []objmeta.ObjectMetadata
	var dirNames []string
	for _, e := range entries {
		if e.IsDir() {
			dirNames = append(dirNames, e.Name())
		}
	}
	sort.Strings(dirNames)
	for _, name := range dirNames {
		full := filepath.Join(realPrefix, name) + "/"
		var mtime time.Time
		if info, err := os.Stat(full); err == nil {
			mtime = info.ModTime().UTC()
		}
		items = append(items, objmeta.ObjectMetadata{
			Key:           full,
			Type:          objmeta.TypeDirectory,
			ContentLength: 0,
			LastModified:  mtime,
		})
	}

	for _, name := range sortedFileNames(entries) {
		full := filepath.Join(realPrefix, name)
		if opts.StartAfter != "" && !(opts.StartAfter < full) {
			continue
		}
		if opts.EndAt != "" && full > opts.EndAt {
			continue
		}
		info, err := os.Stat(full)
		if err != nil {
			continue
		}
		items = append(items, objmeta.ObjectMetadata{
			Key:           full,
			Type:          objmeta.TypeFile,
			ContentLength: info.Size(),
			LastModified:  info.ModTime().UTC(),
		})
	}

	return storage.NewSliceIterator(items), nil
}

func (d *delegate) listRecursive(realPrefix string, opts storage.ListOptions) (storage.ObjectIterator, error) {
	var items []objmeta.ObjectMetadata
	err := filepath.WalkDir(realPrefix, func(p string, entry os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if entry.IsDir() {
			return nil
		}
		if opts.StartAfter != "" && !(opts.StartAfter < p) {
			return nil
		}
		if opts.EndAt != "" && p > opts.EndAt {
			return nil
		}
		info, err := entry.Info()
		if err != nil {
			return nil
		}
		items = append(items, objmeta.ObjectMetadata{
			Key:           p,
			Type:          objmeta.TypeFile,
			ContentLength: info.Size(),
			LastModified:  info.ModTime().UTC(),
		})
		return nil
	})
	if err != nil {
		return nil, errors.Runtime("", realPrefix, err)
	}
	// filepath.WalkDir visits directory entries sorted by name, which
	// does not always match a flat lexicographic key sort (e.g. "b.txt"
	// vs "b/y.txt" — the well-known S3 directory-ordering exception);
	// a final explicit sort on the full key guarantees the listing
	// contract regardless of walk order.
	sort.Slice(items, func(i, j int) bool { return items[i].Key < items[j].Key })
	return storage.NewSliceIterator(items), nil
}

func (d *delegate) UploadFile(ctx context.Context, realRemotePath, sourcePath string) (uint64, error) {
	info, err := os.Stat(sourcePath)
	if err != nil {
		return 0, errors.Runtime("", sourcePath, err)
	}
	src, err := os.Open(sourcePath)
	if err != nil {
		return 0, errors.Runtime("", sourcePath, err)
	}
	defer src.Close()

	if err := os.MkdirAll(filepath.Dir(realRemotePath), 0o750); err != nil {
		return 0, errors.Runtime("", realRemotePath, err)
	}
	if err := atomicWrite(src, realRemotePath); err != nil {
		return 0, errors.Runtime("", realRemotePath, err)
	}
	_ = os.Chmod(realRemotePath, 0o600)
	return uint64(info.Size()), nil
}

func (d *delegate) DownloadFile(ctx context.Context, realRemotePath, sinkPath string) (uint64, error) {
	info, err := os.Stat(realRemotePath)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, errors.NotFound("", realRemotePath)
		}
		return 0, errors.Runtime("", realRemotePath, err)
	}
	src, err := os.Open(realRemotePath)
	if err != nil {
		return 0, errors.Runtime("", realRemotePath, err)
	}
	defer src.Close()

	if err := os.MkdirAll(filepath.Dir(sinkPath), 0o750); err != nil {
		return 0, errors.Runtime("", sinkPath, err)
	}
	if err := atomicWrite(src, sinkPath); err != nil {
		return 0, errors.Runtime("", sinkPath, err)
	}
	return uint64(info.Size()), nil
}

// atomicWrite writes src to destination via a temp file in the same
// directory, then renames into place, per the POSIX atomic-write
// contract every provider in this family follows.
func atomicWrite(src io.Reader, destination string) error {
	dir := filepath.Dir(destination)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(destination)+".*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := io.Copy(tmp, src); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, destination)
}

func sortedFileNames(entries []os.DirEntry) []string {
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names
}

