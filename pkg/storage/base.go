package storage

import (
	"context"
	"strings"

	"github.com/objectfs/msc/pkg/errors"
	"github.com/objectfs/msc/pkg/mspath"
	"github.com/objectfs/msc/pkg/objmeta"
)

// Base wraps a concrete backend-specific implementation and performs the
// path-rewriting every backend shares: prepending RealRoot to logical
// paths on the way in, stripping it from returned keys on the way out.
// Concrete backends hold a *Base, implement the Delegate interface, and
// forward each Provider method to Base's exported method of the same name.
//
// RealRoot is the portion of the configured base_path the Delegate's
// "real path" argument actually carries. For POSIX it is the whole
// base_path (an absolute filesystem path). For bucket-based backends
// (S3, Azure, GCS, OCI) the bucket/container is supplied to the backend
// client separately, so RealRoot is only the key-prefix portion of
// base_path (mspath.KeyPrefix(basePath)), which may be empty for a bare
// bucket.
type Base struct {
	RealRoot string
	Delegate Delegate
}

// Delegate is the backend-specific half of a Provider: operations
// expressed purely in terms of "real" (already base-path-prefixed)
// paths. Base translates Provider's logical-path calls into Delegate
// calls and back.
type Delegate interface {
	Name() string
	PutObject(ctx context.Context, realPath string, body []byte, opts PutOptions) error
	GetObject(ctx context.Context, realPath string, rng *objmeta.Range) ([]byte, error)
	CopyObject(ctx context.Context, realSrc, realDest string) (uint64, error)
	DeleteObject(ctx context.Context, realPath string, ifMatch string) error
	GetObjectMetadata(ctx context.Context, realPath string, strict bool) (objmeta.ObjectMetadata, error)
	ListObjects(ctx context.Context, realPrefix string, opts ListOptions) (ObjectIterator, error)
	UploadFile(ctx context.Context, realRemotePath, sourcePath string) (uint64, error)
	DownloadFile(ctx context.Context, realRemotePath, sinkPath string) (uint64, error)
}

// Realpath joins RealRoot with the logical path, stripping any leading
// slash from path first, so logical paths are always relative keys.
func (b *Base) Realpath(p string) string {
	return mspath.Join(b.RealRoot, objmeta.NormalizeKey(p))
}

// StripBase removes RealRoot's prefix from a real key so callers see
// paths relative to base_path.
func (b *Base) StripBase(realKey string) string {
	if b.RealRoot == "" {
		return realKey
	}
	return strings.TrimPrefix(strings.TrimPrefix(realKey, b.RealRoot), "/")
}

func (b *Base) Name() string { return b.Delegate.Name() }

func (b *Base) PutObject(ctx context.Context, p string, body []byte, opts PutOptions) error {
	return b.Delegate.PutObject(ctx, b.Realpath(p), body, opts)
}

func (b *Base) GetObject(ctx context.Context, p string, rng *objmeta.Range) ([]byte, error) {
	return b.Delegate.GetObject(ctx, b.Realpath(p), rng)
}

func (b *Base) CopyObject(ctx context.Context, src, dest string) (uint64, error) {
	return b.Delegate.CopyObject(ctx, b.Realpath(src), b.Realpath(dest))
}

func (b *Base) DeleteObject(ctx context.Context, p string, ifMatch string) error {
	return b.Delegate.DeleteObject(ctx, b.Realpath(p), ifMatch)
}

func (b *Base) GetObjectMetadata(ctx context.Context, p string, strict bool) (objmeta.ObjectMetadata, error) {
	m, err := b.Delegate.GetObjectMetadata(ctx, b.Realpath(p), strict)
	if err != nil {
		return m, err
	}
	m.Key = b.StripBase(m.Key)
	return m, nil
}

func (b *Base) ListObjects(ctx context.Context, opts ListOptions) (ObjectIterator, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	realOpts := opts
	realOpts.Prefix = b.Realpath(mspath.NormalizePrefix(opts.Prefix))
	if opts.StartAfter != "" {
		realOpts.StartAfter = b.Realpath(opts.StartAfter)
	}
	if opts.EndAt != "" {
		realOpts.EndAt = b.Realpath(opts.EndAt)
	}
	it, err := b.Delegate.ListObjects(ctx, realOpts.Prefix, realOpts)
	if err != nil {
		return nil, err
	}
	return &strippingIterator{base: b, inner: it}, nil
}

func (b *Base) UploadFile(ctx context.Context, remotePath, sourcePath string) (uint64, error) {
	return b.Delegate.UploadFile(ctx, b.Realpath(remotePath), sourcePath)
}

func (b *Base) DownloadFile(ctx context.Context, remotePath, sinkPath string) (uint64, error) {
	return b.Delegate.DownloadFile(ctx, b.Realpath(remotePath), sinkPath)
}

func (b *Base) Glob(ctx context.Context, pattern string) ([]string, error) {
	literalPrefix := mspath.LiteralPrefix(pattern)
	it, err := b.ListObjects(ctx, ListOptions{Prefix: literalPrefix, IncludeDirectories: false})
	if err != nil {
		return nil, err
	}
	defer it.Close()

	var matches []string
	for it.Next(ctx) {
		obj := it.Object()
		if mspath.GlobMatch(pattern, obj.Key) {
			matches = append(matches, obj.Key)
		}
	}
	return matches, it.Err()
}

func (b *Base) IsFile(ctx context.Context, p string) (bool, error) {
	_, err := b.GetObjectMetadata(ctx, p, true)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, errors.KindNotFound) {
		return false, nil
	}
	return false, nil
}

// strippingIterator strips RealRoot's key prefix from every object the
// delegate's iterator yields, so callers always see paths relative to
// base_path.
type strippingIterator struct {
	base  *Base
	inner ObjectIterator
	cur   objmeta.ObjectMetadata
}

func (s *strippingIterator) Next(ctx context.Context) bool {
	if !s.inner.Next(ctx) {
		return false
	}
	s.cur = s.inner.Object()
	s.cur.Key = s.base.StripBase(s.cur.Key)
	return true
}

func (s *strippingIterator) Object() objmeta.ObjectMetadata { return s.cur }
func (s *strippingIterator) Err() error                     { return s.inner.Err() }
func (s *strippingIterator) Close() error                   { return s.inner.Close() }
