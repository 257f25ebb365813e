// Package providercache implements the storage-provider-backed cache
// variant: another storage profile (s3/s8k family) serves as the cache
// substrate, useful for hot-tier sharing across a cluster. Eviction is
// not supported; coordination locks are no-ops since the substrate is
// assumed to provide its own consistency.
package providercache

import (
	"bytes"
	"context"
	"io"
	"path"

	"github.com/objectfs/msc/pkg/cache"
	"github.com/objectfs/msc/pkg/errors"
	"github.com/objectfs/msc/pkg/storage"
)

const etagMetadataKey = "etag"

// Backend is the StorageProviderBackend cache variant.
type Backend struct {
	provider storage.Provider
	prefix   string
	useEtag  bool
}

// New constructs a provider-backed cache under "<cachePath>/<profile>"
// on the given substrate provider.
func New(provider storage.Provider, cachePath, profile string, useEtag bool) *Backend {
	return &Backend{
		provider: provider,
		prefix:   path.Join(cachePath, profile),
		useEtag:  useEtag,
	}
}

func (b *Backend) realKey(key string) (string, string) {
	p, etag := cache.SplitKey(key)
	return path.Join(b.prefix, p), etag
}

func (b *Backend) Read(ctx context.Context, key string) ([]byte, bool, error) {
	realKey, etag := b.realKey(key)
	if b.useEtag && etag != "" {
		info, err := b.provider.GetObjectMetadata(ctx, realKey, false)
		if err != nil || info.Metadata[etagMetadataKey] != etag {
			return nil, false, nil
		}
	}
	data, err := b.provider.GetObject(ctx, realKey, nil)
	if err != nil {
		if errors.Is(err, errors.KindNotFound) || errors.Is(err, errors.KindPreconditionFailed) {
			return nil, false, nil
		}
		// Substrate errors degrade to a cache miss, not a propagated
		// failure, per the read-path failure policy.
		return nil, false, nil
	}
	return data, true, nil
}

func (b *Backend) Open(ctx context.Context, key string) (io.ReadCloser, bool, error) {
	data, ok, err := b.Read(ctx, key)
	if err != nil || !ok {
		return nil, ok, err
	}
	return io.NopCloser(bytes.NewReader(data)), true, nil
}

func (b *Backend) Set(ctx context.Context, key string, source cache.Source) error {
	realKey, etag := b.realKey(key)
	body := source.Bytes
	if source.IsPath() {
		return errors.NotSupported("providercache", "Set from local path")
	}
	opts := storage.PutOptions{}
	if etag != "" {
		opts.UserMetadata = map[string]string{etagMetadataKey: etag}
	}
	if err := b.provider.PutObject(ctx, realKey, body, opts); err != nil {
		return nil // swallowed: substrate write failures degrade to a no-op, per failure policy
	}
	return nil
}

func (b *Backend) Contains(ctx context.Context, key string) (bool, error) {
	realKey, etag := b.realKey(key)
	info, err := b.provider.GetObjectMetadata(ctx, realKey, false)
	if err != nil {
		return false, nil
	}
	if b.useEtag && etag != "" {
		return info.Metadata[etagMetadataKey] == etag, nil
	}
	return true, nil
}

func (b *Backend) Delete(ctx context.Context, key string) error {
	realKey, _ := b.realKey(key)
	_ = b.provider.DeleteObject(ctx, realKey, "")
	return nil
}

func (b *Backend) CacheSize(ctx context.Context) (int64, error) {
	it, err := b.provider.ListObjects(ctx, storage.ListOptions{Prefix: b.prefix})
	if err != nil {
		return 0, nil
	}
	defer it.Close()
	var total int64
	for it.Next(ctx) {
		total += it.Object().ContentLength
	}
	return total, nil
}

// RefreshCache is a no-op: only no_eviction is supported for this
// backend, since S3-family object tagging/listing cost isn't universal
// enough to gate a sweep on.
func (b *Backend) RefreshCache(ctx context.Context) (bool, error) {
	return true, nil
}

// AcquireLock returns a dummy lock: coordination across writers sharing
// this substrate is assumed to be external.
func (b *Backend) AcquireLock(key string) (cache.Lock, error) {
	return dummyLock{}, nil
}

type dummyLock struct{}

func (dummyLock) Lock(ctx context.Context) error { return nil }
func (dummyLock) Unlock() error                  { return nil }

var _ cache.Backend = (*Backend)(nil)
