// Package client implements StorageClient, the orchestrator composing
// a storage provider with an optional metadata provider, an optional
// cache backend, and a retry policy into msc's single entry point for
// reads, writes, and deletes.
package client

import (
	"context"
	"time"

	"github.com/objectfs/msc/pkg/cache"
	"github.com/objectfs/msc/pkg/circuit"
	"github.com/objectfs/msc/pkg/errors"
	"github.com/objectfs/msc/pkg/objmeta"
	"github.com/objectfs/msc/pkg/retry"
	"github.com/objectfs/msc/pkg/storage"
	"github.com/objectfs/msc/pkg/storage/posix"
	"github.com/objectfs/msc/pkg/telemetry"
)

// MetadataProvider is the subset of *manifest.Provider the client
// needs: existence/etag resolution, and write-path index maintenance.
// Declared here (rather than importing pkg/manifest) so the client
// depends on a narrow interface, not the manifest package's full
// surface.
type MetadataProvider interface {
	GetObjectMetadata(ctx context.Context, path string, includePending bool) (objmeta.ObjectMetadata, error)
	ListObjects(ctx context.Context, opts storage.ListOptions) (storage.ObjectIterator, error)
	AddFile(path string, metadata objmeta.ObjectMetadata) error
	RemoveFile(path string) error
}

// Config wires a StorageClient's optional components together.
type Config struct {
	Provider         storage.Provider
	MetadataProvider MetadataProvider         // nil disables the metadata-indexed paths
	Cache            cache.Backend            // nil disables caching
	Breaker          *circuit.Breaker         // nil disables circuit breaking
	Metrics          *telemetry.Metrics       // nil disables metric emission
	Health           *telemetry.HealthTracker // nil disables health tracking
	UseEtag          bool
	Retry            retry.Config
}

// Client is the top-level orchestrator: read, write, and
// delete paths that layer metadata resolution, caching, and retry atop
// a single storage.Provider.
type Client struct {
	provider storage.Provider
	metadata MetadataProvider
	cache    cache.Backend
	breaker  *circuit.Breaker
	metrics  *telemetry.Metrics
	health   *telemetry.HealthTracker
	useEtag  bool
	retryer  *retry.Retryer
	ref      *Ref
}

// New constructs a Client from cfg. Provider is required; MetadataProvider
// and Cache are optional.
func New(cfg Config) *Client {
	return &Client{
		provider: cfg.Provider,
		metadata: cfg.MetadataProvider,
		cache:    cfg.Cache,
		breaker:  cfg.Breaker,
		metrics:  cfg.Metrics,
		health:   cfg.Health,
		useEtag:  cfg.UseEtag,
		retryer:  retry.New(cfg.Retry),
	}
}

// observe records one completed user-facing operation with the metrics
// and health trackers, when configured.
func (c *Client) observe(operation string, start time.Time, size int64, err error) {
	if c.metrics != nil {
		c.metrics.RecordOperation(operation, time.Since(start), size, err)
	}
	if c.health != nil {
		if err != nil {
			c.health.RecordError(c.provider.Name(), err)
		} else {
			c.health.RecordSuccess(c.provider.Name())
		}
	}
}

// HealthState reports the tracked health of the backing provider;
// StateHealthy when no tracker is configured.
func (c *Client) HealthState() telemetry.ComponentState {
	if c.health == nil {
		return telemetry.StateHealthy
	}
	return c.health.State(c.provider.Name())
}

// roundTrip runs one backend call through the circuit breaker when one
// is configured. An open breaker surfaces as KindRetryable, so the
// retry wrapper backs off through the breaker's cool-down instead of
// failing the operation outright.
func (c *Client) roundTrip(ctx context.Context, fn func(context.Context) error) error {
	if c.breaker == nil {
		return fn(ctx)
	}
	return c.breaker.Execute(ctx, fn)
}

// cachingDisabled reports whether this client should bypass its cache
// backend: either none is configured, or the backing provider is local
// POSIX, which gains nothing from a filesystem-backed cache in front
// of a filesystem.
func (c *Client) cachingDisabled() bool {
	return c.cache == nil || c.provider.Name() == posix.Name
}

// resolve confirms path exists through the metadata provider when one
// is configured, returning its ETag for cache-key purposes; the etag
// is "" when no metadata provider is configured.
func (c *Client) resolve(ctx context.Context, path string) (etag string, err error) {
	if c.metadata == nil {
		return "", nil
	}
	meta, err := c.metadata.GetObjectMetadata(ctx, path, true)
	if err != nil {
		return "", err
	}
	return meta.ETag, nil
}

// Read fetches path, optionally restricted to rng, using the metadata
// provider (if configured) to resolve existence, and the cache (if
// configured and applicable) to avoid a redundant backend fetch.
func (c *Client) Read(ctx context.Context, path string, rng *objmeta.Range) ([]byte, error) {
	start := time.Now()
	body, err := c.read(ctx, path, rng)
	c.observe("read", start, int64(len(body)), err)
	return body, err
}

func (c *Client) read(ctx context.Context, path string, rng *objmeta.Range) ([]byte, error) {
	metaEtag, err := c.resolve(ctx, path)
	if err != nil {
		return nil, err
	}

	if c.cachingDisabled() {
		return c.readThrough(ctx, path, rng)
	}

	etag := metaEtag
	if c.metadata == nil {
		etag, err = c.etagFor(ctx, path)
		if err != nil {
			return nil, err
		}
	}
	cacheKey := path
	if etag != "" {
		cacheKey = path + ":" + etag
	}

	cached, hit, err := c.cache.Read(ctx, cacheKey)
	if err != nil {
		return nil, err
	}
	if c.metrics != nil {
		c.metrics.RecordCacheHit(hit)
	}
	if hit {
		if rng == nil {
			return cached, nil
		}
		return sliceRange(cached, *rng), nil
	}

	if rng != nil {
		// Byte-range misses bypass the cache: fetch directly, do not populate.
		return c.readThrough(ctx, path, rng)
	}

	body, err := c.readThrough(ctx, path, nil)
	if err != nil {
		return nil, err
	}
	if err := c.cache.Set(ctx, cacheKey, cache.Source{Bytes: body}); err != nil {
		return nil, err
	}
	return body, nil
}

func sliceRange(body []byte, rng objmeta.Range) []byte {
	start := int(rng.Offset)
	if start > len(body) {
		start = len(body)
	}
	end := start + int(rng.Size)
	if end > len(body) || rng.Size == 0 {
		end = len(body)
	}
	return body[start:end]
}

// etagFor computes the cache-key etag from the storage provider's own
// HEAD, used only when no metadata provider is configured (its etag is
// already resolved by resolve()).
func (c *Client) etagFor(ctx context.Context, realPath string) (string, error) {
	if !c.useEtag {
		return "None", nil
	}
	meta, err := c.provider.GetObjectMetadata(ctx, realPath, true)
	if err != nil {
		return "", err
	}
	return meta.ETag, nil
}

func (c *Client) readThrough(ctx context.Context, realPath string, rng *objmeta.Range) ([]byte, error) {
	var body []byte
	err := c.retryer.Do(ctx, func(ctx context.Context) error {
		return c.roundTrip(ctx, func(ctx context.Context) error {
			var err error
			body, err = c.provider.GetObject(ctx, realPath, rng)
			return err
		})
	})
	return body, err
}

// Write stores body at path. If a metadata provider is configured and
// path already resolves to an existing entry, Write refuses with
// KindExists rather than silently overwriting the manifest's record.
func (c *Client) Write(ctx context.Context, path string, body []byte, opts storage.PutOptions) error {
	start := time.Now()
	err := c.write(ctx, path, body, opts)
	c.observe("write", start, int64(len(body)), err)
	return err
}

func (c *Client) write(ctx context.Context, path string, body []byte, opts storage.PutOptions) error {
	if c.metadata != nil {
		if _, err := c.metadata.GetObjectMetadata(ctx, path, true); err == nil {
			return errors.AlreadyExists("", path)
		}
	}

	err := c.retryer.Do(ctx, func(ctx context.Context) error {
		return c.roundTrip(ctx, func(ctx context.Context) error {
			return c.provider.PutObject(ctx, path, body, opts)
		})
	})
	if err != nil {
		return err
	}

	if c.metadata != nil {
		meta, err := c.provider.GetObjectMetadata(ctx, path, true)
		if err != nil {
			return err
		}
		return c.metadata.AddFile(path, meta)
	}
	return nil
}

// Delete removes path: metadata index entry first (if configured),
// then the backend object, then the cache entry (if configured).
func (c *Client) Delete(ctx context.Context, path string) error {
	start := time.Now()
	err := c.delete(ctx, path)
	c.observe("delete", start, 0, err)
	return err
}

func (c *Client) delete(ctx context.Context, path string) error {
	if c.metadata != nil {
		if err := c.metadata.RemoveFile(path); err != nil {
			return err
		}
	}

	err := c.retryer.Do(ctx, func(ctx context.Context) error {
		return c.roundTrip(ctx, func(ctx context.Context) error {
			return c.provider.DeleteObject(ctx, path, "")
		})
	})
	if err != nil {
		return err
	}

	if !c.cachingDisabled() {
		return c.cache.Delete(ctx, path)
	}
	return nil
}
