// Package storage defines the normalized StorageProvider contract every
// msc backend satisfies, plus Base, the path-rewriting wrapper every
// concrete backend delegates to.
package storage

import (
	"context"
	"io"

	"github.com/objectfs/msc/pkg/errors"
	"github.com/objectfs/msc/pkg/objmeta"
)

// ListOptions controls list_objects pagination and directory emulation.
// StartAfter is exclusive (key > StartAfter); EndAt is inclusive
// (key <= EndAt). If both are set, StartAfter must be < EndAt.
type ListOptions struct {
	Prefix             string
	StartAfter         string
	EndAt              string
	IncludeDirectories bool
}

// Validate enforces the start_after < end_at contract.
func (o ListOptions) Validate() error {
	if o.StartAfter != "" && o.EndAt != "" && !(o.StartAfter < o.EndAt) {
		return errors.InvalidArgument("start_after (%s) must be < end_at (%s)", o.StartAfter, o.EndAt)
	}
	return nil
}

// ObjectIterator yields ObjectMetadata in ascending key order where the
// backend guarantees lexicographic order (see provider docs for
// exceptions, e.g. S3 directory buckets).
type ObjectIterator interface {
	// Next advances the iterator. It returns false when iteration is
	// complete or an error occurred; callers must check Err() after a
	// false return.
	Next(ctx context.Context) bool
	Object() objmeta.ObjectMetadata
	Err() error
	Close() error
}

// Provider is the normalized operation contract every msc storage
// backend implements. All paths are logical: relative to the provider's
// configured base path, never including a "msc://profile/" prefix.
type Provider interface {
	// PutObject writes body to path. IfMatch, when non-empty, requires
	// the existing object's ETag to match. IfNoneMatch="*" requests
	// create-if-absent.
	PutObject(ctx context.Context, path string, body []byte, opts PutOptions) error

	// GetObject reads path, optionally restricted to a byte range.
	GetObject(ctx context.Context, path string, rng *objmeta.Range) ([]byte, error)

	// CopyObject copies src to dest within the same provider, returning
	// the number of bytes copied.
	CopyObject(ctx context.Context, src, dest string) (uint64, error)

	// DeleteObject removes path. IfMatch, when non-empty, requires the
	// existing object's ETag to match.
	DeleteObject(ctx context.Context, path string, ifMatch string) error

	// GetObjectMetadata returns metadata for path. In strict mode a HEAD
	// miss never falls back to a directory probe; in non-strict mode
	// (the default) it does.
	GetObjectMetadata(ctx context.Context, path string, strict bool) (objmeta.ObjectMetadata, error)

	// ListObjects lists objects under opts.Prefix. The returned iterator
	// must be closed by the caller.
	ListObjects(ctx context.Context, opts ListOptions) (ObjectIterator, error)

	// UploadFile uploads the local file at sourcePath to remotePath.
	// Only the S3 backend with EnableTransportOptimization switches to a
	// multipart transfer above the multipart threshold; every other
	// backend uploads with a single write whatever the file size.
	UploadFile(ctx context.Context, remotePath, sourcePath string) (uint64, error)

	// DownloadFile downloads remotePath to the local file at sinkPath.
	DownloadFile(ctx context.Context, remotePath, sinkPath string) (uint64, error)

	// Glob expands pattern (supporting *, ?, [...], and ** globstar)
	// against the provider's keyspace.
	Glob(ctx context.Context, pattern string) ([]string, error)

	// IsFile reports whether path exists as an object. It never returns
	// an error; a NotFound condition is reported as (false, nil).
	IsFile(ctx context.Context, path string) (bool, error)

	// Name identifies the backend type for logging and registry lookup
	// ("file", "s3", "s8k", "azure", "gcs", "oci", "ais").
	Name() string
}

// PutOptions carries the optional conditional-write and metadata
// arguments to PutObject.
type PutOptions struct {
	ContentType   string
	UserMetadata  map[string]string
	IfMatch       string
	IfNoneMatch   string // "*" for create-if-absent; empty for unconditional.
	ContentReader io.Reader
}

// MultipartConfig holds the multipart threshold, part size and
// concurrency. Only the S3 backend's transporter (EnableTransportOptimization)
// reads it; the Azure, GCS and OCI backends keep it in their config but
// do not use it.
type MultipartConfig struct {
	ThresholdBytes int64
	PartSizeBytes  int64
	MaxConcurrency int
}

// DefaultMultipartConfig mirrors the defaults every backend starts from:
// 512 MiB threshold, 256 MiB parts, 16-way concurrency.
func DefaultMultipartConfig() MultipartConfig {
	return MultipartConfig{
		ThresholdBytes: 512 * 1024 * 1024,
		PartSizeBytes:  256 * 1024 * 1024,
		MaxConcurrency: 16,
	}
}
