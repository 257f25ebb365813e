// Package gcs implements the storage.Delegate contract over Google
// Cloud Storage using cloud.google.com/go/storage, mirroring the
// Provider/delegate shape pkg/storage/s3 and pkg/storage/azure follow.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	gcstorage "cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	mscerrors "github.com/objectfs/msc/pkg/errors"
	"github.com/objectfs/msc/pkg/mspath"
	"github.com/objectfs/msc/pkg/objmeta"
	"github.com/objectfs/msc/pkg/storage"
)

// Name is the storage_provider.type string this backend registers under.
const Name = "gcs"

func init() {
	storage.Register(Name, func(options map[string]interface{}) (storage.Provider, error) {
		bucket, _ := options["bucket"].(string)
		if bucket == "" {
			return nil, mscerrors.InvalidArgument("gcs: options.bucket is required")
		}
		basePath, _ := options["base_path"].(string)

		cfg := Config{}
		cfg.CredentialsFile, _ = options["credentials_file"].(string)
		cfg.ProjectID, _ = options["project_id"].(string)

		return New(context.Background(), bucket, basePath, cfg)
	})
}

// Config configures a Google Cloud Storage provider. An empty
// CredentialsFile falls back to application-default credentials.
type Config struct {
	CredentialsFile string
	ProjectID       string
	Multipart       storage.MultipartConfig
}

func (c Config) withDefaults() Config {
	if c.Multipart.ThresholdBytes <= 0 {
		c.Multipart = storage.DefaultMultipartConfig()
	}
	return c
}

// New constructs a GCS provider bound to bucketName, rooted at the
// key-prefix portion of basePath.
func New(ctx context.Context, bucketName, basePath string, cfg Config) (*Provider, error) {
	cfg = cfg.withDefaults()

	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	client, err := gcstorage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("gcs: creating client: %w", err)
	}

	d := &delegate{bucket: client.Bucket(bucketName), bucketName: bucketName, multipart: cfg.Multipart}
	return &Provider{base: &storage.Base{RealRoot: mspath.NormalizePrefix(basePath), Delegate: d}}, nil
}

// Provider is the Google Cloud Storage backend.
type Provider struct {
	base *storage.Base
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

// delegate implements storage.Delegate against a GCS bucket. realPath
// arguments are object names, already base-path-joined.
//
// GCS conditional writes are generation-based, not ETag-based, so
// GetObjectMetadata reports the object's generation number (decimal,
// as a string) as its ETag — self-consistent for msc's own
// if-match/if-none-match contract even though it doesn't match what
// GCS calls an object's ETag over the wire.
type delegate struct {
	bucket     *gcstorage.BucketHandle
	bucketName string
	multipart  storage.MultipartConfig
}

func (d *delegate) Name() string { return Name }

func (d *delegate) PutObject(ctx context.Context, realPath string, body []byte, opts storage.PutOptions) error {
	obj := d.bucket.Object(realPath)
	if opts.IfNoneMatch == "*" {
		obj = obj.If(gcstorage.Conditions{DoesNotExist: true})
	} else if opts.IfMatch != "" {
		if gen, err := strconv.ParseInt(opts.IfMatch, 10, 64); err == nil {
			obj = obj.If(gcstorage.Conditions{GenerationMatch: gen})
		}
	}

	w := obj.NewWriter(ctx)
	if opts.ContentType != "" {
		w.ContentType = opts.ContentType
	}
	if len(opts.UserMetadata) > 0 {
		w.Metadata = opts.UserMetadata
	}
	if _, err := w.Write(body); err != nil {
		_ = w.Close()
		return translateError(err, d.bucketName, realPath)
	}
	if err := w.Close(); err != nil {
		return translateError(err, d.bucketName, realPath)
	}
	return nil
}

func (d *delegate) GetObject(ctx context.Context, realPath string, rng *objmeta.Range) ([]byte, error) {
	var r *gcstorage.Reader
	var err error
	if rng != nil {
		r, err = d.bucket.Object(realPath).NewRangeReader(ctx, int64(rng.Offset), int64(rng.Size))
	} else {
		r, err = d.bucket.Object(realPath).NewReader(ctx)
	}
	if err != nil {
		return nil, translateError(err, d.bucketName, realPath)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, mscerrors.Runtime(d.bucketName, realPath, err)
	}
	return data, nil
}

func (d *delegate) CopyObject(ctx context.Context, realSrc, realDest string) (uint64, error) {
	src := d.bucket.Object(realSrc)
	dst := d.bucket.Object(realDest)
	attrs, err := dst.CopierFrom(src).Run(ctx)
	if err != nil {
		return 0, translateError(err, d.bucketName, realDest)
	}
	return uint64(attrs.Size), nil
}

func (d *delegate) DeleteObject(ctx context.Context, realPath string, ifMatch string) error {
	obj := d.bucket.Object(realPath)
	if ifMatch != "" {
		if gen, err := strconv.ParseInt(ifMatch, 10, 64); err == nil {
			obj = obj.If(gcstorage.Conditions{GenerationMatch: gen})
		}
	}
	if err := obj.Delete(ctx); err != nil && !errors.Is(err, gcstorage.ErrObjectNotExist) {
		return translateError(err, d.bucketName, realPath)
	}
	return nil
}

func (d *delegate) GetObjectMetadata(ctx context.Context, realPath string, strict bool) (objmeta.ObjectMetadata, error) {
	if strings.HasSuffix(realPath, "/") {
		return d.probeDirectory(ctx, realPath)
	}

	attrs, err := d.bucket.Object(realPath).Attrs(ctx)
	if err != nil {
		if !strict && errors.Is(err, gcstorage.ErrObjectNotExist) {
			if meta, dirErr := d.probeDirectory(ctx, realPath+"/"); dirErr == nil {
				return meta, nil
			}
		}
		return objmeta.ObjectMetadata{}, translateError(err, d.bucketName, realPath)
	}
	return attrsToMetadata(attrs), nil
}

func (d *delegate) probeDirectory(ctx context.Context, realPrefix string) (objmeta.ObjectMetadata, error) {
	it := d.bucket.Objects(ctx, &gcstorage.Query{Prefix: realPrefix})
	_, err := it.Next()
	if err == iterator.Done {
		return objmeta.ObjectMetadata{}, mscerrors.NotFound(d.bucketName, realPrefix)
	}
	if err != nil {
		return objmeta.ObjectMetadata{}, translateError(err, d.bucketName, realPrefix)
	}
	return objmeta.ObjectMetadata{Key: strings.TrimSuffix(realPrefix, "/"), Type: objmeta.TypeDirectory}, nil
}

func (d *delegate) ListObjects(ctx context.Context, realPrefix string, opts storage.ListOptions) (storage.ObjectIterator, error) {
	query := &gcstorage.Query{Prefix: realPrefix, StartOffset: opts.StartAfter}
	if opts.EndAt != "" {
		// EndOffset is exclusive; the NUL suffix keeps EndAt itself in range.
		query.EndOffset = opts.EndAt + "\x00"
	}
	if opts.IncludeDirectories {
		query.Delimiter = "/"
	}
	it := d.bucket.Objects(ctx, query)
	return &objectIterator{it: it, startAfter: opts.StartAfter, prefixLen: len(realPrefix)}, nil
}

func (d *delegate) UploadFile(ctx context.Context, realRemotePath, sourcePath string) (uint64, error) {
	data, err := os.ReadFile(sourcePath)
	if err != nil {
		return 0, mscerrors.Runtime(d.bucketName, realRemotePath, err)
	}
	if err := d.PutObject(ctx, realRemotePath, data, storage.PutOptions{}); err != nil {
		return 0, err
	}
	return uint64(len(data)), nil
}

func (d *delegate) DownloadFile(ctx context.Context, realRemotePath, sinkPath string) (uint64, error) {
	data, err := d.GetObject(ctx, realRemotePath, nil)
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(dirOf(sinkPath), 0o750); err != nil {
		return 0, mscerrors.Runtime(d.bucketName, realRemotePath, err)
	}
	if err := os.WriteFile(sinkPath, data, 0o600); err != nil {
		return 0, mscerrors.Runtime(d.bucketName, realRemotePath, err)
	}
	return uint64(len(data)), nil
}

func dirOf(p string) string {
	i := strings.LastIndexByte(p, '/')
	if i < 0 {
		return "."
	}
	return p[:i]
}

func attrsToMetadata(attrs *gcstorage.ObjectAttrs) objmeta.ObjectMetadata {
	return objmeta.ObjectMetadata{
		Key:           attrs.Name,
		Type:          objmeta.TypeFile,
		ContentLength: attrs.Size,
		ContentType:   attrs.ContentType,
		ETag:          strconv.FormatInt(attrs.Generation, 10),
		LastModified:  attrs.Updated,
		Metadata:      attrs.Metadata,
	}
}

// translateError maps a GCS client error into msc's structured error
// taxonomy, checking the package sentinels first and falling back to
// the HTTP status googleapi.Error carries.
func translateError(err error, bucket, key string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gcstorage.ErrObjectNotExist) || errors.Is(err, gcstorage.ErrBucketNotExist) {
		return mscerrors.NotFound(bucket, key)
	}

	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch gerr.Code {
		case 404:
			return mscerrors.NotFound(bucket, key)
		case 412:
			return mscerrors.PreconditionFailed(bucket, key)
		case 304:
			return mscerrors.NotModified(bucket, key)
		case 429, 500, 502, 503, 504:
			return mscerrors.Retryable(err, fmt.Sprintf("gcs %s/%s", bucket, key))
		}
	}
	return mscerrors.Runtime(bucket, key, err)
}

// objectIterator adapts *gcstorage.ObjectIterator to storage.ObjectIterator,
// applying the StartAfter cutoff client-side since GCS's StartOffset is
// already passed through as a query parameter but is not guaranteed
// exclusive across all object-name encodings.
type objectIterator struct {
	it         *gcstorage.ObjectIterator
	startAfter string
	prefixLen  int

	err error
	cur objmeta.ObjectMetadata
}

func (oi *objectIterator) Next(ctx context.Context) bool {
	for {
		attrs, err := oi.it.Next()
		if err == iterator.Done {
			return false
		}
		if err != nil {
			oi.err = translateError(err, "", "")
			return false
		}
		if attrs.Prefix != "" {
			oi.cur = objmeta.ObjectMetadata{Key: strings.TrimSuffix(attrs.Prefix, "/"), Type: objmeta.TypeDirectory}
		} else {
			oi.cur = attrsToMetadata(attrs)
		}
		if oi.startAfter != "" && oi.cur.Key <= oi.startAfter {
			continue
		}
		return true
	}
}

func (oi *objectIterator) Object() objmeta.ObjectMetadata { return oi.cur }
func (oi *objectIterator) Err() error                     { return oi.err }
func (oi *objectIterator) Close() error                   { return nil }
