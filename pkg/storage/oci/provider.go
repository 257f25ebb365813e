// Package oci implements the storage.Delegate contract over Oracle
// Cloud Infrastructure Object Storage using oci-go-sdk/v65, mirroring
// the Provider/delegate shape the other cloud backends follow.
package oci

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/oracle/oci-go-sdk/v65/common"
	"github.com/oracle/oci-go-sdk/v65/objectstorage"

	mscerrors "github.com/objectfs/msc/pkg/errors"
	"github.com/objectfs/msc/pkg/mspath"
	"github.com/objectfs/msc/pkg/objmeta"
	"github.com/objectfs/msc/pkg/storage"
)

// Name is the storage_provider.type string this backend registers under.
const Name = "oci"

func init() {
	storage.Register(Name, func(options map[string]interface{}) (storage.Provider, error) {
		bucket, _ := options["bucket"].(string)
		if bucket == "" {
			return nil, mscerrors.InvalidArgument("oci: options.bucket is required")
		}
		basePath, _ := options["base_path"].(string)

		cfg := Config{}
		cfg.ConfigFile, _ = options["config_file"].(string)
		cfg.Profile, _ = options["profile"].(string)
		cfg.Namespace, _ = options["namespace"].(string)

		return New(context.Background(), bucket, basePath, cfg)
	})
}

// Config configures an OCI Object Storage provider. ConfigFile/Profile
// select an OCI CLI-style config section; an empty ConfigFile falls
// back to the SDK's default configuration provider.
type Config struct {
	ConfigFile string
	Profile    string
	Namespace  string
	Multipart  storage.MultipartConfig
}

func (c Config) withDefaults() Config {
	if c.Multipart.ThresholdBytes <= 0 {
		c.Multipart = storage.DefaultMultipartConfig()
	}
	return c
}

// New constructs an OCI provider bound to bucketName, rooted at the
// key-prefix portion of basePath.
func New(ctx context.Context, bucketName, basePath string, cfg Config) (*Provider, error) {
	cfg = cfg.withDefaults()

	provider, err := configProvider(cfg)
	if err != nil {
		return nil, err
	}
	client, err := objectstorage.NewObjectStorageClientWithConfigurationProvider(provider)
	if err != nil {
		return nil, fmt.Errorf("oci: creating client: %w", err)
	}

	namespace := cfg.Namespace
	if namespace == "" {
		resp, err := client.GetNamespace(ctx, objectstorage.GetNamespaceRequest{})
		if err != nil {
			return nil, fmt.Errorf("oci: resolving namespace: %w", err)
		}
		namespace = *resp.Value
	}

	d := &delegate{client: client, namespace: namespace, bucket: bucketName, multipart: cfg.Multipart}
	return &Provider{base: &storage.Base{RealRoot: mspath.NormalizePrefix(basePath), Delegate: d}}, nil
}

func configProvider(cfg Config) (common.ConfigurationProvider, error) {
	if cfg.ConfigFile != "" {
		profile := cfg.Profile
		if profile == "" {
			profile = "DEFAULT"
		}
		return common.ConfigurationProviderFromFileWithProfile(cfg.ConfigFile, profile, "")
	}
	return common.DefaultConfigProvider(), nil
}

// Provider is the Oracle Cloud Infrastructure Object Storage backend.
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

// delegate implements storage.Delegate against an OCI Object Storage
// bucket. realPath arguments are object names, already base-path-joined.
type delegate struct {
	client    objectstorage.ObjectStorageClient
	namespace string
	bucket    string
	multipart storage.MultipartConfig
}

func (d *delegate) Name() string { return Name }

func (d *delegate) PutObject(ctx context.Context, realPath string, body []byte, opts storage.PutOptions) error {
	req := objectstorage.PutObjectRequest{
		NamespaceName: &d.namespace,
		BucketName:    &d.bucket,
		ObjectName:    &realPath,
		ContentLength: int64Ptr(int64(len(body))),
		PutObjectBody: io.NopCloser(strings.NewReader(string(body))),
	}
	if opts.ContentType != "" {
		req.ContentType = &opts.ContentType
	}
	if len(opts.UserMetadata) > 0 {
		req.OpcMeta = opts.UserMetadata
	}
	if opts.IfMatch != "" {
		req.IfMatch = &opts.IfMatch
	}
	if opts.IfNoneMatch != "" {
		req.IfNoneMatch = &opts.IfNoneMatch
	}

	_, err := d.client.PutObject(ctx, req)
	if err != nil {
		return translateError(err, d.bucket, realPath)
	}
	return nil
}

func (d *delegate) GetObject(ctx context.Context, realPath string, rng *objmeta.Range) ([]byte, error) {
	req := objectstorage.GetObjectRequest{
		NamespaceName: &d.namespace,
		BucketName:    &d.bucket,
		ObjectName:    &realPath,
	}
	if rng != nil {
		header := rng.HTTPRange()
		req.Range = &header
	}

	resp, err := d.client.GetObject(ctx, req)
	if err != nil {
		return nil, translateError(err, d.bucket, realPath)
	}
	defer resp.Content.Close()

	data, err := io.ReadAll(resp.Content)
	if err != nil {
		return nil, mscerrors.Runtime(d.bucket, realPath, err)
	}
	return data, nil
}

func (d *delegate) CopyObject(ctx context.Context, realSrc, realDest string) (uint64, error) {
	data, err := d.GetObject(ctx, realSrc, nil)
	if err != nil {
		return 0, err
	}
	if err := d.PutObject(ctx, realDest, data, storage.PutOptions{}); err != nil {
		return 0, err
	}
	return uint64(len(data)), nil
}

func (d *delegate) DeleteObject(ctx context.Context, realPath string, ifMatch string) error {
	req := objectstorage.DeleteObjectRequest{
		NamespaceName: &d.namespace,
		BucketName:    &d.bucket,
		ObjectName:    &realPath,
	}
	if ifMatch != "" {
		req.IfMatch = &ifMatch
	}
	_, err := d.client.DeleteObject(ctx, req)
	if err == nil {
		return nil
	}
	if mscErr := translateError(err, d.bucket, realPath); !mscerrors.Is(mscErr, mscerrors.KindNotFound) {
		return mscErr
	}
	return nil
}

func (d *delegate) GetObjectMetadata(ctx context.Context, realPath string, strict bool) (objmeta.ObjectMetadata, error) {
	if strings.HasSuffix(realPath, "/") {
		return d.probeDirectory(ctx, realPath)
	}

	req := objectstorage.HeadObjectRequest{
		NamespaceName: &d.namespace,
		BucketName:    &d.bucket,
		ObjectName:    &realPath,
	}
	resp, err := d.client.HeadObject(ctx, req)
	if err != nil {
		mscErr := translateError(err, d.bucket, realPath)
		if !strict && mscerrors.Is(mscErr, mscerrors.KindNotFound) {
			if meta, dirErr := d.probeDirectory(ctx, realPath+"/"); dirErr == nil {
				return meta, nil
			}
		}
		return objmeta.ObjectMetadata{}, mscErr
	}

	m := objmeta.ObjectMetadata{Key: realPath, Type: objmeta.TypeFile, Metadata: resp.OpcMeta}
	if resp.ContentLength != nil {
		m.ContentLength = *resp.ContentLength
	}
	if resp.ContentType != nil {
		m.ContentType = *resp.ContentType
	}
	if resp.ETag != nil {
		m.ETag = *resp.ETag
	}
	if resp.LastModified != nil {
		m.LastModified = resp.LastModified.Time
	}
	return m, nil
}

func (d *delegate) probeDirectory(ctx context.Context, realPrefix string) (objmeta.ObjectMetadata, error) {
	limit := 1
	req := objectstorage.ListObjectsRequest{
		NamespaceName: &d.namespace,
		BucketName:    &d.bucket,
		Prefix:        &realPrefix,
		Limit:         &limit,
	}
	resp, err := d.client.ListObjects(ctx, req)
	if err != nil {
		return objmeta.ObjectMetadata{}, translateError(err, d.bucket, realPrefix)
	}
	if len(resp.Objects) == 0 {
		return objmeta.ObjectMetadata{}, mscerrors.NotFound(d.bucket, realPrefix)
	}
	return objmeta.ObjectMetadata{Key: strings.TrimSuffix(realPrefix, "/"), Type: objmeta.TypeDirectory}, nil
}

func (d *delegate) ListObjects(ctx context.Context, realPrefix string, opts storage.ListOptions) (storage.ObjectIterator, error) {
	return &pageIterator{ctx: ctx, client: d.client, namespace: d.namespace, bucket: d.bucket, prefix: realPrefix, opts: opts}, nil
}

func (d *delegate) UploadFile(ctx context.Context, realRemotePath, sourcePath string) (uint64, error) {
	data, err := os.ReadFile(sourcePath)
	if err != nil {
		return 0, mscerrors.Runtime(d.bucket, realRemotePath, err)
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
		return 0, mscerrors.Runtime(d.bucket, realRemotePath, err)
	}
	if err := os.WriteFile(sinkPath, data, 0o600); err != nil {
		return 0, mscerrors.Runtime(d.bucket, realRemotePath, err)
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

func int64Ptr(v int64) *int64 { return &v }

// translateError maps an OCI SDK error into msc's structured error
// taxonomy via common.ServiceError, the interface every OCI service
// error implements (HTTPStatus/GetCode/GetMessage).
func translateError(err error, bucket, key string) error {
	if err == nil {
		return nil
	}
	if svcErr, ok := common.IsServiceError(err); ok {
		switch svcErr.GetHTTPStatusCode() {
		case 404:
			return mscerrors.NotFound(bucket, key)
		case 412:
			return mscerrors.PreconditionFailed(bucket, key)
		case 304:
			return mscerrors.NotModified(bucket, key)
		case 429, 500, 502, 503, 504:
			return mscerrors.Retryable(err, fmt.Sprintf("oci %s/%s", bucket, key))
		}
	}
	return mscerrors.Runtime(bucket, key, err)
}

// pageIterator paginates ListObjects, applying the client-side EndAt
// cutoff the way the other backends' iterators do.
type pageIterator struct {
	ctx       context.Context
	client    objectstorage.ObjectStorageClient
	namespace string
	bucket    string
	prefix    string
	opts      storage.ListOptions

	startWith *string
	page      []objmeta.ObjectMetadata
	pos       int
	done      bool
	err       error
	cur       objmeta.ObjectMetadata
}

func (it *pageIterator) Next(ctx context.Context) bool {
	for {
		if it.pos < len(it.page) {
			it.cur = it.page[it.pos]
			it.pos++
			if it.opts.EndAt != "" && it.cur.Key > it.opts.EndAt {
				it.done = true
				return false
			}
			return true
		}
		if it.done || !it.fetchPage(ctx) {
			return false
		}
	}
}

func (it *pageIterator) fetchPage(ctx context.Context) bool {
	req := objectstorage.ListObjectsRequest{
		NamespaceName: &it.namespace,
		BucketName:    &it.bucket,
		Prefix:        &it.prefix,
		Start:         it.startWith,
		Fields:        stringPtr("name,size,etag,timeModified"),
	}
	if it.opts.StartAfter != "" && it.startWith == nil {
		start := it.opts.StartAfter + "\x00"
		req.Start = &start
	}
	if it.opts.IncludeDirectories {
		delim := "/"
		req.Delimiter = &delim
	}

	resp, err := it.client.ListObjects(ctx, req)
	if err != nil {
		it.err = translateError(err, it.bucket, it.prefix)
		it.done = true
		return false
	}

	it.page = it.page[:0]
	it.pos = 0
	for _, p := range resp.Prefixes {
		it.page = append(it.page, objmeta.ObjectMetadata{Key: strings.TrimSuffix(p, "/"), Type: objmeta.TypeDirectory})
	}
	for _, o := range resp.Objects {
		if o.Name == nil {
			continue
		}
		m := objmeta.ObjectMetadata{Key: *o.Name, Type: objmeta.TypeFile}
		if o.Size != nil {
			m.ContentLength = *o.Size
		}
		if o.Etag != nil {
			m.ETag = *o.Etag
		}
		if o.TimeModified != nil {
			m.LastModified = o.TimeModified.Time
		}
		it.page = append(it.page, m)
	}

	if resp.NextStartWith != nil {
		it.startWith = resp.NextStartWith
	} else {
		it.done = true
	}
	return true
}

func stringPtr(s string) *string { return &s }

func (it *pageIterator) Object() objmeta.ObjectMetadata { return it.cur }
func (it *pageIterator) Err() error                     { return it.err }
func (it *pageIterator) Close() error                   { return nil }
