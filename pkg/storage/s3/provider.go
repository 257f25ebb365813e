package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strings"

	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	awsconfig "github.com/scttfrdmn/cargoship/pkg/aws/config"
	cargoships3 "github.com/scttfrdmn/cargoship/pkg/aws/s3"

	mscerrors "github.com/objectfs/msc/pkg/errors"
	"github.com/objectfs/msc/pkg/mspath"
	"github.com/objectfs/msc/pkg/objmeta"
	"github.com/objectfs/msc/pkg/storage"
)

// NameS3 and NameS8K are the storage_provider.type strings this package
// registers under. S8K (the SwiftStack legacy-retry variant, modeled on IBM
// COS/S8K endpoints) shares the same delegate; only the reported name
// differs.
const (
	NameS3  = "s3"
	NameS8K = "s8k"
)

func init() {
	storage.Register(NameS3, func(options map[string]interface{}) (storage.Provider, error) {
		return newFromOptions(options, false)
	})
	storage.Register(NameS8K, func(options map[string]interface{}) (storage.Provider, error) {
		return newFromOptions(options, true)
	})
}

func newFromOptions(options map[string]interface{}, legacyRetry bool) (storage.Provider, error) {
	bucket, _ := options["bucket"].(string)
	if bucket == "" {
		return nil, mscerrors.InvalidArgument("s3: options.bucket is required")
	}
	basePath, _ := options["base_path"].(string)

	cfg := Config{LegacyRetryMode: legacyRetry}
	cfg.Region, _ = options["region"].(string)
	cfg.Endpoint, _ = options["endpoint"].(string)
	cfg.ForcePathStyle, _ = options["force_path_style"].(bool)
	cfg.UseAccelerate, _ = options["use_accelerate"].(bool)
	cfg.UseDualStack, _ = options["use_dual_stack"].(bool)
	cfg.AccessKeyID, _ = options["access_key_id"].(string)
	cfg.SecretAccessKey, _ = options["secret_access_key"].(string)
	cfg.SessionToken, _ = options["session_token"].(string)
	cfg.EnableTransportOptimization, _ = options["enable_transport_optimization"].(bool)
	if v, ok := options["max_retries"].(int); ok {
		cfg.MaxRetries = v
	}
	if v, ok := options["pool_size"].(int); ok {
		cfg.PoolSize = v
	}

	return New(context.Background(), bucket, basePath, cfg)
}

// api is the narrow slice of *s3.Client this package calls through,
// letting tests substitute a fake in-memory implementation instead of
// hitting real S3.
type api interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	CopyObject(ctx context.Context, params *s3.CopyObjectInput, optFns ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
}

// Provider is the S3 (and S8K) backend. Like every backend it is a thin
// Provider-facing shell around storage.Base.
type Provider struct {
	base *storage.Base
}

func (p *Provider) Name() string { return p.base.Name() }

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

// New constructs an S3 provider for bucket, rooted at the key-prefix
// portion of the configured base path (basePath carries the
// bucket already stripped out; per mspath.KeyPrefix convention, callers
// configuring from a single "bucket/prefix" string should pass
// mspath.KeyPrefix(that string) here).
func New(ctx context.Context, bucket, basePath string, cfg Config) (*Provider, error) {
	cfg = cfg.withDefaults()

	client, err := newClient(ctx, cfg)
	if err != nil {
		return nil, err
	}

	pool, err := newConnectionPool(cfg.PoolSize, func() (api, error) { return client, nil })
	if err != nil {
		return nil, err
	}

	var transporter *cargoships3.Transporter
	if cfg.EnableTransportOptimization {
		transporter = cargoships3.NewTransporter(client, awsconfig.S3Config{
			Bucket:             bucket,
			StorageClass:       awsconfig.StorageClassStandard,
			MultipartThreshold: cfg.Multipart.ThresholdBytes,
			MultipartChunkSize: cfg.Multipart.PartSizeBytes,
			Concurrency:        cfg.Multipart.MaxConcurrency,
		})
	}

	name := NameS3
	if cfg.LegacyRetryMode {
		name = NameS8K
	}

	d := &delegate{
		name:        name,
		bucket:      bucket,
		pool:        pool,
		transporter: transporter,
		multipart:   cfg.Multipart,
	}

	p := &Provider{base: &storage.Base{RealRoot: mspath.NormalizePrefix(basePath), Delegate: d}}
	return p, nil
}

func newClient(ctx context.Context, cfg Config) (*s3.Client, error) {
	var optFns []func(*config.LoadOptions) error
	optFns = append(optFns, config.WithRegion(cfg.Region), config.WithRetryMaxAttempts(cfg.MaxRetries))
	if cfg.AccessKeyID != "" {
		optFns = append(optFns, config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken,
		)))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		return nil, fmt.Errorf("s3: loading AWS config: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = &cfg.Endpoint
		}
		o.UsePathStyle = cfg.ForcePathStyle
		o.UseAccelerate = cfg.UseAccelerate
		o.UseDualstack = cfg.UseDualStack
	}), nil
}

// delegate implements storage.Delegate against S3. realPath arguments
// are already base-path-joined keys, never including the bucket.
type delegate struct {
	name        string
	bucket      string
	pool        *connectionPool
	transporter *cargoships3.Transporter
	multipart   storage.MultipartConfig
}

func (d *delegate) Name() string { return d.name }

func (d *delegate) PutObject(ctx context.Context, realPath string, body []byte, opts storage.PutOptions) error {
	input := &s3.PutObjectInput{
		Bucket:      &d.bucket,
		Key:         &realPath,
		Body:        bytes.NewReader(body),
		ContentType: stringOrNil(opts.ContentType),
	}
	if opts.IfMatch != "" {
		input.IfMatch = &opts.IfMatch
	}
	if opts.IfNoneMatch != "" {
		input.IfNoneMatch = &opts.IfNoneMatch
	}
	if len(opts.UserMetadata) > 0 {
		input.Metadata = opts.UserMetadata
	}

	if d.transporter != nil && int64(len(body)) >= d.multipart.ThresholdBytes {
		archive := cargoships3.Archive{
			Key:      realPath,
			Reader:   bytes.NewReader(body),
			Size:     int64(len(body)),
			Metadata: opts.UserMetadata,
		}
		if _, err := d.transporter.Upload(ctx, archive); err == nil {
			return nil
		}
		// fall through to a standard PutObject on transporter failure.
	}

	client := d.pool.get()
	defer d.pool.put(client)
	_, err := client.PutObject(ctx, input)
	if err != nil {
		return translateError(err, d.bucket, realPath)
	}
	return nil
}

func (d *delegate) GetObject(ctx context.Context, realPath string, rng *objmeta.Range) ([]byte, error) {
	input := &s3.GetObjectInput{Bucket: &d.bucket, Key: &realPath}
	if rng != nil {
		r := rng.HTTPRange()
		input.Range = &r
	}

	client := d.pool.get()
	defer d.pool.put(client)
	out, err := client.GetObject(ctx, input)
	if err != nil {
		return nil, translateError(err, d.bucket, realPath)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, mscerrors.Runtime(d.bucket, realPath, err)
	}
	return data, nil
}

func (d *delegate) CopyObject(ctx context.Context, realSrc, realDest string) (uint64, error) {
	source := d.bucket + "/" + realSrc
	client := d.pool.get()
	defer d.pool.put(client)
	_, err := client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     &d.bucket,
		Key:        &realDest,
		CopySource: &source,
	})
	if err != nil {
		return 0, translateError(err, d.bucket, realSrc)
	}

	meta, err := d.GetObjectMetadata(ctx, realDest, true)
	if err != nil {
		return 0, err
	}
	return uint64(meta.ContentLength), nil
}

func (d *delegate) DeleteObject(ctx context.Context, realPath string, ifMatch string) error {
	if ifMatch != "" {
		meta, err := d.GetObjectMetadata(ctx, realPath, true)
		if err == nil && meta.ETag != ifMatch {
			return mscerrors.PreconditionFailed(d.bucket, realPath)
		}
	}

	client := d.pool.get()
	defer d.pool.put(client)
	_, err := client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: &d.bucket, Key: &realPath})
	if err != nil {
		return translateError(err, d.bucket, realPath)
	}
	return nil
}

func (d *delegate) GetObjectMetadata(ctx context.Context, realPath string, strict bool) (objmeta.ObjectMetadata, error) {
	if strings.HasSuffix(realPath, "/") {
		return d.probeDirectory(ctx, realPath)
	}

	client := d.pool.get()
	out, err := client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: &d.bucket, Key: &realPath})
	d.pool.put(client)
	if err != nil {
		mscErr := translateError(err, d.bucket, realPath)
		if !strict && mscerrors.Is(mscErr, mscerrors.KindNotFound) {
			if meta, dirErr := d.probeDirectory(ctx, realPath+"/"); dirErr == nil {
				return meta, nil
			}
		}
		return objmeta.ObjectMetadata{}, mscErr
	}

	m := objmeta.ObjectMetadata{
		Key:           realPath,
		Type:          objmeta.TypeFile,
		ContentLength: derefInt64(out.ContentLength),
		ContentType:   derefString(out.ContentType),
		ETag:          strings.Trim(derefString(out.ETag), `"`),
		StorageClass:  string(out.StorageClass),
		Metadata:      out.Metadata,
	}
	if out.LastModified != nil {
		m.LastModified = *out.LastModified
	}
	return m, nil
}

func (d *delegate) probeDirectory(ctx context.Context, realPrefix string) (objmeta.ObjectMetadata, error) {
	client := d.pool.get()
	defer d.pool.put(client)
	maxKeys := int32(1)
	out, err := client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  &d.bucket,
		Prefix:  &realPrefix,
		MaxKeys: &maxKeys,
	})
	if err != nil {
		return objmeta.ObjectMetadata{}, translateError(err, d.bucket, realPrefix)
	}
	if len(out.Contents) == 0 {
		return objmeta.ObjectMetadata{}, mscerrors.NotFound(d.bucket, realPrefix)
	}
	return objmeta.ObjectMetadata{
		Key:  strings.TrimSuffix(realPrefix, "/"),
		Type: objmeta.TypeDirectory,
	}, nil
}

func (d *delegate) ListObjects(ctx context.Context, realPrefix string, opts storage.ListOptions) (storage.ObjectIterator, error) {
	delimiter := ""
	if opts.IncludeDirectories {
		delimiter = "/"
	}
	return &pageIterator{
		ctx:        ctx,
		client:     d.pool.get(),
		pool:       d.pool,
		bucket:     d.bucket,
		prefix:     realPrefix,
		delimiter:  delimiter,
		startAfter: opts.StartAfter,
		endAt:      opts.EndAt,
	}, nil
}

func (d *delegate) UploadFile(ctx context.Context, realRemotePath, sourcePath string) (uint64, error) {
	f, err := os.Open(sourcePath)
	if err != nil {
		return 0, mscerrors.Runtime(d.bucket, realRemotePath, err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return 0, mscerrors.Runtime(d.bucket, realRemotePath, err)
	}

	if d.transporter != nil && info.Size() >= d.multipart.ThresholdBytes {
		archive := cargoships3.Archive{Key: realRemotePath, Reader: f, Size: info.Size()}
		if _, err := d.transporter.Upload(ctx, archive); err == nil {
			return uint64(info.Size()), nil
		}
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return 0, mscerrors.Runtime(d.bucket, realRemotePath, err)
		}
	}

	size := info.Size()
	client := d.pool.get()
	defer d.pool.put(client)
	_, err = client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        &d.bucket,
		Key:           &realRemotePath,
		Body:          f,
		ContentLength: &size,
	})
	if err != nil {
		return 0, translateError(err, d.bucket, realRemotePath)
	}
	return uint64(info.Size()), nil
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

func stringOrNil(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func derefInt64(v *int64) int64 {
	if v == nil {
		return 0
	}
	return *v
}

// translateError maps an AWS SDK v2 error into msc's structured error
// taxonomy. S3 exposes some conditions (NoSuchKey) as typed errors and
// others (412 precondition failed) only as an HTTP status on the
// response, so both paths are checked.
func translateError(err error, bucket, key string) error {
	if err == nil {
		return nil
	}

	var nsk *s3types.NoSuchKey
	if errors.As(err, &nsk) {
		return mscerrors.NotFound(bucket, key)
	}
	var nsb *s3types.NoSuchBucket
	if errors.As(err, &nsb) {
		return mscerrors.NotFound(bucket, "")
	}
	var notFound *s3types.NotFound
	if errors.As(err, &notFound) {
		return mscerrors.NotFound(bucket, key)
	}

	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) {
		switch respErr.HTTPStatusCode() {
		case http.StatusNotFound:
			return mscerrors.NotFound(bucket, key)
		case http.StatusPreconditionFailed:
			return mscerrors.PreconditionFailed(bucket, key)
		case http.StatusNotModified:
			return mscerrors.NotModified(bucket, key)
		case http.StatusTooManyRequests, http.StatusServiceUnavailable, http.StatusBadGateway, http.StatusGatewayTimeout, http.StatusInternalServerError:
			return mscerrors.Retryable(err, fmt.Sprintf("s3 %s/%s", bucket, key))
		}
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "PreconditionFailed":
			return mscerrors.PreconditionFailed(bucket, key)
		case "SlowDown", "RequestTimeout", "ThrottlingException", "InternalError":
			return mscerrors.Retryable(err, apiErr.ErrorMessage())
		case "NoSuchKey", "NotFound":
			return mscerrors.NotFound(bucket, key)
		}
	}

	return mscerrors.Runtime(bucket, key, err)
}

// pageIterator paginates ListObjectsV2, applying the client-side EndAt
// cutoff (S3 has no native end-key parameter) and synthesizing
// directory entries from CommonPrefixes for a delimited listing.
type pageIterator struct {
	ctx        context.Context
	client     api
	pool       *connectionPool
	bucket     string
	prefix     string
	delimiter  string
	startAfter string
	endAt      string

	token *string
	page  []objmeta.ObjectMetadata
	pos   int
	done  bool
	err   error
	cur   objmeta.ObjectMetadata
}

func (it *pageIterator) Next(ctx context.Context) bool {
	for {
		if it.pos < len(it.page) {
			it.cur = it.page[it.pos]
			it.pos++
			if it.endAt != "" && it.cur.Key > it.endAt {
				it.done = true
				return false
			}
			return true
		}
		if it.done {
			return false
		}
		if !it.fetchPage(ctx) {
			return false
		}
	}
}

func (it *pageIterator) fetchPage(ctx context.Context) bool {
	input := &s3.ListObjectsV2Input{
		Bucket:            &it.bucket,
		Prefix:            &it.prefix,
		ContinuationToken: it.token,
	}
	if it.delimiter != "" {
		input.Delimiter = &it.delimiter
	}
	if it.startAfter != "" {
		input.StartAfter = &it.startAfter
	}

	out, err := it.client.ListObjectsV2(ctx, input)
	if err != nil {
		it.err = translateError(err, it.bucket, it.prefix)
		it.done = true
		return false
	}

	var page []objmeta.ObjectMetadata
	for _, prefix := range out.CommonPrefixes {
		if prefix.Prefix == nil {
			continue
		}
		page = append(page, objmeta.ObjectMetadata{
			Key:  strings.TrimSuffix(*prefix.Prefix, "/"),
			Type: objmeta.TypeDirectory,
		})
	}
	for _, obj := range out.Contents {
		m := objmeta.ObjectMetadata{
			Key:           derefString(obj.Key),
			Type:          objmeta.TypeFile,
			ContentLength: derefInt64(obj.Size),
			ETag:          strings.Trim(derefString(obj.ETag), `"`),
			StorageClass:  string(obj.StorageClass),
		}
		if obj.LastModified != nil {
			m.LastModified = *obj.LastModified
		}
		page = append(page, m)
	}
	sort.Slice(page, func(i, j int) bool { return page[i].Key < page[j].Key })

	it.page = page
	it.pos = 0
	if out.IsTruncated != nil && *out.IsTruncated {
		it.token = out.NextContinuationToken
	} else {
		it.done = true
	}
	return len(page) > 0 || !it.done
}

func (it *pageIterator) Object() objmeta.ObjectMetadata { return it.cur }
func (it *pageIterator) Err() error                     { return it.err }
func (it *pageIterator) Close() error {
	it.pool.put(it.client)
	return nil
}
