// Package azure implements the storage.Delegate contract over Azure
// Blob Storage using azblob, mirroring pkg/storage/s3's
// Provider/delegate shape: a thin Provider shell around storage.Base,
// a delegate operating on "real" (already base-path-joined) blob names.
package azure

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"

	mscerrors "github.com/objectfs/msc/pkg/errors"
	"github.com/objectfs/msc/pkg/mspath"
	"github.com/objectfs/msc/pkg/objmeta"
	"github.com/objectfs/msc/pkg/storage"
)

// Name is the storage_provider.type string this backend registers under.
const Name = "azure"

func init() {
	storage.Register(Name, func(options map[string]interface{}) (storage.Provider, error) {
		containerName, _ := options["container"].(string)
		if containerName == "" {
			return nil, mscerrors.InvalidArgument("azure: options.container is required")
		}
		basePath, _ := options["base_path"].(string)

		cfg := Config{}
		cfg.AccountName, _ = options["account_name"].(string)
		cfg.AccountKey, _ = options["account_key"].(string)
		cfg.ServiceURL, _ = options["service_url"].(string)
		cfg.ConnectionString, _ = options["connection_string"].(string)

		return New(containerName, basePath, cfg)
	})
}

// Config configures an Azure Blob Storage provider. ConnectionString,
// when set, takes priority over AccountName/AccountKey; ServiceURL
// defaults to "https://<account>.blob.core.windows.net/".
type Config struct {
	AccountName      string
	AccountKey       string
	ServiceURL       string
	ConnectionString string
	Multipart        storage.MultipartConfig
}

func (c Config) withDefaults() Config {
	if c.Multipart.ThresholdBytes <= 0 {
		c.Multipart = storage.DefaultMultipartConfig()
	}
	return c
}

// New constructs an Azure provider bound to containerName, rooted at the
// key-prefix portion of base_path.
func New(containerName, basePath string, cfg Config) (*Provider, error) {
	cfg = cfg.withDefaults()

	client, err := newClient(cfg)
	if err != nil {
		return nil, err
	}

	d := &delegate{client: client, container: containerName, multipart: cfg.Multipart}
	return &Provider{base: &storage.Base{RealRoot: mspath.NormalizePrefix(basePath), Delegate: d}}, nil
}

func newClient(cfg Config) (*azblob.Client, error) {
	if cfg.ConnectionString != "" {
		return azblob.NewClientFromConnectionString(cfg.ConnectionString, nil)
	}
	if cfg.AccountName == "" || cfg.AccountKey == "" {
		return nil, mscerrors.InvalidArgument("azure: account_name and account_key (or connection_string) are required")
	}
	serviceURL := cfg.ServiceURL
	if serviceURL == "" {
		serviceURL = fmt.Sprintf("https://%s.blob.core.windows.net/", cfg.AccountName)
	}
	cred, err := azblob.NewSharedKeyCredential(cfg.AccountName, cfg.AccountKey)
	if err != nil {
		return nil, fmt.Errorf("azure: building shared key credential: %w", err)
	}
	return azblob.NewClientWithSharedKeyCredential(serviceURL, cred, nil)
}

// Provider is the Azure Blob Storage backend.
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

// delegate implements storage.Delegate against Azure Blob Storage.
// realPath arguments are blob names, already base-path-joined.
type delegate struct {
	client    *azblob.Client
	container string
	multipart storage.MultipartConfig
}

func (d *delegate) Name() string { return Name }

func (d *delegate) blobClient(realPath string) *blob.Client {
	return d.client.ServiceClient().NewContainerClient(d.container).NewBlobClient(realPath)
}

func (d *delegate) PutObject(ctx context.Context, realPath string, body []byte, opts storage.PutOptions) error {
	uploadOpts := &azblob.UploadBufferOptions{}
	if len(opts.UserMetadata) > 0 {
		meta := make(map[string]*string, len(opts.UserMetadata))
		for k, v := range opts.UserMetadata {
			v := v
			meta[k] = &v
		}
		uploadOpts.Metadata = meta
	}
	if opts.ContentType != "" {
		uploadOpts.HTTPHeaders = &blob.HTTPHeaders{BlobContentType: &opts.ContentType}
	}
	if opts.IfMatch != "" {
		etag := azcore.ETag(opts.IfMatch)
		uploadOpts.AccessConditions = &blob.AccessConditions{
			ModifiedAccessConditions: &blob.ModifiedAccessConditions{IfMatch: &etag},
		}
	}
	if opts.IfNoneMatch == "*" {
		star := azcore.ETagAny
		uploadOpts.AccessConditions = &blob.AccessConditions{
			ModifiedAccessConditions: &blob.ModifiedAccessConditions{IfNoneMatch: &star},
		}
	}

	_, err := d.client.UploadBuffer(ctx, d.container, realPath, body, uploadOpts)
	if err != nil {
		return translateError(err, d.container, realPath)
	}
	return nil
}

func (d *delegate) GetObject(ctx context.Context, realPath string, rng *objmeta.Range) ([]byte, error) {
	downloadOpts := &azblob.DownloadStreamOptions{}
	if rng != nil {
		downloadOpts.Range = blob.HTTPRange{Offset: int64(rng.Offset), Count: int64(rng.Size)}
	}
	resp, err := d.client.DownloadStream(ctx, d.container, realPath, downloadOpts)
	if err != nil {
		return nil, translateError(err, d.container, realPath)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, mscerrors.Runtime(d.container, realPath, err)
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
	deleteOpts := &blob.DeleteOptions{}
	if ifMatch != "" {
		etag := azcore.ETag(ifMatch)
		deleteOpts.AccessConditions = &blob.AccessConditions{
			ModifiedAccessConditions: &blob.ModifiedAccessConditions{IfMatch: &etag},
		}
	}
	_, err := d.blobClient(realPath).Delete(ctx, deleteOpts)
	if err != nil && !bloberror.HasCode(err, bloberror.BlobNotFound) {
		return translateError(err, d.container, realPath)
	}
	return nil
}

func (d *delegate) GetObjectMetadata(ctx context.Context, realPath string, strict bool) (objmeta.ObjectMetadata, error) {
	if strings.HasSuffix(realPath, "/") {
		return d.probeDirectory(ctx, realPath)
	}

	props, err := d.blobClient(realPath).GetProperties(ctx, nil)
	if err != nil {
		if !strict && bloberror.HasCode(err, bloberror.BlobNotFound) {
			if meta, dirErr := d.probeDirectory(ctx, realPath+"/"); dirErr == nil {
				return meta, nil
			}
		}
		return objmeta.ObjectMetadata{}, translateError(err, d.container, realPath)
	}

	m := objmeta.ObjectMetadata{
		Key:         realPath,
		Type:        objmeta.TypeFile,
		ContentType: derefString(props.ContentType),
		Metadata:    derefMetadata(props.Metadata),
	}
	if props.ContentLength != nil {
		m.ContentLength = *props.ContentLength
	}
	if props.ETag != nil {
		m.ETag = string(*props.ETag)
	}
	if props.LastModified != nil {
		m.LastModified = *props.LastModified
	}
	return m, nil
}

func (d *delegate) probeDirectory(ctx context.Context, realPrefix string) (objmeta.ObjectMetadata, error) {
	pager := d.client.NewListBlobsFlatPager(d.container, &container.ListBlobsFlatOptions{Prefix: &realPrefix})
	if !pager.More() {
		return objmeta.ObjectMetadata{}, mscerrors.NotFound(d.container, realPrefix)
	}
	page, err := pager.NextPage(ctx)
	if err != nil {
		return objmeta.ObjectMetadata{}, translateError(err, d.container, realPrefix)
	}
	if len(page.Segment.BlobItems) == 0 {
		return objmeta.ObjectMetadata{}, mscerrors.NotFound(d.container, realPrefix)
	}
	return objmeta.ObjectMetadata{Key: strings.TrimSuffix(realPrefix, "/"), Type: objmeta.TypeDirectory}, nil
}

func (d *delegate) ListObjects(ctx context.Context, realPrefix string, opts storage.ListOptions) (storage.ObjectIterator, error) {
	listOpts := &container.ListBlobsFlatOptions{Prefix: &realPrefix}
	if opts.IncludeDirectories {
		pager := d.client.ServiceClient().NewContainerClient(d.container).NewListBlobsHierarchyPager("/", &container.ListBlobsHierarchyOptions{Prefix: &realPrefix})
		return &hierarchyIterator{ctx: ctx, pager: pager, startAfter: opts.StartAfter, endAt: opts.EndAt}, nil
	}
	pager := d.client.NewListBlobsFlatPager(d.container, listOpts)
	return &flatIterator{ctx: ctx, pager: pager, startAfter: opts.StartAfter, endAt: opts.EndAt}, nil
}

func (d *delegate) UploadFile(ctx context.Context, realRemotePath, sourcePath string) (uint64, error) {
	data, err := os.ReadFile(sourcePath)
	if err != nil {
		return 0, mscerrors.Runtime(d.container, realRemotePath, err)
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
		return 0, mscerrors.Runtime(d.container, realRemotePath, err)
	}
	if err := os.WriteFile(sinkPath, data, 0o600); err != nil {
		return 0, mscerrors.Runtime(d.container, realRemotePath, err)
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

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func derefMetadata(m map[string]*string) map[string]string {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		if v != nil {
			out[k] = *v
		}
	}
	return out
}

// translateError maps an azblob error into msc's structured error
// taxonomy, checking the typed bloberror codes first and falling back
// to the HTTP status azcore.ResponseError carries.
func translateError(err error, container, key string) error {
	if err == nil {
		return nil
	}
	if bloberror.HasCode(err, bloberror.BlobNotFound, bloberror.ContainerNotFound, bloberror.ResourceNotFound) {
		return mscerrors.NotFound(container, key)
	}
	if bloberror.HasCode(err, bloberror.ConditionNotMet, bloberror.TargetConditionNotMet) {
		return mscerrors.PreconditionFailed(container, key)
	}

	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		switch respErr.StatusCode {
		case 404:
			return mscerrors.NotFound(container, key)
		case 412:
			return mscerrors.PreconditionFailed(container, key)
		case 304:
			return mscerrors.NotModified(container, key)
		case 429, 500, 502, 503, 504:
			return mscerrors.Retryable(err, fmt.Sprintf("azure %s/%s", container, key))
		}
	}
	return mscerrors.Runtime(container, key, err)
}

// flatIterator paginates a flat (non-delimited) blob listing, applying
// StartAfter/EndAt client-side the way S3's pageIterator does.
type flatIterator struct {
	pager interface {
		More() bool
		NextPage(ctx context.Context) (azblob.ListBlobsFlatResponse, error)
	}
	ctx        context.Context
	startAfter string
	endAt      string

	page []objmeta.ObjectMetadata
	pos  int
	done bool
	err  error
	cur  objmeta.ObjectMetadata
}

func (it *flatIterator) Next(ctx context.Context) bool {
	for {
		if it.pos < len(it.page) {
			it.cur = it.page[it.pos]
			it.pos++
			if it.startAfter != "" && it.cur.Key <= it.startAfter {
				continue
			}
			if it.endAt != "" && it.cur.Key > it.endAt {
				it.done = true
				return false
			}
			return true
		}
		if it.done || !it.pager.More() {
			return false
		}
		resp, err := it.pager.NextPage(ctx)
		if err != nil {
			it.err = translateError(err, "", "")
			it.done = true
			return false
		}
		it.page = it.page[:0]
		it.pos = 0
		for _, item := range resp.Segment.BlobItems {
			if item.Name == nil {
				continue
			}
			m := objmeta.ObjectMetadata{Key: *item.Name, Type: objmeta.TypeFile}
			if item.Properties != nil {
				if item.Properties.ContentLength != nil {
					m.ContentLength = *item.Properties.ContentLength
				}
				if item.Properties.LastModified != nil {
					m.LastModified = *item.Properties.LastModified
				}
				if item.Properties.ETag != nil {
					m.ETag = string(*item.Properties.ETag)
				}
			}
			it.page = append(it.page, m)
		}
	}
}

func (it *flatIterator) Object() objmeta.ObjectMetadata { return it.cur }
func (it *flatIterator) Err() error                     { return it.err }
func (it *flatIterator) Close() error                   { return nil }

// hierarchyIterator paginates a single-level (delimited) blob listing,
// synthesizing directory entries from BlobPrefixes.
type hierarchyIterator struct {
	pager interface {
		More() bool
		NextPage(ctx context.Context) (container.ListBlobsHierarchyResponse, error)
	}
	ctx        context.Context
	startAfter string
	endAt      string

	page []objmeta.ObjectMetadata
	pos  int
	done bool
	err  error
	cur  objmeta.ObjectMetadata
}

func (it *hierarchyIterator) Next(ctx context.Context) bool {
	for {
		if it.pos < len(it.page) {
			it.cur = it.page[it.pos]
			it.pos++
			if it.startAfter != "" && it.cur.Key <= it.startAfter {
				continue
			}
			if it.endAt != "" && it.cur.Key > it.endAt {
				it.done = true
				return false
			}
			return true
		}
		if it.done || !it.pager.More() {
			return false
		}
		resp, err := it.pager.NextPage(ctx)
		if err != nil {
			it.err = translateError(err, "", "")
			it.done = true
			return false
		}
		it.page = it.page[:0]
		it.pos = 0
		for _, prefix := range resp.Segment.BlobPrefixes {
			if prefix.Name == nil {
				continue
			}
			it.page = append(it.page, objmeta.ObjectMetadata{
				Key:  strings.TrimSuffix(*prefix.Name, "/"),
				Type: objmeta.TypeDirectory,
			})
		}
		for _, item := range resp.Segment.BlobItems {
			if item.Name == nil {
				continue
			}
			m := objmeta.ObjectMetadata{Key: *item.Name, Type: objmeta.TypeFile}
			if item.Properties != nil && item.Properties.ContentLength != nil {
				m.ContentLength = *item.Properties.ContentLength
			}
			it.page = append(it.page, m)
		}
	}
}

func (it *hierarchyIterator) Object() objmeta.ObjectMetadata { return it.cur }
func (it *hierarchyIterator) Err() error                     { return it.err }
func (it *hierarchyIterator) Close() error                   { return nil }
