// Package ais implements the storage.Delegate contract over an AIStore
// proxy using the cluster's own api/cmn client packages, the same way
// the AIStore webdav gateway talks to a proxy.
package ais

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"sort"
	"strings"

	"github.com/NVIDIA/aistore/api"
	"github.com/NVIDIA/aistore/cmn"
	"github.com/NVIDIA/aistore/tools"

	mscerrors "github.com/objectfs/msc/pkg/errors"
	"github.com/objectfs/msc/pkg/mspath"
	"github.com/objectfs/msc/pkg/objmeta"
	"github.com/objectfs/msc/pkg/storage"
)

// Name is the storage_provider.type string this backend registers under.
const Name = "ais"

func init() {
	storage.Register(Name, func(options map[string]interface{}) (storage.Provider, error) {
		bucket, _ := options["bucket"].(string)
		if bucket == "" {
			return nil, mscerrors.InvalidArgument("ais: options.bucket is required")
		}
		proxyURL, _ := options["proxy_url"].(string)
		if proxyURL == "" {
			return nil, mscerrors.InvalidArgument("ais: options.proxy_url is required")
		}
		basePath, _ := options["base_path"].(string)
		provider, _ := options["cloud_provider"].(string)
		if provider == "" {
			provider = cmn.AIS
		}
		return New(proxyURL, bucket, basePath, provider)
	})
}

// New constructs an AIStore provider bound to bucket via the proxy at
// proxyURL, rooted at the key-prefix portion of basePath.
func New(proxyURL, bucket, basePath, cloudProvider string) (*Provider, error) {
	params := tools.BaseAPIParams(proxyURL)
	d := &delegate{params: params, bucket: bucket, cloudProvider: cloudProvider}
	return &Provider{base: &storage.Base{RealRoot: mspath.NormalizePrefix(basePath), Delegate: d}}, nil
}

// Provider is the AIStore backend.
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

// delegate implements storage.Delegate against an AIStore bucket.
// realPath arguments are object names, already base-path-joined.
type delegate struct {
	params        api.BaseParams
	bucket        string
	cloudProvider string
}

func (d *delegate) Name() string { return Name }

// memReader adapts an in-memory byte slice to the re-openable reader
// AIStore's PutObjectArgs expects so a failed PUT can be retried from
// the beginning without the caller re-reading from disk.
type memReader struct {
	io.Reader
	data []byte
}

func newMemReader(data []byte) *memReader {
	return &memReader{Reader: bytes.NewReader(data), data: data}
}

func (r *memReader) Close() error { return nil }

func (r *memReader) Open() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(r.data)), nil
}

func (d *delegate) PutObject(ctx context.Context, realPath string, body []byte, opts storage.PutOptions) error {
	if opts.IfMatch != "" || opts.IfNoneMatch != "" {
		return mscerrors.NotSupported("ais", "conditional put")
	}
	args := api.PutObjectArgs{
		BaseParams: d.params,
		Bucket:     d.bucket,
		Provider:   d.cloudProvider,
		Object:     realPath,
		Reader:     newMemReader(body),
	}
	if err := api.PutObject(args); err != nil {
		return translateError(err, d.bucket, realPath)
	}
	return nil
}

func (d *delegate) GetObject(ctx context.Context, realPath string, rng *objmeta.Range) ([]byte, error) {
	if rng != nil {
		return nil, mscerrors.NotSupported("ais", "ranged read")
	}
	buf := &bytes.Buffer{}
	query := url.Values{}
	if d.cloudProvider != "" {
		query.Add(cmn.URLParamProvider, d.cloudProvider)
	}
	_, err := api.GetObjectWithValidation(d.params, d.bucket, realPath, api.GetObjectInput{Writer: buf, Query: query})
	if err != nil {
		return nil, translateError(err, d.bucket, realPath)
	}
	return buf.Bytes(), nil
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
	if ifMatch != "" {
		return mscerrors.NotSupported("ais", "conditional delete")
	}
	err := tools.Del(d.params.URL, d.bucket, realPath, d.cloudProvider, nil, nil, true)
	if err != nil {
		return translateError(err, d.bucket, realPath)
	}
	return nil
}

func (d *delegate) listPrefix(realPrefix string, limit int) ([]*cmn.BucketEntry, error) {
	msg := &cmn.SelectMsg{Prefix: realPrefix, Props: "size, ctime, atime"}
	query := url.Values{}
	if d.cloudProvider != "" {
		query.Add(cmn.URLParamProvider, d.cloudProvider)
	}
	bl, err := api.ListBucket(d.params, d.bucket, msg, limit, query)
	if err != nil {
		return nil, err
	}
	return bl.Entries, nil
}

func (d *delegate) GetObjectMetadata(ctx context.Context, realPath string, strict bool) (objmeta.ObjectMetadata, error) {
	if strings.HasSuffix(realPath, "/") {
		return d.probeDirectory(realPath)
	}

	entries, err := d.listPrefix(realPath, 1)
	if err != nil {
		return objmeta.ObjectMetadata{}, translateError(err, d.bucket, realPath)
	}
	for _, e := range entries {
		if e.Name == realPath {
			return objmeta.ObjectMetadata{
				Key:           e.Name,
				Type:          objmeta.TypeFile,
				ContentLength: e.Size,
			}, nil
		}
	}
	if !strict {
		if meta, dirErr := d.probeDirectory(realPath + "/"); dirErr == nil {
			return meta, nil
		}
	}
	return objmeta.ObjectMetadata{}, mscerrors.NotFound(d.bucket, realPath)
}

func (d *delegate) probeDirectory(realPrefix string) (objmeta.ObjectMetadata, error) {
	entries, err := d.listPrefix(realPrefix, 1)
	if err != nil {
		return objmeta.ObjectMetadata{}, translateError(err, d.bucket, realPrefix)
	}
	if len(entries) == 0 {
		return objmeta.ObjectMetadata{}, mscerrors.NotFound(d.bucket, realPrefix)
	}
	return objmeta.ObjectMetadata{Key: strings.TrimSuffix(realPrefix, "/"), Type: objmeta.TypeDirectory}, nil
}

func (d *delegate) ListObjects(ctx context.Context, realPrefix string, opts storage.ListOptions) (storage.ObjectIterator, error) {
	entries, err := d.listPrefix(realPrefix, 0)
	if err != nil {
		return nil, translateError(err, d.bucket, realPrefix)
	}

	var items []objmeta.ObjectMetadata
	seenPrefix := map[string]bool{}
	for _, e := range entries {
		key := e.Name
		if opts.StartAfter != "" && key <= opts.StartAfter {
			continue
		}
		if opts.EndAt != "" && key > opts.EndAt {
			continue
		}
		if opts.IncludeDirectories {
			rest := strings.TrimPrefix(key, realPrefix)
			if idx := strings.Index(rest, "/"); idx >= 0 {
				dirKey := realPrefix + rest[:idx]
				if !seenPrefix[dirKey] {
					seenPrefix[dirKey] = true
					items = append(items, objmeta.ObjectMetadata{Key: dirKey, Type: objmeta.TypeDirectory})
				}
				continue
			}
		}
		items = append(items, objmeta.ObjectMetadata{Key: key, Type: objmeta.TypeFile, ContentLength: e.Size})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Key < items[j].Key })
	return storage.NewSliceIterator(items), nil
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

// translateError maps an AIStore proxy error into msc's structured
// error taxonomy. The api package surfaces proxy failures as plain
// formatted errors rather than a typed status code, so classification
// here goes by substring the same way the cluster's own target code
// checks for a retryable "try again" response.
func translateError(err error, bucket, key string) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "does not exist") || strings.Contains(msg, "not found") || strings.Contains(msg, "404"):
		return mscerrors.NotFound(bucket, key)
	case strings.Contains(msg, "412") || strings.Contains(msg, "precondition"):
		return mscerrors.PreconditionFailed(bucket, key)
	case strings.Contains(msg, "try again") || strings.Contains(msg, "503") || strings.Contains(msg, "unavailable"):
		return mscerrors.Retryable(err, fmt.Sprintf("ais %s/%s", bucket, key))
	}
	return mscerrors.Runtime(bucket, key, err)
}
