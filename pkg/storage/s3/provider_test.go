package s3

import (
	"bytes"
	"context"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/objectfs/msc/pkg/storage"
	"github.com/objectfs/msc/pkg/storage/conformance"
)

// fakeAPIError is a minimal smithy.APIError, used where the real SDK
// reports a condition (like a 412) as an HTTP status rather than a typed
// error — translateError's status-code path isn't reachable without a
// live HTTP round trip, so the fake signals it the same way a smithy
// middleware-decoded API error would.
type fakeAPIError struct{ code, message string }

func (e *fakeAPIError) Error() string                 { return e.code + ": " + e.message }
func (e *fakeAPIError) ErrorCode() string             { return e.code }
func (e *fakeAPIError) ErrorMessage() string          { return e.message }
func (e *fakeAPIError) ErrorFault() smithy.ErrorFault { return smithy.FaultUnknown }

// fakeClient is an in-memory stand-in for *s3.Client, implementing just
// enough of the api interface to drive conformance.Run and the S3-specific
// tests below.
type fakeClient struct {
	mu      sync.Mutex
	bucket  string
	objects map[string]*fakeObject
}

type fakeObject struct {
	body         []byte
	etag         string
	contentType  string
	metadata     map[string]string
	lastModified time.Time
}

func newFakeClient(bucket string) *fakeClient {
	return &fakeClient{bucket: bucket, objects: map[string]*fakeObject{}}
}

func (f *fakeClient) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := *in.Key
	if in.IfNoneMatch != nil && *in.IfNoneMatch == "*" {
		if _, exists := f.objects[key]; exists {
			return nil, &fakeAPIError{code: "PreconditionFailed", message: "object already exists"}
		}
	}
	if in.IfMatch != nil {
		cur, exists := f.objects[key]
		if !exists || cur.etag != *in.IfMatch {
			return nil, &fakeAPIError{code: "PreconditionFailed", message: "etag mismatch"}
		}
	}

	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	ct := ""
	if in.ContentType != nil {
		ct = *in.ContentType
	}
	f.objects[key] = &fakeObject{
		body:         body,
		etag:         strings.Repeat("a", 8) + "-" + key,
		contentType:  ct,
		metadata:     in.Metadata,
		lastModified: time.Now().UTC(),
	}
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeClient) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	obj, ok := f.objects[*in.Key]
	f.mu.Unlock()
	if !ok {
		return nil, &s3types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{
		Body:          io.NopCloser(bytes.NewReader(obj.body)),
		ContentLength: int64Ptr(int64(len(obj.body))),
		ETag:          strPtr(obj.etag),
		ContentType:   strPtr(obj.contentType),
	}, nil
}

func (f *fakeClient) DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	delete(f.objects, *in.Key)
	f.mu.Unlock()
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeClient) HeadObject(ctx context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.mu.Lock()
	obj, ok := f.objects[*in.Key]
	f.mu.Unlock()
	if !ok {
		return nil, &s3types.NotFound{}
	}
	return &s3.HeadObjectOutput{
		ContentLength: int64Ptr(int64(len(obj.body))),
		ETag:          strPtr(obj.etag),
		ContentType:   strPtr(obj.contentType),
		LastModified:  &obj.lastModified,
		Metadata:      obj.metadata,
	}, nil
}

func (f *fakeClient) ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	prefix := ""
	if in.Prefix != nil {
		prefix = *in.Prefix
	}
	delimiter := ""
	if in.Delimiter != nil {
		delimiter = *in.Delimiter
	}
	startAfter := ""
	if in.StartAfter != nil {
		startAfter = *in.StartAfter
	}

	var keys []string
	for k := range f.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	var contents []s3types.Object
	seenPrefix := map[string]bool{}
	var commonPrefixes []s3types.CommonPrefix
	for _, k := range keys {
		if startAfter != "" && k <= startAfter {
			continue
		}
		if delimiter != "" {
			rest := strings.TrimPrefix(k, prefix)
			if idx := strings.Index(rest, delimiter); idx >= 0 {
				cp := prefix + rest[:idx+1]
				if !seenPrefix[cp] {
					seenPrefix[cp] = true
					commonPrefixes = append(commonPrefixes, s3types.CommonPrefix{Prefix: strPtr(cp)})
				}
				continue
			}
		}
		obj := f.objects[k]
		contents = append(contents, s3types.Object{
			Key:          strPtr(k),
			Size:         int64Ptr(int64(len(obj.body))),
			ETag:         strPtr(obj.etag),
			LastModified: &obj.lastModified,
		})
	}

	if in.MaxKeys != nil && int64(len(contents)) > int64(*in.MaxKeys) {
		contents = contents[:*in.MaxKeys]
	}

	return &s3.ListObjectsV2Output{
		Contents:       contents,
		CommonPrefixes: commonPrefixes,
		IsTruncated:    boolPtr(false),
	}, nil
}

func (f *fakeClient) CopyObject(ctx context.Context, in *s3.CopyObjectInput, _ ...func(*s3.Options)) (*s3.CopyObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	source := *in.CopySource
	idx := strings.Index(source, "/")
	srcKey := source
	if idx >= 0 {
		srcKey = source[idx+1:]
	}
	obj, ok := f.objects[srcKey]
	if !ok {
		return nil, &s3types.NoSuchKey{}
	}
	cp := *obj
	f.objects[*in.Key] = &cp
	return &s3.CopyObjectOutput{}, nil
}

func int64Ptr(v int64) *int64 { return &v }
func strPtr(s string) *string { return &s }
func boolPtr(b bool) *bool    { return &b }

func newTestProvider(t *testing.T) storage.Provider {
	t.Helper()
	client := newFakeClient("test-bucket")
	pool, err := newConnectionPool(1, func() (api, error) { return client, nil })
	if err != nil {
		t.Fatalf("newConnectionPool: %v", err)
	}
	d := &delegate{name: NameS3, bucket: "test-bucket", pool: pool, multipart: storage.DefaultMultipartConfig()}
	return &Provider{base: &storage.Base{Delegate: d}}
}

func TestConformance(t *testing.T) {
	conformance.Run(t, newTestProvider(t))
}

func TestS8KRegistersUnderOwnName(t *testing.T) {
	client := newFakeClient("b")
	pool, _ := newConnectionPool(1, func() (api, error) { return client, nil })
	d := &delegate{name: NameS8K, bucket: "b", pool: pool}
	p := &Provider{base: &storage.Base{Delegate: d}}
	if p.Name() != "s8k" {
		t.Fatalf("Name() = %q, want s8k", p.Name())
	}
}

func TestTranslateErrorMapsNotFound(t *testing.T) {
	err := translateError(&s3types.NoSuchKey{}, "bucket", "missing.bin")
	if err == nil {
		t.Fatal("expected an error")
	}
}
