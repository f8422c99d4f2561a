// Package objectstoretest provides an in-memory S3 for tests of code built
// on objectstore.
package objectstoretest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	smithyhttp "github.com/aws/smithy-go/transport/http"
)

// S3 keeps objects in memory and satisfies objectstore.S3API. The hook
// fields must be set before the fake is shared with running code.
type S3 struct {
	// PartErr, when set, is consulted before each UploadPart.
	PartErr func(part int32) error
	// CompleteErr, when set, is consulted before CompleteMultipartUpload.
	CompleteErr func(in *s3.CompleteMultipartUploadInput) error
	HeadErr     error
	TagsErr     error
	GetErr      error
	PutErr      error
	DeleteErr   error
	BucketErr   error
	// BodyErr makes GetObject bodies fail after half of the content.
	BodyErr error
	// PutGate, when set, is received from before each PutObject returns.
	PutGate chan struct{}

	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
	tags    map[string][]types.Tag
	pending map[string]string
	parts   map[int32][]byte
	calls   []string
	aborted bool
}

func New() *S3 {
	return &S3{
		objects: map[string][]byte{},
		types:   map[string]string{},
		tags:    map[string][]types.Tag{},
		pending: map[string]string{},
		parts:   map[int32][]byte{},
	}
}

// Seed stores an object directly.
func (f *S3) Seed(key string, body []byte, contentType string, tags map[string]string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = body
	f.types[key] = contentType
	f.tags[key] = nil
	for k, v := range tags {
		f.tags[key] = append(f.tags[key], types.Tag{Key: aws.String(k), Value: aws.String(v)})
	}
}

func (f *S3) Object(key string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.objects[key]
	return b, ok
}

func (f *S3) ContentType(key string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.types[key]
}

func (f *S3) Parts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.parts)
}

func (f *S3) Aborted() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.aborted
}

// Calls lists the API operations invoked so far, in order.
func (f *S3) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *S3) record(op string) {
	f.mu.Lock()
	f.calls = append(f.calls, op)
	f.mu.Unlock()
}

func (f *S3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.record("PutObject")
	if f.PutGate != nil {
		select {
		case <-f.PutGate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.PutErr != nil {
		return nil, f.PutErr
	}
	b, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.exists(*in.Key, in.IfNoneMatch) {
		return nil, StatusError(http.StatusPreconditionFailed)
	}
	f.objects[*in.Key] = b
	f.types[*in.Key] = aws.ToString(in.ContentType)
	return &s3.PutObjectOutput{}, nil
}

func (f *S3) CreateMultipartUpload(ctx context.Context, in *s3.CreateMultipartUploadInput, _ ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error) {
	f.record("CreateMultipartUpload")
	f.mu.Lock()
	f.pending[*in.Key] = aws.ToString(in.ContentType)
	f.mu.Unlock()
	return &s3.CreateMultipartUploadOutput{UploadId: aws.String("mpu-1")}, nil
}

func (f *S3) UploadPart(ctx context.Context, in *s3.UploadPartInput, _ ...func(*s3.Options)) (*s3.UploadPartOutput, error) {
	f.record("UploadPart")
	n := aws.ToInt32(in.PartNumber)
	if f.PartErr != nil {
		if err := f.PartErr(n); err != nil {
			return nil, err
		}
	}
	b, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.parts[n] = b
	return &s3.UploadPartOutput{ETag: aws.String(fmt.Sprintf("etag-%d", n))}, nil
}

func (f *S3) CompleteMultipartUpload(ctx context.Context, in *s3.CompleteMultipartUploadInput, _ ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error) {
	f.record("CompleteMultipartUpload")
	if f.CompleteErr != nil {
		if err := f.CompleteErr(in); err != nil {
			return nil, err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.exists(*in.Key, in.IfNoneMatch) {
		return nil, StatusError(http.StatusPreconditionFailed)
	}
	var buf bytes.Buffer
	for _, p := range in.MultipartUpload.Parts {
		buf.Write(f.parts[aws.ToInt32(p.PartNumber)])
	}
	f.objects[*in.Key] = buf.Bytes()
	f.types[*in.Key] = f.pending[*in.Key]
	return &s3.CompleteMultipartUploadOutput{}, nil
}

func (f *S3) AbortMultipartUpload(ctx context.Context, in *s3.AbortMultipartUploadInput, _ ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error) {
	f.record("AbortMultipartUpload")
	f.mu.Lock()
	f.aborted = true
	f.mu.Unlock()
	return &s3.AbortMultipartUploadOutput{}, nil
}

func (f *S3) HeadObject(ctx context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.record("HeadObject")
	if f.HeadErr != nil {
		return nil, f.HeadErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.objects[*in.Key]
	if !ok {
		return nil, StatusError(http.StatusNotFound)
	}
	out := &s3.HeadObjectOutput{
		ContentLength: aws.Int64(int64(len(b))),
		ETag:          aws.String(fmt.Sprintf(`"%x"`, len(b))),
	}
	if ct := f.types[*in.Key]; ct != "" {
		out.ContentType = aws.String(ct)
	}
	return out, nil
}

func (f *S3) GetObjectTagging(ctx context.Context, in *s3.GetObjectTaggingInput, _ ...func(*s3.Options)) (*s3.GetObjectTaggingOutput, error) {
	f.record("GetObjectTagging")
	if f.TagsErr != nil {
		return nil, f.TagsErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return &s3.GetObjectTaggingOutput{TagSet: f.tags[*in.Key]}, nil
}

func (f *S3) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.record("GetObject")
	if f.GetErr != nil {
		return nil, f.GetErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.objects[*in.Key]
	if !ok {
		return nil, StatusError(http.StatusNotFound)
	}
	var body io.Reader = bytes.NewReader(b)
	if f.BodyErr != nil {
		body = io.MultiReader(bytes.NewReader(b[:len(b)/2]), errReader{f.BodyErr})
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(body)}, nil
}

func (f *S3) DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.record("DeleteObject")
	if f.DeleteErr != nil {
		return nil, f.DeleteErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, *in.Key)
	return &s3.DeleteObjectOutput{}, nil
}

func (f *S3) HeadBucket(ctx context.Context, in *s3.HeadBucketInput, _ ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	f.record("HeadBucket")
	if f.BucketErr != nil {
		return nil, f.BucketErr
	}
	return &s3.HeadBucketOutput{}, nil
}

// exists reports whether a write guarded by ifNoneMatch "*" must fail.
// Callers hold f.mu.
func (f *S3) exists(key string, ifNoneMatch *string) bool {
	if aws.ToString(ifNoneMatch) != "*" {
		return false
	}
	_, ok := f.objects[key]
	return ok
}

type errReader struct{ err error }

func (r errReader) Read([]byte) (int, error) { return 0, r.err }

// StatusError builds the error the SDK returns for a bare HTTP status.
func StatusError(status int) error {
	return &awshttp.ResponseError{
		ResponseError: &smithyhttp.ResponseError{
			Response: &smithyhttp.Response{Response: &http.Response{StatusCode: status}},
			Err:      fmt.Errorf("http status %d", status),
		},
	}
}
