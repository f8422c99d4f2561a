package objectstore

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/dmitrijs2005/ishlearn/internal/common"
	"golang.org/x/sync/errgroup"
)

// Progress is reported once per acknowledged part. Loaded is the number of
// bytes acknowledged so far across all parts.
type Progress struct {
	Key    string
	Part   int
	Loaded int64
	Total  int64
}

// Upload is one in-flight write started by Begin.
type Upload struct {
	key  string
	size int64
	// ifAbsent makes the final write conditional on no object existing.
	ifAbsent bool

	mu        sync.Mutex
	listeners []func(Progress)
	last      *Progress
	loaded    int64

	done chan struct{}
	err  error
}

// Begin starts writing size bytes of body under key and returns at once.
// body must stay readable until Wait returns. Payloads smaller than one
// part go up in a single PUT; larger ones as a multipart upload with at
// most the configured number of parts in flight. ctx bounds the transfer;
// it should not be tied to the request that started it.
func (s *Store) Begin(ctx context.Context, key string, body io.ReaderAt, size int64, contentType string) *Upload {
	return s.begin(ctx, &Upload{key: key, size: size, done: make(chan struct{})}, body, contentType)
}

// BeginIfAbsent is Begin for a key that must not exist yet. When another
// writer stored the key first, Wait fails with common.ErrorDuplicate and
// the existing object is left untouched.
func (s *Store) BeginIfAbsent(ctx context.Context, key string, body io.ReaderAt, size int64, contentType string) *Upload {
	return s.begin(ctx, &Upload{key: key, size: size, ifAbsent: true, done: make(chan struct{})}, body, contentType)
}

func (s *Store) begin(ctx context.Context, u *Upload, body io.ReaderAt, contentType string) *Upload {
	key, size := u.key, u.size

	go func() {
		defer close(u.done)

		var err error
		if size < s.partSize {
			err = s.put(ctx, u, body, contentType)
		} else {
			err = s.multipart(ctx, u, body, contentType)
		}
		if err != nil {
			s.logger.Error(ctx, "upload failed", "key", key, "size", size, "error", err)
			u.err = fmt.Errorf("%w: %w", common.ErrorStoreWrite, err)
		}
	}()

	return u
}

// OnProgress registers cb for future progress. If parts were already
// acknowledged, cb is first called with the latest state so a late
// listener does not start from zero. Callbacks run serially and must not block.
func (u *Upload) OnProgress(cb func(Progress)) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.listeners = append(u.listeners, cb)
	if u.last != nil {
		cb(*u.last)
	}
}

// Wait blocks until the upload finished. Failures wrap common.ErrorStoreWrite.
func (u *Upload) Wait() error {
	<-u.done
	return u.err
}

func (u *Upload) report(part int, n int64) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.loaded += n
	p := Progress{Key: u.key, Part: part, Loaded: u.loaded, Total: u.size}
	u.last = &p
	for _, cb := range u.listeners {
		cb(p)
	}
}

func (s *Store) put(ctx context.Context, u *Upload, body io.ReaderAt, contentType string) error {
	in := &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(u.key),
		Body:          io.NewSectionReader(body, 0, u.size),
		ContentLength: aws.Int64(u.size),
	}
	if contentType != "" {
		in.ContentType = aws.String(contentType)
	}
	if u.ifAbsent {
		in.IfNoneMatch = aws.String("*")
	}

	if _, err := s.client.PutObject(ctx, in); err != nil {
		return classify("put", u.key, err)
	}
	u.report(1, u.size)
	return nil
}

func (s *Store) multipart(ctx context.Context, u *Upload, body io.ReaderAt, contentType string) (err error) {
	create := &s3.CreateMultipartUploadInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(u.key),
	}
	if contentType != "" {
		create.ContentType = aws.String(contentType)
	}

	out, err := s.client.CreateMultipartUpload(ctx, create)
	if err != nil {
		return classify("create multipart", u.key, err)
	}
	uploadID := aws.ToString(out.UploadId)

	defer func() {
		if err != nil {
			s.abort(ctx, u.key, uploadID)
		}
	}()

	numParts := int((u.size + s.partSize - 1) / s.partSize)
	completed := make([]types.CompletedPart, numParts)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)

	for i := 0; i < numParts; i++ {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			partNumber := int32(i + 1)
			offset := int64(i) * s.partSize
			length := min(s.partSize, u.size-offset)

			res, err := s.client.UploadPart(gctx, &s3.UploadPartInput{
				Bucket:        aws.String(s.bucket),
				Key:           aws.String(u.key),
				UploadId:      aws.String(uploadID),
				PartNumber:    aws.Int32(partNumber),
				Body:          io.NewSectionReader(body, offset, length),
				ContentLength: aws.Int64(length),
			})
			if err != nil {
				return classify(fmt.Sprintf("upload part %d", partNumber), u.key, err)
			}

			completed[i] = types.CompletedPart{ETag: res.ETag, PartNumber: aws.Int32(partNumber)}
			u.report(int(partNumber), length)
			return nil
		})
	}

	if err = g.Wait(); err != nil {
		return err
	}
	if err = ctx.Err(); err != nil {
		return err
	}

	complete := &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(s.bucket),
		Key:             aws.String(u.key),
		UploadId:        aws.String(uploadID),
		MultipartUpload: &types.CompletedMultipartUpload{Parts: completed},
	}
	if u.ifAbsent {
		complete.IfNoneMatch = aws.String("*")
	}
	_, err = s.client.CompleteMultipartUpload(ctx, complete)
	if err != nil {
		return classify("complete multipart", u.key, err)
	}
	return nil
}

func (s *Store) abort(ctx context.Context, key, uploadID string) {
	s.logger.Warn(ctx, "aborting multipart upload", "key", key, "upload_id", uploadID)
	_, err := s.client.AbortMultipartUpload(context.WithoutCancel(ctx), &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(s.bucket),
		Key:      aws.String(key),
		UploadId: aws.String(uploadID),
	})
	if err != nil {
		s.logger.Error(ctx, "failed to abort multipart upload", "key", key, "upload_id", uploadID, "error", err)
	}
}
