package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
)

// S3Client is the subset of the S3 API used by S3Store. *s3.Client
// satisfies it.
type S3Client interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// MetaKind is the object metadata key carrying the blob kind.
const MetaKind = "voicever-kind"

// S3Store keeps blobs in an S3-compatible bucket under an optional key
// prefix. Embeddings, reference recordings and synthesized artifacts are
// all small, so writes are buffered and uploaded in one PutObject on Close.
type S3Store struct {
	client S3Client
	bucket string
	prefix string
}

var _ FileStore = (*S3Store)(nil)

// NewS3 creates an S3Store. The client carries region, endpoint and
// credentials. An empty prefix stores keys at the bucket root.
func NewS3(client S3Client, bucket, prefix string) *S3Store {
	return &S3Store{client: client, bucket: bucket, prefix: strings.Trim(prefix, "/")}
}

func (s *S3Store) key(p string) string {
	p = strings.TrimPrefix(path.Clean("/"+p), "/")
	if s.prefix == "" {
		return p
	}
	return s.prefix + "/" + p
}

// objectMeta derives content type and kind from a blob path.
func objectMeta(p string) (contentType, kind string) {
	switch path.Ext(p) {
	case ".wav":
		contentType = "audio/wav"
	case ".json":
		contentType = "application/json"
	default:
		contentType = "application/octet-stream"
	}
	if dir, _, ok := strings.Cut(strings.TrimPrefix(path.Clean("/"+p), "/"), "/"); ok {
		kind = dir
	}
	return contentType, kind
}

// Read implements FileStore.
func (s *S3Store) Read(ctx context.Context, p string) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(p)),
	})
	if isS3NotFound(err) {
		return nil, fmt.Errorf("storage: read %s: %w", p, fs.ErrNotExist)
	}
	if err != nil {
		return nil, fmt.Errorf("storage: s3 get %s: %w", p, err)
	}
	return out.Body, nil
}

// Write implements FileStore. Nothing is uploaded until Close, so an
// abandoned writer leaves no partial object behind.
func (s *S3Store) Write(ctx context.Context, p string) (io.WriteCloser, error) {
	return &s3Writer{ctx: ctx, store: s, path: p}, nil
}

func (s *S3Store) put(ctx context.Context, p string, data []byte) error {
	ct, kind := objectMeta(p)
	in := &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(s.key(p)),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String(ct),
	}
	if kind != "" {
		in.Metadata = map[string]string{MetaKind: kind}
	}
	if _, err := s.client.PutObject(ctx, in); err != nil {
		return fmt.Errorf("storage: s3 put %s: %w", p, err)
	}
	return nil
}

// Delete implements FileStore. S3 reports success for missing keys.
func (s *S3Store) Delete(ctx context.Context, p string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(p)),
	})
	if err != nil {
		return fmt.Errorf("storage: s3 delete %s: %w", p, err)
	}
	return nil
}

// Exists implements FileStore.
func (s *S3Store) Exists(ctx context.Context, p string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(p)),
	})
	if isS3NotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("storage: s3 head %s: %w", p, err)
	}
	return true, nil
}

var errWriterClosed = errors.New("storage: write after close")

type s3Writer struct {
	ctx    context.Context
	store  *S3Store
	path   string
	buf    bytes.Buffer
	closed bool
}

func (w *s3Writer) Write(p []byte) (int, error) {
	if w.closed {
		return 0, errWriterClosed
	}
	return w.buf.Write(p)
}

func (w *s3Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	return w.store.put(w.ctx, w.path, w.buf.Bytes())
}

func isS3NotFound(err error) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.ErrorCode() {
	case "NotFound", "NoSuchKey":
		return true
	}
	return false
}
