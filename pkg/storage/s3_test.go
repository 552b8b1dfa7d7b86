package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"io/fs"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
)

type apiError struct{ code string }

func (e *apiError) Error() string                 { return "api error " + e.code }
func (e *apiError) ErrorCode() string             { return e.code }
func (e *apiError) ErrorMessage() string          { return e.code }
func (e *apiError) ErrorFault() smithy.ErrorFault { return smithy.FaultClient }

type object struct {
	data   []byte
	ctype  string
	meta   map[string]string
	length int64
}

// fakeBucket is an in-memory S3Client. fail, when set, is returned by
// every call.
type fakeBucket struct {
	mu      sync.Mutex
	objects map[string]object
	puts    int
	fail    error
}

func newFakeBucket() *fakeBucket {
	return &fakeBucket{objects: map[string]object{}}
}

func (b *fakeBucket) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fail != nil {
		return nil, b.fail
	}
	o, ok := b.objects[*in.Key]
	if !ok {
		return nil, &apiError{code: "NoSuchKey"}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(o.data))}, nil
}

func (b *fakeBucket) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fail != nil {
		return nil, b.fail
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	o := object{data: data, meta: in.Metadata}
	if in.ContentType != nil {
		o.ctype = *in.ContentType
	}
	if in.ContentLength != nil {
		o.length = *in.ContentLength
	}
	b.objects[*in.Key] = o
	b.puts++
	return &s3.PutObjectOutput{}, nil
}

func (b *fakeBucket) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fail != nil {
		return nil, b.fail
	}
	delete(b.objects, *in.Key)
	return &s3.DeleteObjectOutput{}, nil
}

func (b *fakeBucket) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fail != nil {
		return nil, b.fail
	}
	if _, ok := b.objects[*in.Key]; !ok {
		return nil, &apiError{code: "NotFound"}
	}
	return &s3.HeadObjectOutput{}, nil
}

func (b *fakeBucket) get(key string) (object, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	o, ok := b.objects[key]
	return o, ok
}

func TestS3RoundTripSetsMetadata(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		ref   string
		ctype string
		kind  string
	}{
		{"embeddings/alice/000000000001.f32", "application/octet-stream", "embeddings"},
		{"audio/alice/000000000001.wav", "audio/wav", "audio"},
		{"synth/ab/ab12.wav", "audio/wav", "synth"},
	}
	for _, tt := range tests {
		t.Run(tt.ref, func(t *testing.T) {
			bucket := newFakeBucket()
			store := NewS3(bucket, "voices", "")
			payload := []byte("payload of " + tt.ref)
			if err := WriteAll(ctx, store, tt.ref, payload); err != nil {
				t.Fatal(err)
			}
			got, err := ReadAll(ctx, store, tt.ref)
			if err != nil {
				t.Fatal(err)
			}
			if !bytes.Equal(got, payload) {
				t.Errorf("read = %q, want %q", got, payload)
			}
			o, _ := bucket.get(tt.ref)
			if o.ctype != tt.ctype {
				t.Errorf("content type = %q, want %q", o.ctype, tt.ctype)
			}
			if o.meta[MetaKind] != tt.kind {
				t.Errorf("kind = %q, want %q", o.meta[MetaKind], tt.kind)
			}
			if o.length != int64(len(payload)) {
				t.Errorf("content length = %d, want %d", o.length, len(payload))
			}
		})
	}
}

func TestS3UploadsOnlyOnClose(t *testing.T) {
	bucket := newFakeBucket()
	store := NewS3(bucket, "voices", "")
	w, err := store.Write(context.Background(), "embeddings/bob/000000000001.f32")
	if err != nil {
		t.Fatal(err)
	}
	io.WriteString(w, "part1")
	io.WriteString(w, "part2")
	if bucket.puts != 0 {
		t.Fatalf("puts before Close = %d, want 0", bucket.puts)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("second Close = %v", err)
	}
	if bucket.puts != 1 {
		t.Errorf("puts = %d, want 1", bucket.puts)
	}
	if _, err := w.Write([]byte("late")); !errors.Is(err, errWriterClosed) {
		t.Errorf("Write after Close = %v, want errWriterClosed", err)
	}
	o, _ := bucket.get("embeddings/bob/000000000001.f32")
	if string(o.data) != "part1part2" {
		t.Errorf("object = %q", o.data)
	}
}

func TestS3NotFoundMapsToErrNotExist(t *testing.T) {
	ctx := context.Background()
	store := NewS3(newFakeBucket(), "voices", "")

	if _, err := store.Read(ctx, "embeddings/ghost/1.f32"); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("Read missing = %v, want fs.ErrNotExist", err)
	}
	ok, err := store.Exists(ctx, "embeddings/ghost/1.f32")
	if err != nil || ok {
		t.Errorf("Exists missing = %v, %v; want false, nil", ok, err)
	}
	if err := store.Delete(ctx, "embeddings/ghost/1.f32"); err != nil {
		t.Errorf("Delete missing = %v", err)
	}
}

func TestS3BackendErrorsAreNotMissing(t *testing.T) {
	ctx := context.Background()
	outage := &apiError{code: "ServiceUnavailable"}
	bucket := newFakeBucket()
	bucket.fail = outage
	store := NewS3(bucket, "voices", "")

	if _, err := store.Read(ctx, "x.f32"); errors.Is(err, fs.ErrNotExist) || !errors.Is(err, outage) {
		t.Errorf("Read = %v, want wrapped outage", err)
	}
	if _, err := store.Exists(ctx, "x.f32"); !errors.Is(err, outage) {
		t.Errorf("Exists = %v, want wrapped outage", err)
	}
	if err := WriteAll(ctx, store, "x.f32", []byte("v")); !errors.Is(err, outage) {
		t.Errorf("Write = %v, want wrapped outage", err)
	}
	if err := store.Delete(ctx, "x.f32"); !errors.Is(err, outage) {
		t.Errorf("Delete = %v, want wrapped outage", err)
	}
}

func TestS3Keys(t *testing.T) {
	tests := []struct {
		prefix string
		ref    string
		want   string
	}{
		{"", "embeddings/a/1.f32", "embeddings/a/1.f32"},
		{"", "/embeddings/a/1.f32", "embeddings/a/1.f32"},
		{"/voices/prod/", "audio/a/1.wav", "voices/prod/audio/a/1.wav"},
		{"voices", "../escape.wav", "voices/escape.wav"},
	}
	for _, tt := range tests {
		store := NewS3(newFakeBucket(), "b", tt.prefix)
		if got := store.key(tt.ref); got != tt.want {
			t.Errorf("key(%q) with prefix %q = %q, want %q", tt.ref, tt.prefix, got, tt.want)
		}
	}
}
