package storage

import (
	"context"
	"errors"
	"io/fs"
	"testing"
)

func TestChainPrecedence(t *testing.T) {
	ctx := context.Background()
	local := newTestLocal(t)
	remote := NewS3(newFakeBucket(), "voices", "")

	WriteAll(ctx, local, "refs/a.f32", []byte("local"))
	WriteAll(ctx, remote, "refs/a.f32", []byte("remote"))
	WriteAll(ctx, remote, "refs/b.f32", []byte("remote-only"))

	c := NewChain([]Layer{{Name: "local", Store: local}, {Name: "s3", Store: remote}})
	got, err := c.Resolve(ctx, "refs/a.f32")
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "local" {
		t.Errorf("Resolve(a) = %q, want the local copy", got)
	}
	got, err = c.Resolve(ctx, "refs/b.f32")
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "remote-only" {
		t.Errorf("Resolve(b) = %q, want remote-only", got)
	}
	if ok, _ := local.Exists(ctx, "refs/b.f32"); ok {
		t.Error("chain without fill copied into the first layer")
	}
}

func TestChainMissing(t *testing.T) {
	c := NewChain([]Layer{{Name: "local", Store: newTestLocal(t)}})
	if _, err := c.Resolve(context.Background(), "nope.f32"); !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("err = %v, want fs.ErrNotExist", err)
	}
	ok, err := c.Exists(context.Background(), "nope.f32")
	if err != nil || ok {
		t.Fatalf("Exists = %v, %v", ok, err)
	}
}

func TestChainBackendErrorIsNotAMiss(t *testing.T) {
	ctx := context.Background()
	bucket := newFakeBucket()
	errDown := errors.New("connection refused")
	bucket.fail = errDown
	fallback := newTestLocal(t)
	WriteAll(ctx, fallback, "x.f32", []byte("stale"))

	c := NewChain([]Layer{{Name: "s3", Store: NewS3(bucket, "b", "")}, {Name: "local", Store: fallback}})
	if _, err := c.Resolve(ctx, "x.f32"); !errors.Is(err, errDown) {
		t.Fatalf("err = %v, want backend error", err)
	}
}

func TestChainFill(t *testing.T) {
	ctx := context.Background()
	local := newTestLocal(t)
	remote := NewS3(newFakeBucket(), "voices", "")
	WriteAll(ctx, remote, "refs/c.f32", []byte("remote"))

	c := NewChain([]Layer{{Name: "local", Store: local}, {Name: "s3", Store: remote}}, WithFill())
	if _, err := c.Resolve(ctx, "refs/c.f32"); err != nil {
		t.Fatal(err)
	}
	got, err := ReadAll(ctx, local, "refs/c.f32")
	if err != nil {
		t.Fatalf("filled copy: %v", err)
	}
	if string(got) != "remote" {
		t.Errorf("filled copy = %q", got)
	}
}
