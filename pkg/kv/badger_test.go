package kv_test

import (
	"context"
	"testing"

	"github.com/GreenCodr/voice-evolution-system/pkg/kv"
)

func TestBadgerDirRequired(t *testing.T) {
	if _, err := kv.NewBadger(kv.BadgerOptions{}); err == nil {
		t.Fatal("expected error when Dir is empty and InMemory is false")
	}
}

func TestBadgerPersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := kv.NewBadger(kv.BadgerOptions{Dir: dir})
	if err != nil {
		t.Fatalf("NewBadger: %v", err)
	}
	if err := s.BatchSet(ctx, []kv.Entry{
		{Key: kv.Key{"rl", "alice"}, Value: []byte("w")},
		{Key: kv.Key{"voice", "alice"}, Value: []byte("id")},
	}); err != nil {
		t.Fatalf("BatchSet: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s, err = kv.NewBadger(kv.BadgerOptions{Dir: dir})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	got, err := s.Get(ctx, kv.Key{"rl", "alice"})
	if err != nil {
		t.Fatalf("Get after reopen: %v", err)
	}
	if string(got) != "w" {
		t.Errorf("Get = %q, want w", got)
	}
}

func TestBadgerCanceledContext(t *testing.T) {
	s, err := kv.NewBadger(kv.BadgerOptions{InMemory: true})
	if err != nil {
		t.Fatalf("NewBadger: %v", err)
	}
	defer s.Close()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.Set(ctx, kv.Key{"k"}, []byte("v")); err == nil {
		t.Error("expected error for canceled context")
	}
}
