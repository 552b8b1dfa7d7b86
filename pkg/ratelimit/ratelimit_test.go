package ratelimit

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/GreenCodr/voice-evolution-system/pkg/kv"
)

// clock is a manually advanced time source.
type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func quiet() Option {
	return WithLogger(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))
}

func newLimiter(store Store, c *clock) *Limiter {
	return New(store, Config{WindowSec: 600, MaxRequests: 5}, WithClock(c.now), quiet())
}

func TestSixthRequestDenied(t *testing.T) {
	c := &clock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	l := newLimiter(NewKVStore(kv.NewMemory(nil), nil), c)
	ctx := context.Background()

	for i := range 5 {
		res, err := l.Allow(ctx, "alice")
		if err != nil {
			t.Fatal(err)
		}
		if !res.Allowed || res.Remaining != 4-i {
			t.Fatalf("request %d = %+v", i+1, res)
		}
		c.advance(10 * time.Second)
	}
	res, err := l.Check(ctx, "alice")
	var le *LimitedError
	if !errors.As(err, &le) || !errors.Is(err, ErrLimited) {
		t.Fatalf("6th request err = %v, want LimitedError", err)
	}
	if res.Allowed || res.ResetInSec <= 0 {
		t.Errorf("6th request = %+v, want denied with reset > 0", res)
	}
	if le.ResetInSec != 550 {
		t.Errorf("ResetInSec = %d, want 550", le.ResetInSec)
	}

	// Other identities are independent.
	if res, _ := l.Allow(ctx, "bob"); !res.Allowed {
		t.Error("bob limited by alice's window")
	}
}

func TestWindowRestarts(t *testing.T) {
	c := &clock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	l := newLimiter(NewKVStore(kv.NewMemory(nil), nil), c)
	ctx := context.Background()
	for range 6 {
		l.Allow(ctx, "alice")
	}
	c.advance(599*time.Second + 500*time.Millisecond)
	res, _ := l.Allow(ctx, "alice")
	if res.Allowed || res.ResetInSec != 1 {
		t.Errorf("just before reset = %+v, want denied with 1s", res)
	}
	c.advance(500 * time.Millisecond)
	res, _ = l.Allow(ctx, "alice")
	if !res.Allowed || res.Remaining != 4 || res.ResetInSec != 600 {
		t.Errorf("after reset = %+v, want fresh window", res)
	}
}

func TestDenialDoesNotExtendWindow(t *testing.T) {
	c := &clock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	store := NewKVStore(kv.NewMemory(nil), nil)
	l := newLimiter(store, c)
	ctx := context.Background()
	for range 5 {
		l.Allow(ctx, "alice")
	}
	for range 20 {
		c.advance(time.Second)
		l.Allow(ctx, "alice")
	}
	w, _, _ := store.Hit(ctx, "alice", c.now(), 10*time.Minute, 5)
	if w.Count != 5 || !w.Start.Equal(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("window = %+v, denials must not mutate it", w)
	}
}

func TestConcurrentHitsNeverExceedLimit(t *testing.T) {
	c := &clock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	badgerStore, err := kv.NewBadger(kv.BadgerOptions{InMemory: true, Logger: slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))})
	if err != nil {
		t.Fatal(err)
	}
	defer badgerStore.Close()

	for name, store := range map[string]kv.Store{"memory": kv.NewMemory(nil), "badger": badgerStore} {
		t.Run(name, func(t *testing.T) {
			l := newLimiter(NewKVStore(store, nil), c)
			var allowed atomic.Int32
			var wg sync.WaitGroup
			for range 50 {
				wg.Add(1)
				go func() {
					defer wg.Done()
					res, err := l.Allow(context.Background(), "shared")
					if err != nil {
						t.Error(err)
						return
					}
					if res.Allowed {
						allowed.Add(1)
					}
				}()
			}
			wg.Wait()
			if n := allowed.Load(); n != 5 {
				t.Errorf("allowed = %d, want exactly 5", n)
			}
		})
	}
}

func TestStatePersistsAcrossRestart(t *testing.T) {
	dir := t.TempDir()
	c := &clock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	open := func() *kv.Badger {
		s, err := kv.NewBadger(kv.BadgerOptions{Dir: dir, Logger: slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))})
		if err != nil {
			t.Fatal(err)
		}
		return s
	}
	ctx := context.Background()

	s := open()
	l := newLimiter(NewKVStore(s, nil), c)
	for range 5 {
		l.Allow(ctx, "alice")
	}
	s.Close()

	s = open()
	defer s.Close()
	l = newLimiter(NewKVStore(s, nil), c)
	if res, _ := l.Allow(ctx, "alice"); res.Allowed {
		t.Error("restart reset an active window")
	}
}

func TestRedisStore(t *testing.T) {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set")
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		t.Fatal(err)
	}
	client := redis.NewClient(opts)
	defer client.Close()

	ctx := context.Background()
	key := "test-" + time.Now().Format("150405.000000000")
	c := &clock{t: time.Now()}
	l := newLimiter(NewRedisStore(client, "voicever:test:"), c)
	defer client.Del(ctx, "voicever:test:"+key)

	for i := range 5 {
		if res, err := l.Allow(ctx, key); err != nil || !res.Allowed {
			t.Fatalf("request %d = %+v, %v", i+1, res, err)
		}
	}
	res, err := l.Allow(ctx, key)
	if err != nil {
		t.Fatal(err)
	}
	if res.Allowed || res.ResetInSec <= 0 {
		t.Errorf("6th = %+v, want denied", res)
	}
}
