package retry

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"
)

func fast(name string) Policy {
	return Policy{
		Name:            name,
		Timeout:         50 * time.Millisecond,
		InitialInterval: time.Millisecond,
		MaxInterval:     2 * time.Millisecond,
		Logger:          slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)),
	}
}

func TestDoSucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	got, err := Do(context.Background(), fast("extract"), func(context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", errors.New("flaky")
		}
		return "ok", nil
	})
	if err != nil || got != "ok" {
		t.Fatalf("Do = %q, %v", got, err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestDoExhaustionIsUnavailable(t *testing.T) {
	errDown := errors.New("connection refused")
	calls := 0
	_, err := Do(context.Background(), fast("synthesis"), func(context.Context) (int, error) {
		calls++
		return 0, errDown
	})
	if !errors.Is(err, ErrUnavailable) || !errors.Is(err, errDown) {
		t.Fatalf("err = %v, want ErrUnavailable wrapping the cause", err)
	}
	if calls != 4 {
		t.Errorf("calls = %d, want 1 + 3 retries", calls)
	}
}

func TestDoAttemptTimeoutIsRetried(t *testing.T) {
	p := fast("synthesis")
	p.MaxRetries = 1
	var deadlines int
	_, err := Do(context.Background(), p, func(ctx context.Context) (int, error) {
		<-ctx.Done()
		deadlines++
		return 0, ctx.Err()
	})
	if !errors.Is(err, ErrUnavailable) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want unavailable after timeouts", err)
	}
	if deadlines != 2 {
		t.Errorf("attempts = %d, want 2", deadlines)
	}
}

func TestDoPermanentStops(t *testing.T) {
	errBad := errors.New("bad request")
	calls := 0
	_, err := Do(context.Background(), fast("synthesis"), func(context.Context) (int, error) {
		calls++
		return 0, Permanent(errBad)
	})
	if !errors.Is(err, errBad) || errors.Is(err, ErrUnavailable) {
		t.Fatalf("err = %v, want the permanent cause only", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestDoCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Do(ctx, fast("extract"), func(ctx context.Context) (int, error) {
		return 0, ctx.Err()
	})
	if !errors.Is(err, context.Canceled) || errors.Is(err, ErrUnavailable) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestDoObserve(t *testing.T) {
	p := fast("extract")
	p.MaxRetries = -1
	var seen []error
	p.Observe = func(_ time.Duration, err error) { seen = append(seen, err) }
	Do(context.Background(), p, func(context.Context) (int, error) { return 0, errors.New("x") })
	if len(seen) != 1 || seen[0] == nil {
		t.Errorf("observations = %v, want one failed attempt", seen)
	}
}
