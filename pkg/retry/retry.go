// Package retry bounds calls to external collaborators: each attempt runs
// under its own timeout, failures are retried with exponential backoff,
// and exhaustion is reported as ErrUnavailable rather than a verdict on
// the input.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ErrUnavailable is wrapped by the error returned once retries run out.
var ErrUnavailable = errors.New("retry: collaborator unavailable")

// Permanent marks err as not worth retrying. Do returns it unwrapped.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Policy configures retries for one collaborator.
type Policy struct {
	// Name labels logs and observations, e.g. "synthesis".
	Name string

	// Timeout bounds each attempt. Zero means 30s.
	Timeout time.Duration

	// MaxRetries is the number of retries after the first attempt.
	// Negative disables retries; zero means 3.
	MaxRetries int

	// InitialInterval is the first backoff delay. Zero means 500ms.
	InitialInterval time.Duration

	// MaxInterval caps the backoff delay. Zero means 10s.
	MaxInterval time.Duration

	// Observe, if set, receives the duration and error of every attempt.
	Observe func(elapsed time.Duration, err error)

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

func (p *Policy) setDefaults() {
	if p.Name == "" {
		p.Name = "collaborator"
	}
	if p.Timeout <= 0 {
		p.Timeout = 30 * time.Second
	}
	switch {
	case p.MaxRetries == 0:
		p.MaxRetries = 3
	case p.MaxRetries < 0:
		p.MaxRetries = 0
	}
	if p.InitialInterval <= 0 {
		p.InitialInterval = 500 * time.Millisecond
	}
	if p.MaxInterval <= 0 {
		p.MaxInterval = 10 * time.Second
	}
	if p.Logger == nil {
		p.Logger = slog.Default()
	}
}

// Do calls fn until it succeeds, returns a Permanent error, ctx ends, or
// the retry budget is spent.
func Do[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	p.setDefaults()

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.InitialInterval
	eb.MaxInterval = p.MaxInterval
	eb.MaxElapsedTime = 0
	b := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(p.MaxRetries)), ctx)

	var (
		out       T
		attempts  int
		permanent bool
	)
	op := func() error {
		attempts++
		actx, cancel := context.WithTimeout(ctx, p.Timeout)
		defer cancel()
		start := time.Now()
		v, err := fn(actx)
		if p.Observe != nil {
			p.Observe(time.Since(start), err)
		}
		if err != nil {
			var perm *backoff.PermanentError
			permanent = errors.As(err, &perm)
			return err
		}
		out = v
		return nil
	}
	notify := func(err error, wait time.Duration) {
		p.Logger.WarnContext(ctx, "retry: attempt failed",
			"collaborator", p.Name, "attempt", attempts, "backoff", wait, "error", err)
	}

	err := backoff.RetryNotify(op, b, notify)
	switch {
	case err == nil:
		return out, nil
	case permanent:
		return out, err
	case ctx.Err() != nil:
		return out, fmt.Errorf("retry: %s: %w", p.Name, ctx.Err())
	}
	p.Logger.ErrorContext(ctx, "retry: giving up", "collaborator", p.Name, "attempts", attempts, "error", err)
	return out, fmt.Errorf("%w: %s after %d attempts: %w", ErrUnavailable, p.Name, attempts, err)
}
