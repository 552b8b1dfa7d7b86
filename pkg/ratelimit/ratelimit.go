// Package ratelimit throttles playback synthesis per identity with a fixed
// window: the first request opens a window, up to Max requests are allowed
// inside it, and the window restarts once Window has elapsed since it
// opened.
//
// Window state lives in a Store so it survives restarts. Each Store
// performs the read-check-increment for one key atomically.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"
)

// ErrLimited is wrapped by LimitedError.
var ErrLimited = errors.New("ratelimit: limited")

// LimitedError reports a denied request.
type LimitedError struct {
	Key        string
	ResetInSec int
}

func (e *LimitedError) Error() string {
	return fmt.Sprintf("ratelimit: %s limited, retry in %ds", e.Key, e.ResetInSec)
}

func (e *LimitedError) Unwrap() error { return ErrLimited }

// Result is the outcome of one Allow call.
type Result struct {
	Allowed    bool `json:"allowed" yaml:"allowed"`
	Remaining  int  `json:"remaining" yaml:"remaining"`
	ResetInSec int  `json:"reset_in_sec" yaml:"reset_in_sec"`
}

// Window is the persisted state of one key.
type Window struct {
	Start time.Time `msgpack:"start"`
	Count int       `msgpack:"count"`
}

// Store applies the window rule for key atomically and returns the window
// after the request together with whether it was admitted.
type Store interface {
	Hit(ctx context.Context, key string, now time.Time, window time.Duration, limit int) (Window, bool, error)
}

// Config sets the window length and request budget.
type Config struct {
	WindowSec   int `json:"window_sec" yaml:"window_sec"`
	MaxRequests int `json:"max_requests" yaml:"max_requests"`
}

func (c *Config) setDefaults() {
	if c.WindowSec <= 0 {
		c.WindowSec = 600
	}
	if c.MaxRequests <= 0 {
		c.MaxRequests = 5
	}
}

// Limiter admits or denies requests per key.
type Limiter struct {
	store  Store
	window time.Duration
	limit  int
	now    func() time.Time
	logger *slog.Logger
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(lg *slog.Logger) Option {
	return func(l *Limiter) { l.logger = lg }
}

// New creates a Limiter over store.
func New(store Store, cfg Config, opts ...Option) *Limiter {
	cfg.setDefaults()
	l := &Limiter{
		store:  store,
		window: time.Duration(cfg.WindowSec) * time.Second,
		limit:  cfg.MaxRequests,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Allow records a request for key.
func (l *Limiter) Allow(ctx context.Context, key string) (Result, error) {
	now := l.now()
	w, ok, err := l.store.Hit(ctx, key, now, l.window, l.limit)
	if err != nil {
		return Result{}, fmt.Errorf("ratelimit: %s: %w", key, err)
	}
	res := l.result(w, ok, now)
	if !ok {
		l.logger.WarnContext(ctx, "ratelimit: denied", "key", key, "count", w.Count, "reset_in_sec", res.ResetInSec)
	}
	return res, nil
}

// Check is Allow returning a *LimitedError on denial.
func (l *Limiter) Check(ctx context.Context, key string) (Result, error) {
	res, err := l.Allow(ctx, key)
	if err != nil {
		return res, err
	}
	if !res.Allowed {
		return res, &LimitedError{Key: key, ResetInSec: res.ResetInSec}
	}
	return res, nil
}

func (l *Limiter) result(w Window, ok bool, now time.Time) Result {
	remaining := max(0, l.window-now.Sub(w.Start))
	reset := int(math.Ceil(remaining.Seconds()))
	if !ok {
		reset = max(1, reset)
	}
	return Result{Allowed: ok, Remaining: max(0, l.limit-w.Count), ResetInSec: reset}
}

// next applies the window rule to the current state.
func next(cur *Window, now time.Time, window time.Duration, limit int) (Window, bool) {
	if cur == nil || now.Sub(cur.Start) >= window {
		return Window{Start: now, Count: 1}, true
	}
	if cur.Count < limit {
		return Window{Start: cur.Start, Count: cur.Count + 1}, true
	}
	return *cur, false
}
