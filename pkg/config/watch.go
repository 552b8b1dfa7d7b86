package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/GreenCodr/voice-evolution-system/pkg/versioning"
)

// Watcher holds the current configuration and reloads it when the file
// changes on disk. A reload that fails to parse or validate is logged and
// the previous configuration stays in effect.
type Watcher struct {
	path     string
	current  atomic.Pointer[Config]
	logger   *slog.Logger
	debounce time.Duration
	onReload func(*Config)

	fsw  *fsnotify.Watcher
	done chan struct{}
}

var (
	_ Source                     = (*Watcher)(nil)
	_ versioning.ThresholdSource = (*Watcher)(nil)
)

// WatchOption configures a Watcher.
type WatchOption func(*Watcher)

// WithWatchLogger sets the logger. Defaults to slog.Default().
func WithWatchLogger(l *slog.Logger) WatchOption {
	return func(w *Watcher) { w.logger = l }
}

// WithDebounce coalesces bursts of events. Default: 200ms.
func WithDebounce(d time.Duration) WatchOption {
	return func(w *Watcher) { w.debounce = d }
}

// OnReload registers fn to run after every successful reload.
func OnReload(fn func(*Config)) WatchOption {
	return func(w *Watcher) { w.onReload = fn }
}

// Watch loads path and starts watching it until ctx is done or Close is
// called. The initial load must succeed.
func Watch(ctx context.Context, path string, opts ...WatchOption) (*Watcher, error) {
	w := &Watcher{
		path:     filepath.Clean(path),
		logger:   slog.Default(),
		debounce: 200 * time.Millisecond,
		done:     make(chan struct{}),
	}
	for _, o := range opts {
		o(w)
	}

	cfg, err := Load(w.path)
	if err != nil {
		return nil, err
	}
	w.current.Store(cfg)

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config: create watcher: %w", err)
	}
	// Editors replace files by rename, so watch the directory.
	if err := fsw.Add(filepath.Dir(w.path)); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("config: watch %s: %w", filepath.Dir(w.path), err)
	}
	w.fsw = fsw
	go w.loop(ctx)
	return w, nil
}

// Current returns the configuration in effect.
func (w *Watcher) Current() *Config { return w.current.Load() }

// VersionThresholds implements versioning.ThresholdSource.
func (w *Watcher) VersionThresholds() versioning.Thresholds {
	return w.current.Load().VersionThresholds()
}

// Close stops watching.
func (w *Watcher) Close() error {
	err := w.fsw.Close()
	<-w.done
	return err
}

func (w *Watcher) loop(ctx context.Context) {
	defer close(w.done)

	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			w.fsw.Close()
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C
		case <-fire:
			fire = nil
			w.reload()
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Error("config: watcher error", "error", err)
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		w.logger.Error("config: reload failed, keeping previous", "path", w.path, "error", err)
		return
	}
	w.current.Store(cfg)
	th := cfg.VersionThresholds()
	w.logger.Info("config: reloaded",
		"path", w.path,
		"speaker_threshold", cfg.SpeakerThreshold(),
		"hard_reject", th.HardRejectSimilarity,
		"no_change", th.NoChangeSimilarity,
		"create_above", th.CreateConfidence,
		"cooldown_days", th.CooldownDays,
	)
	if w.onReload != nil {
		w.onReload(cfg)
	}
}
