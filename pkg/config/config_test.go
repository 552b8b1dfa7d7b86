package config

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

const minimal = `
speaker:
  threshold: 0.75
  hard_reject: 0.75
  no_change: 0.95
confidence:
  create_above: 0.65
device:
  min_match: 0.5
versioning:
  cooldown_days: 30
`

func TestParseDefaults(t *testing.T) {
	t.Setenv(EnvSynthAPIKey, "")
	cfg, err := Parse([]byte(minimal))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	th := cfg.VersionThresholds()
	if th.HardRejectSimilarity != 0.75 || th.NoChangeSimilarity != 0.95 || th.CreateConfidence != 0.65 {
		t.Errorf("VersionThresholds = %+v", th)
	}
	if got := th.Cooldown(); got != 30*24*time.Hour {
		t.Errorf("cooldown = %v, want 720h", got)
	}
	if q := cfg.QualityThresholds(false); q.MinDurationSec != 10 || q.MinSNRdB != 15 {
		t.Errorf("quality = %+v, want 10s / 15dB", q)
	}
	if q := cfg.QualityThresholds(true); q.MinDurationSec != 2 || q.MinSNRdB != 8 {
		t.Errorf("relaxed quality = %+v, want 2s / 8dB", q)
	}
	if rl := cfg.RateLimitConfig(); rl.WindowSec != 600 || rl.MaxRequests != 5 {
		t.Errorf("rate limit = %+v", rl)
	}
	if pb := cfg.PlaybackConfig(); pb.MaxInterpolationYears != 6 || *pb.DirectMatchYears != 1 {
		t.Errorf("playback = %+v", pb)
	}
	if p := cfg.SynthesisPolicy(); p.Timeout != 30*time.Second || p.Name != "synthesis" {
		t.Errorf("synthesis policy = %+v", p)
	}
	if p := cfg.ExtractionPolicy(); p.Timeout != 20*time.Second {
		t.Errorf("extraction timeout = %v, want 20s", p.Timeout)
	}
	if cfg.CacheTTL() != 0 {
		t.Errorf("CacheTTL = %v, want 0", cfg.CacheTTL())
	}
}

func TestParseMissingRequired(t *testing.T) {
	for _, field := range []string{"threshold", "hard_reject", "no_change", "create_above", "min_match", "cooldown_days"} {
		t.Run(field, func(t *testing.T) {
			var kept []string
			for _, line := range strings.Split(minimal, "\n") {
				if !strings.Contains(line, field+":") {
					kept = append(kept, line)
				}
			}
			_, err := Parse([]byte(strings.Join(kept, "\n")))
			if !errors.Is(err, ErrMissingField) {
				t.Fatalf("err = %v, want ErrMissingField", err)
			}
			if !strings.Contains(err.Error(), field) {
				t.Errorf("error %q does not name %s", err, field)
			}
		})
	}
}

func TestParseInvalid(t *testing.T) {
	bad := strings.Replace(minimal, "hard_reject: 0.75", "hard_reject: 0.99", 1)
	if _, err := Parse([]byte(bad)); !errors.Is(err, ErrInvalid) {
		t.Errorf("hard_reject above no_change: err = %v, want ErrInvalid", err)
	}
	bad = strings.Replace(minimal, "cooldown_days: 30", "cooldown_days: -1", 1)
	if _, err := Parse([]byte(bad)); !errors.Is(err, ErrInvalid) {
		t.Errorf("negative cooldown: err = %v, want ErrInvalid", err)
	}
	for _, extra := range []string{
		"playback:\n  direct_match_years: -1\n",
		"quality:\n  min_active_ratio: 1.5\n",
		"quality:\n  min_duration_sec: -2\n",
	} {
		if _, err := Parse([]byte(minimal + extra)); !errors.Is(err, ErrInvalid) {
			t.Errorf("%q: err = %v, want ErrInvalid", extra, err)
		}
	}
	if _, err := Parse([]byte("speaker: [")); err == nil {
		t.Error("malformed yaml accepted")
	}
}

func TestParseKeepsExplicitZero(t *testing.T) {
	cfg, err := Parse([]byte(minimal + `
quality:
  min_rms_db: 0
  min_snr_db: 0
  relaxed:
    min_snr_db: 0
playback:
  direct_match_years: 0
`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if q := cfg.QualityThresholds(false); q.MinRMSdB != 0 || q.MinSNRdB != 0 || q.MinDurationSec != 10 {
		t.Errorf("quality = %+v, want explicit zeros and default duration", q)
	}
	if q := cfg.QualityThresholds(true); q.MinSNRdB != 0 || q.MinDurationSec != 2 {
		t.Errorf("relaxed quality = %+v", q)
	}
	if pb := cfg.PlaybackConfig(); pb.DirectMatchYears == nil || *pb.DirectMatchYears != 0 {
		t.Errorf("direct_match_years = %v, want 0", pb.DirectMatchYears)
	}
}

func TestEnvOverridesAPIKey(t *testing.T) {
	t.Setenv(EnvSynthAPIKey, "from-env")
	cfg, err := Parse([]byte(minimal + "synthesis:\n  api_key: from-file\n"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Synthesis.APIKey != "from-env" {
		t.Errorf("APIKey = %q, want from-env", cfg.Synthesis.APIKey)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("err = %v, want not exist", err)
	}
}

// syncBuffer is a log sink safe to read while the watcher writes.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func writeFile(t *testing.T, path, data string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not reached")
}

func TestWatcherReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "voicever.yaml")
	writeFile(t, path, minimal)

	var logs syncBuffer
	reloaded := make(chan *Config, 4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w, err := Watch(ctx, path,
		WithDebounce(20*time.Millisecond),
		WithWatchLogger(slog.New(slog.NewTextHandler(&logs, nil))),
		OnReload(func(c *Config) { reloaded <- c }),
	)
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	defer w.Close()

	if got := w.VersionThresholds().CreateConfidence; got != 0.65 {
		t.Fatalf("initial create_above = %v", got)
	}

	// Unrelated files in the directory are ignored.
	writeFile(t, filepath.Join(dir, "other.yaml"), "x: 1")

	writeFile(t, path, strings.Replace(minimal, "create_above: 0.65", "create_above: 0.8", 1))
	select {
	case <-reloaded:
	case <-time.After(5 * time.Second):
		t.Fatal("no reload")
	}
	if got := w.VersionThresholds().CreateConfidence; got != 0.8 {
		t.Errorf("create_above after reload = %v, want 0.8", got)
	}

	writeFile(t, path, "speaker:\n  threshold: 0.7\n")
	waitFor(t, func() bool { return strings.Contains(logs.String(), "reload failed") })
	if got := w.Current().VersionThresholds().CreateConfidence; got != 0.8 {
		t.Errorf("invalid reload replaced config: create_above = %v", got)
	}
}
