// Package config loads the voicever YAML configuration.
//
// The decision thresholds have no safe built-in values and must be present
// in the file; Load fails when any of them is missing. Everything else falls
// back to defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-yaml"

	"github.com/GreenCodr/voice-evolution-system/pkg/playback"
	"github.com/GreenCodr/voice-evolution-system/pkg/quality"
	"github.com/GreenCodr/voice-evolution-system/pkg/ratelimit"
	"github.com/GreenCodr/voice-evolution-system/pkg/retry"
	"github.com/GreenCodr/voice-evolution-system/pkg/speaker"
	"github.com/GreenCodr/voice-evolution-system/pkg/versioning"
)

// EnvSynthAPIKey overrides synthesis.api_key when set.
const EnvSynthAPIKey = "SYNTH_API_KEY"

var (
	// ErrMissingField is returned when a required threshold is absent.
	ErrMissingField = errors.New("config: missing required field")

	// ErrInvalid is returned when a value is out of range.
	ErrInvalid = errors.New("config: invalid value")
)

// Config is the parsed configuration file.
type Config struct {
	Speaker    Speaker    `yaml:"speaker"`
	Confidence Confidence `yaml:"confidence"`
	Device     Device     `yaml:"device"`
	Versioning Versioning `yaml:"versioning"`
	Quality    Quality    `yaml:"quality,omitempty"`
	Playback   Playback   `yaml:"playback,omitempty"`
	RateLimit  RateLimit  `yaml:"rate_limit,omitempty"`
	Synthesis  Synthesis  `yaml:"synthesis,omitempty"`
	Extraction Extraction `yaml:"extraction,omitempty"`
	Storage    Storage    `yaml:"storage,omitempty"`
}

// Speaker configures the verification gate and the similarity bands.
type Speaker struct {
	Threshold       *float64 `yaml:"threshold"`
	HardReject      *float64 `yaml:"hard_reject"`
	NoChange        *float64 `yaml:"no_change"`
	IndexMinHistory int      `yaml:"index_min_history,omitempty"`
}

type Confidence struct {
	CreateAbove *float64 `yaml:"create_above"`
}

type Device struct {
	MinMatch *float64 `yaml:"min_match"`
}

type Versioning struct {
	CooldownDays *float64 `yaml:"cooldown_days"`
}

// Quality holds the gate floors. Absent floors take the defaults; an
// explicit 0 is kept. Relaxed overrides only the fields it sets.
type Quality struct {
	MinDurationSec *float64        `yaml:"min_duration_sec,omitempty"`
	MinRMSdB       *float64        `yaml:"min_rms_db,omitempty"`
	MinActiveRatio *float64        `yaml:"min_active_ratio,omitempty"`
	MinSNRdB       *float64        `yaml:"min_snr_db,omitempty"`
	Relaxed        RelaxedOverride `yaml:"relaxed,omitempty"`
}

type RelaxedOverride struct {
	MinDurationSec *float64 `yaml:"min_duration_sec,omitempty"`
	MinSNRdB       *float64 `yaml:"min_snr_db,omitempty"`
}

type Playback struct {
	// DirectMatchYears 0 plays exact age matches only.
	DirectMatchYears      *int    `yaml:"direct_match_years,omitempty"`
	MaxInterpolationYears int     `yaml:"max_interpolation_years,omitempty"`
	AgingHorizonYears     float64 `yaml:"aging_horizon_years,omitempty"`

	// DeltaPath is the blob ref of the age-delta vector. Empty disables
	// synthetic aging.
	DeltaPath string `yaml:"delta_path,omitempty"`
}

type RateLimit struct {
	WindowSec   int `yaml:"window_sec,omitempty"`
	MaxRequests int `yaml:"max_requests,omitempty"`

	// RedisURL selects the redis store. Empty keeps limiter state in the
	// local kv store.
	RedisURL string `yaml:"redis_url,omitempty"`
}

type Synthesis struct {
	Model       string `yaml:"model,omitempty"`
	BaseURL     string `yaml:"base_url,omitempty"`
	APIKey      string `yaml:"api_key,omitempty"`
	Voice       string `yaml:"voice,omitempty"`
	TimeoutSec  int    `yaml:"timeout_sec,omitempty"`
	MaxRetries  int    `yaml:"max_retries,omitempty"`
	CacheTTLSec int    `yaml:"cache_ttl_sec,omitempty"`
}

type Extraction struct {
	TimeoutSec int `yaml:"timeout_sec,omitempty"`
	MaxRetries int `yaml:"max_retries,omitempty"`
}

type Storage struct {
	DataDir string `yaml:"data_dir,omitempty"`
	BlobDir string `yaml:"blob_dir,omitempty"`
	S3      S3     `yaml:"s3,omitempty"`
}

type S3 struct {
	Bucket   string `yaml:"bucket,omitempty"`
	Prefix   string `yaml:"prefix,omitempty"`
	Region   string `yaml:"region,omitempty"`
	Endpoint string `yaml:"endpoint,omitempty"`
}

// Load reads, validates and defaults the file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%w (%s)", err, path)
	}
	return cfg, nil
}

// Parse decodes and validates data, then applies defaults and the
// environment override.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.setDefaults()
	if key := os.Getenv(EnvSynthAPIKey); key != "" {
		cfg.Synthesis.APIKey = key
	}
	return &cfg, nil
}

// Validate checks required fields and ranges.
func (c *Config) Validate() error {
	required := []struct {
		name string
		v    *float64
	}{
		{"speaker.threshold", c.Speaker.Threshold},
		{"speaker.hard_reject", c.Speaker.HardReject},
		{"speaker.no_change", c.Speaker.NoChange},
		{"confidence.create_above", c.Confidence.CreateAbove},
		{"device.min_match", c.Device.MinMatch},
		{"versioning.cooldown_days", c.Versioning.CooldownDays},
	}
	for _, f := range required {
		if f.v == nil {
			return fmt.Errorf("%w: %s", ErrMissingField, f.name)
		}
	}
	for _, f := range required[:5] {
		if *f.v < -1 || *f.v > 1 {
			return fmt.Errorf("%w: %s = %v, want [-1, 1]", ErrInvalid, f.name, *f.v)
		}
	}
	if *c.Speaker.HardReject > *c.Speaker.NoChange {
		return fmt.Errorf("%w: speaker.hard_reject %v above speaker.no_change %v",
			ErrInvalid, *c.Speaker.HardReject, *c.Speaker.NoChange)
	}
	if *c.Versioning.CooldownDays < 0 {
		return fmt.Errorf("%w: versioning.cooldown_days = %v", ErrInvalid, *c.Versioning.CooldownDays)
	}
	if d := c.Playback.DirectMatchYears; d != nil && *d < 0 {
		return fmt.Errorf("%w: playback.direct_match_years = %d", ErrInvalid, *d)
	}
	for _, f := range []struct {
		name string
		v    *float64
	}{
		{"quality.min_duration_sec", c.Quality.MinDurationSec},
		{"quality.relaxed.min_duration_sec", c.Quality.Relaxed.MinDurationSec},
	} {
		if f.v != nil && *f.v < 0 {
			return fmt.Errorf("%w: %s = %v", ErrInvalid, f.name, *f.v)
		}
	}
	if r := c.Quality.MinActiveRatio; r != nil && (*r < 0 || *r > 1) {
		return fmt.Errorf("%w: quality.min_active_ratio = %v, want [0, 1]", ErrInvalid, *r)
	}
	if c.RateLimit.MaxRequests < 0 || c.RateLimit.WindowSec < 0 {
		return fmt.Errorf("%w: rate_limit must not be negative", ErrInvalid)
	}
	return nil
}

func (c *Config) setDefaults() {
	def := quality.DefaultThresholds()
	relaxed := quality.RelaxedThresholds()
	q := &c.Quality
	orDefault(&q.MinDurationSec, def.MinDurationSec)
	orDefault(&q.MinRMSdB, def.MinRMSdB)
	orDefault(&q.MinActiveRatio, def.MinActiveRatio)
	orDefault(&q.MinSNRdB, def.MinSNRdB)
	orDefault(&q.Relaxed.MinDurationSec, relaxed.MinDurationSec)
	orDefault(&q.Relaxed.MinSNRdB, relaxed.MinSNRdB)

	pb := playback.DefaultConfig()
	orDefault(&c.Playback.DirectMatchYears, *pb.DirectMatchYears)
	if c.Playback.MaxInterpolationYears <= 0 {
		c.Playback.MaxInterpolationYears = pb.MaxInterpolationYears
	}
	if c.Playback.AgingHorizonYears <= 0 {
		c.Playback.AgingHorizonYears = pb.AgingHorizonYears
	}

	if c.RateLimit.WindowSec == 0 {
		c.RateLimit.WindowSec = 600
	}
	if c.RateLimit.MaxRequests == 0 {
		c.RateLimit.MaxRequests = 5
	}

	if c.Synthesis.Model == "" {
		c.Synthesis.Model = "xtts-v2"
	}
	if c.Synthesis.TimeoutSec <= 0 {
		c.Synthesis.TimeoutSec = 30
	}
	if c.Synthesis.MaxRetries == 0 {
		c.Synthesis.MaxRetries = 3
	}
	if c.Extraction.TimeoutSec <= 0 {
		c.Extraction.TimeoutSec = 20
	}
	if c.Extraction.MaxRetries == 0 {
		c.Extraction.MaxRetries = 3
	}

	if c.Storage.DataDir == "" {
		c.Storage.DataDir = "data"
	}
	if c.Storage.BlobDir == "" {
		c.Storage.BlobDir = "blobs"
	}
}

func orDefault[T any](p **T, def T) {
	if *p == nil {
		*p = &def
	}
}

// VersionThresholds returns the versioning rule thresholds.
func (c *Config) VersionThresholds() versioning.Thresholds {
	return versioning.Thresholds{
		HardRejectSimilarity: *c.Speaker.HardReject,
		NoChangeSimilarity:   *c.Speaker.NoChange,
		CreateConfidence:     *c.Confidence.CreateAbove,
		MinDeviceMatch:       *c.Device.MinMatch,
		CooldownDays:         *c.Versioning.CooldownDays,
	}
}

// SpeakerThreshold is the verification acceptance threshold.
func (c *Config) SpeakerThreshold() float64 { return *c.Speaker.Threshold }

// SpeakerGate returns the verification gate settings.
func (c *Config) SpeakerGate() speaker.Gate {
	return speaker.Gate{IndexMinHistory: c.Speaker.IndexMinHistory}
}

// QualityThresholds returns the production floors, or the relaxed floors when
// relaxed is set.
func (c *Config) QualityThresholds(relaxed bool) quality.Thresholds {
	t := quality.Thresholds{
		MinDurationSec: *c.Quality.MinDurationSec,
		MinRMSdB:       *c.Quality.MinRMSdB,
		MinActiveRatio: *c.Quality.MinActiveRatio,
		MinSNRdB:       *c.Quality.MinSNRdB,
	}
	if relaxed {
		t.MinDurationSec = *c.Quality.Relaxed.MinDurationSec
		t.MinSNRdB = *c.Quality.Relaxed.MinSNRdB
	}
	return t
}

// PlaybackConfig returns the playback selector thresholds.
func (c *Config) PlaybackConfig() playback.Config {
	return playback.Config{
		DirectMatchYears:      c.Playback.DirectMatchYears,
		MaxInterpolationYears: c.Playback.MaxInterpolationYears,
		AgingHorizonYears:     c.Playback.AgingHorizonYears,
	}
}

// RateLimitConfig returns the limiter window and budget.
func (c *Config) RateLimitConfig() ratelimit.Config {
	return ratelimit.Config{
		WindowSec:   c.RateLimit.WindowSec,
		MaxRequests: c.RateLimit.MaxRequests,
	}
}

// SynthesisPolicy returns the retry policy for synthesis calls.
func (c *Config) SynthesisPolicy() retry.Policy {
	return retry.Policy{
		Name:       "synthesis",
		Timeout:    time.Duration(c.Synthesis.TimeoutSec) * time.Second,
		MaxRetries: c.Synthesis.MaxRetries,
	}
}

// ExtractionPolicy returns the retry policy for embedding extraction.
func (c *Config) ExtractionPolicy() retry.Policy {
	return retry.Policy{
		Name:       "extraction",
		Timeout:    time.Duration(c.Extraction.TimeoutSec) * time.Second,
		MaxRetries: c.Extraction.MaxRetries,
	}
}

// CacheTTL is the synthesis cache retention. Zero keeps entries forever.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.Synthesis.CacheTTLSec) * time.Second
}

// Source supplies the configuration in effect right now.
type Source interface {
	Current() *Config
}

// Static is a fixed Source.
type Static struct {
	C *Config
}

func (s Static) Current() *Config { return s.C }

// VersionThresholds implements versioning.ThresholdSource.
func (s Static) VersionThresholds() versioning.Thresholds { return s.C.VersionThresholds() }

var (
	_ Source                     = Static{}
	_ versioning.ThresholdSource = Static{}
	_ versioning.ThresholdSource = (*Config)(nil)
)
