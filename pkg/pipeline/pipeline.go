// Package pipeline wires the gates, the decision engines and the registry
// into the two entry points of the voice system: sample evaluation and
// playback.
//
// Evaluation of one identity is linearized through the registry lock.
// Normalization, embedding extraction, history loading and the writes of
// a prospective version's blobs run before the lock is taken; blobs of a
// sample that creates no version are removed afterwards.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"sync"
	"time"

	"github.com/GreenCodr/voice-evolution-system/pkg/audio/wav"
	"github.com/GreenCodr/voice-evolution-system/pkg/config"
	"github.com/GreenCodr/voice-evolution-system/pkg/embedding"
	"github.com/GreenCodr/voice-evolution-system/pkg/metrics"
	"github.com/GreenCodr/voice-evolution-system/pkg/playback"
	"github.com/GreenCodr/voice-evolution-system/pkg/ratelimit"
	"github.com/GreenCodr/voice-evolution-system/pkg/registry"
	"github.com/GreenCodr/voice-evolution-system/pkg/speaker"
	"github.com/GreenCodr/voice-evolution-system/pkg/storage"
	"github.com/GreenCodr/voice-evolution-system/pkg/synth"
	"github.com/GreenCodr/voice-evolution-system/pkg/synthcache"
	"github.com/GreenCodr/voice-evolution-system/pkg/versioning"
)

var (
	// ErrNoVoice is returned by Play when nothing can be synthesized from.
	ErrNoVoice = errors.New("pipeline: no voice to play")

	// ErrNoSynthesizer is returned by Play when the engine has no
	// synthesis collaborator.
	ErrNoSynthesizer = errors.New("pipeline: synthesis not configured")
)

// Extractor computes a speaker embedding from a normalized clip.
type Extractor interface {
	Extract(ctx context.Context, clip wav.Clip) (embedding.Vector, error)
}

// Normalizer turns a raw recording into a normalized mono clip.
type Normalizer interface {
	Normalize(ctx context.Context, raw []byte) (wav.Clip, error)
}

// ExtractorFunc adapts a function to Extractor.
type ExtractorFunc func(ctx context.Context, clip wav.Clip) (embedding.Vector, error)

func (f ExtractorFunc) Extract(ctx context.Context, clip wav.Clip) (embedding.Vector, error) {
	return f(ctx, clip)
}

// EngineConfig configures an Engine.
type EngineConfig struct {
	// Config supplies thresholds and policies. Required. A config.Watcher
	// makes reloaded values effective on the next call.
	Config config.Source

	// Registry persists identities and versions. Required.
	Registry *registry.Registry

	// Blobs receives embedding and audio blobs of new versions. Required.
	Blobs storage.FileStore

	// Resolver reads blobs referenced by versions. Defaults to Blobs.
	Resolver storage.Resolver

	// Normalizer and Extractor are used by Ingest. Optional.
	Normalizer Normalizer
	Extractor  Extractor

	// Synthesizer, Limiter and Cache are used by Play. Optional; Play
	// fails with ErrNoSynthesizer without a Synthesizer. A nil Limiter
	// disables rate limiting and a nil Cache synthesizes every time.
	Synthesizer synth.Synthesizer
	Limiter     *ratelimit.Limiter
	Cache       *synthcache.Cache

	// AgeDelta enables AGED playback. Optional.
	AgeDelta *playback.AgeDelta

	// Metrics is optional.
	Metrics *metrics.Metrics

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Clock defaults to time.Now.
	Clock func() time.Time
}

// Engine is safe for concurrent use.
//
// The engine keeps each identity's verification history in memory once it
// has been loaded. A blob deleted after that is still used for
// verification until the engine is recreated; playback resolves blobs on
// every call.
type Engine struct {
	cfg       EngineConfig
	versions  *versioning.Engine
	resolver  storage.Resolver
	histories sync.Map // identity -> *speaker.History
	logger    *slog.Logger
	now       func() time.Time
}

type thresholdSource struct{ src config.Source }

func (t thresholdSource) VersionThresholds() versioning.Thresholds {
	return t.src.Current().VersionThresholds()
}

// New creates an Engine. It panics when a required field is missing.
func New(cfg EngineConfig) *Engine {
	if cfg.Config == nil {
		panic("pipeline: EngineConfig.Config is required")
	}
	if cfg.Registry == nil {
		panic("pipeline: EngineConfig.Registry is required")
	}
	if cfg.Blobs == nil {
		panic("pipeline: EngineConfig.Blobs is required")
	}
	e := &Engine{cfg: cfg, resolver: cfg.Resolver, logger: cfg.Logger, now: cfg.Clock}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.resolver == nil {
		e.resolver = storage.NewChain([]storage.Layer{{Name: "blobs", Store: cfg.Blobs}})
	}
	e.versions = versioning.New(thresholdSource{cfg.Config}, versioning.WithLogger(e.logger))
	return e
}

// Registry returns the engine's registry.
func (e *Engine) Registry() *registry.Registry { return e.cfg.Registry }

// PurgeCache removes cached synthesis artifacts older than the configured
// TTL. With no TTL or no cache it removes nothing.
func (e *Engine) PurgeCache(ctx context.Context) (int, error) {
	ttl := e.cfg.Config.Current().CacheTTL()
	if ttl <= 0 || e.cfg.Cache == nil {
		return 0, nil
	}
	n, err := e.cfg.Cache.Purge(ctx, e.now().Add(-ttl))
	if err != nil {
		return n, err
	}
	e.logger.InfoContext(ctx, "pipeline: cache purged", "removed", n, "ttl", ttl)
	return n, nil
}

// loadEmbedding resolves ref. A missing blob is reported as (nil, nil)
// after being logged and counted; the caller skips the version.
func (e *Engine) loadEmbedding(ctx context.Context, v *registry.Version) (embedding.Vector, error) {
	if v.EmbeddingRef == "" {
		e.missing(ctx, v, "", "no embedding ref")
		return nil, nil
	}
	data, err := e.resolver.Resolve(ctx, v.EmbeddingRef)
	if errors.Is(err, fs.ErrNotExist) {
		e.missing(ctx, v, v.EmbeddingRef, "blob not found")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("pipeline: resolve %s: %w", v.EmbeddingRef, err)
	}
	vec, err := embedding.Decode(data)
	if err != nil {
		e.missing(ctx, v, v.EmbeddingRef, err.Error())
		return nil, nil
	}
	return vec, nil
}

func (e *Engine) history(id string) *speaker.History {
	if h, ok := e.histories.Load(id); ok {
		return h.(*speaker.History)
	}
	fresh, _ := speaker.NewHistory()
	h, _ := e.histories.LoadOrStore(id, fresh)
	return h.(*speaker.History)
}

func (e *Engine) dropHistory(id string) { e.histories.Delete(id) }

// syncHistory adds the embeddings of recorded versions missing from hist.
// Versions already in tried are not resolved again.
func (e *Engine) syncHistory(ctx context.Context, hist *speaker.History, recorded []registry.Version, tried map[string]bool) error {
	for i := range recorded {
		v := &recorded[i]
		if tried[v.ID] || hist.Contains(v.ID) {
			continue
		}
		tried[v.ID] = true
		vec, err := e.loadEmbedding(ctx, v)
		if err != nil {
			return err
		}
		if vec == nil {
			continue
		}
		if err := hist.Add(speaker.Reference{ID: v.ID, Embedding: vec}); err != nil {
			return fmt.Errorf("pipeline: history %s: %w", v.ID, err)
		}
	}
	return nil
}

func (e *Engine) missing(ctx context.Context, v *registry.Version, ref, why string) {
	e.logger.WarnContext(ctx, "pipeline: embedding unavailable, version skipped",
		"version", v.ID, "seq", v.Seq, "ref", ref, "reason", why)
	e.cfg.Metrics.MissingBlob()
}

func embeddingRef(id, key string) string {
	return fmt.Sprintf("embeddings/%s/%s.f32", id, key)
}

func audioRef(id, key string) string {
	return fmt.Sprintf("audio/%s/%s.wav", id, key)
}

func agedRef(id, baseID string, target int) string {
	return fmt.Sprintf("embeddings/%s/aged-%s-%d.f32", id, baseID, target)
}
