package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/GreenCodr/voice-evolution-system/pkg/audio/wav"
	"github.com/GreenCodr/voice-evolution-system/pkg/confidence"
	"github.com/GreenCodr/voice-evolution-system/pkg/device"
	"github.com/GreenCodr/voice-evolution-system/pkg/embedding"
	"github.com/GreenCodr/voice-evolution-system/pkg/quality"
	"github.com/GreenCodr/voice-evolution-system/pkg/registry"
	"github.com/GreenCodr/voice-evolution-system/pkg/retry"
	"github.com/GreenCodr/voice-evolution-system/pkg/speaker"
	"github.com/GreenCodr/voice-evolution-system/pkg/storage"
	"github.com/GreenCodr/voice-evolution-system/pkg/versioning"
)

// Sample is one recording submitted for evaluation.
type Sample struct {
	Identity string

	// Clip is the normalized mono audio.
	Clip wav.Clip

	// Raw is the recording as submitted. Its header gives the device
	// fingerprint and it is stored as the version's audio. Optional.
	Raw []byte

	// Embedding is the speaker embedding of Clip.
	Embedding embedding.Vector

	// RecordedAt defaults to the engine clock.
	RecordedAt time.Time

	// Relaxed selects the relaxed quality floors.
	Relaxed bool
}

// Evaluation is the outcome of one sample.
type Evaluation struct {
	Identity    string                `json:"identity" yaml:"identity"`
	Action      versioning.Action     `json:"action" yaml:"action"`
	Reason      string                `json:"reason" yaml:"reason"`
	Score       *float64              `json:"score,omitempty" yaml:"score,omitempty"`
	Confidence  float64               `json:"confidence" yaml:"confidence"`
	Similarity  *float64              `json:"similarity,omitempty" yaml:"similarity,omitempty"`
	DeviceMatch float64               `json:"device_match" yaml:"device_match"`
	Quality     quality.Report        `json:"quality" yaml:"quality"`
	Thresholds  versioning.Thresholds `json:"thresholds" yaml:"thresholds"`

	// Version is the created version on CREATE_VERSION.
	Version *registry.Version `json:"version,omitempty" yaml:"version,omitempty"`
}

// IngestOptions configure Ingest.
type IngestOptions struct {
	RecordedAt time.Time
	Relaxed    bool
}

// Ingest normalizes raw, runs the quality gate, extracts the embedding and
// evaluates the sample. A sample failing the quality gate is rejected
// before extraction is attempted. Extraction failures return an error
// wrapping retry.ErrUnavailable.
func (e *Engine) Ingest(ctx context.Context, id string, raw []byte, opts IngestOptions) (*Evaluation, error) {
	if e.cfg.Normalizer == nil || e.cfg.Extractor == nil {
		return nil, fmt.Errorf("pipeline: ingest: normalizer and extractor are required")
	}
	if err := registry.ValidateID(id); err != nil {
		return nil, err
	}
	clip, err := e.cfg.Normalizer.Normalize(ctx, raw)
	if err != nil {
		return nil, fmt.Errorf("pipeline: normalize: %w", err)
	}
	s := Sample{Identity: id, Clip: clip, Raw: raw, RecordedAt: opts.RecordedAt, Relaxed: opts.Relaxed}
	cfg := e.cfg.Config.Current()
	report := quality.Evaluate(clip, cfg.QualityThresholds(opts.Relaxed))
	if !report.Accepted {
		return e.qualityReject(ctx, s, report, cfg.VersionThresholds()), nil
	}

	policy := cfg.ExtractionPolicy()
	policy.Logger = e.logger
	policy.Observe = e.cfg.Metrics.Observer(policy.Name)
	vec, err := retry.Do(ctx, policy, func(ctx context.Context) (embedding.Vector, error) {
		return e.cfg.Extractor.Extract(ctx, clip)
	})
	if err != nil {
		return nil, fmt.Errorf("pipeline: extract: %w", err)
	}
	s.Embedding = vec
	return e.evaluate(ctx, s, report)
}

// EvaluateSample runs the quality gate, verification, scoring and the
// version decision for s, and persists a new version on CREATE_VERSION.
// Rejections are reported in the Evaluation, not as errors.
func (e *Engine) EvaluateSample(ctx context.Context, s Sample) (*Evaluation, error) {
	if err := registry.ValidateID(s.Identity); err != nil {
		return nil, err
	}
	cfg := e.cfg.Config.Current()
	report := quality.Evaluate(s.Clip, cfg.QualityThresholds(s.Relaxed))
	if !report.Accepted {
		return e.qualityReject(ctx, s, report, cfg.VersionThresholds()), nil
	}
	return e.evaluate(ctx, s, report)
}

func (e *Engine) qualityReject(ctx context.Context, s Sample, report quality.Report, th versioning.Thresholds) *Evaluation {
	ev := &Evaluation{
		Identity:   s.Identity,
		Action:     versioning.ActionReject,
		Reason:     report.Reason,
		Score:      report.Score(),
		Quality:    report,
		Thresholds: th,
	}
	attrs := []any{"event", "VERSION_REJECTED", "identity", s.Identity, "reason", report.Reason}
	if ev.Score != nil {
		attrs = append(attrs, "score", confidence.Round(*ev.Score, 4))
	}
	e.logger.WarnContext(ctx, "pipeline: quality gate rejected sample", attrs...)
	e.cfg.Metrics.Decision(string(ev.Action), ev.Reason)
	return ev
}

func (e *Engine) evaluate(ctx context.Context, s Sample, report quality.Report) (*Evaluation, error) {
	query, err := embedding.Normalize(s.Embedding)
	if err != nil {
		return nil, fmt.Errorf("pipeline: embedding: %w", err)
	}
	at := s.RecordedAt
	if at.IsZero() {
		at = e.now()
	}
	var fp *device.Fingerprint
	if len(s.Raw) > 0 {
		if f, err := device.FromWAV(s.Raw); err == nil {
			fp = &f
		}
	}
	cfg := e.cfg.Config.Current()
	gate := cfg.SpeakerGate()

	// Embeddings are immutable once written, so the history cache is
	// brought up to date before the lock; inside it only versions appended
	// in the meantime are resolved.
	hist := e.history(s.Identity)
	tried := make(map[string]bool)
	pre, err := e.cfg.Registry.History(ctx, s.Identity)
	if err != nil {
		return nil, err
	}
	if err := e.syncHistory(ctx, hist, registry.Recorded(pre), tried); err != nil {
		return nil, err
	}
	if d := hist.Dim(); d != 0 && len(query) != d {
		return nil, fmt.Errorf("pipeline: verify: %w: query %d, history %d", embedding.ErrDimMismatch, len(query), d)
	}
	staged, err := e.stage(ctx, s.Identity, query, s.Raw)
	if err != nil {
		return nil, err
	}

	var ev *Evaluation
	err = e.cfg.Registry.Do(ctx, s.Identity, func(tx *registry.Tx) error {
		ident, err := tx.Identity()
		if err != nil {
			return err
		}
		history, err := tx.History()
		if err != nil {
			return err
		}
		recorded := registry.Recorded(history)
		if err := e.syncHistory(ctx, hist, recorded, tried); err != nil {
			return err
		}

		res, err := gate.Verify(query, hist, cfg.SpeakerThreshold())
		if err != nil {
			return fmt.Errorf("pipeline: verify: %w", err)
		}
		dm := device.MatchReference(fp, referenceDevice(recorded))
		conf := confidence.Score(confidence.Inputs{
			DurationSec:  s.Clip.Seconds(),
			SNRdB:        report.SNRdB,
			Similarity:   res.Similarity,
			DeviceMatch:  dm,
			HistoryCount: hist.Len(),
		})
		d, th := e.versions.Decide(ctx, versioning.Input{
			Identity:        s.Identity,
			SpeakerAccepted: res.Accepted,
			Similarity:      res.Similarity,
			Confidence:      conf,
			DeviceMatch:     dm,
			LastCreatedAt:   ident.LastCreatedAt,
			Now:             at,
		})
		ev = &Evaluation{
			Identity:    s.Identity,
			Action:      d.Action(),
			Reason:      d.Why(),
			Confidence:  conf,
			Similarity:  res.Similarity,
			DeviceMatch: dm,
			Quality:     report,
			Thresholds:  th,
		}
		switch d := d.(type) {
		case versioning.Reject:
			ev.Score = d.Score
		case versioning.NoNewVersion:
			ev.Score = d.Score
		case versioning.Create:
			v, err := tx.Append(registry.NewVersion{
				RecordedAt:   at,
				EmbeddingRef: staged.embedding,
				AudioRef:     staged.audio,
				Confidence:   d.Confidence,
				Similarity:   d.Similarity,
				Device:       fp,
			}, registry.LedgerEntry{
				Confidence: d.Confidence,
				Similarity: d.Similarity,
				Reason:     d.Why(),
				Thresholds: th,
				At:         at,
			})
			if err != nil {
				return err
			}
			ev.Version = v
		}
		return nil
	})
	if err != nil || ev.Version == nil {
		e.cleanup(ctx, staged.refs())
	}
	if err != nil {
		return nil, err
	}
	if ev.Version != nil {
		if err := hist.Add(speaker.Reference{ID: ev.Version.ID, Embedding: query}); err != nil {
			e.logger.WarnContext(ctx, "pipeline: history cache not updated", "identity", s.Identity, "error", err)
			e.dropHistory(s.Identity)
		}
	}
	e.cfg.Metrics.Decision(string(ev.Action), ev.Reason)
	return ev, nil
}

// stagedBlobs are the blobs of a prospective version, written before the
// identity lock is taken under unique refs.
type stagedBlobs struct {
	embedding string
	audio     string
}

func (b stagedBlobs) refs() []string {
	out := []string{b.embedding}
	if b.audio != "" {
		out = append(out, b.audio)
	}
	return out
}

func (e *Engine) stage(ctx context.Context, id string, query embedding.Vector, raw []byte) (stagedBlobs, error) {
	key, err := uuid.NewV7()
	if err != nil {
		return stagedBlobs{}, fmt.Errorf("pipeline: blob key: %w", err)
	}
	b := stagedBlobs{embedding: embeddingRef(id, key.String())}
	if err := storage.WriteAll(ctx, e.cfg.Blobs, b.embedding, embedding.Encode(query)); err != nil {
		return stagedBlobs{}, fmt.Errorf("pipeline: store embedding: %w", err)
	}
	if len(raw) > 0 {
		b.audio = audioRef(id, key.String())
		if err := storage.WriteAll(ctx, e.cfg.Blobs, b.audio, raw); err != nil {
			e.cleanup(ctx, []string{b.embedding})
			return stagedBlobs{}, fmt.Errorf("pipeline: store audio: %w", err)
		}
	}
	return b, nil
}

// cleanup removes blobs that no version references. It runs even when ctx
// is already canceled.
func (e *Engine) cleanup(ctx context.Context, refs []string) {
	ctx = context.WithoutCancel(ctx)
	for _, ref := range refs {
		if err := e.cfg.Blobs.Delete(ctx, ref); err != nil {
			e.logger.WarnContext(ctx, "pipeline: blob cleanup failed", "ref", ref, "error", err)
		}
	}
}

// referenceDevice is the fingerprint of the most recent recorded version
// that has one.
func referenceDevice(recorded []registry.Version) *device.Fingerprint {
	var best *registry.Version
	for i := range recorded {
		v := &recorded[i]
		if v.Device == nil {
			continue
		}
		if best == nil || v.RecordedAt.After(best.RecordedAt) ||
			(v.RecordedAt.Equal(best.RecordedAt) && v.Seq > best.Seq) {
			best = v
		}
	}
	if best == nil {
		return nil
	}
	return best.Device
}
