package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"

	"github.com/GreenCodr/voice-evolution-system/pkg/embedding"
	"github.com/GreenCodr/voice-evolution-system/pkg/playback"
	"github.com/GreenCodr/voice-evolution-system/pkg/ratelimit"
	"github.com/GreenCodr/voice-evolution-system/pkg/registry"
	"github.com/GreenCodr/voice-evolution-system/pkg/retry"
	"github.com/GreenCodr/voice-evolution-system/pkg/storage"
	"github.com/GreenCodr/voice-evolution-system/pkg/synth"
	"github.com/GreenCodr/voice-evolution-system/pkg/synthcache"
)

// DecidePlayback selects how identity id should sound at targetAge.
// Versions whose embedding or reference recording cannot be found are not
// candidates.
func (e *Engine) DecidePlayback(ctx context.Context, id string, targetAge int) (playback.Decision, error) {
	d, _, err := e.decidePlayback(ctx, id, targetAge)
	return d, err
}

func (e *Engine) decidePlayback(ctx context.Context, id string, targetAge int) (playback.Decision, []playback.Candidate, error) {
	if err := registry.ValidateID(id); err != nil {
		return nil, nil, err
	}
	if targetAge < 0 {
		return nil, nil, fmt.Errorf("pipeline: target age %d", targetAge)
	}
	history, err := e.cfg.Registry.History(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	recorded := registry.Recorded(history)
	cands := make([]playback.Candidate, 0, len(recorded))
	for i := range recorded {
		vec, err := e.loadEmbedding(ctx, &recorded[i])
		if err != nil {
			return nil, nil, err
		}
		if vec == nil {
			continue
		}
		ok, err := e.audioPresent(ctx, &recorded[i])
		if err != nil {
			return nil, nil, err
		}
		if ok {
			cands = append(cands, playback.Candidate{Version: recorded[i], Embedding: vec})
		}
	}

	sel := playback.NewSelector(e.cfg.Config.Current().PlaybackConfig(), playback.WithAgeDelta(e.cfg.AgeDelta))
	d, err := sel.Select(cands, targetAge)
	if err != nil {
		return nil, nil, err
	}
	e.logger.InfoContext(ctx, "pipeline: playback decision",
		"identity", id, "target_age", targetAge, "mode", d.Mode(), "reason", d.Reason(), "confidence", d.Confidence())
	e.cfg.Metrics.Playback(string(d.Mode()))
	return d, cands, nil
}

// PlayRequest asks for text spoken in id's voice at TargetAge.
type PlayRequest struct {
	Identity  string `json:"identity" yaml:"identity"`
	TargetAge int    `json:"target_age" yaml:"target_age"`
	Text      string `json:"text" yaml:"text"`

	// Persist stores an AGED embedding as a derived version.
	Persist bool `json:"persist,omitempty" yaml:"persist,omitempty"`
}

// PlayResult is the synthesized audio and how it was obtained.
type PlayResult struct {
	Decision    playback.Decision `json:"-" yaml:"-"`
	Mode        playback.Mode     `json:"mode" yaml:"mode"`
	Reason      string            `json:"reason" yaml:"reason"`
	Confidence  float64           `json:"confidence" yaml:"confidence"`
	ReferenceID string            `json:"reference_id" yaml:"reference_id"`
	ArtifactRef string            `json:"artifact_ref,omitempty" yaml:"artifact_ref,omitempty"`
	Audio       []byte            `json:"-" yaml:"-"`
	Hit         bool              `json:"cache_hit" yaml:"cache_hit"`
	Shared      bool              `json:"shared,omitempty" yaml:"shared,omitempty"`
	Limit       ratelimit.Result  `json:"rate_limit" yaml:"rate_limit"`
	Derived     *registry.Version `json:"derived,omitempty" yaml:"derived,omitempty"`
}

// voiceRef is what synthesis conditions on.
type voiceRef struct {
	id        string
	audioRef  string
	embedding embedding.Vector
}

// Play decides playback, checks the rate limit and returns cached or newly
// synthesized audio. Requests that cannot be played return ErrNoVoice and
// never reach the limiter or the synthesizer. A denial returns a
// *ratelimit.LimitedError.
func (e *Engine) Play(ctx context.Context, req PlayRequest) (*PlayResult, error) {
	if req.Text == "" {
		return nil, synth.ErrEmptyText
	}
	if e.cfg.Synthesizer == nil {
		return nil, ErrNoSynthesizer
	}
	d, cands, err := e.decidePlayback(ctx, req.Identity, req.TargetAge)
	if err != nil {
		return nil, err
	}
	ref, ok := reference(d, cands)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoVoice, d.Reason())
	}

	out := &PlayResult{Decision: d, Mode: d.Mode(), Reason: d.Reason(), Confidence: d.Confidence(), ReferenceID: ref.id}
	if e.cfg.Limiter != nil {
		res, err := e.cfg.Limiter.Check(ctx, req.Identity)
		out.Limit = res
		var limited *ratelimit.LimitedError
		if errors.As(err, &limited) {
			e.cfg.Metrics.Limit(false)
			return nil, err
		}
		if err != nil {
			return nil, err
		}
		e.cfg.Metrics.Limit(true)
	}

	model := e.cfg.Synthesizer.Model()
	policy := e.cfg.Config.Current().SynthesisPolicy()
	policy.Logger = e.logger
	policy.Observe = e.cfg.Metrics.Observer(policy.Name)
	synthesize := func(ctx context.Context) ([]byte, error) {
		audio, err := e.referenceAudio(ctx, ref.audioRef)
		if err != nil {
			return nil, err
		}
		sr := synth.Request{Text: req.Text, ReferenceAudio: audio, Embedding: ref.embedding}
		return retry.Do(ctx, policy, func(ctx context.Context) ([]byte, error) {
			return e.cfg.Synthesizer.Synthesize(ctx, sr)
		})
	}

	if e.cfg.Cache == nil {
		audio, err := synthesize(ctx)
		if err != nil {
			return nil, fmt.Errorf("pipeline: synthesize: %w", err)
		}
		out.Audio = audio
	} else {
		res, err := e.cfg.Cache.GetOrSynthesize(ctx, synthcache.Key{Model: model, ReferenceID: ref.id, Text: req.Text}, synthesize)
		if err != nil {
			return nil, fmt.Errorf("pipeline: synthesize: %w", err)
		}
		out.Audio, out.ArtifactRef, out.Hit, out.Shared = res.Audio, res.Entry.ArtifactRef, res.Hit, res.Shared
		switch {
		case res.Hit:
			e.cfg.Metrics.Cache("hit")
		case res.Shared:
			e.cfg.Metrics.Cache("shared")
		default:
			e.cfg.Metrics.Cache("miss")
		}
	}

	if aged, ok := d.(playback.Aged); ok && req.Persist {
		v, err := e.persistAged(ctx, req.Identity, aged)
		if err != nil {
			return nil, err
		}
		out.Derived = v
	}
	e.logger.InfoContext(ctx, "pipeline: played",
		"identity", req.Identity, "mode", out.Mode, "reference", ref.id, "cache_hit", out.Hit, "artifact", out.ArtifactRef)
	return out, nil
}

// reference picks the voice synthesis is conditioned on.
func reference(d playback.Decision, cands []playback.Candidate) (voiceRef, bool) {
	switch d := d.(type) {
	case playback.Recorded:
		return voiceRef{id: d.Version.ID, audioRef: d.Version.AudioRef, embedding: d.Embedding}, true
	case playback.Interpolated:
		nearer := d.Lower
		if d.Alpha > 0.5 {
			nearer = d.Upper
		}
		return voiceRef{
			id:        fmt.Sprintf("interp:%s:%s:%.4f", d.Lower.ID, d.Upper.ID, d.Alpha),
			audioRef:  nearer.AudioRef,
			embedding: d.Embedding,
		}, true
	case playback.Aged:
		return voiceRef{
			id:        fmt.Sprintf("aged:%s:%d", d.Base.ID, d.TargetAge),
			audioRef:  d.Base.AudioRef,
			embedding: d.Embedding,
		}, true
	case playback.Predicted:
		if d.Nearest == nil {
			return voiceRef{}, false
		}
		r := voiceRef{id: d.Nearest.ID, audioRef: d.Nearest.AudioRef}
		for _, c := range cands {
			if c.Version.ID == d.Nearest.ID {
				r.embedding = c.Embedding
			}
		}
		return r, true
	}
	return voiceRef{}, false
}

// blobChecker is implemented by resolvers that can test for a blob without
// reading it, such as storage.Chain.
type blobChecker interface {
	Exists(ctx context.Context, ref string) (bool, error)
}

// audioPresent reports whether v's reference recording can be found. A
// version recorded without audio has nothing to miss.
func (e *Engine) audioPresent(ctx context.Context, v *registry.Version) (bool, error) {
	if v.AudioRef == "" {
		return true, nil
	}
	var ok bool
	if c, isChecker := e.resolver.(blobChecker); isChecker {
		var err error
		if ok, err = c.Exists(ctx, v.AudioRef); err != nil {
			return false, fmt.Errorf("pipeline: stat %s: %w", v.AudioRef, err)
		}
	} else {
		_, err := e.resolver.Resolve(ctx, v.AudioRef)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return false, fmt.Errorf("pipeline: resolve %s: %w", v.AudioRef, err)
		}
		ok = err == nil
	}
	if !ok {
		e.logger.WarnContext(ctx, "pipeline: reference audio unavailable, version skipped",
			"version", v.ID, "seq", v.Seq, "ref", v.AudioRef)
		e.cfg.Metrics.MissingBlob()
	}
	return ok, nil
}

// referenceAudio resolves the reference recording. A recording deleted
// after the playback decision is not fatal: synthesis falls back to the
// embedding.
func (e *Engine) referenceAudio(ctx context.Context, ref string) ([]byte, error) {
	if ref == "" {
		return nil, nil
	}
	data, err := e.resolver.Resolve(ctx, ref)
	if errors.Is(err, fs.ErrNotExist) {
		e.logger.WarnContext(ctx, "pipeline: reference audio missing", "ref", ref)
		e.cfg.Metrics.MissingBlob()
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("pipeline: resolve %s: %w", ref, err)
	}
	return data, nil
}

func (e *Engine) persistAged(ctx context.Context, id string, d playback.Aged) (*registry.Version, error) {
	ref := agedRef(id, d.Base.ID, d.TargetAge)
	ok, err := e.cfg.Blobs.Exists(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("pipeline: stat %s: %w", ref, err)
	}
	if !ok {
		if err := storage.WriteAll(ctx, e.cfg.Blobs, ref, embedding.Encode(d.Embedding)); err != nil {
			return nil, fmt.Errorf("pipeline: store aged embedding: %w", err)
		}
	}
	return e.cfg.Registry.AppendDerived(ctx, id, registry.Derivation{
		Kind:          registry.KindAged,
		BaseVersionID: d.Base.ID,
		TargetAge:     d.TargetAge,
		EmbeddingRef:  ref,
		Confidence:    d.Confidence(),
	})
}
