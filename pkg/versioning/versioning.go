// Package versioning decides what a verified sample does to an identity's
// version history: nothing, a new version, or a rejection.
//
// Rules are applied in a fixed order and the first match wins:
//
//  1. speaker verification failed      → REJECT
//  2. similarity < hard-reject floor    → REJECT
//  3. similarity ≥ no-change ceiling    → NO_NEW_VERSION
//  4. cooldown since last creation open → REJECT
//  5. confidence and device floors met  → CREATE_VERSION
//  6. otherwise                         → NO_NEW_VERSION
//
// Rules 2 and 3 are skipped while the identity has no history. Thresholds
// are read from a ThresholdSource on every call, so a hot-reloaded config
// takes effect on the next evaluation.
package versioning

import (
	"context"
	"log/slog"
	"time"

	"github.com/GreenCodr/voice-evolution-system/pkg/confidence"
)

// Action is the terminal outcome of one evaluation.
type Action string

const (
	ActionReject       Action = "REJECT"
	ActionNoNewVersion Action = "NO_NEW_VERSION"
	ActionCreate       Action = "CREATE_VERSION"
)

// Reasons attached to non-create decisions.
const (
	ReasonSpeakerFailed  = "speaker verification failed"
	ReasonLowSimilarity  = "similarity below threshold"
	ReasonStable         = "voice stable"
	ReasonCooldown       = "cooldown not elapsed"
	ReasonLowConfidence  = "insufficient confidence"
	ReasonVersionCreated = "voice evolved"
)

// Audit event names.
const (
	eventRejected     = "VERSION_REJECTED"
	eventNoNewVersion = "NO_NEW_VERSION"
	eventCreated      = "VERSION_CREATED"
)

// Thresholds configure the decision rules.
type Thresholds struct {
	HardRejectSimilarity float64 `json:"hard_reject" yaml:"hard_reject" msgpack:"hard_reject"`
	NoChangeSimilarity   float64 `json:"no_change" yaml:"no_change" msgpack:"no_change"`
	CreateConfidence     float64 `json:"create_above" yaml:"create_above" msgpack:"create_above"`
	MinDeviceMatch       float64 `json:"min_device_match" yaml:"min_device_match" msgpack:"min_device_match"`
	CooldownDays         float64 `json:"cooldown_days" yaml:"cooldown_days" msgpack:"cooldown_days"`
}

// DefaultThresholds returns the reference values.
func DefaultThresholds() Thresholds {
	return Thresholds{
		HardRejectSimilarity: 0.75,
		NoChangeSimilarity:   0.95,
		CreateConfidence:     0.65,
		MinDeviceMatch:       0.5,
		CooldownDays:         30,
	}
}

// Cooldown returns the cooldown as a duration.
func (t Thresholds) Cooldown() time.Duration {
	return time.Duration(t.CooldownDays * float64(24*time.Hour))
}

func (t Thresholds) attr() slog.Attr {
	return slog.Group("thresholds",
		"hard_reject", t.HardRejectSimilarity,
		"no_change", t.NoChangeSimilarity,
		"create_above", t.CreateConfidence,
		"min_device_match", t.MinDeviceMatch,
		"cooldown_days", t.CooldownDays,
	)
}

// ThresholdSource supplies the thresholds in effect right now.
type ThresholdSource interface {
	VersionThresholds() Thresholds
}

// Static is a fixed ThresholdSource.
type Static Thresholds

// VersionThresholds implements ThresholdSource.
func (s Static) VersionThresholds() Thresholds { return Thresholds(s) }

// Decision is one of Reject, NoNewVersion or Create.
type Decision interface {
	Action() Action
	Why() string
	decision()
}

// Reject refuses the sample. Score is the value that tripped the rule:
// the similarity, or the elapsed days for a cooldown.
type Reject struct {
	Reason string   `json:"reason" yaml:"reason"`
	Score  *float64 `json:"score,omitempty" yaml:"score,omitempty"`
}

// NoNewVersion accepts the sample without changing the history.
type NoNewVersion struct {
	Reason string   `json:"reason" yaml:"reason"`
	Score  *float64 `json:"score,omitempty" yaml:"score,omitempty"`
}

// Create instructs the caller to persist a new version.
type Create struct {
	Confidence float64  `json:"confidence" yaml:"confidence"`
	Similarity *float64 `json:"similarity,omitempty" yaml:"similarity,omitempty"`
}

func (Reject) Action() Action       { return ActionReject }
func (NoNewVersion) Action() Action { return ActionNoNewVersion }
func (Create) Action() Action       { return ActionCreate }
func (d Reject) Why() string        { return d.Reason }
func (d NoNewVersion) Why() string  { return d.Reason }
func (Create) Why() string          { return ReasonVersionCreated }
func (Reject) decision()            {}
func (NoNewVersion) decision()      {}
func (Create) decision()            {}

// Input carries everything one decision needs.
type Input struct {
	Identity        string
	SpeakerAccepted bool
	Similarity      *float64
	Confidence      float64
	DeviceMatch     float64
	LastCreatedAt   *time.Time
	Now             time.Time
}

// Engine applies the rules. It holds no per-identity state and is safe
// for concurrent use.
type Engine struct {
	src    ThresholdSource
	logger *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the audit logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// New creates an Engine reading thresholds from src.
func New(src ThresholdSource, opts ...Option) *Engine {
	e := &Engine{src: src, logger: slog.Default()}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Decide evaluates in and returns the decision with the thresholds it was
// made under. Every call emits one structured audit event.
func (e *Engine) Decide(ctx context.Context, in Input) (Decision, Thresholds) {
	th := e.src.VersionThresholds()
	d := decide(in, th)
	e.audit(ctx, in, th, d)
	return d, th
}

func decide(in Input, th Thresholds) Decision {
	if !in.SpeakerAccepted {
		return Reject{Reason: ReasonSpeakerFailed, Score: in.Similarity}
	}
	if in.Similarity != nil {
		if *in.Similarity < th.HardRejectSimilarity {
			return Reject{Reason: ReasonLowSimilarity, Score: in.Similarity}
		}
		if *in.Similarity >= th.NoChangeSimilarity {
			return NoNewVersion{Reason: ReasonStable, Score: in.Similarity}
		}
	}
	if in.LastCreatedAt != nil {
		elapsed := in.Now.Sub(*in.LastCreatedAt)
		if elapsed < th.Cooldown() {
			days := confidence.Round(elapsed.Hours()/24, 2)
			return Reject{Reason: ReasonCooldown, Score: &days}
		}
	}
	if in.Confidence >= th.CreateConfidence && in.DeviceMatch >= th.MinDeviceMatch {
		return Create{Confidence: in.Confidence, Similarity: in.Similarity}
	}
	c := in.Confidence
	return NoNewVersion{Reason: ReasonLowConfidence, Score: &c}
}

func (e *Engine) audit(ctx context.Context, in Input, th Thresholds, d Decision) {
	event := eventNoNewVersion
	level := slog.LevelInfo
	switch d.Action() {
	case ActionReject:
		event = eventRejected
		level = slog.LevelWarn
	case ActionCreate:
		event = eventCreated
	}
	attrs := []slog.Attr{
		slog.String("event", event),
		slog.String("identity", in.Identity),
		slog.String("reason", d.Why()),
		slog.Float64("confidence", confidence.Round(in.Confidence, 3)),
		slog.Float64("device_match", in.DeviceMatch),
		th.attr(),
	}
	if in.Similarity != nil {
		attrs = append(attrs, slog.Float64("similarity", confidence.Round(*in.Similarity, 4)))
	}
	e.logger.LogAttrs(ctx, level, "versioning: decision", attrs...)
}
