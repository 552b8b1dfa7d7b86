// Package playback chooses how to voice an identity at a target age.
//
// The selector walks a fixed ladder over the identity's recorded versions
// that carry an age:
//
//  1. nearest age within DirectMatchYears          → RECORDED
//  2. a neighbor on each side, both within
//     MaxInterpolationYears of the target          → INTERPOLATED (SLERP)
//  3. a base version and a loaded age-delta model  → AGED
//  4. otherwise                                    → PREDICTED or NONE
//
// Selection is deterministic: equal ages resolve to the highest sequence
// number, and no step uses randomness.
package playback

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/GreenCodr/voice-evolution-system/pkg/confidence"
	"github.com/GreenCodr/voice-evolution-system/pkg/embedding"
	"github.com/GreenCodr/voice-evolution-system/pkg/registry"
)

// Mode names the playback strategy.
type Mode string

const (
	ModeRecorded     Mode = "RECORDED"
	ModeInterpolated Mode = "INTERPOLATED"
	ModeAged         Mode = "AGED"
	ModePredicted    Mode = "PREDICTED"
	ModeNone         Mode = "NONE"
)

// Direction is the aging direction of an AGED decision.
type Direction string

const (
	Older   Direction = "OLDER"
	Younger Direction = "YOUNGER"
)

// Reason codes for PREDICTED and NONE.
const (
	ReasonNoVoiceData         = "no_voice_data"
	ReasonNoAgeTagged         = "no_age_tagged_versions"
	ReasonAgeModelUnavailable = "age_model_unavailable"
)

// Confidence factors applied to the source version confidence.
const (
	factorExact        = 1.0
	factorNear         = 0.8
	factorInterpolated = 0.65
	factorAged         = 0.5
)

// Config holds the selection thresholds.
type Config struct {
	// DirectMatchYears is the largest age gap played as RECORDED. Nil
	// selects 1; 0 plays exact matches only.
	DirectMatchYears      *int    `json:"direct_match_years" yaml:"direct_match_years"`
	MaxInterpolationYears int     `json:"max_interpolation_years" yaml:"max_interpolation_years"`
	AgingHorizonYears     float64 `json:"aging_horizon_years" yaml:"aging_horizon_years"`
}

// DefaultConfig returns the reference thresholds.
func DefaultConfig() Config {
	c := Config{}
	c.setDefaults()
	return c
}

func (c *Config) setDefaults() {
	if c.DirectMatchYears == nil || *c.DirectMatchYears < 0 {
		one := 1
		c.DirectMatchYears = &one
	}
	if c.MaxInterpolationYears <= 0 {
		c.MaxInterpolationYears = 6
	}
	if c.AgingHorizonYears <= 0 {
		c.AgingHorizonYears = 40
	}
}

// Candidate is a version with its resolved embedding.
type Candidate struct {
	Version   registry.Version
	Embedding embedding.Vector
}

func (c *Candidate) age() int { return *c.Version.AgeAtRecording }

// Decision is one of Recorded, Interpolated, Aged, Predicted or None.
type Decision interface {
	Mode() Mode
	Reason() string
	// Confidence is the playback confidence derived from the source
	// versions, 0 when nothing can be played.
	Confidence() float64
	decision()
}

// Recorded plays a real version. Gap is the age distance to the target.
type Recorded struct {
	Version   registry.Version `json:"version" yaml:"version"`
	Embedding embedding.Vector `json:"-" yaml:"-"`
	Gap       int              `json:"gap" yaml:"gap"`
}

// Interpolated blends the two neighbors. Alpha 0 is Lower, 1 is Upper.
type Interpolated struct {
	Lower     registry.Version `json:"lower" yaml:"lower"`
	Upper     registry.Version `json:"upper" yaml:"upper"`
	Alpha     float64          `json:"alpha" yaml:"alpha"`
	Embedding embedding.Vector `json:"-" yaml:"-"`
}

// Aged shifts Base along the age-delta direction by Alpha.
type Aged struct {
	Base      registry.Version `json:"base" yaml:"base"`
	Direction Direction        `json:"direction" yaml:"direction"`
	TargetAge int              `json:"target_age" yaml:"target_age"`
	Alpha     float64          `json:"alpha" yaml:"alpha"`
	Embedding embedding.Vector `json:"-" yaml:"-"`
}

// Predicted signals a best-effort fallback. Nearest, when set, is the
// version a caller may synthesize from.
type Predicted struct {
	Nearest    *registry.Version `json:"nearest,omitempty" yaml:"nearest,omitempty"`
	ReasonCode string            `json:"reason" yaml:"reason"`
}

// None refuses playback.
type None struct {
	ReasonCode string `json:"reason" yaml:"reason"`
}

func (Recorded) Mode() Mode     { return ModeRecorded }
func (Interpolated) Mode() Mode { return ModeInterpolated }
func (Aged) Mode() Mode         { return ModeAged }
func (Predicted) Mode() Mode    { return ModePredicted }
func (None) Mode() Mode         { return ModeNone }

func (d Recorded) Reason() string {
	if d.Gap == 0 {
		return "exact age match"
	}
	return "close age match"
}
func (Interpolated) Reason() string { return "interpolated between neighboring versions" }
func (Aged) Reason() string         { return "aged from nearest version" }
func (d Predicted) Reason() string  { return d.ReasonCode }
func (d None) Reason() string       { return d.ReasonCode }

func (d Recorded) Confidence() float64 {
	f := factorNear
	if d.Gap == 0 {
		f = factorExact
	}
	return confidence.Round(d.Version.Confidence*f, 3)
}

func (d Interpolated) Confidence() float64 {
	return confidence.Round((d.Lower.Confidence+d.Upper.Confidence)/2*factorInterpolated, 3)
}

func (d Aged) Confidence() float64 {
	return confidence.Round(d.Base.Confidence*factorAged, 3)
}

func (Predicted) Confidence() float64 { return 0 }
func (None) Confidence() float64      { return 0 }

func (Recorded) decision()     {}
func (Interpolated) decision() {}
func (Aged) decision()         {}
func (Predicted) decision()    {}
func (None) decision()         {}

// Describe returns a one-line explanation of d for listeners.
func Describe(d Decision) string {
	switch d.(type) {
	case Recorded:
		return "A recorded voice from the selected time."
	case Interpolated:
		return "Interpolated between two recorded versions."
	case Aged:
		return "Synthetically aged from the nearest recording; may differ from reality."
	case Predicted:
		return "Predicted from the nearest recording; may not match reality."
	default:
		return "No voice is available for this age."
	}
}

// Selector applies the selection ladder.
type Selector struct {
	cfg   Config
	delta *AgeDelta
}

// Option configures a Selector.
type Option func(*Selector)

// WithAgeDelta enables AGED decisions.
func WithAgeDelta(d *AgeDelta) Option {
	return func(s *Selector) { s.delta = d }
}

// NewSelector creates a Selector. Unset config fields take defaults.
func NewSelector(cfg Config, opts ...Option) *Selector {
	cfg.setDefaults()
	s := &Selector{cfg: cfg}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Config returns the effective configuration.
func (s *Selector) Config() Config { return s.cfg }

// Select picks the playback strategy for targetAge. Derived versions in
// cands are ignored. An error is returned only when embeddings and the
// age-delta model disagree in dimension.
func (s *Selector) Select(cands []Candidate, targetAge int) (Decision, error) {
	recorded := make([]Candidate, 0, len(cands))
	for _, c := range cands {
		if !c.Version.Derived() && len(c.Embedding) > 0 {
			recorded = append(recorded, c)
		}
	}
	if len(recorded) == 0 {
		return None{ReasonCode: ReasonNoVoiceData}, nil
	}

	aged := make([]Candidate, 0, len(recorded))
	for _, c := range recorded {
		if c.Version.AgeAtRecording != nil {
			aged = append(aged, c)
		}
	}
	if len(aged) == 0 {
		latest := slices.MaxFunc(recorded, func(a, b Candidate) int {
			if c := a.Version.RecordedAt.Compare(b.Version.RecordedAt); c != 0 {
				return c
			}
			return cmp.Compare(a.Version.Seq, b.Version.Seq)
		})
		return Predicted{Nearest: &latest.Version, ReasonCode: ReasonNoAgeTagged}, nil
	}

	nearest := slices.MinFunc(aged, func(a, b Candidate) int {
		if c := cmp.Compare(absInt(a.age()-targetAge), absInt(b.age()-targetAge)); c != 0 {
			return c
		}
		return cmp.Compare(b.Version.Seq, a.Version.Seq)
	})
	if gap := absInt(nearest.age() - targetAge); gap <= *s.cfg.DirectMatchYears {
		return Recorded{Version: nearest.Version, Embedding: nearest.Embedding, Gap: gap}, nil
	}

	lower, upper := neighbors(aged, targetAge)
	if lower != nil && upper != nil &&
		targetAge-lower.age() <= s.cfg.MaxInterpolationYears &&
		upper.age()-targetAge <= s.cfg.MaxInterpolationYears {
		alpha := float64(targetAge-lower.age()) / float64(upper.age()-lower.age())
		emb, err := embedding.Slerp(lower.Embedding, upper.Embedding, alpha)
		if err != nil {
			return nil, fmt.Errorf("playback: interpolate: %w", err)
		}
		return Interpolated{Lower: lower.Version, Upper: upper.Version, Alpha: alpha, Embedding: emb}, nil
	}

	if s.delta == nil {
		return Predicted{Nearest: &nearest.Version, ReasonCode: ReasonAgeModelUnavailable}, nil
	}
	dir := Older
	if targetAge < nearest.age() {
		dir = Younger
	}
	alpha := min(float64(absInt(targetAge-nearest.age()))/s.cfg.AgingHorizonYears, 1)
	emb, err := s.delta.Apply(nearest.Embedding, dir, alpha)
	if err != nil {
		return nil, fmt.Errorf("playback: age: %w", err)
	}
	return Aged{Base: nearest.Version, Direction: dir, TargetAge: targetAge, Alpha: alpha, Embedding: emb}, nil
}

// neighbors returns the closest version strictly below and strictly above
// target, preferring the highest Seq among equal ages.
func neighbors(aged []Candidate, target int) (lower, upper *Candidate) {
	for i := range aged {
		c := &aged[i]
		switch a := c.age(); {
		case a < target:
			if lower == nil || a > lower.age() || (a == lower.age() && c.Version.Seq > lower.Version.Seq) {
				lower = c
			}
		case a > target:
			if upper == nil || a < upper.age() || (a == upper.age() && c.Version.Seq > upper.Version.Seq) {
				upper = c
			}
		}
	}
	return lower, upper
}

func absInt(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
