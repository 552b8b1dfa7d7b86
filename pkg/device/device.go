// Package device derives a lightweight capture-device signature from an
// audio container header and scores it against a reference signature.
//
// The score is advisory. It feeds the confidence model and the version
// decision's device floor, but never rejects a sample on its own.
package device

import (
	"fmt"
	"math"

	"github.com/GreenCodr/voice-evolution-system/pkg/audio/wav"
)

// Fingerprint describes how a recording was captured.
type Fingerprint struct {
	SampleRate  int     `msgpack:"sr" json:"sample_rate" yaml:"sample_rate"`
	Channels    int     `msgpack:"ch" json:"channels" yaml:"channels"`
	Subtype     string  `msgpack:"st" json:"subtype" yaml:"subtype"`
	DurationSec float64 `msgpack:"dur" json:"duration_sec" yaml:"duration_sec"`
}

func (f Fingerprint) String() string {
	return fmt.Sprintf("%dHz/%dch/%s/%.1fs", f.SampleRate, f.Channels, f.Subtype, f.DurationSec)
}

// FromWAV reads the fingerprint from a WAV header. Only the chunk headers
// are inspected; sample data may be absent.
func FromWAV(header []byte) (Fingerprint, error) {
	info, err := wav.ParseHeader(header)
	if err != nil {
		return Fingerprint{}, fmt.Errorf("device: %w", err)
	}
	return Fingerprint{
		SampleRate:  info.SampleRate,
		Channels:    info.Channels,
		Subtype:     info.Subtype(),
		DurationSec: math.Round(info.Duration().Seconds()*10) / 10,
	}, nil
}

// durationTolerance is how far apart two durations may be and still match.
const durationTolerance = 0.5

// Match returns the fraction of matching attributes in {0, .25, .5, .75, 1}.
func Match(a, b Fingerprint) float64 {
	n := 0
	if a.SampleRate == b.SampleRate {
		n++
	}
	if a.Channels == b.Channels {
		n++
	}
	if a.Subtype == b.Subtype {
		n++
	}
	if math.Abs(a.DurationSec-b.DurationSec) < durationTolerance {
		n++
	}
	return float64(n) / 4
}

// MatchReference scores a against an optional reference. A missing
// reference or an unknown new fingerprint is neutral and scores 1.
func MatchReference(a, ref *Fingerprint) float64 {
	if a == nil || ref == nil {
		return 1
	}
	return Match(*a, *ref)
}
