// Package quality implements the audio quality gate that runs before any
// embedding inference.
//
// Evaluate checks four properties of a normalized mono clip, in order:
// duration, signal level, active-speech ratio and SNR. It stops at the
// first failing check, so a report only carries the metrics computed up to
// that point.
package quality

import (
	"math"
	"slices"

	"github.com/GreenCodr/voice-evolution-system/pkg/audio/wav"
)

// Rejection reasons, in check order.
const (
	ReasonTooShort = "audio too short"
	ReasonTooWeak  = "signal too weak"
	ReasonSilence  = "too much silence"
	ReasonNoisy    = "noisy recording (low SNR)"
)

// Thresholds are the floors a clip must reach to be accepted.
type Thresholds struct {
	MinDurationSec float64 `yaml:"min_duration_sec"`
	MinRMSdB       float64 `yaml:"min_rms_db"`
	MinActiveRatio float64 `yaml:"min_active_ratio"`
	MinSNRdB       float64 `yaml:"min_snr_db"`
}

// DefaultThresholds returns the production floors.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MinDurationSec: 10,
		MinRMSdB:       -35,
		MinActiveRatio: 0.6,
		MinSNRdB:       15,
	}
}

// RelaxedThresholds returns the floors used for non-production testing:
// shorter clips and noisier rooms pass.
func RelaxedThresholds() Thresholds {
	t := DefaultThresholds()
	t.MinDurationSec = 2
	t.MinSNRdB = 8
	return t
}

// Report is the outcome of one gate evaluation. Metrics after the first
// failing check are nil.
type Report struct {
	DurationSec float64  `json:"duration_sec" yaml:"duration_sec"`
	RMSdB       *float64 `json:"rms_db,omitempty" yaml:"rms_db,omitempty"`
	ActiveRatio *float64 `json:"active_ratio,omitempty" yaml:"active_ratio,omitempty"`
	SNRdB       *float64 `json:"snr_db,omitempty" yaml:"snr_db,omitempty"`
	Accepted    bool     `json:"accepted" yaml:"accepted"`
	Reason      string   `json:"reason,omitempty" yaml:"reason,omitempty"`
}

// Score returns the metric that caused a rejection, for diagnostics.
func (r Report) Score() *float64 {
	switch r.Reason {
	case ReasonTooShort:
		return &r.DurationSec
	case ReasonTooWeak:
		return r.RMSdB
	case ReasonSilence:
		return r.ActiveRatio
	case ReasonNoisy:
		return r.SNRdB
	}
	return nil
}

// Evaluate runs the gate over a mono clip. It is a pure function.
func Evaluate(clip wav.Clip, th Thresholds) Report {
	x := clip.Samples
	r := Report{DurationSec: clip.Seconds()}
	if clip.SampleRate <= 0 || r.DurationSec < th.MinDurationSec {
		r.Reason = ReasonTooShort
		return r
	}

	rms := RMSdB(x)
	r.RMSdB = &rms
	if rms < th.MinRMSdB {
		r.Reason = ReasonTooWeak
		return r
	}

	active := ActiveRatio(x, 30)
	r.ActiveRatio = &active
	if active < th.MinActiveRatio {
		r.Reason = ReasonSilence
		return r
	}

	snr := SNRdB(x, clip.SampleRate)
	r.SNRdB = &snr
	if snr < th.MinSNRdB {
		r.Reason = ReasonNoisy
		return r
	}

	r.Accepted = true
	return r
}

// RMSdB returns the clip level in dBFS. Digital silence reports -100.
func RMSdB(x []float32) float64 {
	if len(x) == 0 {
		return -100
	}
	var sum float64
	for _, s := range x {
		sum += float64(s) * float64(s)
	}
	rms := math.Sqrt(sum / float64(len(x)))
	if rms < 1e-9 {
		return -100
	}
	return 20 * math.Log10(rms)
}

const (
	splitFrame = 2048
	splitHop   = 512
)

// ActiveRatio returns the fraction of the clip covered by frames whose RMS
// is within topDB of the loudest frame. Frames are centered on multiples of
// the hop, so each active frame accounts for one hop of samples.
func ActiveRatio(x []float32, topDB float64) float64 {
	if len(x) == 0 {
		return 0
	}
	n := 1 + len(x)/splitHop
	rms := make([]float64, n)
	var peak float64
	for i := range n {
		lo := max(0, i*splitHop-splitFrame/2)
		hi := min(len(x), i*splitHop+splitFrame/2)
		var sum float64
		for _, s := range x[lo:hi] {
			sum += float64(s) * float64(s)
		}
		// Centered frames are zero padded at the edges.
		rms[i] = math.Sqrt(sum / splitFrame)
		peak = max(peak, rms[i])
	}
	if peak == 0 {
		return 0
	}
	floor := peak * math.Pow(10, -topDB/20)
	active := 0
	for _, v := range rms {
		if v > floor {
			active++
		}
	}
	return min(1, float64(active*splitHop)/float64(len(x)))
}

// SNRdB estimates the signal-to-noise ratio from 25 ms frames with a 10 ms
// hop: mean energy of the loudest decile over the quietest decile.
func SNRdB(x []float32, sampleRate int) float64 {
	frame := sampleRate * 25 / 1000
	hop := sampleRate * 10 / 1000
	if frame <= 0 || hop <= 0 || len(x) < frame {
		return 0
	}
	n := 1 + (len(x)-frame)/hop
	if n < 10 {
		return 0
	}
	energy := make([]float64, n)
	for i := range n {
		var sum float64
		for _, s := range x[i*hop : i*hop+frame] {
			sum += float64(s) * float64(s)
		}
		energy[i] = sum / float64(frame)
	}
	slices.Sort(energy)
	noise := mean(energy[:n/10])
	speech := mean(energy[n*9/10:])
	if noise < 1e-9 {
		return 40
	}
	return 10 * math.Log10(speech/noise)
}

func mean(x []float64) float64 {
	if len(x) == 0 {
		return 0
	}
	var s float64
	for _, v := range x {
		s += v
	}
	return s / float64(len(x))
}
