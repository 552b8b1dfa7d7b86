// Package confidence fuses the per-sample signals into one reliability score.
//
// Weights: speaker similarity 30%, duration 20%, SNR 15%, device match 15%,
// history depth 20%. The score is rounded to three decimals so identical
// inputs always produce identical stored values.
package confidence

import "math"

const (
	weightSimilarity = 0.30
	weightDuration   = 0.20
	weightSNR        = 0.15
	weightDevice     = 0.15
	weightHistory    = 0.20
)

// Inputs are the signals for one sample.
type Inputs struct {
	// DurationSec is the normalized clip length.
	DurationSec float64

	// SNRdB is nil when the estimate is unavailable.
	SNRdB *float64

	// Similarity is the best speaker similarity, nil when the identity has
	// no history yet.
	Similarity *float64

	// DeviceMatch is the device fingerprint score in [0,1].
	DeviceMatch float64

	// HistoryCount is the number of prior recorded versions.
	HistoryCount int
}

// Score returns the fused confidence in [0,1], rounded to 3 decimals.
func Score(in Inputs) float64 {
	s := weightSimilarity*SimilarityScore(in.Similarity) +
		weightDuration*DurationScore(in.DurationSec) +
		weightSNR*SNRScore(in.SNRdB) +
		weightDevice*clamp01(in.DeviceMatch) +
		weightHistory*HistoryScore(in.HistoryCount)
	return Round(clamp01(s), 3)
}

// SimilarityScore clamps the similarity to [0,1]. Unknown similarity has
// no contradicting history and scores 1.
func SimilarityScore(sim *float64) float64 {
	if sim == nil {
		return 1
	}
	return clamp01(*sim)
}

// DurationScore ramps linearly from 0 at 8 s to 1 at 28 s.
func DurationScore(sec float64) float64 {
	return clamp01((sec - 8) / 20)
}

// SNRScore is deliberately tolerant of the low raw SNR of natural speech:
// 0.4 when unknown, 0.3 at or below 0 dB, rising to 0.7 at 10 dB and flat
// above.
func SNRScore(snr *float64) float64 {
	switch {
	case snr == nil:
		return 0.4
	case *snr <= 0:
		return 0.3
	default:
		return min(0.7, 0.3+0.04**snr)
	}
}

// HistoryScore is a step over prior versions: 0.2, 0.4, 0.7, then 1.0
// from three onward.
func HistoryScore(n int) float64 {
	switch {
	case n <= 0:
		return 0.2
	case n == 1:
		return 0.4
	case n == 2:
		return 0.7
	default:
		return 1
	}
}

// Round rounds half away from zero to the given number of decimals.
func Round(x float64, decimals int) float64 {
	p := math.Pow(10, float64(decimals))
	return math.Round(x*p) / p
}

func clamp01(x float64) float64 {
	return max(0, min(1, x))
}

// Level is a coarse band of a playback confidence.
type Level string

const (
	LevelHigh   Level = "HIGH"
	LevelMedium Level = "MEDIUM"
	LevelLow    Level = "LOW"
)

// LevelOf bands c: HIGH from 0.85, MEDIUM from 0.65, LOW below.
func LevelOf(c float64) Level {
	switch {
	case c >= 0.85:
		return LevelHigh
	case c >= 0.65:
		return LevelMedium
	default:
		return LevelLow
	}
}
