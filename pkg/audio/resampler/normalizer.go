package resampler

import (
	"context"
	"errors"
	"fmt"

	resampling "github.com/tphakala/go-audio-resampling"

	"github.com/GreenCodr/voice-evolution-system/pkg/audio/wav"
)

// ErrEmpty is returned when the recording holds no samples.
var ErrEmpty = errors.New("resampler: empty recording")

// Normalizer converts raw WAV bytes into a mono clip at the target rate.
// It is stateless and safe for concurrent use.
type Normalizer struct {
	dst Format
}

// NewNormalizer creates a Normalizer producing clips in dst.
func NewNormalizer(dst Format) *Normalizer {
	return &Normalizer{dst: dst}
}

// Normalize decodes raw, downmixes it and resamples it to the target rate.
func (n *Normalizer) Normalize(ctx context.Context, raw []byte) (wav.Clip, error) {
	clip, _, err := wav.Decode(raw)
	if err != nil {
		return wav.Clip{}, fmt.Errorf("resampler: decode: %w", err)
	}
	if clip.Frames() == 0 {
		return wav.Clip{}, ErrEmpty
	}
	if err := ctx.Err(); err != nil {
		return wav.Clip{}, err
	}

	mono := toMono(clip)
	rate := n.dst.rate()
	if clip.SampleRate == rate {
		return wav.Clip{SampleRate: rate, Channels: 1, Samples: mono}, nil
	}

	rs, err := resampling.New(&resampling.Config{
		InputRate:  float64(clip.SampleRate),
		OutputRate: float64(rate),
		Channels:   1,
		Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
	})
	if err != nil {
		return wav.Clip{}, fmt.Errorf("resampler: create: %w", err)
	}
	input := make([]float64, len(mono))
	for i, s := range mono {
		input[i] = float64(s)
	}
	output, err := rs.Process(input)
	if err != nil {
		return wav.Clip{}, fmt.Errorf("resampler: process: %w", err)
	}
	out := make([]float32, len(output))
	for i, s := range output {
		out[i] = float32(max(-1, min(1, s)))
	}
	return wav.Clip{SampleRate: rate, Channels: 1, Samples: out}, nil
}

// toMono averages interleaved channels into a single channel.
func toMono(c wav.Clip) []float32 {
	if c.Channels == 1 {
		out := make([]float32, len(c.Samples))
		copy(out, c.Samples)
		return out
	}
	frames := c.Frames()
	out := make([]float32, frames)
	for i := range frames {
		var sum float32
		for ch := range c.Channels {
			sum += c.Samples[i*c.Channels+ch]
		}
		out[i] = sum / float32(c.Channels)
	}
	return out
}
