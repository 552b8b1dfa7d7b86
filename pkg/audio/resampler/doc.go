// Package resampler normalizes uploaded recordings into the mono 16 kHz
// clips the quality gate and the embedding extractor consume.
//
// Normalization decodes the WAV container, averages all channels down to
// mono and converts the sample rate with a pure Go polyphase resampler.
//
//	n := resampler.NewNormalizer(resampler.Format{})
//	clip, err := n.Normalize(ctx, raw)
package resampler
