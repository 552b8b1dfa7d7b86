package resampler

// TargetRate is the sample rate every clip is normalized to before quality
// analysis and embedding extraction.
const TargetRate = 16000

// Format describes the normalized output.
type Format struct {
	// SampleRate is the output rate in Hz. Zero means TargetRate.
	SampleRate int
}

func (f Format) rate() int {
	if f.SampleRate > 0 {
		return f.SampleRate
	}
	return TargetRate
}
