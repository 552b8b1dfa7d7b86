package quality

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/GreenCodr/voice-evolution-system/pkg/audio/wav"
)

const rate = 16000

// speechLike alternates 0.8 s tone bursts with 0.2 s of faint noise.
func speechLike(seconds float64) wav.Clip {
	r := rand.New(rand.NewPCG(7, 7))
	n := int(seconds * rate)
	s := make([]float32, n)
	for i := range s {
		pos := math.Mod(float64(i)/rate, 1.0)
		if pos < 0.8 {
			s[i] = float32(0.5 * math.Sin(2*math.Pi*220*float64(i)/rate))
		} else {
			s[i] = float32((r.Float64()*2 - 1) * 0.01)
		}
	}
	return wav.Clip{SampleRate: rate, Channels: 1, Samples: s}
}

func constant(seconds float64, fn func(i int) float32) wav.Clip {
	s := make([]float32, int(seconds*rate))
	for i := range s {
		s[i] = fn(i)
	}
	return wav.Clip{SampleRate: rate, Channels: 1, Samples: s}
}

func TestEvaluateAccepts(t *testing.T) {
	r := Evaluate(speechLike(12), DefaultThresholds())
	if !r.Accepted {
		t.Fatalf("expected accepted, got reason %q (rms=%v active=%v snr=%v)",
			r.Reason, deref(r.RMSdB), deref(r.ActiveRatio), deref(r.SNRdB))
	}
	if r.SNRdB == nil || *r.SNRdB < 15 {
		t.Errorf("SNRdB = %v, want >= 15", deref(r.SNRdB))
	}
	if r.Score() != nil {
		t.Errorf("Score = %v, want nil for accepted report", *r.Score())
	}
}

func TestEvaluateOrder(t *testing.T) {
	noise := rand.New(rand.NewPCG(1, 1))
	tests := []struct {
		name       string
		clip       wav.Clip
		reason     string
		wantRMS    bool
		wantActive bool
		wantSNR    bool
	}{
		{
			name:   "short",
			clip:   speechLike(5),
			reason: ReasonTooShort,
		},
		{
			name: "weak",
			clip: constant(12, func(i int) float32 {
				return float32(0.001 * math.Sin(2*math.Pi*220*float64(i)/rate))
			}),
			reason:  ReasonTooWeak,
			wantRMS: true,
		},
		{
			name: "silence",
			clip: constant(12, func(i int) float32 {
				if i < 3*rate {
					return float32(0.5 * math.Sin(2*math.Pi*220*float64(i)/rate))
				}
				return 0
			}),
			reason:     ReasonSilence,
			wantRMS:    true,
			wantActive: true,
		},
		{
			name: "noisy",
			clip: constant(12, func(int) float32 {
				return float32((noise.Float64()*2 - 1) * 0.3)
			}),
			reason:     ReasonNoisy,
			wantRMS:    true,
			wantActive: true,
			wantSNR:    true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := Evaluate(tt.clip, DefaultThresholds())
			if r.Accepted {
				t.Fatal("expected rejection")
			}
			if r.Reason != tt.reason {
				t.Errorf("Reason = %q, want %q", r.Reason, tt.reason)
			}
			if (r.RMSdB != nil) != tt.wantRMS {
				t.Errorf("RMSdB computed = %v, want %v", r.RMSdB != nil, tt.wantRMS)
			}
			if (r.ActiveRatio != nil) != tt.wantActive {
				t.Errorf("ActiveRatio computed = %v, want %v", r.ActiveRatio != nil, tt.wantActive)
			}
			if (r.SNRdB != nil) != tt.wantSNR {
				t.Errorf("SNRdB computed = %v, want %v", r.SNRdB != nil, tt.wantSNR)
			}
			if r.Score() == nil {
				t.Error("Score should report the failing metric")
			}
		})
	}
}

func TestRelaxedThresholds(t *testing.T) {
	clip := speechLike(4)
	if r := Evaluate(clip, DefaultThresholds()); r.Reason != ReasonTooShort {
		t.Errorf("default Reason = %q, want %q", r.Reason, ReasonTooShort)
	}
	if r := Evaluate(clip, RelaxedThresholds()); !r.Accepted {
		t.Errorf("relaxed should accept, got %q", r.Reason)
	}
}

func TestRMSdBSilence(t *testing.T) {
	if got := RMSdB(make([]float32, 100)); got != -100 {
		t.Errorf("RMSdB(zeros) = %v, want -100", got)
	}
}

func TestSNRdBEdgeCases(t *testing.T) {
	if got := SNRdB(make([]float32, 100), rate); got != 0 {
		t.Errorf("SNRdB(too few frames) = %v, want 0", got)
	}
	if got := SNRdB(make([]float32, rate), rate); got != 40 {
		t.Errorf("SNRdB(silent noise floor) = %v, want 40", got)
	}
}

func deref(p *float64) any {
	if p == nil {
		return nil
	}
	return *p
}
