package commands

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/GreenCodr/voice-evolution-system/pkg/audio/resampler"
	"github.com/GreenCodr/voice-evolution-system/pkg/embedding"
	"github.com/GreenCodr/voice-evolution-system/pkg/pipeline"
)

var (
	evalEmbeddingFile string
	evalRelaxed       bool
	evalAt            string
)

var evaluateCmd = &cobra.Command{
	Use:   "evaluate <id> <wav>",
	Short: "Evaluate a recording against an identity's history",
	Long: `Evaluate a recording and decide whether it is a new voice version.

The recording passes the quality gate first, then speaker verification,
confidence scoring and the version decision. CREATE_VERSION stores the
embedding and the recording as a new version.

The embedding is read from a raw little-endian float32 file produced by
the extractor for the same recording.

Examples:
  voicever evaluate alice sample.wav --embedding sample.f32
  voicever evaluate alice phone.wav --embedding phone.f32 --relaxed
  voicever evaluate alice old.wav --embedding old.f32 --at 2019-06-01T10:00:00Z`,
	Args: cobra.ExactArgs(2),
	RunE: runEvaluate,
}

func init() {
	evaluateCmd.Flags().StringVar(&evalEmbeddingFile, "embedding", "", "speaker embedding file (.f32, required)")
	evaluateCmd.Flags().BoolVar(&evalRelaxed, "relaxed", false, "use the relaxed quality floors")
	evaluateCmd.Flags().StringVar(&evalAt, "at", "", "recording time, RFC3339 (default now)")
	evaluateCmd.MarkFlagRequired("embedding")
}

func runEvaluate(cmd *cobra.Command, args []string) error {
	id, wavPath := args[0], args[1]
	var at time.Time
	if evalAt != "" {
		t, err := time.Parse(time.RFC3339, evalAt)
		if err != nil {
			return fmt.Errorf("invalid --at: %w", err)
		}
		at = t
	}

	raw, err := os.ReadFile(wavPath)
	if err != nil {
		return fmt.Errorf("read recording: %w", err)
	}
	clip, err := resampler.NewNormalizer(resampler.Format{}).Normalize(cmd.Context(), raw)
	if err != nil {
		return fmt.Errorf("normalize %s: %w", wavPath, err)
	}
	embData, err := os.ReadFile(evalEmbeddingFile)
	if err != nil {
		return fmt.Errorf("read embedding: %w", err)
	}
	vec, err := embedding.Decode(embData)
	if err != nil {
		return fmt.Errorf("decode %s: %w", evalEmbeddingFile, err)
	}
	printVerbose("Clip: %.1fs at %d Hz, embedding dim %d\n", clip.Seconds(), clip.SampleRate, len(vec))

	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	ev, err := a.engine.EvaluateSample(cmd.Context(), pipeline.Sample{
		Identity:   id,
		Clip:       clip,
		Raw:        raw,
		Embedding:  vec,
		RecordedAt: at,
		Relaxed:    evalRelaxed,
	})
	if err != nil {
		return err
	}
	return outputResult((*evaluationView)(ev))
}
