package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/GreenCodr/voice-evolution-system/pkg/cli"
	"github.com/GreenCodr/voice-evolution-system/pkg/pipeline"
)

var (
	playText        string
	playRequestFile string
	playPersist     bool
	playOut         string
)

var playCmd = &cobra.Command{
	Use:   "play [id] [age]",
	Short: "Synthesize text in an identity's voice at a target age",
	Long: `Synthesize text in the voice an identity would have at a target age.

The playback decision picks the reference voice, the rate limit is checked
and the synthesis cache is consulted before the synthesizer is called.
The artifact path in the blob store is printed; --out also writes the
audio to a local file.

Examples:
  voicever play alice 25 --text "happy birthday"
  voicever play alice 60 --text "hello" --persist --out hello.wav
  voicever play -f request.yaml

Request file (YAML or JSON):
  identity: alice
  target_age: 25
  text: happy birthday
  persist: false`,
	Args: cobra.RangeArgs(0, 2),
	RunE: runPlay,
}

func init() {
	playCmd.Flags().StringVar(&playText, "text", "", "text to speak")
	playCmd.Flags().StringVarP(&playRequestFile, "file", "f", "", "request file (YAML or JSON, - for stdin)")
	playCmd.Flags().BoolVar(&playPersist, "persist", false, "store an AGED embedding as a derived version")
	playCmd.Flags().StringVar(&playOut, "out", "", "write the synthesized audio to this file")
}

func runPlay(cmd *cobra.Command, args []string) error {
	var req pipeline.PlayRequest
	if playRequestFile != "" {
		if err := cli.LoadRequest(playRequestFile, &req); err != nil {
			return err
		}
	}
	switch len(args) {
	case 2:
		age, err := parseAge(args[1])
		if err != nil {
			return err
		}
		req.TargetAge = age
		fallthrough
	case 1:
		req.Identity = args[0]
	}
	if cmd.Flags().Changed("text") {
		req.Text = playText
	}
	if playPersist {
		req.Persist = true
	}
	if req.Identity == "" {
		return fmt.Errorf("identity is required (argument or request file)")
	}
	if len(args) < 2 && playRequestFile == "" {
		return fmt.Errorf("target age is required (argument or request file)")
	}
	if req.Text == "" {
		return fmt.Errorf("text is required: use --text or a request file")
	}

	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	printVerbose("Identity: %s, target age: %d\n", req.Identity, req.TargetAge)
	res, err := a.engine.Play(cmd.Context(), req)
	if err != nil {
		return err
	}
	if playOut != "" {
		if err := cli.OutputBytes(res.Audio, playOut); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "Audio saved to: %s (%s)\n", playOut, cli.FormatBytes(int64(len(res.Audio))))
	}
	return outputResult((*playView)(res))
}
