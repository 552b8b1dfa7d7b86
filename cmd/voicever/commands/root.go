package commands

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/GreenCodr/voice-evolution-system/pkg/cli"
)

var (
	// Global flags
	cfgFile      string
	outputFormat string
	outputFile   string
	verbose      bool
	metricsAddr  string
)

var rootCmd = &cobra.Command{
	Use:   "voicever",
	Short: "Voice identity versioning and playback",
	Long: `voicever tracks how an identity's voice evolves over time.

Each evaluated recording is passed through a quality gate, verified
against the identity's earlier versions and scored. A new voice version
is created only when the voice has drifted, the sample is trustworthy and
the cooldown since the last version has elapsed.

Playback picks the recorded version closest to a target age, interpolates
between two neighbors, or ages the nearest version synthetically.

Examples:
  # Register a date of birth, then evaluate a recording
  voicever identity set-dob alice 2000-01-01
  voicever evaluate alice sample.wav --embedding sample.f32

  # How would alice sound at 25?
  voicever playback alice 25

  # Say something in that voice
  voicever play alice 25 --text "happy birthday" --out out.wav
`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level := slog.LevelWarn
		if verbose {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
		if _, err := cli.ParseFormat(outputFormat); err != nil {
			return err
		}
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ~/.voicever/voicever.yaml)")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "card", "output format: card, yaml or json")
	rootCmd.PersistentFlags().StringVar(&outputFile, "out-file", "", "write structured output to a file instead of stdout")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose logging")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "serve-metrics", "", "serve Prometheus metrics on this address while the command runs")

	rootCmd.AddCommand(identityCmd)
	rootCmd.AddCommand(evaluateCmd)
	rootCmd.AddCommand(playbackCmd)
	rootCmd.AddCommand(playCmd)
	rootCmd.AddCommand(cacheCmd)
	rootCmd.AddCommand(serveCmd)
}

// outputResult renders result in the selected format.
func outputResult(result any) error {
	format, err := cli.ParseFormat(outputFormat)
	if err != nil {
		return err
	}
	return cli.Output(result, cli.OutputOptions{Format: format, File: outputFile})
}

// startMetrics serves h on addr until ctx is done. An empty addr does
// nothing.
func startMetrics(ctx context.Context, addr string, h http.Handler) error {
	if addr == "" {
		return nil
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", h)
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("voicever: metrics server", "error", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdown, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdown)
	}()
	slog.Info("voicever: serving metrics", "addr", ln.Addr().String())
	return nil
}
