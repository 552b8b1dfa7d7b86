package commands

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/GreenCodr/voice-evolution-system/pkg/config"
)

const defaultMetricsAddr = ":9464"

var servePurgeEvery time.Duration

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Hot-reload config, serve metrics and purge the cache",
	Long: `Run until interrupted. The config file is watched and a valid edit
takes effect on the next decision; an invalid edit is logged and the
previous config is kept. Metrics are served on --serve-metrics
(default ` + defaultMetricsAddr + `) and expired cache artifacts are purged
periodically.

Storage, rate limit and synthesis endpoint settings are read once at
startup.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		path, err := configPath()
		if err != nil {
			return err
		}
		w, err := config.Watch(ctx, path,
			config.WithWatchLogger(slog.Default()),
			config.OnReload(func(c *config.Config) {
				th := c.VersionThresholds()
				slog.Info("voicever: thresholds updated",
					"hard_reject", th.HardRejectSimilarity, "no_change", th.NoChangeSimilarity,
					"create_above", th.CreateConfidence, "cooldown_days", th.CooldownDays)
			}),
		)
		if err != nil {
			return err
		}
		defer w.Close()

		if metricsAddr == "" {
			metricsAddr = defaultMetricsAddr
		}
		a, err := buildApp(ctx, w.Current(), w)
		if err != nil {
			return err
		}
		defer a.Close()

		slog.Info("voicever: serving", "config", path, "metrics", metricsAddr, "purge_every", servePurgeEvery)
		purge(ctx, a)
		ticker := time.NewTicker(servePurgeEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				slog.Info("voicever: shutting down")
				return nil
			case <-ticker.C:
				purge(ctx, a)
			}
		}
	},
}

func init() {
	serveCmd.Flags().DurationVar(&servePurgeEvery, "purge-every", time.Hour, "cache purge interval")
}

func purge(ctx context.Context, a *app) {
	n, err := a.engine.PurgeCache(ctx)
	if err != nil {
		slog.Error("voicever: cache purge failed", "error", err)
		return
	}
	if n > 0 {
		slog.Info("voicever: cache purged", "removed", n)
	}
}
