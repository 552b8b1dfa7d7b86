package commands

import (
	"github.com/spf13/cobra"

	"github.com/GreenCodr/voice-evolution-system/pkg/cli"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Synthesis cache maintenance",
}

var cachePurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Remove cached artifacts older than synthesis.cache_ttl_sec",
	Long: `Remove cached synthesis artifacts older than synthesis.cache_ttl_sec.

Without a TTL the cache is kept forever and purge removes nothing.
Voice versions and the decision ledger are never purged.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		n, err := a.engine.PurgeCache(cmd.Context())
		if err != nil {
			return err
		}
		if a.source.Current().CacheTTL() <= 0 {
			printVerbose("synthesis.cache_ttl_sec is not set; nothing expires\n")
		}
		cli.PrintSuccess("Removed %d cached artifact(s)", n)
		return nil
	},
}

func init() {
	cacheCmd.AddCommand(cachePurgeCmd)
}
