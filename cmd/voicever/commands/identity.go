package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/GreenCodr/voice-evolution-system/pkg/registry"
)

var identityCmd = &cobra.Command{
	Use:   "identity",
	Short: "Identity records",
	Long: `Manage identities: date of birth, version history and decision ledger.

Identities are created on their first evaluated sample. The date of birth
can be set at any time; ages are fixed on each version when it is created,
so setting a DOB later never rewrites existing versions.`,
}

var identitySetDOBCmd = &cobra.Command{
	Use:   "set-dob <id> <YYYY-MM-DD>",
	Short: "Set the date of birth",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		dob, err := time.Parse(time.DateOnly, args[1])
		if err != nil {
			return fmt.Errorf("invalid date of birth %q: %w", args[1], err)
		}
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		ident, err := a.engine.Registry().SetDOB(cmd.Context(), args[0], dob)
		if err != nil {
			return err
		}
		printVerbose("DOB of %s set to %s\n", ident.ID, ident.DOB.Format(time.DateOnly))
		return outputResult(identityView{Identity: ident})
	},
}

var identityShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show an identity and its versions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		reg := a.engine.Registry()
		ident, err := reg.Get(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		history, err := reg.History(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return outputResult(identityView{Identity: ident, Versions: history, listed: true})
	},
}

var identityLedgerCmd = &cobra.Command{
	Use:   "ledger <id>",
	Short: "Show the CREATE_VERSION decision ledger",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		entries, err := a.engine.Registry().Ledger(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return outputResult(ledgerView{Identity: args[0], Entries: entries})
	},
}

func init() {
	identityCmd.AddCommand(identitySetDOBCmd)
	identityCmd.AddCommand(identityShowCmd)
	identityCmd.AddCommand(identityLedgerCmd)
}

// identityView is what identity commands print.
type identityView struct {
	Identity *registry.Identity `json:"identity" yaml:"identity"`
	Versions []registry.Version `json:"versions,omitempty" yaml:"versions,omitempty"`

	listed bool
}

type ledgerView struct {
	Identity string                 `json:"identity" yaml:"identity"`
	Entries  []registry.LedgerEntry `json:"entries" yaml:"entries"`
}
