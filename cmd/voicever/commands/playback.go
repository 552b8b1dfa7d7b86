package commands

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

var playbackCmd = &cobra.Command{
	Use:   "playback <id> <age>",
	Short: "Show the playback decision for a target age",
	Long: `Decide how an identity should sound at a target age without
synthesizing anything.

The decision is one of:
  RECORDED      a version recorded close enough to the target age
  INTERPOLATED  a blend of the versions either side of the target
  AGED          the nearest version shifted along the age-delta
  PREDICTED     best effort; no version is close enough
  NONE          nothing usable is recorded`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		age, err := parseAge(args[1])
		if err != nil {
			return err
		}
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		d, err := a.engine.DecidePlayback(cmd.Context(), args[0], age)
		if err != nil {
			return err
		}
		return outputResult(newPlaybackView(args[0], age, d))
	},
}

func parseAge(s string) (int, error) {
	age, err := strconv.Atoi(s)
	if err != nil || age < 0 {
		return 0, fmt.Errorf("invalid age %q: must be a non-negative integer", s)
	}
	return age, nil
}
