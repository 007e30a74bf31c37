package cli

import (
	"time"

	"github.com/spf13/cobra"

	"rigscout/internal/app"
)

var (
	targetPlatform string
	targetCadence  time.Duration
	targetDisabled bool
)

var targetsCmd = &cobra.Command{
	Use:   "targets",
	Short: "Manage saved marketplace searches",
}

var targetsAddCmd = &cobra.Command{
	Use:   "add <search-url>",
	Short: "Register a saved search",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, err := getApp().AddTarget(cmd.Context(), app.TargetOptions{
			Platform: targetPlatform,
			URL:      args[0],
			Cadence:  targetCadence,
			Disabled: targetDisabled,
		})
		return err
	},
}

var targetsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved searches",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().ListTargets(cmd.Context())
	},
}

var targetsDisableCmd = &cobra.Command{
	Use:   "disable <target-id>",
	Short: "Exclude a saved search from scans",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().SetTargetEnabled(cmd.Context(), args[0], false)
	},
}

var targetsEnableCmd = &cobra.Command{
	Use:   "enable <target-id>",
	Short: "Re-enable a saved search",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().SetTargetEnabled(cmd.Context(), args[0], true)
	},
}

var targetsRemoveCmd = &cobra.Command{
	Use:   "remove <target-id>",
	Short: "Delete a saved search",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().RemoveTarget(cmd.Context(), args[0])
	},
}

func init() {
	targetsAddCmd.Flags().StringVar(&targetPlatform, "platform", "", "Marketplace: facebook, craigslist or offerup")
	targetsAddCmd.Flags().DurationVar(&targetCadence, "cadence", time.Hour, "Scan cadence; 0 means manual only")
	targetsAddCmd.Flags().BoolVar(&targetDisabled, "disabled", false, "Register the search disabled")
	_ = targetsAddCmd.MarkFlagRequired("platform")

	targetsCmd.AddCommand(targetsAddCmd, targetsListCmd, targetsDisableCmd, targetsEnableCmd, targetsRemoveCmd)
}
