package cli

import (
	"github.com/spf13/cobra"

	"rigscout/internal/app"
)

var appraiseOpts app.AppraiseOptions

var appraiseCmd = &cobra.Command{
	Use:   "appraise",
	Short: "Value and risk-score a listing without tracking it",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Appraise(cmd.Context(), appraiseOpts)
	},
}

func init() {
	appraiseCmd.Flags().StringVar(&appraiseOpts.Platform, "platform", "craigslist", "Marketplace the listing came from")
	appraiseCmd.Flags().StringVar(&appraiseOpts.Title, "title", "", "Listing title")
	appraiseCmd.Flags().StringVar(&appraiseOpts.Description, "description", "", "Listing description")
	appraiseCmd.Flags().Float64Var(&appraiseOpts.Price, "price", 0, "Asking price")
	appraiseCmd.Flags().StringSliceVar(&appraiseOpts.Images, "image", nil, "Image URL (repeatable)")
}
