package cli

import (
	"github.com/spf13/cobra"
)

var priceTableCmd = &cobra.Command{
	Use:   "pricetable",
	Short: "Manage component price tables",
}

var priceTableImportCmd = &cobra.Command{
	Use:   "import <file.yaml>",
	Short: "Import a price table, make it active and revalue open deals",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().ImportPriceTable(cmd.Context(), args[0])
	},
}

var priceTableShowCmd = &cobra.Command{
	Use:   "show [version]",
	Short: "List stored price tables or print one version",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		version := ""
		if len(args) == 1 {
			version = args[0]
		}
		return getApp().ShowPriceTables(cmd.Context(), version)
	},
}

func init() {
	priceTableCmd.AddCommand(priceTableImportCmd, priceTableShowCmd)
}
