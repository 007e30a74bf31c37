package cli

import (
	"github.com/spf13/cobra"

	"rigscout/internal/app"
)

var (
	exportPNGPath string
	exportCSVPath string
	exportMaxRows int
	exportOpen    bool
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export deals as CSV and/or a PNG stage chart",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Export(cmd.Context(), app.ExportOptions{
			CSVPath:  exportCSVPath,
			PNGPath:  exportPNGPath,
			MaxRows:  exportMaxRows,
			OpenOnly: exportOpen,
		})
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportPNGPath, "png", "", "Path to write PNG chart of deals per stage")
	exportCmd.Flags().StringVar(&exportCSVPath, "csv", "", "Path to write CSV data")
	exportCmd.Flags().IntVar(&exportMaxRows, "max-rows", 0, "Maximum deals to export (defaults to config)")
	exportCmd.Flags().BoolVar(&exportOpen, "open", false, "Only export deals that are not sold or lost")
}
