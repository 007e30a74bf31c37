package cli

import (
	"github.com/spf13/cobra"

	"rigscout/internal/app"
)

var (
	serveAddr string
	serveScan bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the deal pipeline over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Serve(cmd.Context(), app.ServeOptions{Addr: serveAddr, Scan: serveScan})
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (defaults to api.addr)")
	serveCmd.Flags().BoolVar(&serveScan, "scan", false, "Also run the periodic scan service")
}
