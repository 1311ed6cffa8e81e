package cmd

import (
	"github.com/ginjaninja78/gridsubmit/internal/server"
	"github.com/spf13/cobra"
)

var servePort string

// serveCmd runs the reference receiver.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the reference receiver for confirm-data and process-excel",
	Long: `The serve command starts an HTTP server exposing:

  GET  /health
  POST /api/confirm-data
  POST /api/process-excel

Submissions are validated and acknowledged with a summary. Nothing is stored.`,

	RunE: func(cmd *cobra.Command, args []string) error {
		if servePort != "" {
			appConfig.Server.Port = servePort
		}
		return server.Run(cmd.Context(), appConfig, logger)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&servePort, "port", "", "Port to listen on (default from config)")
}
