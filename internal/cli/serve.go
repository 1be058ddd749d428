package cli

import (
	"github.com/spf13/cobra"

	"floodwatch/internal/app"
)

var serveWatch bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and, when enabled, the Kafka consumer",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Serve(cmd.Context(), app.ServeOptions{Watch: serveWatch})
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Assess on a schedule and alert on tier changes",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Watch(cmd.Context())
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the readings table if it does not exist",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Migrate(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().BoolVar(&serveWatch, "watch", false, "Also run the scheduled watcher in this process")
}
