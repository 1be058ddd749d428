package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"floodwatch/internal/app"
)

var (
	backfillFile    string
	backfillDryRun  bool
	backfillPublish bool
)

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Import historical readings from a CSV file",
	RunE: func(cmd *cobra.Command, args []string) error {
		if backfillFile == "" {
			return fmt.Errorf("--file must be provided")
		}
		if backfillDryRun && backfillPublish {
			return fmt.Errorf("--dry-run and --publish are mutually exclusive")
		}

		return getApp().Backfill(cmd.Context(), app.BackfillOptions{
			File:    backfillFile,
			DryRun:  backfillDryRun,
			Publish: backfillPublish,
		})
	},
}

func init() {
	backfillCmd.Flags().StringVar(&backfillFile, "file", "", "CSV file with date,level,temperature,location columns")
	backfillCmd.Flags().BoolVar(&backfillDryRun, "dry-run", false, "Validate rows without writing to storage")
	backfillCmd.Flags().BoolVar(&backfillPublish, "publish", false, "Publish rows to the Kafka topic instead of storing them")
}
