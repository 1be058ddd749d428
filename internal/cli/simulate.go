package cli

import (
	"errors"
	"time"

	"github.com/spf13/cobra"

	"floodwatch/internal/app"
)

var (
	simulateLevel    float64
	simulatePrevious float64
	simulateStep     time.Duration
	simulateLocation string
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "Send an alert for a synthetic pair of readings",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulateLevel < 0 || simulatePrevious < 0 {
			return errors.New("--level and --previous must not be negative")
		}

		return getApp().SimulateAlert(cmd.Context(), app.SimulateOptions{
			Level:    simulateLevel,
			Previous: simulatePrevious,
			Step:     simulateStep,
			Location: simulateLocation,
		})
	},
}

func init() {
	simulateCmd.Flags().Float64Var(&simulateLevel, "level", 85, "Latest water level (%)")
	simulateCmd.Flags().Float64Var(&simulatePrevious, "previous", 70, "Water level one step earlier (%)")
	simulateCmd.Flags().DurationVar(&simulateStep, "step", 0, "Time between the two readings (defaults to scheduler.interval)")
	simulateCmd.Flags().StringVar(&simulateLocation, "location", "", "Location reported in the alert")
}
