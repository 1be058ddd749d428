package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"floodwatch/internal/app"
)

var (
	showLimit      int
	assessQuestion string
	assessJSON     bool
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display recent readings and the current assessment",
	RunE: func(cmd *cobra.Command, args []string) error {
		if showLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}
		return getApp().Show(cmd.Context(), app.ShowOptions{Limit: showLimit})
	},
}

var assessCmd = &cobra.Command{
	Use:   "assess",
	Short: "Assess the recent window and print an advisory",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Assess(cmd.Context(), app.AssessOptions{
			Question: assessQuestion,
			JSON:     assessJSON,
		})
	},
}

func init() {
	showCmd.Flags().IntVar(&showLimit, "limit", 20, "Number of readings to display")

	assessCmd.Flags().StringVar(&assessQuestion, "question", "", "Question to answer alongside the assessment")
	assessCmd.Flags().BoolVar(&assessJSON, "json", false, "Print the assessment and advisory as JSON")
}
