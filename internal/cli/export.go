package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"floodwatch/internal/app"
)

var (
	exportFrom      string
	exportTo        string
	exportLast      time.Duration
	exportPNGPath   string
	exportCSVPath   string
	exportMaxPoints int
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export stored readings as CSV and/or a PNG chart",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.ExportOptions{
			PNGPath:   exportPNGPath,
			CSVPath:   exportCSVPath,
			MaxPoints: exportMaxPoints,
		}

		to, err := parseTimeFlag("to", exportTo)
		if err != nil {
			return err
		}
		opts.To = to

		if exportLast > 0 {
			if exportFrom != "" {
				return fmt.Errorf("--last and --from are mutually exclusive")
			}
			end := time.Now().UTC()
			if to != nil {
				end = *to
			}
			from := end.Add(-exportLast)
			opts.From = &from
		} else if opts.From, err = parseTimeFlag("from", exportFrom); err != nil {
			return err
		}

		return getApp().Export(cmd.Context(), opts)
	},
}

// parseTimeFlag accepts RFC3339 timestamps or bare UTC dates.
func parseTimeFlag(name, value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, value); err == nil {
			return &t, nil
		}
	}
	return nil, fmt.Errorf("invalid --%s value %q: want RFC3339 or YYYY-MM-DD", name, value)
}

func init() {
	exportCmd.Flags().StringVar(&exportFrom, "from", "", "Start timestamp, inclusive (defaults to a week before --to)")
	exportCmd.Flags().StringVar(&exportTo, "to", "", "End timestamp, inclusive (defaults to now)")
	exportCmd.Flags().DurationVar(&exportLast, "last", 0, "Export this much history ending at --to instead of --from")
	exportCmd.Flags().StringVar(&exportPNGPath, "png", "", "Path to write PNG chart")
	exportCmd.Flags().StringVar(&exportCSVPath, "csv", "", "Path to write CSV data")
	exportCmd.Flags().IntVar(&exportMaxPoints, "max-points", 0, "Maximum readings to export (defaults to config)")
}
