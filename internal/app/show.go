package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"floodwatch/internal/advisory"
	"floodwatch/internal/risk"
)

// Show prints the most recent readings followed by the current assessment.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	svc, closeStore, err := a.openService(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	readings, err := svc.All(ctx)
	if err != nil {
		return err
	}
	if len(readings) == 0 {
		fmt.Fprintln(a.Out, "no readings found")
		return nil
	}
	if opts.Limit > 0 && len(readings) > opts.Limit {
		readings = readings[len(readings)-opts.Limit:]
	}

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tLevel%\tTemp\tLocation")
	for _, r := range readings {
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\n",
			r.Timestamp.UTC().Format(time.RFC3339),
			formatDecimal(r.Level, 1),
			formatDecimal(r.Temperature, 1),
			sanitizeInline(r.Location),
		)
	}
	if err := writer.Flush(); err != nil {
		return err
	}

	assessment, err := svc.Assess(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(a.Out)
	printAssessment(a.Out, assessment)
	return nil
}

// Assess prints the current assessment and its advisory.
func (a *App) Assess(ctx context.Context, opts AssessOptions) error {
	svc, closeStore, err := a.openService(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	text, assessment, err := svc.Advise(ctx, opts.Question)
	if err != nil && !errors.Is(err, advisory.ErrGenerationUnavailable) {
		return err
	}
	if err != nil {
		a.Logger.Warn().Err(err).Msg("advisory generation failed; printing fallback")
	}

	if opts.JSON {
		enc := json.NewEncoder(a.Out)
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			Assessment risk.Assessment `json:"assessment"`
			Advisory   string          `json:"advisory"`
		}{assessment, text})
	}

	printAssessment(a.Out, assessment)
	fmt.Fprintln(a.Out)
	fmt.Fprintln(a.Out, text)
	return nil
}

func printAssessment(out io.Writer, a risk.Assessment) {
	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(writer, "Tier\t%s\n", strings.ToUpper(a.Tier.String()))
	fmt.Fprintf(writer, "Outlook\t%s\n", a.Outlook)
	if a.Latest != nil {
		fmt.Fprintf(writer, "Latest\t%s%% at %s\n", formatDecimal(a.Latest.Level, 1), a.Latest.Timestamp.UTC().Format(time.RFC3339))
	}
	fmt.Fprintf(writer, "Trend\t%s (%s pts/min over %d readings)\n", a.Direction, formatDecimal(a.Trend.RatePerMinute, 3), a.Trend.Samples)
	switch {
	case a.Estimate != nil:
		fmt.Fprintf(writer, "Estimate\t%s%% in %s min (%s)\n",
			a.Estimate.Target.String(), formatDecimal(a.Estimate.Minutes, 1), a.Estimate.ReachedAt.UTC().Format(time.RFC3339))
	case a.EstimateUnavailable:
		fmt.Fprintln(writer, "Estimate\tunavailable")
	}
	_ = writer.Flush()
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}

func formatDecimal(d decimal.Decimal, places int32) string {
	return d.StringFixed(places)
}
