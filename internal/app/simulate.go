package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"floodwatch/internal/config"
	"floodwatch/internal/storage"
)

// SimulateAlert stores a synthetic two-reading window in a throwaway in-memory
// database, assesses it the way a watch tick would and sends the alert. The
// configured database is never touched.
func (a *App) SimulateAlert(ctx context.Context, opts SimulateOptions) error {
	if !a.Config.Alerting.Enabled {
		return errors.New("alerting is not enabled")
	}
	step := opts.Step
	if step <= 0 {
		step = a.Config.Scheduler.Interval
	}
	if step >= a.Config.Analysis.Lookback {
		return fmt.Errorf("step %s must be shorter than analysis.lookback %s", step, a.Config.Analysis.Lookback)
	}
	location := opts.Location
	if location == "" {
		location = "simulation"
	}

	// one connection: each connection to :memory: opens its own empty database
	store, err := storage.OpenSQLite(config.DatabaseConfig{
		Driver:       config.DriverSQLite,
		SQLitePath:   ":memory:",
		Table:        a.Config.Database.Table,
		MaxOpenConns: 1,
	}, a.Clock)
	if err != nil {
		return err
	}
	defer store.Close()

	svc, err := a.newService(store)
	if err != nil {
		return err
	}

	now := a.Clock.Now().UTC()
	window := []storage.Reading{
		syntheticReading(now.Add(-step), opts.Previous, location),
		syntheticReading(now, opts.Level, location),
	}

	for _, r := range window {
		if _, err := svc.IngestReading(ctx, r); err != nil {
			return fmt.Errorf("store synthetic reading: %w", err)
		}
	}

	previous := svc.AssessWindow(window[:1])
	assessment, err := svc.Assess(ctx)
	if err != nil {
		return err
	}
	a.Logger.Info().
		Str("tier", assessment.Tier.String()).
		Str("previous", previous.Tier.String()).
		Str("outlook", string(assessment.Outlook)).
		Msg("simulated assessment")

	if err := svc.Alert(ctx, assessment, previous.Tier, true); err != nil {
		return err
	}
	fmt.Fprintf(a.Out, "simulated %s alert sent (previous %s, %d readings assessed)\n",
		assessment.Tier, previous.Tier, len(assessment.Window))
	return nil
}

func syntheticReading(ts time.Time, level float64, location string) storage.Reading {
	return storage.Reading{
		Timestamp:   ts,
		Level:       decimal.NewFromFloat(level),
		Temperature: decimal.Zero,
		Location:    location,
	}
}
