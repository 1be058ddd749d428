package app

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/shopspring/decimal"

	"floodwatch/internal/ingest"
	"floodwatch/internal/storage"
)

var csvHeader = []string{"date", "level", "temperature", "location"}

// Backfill imports readings from a CSV file with a date,level,temperature,location header.
func (a *App) Backfill(ctx context.Context, opts BackfillOptions) error {
	if opts.File == "" {
		return errors.New("--file is required")
	}
	file, err := os.Open(opts.File)
	if err != nil {
		return fmt.Errorf("open backfill file: %w", err)
	}
	defer file.Close()

	readings, rejected, err := a.parseReadingsCSV(file)
	if err != nil {
		return err
	}
	a.Logger.Info().Int("valid", len(readings)).Int("rejected", rejected).Str("file", opts.File).Msg("backfill file parsed")

	switch {
	case opts.DryRun:
		a.Logger.Warn().Msg("backfill dry-run: nothing is written")
		fmt.Fprintf(a.Out, "%d readings valid, %d rejected (dry run)\n", len(readings), rejected)
		return nil
	case opts.Publish:
		if !a.Config.Kafka.Enabled {
			return errors.New("kafka is not enabled; cannot publish backfill")
		}
		publisher := ingest.NewPublisher(a.Config.Kafka)
		defer publisher.Close()
		if err := publisher.Publish(ctx, readings); err != nil {
			return fmt.Errorf("publish readings: %w", err)
		}
		fmt.Fprintf(a.Out, "%d readings published to %s, %d rejected\n", len(readings), a.Config.Kafka.Topic, rejected)
		return nil
	}

	svc, closeStore, err := a.openService(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	stored, failed := 0, 0
	for _, r := range readings {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if _, err := svc.IngestReading(ctx, r); err != nil {
			failed++
			a.Logger.Error().Err(err).Time("date", r.Timestamp).Msg("backfill row failed")
			continue
		}
		stored++
	}

	a.Logger.Info().Int("stored", stored).Int("failed", failed).Msg("backfill complete")
	fmt.Fprintf(a.Out, "%d readings stored, %d rejected, %d failed\n", stored, rejected, failed)
	if failed > 0 {
		return errors.New("some readings failed to store; check the logs")
	}
	return nil
}

// parseReadingsCSV validates every row and returns the valid readings with a
// count of rejected rows.
func (a *App) parseReadingsCSV(r io.Reader) ([]storage.Reading, int, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, 0, fmt.Errorf("read csv header: %w", err)
	}
	index := make(map[string]int, len(header))
	for i, name := range header {
		index[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, col := range csvHeader {
		if _, ok := index[col]; !ok {
			return nil, 0, fmt.Errorf("csv header missing column %q", col)
		}
	}

	var readings []storage.Reading
	rejected := 0
	for line := 2; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, 0, fmt.Errorf("read csv line %d: %w", line, err)
		}

		field := func(col string) string {
			if i := index[col]; i < len(record) {
				return strings.TrimSpace(record[i])
			}
			return ""
		}
		payload := storage.ReadingPayload{
			Date:     field("date"),
			Location: field("location"),
		}
		payload.Level = parseOptionalDecimal(field("level"))
		payload.Temperature = parseOptionalDecimal(field("temperature"))

		reading, err := payload.Reading()
		if err != nil {
			rejected++
			a.Logger.Warn().Err(err).Int("line", line).Msg("skipping invalid csv row")
			continue
		}
		readings = append(readings, reading)
	}
	return readings, rejected, nil
}

func parseOptionalDecimal(v string) *decimal.Decimal {
	if v == "" {
		return nil
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return nil
	}
	return &d
}
