package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"floodwatch/internal/storage"
)

// defaultExportSpan is the window exported when --from is not given.
const defaultExportSpan = 7 * 24 * time.Hour

// Export renders stored readings as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	to := a.Clock.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}
	from := to.Add(-defaultExportSpan)
	if opts.From != nil {
		from = opts.From.UTC()
	}
	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	svc, closeStore, err := a.openService(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	// stores list [from, to); the export includes readings stamped exactly at to
	readings, err := svc.Between(ctx, from, to.Add(time.Microsecond))
	if err != nil {
		return err
	}
	if len(readings) == 0 {
		a.Logger.Info().Time("from", from).Time("to", to).Msg("no readings found for export window")
		return nil
	}

	downsampled := downsampleReadings(readings, opts.MaxPoints)
	a.Logger.Info().Int("total", len(readings)).Int("exported", len(downsampled)).Msg("exporting readings")

	if opts.CSVPath != "" {
		if err := writeReadingsCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		th := a.thresholdLines()
		if err := writeReadingsPNG(opts.PNGPath, downsampled, th); err != nil {
			return err
		}
	}

	return nil
}

func downsampleReadings(readings []storage.Reading, max int) []storage.Reading {
	if max <= 0 || len(readings) <= max {
		return readings
	}
	if max == 1 {
		return readings[len(readings)-1:]
	}

	result := make([]storage.Reading, 0, max)
	step := float64(len(readings)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(readings) {
			idx = len(readings) - 1
		}
		result = append(result, readings[idx])
	}
	return result
}

func writeReadingsCSV(path string, readings []storage.Reading) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write(csvHeader); err != nil {
		return err
	}

	for _, r := range readings {
		record := []string{
			r.Timestamp.UTC().Format(time.RFC3339),
			r.Level.String(),
			r.Temperature.String(),
			r.Location,
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

type thresholdLine struct {
	name  string
	level float64
}

func (a *App) thresholdLines() []thresholdLine {
	return []thresholdLine{
		{"Prepare", a.Config.Risk.PrepareLevel},
		{"Evacuate", a.Config.Risk.EvacuateLevel},
		{"Flood", a.Config.Risk.FloodLevel},
	}
}

func writeReadingsPNG(path string, readings []storage.Reading, thresholds []thresholdLine) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, len(readings))
	level := make([]float64, len(readings))
	temperature := make([]float64, len(readings))

	for i, r := range readings {
		x[i] = r.Timestamp
		level[i] = r.Level.InexactFloat64()
		temperature[i] = r.Temperature.InexactFloat64()
	}

	levelFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.1f")
	}
	series := []chart.Series{
		chart.TimeSeries{
			Name:    "Level %",
			XValues: x,
			YValues: level,
		},
		chart.TimeSeries{
			Name:    "Temperature",
			XValues: x,
			YValues: temperature,
			YAxis:   chart.YAxisSecondary,
		},
	}
	// threshold lines need two points to draw
	if len(x) > 1 {
		span := []time.Time{x[0], x[len(x)-1]}
		for _, th := range thresholds {
			series = append(series, chart.TimeSeries{
				Name:    th.name,
				XValues: span,
				YValues: []float64{th.level, th.level},
				Style: chart.Style{
					StrokeDashArray: []float64{5, 5},
					StrokeWidth:     1,
				},
			})
		}
	}

	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Water level (%)",
			ValueFormatter: levelFormatter,
		},
		YAxisSecondary: chart.YAxis{
			Name:           "Temperature",
			ValueFormatter: levelFormatter,
		},
		Series: series,
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
