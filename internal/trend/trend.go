// Package trend derives a rising/falling/stable verdict from a window of readings.
package trend

import (
	"time"

	"github.com/shopspring/decimal"

	"floodwatch/internal/storage"
)

// Direction of recent level movement.
type Direction string

const (
	Rising  Direction = "rising"
	Falling Direction = "falling"
	Stable  Direction = "stable"
)

// DefaultStabilityHorizon is how long the level must stay flat to count as stable.
const DefaultStabilityHorizon = 10 * time.Minute

// Verdict summarises the movement observed across a window.
type Verdict struct {
	Direction Direction `json:"direction"`
	// RatePerMinute is percentage points per minute between the first and last reading.
	RatePerMinute decimal.Decimal `json:"rate_per_minute"`
	Delta         decimal.Decimal `json:"delta"`
	Span          time.Duration   `json:"span"`
	// FlatFor is how long the trailing readings have held the latest level.
	FlatFor time.Duration `json:"flat_for"`
	Samples int           `json:"samples"`
}

// Options tune the analyzer.
type Options struct {
	StabilityHorizon time.Duration
	// NoiseThreshold is the level movement, in percentage points, treated as no change.
	NoiseThreshold decimal.Decimal
}

// Analyzer is stateless; one instance may be shared across requests.
type Analyzer struct {
	opts Options
}

// NewAnalyzer constructs an Analyzer.
func NewAnalyzer(opts Options) *Analyzer {
	if opts.StabilityHorizon <= 0 {
		opts.StabilityHorizon = DefaultStabilityHorizon
	}
	if opts.NoiseThreshold.IsNegative() {
		opts.NoiseThreshold = decimal.Zero
	}
	return &Analyzer{opts: opts}
}

// Analyze classifies an ascending window. It never consults the wall clock:
// all durations come from the reading timestamps.
func (a *Analyzer) Analyze(window []storage.Reading) Verdict {
	verdict := Verdict{
		Direction:     Stable,
		RatePerMinute: decimal.Zero,
		Delta:         decimal.Zero,
		Samples:       len(window),
	}
	if len(window) < 2 {
		return verdict
	}

	first, last := window[0], window[len(window)-1]
	verdict.Delta = last.Level.Sub(first.Level)
	verdict.Span = last.Timestamp.Sub(first.Timestamp)
	verdict.FlatFor = a.flatFor(window)

	if verdict.Span > 0 {
		minutes := decimal.NewFromFloat(verdict.Span.Minutes())
		verdict.RatePerMinute = verdict.Delta.DivRound(minutes, 6)
	}

	switch {
	case verdict.FlatFor >= a.opts.StabilityHorizon:
		verdict.Direction = Stable
	case verdict.Delta.Abs().LessThanOrEqual(a.opts.NoiseThreshold):
		verdict.Direction = Stable
	case verdict.Delta.IsPositive():
		verdict.Direction = Rising
	default:
		verdict.Direction = Falling
	}
	return verdict
}

func (a *Analyzer) flatFor(window []storage.Reading) time.Duration {
	last := window[len(window)-1]
	start := last.Timestamp
	for i := len(window) - 2; i >= 0; i-- {
		if window[i].Level.Sub(last.Level).Abs().GreaterThan(a.opts.NoiseThreshold) {
			break
		}
		start = window[i].Timestamp
	}
	return last.Timestamp.Sub(start)
}
