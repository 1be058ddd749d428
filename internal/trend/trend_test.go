package trend

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"floodwatch/internal/storage"
)

var t0 = time.Date(2024, 11, 15, 8, 0, 0, 0, time.UTC)

func series(points ...float64) []storage.Reading {
	out := make([]storage.Reading, 0, len(points)/2)
	for i := 0; i+1 < len(points); i += 2 {
		out = append(out, storage.Reading{
			Timestamp: t0.Add(time.Duration(points[i]) * time.Minute),
			Level:     decimal.NewFromFloat(points[i+1]),
			Location:  "gauge-1",
		})
	}
	return out
}

func TestAnalyzeInsufficientData(t *testing.T) {
	a := NewAnalyzer(Options{})

	for _, window := range [][]storage.Reading{nil, series(0, 70)} {
		v := a.Analyze(window)
		assert.Equal(t, Stable, v.Direction)
		assert.True(t, v.RatePerMinute.IsZero())
		assert.Equal(t, len(window), v.Samples)
	}
}

func TestAnalyzeRising(t *testing.T) {
	v := NewAnalyzer(Options{}).Analyze(series(0, 40, 5, 60))

	assert.Equal(t, Rising, v.Direction)
	assert.True(t, v.Delta.Equal(decimal.NewFromInt(20)))
	assert.True(t, v.RatePerMinute.Equal(decimal.NewFromInt(4)), v.RatePerMinute.String())
	assert.Equal(t, 5*time.Minute, v.Span)
}

func TestAnalyzeFalling(t *testing.T) {
	v := NewAnalyzer(Options{}).Analyze(series(0, 90, 4, 88, 8, 86))

	assert.Equal(t, Falling, v.Direction)
	assert.True(t, v.RatePerMinute.Equal(decimal.RequireFromString("-0.5")), v.RatePerMinute.String())
}

func TestAnalyzeFlatForHorizonIsStable(t *testing.T) {
	// Rose early, then held at 60 for 15 minutes.
	v := NewAnalyzer(Options{}).Analyze(series(0, 40, 5, 60, 12, 60, 20, 60))

	assert.Equal(t, Stable, v.Direction)
	assert.Equal(t, 15*time.Minute, v.FlatFor)
	assert.True(t, v.Delta.IsPositive())
}

func TestAnalyzeShortFlatTailStillRising(t *testing.T) {
	v := NewAnalyzer(Options{}).Analyze(series(0, 40, 5, 60, 9, 60))

	assert.Equal(t, Rising, v.Direction)
	assert.Equal(t, 4*time.Minute, v.FlatFor)
}

func TestAnalyzeZeroDeltaIsStable(t *testing.T) {
	v := NewAnalyzer(Options{}).Analyze(series(0, 70, 2, 72, 4, 70))

	assert.Equal(t, Stable, v.Direction)
	assert.True(t, v.Delta.IsZero())
}

func TestAnalyzeNoiseThreshold(t *testing.T) {
	a := NewAnalyzer(Options{NoiseThreshold: decimal.RequireFromString("0.5")})

	assert.Equal(t, Stable, a.Analyze(series(0, 70, 3, 70.3)).Direction)
	assert.Equal(t, Rising, a.Analyze(series(0, 70, 3, 71)).Direction)
}

func TestAnalyzeSameTimestampHasZeroRate(t *testing.T) {
	v := NewAnalyzer(Options{}).Analyze(series(0, 50, 0, 55))

	assert.Equal(t, Rising, v.Direction)
	assert.True(t, v.RatePerMinute.IsZero())
}
