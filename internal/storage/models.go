package storage

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Reading is one persisted water-level sample. Timestamp is the natural key.
type Reading struct {
	Timestamp   time.Time       `json:"date"`
	Level       decimal.Decimal `json:"level"`
	Temperature decimal.Decimal `json:"temperature"`
	Location    string          `json:"location"`
}

// ReadingPayload is the ingestion shape. Every field is optional on the wire so
// presence can be checked explicitly; a level of 0 is a valid reading.
type ReadingPayload struct {
	Date        string           `json:"date"`
	Level       *decimal.Decimal `json:"level"`
	Temperature *decimal.Decimal `json:"temperature"`
	Location    string           `json:"location"`
}

// TimestampPrecision is the finest timestamp resolution every backend keeps.
// Postgres TIMESTAMPTZ stores microseconds, so the natural key is truncated to
// match before it reaches any store.
const TimestampPrecision = time.Microsecond

// NormalizeTimestamp returns ts in UTC at TimestampPrecision.
func NormalizeTimestamp(ts time.Time) time.Time {
	return ts.UTC().Truncate(TimestampPrecision)
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
}

// ParseTimestamp accepts the timestamp formats sensors are known to send.
// Values without a zone are read as UTC.
func ParseTimestamp(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	var lastErr error
	for _, layout := range timestampLayouts {
		ts, err := time.ParseInLocation(layout, value, time.UTC)
		if err == nil {
			return ts.UTC(), nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}

// Reading validates the payload and converts it into a Reading.
func (p ReadingPayload) Reading() (Reading, error) {
	var missing []string
	if strings.TrimSpace(p.Date) == "" {
		missing = append(missing, "date")
	}
	if p.Level == nil {
		missing = append(missing, "level")
	}
	if p.Temperature == nil {
		missing = append(missing, "temperature")
	}
	if strings.TrimSpace(p.Location) == "" {
		missing = append(missing, "location")
	}
	if len(missing) > 0 {
		return Reading{}, &ValidationError{Missing: missing}
	}

	ts, err := ParseTimestamp(p.Date)
	if err != nil {
		return Reading{}, &ValidationError{Reason: "date is not a recognised timestamp"}
	}

	return Reading{
		Timestamp:   NormalizeTimestamp(ts),
		Level:       *p.Level,
		Temperature: *p.Temperature,
		Location:    strings.TrimSpace(p.Location),
	}, nil
}

func validateReading(r Reading) error {
	var missing []string
	if r.Timestamp.IsZero() {
		missing = append(missing, "date")
	}
	if strings.TrimSpace(r.Location) == "" {
		missing = append(missing, "location")
	}
	if len(missing) > 0 {
		return &ValidationError{Missing: missing}
	}
	return nil
}

// monthBounds returns the calendar month containing now, in now's location.
func monthBounds(now time.Time) (time.Time, time.Time) {
	start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	return start, start.AddDate(0, 1, 0)
}

func reverseReadings(readings []Reading) {
	for i, j := 0, len(readings)-1; i < j; i, j = i+1, j-1 {
		readings[i], readings[j] = readings[j], readings[i]
	}
}
