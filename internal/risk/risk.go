// Package risk maps the latest level and trend verdict to an evacuation tier.
//
// Classification is a pure function of the snapshot it is given. No tier
// history is kept here; callers that care about transitions track them.
package risk

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"floodwatch/internal/storage"
	"floodwatch/internal/trend"
)

// Tier is an ordered risk level.
type Tier int

const (
	Safe Tier = iota
	Prepare
	Evacuate
	Flooding
)

var (
	nanosPerMinute = decimal.NewFromInt(int64(time.Minute))
	maxOffset      = decimal.NewFromInt(math.MaxInt64)
)

var tierNames = [...]string{"safe", "prepare", "evacuate", "flooding"}

func (t Tier) String() string {
	if t < Safe || t > Flooding {
		return fmt.Sprintf("tier(%d)", int(t))
	}
	return tierNames[t]
}

// MarshalText encodes the tier by name.
func (t Tier) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText decodes a tier name.
func (t *Tier) UnmarshalText(text []byte) error {
	parsed, err := ParseTier(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// ParseTier resolves a tier name, case-insensitively.
func ParseTier(name string) (Tier, error) {
	for i, n := range tierNames {
		if strings.EqualFold(strings.TrimSpace(name), n) {
			return Tier(i), nil
		}
	}
	return Safe, fmt.Errorf("unknown risk tier %q", name)
}

// Outlook names the guidance framing within a tier.
type Outlook string

const (
	OutlookNoData     Outlook = "no_data"
	OutlookNoAction   Outlook = "no_action"
	OutlookRising     Outlook = "rising"
	OutlookStable     Outlook = "stable"
	OutlookImproving  Outlook = "improving"
	OutlookStableHigh Outlook = "stable_high"
	OutlookFlooding   Outlook = "flooding"
)

// Thresholds are tier boundaries in percent of capacity.
type Thresholds struct {
	Prepare  decimal.Decimal
	Evacuate decimal.Decimal
	Flood    decimal.Decimal
}

// DefaultThresholds are 50 / 80 / 100 percent.
func DefaultThresholds() Thresholds {
	return Thresholds{
		Prepare:  decimal.NewFromInt(50),
		Evacuate: decimal.NewFromInt(80),
		Flood:    decimal.NewFromInt(100),
	}
}

// Estimate projects when the level reaches Target at the current rate.
type Estimate struct {
	Target            decimal.Decimal `json:"target"`
	Minutes           decimal.Decimal `json:"minutes"`
	ReachedAt         time.Time       `json:"reached_at"`
	ProjectedLevel    decimal.Decimal `json:"projected_level"`
	ProjectionHorizon time.Duration   `json:"projection_horizon"`
}

// Assessment is the structured classification handed to advisory rendering.
type Assessment struct {
	Tier      Tier              `json:"tier"`
	Outlook   Outlook           `json:"outlook"`
	Direction trend.Direction   `json:"direction"`
	HasData   bool              `json:"has_data"`
	Latest    *storage.Reading  `json:"latest,omitempty"`
	Window    []storage.Reading `json:"window"`
	Trend     trend.Verdict     `json:"trend"`
	Estimate  *Estimate         `json:"estimate,omitempty"`
	// EstimateUnavailable is set when the outlook calls for an estimate but
	// the observed rate does not support a reliable one.
	EstimateUnavailable bool      `json:"estimate_unavailable"`
	AssessedAt          time.Time `json:"assessed_at"`
}

// Options configure the classifier.
type Options struct {
	Thresholds        Thresholds
	ProjectionHorizon time.Duration
}

// Classifier is stateless and safe for concurrent use.
type Classifier struct {
	thresholds Thresholds
	horizon    time.Duration
}

// NewClassifier constructs a Classifier; zero thresholds fall back to the defaults.
func NewClassifier(opts Options) *Classifier {
	th := opts.Thresholds
	if th.Prepare.IsZero() && th.Evacuate.IsZero() && th.Flood.IsZero() {
		th = DefaultThresholds()
	}
	horizon := opts.ProjectionHorizon
	if horizon <= 0 {
		horizon = time.Hour
	}
	return &Classifier{thresholds: th, horizon: horizon}
}

// Thresholds returns the configured tier boundaries.
func (c *Classifier) Thresholds() Thresholds {
	return c.thresholds
}

// NoData is the assessment used when no reading falls inside the lookback.
func NoData(at time.Time) Assessment {
	return Assessment{
		Tier:       Safe,
		Outlook:    OutlookNoData,
		Direction:  trend.Stable,
		Window:     []storage.Reading{},
		Trend:      trend.Verdict{Direction: trend.Stable, RatePerMinute: decimal.Zero, Delta: decimal.Zero},
		AssessedAt: at,
	}
}

// Classify maps the latest reading and verdict onto a tier. It never fails.
func (c *Classifier) Classify(latest storage.Reading, verdict trend.Verdict) Assessment {
	level := latest.Level
	a := Assessment{
		Direction: verdict.Direction,
		HasData:   true,
		Latest:    &latest,
		Trend:     verdict,
	}

	switch {
	case level.GreaterThanOrEqual(c.thresholds.Flood):
		a.Tier, a.Outlook = Flooding, OutlookFlooding
	case level.LessThan(c.thresholds.Prepare):
		a.Tier, a.Outlook = Safe, OutlookNoAction
	case level.LessThan(c.thresholds.Evacuate):
		a.Tier = Prepare
		if verdict.Direction == trend.Rising {
			a.Outlook = OutlookRising
			a.Estimate = c.estimate(latest, verdict, c.thresholds.Evacuate, true)
			a.EstimateUnavailable = a.Estimate == nil
		} else {
			a.Outlook = OutlookStable
		}
	default:
		a.Tier = Evacuate
		switch verdict.Direction {
		case trend.Rising:
			a.Outlook = OutlookRising
			a.Estimate = c.estimate(latest, verdict, c.thresholds.Flood, true)
			a.EstimateUnavailable = a.Estimate == nil
		case trend.Falling:
			a.Outlook = OutlookImproving
			a.Estimate = c.estimate(latest, verdict, c.thresholds.Evacuate, false)
			a.EstimateUnavailable = a.Estimate == nil
		default:
			a.Outlook = OutlookStableHigh
		}
	}
	return a
}

// estimate returns nil when the window shows no movement toward target, or
// when target is further away than a time.Duration can express. The rate is
// taken from the raw delta and span, not the rounded RatePerMinute.
func (c *Classifier) estimate(latest storage.Reading, verdict trend.Verdict, target decimal.Decimal, rising bool) *Estimate {
	if verdict.Span <= 0 {
		return nil
	}
	if rising && !verdict.Delta.IsPositive() {
		return nil
	}
	if !rising && !verdict.Delta.IsNegative() {
		return nil
	}

	span := decimal.NewFromInt(int64(verdict.Span))
	offset := target.Sub(latest.Level).Mul(span).Div(verdict.Delta)
	if offset.IsNegative() || offset.GreaterThan(maxOffset) {
		return nil
	}

	projected := latest.Level.Add(verdict.Delta.Mul(decimal.NewFromInt(int64(c.horizon))).Div(span))
	if projected.IsNegative() {
		projected = decimal.Zero
	}

	return &Estimate{
		Target:            target,
		Minutes:           offset.Div(nanosPerMinute).Round(2),
		ReachedAt:         latest.Timestamp.Add(time.Duration(offset.IntPart())),
		ProjectedLevel:    projected.Round(2),
		ProjectionHorizon: c.horizon,
	}
}
