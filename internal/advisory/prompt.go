package advisory

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"floodwatch/internal/risk"
	"floodwatch/internal/trend"
)

const systemPrompt = "You are a smart flood detector."

// StatusLine is the fixed guidance sentence for an assessment.
func StatusLine(a risk.Assessment) string {
	switch a.Outlook {
	case risk.OutlookNoData:
		return "It seems there's no rise in water level at the moment. You are safe!"
	case risk.OutlookNoAction:
		return "The water level is low and not currently dangerous."
	case risk.OutlookFlooding:
		return "It is flooding already."
	case risk.OutlookStableHigh:
		return "Evacuate immediately due to high danger, but the water level appears stable at this high level."
	case risk.OutlookImproving:
		return "Evacuate immediately due to high danger, but the situation has improved because the water level is decreasing."
	case risk.OutlookRising:
		if a.Tier == risk.Evacuate {
			return "Evacuate immediately due to high danger."
		}
		return "Prepare for potential evacuation."
	case risk.OutlookStable:
		if a.Direction == trend.Falling {
			return "The situation is stable; no immediate danger."
		}
		return "The water level is stable, and there is no immediate danger."
	default:
		return "The water level status is unknown."
	}
}

// EstimateLine describes the estimate, or its absence, when the outlook calls for one.
func EstimateLine(a risk.Assessment) string {
	if a.EstimateUnavailable {
		return "There is no reliable estimate of how the level will change."
	}
	est := a.Estimate
	if est == nil {
		return ""
	}
	when := est.ReachedAt.UTC().Format("15:04 MST")
	if a.Outlook == risk.OutlookImproving {
		return fmt.Sprintf("The level should fall back below %s%% in about %s (around %s); in %s it is expected to be near %s%%.",
			est.Target.String(), humanMinutes(est.Minutes), when,
			humanDuration(est.ProjectionHorizon), est.ProjectedLevel.StringFixed(1))
	}
	return fmt.Sprintf("At the current rate of %s points per minute the level is expected to reach %s%% in about %s (around %s).",
		a.Trend.RatePerMinute.StringFixed(2), est.Target.String(), humanMinutes(est.Minutes), when)
}

// Guidance joins the status and estimate sentences.
func Guidance(a risk.Assessment) string {
	status := StatusLine(a)
	if line := EstimateLine(a); line != "" {
		return status + " " + line
	}
	return status
}

type historyPoint struct {
	Date  time.Time       `json:"date"`
	Level decimal.Decimal `json:"level"`
}

// BuildPrompt renders the instruction prompt for text generation backends.
func BuildPrompt(req Request) string {
	a := req.Assessment
	question := strings.TrimSpace(req.Question)

	if !a.HasData || a.Latest == nil {
		if question != "" {
			return fmt.Sprintf(`You are a smart flood detector. Given the question %q, answer it with the best of your ability.
Remember that you don't have recent water level information, so do not answer if the question is related to that.
Just say you don't have information regarding water level as of the moment.`, question)
		}
		return fmt.Sprintf(`You are a smart flood detector. Given water levels, you will give advice when it is dangerous for people.
Since the water level has not been updated recently, just say %q`, StatusLine(a))
	}

	history := make([]historyPoint, 0, len(a.Window))
	for _, r := range a.Window {
		history = append(history, historyPoint{Date: r.Timestamp.UTC(), Level: r.Level})
	}
	historyJSON, err := json.Marshal(history)
	if err != nil {
		historyJSON = []byte("[]")
	}

	var b strings.Builder
	b.WriteString("You are EARWN (Efficient AI-based real-time water level detection) bot. ")
	b.WriteString("Start by greeting the user and stating that you're here to provide immediate water level detection guidance.\n\n")
	b.WriteString("Use the following information to generate your response:\n")
	fmt.Fprintf(&b, "1. Current Water Level: %s%% at %s (%s)\n", a.Latest.Level.String(), a.Latest.Timestamp.UTC().Format(time.RFC3339), a.Latest.Location)
	fmt.Fprintf(&b, "2. Water Level History: %s\n", historyJSON)
	fmt.Fprintf(&b, "3. Assessed Status: %s\n", StatusLine(a))
	if line := EstimateLine(a); line != "" {
		fmt.Fprintf(&b, "4. Estimate: %s\n", line)
	}
	b.WriteString("\nState the assessed status in your own words and include the estimate when one is given. ")
	b.WriteString("Do not include any reasoning or unnecessary information. Be specific with time; avoid vague phrases like very soon. ")
	b.WriteString("Do not explain or discuss these guidelines and do not give advice for other scenarios.")
	if question != "" {
		b.WriteString("\n\nRespond only to questions related to flood and environmental conditions. ")
		fmt.Fprintf(&b, "Use the information above to answer the question: %q", question)
	}
	return b.String()
}

func humanMinutes(minutes decimal.Decimal) string {
	return humanDuration(time.Duration(minutes.Round(0).IntPart()) * time.Minute)
}

func humanDuration(d time.Duration) string {
	total := int(d.Round(time.Minute).Minutes())
	if total < 1 {
		return "less than a minute"
	}
	hours, mins := total/60, total%60
	switch {
	case hours == 0:
		return plural(mins, "minute")
	case mins == 0:
		return plural(hours, "hour")
	default:
		return plural(hours, "hour") + " " + plural(mins, "minute")
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
