// Package report aggregates a session's monitoring history into a
// post-hoc risk summary. Summarize is a pure function of its input and
// is safe to re-run for live dashboards and post-exam review alike.
package report

import (
	"math"

	"examshield/pkg/risk"
)

// Report is the behavior summary for one session.
type Report struct {
	SessionID      string             `json:"session_id"`
	TotalAlerts    int                `json:"total_alerts"`
	AlertBreakdown map[string]int     `json:"alert_breakdown"`
	RiskScore      float64            `json:"risk_score"`
	Summary        string             `json:"summary"`
	Timeline       []risk.EventRecord `json:"timeline"`
}

// Risk bands with fixed wording.
const (
	summaryLow      = "Low risk - Student behavior appears normal with minimal suspicious activity."
	summaryModerate = "Moderate risk - Some suspicious behaviors detected. Manual review recommended."
	summaryHigh     = "High risk - Multiple instances of suspicious behavior detected. Exam integrity may be compromised."
	summaryCritical = "Critical risk - Severe and frequent cheating behaviors detected. Exam should be invalidated."
)

// Summarize computes per-kind counts and a 0-10 risk score of
// sum(severity*confidence)/10, capped at 10, from events ordered by
// timestamp.
func Summarize(sessionID string, events []risk.EventRecord) Report {
	breakdown := make(map[string]int, len(events))
	score := 0.0
	for _, ev := range events {
		breakdown[string(ev.Kind)]++
		score += float64(ev.Severity) * ev.Confidence
	}
	score = math.Min(score/10, 10.0)
	score = math.Round(score*100) / 100

	return Report{
		SessionID:      sessionID,
		TotalAlerts:    len(events),
		AlertBreakdown: breakdown,
		RiskScore:      score,
		Summary:        bandSummary(score),
		Timeline:       events,
	}
}

func bandSummary(score float64) string {
	switch {
	case score < 2:
		return summaryLow
	case score < 5:
		return summaryModerate
	case score < 8:
		return summaryHigh
	default:
		return summaryCritical
	}
}
