package reprocess

import (
	"fmt"
	"math"

	"github.com/ternarybob/calldeck/internal/models"
)

// Progress is the display projection of a status snapshot: percentage,
// counts and an estimated-remaining-time label, ready for the dashboard.
type Progress struct {
	Percent          float64 `json:"percent"`
	ProcessedOfTotal string  `json:"processed_of_total"`
	BatchesOfTotal   string  `json:"batches_of_total"`
	ETALabel         string  `json:"eta_label"`
}

// Present projects a snapshot into display figures. Pure function, no
// stored state; recomputed on every snapshot. A job with no logs yet
// (just queued) renders as 0%, never NaN.
func Present(snapshot *models.JobStatus) Progress {
	if snapshot == nil {
		return Progress{
			ProcessedOfTotal: "0 / 0",
			BatchesOfTotal:   "0 / 0",
		}
	}

	percent := snapshot.ProgressPercentage
	if percent <= 0 && snapshot.TotalLogs > 0 {
		percent = float64(snapshot.LogsProcessed) / float64(snapshot.TotalLogs) * 100
	}
	if math.IsNaN(percent) || percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}

	return Progress{
		Percent:          math.Round(percent*10) / 10,
		ProcessedOfTotal: fmt.Sprintf("%d / %d", snapshot.LogsProcessed, snapshot.TotalLogs),
		BatchesOfTotal:   fmt.Sprintf("%d / %d", snapshot.BatchesCompleted, snapshot.TotalBatches),
		ETALabel:         etaLabel(snapshot.EstimatedTimeRemainingMinutes),
	}
}

// etaLabel formats the estimated remaining time, or empty when the
// backend did not provide one.
func etaLabel(minutes *float64) string {
	if minutes == nil || *minutes < 0 {
		return ""
	}

	m := *minutes
	if m < 1 {
		return "less than a minute remaining"
	}
	if m < 60 {
		return fmt.Sprintf("about %d min remaining", int(math.Round(m)))
	}

	hours := int(m) / 60
	rem := int(m) % 60
	if rem == 0 {
		return fmt.Sprintf("about %dh remaining", hours)
	}
	return fmt.Sprintf("about %dh %dm remaining", hours, rem)
}
