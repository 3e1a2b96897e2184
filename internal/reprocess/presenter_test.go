package reprocess

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/ternarybob/calldeck/internal/models"
)

func TestPresent_NilSnapshot(t *testing.T) {
	p := Present(nil)

	assert.Equal(t, 0.0, p.Percent)
	assert.Equal(t, "0 / 0", p.ProcessedOfTotal)
	assert.Equal(t, "0 / 0", p.BatchesOfTotal)
	assert.Empty(t, p.ETALabel)
}

func TestPresent_JustQueuedNoTotals(t *testing.T) {
	// A job with zero totals must render 0%, never NaN.
	p := Present(&models.JobStatus{Phase: models.JobPhaseQueued})

	assert.Equal(t, 0.0, p.Percent)
	assert.Equal(t, "0 / 0", p.ProcessedOfTotal)
}

func TestPresent_BackendPercentagePreferred(t *testing.T) {
	p := Present(&models.JobStatus{
		Phase:              models.JobPhaseProcessing,
		ProgressPercentage: 37.25,
		TotalLogs:          1000,
		LogsProcessed:      100,
	})

	assert.Equal(t, 37.3, p.Percent)
}

func TestPresent_FallbackFromCounts(t *testing.T) {
	p := Present(&models.JobStatus{
		Phase:         models.JobPhaseProcessing,
		TotalLogs:     200,
		LogsProcessed: 50,
	})

	assert.Equal(t, 25.0, p.Percent)
	assert.Equal(t, "50 / 200", p.ProcessedOfTotal)
}

func TestPresent_PercentClamped(t *testing.T) {
	over := Present(&models.JobStatus{ProgressPercentage: 120})
	assert.Equal(t, 100.0, over.Percent)

	negative := Present(&models.JobStatus{ProgressPercentage: -5})
	assert.Equal(t, 0.0, negative.Percent)
}

func TestPresent_BatchCounts(t *testing.T) {
	p := Present(&models.JobStatus{
		TotalBatches:     12,
		BatchesCompleted: 4,
	})

	assert.Equal(t, "4 / 12", p.BatchesOfTotal)
}

func TestPresent_ETALabels(t *testing.T) {
	minutes := func(m float64) *float64 { return &m }

	tests := []struct {
		name     string
		minutes  *float64
		expected string
	}{
		{"absent", nil, ""},
		{"negative", minutes(-2), ""},
		{"under a minute", minutes(0.4), "less than a minute remaining"},
		{"minutes", minutes(14.6), "about 15 min remaining"},
		{"exact hours", minutes(120), "about 2h remaining"},
		{"hours and minutes", minutes(95), "about 1h 35m remaining"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Present(&models.JobStatus{EstimatedTimeRemainingMinutes: tt.minutes})
			assert.Equal(t, tt.expected, p.ETALabel)
		})
	}
}
