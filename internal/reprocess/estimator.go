package reprocess

import (
	"context"
	"sync/atomic"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/calldeck/internal/interfaces"
	"github.com/ternarybob/calldeck/internal/models"
)

// Estimator asks the backend how many call logs a filter set would
// touch. Stateless apart from the sequence counters used to discard
// out-of-order results: the dashboard re-estimates on every filter
// change, and a slow earlier response must not overwrite a later one.
type Estimator struct {
	client BackendClient
	logger arbor.ILogger

	seq     atomic.Uint64 // issued to each call, monotonically increasing
	applied atomic.Uint64 // highest sequence that has completed
}

// NewEstimator creates a new scope estimator.
func NewEstimator(client BackendClient, logger arbor.ILogger) *Estimator {
	return &Estimator{
		client: client,
		logger: logger,
	}
}

// Estimate returns the affected-record count for the filter set. A
// backend failure yields a nil count ("unknown"), never zero - zero
// means "nothing to do" and is reported only when the backend said so.
// Results overtaken by a later call come back with Stale=true.
func (e *Estimator) Estimate(ctx context.Context, filters *models.ReprocessFilters) (*interfaces.EstimateResult, error) {
	if filters.FromDate.IsZero() || filters.ToDate.IsZero() {
		return nil, models.ErrInvalidFilters
	}

	seq := e.seq.Add(1)

	count, err := e.client.Count(ctx, filters)

	stale := !e.advance(seq)

	if err != nil {
		e.logger.Warn().
			Err(err).
			Str("scope", filters.Owner.Key()).
			Msg("Scope estimate failed - reporting unknown count")
		return &interfaces.EstimateResult{Count: nil, Seq: seq, Stale: stale}, nil
	}

	e.logger.Debug().
		Str("scope", filters.Owner.Key()).
		Int("count", count).
		Bool("stale", stale).
		Msg("Scope estimate")

	return &interfaces.EstimateResult{Count: &count, Seq: seq, Stale: stale}, nil
}

// advance records seq as completed and reports whether it is still the
// newest completion. A CAS loop keeps the applied watermark monotonic.
func (e *Estimator) advance(seq uint64) bool {
	for {
		current := e.applied.Load()
		if seq <= current {
			return false
		}
		if e.applied.CompareAndSwap(current, seq) {
			return true
		}
	}
}
