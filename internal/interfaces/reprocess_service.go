package interfaces

import (
	"context"

	"github.com/ternarybob/calldeck/internal/models"
)

// EstimateResult is the outcome of one scope-estimate call. Count is nil
// when the backend call failed - "unknown" is distinct from zero, since
// zero records is actionable information and unknown is not. Stale marks
// results overtaken by a later call; callers must discard them.
type EstimateResult struct {
	Count *int   `json:"count"`
	Seq   uint64 `json:"seq"`
	Stale bool   `json:"-"`
}

// TrackerState is the (snapshot | nil, error | nil) pair the UI layer
// renders. Network-level errors never propagate past this boundary.
type TrackerState struct {
	Phase    models.JobPhase   `json:"phase"`
	Snapshot *models.JobStatus `json:"snapshot,omitempty"`
	Error    string            `json:"error,omitempty"`
}

// ReprocessService is the handler-facing surface of the job tracking core.
type ReprocessService interface {
	// Estimate asks the backend how many call logs the filter set would
	// touch. Requires a fully specified date range.
	Estimate(ctx context.Context, filters *models.ReprocessFilters) (*EstimateResult, error)

	// Submit validates the filters, enforces per-scope mutual exclusion,
	// creates the backend job and starts tracking it. Returns the
	// backend request id.
	Submit(ctx context.Context, filters *models.ReprocessFilters) (string, error)

	// State returns the current tracker state for a scope.
	State(scope models.OwnerScope) TrackerState

	// Reconcile resolves a possibly-stale handle for the scope against
	// backend truth, resuming polling when the job is still live.
	Reconcile(ctx context.Context, scope models.OwnerScope) (TrackerState, error)

	// Reset discards a terminal snapshot and returns the scope to idle.
	// It does not delete backend records.
	Reset(scope models.OwnerScope) error
}
