package models

import (
	"errors"
	"time"
)

// Sentinel errors shared across the reprocess tracking core.
var (
	// ErrInvalidFilters indicates a filter set that failed validation
	// before any network call.
	ErrInvalidFilters = errors.New("invalid reprocess filters")

	// ErrJobAlreadyRunning indicates a submit attempt while a job is
	// still tracked for the same owner scope.
	ErrJobAlreadyRunning = errors.New("reprocess job already running for scope")

	// ErrJobNotFound indicates the processing backend has no record of
	// the job id (expired or stale handle).
	ErrJobNotFound = errors.New("reprocess job not found")
)

// JobPhase is the lifecycle phase of a reprocess job.
//
// Idle is the client-only pre-submission phase; all other phases are
// reported by the processing backend. There is no transition back to
// Idle except an explicit reset after a terminal phase.
type JobPhase string

const (
	JobPhaseIdle       JobPhase = "idle"
	JobPhaseQueued     JobPhase = "queued"
	JobPhasePreparing  JobPhase = "preparing"
	JobPhaseProcessing JobPhase = "processing"
	JobPhaseCompleted  JobPhase = "completed"
	JobPhaseFailed     JobPhase = "failed"
)

// IsTerminal reports whether the phase ends polling.
func (p JobPhase) IsTerminal() bool {
	return p == JobPhaseCompleted || p == JobPhaseFailed
}

// IsValid reports whether the phase is one the backend may report.
func (p JobPhase) IsValid() bool {
	switch p {
	case JobPhaseQueued, JobPhasePreparing, JobPhaseProcessing, JobPhaseCompleted, JobPhaseFailed:
		return true
	}
	return false
}

// JobStatus is the snapshot fetched from the processing backend on each
// poll tick. Snapshots are replaceable, never merged - a new fetch
// discards the previous one wholesale.
type JobStatus struct {
	RequestID          string   `json:"request_id"`
	Phase              JobPhase `json:"status"`
	ProgressPercentage float64  `json:"progress_percentage"`

	TotalLogs        int `json:"total_logs"`
	TotalBatches     int `json:"total_batches"`
	BatchesCompleted int `json:"batches_completed"`
	LogsProcessed    int `json:"logs_processed"`
	LogsFailed       int `json:"logs_failed"`

	EstimatedTimeRemainingMinutes *float64 `json:"estimated_time_remaining_minutes,omitempty"`

	// Filters echoed back by the backend. Display only - the tracker's
	// own copy is authoritative for validation.
	Filters *ReprocessFilters `json:"filters,omitempty"`
}

// NewQueuedStatus returns the initial snapshot seeded the moment a
// submission succeeds, before the first poll tick.
func NewQueuedStatus(requestID string, filters *ReprocessFilters) *JobStatus {
	return &JobStatus{
		RequestID: requestID,
		Phase:     JobPhaseQueued,
		Filters:   filters,
	}
}

// JobHandle is the durable pointer remembering that a job is outstanding
// for a scope. It is written once on submit and deleted when the job
// reaches a terminal state, disappears (404), or polling is abandoned.
// It is never mutated - a pointer, not a cache.
type JobHandle struct {
	Key       string    `json:"key" badgerhold:"key"`
	RequestID string    `json:"request_id"`
	ProjectID string    `json:"project_id,omitempty"`
	AgentID   string    `json:"agent_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// NewJobHandle creates a handle for a submitted job.
func NewJobHandle(scope OwnerScope, requestID string) *JobHandle {
	return &JobHandle{
		Key:       scope.Key(),
		RequestID: requestID,
		ProjectID: scope.ProjectID,
		AgentID:   scope.AgentID,
		CreatedAt: time.Now(),
	}
}

// Scope reconstructs the owner scope the handle was keyed by.
func (h *JobHandle) Scope() OwnerScope {
	return OwnerScope{ProjectID: h.ProjectID, AgentID: h.AgentID}
}
