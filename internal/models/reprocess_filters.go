package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// ReprocessScope selects which call logs inside the date range are touched.
type ReprocessScope string

const (
	// ReprocessScopeEmptyOnly touches only logs missing derived data.
	ReprocessScopeEmptyOnly ReprocessScope = "empty_only"
	// ReprocessScopeAll touches every log in range.
	ReprocessScopeAll ReprocessScope = "all"
)

// ReprocessTargets selects which derived-data categories are recomputed.
type ReprocessTargets string

const (
	ReprocessTargetsTranscription ReprocessTargets = "transcription"
	ReprocessTargetsMetrics       ReprocessTargets = "metrics"
	ReprocessTargetsBoth          ReprocessTargets = "both"
)

// OwnerScope is the (project, agent) pair a reprocess job is keyed by.
// Both fields empty means "all projects" - a legitimate but maximally
// broad scope. The scope key is the mutual-exclusion boundary: at most
// one job is tracked per key at any time.
type OwnerScope struct {
	ProjectID string `json:"project_id,omitempty" toml:"project_id"`
	AgentID   string `json:"agent_id,omitempty" toml:"agent_id"`
}

// Key returns the deterministic handle-store key for this scope.
// Different scopes never collide; the same scope always maps to the
// same key.
func (s OwnerScope) Key() string {
	project := s.ProjectID
	if project == "" {
		project = "all"
	}
	agent := s.AgentID
	if agent == "" {
		agent = "all"
	}
	return strings.ToLower(project + ":" + agent)
}

// IsBroad reports whether the scope spans all projects and agents.
func (s OwnerScope) IsBroad() bool {
	return s.ProjectID == "" && s.AgentID == ""
}

func (s OwnerScope) String() string {
	return s.Key()
}

// ReprocessFilters describes one bulk reprocess request. The struct is
// mutable while the dashboard builds it and becomes an immutable snapshot
// the moment a job is submitted.
type ReprocessFilters struct {
	FromDate time.Time `json:"from_date"`
	ToDate   time.Time `json:"to_date"`

	Scope   ReprocessScope   `json:"scope" validate:"required,oneof=empty_only all"`
	Targets ReprocessTargets `json:"targets" validate:"required,oneof=transcription metrics both"`

	// Optional narrowing within the active target categories. Empty means
	// "all fields in that category".
	TranscriptionFields []string `json:"transcription_fields,omitempty"`
	MetricsFields       []string `json:"metrics_fields,omitempty"`

	Owner OwnerScope `json:"owner"`
}

var filterValidator = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the filter set before any network call is made.
// Cross-field rules (date ordering, target/field consistency) are not
// expressible as struct tags and are checked explicitly.
func (f *ReprocessFilters) Validate() error {
	if f.FromDate.IsZero() || f.ToDate.IsZero() {
		return fmt.Errorf("%w: date range must be fully specified", ErrInvalidFilters)
	}
	if f.ToDate.Before(f.FromDate) {
		return fmt.Errorf("%w: from_date must not be after to_date", ErrInvalidFilters)
	}

	if err := filterValidator.Struct(f); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidFilters, err)
	}

	// Field narrowing is only meaningful for an active target category.
	if f.Targets == ReprocessTargetsTranscription && len(f.MetricsFields) > 0 {
		return fmt.Errorf("%w: metrics_fields set but targets is transcription", ErrInvalidFilters)
	}
	if f.Targets == ReprocessTargetsMetrics && len(f.TranscriptionFields) > 0 {
		return fmt.Errorf("%w: transcription_fields set but targets is metrics", ErrInvalidFilters)
	}

	return nil
}

// NormalizedRange returns the date range with time-of-day pinned to
// start-of-day (from) and end-of-day (to), as the processing backend
// expects.
func (f *ReprocessFilters) NormalizedRange() (time.Time, time.Time) {
	from := time.Date(f.FromDate.Year(), f.FromDate.Month(), f.FromDate.Day(), 0, 0, 0, 0, f.FromDate.Location())
	to := time.Date(f.ToDate.Year(), f.ToDate.Month(), f.ToDate.Day(), 23, 59, 59, 0, f.ToDate.Location())
	return from, to
}
