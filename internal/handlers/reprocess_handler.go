package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/calldeck/internal/interfaces"
	"github.com/ternarybob/calldeck/internal/models"
	"github.com/ternarybob/calldeck/internal/reprocess"
)

// ReprocessHandler exposes the bulk reprocess tracking core to the
// dashboard: estimate, submit, status, reconcile and reset.
type ReprocessHandler struct {
	service interfaces.ReprocessService
	logger  arbor.ILogger
}

// NewReprocessHandler creates a new reprocess handler
func NewReprocessHandler(service interfaces.ReprocessService, logger arbor.ILogger) *ReprocessHandler {
	return &ReprocessHandler{
		service: service,
		logger:  logger,
	}
}

// reprocessRequest is the wire shape shared by the estimate query and
// the submit body. Dates accept calendar form (2024-01-31) or RFC3339.
type reprocessRequest struct {
	FromDate            string   `json:"from_date"`
	ToDate              string   `json:"to_date"`
	Scope               string   `json:"scope"`
	Targets             string   `json:"targets"`
	TranscriptionFields []string `json:"transcription_fields,omitempty"`
	MetricsFields       []string `json:"metrics_fields,omitempty"`
	ProjectID           string   `json:"project_id,omitempty"`
	AgentID             string   `json:"agent_id,omitempty"`
}

func (req *reprocessRequest) toFilters() (*models.ReprocessFilters, error) {
	from, err := parseDate(req.FromDate)
	if err != nil {
		return nil, fmt.Errorf("invalid from_date: %w", err)
	}
	to, err := parseDate(req.ToDate)
	if err != nil {
		return nil, fmt.Errorf("invalid to_date: %w", err)
	}

	return &models.ReprocessFilters{
		FromDate:            from,
		ToDate:              to,
		Scope:               models.ReprocessScope(req.Scope),
		Targets:             models.ReprocessTargets(req.Targets),
		TranscriptionFields: req.TranscriptionFields,
		MetricsFields:       req.MetricsFields,
		Owner: models.OwnerScope{
			ProjectID: req.ProjectID,
			AgentID:   req.AgentID,
		},
	}, nil
}

func parseDate(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("date is required")
	}
	if t, err := time.Parse("2006-01-02", value); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, value)
}

// EstimateHandler returns how many call logs the filter set would touch.
// GET /api/reprocess/estimate?from_date&to_date&scope&targets&project_id&agent_id
//
// Responds {count: null} when the backend count failed - unknown is not
// zero, and the dashboard renders them differently.
func (h *ReprocessHandler) EstimateHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	query := r.URL.Query()
	req := reprocessRequest{
		FromDate:  query.Get("from_date"),
		ToDate:    query.Get("to_date"),
		Scope:     query.Get("scope"),
		Targets:   query.Get("targets"),
		ProjectID: query.Get("project_id"),
		AgentID:   query.Get("agent_id"),
	}
	if fields := query.Get("transcription_fields"); fields != "" {
		if err := json.Unmarshal([]byte(fields), &req.TranscriptionFields); err != nil {
			WriteError(w, http.StatusBadRequest, "transcription_fields must be a JSON array")
			return
		}
	}
	if fields := query.Get("metrics_fields"); fields != "" {
		if err := json.Unmarshal([]byte(fields), &req.MetricsFields); err != nil {
			WriteError(w, http.StatusBadRequest, "metrics_fields must be a JSON array")
			return
		}
	}

	filters, err := req.toFilters()
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.service.Estimate(r.Context(), filters)
	if err != nil {
		if errors.Is(err, models.ErrInvalidFilters) {
			WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Error().Err(err).Msg("Estimate failed")
		WriteError(w, http.StatusInternalServerError, "Failed to estimate scope")
		return
	}

	WriteJSON(w, http.StatusOK, result)
}

// SubmitHandler starts a bulk reprocess job.
// POST /api/reprocess
func (h *ReprocessHandler) SubmitHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var req reprocessRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	filters, err := req.toFilters()
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	requestID, err := h.service.Submit(r.Context(), filters)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrInvalidFilters):
			WriteError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, models.ErrJobAlreadyRunning):
			WriteError(w, http.StatusConflict, "A bulk analysis is already running for this scope")
		default:
			h.logger.Error().Err(err).Msg("Reprocess submission failed")
			WriteError(w, http.StatusBadGateway, "Failed to start bulk analysis")
		}
		return
	}

	WriteJSON(w, http.StatusOK, map[string]string{"request_id": requestID})
}

// statusResponse is the tracker state plus its display projection.
type statusResponse struct {
	interfaces.TrackerState
	Progress reprocess.Progress `json:"progress"`
}

// StatusHandler returns the current tracker state for a scope.
// GET /api/reprocess/status?project_id&agent_id
func (h *ReprocessHandler) StatusHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	scope := scopeFromQuery(r)
	state := h.service.State(scope)

	WriteJSON(w, http.StatusOK, statusResponse{
		TrackerState: state,
		Progress:     reprocess.Present(state.Snapshot),
	})
}

// ReconcileHandler resolves a possibly-stale handle for a scope against
// backend truth, resuming polling when the job is still live. The
// dashboard calls it on mount.
// POST /api/reprocess/reconcile
func (h *ReprocessHandler) ReconcileHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var scope models.OwnerScope
	if err := decodeOptionalScope(r, &scope); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	state, err := h.service.Reconcile(r.Context(), scope)
	if err != nil {
		h.logger.Error().Err(err).Str("scope", scope.Key()).Msg("Reconcile failed")
		WriteError(w, http.StatusInternalServerError, "Failed to reconcile job state")
		return
	}

	WriteJSON(w, http.StatusOK, statusResponse{
		TrackerState: state,
		Progress:     reprocess.Present(state.Snapshot),
	})
}

// ResetHandler discards a terminal snapshot so a new analysis can be
// started. Rejected while a job is still tracked.
// POST /api/reprocess/reset
func (h *ReprocessHandler) ResetHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var scope models.OwnerScope
	if err := decodeOptionalScope(r, &scope); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := h.service.Reset(scope); err != nil {
		if errors.Is(err, models.ErrJobAlreadyRunning) {
			WriteError(w, http.StatusConflict, "Cannot reset while a bulk analysis is running")
			return
		}
		h.logger.Error().Err(err).Str("scope", scope.Key()).Msg("Reset failed")
		WriteError(w, http.StatusInternalServerError, "Failed to reset job state")
		return
	}

	WriteSuccess(w, "Job state reset")
}

// decodeOptionalScope reads an owner scope from the request body. An
// empty body deliberately selects the broadest scope; a body that fails
// to parse is a caller error and must not silently widen the scope.
func decodeOptionalScope(r *http.Request, scope *models.OwnerScope) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(r.Body).Decode(scope)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func scopeFromQuery(r *http.Request) models.OwnerScope {
	return models.OwnerScope{
		ProjectID: r.URL.Query().Get("project_id"),
		AgentID:   r.URL.Query().Get("agent_id"),
	}
}
