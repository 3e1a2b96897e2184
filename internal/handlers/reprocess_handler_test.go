package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/calldeck/internal/interfaces"
	"github.com/ternarybob/calldeck/internal/models"
)

// stubService is a scripted ReprocessService for handler tests.
type stubService struct {
	estimateResult *interfaces.EstimateResult
	estimateErr    error
	submitID       string
	submitErr      error
	state          interfaces.TrackerState
	reconcileErr   error
	resetErr       error

	lastFilters    *models.ReprocessFilters
	reconcileCalls int
	resetCalls     int
}

func (s *stubService) Estimate(ctx context.Context, filters *models.ReprocessFilters) (*interfaces.EstimateResult, error) {
	s.lastFilters = filters
	return s.estimateResult, s.estimateErr
}

func (s *stubService) Submit(ctx context.Context, filters *models.ReprocessFilters) (string, error) {
	s.lastFilters = filters
	return s.submitID, s.submitErr
}

func (s *stubService) State(scope models.OwnerScope) interfaces.TrackerState {
	return s.state
}

func (s *stubService) Reconcile(ctx context.Context, scope models.OwnerScope) (interfaces.TrackerState, error) {
	s.reconcileCalls++
	return s.state, s.reconcileErr
}

func (s *stubService) Reset(scope models.OwnerScope) error {
	s.resetCalls++
	return s.resetErr
}

func newTestHandler(service *stubService) *ReprocessHandler {
	return NewReprocessHandler(service, arbor.NewLogger())
}

func TestEstimateHandler_Success(t *testing.T) {
	count := 57
	service := &stubService{
		estimateResult: &interfaces.EstimateResult{Count: &count, Seq: 3},
	}
	handler := newTestHandler(service)

	req := httptest.NewRequest(http.MethodGet,
		"/api/reprocess/estimate?from_date=2026-08-01&to_date=2026-08-15&scope=empty_only&targets=both&project_id=proj-1", nil)
	w := httptest.NewRecorder()

	handler.EstimateHandler(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var body struct {
		Count *int `json:"count"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Count == nil || *body.Count != 57 {
		t.Errorf("Expected count 57, got %v", body.Count)
	}

	if service.lastFilters == nil || service.lastFilters.Owner.ProjectID != "proj-1" {
		t.Errorf("Expected filters handed to service, got %+v", service.lastFilters)
	}
}

func TestEstimateHandler_UnknownCountIsNull(t *testing.T) {
	service := &stubService{
		estimateResult: &interfaces.EstimateResult{Count: nil, Seq: 1},
	}
	handler := newTestHandler(service)

	req := httptest.NewRequest(http.MethodGet,
		"/api/reprocess/estimate?from_date=2026-08-01&to_date=2026-08-15&scope=all&targets=metrics", nil)
	w := httptest.NewRecorder()

	handler.EstimateHandler(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"count":null`) {
		t.Errorf("Unknown count must serialize as null, got %s", w.Body.String())
	}
}

func TestEstimateHandler_MissingDates(t *testing.T) {
	handler := newTestHandler(&stubService{})

	req := httptest.NewRequest(http.MethodGet, "/api/reprocess/estimate?scope=all&targets=both", nil)
	w := httptest.NewRecorder()

	handler.EstimateHandler(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("Expected 400 for missing dates, got %d", w.Code)
	}
}

func TestEstimateHandler_BadFieldArray(t *testing.T) {
	handler := newTestHandler(&stubService{})

	req := httptest.NewRequest(http.MethodGet,
		"/api/reprocess/estimate?from_date=2026-08-01&to_date=2026-08-15&scope=all&targets=both&transcription_fields=not-json", nil)
	w := httptest.NewRecorder()

	handler.EstimateHandler(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("Expected 400 for malformed field array, got %d", w.Code)
	}
}

func TestSubmitHandler_Success(t *testing.T) {
	service := &stubService{submitID: "req-42"}
	handler := newTestHandler(service)

	body := `{"from_date":"2026-08-01","to_date":"2026-08-15","scope":"empty_only","targets":"both","project_id":"proj-1","agent_id":"agent-1"}`
	req := httptest.NewRequest(http.MethodPost, "/api/reprocess", strings.NewReader(body))
	w := httptest.NewRecorder()

	handler.SubmitHandler(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "req-42") {
		t.Errorf("Expected request id in response, got %s", w.Body.String())
	}
	if service.lastFilters.Owner.AgentID != "agent-1" {
		t.Errorf("Expected agent scope forwarded, got %+v", service.lastFilters.Owner)
	}
}

func TestSubmitHandler_Conflict(t *testing.T) {
	service := &stubService{submitErr: models.ErrJobAlreadyRunning}
	handler := newTestHandler(service)

	body := `{"from_date":"2026-08-01","to_date":"2026-08-15","scope":"all","targets":"both"}`
	req := httptest.NewRequest(http.MethodPost, "/api/reprocess", strings.NewReader(body))
	w := httptest.NewRecorder()

	handler.SubmitHandler(w, req)

	if w.Code != http.StatusConflict {
		t.Fatalf("Expected 409 while a job is running, got %d", w.Code)
	}
}

func TestSubmitHandler_InvalidFilters(t *testing.T) {
	service := &stubService{submitErr: models.ErrInvalidFilters}
	handler := newTestHandler(service)

	body := `{"from_date":"2026-08-01","to_date":"2026-08-15","scope":"bogus","targets":"both"}`
	req := httptest.NewRequest(http.MethodPost, "/api/reprocess", strings.NewReader(body))
	w := httptest.NewRecorder()

	handler.SubmitHandler(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("Expected 400 for invalid filters, got %d", w.Code)
	}
}

func TestSubmitHandler_BackendFailure(t *testing.T) {
	service := &stubService{submitErr: context.DeadlineExceeded}
	handler := newTestHandler(service)

	body := `{"from_date":"2026-08-01","to_date":"2026-08-15","scope":"all","targets":"both"}`
	req := httptest.NewRequest(http.MethodPost, "/api/reprocess", strings.NewReader(body))
	w := httptest.NewRecorder()

	handler.SubmitHandler(w, req)

	if w.Code != http.StatusBadGateway {
		t.Fatalf("Expected 502 for backend failure, got %d", w.Code)
	}
}

func TestSubmitHandler_WrongMethod(t *testing.T) {
	handler := newTestHandler(&stubService{})

	req := httptest.NewRequest(http.MethodGet, "/api/reprocess", nil)
	w := httptest.NewRecorder()

	handler.SubmitHandler(w, req)

	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("Expected 405, got %d", w.Code)
	}
}

func TestStatusHandler_IncludesProgressProjection(t *testing.T) {
	service := &stubService{
		state: interfaces.TrackerState{
			Phase: models.JobPhaseProcessing,
			Snapshot: &models.JobStatus{
				RequestID:     "req-1",
				Phase:         models.JobPhaseProcessing,
				TotalLogs:     200,
				LogsProcessed: 50,
			},
		},
	}
	handler := newTestHandler(service)

	req := httptest.NewRequest(http.MethodGet, "/api/reprocess/status?project_id=proj-1", nil)
	w := httptest.NewRecorder()

	handler.StatusHandler(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}

	var body struct {
		Phase    string `json:"phase"`
		Progress struct {
			Percent          float64 `json:"percent"`
			ProcessedOfTotal string  `json:"processed_of_total"`
		} `json:"progress"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Phase != "processing" {
		t.Errorf("Expected processing phase, got %s", body.Phase)
	}
	if body.Progress.Percent != 25.0 {
		t.Errorf("Expected 25%% progress, got %v", body.Progress.Percent)
	}
	if body.Progress.ProcessedOfTotal != "50 / 200" {
		t.Errorf("Expected counts projection, got %s", body.Progress.ProcessedOfTotal)
	}
}

func TestStatusHandler_IdleScope(t *testing.T) {
	service := &stubService{
		state: interfaces.TrackerState{Phase: models.JobPhaseIdle},
	}
	handler := newTestHandler(service)

	req := httptest.NewRequest(http.MethodGet, "/api/reprocess/status", nil)
	w := httptest.NewRecorder()

	handler.StatusHandler(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"phase":"idle"`) {
		t.Errorf("Expected idle phase, got %s", w.Body.String())
	}
}

func TestReconcileHandler_EmptyBodyMeansBroadestScope(t *testing.T) {
	service := &stubService{
		state: interfaces.TrackerState{Phase: models.JobPhaseIdle},
	}
	handler := newTestHandler(service)

	req := httptest.NewRequest(http.MethodPost, "/api/reprocess/reconcile", strings.NewReader(""))
	w := httptest.NewRecorder()

	handler.ReconcileHandler(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200 for empty body, got %d: %s", w.Code, w.Body.String())
	}
}

func TestReconcileHandler_MalformedBodyIsRejected(t *testing.T) {
	service := &stubService{
		state: interfaces.TrackerState{Phase: models.JobPhaseIdle},
	}
	handler := newTestHandler(service)

	req := httptest.NewRequest(http.MethodPost, "/api/reprocess/reconcile", strings.NewReader("{not json"))
	w := httptest.NewRecorder()

	handler.ReconcileHandler(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("Expected 400 for malformed body, got %d: %s", w.Code, w.Body.String())
	}
	// A parse failure must not fall through to the broadest scope.
	if service.reconcileCalls != 0 {
		t.Errorf("Malformed body must not reconcile anything, got %d calls", service.reconcileCalls)
	}
}

func TestResetHandler_MalformedBodyIsRejected(t *testing.T) {
	service := &stubService{}
	handler := newTestHandler(service)

	req := httptest.NewRequest(http.MethodPost, "/api/reprocess/reset", strings.NewReader("[]"))
	w := httptest.NewRecorder()

	handler.ResetHandler(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("Expected 400 for malformed body, got %d: %s", w.Code, w.Body.String())
	}
	if service.resetCalls != 0 {
		t.Errorf("Malformed body must not reset anything, got %d calls", service.resetCalls)
	}
}

func TestResetHandler_ConflictWhileRunning(t *testing.T) {
	service := &stubService{resetErr: models.ErrJobAlreadyRunning}
	handler := newTestHandler(service)

	req := httptest.NewRequest(http.MethodPost, "/api/reprocess/reset", strings.NewReader(`{"project_id":"proj-1"}`))
	w := httptest.NewRecorder()

	handler.ResetHandler(w, req)

	if w.Code != http.StatusConflict {
		t.Fatalf("Expected 409 while running, got %d", w.Code)
	}
}

func TestResetHandler_Success(t *testing.T) {
	handler := newTestHandler(&stubService{})

	req := httptest.NewRequest(http.MethodPost, "/api/reprocess/reset", strings.NewReader(`{"project_id":"proj-1"}`))
	w := httptest.NewRecorder()

	handler.ResetHandler(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
}
