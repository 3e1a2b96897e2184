package reprocess

import (
	"context"
	"sync"

	"github.com/ternarybob/calldeck/internal/models"
)

// statusStep is one scripted response from the fake backend's status
// endpoint. Steps are consumed in order; the last one repeats.
type statusStep struct {
	status *models.JobStatus
	err    error
}

func step(phase models.JobPhase) statusStep {
	return statusStep{status: &models.JobStatus{RequestID: "req-1", Phase: phase}}
}

// fakeBackend is a scripted BackendClient for tests.
type fakeBackend struct {
	mu sync.Mutex

	countFn   func(call int, filters *models.ReprocessFilters) (int, error)
	submitID  string
	submitErr error

	// submitFn and statusFn override the scripted behavior entirely.
	// They run outside the lock so tests can block in them.
	submitFn func(filters *models.ReprocessFilters) (string, error)
	statusFn func(ctx context.Context, requestID string) (*models.JobStatus, error)

	statusSteps []statusStep

	countCalls  int
	submitCalls int
	statusCalls int
}

func (f *fakeBackend) Count(ctx context.Context, filters *models.ReprocessFilters) (int, error) {
	f.mu.Lock()
	f.countCalls++
	call := f.countCalls
	fn := f.countFn
	f.mu.Unlock()

	if fn == nil {
		return 0, nil
	}
	return fn(call, filters)
}

func (f *fakeBackend) Submit(ctx context.Context, filters *models.ReprocessFilters) (string, error) {
	f.mu.Lock()
	f.submitCalls++
	fn := f.submitFn
	submitErr := f.submitErr
	submitID := f.submitID
	f.mu.Unlock()

	if fn != nil {
		return fn(filters)
	}
	if submitErr != nil {
		return "", submitErr
	}
	if submitID == "" {
		return "req-1", nil
	}
	return submitID, nil
}

func (f *fakeBackend) Status(ctx context.Context, requestID string, projectID string) (*models.JobStatus, error) {
	f.mu.Lock()
	f.statusCalls++
	idx := f.statusCalls - 1
	fn := f.statusFn
	steps := f.statusSteps
	f.mu.Unlock()

	if fn != nil {
		return fn(ctx, requestID)
	}
	if len(steps) == 0 {
		return &models.JobStatus{RequestID: requestID, Phase: models.JobPhaseProcessing}, nil
	}

	if idx >= len(steps) {
		idx = len(steps) - 1
	}
	s := steps[idx]
	if s.err != nil {
		return nil, s.err
	}

	copied := *s.status
	copied.RequestID = requestID
	return &copied, nil
}

func (f *fakeBackend) calls() (count, submit, status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.countCalls, f.submitCalls, f.statusCalls
}
