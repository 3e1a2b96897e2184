package reprocess

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/calldeck/internal/common"
	"github.com/ternarybob/calldeck/internal/interfaces"
	"github.com/ternarybob/calldeck/internal/models"
)

// timeoutMessage is the user-facing text for budget exhaustion. It
// deliberately claims neither success nor failure.
const timeoutMessage = "stopped tracking after the polling budget ran out - the job may still be running"

// session is one live tracking session for a scope: the latest snapshot,
// the last surfaced error, and the cancellation handle for its poller.
type session struct {
	mu       sync.Mutex
	snapshot *models.JobStatus
	lastErr  string
	cancel   context.CancelFunc
	done     chan struct{}
	polling  atomic.Bool
}

func (s *session) setSnapshot(status *models.JobStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	// Snapshots replace wholesale; they are never merged.
	s.snapshot = status
}

func (s *session) state() interfaces.TrackerState {
	s.mu.Lock()
	defer s.mu.Unlock()

	state := interfaces.TrackerState{Phase: models.JobPhaseIdle, Error: s.lastErr}
	if s.snapshot != nil {
		state.Phase = s.snapshot.Phase
		state.Snapshot = s.snapshot
	}
	return state
}

// Tracker owns the reprocess job state machine: it submits jobs,
// remembers them durably, polls them to completion and projects a
// single coherent state per scope for the dashboard - whether the job
// was just started or discovered already running after a restart.
type Tracker struct {
	client  BackendClient
	handles interfaces.HandleStorage
	events  interfaces.EventService
	poller  *Poller
	logger  arbor.ILogger

	mu          sync.Mutex
	sessions    map[string]*session
	submitLocks map[string]*sync.Mutex
}

// NewTracker creates a job tracker. The poller's cadence and budget
// come from config via NewPoller.
func NewTracker(client BackendClient, handles interfaces.HandleStorage, events interfaces.EventService, poller *Poller, logger arbor.ILogger) *Tracker {
	return &Tracker{
		client:      client,
		handles:     handles,
		events:      events,
		poller:      poller,
		logger:      logger,
		sessions:    make(map[string]*session),
		submitLocks: make(map[string]*sync.Mutex),
	}
}

// scopeLock returns the submission lock for a scope key, creating it on
// first use. Locks are never removed; scope cardinality is tiny.
func (t *Tracker) scopeLock(key string) *sync.Mutex {
	t.mu.Lock()
	defer t.mu.Unlock()

	lock, ok := t.submitLocks[key]
	if !ok {
		lock = &sync.Mutex{}
		t.submitLocks[key] = lock
	}
	return lock
}

// Submit validates the filter set, enforces per-scope mutual exclusion,
// creates the backend job, writes the durable handle and starts the
// polling session. The mutual-exclusion check happens before anything
// touches the network: two concurrent jobs for one scope is a
// correctness violation the backend is not assumed to guard against.
func (t *Tracker) Submit(ctx context.Context, filters *models.ReprocessFilters) (string, error) {
	if err := filters.Validate(); err != nil {
		return "", err
	}

	scope := filters.Owner
	key := scope.Key()

	// Serialize submissions per scope key, not globally: the
	// check-then-submit window stays closed while other scopes keep
	// moving during the backend call.
	lock := t.scopeLock(key)
	lock.Lock()
	defer lock.Unlock()

	t.mu.Lock()
	existing, ok := t.sessions[key]
	t.mu.Unlock()
	if ok && existing.polling.Load() {
		return "", models.ErrJobAlreadyRunning
	}

	if _, err := t.handles.Get(ctx, scope); err == nil {
		return "", models.ErrJobAlreadyRunning
	} else if !errors.Is(err, interfaces.ErrHandleNotFound) {
		return "", fmt.Errorf("failed to check job handle: %w", err)
	}

	requestID, err := t.client.Submit(ctx, filters)
	if err != nil {
		t.logger.Error().
			Err(err).
			Str("scope", key).
			Msg("Reprocess submission failed")
		return "", fmt.Errorf("failed to submit reprocess job: %w", err)
	}

	handle := models.NewJobHandle(scope, requestID)
	written, err := t.handles.SetIfAbsent(ctx, handle)
	if err != nil {
		return "", fmt.Errorf("failed to store job handle: %w", err)
	}
	if !written {
		// Another process submitted between our check and write. The
		// backend job we just created is tracked by nobody - the sweep
		// follows handles, not backend listings - so leave a loud trace.
		t.logger.Warn().
			Str("scope", key).
			Str("request_id", requestID).
			Msg("Job handle already written by a concurrent submission - backend job is untracked")
		return "", models.ErrJobAlreadyRunning
	}

	t.logger.Info().
		Str("scope", key).
		Str("request_id", requestID).
		Msg("Reprocess job submitted")

	snapshot := models.NewQueuedStatus(requestID, filters)

	t.mu.Lock()
	t.startSessionLocked(key, scope, requestID, snapshot)
	t.mu.Unlock()

	t.publish(interfaces.EventReprocessStarted, snapshot)

	return requestID, nil
}

// State returns the current tracker state for a scope. A scope with no
// session is Idle with no snapshot and no error.
func (t *Tracker) State(scope models.OwnerScope) interfaces.TrackerState {
	t.mu.Lock()
	sess, ok := t.sessions[scope.Key()]
	t.mu.Unlock()

	if !ok {
		return interfaces.TrackerState{Phase: models.JobPhaseIdle}
	}
	return sess.state()
}

// Reconcile resolves a possibly-stale handle for the scope against
// backend truth. A live job is adopted and polled from its current
// state with a fresh budget; a terminal, forgotten or unreachable job
// clears the handle and leaves the scope idle. Any poller already
// running for the scope is fully stopped before a new one starts.
func (t *Tracker) Reconcile(ctx context.Context, scope models.OwnerScope) (interfaces.TrackerState, error) {
	key := scope.Key()

	handle, err := t.handles.Get(ctx, scope)
	if errors.Is(err, interfaces.ErrHandleNotFound) {
		return t.State(scope), nil
	}
	if err != nil {
		return interfaces.TrackerState{Phase: models.JobPhaseIdle}, fmt.Errorf("failed to read job handle: %w", err)
	}

	status, err := t.client.Status(ctx, handle.RequestID, scope.ProjectID)
	if err != nil {
		if errors.Is(err, models.ErrJobNotFound) {
			t.logger.Info().
				Str("scope", key).
				Str("request_id", handle.RequestID).
				Msg("Stored handle points at a job the backend has forgotten - clearing")
		} else {
			t.logger.Warn().
				Err(err).
				Str("scope", key).
				Str("request_id", handle.RequestID).
				Msg("Reconcile status fetch failed - clearing handle")
		}
		t.clearHandle(ctx, scope)
		return interfaces.TrackerState{Phase: models.JobPhaseIdle}, nil
	}

	if status.Phase.IsTerminal() {
		t.logger.Info().
			Str("scope", key).
			Str("request_id", handle.RequestID).
			Str("phase", string(status.Phase)).
			Msg("Stored handle resolved to a finished job - clearing")
		t.clearHandle(ctx, scope)
		return interfaces.TrackerState{Phase: models.JobPhaseIdle}, nil
	}

	t.logger.Info().
		Str("scope", key).
		Str("request_id", handle.RequestID).
		Str("phase", string(status.Phase)).
		Msg("Resuming tracking of in-flight reprocess job")

	t.mu.Lock()
	t.startSessionLocked(key, scope, handle.RequestID, status)
	sess := t.sessions[key]
	t.mu.Unlock()

	return sess.state(), nil
}

// ReconcileAll resolves every stored handle. Run once at startup so
// jobs submitted by a previous process run are picked up again.
func (t *Tracker) ReconcileAll(ctx context.Context) error {
	handles, err := t.handles.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list job handles: %w", err)
	}

	for i := range handles {
		scope := handles[i].Scope()
		if _, err := t.Reconcile(ctx, scope); err != nil {
			t.logger.Warn().Err(err).Str("scope", scope.Key()).Msg("Handle reconciliation failed")
		}
	}

	return nil
}

// Reset discards a terminal snapshot and returns the scope to idle so a
// new analysis can be started. It does not delete backend records, and
// it refuses while a job is still tracked.
func (t *Tracker) Reset(scope models.OwnerScope) error {
	key := scope.Key()

	t.mu.Lock()
	defer t.mu.Unlock()

	sess, ok := t.sessions[key]
	if !ok {
		return nil
	}
	if sess.polling.Load() {
		return models.ErrJobAlreadyRunning
	}

	delete(t.sessions, key)
	return nil
}

// ActivePollers returns the number of live polling sessions.
func (t *Tracker) ActivePollers() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	count := 0
	for _, sess := range t.sessions {
		if sess.polling.Load() {
			count++
		}
	}
	return count
}

// HasLivePoller reports whether a polling session is running for the
// scope. The sweeper uses it to skip scopes that are already tracked.
func (t *Tracker) HasLivePoller(scope models.OwnerScope) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	sess, ok := t.sessions[scope.Key()]
	return ok && sess.polling.Load()
}

// Stop cancels all polling sessions and waits for them to finish.
// Handles are kept: this is shutdown, not completion, and the next run
// resumes tracking via ReconcileAll.
func (t *Tracker) Stop() {
	t.mu.Lock()
	var waits []chan struct{}
	for _, sess := range t.sessions {
		if sess.polling.Load() && sess.cancel != nil {
			sess.cancel()
			waits = append(waits, sess.done)
		}
	}
	t.mu.Unlock()

	for _, done := range waits {
		<-done
	}

	t.logger.Info().Msg("Reprocess tracker stopped")
}

// startSessionLocked replaces any session for the key and starts a new
// polling goroutine. Caller must hold t.mu. An old poller is canceled
// and drained before the new session becomes visible, so two pollers
// never run for one scope. Draining releases t.mu, which lets a
// concurrent caller install its own replacement in the window; the map
// entry is re-checked after every relock and whatever landed there is
// drained too, until the entry observed is the one being replaced.
func (t *Tracker) startSessionLocked(key string, scope models.OwnerScope, requestID string, initial *models.JobStatus) {
	for {
		old, ok := t.sessions[key]
		if !ok || !old.polling.Load() || old.cancel == nil {
			break
		}
		old.cancel()
		t.mu.Unlock()
		<-old.done
		t.mu.Lock()
		if t.sessions[key] == old {
			break
		}
	}

	pollCtx, cancel := context.WithCancel(context.Background())
	sess := &session{
		snapshot: initial,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	sess.polling.Store(true)
	t.sessions[key] = sess

	common.SafeGo(t.logger, "reprocess-poller:"+key, func() {
		defer close(sess.done)
		t.runPoller(pollCtx, sess, scope, requestID)
	})
}

// runPoller drives one polling session to its outcome and settles the
// handle and session accordingly.
func (t *Tracker) runPoller(ctx context.Context, sess *session, scope models.OwnerScope, requestID string) {
	outcome, err := t.poller.Run(ctx, requestID, scope, func(status *models.JobStatus) {
		sess.setSnapshot(status)
		t.publish(interfaces.EventReprocessProgress, status)
	})

	sess.polling.Store(false)

	sess.mu.Lock()
	snapshot := sess.snapshot

	switch outcome {
	case PollOutcomeCompleted:
		sess.mu.Unlock()
		t.clearHandle(ctx, scope)
		t.publish(interfaces.EventReprocessCompleted, snapshot)

	case PollOutcomeFailed:
		// Backend-reported failure is a job outcome, not a client error;
		// the status badge and logs_failed count carry it.
		sess.mu.Unlock()
		t.clearHandle(ctx, scope)
		t.publish(interfaces.EventReprocessFailed, snapshot)

	case PollOutcomeNotFound:
		// Silent: no error surfaced, snapshot discarded, back to idle.
		sess.snapshot = nil
		sess.lastErr = ""
		sess.mu.Unlock()
		t.clearHandle(ctx, scope)

	case PollOutcomeFetchError:
		// Tracking broke down, not the job. The event carries the error
		// text and the last snapshot so clients can say "lost sight of a
		// possibly-running job" instead of "job failed".
		message := fmt.Sprintf("status tracking failed: %v", err)
		sess.lastErr = message
		sess.mu.Unlock()
		t.clearHandle(ctx, scope)
		phase := models.JobPhaseIdle
		if snapshot != nil {
			phase = snapshot.Phase
		}
		t.publish(interfaces.EventReprocessFetchError, interfaces.TrackerState{
			Phase:    phase,
			Snapshot: snapshot,
			Error:    message,
		})

	case PollOutcomeTimeout:
		sess.lastErr = timeoutMessage
		sess.mu.Unlock()
		t.clearHandle(ctx, scope)
		t.publish(interfaces.EventReprocessTimeout, snapshot)

	case PollOutcomeCanceled:
		// Shutdown or replacement. Keep the handle so tracking resumes.
		sess.mu.Unlock()
	}
}

// clearHandle removes the handle for a scope. The poller may be past
// its context's lifetime here, so the delete uses a fresh context.
func (t *Tracker) clearHandle(ctx context.Context, scope models.OwnerScope) {
	if ctx.Err() != nil {
		ctx = context.Background()
	}
	if err := t.handles.Clear(ctx, scope); err != nil {
		t.logger.Warn().Err(err).Str("scope", scope.Key()).Msg("Failed to clear job handle")
	}
}

// publish fans an event out and waits for the handlers, so consecutive
// snapshots reach subscribers in the order they were observed. Handlers
// stay cheap: the WebSocket broadcast is throttled and write-deadlined.
func (t *Tracker) publish(eventType interfaces.EventType, payload interface{}) {
	if t.events == nil {
		return
	}
	if err := t.events.PublishSync(context.Background(), interfaces.Event{Type: eventType, Payload: payload}); err != nil {
		t.logger.Warn().Err(err).Str("event_type", string(eventType)).Msg("Failed to publish event")
	}
}
