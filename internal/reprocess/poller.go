package reprocess

import (
	"context"
	"errors"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/calldeck/internal/models"
)

const (
	// DefaultPollInterval is the delay between chained status ticks.
	DefaultPollInterval = 5 * time.Second

	// DefaultMaxPollAttempts bounds one polling session. At the default
	// 5s cadence this is roughly the 30 minute ceiling of a bulk job.
	DefaultMaxPollAttempts = 360
)

// PollOutcome is the reason a polling session ended.
type PollOutcome string

const (
	// PollOutcomeCompleted - backend reported the job completed.
	PollOutcomeCompleted PollOutcome = "completed"
	// PollOutcomeFailed - backend reported the job failed.
	PollOutcomeFailed PollOutcome = "failed"
	// PollOutcomeNotFound - backend has no record of the job id. A
	// silent terminal condition; stale handles are expected.
	PollOutcomeNotFound PollOutcome = "not_found"
	// PollOutcomeFetchError - a status fetch failed with something other
	// than not-found. The loop gives up and the error is surfaced.
	PollOutcomeFetchError PollOutcome = "fetch_error"
	// PollOutcomeTimeout - the attempt budget ran out. Not a job
	// failure: the backend job may still be running.
	PollOutcomeTimeout PollOutcome = "timeout"
	// PollOutcomeCanceled - the context was canceled (shutdown or a
	// newer poller replacing this one). Tracking may resume later.
	PollOutcomeCanceled PollOutcome = "canceled"
)

// Poller drives the status loop for one job. Ticks are chained: the
// interval starts after a fetch completes, so a slow fetch delays the
// next tick instead of stacking concurrent fetches. Snapshots therefore
// arrive in fetch order and out-of-order application cannot occur
// within one session.
type Poller struct {
	client      BackendClient
	logger      arbor.ILogger
	interval    time.Duration
	maxAttempts int
}

// NewPoller creates a poller with the given cadence and budget. Zero
// values fall back to the defaults.
func NewPoller(client BackendClient, logger arbor.ILogger, interval time.Duration, maxAttempts int) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxPollAttempts
	}
	return &Poller{
		client:      client,
		logger:      logger,
		interval:    interval,
		maxAttempts: maxAttempts,
	}
}

// Run polls the backend until a terminal state, the not-found case, a
// fetch error, budget exhaustion or context cancellation. Every fetched
// snapshot is handed to onStatus before the next tick is scheduled. The
// returned error is non-nil only for PollOutcomeFetchError.
func (p *Poller) Run(ctx context.Context, requestID string, scope models.OwnerScope, onStatus func(*models.JobStatus)) (PollOutcome, error) {
	timer := time.NewTimer(p.interval)
	defer timer.Stop()

	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		status, err := p.client.Status(ctx, requestID, scope.ProjectID)
		if err != nil {
			if ctx.Err() != nil {
				return PollOutcomeCanceled, nil
			}
			if errors.Is(err, models.ErrJobNotFound) {
				p.logger.Info().
					Str("request_id", requestID).
					Str("scope", scope.Key()).
					Msg("Backend has no record of tracked job - dropping stale handle")
				return PollOutcomeNotFound, nil
			}
			p.logger.Warn().
				Err(err).
				Str("request_id", requestID).
				Int("attempt", attempt).
				Msg("Status fetch failed - abandoning polling session")
			return PollOutcomeFetchError, err
		}

		onStatus(status)

		if status.Phase.IsTerminal() {
			p.logger.Info().
				Str("request_id", requestID).
				Str("phase", string(status.Phase)).
				Int("attempts", attempt).
				Msg("Reprocess job reached terminal state")
			if status.Phase == models.JobPhaseFailed {
				return PollOutcomeFailed, nil
			}
			return PollOutcomeCompleted, nil
		}

		// Chain the next tick only after this fetch completed.
		if attempt == p.maxAttempts {
			break
		}
		timer.Reset(p.interval)
		select {
		case <-ctx.Done():
			return PollOutcomeCanceled, nil
		case <-timer.C:
		}
	}

	p.logger.Warn().
		Str("request_id", requestID).
		Int("attempts", p.maxAttempts).
		Msg("Polling budget exhausted - job may still be running")
	return PollOutcomeTimeout, nil
}
