package reprocess

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/calldeck/internal/interfaces"
)

// Sweeper periodically resolves stored handles that have no live
// polling session against backend truth. It catches handles left behind
// by a previous process run or by a poller that died mid-session;
// scopes already being polled are skipped.
type Sweeper struct {
	tracker *Tracker
	handles interfaces.HandleStorage
	cron    *cron.Cron
	logger  arbor.ILogger

	mu       sync.Mutex
	running  bool
	sweeping bool
}

// NewSweeper creates a handle reconciliation sweeper.
func NewSweeper(tracker *Tracker, handles interfaces.HandleStorage, logger arbor.ILogger) *Sweeper {
	return &Sweeper{
		tracker: tracker,
		handles: handles,
		cron:    cron.New(),
		logger:  logger,
	}
}

// Start schedules the sweep on the given cron expression.
func (s *Sweeper) Start(schedule string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("sweeper already running")
	}

	if schedule == "" {
		schedule = "@every 2m"
	}

	if _, err := s.cron.AddFunc(schedule, s.sweep); err != nil {
		return fmt.Errorf("failed to schedule handle sweep: %w", err)
	}

	s.cron.Start()
	s.running = true

	s.logger.Info().Str("schedule", schedule).Msg("Handle reconciliation sweeper started")
	return nil
}

// Stop halts the sweep schedule and waits for an in-flight sweep.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	ctx := s.cron.Stop()
	<-ctx.Done()

	s.logger.Info().Msg("Handle reconciliation sweeper stopped")
}

// sweep reconciles every handle without a live poller. Overlapping
// sweeps are collapsed to one.
func (s *Sweeper) sweep() {
	s.mu.Lock()
	if s.sweeping {
		s.mu.Unlock()
		return
	}
	s.sweeping = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.sweeping = false
		s.mu.Unlock()
	}()

	ctx := context.Background()

	handles, err := s.handles.List(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Handle sweep failed to list handles")
		return
	}

	swept := 0
	for i := range handles {
		scope := handles[i].Scope()
		if s.tracker.HasLivePoller(scope) {
			continue
		}

		if _, err := s.tracker.Reconcile(ctx, scope); err != nil {
			s.logger.Warn().Err(err).Str("scope", scope.Key()).Msg("Handle sweep reconciliation failed")
			continue
		}
		swept++
	}

	if swept > 0 {
		s.logger.Debug().Int("handles", swept).Msg("Handle sweep reconciled orphaned handles")
	}
}
