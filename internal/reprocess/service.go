package reprocess

import (
	"context"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/calldeck/internal/interfaces"
	"github.com/ternarybob/calldeck/internal/models"
)

// Service bundles the estimator and the tracker behind the single
// ReprocessService surface the handlers consume.
type Service struct {
	*Tracker
	estimator *Estimator
}

// NewService wires the reprocess core from its parts.
func NewService(client BackendClient, handles interfaces.HandleStorage, events interfaces.EventService, poller *Poller, logger arbor.ILogger) *Service {
	return &Service{
		Tracker:   NewTracker(client, handles, events, poller, logger),
		estimator: NewEstimator(client, logger),
	}
}

// Estimate implements interfaces.ReprocessService.
func (s *Service) Estimate(ctx context.Context, filters *models.ReprocessFilters) (*interfaces.EstimateResult, error) {
	return s.estimator.Estimate(ctx, filters)
}
