package badger

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/calldeck/internal/interfaces"
	"github.com/ternarybob/calldeck/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// HandleStorage implements the HandleStorage interface for Badger.
// One JobHandle record per scope key; handles survive process restarts
// so a running job can be picked up again after a redeploy.
type HandleStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewHandleStorage creates a new HandleStorage instance
func NewHandleStorage(db *BadgerDB, logger arbor.ILogger) interfaces.HandleStorage {
	return &HandleStorage{
		db:     db,
		logger: logger,
	}
}

// Get retrieves the handle for a scope
func (s *HandleStorage) Get(ctx context.Context, scope models.OwnerScope) (*models.JobHandle, error) {
	var handle models.JobHandle
	err := s.db.Store().Get(scope.Key(), &handle)
	if err == badgerhold.ErrNotFound {
		return nil, interfaces.ErrHandleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job handle: %w", err)
	}

	return &handle, nil
}

// Set stores or overwrites the handle for its scope
func (s *HandleStorage) Set(ctx context.Context, handle *models.JobHandle) error {
	if handle.Key == "" {
		return fmt.Errorf("handle key cannot be empty")
	}

	if err := s.db.Store().Upsert(handle.Key, handle); err != nil {
		return fmt.Errorf("failed to set job handle: %w", err)
	}

	s.logger.Debug().
		Str("scope", handle.Key).
		Str("request_id", handle.RequestID).
		Msg("Stored job handle")
	return nil
}

// SetIfAbsent stores the handle only when no handle exists for the scope.
// Insert runs inside a single badger transaction, so concurrent callers
// cannot both win the write for the same scope.
func (s *HandleStorage) SetIfAbsent(ctx context.Context, handle *models.JobHandle) (bool, error) {
	if handle.Key == "" {
		return false, fmt.Errorf("handle key cannot be empty")
	}

	err := s.db.Store().Insert(handle.Key, handle)
	if err == badgerhold.ErrKeyExists {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to insert job handle: %w", err)
	}

	s.logger.Debug().
		Str("scope", handle.Key).
		Str("request_id", handle.RequestID).
		Msg("Stored job handle")
	return true, nil
}

// Clear removes the handle for a scope
func (s *HandleStorage) Clear(ctx context.Context, scope models.OwnerScope) error {
	err := s.db.Store().Delete(scope.Key(), &models.JobHandle{})
	if err == badgerhold.ErrNotFound {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to clear job handle: %w", err)
	}

	s.logger.Debug().Str("scope", scope.Key()).Msg("Cleared job handle")
	return nil
}

// List returns all stored handles
func (s *HandleStorage) List(ctx context.Context) ([]models.JobHandle, error) {
	var handles []models.JobHandle
	if err := s.db.Store().Find(&handles, nil); err != nil {
		return nil, fmt.Errorf("failed to list job handles: %w", err)
	}

	return handles, nil
}
