package interfaces

import (
	"context"
	"errors"

	"github.com/ternarybob/calldeck/internal/models"
)

// ErrHandleNotFound is returned when no handle exists for a scope key.
var ErrHandleNotFound = errors.New("job handle not found")

// HandleStorage is the durable store of job handles, keyed by owner
// scope. It holds at most one handle per scope - Set overwrites, it
// never appends. The store is a client reminder only; the source of
// truth for whether a job exists is always the backend status endpoint.
type HandleStorage interface {
	// Get returns the handle for a scope, or ErrHandleNotFound.
	Get(ctx context.Context, scope models.OwnerScope) (*models.JobHandle, error)

	// Set stores or overwrites the handle for its scope.
	Set(ctx context.Context, handle *models.JobHandle) error

	// SetIfAbsent stores the handle only when no handle exists for the
	// scope. Returns false when a handle was already present.
	SetIfAbsent(ctx context.Context, handle *models.JobHandle) (bool, error)

	// Clear removes the handle for a scope. Clearing an absent handle
	// is not an error.
	Clear(ctx context.Context, scope models.OwnerScope) error

	// List returns all stored handles.
	List(ctx context.Context) ([]models.JobHandle, error)
}
