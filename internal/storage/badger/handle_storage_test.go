package badger

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/calldeck/internal/interfaces"
	"github.com/ternarybob/calldeck/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

func newTestStorage(t *testing.T) interfaces.HandleStorage {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "badger-test")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.RemoveAll(tmpDir) })

	options := badgerhold.DefaultOptions
	options.Dir = tmpDir
	options.ValueDir = tmpDir

	store, err := badgerhold.Open(options)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	db := &BadgerDB{store: store}
	return NewHandleStorage(db, arbor.NewLogger())
}

func TestHandleStorage_SetAndGet(t *testing.T) {
	storage := newTestStorage(t)
	ctx := context.Background()

	scope := models.OwnerScope{ProjectID: "proj-1", AgentID: "agent-1"}
	handle := models.NewJobHandle(scope, "req-123")

	if err := storage.Set(ctx, handle); err != nil {
		t.Fatalf("Failed to set handle: %v", err)
	}

	got, err := storage.Get(ctx, scope)
	if err != nil {
		t.Fatalf("Failed to get handle: %v", err)
	}
	if got.RequestID != "req-123" {
		t.Errorf("Expected request id req-123, got %s", got.RequestID)
	}
	if got.Scope() != scope {
		t.Errorf("Expected scope round trip, got %+v", got.Scope())
	}
}

func TestHandleStorage_GetMissing(t *testing.T) {
	storage := newTestStorage(t)

	_, err := storage.Get(context.Background(), models.OwnerScope{ProjectID: "nope"})
	if !errors.Is(err, interfaces.ErrHandleNotFound) {
		t.Fatalf("Expected ErrHandleNotFound, got %v", err)
	}
}

func TestHandleStorage_SetOverwrites(t *testing.T) {
	storage := newTestStorage(t)
	ctx := context.Background()

	scope := models.OwnerScope{ProjectID: "proj-1"}
	if err := storage.Set(ctx, models.NewJobHandle(scope, "req-old")); err != nil {
		t.Fatal(err)
	}
	if err := storage.Set(ctx, models.NewJobHandle(scope, "req-new")); err != nil {
		t.Fatal(err)
	}

	got, err := storage.Get(ctx, scope)
	if err != nil {
		t.Fatal(err)
	}
	if got.RequestID != "req-new" {
		t.Errorf("Expected overwrite to win, got %s", got.RequestID)
	}

	// One handle per scope, never two
	handles, err := storage.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(handles) != 1 {
		t.Errorf("Expected a single handle for the scope, got %d", len(handles))
	}
}

func TestHandleStorage_SetIfAbsent(t *testing.T) {
	storage := newTestStorage(t)
	ctx := context.Background()

	scope := models.OwnerScope{ProjectID: "proj-1"}

	written, err := storage.SetIfAbsent(ctx, models.NewJobHandle(scope, "req-first"))
	if err != nil {
		t.Fatalf("First SetIfAbsent failed: %v", err)
	}
	if !written {
		t.Fatal("Expected first write to win")
	}

	written, err = storage.SetIfAbsent(ctx, models.NewJobHandle(scope, "req-second"))
	if err != nil {
		t.Fatalf("Second SetIfAbsent failed: %v", err)
	}
	if written {
		t.Error("Expected second write to lose")
	}

	got, err := storage.Get(ctx, scope)
	if err != nil {
		t.Fatal(err)
	}
	if got.RequestID != "req-first" {
		t.Errorf("Expected the first handle kept, got %s", got.RequestID)
	}
}

func TestHandleStorage_Clear(t *testing.T) {
	storage := newTestStorage(t)
	ctx := context.Background()

	scope := models.OwnerScope{ProjectID: "proj-1"}
	if err := storage.Set(ctx, models.NewJobHandle(scope, "req-123")); err != nil {
		t.Fatal(err)
	}

	if err := storage.Clear(ctx, scope); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if _, err := storage.Get(ctx, scope); !errors.Is(err, interfaces.ErrHandleNotFound) {
		t.Errorf("Expected handle gone after clear, got %v", err)
	}

	// Clearing an absent handle is not an error
	if err := storage.Clear(ctx, scope); err != nil {
		t.Errorf("Clearing an absent handle must succeed, got %v", err)
	}
}

func TestHandleStorage_List(t *testing.T) {
	storage := newTestStorage(t)
	ctx := context.Background()

	scopes := []models.OwnerScope{
		{ProjectID: "proj-1", AgentID: "agent-1"},
		{ProjectID: "proj-2"},
		{},
	}
	for i, scope := range scopes {
		if err := storage.Set(ctx, models.NewJobHandle(scope, "req-"+scope.Key())); err != nil {
			t.Fatalf("Failed to set handle %d: %v", i, err)
		}
	}

	handles, err := storage.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(handles) != len(scopes) {
		t.Errorf("Expected %d handles, got %d", len(scopes), len(handles))
	}
}

func TestHandleStorage_SurvivesReopen(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "badger-test")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(tmpDir)

	options := badgerhold.DefaultOptions
	options.Dir = tmpDir
	options.ValueDir = tmpDir

	logger := arbor.NewLogger()
	scope := models.OwnerScope{ProjectID: "proj-1"}
	ctx := context.Background()

	store, err := badgerhold.Open(options)
	if err != nil {
		t.Fatal(err)
	}
	storage := NewHandleStorage(&BadgerDB{store: store}, logger)
	if err := storage.Set(ctx, models.NewJobHandle(scope, "req-123")); err != nil {
		t.Fatal(err)
	}
	if err := store.Close(); err != nil {
		t.Fatal(err)
	}

	// Reopen: the handle must still be there
	store, err = badgerhold.Open(options)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	storage = NewHandleStorage(&BadgerDB{store: store}, logger)
	got, err := storage.Get(ctx, scope)
	if err != nil {
		t.Fatalf("Handle lost across reopen: %v", err)
	}
	if got.RequestID != "req-123" {
		t.Errorf("Expected request id req-123 after reopen, got %s", got.RequestID)
	}
}
