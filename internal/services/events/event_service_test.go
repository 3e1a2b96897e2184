package events

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/calldeck/internal/interfaces"
)

func TestSubscribe_NilHandlerRejected(t *testing.T) {
	service := NewService(arbor.NewLogger())

	if err := service.Subscribe(interfaces.EventReprocessStarted, nil); err == nil {
		t.Fatal("Expected an error for a nil handler")
	}
}

func TestPublish_DeliversToSubscribers(t *testing.T) {
	service := NewService(arbor.NewLogger())

	var delivered atomic.Int32
	handler := func(ctx context.Context, event interfaces.Event) error {
		delivered.Add(1)
		return nil
	}

	if err := service.Subscribe(interfaces.EventReprocessProgress, handler); err != nil {
		t.Fatal(err)
	}
	if err := service.Subscribe(interfaces.EventReprocessProgress, handler); err != nil {
		t.Fatal(err)
	}

	if err := service.Publish(context.Background(), interfaces.Event{Type: interfaces.EventReprocessProgress}); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(time.Second)
	for delivered.Load() != 2 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if delivered.Load() != 2 {
		t.Errorf("Expected 2 deliveries, got %d", delivered.Load())
	}
}

func TestPublish_IgnoresOtherEventTypes(t *testing.T) {
	service := NewService(arbor.NewLogger())

	var delivered atomic.Int32
	if err := service.Subscribe(interfaces.EventReprocessCompleted, func(ctx context.Context, event interfaces.Event) error {
		delivered.Add(1)
		return nil
	}); err != nil {
		t.Fatal(err)
	}

	if err := service.PublishSync(context.Background(), interfaces.Event{Type: interfaces.EventReprocessFailed}); err != nil {
		t.Fatal(err)
	}
	if delivered.Load() != 0 {
		t.Errorf("Expected no deliveries for a different event type, got %d", delivered.Load())
	}
}

func TestPublishSync_SurfacesHandlerError(t *testing.T) {
	service := NewService(arbor.NewLogger())

	boom := errors.New("handler exploded")
	if err := service.Subscribe(interfaces.EventReprocessFailed, func(ctx context.Context, event interfaces.Event) error {
		return boom
	}); err != nil {
		t.Fatal(err)
	}

	err := service.PublishSync(context.Background(), interfaces.Event{Type: interfaces.EventReprocessFailed})
	if err == nil {
		t.Fatal("Expected handler error to surface")
	}
	if !errors.Is(err, boom) {
		t.Errorf("Expected wrapped handler error, got %v", err)
	}
}

func TestPublishSync_PayloadReachesHandler(t *testing.T) {
	service := NewService(arbor.NewLogger())

	var got interface{}
	if err := service.Subscribe(interfaces.EventReprocessStarted, func(ctx context.Context, event interfaces.Event) error {
		got = event.Payload
		return nil
	}); err != nil {
		t.Fatal(err)
	}

	if err := service.PublishSync(context.Background(), interfaces.Event{
		Type:    interfaces.EventReprocessStarted,
		Payload: "req-1",
	}); err != nil {
		t.Fatal(err)
	}

	if got != "req-1" {
		t.Errorf("Expected payload req-1, got %v", got)
	}
}
