package interfaces

import "context"

// EventType represents different event types in the system
type EventType string

const (
	EventReprocessStarted   EventType = "reprocess_started"
	EventReprocessProgress  EventType = "reprocess_progress"
	EventReprocessCompleted EventType = "reprocess_completed"
	EventReprocessFailed    EventType = "reprocess_failed"
	// EventReprocessFetchError - status tracking broke down; distinct
	// from a backend-reported job failure, which the job may not have.
	EventReprocessFetchError EventType = "reprocess_fetch_error"
	EventReprocessTimeout    EventType = "reprocess_timeout"
)

// Event represents a system event
type Event struct {
	Type    EventType
	Payload interface{}
}

// EventHandler is a function that handles events
type EventHandler func(ctx context.Context, event Event) error

// EventService manages the in-process pub/sub event bus
type EventService interface {
	// Subscribe to an event type
	Subscribe(eventType EventType, handler EventHandler) error

	// Publish an event to all subscribers asynchronously
	Publish(ctx context.Context, event Event) error

	// PublishSync publishes an event and waits for all handlers to complete
	PublishSync(ctx context.Context, event Event) error
}
