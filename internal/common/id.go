package common

import (
	"github.com/google/uuid"
)

// NewEventID generates a unique event ID with the "evt_" prefix
// Format: evt_<uuid>
func NewEventID() string {
	return "evt_" + uuid.New().String()
}

// NewInstanceID generates a unique server instance ID. Dashboard clients
// use it to detect server restarts across WebSocket reconnects.
func NewInstanceID() string {
	return uuid.New().String()
}
