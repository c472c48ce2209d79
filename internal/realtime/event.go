// Package realtime provides a real-time event broadcasting system for
// operational visibility into the scheduler — run starts/finishes and
// approval workflow transitions pushed to any connected dashboard.
package realtime

import (
	"time"

	"github.com/google/uuid"
)

// Event represents a real-time event broadcast to subscribers.
type Event struct {
	// Type is the event type (run_started, run_finished, loader_approved, etc.)
	Type string `json:"type"`

	// ID is a unique event ID (UUID)
	ID string `json:"id"`

	// Data is the event payload (varies by event type)
	Data map[string]interface{} `json:"data"`

	// Timestamp is when the event occurred
	Timestamp time.Time `json:"timestamp"`

	// Source is the event source (scheduler, executor, configversioning, etc.)
	Source string `json:"source"`

	// Sequence is a sequence number for event ordering (monotonically increasing)
	Sequence int64 `json:"sequence"`
}

// EventType constants for the scheduler/approval event stream.
const (
	EventTypeRunStarted  = "run_started"
	EventTypeRunFinished = "run_finished"
	EventTypeRunFailed   = "run_failed"

	EventTypeBackfillFinished = "backfill_finished"

	EventTypeLoaderSubmitted = "loader_submitted"
	EventTypeLoaderApproved  = "loader_approved"
	EventTypeLoaderRejected  = "loader_rejected"
	EventTypeLoaderToggled   = "loader_toggled"

	EventTypeSystemNotification = "system_notification"
)

// EventSource constants.
const (
	EventSourceScheduler      = "scheduler"
	EventSourceExecutor       = "executor"
	EventSourceConfigVersions = "configversioning"
	EventSourceSystem         = "system"
)

// NewEvent creates a new Event with the given type, data, and source.
func NewEvent(eventType string, data map[string]interface{}, source string) *Event {
	return &Event{
		Type:      eventType,
		ID:        generateEventID(),
		Data:      data,
		Timestamp: time.Now(),
		Source:    source,
		Sequence:  0, // Will be set by EventBus
	}
}

// generateEventID generates a unique event ID (UUID).
func generateEventID() string {
	return uuid.New().String()
}
