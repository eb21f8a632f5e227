package eventsink

import (
	"context"
	"time"
)

// EventType identifies a session lifecycle notification.
type EventType string

const (
	EventEnqueued  EventType = "enqueued"
	EventReleased  EventType = "released"
	EventServing   EventType = "serving"
	EventCompleted EventType = "completed"
	EventAbandoned EventType = "abandoned"
	EventPosition  EventType = "queue_position"
)

// Event is one notification handed to the downstream delivery layer.
type Event struct {
	QueueID   string    `json:"queue_id"`
	SessionID string    `json:"session_id"`
	UserID    string    `json:"user_id"`
	Type      EventType `json:"type"`
	Position  int       `json:"position,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Sink receives engine events for downstream delivery. Publish is
// fire-and-forget: it must never block or fail the engine operation that
// produced the event. Adapters log their own delivery errors.
type Sink interface {
	Publish(ctx context.Context, ev Event)
	Close()
}
