package models

import (
	"time"
)

// SessionStatus is the lifecycle state of one participant in one queue.
type SessionStatus string

const (
	StatusWaiting   SessionStatus = "waiting"
	StatusReleased  SessionStatus = "released"
	StatusServing   SessionStatus = "serving"
	StatusCompleted SessionStatus = "completed"
	StatusAbandoned SessionStatus = "abandoned"
)

// allowedTransitions is the full state machine. Anything not listed here
// is an invalid transition, checked, never silently accepted.
var allowedTransitions = map[SessionStatus][]SessionStatus{
	StatusWaiting:   {StatusReleased, StatusAbandoned},
	StatusReleased:  {StatusServing, StatusAbandoned},
	StatusServing:   {StatusCompleted},
	StatusCompleted: {},
	StatusAbandoned: {},
}

// CanTransition reports whether from -> to is a legal state machine edge.
func CanTransition(from, to SessionStatus) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func (s SessionStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusAbandoned
}

func (s SessionStatus) IsValid() bool {
	_, ok := allowedTransitions[s]
	return ok
}

// SessionRecord is one participant's membership in a queue.
//
// SequenceNumber is the authoritative FIFO ordering key; EnqueuedAt is
// advisory only (two enqueues can land on the same millisecond).
type SessionRecord struct {
	ID             string        `json:"id"`
	QueueID        string        `json:"queue_id"`
	UserID         string        `json:"user_id"`
	EnqueuedAt     time.Time     `json:"enqueued_at"`
	SequenceNumber uint64        `json:"sequence_number"`
	Status         SessionStatus `json:"status"`
	ReleasedAt     *time.Time    `json:"released_at,omitempty"`
	ServedAt       *time.Time    `json:"served_at,omitempty"`
	CompletedAt    *time.Time    `json:"completed_at,omitempty"`
	Metadata       string        `json:"metadata,omitempty"`
}

func (r *SessionRecord) IsActive() bool {
	return !r.Status.IsTerminal()
}

// Clone returns a copy safe to hand outside the queue lock.
func (r *SessionRecord) Clone() *SessionRecord {
	cp := *r
	if r.ReleasedAt != nil {
		t := *r.ReleasedAt
		cp.ReleasedAt = &t
	}
	if r.ServedAt != nil {
		t := *r.ServedAt
		cp.ServedAt = &t
	}
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}
