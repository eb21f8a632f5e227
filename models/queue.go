package models

import (
	"time"
)

// QueueSchedule is an optional wall-clock window during which a queue
// accepts new entries. Outside the window the queue behaves as inactive
// for enqueue purposes; members already waiting are preserved.
type QueueSchedule struct {
	OpensAt  time.Time `json:"opens_at"`
	ClosesAt time.Time `json:"closes_at"`
}

// Contains reports whether now falls inside the window. Zero bounds are
// treated as open-ended.
func (s *QueueSchedule) Contains(now time.Time) bool {
	if s == nil {
		return true
	}
	if !s.OpensAt.IsZero() && now.Before(s.OpensAt) {
		return false
	}
	if !s.ClosesAt.IsZero() && now.After(s.ClosesAt) {
		return false
	}
	return true
}

// QueueConfig is the administrative definition of one queue.
type QueueConfig struct {
	ID                   string         `json:"id"`
	Name                 string         `json:"name"`
	MaxConcurrentUsers   int            `json:"max_concurrent_users"`
	ReleaseRatePerMinute float64        `json:"release_rate_per_minute"`
	IsActive             bool           `json:"is_active"`
	Schedule             *QueueSchedule `json:"schedule,omitempty"`
}

// QueueSnapshot is the durable copy of one queue exchanged with the
// persistence gateway: its config plus every retained session record.
// The waiting order is reconstructed on load by sorting on SequenceNumber.
type QueueSnapshot struct {
	Config             QueueConfig      `json:"config"`
	Sessions           []*SessionRecord `json:"sessions"`
	NextSequenceNumber uint64           `json:"next_sequence_number"`
}

// QueueCounters is the read-side summary exposed to handlers and the
// admin dashboard.
type QueueCounters struct {
	QueueID      string `json:"queue_id"`
	Name         string `json:"name"`
	Waiting      int    `json:"waiting"`
	Serving      int    `json:"serving"`
	MaxServing   int    `json:"max_serving"`
	IsActive     bool   `json:"is_active"`
	ReleasedOpen int    `json:"released_open"`
}

// MergeResult reports the outcome of moving waiting sessions between
// two queues. Completed is false when the merge stopped early; Moved
// sessions stay moved either way (the merge is per-session, not atomic
// across the batch). Reference is an operator-facing code for matching
// the API response against audit log lines.
type MergeResult struct {
	SourceID      string        `json:"source_id"`
	DestinationID string        `json:"destination_id"`
	Reference     string        `json:"reference"`
	Moved         int           `json:"moved"`
	Duration      time.Duration `json:"duration"`
	Completed     bool          `json:"completed"`
}
