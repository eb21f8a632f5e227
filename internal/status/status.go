package status

import (
	"errors"
	"fmt"
)

// Sentinel failure kinds for the admission engine. All of these are
// expected, recoverable-by-caller conditions, not process-fatal ones.
var (
	ErrQueueNotFound          = errors.New("queue: queue not found")
	ErrSessionNotFound        = errors.New("queue: session not found")
	ErrQueueInactive          = errors.New("queue: queue inactive")
	ErrInvalidTransition      = errors.New("queue: invalid session transition")
	ErrCapacityExceeded       = errors.New("queue: serving capacity exceeded")
	ErrDuplicateActiveSession = errors.New("queue: user already has an active session")
	ErrQueueBusy              = errors.New("queue: queue lock busy")
)

// Failure wraps a sentinel kind with the identifiers the caller needs to
// act on it. Front-ends switch on the kind with errors.Is instead of
// matching strings.
type Failure struct {
	Kind      error
	QueueID   string
	SessionID string
}

func (f *Failure) Error() string {
	switch {
	case f.SessionID != "":
		return fmt.Sprintf("%v (queue=%s session=%s)", f.Kind, f.QueueID, f.SessionID)
	case f.QueueID != "":
		return fmt.Sprintf("%v (queue=%s)", f.Kind, f.QueueID)
	}
	return f.Kind.Error()
}

func (f *Failure) Unwrap() error { return f.Kind }

// QueueFailure builds a Failure scoped to a queue.
func QueueFailure(kind error, queueID string) error {
	return &Failure{Kind: kind, QueueID: queueID}
}

// SessionFailure builds a Failure scoped to a session within a queue.
func SessionFailure(kind error, queueID, sessionID string) error {
	return &Failure{Kind: kind, QueueID: queueID, SessionID: sessionID}
}
