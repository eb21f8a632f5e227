package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func allStatuses() []SessionStatus {
	return []SessionStatus{
		StatusWaiting,
		StatusReleased,
		StatusServing,
		StatusCompleted,
		StatusAbandoned,
	}
}

func TestCanTransition_FullStateMachine(t *testing.T) {
	legal := map[SessionStatus]map[SessionStatus]bool{
		StatusWaiting:  {StatusReleased: true, StatusAbandoned: true},
		StatusReleased: {StatusServing: true, StatusAbandoned: true},
		StatusServing:  {StatusCompleted: true},
	}

	// Every (from, to) pair either matches the table above or is rejected.
	for _, from := range allStatuses() {
		for _, to := range allStatuses() {
			expected := legal[from][to]
			assert.Equal(t, expected, CanTransition(from, to),
				"transition %s -> %s", from, to)
		}
	}
}

func TestCanTransition_TerminalStatesHaveNoExits(t *testing.T) {
	for _, terminal := range []SessionStatus{StatusCompleted, StatusAbandoned} {
		require.True(t, terminal.IsTerminal())
		for _, to := range allStatuses() {
			assert.False(t, CanTransition(terminal, to),
				"terminal state %s must not transition to %s", terminal, to)
		}
	}
}

func TestCanTransition_UnknownStatus(t *testing.T) {
	assert.False(t, CanTransition(SessionStatus("bogus"), StatusWaiting))
	assert.False(t, CanTransition(StatusWaiting, SessionStatus("bogus")))
}

func TestSessionStatus_IsValid(t *testing.T) {
	for _, s := range allStatuses() {
		assert.True(t, s.IsValid(), "%s should be valid", s)
	}
	assert.False(t, SessionStatus("expired").IsValid())
	assert.False(t, SessionStatus("").IsValid())
}

func TestSessionStatus_IsTerminal(t *testing.T) {
	assert.False(t, StatusWaiting.IsTerminal())
	assert.False(t, StatusReleased.IsTerminal())
	assert.False(t, StatusServing.IsTerminal())
	assert.True(t, StatusCompleted.IsTerminal())
	assert.True(t, StatusAbandoned.IsTerminal())
}

func TestSessionRecord_Clone(t *testing.T) {
	released := time.Date(2026, 3, 1, 10, 30, 0, 0, time.UTC)
	rec := &SessionRecord{
		ID:             "sess-1",
		QueueID:        "queue-1",
		UserID:         "user-1",
		EnqueuedAt:     released.Add(-time.Minute),
		SequenceNumber: 42,
		Status:         StatusReleased,
		ReleasedAt:     &released,
		Metadata:       `{"tier":"gold"}`,
	}

	cp := rec.Clone()
	require.Equal(t, rec, cp)

	// Mutating the clone must not reach back into the original.
	cp.Status = StatusServing
	*cp.ReleasedAt = cp.ReleasedAt.Add(time.Hour)
	assert.Equal(t, StatusReleased, rec.Status)
	assert.Equal(t, released, *rec.ReleasedAt)
}

func TestSessionRecord_IsActive(t *testing.T) {
	rec := &SessionRecord{Status: StatusWaiting}
	assert.True(t, rec.IsActive())

	rec.Status = StatusServing
	assert.True(t, rec.IsActive())

	rec.Status = StatusCompleted
	assert.False(t, rec.IsActive())

	rec.Status = StatusAbandoned
	assert.False(t, rec.IsActive())
}
