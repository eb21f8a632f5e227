package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"queue-system/internal/status"
	"queue-system/models"
)

func testQueueConfig() models.QueueConfig {
	return models.QueueConfig{
		ID:                   "main-event",
		Name:                 "Main Event",
		MaxConcurrentUsers:   3,
		ReleaseRatePerMinute: 60,
		IsActive:             true,
	}
}

func TestQueueState_AdmitAssignsGaplessSequence(t *testing.T) {
	now := time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)
	qs := NewQueueState(testQueueConfig(), now)

	for i := 0; i < 5; i++ {
		rec, err := qs.Admit(userN(i), "", now)
		require.NoError(t, err)
		assert.Equal(t, uint64(i), rec.SequenceNumber)
		assert.Equal(t, models.StatusWaiting, rec.Status)
	}
	assert.Equal(t, 5, qs.WaitingCount())
}

func TestQueueState_AdmitRejectsDuplicateActiveUser(t *testing.T) {
	now := time.Now()
	qs := NewQueueState(testQueueConfig(), now)

	first, err := qs.Admit("alice", "", now)
	require.NoError(t, err)

	_, err = qs.Admit("alice", "", now)
	require.ErrorIs(t, err, status.ErrDuplicateActiveSession)

	// The failure names the existing session so the client can resume it.
	var failure *status.Failure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, first.ID, failure.SessionID)

	// Once the first session ends the user may re-enter.
	_, err = qs.Abandon(first.ID)
	require.NoError(t, err)
	_, err = qs.Admit("alice", "", now)
	assert.NoError(t, err)
}

func TestQueueState_AdmitRejectsInactiveQueue(t *testing.T) {
	now := time.Now()
	cfg := testQueueConfig()
	cfg.IsActive = false
	qs := NewQueueState(cfg, now)

	_, err := qs.Admit("alice", "", now)
	assert.ErrorIs(t, err, status.ErrQueueInactive)
}

func TestQueueState_AdmitRespectsSchedule(t *testing.T) {
	opens := time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)
	cfg := testQueueConfig()
	cfg.Schedule = &models.QueueSchedule{OpensAt: opens, ClosesAt: opens.Add(8 * time.Hour)}
	qs := NewQueueState(cfg, opens)

	_, err := qs.Admit("early", "", opens.Add(-time.Minute))
	assert.ErrorIs(t, err, status.ErrQueueInactive)

	_, err = qs.Admit("on-time", "", opens.Add(time.Hour))
	assert.NoError(t, err)
}

func TestQueueState_ReleaseNextIsFIFOAndCapped(t *testing.T) {
	now := time.Now()
	qs := NewQueueState(testQueueConfig(), now)

	var admitted []*models.SessionRecord
	for i := 0; i < 6; i++ {
		rec, err := qs.Admit(userN(i), "", now)
		require.NoError(t, err)
		admitted = append(admitted, rec)
	}

	// MaxConcurrentUsers is 3, so asking for 10 releases only 3.
	released := qs.ReleaseNext(10, now)
	require.Len(t, released, 3)
	for i, rec := range released {
		assert.Equal(t, admitted[i].ID, rec.ID, "release order must follow admission order")
		assert.Equal(t, models.StatusReleased, rec.Status)
		require.NotNil(t, rec.ReleasedAt)
	}
	assert.Equal(t, 3, qs.WaitingCount())

	// Released sessions do not occupy serving slots, so headroom is still
	// full until someone claims a slot.
	assert.Equal(t, 0, qs.ServingCount())
	again := qs.ReleaseNext(10, now)
	assert.Len(t, again, 3)
	assert.Equal(t, 0, qs.WaitingCount())
}

func TestQueueState_ReleaseNextHeadroomShrinksWithServing(t *testing.T) {
	now := time.Now()
	qs := NewQueueState(testQueueConfig(), now)
	for i := 0; i < 5; i++ {
		_, err := qs.Admit(userN(i), "", now)
		require.NoError(t, err)
	}

	released := qs.ReleaseNext(2, now)
	require.Len(t, released, 2)
	for _, rec := range released {
		_, err := qs.MarkServing(rec.ID, now)
		require.NoError(t, err)
	}
	require.Equal(t, 2, qs.ServingCount())

	// Only one serving slot remains, so only one more release comes out.
	released = qs.ReleaseNext(10, now)
	assert.Len(t, released, 1)
}

func TestQueueState_MarkServingEnforcesCapacity(t *testing.T) {
	now := time.Now()
	cfg := testQueueConfig()
	cfg.MaxConcurrentUsers = 1
	qs := NewQueueState(cfg, now)

	a, err := qs.Admit("alice", "", now)
	require.NoError(t, err)
	b, err := qs.Admit("bob", "", now)
	require.NoError(t, err)

	released := qs.ReleaseNext(1, now)
	require.Len(t, released, 1)
	require.Equal(t, a.ID, released[0].ID)

	_, err = qs.MarkServing(a.ID, now)
	require.NoError(t, err)
	assert.Equal(t, 1, qs.ServingCount())

	// Release b through a temporary capacity bump, then restore the
	// ceiling. The recheck at MarkServing is the last gate.
	bigger := cfg
	bigger.MaxConcurrentUsers = 2
	qs.SetConfig(bigger)
	require.Len(t, qs.ReleaseNext(1, now), 1)
	qs.SetConfig(cfg)

	_, err = qs.MarkServing(b.ID, now)
	assert.ErrorIs(t, err, status.ErrCapacityExceeded)
	assert.Equal(t, 1, qs.ServingCount())

	// The rejected session stays Released and can claim later.
	rec, err := qs.Session(b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusReleased, rec.Status)
}

func TestQueueState_MarkServingRejectsWaitingSession(t *testing.T) {
	now := time.Now()
	qs := NewQueueState(testQueueConfig(), now)

	rec, err := qs.Admit("alice", "", now)
	require.NoError(t, err)

	_, err = qs.MarkServing(rec.ID, now)
	assert.ErrorIs(t, err, status.ErrInvalidTransition)
}

func TestQueueState_CompleteFreesSlot(t *testing.T) {
	now := time.Now()
	qs := NewQueueState(testQueueConfig(), now)

	rec, err := qs.Admit("alice", "", now)
	require.NoError(t, err)
	require.Len(t, qs.ReleaseNext(1, now), 1)
	_, err = qs.MarkServing(rec.ID, now)
	require.NoError(t, err)
	require.Equal(t, 1, qs.ServingCount())

	done, err := qs.Complete(rec.ID, now)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, done.Status)
	require.NotNil(t, done.CompletedAt)
	assert.Equal(t, 0, qs.ServingCount())

	// Completing twice is an invalid transition, not a silent no-op.
	_, err = qs.Complete(rec.ID, now)
	assert.ErrorIs(t, err, status.ErrInvalidTransition)
}

func TestQueueState_AbandonRemovesFromWaitingOrder(t *testing.T) {
	now := time.Now()
	qs := NewQueueState(testQueueConfig(), now)

	a, _ := qs.Admit("alice", "", now)
	b, _ := qs.Admit("bob", "", now)
	c, _ := qs.Admit("carol", "", now)

	_, err := qs.Abandon(b.ID)
	require.NoError(t, err)

	// Positions compact around the gap.
	pos, err := qs.PositionOf(a.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, pos)
	pos, err = qs.PositionOf(c.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, pos)

	_, err = qs.PositionOf(b.ID)
	assert.ErrorIs(t, err, status.ErrInvalidTransition)
}

func TestQueueState_AbandonServingIsInvalid(t *testing.T) {
	now := time.Now()
	qs := NewQueueState(testQueueConfig(), now)

	rec, _ := qs.Admit("alice", "", now)
	qs.ReleaseNext(1, now)
	_, err := qs.MarkServing(rec.ID, now)
	require.NoError(t, err)

	_, err = qs.Abandon(rec.ID)
	assert.ErrorIs(t, err, status.ErrInvalidTransition)
}

func TestQueueState_PositionOfUnknownSession(t *testing.T) {
	qs := NewQueueState(testQueueConfig(), time.Now())
	_, err := qs.PositionOf("nope")
	assert.ErrorIs(t, err, status.ErrSessionNotFound)
}

func TestQueueState_ReleasedBefore(t *testing.T) {
	base := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	qs := NewQueueState(testQueueConfig(), base)

	a, _ := qs.Admit("alice", "", base)
	b, _ := qs.Admit("bob", "", base)
	require.Len(t, qs.ReleaseNext(1, base), 1)
	require.Len(t, qs.ReleaseNext(1, base.Add(10*time.Minute)), 1)

	stale := qs.ReleasedBefore(base.Add(5 * time.Minute))
	require.Len(t, stale, 1)
	assert.Equal(t, a.ID, stale[0].ID)

	stale = qs.ReleasedBefore(base.Add(time.Hour))
	require.Len(t, stale, 2)
	assert.Equal(t, a.ID, stale[0].ID)
	assert.Equal(t, b.ID, stale[1].ID)
}

func TestRestoreQueueState_RebuildsOrderAndCounters(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	qs := NewQueueState(testQueueConfig(), now)

	a, _ := qs.Admit("alice", "", now)
	b, _ := qs.Admit("bob", "", now)
	c, _ := qs.Admit("carol", "", now)
	qs.ReleaseNext(1, now)
	_, err := qs.MarkServing(a.ID, now)
	require.NoError(t, err)

	snap := qs.Snapshot()

	// Shuffle the snapshot's session order; the restore must not depend
	// on it.
	snap.Sessions[0], snap.Sessions[2] = snap.Sessions[2], snap.Sessions[0]

	restored := RestoreQueueState(snap, now.Add(time.Minute))
	assert.Equal(t, 2, restored.WaitingCount())
	assert.Equal(t, 1, restored.ServingCount())

	pos, err := restored.PositionOf(b.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, pos)
	pos, err = restored.PositionOf(c.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, pos)

	// Sequence numbering continues past the highest restored value.
	next, err := restored.Admit("dave", "", now.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, uint64(3), next.SequenceNumber)

	// Restored users still hold their duplicate guard.
	_, err = restored.Admit("bob", "", now.Add(time.Minute))
	assert.ErrorIs(t, err, status.ErrDuplicateActiveSession)
}

func userN(i int) string {
	return string(rune('a'+i)) + "-user"
}
