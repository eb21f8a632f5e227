package services

import (
	"sort"
	"time"

	"queue-system/internal/status"
	"queue-system/models"
	"queue-system/utils"
)

// QueueState is the in-memory authoritative state for a single queue: the
// ordered waiting set, the session records, the serving count and the
// release bookkeeping.
//
// QueueState is NOT safe for concurrent use. Every method assumes the
// caller holds the queue's lock; the locking discipline lives in
// AdmissionEngine.
type QueueState struct {
	cfg      models.QueueConfig
	sessions map[string]*models.SessionRecord

	// waiting holds session IDs in FIFO order by sequence number;
	// waitingRank maps session ID to its index in waiting.
	waiting     []string
	waitingRank map[string]int

	// activeByUser maps a user identifier to their one non-terminal
	// session, enforcing the duplicate-session policy.
	activeByUser map[string]string

	serving       int
	nextSeq       uint64
	lastReleaseAt time.Time
}

// NewQueueState creates the state for an administratively defined queue.
func NewQueueState(cfg models.QueueConfig, now time.Time) *QueueState {
	return &QueueState{
		cfg:           cfg,
		sessions:      make(map[string]*models.SessionRecord),
		waitingRank:   make(map[string]int),
		activeByUser:  make(map[string]string),
		lastReleaseAt: now,
	}
}

// RestoreQueueState rebuilds a queue from a persisted snapshot. The
// waiting order is reconstructed by sorting waiting sessions on their
// sequence number, which is the authoritative total order.
func RestoreQueueState(snap *models.QueueSnapshot, now time.Time) *QueueState {
	qs := NewQueueState(snap.Config, now)
	qs.nextSeq = snap.NextSequenceNumber

	var waiting []*models.SessionRecord
	for _, rec := range snap.Sessions {
		cp := rec.Clone()
		qs.sessions[cp.ID] = cp
		if cp.SequenceNumber >= qs.nextSeq {
			qs.nextSeq = cp.SequenceNumber + 1
		}
		if cp.IsActive() {
			qs.activeByUser[cp.UserID] = cp.ID
		}
		switch cp.Status {
		case models.StatusWaiting:
			waiting = append(waiting, cp)
		case models.StatusServing:
			qs.serving++
		}
	}

	sort.Slice(waiting, func(i, j int) bool {
		return waiting[i].SequenceNumber < waiting[j].SequenceNumber
	})
	for _, rec := range waiting {
		qs.waitingRank[rec.ID] = len(qs.waiting)
		qs.waiting = append(qs.waiting, rec.ID)
	}
	return qs
}

func (qs *QueueState) Config() models.QueueConfig { return qs.cfg }

// SetConfig applies an administrative update. Capacity and rate changes
// take effect on the next release computation; they never evict sessions
// already serving.
func (qs *QueueState) SetConfig(cfg models.QueueConfig) { qs.cfg = cfg }

func (qs *QueueState) WaitingCount() int { return len(qs.waiting) }

func (qs *QueueState) ServingCount() int { return qs.serving }

func (qs *QueueState) LastReleaseAt() time.Time { return qs.lastReleaseAt }

func (qs *QueueState) SetLastReleaseAt(t time.Time) { qs.lastReleaseAt = t }

// Session returns the live record for id, or a SessionNotFound failure.
func (qs *QueueState) Session(id string) (*models.SessionRecord, error) {
	rec, ok := qs.sessions[id]
	if !ok {
		return nil, status.SessionFailure(status.ErrSessionNotFound, qs.cfg.ID, id)
	}
	return rec, nil
}

// Admit enters a user into the waiting set. Fails with QueueInactive when
// the queue is disabled or outside its schedule window, and with
// DuplicateActiveSession when the user already holds a non-terminal
// session here.
func (qs *QueueState) Admit(userID, metadata string, now time.Time) (*models.SessionRecord, error) {
	return qs.admitAt(userID, metadata, now, now)
}

// admitAt is Admit with a caller-supplied EnqueuedAt stamp. Queue merges
// use it to preserve the original admission time for audit while still
// assigning a fresh, destination-local sequence number.
func (qs *QueueState) admitAt(userID, metadata string, now, enqueuedAt time.Time) (*models.SessionRecord, error) {
	if !qs.cfg.IsActive || !qs.cfg.Schedule.Contains(now) {
		return nil, status.QueueFailure(status.ErrQueueInactive, qs.cfg.ID)
	}
	if sid, ok := qs.activeByUser[userID]; ok {
		return nil, status.SessionFailure(status.ErrDuplicateActiveSession, qs.cfg.ID, sid)
	}

	rec := &models.SessionRecord{
		ID:             utils.NewSessionID(),
		QueueID:        qs.cfg.ID,
		UserID:         userID,
		EnqueuedAt:     enqueuedAt,
		SequenceNumber: qs.nextSeq,
		Status:         models.StatusWaiting,
		Metadata:       metadata,
	}
	qs.nextSeq++

	qs.sessions[rec.ID] = rec
	qs.activeByUser[userID] = rec.ID
	qs.waitingRank[rec.ID] = len(qs.waiting)
	qs.waiting = append(qs.waiting, rec.ID)
	return rec, nil
}

// ReleaseNext pops up to count entries off the front of the waiting set
// and marks them Released. The serving capacity ceiling is hard: never
// more than MaxConcurrentUsers - servingCount entries come out, whatever
// count the caller asked for. servingCount itself only moves on the
// explicit Serving transition.
func (qs *QueueState) ReleaseNext(count int, now time.Time) []*models.SessionRecord {
	headroom := qs.cfg.MaxConcurrentUsers - qs.serving
	if count > headroom {
		count = headroom
	}
	if count > len(qs.waiting) {
		count = len(qs.waiting)
	}
	if count <= 0 {
		return nil
	}

	released := make([]*models.SessionRecord, 0, count)
	for i := 0; i < count; i++ {
		rec := qs.sessions[qs.waiting[i]]
		rec.Status = models.StatusReleased
		t := now
		rec.ReleasedAt = &t
		released = append(released, rec)
		delete(qs.waitingRank, rec.ID)
	}
	qs.waiting = qs.waiting[count:]
	qs.reindexWaiting()
	return released
}

// MarkServing transitions Released -> Serving and claims a capacity slot.
// The capacity recheck here is deliberate: two release ticks racing each
// other can hand out more releases than slots, and this is the last gate.
func (qs *QueueState) MarkServing(id string, now time.Time) (*models.SessionRecord, error) {
	rec, err := qs.Session(id)
	if err != nil {
		return nil, err
	}
	if !models.CanTransition(rec.Status, models.StatusServing) {
		return nil, status.SessionFailure(status.ErrInvalidTransition, qs.cfg.ID, id)
	}
	if qs.serving >= qs.cfg.MaxConcurrentUsers {
		return nil, status.SessionFailure(status.ErrCapacityExceeded, qs.cfg.ID, id)
	}
	rec.Status = models.StatusServing
	t := now
	rec.ServedAt = &t
	qs.serving++
	return rec, nil
}

// Complete transitions Serving -> Completed and frees the capacity slot.
func (qs *QueueState) Complete(id string, now time.Time) (*models.SessionRecord, error) {
	rec, err := qs.Session(id)
	if err != nil {
		return nil, err
	}
	if !models.CanTransition(rec.Status, models.StatusCompleted) {
		return nil, status.SessionFailure(status.ErrInvalidTransition, qs.cfg.ID, id)
	}
	rec.Status = models.StatusCompleted
	t := now
	rec.CompletedAt = &t
	qs.serving--
	delete(qs.activeByUser, rec.UserID)
	return rec, nil
}

// Abandon transitions Waiting|Released -> Abandoned (a participant
// leaving before being served) and removes the entry from the waiting
// order when present.
func (qs *QueueState) Abandon(id string) (*models.SessionRecord, error) {
	rec, err := qs.Session(id)
	if err != nil {
		return nil, err
	}
	if !models.CanTransition(rec.Status, models.StatusAbandoned) {
		return nil, status.SessionFailure(status.ErrInvalidTransition, qs.cfg.ID, id)
	}
	if rec.Status == models.StatusWaiting {
		qs.removeWaiting(id)
	}
	rec.Status = models.StatusAbandoned
	delete(qs.activeByUser, rec.UserID)
	return rec, nil
}

// PositionOf returns the 1-based rank of a waiting session.
func (qs *QueueState) PositionOf(id string) (int, error) {
	if rank, ok := qs.waitingRank[id]; ok {
		return rank + 1, nil
	}
	if _, ok := qs.sessions[id]; ok {
		// Known session that is no longer waiting has no rank.
		return 0, status.SessionFailure(status.ErrInvalidTransition, qs.cfg.ID, id)
	}
	return 0, status.SessionFailure(status.ErrSessionNotFound, qs.cfg.ID, id)
}

// ReleasedBefore returns sessions still sitting in Released whose release
// stamp is older than the cutoff. The reaper abandons them so a released
// user who walked away cannot hold the queue's attention forever.
func (qs *QueueState) ReleasedBefore(cutoff time.Time) []*models.SessionRecord {
	var stale []*models.SessionRecord
	for _, rec := range qs.sessions {
		if rec.Status == models.StatusReleased && rec.ReleasedAt != nil && rec.ReleasedAt.Before(cutoff) {
			stale = append(stale, rec)
		}
	}
	sort.Slice(stale, func(i, j int) bool {
		return stale[i].SequenceNumber < stale[j].SequenceNumber
	})
	return stale
}

// ReleasedCount reports how many sessions are in Released and have not
// yet claimed a serving slot.
func (qs *QueueState) ReleasedCount() int {
	n := 0
	for _, rec := range qs.sessions {
		if rec.Status == models.StatusReleased {
			n++
		}
	}
	return n
}

// WaitingSessions returns the waiting records front to back.
func (qs *QueueState) WaitingSessions() []*models.SessionRecord {
	out := make([]*models.SessionRecord, 0, len(qs.waiting))
	for _, id := range qs.waiting {
		out = append(out, qs.sessions[id])
	}
	return out
}

// Snapshot copies the queue into its durable representation.
func (qs *QueueState) Snapshot() *models.QueueSnapshot {
	snap := &models.QueueSnapshot{
		Config:             qs.cfg,
		NextSequenceNumber: qs.nextSeq,
		Sessions:           make([]*models.SessionRecord, 0, len(qs.sessions)),
	}
	for _, rec := range qs.sessions {
		snap.Sessions = append(snap.Sessions, rec.Clone())
	}
	sort.Slice(snap.Sessions, func(i, j int) bool {
		return snap.Sessions[i].SequenceNumber < snap.Sessions[j].SequenceNumber
	})
	return snap
}

func (qs *QueueState) removeWaiting(id string) {
	rank, ok := qs.waitingRank[id]
	if !ok {
		return
	}
	qs.waiting = append(qs.waiting[:rank], qs.waiting[rank+1:]...)
	delete(qs.waitingRank, id)
	qs.reindexWaiting()
}

func (qs *QueueState) reindexWaiting() {
	for i, id := range qs.waiting {
		qs.waitingRank[id] = i
	}
}
