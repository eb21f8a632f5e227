package services

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"queue-system/config"
	"queue-system/internal/services/eventsink"
	"queue-system/internal/services/persist"
	"queue-system/internal/status"
	"queue-system/models"
	"queue-system/monitoring"
	"queue-system/utils"
)

// AdmissionEngine is the only component callers invoke. It wraps each
// QueueState with the per-queue locking discipline and with the
// persistence gateway and event sink calls.
//
// Operations on the same queue are linearized by a per-queue lock held
// for the full read-modify-write span. Lock acquisition is bounded: a
// caller that cannot get the lock within the configured wait receives
// QueueBusy instead of blocking the scheduler (or being blocked by it)
// indefinitely.
type AdmissionEngine struct {
	mu     sync.RWMutex
	queues map[string]*queueHandle

	gateway  persist.Gateway
	sink     eventsink.Sink
	monitor  *monitoring.Monitor
	clock    Clock
	lockWait time.Duration

	persistCh chan persistRequest
	breaker   *utils.CircuitBreaker
	retryWait time.Duration

	wg        sync.WaitGroup
	closed    chan struct{}
	closeOnce sync.Once
}

// queueHandle pairs a queue's state with its lock. The lock is a
// 1-buffered channel: holding the token is holding the lock, and a
// select with a timer gives the bounded wait a sync.Mutex cannot.
type queueHandle struct {
	id    string
	lock  chan struct{}
	state *QueueState
}

type persistRequest struct {
	queueID string
	rec     *models.SessionRecord
	from    models.SessionStatus
	to      models.SessionStatus
}

func NewAdmissionEngine(gateway persist.Gateway, sink eventsink.Sink, monitor *monitoring.Monitor, cfg *config.Config, clock Clock) *AdmissionEngine {
	e := &AdmissionEngine{
		queues:    make(map[string]*queueHandle),
		gateway:   gateway,
		sink:      sink,
		monitor:   monitor,
		clock:     clock,
		lockWait:  cfg.LockWaitTimeout,
		persistCh: make(chan persistRequest, cfg.PersistBufferSize),
		breaker:   utils.NewCircuitBreaker("persistence-gateway"),
		retryWait: cfg.PersistRetryPeriod,
		closed:    make(chan struct{}),
	}

	e.wg.Add(1)
	go e.persistLoop()

	return e
}

// RegisterQueue creates or updates a queue from its administrative
// definition. Config changes never evict sessions already admitted.
func (e *AdmissionEngine) RegisterQueue(ctx context.Context, cfg models.QueueConfig) error {
	e.mu.Lock()
	h, ok := e.queues[cfg.ID]
	if !ok {
		h = &queueHandle{
			id:    cfg.ID,
			lock:  make(chan struct{}, 1),
			state: NewQueueState(cfg, e.clock.Now()),
		}
		e.queues[cfg.ID] = h
		e.mu.Unlock()
	} else {
		e.mu.Unlock()
		if err := e.acquire(ctx, h); err != nil {
			return err
		}
		h.state.SetConfig(cfg)
		e.release(h)
	}

	if err := e.gateway.SaveQueueConfig(ctx, cfg); err != nil {
		slog.Warn("persist queue config failed", "queue_id", cfg.ID, "error", err)
	}
	return nil
}

// RehydrateQueue rebuilds a queue from the gateway's snapshot, replacing
// any in-memory state for that queue. Called once per queue at startup.
func (e *AdmissionEngine) RehydrateQueue(snap *models.QueueSnapshot) {
	h := &queueHandle{
		id:    snap.Config.ID,
		lock:  make(chan struct{}, 1),
		state: RestoreQueueState(snap, e.clock.Now()),
	}

	e.mu.Lock()
	e.queues[snap.Config.ID] = h
	e.mu.Unlock()

	e.monitor.SetQueueDepths(h.id, h.state.WaitingCount(), h.state.ServingCount())
	slog.Info("queue rehydrated",
		"queue_id", h.id,
		"waiting", h.state.WaitingCount(),
		"serving", h.state.ServingCount(),
	)
}

// RemoveQueue drops a queue's in-memory and durable state.
func (e *AdmissionEngine) RemoveQueue(ctx context.Context, queueID string) error {
	e.mu.Lock()
	_, ok := e.queues[queueID]
	delete(e.queues, queueID)
	e.mu.Unlock()

	if !ok {
		return status.QueueFailure(status.ErrQueueNotFound, queueID)
	}

	e.monitor.DropQueue(queueID)
	if err := e.gateway.DeleteQueue(ctx, queueID); err != nil {
		slog.Warn("delete persisted queue failed", "queue_id", queueID, "error", err)
	}
	return nil
}

// QueueIDs returns the registered queue IDs in a stable order.
func (e *AdmissionEngine) QueueIDs() []string {
	e.mu.RLock()
	ids := make([]string, 0, len(e.queues))
	for id := range e.queues {
		ids = append(ids, id)
	}
	e.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// Enqueue admits a user into a queue's waiting set.
func (e *AdmissionEngine) Enqueue(ctx context.Context, queueID, userID, metadata string) (*models.SessionRecord, error) {
	h, err := e.handle(queueID)
	if err != nil {
		e.monitor.TrackOperation("enqueue", queueID, outcomeLabel(err))
		return nil, err
	}
	if err := e.acquire(ctx, h); err != nil {
		e.monitor.TrackOperation("enqueue", queueID, outcomeLabel(err))
		return nil, err
	}

	rec, err := h.state.Admit(userID, metadata, e.clock.Now())
	var out *models.SessionRecord
	var waiting, serving int
	if err == nil {
		out = rec.Clone()
		waiting, serving = h.state.WaitingCount(), h.state.ServingCount()
		e.commit(queueID, out, "", models.StatusWaiting)
	}
	e.release(h)

	e.monitor.TrackOperation("enqueue", queueID, outcomeLabel(err))
	if err != nil {
		return nil, err
	}

	e.monitor.SetQueueDepths(queueID, waiting, serving)
	e.emit(ctx, eventsink.EventEnqueued, out)
	return out, nil
}

// Release pops up to count waiting sessions into Released. The capacity
// ceiling is enforced inside QueueState; the rate ceiling belongs to the
// caller (the scheduler, or an operator forcing a release).
func (e *AdmissionEngine) Release(ctx context.Context, queueID string, count int) ([]*models.SessionRecord, error) {
	h, err := e.handle(queueID)
	if err != nil {
		e.monitor.TrackOperation("release", queueID, outcomeLabel(err))
		return nil, err
	}
	if err := e.acquire(ctx, h); err != nil {
		e.monitor.TrackOperation("release", queueID, outcomeLabel(err))
		return nil, err
	}

	now := e.clock.Now()
	released := cloneAll(h.state.ReleaseNext(count, now))
	waiting, serving := h.state.WaitingCount(), h.state.ServingCount()
	for _, rec := range released {
		e.commit(queueID, rec, models.StatusWaiting, models.StatusReleased)
	}
	e.release(h)

	e.monitor.TrackOperation("release", queueID, "success")
	e.monitor.SetQueueDepths(queueID, waiting, serving)
	for _, rec := range released {
		e.monitor.TrackWaitDuration(queueID, now.Sub(rec.EnqueuedAt))
		e.emit(ctx, eventsink.EventReleased, rec)
	}
	if len(released) > 0 {
		e.monitor.TrackReleaseBatch(queueID, len(released))
	}
	return released, nil
}

// ReleaseDue performs one rate computation for a queue: how much release
// credit has accrued since lastReleaseAt, floored to whole sessions, with
// the fractional remainder left banked. lastReleaseAt advances only by
// the time actually spent (eligible / rate), so a rate that does not
// divide the tick interval still converges to rate*T over time.
func (e *AdmissionEngine) ReleaseDue(ctx context.Context, queueID string) ([]*models.SessionRecord, error) {
	h, err := e.handle(queueID)
	if err != nil {
		return nil, err
	}
	if err := e.acquire(ctx, h); err != nil {
		return nil, err
	}

	now := e.clock.Now()
	cfg := h.state.Config()
	if !cfg.IsActive || cfg.ReleaseRatePerMinute <= 0 {
		e.release(h)
		return nil, nil
	}

	elapsed := now.Sub(h.state.LastReleaseAt())
	eligible := int(cfg.ReleaseRatePerMinute * elapsed.Minutes())
	if eligible < 1 {
		e.release(h)
		return nil, nil
	}

	released := cloneAll(h.state.ReleaseNext(eligible, now))

	spent := time.Duration(float64(eligible) / cfg.ReleaseRatePerMinute * float64(time.Minute))
	next := h.state.LastReleaseAt().Add(spent)
	if next.After(now) {
		next = now
	}
	h.state.SetLastReleaseAt(next)

	waiting, serving := h.state.WaitingCount(), h.state.ServingCount()
	for _, rec := range released {
		e.commit(queueID, rec, models.StatusWaiting, models.StatusReleased)
	}
	e.release(h)

	e.monitor.SetQueueDepths(queueID, waiting, serving)
	for _, rec := range released {
		e.monitor.TrackWaitDuration(queueID, now.Sub(rec.EnqueuedAt))
		e.emit(ctx, eventsink.EventReleased, rec)
	}
	if len(released) > 0 {
		e.monitor.TrackOperation("release", queueID, "success")
		e.monitor.TrackReleaseBatch(queueID, len(released))
	}
	return released, nil
}

// MarkServing transitions a released session into Serving, claiming a
// capacity slot.
func (e *AdmissionEngine) MarkServing(ctx context.Context, queueID, sessionID string) (*models.SessionRecord, error) {
	rec, err := e.transition(ctx, "mark_serving", queueID, sessionID,
		func(st *QueueState, now time.Time) (*models.SessionRecord, models.SessionStatus, error) {
			rec, err := st.MarkServing(sessionID, now)
			return rec, models.StatusReleased, err
		})
	if err != nil {
		if errors.Is(err, status.ErrCapacityExceeded) {
			e.monitor.TrackCapacityRejection(queueID)
			slog.Warn("serving capacity recheck rejected session",
				"queue_id", queueID, "session_id", sessionID)
		}
		return nil, err
	}

	e.emit(ctx, eventsink.EventServing, rec)
	return rec, nil
}

// Complete transitions a serving session into Completed, freeing its
// capacity slot.
func (e *AdmissionEngine) Complete(ctx context.Context, queueID, sessionID string) (*models.SessionRecord, error) {
	rec, err := e.transition(ctx, "complete", queueID, sessionID,
		func(st *QueueState, now time.Time) (*models.SessionRecord, models.SessionStatus, error) {
			rec, err := st.Complete(sessionID, now)
			return rec, models.StatusServing, err
		})
	if err != nil {
		return nil, err
	}

	e.emit(ctx, eventsink.EventCompleted, rec)
	return rec, nil
}

// Leave abandons a waiting or released session (a participant walking
// away before being served).
func (e *AdmissionEngine) Leave(ctx context.Context, queueID, sessionID string) (*models.SessionRecord, error) {
	rec, err := e.transition(ctx, "leave", queueID, sessionID,
		func(st *QueueState, _ time.Time) (*models.SessionRecord, models.SessionStatus, error) {
			var from models.SessionStatus
			if cur, err := st.Session(sessionID); err == nil {
				from = cur.Status
			}
			rec, err := st.Abandon(sessionID)
			return rec, from, err
		})
	if err != nil {
		return nil, err
	}

	e.emit(ctx, eventsink.EventAbandoned, rec)
	return rec, nil
}

// GetPosition returns the 1-based waiting rank of a session.
func (e *AdmissionEngine) GetPosition(ctx context.Context, queueID, sessionID string) (int, error) {
	h, err := e.handle(queueID)
	if err != nil {
		return 0, err
	}
	if err := e.acquire(ctx, h); err != nil {
		return 0, err
	}
	pos, err := h.state.PositionOf(sessionID)
	e.release(h)
	return pos, err
}

// GetSession returns a copy of one session record.
func (e *AdmissionEngine) GetSession(ctx context.Context, queueID, sessionID string) (*models.SessionRecord, error) {
	h, err := e.handle(queueID)
	if err != nil {
		return nil, err
	}
	if err := e.acquire(ctx, h); err != nil {
		return nil, err
	}
	rec, err := h.state.Session(sessionID)
	if err == nil {
		rec = rec.Clone()
	}
	e.release(h)
	return rec, err
}

// Counters returns the read-side summary for one queue.
func (e *AdmissionEngine) Counters(ctx context.Context, queueID string) (models.QueueCounters, error) {
	h, err := e.handle(queueID)
	if err != nil {
		return models.QueueCounters{}, err
	}
	if err := e.acquire(ctx, h); err != nil {
		return models.QueueCounters{}, err
	}
	cfg := h.state.Config()
	counters := models.QueueCounters{
		QueueID:      queueID,
		Name:         cfg.Name,
		Waiting:      h.state.WaitingCount(),
		Serving:      h.state.ServingCount(),
		MaxServing:   cfg.MaxConcurrentUsers,
		IsActive:     cfg.IsActive,
		ReleasedOpen: h.state.ReleasedCount(),
	}
	e.release(h)
	return counters, nil
}

// ExpireReleased abandons sessions that have sat in Released longer than
// claimTimeout without claiming their slot, so a released user who
// walked away does not linger forever.
func (e *AdmissionEngine) ExpireReleased(ctx context.Context, queueID string, claimTimeout time.Duration) (int, error) {
	h, err := e.handle(queueID)
	if err != nil {
		return 0, err
	}
	if err := e.acquire(ctx, h); err != nil {
		return 0, err
	}

	cutoff := e.clock.Now().Add(-claimTimeout)
	var expired []*models.SessionRecord
	for _, rec := range h.state.ReleasedBefore(cutoff) {
		if abandoned, err := h.state.Abandon(rec.ID); err == nil {
			cp := abandoned.Clone()
			expired = append(expired, cp)
			e.commit(queueID, cp, models.StatusReleased, models.StatusAbandoned)
		}
	}
	e.release(h)

	for _, rec := range expired {
		e.monitor.TrackOperation("expire_released", queueID, "success")
		e.emit(ctx, eventsink.EventAbandoned, rec)
	}
	return len(expired), nil
}

// BroadcastPositions publishes throttled position updates for a queue's
// waiting sessions.
func (e *AdmissionEngine) BroadcastPositions(ctx context.Context, queueID string) error {
	h, err := e.handle(queueID)
	if err != nil {
		return err
	}
	if err := e.acquire(ctx, h); err != nil {
		return err
	}
	waiting := cloneAll(h.state.WaitingSessions())
	e.release(h)

	now := e.clock.Now()
	for i, rec := range waiting {
		position := i + 1
		if !shouldNotifyPosition(position) {
			continue
		}
		e.sink.Publish(ctx, eventsink.Event{
			QueueID:   queueID,
			SessionID: rec.ID,
			UserID:    rec.UserID,
			Type:      eventsink.EventPosition,
			Position:  position,
			Timestamp: now,
		})
	}
	return nil
}

// Close stops the engine's background persistence worker, draining any
// buffered writes first.
func (e *AdmissionEngine) Close() {
	e.closeOnce.Do(func() {
		close(e.closed)
	})
	e.wg.Wait()
}

// shouldNotifyPosition throttles position notifications: the closer to
// the front, the more often a participant hears about it.
func shouldNotifyPosition(position int) bool {
	switch {
	case position <= 5:
		return true
	case position <= 20:
		return position%2 == 0
	case position <= 100:
		return position%10 == 0
	}
	return position%50 == 0
}

// transition runs one session state change under the queue lock,
// enqueues the persist write before the lock drops so the write-behind
// log sees transitions in linearization order, and records the
// operation metric.
func (e *AdmissionEngine) transition(ctx context.Context, op, queueID, sessionID string,
	fn func(st *QueueState, now time.Time) (*models.SessionRecord, models.SessionStatus, error),
) (*models.SessionRecord, error) {
	h, err := e.handle(queueID)
	if err != nil {
		e.monitor.TrackOperation(op, queueID, outcomeLabel(err))
		return nil, err
	}
	if err := e.acquire(ctx, h); err != nil {
		e.monitor.TrackOperation(op, queueID, outcomeLabel(err))
		return nil, err
	}

	rec, from, err := fn(h.state, e.clock.Now())
	var out *models.SessionRecord
	var waiting, serving int
	if err == nil {
		out = rec.Clone()
		waiting, serving = h.state.WaitingCount(), h.state.ServingCount()
		e.commit(queueID, out, from, out.Status)
	}
	e.release(h)

	e.monitor.TrackOperation(op, queueID, outcomeLabel(err))
	if err != nil {
		return nil, err
	}
	e.monitor.SetQueueDepths(queueID, waiting, serving)
	return out, nil
}

func (e *AdmissionEngine) handle(queueID string) (*queueHandle, error) {
	e.mu.RLock()
	h, ok := e.queues[queueID]
	e.mu.RUnlock()
	if !ok {
		return nil, status.QueueFailure(status.ErrQueueNotFound, queueID)
	}
	return h, nil
}

// acquire takes a queue's lock with a bounded wait. Context cancellation
// only aborts while still waiting; once the lock is held the operation
// runs to completion so no partial mutation is ever visible.
func (e *AdmissionEngine) acquire(ctx context.Context, h *queueHandle) error {
	select {
	case h.lock <- struct{}{}:
		return nil
	default:
	}

	timer := time.NewTimer(e.lockWait)
	defer timer.Stop()
	select {
	case h.lock <- struct{}{}:
		return nil
	case <-timer.C:
		e.monitor.TrackLockTimeout(h.id)
		return status.QueueFailure(status.ErrQueueBusy, h.id)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *AdmissionEngine) release(h *queueHandle) {
	<-h.lock
}

// commit hands one committed mutation to the write-behind worker.
// Callers invoke it while still holding the queue lock, so the channel
// enqueue order is exactly the linearization order of the transitions
// it records; replay and the sessions mirror never see an inversion. A
// full buffer blocks the holder until the worker drains, which is the
// backpressure keeping the log order intact.
func (e *AdmissionEngine) commit(queueID string, rec *models.SessionRecord, from, to models.SessionStatus) {
	select {
	case e.persistCh <- persistRequest{queueID: queueID, rec: rec, from: from, to: to}:
	case <-e.closed:
		slog.Warn("engine closing, dropping persist write", "queue_id", queueID, "session_id", rec.ID)
	}
}

func (e *AdmissionEngine) emit(ctx context.Context, typ eventsink.EventType, rec *models.SessionRecord) {
	e.sink.Publish(ctx, eventsink.Event{
		QueueID:   rec.QueueID,
		SessionID: rec.ID,
		UserID:    rec.UserID,
		Type:      typ,
		Timestamp: e.clock.Now(),
	})
}

func (e *AdmissionEngine) persistLoop() {
	defer e.wg.Done()
	for {
		select {
		case req := <-e.persistCh:
			e.persistOne(req)
		case <-e.closed:
			for {
				select {
				case req := <-e.persistCh:
					e.persistOne(req)
				default:
					return
				}
			}
		}
	}
}

// persistOne writes a single mutation through the circuit breaker. A
// failed write is retried once after a pause and then dropped with an
// error log; the in-memory transition it records already succeeded and
// is never rolled back.
func (e *AdmissionEngine) persistOne(req persistRequest) {
	write := func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return e.gateway.AppendMutation(ctx, req.queueID, req.rec, req.from, req.to)
	}

	if err := e.breaker.Execute(write); err == nil {
		return
	}

	time.Sleep(e.retryWait)
	if err := e.breaker.Execute(write); err != nil {
		slog.Error("persist mutation dropped",
			"queue_id", req.queueID,
			"session_id", req.rec.ID,
			"to", string(req.to),
			"error", err,
		)
	}
}

func cloneAll(recs []*models.SessionRecord) []*models.SessionRecord {
	out := make([]*models.SessionRecord, len(recs))
	for i, rec := range recs {
		out[i] = rec.Clone()
	}
	return out
}

func outcomeLabel(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, status.ErrQueueNotFound):
		return "queue_not_found"
	case errors.Is(err, status.ErrSessionNotFound):
		return "session_not_found"
	case errors.Is(err, status.ErrQueueInactive):
		return "queue_inactive"
	case errors.Is(err, status.ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, status.ErrCapacityExceeded):
		return "capacity_exceeded"
	case errors.Is(err, status.ErrDuplicateActiveSession):
		return "duplicate_session"
	case errors.Is(err, status.ErrQueueBusy):
		return "busy"
	}
	return "error"
}
