package services

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"queue-system/config"
)

// ReleaseScheduler drives the Waiting -> Released transitions at each
// queue's configured pace, independent of caller traffic. It owns three
// background loops: the release ticker, the position broadcaster, and
// the released-entry reaper.
//
// Every loop fans out across queues through a bounded worker pool, and a
// slow or failing queue is logged and isolated so it cannot stall the
// others.
type ReleaseScheduler struct {
	engine *AdmissionEngine

	tickInterval     time.Duration
	positionInterval time.Duration
	reaperInterval   time.Duration
	claimTimeout     time.Duration
	maxWorkers       int

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewReleaseScheduler(engine *AdmissionEngine, cfg *config.Config) *ReleaseScheduler {
	workers := cfg.MaxSchedulerWorkers
	if workers < 1 {
		workers = 1
	}
	return &ReleaseScheduler{
		engine:           engine,
		tickInterval:     cfg.SchedulerTickInterval,
		positionInterval: cfg.PositionUpdateInterval,
		reaperInterval:   cfg.ReaperInterval,
		claimTimeout:     cfg.ReleaseClaimTimeout,
		maxWorkers:       workers,
		stopChan:         make(chan struct{}),
	}
}

// Start launches the background loops. It returns immediately.
func (s *ReleaseScheduler) Start(ctx context.Context) {
	s.wg.Add(3)
	go s.loop(ctx, "release", s.tickInterval, s.Tick)
	go s.loop(ctx, "positions", s.positionInterval, s.BroadcastPositions)
	go s.loop(ctx, "reaper", s.reaperInterval, s.ReapReleased)

	slog.Info("release scheduler started",
		"tick", s.tickInterval,
		"position_update", s.positionInterval,
		"reaper", s.reaperInterval,
		"workers", s.maxWorkers,
	)
}

func (s *ReleaseScheduler) loop(ctx context.Context, name string, interval time.Duration, pass func(context.Context)) {
	defer s.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			pass(ctx)
		case <-s.stopChan:
			slog.Info("scheduler loop stopping", "loop", name)
			return
		case <-ctx.Done():
			slog.Info("scheduler loop stopping", "loop", name)
			return
		}
	}
}

// Tick runs one release pass over every queue. Exported so tests can
// step the scheduler against a fake clock without waiting on the ticker.
func (s *ReleaseScheduler) Tick(ctx context.Context) {
	s.forEachQueue(ctx, func(ctx context.Context, queueID string) {
		released, err := s.engine.ReleaseDue(ctx, queueID)
		if err != nil {
			slog.Warn("release tick failed for queue", "queue_id", queueID, "error", err)
			return
		}
		if len(released) > 0 {
			slog.Info("released waiting sessions", "queue_id", queueID, "count", len(released))
		}
	})
}

// BroadcastPositions runs one position-notification pass.
func (s *ReleaseScheduler) BroadcastPositions(ctx context.Context) {
	s.forEachQueue(ctx, func(ctx context.Context, queueID string) {
		if err := s.engine.BroadcastPositions(ctx, queueID); err != nil {
			slog.Warn("position broadcast failed for queue", "queue_id", queueID, "error", err)
		}
	})
}

// ReapReleased runs one pass abandoning released sessions that never
// claimed their slot inside the claim timeout.
func (s *ReleaseScheduler) ReapReleased(ctx context.Context) {
	s.forEachQueue(ctx, func(ctx context.Context, queueID string) {
		expired, err := s.engine.ExpireReleased(ctx, queueID, s.claimTimeout)
		if err != nil {
			slog.Warn("release reaper failed for queue", "queue_id", queueID, "error", err)
			return
		}
		if expired > 0 {
			slog.Info("reaped unclaimed released sessions", "queue_id", queueID, "count", expired)
		}
	})
}

// forEachQueue fans a pass out over all queues through the bounded
// worker pool and waits for the pass to finish.
func (s *ReleaseScheduler) forEachQueue(ctx context.Context, fn func(context.Context, string)) {
	sem := make(chan struct{}, s.maxWorkers)
	var wg sync.WaitGroup

	for _, queueID := range s.engine.QueueIDs() {
		wg.Add(1)
		sem <- struct{}{}
		go func(queueID string) {
			defer wg.Done()
			defer func() { <-sem }()
			fn(ctx, queueID)
		}(queueID)
	}
	wg.Wait()
}

// Shutdown stops the loops and waits for in-flight passes, bounded so a
// wedged queue cannot hang process exit.
func (s *ReleaseScheduler) Shutdown() {
	s.stopOnce.Do(func() {
		close(s.stopChan)
	})

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("release scheduler stopped")
	case <-time.After(30 * time.Second):
		slog.Warn("timeout waiting for scheduler loops to stop")
	}
}
