package services

import (
	"context"
	"fmt"
	"log/slog"

	"queue-system/internal/services/eventsink"
	"queue-system/models"
	"queue-system/utils"
)

// MergeQueues moves up to maxToMove waiting sessions (everything when
// maxToMove <= 0) from the source queue into the destination, preserving
// their relative order. Each moved session is abandoned at the source and
// re-admitted at the destination with a fresh sequence number, so moved
// users line up behind the destination's existing waiters rather than
// jumping ahead of them. The original EnqueuedAt is carried over for
// audit only.
//
// Both queue locks are taken in lexicographic queue-ID order, the same
// order every two-queue operation uses, so two merges running in opposite
// directions cannot deadlock. The merge is per-session, not atomic across
// the batch: if the destination stops accepting mid-merge, already-moved
// sessions stay moved and the result reports the committed count.
func (e *AdmissionEngine) MergeQueues(ctx context.Context, sourceID, destinationID string, maxToMove int) (models.MergeResult, error) {
	result := models.MergeResult{SourceID: sourceID, DestinationID: destinationID}
	if code, err := utils.GenerateCode(4); err == nil {
		result.Reference = code
	}

	if sourceID == destinationID {
		return result, fmt.Errorf("cannot merge queue %s into itself", sourceID)
	}

	src, err := e.handle(sourceID)
	if err != nil {
		return result, err
	}
	dst, err := e.handle(destinationID)
	if err != nil {
		return result, err
	}

	first, second := src, dst
	if second.id < first.id {
		first, second = second, first
	}
	if err := e.acquire(ctx, first); err != nil {
		return result, err
	}
	if err := e.acquire(ctx, second); err != nil {
		e.release(first)
		return result, err
	}

	start := e.clock.Now()
	waiting := src.state.WaitingSessions()
	if maxToMove <= 0 || maxToMove > len(waiting) {
		maxToMove = len(waiting)
	}

	type movedPair struct {
		old *models.SessionRecord
		new *models.SessionRecord
	}
	var moved []movedPair
	completed := true

	for i := 0; i < maxToMove; i++ {
		rec := waiting[i]

		// Admit at the destination before abandoning at the source: if
		// the destination rejects (inactive, duplicate user), the
		// session stays waiting at the source and the merge stops.
		newRec, err := dst.state.admitAt(rec.UserID, rec.Metadata, start, rec.EnqueuedAt)
		if err != nil {
			slog.Warn("queue merge stopped early",
				"reference", result.Reference,
				"source", sourceID,
				"destination", destinationID,
				"moved", len(moved),
				"error", err,
			)
			completed = false
			break
		}
		old, err := src.state.Abandon(rec.ID)
		if err != nil {
			// Cannot happen for a session still in the waiting order;
			// treated as a stop rather than a panic to keep the tick
			// alive.
			completed = false
			break
		}
		moved = append(moved, movedPair{old: old.Clone(), new: newRec.Clone()})
	}

	srcWaiting, srcServing := src.state.WaitingCount(), src.state.ServingCount()
	dstWaiting, dstServing := dst.state.WaitingCount(), dst.state.ServingCount()
	for _, pair := range moved {
		e.commit(sourceID, pair.old, models.StatusWaiting, models.StatusAbandoned)
		e.commit(destinationID, pair.new, "", models.StatusWaiting)
	}
	e.release(second)
	e.release(first)

	e.monitor.SetQueueDepths(sourceID, srcWaiting, srcServing)
	e.monitor.SetQueueDepths(destinationID, dstWaiting, dstServing)
	e.monitor.TrackOperation("merge", sourceID, outcomeForMerge(completed))

	for _, pair := range moved {
		e.emit(ctx, eventsink.EventAbandoned, pair.old)
		e.emit(ctx, eventsink.EventEnqueued, pair.new)
	}

	result.Moved = len(moved)
	result.Duration = e.clock.Now().Sub(start)
	result.Completed = completed
	return result, nil
}

func outcomeForMerge(completed bool) string {
	if completed {
		return "success"
	}
	return "partial"
}
