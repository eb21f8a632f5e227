package handlers

import (
	"net/http"

	"github.com/pocketbase/pocketbase"
	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"

	"queue-system/models"
	"queue-system/services"
)

type AdminHandler struct {
	app    *pocketbase.PocketBase
	engine *services.AdmissionEngine
}

func NewAdminHandler(app *pocketbase.PocketBase, engine *services.AdmissionEngine) *AdminHandler {
	return &AdminHandler{
		app:    app,
		engine: engine,
	}
}

// GetQueueDashboard - counters for every registered queue
func (h *AdminHandler) GetQueueDashboard(e *core.RequestEvent) error {
	ctx := e.Request.Context()

	queues := make([]models.QueueCounters, 0)
	for _, queueID := range h.engine.QueueIDs() {
		counters, err := h.engine.Counters(ctx, queueID)
		if err != nil {
			// A busy queue should not blank the whole dashboard.
			continue
		}
		queues = append(queues, counters)
	}

	return e.JSON(http.StatusOK, map[string]any{"queues": queues})
}

// ForceRelease - operator releasing the next N waiting sessions,
// bypassing the rate (the capacity ceiling still holds)
func (h *AdminHandler) ForceRelease(e *core.RequestEvent) error {
	var req struct {
		QueueID string `json:"queue_id"`
		Count   int    `json:"count"`
	}
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}
	if req.Count <= 0 {
		req.Count = 1
	}

	released, err := h.engine.Release(e.Request.Context(), req.QueueID, req.Count)
	if err != nil {
		return apiError(err)
	}

	return e.JSON(http.StatusOK, map[string]any{
		"released": released,
		"count":    len(released),
	})
}

// MergeQueues - move waiting sessions from one queue into another
func (h *AdminHandler) MergeQueues(e *core.RequestEvent) error {
	var req struct {
		SourceID      string `json:"source_id"`
		DestinationID string `json:"destination_id"`
		MaxToMove     int    `json:"max_to_move"`
	}
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}
	if req.SourceID == "" || req.DestinationID == "" {
		return apis.NewBadRequestError("source_id and destination_id are required", nil)
	}

	result, err := h.engine.MergeQueues(e.Request.Context(), req.SourceID, req.DestinationID, req.MaxToMove)
	if err != nil {
		return apiError(err)
	}

	return e.JSON(http.StatusOK, result)
}

// RemoveFromQueue - operator abandoning a session on a user's behalf
func (h *AdminHandler) RemoveFromQueue(e *core.RequestEvent) error {
	var req struct {
		QueueID   string `json:"queue_id"`
		SessionID string `json:"session_id"`
	}
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}

	rec, err := h.engine.Leave(e.Request.Context(), req.QueueID, req.SessionID)
	if err != nil {
		return apiError(err)
	}

	return e.JSON(http.StatusOK, map[string]any{"session": rec})
}
