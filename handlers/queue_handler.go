package handlers

import (
	"log/slog"
	"net/http"

	"github.com/pocketbase/pocketbase"
	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"

	"queue-system/services"
)

type QueueHandler struct {
	app    *pocketbase.PocketBase
	engine *services.AdmissionEngine
}

func NewQueueHandler(app *pocketbase.PocketBase, engine *services.AdmissionEngine) *QueueHandler {
	return &QueueHandler{
		app:    app,
		engine: engine,
	}
}

// EnterQueue - admit a user into a queue's waiting set
func (h *QueueHandler) EnterQueue(e *core.RequestEvent) error {
	var req struct {
		QueueID  string `json:"queue_id"`
		UserID   string `json:"user_id"`
		Metadata string `json:"metadata"`
	}
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}
	if req.QueueID == "" || req.UserID == "" {
		return apis.NewBadRequestError("queue_id and user_id are required", nil)
	}

	rec, err := h.engine.Enqueue(e.Request.Context(), req.QueueID, req.UserID, req.Metadata)
	if err != nil {
		return apiError(err)
	}

	position, err := h.engine.GetPosition(e.Request.Context(), req.QueueID, rec.ID)
	if err != nil {
		slog.Warn("position lookup after enqueue failed", "queue_id", req.QueueID, "session_id", rec.ID, "error", err)
		position = 0
	}

	return e.JSON(http.StatusOK, map[string]any{
		"session":  rec,
		"position": position,
	})
}

// LeaveQueue - abandon a waiting or released session
func (h *QueueHandler) LeaveQueue(e *core.RequestEvent) error {
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

// GetQueuePosition - current 1-based rank of a waiting session
func (h *QueueHandler) GetQueuePosition(e *core.RequestEvent) error {
	queueID := e.Request.URL.Query().Get("queue_id")
	sessionID := e.Request.URL.Query().Get("session_id")
	if queueID == "" || sessionID == "" {
		return apis.NewBadRequestError("queue_id and session_id are required", nil)
	}

	ctx := e.Request.Context()
	rec, err := h.engine.GetSession(ctx, queueID, sessionID)
	if err != nil {
		return apiError(err)
	}

	response := map[string]any{
		"session_id": rec.ID,
		"status":     rec.Status,
	}
	if position, err := h.engine.GetPosition(ctx, queueID, sessionID); err == nil {
		response["position"] = position
	}
	if counters, err := h.engine.Counters(ctx, queueID); err == nil {
		response["total_waiting"] = counters.Waiting
	}

	return e.JSON(http.StatusOK, response)
}

// ClaimSlot - a released user claiming their serving slot
func (h *QueueHandler) ClaimSlot(e *core.RequestEvent) error {
	var req struct {
		QueueID   string `json:"queue_id"`
		SessionID string `json:"session_id"`
	}
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}

	rec, err := h.engine.MarkServing(e.Request.Context(), req.QueueID, req.SessionID)
	if err != nil {
		return apiError(err)
	}

	return e.JSON(http.StatusOK, map[string]any{"session": rec})
}

// CompleteSession - finish a serving session, freeing its slot
func (h *QueueHandler) CompleteSession(e *core.RequestEvent) error {
	var req struct {
		QueueID   string `json:"queue_id"`
		SessionID string `json:"session_id"`
	}
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}

	rec, err := h.engine.Complete(e.Request.Context(), req.QueueID, req.SessionID)
	if err != nil {
		return apiError(err)
	}

	return e.JSON(http.StatusOK, map[string]any{"session": rec})
}

// GetQueueMetrics - queue counters for one queue
func (h *QueueHandler) GetQueueMetrics(e *core.RequestEvent) error {
	queueID := e.Request.URL.Query().Get("queue_id")
	if queueID == "" {
		return apis.NewBadRequestError("queue_id is required", nil)
	}

	counters, err := h.engine.Counters(e.Request.Context(), queueID)
	if err != nil {
		return apiError(err)
	}

	return e.JSON(http.StatusOK, counters)
}
