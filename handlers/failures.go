package handlers

import (
	"errors"

	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/tools/router"

	"queue-system/internal/status"
)

// apiError translates the engine's typed failures into protocol errors,
// so clients can branch on status codes instead of matching strings.
func apiError(err error) *router.ApiError {
	switch {
	case errors.Is(err, status.ErrQueueNotFound):
		return apis.NewNotFoundError("Queue not found", err)
	case errors.Is(err, status.ErrSessionNotFound):
		return apis.NewNotFoundError("Session not found", err)
	case errors.Is(err, status.ErrQueueInactive):
		return apis.NewApiError(409, "Queue is not accepting entries", err)
	case errors.Is(err, status.ErrInvalidTransition):
		return apis.NewApiError(409, "Session is not in a state that allows this action", err)
	case errors.Is(err, status.ErrCapacityExceeded):
		return apis.NewApiError(409, "Queue is at serving capacity", err)
	case errors.Is(err, status.ErrDuplicateActiveSession):
		return apis.NewApiError(409, "User already has an active session in this queue", err)
	case errors.Is(err, status.ErrQueueBusy):
		return apis.NewApiError(503, "Queue is busy, retry shortly", err)
	}
	return apis.NewBadRequestError("Request failed", err)
}
