package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/notno/agentcom-hub/pkg/agent"
	"github.com/notno/agentcom-hub/pkg/endpoint"
	"github.com/notno/agentcom-hub/pkg/goal"
	"github.com/notno/agentcom-hub/pkg/hubfsm"
	"github.com/notno/agentcom-hub/pkg/storage"
	"github.com/notno/agentcom-hub/pkg/task"
)

// writeError maps a component-layer error to an HTTP status and writes
// the JSON error body, the gin equivalent of mapServiceError.
func writeError(c *gin.Context, err error) {
	status, msg := classifyError(err)
	if status == http.StatusInternalServerError {
		slog.Error("api: unexpected error", "error", err)
		msg = "internal server error"
	}
	c.JSON(status, errorResponse{Error: msg})
}

func classifyError(err error) (int, string) {
	switch {
	case errors.Is(err, task.ErrNotFound), errors.Is(err, agent.ErrNotFound),
		errors.Is(err, endpoint.ErrNotFound), errors.Is(err, goal.ErrNotFound),
		errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound, "resource not found"

	case errors.Is(err, task.ErrInvalidState), errors.Is(err, agent.ErrInvalidState),
		errors.Is(err, goal.ErrInvalidTransition), errors.Is(err, hubfsm.ErrInvalidTransition):
		return http.StatusConflict, err.Error()

	case errors.Is(err, task.ErrStaleGeneration), errors.Is(err, agent.ErrGenerationMismatch):
		return http.StatusConflict, "stale generation"

	case errors.Is(err, task.ErrEmpty):
		return http.StatusNotFound, "no queued tasks"

	case errors.Is(err, endpoint.ErrAlreadyRegistered):
		return http.StatusConflict, "resource already exists"

	case errors.Is(err, agent.ErrNoCapacity):
		return http.StatusConflict, "agent is not idle"

	default:
		return http.StatusInternalServerError, "internal server error"
	}
}
