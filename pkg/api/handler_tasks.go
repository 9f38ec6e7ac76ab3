package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/notno/agentcom-hub/pkg/classifier"
	"github.com/notno/agentcom-hub/pkg/task"
)

// submitTaskRequest is the JSON body for POST /api/tasks.
type submitTaskRequest struct {
	Description        string         `json:"description" binding:"required"`
	Priority            *int          `json:"priority"`
	NeededCapabilities  []string       `json:"needed_capabilities"`
	Metadata            map[string]any `json:"metadata"`
	MaxRetries          int            `json:"max_retries"`
	CompleteBy          *time.Time     `json:"complete_by"`
}

// submitTaskHandler handles POST /api/tasks.
func (s *Server) submitTaskHandler(c *gin.Context) {
	var req submitTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	priority := task.PriorityNormal
	if req.Priority != nil {
		priority = task.Priority(*req.Priority)
	}

	complexity := classifier.Classify(classifier.Input{
		Description:        req.Description,
		NeededCapabilities: req.NeededCapabilities,
		Metadata:           req.Metadata,
	})

	t, err := s.tasks.Submit(task.SubmitParams{
		Description:        req.Description,
		Priority:            priority,
		NeededCapabilities:  req.NeededCapabilities,
		Metadata:            req.Metadata,
		MaxRetries:          req.MaxRetries,
		CompleteBy:          req.CompleteBy,
		Complexity:          complexity,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, t)
}

// getTaskHandler handles GET /api/tasks/:id.
func (s *Server) getTaskHandler(c *gin.Context) {
	t, err := s.tasks.Get(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

// listTasksHandler handles GET /api/tasks?status=&priority=&assigned_to=.
func (s *Server) listTasksHandler(c *gin.Context) {
	var filter task.Filter
	if v := c.Query("status"); v != "" {
		filter.Status = task.Status(v)
	}
	if v := c.Query("priority"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid priority: " + v})
			return
		}
		priority := task.Priority(p)
		filter.Priority = &priority
	}
	filter.AssignedTo = c.Query("assigned_to")

	tasks, err := s.tasks.List(filter)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, tasks)
}

// taskStatsHandler handles GET /api/tasks/stats.
func (s *Server) taskStatsHandler(c *gin.Context) {
	stats, err := s.tasks.Stats()
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// listDeadLetterHandler handles GET /api/tasks/dead-letter.
func (s *Server) listDeadLetterHandler(c *gin.Context) {
	tasks, err := s.tasks.ListDeadLetter()
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, tasks)
}

// retryDeadLetterHandler handles POST /api/tasks/:id/retry.
func (s *Server) retryDeadLetterHandler(c *gin.Context) {
	t, err := s.tasks.RetryDeadLetter(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}
