package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/notno/agentcom-hub/pkg/goal"
)

// submitGoalRequest is the JSON body for POST /api/goals.
type submitGoalRequest struct {
	Title           string         `json:"title" binding:"required"`
	Description     string         `json:"description" binding:"required"`
	Priority        int            `json:"priority"`
	SuccessCriteria []string       `json:"success_criteria"`
	Metadata        map[string]any `json:"metadata"`
}

func (s *Server) submitGoalHandler(c *gin.Context) {
	var req submitGoalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	g, err := s.goals.Create(goal.CreateParams{
		Title:           req.Title,
		Description:     req.Description,
		Priority:        req.Priority,
		SuccessCriteria: req.SuccessCriteria,
		Metadata:        req.Metadata,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, g)
}

func (s *Server) listGoalsHandler(c *gin.Context) {
	var filter goal.Filter
	if v := c.Query("status"); v != "" {
		filter.Status = goal.Status(v)
	}
	goals, err := s.goals.List(filter)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, goals)
}

func (s *Server) getGoalHandler(c *gin.Context) {
	g, err := s.goals.Get(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, g)
}

// transitionGoalRequest is the JSON body for PATCH /api/goals/:id.
type transitionGoalRequest struct {
	Status goal.Status `json:"status" binding:"required"`
	Reason string      `json:"reason"`
}

// transitionGoalHandler handles PATCH /api/goals/:id: the general-purpose
// status transition, validated against the same allowed-transitions
// table cancelGoalHandler uses for its one fixed edge.
func (s *Server) transitionGoalHandler(c *gin.Context) {
	var req transitionGoalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	g, err := s.goals.Transition(c.Param("id"), req.Status, req.Reason)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, g)
}

// cancelGoalHandler handles POST /api/goals/:id/cancel, an operator
// override available from submitted or executing (§4.8's
// allowed-transitions table).
func (s *Server) cancelGoalHandler(c *gin.Context) {
	g, err := s.goals.Transition(c.Param("id"), goal.StatusCancelled, "cancelled by operator")
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, g)
}
