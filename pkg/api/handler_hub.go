package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/notno/agentcom-hub/pkg/hubfsm"
)

func (s *Server) hubStateHandler(c *gin.Context) {
	c.JSON(http.StatusOK, s.hub.Snapshot())
}

// hubHistoryHandler handles GET /api/hub/history: the FSM's bounded
// transition ring buffer, already carried on Snapshot().History.
func (s *Server) hubHistoryHandler(c *gin.Context) {
	c.JSON(http.StatusOK, s.hub.Snapshot().History)
}

func (s *Server) hubPauseHandler(c *gin.Context) {
	s.hub.Pause()
	c.JSON(http.StatusOK, statusResponse{Status: "paused"})
}

func (s *Server) hubResumeHandler(c *gin.Context) {
	s.hub.Resume()
	c.JSON(http.StatusOK, statusResponse{Status: "resumed"})
}

type hubStopRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) hubStopHandler(c *gin.Context) {
	var req hubStopRequest
	_ = c.ShouldBindJSON(&req)
	if req.Reason == "" {
		req.Reason = "operator stop"
	}
	if err := s.hub.StopFSM(req.Reason); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.hub.Snapshot())
}

type forceTransitionRequest struct {
	State  hubfsm.State `json:"state" binding:"required"`
	Reason string       `json:"reason"`
}

func (s *Server) hubForceTransitionHandler(c *gin.Context) {
	var req forceTransitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	if req.Reason == "" {
		req.Reason = "operator override"
	}
	if err := s.hub.ForceTransition(req.State, req.Reason); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.hub.Snapshot())
}
