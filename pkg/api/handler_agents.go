package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/notno/agentcom-hub/pkg/agent"
)

// listAgentsHandler handles GET /api/agents.
func (s *Server) listAgentsHandler(c *gin.Context) {
	c.JSON(http.StatusOK, s.agents.List())
}

// getAgentHandler handles GET /api/agents/:id.
func (s *Server) getAgentHandler(c *gin.Context) {
	a, ok := s.agents.Get(c.Param("id"))
	if !ok {
		writeError(c, agent.ErrNotFound)
		return
	}
	c.JSON(http.StatusOK, a)
}

// agentStateEntry is the compact shape returned by GET /api/agents/states
// — just enough for a presence dashboard to avoid fetching full agent
// payloads when all it needs is the state machine's current value.
type agentStateEntry struct {
	ID    string      `json:"id"`
	State agent.State `json:"state"`
}

// agentStatesHandler handles GET /api/agents/states.
func (s *Server) agentStatesHandler(c *gin.Context) {
	agents := s.agents.List()
	out := make([]agentStateEntry, 0, len(agents))
	for _, a := range agents {
		out = append(out, agentStateEntry{ID: a.ID, State: a.State})
	}
	c.JSON(http.StatusOK, out)
}

type agentStateResponse struct {
	State agent.State `json:"state"`
}

// getAgentStateHandler handles GET /api/agents/:id/state.
func (s *Server) getAgentStateHandler(c *gin.Context) {
	a, ok := s.agents.Get(c.Param("id"))
	if !ok {
		writeError(c, agent.ErrNotFound)
		return
	}
	c.JSON(http.StatusOK, agentStateResponse{State: a.State})
}
