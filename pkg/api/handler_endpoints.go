package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/notno/agentcom-hub/pkg/endpoint"
)

// registerEndpointRequest is the JSON body for POST /api/endpoints.
type registerEndpointRequest struct {
	ID      string         `json:"id" binding:"required"`
	Kind    endpoint.Kind  `json:"kind" binding:"required"`
	Address string         `json:"address" binding:"required"`
}

func (s *Server) registerEndpointHandler(c *gin.Context) {
	var req registerEndpointRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	e, err := s.endpoints.Register(endpoint.RegisterParams{ID: req.ID, Kind: req.Kind, Address: req.Address})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, e)
}

func (s *Server) listEndpointsHandler(c *gin.Context) {
	snaps, err := s.endpoints.List(endpoint.Kind(c.Query("kind")))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, snaps)
}

func (s *Server) getEndpointHandler(c *gin.Context) {
	snap, err := s.endpoints.Get(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (s *Server) deregisterEndpointHandler(c *gin.Context) {
	if err := s.endpoints.Deregister(c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, statusResponse{Status: "deregistered"})
}

// postEndpointResourcesHandler handles POST /api/endpoints/:id/resources,
// the periodic self-reported load push described in §4.5.
func (s *Server) postEndpointResourcesHandler(c *gin.Context) {
	var snap endpoint.ResourceSnapshot
	if err := c.ShouldBindJSON(&snap); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	if err := s.endpoints.UpdateResources(c.Param("id"), snap); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, statusResponse{Status: "updated"})
}
