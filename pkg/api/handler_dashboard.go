package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// dashboardStateHandler handles GET /api/dashboard/state, a one-shot
// pull of the same Snapshot pushed continuously over /ws/dashboard.
func (s *Server) dashboardStateHandler(c *gin.Context) {
	if s.snapshots == nil {
		c.JSON(http.StatusServiceUnavailable, errorResponse{Error: "dashboard not available"})
		return
	}
	c.JSON(http.StatusOK, s.snapshots.Collect())
}
