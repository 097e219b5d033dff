package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// GET /api/rate
func (s *Server) getRate(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Rate.Snapshot())
}

// GET /api/bus
func (s *Server) getBusHealth(c *gin.Context) {
	if s.deps.Bus == nil {
		respondWithError(c, http.StatusServiceUnavailable, "bus health monitoring is not configured")
		return
	}

	health, err := s.deps.Bus.Latest()
	if err != nil {
		respondWithError(c, http.StatusServiceUnavailable, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"healthy": health.Healthy(),
		"stats":   health,
	})
}
