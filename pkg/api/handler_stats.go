package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (s *Server) statsHandler(c *gin.Context) {
	c.JSON(http.StatusOK, s.tokens.GetStats())
}

func (s *Server) tokensDashboardHandler(c *gin.Context) {
	c.JSON(http.StatusOK, s.tokens.GetDashboard())
}

func (s *Server) tokensClearHandler(c *gin.Context) {
	s.tokens.Clear()
	c.JSON(http.StatusOK, gin.H{"status": "cleared"})
}
