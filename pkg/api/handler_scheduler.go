package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (s *Server) startHandler(c *gin.Context) {
	if err := s.scheduler.Start(c.Request.Context()); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, StatusResponse{Running: true})
}

func (s *Server) stopHandler(c *gin.Context) {
	s.scheduler.Stop()
	c.JSON(http.StatusOK, StatusResponse{Running: false})
}

func (s *Server) statusHandler(c *gin.Context) {
	status := s.scheduler.Status()
	c.JSON(http.StatusOK, StatusResponse{
		Running:   status.Running,
		RootCount: status.RootCount,
		PollEvery: status.PollEvery.String(),
	})
}

func (s *Server) listRootsHandler(c *gin.Context) {
	roots := s.scheduler.Roots()
	out := make([]RootResponse, 0, len(roots))
	for _, r := range roots {
		out = append(out, RootResponse{
			RootID:            r.RootID,
			RootType:          string(r.RootType),
			State:             string(r.State),
			ConsecutiveErrors: r.ConsecutiveErrors,
			StoriesExtracted:  r.StoriesExtracted,
			LastCheck:         r.LastCheck,
		})
	}
	c.JSON(http.StatusOK, out)
}
