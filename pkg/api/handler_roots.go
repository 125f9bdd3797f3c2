package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (s *Server) forceCheckHandler(c *gin.Context) {
	rootID := c.Param("id")
	result, err := s.scheduler.ForceCheck(c.Request.Context(), rootID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toSyncResultResponse(result))
}

func (s *Server) forceReextractHandler(c *gin.Context) {
	if !s.live.Current().ManualOverrideEnabled {
		c.JSON(http.StatusForbidden, ErrorResponse{Error: "manual override is disabled"})
		return
	}

	rootID := c.Param("id")
	partition, err := s.scheduler.ForceReextract(c.Request.Context(), rootID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, ReconcileResponse{
		Created:   len(partition.Create),
		Updated:   len(partition.Update),
		Unchanged: len(partition.Unchanged),
	})
}

func (s *Server) syncHierarchyHandler(c *gin.Context) {
	rootID := c.Param("id")
	results, err := s.scheduler.SyncHierarchy(c.Request.Context(), rootID)
	if err != nil {
		writeError(c, err)
		return
	}

	out := make([]SyncResultResponse, 0, len(results))
	for _, r := range results {
		out = append(out, toSyncResultResponse(r))
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) hierarchyStatusHandler(c *gin.Context) {
	roots := s.scheduler.HierarchyStatus()
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
