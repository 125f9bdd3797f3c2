package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/papai0709/syncengine/pkg/tracker"
)

// requirementStoriesHandler handles POST requirements/{id}/stories: extract
// stories for a requirement and, unless ?dry_run=true, apply them.
func (s *Server) requirementStoriesHandler(c *gin.Context) {
	rootID := c.Param("id")
	cfg := s.live.Current()

	_, partition, err := s.worker.ExtractStories(c.Request.Context(), tracker.RootType(cfg.RequirementType), rootID, cfg)
	if err != nil {
		writeError(c, err)
		return
	}

	if c.Query("dry_run") == "true" {
		c.JSON(http.StatusOK, ReconcileResponse{
			Created:   len(partition.Create),
			Updated:   len(partition.Update),
			Unchanged: len(partition.Unchanged),
		})
		return
	}

	created, updated := s.worker.ApplyReconciliation(c.Request.Context(), cfg, rootID, partition)
	c.JSON(http.StatusOK, ReconcileResponse{Created: created, Updated: updated, Unchanged: len(partition.Unchanged)})
}

// storyTestCasesHandler handles POST stories/{id}/test-cases: generate test
// cases for one existing story via the generator.
func (s *Server) storyTestCasesHandler(c *gin.Context) {
	storyID := c.Param("id")

	var body struct {
		Title       string `json:"title" binding:"required"`
		Description string `json:"description"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	cfg := s.live.Current()
	created := s.worker.ExtractTestCasesForStory(c.Request.Context(), cfg, storyID, body.Title, body.Description)
	c.JSON(http.StatusOK, gin.H{"test_cases_created": created})
}

// storyTestCasesUploadHandler handles POST stories/{id}/test-cases/upload:
// attach pre-written test cases to a story without invoking the generator.
func (s *Server) storyTestCasesUploadHandler(c *gin.Context) {
	storyID := c.Param("id")

	var req TestCaseUploadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	cfg := s.live.Current()
	created := 0
	for _, tc := range req.TestCases {
		if _, err := s.worker.Tracker.Create(c.Request.Context(), tracker.RootType(cfg.TestCaseExtractionType), tracker.CreateFields{
			Title:              tc.Heading,
			Description:        tc.Description,
			AcceptanceCriteria: strings.Join(tc.AcceptanceCriteria, "\n"),
		}, storyID); err != nil {
			s.log.Warn("failed to upload test case", "story_id", storyID, "error", err)
			continue
		}
		created++
	}

	c.JSON(http.StatusOK, gin.H{"test_cases_created": created})
}
