package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/papai0709/syncengine/pkg/config"
)

// putConfigHandler applies a partial configuration update onto the live
// config. Only fields present in the patch are overridden; mergo's
// WithOverride treats zero values as absent, so boolean fields use *bool to
// distinguish "set to false" from "not provided".
func (s *Server) putConfigHandler(c *gin.Context) {
	var patch ConfigPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	// Bool fields are applied directly rather than through ApplyPartial's
	// mergo merge: mergo.WithOverride skips zero values, so it can't tell
	// "explicitly set to false" from "not provided" for a plain bool. The
	// *bool fields on ConfigPatch carry that distinction; apply them onto a
	// copy of the current config before merging the rest.
	next := *s.live.Current()
	if patch.AutoSync != nil {
		next.AutoSync = *patch.AutoSync
	}
	if patch.AutoExtractNewRoots != nil {
		next.AutoExtractNewRoots = *patch.AutoExtractNewRoots
	}
	if patch.AutoTestCaseExtraction != nil {
		next.AutoTestCaseExtraction = *patch.AutoTestCaseExtraction
	}
	if patch.ManualOverrideEnabled != nil {
		next.ManualOverrideEnabled = *patch.ManualOverrideEnabled
	}

	partial := &config.Config{
		PollIntervalSeconds:         patch.PollIntervalSeconds,
		MaxConcurrentSyncs:          patch.MaxConcurrentSyncs,
		ChangeSignificanceThreshold: patch.ChangeSignificanceThreshold,
		MaxChangesPerRoot:           patch.MaxChangesPerRoot,
		ExcludedRootIDs:             patch.ExcludedRootIDs,
		LogLevel:                    patch.LogLevel,
	}
	if err := config.MergeOnto(&next, partial); err != nil {
		writeError(c, err)
		return
	}

	if err := s.live.Replace(&next); err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "applied"})
}
