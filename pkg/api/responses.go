package api

import (
	"time"

	"github.com/papai0709/syncengine/pkg/syncworker"
)

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status    string `json:"status"`
	Version   string `json:"version"`
	Running   bool   `json:"running"`
	RootCount int    `json:"root_count"`
}

// StatusResponse is returned by GET status.
type StatusResponse struct {
	Running   bool          `json:"running"`
	RootCount int           `json:"root_count"`
	PollEvery string        `json:"poll_interval"`
}

// RootResponse is one entry in GET roots.
type RootResponse struct {
	RootID            string    `json:"root_id"`
	RootType          string    `json:"root_type"`
	State             string    `json:"state"`
	ConsecutiveErrors int       `json:"consecutive_errors"`
	StoriesExtracted  int       `json:"stories_extracted"`
	LastCheck         time.Time `json:"last_check"`
}

// SyncResultResponse is returned by force-check / force-reextract /
// sync-hierarchy.
type SyncResultResponse struct {
	RootID           string  `json:"root_id"`
	Success          bool    `json:"success"`
	Significance     float64 `json:"significance"`
	StoriesCreated   int     `json:"stories_created"`
	StoriesUpdated   int     `json:"stories_updated"`
	StoriesUnchanged int     `json:"stories_unchanged"`
	TestCasesCreated int     `json:"test_cases_created"`
	Error            string  `json:"error,omitempty"`
}

// ReconcileResponse reports what force-reextract or requirements/{id}/stories
// proposed and applied.
type ReconcileResponse struct {
	Created   int `json:"created"`
	Updated   int `json:"updated"`
	Unchanged int `json:"unchanged"`
}

// ErrorResponse is the body of every non-2xx JSON response.
type ErrorResponse struct {
	Error string `json:"error"`
	Hint  string `json:"hint,omitempty"`
}

func toSyncResultResponse(r syncworker.SyncResult) SyncResultResponse {
	resp := SyncResultResponse{
		RootID:           r.RootID,
		Success:          r.Success,
		Significance:     r.Significance,
		StoriesCreated:   r.StoriesCreated,
		StoriesUpdated:   r.StoriesUpdated,
		StoriesUnchanged: r.StoriesUnchanged,
		TestCasesCreated: r.TestCasesCreated,
	}
	if r.Err != nil {
		resp.Error = r.Err.Error()
	}
	return resp
}
