package api

// ConfigPatch is the request body for PUT config: a partial configuration
// update, mergo-merged onto the live config. It carries scheduling and
// gating fields only; tracker, generator and other credential-related
// settings cannot be changed through it.
type ConfigPatch struct {
	PollIntervalSeconds         int      `json:"poll_interval_seconds,omitempty"`
	MaxConcurrentSyncs          int      `json:"max_concurrent_syncs,omitempty"`
	AutoSync                    *bool    `json:"auto_sync,omitempty"`
	AutoExtractNewRoots         *bool    `json:"auto_extract_new_roots,omitempty"`
	AutoTestCaseExtraction      *bool    `json:"auto_test_case_extraction,omitempty"`
	ManualOverrideEnabled       *bool    `json:"manual_override_enabled,omitempty"`
	ChangeSignificanceThreshold float64  `json:"change_significance_threshold,omitempty"`
	MaxChangesPerRoot           int      `json:"max_changes_per_root,omitempty"`
	ExcludedRootIDs             []string `json:"excluded_root_ids,omitempty"`
	LogLevel                    string   `json:"log_level,omitempty"`
}

// TestCaseUploadRequest is the request body for
// stories/{id}/test-cases/upload: pre-written test cases to attach directly
// without invoking the generator.
type TestCaseUploadRequest struct {
	TestCases []struct {
		Heading            string   `json:"heading"`
		Description        string   `json:"description"`
		AcceptanceCriteria []string `json:"acceptance_criteria"`
	} `json:"test_cases"`
}
