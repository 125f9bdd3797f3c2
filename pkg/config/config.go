// Package config loads the sync engine's YAML configuration, merges it
// with defaults, expands environment variables, and validates the result.
// Patterned after the umbrella Config/Initialize split this codebase uses
// elsewhere: a typed struct plus a loader that does the file I/O.
package config

import "time"

// Weights holds the field-weighted significance scorer's coefficients.
type Weights struct {
	Title       float64 `yaml:"title_change_weight" validate:"gte=0,lte=1"`
	Description float64 `yaml:"description_change_weight" validate:"gte=0,lte=1"`
	State       float64 `yaml:"state_change_weight" validate:"gte=0,lte=1"`
}

// Config is the full set of tunables for one sync engine instance.
type Config struct {
	PollIntervalSeconds    int      `yaml:"poll_interval_seconds" validate:"min=1"`
	MaxConcurrentSyncs     int      `yaml:"max_concurrent_syncs" validate:"min=1"`
	SnapshotDirectory      string   `yaml:"snapshot_directory" validate:"required"`
	LedgerPath             string   `yaml:"ledger_path" validate:"required"`
	LogLevel               string   `yaml:"log_level" validate:"omitempty,oneof=debug info warn error"`
	RootIDs                []string `yaml:"root_ids"`
	ExcludedRootIDs        []string `yaml:"excluded_root_ids"`

	AutoSync                bool `yaml:"auto_sync"`
	AutoExtractNewRoots      bool `yaml:"auto_extract_new_roots"`
	AutoTestCaseExtraction    bool `yaml:"auto_test_case_extraction"`
	ManualOverrideEnabled      bool `yaml:"manual_override_enabled"`

	RetryAttempts       int `yaml:"retry_attempts" validate:"min=0"`
	RetryDelaySeconds   int `yaml:"retry_delay_seconds" validate:"min=0"`

	RequirementType        string `yaml:"requirement_type" validate:"required"`
	UserStoryType          string `yaml:"user_story_type" validate:"required"`
	StoryExtractionType    string `yaml:"story_extraction_type" validate:"required"`
	TestCaseExtractionType string `yaml:"test_case_extraction_type" validate:"required"`

	EnableCompactExtraction     bool    `yaml:"enable_compact_extraction"`
	ChangeSignificanceThreshold float64 `yaml:"change_significance_threshold" validate:"gte=0,lte=1"`
	MaxChangesPerRoot           int     `yaml:"max_changes_per_root" validate:"min=0"`

	Weights Weights `yaml:"weights"`

	ExtractionCooldownHours int `yaml:"extraction_cooldown_hours" validate:"min=0"`

	Tracker   TrackerConfig   `yaml:"tracker"`
	Generator GeneratorConfig `yaml:"generator"`
	API       APIConfig       `yaml:"api"`
	History   HistoryConfig   `yaml:"history"`
	Masking   MaskingConfig   `yaml:"masking"`
	Notify    NotifyConfig    `yaml:"notify"`
}

// TrackerConfig configures the REST adapter to the work-item tracker.
type TrackerConfig struct {
	BaseURL string `yaml:"base_url" validate:"required"`
	PATEnv  string `yaml:"pat_env" validate:"required"` // name of the env var holding the PAT
}

// GeneratorConfig configures the LLM generator adapter.
type GeneratorConfig struct {
	BaseURL    string  `yaml:"base_url" validate:"required"`
	APIKeyEnv  string  `yaml:"api_key_env" validate:"required"`
	Model      string  `yaml:"model" validate:"required"`
	Temperature float64 `yaml:"temperature" validate:"gte=0,lte=2"`
	MaxTokens  int     `yaml:"max_tokens" validate:"min=1"`
}

// APIConfig configures the HTTP control surface.
type APIConfig struct {
	ListenAddr string `yaml:"listen_addr" validate:"required"`
}

// HistoryConfig configures the supplemental sync-history store.
type HistoryConfig struct {
	Enabled    bool   `yaml:"enabled"`
	DSNEnv     string `yaml:"dsn_env"`
	MigrationsEnabled bool `yaml:"migrations_enabled"`
}

// MaskingConfig configures content masking of tracker/generator payloads.
// Masking is fail-closed on the outbound (prompt) side and fail-open on
// the inbound (response) side by construction — see pkg/masking — so
// there is no fail-mode toggle to configure, only whether masking runs.
type MaskingConfig struct {
	Enabled bool `yaml:"enabled"`
}

// NotifyConfig configures the lifecycle notification hook (Slack).
type NotifyConfig struct {
	Enabled      bool   `yaml:"enabled"`
	TokenEnv     string `yaml:"token_env"` // name of the env var holding the Slack bot token
	Channel      string `yaml:"channel"`
	DashboardURL string `yaml:"dashboard_url"`
}

// PollInterval returns PollIntervalSeconds as a time.Duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

// RetryDelay returns RetryDelaySeconds as a time.Duration.
func (c *Config) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelaySeconds) * time.Second
}

// ExtractionCooldown returns ExtractionCooldownHours as a time.Duration.
func (c *Config) ExtractionCooldown() time.Duration {
	return time.Duration(c.ExtractionCooldownHours) * time.Hour
}

// IsExcluded reports whether rootID is in the exclusion list.
func (c *Config) IsExcluded(rootID string) bool {
	for _, id := range c.ExcludedRootIDs {
		if id == rootID {
			return true
		}
	}
	return false
}
