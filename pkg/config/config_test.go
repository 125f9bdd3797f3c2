package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestInitialize_MergesUserOverridesOntoDefaults(t *testing.T) {
	path := writeConfig(t, `
poll_interval_seconds: 60
snapshot_directory: /tmp/snaps
ledger_path: /tmp/ledger.json
requirement_type: Epic
user_story_type: "User Story"
story_extraction_type: story_extraction
test_case_extraction_type: test_case_extraction
tracker:
  base_url: https://example.com
  pat_env: TRACKER_PAT
generator:
  base_url: https://generator.example.com
  api_key_env: GEN_KEY
  model: gpt-4o
`)

	cfg, err := Initialize(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, 60, cfg.PollIntervalSeconds)
	// Untouched default survives the merge.
	assert.Equal(t, 3, cfg.MaxConcurrentSyncs)
	assert.Equal(t, 0.8, cfg.Weights.Title)
}

func TestInitialize_MissingFileReturnsNotFound(t *testing.T) {
	_, err := Initialize(context.Background(), filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConfigNotFound)
}

func TestInitialize_InvalidYAMLReturnsError(t *testing.T) {
	path := writeConfig(t, "not: valid: yaml: [")
	_, err := Initialize(context.Background(), path)
	require.Error(t, err)
}

func TestInitialize_MissingRequiredFieldFailsValidation(t *testing.T) {
	path := writeConfig(t, `
snapshot_directory: /tmp/snaps
ledger_path: /tmp/ledger.json
`)
	_, err := Initialize(context.Background(), path)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrValidationFailed)
}

func TestExpandEnv_ExpandsVariables(t *testing.T) {
	t.Setenv("SYNC_TEST_VAR", "expanded-value")
	out := ExpandEnv([]byte("value: ${SYNC_TEST_VAR}"))
	assert.Equal(t, "value: expanded-value", string(out))
}

func TestLive_ReplaceSwapsConfig(t *testing.T) {
	live := NewLive(Defaults().withRequiredFieldsForTest())

	updated := *live.Current()
	updated.PollIntervalSeconds = 600
	require.NoError(t, live.Replace(&updated))

	assert.Equal(t, 600, live.Current().PollIntervalSeconds)
}

func TestLive_ApplyPartialMergesOntoCurrent(t *testing.T) {
	live := NewLive(Defaults().withRequiredFieldsForTest())

	partial := &Config{ChangeSignificanceThreshold: 0.75}
	require.NoError(t, live.ApplyPartial(partial))

	assert.Equal(t, 0.75, live.Current().ChangeSignificanceThreshold)
	// Fields not present in partial (zero-valued) keep their prior value.
	assert.Equal(t, 300, live.Current().PollIntervalSeconds)
}

// withRequiredFieldsForTest fills in the validate:"required" tracker and
// generator fields Defaults() leaves blank (they're environment-specific),
// and pins the other required fields, so Live tests can validate
// successfully.
func (c *Config) withRequiredFieldsForTest() *Config {
	cfg := *c
	cfg.SnapshotDirectory = "/tmp/snaps"
	cfg.LedgerPath = "/tmp/ledger.json"
	cfg.RequirementType = "Epic"
	cfg.UserStoryType = "User Story"
	cfg.StoryExtractionType = "story_extraction"
	cfg.TestCaseExtractionType = "test_case_extraction"
	cfg.Tracker = TrackerConfig{BaseURL: "https://example.com", PATEnv: "PAT"}
	cfg.Generator = GeneratorConfig{BaseURL: "https://gen.example.com", APIKeyEnv: "KEY", Model: "gpt-4o", Temperature: 0.7, MaxTokens: 500}
	return &cfg
}
