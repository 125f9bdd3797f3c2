package ledger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.json")
	l, err := Load(path, "UserStory", nil)
	require.NoError(t, err)

	assert.False(t, l.Contains("Epic", "E1"))
	assert.Empty(t, l.For("Epic"))
}

func TestAddThenContains(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.json")
	l, err := Load(path, "UserStory", nil)
	require.NoError(t, err)

	require.NoError(t, l.Add("Epic", "E1"))
	assert.True(t, l.Contains("Epic", "E1"))
	assert.False(t, l.Contains("Epic", "E2"))
	assert.False(t, l.Contains("Feature", "E1"))
}

func TestAdd_PersistsAcrossLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.json")
	l, err := Load(path, "UserStory", nil)
	require.NoError(t, err)
	require.NoError(t, l.Add("Epic", "E1"))
	require.NoError(t, l.Add("Epic", "E2"))
	require.NoError(t, l.Add("Feature", "F1"))

	reloaded, err := Load(path, "UserStory", nil)
	require.NoError(t, err)
	assert.True(t, reloaded.Contains("Epic", "E1"))
	assert.True(t, reloaded.Contains("Epic", "E2"))
	assert.True(t, reloaded.Contains("Feature", "F1"))
	assert.ElementsMatch(t, []string{"E1", "E2"}, reloaded.For("Epic"))
}

func TestRemove_UnmarksAndClearsStats(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.json")
	l, err := Load(path, "UserStory", nil)
	require.NoError(t, err)
	require.NoError(t, l.Add("Epic", "E1"))
	require.NoError(t, l.RecordExtraction("E1", 0.9))

	require.NoError(t, l.Remove("Epic", "E1"))

	assert.False(t, l.Contains("Epic", "E1"))
	assert.Equal(t, 0, l.ExtractionCount("E1"))
}

func TestRecordExtraction_IncrementsCount(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.json")
	l, err := Load(path, "UserStory", nil)
	require.NoError(t, err)

	require.NoError(t, l.RecordExtraction("E1", 0.5))
	require.NoError(t, l.RecordExtraction("E1", 0.7))

	assert.Equal(t, 2, l.ExtractionCount("E1"))
}

func TestLoad_MigratesLegacyFlatListShape(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.json")
	legacyJSON := `{"processed_epics": ["E1", "E2", "E3"]}`
	require.NoError(t, os.WriteFile(path, []byte(legacyJSON), 0o644))

	l, err := Load(path, "UserStory", nil)
	require.NoError(t, err)

	assert.True(t, l.Contains("Epic", "E1"))
	assert.True(t, l.Contains("Epic", "E2"))
	assert.True(t, l.Contains("Epic", "E3"))
	assert.ElementsMatch(t, []string{"E1", "E2", "E3"}, l.For("Epic"))

	// The migrated shape should now be on disk, so a second load sees the
	// new format directly (no legacy fallback needed).
	reloaded, err := Load(path, "UserStory", nil)
	require.NoError(t, err)
	assert.True(t, reloaded.Contains("Epic", "E1"))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "processed_items_by_type")
}
