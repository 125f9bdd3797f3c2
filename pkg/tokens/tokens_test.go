package tokens

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAccountant(t *testing.T) *Accountant {
	t.Helper()
	dataFile := filepath.Join(t.TempDir(), "token-usage.json")
	return New(dataFile, nil)
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(""))
	assert.Equal(t, 1, EstimateTokens("hi"))
	assert.Equal(t, len("a regular sentence of prose")/4, EstimateTokens("a regular sentence of prose"))
	assert.Equal(t, len(`{"a": 1}`)/3, EstimateTokens(`{"a": 1}`))
	assert.Equal(t, len(`["a","b"]`)/3, EstimateTokens(`["a","b"]`))
}

func TestRecordCall_AccumulatesStats(t *testing.T) {
	a := newTestAccountant(t)

	a.RecordCall("story_extraction", "a prompt of some length here", "a response", true, "gpt-4o", "OPENAI", true, "", "E1", "Checkout")

	stats := a.GetStats()
	assert.Equal(t, 1, stats.TotalCalls)
	assert.Equal(t, 1, stats.SuccessfulCalls)
	assert.Equal(t, 0, stats.FailedCalls)
	assert.Equal(t, 1, stats.StoryExtractions)
	assert.Equal(t, 1, stats.CallsWithCompactPrompt)
	assert.Greater(t, stats.TotalTokensSaved, 0)
	assert.Greater(t, stats.EstimatedCostUSD, 0.0)
}

func TestRecordCall_FailedCallIncrementsFailedCalls(t *testing.T) {
	a := newTestAccountant(t)

	a.RecordCall("story_extraction", "prompt", "", false, "gpt-4o", "OPENAI", false, "timeout", "E1", "Checkout")

	stats := a.GetStats()
	assert.Equal(t, 1, stats.TotalCalls)
	assert.Equal(t, 0, stats.SuccessfulCalls)
	assert.Equal(t, 1, stats.FailedCalls)
}

func TestRecordCall_WithoutCompactPromptHasZeroSavings(t *testing.T) {
	a := newTestAccountant(t)

	rec := a.RecordCall("test_case_extraction", "prompt text here", "response text", false, "gpt-4o-mini", "OPENAI", true, "", "", "")

	assert.Equal(t, 0, rec.TokensSaved)
	assert.Equal(t, 0.0, rec.ReductionPercentage)
	assert.Equal(t, rec.PromptTokens, rec.EstimatedStandardTokens)

	stats := a.GetStats()
	assert.Equal(t, 1, stats.CallsWithoutCompactPrompt)
	assert.Equal(t, 1, stats.TestCaseExtractions)
}

func TestRecordCall_UnknownModelFallsBackToGPT4Pricing(t *testing.T) {
	a := newTestAccountant(t)

	a.RecordCall("story_extraction", "some prompt text", "some response", false, "totally-unknown-model", "CUSTOM", true, "", "", "")

	tier := costForModel("totally-unknown-model")
	assert.Equal(t, costTable[3].tier, tier) // gpt-4 entry
}

func TestRecentRecords_NewestFirst(t *testing.T) {
	a := newTestAccountant(t)

	a.RecordCall("story_extraction", "p1", "r1", false, "gpt-4o", "OPENAI", true, "", "E1", "")
	a.RecordCall("story_extraction", "p2", "r2", false, "gpt-4o", "OPENAI", true, "", "E2", "")
	a.RecordCall("story_extraction", "p3", "r3", false, "gpt-4o", "OPENAI", true, "", "E3", "")

	recent := a.RecentRecords(2)
	require.Len(t, recent, 2)
	assert.Equal(t, "E3", recent[0].RootID)
	assert.Equal(t, "E2", recent[1].RootID)
}

func TestRecentRecords_LimitLargerThanAvailable(t *testing.T) {
	a := newTestAccountant(t)
	a.RecordCall("story_extraction", "p1", "r1", false, "gpt-4o", "OPENAI", true, "", "E1", "")

	recent := a.RecentRecords(50)
	assert.Len(t, recent, 1)
}

func TestGetDashboard_ByCallTypeAverages(t *testing.T) {
	a := newTestAccountant(t)
	a.RecordCall("story_extraction", "prompt one", "response one", false, "gpt-4o", "OPENAI", true, "", "", "")
	a.RecordCall("story_extraction", "prompt two is a bit longer", "response two", false, "gpt-4o", "OPENAI", true, "", "", "")

	dash := a.GetDashboard()
	summary, ok := dash.ByCallType["story_extraction"]
	require.True(t, ok)
	assert.Equal(t, 2, summary.TotalCalls)
	assert.InDelta(t, float64(summary.TotalTokens)/2, summary.AvgTokens, 0.001)
}

func TestClear_ResetsStatsAndRecords(t *testing.T) {
	a := newTestAccountant(t)
	a.RecordCall("story_extraction", "prompt", "response", false, "gpt-4o", "OPENAI", true, "", "", "")

	a.Clear()

	assert.Equal(t, Stats{}, a.GetStats())
	assert.Empty(t, a.RecentRecords(10))
}

func TestNew_LoadsPersistedData(t *testing.T) {
	dataFile := filepath.Join(t.TempDir(), "token-usage.json")
	a := New(dataFile, nil)
	for i := 0; i < 10; i++ {
		a.RecordCall("story_extraction", "prompt text", "response text", true, "gpt-4o", "OPENAI", true, "", "", "")
	}
	// RecordCall saves every 10th record, so the file should now exist.
	a.ForceSave()

	reloaded := New(dataFile, nil)
	assert.Equal(t, 10, reloaded.GetStats().TotalCalls)
	assert.Len(t, reloaded.RecentRecords(100), 10)
}
