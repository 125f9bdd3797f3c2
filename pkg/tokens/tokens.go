// Package tokens tracks estimated token usage and cost across generator
// calls, without requiring an extra round trip to a tokenizer. Grounded in
// the original implementation's TokenTracker (token_tracker.py): a
// fixed-capacity ring buffer of records plus running aggregate stats.
package tokens

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const (
	maxRecords = 1000
	// toonReductionFactor is the measured average token reduction from using
	// a compact (TOON-style) prompt encoding instead of verbose JSON.
	toonReductionFactor = 0.571
)

// Record is the token usage and cost accounting for a single generator call.
type Record struct {
	Timestamp               time.Time `json:"timestamp"`
	CallType                string    `json:"call_type"`
	PromptTokens            int       `json:"prompt_tokens"`
	CompletionTokens        int       `json:"completion_tokens"`
	TotalTokens             int       `json:"total_tokens"`
	CompactPromptEnabled    bool      `json:"compact_prompt_enabled"`
	EstimatedStandardTokens int       `json:"estimated_standard_tokens"`
	TokensSaved             int       `json:"tokens_saved"`
	ReductionPercentage     float64   `json:"reduction_percentage"`
	Model                   string    `json:"model"`
	Provider                string    `json:"provider"`
	Success                 bool      `json:"success"`
	ErrorMessage            string    `json:"error_message,omitempty"`
	RootID                  string    `json:"root_id,omitempty"`
	RootTitle               string    `json:"root_title,omitempty"`
}

// Stats is the running aggregate over every recorded call.
type Stats struct {
	TotalCalls int `json:"total_calls"`
	SuccessfulCalls int `json:"successful_calls"`
	FailedCalls int `json:"failed_calls"`
	TotalPromptTokens int `json:"total_prompt_tokens"`
	TotalCompletionTokens int `json:"total_completion_tokens"`
	TotalTokens int `json:"total_tokens"`
	TotalTokensSaved int `json:"total_tokens_saved"`
	AverageReductionPercentage float64 `json:"average_reduction_percentage"`
	EstimatedCostUSD float64 `json:"estimated_cost_usd"`
	EstimatedSavingsUSD float64 `json:"estimated_savings_usd"`
	CallsWithCompactPrompt int `json:"calls_with_compact_prompt"`
	CallsWithoutCompactPrompt int `json:"calls_without_compact_prompt"`
	StoryExtractions int `json:"story_extractions"`
	TestCaseExtractions int `json:"test_case_extractions"`
	EstimatedTokensWithoutCompact int `json:"estimated_tokens_without_compact"`
	EstimatedCostWithoutCompactUSD float64 `json:"estimated_cost_without_compact_usd"`
}

// costTier is the per-1K-token price for a model.
type costTier struct {
	Input  float64
	Output float64
}

// costTable mirrors the original's TOKEN_COSTS, keyed on a substring match
// against the lowercased model name (order matters: first match wins).
var costTable = []struct {
	substr string
	tier   costTier
}{
	{"gpt-4o-mini", costTier{0.00015, 0.0006}},
	{"gpt-4o", costTier{0.005, 0.015}},
	{"gpt-4-turbo", costTier{0.01, 0.03}},
	{"gpt-4", costTier{0.03, 0.06}},
	{"gpt-3.5-turbo", costTier{0.0005, 0.0015}},
	{"gpt-35-turbo", costTier{0.0005, 0.0015}}, // Azure naming
}

func costForModel(model string) costTier {
	lower := strings.ToLower(model)
	for _, entry := range costTable {
		if strings.Contains(lower, entry.substr) {
			return entry.tier
		}
	}
	// Default to GPT-4 pricing for unknown models.
	return costTier{0.03, 0.06}
}

// Accountant is the thread-safe token/cost ledger shared by every generator
// call in the process. Construct one with New and keep it alive for the
// lifetime of the engine; unlike the original's module-level singleton, Go
// callers hold an explicit reference and pass it down via cmd/sync-engine.
type Accountant struct {
	mu       sync.Mutex
	records  []Record // ring buffer, oldest first, capped at maxRecords
	stats    Stats
	dataFile string
	log      *slog.Logger
}

// New constructs an Accountant backed by dataFile for persistence. If
// dataFile already holds data from a previous run, it is loaded immediately.
func New(dataFile string, log *slog.Logger) *Accountant {
	if log == nil {
		log = slog.Default()
	}
	a := &Accountant{dataFile: dataFile, log: log}
	a.load()
	return a
}

type persistedData struct {
	Records     []Record  `json:"records"`
	Stats       Stats     `json:"stats"`
	LastUpdated time.Time `json:"last_updated"`
}

func (a *Accountant) load() {
	data, err := os.ReadFile(a.dataFile)
	if err != nil {
		if !os.IsNotExist(err) {
			a.log.Warn("failed to read token usage data", "path", a.dataFile, "error", err)
		}
		return
	}

	var pd persistedData
	if err := json.Unmarshal(data, &pd); err != nil {
		a.log.Warn("failed to parse token usage data", "path", a.dataFile, "error", err)
		return
	}

	if len(pd.Records) > maxRecords {
		pd.Records = pd.Records[len(pd.Records)-maxRecords:]
	}
	a.records = pd.Records
	a.stats = pd.Stats
	a.log.Info("loaded token usage records", "count", len(a.records))
}

// save writes the accountant's state via a temp-file-then-rename swap so a
// crash mid-write never leaves a truncated file behind.
func (a *Accountant) save() {
	pd := persistedData{
		Records:     a.records,
		Stats:       a.stats,
		LastUpdated: time.Now(),
	}

	data, err := json.MarshalIndent(pd, "", "  ")
	if err != nil {
		a.log.Error("failed to marshal token usage data", "error", err)
		return
	}

	dir := filepath.Dir(a.dataFile)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		a.log.Error("failed to create token usage directory", "dir", dir, "error", err)
		return
	}

	tmp, err := os.CreateTemp(dir, ".token-usage-*.tmp")
	if err != nil {
		a.log.Error("failed to create temp file for token usage data", "error", err)
		return
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		a.log.Error("failed to write token usage data", "error", err)
		return
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		a.log.Error("failed to close temp token usage file", "error", err)
		return
	}
	if err := os.Rename(tmpName, a.dataFile); err != nil {
		os.Remove(tmpName)
		a.log.Error("failed to persist token usage data", "error", err)
	}
}

// EstimateTokens estimates the token count of text using a character-count
// heuristic: JSON-like content (containing '{' or '[') averages ~3 chars per
// token; prose averages ~4. This avoids a tokenizer dependency entirely.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	n := len(text)
	if strings.ContainsAny(text, "{[") {
		if v := n / 3; v > 0 {
			return v
		}
		return 1
	}
	if v := n / 4; v > 0 {
		return v
	}
	return 1
}

// RecordCall estimates and records token usage for one generator call and
// returns the stored Record. Persists to disk every 10 records.
func (a *Accountant) RecordCall(callType, promptText, responseText string, compactPromptEnabled bool, model, provider string, success bool, errMessage, rootID, rootTitle string) Record {
	a.mu.Lock()
	defer a.mu.Unlock()

	promptTokens := EstimateTokens(promptText)
	completionTokens := EstimateTokens(responseText)
	totalTokens := promptTokens + completionTokens

	var estimatedStandard, tokensSaved int
	var reductionPct float64
	if compactPromptEnabled {
		estimatedStandard = int(float64(promptTokens) / (1 - toonReductionFactor))
		tokensSaved = estimatedStandard - promptTokens
		reductionPct = toonReductionFactor * 100
	} else {
		estimatedStandard = promptTokens
		tokensSaved = 0
		reductionPct = 0
	}

	rec := Record{
		Timestamp:               time.Now(),
		CallType:                callType,
		PromptTokens:            promptTokens,
		CompletionTokens:        completionTokens,
		TotalTokens:             totalTokens,
		CompactPromptEnabled:    compactPromptEnabled,
		EstimatedStandardTokens: estimatedStandard,
		TokensSaved:             tokensSaved,
		ReductionPercentage:     reductionPct,
		Model:                   model,
		Provider:                provider,
		Success:                 success,
		ErrorMessage:            errMessage,
		RootID:                  rootID,
		RootTitle:               rootTitle,
	}

	a.records = append(a.records, rec)
	if len(a.records) > maxRecords {
		a.records = a.records[len(a.records)-maxRecords:]
	}

	a.updateStats(rec)

	if len(a.records)%10 == 0 {
		a.save()
	}

	a.log.Debug("recorded token usage", "call_type", callType, "total_tokens", totalTokens, "compact_prompt", compactPromptEnabled)
	return rec
}

func (a *Accountant) updateStats(rec Record) {
	a.stats.TotalCalls++
	if rec.Success {
		a.stats.SuccessfulCalls++
	} else {
		a.stats.FailedCalls++
	}

	a.stats.TotalPromptTokens += rec.PromptTokens
	a.stats.TotalCompletionTokens += rec.CompletionTokens
	a.stats.TotalTokens += rec.TotalTokens
	a.stats.TotalTokensSaved += rec.TokensSaved
	a.stats.EstimatedTokensWithoutCompact += rec.EstimatedStandardTokens + rec.CompletionTokens

	if rec.CompactPromptEnabled {
		a.stats.CallsWithCompactPrompt++
	} else {
		a.stats.CallsWithoutCompactPrompt++
	}

	switch rec.CallType {
	case "story_extraction":
		a.stats.StoryExtractions++
	case "test_case_extraction":
		a.stats.TestCaseExtractions++
	}

	if a.stats.CallsWithCompactPrompt > 0 {
		var sum float64
		var count int
		for _, r := range a.records {
			if r.CompactPromptEnabled {
				sum += r.ReductionPercentage
				count++
			}
		}
		if count > 0 {
			a.stats.AverageReductionPercentage = sum / float64(count)
		}
	}

	a.updateCostEstimates(rec)
}

func (a *Accountant) updateCostEstimates(rec Record) {
	tier := costForModel(rec.Model)

	inputCost := (float64(rec.PromptTokens) / 1000) * tier.Input
	outputCost := (float64(rec.CompletionTokens) / 1000) * tier.Output
	actualCost := inputCost + outputCost
	a.stats.EstimatedCostUSD += actualCost

	inputCostWithoutCompact := (float64(rec.EstimatedStandardTokens) / 1000) * tier.Input
	a.stats.EstimatedCostWithoutCompactUSD += inputCostWithoutCompact + outputCost

	if rec.CompactPromptEnabled && rec.TokensSaved > 0 {
		a.stats.EstimatedSavingsUSD += (float64(rec.TokensSaved) / 1000) * tier.Input
	}
}

// GetStats returns a snapshot of the current aggregate statistics.
func (a *Accountant) GetStats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stats
}

// RecentRecords returns up to limit of the most recently recorded calls,
// newest first.
func (a *Accountant) RecentRecords(limit int) []Record {
	a.mu.Lock()
	defer a.mu.Unlock()

	n := len(a.records)
	if limit > n {
		limit = n
	}
	out := make([]Record, limit)
	for i := 0; i < limit; i++ {
		out[i] = a.records[n-1-i]
	}
	return out
}

// CallTypeSummary is one row of the dashboard's by-call-type breakdown.
type CallTypeSummary struct {
	TotalCalls  int     `json:"total_calls"`
	TotalTokens int     `json:"total_tokens"`
	TokensSaved int     `json:"tokens_saved"`
	AvgTokens   float64 `json:"avg_tokens"`
}

// HourBucket is one row of the dashboard's hourly usage breakdown.
type HourBucket struct {
	Tokens int `json:"tokens"`
	Saved  int `json:"saved"`
	Calls  int `json:"calls"`
}

// CompactPromptSummary reports how effective compact-prompt encoding has
// been across recorded calls.
type CompactPromptSummary struct {
	EnabledCalls         int     `json:"enabled_calls"`
	DisabledCalls        int     `json:"disabled_calls"`
	TotalTokensSaved     int     `json:"total_tokens_saved"`
	AverageReduction     float64 `json:"average_reduction"`
	EstimatedSavingsUSD  float64 `json:"estimated_savings_usd"`
}

// Dashboard is the full payload served by the tokens-dashboard endpoint.
type Dashboard struct {
	Stats              Stats                      `json:"stats"`
	RecentRecords      []Record                   `json:"recent_records"`
	HourlyUsage        map[string]HourBucket      `json:"hourly_usage"`
	ByCallType         map[string]CallTypeSummary `json:"by_call_type"`
	CompactPromptStats CompactPromptSummary       `json:"compact_prompt_stats"`
	CompactPromptInUse bool                       `json:"compact_prompt_in_use"`
	LastUpdated        time.Time                  `json:"last_updated"`
}

// GetDashboard builds the full dashboard payload: recent-24h hourly usage,
// a by-call-type breakdown over all retained records, and compact-prompt
// effectiveness stats.
func (a *Accountant) GetDashboard() Dashboard {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := time.Now()
	var recent []Record
	for _, r := range a.records {
		if now.Sub(r.Timestamp) <= 24*time.Hour {
			recent = append(recent, r)
		}
	}

	hourly := make(map[string]HourBucket)
	for _, r := range recent {
		hour := r.Timestamp.Format("2006-01-02T15")
		b := hourly[hour]
		b.Tokens += r.TotalTokens
		b.Saved += r.TokensSaved
		b.Calls++
		hourly[hour] = b
	}

	byType := make(map[string]CallTypeSummary)
	for _, r := range a.records {
		s := byType[r.CallType]
		s.TotalCalls++
		s.TotalTokens += r.TotalTokens
		s.TokensSaved += r.TokensSaved
		byType[r.CallType] = s
	}
	for k, s := range byType {
		if s.TotalCalls > 0 {
			s.AvgTokens = float64(s.TotalTokens) / float64(s.TotalCalls)
		}
		byType[k] = s
	}

	recentForPayload := recent
	if len(recentForPayload) > 20 {
		recentForPayload = recentForPayload[len(recentForPayload)-20:]
	}
	// Newest first, matching RecentRecords ordering.
	reversed := make([]Record, len(recentForPayload))
	for i, r := range recentForPayload {
		reversed[len(recentForPayload)-1-i] = r
	}

	return Dashboard{
		Stats:         a.stats,
		RecentRecords: reversed,
		HourlyUsage:   hourly,
		ByCallType:    byType,
		CompactPromptStats: CompactPromptSummary{
			EnabledCalls:        a.stats.CallsWithCompactPrompt,
			DisabledCalls:       a.stats.CallsWithoutCompactPrompt,
			TotalTokensSaved:    a.stats.TotalTokensSaved,
			AverageReduction:    a.stats.AverageReductionPercentage,
			EstimatedSavingsUSD: a.stats.EstimatedSavingsUSD,
		},
		CompactPromptInUse: a.stats.CallsWithCompactPrompt > 0,
		LastUpdated:        now,
	}
}

// Clear wipes all recorded usage and stats, then persists the empty state.
func (a *Accountant) Clear() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.records = nil
	a.stats = Stats{}
	a.save()
	a.log.Info("token usage data cleared")
}

// ForceSave persists the current state immediately, bypassing the
// every-10-records cadence.
func (a *Accountant) ForceSave() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.save()
}
