// Package ledger tracks which root IDs have already been processed for
// each root type, plus per-root change-extraction statistics. Backed by a
// single JSON file, rewritten whole under a mutex on every change, per
// spec.md §4.B and §6.
package ledger

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// ExtractionStats is the per-root bookkeeping for the significance-gated
// re-sync cap (spec.md's change_significance_threshold / max_changes_per_root).
type ExtractionStats struct {
	ChangeExtractionCount  int        `json:"change_extraction_count"`
	LastSignificantChange  *time.Time `json:"last_significant_change,omitempty"`
	LastChangeSignificance float64    `json:"last_change_significance"`
}

// onDisk is the JSON shape persisted to file.
type onDisk struct {
	ProcessedItemsByType   map[string][]string        `json:"processed_items_by_type"`
	CurrentRequirementType string                     `json:"current_requirement_type"`
	LastUpdated            time.Time                  `json:"last_updated"`
	ChangeExtractionStats  map[string]ExtractionStats `json:"change_extraction_stats"`
}

// legacyOnDisk is the pre-migration shape: a flat list of epic IDs under a
// single key, with no per-type breakdown.
type legacyOnDisk struct {
	ProcessedEpics []string `json:"processed_epics"`
}

// Ledger is the thread-safe processed-item tracker for one sync engine
// instance.
type Ledger struct {
	mu                     sync.Mutex
	path                   string
	processedByType        map[string]map[string]struct{}
	currentRequirementType string
	stats                  map[string]ExtractionStats
	log                    *slog.Logger
}

// Load reads the ledger file at path, migrating the legacy flat-list shape
// in memory if found. A missing file starts an empty ledger. requirementType
// is recorded for display only; it does not gate any load behavior.
func Load(path, requirementType string, log *slog.Logger) (*Ledger, error) {
	if log == nil {
		log = slog.Default()
	}

	l := &Ledger{
		path:                   path,
		processedByType:        make(map[string]map[string]struct{}),
		currentRequirementType: requirementType,
		stats:                  make(map[string]ExtractionStats),
		log:                    log,
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return l, nil
		}
		return nil, fmt.Errorf("read ledger file: %w", err)
	}

	var doc onDisk
	if err := json.Unmarshal(data, &doc); err == nil && len(doc.ProcessedItemsByType) > 0 {
		for rootType, ids := range doc.ProcessedItemsByType {
			set := make(map[string]struct{}, len(ids))
			for _, id := range ids {
				set[id] = struct{}{}
			}
			l.processedByType[rootType] = set
		}
		if doc.CurrentRequirementType != "" {
			l.currentRequirementType = doc.CurrentRequirementType
		}
		if doc.ChangeExtractionStats != nil {
			l.stats = doc.ChangeExtractionStats
		}
		return l, nil
	}

	// Fall back to the legacy shape: a bare list of epic IDs.
	var legacy legacyOnDisk
	if err := json.Unmarshal(data, &legacy); err != nil {
		return nil, fmt.Errorf("parse ledger file: %w", err)
	}
	if len(legacy.ProcessedEpics) > 0 {
		set := make(map[string]struct{}, len(legacy.ProcessedEpics))
		for _, id := range legacy.ProcessedEpics {
			set[id] = struct{}{}
		}
		l.processedByType["Epic"] = set
		l.log.Info("migrated legacy ledger shape", "epic_count", len(legacy.ProcessedEpics))
		// Persist the migrated shape immediately so subsequent loads skip
		// the legacy path.
		if err := l.save(); err != nil {
			l.log.Warn("failed to persist migrated ledger", "error", err)
		}
	}

	return l, nil
}

// Contains reports whether rootID of rootType has already been processed.
func (l *Ledger) Contains(rootType, rootID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	set, ok := l.processedByType[rootType]
	if !ok {
		return false
	}
	_, ok = set[rootID]
	return ok
}

// Add marks rootID of rootType as processed and persists the ledger.
func (l *Ledger) Add(rootType, rootID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	set, ok := l.processedByType[rootType]
	if !ok {
		set = make(map[string]struct{})
		l.processedByType[rootType] = set
	}
	set[rootID] = struct{}{}

	return l.save()
}

// Remove un-marks rootID of rootType (used on retirement) and persists.
func (l *Ledger) Remove(rootType, rootID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if set, ok := l.processedByType[rootType]; ok {
		delete(set, rootID)
	}
	delete(l.stats, rootID)

	return l.save()
}

// For returns a snapshot copy of every processed ID for rootType.
func (l *Ledger) For(rootType string) []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	set, ok := l.processedByType[rootType]
	if !ok {
		return nil
	}
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	return ids
}

// RecordExtraction updates the extraction stats for rootID after a
// significant-change sync completes, and persists the ledger.
func (l *Ledger) RecordExtraction(rootID string, significance float64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	s := l.stats[rootID]
	s.ChangeExtractionCount++
	now := time.Now()
	s.LastSignificantChange = &now
	s.LastChangeSignificance = significance
	l.stats[rootID] = s

	return l.save()
}

// ExtractionCount returns how many times rootID has triggered a
// significant-change extraction, for enforcing max_changes_per_root.
func (l *Ledger) ExtractionCount(rootID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stats[rootID].ChangeExtractionCount
}

// LastExtractionAt returns the timestamp of rootID's last significant-change
// extraction, for enforcing extraction_cooldown_hours. ok is false if rootID
// has never triggered one.
func (l *Ledger) LastExtractionAt(rootID string) (time.Time, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.stats[rootID]
	if !ok || s.LastSignificantChange == nil {
		return time.Time{}, false
	}
	return *s.LastSignificantChange, true
}

// ResetExtractionStats clears rootID's extraction count and last-significant
// -change timestamp, so the next sync is not blocked by the cap or the
// cooldown. Used by force-reextract, which bypasses both gates for the
// current call and resets them so the following automatic tick isn't
// immediately blocked either.
func (l *Ledger) ResetExtractionStats(rootID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.stats, rootID)
	return l.save()
}

// save rewrites the ledger file whole. Caller must hold l.mu.
func (l *Ledger) save() error {
	doc := onDisk{
		ProcessedItemsByType:   make(map[string][]string, len(l.processedByType)),
		CurrentRequirementType: l.currentRequirementType,
		LastUpdated:            time.Now(),
		ChangeExtractionStats:  l.stats,
	}
	for rootType, set := range l.processedByType {
		ids := make([]string, 0, len(set))
		for id := range set {
			ids = append(ids, id)
		}
		doc.ProcessedItemsByType[rootType] = ids
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal ledger: %w", err)
	}

	dir := filepath.Dir(l.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create ledger directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".ledger-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp ledger file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp ledger file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp ledger file: %w", err)
	}
	if err := os.Rename(tmpName, l.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename ledger file into place: %w", err)
	}
	return nil
}
