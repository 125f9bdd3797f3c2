// Package scorer computes the weighted significance of a root's change
// between two snapshots. It is a pure function: no I/O, no shared state.
package scorer

import "strings"

// Weights controls the per-field contribution to the total significance
// score. Zero-value Weights is invalid; use DefaultWeights.
type Weights struct {
	Title       float64
	Description float64
	State       float64
}

// DefaultWeights mirrors spec.md's defaults: title 0.8, description 0.6, state 0.2.
func DefaultWeights() Weights {
	return Weights{Title: 0.8, Description: 0.6, State: 0.2}
}

// Fields is the subset of a Snapshot the scorer reads. Kept deliberately
// narrow so callers don't need to depend on the snapshot store's full type.
type Fields struct {
	Title       string
	Description string
	State       string
}

// FieldChange records one field's contribution to the total score.
type FieldChange struct {
	Field        string
	Significance float64
	Old          string
	New          string
}

// Score computes the weighted significance of the change from prev to cur.
// A nil prev (first-seen root) is always maximally significant, per spec.md
// §4.C and invariant/scenario S1.
func Score(prev, cur *Fields, w Weights) (float64, []FieldChange) {
	if prev == nil {
		return 1.0, nil
	}

	var total float64
	var changes []FieldChange

	if prev.Title != cur.Title {
		sim := JaccardWordSimilarity(prev.Title, cur.Title)
		sig := (1 - sim) * w.Title
		total += sig
		changes = append(changes, FieldChange{Field: "title", Significance: sig, Old: prev.Title, New: cur.Title})
	}

	if prev.Description != cur.Description {
		sim := JaccardWordSimilarity(prev.Description, cur.Description)
		sig := (1 - sim) * w.Description
		total += sig
		changes = append(changes, FieldChange{Field: "description", Significance: sig, Old: prev.Description, New: cur.Description})
	}

	if prev.State != cur.State {
		total += w.State
		changes = append(changes, FieldChange{Field: "state", Significance: w.State, Old: prev.State, New: cur.State})
	}

	if total > 1.0 {
		total = 1.0
	}
	return total, changes
}

// JaccardWordSimilarity lowercases and whitespace-splits both strings and
// returns |A∩B| / |A∪B|. Two empty strings are identical (1.0); one empty
// and one non-empty share nothing (0.0).
func JaccardWordSimilarity(a, b string) float64 {
	wa := wordSet(a)
	wb := wordSet(b)

	if len(wa) == 0 && len(wb) == 0 {
		return 1.0
	}
	if len(wa) == 0 || len(wb) == 0 {
		return 0.0
	}

	intersection := 0
	union := make(map[string]struct{}, len(wa)+len(wb))
	for w := range wa {
		union[w] = struct{}{}
		if _, ok := wb[w]; ok {
			intersection++
		}
	}
	for w := range wb {
		union[w] = struct{}{}
	}

	return float64(intersection) / float64(len(union))
}

func wordSet(s string) map[string]struct{} {
	fields := strings.Fields(strings.ToLower(s))
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}
