// Package reconcile partitions a generator's proposed stories against a
// root's existing children into create/update/unchanged sets. Pure
// function, no I/O — grounded in spec.md §4.D.
package reconcile

import "strings"

// ExistingChild is the subset of tracker data the reconciler needs.
type ExistingChild struct {
	ID          string
	Title       string
	Description string
}

// ProposedStory is the generator's output for one candidate child.
type ProposedStory struct {
	Heading            string
	Description        string
	AcceptanceCriteria []string
}

// Update pairs an existing child's ID with the proposed content that should
// replace its fields.
type Update struct {
	ID  string
	New ProposedStory
}

// Thresholds controls the similarity cutoffs used during matching.
type Thresholds struct {
	// TitleMatch is the minimum title similarity to consider an existing
	// child a candidate match at all. Below this, the story is a create.
	TitleMatch float64
	// ContentUnchanged is the minimum content similarity, once a title match
	// is found, below which the match is treated as an update rather than
	// unchanged.
	ContentUnchanged float64
}

// DefaultThresholds mirrors spec.md §4.D: title_sim > 0.8, content_sim < 0.9.
func DefaultThresholds() Thresholds {
	return Thresholds{TitleMatch: 0.8, ContentUnchanged: 0.9}
}

// Result is the three-way partition spec.md §4.D and §8 invariant #3 require.
type Result struct {
	Create    []ProposedStory
	Update    []Update
	Unchanged []ExistingChild
}

// Reconcile partitions proposed against existing. Iteration order of
// proposed determines which one claims a scarce existing match when two
// proposed stories are both close to the same existing title — this is
// deliberate (spec.md's determinism note) and exercised by tests.
func Reconcile(existing []ExistingChild, proposed []ProposedStory, th Thresholds) Result {
	// byTitle maps lowercased title -> remaining candidate. Using a slice
	// instead of deleting from a map mid-iteration keeps "remove E* from
	// byTitle" unambiguous when two existing children share a title.
	remaining := make([]ExistingChild, len(existing))
	copy(remaining, existing)

	var result Result

	for _, p := range proposed {
		bestIdx := -1
		bestSim := -1.0

		for i, e := range remaining {
			sim := Ratio(strings.ToLower(p.Heading), strings.ToLower(e.Title))
			if sim > bestSim {
				bestSim = sim
				bestIdx = i
			}
		}

		if bestIdx == -1 || bestSim <= th.TitleMatch {
			result.Create = append(result.Create, p)
			continue
		}

		match := remaining[bestIdx]
		contentSim := Ratio(
			match.Title+" "+match.Description,
			p.Heading+" "+p.Description+" "+strings.Join(p.AcceptanceCriteria, " "),
		)

		if contentSim < th.ContentUnchanged {
			result.Update = append(result.Update, Update{ID: match.ID, New: p})
		} else {
			result.Unchanged = append(result.Unchanged, match)
		}

		// Remove the matched entry (order-preserving not required; this is
		// the last read of remaining before replacing it).
		remaining = append(remaining[:bestIdx], remaining[bestIdx+1:]...)
	}

	// Any leftover existing children are preserved untouched, never deleted.
	result.Unchanged = append(result.Unchanged, remaining...)

	return result
}

// Ratio computes a longest-common-subsequence-based similarity in [0,1],
// equivalent in spirit to Python difflib.SequenceMatcher.ratio():
// 2*M / T where M is the length of the longest common subsequence and T is
// the combined length of both strings.
func Ratio(a, b string) float64 {
	if a == "" && b == "" {
		return 1.0
	}
	la, lb := len(a), len(b)
	if la == 0 || lb == 0 {
		return 0.0
	}

	// Standard O(n*m) LCS length via dynamic programming over bytes.
	prev := make([]int, lb+1)
	cur := make([]int, lb+1)

	for i := 1; i <= la; i++ {
		for j := 1; j <= lb; j++ {
			if a[i-1] == b[j-1] {
				cur[j] = prev[j-1] + 1
			} else if prev[j] >= cur[j-1] {
				cur[j] = prev[j]
			} else {
				cur[j] = cur[j-1]
			}
		}
		prev, cur = cur, prev
	}
	lcs := prev[lb]

	return 2.0 * float64(lcs) / float64(la+lb)
}
