package scorer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScore_NilPrevIsAlwaysSignificant(t *testing.T) {
	score, changes := Score(nil, &Fields{Title: "Checkout"}, DefaultWeights())
	assert.Equal(t, 1.0, score)
	assert.Empty(t, changes)
}

func TestScore_NoChangeIsZero(t *testing.T) {
	f := &Fields{Title: "Checkout", Description: "Users purchase", State: "Active"}
	score, changes := Score(f, f, DefaultWeights())
	assert.Equal(t, 0.0, score)
	assert.Empty(t, changes)
}

func TestScore_DescriptionEditScenarioS3(t *testing.T) {
	prev := &Fields{Title: "Checkout", Description: "Users purchase", State: "Active"}
	cur := &Fields{Title: "Checkout", Description: "Users purchase items with credit card", State: "Active"}

	score, changes := Score(prev, cur, DefaultWeights())

	require.Len(t, changes, 1)
	assert.Equal(t, "description", changes[0].Field)
	assert.InDelta(t, 0.4, score, 0.01)
}

func TestScore_StateChangeContributesWeightAsIs(t *testing.T) {
	prev := &Fields{Title: "A", Description: "B", State: "New"}
	cur := &Fields{Title: "A", Description: "B", State: "Active"}

	score, changes := Score(prev, cur, DefaultWeights())

	require.Len(t, changes, 1)
	assert.Equal(t, "state", changes[0].Field)
	assert.Equal(t, 0.2, score)
}

func TestScore_ClampsToOne(t *testing.T) {
	prev := &Fields{Title: "aaa bbb", Description: "ccc ddd", State: "New"}
	cur := &Fields{Title: "xxx yyy", Description: "zzz www", State: "Closed"}

	score, _ := Score(prev, cur, DefaultWeights())
	assert.LessOrEqual(t, score, 1.0)
}

func TestJaccardWordSimilarity(t *testing.T) {
	tests := []struct {
		name     string
		a, b     string
		expected float64
	}{
		{"both empty", "", "", 1.0},
		{"one empty", "hello", "", 0.0},
		{"identical", "Hello World", "hello world", 1.0},
		{"disjoint", "foo bar", "baz qux", 0.0},
		{"s3 scenario", "users purchase", "users purchase items with credit card", 2.0 / 6.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := JaccardWordSimilarity(tt.a, tt.b)
			assert.InDelta(t, tt.expected, got, 0.001)
			// Symmetry (invariant #9).
			assert.InDelta(t, got, JaccardWordSimilarity(tt.b, tt.a), 0.001)
			assert.GreaterOrEqual(t, got, 0.0)
			assert.LessOrEqual(t, got, 1.0)
		})
	}
}

func TestJaccardWordSimilarity_EqualInputsIsOne(t *testing.T) {
	assert.Equal(t, 1.0, JaccardWordSimilarity("same text here", "same text here"))
}
