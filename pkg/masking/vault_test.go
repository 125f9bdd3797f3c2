package masking

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVault_PutThenUnmaskRestoresOriginal(t *testing.T) {
	v := newVault()
	placeholder := v.put("password", "hunter2")

	result := v.unmask(fmt.Sprintf("the value is %s here", placeholder))
	assert.Equal(t, "the value is hunter2 here", result)
}

func TestVault_UnmaskIsOneShot(t *testing.T) {
	v := newVault()
	placeholder := v.put("password", "hunter2")

	text := fmt.Sprintf("value: %s", placeholder)
	first := v.unmask(text)
	assert.Contains(t, first, "hunter2")

	second := v.unmask(text)
	assert.Equal(t, text, second, "consumed placeholder should pass through unchanged on a second unmask")
}

func TestVault_EvictsOldestEntryPastCapacity(t *testing.T) {
	v := newVault()
	first := v.put("password", "oldest-value")

	for i := 0; i < maxVaultEntries; i++ {
		v.put("password", fmt.Sprintf("filler-%d", i))
	}

	result := v.unmask(first)
	assert.Equal(t, first, result, "oldest entry should have been evicted once capacity was exceeded")
}
