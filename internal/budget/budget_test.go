package budget

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func allocByName(allocs []Allocation, name string) int {
	for _, a := range allocs {
		if a.Name == name {
			return a.AllocatedTokens
		}
	}
	return -1
}

func TestAllocate_OneGiantFile(t *testing.T) {
	items := []Item{{"a", 1000}, {"b", 1000}, {"c", 10000}, {"d", 300000}}
	allocs, stats := Allocate(items, 100000)

	require.True(t, stats.ProtectionModeUsed)
	assert.Equal(t, 3, stats.ProtectedCount)
	assert.Equal(t, 1, stats.TruncatedCount)
	assert.Equal(t, 1000, allocByName(allocs, "a"))
	assert.Equal(t, 1000, allocByName(allocs, "b"))
	assert.Equal(t, 10000, allocByName(allocs, "c"))
	assert.Equal(t, 88000, allocByName(allocs, "d"))
}

func TestAllocate_TwoLargeTwoSmall(t *testing.T) {
	items := []Item{{"a", 1000}, {"b", 1000}, {"c", 100000}, {"d", 200000}}
	allocs, stats := Allocate(items, 100000)

	require.True(t, stats.ProtectionModeUsed)
	assert.Equal(t, 1000, allocByName(allocs, "a"))
	assert.Equal(t, 1000, allocByName(allocs, "b"))
	assert.InDelta(t, 32667, allocByName(allocs, "c"), 1)
	assert.InDelta(t, 65333, allocByName(allocs, "d"), 1)

	// Same kept-percentage on c and d.
	c := float64(allocByName(allocs, "c")) / 100000
	d := float64(allocByName(allocs, "d")) / 200000
	assert.InDelta(t, c, d, 0.001)
}

func TestAllocate_Fallback(t *testing.T) {
	items := []Item{{"a", 149}, {"b", 251}}
	allocs, stats := Allocate(items, 100)

	require.False(t, stats.ProtectionModeUsed)
	assert.Equal(t, 0, stats.ProtectedCount)
	assert.InDelta(t, 37.25, allocByName(allocs, "a"), 1)
	assert.InDelta(t, 62.75, allocByName(allocs, "b"), 1)
}

func TestAllocate_NoDeficitKeepsOriginal(t *testing.T) {
	items := []Item{{"a", 10}, {"b", 20}}
	allocs, stats := Allocate(items, 1000)

	assert.False(t, stats.ProtectionModeUsed)
	assert.Equal(t, 10, allocByName(allocs, "a"))
	assert.Equal(t, 20, allocByName(allocs, "b"))
	assert.Equal(t, -30, stats.Deficit)
}

func TestAllocate_AllEqualProducesEqualOutputs(t *testing.T) {
	items := []Item{{"a", 100}, {"b", 100}, {"c", 100}, {"d", 100}}
	allocs, _ := Allocate(items, 200)

	want := allocs[0].AllocatedTokens
	for _, a := range allocs {
		assert.Equal(t, want, a.AllocatedTokens)
	}
}

// Guarantees that must hold for any input (spec §8).
func TestAllocate_Guarantees(t *testing.T) {
	cases := [][]Item{
		{{"a", 1000}, {"b", 1000}, {"c", 10000}, {"d", 300000}},
		{{"a", 1000}, {"b", 1000}, {"c", 100000}, {"d", 200000}},
		{{"a", 149}, {"b", 251}},
		{{"a", 5}, {"b", 5}, {"c", 5}},
		{{"solo", 42}},
	}
	targets := []int{0, 1, 50, 100, 100000}

	for _, items := range cases {
		for _, target := range targets {
			allocs, stats := Allocate(items, target)
			sum := 0
			for i, a := range allocs {
				assert.GreaterOrEqualf(t, a.AllocatedTokens, 0, "item %d", i)
				assert.LessOrEqualf(t, a.AllocatedTokens, a.Tokens, "item %d", i)
				sum += a.AllocatedTokens
			}
			if stats.Deficit > 0 {
				assert.InDeltaf(t, target, sum, float64(len(items)+1), "target=%d items=%v", target, items)
			}
			if stats.ProtectionModeUsed {
				total := 0
				for _, it := range items {
					total += it.Tokens
				}
				avg := float64(stats.Deficit) / float64(len(items))
				for _, it := range items {
					if float64(it.Tokens) < avg {
						assert.Equal(t, it.Tokens, allocByName(allocs, it.Name))
					}
				}
			}
		}
	}
}
