// Package budget implements component B of the organizer: the
// progressive-tax allocator that distributes a fixed token budget across N
// items fairly, sparing small items when feasible. The two-mode algorithm
// (protection vs fallback) is specified exactly in spec.md §4.B; this
// package is a direct, literal implementation of it — there is no analogous
// teacher algorithm to adapt (the teacher's internal/repomap/budget.go
// solves a different problem, binary-search best-fit over ordered stage
// entries, not proportional tax allocation — see DESIGN.md).
package budget

// Item is one thing competing for token budget.
type Item struct {
	Name   string
	Tokens int
}

// Allocation is one item's resulting share of the target budget.
type Allocation struct {
	Name            string
	Tokens          int
	AllocatedTokens int
}

// Stats summarizes how the allocator distributed the budget.
type Stats struct {
	TotalOriginalTokens int
	TargetTokens        int
	Deficit             int
	ProtectionModeUsed  bool
	ProtectedCount      int
	TruncatedCount      int
}

// Allocate runs the progressive-tax algorithm of spec.md §4.B over items,
// distributing target tokens among them. The guarantees in spec.md §4.B and
// §8 hold for any input: Σallocated == target (within rounding, when
// deficit > 0); 0 <= allocated_i <= tokens_i; below-average items are
// spared whenever that's feasible; equal inputs produce equal outputs.
func Allocate(items []Item, target int) ([]Allocation, Stats) {
	total := 0
	for _, it := range items {
		total += it.Tokens
	}

	stats := Stats{
		TotalOriginalTokens: total,
		TargetTokens:        target,
		Deficit:             total - target,
	}

	if stats.Deficit <= 0 || len(items) == 0 {
		out := make([]Allocation, len(items))
		for i, it := range items {
			out[i] = Allocation{Name: it.Name, Tokens: it.Tokens, AllocatedTokens: it.Tokens}
		}
		return out, stats
	}

	n := len(items)
	avg := float64(stats.Deficit) / float64(n)

	var belowIdx, aboveIdx []int
	sumBelow := 0
	sumAbove := 0
	for i, it := range items {
		if float64(it.Tokens) < avg {
			belowIdx = append(belowIdx, i)
			sumBelow += it.Tokens
		} else {
			aboveIdx = append(aboveIdx, i)
			sumAbove += it.Tokens
		}
	}

	out := make([]Allocation, n)

	feasible := sumBelow <= target
	if feasible && len(aboveIdx) > 0 {
		// Protection mode: spare every below-average item in full, tax
		// above-average items proportionally to their share of the total
		// above-average mass.
		stats.ProtectionModeUsed = true
		stats.ProtectedCount = len(belowIdx)

		for _, i := range belowIdx {
			out[i] = Allocation{Name: items[i].Name, Tokens: items[i].Tokens, AllocatedTokens: items[i].Tokens}
		}
		for _, i := range aboveIdx {
			tokens := items[i].Tokens
			var tax float64
			if sumAbove > 0 {
				tax = (float64(tokens) / float64(sumAbove)) * float64(stats.Deficit)
			}
			allocated := int(round(float64(tokens) - tax))
			if allocated < 0 {
				allocated = 0
			}
			if allocated > tokens {
				allocated = tokens
			}
			out[i] = Allocation{Name: items[i].Name, Tokens: tokens, AllocatedTokens: allocated}
			if allocated < tokens {
				stats.TruncatedCount++
			}
		}
		return out, stats
	}

	// Fallback mode: not feasible to protect every below-average item (or
	// there were no above-average items to tax), so tax everyone
	// proportionally to their share of the total.
	stats.ProtectionModeUsed = false
	stats.ProtectedCount = 0
	for i, it := range items {
		var tax float64
		if total > 0 {
			tax = (float64(it.Tokens) / float64(total)) * float64(stats.Deficit)
		}
		allocated := int(round(float64(it.Tokens) - tax))
		if allocated < 0 {
			allocated = 0
		}
		if allocated > it.Tokens {
			allocated = it.Tokens
		}
		out[i] = Allocation{Name: it.Name, Tokens: it.Tokens, AllocatedTokens: allocated}
		if allocated < it.Tokens {
			stats.TruncatedCount++
		}
	}
	return out, stats
}

func round(f float64) float64 {
	if f >= 0 {
		return float64(int64(f + 0.5))
	}
	return float64(int64(f - 0.5))
}
