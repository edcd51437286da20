// Package tokenest implements component A of the organizer: an approximate
// token estimator and a deterministic truncation operation. Token counts
// are approximated on purpose (spec.md §1 Non-goals: "no bespoke text
// tokenizer"); see tiktoken.go for the optional accurate counter behind the
// same Estimator interface (spec.md §9 Open Question c).
package tokenest

import "math"

// TruncationMarker is appended to text cut short by Truncate.
const TruncationMarker = "\n... [truncated]"

// Estimator approximates and truncates text to a token budget. Both
// implementations in this package satisfy the same contract so callers
// (internal/prompt) never need to know which is active.
type Estimator interface {
	// Estimate returns the approximate token count of text.
	Estimate(text string) int
	// Truncate returns text unchanged if it already fits budget tokens,
	// otherwise a suffix-cut prefix of text with TruncationMarker appended,
	// sized so the result's own Estimate is <= budget; when budget is too
	// small to hold the marker itself, only a prefix of TruncationMarker
	// is returned. budget < 0 is
	// treated as 0; Truncate never returns a result that would need a
	// negative budget.
	Truncate(text string, budget int) string
}

// ApproxEstimator implements the mandated default estimator:
// estimate(text) = ceil(len(text)/4), char-based truncation to fit.
type ApproxEstimator struct{}

var _ Estimator = ApproxEstimator{}

// Estimate implements Estimator.
func (ApproxEstimator) Estimate(text string) int {
	if text == "" {
		return 0
	}
	return int(math.Ceil(float64(len(text)) / 4))
}

// Truncate implements Estimator. It never produces a negative budget and is
// deterministic (no locale sensitivity): truncation is purely a function of
// byte length.
func (e ApproxEstimator) Truncate(text string, budget int) string {
	if budget < 0 {
		budget = 0
	}
	if e.Estimate(text) <= budget {
		return text
	}

	markerTokens := e.Estimate(TruncationMarker)
	if markerTokens >= budget {
		// Budget is too small to fit the marker itself; cut the marker
		// down rather than overshoot the budget.
		return prefixForBudget(TruncationMarker, budget)
	}

	contentBudget := budget - markerTokens
	cut := prefixForBudget(text, contentBudget)
	return cut + TruncationMarker
}

// prefixForBudget returns a prefix of s whose Estimate is <= budget.
func prefixForBudget(s string, budget int) string {
	if budget <= 0 {
		return ""
	}
	maxChars := budget * 4
	if maxChars > len(s) {
		maxChars = len(s)
	}
	return s[:maxChars]
}
