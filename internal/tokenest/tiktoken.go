package tokenest

import (
	"fmt"
	"math"
	"sync"

	tiktoken "github.com/pkoukk/tiktoken-go"
)

// TiktokenEstimator is the accurate alternative to ApproxEstimator, used
// when config.TokenizerMode is "tiktoken" (spec.md §9 Open Question c: "if
// the serving model exposes a tokenizer API, prefer it — the public
// contract of §4.B does not change"). It satisfies the same Estimator
// interface, so nothing downstream (internal/budget, internal/prompt)
// changes when it is swapped in.
//
// cl100k_base is used as a fixed encoding: the organizer's models are
// configured by name (config.ModelName) but are not guaranteed to be
// OpenAI models, so there is no reliable per-model encoding lookup the way
// an OpenAI-only client would have. cl100k_base is the same reasonable
// cross-provider approximation the teacher's own DefaultTokenCounterProvider
// falls back to for non-OpenAI model families.
type TiktokenEstimator struct {
	mu       sync.Mutex
	encoding *tiktoken.Tiktoken
}

var _ Estimator = (*TiktokenEstimator)(nil)

// NewTiktokenEstimator loads the cl100k_base BPE encoding. tiktoken-go's
// default loader fetches and locally caches the encoding's rank file on
// first use.
func NewTiktokenEstimator() (*TiktokenEstimator, error) {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return nil, fmt.Errorf("loading cl100k_base encoding: %w", err)
	}
	return &TiktokenEstimator{encoding: enc}, nil
}

// Estimate returns the exact BPE token count.
func (t *TiktokenEstimator) Estimate(text string) int {
	if text == "" {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.encoding.Encode(text, nil, nil))
}

// Truncate performs the same suffix-cut-plus-marker strategy as
// ApproxEstimator but sizes the cut using actual token boundaries rather
// than a 4-bytes-per-token heuristic, via binary search over byte length.
func (t *TiktokenEstimator) Truncate(text string, budget int) string {
	if budget < 0 {
		budget = 0
	}
	if t.Estimate(text) <= budget {
		return text
	}

	markerTokens := t.Estimate(TruncationMarker)
	if markerTokens >= budget {
		return t.prefixForBudget(TruncationMarker, budget)
	}
	contentBudget := budget - markerTokens
	cut := t.prefixForBudget(text, contentBudget)
	return cut + TruncationMarker
}

// prefixForBudget binary-searches the largest byte-length prefix of s whose
// token count is <= budget, then backs off to a valid UTF-8 boundary.
func (t *TiktokenEstimator) prefixForBudget(s string, budget int) string {
	if budget <= 0 {
		return ""
	}
	if t.Estimate(s) <= budget {
		return s
	}

	lo, hi := 0, len(s)
	for lo < hi {
		mid := int(math.Ceil(float64(lo+hi) / 2))
		if t.Estimate(s[:mid]) <= budget {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	for lo > 0 && !isUTF8Boundary(s, lo) {
		lo--
	}
	return s[:lo]
}

func isUTF8Boundary(s string, i int) bool {
	if i == 0 || i == len(s) {
		return true
	}
	return s[i]&0xC0 != 0x80
}
