// Package budget provides token budget estimation and context trimming for
// answer prompts. Because several LLM backends with different tokenizers are
// supported, it uses a conservative character heuristic: 1 token ≈ 4
// characters of English prose.
package budget

import (
	"github.com/cloudwego/eino/schema"
)

const (
	// charsPerToken is the character-to-token ratio used for estimation.
	charsPerToken = 4

	// DefaultMaxContextTokens is the default input budget for retrieved
	// context. It fits 8k-context models while leaving room for the answer.
	DefaultMaxContextTokens = 6000
)

// Estimate returns a rough token count for s using the character heuristic.
func Estimate(s string) int {
	n := len(s) / charsPerToken
	if n == 0 && len(s) > 0 {
		return 1
	}
	return n
}

// EstimateMessages returns the estimated total token count for msgs, summing
// role and content with a small per-message overhead.
func EstimateMessages(msgs []*schema.Message) int {
	total := 0
	for _, m := range msgs {
		total += 4
		total += Estimate(string(m.Role))
		total += Estimate(m.Content)
	}
	return total
}

// FitContext returns how many of the ranked context blocks fit in maxTokens.
// Blocks are kept in rank order, so the lowest-ranked ones are dropped first.
// The top block is always kept, even when it alone exceeds the budget, so a
// question that retrieved something is never answered without context.
func FitContext(blocks []string, maxTokens int) int {
	if len(blocks) == 0 {
		return 0
	}
	if maxTokens <= 0 {
		maxTokens = DefaultMaxContextTokens
	}
	used := Estimate(blocks[0])
	n := 1
	for _, b := range blocks[1:] {
		cost := Estimate(b)
		if used+cost > maxTokens {
			break
		}
		used += cost
		n++
	}
	return n
}
