package budget

import (
	"strings"
	"testing"

	"github.com/cloudwego/eino/schema"
)

func Test_Estimate(t *testing.T) {
	t.Parallel()
	cases := []struct {
		input string
		want  int
	}{
		{"", 0},
		{"a", 1},        // < 4 chars → 1
		{"abcd", 1},     // exactly 4 chars → 1
		{"abcde", 1},    // 5 chars → 1
		{"abcdefgh", 2}, // 8 chars → 2
		{strings.Repeat("x", 400), 100},
	}
	for _, tc := range cases {
		got := Estimate(tc.input)
		if got != tc.want {
			t.Errorf("Estimate(%q) = %d, want %d", tc.input, got, tc.want)
		}
	}
}

func Test_EstimateMessages(t *testing.T) {
	t.Parallel()
	msgs := []*schema.Message{
		schema.SystemMessage("You write RFP answers."),
		schema.UserMessage("hello world"),
	}
	// system: 4 + Estimate("system")=1 + Estimate(22 chars)=5 → 10
	// user:   4 + Estimate("user")=1 + Estimate("hello world")=2 → 7
	if got := EstimateMessages(msgs); got != 17 {
		t.Errorf("EstimateMessages = %d, want 17", got)
	}
}

func Test_FitContext(t *testing.T) {
	t.Parallel()

	block := strings.Repeat("x", 400) // 100 tokens
	blocks := []string{block, block, block, block}

	cases := []struct {
		name      string
		blocks    []string
		maxTokens int
		want      int
	}{
		{name: "empty", blocks: nil, maxTokens: 100, want: 0},
		{name: "all fit", blocks: blocks, maxTokens: 400, want: 4},
		{name: "drops lowest ranked", blocks: blocks, maxTokens: 250, want: 2},
		{name: "top block kept over budget", blocks: blocks, maxTokens: 50, want: 1},
		{name: "zero budget uses default", blocks: blocks, maxTokens: 0, want: 4},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := FitContext(tc.blocks, tc.maxTokens); got != tc.want {
				t.Errorf("FitContext = %d, want %d", got, tc.want)
			}
		})
	}
}
