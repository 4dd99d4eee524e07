package extract

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

type fakeChatModel struct {
	reply string
	err   error
	input []*schema.Message
}

func (f *fakeChatModel) Generate(_ context.Context, msgs []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	f.input = msgs
	if f.err != nil {
		return nil, f.err
	}
	return schema.AssistantMessage(f.reply, nil), nil
}

func (f *fakeChatModel) Stream(context.Context, []*schema.Message, ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("not implemented")
}

const rfp = `ACME Corp Request for Proposal

Section 2: Security
What certifications does your organisation hold?
Describe your incident response process?
1. Describe your data retention policy
   including backups.
2) Provide three customer references
Short?
What certifications does your organisation hold?`

func TestExtract_LLM(t *testing.T) {
	t.Parallel()
	m := &fakeChatModel{reply: "1. What is your uptime SLA commitment?\n2. How is customer data encrypted at rest?\n3. Yes/no\n"}

	got, method, err := New(m).Extract(context.Background(), rfp)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if method != MethodLLM {
		t.Errorf("method = %s, want llm", method)
	}
	want := []string{"What is your uptime SLA commitment?", "How is customer data encrypted at rest?"}
	if !slices.Equal(got, want) {
		t.Errorf("got %q, want %q", got, want)
	}
}

// TestExtract_PromptTruncated verifies only the first MaxPromptChars runes of
// the document reach the model.
func TestExtract_PromptTruncated(t *testing.T) {
	t.Parallel()
	m := &fakeChatModel{reply: "1. A sufficiently long question?"}
	text := strings.Repeat("é", MaxPromptChars) + "TAIL-MARKER"

	if _, _, err := New(m).Extract(context.Background(), text); err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if strings.Contains(m.input[1].Content, "TAIL-MARKER") {
		t.Error("prompt should be truncated before the tail marker")
	}
}

func TestExtract_FallbackOnModelError(t *testing.T) {
	t.Parallel()
	m := &fakeChatModel{err: errors.New("503 service unavailable")}

	got, method, err := New(m).Extract(context.Background(), rfp)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if method != MethodFallback {
		t.Errorf("method = %s, want fallback", method)
	}
	if len(got) == 0 {
		t.Error("expected fallback questions")
	}
}

func TestExtract_FallbackOnEmptyReply(t *testing.T) {
	t.Parallel()
	_, method, err := New(&fakeChatModel{reply: "none"}).Extract(context.Background(), rfp)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if method != MethodFallback {
		t.Errorf("method = %s, want fallback", method)
	}
}

func TestExtract_NilModel(t *testing.T) {
	t.Parallel()
	_, method, err := New(nil).Extract(context.Background(), rfp)
	if err != nil || method != MethodFallback {
		t.Errorf("Extract(nil model) = %s, %v", method, err)
	}
}

func TestFallback(t *testing.T) {
	t.Parallel()

	got := Fallback(rfp)
	want := []string{
		"What certifications does your organisation hold?",
		"Describe your incident response process?",
		"Describe your data retention policy\n   including backups.",
		"Provide three customer references\nShort?\nWhat certifications does your organisation hold?",
	}
	if !slices.Equal(got, want) {
		t.Errorf("Fallback mismatch:\n got %q\nwant %q", got, want)
	}
}

func TestFallback_Cap(t *testing.T) {
	t.Parallel()
	var b strings.Builder
	for i := range 80 {
		fmt.Fprintf(&b, "Question number %d about compliance?\n", i)
	}
	if got := Fallback(b.String()); len(got) != MaxFallbackQuestions {
		t.Errorf("len = %d, want %d", len(got), MaxFallbackQuestions)
	}
}

func TestParseNumbered(t *testing.T) {
	t.Parallel()
	got := ParseNumbered("Here are the questions:\n\n10. Describe the onboarding timeline.\n- short\n")
	want := []string{"Here are the questions:", "Describe the onboarding timeline."}
	if !slices.Equal(got, want) {
		t.Errorf("got %q, want %q", got, want)
	}
}
