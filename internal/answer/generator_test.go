package answer

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/rfpai-go/internal/rag"
)

// fakeChatModel records the last request and returns a canned reply.
type fakeChatModel struct {
	mu    sync.Mutex
	msgs  []*schema.Message
	opts  *model.Options
	reply string
	err   error
	delay time.Duration
}

func (f *fakeChatModel) Generate(ctx context.Context, msgs []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	f.mu.Lock()
	f.msgs = msgs
	f.opts = model.GetCommonOptions(&model.Options{}, opts...)
	f.mu.Unlock()

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return schema.AssistantMessage(f.reply, nil), nil
}

func (f *fakeChatModel) Stream(context.Context, []*schema.Message, ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("not implemented")
}

func match(doc int64, i int, text string, d float64) rag.Match {
	return rag.Match{Chunk: rag.Chunk{ID: rag.ChunkID(doc, i), DocumentID: doc, Index: i, Text: text}, Distance: d}
}

func TestGenerator_PromptCarriesSources(t *testing.T) {
	t.Parallel()
	m := &fakeChatModel{reply: "  We guarantee 99.95% uptime.\n"}
	g, err := NewGenerator(m, nil)
	if err != nil {
		t.Fatalf("NewGenerator: %v", err)
	}

	got, err := g.Generate(context.Background(), "What is your uptime SLA?", []rag.Match{
		match(1, 0, "Uptime SLA is 99.95% monthly.", 0.1),
		match(2, 3, "Service credits apply below the SLA.", 0.3),
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if got != "  We guarantee 99.95% uptime.\n" {
		t.Errorf("answer = %q, want the reply verbatim", got)
	}

	if len(m.msgs) != 2 || m.msgs[0].Role != schema.System {
		t.Fatalf("expected system + user messages, got %d", len(m.msgs))
	}
	user := m.msgs[1].Content
	for _, want := range []string{"[Source 1]: Uptime SLA is 99.95% monthly.", "[Source 2]: Service credits", "Question: What is your uptime SLA?"} {
		if !strings.Contains(user, want) {
			t.Errorf("user prompt missing %q", want)
		}
	}
	if m.opts.Temperature == nil || *m.opts.Temperature != DefaultTemperature {
		t.Errorf("temperature option = %v, want %v", m.opts.Temperature, DefaultTemperature)
	}
	if m.opts.MaxTokens == nil || *m.opts.MaxTokens != DefaultMaxTokens {
		t.Errorf("max tokens option = %v, want %d", m.opts.MaxTokens, DefaultMaxTokens)
	}
}

// TestGenerator_EmptyContext verifies the prompt instructs the model to state
// that nothing was found instead of answering from thin air.
func TestGenerator_EmptyContext(t *testing.T) {
	t.Parallel()
	m := &fakeChatModel{reply: "No supporting information was found."}
	g, _ := NewGenerator(m, nil)

	if _, err := g.Generate(context.Background(), "Do you support SAML?", nil); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	user := m.msgs[1].Content
	if strings.Contains(user, "[Source") {
		t.Error("empty-context prompt should not contain sources")
	}
	if !strings.Contains(user, "no supporting information was found") {
		t.Errorf("empty-context prompt missing instruction: %q", user)
	}
}

func TestGenerator_OmitSampling(t *testing.T) {
	t.Parallel()
	m := &fakeChatModel{reply: "ok"}
	g, _ := NewGenerator(m, &Config{OmitSampling: true})

	if _, err := g.Generate(context.Background(), "q?", nil); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if m.opts.Temperature != nil || m.opts.MaxTokens != nil {
		t.Error("sampling options should be omitted")
	}
}

func TestGenerator_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		model *fakeChatModel
		cfg   *Config
	}{
		{name: "model error", model: &fakeChatModel{err: errors.New("quota exceeded")}},
		{name: "empty reply", model: &fakeChatModel{reply: "   "}},
		{name: "timeout", model: &fakeChatModel{reply: "late", delay: time.Second}, cfg: &Config{Timeout: 20 * time.Millisecond}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			g, _ := NewGenerator(tc.model, tc.cfg)
			_, err := g.Generate(context.Background(), "q?", nil)
			if !errors.Is(err, ErrGeneration) {
				t.Errorf("expected ErrGeneration, got %v", err)
			}
		})
	}
}

func TestBuildUserPrompt_TrimsLowestRanked(t *testing.T) {
	t.Parallel()
	long := strings.Repeat("a", 400) // 100 tokens
	matches := []rag.Match{match(1, 0, long, 0.1), match(1, 1, long, 0.2), match(1, 2, "tail chunk", 0.3)}

	prompt, used := buildUserPrompt("q?", matches, 210)
	if used != 2 {
		t.Fatalf("used = %d, want 2", used)
	}
	if strings.Contains(prompt, "tail chunk") {
		t.Error("lowest-ranked chunk should be dropped")
	}
}

func TestNewGenerator_NilModel(t *testing.T) {
	t.Parallel()
	if _, err := NewGenerator(nil, nil); err == nil {
		t.Error("expected error for nil model")
	}
}
