// Package answer turns a question and its retrieved chunks into answer text
// through a chat model.
package answer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/rfpai-go/internal/budget"
	"github.com/54b3r/rfpai-go/internal/logging"
	"github.com/54b3r/rfpai-go/internal/tracing"
	"github.com/54b3r/rfpai-go/internal/rag"
)

const (
	// DefaultTemperature is the sampling temperature for answers.
	DefaultTemperature float32 = 0.7
	// DefaultMaxTokens caps the answer length.
	DefaultMaxTokens = 500
	// DefaultTimeout bounds one completion call.
	DefaultTimeout = 60 * time.Second
)

// ErrGeneration marks completion failures (timeout, quota, empty response).
var ErrGeneration = errors.New("generation failed")

// Config tunes a Generator. Zero values select the defaults.
type Config struct {
	Temperature float32
	MaxTokens   int
	Timeout     time.Duration
	// MaxContextTokens bounds the [Source i] context; see budget.FitContext.
	MaxContextTokens int
	// OmitSampling skips temperature and max-token options for models that
	// reject them.
	OmitSampling bool
}

// Generator produces answer text with a chat model. It is safe for
// concurrent use when the underlying model is.
type Generator struct {
	model model.BaseChatModel
	cfg   Config
}

// NewGenerator constructs a Generator around m.
func NewGenerator(m model.BaseChatModel, cfg *Config) (*Generator, error) {
	if m == nil {
		return nil, fmt.Errorf("answer: chat model must not be nil")
	}
	g := &Generator{model: m}
	if cfg != nil {
		g.cfg = *cfg
	}
	if g.cfg.Temperature <= 0 {
		g.cfg.Temperature = DefaultTemperature
	}
	if g.cfg.MaxTokens <= 0 {
		g.cfg.MaxTokens = DefaultMaxTokens
	}
	if g.cfg.Timeout <= 0 {
		g.cfg.Timeout = DefaultTimeout
	}
	if g.cfg.MaxContextTokens <= 0 {
		g.cfg.MaxContextTokens = budget.DefaultMaxContextTokens
	}
	return g, nil
}

// Generate answers question from matches. With no matches the prompt asks
// the model to say that no supporting information was found. The returned
// text is stored verbatim.
func (g *Generator) Generate(ctx context.Context, question string, matches []rag.Match) (string, error) {
	log := logging.FromContext(ctx)

	prompt, used := buildUserPrompt(question, matches, g.cfg.MaxContextTokens)
	if used < len(matches) {
		log.Debug("answer: context trimmed to budget",
			slog.Int("retrieved", len(matches)),
			slog.Int("used", used),
		)
	}
	msgs := []*schema.Message{
		schema.SystemMessage(systemPrompt),
		schema.UserMessage(prompt),
	}

	var opts []model.Option
	if !g.cfg.OmitSampling {
		opts = append(opts, model.WithTemperature(g.cfg.Temperature), model.WithMaxTokens(g.cfg.MaxTokens))
	}

	callCtx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	start := time.Now()
	resp, err := g.model.Generate(tracing.WithChatRun(callCtx, "generate_answer"), msgs, opts...)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrGeneration, err)
	}
	if resp == nil || strings.TrimSpace(resp.Content) == "" {
		return "", fmt.Errorf("%w: empty completion", ErrGeneration)
	}

	log.Debug("answer: generated",
		slog.Int("prompt_tokens_est", budget.EstimateMessages(msgs)),
		slog.Duration("duration", time.Since(start)),
	)
	return resp.Content, nil
}
