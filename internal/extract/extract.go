// Package extract pulls the ordered list of questions out of an RFP's text,
// first with a chat model and then with line heuristics when the model fails
// or returns nothing usable.
package extract

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/rfpai-go/internal/logging"
	"github.com/54b3r/rfpai-go/internal/tracing"
)

const (
	// MaxPromptChars is how much of the RFP text is sent to the model.
	MaxPromptChars = 8000
	// MaxFallbackQuestions caps heuristic extraction.
	MaxFallbackQuestions = 50
	// minQuestionLen drops headings and list noise.
	minQuestionLen = 10

	temperature float32 = 0.3
	maxTokens           = 2000
	defaultTimeout      = 2 * time.Minute
)

// Method reports which path produced the questions.
type Method string

const (
	MethodLLM      Method = "llm"
	MethodFallback Method = "fallback"
)

const systemPrompt = "You are an expert at analyzing RFP documents and extracting questions."

const userTemplate = `You are an expert at analyzing RFP (Request for Proposal) documents.
Extract all questions from the following RFP document. Return only the questions, one per line.
Focus on actual questions that require detailed answers, not simple yes/no questions.

RFP Document:
%s

Return the questions in this exact format:
1. [First question]
2. [Second question]
3. [Third question]
...`

// Extractor extracts questions with an optional chat model. A nil model means
// heuristics only.
type Extractor struct {
	model        model.BaseChatModel
	timeout      time.Duration
	omitSampling bool
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithTimeout bounds the model call.
func WithTimeout(d time.Duration) Option {
	return func(e *Extractor) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithoutSampling omits temperature and max-token options.
func WithoutSampling() Option {
	return func(e *Extractor) { e.omitSampling = true }
}

// New constructs an Extractor.
func New(m model.BaseChatModel, opts ...Option) *Extractor {
	e := &Extractor{model: m, timeout: defaultTimeout}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Extract returns the questions of text in document order. Model errors are
// logged and fall through to the heuristics; Extract itself only fails when
// ctx is done.
func (e *Extractor) Extract(ctx context.Context, text string) ([]string, Method, error) {
	log := logging.FromContext(ctx)

	if e.model != nil {
		qs, err := e.extractLLM(ctx, text)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return nil, "", fmt.Errorf("extract: %w", ctx.Err())
			}
			log.Warn("extract: model extraction failed, using fallback", slog.String("error", err.Error()))
		case len(qs) == 0:
			log.Warn("extract: model returned no questions, using fallback")
		default:
			log.Info("extract: questions extracted", slog.String("method", string(MethodLLM)), slog.Int("count", len(qs)))
			return qs, MethodLLM, nil
		}
	}

	qs := Fallback(text)
	log.Info("extract: questions extracted", slog.String("method", string(MethodFallback)), slog.Int("count", len(qs)))
	return qs, MethodFallback, nil
}

func (e *Extractor) extractLLM(ctx context.Context, text string) ([]string, error) {
	msgs := []*schema.Message{
		schema.SystemMessage(systemPrompt),
		schema.UserMessage(fmt.Sprintf(userTemplate, truncateRunes(text, MaxPromptChars))),
	}
	var opts []model.Option
	if !e.omitSampling {
		opts = append(opts, model.WithTemperature(temperature), model.WithMaxTokens(maxTokens))
	}

	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	resp, err := e.model.Generate(tracing.WithChatRun(callCtx, "extract_questions"), msgs, opts...)
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, nil
	}
	return ParseNumbered(resp.Content), nil
}

// ParseNumbered parses a model reply of one question per line, stripping a
// leading "N." marker and dropping short lines.
func ParseNumbered(content string) []string {
	var out []string
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if unicode.IsDigit(rune(line[0])) {
			head := line
			if len(head) > 5 {
				head = head[:5]
			}
			if strings.Contains(head, ".") {
				line = strings.TrimSpace(line[strings.Index(line, ".")+1:])
			}
		}
		if len([]rune(line)) > minQuestionLen {
			out = append(out, line)
		}
	}
	return out
}

// Fallback extracts questions without a model: lines ending in "?" followed by
// numbered items, trimmed, de-duplicated in first-seen order and capped at
// MaxFallbackQuestions.
func Fallback(text string) []string {
	lines := strings.Split(text, "\n")

	var candidates []string
	for _, l := range lines {
		if l = strings.TrimSpace(l); strings.HasSuffix(l, "?") {
			candidates = append(candidates, l)
		}
	}
	candidates = append(candidates, numberedItems(lines)...)

	seen := make(map[string]struct{}, len(candidates))
	var out []string
	for _, c := range candidates {
		c = strings.TrimSpace(c)
		if len([]rune(c)) <= minQuestionLen {
			continue
		}
		if _, dup := seen[c]; dup {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
		if len(out) == MaxFallbackQuestions {
			break
		}
	}
	return out
}

// numberedItems returns the bodies of "1. ...", "2) ..." items. An item runs
// until the next numbered line or the end of the text.
func numberedItems(lines []string) []string {
	var (
		items   []string
		current []string
		open    bool
	)
	flush := func() {
		if open {
			items = append(items, strings.TrimSpace(strings.Join(current, "\n")))
		}
	}
	for _, l := range lines {
		if body, ok := numberedLine(l); ok {
			flush()
			current = []string{body}
			open = true
			continue
		}
		if open {
			current = append(current, l)
		}
	}
	flush()
	return items
}

// numberedLine reports whether l starts with digits followed by ")", "." or
// whitespace, returning the remainder.
func numberedLine(l string) (string, bool) {
	s := strings.TrimLeftFunc(l, unicode.IsSpace)
	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	if i == 0 || i == len(s) {
		return "", false
	}
	j := i
	for j < len(s) && (s[j] == ')' || s[j] == '.' || s[j] == ' ' || s[j] == '\t') {
		j++
	}
	if j == i {
		return "", false
	}
	return s[j:], true
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
