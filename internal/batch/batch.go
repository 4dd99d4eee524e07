// Package batch answers a list of questions concurrently under a fixed
// in-flight cap and reports progress as each answer completes.
package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/54b3r/rfpai-go/internal/answer"
	"github.com/54b3r/rfpai-go/internal/confidence"
	"github.com/54b3r/rfpai-go/internal/logging"
	"github.com/54b3r/rfpai-go/internal/rag"
	"github.com/54b3r/rfpai-go/internal/task"
)

const (
	// DefaultConcurrency is the per-batch cap on in-flight questions.
	DefaultConcurrency = 5
	// DefaultMaxSources is how many matches are stored on an answer.
	DefaultMaxSources = 3
)

// Retriever finds supporting chunks for a question.
type Retriever interface {
	Retrieve(ctx context.Context, question string, documentIDs []int64, k int) ([]rag.Match, error)
}

// Generator produces answer text from a question and its chunks.
type Generator interface {
	Generate(ctx context.Context, question string, matches []rag.Match) (string, error)
}

// Question is one unit of work. Number is its ordinal in the RFP.
type Question struct {
	ID     int64
	Number int
	Text   string
}

// Observer is called once per finished answer, failed or not.
type Observer func(a *answer.Answer, elapsed time.Duration)

// Config tunes a Coordinator. Zero values select the defaults.
type Config struct {
	// Concurrency caps in-flight questions within one Run.
	Concurrency int
	// TopK is passed to the retriever; 0 uses the retriever default.
	TopK int
	// MaxSources caps the sources stored per answer.
	MaxSources int
	// Policy maps retrieval distance to confidence.
	Policy *confidence.Policy
	// Global, when set, is a process-wide cap on concurrent generation
	// calls shared by every Run.
	Global *semaphore.Weighted
	// Observe receives every finished answer.
	Observe Observer
}

// Coordinator runs question batches. One Coordinator may serve many
// concurrent Runs.
type Coordinator struct {
	retriever Retriever
	generator Generator
	cfg       Config
	now       func() time.Time
}

// New constructs a Coordinator.
func New(r Retriever, g Generator, cfg *Config) (*Coordinator, error) {
	if r == nil || g == nil {
		return nil, fmt.Errorf("batch: retriever and generator must not be nil")
	}
	c := &Coordinator{retriever: r, generator: g, now: time.Now}
	if cfg != nil {
		c.cfg = *cfg
	}
	if c.cfg.Concurrency <= 0 {
		c.cfg.Concurrency = DefaultConcurrency
	}
	if c.cfg.MaxSources <= 0 {
		c.cfg.MaxSources = DefaultMaxSources
	}
	if c.cfg.Policy == nil {
		c.cfg.Policy = confidence.DefaultPolicy
	}
	return c, nil
}

// progress is the only state shared between workers.
type progress struct {
	mu        sync.Mutex
	completed int
	total     int
	answers   []answer.Answer
	reporter  task.Reporter
}

// record appends a finished answer and publishes progress. The count and the
// publish happen under one lock so reports are never lost or reordered.
func (p *progress) record(ctx context.Context, a answer.Answer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.completed++
	p.answers = append(p.answers, a)
	p.reporter.Report(ctx, 100*p.completed/p.total, fmt.Sprintf("Generated %d/%d answers", p.completed, p.total))
}

// Run answers every question against the knowledge-base documents kbIDs and
// returns the answers in question-number order. Per-question failures become
// answers with an error marker and never stop sibling work. Run returns an
// error only when ctx ends before every question was attempted.
func (c *Coordinator) Run(ctx context.Context, questions []Question, kbIDs []int64, reporter task.Reporter) ([]answer.Answer, error) {
	if len(questions) == 0 {
		return nil, nil
	}
	if reporter == nil {
		reporter = task.Discard
	}

	queue := make(chan Question, len(questions))
	for _, q := range questions {
		queue <- q
	}
	close(queue)

	p := &progress{total: len(questions), answers: make([]answer.Answer, 0, len(questions)), reporter: reporter}

	var g errgroup.Group
	for range min(c.cfg.Concurrency, len(questions)) {
		g.Go(func() error {
			for q := range queue {
				if err := ctx.Err(); err != nil {
					return err
				}
				a := c.answerOne(ctx, q, kbIDs)
				p.record(ctx, a)
			}
			return nil
		})
	}
	err := g.Wait()

	slices.SortStableFunc(p.answers, func(a, b answer.Answer) int {
		return a.QuestionNumber - b.QuestionNumber
	})
	if err != nil {
		return p.answers, fmt.Errorf("batch: %w", err)
	}
	return p.answers, nil
}

// answerOne runs retrieve, generate and score for one question.
func (c *Coordinator) answerOne(ctx context.Context, q Question, kbIDs []int64) answer.Answer {
	log := logging.FromContext(ctx).With(slog.Int("question_number", q.Number))
	start := time.Now()

	a := answer.Answer{
		QuestionID:     q.ID,
		QuestionNumber: q.Number,
		QuestionText:   q.Text,
	}
	fail := func(err error) answer.Answer {
		log.Warn("batch: question failed", slog.String("error", err.Error()))
		a.Text = ""
		a.Confidence = 0
		a.Sources = nil
		a.Error = err.Error()
		a.GeneratedAt = c.now().UTC()
		c.observe(&a, start)
		return a
	}

	matches, err := c.retriever.Retrieve(ctx, q.Text, kbIDs, c.cfg.TopK)
	if err != nil {
		return fail(err)
	}

	if c.cfg.Global != nil {
		if err := c.cfg.Global.Acquire(ctx, 1); err != nil {
			return fail(fmt.Errorf("waiting for generation slot: %w", err))
		}
	}
	text, err := c.generator.Generate(ctx, q.Text, matches)
	if c.cfg.Global != nil {
		c.cfg.Global.Release(1)
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("generation timed out: %w", err)
		}
		return fail(err)
	}

	score, noContext := c.cfg.Policy.Score(matches)
	a.Text = text
	a.Confidence = score
	if noContext {
		a.MarkNoContext()
	}
	a.Sources = sources(matches, c.cfg.MaxSources)
	a.GeneratedAt = c.now().UTC()

	log.Debug("batch: question answered",
		slog.Float64("confidence", a.Confidence),
		slog.Int("matches", len(matches)),
		slog.Duration("duration", time.Since(start)),
	)
	c.observe(&a, start)
	return a
}

func (c *Coordinator) observe(a *answer.Answer, start time.Time) {
	if c.cfg.Observe != nil {
		c.cfg.Observe(a, time.Since(start))
	}
}

func sources(matches []rag.Match, limit int) []answer.Source {
	n := min(len(matches), limit)
	out := make([]answer.Source, n)
	for i, m := range matches[:n] {
		out[i] = answer.Source{
			DocumentID:     m.Chunk.DocumentID,
			ChunkIndex:     m.Chunk.Index,
			RelevanceScore: m.Similarity(),
		}
	}
	return out
}
