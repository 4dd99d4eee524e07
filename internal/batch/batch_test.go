package batch

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/54b3r/rfpai-go/internal/answer"
	"github.com/54b3r/rfpai-go/internal/chunker"
	"github.com/54b3r/rfpai-go/internal/rag"
	"github.com/54b3r/rfpai-go/internal/task"
)

// stubRetriever returns one fixed match for every question.
type stubRetriever struct {
	matches []rag.Match
	err     error
}

func (s *stubRetriever) Retrieve(_ context.Context, _ string, kbIDs []int64, _ int) ([]rag.Match, error) {
	if s.err != nil {
		return nil, s.err
	}
	if len(kbIDs) == 0 {
		return nil, nil
	}
	return s.matches, nil
}

// trackingGenerator records the peak number of concurrent Generate calls.
type trackingGenerator struct {
	inFlight atomic.Int32
	peak     atomic.Int32
	delay    func(question string) time.Duration
	fail     map[string]bool
}

func (g *trackingGenerator) Generate(ctx context.Context, question string, _ []rag.Match) (string, error) {
	n := g.inFlight.Add(1)
	defer g.inFlight.Add(-1)
	for {
		p := g.peak.Load()
		if n <= p || g.peak.CompareAndSwap(p, n) {
			break
		}
	}
	if g.delay != nil {
		select {
		case <-time.After(g.delay(question)):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if g.fail[question] {
		return "", errors.New("generation failed: upstream 500")
	}
	return "answer to " + question, nil
}

func questions(n int) []Question {
	qs := make([]Question, n)
	for i := range qs {
		qs[i] = Question{ID: int64(100 + i), Number: i + 1, Text: fmt.Sprintf("Question %d?", i+1)}
	}
	return qs
}

// recorder captures every progress report.
type recorder struct {
	mu      sync.Mutex
	reports []int
	steps   []string
}

func (r *recorder) Report(_ context.Context, p int, step string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, p)
	r.steps = append(r.steps, step)
}

var nearMatch = []rag.Match{{Chunk: rag.Chunk{DocumentID: 1, Index: 0, Text: "ctx"}, Distance: 0.2}}

func TestRun_ConcurrencyCap(t *testing.T) {
	t.Parallel()
	gen := &trackingGenerator{delay: func(string) time.Duration { return 15 * time.Millisecond }}
	c, _ := New(&stubRetriever{matches: nearMatch}, gen, &Config{Concurrency: 3})

	answers, err := c.Run(context.Background(), questions(20), []int64{1}, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(answers) != 20 {
		t.Fatalf("got %d answers, want 20", len(answers))
	}
	if peak := gen.peak.Load(); peak > 3 || peak < 1 {
		t.Errorf("peak in-flight = %d, want 1..3", peak)
	}
}

// TestRun_OrderPreserved makes later questions finish first and checks the
// output is still in question-number order.
func TestRun_OrderPreserved(t *testing.T) {
	t.Parallel()
	const n = 8
	gen := &trackingGenerator{delay: func(q string) time.Duration {
		var num int
		_, _ = fmt.Sscanf(q, "Question %d?", &num)
		return time.Duration(n-num) * 5 * time.Millisecond
	}}
	c, _ := New(&stubRetriever{matches: nearMatch}, gen, &Config{Concurrency: n})

	answers, err := c.Run(context.Background(), questions(n), []int64{1}, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	for i, a := range answers {
		if a.QuestionNumber != i+1 {
			t.Fatalf("position %d holds question %d", i, a.QuestionNumber)
		}
	}
}

func TestRun_ProgressMonotonicAndComplete(t *testing.T) {
	t.Parallel()
	c, _ := New(&stubRetriever{matches: nearMatch}, &trackingGenerator{}, &Config{Concurrency: 4})
	rec := &recorder{}

	if _, err := c.Run(context.Background(), questions(7), []int64{1}, rec); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(rec.reports) != 7 {
		t.Fatalf("got %d reports, want 7", len(rec.reports))
	}
	for i := 1; i < len(rec.reports); i++ {
		if rec.reports[i] < rec.reports[i-1] {
			t.Fatalf("progress decreased: %v", rec.reports)
		}
	}
	if rec.reports[6] != 100 || rec.steps[6] != "Generated 7/7 answers" {
		t.Errorf("final report = %d %q", rec.reports[6], rec.steps[6])
	}
	if rec.reports[0] != 14 {
		t.Errorf("first report = %d, want floor(100/7)=14", rec.reports[0])
	}
}

// hashEmbedder maps text to a deterministic 8-dimensional vector.
type hashEmbedder struct{}

func (hashEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		h := fnv.New64a()
		_, _ = h.Write([]byte(t))
		sum := h.Sum64()
		v := make([]float32, 8)
		for j := range v {
			v[j] = float32((sum>>(j*8))&0xff) + 1
		}
		out[i] = v
	}
	return out, nil
}

// TestRun_PartialFailureScenario indexes three documents into twelve chunks,
// fails question 3 and checks every question still gets an answer.
func TestRun_PartialFailureScenario(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	ch, err := chunker.New(&chunker.Config{Size: 100, Overlap: 20})
	if err != nil {
		t.Fatalf("chunker: %v", err)
	}
	idx := rag.NewMemoryIndex()
	total := 0
	for doc := int64(1); doc <= 3; doc++ {
		var text string
		for i := range 4 {
			text += fmt.Sprintf("Document %d section %d describes security controls, uptime and support. ", doc, i)
		}
		spans := ch.Split(text)
		chunks := make([]rag.Chunk, len(spans))
		for i, s := range spans {
			chunks[i] = rag.Chunk{ID: rag.ChunkID(doc, i), DocumentID: doc, Index: i, Total: len(spans), Text: s}
		}
		vecs, _ := hashEmbedder{}.Embed(ctx, spans)
		if err := idx.Upsert(ctx, chunks, vecs); err != nil {
			t.Fatalf("upsert: %v", err)
		}
		total += len(spans)
	}
	if total < 12 {
		t.Fatalf("expected at least 12 chunks, got %d", total)
	}

	r, _ := rag.NewRetriever(hashEmbedder{}, idx, nil)
	gen := &trackingGenerator{fail: map[string]bool{"Question 3?": true}}
	c, _ := New(r, gen, nil)

	answers, err := c.Run(ctx, questions(5), []int64{1, 2, 3}, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(answers) != 5 {
		t.Fatalf("got %d answers, want 5", len(answers))
	}
	for _, a := range answers {
		if a.QuestionNumber == 3 {
			if !a.Failed() || a.Confidence != 0 || a.Text != "" {
				t.Errorf("question 3 should carry an error marker: %+v", a)
			}
			continue
		}
		if a.Failed() || a.Text == "" {
			t.Errorf("question %d should succeed: %+v", a.QuestionNumber, a)
		}
		if a.Confidence < 0.40 || a.Confidence > 0.95 {
			t.Errorf("question %d confidence %v outside [0.40, 0.95]", a.QuestionNumber, a.Confidence)
		}
		if len(a.Sources) == 0 || len(a.Sources) > DefaultMaxSources {
			t.Errorf("question %d has %d sources", a.QuestionNumber, len(a.Sources))
		}
	}
}

func TestRun_EmptyKnowledgeBase(t *testing.T) {
	t.Parallel()
	c, _ := New(&stubRetriever{matches: nearMatch}, &trackingGenerator{}, nil)

	answers, err := c.Run(context.Background(), questions(4), nil, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	for _, a := range answers {
		if a.Confidence != 0.40 || !a.NoContext || a.Note != answer.NoContextAnswer {
			t.Errorf("question %d: confidence %v noContext %v note %q", a.QuestionNumber, a.Confidence, a.NoContext, a.Note)
		}
	}
}

func TestRun_RetrievalFailureIsPerQuestion(t *testing.T) {
	t.Parallel()
	c, _ := New(&stubRetriever{err: fmt.Errorf("%w: qdrant unavailable", rag.ErrRetrieval)}, &trackingGenerator{}, nil)

	answers, err := c.Run(context.Background(), questions(3), []int64{1}, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	for _, a := range answers {
		if !a.Failed() {
			t.Errorf("question %d should be marked failed", a.QuestionNumber)
		}
	}
}

// TestRun_GlobalSemaphore runs two batches that share a process-wide cap of 2.
func TestRun_GlobalSemaphore(t *testing.T) {
	t.Parallel()
	gen := &trackingGenerator{delay: func(string) time.Duration { return 10 * time.Millisecond }}
	c, _ := New(&stubRetriever{matches: nearMatch}, gen, &Config{Concurrency: 5, Global: semaphore.NewWeighted(2)})

	var wg sync.WaitGroup
	for range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.Run(context.Background(), questions(6), []int64{1}, nil); err != nil {
				t.Errorf("Run: %v", err)
			}
		}()
	}
	wg.Wait()
	if peak := gen.peak.Load(); peak > 2 {
		t.Errorf("peak in-flight = %d across batches, want <= 2", peak)
	}
}

func TestRun_Observer(t *testing.T) {
	t.Parallel()
	var seen atomic.Int32
	var failed atomic.Int32
	obs := func(a *answer.Answer, _ time.Duration) {
		seen.Add(1)
		if a.Failed() {
			failed.Add(1)
		}
	}
	gen := &trackingGenerator{fail: map[string]bool{"Question 2?": true}}
	c, _ := New(&stubRetriever{matches: nearMatch}, gen, &Config{Observe: obs})

	if _, err := c.Run(context.Background(), questions(3), []int64{1}, nil); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if seen.Load() != 3 || failed.Load() != 1 {
		t.Errorf("observer saw %d answers, %d failed", seen.Load(), failed.Load())
	}
}

func TestRun_Cancelled(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c, _ := New(&stubRetriever{matches: nearMatch}, &trackingGenerator{}, nil)

	if _, err := c.Run(ctx, questions(3), []int64{1}, task.Discard); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestRun_NoQuestions(t *testing.T) {
	t.Parallel()
	c, _ := New(&stubRetriever{}, &trackingGenerator{}, nil)
	got, err := c.Run(context.Background(), nil, nil, nil)
	if err != nil || len(got) != 0 {
		t.Errorf("Run(nil) = %v, %v", got, err)
	}
}
