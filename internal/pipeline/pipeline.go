// Package pipeline drives one processing task end to end: index the
// knowledge base, extract the RFP's questions, answer them in a batch and
// record the result on the task.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/54b3r/rfpai-go/internal/answer"
	"github.com/54b3r/rfpai-go/internal/batch"
	"github.com/54b3r/rfpai-go/internal/extract"
	"github.com/54b3r/rfpai-go/internal/logging"
	"github.com/54b3r/rfpai-go/internal/store"
	"github.com/54b3r/rfpai-go/internal/task"
)

var (
	// ErrRFPNotFound fails a task whose RFP document does not exist.
	ErrRFPNotFound = errors.New("RFP document not found")
	// ErrKnowledgeBaseMissing fails a task with no knowledge base when one is required.
	ErrKnowledgeBaseMissing = errors.New("no knowledge base documents supplied")
	// ErrNoQuestions fails a task whose RFP yields no questions.
	ErrNoQuestions = errors.New("no questions found in RFP document")
	// ErrAllAnswersFailed fails a task in which every question failed.
	ErrAllAnswersFailed = errors.New("every answer failed")
)

// Progress checkpoints of the task phases.
const (
	progressIndexing   = 10
	progressIndexed    = 40
	progressExtracting = 40
	progressAnswering  = 50
)

// Documents is the document-store surface the pipeline uses.
type Documents interface {
	GetDocument(ctx context.Context, id int64) (*store.Document, error)
	EnsureQuestions(ctx context.Context, documentID int64, texts []string) ([]store.Question, bool, error)
	ListQuestions(ctx context.Context, documentID int64) ([]store.Question, error)
	SaveAnswers(ctx context.Context, answers []*answer.Answer) error
}

// Indexer makes sure one knowledge-base document is present in the vector
// index, indexing it when the index lacks its chunks.
type Indexer interface {
	Ensure(ctx context.Context, documentID int64) (int, error)
}

// Extractor turns RFP text into ordered question texts.
type Extractor interface {
	Extract(ctx context.Context, text string) ([]string, extract.Method, error)
}

// Answerer answers a batch of questions.
type Answerer interface {
	Run(ctx context.Context, questions []batch.Question, kbIDs []int64, reporter task.Reporter) ([]answer.Answer, error)
}

// Config holds pipeline policy.
type Config struct {
	// RequireKnowledgeBase fails tasks submitted without knowledge-base ids.
	RequireKnowledgeBase bool
}

// Processor runs tasks. It is safe for concurrent use; each Process call
// touches only its own task.
type Processor struct {
	docs      Documents
	indexer   Indexer
	extractor Extractor
	answerer  Answerer
	tasks     task.Store
	cfg       Config
}

// New constructs a Processor.
func New(docs Documents, ix Indexer, ex Extractor, an Answerer, tasks task.Store, cfg *Config) (*Processor, error) {
	if docs == nil || ix == nil || ex == nil || an == nil || tasks == nil {
		return nil, fmt.Errorf("pipeline: all dependencies must be non-nil")
	}
	p := &Processor{docs: docs, indexer: ix, extractor: ex, answerer: an, tasks: tasks}
	if cfg != nil {
		p.cfg = *cfg
	}
	return p, nil
}

// Process drives the pending task id to a terminal state. Task-level
// failures are recorded on the task and also returned; per-question failures
// are not errors.
func (p *Processor) Process(ctx context.Context, id string) error {
	ctx = logging.WithTask(ctx, id)
	log := logging.FromContext(ctx)
	start := time.Now()

	t, err := p.tasks.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("pipeline: load task: %w", err)
	}
	if err := p.tasks.Start(ctx, id); err != nil {
		return fmt.Errorf("pipeline: start task: %w", err)
	}
	log.Info("pipeline: task started",
		slog.Int64("rfp_document_id", t.Input.RFPDocumentID),
		slog.Int("knowledge_base_documents", len(t.Input.KnowledgeBaseIDs)),
		slog.Bool("generate_answers", t.Input.GenerateAnswers),
	)

	result, err := p.run(ctx, id, t.Input)
	// The terminal state is recorded even when ctx was cancelled mid-run.
	finalCtx := context.WithoutCancel(ctx)
	if err != nil {
		log.Error("pipeline: task failed", slog.String("error", err.Error()), slog.Duration("duration", time.Since(start)))
		if ferr := p.tasks.Fail(finalCtx, id, err.Error()); ferr != nil {
			log.Error("pipeline: recording failure", slog.String("error", ferr.Error()))
		}
		return err
	}

	if err := p.tasks.Complete(finalCtx, id, result); err != nil {
		return fmt.Errorf("pipeline: complete task: %w", err)
	}
	log.Info("pipeline: task completed",
		slog.Int("questions", result.QuestionsCount),
		slog.Int("answers", result.AnswersCount),
		slog.Int("failed", result.FailedCount),
		slog.Duration("duration", time.Since(start)),
	)
	return nil
}

func (p *Processor) run(ctx context.Context, id string, in task.Input) (*task.Result, error) {
	report := task.StoreReporter(p.tasks, id)

	rfp, err := p.docs.GetDocument(ctx, in.RFPDocumentID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %d", ErrRFPNotFound, in.RFPDocumentID)
	}
	if err != nil {
		return nil, err
	}
	if rfp.Type != store.DocTypeRFP {
		return nil, fmt.Errorf("%w: document %d is %s", ErrRFPNotFound, rfp.ID, rfp.Type)
	}
	if len(in.KnowledgeBaseIDs) == 0 && p.cfg.RequireKnowledgeBase {
		return nil, ErrKnowledgeBaseMissing
	}

	unindexed := p.indexKnowledgeBase(ctx, in.KnowledgeBaseIDs, report)

	report.Report(ctx, progressExtracting, "Extracting questions from RFP")
	questions, err := p.questions(ctx, rfp)
	if err != nil {
		return nil, err
	}

	result := &task.Result{RFPDocumentID: rfp.ID, QuestionsCount: len(questions), UnindexedDocuments: unindexed}
	if !in.GenerateAnswers {
		result.Questions = make([]task.QuestionRef, len(questions))
		for i, q := range questions {
			result.Questions[i] = task.QuestionRef{ID: q.ID, Number: q.Number, Text: q.Text}
		}
		return result, nil
	}

	report.Report(ctx, progressAnswering, fmt.Sprintf("Generating answers for %d questions", len(questions)))
	work := make([]batch.Question, len(questions))
	for i, q := range questions {
		work[i] = batch.Question{ID: q.ID, Number: q.Number, Text: q.Text}
	}
	answers, err := p.answerer.Run(ctx, work, in.KnowledgeBaseIDs, task.Span(report, progressAnswering, task.MaxRunningProgress))
	if err != nil {
		return nil, fmt.Errorf("pipeline: answering questions: %w", err)
	}

	ptrs := make([]*answer.Answer, len(answers))
	for i := range answers {
		ptrs[i] = &answers[i]
		if answers[i].Failed() {
			result.FailedCount++
		}
	}
	if len(answers) > 0 && result.FailedCount == len(answers) {
		return nil, fmt.Errorf("%w (%d questions): %s", ErrAllAnswersFailed, len(answers), answers[0].Error)
	}
	if err := p.docs.SaveAnswers(ctx, ptrs); err != nil {
		return nil, fmt.Errorf("pipeline: saving answers: %w", err)
	}

	result.AnswersCount = len(answers)
	result.Answers = answers
	return result, nil
}

// indexKnowledgeBase ensures every knowledge-base document of the task is in
// the vector index and returns the ids it could not index. The processed flag
// alone is not trusted: a processed document whose chunks are missing from the
// index is indexed again. Failures are logged and leave the document
// unprocessed.
func (p *Processor) indexKnowledgeBase(ctx context.Context, ids []int64, report task.Reporter) []int64 {
	log := logging.FromContext(ctx)
	n := len(ids)
	report.Report(ctx, progressIndexing, fmt.Sprintf("Processing %d knowledge base documents", n))

	var failed []int64
	for i, docID := range ids {
		doc, err := p.docs.GetDocument(ctx, docID)
		switch {
		case err != nil:
			log.Warn("pipeline: knowledge base document unavailable", slog.Int64("document_id", docID), slog.String("error", err.Error()))
			failed = append(failed, docID)
		case doc.Type != store.DocTypeKnowledgeBase:
			log.Warn("pipeline: skipping non knowledge base document", slog.Int64("document_id", docID), slog.String("doc_type", string(doc.Type)))
		default:
			if _, err := p.indexer.Ensure(ctx, docID); err != nil {
				log.Error("pipeline: indexing failed", slog.Int64("document_id", docID), slog.String("error", err.Error()))
				failed = append(failed, docID)
			}
		}
		report.Report(ctx, progressIndexing+(progressIndexed-progressIndexing)*(i+1)/n,
			fmt.Sprintf("Indexed %d/%d knowledge base documents", i+1, n))
	}
	return failed
}

// questions returns the stored questions of rfp, extracting them on first use.
func (p *Processor) questions(ctx context.Context, rfp *store.Document) ([]store.Question, error) {
	existing, err := p.docs.ListQuestions(ctx, rfp.ID)
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		return existing, nil
	}

	texts, method, err := p.extractor.Extract(ctx, rfp.Text)
	if err != nil {
		return nil, fmt.Errorf("pipeline: extracting questions: %w", err)
	}
	if len(texts) == 0 {
		return nil, ErrNoQuestions
	}
	logging.FromContext(ctx).Debug("pipeline: questions extracted",
		slog.Int("count", len(texts)),
		slog.String("method", string(method)),
	)

	qs, _, err := p.docs.EnsureQuestions(ctx, rfp.ID, texts)
	if err != nil {
		return nil, err
	}
	return qs, nil
}
