// Package task implements the processing-task state machine:
// pending → processing → {completed, failed}. Terminal states are final and
// progress never decreases.
package task

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/54b3r/rfpai-go/internal/answer"
)

// Status is the lifecycle state of a task.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether s admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// MaxRunningProgress is the highest progress a task may report before it
// completes; 100 is reserved for completed tasks.
const MaxRunningProgress = 99

var (
	// ErrNotFound is returned for unknown task IDs.
	ErrNotFound = errors.New("task not found")
	// ErrInvalidTransition is returned when an operation is not allowed in
	// the task's current state.
	ErrInvalidTransition = errors.New("invalid task state transition")
)

// Input is what a task was asked to do.
type Input struct {
	RFPDocumentID    int64   `json:"rfp_document_id"`
	KnowledgeBaseIDs []int64 `json:"knowledge_base_ids"`
	GenerateAnswers  bool    `json:"generate_answers"`
}

// Result is the payload of a completed task.
type Result struct {
	RFPDocumentID  int64 `json:"rfp_document_id"`
	QuestionsCount int   `json:"questions_count"`
	// AnswersCount counts every answer, including error-marked ones.
	AnswersCount int `json:"answers_count"`
	// FailedCount counts answers carrying an error marker.
	FailedCount int             `json:"failed_count"`
	Answers     []answer.Answer `json:"answers"`
	// Questions is set only when answers were not requested.
	Questions []QuestionRef `json:"questions,omitempty"`
	// UnindexedDocuments lists knowledge-base documents that could not be
	// indexed; answers drew no context from them.
	UnindexedDocuments []int64 `json:"unindexed_documents,omitempty"`
}

// QuestionRef identifies an extracted question in a result.
type QuestionRef struct {
	ID     int64  `json:"question_id"`
	Number int    `json:"question_number"`
	Text   string `json:"question_text"`
}

// Task is a snapshot of one processing job.
type Task struct {
	ID          string    `json:"task_id"`
	Input       Input     `json:"input"`
	Status      Status    `json:"status"`
	Progress    int       `json:"progress"`
	CurrentStep string    `json:"current_step"`
	Result      *Result   `json:"result,omitempty"`
	Error       string    `json:"error,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Clone returns a copy that shares no mutable state with t.
func (t *Task) Clone() *Task {
	c := *t
	c.Input.KnowledgeBaseIDs = slices.Clone(t.Input.KnowledgeBaseIDs)
	if t.Result != nil {
		r := *t.Result
		r.Answers = slices.Clone(t.Result.Answers)
		r.Questions = slices.Clone(t.Result.Questions)
		c.Result = &r
	}
	return &c
}

// Store persists tasks. Implementations must give atomic snapshot reads
// while updates are in flight and must scope locking to a single task.
type Store interface {
	// Create records a new pending task with progress 0 and returns it.
	Create(ctx context.Context, in Input) (*Task, error)

	// Start moves a pending task to processing.
	Start(ctx context.Context, id string) error

	// UpdateProgress raises progress (clamped to MaxRunningProgress) and sets
	// the step. Lower values than the current progress leave both unchanged.
	// Only valid while processing.
	UpdateProgress(ctx context.Context, id string, progress int, step string) error

	// Complete sets the result and progress 100. A no-op if already terminal.
	Complete(ctx context.Context, id string, result *Result) error

	// Fail records msg as the error. A no-op if already terminal.
	Fail(ctx context.Context, id string, msg string) error

	// Get returns a snapshot of the task.
	Get(ctx context.Context, id string) (*Task, error)

	// DeleteExpired removes terminal tasks last updated before cutoff and
	// returns how many were removed.
	DeleteExpired(ctx context.Context, cutoff time.Time) (int, error)
}

// CompletedStep is the step recorded on completion.
const CompletedStep = "Processing complete"
