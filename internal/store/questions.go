package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/54b3r/rfpai-go/internal/answer"
)

// Question is one extracted RFP question. Number is its 1-based position.
type Question struct {
	ID         int64  `json:"id"`
	DocumentID int64  `json:"document_id"`
	Number     int    `json:"question_number"`
	Text       string `json:"question_text"`
}

// QuestionWithAnswer pairs a question with its current answer, if any.
type QuestionWithAnswer struct {
	Question
	Answer *answer.Answer `json:"answer,omitempty"`
}

// EnsureQuestions stores texts as the questions of documentID unless the
// document already has questions, in which case the existing ones are
// returned untouched. The boolean reports whether texts were inserted.
func (s *SQLiteStore) EnsureQuestions(ctx context.Context, documentID int64, texts []string) ([]Question, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("store: ensure questions: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var n int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM questions WHERE document_id = ?`, documentID).Scan(&n); err != nil {
		return nil, false, fmt.Errorf("store: count questions: %w", err)
	}
	inserted := false
	if n == 0 {
		for i, text := range texts {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO questions (document_id, number, text) VALUES (?, ?, ?)`,
				documentID, i+1, text,
			); err != nil {
				return nil, false, fmt.Errorf("store: insert question: %w", err)
			}
		}
		inserted = len(texts) > 0
	}
	qs, err := listQuestions(ctx, tx, documentID)
	if err != nil {
		return nil, false, err
	}
	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("store: ensure questions commit: %w", err)
	}
	return qs, inserted, nil
}

// ListQuestions returns the questions of documentID in number order.
func (s *SQLiteStore) ListQuestions(ctx context.Context, documentID int64) ([]Question, error) {
	return listQuestions(ctx, s.db, documentID)
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func listQuestions(ctx context.Context, db querier, documentID int64) ([]Question, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT id, document_id, number, text FROM questions WHERE document_id = ? ORDER BY number`, documentID)
	if err != nil {
		return nil, fmt.Errorf("store: list questions: %w", err)
	}
	defer rows.Close()
	var out []Question
	for rows.Next() {
		var q Question
		if err := rows.Scan(&q.ID, &q.DocumentID, &q.Number, &q.Text); err != nil {
			return nil, fmt.Errorf("store: list questions scan: %w", err)
		}
		out = append(out, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list questions rows: %w", err)
	}
	return out, nil
}

// SaveAnswers writes each answer as the current answer of its question,
// replacing any prior one and clearing its edited flag. IDs are set on the
// passed answers.
func (s *SQLiteStore) SaveAnswers(ctx context.Context, answers []*answer.Answer) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: save answers: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	const q = `
INSERT INTO answers (question_id, text, confidence, sources, no_context, error, generated_at, edited, edited_at)
VALUES (?, ?, ?, ?, ?, ?, ?, 0, NULL)
ON CONFLICT (question_id) DO UPDATE SET
    text = excluded.text,
    confidence = excluded.confidence,
    sources = excluded.sources,
    no_context = excluded.no_context,
    error = excluded.error,
    generated_at = excluded.generated_at,
    edited = 0,
    edited_at = NULL
RETURNING id`
	for _, a := range answers {
		sources, err := json.Marshal(nonNilSources(a.Sources))
		if err != nil {
			return fmt.Errorf("store: encode sources: %w", err)
		}
		if err := tx.QueryRowContext(ctx, q,
			a.QuestionID, a.Text, a.Confidence, string(sources), boolInt(a.NoContext), a.Error, a.GeneratedAt.Unix(),
		).Scan(&a.ID); err != nil {
			return fmt.Errorf("store: save answer for question %d: %w", a.QuestionID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: save answers commit: %w", err)
	}
	return nil
}

const answerSelect = `
SELECT a.id, a.question_id, q.number, q.text, a.text, a.confidence, a.sources, a.no_context,
       a.error, a.generated_at, a.edited, a.edited_at
FROM answers a JOIN questions q ON q.id = a.question_id`

func scanAnswer(row scanner) (*answer.Answer, error) {
	var (
		a                 answer.Answer
		sources           string
		noContext, edited int
		generated         int64
		editedAt          sql.NullInt64
	)
	if err := row.Scan(&a.ID, &a.QuestionID, &a.QuestionNumber, &a.QuestionText, &a.Text, &a.Confidence,
		&sources, &noContext, &a.Error, &generated, &edited, &editedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(sources), &a.Sources); err != nil {
		return nil, fmt.Errorf("store: decode sources: %w", err)
	}
	if noContext != 0 {
		a.MarkNoContext()
	}
	a.GeneratedAt = time.Unix(generated, 0).UTC()
	a.Edited = edited != 0
	a.EditedAt = timePtr(editedAt)
	return &a, nil
}

// GetAnswer returns an answer with its question's number and text.
func (s *SQLiteStore) GetAnswer(ctx context.Context, id int64) (*answer.Answer, error) {
	a, err := scanAnswer(s.db.QueryRowContext(ctx, answerSelect+` WHERE a.id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("store: answer %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("store: get answer: %w", err)
	}
	return a, nil
}

// UpdateAnswerText replaces an answer's text and marks it edited. Confidence
// and sources are left as generated.
func (s *SQLiteStore) UpdateAnswerText(ctx context.Context, id int64, text string) (*answer.Answer, error) {
	now := s.now().Unix()
	res, err := s.db.ExecContext(ctx,
		`UPDATE answers SET text = ?, edited = 1, edited_at = ? WHERE id = ?`, text, now, id)
	if err != nil {
		return nil, fmt.Errorf("store: update answer: %w", err)
	}
	if err := requireRow(res, "answer", id); err != nil {
		return nil, err
	}
	return s.GetAnswer(ctx, id)
}

// ListQuestionsWithAnswers returns the questions of documentID with their
// current answers.
func (s *SQLiteStore) ListQuestionsWithAnswers(ctx context.Context, documentID int64) ([]QuestionWithAnswer, error) {
	qs, err := s.ListQuestions(ctx, documentID)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, answerSelect+` WHERE q.document_id = ?`, documentID)
	if err != nil {
		return nil, fmt.Errorf("store: list answers: %w", err)
	}
	defer rows.Close()

	byQuestion := make(map[int64]*answer.Answer)
	for rows.Next() {
		a, err := scanAnswer(rows)
		if err != nil {
			return nil, fmt.Errorf("store: list answers scan: %w", err)
		}
		byQuestion[a.QuestionID] = a
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list answers rows: %w", err)
	}

	out := make([]QuestionWithAnswer, len(qs))
	for i, q := range qs {
		out[i] = QuestionWithAnswer{Question: q, Answer: byQuestion[q.ID]}
	}
	return out, nil
}

func nonNilSources(s []answer.Source) []answer.Source {
	if s == nil {
		return []answer.Source{}
	}
	return s
}
