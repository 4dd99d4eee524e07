package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/54b3r/rfpai-go/internal/task"
)

// Tasks returns a task.Store backed by the tasks table.
func (s *SQLiteStore) Tasks() task.Store { return &taskStore{s: s} }

// taskStore applies task.Apply inside a transaction per operation. Updates
// only touch the one task row, so no cross-task locking is involved.
type taskStore struct {
	s *SQLiteStore
}

func (ts *taskStore) Create(ctx context.Context, in task.Input) (*task.Task, error) {
	now := ts.s.now().UTC()
	t := &task.Task{
		ID:          uuid.NewString(),
		Input:       in,
		Status:      task.StatusPending,
		CurrentStep: "Queued",
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	input, err := json.Marshal(t.Input)
	if err != nil {
		return nil, fmt.Errorf("store: encode task input: %w", err)
	}
	const q = `INSERT INTO tasks (id, input, status, progress, current_step, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)`
	if _, err := ts.s.db.ExecContext(ctx, q,
		t.ID, string(input), string(t.Status), t.Progress, t.CurrentStep, now.UnixMilli(), now.UnixMilli(),
	); err != nil {
		return nil, fmt.Errorf("store: create task: %w", err)
	}
	return t.Clone(), nil
}

func (ts *taskStore) Start(ctx context.Context, id string) error {
	return ts.apply(ctx, id, task.Op{Kind: task.OpStart})
}

func (ts *taskStore) UpdateProgress(ctx context.Context, id string, progress int, step string) error {
	return ts.apply(ctx, id, task.Op{Kind: task.OpProgress, Progress: progress, Step: step})
}

func (ts *taskStore) Complete(ctx context.Context, id string, result *task.Result) error {
	return ts.apply(ctx, id, task.Op{Kind: task.OpComplete, Result: result})
}

func (ts *taskStore) Fail(ctx context.Context, id string, msg string) error {
	return ts.apply(ctx, id, task.Op{Kind: task.OpFail, Error: msg})
}

func (ts *taskStore) Get(ctx context.Context, id string) (*task.Task, error) {
	return getTask(ctx, ts.s.db, id)
}

func (ts *taskStore) DeleteExpired(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := ts.s.db.ExecContext(ctx,
		`DELETE FROM tasks WHERE status IN (?, ?) AND updated_at < ?`,
		string(task.StatusCompleted), string(task.StatusFailed), cutoff.UnixMilli(),
	)
	if err != nil {
		return 0, fmt.Errorf("store: delete expired tasks: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("store: rows affected: %w", err)
	}
	return int(n), nil
}

// apply loads the task, runs the transition and writes it back in one
// transaction.
func (ts *taskStore) apply(ctx context.Context, id string, op task.Op) error {
	tx, err := ts.s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin task update: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	t, err := getTask(ctx, tx, id)
	if err != nil {
		return err
	}
	changed, err := task.Apply(t, op)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}
	t.UpdatedAt = ts.s.now().UTC()

	var result sql.NullString
	if t.Result != nil {
		b, err := json.Marshal(t.Result)
		if err != nil {
			return fmt.Errorf("store: encode task result: %w", err)
		}
		result = sql.NullString{String: string(b), Valid: true}
	}
	const q = `UPDATE tasks SET status = ?, progress = ?, current_step = ?, result = ?, error = ?, updated_at = ? WHERE id = ?`
	if _, err := tx.ExecContext(ctx, q,
		string(t.Status), t.Progress, t.CurrentStep, result, t.Error, t.UpdatedAt.UnixMilli(), id,
	); err != nil {
		return fmt.Errorf("store: update task: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit task update: %w", err)
	}
	return nil
}

type rowQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getTask(ctx context.Context, db rowQuerier, id string) (*task.Task, error) {
	const q = `SELECT id, input, status, progress, current_step, result, error, created_at, updated_at FROM tasks WHERE id = ?`
	var (
		t                task.Task
		input, status    string
		result           sql.NullString
		created, updated int64
	)
	err := db.QueryRowContext(ctx, q, id).Scan(&t.ID, &input, &status, &t.Progress, &t.CurrentStep, &result, &t.Error, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("task %s: %w", id, task.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("store: get task: %w", err)
	}
	if err := json.Unmarshal([]byte(input), &t.Input); err != nil {
		return nil, fmt.Errorf("store: decode task input: %w", err)
	}
	if result.Valid {
		t.Result = &task.Result{}
		if err := json.Unmarshal([]byte(result.String), t.Result); err != nil {
			return nil, fmt.Errorf("store: decode task result: %w", err)
		}
	}
	t.Status = task.Status(status)
	t.CreatedAt = time.UnixMilli(created).UTC()
	t.UpdatedAt = time.UnixMilli(updated).UTC()
	return &t, nil
}
