package task

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store. The registry map is guarded by one
// RWMutex; each task record has its own mutex so updates to different tasks
// never contend.
type MemoryStore struct {
	mu    sync.RWMutex
	tasks map[string]*record

	// now is overridable in tests.
	now func() time.Time
}

type record struct {
	mu   sync.Mutex
	task Task
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tasks: make(map[string]*record), now: time.Now}
}

// Create implements Store.
func (s *MemoryStore) Create(_ context.Context, in Input) (*Task, error) {
	now := s.now().UTC()
	r := &record{task: Task{
		ID:          uuid.NewString(),
		Input:       in,
		Status:      StatusPending,
		CurrentStep: "Queued",
		CreatedAt:   now,
		UpdatedAt:   now,
	}}
	r.task.Input.KnowledgeBaseIDs = append([]int64(nil), in.KnowledgeBaseIDs...)

	s.mu.Lock()
	s.tasks[r.task.ID] = r
	s.mu.Unlock()
	return r.task.Clone(), nil
}

func (s *MemoryStore) lookup(id string) (*record, error) {
	s.mu.RLock()
	r, ok := s.tasks[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	return r, nil
}

// apply runs op on the locked record and bumps UpdatedAt when it changed
// the task.
func (s *MemoryStore) apply(id string, op Op) error {
	r, err := s.lookup(id)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	changed, err := Apply(&r.task, op)
	if err != nil {
		return err
	}
	if changed {
		r.task.UpdatedAt = s.now().UTC()
	}
	return nil
}

// Start implements Store.
func (s *MemoryStore) Start(_ context.Context, id string) error {
	return s.apply(id, Op{Kind: OpStart})
}

// UpdateProgress implements Store.
func (s *MemoryStore) UpdateProgress(_ context.Context, id string, progress int, step string) error {
	return s.apply(id, Op{Kind: OpProgress, Progress: progress, Step: step})
}

// Complete implements Store.
func (s *MemoryStore) Complete(_ context.Context, id string, result *Result) error {
	return s.apply(id, Op{Kind: OpComplete, Result: result})
}

// Fail implements Store.
func (s *MemoryStore) Fail(_ context.Context, id string, msg string) error {
	return s.apply(id, Op{Kind: OpFail, Error: msg})
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, id string) (*Task, error) {
	r, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.task.Clone(), nil
}

// DeleteExpired implements Store.
func (s *MemoryStore) DeleteExpired(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, r := range s.tasks {
		r.mu.Lock()
		expired := r.task.Status.Terminal() && r.task.UpdatedAt.Before(cutoff)
		r.mu.Unlock()
		if expired {
			delete(s.tasks, id)
			n++
		}
	}
	return n, nil
}
