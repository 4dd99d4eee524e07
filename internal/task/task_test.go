package task

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/54b3r/rfpai-go/internal/answer"
)

func newProcessingTask(t *testing.T, s Store) string {
	t.Helper()
	tk, err := s.Create(context.Background(), Input{RFPDocumentID: 1, KnowledgeBaseIDs: []int64{2, 3}})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := s.Start(context.Background(), tk.ID); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return tk.ID
}

func TestMemoryStore_CreatePending(t *testing.T) {
	t.Parallel()
	s := NewMemoryStore()

	tk, err := s.Create(context.Background(), Input{RFPDocumentID: 7})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if tk.ID == "" || tk.Status != StatusPending || tk.Progress != 0 {
		t.Errorf("unexpected new task: %+v", tk)
	}
	other, _ := s.Create(context.Background(), Input{RFPDocumentID: 7})
	if other.ID == tk.ID {
		t.Error("task IDs must be unique")
	}
}

func TestMemoryStore_GetUnknown(t *testing.T) {
	t.Parallel()
	_, err := NewMemoryStore().Get(context.Background(), "does-not-exist")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

// TestMemoryStore_ProgressNeverRetreats verifies a lower progress value is
// ignored and progress is capped below 100 until completion.
func TestMemoryStore_ProgressNeverRetreats(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemoryStore()
	id := newProcessingTask(t, s)

	_ = s.UpdateProgress(ctx, id, 40, "Extracting questions")
	_ = s.UpdateProgress(ctx, id, 20, "stale")
	got, _ := s.Get(ctx, id)
	if got.Progress != 40 || got.CurrentStep != "Extracting questions" {
		t.Errorf("progress retreated: %d %q", got.Progress, got.CurrentStep)
	}

	_ = s.UpdateProgress(ctx, id, 100, "almost")
	got, _ = s.Get(ctx, id)
	if got.Progress != MaxRunningProgress {
		t.Errorf("running progress = %d, want %d", got.Progress, MaxRunningProgress)
	}
}

func TestMemoryStore_Transitions(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemoryStore()

	tk, _ := s.Create(ctx, Input{})
	if err := s.UpdateProgress(ctx, tk.ID, 10, "x"); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("progress while pending: got %v", err)
	}
	if err := s.Complete(ctx, tk.ID, &Result{}); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("complete while pending: got %v", err)
	}
	if err := s.Start(ctx, tk.ID); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := s.Start(ctx, tk.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("double start: got %v", err)
	}
}

// TestMemoryStore_FirstTerminalSticks verifies completed and failed are final
// and later terminal calls are no-ops.
func TestMemoryStore_FirstTerminalSticks(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemoryStore()

	id := newProcessingTask(t, s)
	if err := s.Complete(ctx, id, &Result{AnswersCount: 3}); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if err := s.Fail(ctx, id, "late failure"); err != nil {
		t.Fatalf("Fail after complete should be a no-op, got %v", err)
	}
	if err := s.Complete(ctx, id, &Result{AnswersCount: 9}); err != nil {
		t.Fatalf("second Complete should be a no-op, got %v", err)
	}
	if err := s.UpdateProgress(ctx, id, 50, "x"); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("progress after complete: got %v", err)
	}
	got, _ := s.Get(ctx, id)
	if got.Status != StatusCompleted || got.Progress != 100 || got.Error != "" || got.Result.AnswersCount != 3 {
		t.Errorf("terminal state overwritten: %+v", got)
	}

	id2 := newProcessingTask(t, s)
	_ = s.Fail(ctx, id2, "RFP document not found")
	_ = s.Complete(ctx, id2, &Result{})
	got, _ = s.Get(ctx, id2)
	if got.Status != StatusFailed || got.Error != "RFP document not found" || got.Progress == 100 {
		t.Errorf("failed task changed: %+v", got)
	}
}

func TestMemoryStore_FailFromPending(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemoryStore()
	tk, _ := s.Create(ctx, Input{})
	if err := s.Fail(ctx, tk.ID, "server busy"); err != nil {
		t.Fatalf("Fail: %v", err)
	}
	got, _ := s.Get(ctx, tk.ID)
	if got.Status != StatusFailed {
		t.Errorf("status = %s, want failed", got.Status)
	}
}

// TestMemoryStore_SnapshotIsolation verifies snapshots do not alias store
// state.
func TestMemoryStore_SnapshotIsolation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemoryStore()
	id := newProcessingTask(t, s)
	_ = s.Complete(ctx, id, &Result{Answers: []answer.Answer{{Text: "original"}}})

	snap, _ := s.Get(ctx, id)
	snap.Result.Answers[0].Text = "mutated"
	snap.Input.KnowledgeBaseIDs[0] = 99

	again, _ := s.Get(ctx, id)
	if again.Result.Answers[0].Text != "original" || again.Input.KnowledgeBaseIDs[0] != 2 {
		t.Error("snapshot mutation leaked into the store")
	}
}

// TestMemoryStore_ConcurrentReadersSeeMonotonicProgress runs many writers and
// pollers against one task; run with -race.
func TestMemoryStore_ConcurrentReadersSeeMonotonicProgress(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemoryStore()
	id := newProcessingTask(t, s)

	var wg sync.WaitGroup
	for w := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for p := w; p <= 99; p += 8 {
				_ = s.UpdateProgress(ctx, id, p, "working")
			}
		}()
	}

	done := make(chan struct{})
	var readerErr error
	go func() {
		defer close(done)
		last := 0
		for range 500 {
			tk, err := s.Get(ctx, id)
			if err != nil {
				readerErr = err
				return
			}
			if tk.Progress < last {
				readerErr = errors.New("observed progress decrease")
				return
			}
			last = tk.Progress
		}
	}()

	wg.Wait()
	<-done
	if readerErr != nil {
		t.Fatal(readerErr)
	}
	_ = s.Complete(ctx, id, &Result{})
	got, _ := s.Get(ctx, id)
	if got.Progress != 100 {
		t.Errorf("final progress = %d, want 100", got.Progress)
	}
}

func TestMemoryStore_DeleteExpired(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemoryStore()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return base }

	old := newProcessingTask(t, s)
	_ = s.Complete(ctx, old, &Result{})
	running := newProcessingTask(t, s)

	s.now = func() time.Time { return base.Add(48 * time.Hour) }
	fresh := newProcessingTask(t, s)
	_ = s.Fail(ctx, fresh, "boom")

	n, err := s.DeleteExpired(ctx, base.Add(24*time.Hour))
	if err != nil {
		t.Fatalf("DeleteExpired: %v", err)
	}
	if n != 1 {
		t.Errorf("deleted %d, want 1", n)
	}
	if _, err := s.Get(ctx, old); !errors.Is(err, ErrNotFound) {
		t.Error("expired completed task should be gone")
	}
	for _, id := range []string{running, fresh} {
		if _, err := s.Get(ctx, id); err != nil {
			t.Errorf("task %s should survive: %v", id, err)
		}
	}
}

func TestSpan(t *testing.T) {
	t.Parallel()
	var got []int
	parent := ReporterFunc(func(_ context.Context, p int, _ string) { got = append(got, p) })
	span := Span(parent, 50, 99)

	for _, p := range []int{0, 20, 50, 100, 150} {
		span.Report(context.Background(), p, "")
	}
	want := []int{50, 59, 74, 99, 99}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("span(%d) = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestStoreReporter(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemoryStore()
	id := newProcessingTask(t, s)

	StoreReporter(s, id).Report(ctx, 30, "Indexing")
	StoreReporter(s, "missing").Report(ctx, 30, "ignored")

	got, _ := s.Get(ctx, id)
	if got.Progress != 30 || got.CurrentStep != "Indexing" {
		t.Errorf("got %d %q", got.Progress, got.CurrentStep)
	}
}
