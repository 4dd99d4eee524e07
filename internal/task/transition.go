package task

import "fmt"

// The apply functions hold the state machine rules shared by every Store
// implementation. Each reports whether the task changed.

func applyStart(t *Task) (bool, error) {
	if t.Status != StatusPending {
		return false, fmt.Errorf("task %s: start from %s: %w", t.ID, t.Status, ErrInvalidTransition)
	}
	t.Status = StatusProcessing
	t.CurrentStep = "Starting"
	return true, nil
}

func applyProgress(t *Task, progress int, step string) (bool, error) {
	if t.Status != StatusProcessing {
		return false, fmt.Errorf("task %s: progress while %s: %w", t.ID, t.Status, ErrInvalidTransition)
	}
	progress = min(progress, MaxRunningProgress)
	if progress < t.Progress {
		return false, nil
	}
	t.Progress = progress
	t.CurrentStep = step
	return true, nil
}

func applyComplete(t *Task, result *Result) (bool, error) {
	switch {
	case t.Status.Terminal():
		return false, nil
	case t.Status != StatusProcessing:
		return false, fmt.Errorf("task %s: complete from %s: %w", t.ID, t.Status, ErrInvalidTransition)
	}
	t.Status = StatusCompleted
	t.Progress = 100
	t.CurrentStep = CompletedStep
	if result != nil {
		r := *result
		t.Result = &r
	}
	return true, nil
}

func applyFail(t *Task, msg string) (bool, error) {
	if t.Status.Terminal() {
		return false, nil
	}
	t.Status = StatusFailed
	t.Error = msg
	t.CurrentStep = "Failed"
	return true, nil
}

// Apply exposes the transition rules to persistent Store implementations,
// which load a task, apply the operation and write it back in one
// transaction.
func Apply(t *Task, op Op) (bool, error) {
	switch op.Kind {
	case OpStart:
		return applyStart(t)
	case OpProgress:
		return applyProgress(t, op.Progress, op.Step)
	case OpComplete:
		return applyComplete(t, op.Result)
	case OpFail:
		return applyFail(t, op.Error)
	default:
		return false, fmt.Errorf("task: unknown operation %d", op.Kind)
	}
}

// OpKind enumerates state machine operations.
type OpKind int

const (
	OpStart OpKind = iota + 1
	OpProgress
	OpComplete
	OpFail
)

// Op is one state machine operation with its arguments.
type Op struct {
	Kind     OpKind
	Progress int
	Step     string
	Result   *Result
	Error    string
}
