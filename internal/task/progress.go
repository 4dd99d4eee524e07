package task

import (
	"context"
	"log/slog"

	"github.com/54b3r/rfpai-go/internal/logging"
)

// Reporter receives progress updates in [0, 100].
type Reporter interface {
	Report(ctx context.Context, progress int, step string)
}

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func(ctx context.Context, progress int, step string)

// Report implements Reporter.
func (f ReporterFunc) Report(ctx context.Context, progress int, step string) { f(ctx, progress, step) }

// StoreReporter writes progress for task id into s. Write failures are
// logged, never propagated, so a flaky store cannot abort generation work.
func StoreReporter(s Store, id string) Reporter {
	return ReporterFunc(func(ctx context.Context, progress int, step string) {
		if err := s.UpdateProgress(ctx, id, progress, step); err != nil {
			logging.FromContext(ctx).Warn("task: progress update failed",
				slog.String("task_id", id),
				slog.Int("progress", progress),
				slog.String("error", err.Error()),
			)
		}
	})
}

// Span maps a reporter's full [0, 100] range onto [lo, hi] of parent, so a
// sub-phase can report its own percentage.
func Span(parent Reporter, lo, hi int) Reporter {
	return ReporterFunc(func(ctx context.Context, progress int, step string) {
		progress = max(0, min(100, progress))
		parent.Report(ctx, lo+(hi-lo)*progress/100, step)
	})
}

// Discard is a Reporter that drops every update.
var Discard Reporter = ReporterFunc(func(context.Context, int, string) {})
