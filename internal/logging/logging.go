// Package logging builds the process-wide [log/slog] logger and carries it
// through request and task contexts.
//
//	LOG_LEVEL  = debug | info | warn | error  (default: info)
//	LOG_FORMAT = json | text                  (default: json)
//
// Attributes keyed as credentials, such as api_key, OPENAI_API_KEY or
// authorization, are replaced with "[redacted]" by every handler built here.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

const redacted = "[redacted]"

// sensitiveKeys match a lower-cased attribute key exactly or as a "_" suffix.
var sensitiveKeys = []string{"api_key", "apikey", "authorization", "token", "secret", "secret_key", "password"}

type contextKey struct{}

// New reads LOG_LEVEL and LOG_FORMAT and logs to stderr.
func New() *slog.Logger {
	return NewWithWriter(os.Stderr, os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT"))
}

// NewWithWriter builds a logger writing to w. format "text" selects the text
// handler; anything else yields JSON. Debug level also records the call site.
func NewWithWriter(w io.Writer, level, format string) *slog.Logger {
	lvl := parseLevel(level)
	opts := &slog.HandlerOptions{
		Level:       lvl,
		AddSource:   lvl == slog.LevelDebug,
		ReplaceAttr: redact,
	}
	if strings.EqualFold(format, "text") {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

func redact(_ []string, a slog.Attr) slog.Attr {
	if a.Value.Kind() == slog.KindGroup {
		return a
	}
	key := strings.ToLower(a.Key)
	for _, s := range sensitiveKeys {
		if key == s || strings.HasSuffix(key, "_"+s) {
			return slog.String(a.Key, redacted)
		}
	}
	return a
}

// WithLogger returns a copy of ctx carrying logger.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, contextKey{}, logger)
}

// FromContext returns the logger stored in ctx, or [slog.Default].
func FromContext(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(contextKey{}).(*slog.Logger); ok && l != nil {
		return l
	}
	return slog.Default()
}

// WithTask tags the context logger with task_id.
func WithTask(ctx context.Context, taskID string) context.Context {
	return WithLogger(ctx, FromContext(ctx).With(slog.String("task_id", taskID)))
}

// WithDocument tags the context logger with document_id.
func WithDocument(ctx context.Context, documentID int64) context.Context {
	return WithLogger(ctx, FromContext(ctx).With(slog.Int64("document_id", documentID)))
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}
