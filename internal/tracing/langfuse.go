// Package tracing wires optional Langfuse tracing into chat-model calls.
package tracing

import (
	"context"
	"os"

	"github.com/cloudwego/eino-ext/callbacks/langfuse"
	"github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components"

	"github.com/54b3r/rfpai-go/internal/version"
)

// traceName groups every rfpai trace in the Langfuse UI.
const traceName = "rfpai"

// Setup initialises the Langfuse callback handler if LANGFUSE_PUBLIC_KEY and
// LANGFUSE_SECRET_KEY are set and registers it globally. Returns a flush
// function that must be called before process exit to ensure all traces are
// sent. If Langfuse is not configured, flush is a no-op and tracing is
// silently disabled.
func Setup() (func(), bool) {
	host := os.Getenv("LANGFUSE_HOST")
	publicKey := os.Getenv("LANGFUSE_PUBLIC_KEY")
	secretKey := os.Getenv("LANGFUSE_SECRET_KEY")

	if publicKey == "" || secretKey == "" {
		return func() {}, false
	}
	if host == "" {
		host = "http://localhost:3000"
	}

	handler, flusher := langfuse.NewLangfuseHandler(&langfuse.Config{
		Host:      host,
		PublicKey: publicKey,
		SecretKey: secretKey,
		Name:      traceName,
		Release:   version.Version,
	})
	callbacks.AppendGlobalHandlers(handler)
	return flusher, true
}

// WithChatRun marks ctx as one named chat-model run so the global handlers
// registered by Setup observe calls made outside an eino graph. name labels
// the span (e.g. "extract_questions", "generate_answer").
func WithChatRun(ctx context.Context, name string) context.Context {
	return callbacks.InitCallbacks(ctx, &callbacks.RunInfo{
		Name:      name,
		Type:      traceName,
		Component: components.ComponentOfChatModel,
	})
}
