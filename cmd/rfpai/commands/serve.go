package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/54b3r/rfpai-go/internal/config"
	"github.com/54b3r/rfpai-go/internal/logging"
	"github.com/54b3r/rfpai-go/internal/provider"
	"github.com/54b3r/rfpai-go/internal/rag"
	"github.com/54b3r/rfpai-go/internal/server"
	"github.com/54b3r/rfpai-go/internal/tracing"
	"github.com/54b3r/rfpai-go/internal/version"
	"github.com/54b3r/rfpai-go/internal/worker"
)

// defaultTaskTTL is how long finished tasks are kept.
const defaultTaskTTL = 7 * 24 * time.Hour

// NewServeCmd constructs the `rfpai serve` command, which starts the HTTP
// server and the background worker pool.
func NewServeCmd() *cobra.Command {
	var host string
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the rfpai HTTP server",
		Long: `Start the rfpai HTTP server.

POST /process-rfp queues an RFP for processing and returns a task id at
once; progress is read from GET /task-status/{task_id} or streamed from
GET /task-status/{task_id}/events. Documents are managed under /documents.

Examples:
  rfpai serve
  rfpai serve --port 9090
  MODEL_PROVIDER=openai RFPAI_INDEX=qdrant rfpai serve`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := logging.FromContext(ctx)
			log.Info("serve starting", slog.String("version", version.String()))

			// Langfuse tracing is opt-in; a no-op when keys are absent.
			flush, ok := tracing.Setup()
			defer flush()
			if ok {
				log.Info("langfuse tracing enabled")
			} else {
				log.Info("langfuse tracing disabled", slog.String("reason", "LANGFUSE_PUBLIC_KEY not set"))
			}

			metrics := server.NewMetrics(prometheus.DefaultRegisterer)

			a, err := newApp(ctx, log, appOptions{withModel: true, observe: metrics.ObserveAnswer})
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer a.close(log)

			pool := worker.New(ctx, &worker.Config{
				Workers:   config.EnvInt("RFPAI_WORKERS", worker.DefaultWorkers),
				QueueSize: config.EnvInt("RFPAI_QUEUE_SIZE", worker.DefaultQueueSize),
			})

			srv, err := server.New(&server.Deps{
				Tasks:     a.tasks,
				Documents: a.store,
				Chunks:    a.index,
				Indexer:   a.indexer,
				Processor: a.processor,
				Pool:      pool,
				Metrics:   metrics,
			}, &server.Config{
				Host:      host,
				Port:      port,
				Logger:    log,
				Pingers:   buildPingers(a),
				APIKey:    config.Env("RFPAI_API_KEY", ""),
				RateLimit: config.EnvFloat("RFPAI_RATE_LIMIT", 0),
				RateBurst: config.EnvInt("RFPAI_RATE_BURST", 0),
				TaskTTL:   config.EnvDuration("RFPAI_TASK_TTL", defaultTaskTTL),
			})
			if err != nil {
				return fmt.Errorf("serve: failed to create server: %w", err)
			}

			serveErr := srv.Start(ctx)

			// Drain queued tasks; whatever is still running when the
			// deadline passes is cancelled and recorded as failed.
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
			defer cancel()
			if err := pool.Shutdown(shutdownCtx); err != nil {
				log.Warn("worker pool shutdown", slog.String("error", err.Error()))
			}
			return serveErr
		},
	}

	cmd.Flags().StringVar(&host, "host", config.Env("RFPAI_HOST", "127.0.0.1"), "Host address to bind to")
	cmd.Flags().IntVarP(&port, "port", "p", config.EnvInt("RFPAI_PORT", 8080), "TCP port to listen on")

	return cmd
}

// buildPingers assembles the readiness probes: the chat backend, the
// vector index when it is remote, and the SQLite store.
func buildPingers(a *app) []server.Pinger {
	pingers := []server.Pinger{
		server.NewLLMPinger(provider.NewHealthChecker(a.provider), a.chatModel, string(a.provider.Backend)),
	}
	if q, ok := a.index.(*rag.QdrantIndex); ok {
		pingers = append(pingers, server.NewQdrantPinger(q.Client()))
	}
	return append(pingers, a.store)
}
