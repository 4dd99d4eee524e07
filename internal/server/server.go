// Package server exposes the RFP answering pipeline over HTTP: task
// submission and polling, a server-sent event stream of task progress,
// document management and answer editing, plus health, readiness and
// Prometheus endpoints. It is started by the `rfpai serve` CLI command.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/54b3r/rfpai-go/internal/logging"
)

const (
	defaultMaxUploadBytes  = 32 << 20
	defaultEventInterval   = time.Second
	defaultJanitorInterval = time.Hour
)

// New constructs a Server from its collaborators and config.
func New(deps *Deps, cfg *Config) (*Server, error) {
	if deps == nil || deps.Tasks == nil || deps.Documents == nil || deps.Processor == nil || deps.Pool == nil {
		return nil, fmt.Errorf("server: tasks, documents, processor and pool must not be nil")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		// Synchronous indexing of a large document can take minutes.
		cfg.WriteTimeout = 5 * time.Minute
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = defaultRateLimit
	}
	if cfg.RateBurst == 0 {
		cfg.RateBurst = defaultRateBurst
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = defaultMaxUploadBytes
	}
	if cfg.EventInterval <= 0 {
		cfg.EventInterval = defaultEventInterval
	}
	if cfg.JanitorInterval <= 0 {
		cfg.JanitorInterval = defaultJanitorInterval
	}
	if cfg.MetricsRegistry == nil {
		cfg.MetricsRegistry = prometheus.DefaultRegisterer
	}
	if cfg.MetricsGatherer == nil {
		cfg.MetricsGatherer = prometheus.DefaultGatherer
	}
	log := cfg.Logger
	if log == nil {
		log = logging.New()
	}

	s := &Server{deps: *deps, cfg: cfg, log: log, pingers: cfg.Pingers}
	s.metrics = deps.Metrics
	if s.metrics == nil {
		s.metrics = NewMetrics(cfg.MetricsRegistry)
	}

	if cfg.APIKey == "" {
		log.Warn("server: authentication disabled; set RFPAI_API_KEY to protect the API")
	}

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      s.routes(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s, nil
}

// routes builds the handler tree. Domain routes sit behind Bearer auth;
// mutating routes are additionally rate limited per client IP.
func (s *Server) routes() http.Handler {
	rl, stop := newRateLimiter(s.cfg.RateLimit, s.cfg.RateBurst, s.log)
	rl.onReject = func() { s.metrics.rateLimited.Inc() }
	s.stopRL = stop

	protected := func(h http.HandlerFunc) http.Handler { return authMiddleware(s.cfg.APIKey, h) }
	mutating := func(h http.HandlerFunc) http.Handler { return authMiddleware(s.cfg.APIKey, rl.middleware(h)) }

	mux := http.NewServeMux()
	mux.Handle("POST /process-rfp", mutating(s.handleProcessRFP))
	mux.Handle("GET /task-status/{task_id}", protected(s.handleTaskStatus))
	mux.Handle("GET /task-status/{task_id}/events", protected(s.handleTaskEvents))

	mux.Handle("POST /documents", mutating(s.handleCreateDocument))
	mux.Handle("GET /documents", protected(s.handleListDocuments))
	mux.Handle("GET /documents/stats", protected(s.handleDocumentStats))
	mux.Handle("GET /documents/{id}", protected(s.handleGetDocument))
	mux.Handle("DELETE /documents/{id}", mutating(s.handleDeleteDocument))
	mux.Handle("POST /documents/{id}/index", mutating(s.handleIndexDocument))
	mux.Handle("GET /documents/{id}/questions", protected(s.handleListQuestions))

	mux.Handle("GET /answers/{id}", protected(s.handleGetAnswer))
	mux.Handle("PATCH /answers/{id}", mutating(s.handleEditAnswer))

	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/ready", s.handleReady)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.cfg.MetricsGatherer, promhttp.HandlerOpts{}))

	return requestLogger(s.log, s.instrument(mux))
}

// Handler returns the root handler; tests drive it with httptest.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Start begins listening and serving HTTP requests. It blocks until the
// context is cancelled, then performs a graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		s.log.Info("server listening", slog.String("addr", "http://"+s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	if s.cfg.TaskTTL > 0 {
		go s.janitor(ctx)
	}

	defer s.stopRL()
	select {
	case err := <-errCh:
		return fmt.Errorf("server: listen error: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server: graceful shutdown failed: %w", err)
		}
		return nil
	}
}

// janitor deletes expired terminal tasks until ctx is cancelled.
func (s *Server) janitor(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.JanitorInterval)
	defer ticker.Stop()
	for {
		s.sweepTasks(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Server) sweepTasks(ctx context.Context) {
	n, err := s.deps.Tasks.DeleteExpired(ctx, time.Now().Add(-s.cfg.TaskTTL))
	if err != nil {
		s.log.Warn("janitor: deleting expired tasks failed", slog.String("error", err.Error()))
		return
	}
	if n > 0 {
		s.log.Info("janitor: expired tasks deleted", slog.Int("count", n))
	}
}

// handleHealth handles GET /api/health for liveness checks.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(r.Context(), w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeJSON encodes v with the given status.
func writeJSON(ctx context.Context, w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.FromContext(ctx).Error("response encode error", slog.Any("error", err))
	}
}

// writeError writes {"error": msg} with the given status.
func writeError(ctx context.Context, w http.ResponseWriter, status int, msg string) {
	writeJSON(ctx, w, status, errorResponse{Error: msg})
}

// pathID parses the named path value as a positive int64.
func pathID(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	return id, err == nil && id > 0
}
