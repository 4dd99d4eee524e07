package server

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/54b3r/rfpai-go/internal/logging"
)

// probeTimeout bounds each dependency probe in /api/ready.
const probeTimeout = 5 * time.Second

// Pinger is a dependency that can report its own reachability. Ping must be
// safe for concurrent use.
type Pinger interface {
	Ping(ctx context.Context) error
	// Name labels the dependency in readiness output, e.g. "sqlite".
	Name() string
}

type readyCheck struct {
	Name      string `json:"name"`
	OK        bool   `json:"ok"`
	LatencyMS int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

type readyResponse struct {
	Ready  bool         `json:"ready"`
	Checks []readyCheck `json:"checks"`
	// QueueDepth is the number of processing jobs waiting for a worker.
	QueueDepth int `json:"queue_depth"`
}

// probe runs every pinger concurrently and returns results in registration
// order.
func (s *Server) probe(ctx context.Context) []readyCheck {
	checks := make([]readyCheck, len(s.pingers))
	var wg sync.WaitGroup
	for i, p := range s.pingers {
		wg.Go(func() {
			pctx, cancel := context.WithTimeout(ctx, probeTimeout)
			defer cancel()
			start := time.Now()
			err := p.Ping(pctx)
			checks[i] = readyCheck{Name: p.Name(), OK: err == nil, LatencyMS: time.Since(start).Milliseconds()}
			if err != nil {
				checks[i].Error = err.Error()
			}
		})
	}
	wg.Wait()
	return checks
}

// handleReady serves GET /api/ready: 200 when every dependency answers, 503
// otherwise.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	resp := readyResponse{Ready: true, Checks: s.probe(r.Context()), QueueDepth: s.deps.Pool.Pending()}
	for _, c := range resp.Checks {
		if c.OK {
			continue
		}
		resp.Ready = false
		logging.FromContext(r.Context()).Warn("readiness probe failed",
			slog.String("dependency", c.Name),
			slog.String("error", c.Error),
		)
	}

	status := http.StatusOK
	if !resp.Ready {
		status = http.StatusServiceUnavailable
	}
	writeJSON(r.Context(), w, status, resp)
}
