package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/54b3r/rfpai-go/internal/answer"
	"github.com/54b3r/rfpai-go/internal/task"
)

// Metric label values shared across registrations.
const (
	// labelHandler partitions metrics by route pattern rather than raw URL,
	// which keeps task and document ids out of label values.
	labelHandler = "handler"
)

// Answer outcome label values.
const (
	outcomeOK        = "ok"
	outcomeFailed    = "failed"
	outcomeNoContext = "no_context"
)

// Metrics holds every Prometheus collector of the service. One instance is
// shared by the server and the batch coordinator, so tests can inject a
// fresh prometheus.Registry without polluting the default one.
type Metrics struct {
	// tasksSubmitted counts POST /process-rfp outcomes: "accepted" or "rejected".
	tasksSubmitted *prometheus.CounterVec

	// tasksFinished counts tasks reaching a terminal status.
	tasksFinished *prometheus.CounterVec

	// taskDuration records wall-clock time from dequeue to terminal status.
	taskDuration *prometheus.HistogramVec

	// tasksRunning is the number of tasks currently being processed.
	tasksRunning prometheus.Gauge

	// queueDepth is the number of accepted tasks waiting for a worker.
	queueDepth prometheus.Gauge

	// answersTotal counts generated answers by outcome.
	answersTotal *prometheus.CounterVec

	// answerDuration records per-question retrieve+generate latency.
	answerDuration prometheus.Histogram

	// answerConfidence records the confidence of successful answers.
	answerConfidence prometheus.Histogram

	// rateLimited counts requests rejected with 429.
	rateLimited prometheus.Counter

	// httpRequestsTotal counts all HTTP requests handled by the mux,
	// partitioned by method, route pattern, and status code.
	httpRequestsTotal *prometheus.CounterVec

	// httpDurationSeconds records the latency of all HTTP requests.
	httpDurationSeconds *prometheus.HistogramVec
}

// NewMetrics registers all collectors against reg. promauto.With(reg) keeps
// registrations out of the global default registry unless reg is that
// registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		tasksSubmitted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rfpai",
			Subsystem: "tasks",
			Name:      "submitted_total",
			Help:      "Processing requests received, partitioned by accepted or rejected.",
		}, []string{"outcome"}),

		tasksFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rfpai",
			Subsystem: "tasks",
			Name:      "finished_total",
			Help:      "Tasks that reached a terminal status.",
		}, []string{"status"}),

		taskDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "rfpai",
			Subsystem: "tasks",
			Name:      "duration_seconds",
			Help:      "Wall-clock processing time of a task.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}, []string{"status"}),

		tasksRunning: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "rfpai",
			Subsystem: "tasks",
			Name:      "running",
			Help:      "Tasks currently being processed by a worker.",
		}),

		queueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "rfpai",
			Subsystem: "tasks",
			Name:      "queue_depth",
			Help:      "Accepted tasks waiting for a free worker.",
		}),

		answersTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rfpai",
			Subsystem: "answers",
			Name:      "generated_total",
			Help:      "Answers produced, partitioned by ok, failed or no_context.",
		}, []string{"outcome"}),

		answerDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "rfpai",
			Subsystem: "answers",
			Name:      "duration_seconds",
			Help:      "Retrieve plus generate latency of one question.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 20, 30, 60},
		}),

		answerConfidence: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "rfpai",
			Subsystem: "answers",
			Name:      "confidence",
			Help:      "Confidence score of successful answers.",
			Buckets:   []float64{0.4, 0.55, 0.7, 0.85, 0.95},
		}),

		rateLimited: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "rfpai",
			Subsystem: "http",
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the per-IP rate limiter.",
		}),

		httpRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rfpai",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled by the server, partitioned by method, handler, and status code.",
		}, []string{"method", labelHandler, "code"}),

		httpDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "rfpai",
			Subsystem: "http",
			Name:      "duration_seconds",
			Help:      "Latency of HTTP requests handled by the server.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", labelHandler}),
	}
}

// ObserveAnswer records one finished answer. Its signature matches
// batch.Observer.
func (m *Metrics) ObserveAnswer(a *answer.Answer, elapsed time.Duration) {
	m.answerDuration.Observe(elapsed.Seconds())
	switch {
	case a.Failed():
		m.answersTotal.WithLabelValues(outcomeFailed).Inc()
	case a.NoContext:
		m.answersTotal.WithLabelValues(outcomeNoContext).Inc()
		m.answerConfidence.Observe(a.Confidence)
	default:
		m.answersTotal.WithLabelValues(outcomeOK).Inc()
		m.answerConfidence.Observe(a.Confidence)
	}
}

// observeTask records a task reaching status after elapsed.
func (m *Metrics) observeTask(status task.Status, elapsed time.Duration) {
	m.tasksFinished.WithLabelValues(string(status)).Inc()
	m.taskDuration.WithLabelValues(string(status)).Observe(elapsed.Seconds())
}

// instrument records request count and latency per route pattern. It must
// wrap the mux so r.Pattern is populated once the mux has routed.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rw, ok := w.(*responseWriter)
		if !ok {
			rw = &responseWriter{ResponseWriter: w, status: http.StatusOK}
		}
		start := time.Now()
		next.ServeHTTP(rw, r)

		pattern := r.Pattern
		if pattern == "" {
			pattern = "unmatched"
		}
		s.metrics.httpRequestsTotal.WithLabelValues(r.Method, pattern, strconv.Itoa(rw.status)).Inc()
		s.metrics.httpDurationSeconds.WithLabelValues(r.Method, pattern).Observe(time.Since(start).Seconds())
	})
}
