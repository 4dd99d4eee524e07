package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/54b3r/rfpai-go/internal/answer"
	"github.com/54b3r/rfpai-go/internal/store"
	"github.com/54b3r/rfpai-go/internal/task"
	"github.com/54b3r/rfpai-go/internal/worker"
)

// Config holds the HTTP server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1).
	Host string
	// Port is the TCP port to listen on (default: 8080).
	Port int
	// ReadTimeout is the maximum duration for reading the request.
	ReadTimeout time.Duration
	// WriteTimeout is the maximum duration for writing the response. The
	// task event stream clears it per request.
	WriteTimeout time.Duration
	// ShutdownTimeout is the maximum duration for a graceful shutdown.
	ShutdownTimeout time.Duration
	// Logger is the structured logger used by the server and its handlers.
	// If nil, [logging.New] is used.
	Logger *slog.Logger
	// Pingers is the ordered list of dependency probes run by GET /api/ready.
	// If empty, /api/ready returns 200 with no checks (liveness-only mode).
	Pingers []Pinger
	// RateLimit is the sustained request rate allowed per IP on mutating
	// endpoints (requests/second). Defaults to 10 if zero.
	RateLimit float64
	// RateBurst is the maximum instantaneous burst per IP. Defaults to 20 if zero.
	RateBurst int
	// APIKey is the Bearer token required on every domain route.
	// If empty, authentication is disabled (development mode).
	APIKey string
	// MaxUploadBytes caps document uploads. Defaults to 32 MiB.
	MaxUploadBytes int64
	// EventInterval is how often the task event stream polls the task store.
	// Defaults to 1s.
	EventInterval time.Duration
	// TaskTTL is how long terminal tasks are kept before the janitor removes
	// them. Zero disables the janitor.
	TaskTTL time.Duration
	// JanitorInterval is how often expired tasks are swept. Defaults to 1h.
	JanitorInterval time.Duration
	// MetricsRegistry receives the server's metrics. Defaults to
	// prometheus.DefaultRegisterer.
	MetricsRegistry prometheus.Registerer
	// MetricsGatherer backs GET /metrics. Defaults to prometheus.DefaultGatherer.
	MetricsGatherer prometheus.Gatherer
}

// Documents is the document, question and answer surface of the store.
// *store.SQLiteStore satisfies it; tests inject a fake.
type Documents interface {
	CreateDocument(ctx context.Context, d *store.Document) error
	GetDocument(ctx context.Context, id int64) (*store.Document, error)
	ListDocuments(ctx context.Context, docType store.DocType) ([]*store.Document, error)
	DeleteDocument(ctx context.Context, id int64) error
	DocumentStats(ctx context.Context) (*store.Stats, error)
	ListQuestionsWithAnswers(ctx context.Context, documentID int64) ([]store.QuestionWithAnswer, error)
	GetAnswer(ctx context.Context, id int64) (*answer.Answer, error)
	UpdateAnswerText(ctx context.Context, id int64, text string) (*answer.Answer, error)
}

// Indexer indexes one knowledge-base document.
type Indexer interface {
	Index(ctx context.Context, documentID int64) (int, error)
}

// ChunkRemover deletes a document's chunks from the vector index.
type ChunkRemover interface {
	DeleteDocument(ctx context.Context, documentID int64) error
}

// Processor drives a pending task to a terminal state.
type Processor interface {
	Process(ctx context.Context, taskID string) error
}

// Submitter queues background jobs without blocking.
// *worker.Pool satisfies it.
type Submitter interface {
	Submit(job worker.Job) error
	Pending() int
}

// Deps are the collaborators the handlers call.
type Deps struct {
	Tasks     task.Store
	Documents Documents
	Chunks    ChunkRemover
	Indexer   Indexer
	Processor Processor
	Pool      Submitter
	// Metrics is optional; New registers a fresh set when nil.
	Metrics *Metrics
}

// Server is the HTTP front end of the RFP answering pipeline.
type Server struct {
	// deps holds the domain collaborators.
	deps Deps
	// cfg holds the resolved server configuration.
	cfg *Config
	// httpServer is the underlying net/http server.
	httpServer *http.Server
	// log is the structured logger for this server instance.
	log *slog.Logger
	// pingers is the ordered list of dependency probes for GET /api/ready.
	pingers []Pinger
	// metrics holds the Prometheus collectors.
	metrics *Metrics
	// stopRL stops the rate limiter's background eviction goroutine on shutdown.
	stopRL func()
}

// processRequest is the JSON body for POST /process-rfp.
type processRequest struct {
	RFPDocumentID    int64   `json:"rfp_document_id"`
	KnowledgeBaseIDs []int64 `json:"knowledge_base_ids"`
	// GenerateAnswers defaults to true when omitted.
	GenerateAnswers *bool `json:"generate_answers"`
}

// processResponse is the 202 body for POST /process-rfp.
type processResponse struct {
	TaskID string      `json:"task_id"`
	Status task.Status `json:"status"`
}

// documentRequest is the JSON body for POST /documents.
type documentRequest struct {
	Title   string        `json:"title"`
	DocType store.DocType `json:"doc_type"`
	Text    string        `json:"text"`
}

// indexResponse is the body for POST /documents/{id}/index.
type indexResponse struct {
	DocumentID int64 `json:"document_id"`
	ChunkCount int   `json:"chunk_count"`
}

// answerEditRequest is the JSON body for PATCH /answers/{id}.
type answerEditRequest struct {
	Text *string `json:"answer_text"`
}

// errorResponse is the JSON body of every error reply.
type errorResponse struct {
	Error  string `json:"error"`
	TaskID string `json:"task_id,omitempty"`
}
