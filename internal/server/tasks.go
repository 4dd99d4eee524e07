package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/54b3r/rfpai-go/internal/audit"
	"github.com/54b3r/rfpai-go/internal/logging"
	"github.com/54b3r/rfpai-go/internal/task"
	"github.com/54b3r/rfpai-go/internal/worker"
)

// busyMessage is the task error recorded when the worker queue rejects it.
const busyMessage = "server busy"

// handleProcessRFP handles POST /process-rfp. It records a pending task,
// queues it on the worker pool and replies 202 without waiting for work to
// start. A full queue fails the task and replies 503.
func (s *Server) handleProcessRFP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logging.FromContext(ctx)

	var req processRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(ctx, w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.RFPDocumentID <= 0 {
		writeError(ctx, w, http.StatusBadRequest, "rfp_document_id is required")
		return
	}
	generate := true
	if req.GenerateAnswers != nil {
		generate = *req.GenerateAnswers
	}

	t, err := s.deps.Tasks.Create(ctx, task.Input{
		RFPDocumentID:    req.RFPDocumentID,
		KnowledgeBaseIDs: req.KnowledgeBaseIDs,
		GenerateAnswers:  generate,
	})
	if err != nil {
		log.Error("creating task failed", slog.String("error", err.Error()))
		writeError(ctx, w, http.StatusInternalServerError, "could not create task")
		return
	}

	if err := s.deps.Pool.Submit(s.processJob(t.ID, log)); err != nil {
		if !errors.Is(err, worker.ErrQueueFull) && !errors.Is(err, worker.ErrClosed) {
			log.Error("submitting task failed", slog.String("task_id", t.ID), slog.String("error", err.Error()))
		}
		if ferr := s.deps.Tasks.Fail(ctx, t.ID, busyMessage); ferr != nil {
			log.Error("failing rejected task", slog.String("task_id", t.ID), slog.String("error", ferr.Error()))
		}
		s.metrics.tasksSubmitted.WithLabelValues("rejected").Inc()
		log.Warn("task rejected: worker queue full", slog.String("task_id", t.ID))
		writeJSON(ctx, w, http.StatusServiceUnavailable, errorResponse{Error: busyMessage, TaskID: t.ID})
		return
	}

	s.metrics.tasksSubmitted.WithLabelValues("accepted").Inc()
	s.metrics.queueDepth.Set(float64(s.deps.Pool.Pending()))
	audit.LogMutation(ctx, log, audit.ActionTaskSubmit, t.ID,
		slog.Int64("rfp_document_id", req.RFPDocumentID),
		slog.Int("knowledge_base_count", len(req.KnowledgeBaseIDs)),
		slog.Bool("generate_answers", generate),
	)
	writeJSON(ctx, w, http.StatusAccepted, processResponse{TaskID: t.ID, Status: t.Status})
}

// processJob returns the worker job that drives task id to completion. The
// request logger is carried over so pipeline logs keep the request_id.
func (s *Server) processJob(id string, log *slog.Logger) worker.Job {
	return func(ctx context.Context) {
		ctx = logging.WithLogger(ctx, log)
		s.metrics.queueDepth.Set(float64(s.deps.Pool.Pending()))
		s.metrics.tasksRunning.Inc()
		defer s.metrics.tasksRunning.Dec()

		start := time.Now()
		// Process records its own failure on the task.
		_ = s.deps.Processor.Process(ctx, id)

		status := task.StatusFailed
		if t, err := s.deps.Tasks.Get(context.WithoutCancel(ctx), id); err == nil {
			status = t.Status
		}
		s.metrics.observeTask(status, time.Since(start))
	}
}

// lookupTask fetches the task named by the task_id path value, writing a 404
// or 500 reply and returning nil when it cannot.
func (s *Server) lookupTask(w http.ResponseWriter, r *http.Request) *task.Task {
	ctx := r.Context()
	t, err := s.deps.Tasks.Get(ctx, r.PathValue("task_id"))
	switch {
	case errors.Is(err, task.ErrNotFound):
		writeError(ctx, w, http.StatusNotFound, "task not found")
		return nil
	case err != nil:
		logging.FromContext(ctx).Error("reading task failed", slog.String("error", err.Error()))
		writeError(ctx, w, http.StatusInternalServerError, "could not read task")
		return nil
	}
	return t
}

// handleTaskStatus handles GET /task-status/{task_id}.
func (s *Server) handleTaskStatus(w http.ResponseWriter, r *http.Request) {
	if t := s.lookupTask(w, r); t != nil {
		writeJSON(r.Context(), w, http.StatusOK, t)
	}
}

// handleTaskEvents handles GET /task-status/{task_id}/events. It streams a
// "status" event each time the task snapshot changes and a final "done"
// event once the task is terminal.
func (s *Server) handleTaskEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logging.FromContext(ctx)

	t := s.lookupTask(w, r)
	if t == nil {
		return
	}

	rc := http.NewResponseController(w)
	// The stream outlives the server's write timeout.
	if err := rc.SetWriteDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
		log.Warn("task events: clearing write deadline failed", slog.String("error", err.Error()))
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	ticker := time.NewTicker(s.cfg.EventInterval)
	defer ticker.Stop()

	var last []byte
	for {
		payload, err := json.Marshal(t)
		if err != nil {
			log.Error("task events: encode failed", slog.String("error", err.Error()))
			return
		}
		if string(payload) != string(last) {
			if err := writeEvent(w, rc, "status", payload); err != nil {
				log.Debug("task events: client gone", slog.String("error", err.Error()))
				return
			}
			last = payload
		}
		if t.Status.Terminal() {
			_ = writeEvent(w, rc, "done", payload)
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		next, err := s.deps.Tasks.Get(ctx, t.ID)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				log.Warn("task events: reading task failed", slog.String("error", err.Error()))
			}
			return
		}
		t = next
	}
}

// writeEvent writes one server-sent event and flushes it.
func writeEvent(w http.ResponseWriter, rc *http.ResponseController, event string, data []byte) error {
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return err
	}
	return rc.Flush()
}
