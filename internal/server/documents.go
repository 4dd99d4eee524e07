package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/54b3r/rfpai-go/internal/audit"
	"github.com/54b3r/rfpai-go/internal/ingestion"
	"github.com/54b3r/rfpai-go/internal/logging"
	"github.com/54b3r/rfpai-go/internal/store"
)

// handleCreateDocument handles POST /documents. It accepts either a
// multipart upload (fields: file, doc_type, optional title) or a JSON body
// carrying the text inline.
func (s *Server) handleCreateDocument(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logging.FromContext(ctx)
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)

	var (
		doc    *store.Document
		status int
		msg    string
	)
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		doc, status, msg = s.readUpload(r)
	} else {
		doc, status, msg = readDocumentJSON(r)
	}
	if doc == nil {
		writeError(ctx, w, status, msg)
		return
	}

	if err := s.deps.Documents.CreateDocument(ctx, doc); err != nil {
		log.Error("storing document failed", slog.String("error", err.Error()))
		writeError(ctx, w, http.StatusInternalServerError, "could not store document")
		return
	}

	audit.LogMutation(ctx, log, audit.ActionDocumentCreate, strconv.FormatInt(doc.ID, 10),
		slog.String("doc_type", string(doc.Type)),
		slog.String("title", doc.Title),
		slog.Int("chars", len(doc.Text)),
	)
	writeJSON(ctx, w, http.StatusCreated, doc)
}

// readUpload parses a multipart document upload. On failure it returns a
// nil document with the reply status and message.
func (s *Server) readUpload(r *http.Request) (*store.Document, int, string) {
	if err := r.ParseMultipartForm(s.cfg.MaxUploadBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, http.StatusRequestEntityTooLarge, "upload too large"
		}
		return nil, http.StatusBadRequest, "invalid multipart body"
	}
	docType := store.DocType(r.FormValue("doc_type"))
	if !docType.Valid() {
		return nil, http.StatusBadRequest, "doc_type must be knowledge_base or rfp"
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		return nil, http.StatusBadRequest, "file is required"
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		return nil, http.StatusBadRequest, "could not read file"
	}

	text, format, err := ingestion.Read(header.Filename, header.Header.Get("Content-Type"), data)
	switch {
	case errors.Is(err, ingestion.ErrUnsupportedFormat):
		return nil, http.StatusUnsupportedMediaType, err.Error()
	case errors.Is(err, ingestion.ErrNoText):
		return nil, http.StatusBadRequest, "document contains no text"
	case err != nil:
		return nil, http.StatusBadRequest, err.Error()
	}

	title := strings.TrimSpace(r.FormValue("title"))
	if title == "" {
		title = ingestion.TitleFromFilename(header.Filename)
	}
	logging.FromContext(r.Context()).Debug("upload parsed",
		slog.String("filename", header.Filename),
		slog.String("format", string(format)),
		slog.Int("bytes", len(data)),
	)
	return &store.Document{Title: title, Filename: header.Filename, Type: docType, Text: text}, 0, ""
}

// readDocumentJSON parses an inline JSON document.
func readDocumentJSON(r *http.Request) (*store.Document, int, string) {
	var req documentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, http.StatusRequestEntityTooLarge, "upload too large"
		}
		return nil, http.StatusBadRequest, "invalid request body"
	}
	if !req.DocType.Valid() {
		return nil, http.StatusBadRequest, "doc_type must be knowledge_base or rfp"
	}
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return nil, http.StatusBadRequest, "document contains no text"
	}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		title = "Untitled"
	}
	return &store.Document{Title: title, Type: req.DocType, Text: text}, 0, ""
}

// handleListDocuments handles GET /documents with an optional ?type filter.
func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	docType := store.DocType(r.URL.Query().Get("type"))
	if docType != "" && !docType.Valid() {
		writeError(ctx, w, http.StatusBadRequest, "type must be knowledge_base or rfp")
		return
	}
	docs, err := s.deps.Documents.ListDocuments(ctx, docType)
	if err != nil {
		logging.FromContext(ctx).Error("listing documents failed", slog.String("error", err.Error()))
		writeError(ctx, w, http.StatusInternalServerError, "could not list documents")
		return
	}
	if docs == nil {
		docs = []*store.Document{}
	}
	writeJSON(ctx, w, http.StatusOK, docs)
}

// handleDocumentStats handles GET /documents/stats.
func (s *Server) handleDocumentStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	stats, err := s.deps.Documents.DocumentStats(ctx)
	if err != nil {
		logging.FromContext(ctx).Error("document stats failed", slog.String("error", err.Error()))
		writeError(ctx, w, http.StatusInternalServerError, "could not read stats")
		return
	}
	writeJSON(ctx, w, http.StatusOK, stats)
}

// handleGetDocument handles GET /documents/{id}.
func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := pathID(r, "id")
	if !ok {
		writeError(ctx, w, http.StatusBadRequest, "invalid document id")
		return
	}
	doc, err := s.deps.Documents.GetDocument(ctx, id)
	if s.storeError(w, r, err, "document") {
		return
	}
	writeJSON(ctx, w, http.StatusOK, doc)
}

// handleDeleteDocument handles DELETE /documents/{id}. Chunks are removed
// from the vector index before the row so a failure leaves nothing orphaned
// in the index.
func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logging.FromContext(ctx)
	id, ok := pathID(r, "id")
	if !ok {
		writeError(ctx, w, http.StatusBadRequest, "invalid document id")
		return
	}
	if _, err := s.deps.Documents.GetDocument(ctx, id); s.storeError(w, r, err, "document") {
		return
	}
	if s.deps.Chunks != nil {
		if err := s.deps.Chunks.DeleteDocument(ctx, id); err != nil {
			log.Error("deleting chunks failed", slog.Int64("document_id", id), slog.String("error", err.Error()))
			writeError(ctx, w, http.StatusBadGateway, "could not delete indexed chunks")
			return
		}
	}
	if err := s.deps.Documents.DeleteDocument(ctx, id); s.storeError(w, r, err, "document") {
		return
	}
	audit.LogMutation(ctx, log, audit.ActionDocumentDelete, strconv.FormatInt(id, 10))
	w.WriteHeader(http.StatusNoContent)
}

// handleIndexDocument handles POST /documents/{id}/index. Indexing runs
// synchronously; the reply carries the stored chunk count.
func (s *Server) handleIndexDocument(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logging.FromContext(ctx)
	id, ok := pathID(r, "id")
	if !ok {
		writeError(ctx, w, http.StatusBadRequest, "invalid document id")
		return
	}
	if s.deps.Indexer == nil {
		writeError(ctx, w, http.StatusServiceUnavailable, "indexing is not configured")
		return
	}

	n, err := s.deps.Indexer.Index(ctx, id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(ctx, w, http.StatusNotFound, "document not found")
		return
	case errors.Is(err, ingestion.ErrNotKnowledgeBase):
		writeError(ctx, w, http.StatusConflict, "only knowledge_base documents can be indexed")
		return
	case errors.Is(err, ingestion.ErrNoText):
		writeError(ctx, w, http.StatusBadRequest, "document contains no text")
		return
	case err != nil:
		log.Error("indexing failed", slog.Int64("document_id", id), slog.String("error", err.Error()))
		writeError(ctx, w, http.StatusBadGateway, "indexing failed")
		return
	}

	audit.LogMutation(ctx, log, audit.ActionDocumentIndex, strconv.FormatInt(id, 10), slog.Int("chunks", n))
	writeJSON(ctx, w, http.StatusOK, indexResponse{DocumentID: id, ChunkCount: n})
}

// handleListQuestions handles GET /documents/{id}/questions.
func (s *Server) handleListQuestions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := pathID(r, "id")
	if !ok {
		writeError(ctx, w, http.StatusBadRequest, "invalid document id")
		return
	}
	if _, err := s.deps.Documents.GetDocument(ctx, id); s.storeError(w, r, err, "document") {
		return
	}
	qs, err := s.deps.Documents.ListQuestionsWithAnswers(ctx, id)
	if s.storeError(w, r, err, "questions") {
		return
	}
	if qs == nil {
		qs = []store.QuestionWithAnswer{}
	}
	writeJSON(ctx, w, http.StatusOK, qs)
}

// storeError writes the reply for a failed store call and reports whether
// err was non-nil. store.ErrNotFound maps to 404.
func (s *Server) storeError(w http.ResponseWriter, r *http.Request, err error, kind string) bool {
	if err == nil {
		return false
	}
	ctx := r.Context()
	if errors.Is(err, store.ErrNotFound) {
		writeError(ctx, w, http.StatusNotFound, kind+" not found")
		return true
	}
	logging.FromContext(ctx).Error("store call failed", slog.String("kind", kind), slog.String("error", err.Error()))
	writeError(ctx, w, http.StatusInternalServerError, "could not read "+kind)
	return true
}
