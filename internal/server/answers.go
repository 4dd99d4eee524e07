package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/54b3r/rfpai-go/internal/audit"
	"github.com/54b3r/rfpai-go/internal/logging"
)

// handleGetAnswer handles GET /answers/{id}.
func (s *Server) handleGetAnswer(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := pathID(r, "id")
	if !ok {
		writeError(ctx, w, http.StatusBadRequest, "invalid answer id")
		return
	}
	a, err := s.deps.Documents.GetAnswer(ctx, id)
	if s.storeError(w, r, err, "answer") {
		return
	}
	writeJSON(ctx, w, http.StatusOK, a)
}

// handleEditAnswer handles PATCH /answers/{id}. The new text replaces the
// generated one and the answer is flagged as edited.
func (s *Server) handleEditAnswer(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := pathID(r, "id")
	if !ok {
		writeError(ctx, w, http.StatusBadRequest, "invalid answer id")
		return
	}
	var req answerEditRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(ctx, w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Text == nil || strings.TrimSpace(*req.Text) == "" {
		writeError(ctx, w, http.StatusBadRequest, "answer_text is required")
		return
	}

	a, err := s.deps.Documents.UpdateAnswerText(ctx, id, *req.Text)
	if s.storeError(w, r, err, "answer") {
		return
	}
	audit.LogMutation(ctx, logging.FromContext(ctx), audit.ActionAnswerEdit, strconv.FormatInt(id, 10))
	writeJSON(ctx, w, http.StatusOK, a)
}
