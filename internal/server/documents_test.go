package server

import (
	"bytes"
	"context"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/54b3r/rfpai-go/internal/answer"
	"github.com/54b3r/rfpai-go/internal/ingestion"
	"github.com/54b3r/rfpai-go/internal/store"
)

// upload posts a multipart document through the full handler chain.
func (e *testEnv) upload(t *testing.T, filename, docType, title string, content []byte) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if docType != "" {
		_ = mw.WriteField("doc_type", docType)
	}
	if title != "" {
		_ = mw.WriteField("title", title)
	}
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	_, _ = fw.Write(content)
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/documents", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(w, req)
	return w
}

func TestHandleCreateDocument_Multipart(t *testing.T) {
	t.Parallel()
	env := newTestServer(t, nil)

	w := env.upload(t, "security_policy.md", "knowledge_base", "", []byte("# Security\nWe encrypt data at rest."))
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	doc := decode[store.Document](t, w)
	if doc.ID == 0 || doc.Type != store.DocTypeKnowledgeBase || doc.Processed {
		t.Fatalf("unexpected document %+v", doc)
	}
	if doc.Title != ingestion.TitleFromFilename("security_policy.md") {
		t.Errorf("title = %q", doc.Title)
	}

	stored, err := env.docs.GetDocument(context.Background(), doc.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Text == "" {
		t.Error("extracted text was not stored")
	}
}

func TestHandleCreateDocument_Rejections(t *testing.T) {
	t.Parallel()
	env := newTestServer(t, nil)

	cases := []struct {
		name     string
		filename string
		docType  string
		content  string
		want     int
	}{
		{name: "unsupported format", filename: "answers.odt", docType: "rfp", content: "PK", want: http.StatusUnsupportedMediaType},
		{name: "invalid doc type", filename: "a.txt", docType: "contract", content: "text", want: http.StatusBadRequest},
		{name: "missing doc type", filename: "a.txt", content: "text", want: http.StatusBadRequest},
		{name: "empty text", filename: "a.txt", docType: "rfp", content: "   \n", want: http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if w := env.upload(t, tc.filename, tc.docType, "", []byte(tc.content)); w.Code != tc.want {
				t.Errorf("expected %d, got %d: %s", tc.want, w.Code, w.Body.String())
			}
		})
	}
}

func TestHandleCreateDocument_TooLarge(t *testing.T) {
	t.Parallel()
	env := newTestServer(t, &Config{MaxUploadBytes: 64})

	w := env.do(t, http.MethodPost, "/documents",
		`{"title": "big", "doc_type": "rfp", "text": "`+string(bytes.Repeat([]byte("x"), 200))+`"}`)
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("expected 413, got %d", w.Code)
	}
}

func TestDocumentLifecycle(t *testing.T) {
	t.Parallel()
	env := newTestServer(t, nil)

	w := env.do(t, http.MethodPost, "/documents", `{"title": "Handbook", "doc_type": "knowledge_base", "text": "We are SOC 2 certified."}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d", w.Code)
	}
	kb := decode[store.Document](t, w)
	env.seedDocument(t, store.DocTypeRFP, "What certifications do you hold?")

	w = env.do(t, http.MethodGet, "/documents?type=knowledge_base", "")
	if w.Code != http.StatusOK {
		t.Fatalf("list: expected 200, got %d", w.Code)
	}
	if docs := decode[[]store.Document](t, w); len(docs) != 1 || docs[0].ID != kb.ID {
		t.Errorf("filtered list = %+v", docs)
	}
	if w := env.do(t, http.MethodGet, "/documents?type=bogus", ""); w.Code != http.StatusBadRequest {
		t.Errorf("invalid type filter: expected 400, got %d", w.Code)
	}

	w = env.do(t, http.MethodGet, "/documents/stats", "")
	if w.Code != http.StatusOK {
		t.Fatalf("stats: expected 200, got %d", w.Code)
	}
	if st := decode[store.Stats](t, w); st.Total != 2 || st.KnowledgeBase != 1 || st.RFP != 1 || st.Pending != 2 {
		t.Errorf("stats = %+v", st)
	}

	w = env.do(t, http.MethodPost, "/documents/"+itoa(kb.ID)+"/index", "")
	if w.Code != http.StatusOK {
		t.Fatalf("index: expected 200, got %d", w.Code)
	}
	if got := decode[indexResponse](t, w); got.ChunkCount != 4 || got.DocumentID != kb.ID {
		t.Errorf("index response = %+v", got)
	}

	if w := env.do(t, http.MethodDelete, "/documents/"+itoa(kb.ID), ""); w.Code != http.StatusNoContent {
		t.Fatalf("delete: expected 204, got %d", w.Code)
	}
	if len(env.chunks.deleted) != 1 || env.chunks.deleted[0] != kb.ID {
		t.Errorf("chunks deleted = %v", env.chunks.deleted)
	}
	if w := env.do(t, http.MethodGet, "/documents/"+itoa(kb.ID), ""); w.Code != http.StatusNotFound {
		t.Errorf("get after delete: expected 404, got %d", w.Code)
	}
	if w := env.do(t, http.MethodDelete, "/documents/"+itoa(kb.ID), ""); w.Code != http.StatusNotFound {
		t.Errorf("second delete: expected 404, got %d", w.Code)
	}
}

func TestHandleIndexDocument_Errors(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		err  error
		want int
	}{
		{name: "not found", err: store.ErrNotFound, want: http.StatusNotFound},
		{name: "not knowledge base", err: ingestion.ErrNotKnowledgeBase, want: http.StatusConflict},
		{name: "no text", err: ingestion.ErrNoText, want: http.StatusBadRequest},
		{name: "embedder down", err: context.DeadlineExceeded, want: http.StatusBadGateway},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			env := newTestServer(t, nil)
			env.srv.deps.Indexer = &fakeIndexer{err: tc.err}
			if w := env.do(t, http.MethodPost, "/documents/1/index", ""); w.Code != tc.want {
				t.Errorf("expected %d, got %d", tc.want, w.Code)
			}
		})
	}
}

func TestHandleListQuestions(t *testing.T) {
	t.Parallel()
	env := newTestServer(t, nil)
	ctx := context.Background()

	rfp := env.seedDocument(t, store.DocTypeRFP, "Q1? Q2?")
	qs, _, err := env.docs.EnsureQuestions(ctx, rfp, []string{"Do you encrypt data?", "Where is data hosted?"})
	if err != nil {
		t.Fatalf("ensure questions: %v", err)
	}
	if err := env.docs.SaveAnswers(ctx, []*answer.Answer{{QuestionID: qs[0].ID, Text: "Yes, AES-256.", Confidence: 0.9}}); err != nil {
		t.Fatalf("save answers: %v", err)
	}

	w := env.do(t, http.MethodGet, "/documents/"+itoa(rfp)+"/questions", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	got := decode[[]store.QuestionWithAnswer](t, w)
	if len(got) != 2 {
		t.Fatalf("expected 2 questions, got %d", len(got))
	}
	if got[0].Answer == nil || got[0].Answer.Text != "Yes, AES-256." {
		t.Errorf("first question answer = %+v", got[0].Answer)
	}
	if got[1].Answer != nil {
		t.Errorf("second question should be unanswered, got %+v", got[1].Answer)
	}

	if w := env.do(t, http.MethodGet, "/documents/999/questions", ""); w.Code != http.StatusNotFound {
		t.Errorf("unknown document: expected 404, got %d", w.Code)
	}
}
