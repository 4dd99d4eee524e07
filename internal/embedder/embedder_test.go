package embedder

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestOllamaEmbedder_Embed(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embed" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req ollamaEmbedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Model != "nomic-embed-text" {
			t.Errorf("model = %q", req.Model)
		}
		out := ollamaEmbedResponse{}
		for i := range req.Input {
			out.Embeddings = append(out.Embeddings, []float32{float32(i), 1})
		}
		_ = json.NewEncoder(w).Encode(out)
	}))
	defer srv.Close()

	emb := NewOllamaEmbedder(&OllamaConfig{Host: srv.URL, Model: "nomic-embed-text"})
	got, err := emb.Embed(context.Background(), []string{"uptime", "encryption"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(got) != 2 || got[1][0] != 1 {
		t.Errorf("unexpected embeddings %v", got)
	}
}

// TestOllamaEmbedder_ServerError verifies a non-JSON error body still surfaces
// the HTTP status rather than a decode error.
func TestOllamaEmbedder_ServerError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model not loaded", http.StatusBadGateway)
	}))
	defer srv.Close()

	emb := NewOllamaEmbedder(&OllamaConfig{Host: srv.URL, Model: "m", MaxRetries: -1})
	_, err := emb.Embed(context.Background(), []string{"x"})
	if err == nil || !strings.Contains(err.Error(), "HTTP 502") {
		t.Fatalf("expected HTTP 502 error, got %v", err)
	}
}

func TestOllamaEmbedder_RetriesTransientFailure(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"error":"loading model"}`))
			return
		}
		_, _ = w.Write([]byte(`{"embeddings":[[0.5,0.5]]}`))
	}))
	defer srv.Close()

	emb := NewOllamaEmbedder(&OllamaConfig{Host: srv.URL, Model: "m"})
	got, err := emb.Embed(context.Background(), []string{"x"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(got) != 1 || calls.Load() != 2 {
		t.Errorf("got %d vectors after %d calls, want 1 after 2", len(got), calls.Load())
	}
}

// TestOllamaEmbedder_Batches verifies inputs are split by BatchSize and the
// vectors come back in input order.
func TestOllamaEmbedder_Batches(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		var req ollamaEmbedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if len(req.Input) > 2 {
			t.Errorf("batch of %d exceeds limit", len(req.Input))
		}
		var out ollamaEmbedResponse
		for _, in := range req.Input {
			n, _ := strconv.Atoi(in)
			out.Embeddings = append(out.Embeddings, []float32{float32(n)})
		}
		_ = json.NewEncoder(w).Encode(out)
	}))
	defer srv.Close()

	emb := NewOllamaEmbedder(&OllamaConfig{Host: srv.URL, Model: "m", BatchSize: 2})
	got, err := emb.Embed(context.Background(), []string{"0", "1", "2", "3", "4"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("expected 3 requests, got %d", calls.Load())
	}
	for i, v := range got {
		if v[0] != float32(i) {
			t.Errorf("vector %d = %v, out of order", i, v)
		}
	}
}

// TestOpenAIEmbedder_ReordersByIndex verifies out-of-order data entries are
// placed back at their input positions.
func TestOpenAIEmbedder_ReordersByIndex(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embeddings" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("Authorization = %q", got)
		}
		_, _ = w.Write([]byte(`{"data":[{"index":1,"embedding":[0,1]},{"index":0,"embedding":[1,0]}]}`))
	}))
	defer srv.Close()

	emb := NewOpenAIEmbedder(&OpenAIConfig{BaseURL: srv.URL + "/", APIKey: "sk-test", Model: "text-embedding-3-small"})
	got, err := emb.Embed(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if got[0][0] != 1 || got[1][1] != 1 {
		t.Errorf("embeddings not reordered: %v", got)
	}
}

func TestOpenAIEmbedder_Azure(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/openai/deployments/embed-small/embeddings" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if v := r.URL.Query().Get("api-version"); v != "2025-04-01-preview" {
			t.Errorf("api-version = %q", v)
		}
		if got := r.Header.Get("api-key"); got != "az-key" {
			t.Errorf("api-key = %q", got)
		}
		if r.Header.Get("Authorization") != "" {
			t.Error("Authorization header must not be sent to Azure")
		}
		_, _ = w.Write([]byte(`{"data":[{"index":0,"embedding":[1]}]}`))
	}))
	defer srv.Close()

	emb := NewOpenAIEmbedder(&OpenAIConfig{
		BaseURL:    srv.URL + "/openai",
		APIKey:     "az-key",
		Model:      "embed-small",
		Azure:      true,
		APIVersion: "2025-04-01-preview",
	})
	if _, err := emb.Embed(context.Background(), []string{"a"}); err != nil {
		t.Fatalf("Embed: %v", err)
	}
}

func TestOpenAIEmbedder_APIError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"rate limit reached"}}`))
	}))
	defer srv.Close()

	emb := NewOpenAIEmbedder(&OpenAIConfig{BaseURL: srv.URL, APIKey: "k", Model: "m", MaxRetries: -1})
	_, err := emb.Embed(context.Background(), []string{"a"})
	if err == nil || !strings.Contains(err.Error(), "rate limit reached") {
		t.Fatalf("expected API error message, got %v", err)
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) || !apiErr.Temporary() {
		t.Errorf("expected temporary *APIError, got %T", err)
	}
}

// TestOpenAIEmbedder_ClientErrorNotRetried verifies a 4xx other than 429
// fails on the first attempt.
func TestOpenAIEmbedder_ClientErrorNotRetried(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"invalid api key"}}`))
	}))
	defer srv.Close()

	emb := NewOpenAIEmbedder(&OpenAIConfig{BaseURL: srv.URL, APIKey: "bad", Model: "m"})
	if _, err := emb.Embed(context.Background(), []string{"a"}); err == nil {
		t.Fatal("expected error")
	}
	if calls.Load() != 1 {
		t.Errorf("expected 1 request, got %d", calls.Load())
	}
}

// TestOpenAIEmbedder_RetryStopsOnCancel verifies a cancelled context ends the
// backoff wait instead of exhausting retries.
func TestOpenAIEmbedder_RetryStopsOnCancel(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	emb := NewOpenAIEmbedder(&OpenAIConfig{BaseURL: srv.URL, APIKey: "k", Model: "m"})
	start := time.Now()
	_, err := emb.Embed(ctx, []string{"a"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Error("retry wait ignored context cancellation")
	}
}

func TestRetryTiming(t *testing.T) {
	t.Parallel()

	delays := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 200 * time.Millisecond},
		{1, 400 * time.Millisecond},
		{4, 3200 * time.Millisecond},
		{5, 5 * time.Second},
		{70, 5 * time.Second},
	}
	for _, tc := range delays {
		if got := retryDelay(tc.attempt); got != tc.want {
			t.Errorf("retryDelay(%d) = %v, want %v", tc.attempt, got, tc.want)
		}
	}

	headers := map[string]time.Duration{
		"":      0,
		"2":     2 * time.Second,
		"-1":    0,
		"soon":  0,
		"86400": 30 * time.Second,
	}
	for in, want := range headers {
		if got := retryAfter(in); got != want {
			t.Errorf("retryAfter(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNewFromEnv_Backends(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr bool
	}{
		{name: "ollama default", env: map[string]string{}},
		{name: "openai without key", env: map[string]string{"EMBEDDING_PROVIDER": "openai"}, wantErr: true},
		{name: "openai with key", env: map[string]string{"EMBEDDING_PROVIDER": "openai", "OPENAI_API_KEY": "sk"}},
		{name: "azure without endpoint", env: map[string]string{"EMBEDDING_PROVIDER": "azure", "AZURE_OPENAI_API_KEY": "k"}, wantErr: true},
		{name: "gemini without key", env: map[string]string{"EMBEDDING_PROVIDER": "gemini"}, wantErr: true},
		{name: "unknown", env: map[string]string{"EMBEDDING_PROVIDER": "bedrock"}, wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			for _, k := range []string{"EMBEDDING_PROVIDER", "MODEL_PROVIDER", "OPENAI_API_KEY", "EMBEDDING_API_KEY",
				"AZURE_OPENAI_API_KEY", "AZURE_OPENAI_ENDPOINT", "EMBEDDING_ENDPOINT", "GOOGLE_API_KEY"} {
				t.Setenv(k, "")
			}
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			emb, err := NewFromEnv(context.Background())
			if tc.wantErr {
				if err == nil {
					t.Error("expected error")
				}
				return
			}
			if err != nil || emb == nil {
				t.Fatalf("NewFromEnv: %v", err)
			}
		})
	}
}

func TestDefaultDimensions(t *testing.T) {
	t.Setenv("EMBEDDING_DIMENSIONS", "")
	if got := DefaultDimensions("ollama"); got != 768 {
		t.Errorf("ollama = %d, want 768", got)
	}
	if got := DefaultDimensions("openai"); got != 1536 {
		t.Errorf("openai = %d, want 1536", got)
	}
	t.Setenv("EMBEDDING_DIMENSIONS", "256")
	if got := DefaultDimensions("openai"); got != 256 {
		t.Errorf("override = %d, want 256", got)
	}
}

func TestLooksLikeChatModel(t *testing.T) {
	t.Parallel()
	if !looksLikeChatModel("gpt-4o-mini") {
		t.Error("gpt-4o-mini should look like a chat model")
	}
	if looksLikeChatModel("text-embedding-3-small") {
		t.Error("text-embedding-3-small should not look like a chat model")
	}
}

func TestValidate(t *testing.T) {
	for _, k := range []string{"EMBEDDING_PROVIDER", "MODEL_PROVIDER", "OPENAI_API_KEY", "EMBEDDING_API_KEY", "EMBEDDING_MODEL"} {
		t.Setenv(k, "")
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	if err := Validate(log); err != nil {
		t.Errorf("ollama default: unexpected error %v", err)
	}
	t.Setenv("EMBEDDING_PROVIDER", "openai")
	if err := Validate(log); err == nil {
		t.Error("expected error for openai without key")
	}
	t.Setenv("OPENAI_API_KEY", "sk")
	if err := Validate(log); err != nil {
		t.Errorf("openai with key: unexpected error %v", err)
	}
}
