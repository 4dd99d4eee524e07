package server

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/time/rate"
)

// okHandler is a trivial handler used to verify that allowed requests reach
// the downstream handler.
var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func TestRateLimit_AllowsUnderLimit(t *testing.T) {
	t.Parallel()

	rl, stop := newRateLimiter(100, 5, slog.Default())
	defer stop()

	h := rl.middleware(okHandler)

	for i := range 5 {
		req := httptest.NewRequest(http.MethodPost, "/process-rfp", nil)
		req.RemoteAddr = "127.0.0.1:12345"
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Errorf("request %d: expected 200, got %d", i, w.Code)
		}
	}
}

// TestRateLimit_BlocksOverLimit verifies the third request inside a burst of
// two is rejected, carries Retry-After and triggers the reject hook.
func TestRateLimit_BlocksOverLimit(t *testing.T) {
	t.Parallel()

	rl, stop := newRateLimiter(0.001, 2, slog.Default())
	defer stop()
	var rejected atomic.Int32
	rl.onReject = func() { rejected.Add(1) }

	h := rl.middleware(okHandler)

	var last *httptest.ResponseRecorder
	for range 3 {
		req := httptest.NewRequest(http.MethodPost, "/documents", nil)
		req.RemoteAddr = "10.0.0.1:9999"
		last = httptest.NewRecorder()
		h.ServeHTTP(last, req)
	}
	if last.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", last.Code)
	}
	if last.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header on 429 response")
	}
	if ct := last.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected JSON error body, got %q", ct)
	}
	if rejected.Load() != 1 {
		t.Errorf("onReject called %d times, want 1", rejected.Load())
	}
}

func TestRateLimit_PerIPIsolation(t *testing.T) {
	t.Parallel()

	rl, stop := newRateLimiter(0.001, 1, slog.Default())
	defer stop()

	h := rl.middleware(okHandler)

	for range 5 {
		req := httptest.NewRequest(http.MethodPatch, "/answers/1", nil)
		req.RemoteAddr = "192.168.1.1:1111"
		h.ServeHTTP(httptest.NewRecorder(), req)
	}

	req := httptest.NewRequest(http.MethodPatch, "/answers/1", nil)
	req.RemoteAddr = "192.168.1.2:2222"
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("IP B: expected 200, got %d", w.Code)
	}
}

func TestRateLimit_Evict(t *testing.T) {
	t.Parallel()

	rl, stop := newRateLimiter(1, 1, slog.Default())
	defer stop()

	rl.getLimiter("10.1.1.1")
	rl.getLimiter("10.1.1.2")
	rl.evict(time.Now().Add(-time.Hour))
	if rl.size() != 2 {
		t.Fatalf("fresh entries evicted: size %d", rl.size())
	}
	rl.evict(time.Now().Add(time.Second))
	if rl.size() != 0 {
		t.Errorf("stale entries kept: size %d", rl.size())
	}
}

func TestRetryAfterSeconds(t *testing.T) {
	t.Parallel()

	cases := []struct {
		rps  rate.Limit
		want int
	}{
		{10, 1},
		{1, 1},
		{0.5, 2},
		{0.001, 1000},
		{0.00001, 3600},
		{0, 60},
	}
	for _, tc := range cases {
		if got := retryAfterSeconds(tc.rps); got != tc.want {
			t.Errorf("retryAfterSeconds(%v) = %d, want %d", tc.rps, got, tc.want)
		}
	}
}

func TestClientIP(t *testing.T) {
	t.Parallel()

	cases := []struct {
		remoteAddr string
		wantIP     string
	}{
		{"127.0.0.1:54321", "127.0.0.1"},
		{"10.0.0.1:80", "10.0.0.1"},
		{"[::1]:8080", "::1"},
		{"noport", "noport"},
	}

	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = tc.remoteAddr
		if got := clientIP(req); got != tc.wantIP {
			t.Errorf("remoteAddr=%q: expected %q, got %q", tc.remoteAddr, tc.wantIP, got)
		}
	}
}
