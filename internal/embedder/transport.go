package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

const (
	// DefaultMaxRetries is the number of extra attempts made after a 429,
	// a 5xx or a transport error.
	DefaultMaxRetries = 3

	baseRetryDelay = 200 * time.Millisecond
	maxRetryDelay  = 5 * time.Second
	maxRetryAfter  = 30 * time.Second
)

// APIError is a non-2xx reply from an embedding endpoint.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("HTTP %d", e.Status)
	}
	return fmt.Sprintf("HTTP %d: %s", e.Status, e.Message)
}

// Temporary reports whether the request may succeed if repeated.
func (e *APIError) Temporary() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= 500
}

// jsonEndpoint posts JSON bodies to one URL and retries transient failures
// with capped exponential backoff.
type jsonEndpoint struct {
	client     *http.Client
	url        string
	header     http.Header
	maxRetries int
	// errorMessage pulls the provider's message out of an error body.
	errorMessage func(body []byte) string
}

func newJSONEndpoint(url string, timeout time.Duration, retries int) *jsonEndpoint {
	switch {
	case retries == 0:
		retries = DefaultMaxRetries
	case retries < 0:
		retries = 0
	}
	return &jsonEndpoint{
		client:     &http.Client{Timeout: timeoutOrDefault(timeout)},
		url:        url,
		header:     http.Header{"Content-Type": []string{"application/json"}},
		maxRetries: retries,
	}
}

// post sends in and decodes the 2xx response into out.
func (e *jsonEndpoint) post(ctx context.Context, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	var lastErr error
	for attempt := 0; ; attempt++ {
		wait, err := e.attempt(ctx, payload, out)
		if err == nil {
			return nil
		}
		lastErr = err
		if wait < 0 || attempt >= e.maxRetries || ctx.Err() != nil {
			return lastErr
		}
		if wait == 0 {
			wait = retryDelay(attempt)
		}
		select {
		case <-ctx.Done():
			return errors.Join(lastErr, ctx.Err())
		case <-time.After(wait):
		}
	}
}

// attempt performs one round trip. A negative wait marks the error as final;
// zero asks the caller to pick the backoff delay.
func (e *jsonEndpoint) attempt(ctx context.Context, payload []byte, out any) (time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(payload))
	if err != nil {
		return -1, fmt.Errorf("create request: %w", err)
	}
	req.Header = e.header.Clone()

	resp, err := e.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		if e.errorMessage != nil {
			apiErr.Message = e.errorMessage(body)
		}
		if !apiErr.Temporary() {
			return -1, apiErr
		}
		return retryAfter(resp.Header.Get("Retry-After")), apiErr
	}

	if err := json.Unmarshal(body, out); err != nil {
		return -1, fmt.Errorf("decode response: %w", err)
	}
	return 0, nil
}

// retryDelay is 200ms doubled per attempt, capped at 5s.
func retryDelay(attempt int) time.Duration {
	d := baseRetryDelay << attempt
	if d <= 0 || d > maxRetryDelay {
		return maxRetryDelay
	}
	return d
}

// retryAfter parses a Retry-After header given in seconds.
func retryAfter(v string) time.Duration {
	secs, err := strconv.Atoi(v)
	if err != nil || secs <= 0 {
		return 0
	}
	return min(time.Duration(secs)*time.Second, maxRetryAfter)
}

// embedInBatches splits texts into slices of at most size and concatenates
// the results in input order.
func embedInBatches(ctx context.Context, texts []string, size int, embed func(context.Context, []string) ([][]float32, error)) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if size <= 0 || size >= len(texts) {
		return embed(ctx, texts)
	}
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += size {
		end := min(start+size, len(texts))
		vecs, err := embed(ctx, texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("batch %d-%d: %w", start, end-1, err)
		}
		out = append(out, vecs...)
	}
	return out, nil
}
