package provider

import (
	"context"
	"fmt"
	"io"
	"net/http"
)

// httpHealthCheck issues a GET against a model-list endpoint and treats any
// 2xx response as healthy.
type httpHealthCheck struct {
	url    string
	header string
	value  string
	client *http.Client
}

// HealthCheck implements HealthChecker.
func (h *httpHealthCheck) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.url, nil)
	if err != nil {
		return fmt.Errorf("provider: health request: %w", err)
	}
	if h.header != "" {
		req.Header.Set(h.header, h.value)
	}
	client := h.client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("provider: health request failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("provider: health endpoint returned HTTP %d", resp.StatusCode)
	}
	return nil
}
