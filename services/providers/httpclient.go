package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"
)

// maxErrorBody bounds how much of a failed reply is kept as the error message.
const maxErrorBody = 4096

// NewHTTPClient returns the client shared by adapters. Per-attempt
// deadlines come from the caller's context; timeout is a backstop.
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &http.Client{Timeout: timeout}
}

// PostJSON sends payload to url and decodes a 2xx reply into out.
// Every failure is returned as a *ProviderError for providerID.
func PostJSON(ctx context.Context, client *http.Client, providerID, url string, headers map[string]string, payload, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return NewProviderError(providerID, "failed to marshal request", 0, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return NewProviderError(providerID, "failed to create request", 0, err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return NewProviderError(providerID, "request failed", 0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return NewProviderError(providerID, string(raw), resp.StatusCode, nil)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return NewProviderError(providerID, "failed to decode response", resp.StatusCode, err)
	}
	return nil
}
