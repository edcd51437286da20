// Package callback delivers a batch processor's CallbackPayload to the
// upstream orchestrator over HTTP, per spec.md §6's
// "POST {orchestrator}/callback/organizer/{batch_id}" contract.
package callback

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/Arke-Institute/arke-organizer-service/internal/batch"
)

// Client POSTs callback payloads to the orchestrator.
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

// New constructs a Client. baseURL should not have a trailing slash.
func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{BaseURL: baseURL, HTTP: httpClient}
}

// Send implements batch.CallbackSender.
func (c *Client) Send(ctx context.Context, payload batch.CallbackPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("callback: encode payload: %w", err)
	}

	url := fmt.Sprintf("%s/callback/organizer/%s", c.BaseURL, payload.BatchID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("callback: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("callback: send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("callback: orchestrator returned status %d", resp.StatusCode)
	}
	return nil
}
