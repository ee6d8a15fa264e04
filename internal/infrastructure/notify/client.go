package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"NewsDesk/internal/ports"
)

// Client posts new-draft hints to the review orchestrator's notify endpoint.
// The hint is an optimization only; reconciliation covers lost deliveries.
type Client struct {
	endpoint string
	http     *http.Client
}

var _ ports.Notifier = (*Client)(nil)

// NewClient creates a reusable HTTP client for the notify endpoint.
func NewClient(endpoint string) *Client {
	return &Client{
		endpoint: endpoint,
		http:     &http.Client{Timeout: 10 * time.Second},
	}
}

// NotifyNewDraft fires the hint for one draft id.
func (c *Client) NotifyNewDraft(ctx context.Context, draftID string) error {
	if c.endpoint == "" {
		return fmt.Errorf("notify endpoint is not configured")
	}

	body, err := json.Marshal(map[string]string{"draft_id": draftID})
	if err != nil {
		return fmt.Errorf("marshal notify payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("notify returned %s", resp.Status)
	}
	return nil
}
