package sync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"timeclock-backend/config"
	"timeclock-backend/internal/model"
	"timeclock-backend/internal/store"
)

// PushRequest is the batch body sent to the remote store.
type PushRequest struct {
	Entries []model.DailyHoursEntry `json:"entries"`
}

// PushResponse reports per-row acceptance; one bad row never fails the batch.
type PushResponse struct {
	Accepted []string              `json:"accepted"`
	Rejected []store.RejectedEntry `json:"rejected"`
}

// PullResponse is one page of remote entries newer than the checkpoint.
type PullResponse struct {
	Entries []model.DailyHoursEntry `json:"entries"`
}

// Client talks to the remote store's batch endpoints.
type Client struct {
	endpoint string
	headers  map[string]string
	pageSize int
	client   *http.Client
}

// NewClient creates a remote-store client from the sync configuration.
func NewClient(cfg *config.SyncConfig) *Client {
	return &Client{
		endpoint: cfg.Endpoint,
		headers:  cfg.Headers,
		pageSize: cfg.PageSize,
		client: &http.Client{
			Timeout: cfg.RequestTimeout,
		},
	}
}

// Push uploads a batch of dirty entries, tombstones included.
func (c *Client) Push(ctx context.Context, entries []model.DailyHoursEntry) (*PushResponse, error) {
	body, err := json.Marshal(PushRequest{Entries: entries})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal push batch: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/sync/push", bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create push request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	var resp PushResponse
	if err := c.do(req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Pull fetches one page of entries changed after since. Pages are requested
// oldest first so the checkpoint can advance monotonically.
func (c *Client) Pull(ctx context.Context, since time.Time, offset int) ([]model.DailyHoursEntry, error) {
	q := url.Values{}
	q.Set("since", since.UTC().Format(time.RFC3339Nano))
	q.Set("limit", strconv.Itoa(c.pageSize))
	q.Set("offset", strconv.Itoa(offset))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"/sync/pull?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create pull request: %w", err)
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	var resp PullResponse
	if err := c.do(req, &resp); err != nil {
		return nil, err
	}
	return resp.Entries, nil
}

// PageSize returns the batch size used for pull pagination.
func (c *Client) PageSize() int { return c.pageSize }

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("received non-200 status code: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return nil
}
