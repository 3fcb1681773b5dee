package query

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client reads a running daemon's query server.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a client for addr, either host:port or a URL.
func NewClient(addr string) *Client {
	base := addr
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	return &Client{
		baseURL:    strings.TrimRight(base, "/"),
		httpClient: &http.Client{Timeout: 5 * time.Second},
	}
}

// Context fetches the current context.
func (c *Client) Context(ctx context.Context) (*Context, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/context", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("is rewind running? %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("query server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var out Context
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode context: %w", err)
	}
	return &out, nil
}

// Analyze asks the daemon to run a cycle now.
func (c *Client) Analyze(ctx context.Context) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/analyze", nil)
	if err != nil {
		return false, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("is rewind running? %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		return false, fmt.Errorf("query server returned %d", resp.StatusCode)
	}
	var out struct {
		Queued bool `json:"queued"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return false, err
	}
	return out.Queued, nil
}
