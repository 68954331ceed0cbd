package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/opensandbox/poolmgr/pkg/types"
)

// Client is an HTTP client for the poolmgr dispatcher API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a new poolmgr API client. Teardown and scale calls wait
// on the cloud backend, so the default timeout is generous.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 10 * time.Minute,
		},
	}
}

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (status %d): %s", e.StatusCode, e.Body)
}

// doRequest performs an HTTP request with API key authentication.
func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}

	return resp, nil
}

// call sends body and decodes a 200 response into out (when non-nil).
func (c *Client) call(ctx context.Context, method, path string, body, out interface{}) error {
	resp, err := c.doRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		data, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// ScaleOut asks the pool to start blocks more blocks. Units is 0 when the
// request would exceed the pool's capacity.
func (c *Client) ScaleOut(ctx context.Context, blocks int) (*types.ScaleResponse, error) {
	var out types.ScaleResponse
	if err := c.call(ctx, http.MethodPost, "/scale-out", types.ScaleRequest{Blocks: blocks}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ScaleIn asks the pool to stop up to blocks blocks, newest first.
func (c *Client) ScaleIn(ctx context.Context, blocks int) (*types.ScaleResponse, error) {
	var out types.ScaleResponse
	if err := c.call(ctx, http.MethodPost, "/scale-in", types.ScaleRequest{Blocks: blocks}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Submit submits a batch job. The id is empty when the pool was at capacity
// or the scheduler refused the job.
func (c *Client) Submit(ctx context.Context, command string, blocksize float64, label string) (string, error) {
	var out types.SubmitResponse
	req := types.SubmitRequest{Command: command, Blocksize: blocksize, Label: label}
	if err := c.call(ctx, http.MethodPost, "/submit", req, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

// Cancel cancels units and returns one flag per id.
func (c *Client) Cancel(ctx context.Context, ids []string) ([]bool, error) {
	var out types.CancelResponse
	if err := c.call(ctx, http.MethodPost, "/cancel", types.IDsRequest{IDs: ids}, &out); err != nil {
		return nil, err
	}
	return out.Cancelled, nil
}

// Status returns the canonical status of each id, in order.
func (c *Client) Status(ctx context.Context, ids []string) ([]types.Status, error) {
	var out types.StatusResponse
	if err := c.call(ctx, http.MethodPost, "/status", types.IDsRequest{IDs: ids}, &out); err != nil {
		return nil, err
	}
	return out.Statuses, nil
}

// Summary returns the pool's topology and units.
func (c *Client) Summary(ctx context.Context) (*types.PoolSummary, error) {
	var out types.PoolSummary
	if err := c.call(ctx, http.MethodGet, "/summary", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Teardown terminates every unit and destroys the pool's network.
func (c *Client) Teardown(ctx context.Context) error {
	return c.call(ctx, http.MethodPost, "/teardown", nil, nil)
}
