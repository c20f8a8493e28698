package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/mudler/ragscope/pkg/runlog"
	"github.com/mudler/ragscope/rag"
)

// Client is a client for the ragscope HTTP API
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewClient creates a new API client
func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: http.DefaultClient,
	}
}

// Health checks that the server is up
func (c *Client) Health(ctx context.Context) error {
	var status map[string]string
	if err := c.do(ctx, http.MethodGet, "/health", nil, &status); err != nil {
		return err
	}
	if status["status"] != "ok" {
		return fmt.Errorf("server is not healthy: %q", status["status"])
	}
	return nil
}

// Query asks the server to answer a question
func (c *Client) Query(ctx context.Context, question string) (*rag.RunOutput, error) {
	type request struct {
		Question string `json:"question"`
	}

	payload, err := json.Marshal(request{Question: question})
	if err != nil {
		return nil, err
	}

	out := &rag.RunOutput{}
	if err := c.do(ctx, http.MethodPost, "/api/query", bytes.NewReader(payload), out); err != nil {
		return nil, err
	}
	return out, nil
}

// Runs returns the most recent run log records, newest first
func (c *Client) Runs(ctx context.Context, limit int) ([]runlog.Record, error) {
	path := "/api/runs"
	if limit > 0 {
		path += "?" + url.Values{"limit": {fmt.Sprint(limit)}}.Encode()
	}

	var records []runlog.Record
	if err := c.do(ctx, http.MethodGet, path, nil, &records); err != nil {
		return nil, err
	}
	return records, nil
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	httpClient := c.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var errResp struct {
			Error string `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&errResp); err == nil && errResp.Error != "" {
			return fmt.Errorf("%s %s: %s", method, path, errResp.Error)
		}
		return fmt.Errorf("%s %s: unexpected status %d", method, path, resp.StatusCode)
	}

	return json.NewDecoder(resp.Body).Decode(out)
}
