// Package client provides HTTP client functionality to communicate with an
// applockd daemon.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"
)

// Client talks to the daemon's control API.
type Client struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// Config holds client configuration
type Config struct {
	BaseURL string
	Timeout time.Duration
	Logger  *slog.Logger // Optional logger for client operations
}

// DefaultConfig returns default client configuration
func DefaultConfig() Config {
	return Config{
		BaseURL: "http://127.0.0.1:8220/api",
		Timeout: 10 * time.Second,
	}
}

// New creates a new applockd API client
func New(config Config) *Client {
	if config.BaseURL == "" {
		config.BaseURL = "http://127.0.0.1:8220/api"
	}
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Client{
		baseURL: config.BaseURL,
		logger:  config.Logger,
		client:  &http.Client{Timeout: config.Timeout},
	}
}

// IsReachable checks if the daemon is running and reachable
func (c *Client) IsReachable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthz", nil)
	if err != nil {
		c.logger.Debug("Failed to create request for reachability check", "error", err)
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("Daemon unreachable", "error", err)
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode == http.StatusOK
}

// Status returns the coordinator snapshot: active policy, in-flight
// verification sessions and grace windows.
func (c *Client) Status(ctx context.Context) (Status, error) {
	var st Status
	if err := c.getJSON(ctx, c.baseURL+"/status", &st); err != nil {
		return Status{}, err
	}
	return st, nil
}

// Policy returns the active policy snapshot.
func (c *Client) Policy(ctx context.Context) (Policy, error) {
	var p Policy
	if err := c.getJSON(ctx, c.baseURL+"/policy", &p); err != nil {
		return Policy{}, err
	}
	return p, nil
}

// Reload asks the daemon to re-read its config file and swap the policy.
func (c *Client) Reload(ctx context.Context) error {
	c.logger.Debug("Requesting policy reload")
	return c.doRequest(ctx, http.MethodPost, c.baseURL+"/reload", nil, nil)
}

// AddKeyword protects a new keyword; the daemon persists it to its config.
func (c *Client) AddKeyword(ctx context.Context, keyword string) (Policy, error) {
	c.logger.Debug("Adding protected keyword", "keyword", keyword)
	body, err := json.Marshal(keywordRequest{Keyword: keyword})
	if err != nil {
		return Policy{}, fmt.Errorf("marshal request: %w", err)
	}
	var p Policy
	if err := c.doRequest(ctx, http.MethodPost, c.baseURL+"/policy/add", body, &p); err != nil {
		return Policy{}, err
	}
	return p, nil
}

// RemoveKeyword drops a protected keyword.
func (c *Client) RemoveKeyword(ctx context.Context, keyword string) (Policy, error) {
	c.logger.Debug("Removing protected keyword", "keyword", keyword)
	body, err := json.Marshal(keywordRequest{Keyword: keyword})
	if err != nil {
		return Policy{}, fmt.Errorf("marshal request: %w", err)
	}
	var p Policy
	if err := c.doRequest(ctx, http.MethodPost, c.baseURL+"/policy/remove", body, &p); err != nil {
		return Policy{}, err
	}
	return p, nil
}

// Audit returns the most recent audit events, newest first.
func (c *Client) Audit(ctx context.Context, limit int) ([]AuditEvent, error) {
	url := c.baseURL + "/audit"
	if limit > 0 {
		url += "?limit=" + strconv.Itoa(limit)
	}
	var events []AuditEvent
	if err := c.getJSON(ctx, url, &events); err != nil {
		return nil, err
	}
	return events, nil
}

func (c *Client) getJSON(ctx context.Context, url string, out any) error {
	return c.doRequest(ctx, http.MethodGet, url, nil, out)
}

// doRequest performs an HTTP request with common error handling, decoding the
// response into out when out is non-nil.
func (c *Client) doRequest(ctx context.Context, method, url string, body []byte, out any) error {
	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, rdr)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Error("HTTP request failed", "error", err, "url", url)
		return fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr ErrorResponse
		if decodeErr := json.NewDecoder(resp.Body).Decode(&apiErr); decodeErr == nil && apiErr.Error != "" {
			return fmt.Errorf("daemon returned %d: %s", resp.StatusCode, apiErr.Error)
		}
		return fmt.Errorf("daemon returned %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
