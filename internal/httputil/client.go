// Package httputil provides HTTP helpers shared by the router: JSON responses
// and the client used to probe upstream sub-apps.
package httputil

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// =============================================================================
// Upstream Client
// =============================================================================

// Client issues requests against a single upstream base URL.
// Transport errors and 5xx responses are retried up to MaxRetries times.
type Client struct {
	httpClient *http.Client
	baseURL    string
	maxRetries int
	retryDelay time.Duration
	userAgent  string
}

// ClientConfig configures the upstream client.
type ClientConfig struct {
	BaseURL    string
	Timeout    time.Duration
	MaxRetries int
	RetryDelay time.Duration
	UserAgent  string
}

// NewClient creates a client for cfg.BaseURL.
func NewClient(cfg ClientConfig) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}

	maxRetries := cfg.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}

	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = "pitext-router"
	}

	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		maxRetries: maxRetries,
		retryDelay: cfg.RetryDelay,
		userAgent:  userAgent,
	}
}

// BaseURL returns the upstream base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Get performs a GET request against path.
func (c *Client) Get(ctx context.Context, path string) (*http.Response, error) {
	return c.do(ctx, http.MethodGet, path, 0)
}

func (c *Client) do(ctx context.Context, method, path string, attempt int) (*http.Response, error) {
	if path != "" && !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if attempt < c.maxRetries && ctx.Err() == nil {
			if waitErr := c.wait(ctx); waitErr != nil {
				return nil, fmt.Errorf("request failed: %w", err)
			}
			return c.do(ctx, method, path, attempt+1)
		}
		return nil, fmt.Errorf("request failed: %w", err)
	}

	if resp.StatusCode >= 500 && attempt < c.maxRetries {
		resp.Body.Close()
		if err := c.wait(ctx); err != nil {
			return nil, err
		}
		return c.do(ctx, method, path, attempt+1)
	}

	return resp, nil
}

func (c *Client) wait(ctx context.Context) error {
	if c.retryDelay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(c.retryDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// ReadBody reads at most limit bytes of resp's body and closes it.
func ReadBody(resp *http.Response, limit int64) ([]byte, error) {
	defer resp.Body.Close()
	body, truncated, err := ReadAllWithLimit(resp.Body, limit)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	if truncated {
		return body, fmt.Errorf("response body exceeds %d bytes", limit)
	}
	return body, nil
}

// ReadAllWithLimit reads up to limit bytes from r and reports whether more remained.
func ReadAllWithLimit(r io.Reader, limit int64) ([]byte, bool, error) {
	if limit <= 0 {
		return nil, false, fmt.Errorf("invalid limit %d", limit)
	}
	var buf bytes.Buffer
	n, err := io.Copy(&buf, io.LimitReader(r, limit+1))
	if err != nil {
		return nil, false, err
	}
	if n > limit {
		return buf.Bytes()[:limit], true, nil
	}
	return buf.Bytes(), false, nil
}
