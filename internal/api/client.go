// Package api is the HTTP gateway to the todo/chat backend. It attaches the
// bearer token to every request, classifies responses, and translates error
// bodies into typed errors. Navigation on 401 is a caller-injected hook, not
// a hard-wired side effect.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hugofs/tasktalk/internal/logger"
	"github.com/hugofs/tasktalk/internal/token"
)

const defaultTimeout = 30 * time.Second

// Doer is the minimal subset of http.Client the gateway needs; it is easy to
// substitute in tests.
type Doer interface {
	Do(*http.Request) (*http.Response, error)
}

// Client talks to the backend REST API.
type Client struct {
	baseURL        string
	http           Doer
	tokens         token.Store
	onUnauthorized func()
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(d Doer) Option {
	return func(c *Client) { c.http = d }
}

// WithOnUnauthorized installs the hook invoked whenever the backend answers
// 401. The stored token has already been cleared when the hook runs.
func WithOnUnauthorized(fn func()) Option {
	return func(c *Client) { c.onUnauthorized = fn }
}

// WithTimeout replaces the default HTTP client with one using the given timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d <= 0 {
			d = defaultTimeout
		}
		c.http = &http.Client{Timeout: d}
	}
}

// New creates a gateway client. tokens is re-read on every request so a 401
// on one in-flight request is immediately visible to the others.
func New(baseURL string, tokens token.Store, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: defaultTimeout},
		tokens:  tokens,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type requestOptions struct {
	skipAuth bool
}

// RequestOption adjusts a single request.
type RequestOption func(*requestOptions)

// SkipAuth omits the Authorization header; used by signup and signin.
func SkipAuth() RequestOption {
	return func(o *requestOptions) { o.skipAuth = true }
}

// do performs one request/response cycle. body, when non-nil, is marshaled as
// JSON; out, when non-nil, receives the decoded response body. A 204 response
// leaves out untouched.
func (c *Client) do(ctx context.Context, method, path string, body, out any, opts ...RequestOption) error {
	var reqOpts requestOptions
	for _, opt := range opts {
		opt(&reqOpts)
	}

	var payload io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("api: marshal request: %w", err)
		}
		payload = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, payload)
	if err != nil {
		return fmt.Errorf("api: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	if !reqOpts.skipAuth {
		if tok := c.tokens.Get(); tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("api: send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("api: read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		c.tokens.Clear()
		if c.onUnauthorized != nil {
			c.onUnauthorized()
		}
		return ErrUnauthorized
	case resp.StatusCode == http.StatusNoContent:
		return nil
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		apiErr := &Error{Status: resp.StatusCode, Detail: errorDetail(respBody)}
		logger.L.Debug("backend error", "method", method, "path", path, "status", resp.StatusCode, "detail", apiErr.Detail)
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("api: decode response: %w", err)
	}
	return nil
}
