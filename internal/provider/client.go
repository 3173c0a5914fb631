// Package provider is the HTTP client for a mailroom server. It implements
// mailbox.Provider so a Session can run against a remote gateway.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// Client talks to the mailroom API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger

	mu    sync.RWMutex
	token string
}

// Config holds configuration for creating a Client.
type Config struct {
	URL           string
	Token         string // admin token from a previous Login
	APIKey        string
	AllowInsecure bool
	Timeout       time.Duration
	Logger        *slog.Logger
}

// New validates cfg and creates a Client.
func New(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("server URL is required")
	}

	parsedURL, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return nil, fmt.Errorf("URL scheme must be http or https, got: %s", parsedURL.Scheme)
	}
	if parsedURL.Scheme == "http" && !cfg.AllowInsecure && !isLoopback(parsedURL.Hostname()) {
		return nil, fmt.Errorf("HTTPS required for remote servers\n\n" +
			"Options:\n" +
			"  1. Use HTTPS: [client] url = \"https://mail-admin.example.com\"\n" +
			"  2. For trusted networks: add 'allow_insecure = true' to [client] in config.toml")
	}
	if parsedURL.Host == "" {
		return nil, fmt.Errorf("server URL must include a host (e.g., https://mail-admin:5001)")
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		baseURL:    strings.TrimSuffix(cfg.URL, "/"),
		apiKey:     cfg.APIKey,
		token:      cfg.Token,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}, nil
}

func isLoopback(host string) bool {
	return host == "localhost" || host == "127.0.0.1" || host == "::1"
}

// BaseURL returns the server URL without a trailing slash.
func (c *Client) BaseURL() string { return c.baseURL }

// SetToken replaces the admin token sent with each request.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// Token returns the current admin token.
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// APIError is a non-2xx response from the server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (%d): %s", e.Status, e.Message)
}

// UserMessage is the server's message, suitable for display.
func (e *APIError) UserMessage() string { return e.Message }

// IsUnauthorized reports whether err is a 401 from the server.
func IsUnauthorized(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized
}

// errorBody covers both error shapes the server returns.
type errorBody struct {
	Error   string   `json:"error"`
	Message string   `json:"message"`
	Emails  []string `json:"emails"`
}

func handleErrorResponse(resp *http.Response) *APIError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	var eb errorBody
	if err := json.Unmarshal(body, &eb); err == nil {
		if eb.Error != "" {
			return &APIError{Status: resp.StatusCode, Message: eb.Error}
		}
		if eb.Message != "" {
			return &APIError{Status: resp.StatusCode, Message: eb.Message}
		}
	}
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return &APIError{Status: resp.StatusCode, Message: msg}
}

// newRequest builds an authenticated request. body, when non-nil, is sent
// as JSON.
func (c *Client) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		rd = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}
	if tok := c.Token(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	return req, nil
}

// doJSON performs a request and decodes a 200 response into out.
func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	c.logger.Debug("api call", "method", method, "path", req.URL.Path, "status", resp.StatusCode, "duration", time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return handleErrorResponse(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// mailboxPath returns the API path for a mailbox resource.
func mailboxPath(address, suffix string) string {
	return "/api/mailbox/" + url.PathEscape(address) + suffix
}
