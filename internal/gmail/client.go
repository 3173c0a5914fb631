package gmail

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultBaseURL is the Gmail REST endpoint.
	DefaultBaseURL = "https://gmail.googleapis.com/gmail/v1"

	defaultMaxRetries = 6
	defaultMaxBackoff = 60 * time.Second
	maxBatchModify    = 1000
)

// Client implements API against the Gmail REST endpoint.
type Client struct {
	httpClient  *http.Client
	rateLimiter *RateLimiter
	logger      *slog.Logger
	baseURL     string
	userID      string // "me" for the token's subject
	concurrency int
	maxRetries  int
	maxBackoff  time.Duration
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithLogger sets the logger for the client.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) { c.logger = logger }
}

// WithConcurrency sets the max concurrent requests for batch fetches.
func WithConcurrency(n int) ClientOption {
	return func(c *Client) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

// WithRateLimiter sets a custom rate limiter. Limiters may be shared by
// clients for the same mailbox.
func WithRateLimiter(rl *RateLimiter) ClientOption {
	return func(c *Client) { c.rateLimiter = rl }
}

// WithBaseURL points the client at a different endpoint.
func WithBaseURL(u string) ClientOption {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithHTTPClient replaces the OAuth-wrapped HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// WithRetryPolicy bounds retries of transient failures.
func WithRetryPolicy(maxRetries int, maxBackoff time.Duration) ClientOption {
	return func(c *Client) {
		c.maxRetries = maxRetries
		c.maxBackoff = maxBackoff
	}
}

// NewClient creates a Gmail client authenticated by tokenSource.
func NewClient(tokenSource oauth2.TokenSource, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:     DefaultBaseURL,
		userID:      "me",
		concurrency: 10,
		maxRetries:  defaultMaxRetries,
		maxBackoff:  defaultMaxBackoff,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		c.httpClient = oauth2.NewClient(context.Background(), tokenSource)
	}
	if c.rateLimiter == nil {
		c.rateLimiter = NewRateLimiter(5.0)
	}
	return c
}

// Close releases resources held by the client.
func (c *Client) Close() error {
	return nil
}

// APIError is a non-retryable (or retries exhausted) Gmail error response.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("gmail: status %d", e.StatusCode)
	}
	return fmt.Sprintf("gmail: status %d: %s", e.StatusCode, e.Message)
}

// NotFoundError indicates a 404 response.
type NotFoundError struct {
	Path string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("not found: %s", e.Path)
}

// StatusCode returns the upstream HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var nf *NotFoundError
	if errors.As(err, &nf) {
		return http.StatusNotFound
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

// request makes an HTTP request with rate limiting and retry logic.
// body may be nil.
func (c *Client) request(ctx context.Context, op Operation, method, path string, body []byte) ([]byte, error) {
	if err := c.rateLimiter.Acquire(ctx, op); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}

	reqURL := c.baseURL + path
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := c.calculateBackoff(attempt)
			c.logger.Debug("retrying request", "attempt", attempt, "backoff", backoff, "path", path)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		var rd io.Reader
		if body != nil {
			rd = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, reqURL, rd)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = fmt.Errorf("http request: %w", err)
			continue
		}
		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("read response: %w", err)
			continue
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return respBody, nil
		}

		switch resp.StatusCode {
		case http.StatusTooManyRequests:
			c.logger.Debug("rate limited, backing off", "path", path, "attempt", attempt)
			c.rateLimiter.Throttle(30 * time.Second)
			lastErr = &APIError{StatusCode: resp.StatusCode, Message: "rate limited"}
			continue

		case http.StatusForbidden:
			if isRateLimitError(respBody) {
				c.logger.Debug("quota exceeded, backing off", "path", path, "attempt", attempt)
				c.rateLimiter.Throttle(60 * time.Second)
				lastErr = &APIError{StatusCode: resp.StatusCode, Message: "quota exceeded"}
				continue
			}
			return nil, &APIError{StatusCode: resp.StatusCode, Message: errorMessage(respBody)}

		case http.StatusInternalServerError, http.StatusBadGateway,
			http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			lastErr = &APIError{StatusCode: resp.StatusCode, Message: errorMessage(respBody)}
			continue

		case http.StatusUnauthorized:
			return nil, &APIError{StatusCode: resp.StatusCode, Message: "unauthorized: token may be invalid"}

		case http.StatusNotFound:
			return nil, &NotFoundError{Path: path}

		default:
			return nil, &APIError{StatusCode: resp.StatusCode, Message: errorMessage(respBody)}
		}
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

// calculateBackoff returns an exponential backoff with full jitter.
func (c *Client) calculateBackoff(attempt int) time.Duration {
	base := time.Duration(uint(1)<<uint(min(attempt, 20))) * time.Second
	base = min(base, c.maxBackoff)
	return time.Duration(rand.Float64() * float64(base))
}

// isRateLimitError checks if a 403 response is actually a quota error.
func isRateLimitError(body []byte) bool {
	return bytes.Contains(body, []byte("rateLimitExceeded")) ||
		bytes.Contains(body, []byte("RATE_LIMIT_EXCEEDED")) ||
		bytes.Contains(body, []byte("Quota exceeded")) ||
		bytes.Contains(body, []byte("userRateLimitExceeded"))
}

// errorMessage extracts error.message from a Gmail error body, falling back
// to the raw body.
func errorMessage(body []byte) string {
	var parsed struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &parsed) == nil && parsed.Error.Message != "" {
		return parsed.Error.Message
	}
	return strings.TrimSpace(string(body))
}

// decodeBase64URL decodes base64url data with or without padding.
func decodeBase64URL(s string) ([]byte, error) {
	if strings.ContainsRune(s, '=') {
		return base64.URLEncoding.DecodeString(s)
	}
	return base64.RawURLEncoding.DecodeString(s)
}

type profileResponse struct {
	EmailAddress  string `json:"emailAddress"`
	MessagesTotal int64  `json:"messagesTotal"`
	ThreadsTotal  int64  `json:"threadsTotal"`
}

type gmailLabel struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Type           string `json:"type"`
	MessagesTotal  *int64 `json:"messagesTotal"`
	MessagesUnread *int64 `json:"messagesUnread"`
}

func (l gmailLabel) toLabel() *Label {
	return &Label{
		ID:             l.ID,
		Name:           l.Name,
		Type:           l.Type,
		MessagesTotal:  l.MessagesTotal,
		MessagesUnread: l.MessagesUnread,
	}
}

type gmailMessageRef struct {
	ID       string `json:"id"`
	ThreadID string `json:"threadId"`
}

type listMessagesResponse struct {
	Messages           []gmailMessageRef `json:"messages"`
	NextPageToken      string            `json:"nextPageToken"`
	ResultSizeEstimate int64             `json:"resultSizeEstimate"`
}

// GetProfile returns the mailbox profile.
func (c *Client) GetProfile(ctx context.Context) (*Profile, error) {
	data, err := c.request(ctx, OpProfile, http.MethodGet, fmt.Sprintf("/users/%s/profile", c.userID), nil)
	if err != nil {
		return nil, err
	}
	var resp profileResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("parse profile: %w", err)
	}
	return &Profile{
		EmailAddress:  resp.EmailAddress,
		MessagesTotal: resp.MessagesTotal,
		ThreadsTotal:  resp.ThreadsTotal,
	}, nil
}

// ListLabels returns all labels for the mailbox.
func (c *Client) ListLabels(ctx context.Context) ([]*Label, error) {
	data, err := c.request(ctx, OpLabelsList, http.MethodGet, fmt.Sprintf("/users/%s/labels", c.userID), nil)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Labels []gmailLabel `json:"labels"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("parse labels: %w", err)
	}
	labels := make([]*Label, len(resp.Labels))
	for i, l := range resp.Labels {
		labels[i] = l.toLabel()
	}
	return labels, nil
}

// GetLabel returns one label with its counts.
func (c *Client) GetLabel(ctx context.Context, labelID string) (*Label, error) {
	path := fmt.Sprintf("/users/%s/labels/%s", c.userID, url.PathEscape(labelID))
	data, err := c.request(ctx, OpLabelsGet, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	var resp gmailLabel
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("parse label: %w", err)
	}
	return resp.toLabel(), nil
}

// ListMessages returns a page of message ids.
func (c *Client) ListMessages(ctx context.Context, opts ListOptions) (*MessageListResponse, error) {
	params := url.Values{}
	if opts.MaxResults > 0 {
		params.Set("maxResults", strconv.Itoa(opts.MaxResults))
	}
	if opts.Query != "" {
		params.Set("q", opts.Query)
	}
	for _, id := range opts.LabelIDs {
		params.Add("labelIds", id)
	}
	if opts.PageToken != "" {
		params.Set("pageToken", opts.PageToken)
	}

	path := fmt.Sprintf("/users/%s/messages?%s", c.userID, params.Encode())
	data, err := c.request(ctx, OpMessagesList, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	var resp listMessagesResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("parse messages: %w", err)
	}
	messages := make([]MessageID, len(resp.Messages))
	for i, m := range resp.Messages {
		messages[i] = MessageID(m)
	}
	return &MessageListResponse{
		Messages:           messages,
		NextPageToken:      resp.NextPageToken,
		ResultSizeEstimate: resp.ResultSizeEstimate,
	}, nil
}

// GetMessage fetches a message in full format.
func (c *Client) GetMessage(ctx context.Context, messageID string) (*Message, error) {
	path := fmt.Sprintf("/users/%s/messages/%s?format=full", c.userID, url.PathEscape(messageID))
	data, err := c.request(ctx, OpMessagesGet, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	var resp fullMessageResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("parse message: %w", err)
	}
	return resp.toMessage(), nil
}

// GetMessagesBatch fetches messages in parallel. A message that vanished
// between list and get leaves a nil entry; any other failure fails the
// batch.
func (c *Client) GetMessagesBatch(ctx context.Context, messageIDs []string) ([]*Message, error) {
	if len(messageIDs) == 0 {
		return nil, nil
	}

	results := make([]*Message, len(messageIDs))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)

	for i, id := range messageIDs {
		g.Go(func() error {
			msg, err := c.GetMessage(ctx, id)
			if err != nil {
				var nf *NotFoundError
				if errors.As(err, &nf) {
					c.logger.Debug("message vanished before fetch", "id", id)
					return nil
				}
				return fmt.Errorf("get message %s: %w", id, err)
			}
			results[i] = msg
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// GetAttachment downloads attachment content.
func (c *Client) GetAttachment(ctx context.Context, messageID, attachmentID string) ([]byte, error) {
	path := fmt.Sprintf("/users/%s/messages/%s/attachments/%s",
		c.userID, url.PathEscape(messageID), url.PathEscape(attachmentID))
	data, err := c.request(ctx, OpAttachmentsGet, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Data string `json:"data"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("parse attachment: %w", err)
	}
	content, err := decodeBase64URL(resp.Data)
	if err != nil {
		return nil, fmt.Errorf("decode attachment: %w", err)
	}
	return content, nil
}

// BatchModify adds and removes labels on up to 1000 messages.
func (c *Client) BatchModify(ctx context.Context, messageIDs, addLabelIDs, removeLabelIDs []string) error {
	if len(messageIDs) == 0 {
		return nil
	}
	if len(messageIDs) > maxBatchModify {
		return fmt.Errorf("batch modify limited to %d messages, got %d", maxBatchModify, len(messageIDs))
	}

	body, err := json.Marshal(struct {
		IDs            []string `json:"ids"`
		AddLabelIDs    []string `json:"addLabelIds,omitempty"`
		RemoveLabelIDs []string `json:"removeLabelIds,omitempty"`
	}{messageIDs, addLabelIDs, removeLabelIDs})
	if err != nil {
		return fmt.Errorf("marshal body: %w", err)
	}

	path := fmt.Sprintf("/users/%s/messages/batchModify", c.userID)
	_, err = c.request(ctx, OpMessagesBatchMod, http.MethodPost, path, body)
	return err
}

// Send submits a raw RFC 5322 message.
func (c *Client) Send(ctx context.Context, raw []byte) (*MessageID, error) {
	body, err := json.Marshal(map[string]string{"raw": base64.RawURLEncoding.EncodeToString(raw)})
	if err != nil {
		return nil, fmt.Errorf("marshal body: %w", err)
	}
	path := fmt.Sprintf("/users/%s/messages/send", c.userID)
	data, err := c.request(ctx, OpMessagesSend, http.MethodPost, path, body)
	if err != nil {
		return nil, err
	}
	var resp gmailMessageRef
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("parse send response: %w", err)
	}
	id := MessageID(resp)
	return &id, nil
}

var _ API = (*Client)(nil)
