// Package analytics reads campaign metrics from a Notion database and
// caches the resulting dashboard.
package analytics

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// DefaultBaseURL is the Notion REST endpoint.
const DefaultBaseURL = "https://api.notion.com"

const queryPageSize = 100

// Schema maps dashboard fields to Notion property names.
type Schema struct {
	Date         string
	Campaign     string
	Sent         string
	Delivered    string
	Opened       string
	Clicked      string
	Bounced      string
	Unsubscribed string
	Spam         string
	Device       string
}

// APIError is an error response from Notion.
type APIError struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("notion: %d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("notion: %d: %s", e.Status, e.Message)
}

// Client queries one Notion database.
type Client struct {
	baseURL    string
	secret     string
	databaseID string
	version    string
	schema     Schema
	httpClient *http.Client
	logger     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL points the client at a different endpoint.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithLogger sets the logger for the client.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// NewClient creates a client for databaseID.
func NewClient(secret, databaseID, version string, schema Schema, opts ...Option) *Client {
	c := &Client{
		baseURL:    DefaultBaseURL,
		secret:     secret,
		databaseID: databaseID,
		version:    version,
		schema:     schema,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// property is the subset of a Notion page property value we read.
type property struct {
	Type        string            `json:"type"`
	Number      *float64          `json:"number"`
	Title       []richText        `json:"title"`
	RichText    []richText        `json:"rich_text"`
	Date        *dateValue        `json:"date"`
	Select      *selectValue      `json:"select"`
	MultiSelect []json.RawMessage `json:"multi_select"`
	Relation    []json.RawMessage `json:"relation"`
	People      []json.RawMessage `json:"people"`
	Formula     *formulaValue     `json:"formula"`
	Rollup      *rollupValue      `json:"rollup"`
}

type dateValue struct {
	Start string `json:"start"`
}

type selectValue struct {
	Name string `json:"name"`
}

type richText struct {
	PlainText string `json:"plain_text"`
}

type formulaValue struct {
	Type   string   `json:"type"`
	Number *float64 `json:"number"`
	String *string  `json:"string"`
}

type rollupValue struct {
	Type   string            `json:"type"`
	Number *float64          `json:"number"`
	Array  []json.RawMessage `json:"array"`
}

type page struct {
	ID         string              `json:"id"`
	Properties map[string]property `json:"properties"`
}

type queryResponse struct {
	Results    []page `json:"results"`
	HasMore    bool   `json:"has_more"`
	NextCursor string `json:"next_cursor"`
}

// Rows fetches every page of the database and maps it through the schema.
func (c *Client) Rows(ctx context.Context) ([]Row, error) {
	var rows []Row
	cursor := ""
	for {
		resp, err := c.query(ctx, cursor)
		if err != nil {
			return nil, err
		}
		for _, p := range resp.Results {
			rows = append(rows, c.mapRow(p))
		}
		if !resp.HasMore || resp.NextCursor == "" {
			break
		}
		cursor = resp.NextCursor
	}
	c.logger.Debug("fetched analytics rows", "database", c.databaseID, "rows", len(rows))
	return rows, nil
}

func (c *Client) query(ctx context.Context, cursor string) (*queryResponse, error) {
	body := map[string]any{"page_size": queryPageSize}
	if cursor != "" {
		body["start_cursor"] = cursor
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal query: %w", err)
	}

	reqURL := fmt.Sprintf("%s/v1/databases/%s/query", c.baseURL, url.PathEscape(c.databaseID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.secret)
	req.Header.Set("Notion-Version", c.version)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("query database: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		apiErr := &APIError{Status: resp.StatusCode}
		if json.Unmarshal(respBody, apiErr) != nil || apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(respBody))
		}
		apiErr.Status = resp.StatusCode
		return nil, apiErr
	}

	var out queryResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, fmt.Errorf("parse query response: %w", err)
	}
	return &out, nil
}

func (c *Client) mapRow(p page) Row {
	prop := func(name string) *property {
		if name == "" {
			return nil
		}
		if v, ok := p.Properties[name]; ok {
			return &v
		}
		return nil
	}
	return Row{
		ID:           p.ID,
		Date:         textValue(prop(c.schema.Date)),
		Campaign:     textValue(prop(c.schema.Campaign)),
		Device:       textValue(prop(c.schema.Device)),
		Sent:         numberValue(prop(c.schema.Sent)),
		Delivered:    numberValue(prop(c.schema.Delivered)),
		Opened:       numberValue(prop(c.schema.Opened)),
		Clicked:      numberValue(prop(c.schema.Clicked)),
		Bounced:      numberValue(prop(c.schema.Bounced)),
		Unsubscribed: numberValue(prop(c.schema.Unsubscribed)),
		Spam:         numberValue(prop(c.schema.Spam)),
	}
}

// textValue renders a property as display text.
func textValue(p *property) string {
	if p == nil {
		return ""
	}
	switch p.Type {
	case "title":
		return joinText(p.Title)
	case "rich_text":
		return joinText(p.RichText)
	case "date":
		if p.Date != nil {
			return p.Date.Start
		}
	case "select":
		if p.Select != nil {
			return p.Select.Name
		}
	case "number":
		if p.Number != nil {
			return strconv.FormatFloat(*p.Number, 'f', -1, 64)
		}
	case "formula":
		if p.Formula != nil && p.Formula.String != nil {
			return *p.Formula.String
		}
	}
	return ""
}

// numberValue reads a property as a number. List-valued properties such
// as recipient relations count their entries; text is parsed when it holds
// a number, optionally with a trailing percent sign.
func numberValue(p *property) *float64 {
	if p == nil {
		return nil
	}
	count := func(n int) *float64 { f := float64(n); return &f }
	switch p.Type {
	case "number":
		return p.Number
	case "multi_select":
		return count(len(p.MultiSelect))
	case "relation":
		return count(len(p.Relation))
	case "people":
		return count(len(p.People))
	case "formula":
		if p.Formula != nil {
			if p.Formula.Number != nil {
				return p.Formula.Number
			}
			if p.Formula.String != nil {
				return parseNumber(*p.Formula.String)
			}
		}
	case "rollup":
		if p.Rollup != nil {
			if p.Rollup.Type == "array" {
				return count(len(p.Rollup.Array))
			}
			return p.Rollup.Number
		}
	case "title", "rich_text":
		return parseNumber(textValue(p))
	}
	return nil
}

func parseNumber(s string) *float64 {
	s = strings.TrimSuffix(strings.TrimSpace(s), "%")
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return nil
	}
	return &f
}

func joinText(parts []richText) string {
	var sb strings.Builder
	for _, p := range parts {
		sb.WriteString(p.PlainText)
	}
	return sb.String()
}
