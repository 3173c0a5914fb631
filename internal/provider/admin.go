package provider

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/mailroom/mailroom/internal/analytics"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Success bool   `json:"success"`
	Token   string `json:"token"`
	Message string `json:"message"`
}

// Login exchanges admin credentials for a token and starts using it.
func (c *Client) Login(ctx context.Context, username, password string) (string, error) {
	var resp loginResponse
	err := c.doJSON(ctx, http.MethodPost, "/api/login", loginRequest{
		Username: strings.TrimSpace(username),
		Password: strings.TrimSpace(password),
	}, &resp)
	if err != nil {
		return "", err
	}
	if !resp.Success || resp.Token == "" {
		return "", &APIError{Status: http.StatusUnauthorized, Message: "Invalid username or password"}
	}
	c.SetToken(resp.Token)
	return resp.Token, nil
}

type emailsResponse struct {
	Emails []string `json:"emails"`
}

type emailRequest struct {
	Email string `json:"email"`
}

// Mailboxes lists the managed mailbox addresses.
func (c *Client) Mailboxes(ctx context.Context) ([]string, error) {
	var resp emailsResponse
	if err := c.doJSON(ctx, http.MethodGet, "/api/emails", nil, &resp); err != nil {
		return nil, err
	}
	return nonNil(resp.Emails), nil
}

// AddMailbox registers address and returns the updated list.
func (c *Client) AddMailbox(ctx context.Context, address string) ([]string, error) {
	var resp emailsResponse
	if err := c.doJSON(ctx, http.MethodPost, "/api/emails", emailRequest{Email: address}, &resp); err != nil {
		return nil, fmt.Errorf("add mailbox: %w", err)
	}
	return nonNil(resp.Emails), nil
}

// RemoveMailbox unregisters address and returns the updated list.
func (c *Client) RemoveMailbox(ctx context.Context, address string) ([]string, error) {
	var resp emailsResponse
	if err := c.doJSON(ctx, http.MethodDelete, "/api/emails", emailRequest{Email: address}, &resp); err != nil {
		return nil, fmt.Errorf("remove mailbox: %w", err)
	}
	return nonNil(resp.Emails), nil
}

// Analytics fetches the cached campaign dashboard.
func (c *Client) Analytics(ctx context.Context) (*analytics.Dashboard, error) {
	var d analytics.Dashboard
	if err := c.doJSON(ctx, http.MethodGet, "/api/analytics", nil, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// RefreshAnalytics asks the server to rebuild the dashboard now.
func (c *Client) RefreshAnalytics(ctx context.Context) error {
	return c.doJSON(ctx, http.MethodPost, "/api/analytics/refresh", nil, nil)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
