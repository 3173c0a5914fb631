// Package oauth provides delegated Gmail credentials backed by a Google
// Workspace service account with domain-wide delegation.
package oauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"golang.org/x/oauth2/jwt"
)

// Scopes requested for every delegated mailbox.
var Scopes = []string{
	"https://www.googleapis.com/auth/gmail.readonly",
	"https://www.googleapis.com/auth/gmail.modify",
	"https://www.googleapis.com/auth/gmail.send",
}

// ErrNoServiceAccount is returned when the service account key file is
// missing.
var ErrNoServiceAccount = errors.New("service account file is missing")

// Manager hands out token sources that impersonate individual mailboxes.
// Token sources are cached per mailbox and refresh themselves.
type Manager struct {
	config *jwt.Config
	logger *slog.Logger

	mu      sync.Mutex
	sources map[string]oauth2.TokenSource
}

// NewManager loads a service account key from path.
func NewManager(path string, logger *slog.Logger) (*Manager, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNoServiceAccount, path)
		}
		return nil, fmt.Errorf("read service account: %w", err)
	}
	return NewManagerFromJSON(data, logger, Scopes...)
}

// NewManagerFromJSON builds a Manager from a service account key. With no
// scopes, Scopes is used.
func NewManagerFromJSON(data []byte, logger *slog.Logger, scopes ...string) (*Manager, error) {
	if len(scopes) == 0 {
		scopes = Scopes
	}
	cfg, err := google.JWTConfigFromJSON(data, scopes...)
	if err != nil {
		return nil, fmt.Errorf("parse service account: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		config:  cfg,
		logger:  logger,
		sources: make(map[string]oauth2.TokenSource),
	}, nil
}

// ClientEmail returns the service account's address.
func (m *Manager) ClientEmail() string {
	return m.config.Email
}

// TokenSource returns a token source acting as mailbox. ctx is not retained;
// token refreshes run on a background context so a cached source outlives
// the request that created it.
func (m *Manager) TokenSource(ctx context.Context, mailbox string) (oauth2.TokenSource, error) {
	key := strings.ToLower(strings.TrimSpace(mailbox))
	if key == "" {
		return nil, errors.New("mailbox is required")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if ts, ok := m.sources[key]; ok {
		return ts, nil
	}

	cfg := *m.config
	cfg.Subject = key
	ts := oauth2.ReuseTokenSource(nil, cfg.TokenSource(context.Background()))
	m.sources[key] = ts
	m.logger.Debug("created delegated token source", "mailbox", key, "service_account", cfg.Email)
	return ts, nil
}

// Forget drops the cached token source for mailbox.
func (m *Manager) Forget(mailbox string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sources, strings.ToLower(strings.TrimSpace(mailbox)))
}
