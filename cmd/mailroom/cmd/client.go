package cmd

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/mailroom/mailroom/internal/admin"
	"github.com/mailroom/mailroom/internal/credential"
	"github.com/mailroom/mailroom/internal/fileutil"
	"github.com/mailroom/mailroom/internal/provider"
	"github.com/mailroom/mailroom/internal/store"
)

var errNotLoggedIn = errors.New("not logged in (run 'mailroom login' first)")

// clientEnv is the terminal client's side: local preferences, the stored
// token and a console over the configured server.
type clientEnv struct {
	store   *store.Store
	client  *provider.Client
	console *admin.Console
}

func openClient(log *slog.Logger) (*clientEnv, error) {
	s, err := store.Open(cfg.ClientDatabasePath())
	if err != nil {
		return nil, fmt.Errorf("open client database: %w", err)
	}
	if err := s.InitSchema(); err != nil {
		s.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	if err := fileutil.ChmodPrivate(cfg.ClientDatabasePath()); err != nil {
		log.Warn("restrict client database", "error", err)
	}

	tokens, err := credential.Open(cfg.HomeDir)
	if err != nil {
		s.Close()
		return nil, err
	}

	client, err := provider.New(provider.Config{
		URL:           cfg.Client.URL,
		APIKey:        cfg.Server.APIKey,
		AllowInsecure: cfg.Client.AllowInsecure,
		Timeout:       cfg.Client.Timeout,
		Logger:        log,
	})
	if err != nil {
		s.Close()
		return nil, err
	}

	console := admin.New(s.Prefs(), tokens, client,
		admin.WithLogger(log),
		admin.WithPageSize(cfg.Client.PageSize))
	if _, err := console.Load(); err != nil {
		s.Close()
		return nil, fmt.Errorf("load client state: %w", err)
	}
	return &clientEnv{store: s, client: client, console: console}, nil
}

// requireLogin fails unless a token is loaded.
func (e *clientEnv) requireLogin() error {
	if !e.console.Authenticated() {
		return errNotLoggedIn
	}
	return nil
}

// apiError turns a server rejection of the stored token into a login hint.
func (e *clientEnv) apiError(op string, err error) error {
	if provider.IsUnauthorized(err) {
		_ = e.console.Logout()
		return fmt.Errorf("%s: session expired (run 'mailroom login' again)", op)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func (e *clientEnv) Close() error {
	return e.store.Close()
}
