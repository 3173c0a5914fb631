// Package admin is the client-side admin console: it owns the persisted
// flags (auth, active mailbox, theme, view), the login token and the one
// live mailbox session.
package admin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/badoux/checkmail"

	"github.com/mailroom/mailroom/internal/analytics"
	"github.com/mailroom/mailroom/internal/mailbox"
	"github.com/mailroom/mailroom/internal/provider"
)

// Persisted preference keys.
const (
	KeyAuth          = "auth"
	KeyActiveMailbox = "active_mailbox"
	KeyTheme         = "theme"
	KeyView          = "view"
)

// Theme is the shell's color theme.
type Theme string

const (
	ThemeDark  Theme = "dark"
	ThemeLight Theme = "light"
)

// Toggle returns the other theme.
func (t Theme) Toggle() Theme {
	if t == ThemeLight {
		return ThemeDark
	}
	return ThemeLight
}

// View is the top-level screen the shell shows.
type View string

const (
	ViewMailboxes View = "mailboxes"
	ViewMailbox   View = "mailbox"
	ViewDashboard View = "dashboard"
)

var (
	// ErrNotLoggedIn is returned by remote operations before Login.
	ErrNotLoggedIn = errors.New("not logged in")
	// ErrInvalidAddress is returned for a malformed mailbox address.
	ErrInvalidAddress = errors.New("invalid email address")
	// ErrUnknownTheme is returned by SetTheme.
	ErrUnknownTheme = errors.New("unknown theme")
	// ErrUnknownView is returned by SetView.
	ErrUnknownView = errors.New("unknown view")
)

// Prefs is the key-value persistence collaborator. A missing key reads as
// the empty string.
type Prefs interface {
	Get(key string) (string, error)
	Set(key, value string) error
	Clear(key string) error
}

// Tokens stores the admin token per server.
type Tokens interface {
	Token(server string) (string, error)
	SetToken(server, token string) error
	DeleteToken(server string) error
}

// Backend is the mailroom server as seen by the console.
type Backend interface {
	mailbox.Provider

	BaseURL() string
	SetToken(token string)
	Login(ctx context.Context, username, password string) (string, error)
	Mailboxes(ctx context.Context) ([]string, error)
	AddMailbox(ctx context.Context, address string) ([]string, error)
	RemoveMailbox(ctx context.Context, address string) ([]string, error)
	Analytics(ctx context.Context) (*analytics.Dashboard, error)
}

// State is the persisted console state.
type State struct {
	Authenticated bool
	ActiveMailbox string
	Theme         Theme
	View          View
}

// Console coordinates login, the mailbox registry and the live session.
//
// Methods that only talk to the server (Login, Mailboxes, AddMailbox,
// RemoveMailbox, Dashboard) may run on any goroutine. Methods that touch
// the session (Open, Exit, Logout) belong on the shell's update loop.
type Console struct {
	prefs   Prefs
	tokens  Tokens
	backend Backend
	logger  *slog.Logger

	pageSize int

	mu      sync.Mutex
	state   State
	session *mailbox.Session
}

// Option configures a Console.
type Option func(*Console)

// WithLogger sets the console's logger. Sessions inherit it.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Console) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithPageSize sets the page size for new sessions.
func WithPageSize(n int) Option {
	return func(c *Console) { c.pageSize = n }
}

// New creates a console. Call Load before use.
func New(prefs Prefs, tokens Tokens, backend Backend, opts ...Option) *Console {
	c := &Console{
		prefs:   prefs,
		tokens:  tokens,
		backend: backend,
		logger:  slog.Default(),
		state:   State{Theme: ThemeDark, View: ViewMailboxes},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Load reads the persisted flags. An auth flag without a stored token is
// treated as logged out and cleared.
func (c *Console) Load() (State, error) {
	values := make(map[string]string, 4)
	for _, key := range []string{KeyAuth, KeyActiveMailbox, KeyTheme, KeyView} {
		v, err := c.prefs.Get(key)
		if err != nil {
			return c.State(), fmt.Errorf("read %s: %w", key, err)
		}
		values[key] = v
	}

	st := State{Theme: ThemeDark, View: ViewMailboxes, ActiveMailbox: values[KeyActiveMailbox]}
	if Theme(values[KeyTheme]) == ThemeLight {
		st.Theme = ThemeLight
	}
	if v := View(values[KeyView]); validView(v) {
		st.View = v
	}

	if values[KeyAuth] == "true" {
		token, err := c.tokens.Token(c.backend.BaseURL())
		if err == nil && token != "" {
			c.backend.SetToken(token)
			st.Authenticated = true
		} else {
			c.logger.Debug("auth flag set but no token stored", "server", c.backend.BaseURL(), "error", err)
			if err := c.prefs.Clear(KeyAuth); err != nil {
				return st, fmt.Errorf("clear auth flag: %w", err)
			}
		}
	}

	c.mu.Lock()
	c.state = st
	c.mu.Unlock()
	return st, nil
}

// State returns the current persisted state.
func (c *Console) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Authenticated reports whether a token is loaded.
func (c *Console) Authenticated() bool { return c.State().Authenticated }

// Login authenticates against the server and persists the token.
func (c *Console) Login(ctx context.Context, username, password string) error {
	token, err := c.backend.Login(ctx, username, password)
	if err != nil {
		return err
	}
	if err := c.tokens.SetToken(c.backend.BaseURL(), token); err != nil {
		return fmt.Errorf("store token: %w", err)
	}
	if err := c.prefs.Set(KeyAuth, "true"); err != nil {
		return fmt.Errorf("persist auth flag: %w", err)
	}
	c.mu.Lock()
	c.state.Authenticated = true
	c.mu.Unlock()
	c.logger.Info("logged in", "server", c.backend.BaseURL(), "user", strings.TrimSpace(username))
	return nil
}

// Logout drops the token, the auth flag and the active session.
func (c *Console) Logout() error {
	c.mu.Lock()
	c.closeSessionLocked()
	c.state.Authenticated = false
	c.state.ActiveMailbox = ""
	c.state.View = ViewMailboxes
	c.mu.Unlock()

	errs := []error{c.dropCredentials()}
	for _, key := range []string{KeyActiveMailbox, KeyView} {
		if err := c.prefs.Clear(key); err != nil {
			errs = append(errs, fmt.Errorf("clear %s: %w", key, err))
		}
	}
	return errors.Join(errs...)
}

func (c *Console) dropCredentials() error {
	c.backend.SetToken("")
	var errs []error
	if err := c.tokens.DeleteToken(c.backend.BaseURL()); err != nil {
		errs = append(errs, err)
	}
	if err := c.prefs.Clear(KeyAuth); err != nil {
		errs = append(errs, fmt.Errorf("clear %s: %w", KeyAuth, err))
	}
	return errors.Join(errs...)
}

// Mailboxes lists the managed mailboxes.
func (c *Console) Mailboxes(ctx context.Context) ([]string, error) {
	if !c.Authenticated() {
		return nil, ErrNotLoggedIn
	}
	list, err := c.backend.Mailboxes(ctx)
	return list, c.checkAuth(err)
}

// AddMailbox registers address after a local format check.
func (c *Console) AddMailbox(ctx context.Context, address string) ([]string, error) {
	if !c.Authenticated() {
		return nil, ErrNotLoggedIn
	}
	address = strings.TrimSpace(address)
	if err := checkmail.ValidateFormat(address); err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAddress, address)
	}
	list, err := c.backend.AddMailbox(ctx, address)
	return list, c.checkAuth(err)
}

// RemoveMailbox unregisters address. When it was the active mailbox the
// caller should Exit.
func (c *Console) RemoveMailbox(ctx context.Context, address string) ([]string, error) {
	if !c.Authenticated() {
		return nil, ErrNotLoggedIn
	}
	list, err := c.backend.RemoveMailbox(ctx, strings.TrimSpace(address))
	return list, c.checkAuth(err)
}

// Open makes address the active mailbox. Any current session is closed
// and a fresh one created; its first fetch is left to the caller.
func (c *Console) Open(address string) (*mailbox.Session, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return nil, ErrInvalidAddress
	}
	s := mailbox.NewSession(address, c.backend,
		mailbox.WithPageSize(c.pageSize),
		mailbox.WithLogger(c.logger))

	c.mu.Lock()
	c.closeSessionLocked()
	c.session = s
	c.state.ActiveMailbox = address
	c.mu.Unlock()

	if err := c.prefs.Set(KeyActiveMailbox, address); err != nil {
		return s, fmt.Errorf("persist active mailbox: %w", err)
	}
	if err := c.SetView(ViewMailbox); err != nil {
		return s, err
	}
	return s, nil
}

// Session returns the live session, or nil.
func (c *Console) Session() *mailbox.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// NewCompose starts a compose for the active mailbox.
func (c *Console) NewCompose() *mailbox.Compose {
	return mailbox.NewCompose(c.State().ActiveMailbox, c.backend, c.logger)
}

// Exit leaves the mailbox view: the session is closed and the active
// mailbox cleared.
func (c *Console) Exit() error {
	c.mu.Lock()
	c.closeSessionLocked()
	c.state.ActiveMailbox = ""
	c.mu.Unlock()

	if err := c.prefs.Clear(KeyActiveMailbox); err != nil {
		return fmt.Errorf("clear active mailbox: %w", err)
	}
	return c.SetView(ViewMailboxes)
}

// SetTheme persists the color theme.
func (c *Console) SetTheme(t Theme) error {
	if t != ThemeDark && t != ThemeLight {
		return fmt.Errorf("%w: %q", ErrUnknownTheme, t)
	}
	c.mu.Lock()
	c.state.Theme = t
	c.mu.Unlock()
	if err := c.prefs.Set(KeyTheme, string(t)); err != nil {
		return fmt.Errorf("persist theme: %w", err)
	}
	return nil
}

// SetView persists the top-level view.
func (c *Console) SetView(v View) error {
	if !validView(v) {
		return fmt.Errorf("%w: %q", ErrUnknownView, v)
	}
	c.mu.Lock()
	c.state.View = v
	c.mu.Unlock()
	if err := c.prefs.Set(KeyView, string(v)); err != nil {
		return fmt.Errorf("persist view: %w", err)
	}
	return nil
}

// Dashboard fetches the analytics dashboard.
func (c *Console) Dashboard(ctx context.Context) (*analytics.Dashboard, error) {
	if !c.Authenticated() {
		return nil, ErrNotLoggedIn
	}
	d, err := c.backend.Analytics(ctx)
	return d, c.checkAuth(err)
}

// checkAuth expires the login when the server rejects the token. The
// session is left for the shell to close through Logout.
func (c *Console) checkAuth(err error) error {
	if !provider.IsUnauthorized(err) {
		return err
	}
	c.logger.Warn("token rejected", "server", c.backend.BaseURL())
	c.mu.Lock()
	c.state.Authenticated = false
	c.mu.Unlock()
	if derr := c.dropCredentials(); derr != nil {
		c.logger.Warn("drop rejected token", "error", derr)
	}
	return err
}

func (c *Console) closeSessionLocked() {
	if c.session != nil {
		c.session.Close()
		c.session = nil
	}
}

func validView(v View) bool {
	return v == ViewMailboxes || v == ViewMailbox || v == ViewDashboard
}
