package admin

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/99designs/keyring"

	"github.com/mailroom/mailroom/internal/api"
	"github.com/mailroom/mailroom/internal/config"
	"github.com/mailroom/mailroom/internal/credential"
	"github.com/mailroom/mailroom/internal/mailbox"
	"github.com/mailroom/mailroom/internal/provider"
	"github.com/mailroom/mailroom/internal/testutil"
)

var testNow = time.Date(2024, 3, 5, 12, 0, 0, 0, time.UTC)

// memPrefs is an in-memory Prefs.
type memPrefs map[string]string

func (m memPrefs) Get(key string) (string, error) { return m[key], nil }
func (m memPrefs) Set(key, value string) error    { m[key] = value; return nil }
func (m memPrefs) Clear(key string) error         { delete(m, key); return nil }

type fixture struct {
	console *Console
	prefs   memPrefs
	tokens  *credential.Store
	client  *provider.Client
}

func newFixture(t *testing.T, prefs memPrefs) *fixture {
	t.Helper()
	cfg := config.Default(t.TempDir())
	cfg.Admin.Username = "admin"
	cfg.Admin.Password = "s3cret"
	cfg.Admin.SecretKey = "signing-key"
	cfg.Server.RateLimitRPS = 1000

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := api.NewServer(cfg, testutil.NewTestStore(t), api.NewDemoClients(func() time.Time { return testNow }), logger)
	hs := httptest.NewServer(srv.Router())
	t.Cleanup(func() {
		hs.Close()
		_ = srv.Shutdown(context.Background())
	})

	client, err := provider.New(provider.Config{URL: hs.URL, Logger: logger})
	testutil.MustNoErr(t, err, "provider.New")
	if prefs == nil {
		prefs = memPrefs{}
	}
	tokens := credential.New(keyring.NewArrayKeyring(nil))
	return &fixture{
		console: New(prefs, tokens, client, WithLogger(logger), WithPageSize(10)),
		prefs:   prefs,
		tokens:  tokens,
		client:  client,
	}
}

func TestLoadDefaults(t *testing.T) {
	f := newFixture(t, nil)
	st, err := f.console.Load()
	testutil.MustNoErr(t, err, "Load")
	want := State{Theme: ThemeDark, View: ViewMailboxes}
	if st != want {
		t.Errorf("Load() = %+v, want %+v", st, want)
	}
}

func TestLoadDropsAuthFlagWithoutToken(t *testing.T) {
	f := newFixture(t, memPrefs{KeyAuth: "true", KeyTheme: "light", KeyView: "bogus", KeyActiveMailbox: "ops@corp.example"})
	st, err := f.console.Load()
	testutil.MustNoErr(t, err, "Load")
	if st.Authenticated {
		t.Error("authenticated without a stored token")
	}
	if _, ok := f.prefs[KeyAuth]; ok {
		t.Error("stale auth flag not cleared")
	}
	if st.Theme != ThemeLight || st.View != ViewMailboxes || st.ActiveMailbox != "ops@corp.example" {
		t.Errorf("state = %+v", st)
	}
}

func TestLoginPersistsAcrossLoad(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	if _, err := f.console.Mailboxes(ctx); !errors.Is(err, ErrNotLoggedIn) {
		t.Fatalf("Mailboxes before login = %v", err)
	}
	if err := f.console.Login(ctx, "admin", "wrong"); !provider.IsUnauthorized(err) {
		t.Fatalf("bad login = %v", err)
	}
	if f.console.Authenticated() {
		t.Fatal("authenticated after failed login")
	}

	testutil.MustNoErr(t, f.console.Login(ctx, "admin", "s3cret"), "Login")
	if f.prefs[KeyAuth] != "true" {
		t.Errorf("auth flag = %q", f.prefs[KeyAuth])
	}
	token, err := f.tokens.Token(f.client.BaseURL())
	if err != nil || token == "" {
		t.Fatalf("stored token = %q, %v", token, err)
	}

	// A second console over the same prefs and keyring starts logged in.
	f.client.SetToken("")
	again := New(f.prefs, f.tokens, f.client)
	st, err := again.Load()
	testutil.MustNoErr(t, err, "reload")
	if !st.Authenticated || f.client.Token() != token {
		t.Errorf("reloaded state = %+v, client token set = %v", st, f.client.Token() == token)
	}
	if _, err := again.Mailboxes(ctx); err != nil {
		t.Errorf("Mailboxes after reload = %v", err)
	}
}

func TestMailboxRegistry(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	testutil.MustNoErr(t, f.console.Login(ctx, "admin", "s3cret"), "Login")

	if _, err := f.console.AddMailbox(ctx, "not-an-address"); !errors.Is(err, ErrInvalidAddress) {
		t.Errorf("AddMailbox(invalid) = %v", err)
	}
	list, err := f.console.AddMailbox(ctx, " ops@corp.example ")
	testutil.MustNoErr(t, err, "AddMailbox")
	testutil.AssertStrings(t, list, "ops@corp.example")

	_, err = f.console.Open("ops@corp.example")
	testutil.MustNoErr(t, err, "Open")

	list, err = f.console.RemoveMailbox(ctx, "ops@corp.example")
	testutil.MustNoErr(t, err, "RemoveMailbox")
	if len(list) != 0 {
		t.Errorf("list after remove = %v", list)
	}
	if f.console.Session() == nil {
		t.Error("RemoveMailbox closed the session itself")
	}
}

func TestOpenReplacesSession(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	testutil.MustNoErr(t, f.console.Login(ctx, "admin", "s3cret"), "Login")

	first, err := f.console.Open("ops@corp.example")
	testutil.MustNoErr(t, err, "Open ops")
	if !first.Apply(first.Start().Run(ctx)) || len(first.Threads()) == 0 {
		t.Fatalf("first session state = %v, err = %v", first.State(), first.Err())
	}

	second, err := f.console.Open("sales@corp.example")
	testutil.MustNoErr(t, err, "Open sales")
	if !first.Closed() {
		t.Error("previous session not closed")
	}
	if second == first || second.Mailbox() != "sales@corp.example" || second.PageSize() != 10 {
		t.Errorf("second session = %s page size %d", second.Mailbox(), second.PageSize())
	}
	if f.prefs[KeyActiveMailbox] != "sales@corp.example" || f.prefs[KeyView] != string(ViewMailbox) {
		t.Errorf("prefs = %v", f.prefs)
	}

	c := f.console.NewCompose()
	c.Open()
	if c.State() != mailbox.ComposeOpen {
		t.Errorf("compose state = %v", c.State())
	}

	testutil.MustNoErr(t, f.console.Exit(), "Exit")
	if !second.Closed() || f.console.Session() != nil {
		t.Error("Exit left the session open")
	}
	if _, ok := f.prefs[KeyActiveMailbox]; ok || f.console.State().View != ViewMailboxes {
		t.Errorf("after Exit prefs = %v", f.prefs)
	}
}

func TestLogout(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	testutil.MustNoErr(t, f.console.Login(ctx, "admin", "s3cret"), "Login")
	s, _ := f.console.Open("ops@corp.example")

	testutil.MustNoErr(t, f.console.Logout(), "Logout")
	if !s.Closed() || f.console.Authenticated() {
		t.Error("Logout kept the session or the auth state")
	}
	if len(f.prefs) != 0 {
		t.Errorf("prefs after logout = %v", f.prefs)
	}
	if _, err := f.tokens.Token(f.client.BaseURL()); !errors.Is(err, credential.ErrNotFound) {
		t.Errorf("token after logout = %v", err)
	}
}

func TestRejectedTokenExpiresLogin(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	testutil.MustNoErr(t, f.console.Login(ctx, "admin", "s3cret"), "Login")

	f.client.SetToken("expired-or-forged")
	if _, err := f.console.Mailboxes(ctx); !provider.IsUnauthorized(err) {
		t.Fatalf("Mailboxes = %v, want 401", err)
	}
	if f.console.Authenticated() || f.prefs[KeyAuth] != "" {
		t.Error("401 did not clear the login")
	}
}

func TestThemeAndView(t *testing.T) {
	f := newFixture(t, nil)
	testutil.MustNoErr(t, f.console.SetTheme(ThemeDark.Toggle()), "SetTheme")
	if f.prefs[KeyTheme] != "light" {
		t.Errorf("theme pref = %q", f.prefs[KeyTheme])
	}
	if err := f.console.SetTheme("sepia"); !errors.Is(err, ErrUnknownTheme) {
		t.Errorf("SetTheme(sepia) = %v", err)
	}
	testutil.MustNoErr(t, f.console.SetView(ViewDashboard), "SetView")
	if err := f.console.SetView("inbox"); !errors.Is(err, ErrUnknownView) {
		t.Errorf("SetView(inbox) = %v", err)
	}
	if st := f.console.State(); st.Theme != ThemeLight || st.View != ViewDashboard {
		t.Errorf("state = %+v", st)
	}
}

func TestDashboardNotConfigured(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	testutil.MustNoErr(t, f.console.Login(ctx, "admin", "s3cret"), "Login")

	_, err := f.console.Dashboard(ctx)
	var apiErr *provider.APIError
	if !errors.As(err, &apiErr) || apiErr.Status != 503 {
		t.Errorf("Dashboard() = %v, want 503", err)
	}
	if !f.console.Authenticated() {
		t.Error("503 should not log out")
	}
}
