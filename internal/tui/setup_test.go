package tui

import (
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/99designs/keyring"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"

	"github.com/mailroom/mailroom/internal/admin"
	"github.com/mailroom/mailroom/internal/api"
	"github.com/mailroom/mailroom/internal/config"
	"github.com/mailroom/mailroom/internal/credential"
	"github.com/mailroom/mailroom/internal/provider"
	"github.com/mailroom/mailroom/internal/testutil"
)

// ansiStart is the escape sequence prefix found in styled terminal output.
const ansiStart = "\x1b["

// colorProfileMu serializes tests that mutate global lipgloss state.
var colorProfileMu sync.Mutex

// forceColorProfile sets lipgloss to ANSI color output for tests that assert
// on styled output, restoring the original profile via t.Cleanup.
func forceColorProfile(t *testing.T) {
	t.Helper()
	colorProfileMu.Lock()
	orig := lipgloss.ColorProfile()
	dark := lipgloss.HasDarkBackground()
	lipgloss.SetColorProfile(termenv.ANSI)
	t.Cleanup(func() {
		lipgloss.SetColorProfile(orig)
		lipgloss.SetHasDarkBackground(dark)
		colorProfileMu.Unlock()
	})
}

var ansiPattern = regexp.MustCompile(`\x1b\[[0-9;?]*[ -/]*[@-~]`)

func stripANSI(s string) string {
	return ansiPattern.ReplaceAllString(s, "")
}

var testNow = time.Date(2024, 3, 5, 12, 0, 0, 0, time.UTC)

// memPrefs is an in-memory admin.Prefs.
type memPrefs map[string]string

func (m memPrefs) Get(key string) (string, error) { return m[key], nil }
func (m memPrefs) Set(key, value string) error    { m[key] = value; return nil }
func (m memPrefs) Clear(key string) error         { delete(m, key); return nil }

// fixture is a real gateway over demo mailboxes with a console in front.
type fixture struct {
	console *admin.Console
	client  *provider.Client
	prefs   memPrefs
	tokens  *credential.Store
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
	f := &fixture{
		client: client,
		prefs:  prefs,
		tokens: credential.New(keyring.NewArrayKeyring(nil)),
	}
	f.console = admin.New(prefs, f.tokens, client, admin.WithLogger(logger), admin.WithPageSize(10))
	_, err = f.console.Load()
	testutil.MustNoErr(t, err, "Load")
	return f
}

// login signs the console in and registers mailboxes.
func (f *fixture) login(t *testing.T, mailboxes ...string) {
	t.Helper()
	ctx := context.Background()
	testutil.MustNoErr(t, f.console.Login(ctx, "admin", "s3cret"), "Login")
	for _, mb := range mailboxes {
		_, err := f.console.AddMailbox(ctx, mb)
		testutil.MustNoErr(t, err, "AddMailbox "+mb)
	}
}

// model builds a shell over the fixture and runs its Init commands.
func (f *fixture) model(t *testing.T) Model {
	t.Helper()
	m := New(f.console, Options{Version: "test", Timeout: 5 * time.Second, Now: func() time.Time { return testNow }})
	return drain(t, m, m.Init())
}

// cmdWait bounds how long drain waits on one command. Timer commands
// (spinner ticks, flash expiry, cursor blink) either resolve to messages
// drain ignores or are abandoned when the wait runs out.
const cmdWait = 500 * time.Millisecond

// drain runs cmd and feeds the resulting remote-call messages back into m
// until no follow-up commands remain.
func drain(t *testing.T, m Model, cmd tea.Cmd) Model {
	t.Helper()
	queue := []tea.Cmd{cmd}
	for len(queue) > 0 {
		c := queue[0]
		queue = queue[1:]
		if c == nil {
			continue
		}
		msg, ok := runCmd(c)
		if !ok {
			continue
		}
		switch msg := msg.(type) {
		case tea.BatchMsg:
			queue = append(queue, msg...)
		case loginDoneMsg, mailboxesLoadedMsg, mailboxChangedMsg, pageLoadedMsg,
			overviewLoadedMsg, bulkDoneMsg, sentMsg, dashboardLoadedMsg:
			mdl, next := m.Update(msg)
			m = mdl.(Model)
			queue = append(queue, next)
		}
	}
	return m
}

func runCmd(c tea.Cmd) (tea.Msg, bool) {
	ch := make(chan tea.Msg, 1)
	go func() { ch <- c() }()
	select {
	case msg := <-ch:
		return msg, true
	case <-time.After(cmdWait):
		return nil, false
	}
}

func keyMsg(k string) tea.KeyMsg {
	switch k {
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	case " ":
		return tea.KeyMsg{Type: tea.KeySpace, Runes: []rune{' '}}
	case "down":
		return tea.KeyMsg{Type: tea.KeyDown}
	case "up":
		return tea.KeyMsg{Type: tea.KeyUp}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(k)}
}

// press sends one key and drains the resulting commands.
func press(t *testing.T, m Model, k string) Model {
	t.Helper()
	mdl, cmd := m.Update(keyMsg(k))
	return drain(t, mdl.(Model), cmd)
}
