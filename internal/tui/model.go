// Package tui provides the terminal shell for mailroom.
package tui

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"

	"github.com/mailroom/mailroom/internal/admin"
	"github.com/mailroom/mailroom/internal/analytics"
	"github.com/mailroom/mailroom/internal/mailbox"
	"github.com/mailroom/mailroom/internal/provider"
)

// screen is the top-level page being shown.
type screen int

const (
	screenLogin screen = iota
	screenMailboxes
	screenMailbox
	screenDashboard
)

// modalType is the form or dialog layered over the current screen.
type modalType int

const (
	modalNone modalType = iota
	modalFilter
	modalCompose
	modalAddMailbox
	modalRemoveConfirm
	modalHelp
)

// Options configures the shell.
type Options struct {
	Version string
	// Timeout bounds each remote call.
	Timeout time.Duration
	// Now is the clock used for date columns.
	Now func() time.Time
}

// Model is the root bubbletea model.
type Model struct {
	console *admin.Console
	version string
	timeout time.Duration
	now     func() time.Time

	screen     screen
	prevScreen screen // where esc returns to from the dashboard
	width      int
	height     int

	// login
	loginForm *huh.Form
	login     *loginFields
	loginErr  string
	loggingIn bool

	// mailbox picker
	mailboxes          []string
	mailboxCursor      int
	mailboxesLoading   bool
	mailboxesErr       string
	mailboxesRequestID uint64

	// mailbox view
	session      *mailbox.Session
	compose      *mailbox.Compose
	scrollOffset int
	showDetail   bool
	detailScroll int
	searchInput  textinput.Model
	searchActive bool
	pendingBulk  int

	// dashboard
	dashboard          *analytics.Dashboard
	dashboardErr       string
	dashboardLoading   bool
	dashboardRequestID uint64

	// modal forms
	modal           modalType
	form            *huh.Form
	filter          *filterFields
	draft           *draftFields
	add             *addFields
	removeConfirmed *bool

	spinner spinner.Model

	flashMessage   string
	flashExpiresAt time.Time

	quitting bool
}

// New creates the shell over a loaded console.
func New(console *admin.Console, opts Options) Model {
	ti := textinput.New()
	ti.Placeholder = "search (from:, subject:, has:attachment ...)"
	ti.CharLimit = 200
	ti.Width = 60

	sp := spinner.New(spinner.WithSpinner(spinner.Dot))
	sp.Style = spinnerStyle

	m := Model{
		console:     console,
		version:     opts.Version,
		timeout:     opts.Timeout,
		now:         opts.Now,
		width:       100,
		height:      30,
		searchInput: ti,
		spinner:     sp,
	}
	if m.timeout <= 0 {
		m.timeout = 30 * time.Second
	}
	if m.now == nil {
		m.now = time.Now
	}

	st := console.State()
	applyTheme(st.Theme)
	switch {
	case !st.Authenticated:
		m.screen = screenLogin
		m.loginForm, m.login = newLoginForm()
	case st.View == admin.ViewMailbox && st.ActiveMailbox != "":
		m.screen = screenMailbox
		m.session, _ = console.Open(st.ActiveMailbox)
	case st.View == admin.ViewDashboard:
		m.screen = screenDashboard
		m.prevScreen = screenMailboxes
	default:
		m.screen = screenMailboxes
	}

	// Init has a value receiver, so the startup loads are registered here.
	switch m.screen {
	case screenMailboxes:
		m.beginMailboxesLoad()
	case screenDashboard:
		m.beginDashboardLoad()
	}
	return m
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{m.spinner.Tick}
	switch m.screen {
	case screenLogin:
		cmds = append(cmds, m.loginForm.Init())
	case screenMailboxes:
		cmds = append(cmds, fetchMailboxes(m.console, m.mailboxesRequestID, m.timeout))
	case screenMailbox:
		if m.session != nil {
			cmds = append(cmds, runFetch(m.session.Start(), m.timeout), runOverview(m.session.LoadOverview(), m.timeout))
		}
	case screenDashboard:
		cmds = append(cmds, fetchDashboard(m.console, m.dashboardRequestID, m.timeout))
	}
	return tea.Batch(cmds...)
}

// Messages produced by remote calls.

type loginDoneMsg struct {
	err error
}

type mailboxesLoadedMsg struct {
	list      []string
	err       error
	requestID uint64
}

type mailboxChangedMsg struct {
	list    []string
	err     error
	removed string
}

type pageLoadedMsg struct {
	result mailbox.PageResult
}

type overviewLoadedMsg struct {
	result mailbox.OverviewResult
}

type bulkDoneMsg struct {
	result mailbox.MutationResult
}

type sentMsg struct {
	result mailbox.SendResult
}

type dashboardLoadedMsg struct {
	dashboard *analytics.Dashboard
	err       error
	requestID uint64
}

type flashClearMsg struct{}

const flashDuration = 4 * time.Second

func (m Model) callContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), m.timeout)
}

// runFetch runs a page fetch off the update loop.
func runFetch(f *mailbox.Fetch, timeout time.Duration) tea.Cmd {
	if f == nil {
		return nil
	}
	return func() (msg tea.Msg) {
		defer func() {
			if r := recover(); r != nil {
				msg = pageLoadedMsg{result: mailbox.PageResult{
					Generation: f.Generation,
					Err:        fmt.Errorf("fetch panic: %v", r),
				}}
			}
		}()
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		return pageLoadedMsg{result: f.Run(ctx)}
	}
}

func runOverview(f *mailbox.OverviewFetch, timeout time.Duration) tea.Cmd {
	if f == nil {
		return nil
	}
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		return overviewLoadedMsg{result: f.Run(ctx)}
	}
}

func runMutation(mu *mailbox.Mutation, timeout time.Duration) tea.Cmd {
	if mu == nil {
		return nil
	}
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		return bulkDoneMsg{result: mu.Run(ctx)}
	}
}

func runSend(s *mailbox.Send, timeout time.Duration) tea.Cmd {
	if s == nil {
		return nil
	}
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		return sentMsg{result: s.Run(ctx)}
	}
}

// loadMailboxes starts a registry load. Only the newest load is installed.
func (m *Model) loadMailboxes() tea.Cmd {
	m.beginMailboxesLoad()
	return fetchMailboxes(m.console, m.mailboxesRequestID, m.timeout)
}

func (m *Model) beginMailboxesLoad() {
	m.mailboxesRequestID++
	m.mailboxesLoading = true
}

func fetchMailboxes(console *admin.Console, requestID uint64, timeout time.Duration) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		list, err := console.Mailboxes(ctx)
		return mailboxesLoadedMsg{list: list, err: err, requestID: requestID}
	}
}

func (m *Model) loadDashboard() tea.Cmd {
	m.beginDashboardLoad()
	return fetchDashboard(m.console, m.dashboardRequestID, m.timeout)
}

func (m *Model) beginDashboardLoad() {
	m.dashboardRequestID++
	m.dashboardLoading = true
	m.dashboardErr = ""
}

func fetchDashboard(console *admin.Console, requestID uint64, timeout time.Duration) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		d, err := console.Dashboard(ctx)
		return dashboardLoadedMsg{dashboard: d, err: err, requestID: requestID}
	}
}

func (m *Model) setFlash(format string, args ...any) tea.Cmd {
	m.flashMessage = fmt.Sprintf(format, args...)
	m.flashExpiresAt = m.now().Add(flashDuration)
	return tea.Tick(flashDuration, func(time.Time) tea.Msg { return flashClearMsg{} })
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		if m.form != nil {
			m.form = m.form.WithWidth(m.modalWidth())
		}
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case flashClearMsg:
		if !m.now().Before(m.flashExpiresAt) {
			m.flashMessage = ""
		}
		return m, nil

	case loginDoneMsg:
		return m.handleLoginDone(msg)

	case mailboxesLoadedMsg:
		if msg.requestID != m.mailboxesRequestID {
			return m, nil
		}
		m.mailboxesLoading = false
		if msg.err != nil {
			m.mailboxesErr = mailbox.Humanize("Unable to load mailboxes", msg.err)
			return m.checkExpired(msg.err)
		}
		m.mailboxesErr = ""
		m.mailboxes = msg.list
		m.mailboxCursor = min(m.mailboxCursor, max(len(m.mailboxes)-1, 0))
		return m, nil

	case mailboxChangedMsg:
		return m.handleMailboxChanged(msg)

	case pageLoadedMsg:
		if m.session == nil || !m.session.Apply(msg.result) {
			return m, nil
		}
		m.clampScroll()
		m.detailScroll = 0
		return m.checkExpired(msg.result.Err)

	case overviewLoadedMsg:
		if m.session == nil || !m.session.ApplyOverview(msg.result) {
			return m, nil
		}
		return m.checkExpired(msg.result.Err)

	case bulkDoneMsg:
		return m.handleBulkDone(msg)

	case sentMsg:
		return m.handleSent(msg)

	case dashboardLoadedMsg:
		if msg.requestID != m.dashboardRequestID {
			return m, nil
		}
		m.dashboardLoading = false
		if msg.err != nil {
			m.dashboardErr = mailbox.Humanize("Unable to load analytics", msg.err)
			return m.checkExpired(msg.err)
		}
		m.dashboard = msg.dashboard
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	// Anything else belongs to the active form (cursor blinks, field
	// navigation).
	return m.updateForms(msg)
}

// updateForms forwards msg to whichever huh form is live.
func (m Model) updateForms(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch {
	case m.screen == screenLogin && m.loginForm != nil:
		return m.updateLoginForm(msg)
	case m.form != nil:
		return m.updateModalForm(msg)
	}
	return m, nil
}

// checkExpired returns to the login screen when the server rejected the
// token, either through the console or through a session call.
func (m Model) checkExpired(err error) (tea.Model, tea.Cmd) {
	if m.screen == screenLogin {
		return m, nil
	}
	if m.console.Authenticated() && !provider.IsUnauthorized(err) {
		return m, nil
	}
	_ = m.console.Logout()
	m.session = nil
	m.compose = nil
	m.closeModal()
	m.screen = screenLogin
	m.loginForm, m.login = newLoginForm()
	m.loginErr = "Session expired, please log in again."
	return m, m.loginForm.Init()
}

func (m *Model) clampScroll() {
	if m.session == nil {
		m.scrollOffset = 0
		return
	}
	idx := m.openIndex()
	rows := m.listHeight()
	if idx < m.scrollOffset {
		m.scrollOffset = idx
	}
	if idx >= m.scrollOffset+rows {
		m.scrollOffset = idx - rows + 1
	}
	m.scrollOffset = max(0, min(m.scrollOffset, max(len(m.session.Threads())-rows, 0)))
}

// openIndex is the list index of the open thread, or 0.
func (m Model) openIndex() int {
	if m.session == nil {
		return 0
	}
	open := m.session.Collection().OpenID()
	for i, t := range m.session.Threads() {
		if t.ID == open {
			return i
		}
	}
	return 0
}

func applyTheme(t admin.Theme) {
	lipgloss.SetHasDarkBackground(t != admin.ThemeLight)
}
