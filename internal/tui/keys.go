package tui

import (
	"errors"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/mailroom/mailroom/internal/admin"
	"github.com/mailroom/mailroom/internal/mailbox"
)

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.String() == "ctrl+c" {
		m.quitting = true
		return m, tea.Quit
	}

	if m.screen == screenLogin {
		return m.updateLoginForm(msg)
	}

	switch m.modal {
	case modalHelp:
		m.modal = modalNone
		return m, nil
	case modalNone:
	default:
		if msg.String() == "esc" {
			m.closeModal()
			return m, nil
		}
		return m.updateModalForm(msg)
	}

	if m.searchActive {
		return m.handleSearchKey(msg)
	}

	switch msg.String() {
	case "q":
		m.quitting = true
		return m, tea.Quit
	case "?":
		m.modal = modalHelp
		return m, nil
	case "t":
		theme := m.console.State().Theme.Toggle()
		if err := m.console.SetTheme(theme); err != nil {
			cmd := m.setFlash("%s", mailbox.Humanize("Cannot save theme", err))
			return m, cmd
		}
		applyTheme(theme)
		return m, nil
	case "L":
		return m.logout()
	case "D":
		if m.screen != screenDashboard {
			m.prevScreen = m.screen
			m.screen = screenDashboard
			_ = m.console.SetView(admin.ViewDashboard)
			load := m.loadDashboard()
			return m, load
		}
	}

	switch m.screen {
	case screenMailboxes:
		return m.handleMailboxesKey(msg)
	case screenMailbox:
		return m.handleMailboxKey(msg)
	case screenDashboard:
		return m.handleDashboardKey(msg)
	}
	return m, nil
}

func (m Model) logout() (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	if err := m.console.Logout(); err != nil {
		cmd = m.setFlash("%s", mailbox.Humanize("Logout incomplete", err))
	}
	m.session = nil
	m.compose = nil
	m.mailboxes = nil
	m.dashboard = nil
	m.closeModal()
	m.screen = screenLogin
	m.loginForm, m.login = newLoginForm()
	m.loginErr = ""
	return m, tea.Batch(cmd, m.loginForm.Init())
}

func (m Model) handleMailboxesKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "j", "down":
		if m.mailboxCursor < len(m.mailboxes)-1 {
			m.mailboxCursor++
		}
	case "k", "up":
		if m.mailboxCursor > 0 {
			m.mailboxCursor--
		}
	case "enter":
		if len(m.mailboxes) == 0 {
			return m, nil
		}
		return m.openMailbox(m.mailboxes[m.mailboxCursor])
	case "r":
		load := m.loadMailboxes()
		return m, load
	case "+":
		cmd := m.openAddForm()
		return m, cmd
	case "-":
		cmd := m.openRemoveConfirm()
		return m, cmd
	}
	return m, nil
}

func (m Model) openMailbox(address string) (tea.Model, tea.Cmd) {
	s, err := m.console.Open(address)
	if s == nil {
		cmd := m.setFlash("%s", mailbox.Humanize("Cannot open mailbox", err))
		return m, cmd
	}
	m.session = s
	m.compose = nil
	m.screen = screenMailbox
	m.scrollOffset = 0
	m.showDetail = false
	m.detailScroll = 0
	m.pendingBulk = 0
	m.searchInput.SetValue("")
	cmds := []tea.Cmd{runFetch(s.Start(), m.timeout), runOverview(s.LoadOverview(), m.timeout)}
	if err != nil {
		cmds = append(cmds, m.setFlash("%s", mailbox.Humanize("Preferences not saved", err)))
	}
	return m, tea.Batch(cmds...)
}

func (m Model) handleMailboxKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	s := m.session
	if s == nil {
		m.screen = screenMailboxes
		load := m.loadMailboxes()
		return m, load
	}

	switch key := msg.String(); key {
	case "j", "down":
		m.moveOpen(1)
	case "k", "up":
		m.moveOpen(-1)
	case "enter":
		if _, ok := s.OpenThread(); ok {
			m.showDetail = !m.showDetail
			m.detailScroll = 0
		}
	case "J":
		if m.showDetail {
			m.detailScroll++
		}
	case "K":
		if m.showDetail && m.detailScroll > 0 {
			m.detailScroll--
		}

	case " ":
		if id := s.Collection().OpenID(); id != "" {
			s.Collection().ToggleSelect(id, !s.IsSelected(id))
			m.moveOpen(1)
		}
	case "A":
		s.Collection().ToggleSelectAll()
	case "a":
		return m.bulk(s.Bulk(mailbox.ActionArchive))
	case "#":
		return m.bulk(s.Bulk(mailbox.ActionDelete))
	case "s":
		return m.bulk(s.ToggleStar(s.Collection().OpenID()))

	case "n":
		f, err := s.NextPage()
		if errors.Is(err, mailbox.ErrNoNextPage) {
			cmd := m.setFlash("No more messages")
			return m, cmd
		}
		return m, runFetch(f, m.timeout)
	case "p":
		if !s.HasPrev() {
			cmd := m.setFlash("Already on the first page")
			return m, cmd
		}
		return m, runFetch(s.PrevPage(), m.timeout)

	case "1", "2", "3", "4", "5", "6", "7":
		folders := mailbox.Folders()
		i := int(key[0] - '1')
		if i >= len(folders) {
			return m, nil
		}
		m.scrollOffset = 0
		m.showDetail = false
		return m, runFetch(s.SelectFolder(folders[i]), m.timeout)

	case "/":
		m.searchActive = true
		m.searchInput.SetValue(s.RawText())
		m.searchInput.CursorEnd()
		return m, m.searchInput.Focus()
	case "F":
		cmd := m.openFilterForm()
		return m, cmd
	case "x":
		if s.ActiveQuery() == "" {
			return m, nil
		}
		m.searchInput.SetValue("")
		return m, runFetch(s.ClearQuery(), m.timeout)

	case "r":
		return m, tea.Batch(runFetch(s.Refresh(), m.timeout), runOverview(s.LoadOverview(), m.timeout))
	case "c":
		cmd := m.openComposeForm()
		return m, cmd

	case "esc":
		if m.showDetail {
			m.showDetail = false
			return m, nil
		}
		if s.Collection().SelectedCount() > 0 {
			s.Collection().ClearSelection()
			return m, nil
		}
		var cmd tea.Cmd
		if err := m.console.Exit(); err != nil {
			cmd = m.setFlash("%s", mailbox.Humanize("Preferences not saved", err))
		}
		m.session = nil
		m.compose = nil
		m.screen = screenMailboxes
		load := m.loadMailboxes()
		return m, tea.Batch(cmd, load)
	}
	return m, nil
}

// moveOpen moves the open thread by delta rows, clamped to the page.
func (m *Model) moveOpen(delta int) {
	threads := m.session.Threads()
	if len(threads) == 0 {
		return
	}
	idx := m.openIndex()
	if m.session.Collection().OpenID() == "" {
		idx = 0
		delta = 0
	}
	idx = max(0, min(idx+delta, len(threads)-1))
	m.session.Collection().Open(threads[idx].ID)
	m.detailScroll = 0
	m.clampScroll()
}

func (m Model) bulk(mu *mailbox.Mutation) (tea.Model, tea.Cmd) {
	if mu == nil {
		cmd := m.setFlash("Nothing selected")
		return m, cmd
	}
	m.pendingBulk++
	m.clampScroll()
	if _, ok := m.session.OpenThread(); !ok {
		m.showDetail = false
	}
	return m, runMutation(mu, m.timeout)
}

func (m Model) handleBulkDone(msg bulkDoneMsg) (tea.Model, tea.Cmd) {
	if m.session == nil || !m.session.Owns(msg.result.Mutation) {
		return m, nil
	}
	m.pendingBulk = max(m.pendingBulk-1, 0)
	out := m.session.Settle(msg.result)
	m.clampScroll()

	var cmd tea.Cmd
	switch out.Kind {
	case mailbox.OutcomeApplied:
		cmd = m.setFlash("%s: %d %s", out.Action, len(out.IDs), plural(len(out.IDs), "message", "messages"))
	case mailbox.OutcomeRolledBack:
		cmd = m.setFlash("%s failed, changes undone", out.Action)
	case mailbox.OutcomeStale:
		cmd = m.setFlash("%s failed", out.Action)
	}
	cmds := []tea.Cmd{cmd}
	if out.Kind == mailbox.OutcomeApplied && m.pendingBulk == 0 {
		cmds = append(cmds, runOverview(m.session.LoadOverview(), m.timeout))
	}
	mdl, expiredCmd := m.checkExpired(out.Err)
	return mdl, tea.Batch(append(cmds, expiredCmd)...)
}

func (m Model) handleSearchKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "enter":
		m.searchActive = false
		m.searchInput.Blur()
		m.scrollOffset = 0
		m.showDetail = false
		return m, runFetch(m.session.CommitQuery(m.searchInput.Value(), m.session.Filters()), m.timeout)
	case "esc":
		m.searchActive = false
		m.searchInput.Blur()
		m.searchInput.SetValue(m.session.RawText())
		return m, nil
	}
	var cmd tea.Cmd
	m.searchInput, cmd = m.searchInput.Update(msg)
	return m, cmd
}

func (m Model) handleDashboardKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "r":
		load := m.loadDashboard()
		return m, load
	case "esc":
		m.screen = m.prevScreen
		view := admin.ViewMailboxes
		if m.screen == screenMailbox && m.session != nil {
			view = admin.ViewMailbox
		} else {
			m.screen = screenMailboxes
		}
		_ = m.console.SetView(view)
		if m.screen == screenMailboxes {
			load := m.loadMailboxes()
			return m, load
		}
	}
	return m, nil
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
