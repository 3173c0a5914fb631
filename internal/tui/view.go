package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"

	"github.com/mailroom/mailroom/internal/mailbox"
)

// Monochrome theme, adaptive for light and dark terminals. The t key flips
// lipgloss's background detection, which picks the Light or Dark variant.
var (
	bgBase   = lipgloss.AdaptiveColor{Light: "#ffffff", Dark: "#000000"}
	bgAlt    = lipgloss.AdaptiveColor{Light: "#f0f0f0", Dark: "#181818"}
	bgCursor = lipgloss.AdaptiveColor{Light: "#e0e0e0", Dark: "#282828"}
	fgMuted  = lipgloss.AdaptiveColor{Light: "#555555", Dark: "#999999"}

	titleBarStyle = lipgloss.NewStyle().
			Bold(true).
			Background(lipgloss.AdaptiveColor{Light: "#e0e0e0", Dark: "#333333"}).
			Foreground(lipgloss.AdaptiveColor{Light: "#000000", Dark: "#ffffff"}).
			Padding(0, 1)

	statsStyle = lipgloss.NewStyle().
			Foreground(fgMuted).
			Background(bgBase).
			Padding(0, 1)

	// Not faint, so it stays visible on the muted info line.
	spinnerStyle = lipgloss.NewStyle().
			Bold(true).
			Background(bgBase)

	folderStyle = lipgloss.NewStyle().
			Foreground(fgMuted).
			Background(bgBase)

	activeFolderStyle = lipgloss.NewStyle().
				Bold(true).
				Underline(true).
				Background(bgBase)

	tableHeaderStyle = lipgloss.NewStyle().
				Bold(true).
				Background(bgBase)

	separatorStyle = lipgloss.NewStyle().
			Faint(true).
			Background(bgBase)

	cursorRowStyle = lipgloss.NewStyle().
			Background(bgCursor)

	selectedRowStyle = lipgloss.NewStyle().
				Bold(true).
				Background(bgBase)

	normalRowStyle = lipgloss.NewStyle().
			Background(bgBase)

	altRowStyle = lipgloss.NewStyle().
			Background(bgAlt)

	footerStyle = lipgloss.NewStyle().
			Foreground(fgMuted).
			Background(bgBase).
			Padding(0, 1)

	errorStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.AdaptiveColor{Light: "#aa0000", Dark: "#ff5f5f"}).
			Background(bgBase)

	loadingStyle = lipgloss.NewStyle().
			Italic(true).
			Background(bgBase)

	selectedIndicatorStyle = lipgloss.NewStyle().
				Bold(true)

	labelStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(fgMuted)

	modalStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			Padding(1, 2).
			Background(bgBase)

	modalTitleStyle = lipgloss.NewStyle().
			Bold(true)

	flashStyle = lipgloss.NewStyle().
			Italic(true).
			Foreground(lipgloss.AdaptiveColor{Light: "#996600", Dark: "#ffcc00"}).
			Background(bgBase)

	highlightStyle = lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "#000000", Dark: "#000000"}).
			Background(lipgloss.AdaptiveColor{Light: "#e8d44d", Dark: "#e8d44d"}).
			Bold(true)
)

// chromeLines is the number of fixed lines around the thread list: title,
// folder bar, table header, separator, info line and footer.
const chromeLines = 6

// listHeight is the number of thread rows that fit on screen.
func (m Model) listHeight() int {
	return max(m.height-chromeLines, 1)
}

// View implements tea.Model.
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	var content string
	switch m.screen {
	case screenLogin:
		return m.loginView()
	case screenMailboxes:
		content = m.mailboxesView()
	case screenMailbox:
		content = m.mailboxView()
	case screenDashboard:
		content = m.dashboardView()
	}
	if m.modal != modalNone {
		return m.overlayModal(content)
	}
	return content
}

func (m Model) buildTitleBar(context string) string {
	title := "mailroom"
	if m.version != "" && m.version != "dev" {
		title = fmt.Sprintf("mailroom [%s]", m.version)
	}
	line := title
	if context != "" {
		line += " - " + context
	}
	return titleBarStyle.Render(padRight(line, m.width-2))
}

func (m Model) loginView() string {
	var sb strings.Builder
	sb.WriteString(m.buildTitleBar("Sign in"))
	sb.WriteString("\n\n")

	var body strings.Builder
	body.WriteString(modalTitleStyle.Render("Admin login"))
	body.WriteString("\n\n")
	if m.loginForm != nil {
		body.WriteString(m.loginForm.View())
	}
	if m.loggingIn {
		body.WriteString("\n" + m.spinner.View() + loadingStyle.Render(" Signing in..."))
	}
	if m.loginErr != "" {
		body.WriteString("\n" + errorStyle.Render(m.loginErr))
	}
	box := modalStyle.Width(min(m.width-4, 60)).Render(body.String())
	sb.WriteString(lipgloss.PlaceHorizontal(m.width, lipgloss.Center, box))
	return sb.String()
}

func (m Model) mailboxesView() string {
	var sb strings.Builder
	sb.WriteString(m.buildTitleBar("Mailboxes"))
	sb.WriteString("\n")

	rows := m.height - 3
	used := 0
	switch {
	case m.mailboxesErr != "":
		sb.WriteString(errorStyle.Render(padRight(m.mailboxesErr, m.width)) + "\n")
		used++
	case len(m.mailboxes) == 0 && !m.mailboxesLoading:
		sb.WriteString(normalRowStyle.Render(padRight("No mailboxes. Press + to add one.", m.width)) + "\n")
		used++
	}

	active := m.console.State().ActiveMailbox
	for i, addr := range m.mailboxes {
		if used >= rows {
			break
		}
		marker := "   "
		if i == m.mailboxCursor {
			marker = selectedIndicatorStyle.Render("▶  ")
		}
		line := addr
		if addr == active {
			line += "  (last opened)"
		}
		style := normalRowStyle
		switch {
		case i == m.mailboxCursor:
			style = cursorRowStyle
		case i%2 == 1:
			style = altRowStyle
		}
		sb.WriteString(marker + style.Render(padRight(line, m.width-3)) + "\n")
		used++
	}
	for ; used < rows; used++ {
		sb.WriteString(normalRowStyle.Render(strings.Repeat(" ", m.width)) + "\n")
	}

	sb.WriteString(m.renderInfoLine(m.flashMessage, m.mailboxesLoading) + "\n")
	sb.WriteString(m.footerView())
	return sb.String()
}

func (m Model) folderBar() string {
	s := m.session
	parts := make([]string, 0, len(mailbox.Folders()))
	for i, f := range mailbox.Folders() {
		label := fmt.Sprintf("%d %s", i+1, f.Label())
		if ov := s.Overview(); ov != nil {
			label += fmt.Sprintf(" (%s)", formatCount(ov.Count(f)))
		}
		if f == s.Folder() {
			parts = append(parts, activeFolderStyle.Render(label))
		} else {
			parts = append(parts, folderStyle.Render(label))
		}
	}
	return padRight(" "+strings.Join(parts, folderStyle.Render("  ")), m.width)
}

func (m Model) mailboxView() string {
	s := m.session
	if s == nil {
		return m.buildTitleBar("")
	}
	var sb strings.Builder
	sb.WriteString(m.buildTitleBar(s.Mailbox()))
	sb.WriteString("\n")
	sb.WriteString(m.folderBar())
	sb.WriteString("\n")

	if m.showDetail {
		sb.WriteString(m.detailView())
	} else {
		sb.WriteString(m.threadListView())
	}

	sb.WriteString(m.renderInfoLine(m.infoContent(), s.Loading() || m.pendingBulk > 0 || m.compose != nil && m.compose.State() == mailbox.ComposeSending))
	sb.WriteString("\n")
	sb.WriteString(m.footerView())
	return sb.String()
}

// threadListView renders the header, separator and listHeight rows.
func (m Model) threadListView() string {
	s := m.session
	var sb strings.Builder

	dateWidth := 10
	fromWidth := 22
	flagsWidth := 3
	subjectWidth := max(m.width-dateWidth-fromWidth-flagsWidth-10, 20)

	header := fmt.Sprintf("   %-*s  %-*s  %-*s  %s",
		flagsWidth, "",
		dateWidth, "Date",
		fromWidth, "From",
		"Subject")
	sb.WriteString(tableHeaderStyle.Render(padRight(header, m.width)))
	sb.WriteString("\n")
	sb.WriteString(separatorStyle.Render(strings.Repeat("─", m.width)))
	sb.WriteString("\n")

	rows := m.listHeight()
	threads := s.Threads()
	used := 0

	switch {
	case s.ErrorMessage() != "":
		sb.WriteString(errorStyle.Render(padRight(" "+s.ErrorMessage()+" (r to retry)", m.width)) + "\n")
		used++
	case len(threads) == 0 && s.Loading():
		sb.WriteString(loadingStyle.Render(padRight(" Loading...", m.width)) + "\n")
		used++
	case len(threads) == 0:
		sb.WriteString(normalRowStyle.Render(padRight(" No messages", m.width)) + "\n")
		used++
	}

	now := m.now()
	openID := s.Collection().OpenID()
	query := s.ActiveQuery()
	end := min(m.scrollOffset+rows-used, len(threads))
	for i := m.scrollOffset; i < end; i++ {
		t := threads[i]
		isOpen := t.ID == openID
		isChecked := s.IsSelected(t.ID)

		var indicator string
		switch {
		case isOpen && isChecked:
			indicator = selectedIndicatorStyle.Render("▶✓ ")
		case isOpen:
			indicator = cursorRowStyle.Render("▶  ")
		case isChecked:
			indicator = selectedIndicatorStyle.Render(" ✓ ")
		default:
			indicator = "   "
		}

		flags := ""
		if t.Starred {
			flags += "★"
		}
		if t.HasAttachments {
			flags += "📎"
		}

		from := fmt.Sprintf("%-*s", fromWidth, truncateRunes(displayName(t.From), fromWidth))
		subject := t.Subject
		if subject == "" {
			subject = "(no subject)"
		}
		subject = truncateRunes(subject, subjectWidth)

		line := fmt.Sprintf("%s  %-*s  %s  %s",
			padRight(flags, flagsWidth),
			dateWidth, formatListDate(t.Timestamp, now),
			highlightTerms(from, query),
			highlightTerms(subject, query))

		style := normalRowStyle
		switch {
		case isOpen:
			style = cursorRowStyle
		case isChecked:
			style = selectedRowStyle
		case i%2 == 1:
			style = altRowStyle
		}
		sb.WriteString(indicator)
		sb.WriteString(style.Render(padRight(line, m.width-3)))
		sb.WriteString("\n")
		used++
	}
	for ; used < rows; used++ {
		sb.WriteString(normalRowStyle.Render(strings.Repeat(" ", m.width)))
		sb.WriteString("\n")
	}
	return sb.String()
}

// buildDetailLines constructs the lines for the open thread.
func (m Model) buildDetailLines() []string {
	t, ok := m.session.OpenThread()
	if !ok {
		return []string{"No message open"}
	}
	width := max(m.width-2, 20)
	var lines []string
	header := func(label, value string) {
		if value == "" {
			return
		}
		lines = append(lines, labelStyle.Render(fmt.Sprintf("%-9s", label))+truncateRunes(value, width-9))
	}
	header("From:", t.From)
	header("To:", t.To)
	header("Cc:", t.Cc)
	header("Date:", t.Date)
	header("Subject:", t.Subject)
	lines = append(lines, "")

	body := t.BodyText
	if body == "" {
		body = t.Snippet
	}
	for _, l := range wrapText(body, width) {
		lines = append(lines, highlightTerms(l, m.session.ActiveQuery()))
	}

	if len(t.Attachments) > 0 {
		lines = append(lines, "", labelStyle.Render(fmt.Sprintf("Attachments (%d)", len(t.Attachments))))
		for _, a := range t.Attachments {
			lines = append(lines, fmt.Sprintf("  %s  %s", a.Filename, formatBytes(a.Size)))
			lines = append(lines, "    "+truncateRunes(m.session.AttachmentURL(a), width-4))
		}
	}
	return lines
}

func (m Model) detailView() string {
	lines := m.buildDetailLines()
	rows := m.listHeight() + 2 // detail has no table header
	start := min(m.detailScroll, max(len(lines)-rows, 0))
	end := min(start+rows, len(lines))

	var sb strings.Builder
	used := 0
	for _, l := range lines[start:end] {
		sb.WriteString(normalRowStyle.Render(padRight(" "+l, m.width)))
		sb.WriteString("\n")
		used++
	}
	for ; used < rows; used++ {
		sb.WriteString(normalRowStyle.Render(strings.Repeat(" ", m.width)))
		sb.WriteString("\n")
	}
	return sb.String()
}

// infoContent is the mailbox view's info line: inline search, a flash, an
// error slot, or the page position.
func (m Model) infoContent() string {
	s := m.session
	if m.searchActive {
		return "/" + m.searchInput.View()
	}
	if m.flashMessage != "" {
		return flashStyle.Render(m.flashMessage)
	}
	for _, e := range []string{s.BulkError(), m.composeError(), s.OverviewError()} {
		if e != "" {
			return errorStyle.Render(e)
		}
	}

	var parts []string
	if q := s.ActiveQuery(); q != "" {
		parts = append(parts, fmt.Sprintf("Search: %q", q))
	}
	if r := s.Range(); r.End > 0 {
		parts = append(parts, fmt.Sprintf("%d–%d of %d", r.Start, r.End, r.Total))
	}
	parts = append(parts, fmt.Sprintf("page %d", s.Page()))
	if n := s.Collection().SelectedCount(); n > 0 {
		parts = append(parts, fmt.Sprintf("[%d selected]", n))
	}
	return strings.Join(parts, "  ")
}

func (m Model) composeError() string {
	if m.compose == nil {
		return ""
	}
	return m.compose.ErrorMessage()
}

// renderInfoLine renders the line above the footer with an optional
// right-aligned spinner.
func (m Model) renderInfoLine(content string, loading bool) string {
	contentWidth := max(m.width-2, 1)
	if content == "" && !loading {
		return statsStyle.Render(strings.Repeat(" ", contentWidth))
	}
	if loading {
		indicator := m.spinner.View()
		gap := max(contentWidth-lipgloss.Width(content)-lipgloss.Width(indicator), 1)
		content += strings.Repeat(" ", gap) + indicator
	}
	return statsStyle.Render(padRight(content, contentWidth))
}

func (m Model) footerView() string {
	var keys []string
	switch m.screen {
	case screenMailboxes:
		keys = []string{"↑/k", "↓/j", "Enter open", "+ add", "- remove", "r reload", "D stats"}
	case screenMailbox:
		if m.showDetail {
			keys = []string{"J/K scroll", "↑/↓ prev/next", "s star", "a archive", "# delete", "Esc back"}
		} else {
			keys = []string{"↑/↓", "Space select", "a archive", "# delete", "s star", "n/p page", "/ search", "F filter", "c compose", "Esc back"}
		}
	case screenDashboard:
		keys = []string{"r refresh", "Esc back"}
	}
	keys = append(keys, "? help")
	keysStr := strings.Join(keys, " │ ")
	return footerStyle.Render(padRight(keysStr, max(m.width-2, 1)))
}

func (m Model) dashboardView() string {
	var sb strings.Builder
	sb.WriteString(m.buildTitleBar("Campaign analytics"))
	sb.WriteString("\n")

	rows := m.height - 3
	var lines []string
	switch {
	case m.dashboardErr != "":
		lines = append(lines, errorStyle.Render(" "+m.dashboardErr))
	case m.dashboard == nil && m.dashboardLoading:
		lines = append(lines, loadingStyle.Render(" Loading..."))
	case m.dashboard == nil:
	case len(m.dashboard.Rows) == 0:
		lines = append(lines, " No campaigns")
	default:
		lines = m.dashboardLines()
	}

	used := 0
	for _, l := range lines {
		if used >= rows {
			break
		}
		sb.WriteString(normalRowStyle.Render(padRight(l, m.width)) + "\n")
		used++
	}
	for ; used < rows; used++ {
		sb.WriteString(normalRowStyle.Render(strings.Repeat(" ", m.width)) + "\n")
	}
	sb.WriteString(m.renderInfoLine(m.flashMessage, m.dashboardLoading) + "\n")
	sb.WriteString(m.footerView())
	return sb.String()
}

func (m Model) dashboardLines() []string {
	d := m.dashboard
	counts := make([]int, len(d.Series))
	for i, p := range d.Series {
		counts[i] = p.Campaigns
	}
	lines := []string{
		fmt.Sprintf(" Refreshed %s", d.RefreshedAt.Local().Format("2006-01-02 15:04")),
	}
	if len(counts) > 0 {
		lines = append(lines, fmt.Sprintf(" Campaigns per day %s  %s … %s",
			sparkline(counts), d.Series[0].Date, d.Series[len(d.Series)-1].Date))
	}
	lines = append(lines, "")

	campaignWidth := max(m.width-10-8-6*9-6, 12)
	header := fmt.Sprintf(" %-10s  %-*s  %-8s %8s %8s %8s %8s %8s %8s",
		"Date", campaignWidth, "Campaign", "Device", "Sent", "Deliv", "Opened", "Clicked", "Bounced", "Spam")
	lines = append(lines,
		tableHeaderStyle.Render(header),
		separatorStyle.Render(strings.Repeat("─", m.width)))
	for _, r := range d.Rows {
		lines = append(lines, fmt.Sprintf(" %-10s  %-*s  %-8s %8s %8s %8s %8s %8s %8s",
			truncateRunes(r.Date, 10),
			campaignWidth, truncateRunes(r.Campaign, campaignWidth),
			truncateRunes(r.Device, 8),
			formatMetric(r.Sent), formatMetric(r.Delivered), formatMetric(r.Opened),
			formatMetric(r.Clicked), formatMetric(r.Bounced), formatMetric(r.Spam)))
	}
	return lines
}

var rawHelpLines = []string{
	"Keyboard Shortcuts",
	"",
	"Mailbox",
	"  ↑/k, ↓/j    Move between messages",
	"  Enter       Show or hide the message",
	"  Space       Select message",
	"  A           Select all on page",
	"  a / #       Archive / delete",
	"  s           Star or unstar",
	"  n / p       Next / previous page",
	"  1-7         Switch folder",
	"  / F x       Search, filter, clear",
	"  c           Compose",
	"  r           Refresh",
	"",
	"Anywhere",
	"  D           Campaign analytics",
	"  t           Toggle theme",
	"  L           Log out",
	"  q           Quit",
}

func (m Model) renderHelpModal() string {
	var sb strings.Builder
	sb.WriteString(modalTitleStyle.Render(rawHelpLines[0]))
	for _, l := range rawHelpLines[1:] {
		sb.WriteString("\n" + l)
	}
	return sb.String()
}

func (m Model) modalContent() string {
	switch m.modal {
	case modalHelp:
		return m.renderHelpModal()
	case modalFilter:
		return modalTitleStyle.Render("Filter messages") + "\n\n" + m.form.View()
	case modalCompose:
		title := "New message"
		if m.session != nil {
			title += " from " + m.session.Mailbox()
		}
		return modalTitleStyle.Render(title) + "\n\n" + m.form.View()
	case modalAddMailbox:
		return modalTitleStyle.Render("Add mailbox") + "\n\n" + m.form.View()
	case modalRemoveConfirm:
		return m.form.View()
	}
	return ""
}

// overlayModal draws the modal box centered over background, keeping the
// background visible on either side.
func (m Model) overlayModal(background string) string {
	content := m.modalContent()
	if content == "" {
		return background
	}
	modal := modalStyle.Render(content)

	bgLines := strings.Split(background, "\n")
	modalLines := strings.Split(modal, "\n")
	startLine := max((len(bgLines)-len(modalLines))/2, 0)
	modalWidth := lipgloss.Width(modal)
	left := max((m.width-modalWidth)/2, 0)

	for i, ml := range modalLines {
		idx := startLine + i
		if idx >= len(bgLines) {
			break
		}
		bg := bgLines[idx]
		var line strings.Builder
		leftBg := ansi.Truncate(bg, left, "")
		line.WriteString(leftBg)
		if w := lipgloss.Width(leftBg); w < left {
			line.WriteString(strings.Repeat(" ", left-w))
		}
		line.WriteString(ml)
		if rightStart := left + modalWidth; rightStart < lipgloss.Width(bg) {
			line.WriteString(ansi.TruncateLeft(bg, rightStart, ""))
		}
		bgLines[idx] = line.String()
	}
	return strings.Join(bgLines, "\n")
}
