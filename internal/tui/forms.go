package tui

import (
	"errors"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"

	"github.com/mailroom/mailroom/internal/mailbox"
)

// Form bindings live on the heap so huh's Value pointers stay valid as
// the model is copied through Update.

type loginFields struct {
	username string
	password string
}

type filterFields struct {
	from          string
	to            string
	subject       string
	after         string
	before        string
	folder        string
	hasAttachment bool
}

type draftFields struct {
	to          string
	cc          string
	bcc         string
	subject     string
	body        string
	attachments string // comma-separated paths
}

type addFields struct {
	address string
}

const dateLayout = "2006-01-02"

func required(label string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%s is required", label)
		}
		return nil
	}
}

func optionalDate(s string) error {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	if _, err := time.ParseInLocation(dateLayout, strings.TrimSpace(s), time.Local); err != nil {
		return errors.New("use YYYY-MM-DD")
	}
	return nil
}

func newLoginForm() (*huh.Form, *loginFields) {
	lf := &loginFields{}
	form := huh.NewForm(huh.NewGroup(
		huh.NewInput().Title("Username").Value(&lf.username).Validate(required("username")),
		huh.NewInput().Title("Password").EchoMode(huh.EchoModePassword).Value(&lf.password).Validate(required("password")),
	)).WithShowHelp(false)
	return form, lf
}

func (m Model) updateLoginForm(msg tea.Msg) (tea.Model, tea.Cmd) {
	if m.loggingIn {
		return m, nil
	}
	mdl, cmd := m.loginForm.Update(msg)
	if f, ok := mdl.(*huh.Form); ok {
		m.loginForm = f
	}
	switch m.loginForm.State {
	case huh.StateCompleted:
		cmd = m.submitLogin()
		return m, cmd
	case huh.StateAborted:
		m.quitting = true
		return m, tea.Quit
	}
	return m, cmd
}

// submitLogin sends the login form's credentials.
func (m *Model) submitLogin() tea.Cmd {
	m.loggingIn = true
	m.loginErr = ""
	console := m.console
	user, pass := m.login.username, m.login.password
	ctx, cancel := m.callContext()
	return func() tea.Msg {
		defer cancel()
		return loginDoneMsg{err: console.Login(ctx, user, pass)}
	}
}

func (m Model) handleLoginDone(msg loginDoneMsg) (tea.Model, tea.Cmd) {
	m.loggingIn = false
	if msg.err != nil {
		m.loginErr = mailbox.Humanize("Login failed", msg.err)
		username := m.login.username
		m.loginForm, m.login = newLoginForm()
		m.login.username = username
		return m, m.loginForm.Init()
	}
	m.loginForm = nil
	m.login = nil
	m.loginErr = ""
	m.screen = screenMailboxes
	load := m.loadMailboxes()
	return m, load
}

// openFilterForm pre-fills the filter form from the session's filters.
func (m *Model) openFilterForm() tea.Cmd {
	f := m.session.Filters()
	ff := &filterFields{
		from:          f.From,
		to:            f.To,
		subject:       f.Subject,
		hasAttachment: f.HasAttachment,
	}
	if !f.DateStart.IsZero() {
		ff.after = f.DateStart.Format(dateLayout)
	}
	if !f.DateEnd.IsZero() {
		ff.before = f.DateEnd.Format(dateLayout)
	}
	if f.Folder != nil {
		ff.folder = f.Folder.Key()
	}

	folderOpts := []huh.Option[string]{huh.NewOption("Any", "")}
	for _, fo := range mailbox.Folders() {
		folderOpts = append(folderOpts, huh.NewOption(fo.Label(), fo.Key()))
	}

	m.filter = ff
	m.form = huh.NewForm(huh.NewGroup(
		huh.NewInput().Title("From").Value(&ff.from),
		huh.NewInput().Title("To").Value(&ff.to),
		huh.NewInput().Title("Subject").Value(&ff.subject),
		huh.NewInput().Title("After").Placeholder(dateLayout).Value(&ff.after).Validate(optionalDate),
		huh.NewInput().Title("Before").Placeholder(dateLayout).Value(&ff.before).Validate(optionalDate),
		huh.NewSelect[string]().Title("In folder").Options(folderOpts...).Value(&ff.folder),
		huh.NewConfirm().Title("Has attachment").Value(&ff.hasAttachment),
	)).WithShowHelp(false).WithWidth(m.modalWidth())
	m.modal = modalFilter
	return m.form.Init()
}

// filterSet converts the form bindings. Invalid dates were rejected by
// the form and read as unset here.
func (ff *filterFields) filterSet() mailbox.FilterSet {
	fs := mailbox.FilterSet{
		From:          strings.TrimSpace(ff.from),
		To:            strings.TrimSpace(ff.to),
		Subject:       strings.TrimSpace(ff.subject),
		HasAttachment: ff.hasAttachment,
	}
	if t, err := time.ParseInLocation(dateLayout, strings.TrimSpace(ff.after), time.Local); err == nil {
		fs.DateStart = t
	}
	if t, err := time.ParseInLocation(dateLayout, strings.TrimSpace(ff.before), time.Local); err == nil {
		fs.DateEnd = t
	}
	if f, err := mailbox.ParseFolder(ff.folder); err == nil && ff.folder != "" {
		fs.Folder = f.Ptr()
	}
	return fs
}

func (m *Model) submitFilter() tea.Cmd {
	fs := m.filter.filterSet()
	m.closeModal()
	return runFetch(m.session.CommitQuery(m.session.RawText(), fs), m.timeout)
}

// openComposeForm edits the current draft, opening a new one if needed.
func (m *Model) openComposeForm() tea.Cmd {
	if m.compose == nil || m.compose.State() == mailbox.ComposeClosed {
		m.compose = m.console.NewCompose()
		m.compose.Open()
	}
	d := m.compose.Draft()
	df := &draftFields{to: d.To, cc: d.Cc, bcc: d.Bcc, subject: d.Subject, body: d.Body}

	m.draft = df
	m.form = huh.NewForm(huh.NewGroup(
		huh.NewInput().Title("To").Value(&df.to).Validate(required("recipient")),
		huh.NewInput().Title("Cc").Value(&df.cc),
		huh.NewInput().Title("Bcc").Value(&df.bcc),
		huh.NewInput().Title("Subject").Value(&df.subject).Validate(required("subject")),
		huh.NewText().Title("Body").Lines(8).Value(&df.body).Validate(required("body")),
		huh.NewInput().Title("Attach files").Placeholder("comma-separated paths").Value(&df.attachments),
	)).WithShowHelp(false).WithWidth(m.modalWidth())
	m.modal = modalCompose
	return m.form.Init()
}

// submitCompose copies the form into the draft and sends it.
func (m *Model) submitCompose() tea.Cmd {
	df := m.draft
	m.closeModal()

	err := m.compose.Update(func(d *mailbox.ComposeDraft) {
		d.To = strings.TrimSpace(df.to)
		d.Cc = strings.TrimSpace(df.cc)
		d.Bcc = strings.TrimSpace(df.bcc)
		d.Subject = df.subject
		d.Body = df.body
	})
	if err != nil {
		return m.setFlash("%s", mailbox.Humanize("Cannot edit draft", err))
	}
	for _, path := range strings.Split(df.attachments, ",") {
		if path = strings.TrimSpace(path); path == "" {
			continue
		}
		if err := m.compose.AttachFile(path); err != nil {
			return m.setFlash("%s", mailbox.Humanize("Attachment failed", err))
		}
	}

	send, err := m.compose.Submit()
	if err != nil {
		return m.setFlash("%s", mailbox.Humanize("Cannot send", err))
	}
	return tea.Batch(runSend(send, m.timeout), m.setFlash("Sending..."))
}

func (m Model) handleSent(msg sentMsg) (tea.Model, tea.Cmd) {
	if m.compose == nil || !m.compose.Settle(msg.result) {
		return m, nil
	}
	if msg.result.Err != nil {
		cmd := m.setFlash("%s (press c to edit the draft)", m.compose.ErrorMessage())
		return m, cmd
	}
	cmd := m.setFlash("Message sent")
	if m.session != nil && m.session.Folder() == mailbox.FolderSent {
		return m, tea.Batch(cmd, runFetch(m.session.Refresh(), m.timeout))
	}
	return m, cmd
}

func (m *Model) openAddForm() tea.Cmd {
	af := &addFields{}
	m.add = af
	m.form = huh.NewForm(huh.NewGroup(
		huh.NewInput().Title("Mailbox address").Placeholder("name@example.com").Value(&af.address).Validate(required("address")),
	)).WithShowHelp(false).WithWidth(m.modalWidth())
	m.modal = modalAddMailbox
	return m.form.Init()
}

func (m *Model) submitAdd() tea.Cmd {
	address := strings.TrimSpace(m.add.address)
	m.closeModal()
	console := m.console
	ctx, cancel := m.callContext()
	return func() tea.Msg {
		defer cancel()
		list, err := console.AddMailbox(ctx, address)
		return mailboxChangedMsg{list: list, err: err}
	}
}

func (m *Model) openRemoveConfirm() tea.Cmd {
	if len(m.mailboxes) == 0 {
		return nil
	}
	confirmed := false
	m.removeConfirmed = &confirmed
	address := m.mailboxes[m.mailboxCursor]
	m.form = huh.NewForm(huh.NewGroup(
		huh.NewConfirm().
			Title(fmt.Sprintf("Remove %s?", address)).
			Affirmative("Remove").
			Negative("Cancel").
			Value(m.removeConfirmed),
	)).WithShowHelp(false).WithWidth(m.modalWidth())
	m.modal = modalRemoveConfirm
	return m.form.Init()
}

func (m *Model) submitRemove() tea.Cmd {
	confirmed := m.removeConfirmed != nil && *m.removeConfirmed
	m.closeModal()
	if !confirmed || len(m.mailboxes) == 0 {
		return nil
	}
	address := m.mailboxes[m.mailboxCursor]
	console := m.console
	ctx, cancel := m.callContext()
	return func() tea.Msg {
		defer cancel()
		list, err := console.RemoveMailbox(ctx, address)
		return mailboxChangedMsg{list: list, err: err, removed: address}
	}
}

func (m Model) handleMailboxChanged(msg mailboxChangedMsg) (tea.Model, tea.Cmd) {
	if msg.err != nil {
		cmd := m.setFlash("%s", mailbox.Humanize("Update failed", msg.err))
		mdl, expiredCmd := m.checkExpired(msg.err)
		return mdl, tea.Batch(cmd, expiredCmd)
	}
	m.mailboxes = msg.list
	m.mailboxCursor = min(m.mailboxCursor, max(len(m.mailboxes)-1, 0))
	if msg.removed != "" {
		if msg.removed == m.console.State().ActiveMailbox {
			_ = m.console.Exit()
		}
		cmd := m.setFlash("Removed %s", msg.removed)
		return m, cmd
	}
	cmd := m.setFlash("Mailbox added")
	return m, cmd
}

// updateModalForm forwards msg to the modal form and acts on completion.
func (m Model) updateModalForm(msg tea.Msg) (tea.Model, tea.Cmd) {
	mdl, cmd := m.form.Update(msg)
	if f, ok := mdl.(*huh.Form); ok {
		m.form = f
	}
	switch m.form.State {
	case huh.StateCompleted:
		switch m.modal {
		case modalFilter:
			cmd = m.submitFilter()
			return m, cmd
		case modalCompose:
			cmd = m.submitCompose()
			return m, cmd
		case modalAddMailbox:
			cmd = m.submitAdd()
			return m, cmd
		case modalRemoveConfirm:
			cmd = m.submitRemove()
			return m, cmd
		}
		m.closeModal()
		return m, nil
	case huh.StateAborted:
		m.closeModal()
		return m, nil
	}
	return m, cmd
}

func (m *Model) closeModal() {
	m.modal = modalNone
	m.form = nil
	m.filter = nil
	m.draft = nil
	m.add = nil
	m.removeConfirmed = nil
}

func (m Model) modalWidth() int {
	return max(min(m.width-8, 80), 30)
}
