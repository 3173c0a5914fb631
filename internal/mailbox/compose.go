package mailbox

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/google/uuid"
)

var (
	// ErrComposeNotOpen is returned when editing or sending a closed draft.
	ErrComposeNotOpen = errors.New("compose is not open")
	// ErrComposeIncomplete is returned when to, subject or body is empty.
	ErrComposeIncomplete = errors.New("all fields are required")
	// ErrComposeBusy is returned while a send is in flight.
	ErrComposeBusy = errors.New("message is being sent")
)

// ComposeState is the lifecycle state of a compose session.
type ComposeState int

const (
	ComposeClosed ComposeState = iota
	ComposeOpen
	ComposeSending
)

func (s ComposeState) String() string {
	switch s {
	case ComposeClosed:
		return "closed"
	case ComposeOpen:
		return "open"
	case ComposeSending:
		return "sending"
	default:
		return "unknown"
	}
}

// Attachment is a file attached to a draft. Content is base64 (standard
// encoding, padded).
type Attachment struct {
	Filename string
	MimeType string
	Size     int64
	Content  string
}

// ComposeDraft is an outgoing message being edited.
type ComposeDraft struct {
	ID          string
	To          string
	Cc          string
	Bcc         string
	Subject     string
	Body        string
	Attachments []Attachment
}

func (d ComposeDraft) clone() ComposeDraft {
	d.Attachments = slices.Clone(d.Attachments)
	return d
}

// Compose is a draft with its own send lifecycle, independent of the
// thread-list session:
//
//	Closed -> Open -> Sending -> Closed (sent)
//	                          -> Open (failed, draft kept)
//
// Drafts are never persisted.
type Compose struct {
	mailbox string
	sender  Sender
	logger  *slog.Logger

	state  ComposeState
	draft  ComposeDraft
	err    error
	seq    uint64
	sentID string
}

// NewCompose creates a closed compose session for mailbox.
func NewCompose(mailbox string, sender Sender, logger *slog.Logger) *Compose {
	if logger == nil {
		logger = slog.Default()
	}
	return &Compose{mailbox: mailbox, sender: sender, logger: logger}
}

// Open starts an empty draft. Opening an open compose keeps its draft.
func (c *Compose) Open() {
	if c.state != ComposeClosed {
		return
	}
	c.draft = ComposeDraft{ID: uuid.NewString()}
	c.err = nil
	c.state = ComposeOpen
}

// Close discards the draft. A send still in flight is forgotten.
func (c *Compose) Close() {
	c.draft = ComposeDraft{}
	c.err = nil
	c.state = ComposeClosed
	c.seq++
}

// State is the lifecycle state.
func (c *Compose) State() ComposeState { return c.state }

// Draft returns a copy of the current draft.
func (c *Compose) Draft() ComposeDraft { return c.draft.clone() }

// Err is the last send failure.
func (c *Compose) Err() error { return c.err }

// ErrorMessage is the display form of Err.
func (c *Compose) ErrorMessage() string {
	return Humanize("Unable to send", c.err)
}

// LastSentID is the provider id of the most recently sent message.
func (c *Compose) LastSentID() string { return c.sentID }

// Update edits the draft in place. Editing clears the last send error.
func (c *Compose) Update(fn func(*ComposeDraft)) error {
	if err := c.editable(); err != nil {
		return err
	}
	id := c.draft.ID
	fn(&c.draft)
	c.draft.ID = id
	c.err = nil
	return nil
}

// Attach base64-encodes data and appends it to the draft. An empty
// mimeType is derived from the filename or the content.
func (c *Compose) Attach(filename, mimeType string, data []byte) error {
	if err := c.editable(); err != nil {
		return err
	}
	if mimeType == "" {
		mimeType = detectMimeType(filename, data)
	}
	c.draft.Attachments = append(c.draft.Attachments, Attachment{
		Filename: filename,
		MimeType: mimeType,
		Size:     int64(len(data)),
		Content:  base64.StdEncoding.EncodeToString(data),
	})
	c.err = nil
	return nil
}

// AttachFile reads path and attaches it under its base name.
func (c *Compose) AttachFile(path string) error {
	if err := c.editable(); err != nil {
		return err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read attachment: %w", err)
	}
	return c.Attach(filepath.Base(path), "", data)
}

// RemoveAttachment drops the attachment at index i. Out-of-range indexes
// are ignored.
func (c *Compose) RemoveAttachment(i int) bool {
	if c.editable() != nil || i < 0 || i >= len(c.draft.Attachments) {
		return false
	}
	c.draft.Attachments = slices.Delete(c.draft.Attachments, i, i+1)
	return true
}

func (c *Compose) editable() error {
	switch c.state {
	case ComposeOpen:
		return nil
	case ComposeSending:
		return ErrComposeBusy
	default:
		return ErrComposeNotOpen
	}
}

// Send is a deferred submission of a draft snapshot.
type Send struct {
	Mailbox string
	Draft   ComposeDraft

	seq    uint64
	sender Sender
}

// SendResult is the outcome of Send.Run.
type SendResult struct {
	MessageID string
	Err       error

	seq uint64
}

// Run performs the provider call.
func (s *Send) Run(ctx context.Context) SendResult {
	id, err := s.sender.SendMessage(ctx, s.Mailbox, s.Draft)
	return SendResult{MessageID: id, Err: err, seq: s.seq}
}

// Submit validates the draft and moves to Sending. Recipient, subject and
// body are required.
func (c *Compose) Submit() (*Send, error) {
	if err := c.editable(); err != nil {
		return nil, err
	}
	d := c.draft
	if strings.TrimSpace(d.To) == "" || strings.TrimSpace(d.Subject) == "" || strings.TrimSpace(d.Body) == "" {
		c.err = ErrComposeIncomplete
		return nil, ErrComposeIncomplete
	}
	c.seq++
	c.state = ComposeSending
	c.err = nil
	c.logger.Debug("sending draft", "mailbox", c.mailbox, "draft", d.ID,
		"attachments", len(d.Attachments))
	return &Send{Mailbox: c.mailbox, Draft: d.clone(), seq: c.seq, sender: c.sender}, nil
}

// Settle applies a send result. Success closes and resets the compose;
// failure returns to Open with the draft intact. Results for a compose
// that was closed or resubmitted meanwhile are ignored.
func (c *Compose) Settle(r SendResult) bool {
	if c.state != ComposeSending || r.seq != c.seq {
		return false
	}
	if r.Err != nil {
		c.state = ComposeOpen
		c.err = r.Err
		c.logger.Warn("send failed", "mailbox", c.mailbox, "draft", c.draft.ID, "error", r.Err)
		return true
	}
	c.sentID = r.MessageID
	c.draft = ComposeDraft{}
	c.err = nil
	c.state = ComposeClosed
	return true
}

func detectMimeType(filename string, data []byte) string {
	if t := mime.TypeByExtension(strings.ToLower(filepath.Ext(filename))); t != "" {
		return t
	}
	if len(data) == 0 {
		return "application/octet-stream"
	}
	return http.DetectContentType(data)
}
