// Package gmail provides a Gmail API client with rate limiting and retry logic.
package gmail

import (
	"context"
	"slices"
	"strings"
)

// System label ids.
const (
	LabelInbox     = "INBOX"
	LabelSent      = "SENT"
	LabelDraft     = "DRAFT"
	LabelStarred   = "STARRED"
	LabelSpam      = "SPAM"
	LabelTrash     = "TRASH"
	LabelImportant = "IMPORTANT"
	LabelUnread    = "UNREAD"
)

var systemLabelIDs = []string{
	LabelInbox, LabelSent, LabelDraft, LabelStarred,
	LabelSpam, LabelTrash, LabelImportant, LabelUnread,
}

// AccountReader provides read access to account-level Gmail data.
type AccountReader interface {
	// GetProfile returns the mailbox profile.
	GetProfile(ctx context.Context) (*Profile, error)

	// ListLabels returns all labels. Gmail omits message counts here.
	ListLabels(ctx context.Context) ([]*Label, error)

	// GetLabel returns a single label including its message counts.
	GetLabel(ctx context.Context, labelID string) (*Label, error)
}

// MessageReader provides read access to Gmail messages.
type MessageReader interface {
	// ListMessages returns message ids matching opts.
	ListMessages(ctx context.Context, opts ListOptions) (*MessageListResponse, error)

	// GetMessage fetches one message in full format.
	GetMessage(ctx context.Context, messageID string) (*Message, error)

	// GetMessagesBatch fetches messages in parallel, preserving input order.
	// Messages deleted since listing are returned as nil entries.
	GetMessagesBatch(ctx context.Context, messageIDs []string) ([]*Message, error)

	// GetAttachment downloads attachment content.
	GetAttachment(ctx context.Context, messageID, attachmentID string) ([]byte, error)
}

// MessageWriter provides label changes and sending.
type MessageWriter interface {
	// BatchModify adds and removes labels on up to 1000 messages.
	BatchModify(ctx context.Context, messageIDs, addLabelIDs, removeLabelIDs []string) error

	// Send submits a raw RFC 5322 message.
	Send(ctx context.Context, raw []byte) (*MessageID, error)
}

// API defines the interface for Gmail operations.
// This interface enables mocking for tests without hitting the real API.
type API interface {
	AccountReader
	MessageReader
	MessageWriter

	// Close releases any resources held by the client.
	Close() error
}

// Profile represents a Gmail user profile.
type Profile struct {
	EmailAddress  string
	MessagesTotal int64
	ThreadsTotal  int64
}

// Label represents a Gmail label. MessagesTotal is nil when the API did
// not report it.
type Label struct {
	ID             string
	Name           string
	Type           string // "system" or "user"
	MessagesTotal  *int64
	MessagesUnread *int64
}

// ListOptions selects a page of messages.
type ListOptions struct {
	Query      string
	LabelIDs   []string
	PageToken  string
	MaxResults int
}

// MessageListResponse contains a page of message ids.
type MessageListResponse struct {
	Messages           []MessageID
	NextPageToken      string
	ResultSizeEstimate int64
}

// MessageID represents a message reference from list operations.
type MessageID struct {
	ID       string
	ThreadID string
}

// Message is a message fetched in full format with its MIME tree already
// reduced to headers, bodies and attachment references.
type Message struct {
	ID           string
	ThreadID     string
	LabelIDs     []string
	Snippet      string
	InternalDate int64 // Unix milliseconds
	SizeEstimate int64
	Headers      map[string]string // lowercased names
	BodyText     string
	BodyHTML     string
	Attachments  []Attachment
}

// Header returns a header value by case-insensitive name.
func (m *Message) Header(name string) string {
	return m.Headers[strings.ToLower(name)]
}

// HasLabel reports whether the message carries labelID.
func (m *Message) HasLabel(labelID string) bool {
	return slices.Contains(m.LabelIDs, labelID)
}

// Attachment references a part that has a filename and attachment id.
type Attachment struct {
	Filename     string
	MimeType     string
	Size         int64
	AttachmentID string
	MessageID    string
}
