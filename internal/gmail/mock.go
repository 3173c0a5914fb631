package gmail

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/mailroom/mailroom/internal/mime"
	"github.com/mailroom/mailroom/internal/search"
	"github.com/mailroom/mailroom/internal/textutil"
)

// ModifyCall records one BatchModify call.
type ModifyCall struct {
	IDs    []string
	Add    []string
	Remove []string
}

// MockAPI is an in-memory Gmail mailbox. It evaluates search queries with
// the search package and applies label changes, so it backs both tests
// and the demo server.
type MockAPI struct {
	mu sync.Mutex

	// EmailAddress is reported by GetProfile.
	EmailAddress string

	// UserLabels are listed after the system labels.
	UserLabels []*Label

	// Messages indexed by ID.
	Messages map[string]*Message

	// AttachmentData is keyed by messageID + "/" + attachmentID.
	AttachmentData map[string][]byte

	// Now stamps sent messages.
	Now func() time.Time

	// Error injection
	ProfileError      error
	LabelsError       error
	ListMessagesError error
	ModifyError       error
	SendError         error
	GetMessageError   map[string]error // Per-message errors

	// Call tracking for assertions
	ProfileCalls    int
	LabelsCalls     int
	LabelGetCalls   []string
	ListCalls       []ListOptions
	GetMessageCalls []string
	ModifyCalls     []ModifyCall
	SentRaw         [][]byte

	nextID int
}

// NewMockAPI creates an empty mailbox for address.
func NewMockAPI(address string) *MockAPI {
	return &MockAPI{
		EmailAddress:    address,
		Messages:        make(map[string]*Message),
		AttachmentData:  make(map[string][]byte),
		GetMessageError: make(map[string]error),
		Now:             time.Now,
	}
}

// AddMessage stores msg, replacing any message with the same id. Missing
// thread ids default to the message id.
func (m *MockAPI) AddMessage(msg *Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if msg.ThreadID == "" {
		msg.ThreadID = msg.ID
	}
	if msg.Headers == nil {
		msg.Headers = map[string]string{}
	}
	m.Messages[msg.ID] = msg
}

// GetProfile returns the mailbox profile. MessagesTotal counts every
// stored message.
func (m *MockAPI) GetProfile(ctx context.Context) (*Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ProfileCalls++
	if m.ProfileError != nil {
		return nil, m.ProfileError
	}
	return &Profile{
		EmailAddress:  m.EmailAddress,
		MessagesTotal: int64(len(m.Messages)),
		ThreadsTotal:  int64(len(m.Messages)),
	}, nil
}

// ListLabels returns system and user labels without counts, as Gmail does.
func (m *MockAPI) ListLabels(ctx context.Context) ([]*Label, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.LabelsCalls++
	if m.LabelsError != nil {
		return nil, m.LabelsError
	}
	labels := make([]*Label, 0, len(systemLabelIDs)+len(m.UserLabels))
	for _, id := range systemLabelIDs {
		labels = append(labels, &Label{ID: id, Name: id, Type: "system"})
	}
	for _, l := range m.UserLabels {
		labels = append(labels, &Label{ID: l.ID, Name: l.Name, Type: "user"})
	}
	return labels, nil
}

// GetLabel returns a label with message counts.
func (m *MockAPI) GetLabel(ctx context.Context, labelID string) (*Label, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.LabelGetCalls = append(m.LabelGetCalls, labelID)
	if m.LabelsError != nil {
		return nil, m.LabelsError
	}

	label := &Label{ID: labelID, Name: labelID, Type: "system"}
	if !slices.Contains(systemLabelIDs, labelID) {
		idx := slices.IndexFunc(m.UserLabels, func(l *Label) bool { return l.ID == labelID })
		if idx < 0 {
			return nil, &NotFoundError{Path: "/labels/" + labelID}
		}
		label = &Label{ID: labelID, Name: m.UserLabels[idx].Name, Type: "user"}
	}

	var total, unread int64
	for _, msg := range m.Messages {
		if msg.HasLabel(labelID) {
			total++
			if msg.HasLabel(LabelUnread) {
				unread++
			}
		}
	}
	label.MessagesTotal = &total
	label.MessagesUnread = &unread
	return label, nil
}

// ListMessages evaluates opts against the stored messages, newest first.
// Spam and trash are excluded unless selected by label. Page tokens have
// the form "page_<offset>".
func (m *MockAPI) ListMessages(ctx context.Context, opts ListOptions) (*MessageListResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ListCalls = append(m.ListCalls, opts)
	if m.ListMessagesError != nil {
		return nil, m.ListMessagesError
	}

	offset := 0
	if opts.PageToken != "" {
		if _, err := fmt.Sscanf(opts.PageToken, "page_%d", &offset); err != nil || offset < 0 {
			return nil, &APIError{StatusCode: 400, Message: "Invalid pageToken"}
		}
	}
	size := opts.MaxResults
	if size <= 0 {
		size = 100
	}

	q := search.Parse(opts.Query)
	includeSpamTrash := slices.Contains(opts.LabelIDs, LabelSpam) || slices.Contains(opts.LabelIDs, LabelTrash) ||
		slices.Contains(q.Labels, LabelSpam) || slices.Contains(q.Labels, LabelTrash)

	var matched []*Message
	for _, msg := range m.Messages {
		if !hasAllLabels(msg, opts.LabelIDs) {
			continue
		}
		if !includeSpamTrash && (msg.HasLabel(LabelSpam) || msg.HasLabel(LabelTrash)) {
			continue
		}
		if !Matches(msg, q) {
			continue
		}
		matched = append(matched, msg)
	}
	slices.SortFunc(matched, func(a, b *Message) int {
		if c := cmp.Compare(b.InternalDate, a.InternalDate); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})

	resp := &MessageListResponse{ResultSizeEstimate: int64(len(matched))}
	if offset >= len(matched) {
		return resp, nil
	}
	end := min(offset+size, len(matched))
	for _, msg := range matched[offset:end] {
		resp.Messages = append(resp.Messages, MessageID{ID: msg.ID, ThreadID: msg.ThreadID})
	}
	if end < len(matched) {
		resp.NextPageToken = fmt.Sprintf("page_%d", end)
	}
	return resp, nil
}

func hasAllLabels(msg *Message, labelIDs []string) bool {
	for _, id := range labelIDs {
		if !msg.HasLabel(id) {
			return false
		}
	}
	return true
}

// Matches reports whether msg satisfies every criterion of q. Text terms
// match case-insensitively against subject, addresses, snippet and body.
func Matches(msg *Message, q *search.Query) bool {
	haystack := strings.ToLower(strings.Join([]string{
		msg.Header("subject"), msg.Header("from"), msg.Header("to"), msg.Header("cc"),
		msg.Snippet, msg.BodyText,
	}, "\n"))
	containsFold := func(s, sub string) bool {
		return strings.Contains(strings.ToLower(s), strings.ToLower(sub))
	}

	for _, term := range q.TextTerms {
		if !strings.Contains(haystack, strings.ToLower(term)) {
			return false
		}
	}
	for _, term := range q.ExcludeTerms {
		if strings.Contains(haystack, strings.ToLower(term)) {
			return false
		}
	}
	for _, addr := range q.FromAddrs {
		if !containsFold(msg.Header("from"), addr) {
			return false
		}
	}
	for _, addr := range q.ToAddrs {
		if !containsFold(msg.Header("to"), addr) {
			return false
		}
	}
	for _, addr := range q.CcAddrs {
		if !containsFold(msg.Header("cc"), addr) {
			return false
		}
	}
	for _, term := range q.SubjectTerms {
		if !containsFold(msg.Header("subject"), term) {
			return false
		}
	}
	for _, l := range q.Labels {
		if !msg.HasLabel(l) {
			return false
		}
	}
	for _, l := range q.ExcludeLabels {
		if msg.HasLabel(l) {
			return false
		}
	}
	if q.HasAttachment != nil && (len(msg.Attachments) > 0) != *q.HasAttachment {
		return false
	}
	if q.Starred != nil && msg.HasLabel(LabelStarred) != *q.Starred {
		return false
	}
	sent := time.UnixMilli(msg.InternalDate)
	if q.AfterDate != nil && sent.Before(*q.AfterDate) {
		return false
	}
	if q.BeforeDate != nil && !sent.Before(*q.BeforeDate) {
		return false
	}
	if q.LargerThan != nil && msg.SizeEstimate <= *q.LargerThan {
		return false
	}
	if q.SmallerThan != nil && msg.SizeEstimate >= *q.SmallerThan {
		return false
	}
	return true
}

// GetMessage returns a copy of a stored message.
func (m *MockAPI) GetMessage(ctx context.Context, messageID string) (*Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.GetMessageCalls = append(m.GetMessageCalls, messageID)

	if err := m.GetMessageError[messageID]; err != nil {
		return nil, err
	}
	msg, ok := m.Messages[messageID]
	if !ok {
		return nil, &NotFoundError{Path: "/messages/" + messageID}
	}
	cp := *msg
	cp.LabelIDs = slices.Clone(msg.LabelIDs)
	cp.Attachments = slices.Clone(msg.Attachments)
	return &cp, nil
}

// GetMessagesBatch mirrors Client: vanished messages leave nil entries and
// other failures fail the batch.
func (m *MockAPI) GetMessagesBatch(ctx context.Context, messageIDs []string) ([]*Message, error) {
	results := make([]*Message, len(messageIDs))
	for i, id := range messageIDs {
		msg, err := m.GetMessage(ctx, id)
		if err != nil {
			if StatusCode(err) == 404 {
				continue
			}
			return nil, fmt.Errorf("get message %s: %w", id, err)
		}
		results[i] = msg
	}
	return results, nil
}

// GetAttachment returns stored attachment content.
func (m *MockAPI) GetAttachment(ctx context.Context, messageID, attachmentID string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.AttachmentData[messageID+"/"+attachmentID]
	if !ok {
		return nil, &NotFoundError{Path: "/messages/" + messageID + "/attachments/" + attachmentID}
	}
	return slices.Clone(data), nil
}

// BatchModify applies label changes. Unknown ids are ignored, as Gmail
// does.
func (m *MockAPI) BatchModify(ctx context.Context, messageIDs, add, remove []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ModifyCalls = append(m.ModifyCalls, ModifyCall{
		IDs: slices.Clone(messageIDs), Add: slices.Clone(add), Remove: slices.Clone(remove),
	})
	if m.ModifyError != nil {
		return m.ModifyError
	}
	if len(messageIDs) > maxBatchModify {
		return &APIError{StatusCode: 400, Message: "Too many ids"}
	}
	for _, id := range messageIDs {
		msg, ok := m.Messages[id]
		if !ok {
			continue
		}
		labels := slices.DeleteFunc(slices.Clone(msg.LabelIDs), func(l string) bool {
			return slices.Contains(remove, l)
		})
		for _, l := range add {
			if !slices.Contains(labels, l) {
				labels = append(labels, l)
			}
		}
		msg.LabelIDs = labels
	}
	return nil
}

// Send parses raw and files it under SENT.
func (m *MockAPI) Send(ctx context.Context, raw []byte) (*MessageID, error) {
	parsed, err := mime.Parse(raw)
	if err != nil {
		return nil, &APIError{StatusCode: 400, Message: "Invalid raw message: " + err.Error()}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.SentRaw = append(m.SentRaw, raw)
	if m.SendError != nil {
		return nil, m.SendError
	}

	m.nextID++
	id := fmt.Sprintf("sent_%04d", m.nextID)
	now := m.Now()
	msg := &Message{
		ID:           id,
		ThreadID:     id,
		LabelIDs:     []string{LabelSent},
		Snippet:      textutil.Snippet(parsed.BodyText, 100),
		InternalDate: now.UnixMilli(),
		SizeEstimate: int64(len(raw)),
		Headers: map[string]string{
			"from":    mime.JoinAddresses(parsed.From),
			"to":      mime.JoinAddresses(parsed.To),
			"cc":      mime.JoinAddresses(parsed.Cc),
			"subject": parsed.Subject,
			"date":    now.Format(time.RFC1123Z),
		},
		BodyText: parsed.BodyText,
		BodyHTML: parsed.BodyHTML,
	}
	for i, att := range parsed.Attachments {
		attID := fmt.Sprintf("att_%d", i+1)
		msg.Attachments = append(msg.Attachments, Attachment{
			Filename:     att.Filename,
			MimeType:     att.ContentType,
			Size:         int64(len(att.Content)),
			AttachmentID: attID,
			MessageID:    id,
		})
		m.AttachmentData[id+"/"+attID] = att.Content
	}
	m.Messages[id] = msg
	return &MessageID{ID: id, ThreadID: id}, nil
}

// Close is a no-op for the mock.
func (m *MockAPI) Close() error {
	return nil
}

var _ API = (*MockAPI)(nil)
