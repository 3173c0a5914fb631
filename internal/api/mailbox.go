package api

import (
	"context"
	"encoding/base64"
	"errors"
	"mime"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"github.com/mailroom/mailroom/internal/gmail"
	"github.com/mailroom/mailroom/internal/mailbox"
	mailmime "github.com/mailroom/mailroom/internal/mime"
)

// folderSource says how a folder maps onto Gmail: by label, or by query
// with the count taken from the profile total.
type folderSource struct {
	labelID      string
	query        string
	profileTotal bool
}

var folderSources = map[mailbox.Folder]folderSource{
	mailbox.FolderInbox:   {labelID: gmail.LabelInbox},
	mailbox.FolderSent:    {labelID: gmail.LabelSent},
	mailbox.FolderDrafts:  {labelID: gmail.LabelDraft},
	mailbox.FolderStarred: {labelID: gmail.LabelStarred},
	mailbox.FolderSpam:    {labelID: gmail.LabelSpam},
	mailbox.FolderDeleted: {labelID: gmail.LabelTrash},
	mailbox.FolderArchive: {query: mailbox.FolderArchive.Fragment(), profileTotal: true},
}

// labelChanges returns the labels a bulk action adds and removes.
func labelChanges(a mailbox.Action) (add, remove []string) {
	switch a {
	case mailbox.ActionArchive:
		return nil, []string{gmail.LabelInbox}
	case mailbox.ActionDelete:
		return []string{gmail.LabelTrash}, []string{gmail.LabelInbox}
	case mailbox.ActionStar:
		return []string{gmail.LabelStarred}, nil
	case mailbox.ActionUnstar:
		return nil, []string{gmail.LabelStarred}
	}
	return nil, nil
}

// LabelJSON is one label in the overview response.
type LabelJSON struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Type          string `json:"type"`
	MessagesTotal *int64 `json:"messagesTotal"`
}

// OverviewResponse is returned by the overview endpoint.
type OverviewResponse struct {
	Labels []LabelJSON       `json:"labels"`
	Counts map[string]int64 `json:"counts"`
}

// AttachmentJSON describes a downloadable attachment.
type AttachmentJSON struct {
	Filename     string `json:"filename"`
	MimeType     string `json:"mimeType"`
	Size         int64  `json:"size"`
	AttachmentID string `json:"attachmentId"`
	MessageID    string `json:"messageId"`
}

// MessageJSON is one message in a list response.
type MessageJSON struct {
	ID             string           `json:"id"`
	ThreadID       string           `json:"threadId"`
	Snippet        string           `json:"snippet"`
	Subject        string           `json:"subject"`
	From           string           `json:"from"`
	To             string           `json:"to"`
	Cc             string           `json:"cc"`
	Date           string           `json:"date"`
	InternalDate   int64            `json:"internalDate"`
	LabelIDs       []string         `json:"labelIds"`
	Attachments    []AttachmentJSON `json:"attachments"`
	HasAttachments bool             `json:"hasAttachments"`
	BodyHTML       string           `json:"bodyHtml"`
	BodyPlain      string           `json:"bodyPlain"`
	IsStarred      bool             `json:"isStarred"`
}

// MessagesResponse is one page of messages.
type MessagesResponse struct {
	Messages           []MessageJSON `json:"messages"`
	NextPageToken      string        `json:"nextPageToken,omitempty"`
	ResultSizeEstimate int64         `json:"resultSizeEstimate"`
}

// BulkRequest is the body of the bulk endpoint.
type BulkRequest struct {
	MessageIDs []string `json:"messageIds" validate:"required,min=1,dive,required"`
	Action     string   `json:"action"`
}

// BulkResponse reports how many messages were submitted for change.
type BulkResponse struct {
	Updated int `json:"updated"`
}

// OutgoingAttachment is an attachment in a send request.
type OutgoingAttachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"contentType"`
	Data        string `json:"data"` // standard base64
}

// SendRequest is the body of the send endpoint.
type SendRequest struct {
	To          string               `json:"to" validate:"required"`
	Cc          string               `json:"cc"`
	Bcc         string               `json:"bcc"`
	Subject     string               `json:"subject" validate:"required"`
	Body        string               `json:"body" validate:"required"`
	Attachments []OutgoingAttachment `json:"attachments"`
}

// SendResponse carries the provider id of the sent message.
type SendResponse struct {
	MessageID string `json:"messageId"`
}

const noSubject = "(No subject)"

// mailboxAPI resolves the {email} route parameter to a Gmail client.
func (s *Server) mailboxAPI(w http.ResponseWriter, r *http.Request) (string, gmail.API, bool) {
	raw := chi.URLParam(r, "email")
	address, err := url.PathUnescape(raw)
	if err != nil {
		address = raw
	}
	address = strings.TrimSpace(address)
	if address == "" {
		writeError(w, http.StatusBadRequest, "Email is required.")
		return "", nil, false
	}
	api, err := s.clients.ForMailbox(r.Context(), address)
	if err != nil {
		s.writeUpstreamError(w, err, "open mailbox", address)
		return "", nil, false
	}
	return address, api, true
}

// writeUpstreamError maps Gmail failures onto the upstream status. Client
// errors pass through; server errors become 502.
func (s *Server) writeUpstreamError(w http.ResponseWriter, err error, op, address string) {
	if status := gmail.StatusCode(err); status != 0 {
		if status >= 500 {
			status = http.StatusBadGateway
		}
		s.logger.Warn("gmail error", "op", op, "mailbox", address, "status", status, "error", err)
		writeError(w, status, "Gmail API error: "+err.Error())
		return
	}
	if errors.Is(err, context.DeadlineExceeded) {
		writeError(w, http.StatusGatewayTimeout, "Gmail API error: request timed out")
		return
	}
	s.logger.Error("unexpected error", "op", op, "mailbox", address, "error", err)
	writeError(w, http.StatusInternalServerError, "Unexpected error: "+err.Error())
}

func (s *Server) handleOverview(w http.ResponseWriter, r *http.Request) {
	address, api, ok := s.mailboxAPI(w, r)
	if !ok {
		return
	}
	resp, err := folderOverview(r.Context(), api)
	if err != nil {
		s.writeUpstreamError(w, err, "overview", address)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// folderOverview lists labels, fills in totals the list call omitted, and
// derives the per-folder counts.
func folderOverview(ctx context.Context, api gmail.API) (*OverviewResponse, error) {
	labels, err := api.ListLabels(ctx)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*gmail.Label, len(labels))
	for _, l := range labels {
		byID[l.ID] = l
	}

	var missing []string
	for _, src := range folderSources {
		if src.labelID == "" {
			continue
		}
		if l, ok := byID[src.labelID]; !ok || l.MessagesTotal == nil {
			missing = append(missing, src.labelID)
		}
	}
	slices.Sort(missing)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, id := range missing {
		g.Go(func() error {
			l, err := api.GetLabel(gctx, id)
			if err != nil {
				var nf *gmail.NotFoundError
				if errors.As(err, &nf) {
					return nil
				}
				return err
			}
			mu.Lock()
			byID[id] = l
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	profile, err := api.GetProfile(ctx)
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int64, len(folderSources))
	for f, src := range folderSources {
		switch {
		case src.profileTotal:
			counts[f.Key()] = profile.MessagesTotal
		default:
			if l, ok := byID[src.labelID]; ok && l.MessagesTotal != nil {
				counts[f.Key()] = *l.MessagesTotal
			} else {
				counts[f.Key()] = 0
			}
		}
	}

	out := make([]LabelJSON, 0, len(labels))
	for _, l := range labels {
		lj := LabelJSON{ID: l.ID, Name: l.Name, Type: l.Type}
		if detail, ok := byID[l.ID]; ok {
			lj.MessagesTotal = detail.MessagesTotal
		}
		out = append(out, lj)
	}
	return &OverviewResponse{Labels: out, Counts: counts}, nil
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	folderKey := q.Get("folder")
	if folderKey == "" {
		folderKey = mailbox.FolderInbox.Key()
	}
	folder, err := mailbox.ParseFolder(folderKey)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Unsupported folder")
		return
	}

	pageSize := s.cfg.Gmail.PageSize
	if v := q.Get("maxResults"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "maxResults must be a number.")
			return
		}
		if n > 0 {
			pageSize = n
		}
	}
	pageSize = min(pageSize, s.cfg.Gmail.MaxPageSize)

	address, api, ok := s.mailboxAPI(w, r)
	if !ok {
		return
	}

	query := strings.TrimSpace(q.Get("query"))
	// A folder filter in the query replaces the open folder's scope.
	if scoped, ok := mailbox.QueryFolder(query); ok {
		folder = scoped
	}
	src := folderSources[folder]
	opts := gmail.ListOptions{
		Query:      strings.TrimSpace(src.query + " " + query),
		PageToken:  q.Get("pageToken"),
		MaxResults: pageSize,
	}
	if src.labelID != "" {
		opts.LabelIDs = []string{src.labelID}
	}

	list, err := api.ListMessages(r.Context(), opts)
	if err != nil {
		s.writeUpstreamError(w, err, "list messages", address)
		return
	}
	ids := make([]string, len(list.Messages))
	for i, m := range list.Messages {
		ids[i] = m.ID
	}
	msgs, err := api.GetMessagesBatch(r.Context(), ids)
	if err != nil {
		s.writeUpstreamError(w, err, "get messages", address)
		return
	}

	resp := MessagesResponse{
		Messages:           make([]MessageJSON, 0, len(msgs)),
		NextPageToken:      list.NextPageToken,
		ResultSizeEstimate: list.ResultSizeEstimate,
	}
	for _, m := range msgs {
		if m == nil {
			continue // deleted since listing
		}
		resp.Messages = append(resp.Messages, toMessageJSON(m))
	}
	writeJSON(w, http.StatusOK, resp)
}

func toMessageJSON(m *gmail.Message) MessageJSON {
	subject := m.Header("subject")
	if strings.TrimSpace(subject) == "" {
		subject = noSubject
	}
	atts := make([]AttachmentJSON, 0, len(m.Attachments))
	for _, a := range m.Attachments {
		atts = append(atts, AttachmentJSON{
			Filename:     a.Filename,
			MimeType:     a.MimeType,
			Size:         a.Size,
			AttachmentID: a.AttachmentID,
			MessageID:    m.ID,
		})
	}
	labels := m.LabelIDs
	if labels == nil {
		labels = []string{}
	}
	return MessageJSON{
		ID:             m.ID,
		ThreadID:       m.ThreadID,
		Snippet:        m.Snippet,
		Subject:        subject,
		From:           m.Header("from"),
		To:             m.Header("to"),
		Cc:             m.Header("cc"),
		Date:           m.Header("date"),
		InternalDate:   m.InternalDate,
		LabelIDs:       labels,
		Attachments:    atts,
		HasAttachments: len(atts) > 0,
		BodyHTML:       m.BodyHTML,
		BodyPlain:      m.BodyText,
		IsStarred:      m.HasLabel(gmail.LabelStarred),
	}
}

// maxBatchModify is Gmail's per-call id limit.
const maxBatchModify = 1000

func (s *Server) handleBulk(w http.ResponseWriter, r *http.Request) {
	var req BulkRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body.")
		return
	}
	if s.validationFailed(&req) {
		writeError(w, http.StatusBadRequest, "messageIds are required.")
		return
	}
	action, err := mailbox.ParseAction(strings.ToLower(strings.TrimSpace(req.Action)))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Unsupported action.")
		return
	}

	address, api, ok := s.mailboxAPI(w, r)
	if !ok {
		return
	}
	add, remove := labelChanges(action)
	for chunk := range slices.Chunk(req.MessageIDs, maxBatchModify) {
		if err := api.BatchModify(r.Context(), chunk, add, remove); err != nil {
			s.writeUpstreamError(w, err, "bulk "+action.String(), address)
			return
		}
	}
	s.logger.Info("bulk update", "mailbox", address, "action", action.String(), "count", len(req.MessageIDs))
	writeJSON(w, http.StatusOK, BulkResponse{Updated: len(req.MessageIDs)})
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	var req SendRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body.")
		return
	}
	req.To = strings.TrimSpace(req.To)
	req.Cc = strings.TrimSpace(req.Cc)
	req.Bcc = strings.TrimSpace(req.Bcc)
	req.Subject = strings.TrimSpace(req.Subject)
	req.Body = strings.TrimSpace(req.Body)
	if s.validationFailed(&req) {
		writeError(w, http.StatusBadRequest, "All fields are required.")
		return
	}

	address, api, ok := s.mailboxAPI(w, r)
	if !ok {
		return
	}

	raw, err := mailmime.Build(mailmime.Outgoing{
		From:        address,
		To:          req.To,
		Cc:          req.Cc,
		Bcc:         req.Bcc,
		Subject:     req.Subject,
		Text:        req.Body,
		Date:        s.now(),
		Attachments: decodeAttachments(req.Attachments),
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid message: "+err.Error())
		return
	}

	sent, err := api.Send(r.Context(), raw)
	if err != nil {
		s.writeUpstreamError(w, err, "send", address)
		return
	}
	s.logger.Info("message sent", "mailbox", address, "id", sent.ID)
	writeJSON(w, http.StatusOK, SendResponse{MessageID: sent.ID})
}

// decodeAttachments converts request attachments, skipping any without
// data or with data that is not valid base64.
func decodeAttachments(in []OutgoingAttachment) []mailmime.Attachment {
	var out []mailmime.Attachment
	for _, a := range in {
		if a.Data == "" {
			continue
		}
		content, err := base64.StdEncoding.DecodeString(a.Data)
		if err != nil {
			continue
		}
		name := a.Filename
		if name == "" {
			name = "attachment"
		}
		out = append(out, mailmime.Attachment{Filename: name, ContentType: a.ContentType, Content: content})
	}
	return out
}

func (s *Server) handleAttachment(w http.ResponseWriter, r *http.Request) {
	address, api, ok := s.mailboxAPI(w, r)
	if !ok {
		return
	}
	messageID := chi.URLParam(r, "messageId")
	attachmentID := chi.URLParam(r, "attachmentId")

	data, err := api.GetAttachment(r.Context(), messageID, attachmentID)
	if err != nil {
		s.writeUpstreamError(w, err, "attachment", address)
		return
	}
	if len(data) == 0 {
		writeError(w, http.StatusNotFound, "Attachment data unavailable.")
		return
	}

	filename := r.URL.Query().Get("filename")
	if filename == "" {
		filename = "attachment"
	}
	mimeType := r.URL.Query().Get("mimeType")
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", mimeType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": filename}))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
