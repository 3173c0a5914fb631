package provider

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/mail"
	"net/url"
	"strconv"
	"time"

	"github.com/mailroom/mailroom/internal/mailbox"
)

var _ mailbox.Provider = (*Client)(nil)

// Response types mirror the server's JSON.

type labelJSON struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Type          string `json:"type"`
	MessagesTotal *int64 `json:"messagesTotal"`
}

type overviewResponse struct {
	Labels []labelJSON       `json:"labels"`
	Counts map[string]int64 `json:"counts"`
}

type attachmentJSON struct {
	Filename     string `json:"filename"`
	MimeType     string `json:"mimeType"`
	Size         int64  `json:"size"`
	AttachmentID string `json:"attachmentId"`
	MessageID    string `json:"messageId"`
}

type messageJSON struct {
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
	Attachments    []attachmentJSON `json:"attachments"`
	HasAttachments bool             `json:"hasAttachments"`
	BodyHTML       string           `json:"bodyHtml"`
	BodyPlain      string           `json:"bodyPlain"`
	IsStarred      bool             `json:"isStarred"`
}

type messagesResponse struct {
	Messages           []messageJSON `json:"messages"`
	NextPageToken      string        `json:"nextPageToken"`
	ResultSizeEstimate int64         `json:"resultSizeEstimate"`
}

type bulkRequest struct {
	MessageIDs []string `json:"messageIds"`
	Action     string   `json:"action"`
}

type bulkResponse struct {
	Updated int `json:"updated"`
}

type outgoingAttachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"contentType"`
	Data        string `json:"data"`
}

type sendRequest struct {
	To          string               `json:"to"`
	Cc          string               `json:"cc,omitempty"`
	Bcc         string               `json:"bcc,omitempty"`
	Subject     string               `json:"subject"`
	Body        string               `json:"body"`
	Attachments []outgoingAttachment `json:"attachments,omitempty"`
}

type sendResponse struct {
	MessageID string `json:"messageId"`
}

// ListFolderCounts implements mailbox.Overviewer.
func (c *Client) ListFolderCounts(ctx context.Context, address string) (*mailbox.Overview, error) {
	var resp overviewResponse
	if err := c.doJSON(ctx, http.MethodGet, mailboxPath(address, "/overview"), nil, &resp); err != nil {
		return nil, err
	}
	ov := &mailbox.Overview{
		Labels: make([]mailbox.Label, 0, len(resp.Labels)),
		Counts: resp.Counts,
	}
	if ov.Counts == nil {
		ov.Counts = map[string]int64{}
	}
	for _, l := range resp.Labels {
		ov.Labels = append(ov.Labels, mailbox.Label{
			ID:            l.ID,
			Name:          l.Name,
			Type:          l.Type,
			MessagesTotal: l.MessagesTotal,
		})
	}
	return ov, nil
}

// ListMessages implements mailbox.Lister.
func (c *Client) ListMessages(ctx context.Context, address string, req mailbox.ListRequest) (*mailbox.Page, error) {
	params := url.Values{}
	params.Set("folder", req.Folder.Key())
	if req.PageSize > 0 {
		params.Set("maxResults", strconv.Itoa(req.PageSize))
	}
	if req.Query != "" {
		params.Set("query", req.Query)
	}
	if req.PageToken != "" {
		params.Set("pageToken", string(req.PageToken))
	}

	var resp messagesResponse
	path := mailboxPath(address, "/messages") + "?" + params.Encode()
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}

	page := &mailbox.Page{
		Threads:            make([]mailbox.ThreadSummary, 0, len(resp.Messages)),
		NextPageToken:      mailbox.Cursor(resp.NextPageToken),
		ResultSizeEstimate: resp.ResultSizeEstimate,
	}
	for _, m := range resp.Messages {
		page.Threads = append(page.Threads, toThread(m))
	}
	return page, nil
}

func toThread(m messageJSON) mailbox.ThreadSummary {
	t := mailbox.ThreadSummary{
		ID:             m.ID,
		From:           m.From,
		To:             m.To,
		Cc:             m.Cc,
		Subject:        m.Subject,
		Snippet:        m.Snippet,
		Date:           m.Date,
		Timestamp:      messageTime(m),
		Starred:        m.IsStarred,
		HasAttachments: m.HasAttachments || len(m.Attachments) > 0,
		LabelIDs:       m.LabelIDs,
		BodyText:       m.BodyPlain,
		BodyHTML:       m.BodyHTML,
	}
	for _, a := range m.Attachments {
		msgID := a.MessageID
		if msgID == "" {
			msgID = m.ID
		}
		t.Attachments = append(t.Attachments, mailbox.AttachmentRef{
			ID:        a.AttachmentID,
			MessageID: msgID,
			Filename:  a.Filename,
			MimeType:  a.MimeType,
			Size:      a.Size,
		})
	}
	return t
}

// messageTime prefers the provider's internal date and falls back to the
// Date header. The zero time means neither was usable.
func messageTime(m messageJSON) time.Time {
	if m.InternalDate > 0 {
		return time.UnixMilli(m.InternalDate).UTC()
	}
	if m.Date != "" {
		if t, err := mail.ParseDate(m.Date); err == nil {
			return t
		}
	}
	return time.Time{}
}

// BulkUpdate implements mailbox.Mutator.
func (c *Client) BulkUpdate(ctx context.Context, address string, ids []string, action mailbox.Action) (int, error) {
	var resp bulkResponse
	err := c.doJSON(ctx, http.MethodPost, mailboxPath(address, "/messages/bulk"), bulkRequest{
		MessageIDs: ids,
		Action:     action.String(),
	}, &resp)
	if err != nil {
		return 0, err
	}
	return resp.Updated, nil
}

// SendMessage implements mailbox.Sender. Attachment content is already
// base64 and is forwarded as is.
func (c *Client) SendMessage(ctx context.Context, address string, draft mailbox.ComposeDraft) (string, error) {
	req := sendRequest{
		To:      draft.To,
		Cc:      draft.Cc,
		Bcc:     draft.Bcc,
		Subject: draft.Subject,
		Body:    draft.Body,
	}
	for _, a := range draft.Attachments {
		req.Attachments = append(req.Attachments, outgoingAttachment{
			Filename:    a.Filename,
			ContentType: a.MimeType,
			Data:        a.Content,
		})
	}

	var resp sendResponse
	if err := c.doJSON(ctx, http.MethodPost, mailboxPath(address, "/send"), req, &resp); err != nil {
		return "", err
	}
	return resp.MessageID, nil
}

// AttachmentURL implements mailbox.Provider. The URL carries no
// credentials; FetchAttachment adds them.
func (c *Client) AttachmentURL(address string, att mailbox.AttachmentRef) string {
	params := url.Values{}
	if att.Filename != "" {
		params.Set("filename", att.Filename)
	}
	if att.MimeType != "" {
		params.Set("mimeType", att.MimeType)
	}
	u := c.baseURL + mailboxPath(address, "/attachments/"+url.PathEscape(att.MessageID)+"/"+url.PathEscape(att.ID))
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	return u
}

// FetchAttachment downloads an attachment and returns its bytes.
func (c *Client) FetchAttachment(ctx context.Context, address string, att mailbox.AttachmentRef) ([]byte, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "", nil)
	if err != nil {
		return nil, err
	}
	u, err := url.Parse(c.AttachmentURL(address, att))
	if err != nil {
		return nil, fmt.Errorf("attachment url: %w", err)
	}
	req.URL = u
	req.Header.Set("Accept", "*/*")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, handleErrorResponse(resp)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read attachment: %w", err)
	}
	return data, nil
}
