package mailbox

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
)

// fakeProvider is an in-memory Provider with error injection and call
// tracking.
type fakeProvider struct {
	mu sync.Mutex

	// Pages keyed by pageKey(folder, query, token).
	pages map[string]*Page

	listErr     error
	overview    *Overview
	overviewErr error
	bulkErr     error
	sendErr     error

	listCalls     []ListRequest
	overviewCalls int
	bulkCalls     []bulkCall
	sent          []ComposeDraft
}

type bulkCall struct {
	ids    []string
	action Action
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{pages: make(map[string]*Page)}
}

func pageKey(f Folder, query string, token Cursor) string {
	return fmt.Sprintf("%s|%s|%s", f.Key(), query, token)
}

func (p *fakeProvider) setPage(f Folder, query string, token Cursor, page *Page) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pages[pageKey(f, query, token)] = page
}

func (p *fakeProvider) ListMessages(ctx context.Context, mailbox string, req ListRequest) (*Page, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listCalls = append(p.listCalls, req)
	if p.listErr != nil {
		return nil, p.listErr
	}
	if page, ok := p.pages[pageKey(req.Folder, req.Query, req.PageToken)]; ok {
		return page, nil
	}
	return &Page{}, nil
}

func (p *fakeProvider) ListFolderCounts(ctx context.Context, mailbox string) (*Overview, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.overviewCalls++
	if p.overviewErr != nil {
		return nil, p.overviewErr
	}
	return p.overview, nil
}

func (p *fakeProvider) BulkUpdate(ctx context.Context, mailbox string, ids []string, action Action) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.bulkCalls = append(p.bulkCalls, bulkCall{ids: ids, action: action})
	if p.bulkErr != nil {
		return 0, p.bulkErr
	}
	return len(ids), nil
}

func (p *fakeProvider) SendMessage(ctx context.Context, mailbox string, draft ComposeDraft) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, draft)
	if p.sendErr != nil {
		return "", p.sendErr
	}
	return fmt.Sprintf("sent-%d", len(p.sent)), nil
}

func (p *fakeProvider) AttachmentURL(mailbox string, att AttachmentRef) string {
	return fmt.Sprintf("https://mail.test/%s/%s/%s", mailbox, att.MessageID, att.ID)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func threads(ids ...string) []ThreadSummary {
	out := make([]ThreadSummary, len(ids))
	for i, id := range ids {
		out[i] = ThreadSummary{ID: id, Subject: "subject " + id}
	}
	return out
}

func ids(ts []ThreadSummary) []string {
	out := make([]string, len(ts))
	for i, t := range ts {
		out[i] = t.ID
	}
	return out
}

// readySession returns a session whose first inbox page holds the given ids.
func readySession(p *fakeProvider, threadIDs ...string) *Session {
	p.setPage(FolderInbox, "", "", &Page{Threads: threads(threadIDs...), ResultSizeEstimate: int64(len(threadIDs))})
	s := NewSession("ops@example.com", p, WithLogger(testLogger()))
	s.Apply(s.Start().Run(context.Background()))
	return s
}
