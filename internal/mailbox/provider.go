package mailbox

import "context"

// ListRequest describes one page fetch.
type ListRequest struct {
	Folder    Folder
	Query     string
	PageToken Cursor
	PageSize  int
}

// Page is one page of listed threads.
type Page struct {
	Threads            []ThreadSummary
	NextPageToken      Cursor
	ResultSizeEstimate int64
}

// Label is a provider label as reported by the overview call.
type Label struct {
	ID            string
	Name          string
	Type          string
	MessagesTotal *int64
}

// Overview carries per-folder message counts and the mailbox's labels.
type Overview struct {
	Labels []Label
	Counts map[string]int64 // keyed by Folder.Key()
}

// Count returns the message count for f, or 0 when unknown.
func (o *Overview) Count(f Folder) int64 {
	if o == nil {
		return 0
	}
	return o.Counts[f.Key()]
}

// Lister lists threads for a mailbox folder.
type Lister interface {
	ListMessages(ctx context.Context, mailbox string, req ListRequest) (*Page, error)
}

// Overviewer reports folder counts.
type Overviewer interface {
	ListFolderCounts(ctx context.Context, mailbox string) (*Overview, error)
}

// Mutator applies a bulk action and reports how many messages changed.
type Mutator interface {
	BulkUpdate(ctx context.Context, mailbox string, ids []string, action Action) (int, error)
}

// Sender submits a compose draft and returns the provider's message id.
type Sender interface {
	SendMessage(ctx context.Context, mailbox string, draft ComposeDraft) (string, error)
}

// Provider is the remote mail API a Session talks to.
type Provider interface {
	Lister
	Overviewer
	Mutator
	Sender

	// AttachmentURL builds the download URL for an attachment. Nothing is
	// fetched.
	AttachmentURL(mailbox string, att AttachmentRef) string
}
