package mailbox

import (
	"context"
	"log/slog"
	"sync/atomic"
)

// DefaultPageSize matches the provider gateway's default maxResults.
const DefaultPageSize = 25

// generations hands out fetch tags. They are unique across sessions, so a
// result from a closed session never matches the session opened after it.
var generations atomic.Uint64

func nextGeneration() uint64 { return generations.Add(1) }

// State is the thread-list load state of a Session.
type State int

const (
	StateIdle State = iota
	StateLoading
	StateReady
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Option configures a Session.
type Option func(*Session)

// WithPageSize sets the number of threads requested per page.
func WithPageSize(n int) Option {
	return func(s *Session) {
		if n > 0 {
			s.pageSize = n
		}
	}
}

// WithLogger sets the logger for the session.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Session) {
		s.logger = logger
	}
}

// Session is the folder/query/pagination state of one open mailbox.
// Folder, committed query and cursor change together: switching folder or
// committing a new query always resets paging and selection.
//
// Every page fetch is tagged with a generation at dispatch time.
// Generations are never reused by any session. Results from superseded
// generations are dropped by Apply, so the last request wins regardless of
// response order.
type Session struct {
	mailbox  string
	provider Provider
	logger   *slog.Logger
	pageSize int

	folder      Folder
	rawText     string
	filters     FilterSet
	activeQuery string
	cursor      CursorStack
	threads     ThreadCollection
	total       int64

	state       State
	err         error
	generation  uint64
	cancelFetch context.CancelFunc

	overview        *Overview
	overviewErr     error
	overviewGen     uint64
	overviewLoading bool
	cancelOverview  context.CancelFunc

	bulkErr error
	closed  bool
}

// NewSession creates an idle session for mailbox positioned on the first
// folder with no query. Call Start to issue the first fetch.
func NewSession(mailbox string, provider Provider, opts ...Option) *Session {
	s := &Session{
		mailbox:  mailbox,
		provider: provider,
		logger:   slog.Default(),
		pageSize: DefaultPageSize,
		folder:   Folders()[0],
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Fetch is a deferred page load. Run it off the owning goroutine and hand
// the result back to Session.Apply.
type Fetch struct {
	Generation uint64
	Mailbox    string
	Request    ListRequest

	lister     Lister
	superseded context.Context
}

// PageResult is the outcome of a Fetch.
type PageResult struct {
	Generation uint64
	Page       *Page
	Err        error
}

// Run performs the provider call. The call is cancelled if the session
// dispatches a newer fetch before it completes.
func (f *Fetch) Run(ctx context.Context) PageResult {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(f.superseded, cancel)
	defer stop()

	page, err := f.lister.ListMessages(ctx, f.Mailbox, f.Request)
	if err == nil && page == nil {
		page = &Page{}
	}
	return PageResult{Generation: f.Generation, Page: page, Err: err}
}

// Start issues the first fetch of an idle session.
func (s *Session) Start() *Fetch {
	if s.closed || s.state != StateIdle {
		return nil
	}
	return s.dispatch()
}

// SelectFolder switches folder. Threads, selection, cursor and the active
// query are all reset. Selecting the current folder is a no-op.
func (s *Session) SelectFolder(f Folder) *Fetch {
	if s.closed || !f.Valid() {
		return nil
	}
	if f == s.folder && s.state != StateIdle {
		return nil
	}
	s.folder = f
	s.rawText = ""
	s.filters = FilterSet{}
	s.activeQuery = ""
	s.cursor.Reset()
	s.threads.Clear()
	s.total = 0
	return s.dispatch()
}

// CommitQuery builds the query from text and filters and fetches its first
// page. An unchanged query is a no-op.
//
// Only the selection is cleared. The previous rows and the open thread stay
// visible and actionable until the new page arrives. A bulk change made in
// that window settles as stale if it fails after the new page is installed.
func (s *Session) CommitQuery(text string, filters FilterSet) *Fetch {
	if s.closed {
		return nil
	}
	q := BuildQuery(text, filters)
	if q == s.activeQuery && s.state != StateIdle {
		return nil
	}
	s.rawText = text
	s.filters = filters
	s.activeQuery = q
	s.cursor.Reset()
	s.threads.ClearSelection()
	return s.dispatch()
}

// ClearQuery drops the active query and filters.
func (s *Session) ClearQuery() *Fetch {
	return s.CommitQuery("", FilterSet{})
}

// NextPage fetches the page after the current one. It returns
// ErrNoNextPage when the provider reported no further page.
func (s *Session) NextPage() (*Fetch, error) {
	if s.closed {
		return nil, nil
	}
	if _, err := s.cursor.Advance(); err != nil {
		return nil, err
	}
	return s.dispatch(), nil
}

// PrevPage fetches the previous page, or returns nil on the first page.
func (s *Session) PrevPage() *Fetch {
	if s.closed {
		return nil
	}
	if _, ok := s.cursor.Retreat(); !ok {
		return nil
	}
	return s.dispatch()
}

// Refresh re-fetches the current page. It is the retry path after an error.
func (s *Session) Refresh() *Fetch {
	if s.closed {
		return nil
	}
	return s.dispatch()
}

// Close ends the session. In-flight fetches are cancelled and every later
// result is discarded.
func (s *Session) Close() {
	if s.closed {
		return
	}
	s.closed = true
	s.generation = nextGeneration()
	s.overviewGen = nextGeneration()
	if s.cancelFetch != nil {
		s.cancelFetch()
		s.cancelFetch = nil
	}
	if s.cancelOverview != nil {
		s.cancelOverview()
		s.cancelOverview = nil
	}
	s.threads.Clear()
	s.state = StateIdle
}

func (s *Session) dispatch() *Fetch {
	if s.cancelFetch != nil {
		s.cancelFetch()
	}
	s.generation = nextGeneration()
	ctx, cancel := context.WithCancel(context.Background())
	s.cancelFetch = cancel
	s.state = StateLoading
	s.err = nil

	f := &Fetch{
		Generation: s.generation,
		Mailbox:    s.mailbox,
		Request: ListRequest{
			Folder:    s.folder,
			Query:     s.activeQuery,
			PageToken: s.cursor.Current(),
			PageSize:  s.pageSize,
		},
		lister:     s.provider,
		superseded: ctx,
	}
	s.logger.Debug("dispatch page fetch",
		"mailbox", s.mailbox,
		"generation", f.Generation,
		"folder", s.folder.Key(),
		"query", s.activeQuery,
		"page", s.cursor.Page())
	return f
}

// Apply installs a fetch result. It returns false, changing nothing, when
// the result belongs to a superseded generation.
func (s *Session) Apply(r PageResult) bool {
	if s.closed || r.Generation != s.generation {
		s.logger.Debug("discard stale page", "mailbox", s.mailbox,
			"generation", r.Generation, "current", s.generation)
		return false
	}
	if s.cancelFetch != nil {
		s.cancelFetch()
		s.cancelFetch = nil
	}

	if r.Err != nil {
		s.threads.Clear()
		s.cursor.SetNext("")
		s.total = 0
		s.state = StateError
		s.err = r.Err
		s.logger.Warn("page fetch failed", "mailbox", s.mailbox, "error", r.Err)
		return true
	}

	page := r.Page
	if page == nil {
		page = &Page{}
	}
	s.threads.Replace(page.Threads)
	s.cursor.SetNext(page.NextPageToken)
	s.total = page.ResultSizeEstimate
	s.state = StateReady
	s.err = nil
	return true
}

// OverviewFetch is a deferred folder-count load.
type OverviewFetch struct {
	Generation uint64
	Mailbox    string

	src        Overviewer
	superseded context.Context
}

// OverviewResult is the outcome of an OverviewFetch.
type OverviewResult struct {
	Generation uint64
	Overview   *Overview
	Err        error
}

// Run performs the provider call.
func (f *OverviewFetch) Run(ctx context.Context) OverviewResult {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(f.superseded, cancel)
	defer stop()

	ov, err := f.src.ListFolderCounts(ctx, f.Mailbox)
	return OverviewResult{Generation: f.Generation, Overview: ov, Err: err}
}

// LoadOverview dispatches a folder-count fetch. It is tracked separately
// from the thread list and its failure does not affect it.
func (s *Session) LoadOverview() *OverviewFetch {
	if s.closed {
		return nil
	}
	if s.cancelOverview != nil {
		s.cancelOverview()
	}
	s.overviewGen = nextGeneration()
	ctx, cancel := context.WithCancel(context.Background())
	s.cancelOverview = cancel
	s.overviewLoading = true
	s.overviewErr = nil
	return &OverviewFetch{
		Generation: s.overviewGen,
		Mailbox:    s.mailbox,
		src:        s.provider,
		superseded: ctx,
	}
}

// ApplyOverview installs an overview result, dropping superseded ones.
func (s *Session) ApplyOverview(r OverviewResult) bool {
	if s.closed || r.Generation != s.overviewGen {
		return false
	}
	if s.cancelOverview != nil {
		s.cancelOverview()
		s.cancelOverview = nil
	}
	s.overviewLoading = false
	if r.Err != nil {
		s.overviewErr = r.Err
		s.logger.Warn("overview fetch failed", "mailbox", s.mailbox, "error", r.Err)
		return true
	}
	s.overview = r.Overview
	s.overviewErr = nil
	return true
}

// Mailbox is the mailbox address this session is bound to.
func (s *Session) Mailbox() string { return s.mailbox }

// Folder is the active folder.
func (s *Session) Folder() Folder { return s.folder }

// ActiveQuery is the last committed query string.
func (s *Session) ActiveQuery() string { return s.activeQuery }

// RawText is the free text of the last committed query.
func (s *Session) RawText() string { return s.rawText }

// Filters are the structured filters of the last committed query.
func (s *Session) Filters() FilterSet { return s.filters }

// State is the thread-list load state.
func (s *Session) State() State { return s.state }

// Loading reports whether a page fetch is in flight.
func (s *Session) Loading() bool { return s.state == StateLoading }

// Closed reports whether Close has been called.
func (s *Session) Closed() bool { return s.closed }

// Err is the thread-list error, if the last fetch failed.
func (s *Session) Err() error { return s.err }

// ErrorMessage is the display form of Err.
func (s *Session) ErrorMessage() string {
	return Humanize("Unable to load messages", s.err)
}

// Threads returns the loaded threads.
func (s *Session) Threads() []ThreadSummary { return s.threads.All() }

// Collection exposes the thread collection for selection changes.
func (s *Session) Collection() *ThreadCollection { return &s.threads }

// OpenThread returns the open thread, if any.
func (s *Session) OpenThread() (ThreadSummary, bool) { return s.threads.OpenThread() }

// Selected returns the selected thread ids in list order.
func (s *Session) Selected() []string { return s.threads.Selected() }

// IsSelected reports whether id is selected.
func (s *Session) IsSelected(id string) bool { return s.threads.IsSelected(id) }

// Page is the 1-based page index.
func (s *Session) Page() int { return s.cursor.Page() }

// HasNext reports whether a next page exists.
func (s *Session) HasNext() bool { return s.cursor.HasNext() }

// HasPrev reports whether a previous page exists.
func (s *Session) HasPrev() bool { return s.cursor.HasPrev() }

// Cursor returns a copy of the cursor stack.
func (s *Session) Cursor() CursorStack { return s.cursor }

// Total is the provider's result size estimate for the active query.
func (s *Session) Total() int64 { return s.total }

// Range is the display range of the visible page.
func (s *Session) Range() PageRange {
	return s.cursor.Range(s.pageSize, s.threads.Len(), s.total)
}

// PageSize is the number of threads requested per page.
func (s *Session) PageSize() int { return s.pageSize }

// Generation is the tag of the most recently dispatched page fetch.
func (s *Session) Generation() uint64 { return s.generation }

// Overview is the last successfully loaded overview.
func (s *Session) Overview() *Overview { return s.overview }

// OverviewLoading reports whether an overview fetch is in flight.
func (s *Session) OverviewLoading() bool { return s.overviewLoading }

// OverviewError is the display form of the last overview failure.
func (s *Session) OverviewError() string {
	return Humanize("Unable to load folder counts", s.overviewErr)
}

// BulkError is the display form of the last bulk failure.
func (s *Session) BulkError() string {
	return Humanize("Update failed", s.bulkErr)
}

// AttachmentURL returns the download URL for an attachment of this mailbox.
func (s *Session) AttachmentURL(att AttachmentRef) string {
	return s.provider.AttachmentURL(s.mailbox, att)
}
