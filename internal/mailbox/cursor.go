package mailbox

import "errors"

// Cursor is an opaque page token issued by the provider. The empty string
// stands for "no token" (the first page, or no further page).
type Cursor string

// ErrNoNextPage is returned when advancing past the last known page.
var ErrNoNextPage = errors.New("no next page")

// CursorStack turns a forward-only page token API into bidirectional
// paging by remembering every cursor consumed on the way forward.
//
// The zero value is ready to use and positioned on page 1.
type CursorStack struct {
	current Cursor
	next    Cursor
	history []Cursor
	page    int // 0 means 1; kept zero-valued so the zero stack is initial
}

// Reset returns the stack to its initial state.
func (c *CursorStack) Reset() {
	c.current = ""
	c.next = ""
	c.history = nil
	c.page = 0
}

// SetNext records the next-page token reported by the most recent fetch.
func (c *CursorStack) SetNext(next Cursor) {
	c.next = next
}

// Advance moves to the next page and returns the cursor to fetch with.
// It fails with ErrNoNextPage when the last fetch reported no next token.
func (c *CursorStack) Advance() (Cursor, error) {
	if c.next == "" {
		return c.current, ErrNoNextPage
	}
	c.history = append(c.history, c.current)
	c.current = c.next
	c.next = ""
	c.page = c.Page() + 1
	return c.current, nil
}

// Retreat moves back one page. It reports false, leaving the stack
// untouched, when already on the first page.
func (c *CursorStack) Retreat() (Cursor, bool) {
	if len(c.history) == 0 {
		return c.current, false
	}
	last := len(c.history) - 1
	c.current = c.history[last]
	c.history = c.history[:last]
	c.next = ""
	c.page = c.Page() - 1
	return c.current, true
}

// Current is the cursor the visible page was (or is being) fetched with.
func (c *CursorStack) Current() Cursor { return c.current }

// Next is the token for the following page, if known.
func (c *CursorStack) Next() Cursor { return c.next }

// HasNext reports whether Advance would succeed.
func (c *CursorStack) HasNext() bool { return c.next != "" }

// HasPrev reports whether Retreat would succeed.
func (c *CursorStack) HasPrev() bool { return len(c.history) > 0 }

// Depth is the number of remembered cursors.
func (c *CursorStack) Depth() int { return len(c.history) }

// Page is the 1-based page index.
func (c *CursorStack) Page() int {
	if c.page < 1 {
		return 1
	}
	return c.page
}

// PageRange is the "start–end of total" label for the visible page.
type PageRange struct {
	Start int
	End   int
	Total int64
}

// Range computes the display range given the configured page size, the
// number of rows actually shown, and the provider's total estimate.
// An estimate smaller than the rows already seen is raised to End.
func (c *CursorStack) Range(pageSize, shown int, total int64) PageRange {
	if shown <= 0 {
		return PageRange{Total: max(total, 0)}
	}
	start := (c.Page()-1)*pageSize + 1
	end := start + shown - 1
	if total < int64(end) {
		total = int64(end)
	}
	return PageRange{Start: start, End: end, Total: total}
}
