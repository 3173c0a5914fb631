package mailbox

import (
	"slices"
	"time"
)

// AttachmentRef points at an attachment of a listed message. Content is
// fetched lazily via the provider's attachment URL.
type AttachmentRef struct {
	ID        string
	MessageID string
	Filename  string
	MimeType  string
	Size      int64
}

// ThreadSummary is one row of the thread list.
type ThreadSummary struct {
	ID             string
	From           string
	To             string
	Cc             string
	Subject        string
	Snippet        string
	Date           string // provider's Date header, verbatim
	Timestamp      time.Time
	Starred        bool
	HasAttachments bool
	LabelIDs       []string
	Attachments    []AttachmentRef
	BodyText       string
	BodyHTML       string
}

// ThreadCollection is the loaded page of threads plus the multi-select set
// and the open thread. When OpenID is non-empty it names a loaded thread.
type ThreadCollection struct {
	threads  []ThreadSummary
	selected map[string]bool
	openID   string
	version  uint64 // bumped on every Replace/Clear
}

// Replace swaps in a freshly fetched page. Selection is cleared. The open
// thread is kept if still present, otherwise the first thread is opened.
func (c *ThreadCollection) Replace(threads []ThreadSummary) {
	c.threads = slices.Clone(threads)
	c.selected = nil
	c.version++
	if c.openID != "" && c.indexOf(c.openID) >= 0 {
		return
	}
	c.openID = ""
	if len(c.threads) > 0 {
		c.openID = c.threads[0].ID
	}
}

// Clear empties the collection, the selection and the open thread.
func (c *ThreadCollection) Clear() {
	c.threads = nil
	c.selected = nil
	c.openID = ""
	c.version++
}

// ToggleSelect adds (included=true) or removes id from the selection.
// Ids not in the collection are ignored.
func (c *ThreadCollection) ToggleSelect(id string, included bool) {
	if !included {
		delete(c.selected, id)
		return
	}
	if c.indexOf(id) < 0 {
		return
	}
	if c.selected == nil {
		c.selected = make(map[string]bool)
	}
	c.selected[id] = true
}

// ToggleSelectAll selects every loaded thread, or clears the selection if
// every loaded thread is already selected. Selection never spans pages.
func (c *ThreadCollection) ToggleSelectAll() {
	if c.AllSelected() {
		c.selected = nil
		return
	}
	c.selected = make(map[string]bool, len(c.threads))
	for _, t := range c.threads {
		c.selected[t.ID] = true
	}
}

// AllSelected reports whether the collection is non-empty and fully selected.
func (c *ThreadCollection) AllSelected() bool {
	if len(c.threads) == 0 {
		return false
	}
	for _, t := range c.threads {
		if !c.selected[t.ID] {
			return false
		}
	}
	return true
}

// ClearSelection empties the multi-select set.
func (c *ThreadCollection) ClearSelection() {
	c.selected = nil
}

// Open makes id the open thread. Unknown ids are rejected.
func (c *ThreadCollection) Open(id string) bool {
	if c.indexOf(id) < 0 {
		return false
	}
	c.openID = id
	return true
}

// CloseThread clears the open thread.
func (c *ThreadCollection) CloseThread() {
	c.openID = ""
}

// Targets resolves the ids a bulk action applies to: the explicit
// selection when non-empty, else the open thread, else nothing.
func (c *ThreadCollection) Targets() []string {
	if sel := c.Selected(); len(sel) > 0 {
		return sel
	}
	if c.openID != "" {
		return []string{c.openID}
	}
	return nil
}

// Selected returns the selected ids in collection order.
func (c *ThreadCollection) Selected() []string {
	if len(c.selected) == 0 {
		return nil
	}
	out := make([]string, 0, len(c.selected))
	for _, t := range c.threads {
		if c.selected[t.ID] {
			out = append(out, t.ID)
		}
	}
	return out
}

// IsSelected reports whether id is in the selection.
func (c *ThreadCollection) IsSelected(id string) bool { return c.selected[id] }

// SelectedCount is the size of the selection.
func (c *ThreadCollection) SelectedCount() int { return len(c.selected) }

// OpenID is the open thread id, or "".
func (c *ThreadCollection) OpenID() string { return c.openID }

// OpenThread returns the open thread, if any.
func (c *ThreadCollection) OpenThread() (ThreadSummary, bool) {
	if c.openID == "" {
		return ThreadSummary{}, false
	}
	return c.Find(c.openID)
}

// Find looks up a loaded thread by id.
func (c *ThreadCollection) Find(id string) (ThreadSummary, bool) {
	if i := c.indexOf(id); i >= 0 {
		return c.threads[i], true
	}
	return ThreadSummary{}, false
}

// Len is the number of loaded threads.
func (c *ThreadCollection) Len() int { return len(c.threads) }

// All returns a copy of the loaded threads in order.
func (c *ThreadCollection) All() []ThreadSummary { return slices.Clone(c.threads) }

func (c *ThreadCollection) indexOf(id string) int {
	if id == "" {
		return -1
	}
	return slices.IndexFunc(c.threads, func(t ThreadSummary) bool { return t.ID == id })
}

// removedThread remembers where a removed thread sat so it can be restored.
type removedThread struct {
	index    int
	thread   ThreadSummary
	selected bool
}

// remove drops ids from the collection and the selection. If the open
// thread is removed the open slot is left empty.
func (c *ThreadCollection) remove(ids []string) (removed []removedThread, openRemoved bool) {
	targets := make(map[string]bool, len(ids))
	for _, id := range ids {
		targets[id] = true
	}
	kept := make([]ThreadSummary, 0, len(c.threads))
	for i, t := range c.threads {
		if !targets[t.ID] {
			kept = append(kept, t)
			continue
		}
		removed = append(removed, removedThread{index: i, thread: t, selected: c.selected[t.ID]})
		delete(c.selected, t.ID)
	}
	c.threads = kept
	if targets[c.openID] {
		c.openID = ""
		openRemoved = true
	}
	return removed, openRemoved
}

// restore re-inserts removed threads at their original positions.
func (c *ThreadCollection) restore(removed []removedThread) {
	for _, r := range removed {
		if c.indexOf(r.thread.ID) >= 0 {
			continue
		}
		idx := min(r.index, len(c.threads))
		c.threads = slices.Insert(c.threads, idx, r.thread)
		if r.selected {
			if c.selected == nil {
				c.selected = make(map[string]bool)
			}
			c.selected[r.thread.ID] = true
		}
	}
}

// setStarred flips the starred flag on the given ids and returns the
// previous value of every thread it touched.
func (c *ThreadCollection) setStarred(ids []string, starred bool) map[string]bool {
	prev := make(map[string]bool, len(ids))
	for _, id := range ids {
		if i := c.indexOf(id); i >= 0 {
			prev[id] = c.threads[i].Starred
			c.threads[i].Starred = starred
		}
	}
	return prev
}

func (c *ThreadCollection) restoreStarred(prev map[string]bool) {
	for id, starred := range prev {
		if i := c.indexOf(id); i >= 0 {
			c.threads[i].Starred = starred
		}
	}
}
