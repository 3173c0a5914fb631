// Package mailbox holds the view state of one open mailbox: the active
// folder and committed query, the paginated thread list with its selection,
// optimistic bulk mutations, and the compose draft.
//
// A Session is owned by a single goroutine (typically a UI event loop).
// Remote calls are returned to the caller as deferred work (Fetch, Mutation,
// Send) that may run anywhere; their results are fed back through Apply,
// Settle and friends on the owning goroutine.
package mailbox

import (
	"errors"
	"fmt"
	"strings"
)

// Folder is one of the fixed mailbox folders. The zero value is the inbox.
type Folder int

const (
	FolderInbox Folder = iota
	FolderSent
	FolderDrafts
	FolderStarred
	FolderArchive
	FolderSpam
	FolderDeleted
)

var folderInfo = [...]struct {
	key      string
	label    string
	fragment string
}{
	FolderInbox:   {"inbox", "Inbox", "in:inbox"},
	FolderSent:    {"sent", "Sent", "in:sent"},
	FolderDrafts:  {"drafts", "Drafts", "in:drafts"},
	FolderStarred: {"starred", "Starred", "is:starred"},
	FolderArchive: {"archive", "All Mail", "-in:trash -in:spam"},
	FolderSpam:    {"spam", "Spam", "in:spam"},
	FolderDeleted: {"deleted", "Trash", "in:trash"},
}

// ErrUnknownFolder is returned by ParseFolder for keys outside the folder set.
var ErrUnknownFolder = errors.New("unknown folder")

// Folders returns every folder in display order.
func Folders() []Folder {
	out := make([]Folder, len(folderInfo))
	for i := range folderInfo {
		out[i] = Folder(i)
	}
	return out
}

// ParseFolder resolves a folder key such as "inbox" or "deleted".
func ParseFolder(key string) (Folder, error) {
	key = strings.ToLower(strings.TrimSpace(key))
	for i, info := range folderInfo {
		if info.key == key {
			return Folder(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownFolder, key)
}

// Valid reports whether f is one of the defined folders.
func (f Folder) Valid() bool {
	return f >= 0 && int(f) < len(folderInfo)
}

// Key is the stable lowercase identifier used on the wire and in storage.
func (f Folder) Key() string {
	if !f.Valid() {
		return ""
	}
	return folderInfo[f].key
}

// Label is the human-readable folder name.
func (f Folder) Label() string {
	if !f.Valid() {
		return ""
	}
	return folderInfo[f].label
}

// Fragment is the provider-native query fragment selecting this folder.
func (f Folder) Fragment() string {
	if !f.Valid() {
		return ""
	}
	return folderInfo[f].fragment
}

func (f Folder) String() string {
	if !f.Valid() {
		return fmt.Sprintf("Folder(%d)", int(f))
	}
	return f.Key()
}

// Ptr returns a pointer to a copy of f, for use as an optional filter.
func (f Folder) Ptr() *Folder {
	return &f
}
