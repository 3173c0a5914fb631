package mailbox

import (
	"strconv"
	"strings"
	"time"
)

// FilterSet holds the structured search fields. Every field is optional;
// an empty field contributes nothing to the query.
type FilterSet struct {
	From          string
	To            string
	Subject       string
	DateStart     time.Time
	DateEnd       time.Time
	Folder        *Folder // nil means no folder filter
	HasAttachment bool
}

// IsZero reports whether no filter field is set.
func (f FilterSet) IsZero() bool {
	return strings.TrimSpace(f.From) == "" &&
		strings.TrimSpace(f.To) == "" &&
		strings.TrimSpace(f.Subject) == "" &&
		f.DateStart.IsZero() &&
		f.DateEnd.IsZero() &&
		f.Folder == nil &&
		!f.HasAttachment
}

// BuildQuery assembles free text and structured filters into one
// provider-compatible query string. Token order is fixed: text, from:,
// to:, subject:, after:, before:, has:attachment, folder fragment.
//
// Dates are converted to epoch seconds in their own location: the start
// date at 00:00:00 and the end date at 23:59:59.999 (floored). Date order is
// not validated.
func BuildQuery(freeText string, f FilterSet) string {
	var tokens []string
	add := func(prefix, value string) {
		if v := strings.TrimSpace(value); v != "" {
			tokens = append(tokens, prefix+v)
		}
	}

	add("", freeText)
	add("from:", f.From)
	add("to:", f.To)
	add("subject:", f.Subject)
	if !f.DateStart.IsZero() {
		tokens = append(tokens, "after:"+strconv.FormatInt(startOfDay(f.DateStart).Unix(), 10))
	}
	if !f.DateEnd.IsZero() {
		tokens = append(tokens, "before:"+strconv.FormatInt(endOfDay(f.DateEnd).Unix(), 10))
	}
	if f.HasAttachment {
		tokens = append(tokens, "has:attachment")
	}
	if f.Folder != nil {
		add("", f.Folder.Fragment())
	}

	return strings.TrimSpace(strings.Join(tokens, " "))
}

// QueryFolder reports the folder a query built by BuildQuery is scoped to,
// taken from its trailing folder fragment. Such a query searches that
// folder instead of the one currently open.
func QueryFolder(query string) (Folder, bool) {
	query = strings.TrimSpace(query)
	best, found := Folder(0), false
	for i, info := range folderInfo {
		frag := info.fragment
		if !strings.HasSuffix(query, frag) {
			continue
		}
		if rest := query[:len(query)-len(frag)]; rest != "" && !strings.HasSuffix(rest, " ") {
			continue
		}
		if !found || len(frag) > len(folderInfo[best].fragment) {
			best, found = Folder(i), true
		}
	}
	return best, found
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func endOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 23, 59, 59, int(999*time.Millisecond), t.Location())
}
