// Package search parses Gmail-style search queries.
//
// The parser understands the operators the mailbox query builder emits
// (from:, to:, subject:, after:, before:, has:attachment, in:) plus the
// label, star and size operators an operator may type by hand. It is used
// to evaluate queries against the in-memory mailbox and to pick out the
// free-text terms worth highlighting.
package search

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Query represents a parsed search query with all supported filters.
type Query struct {
	TextTerms     []string   // Full-text search terms
	ExcludeTerms  []string   // -word
	FromAddrs     []string   // from: filters
	ToAddrs       []string   // to: filters
	CcAddrs       []string   // cc: filters
	SubjectTerms  []string   // subject: filters
	Labels        []string   // in:/label: filters, as label ids
	ExcludeLabels []string   // -in:/-label:
	HasAttachment *bool      // has:attachment
	Starred       *bool      // is:starred, -is:starred
	BeforeDate    *time.Time // before: filter
	AfterDate     *time.Time // after: filter
	LargerThan    *int64     // larger: filter (bytes)
	SmallerThan   *int64     // smaller: filter (bytes)
}

// IsEmpty returns true if the query has no search criteria.
func (q *Query) IsEmpty() bool {
	return len(q.TextTerms) == 0 &&
		len(q.ExcludeTerms) == 0 &&
		len(q.FromAddrs) == 0 &&
		len(q.ToAddrs) == 0 &&
		len(q.CcAddrs) == 0 &&
		len(q.SubjectTerms) == 0 &&
		len(q.Labels) == 0 &&
		len(q.ExcludeLabels) == 0 &&
		q.HasAttachment == nil &&
		q.Starred == nil &&
		q.BeforeDate == nil &&
		q.AfterDate == nil &&
		q.LargerThan == nil &&
		q.SmallerThan == nil
}

// systemLabels maps in:/label: names to Gmail system label ids.
var systemLabels = map[string]string{
	"inbox":     "INBOX",
	"sent":      "SENT",
	"draft":     "DRAFT",
	"drafts":    "DRAFT",
	"starred":   "STARRED",
	"spam":      "SPAM",
	"trash":     "TRASH",
	"important": "IMPORTANT",
	"unread":    "UNREAD",
}

// LabelID resolves a label name as written in a query to a label id.
// System labels are matched case-insensitively; user labels pass through.
func LabelID(name string) string {
	if id, ok := systemLabels[strings.ToLower(name)]; ok {
		return id
	}
	return name
}

// operatorFn applies a parsed operator:value pair. negated is set for the
// -op:value form.
type operatorFn func(q *Query, value string, negated bool, now time.Time)

func labelOp(q *Query, v string, negated bool, _ time.Time) {
	if strings.EqualFold(v, "anywhere") {
		return
	}
	if negated {
		q.ExcludeLabels = append(q.ExcludeLabels, LabelID(v))
		return
	}
	q.Labels = append(q.Labels, LabelID(v))
}

// operators maps operator names to their handler functions.
var operators = map[string]operatorFn{
	"from": func(q *Query, v string, _ bool, _ time.Time) {
		q.FromAddrs = append(q.FromAddrs, strings.ToLower(v))
	},
	"to": func(q *Query, v string, _ bool, _ time.Time) {
		q.ToAddrs = append(q.ToAddrs, strings.ToLower(v))
	},
	"cc": func(q *Query, v string, _ bool, _ time.Time) {
		q.CcAddrs = append(q.CcAddrs, strings.ToLower(v))
	},
	"subject": func(q *Query, v string, _ bool, _ time.Time) {
		q.SubjectTerms = append(q.SubjectTerms, v)
	},
	"in":    labelOp,
	"label": labelOp,
	"l":     labelOp,
	"is": func(q *Query, v string, negated bool, now time.Time) {
		if strings.EqualFold(v, "starred") {
			b := !negated
			q.Starred = &b
			return
		}
		labelOp(q, v, negated, now)
	},
	"has": func(q *Query, v string, negated bool, _ time.Time) {
		if low := strings.ToLower(v); low == "attachment" || low == "attachments" {
			b := !negated
			q.HasAttachment = &b
		}
	},
	"before": func(q *Query, v string, _ bool, _ time.Time) {
		if t := parseDate(v); t != nil {
			q.BeforeDate = t
		}
	},
	"after": func(q *Query, v string, _ bool, _ time.Time) {
		if t := parseDate(v); t != nil {
			q.AfterDate = t
		}
	},
	"older_than": func(q *Query, v string, _ bool, now time.Time) {
		if t := parseRelativeDate(v, now); t != nil {
			q.BeforeDate = t
		}
	},
	"newer_than": func(q *Query, v string, _ bool, now time.Time) {
		if t := parseRelativeDate(v, now); t != nil {
			q.AfterDate = t
		}
	},
	"larger": func(q *Query, v string, _ bool, _ time.Time) {
		if size := parseSize(v); size != nil {
			q.LargerThan = size
		}
	},
	"smaller": func(q *Query, v string, _ bool, _ time.Time) {
		if size := parseSize(v); size != nil {
			q.SmallerThan = size
		}
	},
}

// Parser holds configuration for query parsing.
type Parser struct {
	Now func() time.Time // Time source (mockable for testing)
}

// NewParser creates a Parser with default settings.
func NewParser() *Parser {
	return &Parser{Now: func() time.Time { return time.Now().UTC() }}
}

// Parse parses a Gmail-style search query string into a Query.
//
// Supported operators:
//   - from:, to:, cc: - address filters
//   - subject: - subject text search
//   - in:, label:, l: - label filters; -in:trash excludes
//   - is:starred, has:attachment
//   - before:, after: - dates (YYYY-MM-DD, YYYY/MM/DD or epoch seconds)
//   - older_than:, newer_than: - relative dates (7d, 2w, 1m, 1y)
//   - larger:, smaller: - sizes (5M, 100K)
//   - Bare words and "quoted phrases" - full-text search; -word excludes
func (p *Parser) Parse(queryStr string) *Query {
	q := &Query{}
	now := time.Now().UTC()
	if p.Now != nil {
		now = p.Now()
	}

	for _, token := range tokenize(queryStr) {
		if isQuotedPhrase(token) {
			q.TextTerms = append(q.TextTerms, unquote(token))
			continue
		}

		negated := len(token) > 1 && token[0] == '-'
		body := token
		if negated {
			body = token[1:]
		}

		if idx := strings.Index(body, ":"); idx > 0 {
			op := strings.ToLower(body[:idx])
			if handler, ok := operators[op]; ok {
				handler(q, unquote(body[idx+1:]), negated, now)
				continue
			}
		}

		if negated {
			q.ExcludeTerms = append(q.ExcludeTerms, unquote(body))
			continue
		}
		q.TextTerms = append(q.TextTerms, token)
	}

	return q
}

// Parse is a convenience function that parses using default settings.
func Parse(queryStr string) *Query {
	return NewParser().Parse(queryStr)
}

func unquote(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}

func isQuotedPhrase(token string) bool {
	return len(token) > 2 && token[0] == '"' && token[len(token)-1] == '"'
}

// tokenize splits a query string on whitespace, keeping quoted phrases and
// op:"quoted value" pairs together.
func tokenize(queryStr string) []string {
	var (
		tokens     []string
		current    strings.Builder
		quote      rune
		afterColon bool
		opQuoted   bool
	)
	flush := func() {
		if current.Len() > 0 {
			tokens = append(tokens, current.String())
			current.Reset()
		}
	}

	for _, r := range queryStr {
		switch {
		case quote == 0 && (r == '"' || r == '\''):
			quote = r
			opQuoted = afterColon
			if opQuoted {
				current.WriteRune('"')
			} else {
				flush()
			}
			afterColon = false
		case quote != 0 && r == quote:
			if opQuoted {
				current.WriteRune('"')
				flush()
			} else if current.Len() > 0 {
				tokens = append(tokens, `"`+current.String()+`"`)
				current.Reset()
			}
			quote = 0
			opQuoted = false
		case quote == 0 && (r == ' ' || r == '\t'):
			flush()
			afterColon = false
		default:
			current.WriteRune(r)
			afterColon = r == ':'
		}
	}
	flush()
	return tokens
}

var epochRe = regexp.MustCompile(`^\d{9,11}$`)

// parseDate parses YYYY-MM-DD, YYYY/MM/DD, MM/DD/YYYY or epoch seconds.
func parseDate(value string) *time.Time {
	value = strings.TrimSpace(value)
	if epochRe.MatchString(value) {
		secs, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return nil
		}
		t := time.Unix(secs, 0).UTC()
		return &t
	}

	for _, format := range []string{"2006-01-02", "2006/01/02", "01/02/2006"} {
		if t, err := time.Parse(format, value); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}

var relativeDateRe = regexp.MustCompile(`^(\d+)([dwmy])$`)

// parseRelativeDate parses relative dates like 7d, 2w, 1m, 1y relative to now.
func parseRelativeDate(value string, now time.Time) *time.Time {
	match := relativeDateRe.FindStringSubmatch(strings.TrimSpace(strings.ToLower(value)))
	if match == nil {
		return nil
	}
	amount, _ := strconv.Atoi(match[1])

	var result time.Time
	switch match[2] {
	case "d":
		result = now.AddDate(0, 0, -amount)
	case "w":
		result = now.AddDate(0, 0, -amount*7)
	case "m":
		result = now.AddDate(0, -amount, 0)
	case "y":
		result = now.AddDate(-amount, 0, 0)
	}
	return &result
}

var sizeSuffixes = []struct {
	suffix string
	mult   int64
}{
	{"KB", 1 << 10}, {"MB", 1 << 20}, {"GB", 1 << 30},
	{"K", 1 << 10}, {"M", 1 << 20}, {"G", 1 << 30},
}

// parseSize parses size strings like 5M, 100K, 1G into bytes.
func parseSize(value string) *int64 {
	value = strings.TrimSpace(strings.ToUpper(value))
	for _, s := range sizeSuffixes {
		if numStr, ok := strings.CutSuffix(value, s.suffix); ok {
			num, err := strconv.ParseFloat(numStr, 64)
			if err != nil {
				return nil
			}
			result := int64(num * float64(s.mult))
			return &result
		}
	}
	if num, err := strconv.ParseInt(value, 10, 64); err == nil {
		return &num
	}
	return nil
}
