// Package mime builds outgoing messages and parses raw RFC 5322 messages
// using enmime.
package mime

import (
	"bytes"
	"html"
	"regexp"
	"strings"
	"time"

	"github.com/jhillyerd/enmime"
)

// Message is a parsed email message.
type Message struct {
	Subject     string
	Date        time.Time
	From        []Address
	To          []Address
	Cc          []Address
	Bcc         []Address
	MessageID   string
	BodyText    string
	BodyHTML    string
	Attachments []Attachment
	Errors      []string // Non-fatal parsing errors
}

// Address is an email address with optional display name.
type Address struct {
	Name  string
	Email string
}

// String renders the address the way it appears in a header.
func (a Address) String() string {
	if a.Name == "" {
		return a.Email
	}
	return a.Name + " <" + a.Email + ">"
}

// JoinAddresses renders a list for a header value.
func JoinAddresses(addrs []Address) string {
	parts := make([]string, len(addrs))
	for i, a := range addrs {
		parts[i] = a.String()
	}
	return strings.Join(parts, ", ")
}

// Attachment is a file attachment or inline part.
type Attachment struct {
	Filename    string
	ContentType string
	ContentID   string
	Content     []byte
	IsInline    bool
}

// Parse parses raw MIME data into a Message.
func Parse(raw []byte) (*Message, error) {
	env, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}

	msg := &Message{
		Subject:   env.GetHeader("Subject"),
		MessageID: strings.Trim(env.GetHeader("Message-ID"), "<>"),
		BodyText:  env.Text,
		BodyHTML:  env.HTML,
		From:      parseAddressList(env, "From"),
		To:        parseAddressList(env, "To"),
		Cc:        parseAddressList(env, "Cc"),
		Bcc:       parseAddressList(env, "Bcc"),
	}
	if d := env.GetHeader("Date"); d != "" {
		msg.Date = parseDate(d)
	}

	msg.Attachments = append(msg.Attachments, processParts(env.Attachments, false)...)
	msg.Attachments = append(msg.Attachments, processParts(env.Inlines, true)...)

	for _, e := range env.Errors {
		msg.Errors = append(msg.Errors, e.Error())
	}
	return msg, nil
}

func parseAddressList(env *enmime.Envelope, header string) []Address {
	list, err := env.AddressList(header)
	if err != nil || list == nil {
		return nil
	}
	out := make([]Address, 0, len(list))
	for _, addr := range list {
		if addr.Address == "" {
			continue
		}
		out = append(out, Address{Name: addr.Name, Email: strings.ToLower(addr.Address)})
	}
	return out
}

// isBodyPart reports whether a text part is body content rather than an
// attachment: text/plain or text/html with no filename and no explicit
// attachment disposition.
func isBodyPart(part *enmime.Part) bool {
	ct, _, _ := strings.Cut(strings.ToLower(part.ContentType), ";")
	if ct = strings.TrimSpace(ct); ct != "text/plain" && ct != "text/html" {
		return false
	}
	if part.FileName != "" {
		return false
	}
	disp, _, _ := strings.Cut(strings.ToLower(part.Disposition), ";")
	return strings.TrimSpace(disp) != "attachment"
}

func processParts(parts []*enmime.Part, inline bool) []Attachment {
	var out []Attachment
	for _, part := range parts {
		if isBodyPart(part) {
			continue
		}
		out = append(out, Attachment{
			Filename:    part.FileName,
			ContentType: part.ContentType,
			ContentID:   part.ContentID,
			Content:     part.Content,
			IsInline:    inline,
		})
	}
	return out
}

var dateFormats = []string{
	time.RFC1123Z,
	time.RFC1123,
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"Mon, 2 Jan 2006 15:04:05 MST",
	"2 Jan 2006 15:04:05 -0700",
	"02 Jan 2006 15:04:05 -0700",
	time.RFC822Z,
	time.RFC822,
	time.RFC3339,
}

// parseDate tries the common header date layouts. A trailing
// parenthesized zone name is ignored. Unparseable dates yield zero time.
func parseDate(s string) time.Time {
	s = strings.Join(strings.Fields(s), " ")
	if idx := strings.LastIndex(s, "("); idx > 0 {
		s = strings.TrimSpace(s[:idx])
	}
	for _, layout := range dateFormats {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

var (
	blockTagRe  = regexp.MustCompile(`(?i)<(/?)(p|div|br|hr|h[1-6]|li|tr|td|th|blockquote|pre|table|ul|ol)[^>]*>`)
	scriptTagRe = regexp.MustCompile(`(?is)<script[^>]*>.*?</script>`)
	styleTagRe  = regexp.MustCompile(`(?is)<style[^>]*>.*?</style>`)
	headTagRe   = regexp.MustCompile(`(?is)<head[^>]*>.*?</head>`)
	htmlTagRe   = regexp.MustCompile(`<[^>]*>`)
)

// StripHTML reduces an HTML body to readable plain text for terminal
// display. Block elements become line breaks and whitespace is collapsed.
func StripHTML(rawHTML string) string {
	text := scriptTagRe.ReplaceAllString(rawHTML, "")
	text = styleTagRe.ReplaceAllString(text, "")
	text = headTagRe.ReplaceAllString(text, "")
	text = blockTagRe.ReplaceAllString(text, "\n")
	text = htmlTagRe.ReplaceAllString(text, "")
	text = html.UnescapeString(text)
	text = strings.NewReplacer("\r\n", "\n", "\r", "\n", "\u00a0", " ").Replace(text)

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.Join(strings.Fields(line), " ")
	}
	text = strings.Join(lines, "\n")
	for strings.Contains(text, "\n\n\n") {
		text = strings.ReplaceAll(text, "\n\n\n", "\n\n")
	}
	return strings.TrimSpace(text)
}
