package mime

import (
	"bytes"
	"errors"
	"fmt"
	"net/mail"
	"slices"
	"strings"
	"time"

	"github.com/jhillyerd/enmime"
)

// ErrNoRecipients is returned by Build when To is empty.
var ErrNoRecipients = errors.New("no recipients")

// Outgoing is a message to encode for sending.
type Outgoing struct {
	From        string // "addr" or "Name <addr>"
	To          string // comma-separated address lists
	Cc          string
	Bcc         string
	Subject     string
	Text        string
	Date        time.Time
	Headers     map[string]string
	Attachments []Attachment
}

// Build encodes o as an RFC 5322 message. Attachments without a content
// type are sent as application/octet-stream.
func Build(o Outgoing) ([]byte, error) {
	from, err := mail.ParseAddress(o.From)
	if err != nil {
		return nil, fmt.Errorf("parse from: %w", err)
	}
	to, err := ParseAddressList(o.To)
	if err != nil {
		return nil, fmt.Errorf("parse to: %w", err)
	}
	if len(to) == 0 {
		return nil, ErrNoRecipients
	}
	cc, err := ParseAddressList(o.Cc)
	if err != nil {
		return nil, fmt.Errorf("parse cc: %w", err)
	}
	bcc, err := ParseAddressList(o.Bcc)
	if err != nil {
		return nil, fmt.Errorf("parse bcc: %w", err)
	}

	b := enmime.Builder().
		From(from.Name, from.Address).
		ToAddrs(to).
		Subject(o.Subject).
		Text([]byte(o.Text))
	if len(cc) > 0 {
		b = b.CCAddrs(cc)
	}
	if len(bcc) > 0 {
		// Gmail reads Bcc from the raw headers when sending.
		b = b.BCCAddrs(bcc).Header("Bcc", joinMailAddrs(bcc))
	}
	if !o.Date.IsZero() {
		b = b.Date(o.Date)
	}

	keys := make([]string, 0, len(o.Headers))
	for k := range o.Headers {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		b = b.Header(k, o.Headers[k])
	}

	for _, att := range o.Attachments {
		ct := att.ContentType
		if ct == "" {
			ct = "application/octet-stream"
		}
		b = b.AddAttachment(att.Content, ct, att.Filename)
	}

	part, err := b.Build()
	if err != nil {
		return nil, fmt.Errorf("build message: %w", err)
	}
	var buf bytes.Buffer
	if err := part.Encode(&buf); err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	return buf.Bytes(), nil
}

// ParseAddressList parses a comma-separated recipient list. Blank input
// yields no addresses.
func ParseAddressList(s string) ([]mail.Address, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	list, err := mail.ParseAddressList(s)
	if err != nil {
		return nil, err
	}
	out := make([]mail.Address, len(list))
	for i, a := range list {
		out[i] = *a
	}
	return out, nil
}

func joinMailAddrs(addrs []mail.Address) string {
	parts := make([]string, len(addrs))
	for i := range addrs {
		parts[i] = addrs[i].String()
	}
	return strings.Join(parts, ", ")
}
