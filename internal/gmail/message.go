package gmail

import (
	"mime"
	"strconv"
	"strings"

	"github.com/mailroom/mailroom/internal/textutil"
)

type header struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type partBody struct {
	AttachmentID string `json:"attachmentId"`
	Size         int64  `json:"size"`
	Data         string `json:"data"`
}

type messagePart struct {
	PartID   string        `json:"partId"`
	MimeType string        `json:"mimeType"`
	Filename string        `json:"filename"`
	Headers  []header      `json:"headers"`
	Body     partBody      `json:"body"`
	Parts    []messagePart `json:"parts"`
}

type fullMessageResponse struct {
	ID           string      `json:"id"`
	ThreadID     string      `json:"threadId"`
	LabelIDs     []string    `json:"labelIds"`
	Snippet      string      `json:"snippet"`
	InternalDate string      `json:"internalDate"`
	SizeEstimate int64       `json:"sizeEstimate"`
	Payload      messagePart `json:"payload"`
}

func (r *fullMessageResponse) toMessage() *Message {
	internal, _ := strconv.ParseInt(r.InternalDate, 10, 64)
	msg := &Message{
		ID:           r.ID,
		ThreadID:     r.ThreadID,
		LabelIDs:     r.LabelIDs,
		Snippet:      r.Snippet,
		InternalDate: internal,
		SizeEstimate: r.SizeEstimate,
		Headers:      make(map[string]string, len(r.Payload.Headers)),
	}
	for _, h := range r.Payload.Headers {
		name := strings.ToLower(h.Name)
		if _, seen := msg.Headers[name]; !seen {
			msg.Headers[name] = h.Value
		}
	}

	walkParts(&r.Payload, func(p *messagePart) {
		if p.Filename != "" && p.Body.AttachmentID != "" {
			msg.Attachments = append(msg.Attachments, Attachment{
				Filename:     p.Filename,
				MimeType:     p.MimeType,
				Size:         p.Body.Size,
				AttachmentID: p.Body.AttachmentID,
				MessageID:    r.ID,
			})
			return
		}
		if p.Filename != "" || p.Body.Data == "" {
			return
		}
		switch strings.ToLower(p.MimeType) {
		case "text/plain":
			if msg.BodyText == "" {
				msg.BodyText = decodePartText(p)
			}
		case "text/html":
			if msg.BodyHTML == "" {
				msg.BodyHTML = decodePartText(p)
			}
		}
	})
	return msg
}

// walkParts visits the part tree depth-first in document order.
func walkParts(root *messagePart, visit func(*messagePart)) {
	stack := []*messagePart{root}
	for len(stack) > 0 {
		p := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		visit(p)
		for i := len(p.Parts) - 1; i >= 0; i-- {
			stack = append(stack, &p.Parts[i])
		}
	}
}

// decodePartText decodes a body part's data and converts it to UTF-8 using
// the charset from its Content-Type header when one is given.
func decodePartText(p *messagePart) string {
	data, err := decodeBase64URL(p.Body.Data)
	if err != nil {
		return ""
	}
	for _, h := range p.Headers {
		if !strings.EqualFold(h.Name, "Content-Type") {
			continue
		}
		_, params, err := mime.ParseMediaType(h.Value)
		if err != nil {
			break
		}
		return textutil.DecodeCharset(data, params["charset"])
	}
	return textutil.EnsureUTF8(string(data))
}
