package gmail

import (
	"fmt"
	"strings"
	"time"
)

var demoSenders = []struct{ name, addr string }{
	{"Priya Raman", "priya@northwind.example"},
	{"Billing", "billing@acme-cloud.example"},
	{"Marco Lenz", "marco.lenz@fabrikam.example"},
	{"HR Team", "people@contoso.example"},
	{"Dana Whitfield", "dana@litware.example"},
	{"Security Alerts", "no-reply@accounts.example"},
}

var demoSubjects = []string{
	"Quarterly budget review",
	"Invoice #%d for your subscription",
	"Re: onboarding checklist",
	"Benefits enrollment closes Friday",
	"Design sync notes",
	"New sign-in from Chrome on Linux",
	"Contract draft v%d",
	"Lunch next week?",
}

// NewDemoMailbox returns a mailbox seeded with a deterministic spread of
// messages across every system folder, enough to page through.
func NewDemoMailbox(address string, now time.Time) *MockAPI {
	m := NewMockAPI(address)
	m.Now = func() time.Time { return now }
	m.UserLabels = []*Label{{ID: "Label_1", Name: "Clients"}, {ID: "Label_2", Name: "Receipts"}}

	for i := range 64 {
		sender := demoSenders[i%len(demoSenders)]
		subject := demoSubjects[i%len(demoSubjects)]
		if strings.Contains(subject, "%d") {
			subject = fmt.Sprintf(subject, 1000+i)
		}
		sent := now.Add(-time.Duration(i*7) * time.Hour)
		id := fmt.Sprintf("demo_%04d", i+1)

		labels := demoLabels(i)
		msg := &Message{
			ID:           id,
			ThreadID:     id,
			LabelIDs:     labels,
			InternalDate: sent.UnixMilli(),
			SizeEstimate: int64(2048 + i*731),
			Headers: map[string]string{
				"from":    fmt.Sprintf("%s <%s>", sender.name, sender.addr),
				"to":      address,
				"subject": subject,
				"date":    sent.Format(time.RFC1123Z),
			},
		}
		if msg.HasLabel(LabelSent) {
			msg.Headers["from"] = address
			msg.Headers["to"] = fmt.Sprintf("%s <%s>", sender.name, sender.addr)
		}
		if i%9 == 4 {
			_, domain, _ := strings.Cut(address, "@")
			msg.Headers["cc"] = "ops@" + domain
		}
		msg.BodyText = fmt.Sprintf("Hi,\n\nThis is message %d about %q.\n\nThanks,\n%s\n", i+1, subject, sender.name)
		msg.BodyHTML = "<p>" + strings.ReplaceAll(msg.BodyText, "\n", "<br>") + "</p>"
		msg.Snippet = strings.Join(strings.Fields(msg.BodyText), " ")
		if len(msg.Snippet) > 90 {
			msg.Snippet = msg.Snippet[:90]
		}
		if i%5 == 1 {
			attID := "att_1"
			data := []byte(fmt.Sprintf("%%PDF-1.4\n%% demo attachment %d\n", i+1))
			msg.Attachments = []Attachment{{
				Filename:     fmt.Sprintf("invoice-%d.pdf", 1000+i),
				MimeType:     "application/pdf",
				Size:         int64(len(data)),
				AttachmentID: attID,
				MessageID:    id,
			}}
			m.AttachmentData[id+"/"+attID] = data
		}
		m.AddMessage(msg)
	}
	return m
}

// demoLabels spreads messages over folders: most land in the inbox, the
// rest are sent, drafts, archived, spam or trash.
func demoLabels(i int) []string {
	var labels []string
	switch i % 16 {
	case 3:
		labels = []string{LabelSent}
	case 7:
		labels = []string{LabelDraft}
	case 10:
		labels = []string{"Label_1"} // archived
	case 12:
		labels = []string{LabelSpam}
	case 14:
		labels = []string{LabelTrash}
	default:
		labels = []string{LabelInbox}
		if i%2 == 0 {
			labels = append(labels, LabelUnread)
		}
	}
	if i%6 == 0 && i%16 != 12 && i%16 != 14 {
		labels = append(labels, LabelStarred)
	}
	if i%11 == 2 {
		labels = append(labels, LabelImportant)
	}
	return labels
}
