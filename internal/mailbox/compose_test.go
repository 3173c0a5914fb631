package mailbox

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func fillDraft(d *ComposeDraft) {
	d.To = "client@example.com"
	d.Subject = "Quarterly numbers"
	d.Body = "See attached."
}

func TestCompose_Lifecycle(t *testing.T) {
	p := newFakeProvider()
	c := NewCompose("ops@example.com", p, testLogger())

	if err := c.Update(fillDraft); !errors.Is(err, ErrComposeNotOpen) {
		t.Errorf("Update on closed compose: err = %v, want ErrComposeNotOpen", err)
	}

	c.Open()
	if c.State() != ComposeOpen {
		t.Fatalf("state = %v, want open", c.State())
	}
	id := c.Draft().ID
	if id == "" {
		t.Error("draft has no id")
	}
	if err := c.Update(func(d *ComposeDraft) {
		fillDraft(d)
		d.ID = "overwritten"
	}); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if c.Draft().ID != id {
		t.Error("Update replaced the draft id")
	}

	send, err := c.Submit()
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if c.State() != ComposeSending {
		t.Errorf("state = %v, want sending", c.State())
	}
	if err := c.Update(fillDraft); !errors.Is(err, ErrComposeBusy) {
		t.Errorf("Update while sending: err = %v, want ErrComposeBusy", err)
	}

	if !c.Settle(send.Run(context.Background())) {
		t.Fatal("Settle() = false")
	}
	if c.State() != ComposeClosed || c.Draft().To != "" {
		t.Errorf("after send: state=%v draft=%+v", c.State(), c.Draft())
	}
	if c.LastSentID() != "sent-1" {
		t.Errorf("LastSentID() = %q, want sent-1", c.LastSentID())
	}
	if len(p.sent) != 1 || p.sent[0].Subject != "Quarterly numbers" {
		t.Errorf("provider received %+v", p.sent)
	}
}

func TestCompose_SubmitRequiresFields(t *testing.T) {
	tests := []struct {
		name string
		edit func(*ComposeDraft)
	}{
		{"missing to", func(d *ComposeDraft) { fillDraft(d); d.To = " " }},
		{"missing subject", func(d *ComposeDraft) { fillDraft(d); d.Subject = "" }},
		{"missing body", func(d *ComposeDraft) { fillDraft(d); d.Body = "\n" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newFakeProvider()
			c := NewCompose("ops@example.com", p, testLogger())
			c.Open()
			_ = c.Update(tt.edit)

			if _, err := c.Submit(); !errors.Is(err, ErrComposeIncomplete) {
				t.Errorf("Submit() err = %v, want ErrComposeIncomplete", err)
			}
			if c.State() != ComposeOpen {
				t.Errorf("state = %v, want open", c.State())
			}
			if len(p.sent) != 0 {
				t.Error("incomplete draft reached the provider")
			}
		})
	}
}

func TestCompose_FailureKeepsDraft(t *testing.T) {
	p := newFakeProvider()
	p.sendErr = errors.New("mailbox not authorized")
	c := NewCompose("ops@example.com", p, testLogger())
	c.Open()
	_ = c.Update(fillDraft)
	_ = c.Attach("notes.txt", "", []byte("hello"))

	send, _ := c.Submit()
	c.Settle(send.Run(context.Background()))

	if c.State() != ComposeOpen {
		t.Fatalf("state = %v, want open", c.State())
	}
	if d := c.Draft(); d.Subject != "Quarterly numbers" || len(d.Attachments) != 1 {
		t.Errorf("draft lost after failure: %+v", d)
	}
	if got := c.ErrorMessage(); got != "Unable to send: mailbox not authorized" {
		t.Errorf("ErrorMessage() = %q", got)
	}

	_ = c.Update(func(d *ComposeDraft) { d.Cc = "boss@example.com" })
	if c.Err() != nil {
		t.Error("editing should clear the send error")
	}
}

func TestCompose_CloseDropsInFlightSend(t *testing.T) {
	p := newFakeProvider()
	c := NewCompose("ops@example.com", p, testLogger())
	c.Open()
	_ = c.Update(fillDraft)
	send, _ := c.Submit()

	c.Close()
	if c.Settle(send.Run(context.Background())) {
		t.Error("result applied to a closed compose")
	}
	if c.State() != ComposeClosed || c.LastSentID() != "" {
		t.Errorf("state=%v sentID=%q", c.State(), c.LastSentID())
	}
}

func TestCompose_Attachments(t *testing.T) {
	c := NewCompose("ops@example.com", newFakeProvider(), testLogger())
	c.Open()

	if err := c.Attach("report.pdf", "", []byte("%PDF-1.4")); err != nil {
		t.Fatalf("Attach() error = %v", err)
	}
	path := filepath.Join(t.TempDir(), "data.bin")
	if err := os.WriteFile(path, []byte("hi"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := c.AttachFile(path); err != nil {
		t.Fatalf("AttachFile() error = %v", err)
	}

	atts := c.Draft().Attachments
	if len(atts) != 2 {
		t.Fatalf("attachments = %d, want 2", len(atts))
	}
	if atts[0].MimeType != "application/pdf" || atts[0].Content != "JVBERi0xLjQ=" || atts[0].Size != 8 {
		t.Errorf("pdf attachment = %+v", atts[0])
	}
	if atts[1].Filename != "data.bin" || atts[1].Content != "aGk=" {
		t.Errorf("file attachment = %+v", atts[1])
	}

	if c.RemoveAttachment(5) {
		t.Error("RemoveAttachment out of range returned true")
	}
	if !c.RemoveAttachment(0) {
		t.Fatal("RemoveAttachment(0) returned false")
	}
	if got := c.Draft().Attachments; len(got) != 1 || got[0].Filename != "data.bin" {
		t.Errorf("after remove: %+v", got)
	}

	if err := c.AttachFile(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("AttachFile on missing path should fail")
	}
}
