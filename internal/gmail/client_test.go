package gmail

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

const quotaExceededMsg = "Quota exceeded for quota metric 'Queries'"

// gmailErrorBody builds a Gmail API error response JSON body.
// Optional fields (message, errors, details) are included only when non-zero.
func gmailErrorBody(code int, message string, errors []map[string]string, details []map[string]string) []byte {
	inner := map[string]any{"code": code}
	if message != "" {
		inner["message"] = message
	}
	if errors != nil {
		inner["errors"] = errors
	}
	if details != nil {
		inner["details"] = details
	}
	b, err := json.Marshal(map[string]any{"error": inner})
	if err != nil {
		panic(fmt.Sprintf("failed to marshal test body: %v", err))
	}
	return b
}

func errorWithReason(reason string) []byte {
	return gmailErrorBody(403, "", []map[string]string{{"reason": reason}}, nil)
}

func errorWithDetail(reason string) []byte {
	return gmailErrorBody(403, "", nil, []map[string]string{{"reason": reason}})
}

func TestIsRateLimitError(t *testing.T) {
	tests := []struct {
		name string
		body []byte
		want bool
	}{
		{
			name: "RateLimitExceeded",
			body: errorWithReason("rateLimitExceeded"),
			want: true,
		},
		{
			name: "RateLimitExceededByMessage",
			body: gmailErrorBody(403, quotaExceededMsg, []map[string]string{{"reason": "rateLimitExceeded"}}, nil),
			want: true,
		},
		{
			name: "RateLimitExceededUpperCase",
			body: errorWithDetail("RATE_LIMIT_EXCEEDED"),
			want: true,
		},
		{
			name: "QuotaExceeded",
			body: gmailErrorBody(403, quotaExceededMsg, nil, nil),
			want: true,
		},
		{
			name: "UserRateLimitExceeded",
			body: errorWithReason("userRateLimitExceeded"),
			want: true,
		},
		{
			name: "PermissionDenied",
			body: errorWithReason("forbidden"),
			want: false,
		},
		{
			name: "EmptyBody",
			body: []byte{},
			want: false,
		},
		{
			name: "InvalidJSON",
			body: []byte("not valid json but contains rateLimitExceeded"),
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isRateLimitError(tt.body); got != tt.want {
				t.Errorf("isRateLimitError() = %v, want %v", got, tt.want)
			}
		})
	}
}

func newTestClient(t *testing.T, h http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(nil,
		WithHTTPClient(srv.Client()),
		WithBaseURL(srv.URL),
		WithRetryPolicy(2, time.Millisecond),
	)
}

func b64(s string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(s))
}

func TestClient_GetMessage(t *testing.T) {
	payload := map[string]any{
		"id":           "m1",
		"threadId":     "t1",
		"labelIds":     []string{"INBOX", "STARRED"},
		"snippet":      "hello there",
		"internalDate": "1709600000000",
		"sizeEstimate": 4096,
		"payload": map[string]any{
			"mimeType": "multipart/mixed",
			"headers": []map[string]string{
				{"name": "Subject", "value": "Quarterly numbers"},
				{"name": "From", "value": "Ana <ana@example.com>"},
				{"name": "subject", "value": "duplicate is ignored"},
			},
			"parts": []map[string]any{
				{
					"mimeType": "multipart/alternative",
					"parts": []map[string]any{
						{
							"mimeType": "text/plain",
							"headers":  []map[string]string{{"name": "Content-Type", "value": "text/plain; charset=ISO-8859-1"}},
							"body":     map[string]any{"data": b64("caf\xe9")},
						},
						{
							"mimeType": "text/html",
							"body":     map[string]any{"data": b64("<p>café</p>")},
						},
					},
				},
				{
					"mimeType": "application/pdf",
					"filename": "report.pdf",
					"body":     map[string]any{"attachmentId": "att-9", "size": 1234},
				},
			},
		},
	}

	var gotPath, gotFormat string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotFormat = r.URL.Query().Get("format")
		_ = json.NewEncoder(w).Encode(payload)
	}))

	msg, err := c.GetMessage(context.Background(), "m1")
	if err != nil {
		t.Fatalf("GetMessage: %v", err)
	}
	if gotPath != "/users/me/messages/m1" || gotFormat != "full" {
		t.Errorf("request = %s format=%s", gotPath, gotFormat)
	}

	want := &Message{
		ID:           "m1",
		ThreadID:     "t1",
		LabelIDs:     []string{"INBOX", "STARRED"},
		Snippet:      "hello there",
		InternalDate: 1709600000000,
		SizeEstimate: 4096,
		Headers: map[string]string{
			"subject": "Quarterly numbers",
			"from":    "Ana <ana@example.com>",
		},
		BodyText: "café",
		BodyHTML: "<p>café</p>",
		Attachments: []Attachment{{
			Filename:     "report.pdf",
			MimeType:     "application/pdf",
			Size:         1234,
			AttachmentID: "att-9",
			MessageID:    "m1",
		}},
	}
	if diff := cmp.Diff(want, msg); diff != "" {
		t.Errorf("GetMessage mismatch (-want +got):\n%s", diff)
	}
	if !msg.HasLabel("STARRED") || msg.Header("Subject") != "Quarterly numbers" {
		t.Error("Header/HasLabel helpers disagree with parsed message")
	}
}

func TestClient_ListMessages(t *testing.T) {
	var got url.Values
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.URL.Query()
		fmt.Fprint(w, `{"messages":[{"id":"a","threadId":"ta"},{"id":"b","threadId":"tb"}],"nextPageToken":"p2","resultSizeEstimate":40}`)
	}))

	resp, err := c.ListMessages(context.Background(), ListOptions{
		Query:      "from:ana has:attachment",
		LabelIDs:   []string{"INBOX", "UNREAD"},
		PageToken:  "p1",
		MaxResults: 25,
	})
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if got.Get("q") != "from:ana has:attachment" || got.Get("maxResults") != "25" || got.Get("pageToken") != "p1" {
		t.Errorf("query params = %v", got)
	}
	if diff := cmp.Diff([]string{"INBOX", "UNREAD"}, got["labelIds"]); diff != "" {
		t.Errorf("labelIds (-want +got):\n%s", diff)
	}
	want := &MessageListResponse{
		Messages:           []MessageID{{ID: "a", ThreadID: "ta"}, {ID: "b", ThreadID: "tb"}},
		NextPageToken:      "p2",
		ResultSizeEstimate: 40,
	}
	if diff := cmp.Diff(want, resp); diff != "" {
		t.Errorf("ListMessages (-want +got):\n%s", diff)
	}
}

func TestClient_ErrorStatuses(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       []byte
		wantStatus int
		wantMsg    string
	}{
		{"NotFound", http.StatusNotFound, nil, http.StatusNotFound, "not found"},
		{"Forbidden", http.StatusForbidden, gmailErrorBody(403, "Delegation denied", nil, nil), http.StatusForbidden, "Delegation denied"},
		{"Unauthorized", http.StatusUnauthorized, nil, http.StatusUnauthorized, "unauthorized"},
		{"BadRequest", http.StatusBadRequest, gmailErrorBody(400, "Invalid query", nil, nil), http.StatusBadRequest, "Invalid query"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls++
				w.WriteHeader(tt.status)
				_, _ = w.Write(tt.body)
			}))
			_, err := c.GetProfile(context.Background())
			if err == nil {
				t.Fatal("expected error")
			}
			if got := StatusCode(err); got != tt.wantStatus {
				t.Errorf("StatusCode = %d, want %d", got, tt.wantStatus)
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("error %q does not mention %q", err, tt.wantMsg)
			}
			if calls != 1 {
				t.Errorf("calls = %d, want no retries", calls)
			}
		})
	}
}

func TestClient_RetriesServerErrors(t *testing.T) {
	calls := 0
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, `{"emailAddress":"ops@example.com","messagesTotal":12,"threadsTotal":9}`)
	}))

	p, err := c.GetProfile(context.Background())
	if err != nil {
		t.Fatalf("GetProfile: %v", err)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
	if p.EmailAddress != "ops@example.com" || p.MessagesTotal != 12 {
		t.Errorf("profile = %+v", p)
	}
}

func TestClient_RetriesExhausted(t *testing.T) {
	calls := 0
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write(gmailErrorBody(502, "backend unavailable", nil, nil))
	}))

	_, err := c.ListLabels(context.Background())
	if err == nil || !strings.Contains(err.Error(), "max retries exceeded") {
		t.Fatalf("err = %v, want max retries exceeded", err)
	}
	if StatusCode(err) != http.StatusBadGateway {
		t.Errorf("StatusCode = %d, want 502", StatusCode(err))
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestClient_BatchModify(t *testing.T) {
	var body struct {
		IDs    []string `json:"ids"`
		Add    []string `json:"addLabelIds"`
		Remove []string `json:"removeLabelIds"`
	}
	var method, path string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method, path = r.Method, r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.WriteHeader(http.StatusNoContent)
	}))

	if err := c.BatchModify(context.Background(), []string{"a", "b"}, []string{"TRASH"}, []string{"INBOX"}); err != nil {
		t.Fatalf("BatchModify: %v", err)
	}
	if method != http.MethodPost || path != "/users/me/messages/batchModify" {
		t.Errorf("request = %s %s", method, path)
	}
	if diff := cmp.Diff([]string{"a", "b"}, body.IDs); diff != "" {
		t.Errorf("ids (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"TRASH"}, body.Add); diff != "" {
		t.Errorf("add (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"INBOX"}, body.Remove); diff != "" {
		t.Errorf("remove (-want +got):\n%s", diff)
	}

	if err := c.BatchModify(context.Background(), make([]string, maxBatchModify+1), nil, nil); err == nil {
		t.Error("expected error for oversized batch")
	}
}

func TestClient_Send(t *testing.T) {
	var raw []byte
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Raw string `json:"raw"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		raw, _ = base64.RawURLEncoding.DecodeString(body.Raw)
		fmt.Fprint(w, `{"id":"sent-1","threadId":"thr-1"}`)
	}))

	msg := []byte("To: a@example.com\r\nSubject: hi\r\n\r\nbody\r\n")
	id, err := c.Send(context.Background(), msg)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if id.ID != "sent-1" || id.ThreadID != "thr-1" {
		t.Errorf("id = %+v", id)
	}
	if string(raw) != string(msg) {
		t.Errorf("raw = %q, want %q", raw, msg)
	}
}

func TestClient_GetAttachment(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/users/me/messages/m1/attachments/att-1" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprintf(w, `{"size":5,"data":%q}`, base64.URLEncoding.EncodeToString([]byte("%PDF-")))
	}))

	data, err := c.GetAttachment(context.Background(), "m1", "att-1")
	if err != nil {
		t.Fatalf("GetAttachment: %v", err)
	}
	if string(data) != "%PDF-" {
		t.Errorf("data = %q", data)
	}

	_, err = c.GetAttachment(context.Background(), "m1", "missing")
	var nf *NotFoundError
	if !errors.As(err, &nf) {
		t.Errorf("err = %v, want NotFoundError", err)
	}
}

func TestClient_GetMessagesBatch(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimPrefix(r.URL.Path, "/users/me/messages/")
		switch id {
		case "gone":
			w.WriteHeader(http.StatusNotFound)
		case "broken":
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write(gmailErrorBody(403, "denied", nil, nil))
		default:
			fmt.Fprintf(w, `{"id":%q,"threadId":%q,"internalDate":"1"}`, id, id)
		}
	}))

	msgs, err := c.GetMessagesBatch(context.Background(), []string{"a", "gone", "b"})
	if err != nil {
		t.Fatalf("GetMessagesBatch: %v", err)
	}
	if len(msgs) != 3 || msgs[0].ID != "a" || msgs[1] != nil || msgs[2].ID != "b" {
		t.Errorf("batch = %v", msgs)
	}

	if _, err := c.GetMessagesBatch(context.Background(), []string{"a", "broken"}); err == nil {
		t.Error("expected batch failure")
	}
}
