package mailbox

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParseAction(t *testing.T) {
	tests := []struct {
		in      string
		want    Action
		wantErr bool
	}{
		{"archive", ActionArchive, false},
		{"DELETE", ActionDelete, false},
		{" star ", ActionStar, false},
		{"unstar", ActionUnstar, false},
		{"spam", 0, true},
		{"", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseAction(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseAction(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("ParseAction(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestBulk_DeleteRemovesOpenThread(t *testing.T) {
	p := newFakeProvider()
	s := readySession(p, "t1", "t2", "t3")
	s.Collection().Open("t2")
	s.Collection().ToggleSelect("t1", true)
	s.Collection().ToggleSelect("t2", true)

	m := s.Bulk(ActionDelete)
	if m == nil {
		t.Fatal("Bulk(delete) returned nil")
	}
	if diff := cmp.Diff([]string{"t1", "t2"}, m.IDs); diff != "" {
		t.Errorf("targets (-want +got):\n%s", diff)
	}
	if got := m.Outcome().Kind; got != OutcomePending {
		t.Errorf("outcome before settle = %v, want pending", got)
	}

	// Optimistic: visible before the provider answers.
	if diff := cmp.Diff([]string{"t3"}, ids(s.Threads())); diff != "" {
		t.Errorf("threads (-want +got):\n%s", diff)
	}
	if _, ok := s.OpenThread(); ok {
		t.Error("open thread should be cleared, not replaced")
	}
	if len(s.Selected()) != 0 {
		t.Errorf("selection = %v, want empty", s.Selected())
	}

	out := s.Settle(m.Run(context.Background()))
	if out.Kind != OutcomeApplied || out.Updated != 2 {
		t.Errorf("outcome = %+v, want applied with 2 updated", out)
	}
	if len(p.bulkCalls) != 1 || p.bulkCalls[0].action != ActionDelete {
		t.Errorf("provider calls = %+v", p.bulkCalls)
	}
	if diff := cmp.Diff([]string{"t3"}, ids(s.Threads())); diff != "" {
		t.Errorf("threads after settle (-want +got):\n%s", diff)
	}
}

func TestBulk_FallsBackToOpenThread(t *testing.T) {
	p := newFakeProvider()
	s := readySession(p, "a", "b")
	s.Collection().Open("b")

	m := s.Bulk(ActionArchive)
	if m == nil || !cmp.Equal(m.IDs, []string{"b"}) {
		t.Fatalf("Bulk(archive) = %+v, want target b", m)
	}
}

func TestBulk_NoTargetsIsNoop(t *testing.T) {
	p := newFakeProvider()
	s := readySession(p, "a")
	s.Collection().CloseThread()

	if m := s.Bulk(ActionArchive); m != nil {
		t.Errorf("Bulk with no targets = %+v, want nil", m)
	}
	if m := s.ApplyBulk(ActionStar, []string{"", ""}); m != nil {
		t.Errorf("ApplyBulk with blank ids = %+v, want nil", m)
	}
	if m := s.ApplyBulk(Action(42), []string{"a"}); m != nil {
		t.Errorf("ApplyBulk with invalid action = %+v, want nil", m)
	}

	idle := NewSession("ops@example.com", p)
	if m := idle.ApplyBulk(ActionDelete, []string{"a"}); m != nil {
		t.Error("idle session accepted a bulk action")
	}
}

func TestBulk_StarPatchesInPlace(t *testing.T) {
	p := newFakeProvider()
	s := readySession(p, "a", "b")
	s.Collection().ToggleSelectAll()

	m := s.Bulk(ActionStar)
	for _, th := range s.Threads() {
		if !th.Starred {
			t.Errorf("thread %s not starred", th.ID)
		}
	}
	if len(s.Threads()) != 2 {
		t.Error("star removed threads from the view")
	}
	if out := s.Settle(m.Run(context.Background())); out.Kind != OutcomeApplied {
		t.Errorf("outcome = %v, want applied", out.Kind)
	}
}

func TestBulk_ToggleStar(t *testing.T) {
	p := newFakeProvider()
	s := readySession(p, "a")

	m := s.ToggleStar("a")
	if m == nil || m.Action != ActionStar {
		t.Fatalf("ToggleStar on unstarred = %+v", m)
	}
	s.Settle(m.Run(context.Background()))

	m = s.ToggleStar("a")
	if m == nil || m.Action != ActionUnstar {
		t.Fatalf("ToggleStar on starred = %+v", m)
	}
	if s.ToggleStar("missing") != nil {
		t.Error("ToggleStar on unknown id should be nil")
	}
}

func TestBulk_FailureRollsBack(t *testing.T) {
	p := newFakeProvider()
	p.bulkErr = errors.New("quota exceeded")
	s := readySession(p, "a", "b", "c", "d")
	s.Collection().Open("c")
	s.Collection().ToggleSelect("b", true)
	s.Collection().ToggleSelect("c", true)
	s.Collection().ToggleSelect("d", true)

	m := s.Bulk(ActionArchive)
	if diff := cmp.Diff([]string{"a"}, ids(s.Threads())); diff != "" {
		t.Fatalf("optimistic removal (-want +got):\n%s", diff)
	}

	out := s.Settle(m.Run(context.Background()))
	if out.Kind != OutcomeRolledBack {
		t.Errorf("outcome = %v, want rolled back", out.Kind)
	}
	if diff := cmp.Diff([]string{"a", "b", "c", "d"}, ids(s.Threads())); diff != "" {
		t.Errorf("threads after rollback (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"b", "c", "d"}, s.Selected()); diff != "" {
		t.Errorf("selection after rollback (-want +got):\n%s", diff)
	}
	if th, ok := s.OpenThread(); !ok || th.ID != "c" {
		t.Errorf("open thread after rollback = %q, want c", th.ID)
	}
	if got := s.BulkError(); got != "Update failed: quota exceeded" {
		t.Errorf("BulkError() = %q", got)
	}

	if again := s.Settle(m.Run(context.Background())); again.Kind != OutcomeRolledBack {
		t.Errorf("second Settle = %v, want the recorded outcome", again.Kind)
	}
	if len(s.Threads()) != 4 {
		t.Error("second Settle restored threads twice")
	}
}

func TestBulk_StarFailureRestoresFlags(t *testing.T) {
	p := newFakeProvider()
	p.setPage(FolderInbox, "", "", &Page{Threads: []ThreadSummary{
		{ID: "a", Starred: true},
		{ID: "b"},
	}})
	s := NewSession("ops@example.com", p, WithLogger(testLogger()))
	run(t, s, s.Start())
	s.Collection().ToggleSelectAll()

	m := s.Bulk(ActionUnstar)
	p.bulkErr = errors.New("boom")
	s.Settle(m.Run(context.Background()))

	got := map[string]bool{}
	for _, th := range s.Threads() {
		got[th.ID] = th.Starred
	}
	if diff := cmp.Diff(map[string]bool{"a": true, "b": false}, got); diff != "" {
		t.Errorf("starred flags after rollback (-want +got):\n%s", diff)
	}
}

func TestBulk_FailureAfterReplaceIsStale(t *testing.T) {
	p := newFakeProvider()
	s := readySession(p, "a", "b")
	s.Collection().ToggleSelect("a", true)

	m := s.Bulk(ActionDelete)
	p.setPage(FolderSent, "", "", &Page{Threads: threads("s1")})
	run(t, s, s.SelectFolder(FolderSent))

	p.bulkErr = errors.New("boom")
	out := s.Settle(m.Run(context.Background()))
	if out.Kind != OutcomeStale {
		t.Errorf("outcome = %v, want stale", out.Kind)
	}
	if diff := cmp.Diff([]string{"s1"}, ids(s.Threads())); diff != "" {
		t.Errorf("new folder disturbed by stale rollback (-want +got):\n%s", diff)
	}
	if s.BulkError() == "" {
		t.Error("stale failure should still be reported")
	}
}

func TestBulk_NewBulkClearsError(t *testing.T) {
	p := newFakeProvider()
	p.bulkErr = errors.New("boom")
	s := readySession(p, "a", "b")

	s.Settle(s.Bulk(ActionStar).Run(context.Background()))
	if s.BulkError() == "" {
		t.Fatal("expected a bulk error")
	}
	p.bulkErr = nil
	s.Settle(s.Bulk(ActionStar).Run(context.Background()))
	if s.BulkError() != "" {
		t.Errorf("BulkError() = %q after success", s.BulkError())
	}
}

func TestBulk_ForeignMutationLeavesSessionUntouched(t *testing.T) {
	pa := newFakeProvider()
	a := readySession(pa, "a1", "a2")
	m := a.ApplyBulk(ActionDelete, []string{"a1"})
	a.Close()

	pb := newFakeProvider()
	b := readySession(pb, "b1", "b2")
	if b.Owns(m) || !a.Owns(m) {
		t.Fatalf("Owns: a=%v b=%v", a.Owns(m), b.Owns(m))
	}

	out := b.Settle(MutationResult{Mutation: m, Err: errors.New("backend down")})
	if out.Kind != OutcomeStale {
		t.Errorf("outcome = %v, want stale", out.Kind)
	}
	if diff := cmp.Diff([]string{"b1", "b2"}, ids(b.Threads())); diff != "" {
		t.Errorf("threads (-want +got):\n%s", diff)
	}
	if b.BulkError() != "" {
		t.Errorf("bulk error leaked into other session: %q", b.BulkError())
	}
	if m.Outcome().Kind != OutcomePending {
		t.Error("foreign settle should not settle the mutation")
	}
}

func TestBulk_DuringQueryLoadSettlesStale(t *testing.T) {
	p := newFakeProvider()
	s := readySession(p, "a", "b")
	s.Collection().Open("b")
	s.Collection().ToggleSelect("a", true)

	f := s.CommitQuery("invoice", FilterSet{})
	if s.Collection().SelectedCount() != 0 {
		t.Error("selection kept across a query commit")
	}
	if diff := cmp.Diff([]string{"a", "b"}, ids(s.Threads())); diff != "" {
		t.Errorf("rows while loading (-want +got):\n%s", diff)
	}

	m := s.Bulk(ActionArchive)
	if m == nil || !slices.Equal(m.IDs, []string{"b"}) {
		t.Fatalf("bulk while loading = %+v", m)
	}
	p.setPage(FolderInbox, "invoice", "", &Page{Threads: threads("c")})
	run(t, s, f)

	out := s.Settle(MutationResult{Mutation: m, Err: errors.New("backend down")})
	if out.Kind != OutcomeStale {
		t.Errorf("outcome = %v, want stale", out.Kind)
	}
	if diff := cmp.Diff([]string{"c"}, ids(s.Threads())); diff != "" {
		t.Errorf("threads (-want +got):\n%s", diff)
	}
}
