package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func noop(context.Context) error { return nil }

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before timeout")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestAddJob(t *testing.T) {
	s := New()
	if err := s.AddJob("analytics", "*/30 * * * *", noop); err != nil {
		t.Fatalf("AddJob() = %v", err)
	}
	if err := s.AddJob("bad", "every tuesday", noop); err == nil {
		t.Error("AddJob() with invalid cron = nil, want error")
	}

	statuses := s.Status()
	if len(statuses) != 1 || statuses[0].Name != "analytics" || statuses[0].Schedule != "*/30 * * * *" {
		t.Errorf("Status() = %+v", statuses)
	}
}

func TestAddJobReplacesExisting(t *testing.T) {
	s := New()
	if err := s.AddJob("analytics", "0 2 * * *", noop); err != nil {
		t.Fatal(err)
	}
	first := s.jobs["analytics"].entryID
	if err := s.AddJob("analytics", "0 3 * * *", noop); err != nil {
		t.Fatal(err)
	}
	if s.jobs["analytics"].entryID == first {
		t.Error("entry id unchanged after replacement")
	}
	if len(s.cron.Entries()) != 1 {
		t.Errorf("cron entries = %d, want 1", len(s.cron.Entries()))
	}
}

func TestRemoveJob(t *testing.T) {
	s := New()
	if err := s.AddJob("analytics", "0 2 * * *", noop); err != nil {
		t.Fatal(err)
	}
	s.RemoveJob("analytics")
	s.RemoveJob("missing")
	if len(s.Status()) != 0 {
		t.Error("job still listed after RemoveJob")
	}
	if err := s.Trigger("analytics"); !errors.Is(err, ErrUnknownJob) {
		t.Errorf("Trigger() = %v, want ErrUnknownJob", err)
	}
}

func TestTrigger(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	s := New()
	err := s.AddJob("analytics", "0 2 * * *", func(ctx context.Context) error {
		calls.Add(1)
		<-release
		return errors.New("notion unavailable")
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := s.Trigger("analytics"); err != nil {
		t.Fatalf("Trigger() = %v", err)
	}
	waitFor(t, func() bool { return calls.Load() == 1 })
	if err := s.Trigger("analytics"); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Trigger() = %v, want ErrAlreadyRunning", err)
	}
	if st := s.Status()[0]; !st.Running {
		t.Error("Status().Running = false during run")
	}

	close(release)
	waitFor(t, func() bool { return !s.Status()[0].Running })
	st := s.Status()[0]
	if st.LastError != "notion unavailable" || !st.LastRun.IsZero() {
		t.Errorf("after failure: %+v", st)
	}
}

func TestTriggerRecordsSuccess(t *testing.T) {
	s := New()
	if err := s.AddJob("analytics", "0 2 * * *", noop); err != nil {
		t.Fatal(err)
	}
	if err := s.Trigger("analytics"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return !s.Status()[0].LastRun.IsZero() })
	if s.Status()[0].LastError != "" {
		t.Error("LastError set after success")
	}
}

func TestStopCancelsRunningJobs(t *testing.T) {
	started := make(chan struct{})
	s := New()
	err := s.AddJob("analytics", "0 2 * * *", func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})
	if err != nil {
		t.Fatal(err)
	}
	s.Start()
	if !s.IsRunning() {
		t.Error("IsRunning() = false after Start")
	}
	if err := s.Trigger("analytics"); err != nil {
		t.Fatal(err)
	}
	<-started

	done := s.Stop()
	select {
	case <-done.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("Stop() did not wait for the job to return")
	}
	if s.IsRunning() {
		t.Error("IsRunning() = true after Stop")
	}
	if err := s.Trigger("analytics"); !errors.Is(err, ErrStopped) {
		t.Errorf("Trigger() after Stop = %v, want ErrStopped", err)
	}
}

func TestValidateCronExpr(t *testing.T) {
	tests := []struct {
		expr    string
		wantErr bool
	}{
		{"*/30 * * * *", false},
		{"0 2 * * 1-5", false},
		{"0 2 * *", true},
		{"@every 5m", true},
		{"", true},
	}
	for _, tt := range tests {
		if err := ValidateCronExpr(tt.expr); (err != nil) != tt.wantErr {
			t.Errorf("ValidateCronExpr(%q) = %v, wantErr %v", tt.expr, err, tt.wantErr)
		}
	}
}
