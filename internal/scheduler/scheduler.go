// Package scheduler runs named background jobs on cron schedules, such as
// the analytics cache refresh.
package scheduler

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// JobFunc is the work a job performs. ctx is cancelled on Stop.
type JobFunc func(ctx context.Context) error

// Errors returned by Trigger.
var (
	ErrStopped        = errors.New("scheduler is stopped")
	ErrUnknownJob     = errors.New("job is not scheduled")
	ErrAlreadyRunning = errors.New("job is already running")
)

// JobStatus reports one job's schedule and last outcome.
type JobStatus struct {
	Name      string    `json:"name"`
	Schedule  string    `json:"schedule"`
	Running   bool      `json:"running"`
	LastRun   time.Time `json:"last_run,omitempty"`
	NextRun   time.Time `json:"next_run"`
	LastError string    `json:"last_error,omitempty"`
}

type job struct {
	entryID  cron.EntryID
	schedule string
	fn       JobFunc
	running  bool
	lastRun  time.Time
	lastErr  error
}

// Scheduler owns a cron instance and the jobs registered on it. A job never
// overlaps with itself: a tick that fires while it runs is skipped.
type Scheduler struct {
	cron   *cron.Cron
	logger *slog.Logger

	mu      sync.RWMutex
	jobs    map[string]*job
	started bool
	stopped bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// New creates an empty Scheduler.
func New() *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:   cron.New(cron.WithParser(parser)),
		logger: slog.Default(),
		jobs:   make(map[string]*job),
		ctx:    ctx,
		cancel: cancel,
	}
}

// WithLogger sets the logger for the scheduler.
func (s *Scheduler) WithLogger(logger *slog.Logger) *Scheduler {
	s.logger = logger
	return s
}

// AddJob schedules fn under name, replacing any job with that name.
func (s *Scheduler) AddJob(name, cronExpr string, fn JobFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.jobs[name]; ok {
		s.cron.Remove(old.entryID)
		delete(s.jobs, name)
	}

	j := &job{schedule: cronExpr, fn: fn}
	entryID, err := s.cron.AddFunc(cronExpr, func() {
		if s.claim(name, j) {
			s.run(name, j)
		}
	})
	if err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", cronExpr, err)
	}
	j.entryID = entryID
	s.jobs[name] = j
	s.logger.Info("scheduled job", "job", name, "schedule", cronExpr,
		"next_run", s.cron.Entry(entryID).Next)
	return nil
}

// RemoveJob unschedules name. A run in progress finishes.
func (s *Scheduler) RemoveJob(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[name]; ok {
		s.cron.Remove(j.entryID)
		delete(s.jobs, name)
		s.logger.Info("removed job", "job", name)
	}
}

// claim marks j running. It reports false when the scheduler is stopped,
// the job was replaced or it is already running.
func (s *Scheduler) claim(name string, j *job) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped || s.jobs[name] != j || j.running {
		return false
	}
	j.running = true
	s.wg.Add(1)
	return true
}

// run executes j. The caller must have claimed it.
func (s *Scheduler) run(name string, j *job) {
	defer s.wg.Done()

	start := time.Now()
	s.logger.Debug("job starting", "job", name)
	err := j.fn(s.ctx)

	s.mu.Lock()
	j.running = false
	j.lastErr = err
	if err == nil {
		j.lastRun = time.Now()
	}
	s.mu.Unlock()

	if err != nil {
		s.logger.Error("job failed", "job", name, "duration", time.Since(start), "error", err)
		return
	}
	s.logger.Info("job completed", "job", name, "duration", time.Since(start))
}

// Trigger runs name now, outside its schedule.
func (s *Scheduler) Trigger(name string) error {
	s.mu.RLock()
	j, ok := s.jobs[name]
	stopped := s.stopped
	s.mu.RUnlock()

	switch {
	case stopped:
		return ErrStopped
	case !ok:
		return fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	if !s.claim(name, j) {
		return fmt.Errorf("%w: %s", ErrAlreadyRunning, name)
	}
	go s.run(name, j)
	return nil
}

// Start begins executing scheduled jobs.
func (s *Scheduler) Start() {
	s.mu.Lock()
	s.started = true
	n := len(s.jobs)
	s.mu.Unlock()

	s.cron.Start()
	s.logger.Info("scheduler started", "jobs", n)
}

// IsRunning returns true if the scheduler has been started and not yet stopped.
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.started && !s.stopped
}

// Stop halts the cron loop, cancels running jobs and returns a context
// that is done once they have all returned.
func (s *Scheduler) Stop() context.Context {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()

	cronCtx := s.cron.Stop()
	s.cancel()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-cronCtx.Done()
		s.wg.Wait()
		cancel()
	}()
	return ctx
}

// Status returns every job's status ordered by name.
func (s *Scheduler) Status() []JobStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	statuses := make([]JobStatus, 0, len(s.jobs))
	for name, j := range s.jobs {
		st := JobStatus{
			Name:     name,
			Schedule: j.schedule,
			Running:  j.running,
			LastRun:  j.lastRun,
			NextRun:  s.cron.Entry(j.entryID).Next,
		}
		if j.lastErr != nil {
			st.LastError = j.lastErr.Error()
		}
		statuses = append(statuses, st)
	}
	slices.SortFunc(statuses, func(a, b JobStatus) int { return cmp.Compare(a.Name, b.Name) })
	return statuses
}

// ValidateCronExpr validates a cron expression without scheduling anything.
func ValidateCronExpr(expr string) error {
	if _, err := parser.Parse(expr); err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}
	return nil
}
