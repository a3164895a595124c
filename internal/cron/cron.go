// Package cron runs the dashboard's background jobs on cron schedules.
package cron

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/loykin/pullpilot/internal/metrics"
)

// Job is a named unit of recurring work. Schedule takes any standard
// cron expression or descriptor ("@every 30s", "*/5 * * * *").
// A tick is skipped while the previous run of the same job is active.
//
// Name must be unique across jobs inside the same Scheduler.
type Job struct {
	Name     string
	Schedule string
	Run      func(ctx context.Context) error

	running atomic.Bool
}

func (j *Job) validate() error {
	if strings.TrimSpace(j.Name) == "" {
		return errors.New("cron job requires a name")
	}
	if strings.TrimSpace(j.Schedule) == "" {
		return errors.New("cron job requires a schedule")
	}
	if j.Run == nil {
		return errors.New("cron job requires a run func")
	}
	if _, err := cron.ParseStandard(j.Schedule); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", j.Schedule, err)
	}
	return nil
}

// Scheduler owns one robfig cron instance. Its Stop satisfies the
// session guard's Stopper so that background jobs end with the session.
type Scheduler struct {
	logger *slog.Logger

	mu      sync.Mutex
	c       *cron.Cron
	jobs    map[string]cron.EntryID
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
}

// NewScheduler returns an idle scheduler.
func NewScheduler(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		logger: logger.With("component", "cron"),
		c:      cron.New(),
		jobs:   make(map[string]cron.EntryID),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Add registers job. Jobs may be added before or after Start.
func (s *Scheduler) Add(job *Job) error {
	if err := job.validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.jobs[job.Name]; dup {
		return fmt.Errorf("cron job %s already registered", job.Name)
	}
	id, err := s.c.AddFunc(job.Schedule, func() { s.runJob(job) })
	if err != nil {
		return fmt.Errorf("failed to schedule %s: %w", job.Name, err)
	}
	s.jobs[job.Name] = id
	s.logger.Debug("Cron job scheduled", "job", job.Name, "schedule", job.Schedule)
	return nil
}

// Start launches the scheduler. A stopped scheduler cannot be restarted.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return errors.New("scheduler already started")
	}
	if s.ctx.Err() != nil {
		return errors.New("scheduler stopped")
	}
	s.started = true
	s.c.Start()
	return nil
}

// Stop halts future ticks and cancels runs in flight. It reports whether
// the scheduler was running.
func (s *Scheduler) Stop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancel()
	if !s.started {
		return false
	}
	s.started = false
	s.c.Stop()
	s.logger.Debug("Cron scheduler stopped")
	return true
}

// Next returns the next scheduled run of the named job, or the zero time
// when it is unknown or the scheduler is not running.
func (s *Scheduler) Next(name string) time.Time {
	s.mu.Lock()
	id, ok := s.jobs[name]
	started := s.started
	s.mu.Unlock()
	if !ok || !started {
		return time.Time{}
	}
	return s.c.Entry(id).Next
}

func (s *Scheduler) runJob(j *Job) {
	if s.ctx.Err() != nil {
		return
	}
	if !j.running.CompareAndSwap(false, true) {
		metrics.IncCronRun(j.Name, "skipped")
		s.logger.Debug("Skipping tick, previous run still active", "job", j.Name)
		return
	}
	defer j.running.Store(false)

	if err := j.Run(s.ctx); err != nil {
		metrics.IncCronRun(j.Name, "error")
		s.logger.Warn("Cron job failed", "job", j.Name, "error", err)
		return
	}
	metrics.IncCronRun(j.Name, "ok")
}
