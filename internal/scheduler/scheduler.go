package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultJobTimeout bounds a single run when the job sets none.
const DefaultJobTimeout = 5 * time.Minute

// ErrUnknownJob is returned by Trigger for a name that was never added.
var ErrUnknownJob = errors.New("unknown job")

// Scheduler runs registered jobs on their cron schedules. A job that is
// still running when its next tick arrives skips that tick.
type Scheduler struct {
	logger *slog.Logger
	store  *Store // optional
	cron   *cron.Cron

	mu      sync.Mutex
	jobs    map[string]*entry
	running bool
}

type entry struct {
	job Job
	id  cron.EntryID

	// busy is held while the job runs, shared by cron ticks and Trigger.
	busy sync.Mutex
}

// New creates a scheduler. store may be nil, in which case runs are
// only logged.
func New(logger *slog.Logger, store *Store) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		logger: logger,
		store:  store,
		cron:   cron.New(cron.WithLogger(cronLogger{logger})),
		jobs:   make(map[string]*entry),
	}
}

// Add registers a job. The spec is validated immediately.
func (s *Scheduler) Add(job Job) error {
	if job.Name == "" || job.Run == nil {
		return fmt.Errorf("job needs a name and a run func")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.Name]; exists {
		return fmt.Errorf("job %q already registered", job.Name)
	}

	e := &entry{job: job}
	id, err := s.cron.AddFunc(job.Spec, func() { s.fire(e) })
	if err != nil {
		return fmt.Errorf("job %q: invalid schedule %q: %w", job.Name, job.Spec, err)
	}
	e.id = id
	s.jobs[job.Name] = e

	s.logger.Info("job registered", "job", job.Name, "schedule", job.Spec)
	return nil
}

// Start closes runs interrupted by a previous process and begins
// firing jobs.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.mu.Unlock()

	if s.store != nil {
		n, err := s.store.FailRunning(ctx, time.Now())
		if err != nil {
			return err
		}
		if n > 0 {
			s.logger.Warn("closed interrupted job runs", "count", n)
		}
	}

	s.cron.Start()
	s.logger.Info("scheduler started", "jobs", len(s.jobs))
	return nil
}

// Stop halts the schedule and waits for running jobs to finish or ctx
// to expire.
func (s *Scheduler) Stop(ctx context.Context) {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	select {
	case <-s.cron.Stop().Done():
		s.logger.Info("scheduler stopped")
	case <-ctx.Done():
		s.logger.Warn("scheduler stop timed out with jobs still running")
	}
}

// Trigger runs a job now, outside its schedule, and waits for it.
func (s *Scheduler) Trigger(ctx context.Context, name string) (*Execution, error) {
	s.mu.Lock()
	e, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}

	e.busy.Lock()
	defer e.busy.Unlock()
	return s.execute(ctx, e.job)
}

// JobInfo describes a registered job.
type JobInfo struct {
	Name     string    `json:"name"`
	Schedule string    `json:"schedule"`
	Next     time.Time `json:"next,omitzero"`
	Prev     time.Time `json:"prev,omitzero"`
}

// Jobs lists registered jobs sorted by name.
func (s *Scheduler) Jobs() []JobInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]JobInfo, 0, len(s.jobs))
	for name, e := range s.jobs {
		ce := s.cron.Entry(e.id)
		out = append(out, JobInfo{
			Name:     name,
			Schedule: e.job.Spec,
			Next:     ce.Next,
			Prev:     ce.Prev,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// fire is the cron callback.
func (s *Scheduler) fire(e *entry) {
	if !e.busy.TryLock() {
		s.logger.Info("job still running, skipping tick", "job", e.job.Name)
		return
	}
	defer e.busy.Unlock()

	if _, err := s.execute(context.Background(), e.job); err != nil {
		s.logger.Error("job execution failed", "job", e.job.Name, "error", err)
	}
}

// execute runs a job and records the execution.
func (s *Scheduler) execute(parent context.Context, job Job) (*Execution, error) {
	timeout := job.Timeout
	if timeout <= 0 {
		timeout = DefaultJobTimeout
	}
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	exec := &Execution{
		ID:        NewID(),
		Job:       job.Name,
		StartedAt: time.Now(),
		Status:    StatusRunning,
	}
	if s.store != nil {
		if err := s.store.CreateExecution(ctx, exec); err != nil {
			s.logger.Error("failed to record job start", "job", job.Name, "error", err)
		}
	}

	s.logger.Info("executing job", "job", job.Name, "execution_id", exec.ID)

	runErr := job.Run(ctx)

	completed := time.Now()
	exec.CompletedAt = &completed
	if runErr != nil {
		exec.Status = StatusFailed
		exec.Result = runErr.Error()
	} else {
		exec.Status = StatusCompleted
	}

	if s.store != nil {
		// The run's context may have expired; the record still lands.
		if err := s.store.UpdateExecution(context.WithoutCancel(ctx), exec); err != nil {
			s.logger.Error("failed to update job run", "id", exec.ID, "error", err)
		}
	}

	s.logger.Info("job execution completed",
		"job", job.Name,
		"execution_id", exec.ID,
		"status", exec.Status,
		"duration", completed.Sub(exec.StartedAt),
	)

	return exec, runErr
}

// cronLogger routes the cron library's logging through slog.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
