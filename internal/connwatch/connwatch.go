// Package connwatch tracks the reachability of the services a running
// shop depends on: the LLM providers and the shop database.
//
// Each dependency is probed on its own goroutine. While a dependency is
// down it is re-probed with exponential backoff (2s, 4s, 8s, ... capped
// at one minute); once up it is polled every minute. State changes are
// logged and reported to an optional callback, and [Monitor.Status]
// feeds the /health endpoint.
package connwatch

import (
	"context"
	"log/slog"
	"maps"
	"sync"
	"time"
)

// Probe checks whether a dependency is reachable. Return nil if healthy.
type Probe func(ctx context.Context) error

// Schedule controls probe timing.
type Schedule struct {
	Initial time.Duration // first retry delay while down (default 2s)
	Max     time.Duration // backoff ceiling (default 60s)
	Poll    time.Duration // interval while up (default 60s)
	Timeout time.Duration // per-probe limit (default 10s)
}

// DefaultSchedule returns the production probe timing.
func DefaultSchedule() Schedule {
	return Schedule{
		Initial: 2 * time.Second,
		Max:     time.Minute,
		Poll:    time.Minute,
		Timeout: 10 * time.Second,
	}
}

func (s Schedule) withDefaults() Schedule {
	d := DefaultSchedule()
	if s.Initial <= 0 {
		s.Initial = d.Initial
	}
	if s.Max <= 0 {
		s.Max = d.Max
	}
	if s.Poll <= 0 {
		s.Poll = d.Poll
	}
	if s.Timeout <= 0 {
		s.Timeout = d.Timeout
	}
	return s
}

// Dependency describes one watched service.
type Dependency struct {
	Name     string
	Probe    Probe
	Schedule Schedule

	// OnChange is called after every up/down transition, including the
	// first successful probe. Optional.
	OnChange func(name string, up bool, err error)
}

// Status is the health of one dependency, as served by /health.
type Status struct {
	Name      string    `json:"name"`
	Up        bool      `json:"up"`
	LastCheck time.Time `json:"last_check,omitzero"`
	LastError string    `json:"last_error,omitempty"`
	Failures  int       `json:"consecutive_failures,omitempty"`
}

type check struct {
	dep    Dependency
	logger *slog.Logger

	mu     sync.Mutex
	status Status
}

// Monitor watches a set of dependencies.
type Monitor struct {
	logger *slog.Logger

	mu     sync.Mutex
	checks map[string]*check
	cancel []context.CancelFunc
	wg     sync.WaitGroup
}

// NewMonitor creates an empty monitor.
func NewMonitor(logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		logger: logger,
		checks: make(map[string]*check),
	}
}

// Watch starts probing dep until ctx is cancelled or [Monitor.Stop] is
// called. A dependency is reported down until its first probe succeeds.
// It returns false, and starts nothing, if the name is already watched.
func (m *Monitor) Watch(ctx context.Context, dep Dependency) bool {
	if dep.Name == "" || dep.Probe == nil {
		panic("connwatch: Dependency needs a Name and a Probe")
	}
	dep.Schedule = dep.Schedule.withDefaults()

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, dup := m.checks[dep.Name]; dup {
		return false
	}

	c := &check{
		dep:    dep,
		logger: m.logger.With("service", dep.Name),
		status: Status{Name: dep.Name},
	}
	m.checks[dep.Name] = c

	watchCtx, cancel := context.WithCancel(ctx)
	m.cancel = append(m.cancel, cancel)
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		c.run(watchCtx)
	}()
	return true
}

// Status returns the health of every watched dependency keyed by name.
func (m *Monitor) Status() map[string]Status {
	m.mu.Lock()
	checks := maps.Clone(m.checks)
	m.mu.Unlock()

	out := make(map[string]Status, len(checks))
	for name, c := range checks {
		out[name] = c.snapshot()
	}
	return out
}

// Healthy reports whether every watched dependency is up.
func (m *Monitor) Healthy() bool {
	for _, s := range m.Status() {
		if !s.Up {
			return false
		}
	}
	return true
}

// Stop cancels every probe loop and waits for them to exit.
func (m *Monitor) Stop() {
	m.mu.Lock()
	cancels := m.cancel
	m.cancel = nil
	m.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	m.wg.Wait()
}

func (c *check) snapshot() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *check) run(ctx context.Context) {
	sched := c.dep.Schedule
	backoff := sched.Initial

	for {
		var next time.Duration
		if c.probe(ctx) {
			backoff = sched.Initial
			next = sched.Poll
		} else {
			next = backoff
			backoff = min(backoff*2, sched.Max)
		}

		timer := time.NewTimer(next)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// probe runs one check, records it and reports whether the dependency
// is up.
func (c *check) probe(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, c.dep.Schedule.Timeout)
	err := c.dep.Probe(probeCtx)
	cancel()
	if ctx.Err() != nil {
		return false
	}

	c.mu.Lock()
	wasUp := c.status.Up
	first := c.status.LastCheck.IsZero()
	c.status.LastCheck = time.Now()
	c.status.Up = err == nil
	if err != nil {
		c.status.LastError = err.Error()
		c.status.Failures++
	} else {
		c.status.LastError = ""
		c.status.Failures = 0
	}
	failures := c.status.Failures
	c.mu.Unlock()

	switch {
	case err == nil && !wasUp:
		if first {
			c.logger.Info("service connected")
		} else {
			c.logger.Info("service recovered")
		}
		c.notify(true, nil)
	case err != nil && wasUp:
		c.logger.Warn("service became unreachable", "error", err)
		c.notify(false, err)
	case err != nil:
		c.logger.Debug("service still unreachable", "failures", failures, "error", err)
	}
	return err == nil
}

func (c *check) notify(up bool, err error) {
	if c.dep.OnChange != nil {
		c.dep.OnChange(c.dep.Name, up, err)
	}
}
