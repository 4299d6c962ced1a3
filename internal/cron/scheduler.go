package cron

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/haasonsaas/specbot/internal/engine"
	"github.com/haasonsaas/specbot/internal/expr"
	"github.com/haasonsaas/specbot/internal/spec"
)

const (
	defaultTickInterval = time.Minute
	// fallbackDelay reschedules jobs whose expression never matches
	// within the search horizon.
	fallbackDelay = time.Hour
)

// Scheduler ticks once a minute and runs every due job sequentially.
type Scheduler struct {
	engine       *engine.Engine
	eval         *expr.Evaluator
	state        expr.StateReader
	logger       *slog.Logger
	now          func() time.Time
	tickInterval time.Duration
	location     *time.Location
	observe      func(job, status string)
	tick         func(now time.Time)

	mu      sync.Mutex
	jobs    []*job
	started bool
	wg      sync.WaitGroup
}

type job struct {
	decl     spec.Job
	schedule *Schedule
	location *time.Location
	nextRun  time.Time
}

// Option configures the scheduler.
type Option func(*Scheduler)

// WithLogger overrides the default logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithNow overrides the clock for tests.
func WithNow(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// WithTickInterval overrides the tick interval for tests.
func WithTickInterval(interval time.Duration) Option {
	return func(s *Scheduler) {
		if interval > 0 {
			s.tickInterval = interval
		}
	}
}

// WithState attaches the scoped-variable reader used by when guards.
func WithState(state expr.StateReader) Option {
	return func(s *Scheduler) { s.state = state }
}

// WithRunObserver installs a callback invoked after every due job with
// its outcome: "success", "error", or "skipped". Used for metrics.
func WithRunObserver(observe func(job, status string)) Option {
	return func(s *Scheduler) { s.observe = observe }
}

// WithTickObserver installs a callback invoked with the instant of every
// scheduler pass, including the immediate one at Start. The runtime uses
// it to surface synthetic scheduler_tick events.
func WithTickObserver(tick func(now time.Time)) Option {
	return func(s *Scheduler) { s.tick = tick }
}

// NewScheduler creates an empty scheduler.
func NewScheduler(eng *engine.Engine, eval *expr.Evaluator, opts ...Option) *Scheduler {
	s := &Scheduler{
		engine:       eng,
		eval:         eval,
		logger:       slog.Default(),
		now:          time.Now,
		tickInterval: defaultTickInterval,
		location:     time.UTC,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "cron")
	return s
}

// Register replaces the job table from the document. Jobs with invalid
// cron expressions or timezones are logged and skipped.
func (s *Scheduler) Register(decl spec.Scheduler) {
	base := time.UTC
	if decl.Timezone != "" {
		loc, err := time.LoadLocation(decl.Timezone)
		if err != nil {
			s.logger.Warn("bad scheduler timezone, using UTC", "timezone", decl.Timezone, "error", err)
		} else {
			base = loc
		}
	}

	now := s.now()
	jobs := make([]*job, 0, len(decl.Jobs))
	for _, entry := range decl.Jobs {
		schedule, err := Parse(entry.Cron)
		if err != nil {
			s.logger.Warn("cron job skipped", "job", entry.Name, "error", err)
			continue
		}
		loc := base
		if entry.Timezone != "" {
			if jobLoc, err := time.LoadLocation(entry.Timezone); err != nil {
				s.logger.Warn("bad job timezone, using scheduler default", "job", entry.Name, "timezone", entry.Timezone, "error", err)
			} else {
				loc = jobLoc
			}
		}
		j := &job{decl: entry, schedule: schedule, location: loc}
		j.nextRun = s.computeNext(j, now)
		jobs = append(jobs, j)
	}

	s.mu.Lock()
	s.location = base
	s.jobs = jobs
	s.mu.Unlock()
}

// Start performs one immediate check, then ticks until ctx is done.
// Registrations survive Stop; only the loop ends.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.tickPass(ctx)
		ticker := time.NewTicker(s.tickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.tickPass(ctx)
			}
		}
	}()
}

// Stop waits for the tick loop to drain after its context is cancelled.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.mu.Lock()
		s.started = false
		s.mu.Unlock()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// tickPass is one loop iteration: announce the tick, then run due jobs.
func (s *Scheduler) tickPass(ctx context.Context) {
	if s.tick != nil {
		s.tick(s.now())
	}
	s.runDue(ctx)
}

// RunOnce executes due jobs immediately, mainly for tests. Returns how
// many jobs fired.
func (s *Scheduler) RunOnce(ctx context.Context) int {
	return s.runDue(ctx)
}

// NextRun reports a job's scheduled next run; ok is false for unknown
// job names.
func (s *Scheduler) NextRun(name string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, j := range s.jobs {
		if j.decl.Name == name {
			return j.nextRun, true
		}
	}
	return time.Time{}, false
}

// runDue fires every enabled job whose nextRun has arrived. Jobs run
// sequentially; a failing job is logged and stays scheduled.
func (s *Scheduler) runDue(ctx context.Context) int {
	now := s.now()
	s.mu.Lock()
	due := make([]*job, 0)
	for _, j := range s.jobs {
		if j.decl.Enabled && !j.nextRun.After(now) {
			due = append(due, j)
		}
	}
	s.mu.Unlock()

	fired := 0
	for _, j := range due {
		if ctx.Err() != nil {
			break
		}
		if s.fire(ctx, j, now) {
			fired++
		}
		next := s.computeNext(j, now)
		s.mu.Lock()
		j.nextRun = next
		s.mu.Unlock()
	}
	return fired
}

func (s *Scheduler) fire(ctx context.Context, j *job, now time.Time) bool {
	fired, status := s.run(ctx, j, now)
	if s.observe != nil {
		s.observe(j.decl.Name, status)
	}
	return fired
}

func (s *Scheduler) run(ctx context.Context, j *job, now time.Time) (fired bool, status string) {
	ac := engine.NewContext(map[string]any{
		"job": map[string]any{
			"name": j.decl.Name,
			"cron": j.decl.Cron,
		},
		"now": float64(now.UnixMilli()),
	})
	if j.decl.When != "" {
		val, err := s.eval.EvaluateWithState(j.decl.When, ac.Data, s.state, ac.Scope())
		if err != nil {
			s.logger.Warn("job guard failed", "job", j.decl.Name, "error", err)
			return false, "error"
		}
		if !expr.Truthy(val) {
			return false, "skipped"
		}
	}

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("job panic", "job", j.decl.Name, "panic", r)
			status = "error"
		}
	}()
	actions, err := spec.NormalizeActions(j.decl.Actions)
	if err != nil {
		s.logger.Warn("job actions invalid", "job", j.decl.Name, "error", err)
		return false, "error"
	}
	status = "success"
	results := s.engine.RunActions(ctx, actions, ac)
	for _, res := range results {
		if res.Err != nil {
			s.logger.Warn("job action failed", "job", j.decl.Name, "verb", res.Verb, "error", res.Err)
			status = "error"
		}
	}
	return true, status
}

// computeNext guarantees a strictly future next run, falling back to a
// fixed delay when the expression never matches within the horizon.
func (s *Scheduler) computeNext(j *job, now time.Time) time.Time {
	if next, ok := j.schedule.Next(now, j.location); ok {
		return next
	}
	s.logger.Warn("no cron match within a year, delaying", "job", j.decl.Name, "delay", fallbackDelay)
	return now.Add(fallbackDelay)
}
