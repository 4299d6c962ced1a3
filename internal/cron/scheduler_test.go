package cron

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/haasonsaas/specbot/internal/engine"
	"github.com/haasonsaas/specbot/internal/expr"
	"github.com/haasonsaas/specbot/internal/spec"
)

type jobRecorder struct {
	mu    sync.Mutex
	calls []map[string]any
}

func (r *jobRecorder) handler(_ context.Context, _ *engine.Context, params map[string]any) (any, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, params)
	return nil, nil
}

func (r *jobRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func newTestScheduler(t *testing.T, now func() time.Time) (*Scheduler, *jobRecorder, *engine.Executor) {
	t.Helper()
	rec := &jobRecorder{}
	eval := expr.New()
	x := engine.NewExecutor(eval)
	x.Register("log", rec.handler)
	eng := engine.New(x, eval)
	s := NewScheduler(eng, eval, WithNow(now))
	return s, rec, x
}

func TestRunOnceFiresDueJobs(t *testing.T) {
	clock := time.Date(2025, 1, 1, 0, 3, 0, 0, time.UTC)
	s, rec, _ := newTestScheduler(t, func() time.Time { return clock })
	s.Register(spec.Scheduler{Jobs: []spec.Job{{
		Name:    "quarterly",
		Cron:    "*/15 * * * *",
		Enabled: true,
		Actions: []spec.Action{{Verb: "log", Params: map[string]any{"content": "tick"}}},
	}}})

	next, ok := s.NextRun("quarterly")
	if !ok {
		t.Fatal("job not registered")
	}
	want := time.Date(2025, 1, 1, 0, 15, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Fatalf("NextRun() = %v, want %v", next, want)
	}

	// Not due yet.
	if fired := s.RunOnce(context.Background()); fired != 0 {
		t.Fatalf("RunOnce() fired %d jobs before nextRun", fired)
	}

	clock = want
	if fired := s.RunOnce(context.Background()); fired != 1 {
		t.Fatalf("RunOnce() fired %d jobs at nextRun, want 1", fired)
	}
	if rec.count() != 1 {
		t.Fatalf("job actions ran %d times, want 1", rec.count())
	}

	// nextRun advanced strictly past now.
	next, _ = s.NextRun("quarterly")
	if !next.After(clock) {
		t.Fatalf("nextRun = %v, want after %v", next, clock)
	}
	if !next.Equal(time.Date(2025, 1, 1, 0, 30, 0, 0, time.UTC)) {
		t.Fatalf("nextRun = %v, want 00:30", next)
	}
}

func TestDisabledJobNeverFires(t *testing.T) {
	clock := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	s, rec, _ := newTestScheduler(t, func() time.Time { return clock })
	s.Register(spec.Scheduler{Jobs: []spec.Job{{
		Name:    "off",
		Cron:    "* * * * *",
		Enabled: false,
		Actions: []spec.Action{{Verb: "log"}},
	}}})
	clock = clock.Add(time.Hour)
	if fired := s.RunOnce(context.Background()); fired != 0 {
		t.Fatalf("disabled job fired %d times", fired)
	}
	if rec.count() != 0 {
		t.Fatalf("disabled job actions ran %d times", rec.count())
	}
}

func TestJobWhenGuard(t *testing.T) {
	clock := time.Date(2025, 1, 1, 0, 1, 0, 0, time.UTC)
	s, rec, _ := newTestScheduler(t, func() time.Time { return clock })
	s.Register(spec.Scheduler{Jobs: []spec.Job{{
		Name:    "guarded",
		Cron:    "* * * * *",
		Enabled: true,
		When:    "false",
		Actions: []spec.Action{{Verb: "log"}},
	}}})
	clock = clock.Add(2 * time.Minute)
	if fired := s.RunOnce(context.Background()); fired != 0 {
		t.Fatalf("guarded job fired %d times, want 0", fired)
	}
	if rec.count() != 0 {
		t.Fatalf("guarded job ran %d actions", rec.count())
	}
	// Guard failure still advances the schedule.
	next, _ := s.NextRun("guarded")
	if !next.After(clock) {
		t.Fatalf("nextRun = %v, want after %v", next, clock)
	}
}

func TestJobErrorKeepsSchedule(t *testing.T) {
	clock := time.Date(2025, 1, 1, 0, 1, 0, 0, time.UTC)
	s, _, x := newTestScheduler(t, func() time.Time { return clock })
	x.Register("boom", func(context.Context, *engine.Context, map[string]any) (any, error) {
		return nil, errors.New("kaput")
	})
	s.Register(spec.Scheduler{Jobs: []spec.Job{{
		Name:    "flaky",
		Cron:    "* * * * *",
		Enabled: true,
		Actions: []spec.Action{{Verb: "boom"}},
	}}})
	clock = clock.Add(time.Minute)
	if fired := s.RunOnce(context.Background()); fired != 1 {
		t.Fatalf("RunOnce() = %d, want 1", fired)
	}
	if _, ok := s.NextRun("flaky"); !ok {
		t.Fatal("failing job lost its registration")
	}
}

func TestInvalidCronSkipped(t *testing.T) {
	s, _, _ := newTestScheduler(t, nil)
	s.Register(spec.Scheduler{Jobs: []spec.Job{{
		Name:    "broken",
		Cron:    "0-99999 * * * *",
		Enabled: true,
	}}})
	if _, ok := s.NextRun("broken"); ok {
		t.Fatal("oversized-range job was registered")
	}
}

func TestTickerLoopFires(t *testing.T) {
	var mu sync.Mutex
	clock := time.Date(2025, 1, 1, 0, 0, 30, 0, time.UTC)
	now := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return clock
	}
	rec := &jobRecorder{}
	eval := expr.New()
	x := engine.NewExecutor(eval)
	x.Register("log", rec.handler)
	s := NewScheduler(engine.New(x, eval), eval, WithNow(now), WithTickInterval(5*time.Millisecond))
	s.Register(spec.Scheduler{Jobs: []spec.Job{{
		Name:    "everyminute",
		Cron:    "* * * * *",
		Enabled: true,
		Actions: []spec.Action{{Verb: "log"}},
	}}})

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	mu.Lock()
	clock = clock.Add(time.Minute)
	mu.Unlock()

	deadline := time.After(time.Second)
	for rec.count() == 0 {
		select {
		case <-deadline:
			t.Fatal("job never fired via ticker loop")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
}

func TestRunObserverReportsOutcomes(t *testing.T) {
	clock := time.Date(2025, 1, 1, 0, 1, 0, 0, time.UTC)
	var mu sync.Mutex
	outcomes := map[string]string{}

	rec := &jobRecorder{}
	eval := expr.New()
	x := engine.NewExecutor(eval)
	x.Register("log", rec.handler)
	x.Register("boom", func(context.Context, *engine.Context, map[string]any) (any, error) {
		return nil, errors.New("kaput")
	})
	eng := engine.New(x, eval)
	s := NewScheduler(eng, eval,
		WithNow(func() time.Time { return clock }),
		WithRunObserver(func(job, status string) {
			mu.Lock()
			outcomes[job] = status
			mu.Unlock()
		}),
	)

	s.Register(spec.Scheduler{Jobs: []spec.Job{
		{Name: "ok", Cron: "* * * * *", Enabled: true, Actions: []spec.Action{{Verb: "log"}}},
		{Name: "broken", Cron: "* * * * *", Enabled: true, Actions: []spec.Action{{Verb: "boom"}}},
		{Name: "gated", Cron: "* * * * *", Enabled: true, When: "false", Actions: []spec.Action{{Verb: "log"}}},
	}})
	clock = clock.Add(time.Minute)
	s.RunOnce(context.Background())

	mu.Lock()
	defer mu.Unlock()
	want := map[string]string{"ok": "success", "broken": "error", "gated": "skipped"}
	for job, status := range want {
		if outcomes[job] != status {
			t.Fatalf("outcome[%s] = %q, want %q", job, outcomes[job], status)
		}
	}
}

func TestTickObserverSeesEveryPass(t *testing.T) {
	var mu sync.Mutex
	var ticks []time.Time
	eval := expr.New()
	s := NewScheduler(engine.New(engine.NewExecutor(eval), eval), eval,
		WithTickInterval(5*time.Millisecond),
		WithTickObserver(func(now time.Time) {
			mu.Lock()
			ticks = append(ticks, now)
			mu.Unlock()
		}),
	)

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)

	deadline := time.After(time.Second)
	for {
		mu.Lock()
		n := len(ticks)
		mu.Unlock()
		if n >= 2 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("observer saw %d ticks, want at least 2", n)
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	for _, tick := range ticks {
		if tick.IsZero() {
			t.Fatal("observer received zero instant")
		}
	}
}
