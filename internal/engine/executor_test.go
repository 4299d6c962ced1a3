package engine

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/haasonsaas/specbot/internal/expr"
	"github.com/haasonsaas/specbot/internal/spec"
)

type recorder struct {
	mu    sync.Mutex
	calls []map[string]any
}

func (r *recorder) handler(_ context.Context, _ *Context, params map[string]any) (any, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, params)
	return params["content"], nil
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func TestExecuteOneInterpolatesParams(t *testing.T) {
	rec := &recorder{}
	x := NewExecutor(expr.New())
	x.Register("reply", rec.handler)

	ac := NewContext(map[string]any{"args": map[string]any{"text": "Hello World"}})
	res := x.ExecuteOne(context.Background(), spec.Action{
		Verb:   "reply",
		Params: map[string]any{"content": "You said: ${args.text}"},
	}, ac)

	if !res.Success || res.Err != nil {
		t.Fatalf("ExecuteOne() = %+v", res)
	}
	if res.Value != "You said: Hello World" {
		t.Fatalf("value = %v, want interpolated reply", res.Value)
	}
	if rec.count() != 1 {
		t.Fatalf("handler called %d times, want 1", rec.count())
	}
}

func TestExecuteOneWhenGuard(t *testing.T) {
	rec := &recorder{}
	x := NewExecutor(expr.New())
	x.Register("reply", rec.handler)
	ac := NewContext(map[string]any{"user": map[string]any{"id": "12345"}})

	actions := []spec.Action{
		{Verb: "reply", Params: map[string]any{"content": "Admin access granted"}, When: "user.id == '12345'"},
		{Verb: "reply", Params: map[string]any{"content": "Access denied"}, When: "user.id != '12345'"},
	}
	results := x.ExecuteSequence(context.Background(), actions, ac)

	if rec.count() != 1 {
		t.Fatalf("handler called %d times, want exactly 1", rec.count())
	}
	if results[0].Skipped || results[0].Value != "Admin access granted" {
		t.Fatalf("first result = %+v", results[0])
	}
	if !results[1].Skipped {
		t.Fatalf("second result = %+v, want skipped", results[1])
	}
}

func TestExecuteOneUnknownVerb(t *testing.T) {
	x := NewExecutor(expr.New())
	res := x.ExecuteOne(context.Background(), spec.Action{Verb: "bogus"}, NewContext(nil))
	if res.Success || !errors.Is(res.Err, spec.ErrNormalization) {
		t.Fatalf("ExecuteOne(bogus) = %+v, want ErrNormalization", res)
	}
}

func TestExecuteOneErrorHandler(t *testing.T) {
	rec := &recorder{}
	x := NewExecutor(expr.New())
	x.Register("boom", func(context.Context, *Context, map[string]any) (any, error) {
		return nil, errors.New("kaput")
	})
	x.Register("log", rec.handler)

	res := x.ExecuteOne(context.Background(), spec.Action{
		Verb: "boom",
		ErrorHandler: []spec.Action{
			{Verb: "log", Params: map[string]any{"content": "failed: ${errorMessage}"}},
		},
	}, NewContext(nil))

	if res.Success {
		t.Fatal("failing action reported success")
	}
	if rec.count() != 1 {
		t.Fatalf("error handler ran %d times, want 1", rec.count())
	}
	rec.mu.Lock()
	got := rec.calls[0]["content"]
	rec.mu.Unlock()
	if got != "failed: kaput" {
		t.Fatalf("error handler content = %v", got)
	}
}

func TestExecuteSequenceContinuesPastFailure(t *testing.T) {
	rec := &recorder{}
	x := NewExecutor(expr.New())
	x.Register("boom", func(context.Context, *Context, map[string]any) (any, error) {
		return nil, errors.New("kaput")
	})
	x.Register("reply", rec.handler)

	results := x.ExecuteSequence(context.Background(), []spec.Action{
		{Verb: "boom"},
		{Verb: "reply", Params: map[string]any{"content": "still here"}},
	}, NewContext(nil))

	if len(results) != 2 {
		t.Fatalf("len(results) = %d, want 2", len(results))
	}
	if results[0].Err == nil || !results[1].Success {
		t.Fatalf("results = %+v", results)
	}
}

func TestExecuteParallelPreservesOrder(t *testing.T) {
	x := NewExecutor(expr.New())
	x.Register("echo", func(_ context.Context, _ *Context, params map[string]any) (any, error) {
		return params["content"], nil
	})
	actions := make([]spec.Action, 10)
	for i := range actions {
		actions[i] = spec.Action{Verb: "echo", Params: map[string]any{"content": float64(i)}}
	}
	results := x.ExecuteParallel(context.Background(), actions, NewContext(nil))
	for i, r := range results {
		if r.Value != float64(i) {
			t.Fatalf("results[%d].Value = %v, want %d", i, r.Value, i)
		}
	}
}

func TestExecuteOneRecoversPanic(t *testing.T) {
	x := NewExecutor(expr.New())
	x.Register("panics", func(context.Context, *Context, map[string]any) (any, error) {
		panic("boom")
	})
	res := x.ExecuteOne(context.Background(), spec.Action{Verb: "panics"}, NewContext(nil))
	if res.Success || res.Err == nil {
		t.Fatalf("ExecuteOne(panics) = %+v, want failed result", res)
	}
}

func TestObserverSeesEveryResult(t *testing.T) {
	rec := &recorder{}
	var observed []string
	x := NewExecutor(expr.New(), WithObserver(func(res Result) {
		switch {
		case res.Skipped:
			observed = append(observed, res.Verb+":skipped")
		case res.Err != nil:
			observed = append(observed, res.Verb+":error")
		default:
			observed = append(observed, res.Verb+":success")
		}
	}))
	x.Register("log", rec.handler)
	x.Register("boom", func(context.Context, *Context, map[string]any) (any, error) {
		return nil, errors.New("kaput")
	})

	ac := NewContext(map[string]any{})
	x.ExecuteSequence(context.Background(), []spec.Action{
		{Verb: "log"},
		{Verb: "boom"},
		{Verb: "log", When: "false"},
	}, ac)

	want := []string{"log:success", "boom:error", "log:skipped"}
	if len(observed) != len(want) {
		t.Fatalf("observed %v, want %v", observed, want)
	}
	for i := range want {
		if observed[i] != want[i] {
			t.Fatalf("observed[%d] = %q, want %q", i, observed[i], want[i])
		}
	}
}
