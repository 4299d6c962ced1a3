package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/haasonsaas/specbot/internal/expr"
	"github.com/haasonsaas/specbot/internal/spec"
)

// Handler executes one verb. Params arrive fully interpolated.
type Handler func(ctx context.Context, ac *Context, params map[string]any) (any, error)

// Result is the outcome of one action.
type Result struct {
	Verb    string
	Success bool
	Skipped bool
	Value   any
	Err     error
}

// Executor dispatches canonical actions to their verb handlers. Flow
// control verbs never reach it; the flow engine owns those.
type Executor struct {
	eval    *expr.Evaluator
	state   expr.StateReader
	logger  *slog.Logger
	observe func(Result)

	mu       sync.RWMutex
	handlers map[string]Handler
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithState attaches the scoped-variable reader used by when guards.
func WithState(s expr.StateReader) ExecutorOption {
	return func(x *Executor) { x.state = s }
}

// WithExecutorLogger overrides the default logger.
func WithExecutorLogger(logger *slog.Logger) ExecutorOption {
	return func(x *Executor) {
		if logger != nil {
			x.logger = logger
		}
	}
}

// WithObserver installs a callback invoked with every action result,
// including skipped ones. Used for metrics.
func WithObserver(observe func(Result)) ExecutorOption {
	return func(x *Executor) { x.observe = observe }
}

// NewExecutor creates an Executor with no registered verbs.
func NewExecutor(eval *expr.Evaluator, opts ...ExecutorOption) *Executor {
	x := &Executor{
		eval:     eval,
		logger:   slog.Default(),
		handlers: make(map[string]Handler),
	}
	for _, opt := range opts {
		opt(x)
	}
	x.logger = x.logger.With("component", "executor")
	return x
}

// Register binds a verb to its handler, replacing any previous binding.
func (x *Executor) Register(verb string, h Handler) {
	x.mu.Lock()
	x.handlers[verb] = h
	x.mu.Unlock()
}

// Registered reports whether a verb has a handler.
func (x *Executor) Registered(verb string) bool {
	x.mu.RLock()
	_, ok := x.handlers[verb]
	x.mu.RUnlock()
	return ok
}

// ExecuteOne runs a single action: when guard, parameter interpolation,
// handler dispatch, error_handler fallback. It never panics outward and
// never returns a Go error; failures live in the Result.
func (x *Executor) ExecuteOne(ctx context.Context, action spec.Action, ac *Context) Result {
	result := x.executeOne(ctx, action, ac)
	if x.observe != nil {
		x.observe(result)
	}
	return result
}

func (x *Executor) executeOne(ctx context.Context, action spec.Action, ac *Context) Result {
	if action.When != "" {
		val, err := x.eval.EvaluateWithState(action.When, ac.Data, x.state, ac.Scope())
		if err != nil {
			x.logger.Warn("when guard failed", "verb", action.Verb, "error", err)
			return Result{Verb: action.Verb, Err: err}
		}
		if !expr.Truthy(val) {
			return Result{Verb: action.Verb, Success: true, Skipped: true}
		}
	}

	x.mu.RLock()
	handler, ok := x.handlers[action.Verb]
	x.mu.RUnlock()
	if !ok {
		err := fmt.Errorf("%w: unknown verb %q", spec.ErrNormalization, action.Verb)
		x.logger.Warn("action failed", "verb", action.Verb, "error", err)
		return Result{Verb: action.Verb, Err: err}
	}

	params, err := x.resolveParams(action.Params, ac)
	if err != nil {
		return x.failed(ctx, action, ac, err)
	}

	value, err := x.invoke(ctx, handler, ac, params)
	if err != nil {
		return x.failed(ctx, action, ac, err)
	}
	return Result{Verb: action.Verb, Success: true, Value: value}
}

// ExecuteSequence runs actions in declared order. A failed action does
// not stop the rest.
func (x *Executor) ExecuteSequence(ctx context.Context, actions []spec.Action, ac *Context) []Result {
	results := make([]Result, 0, len(actions))
	for _, action := range actions {
		if ctx.Err() != nil {
			break
		}
		results = append(results, x.ExecuteOne(ctx, action, ac))
	}
	return results
}

// ExecuteParallel runs actions concurrently, preserving input order in
// the result vector.
func (x *Executor) ExecuteParallel(ctx context.Context, actions []spec.Action, ac *Context) []Result {
	results := make([]Result, len(actions))
	var wg sync.WaitGroup
	for i, action := range actions {
		wg.Add(1)
		go func(i int, action spec.Action) {
			defer wg.Done()
			results[i] = x.ExecuteOne(ctx, action, ac)
		}(i, action)
	}
	wg.Wait()
	return results
}

func (x *Executor) failed(ctx context.Context, action spec.Action, ac *Context, err error) Result {
	x.logger.Warn("action failed", "verb", action.Verb, "error", err)
	if len(action.ErrorHandler) > 0 {
		child := ac.Child(map[string]any{
			"error":        err.Error(),
			"errorMessage": err.Error(),
		})
		x.ExecuteSequence(ctx, action.ErrorHandler, child)
	}
	return Result{Verb: action.Verb, Err: err}
}

// invoke guards against panicking handlers.
func (x *Executor) invoke(ctx context.Context, handler Handler, ac *Context, params map[string]any) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handler(ctx, ac, params)
}

// resolveParams interpolates every string inside the parameter tree.
// Normalized nested action lists pass through untouched; the flow
// engine interpolates those lazily at their own execution time.
func (x *Executor) resolveParams(params map[string]any, ac *Context) (map[string]any, error) {
	if len(params) == 0 {
		return map[string]any{}, nil
	}
	out := make(map[string]any, len(params))
	for key, raw := range params {
		switch raw.(type) {
		case []spec.Action, map[string][]spec.Action:
			out[key] = raw
			continue
		}
		val, err := x.eval.InterpolateValue(raw, ac.Data)
		if err != nil {
			return nil, err
		}
		out[key] = val
	}
	return out, nil
}
