package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"

	"github.com/haasonsaas/specbot/internal/expr"
	"github.com/haasonsaas/specbot/internal/spec"
)

const (
	defaultMaxDepth      = 10
	defaultMaxIterations = 10000
)

// FlowResult is the outcome of one flow invocation.
type FlowResult struct {
	Success     bool
	Aborted     bool
	AbortReason string
	Value       any
	Err         error
	Results     []Result
}

// flowFrame is the per-invocation mutable state: the resolved args, the
// recursion depth, and the abort/return latches that short-circuit the
// action walk.
type flowFrame struct {
	depth       int
	aborted     bool
	abortReason string
	returned    bool
	returnValue any
}

// Engine interprets flows and the flow-control verbs. Plain verbs fall
// through to the executor.
type Engine struct {
	exec   *Executor
	eval   *expr.Evaluator
	state  expr.StateReader
	logger *slog.Logger

	maxDepth      int
	maxIterations int

	mu    sync.RWMutex
	flows map[string]spec.Flow
}

// Option configures an Engine.
type Option func(*Engine)

// WithMaxDepth overrides the recursion depth cap.
func WithMaxDepth(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxDepth = n
		}
	}
}

// WithMaxIterations overrides the loop iteration cap.
func WithMaxIterations(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxIterations = n
		}
	}
}

// WithEngineState attaches the scoped-variable reader for conditions.
func WithEngineState(s expr.StateReader) Option {
	return func(e *Engine) { e.state = s }
}

// WithLogger overrides the default logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// New creates a flow Engine.
func New(exec *Executor, eval *expr.Evaluator, opts ...Option) *Engine {
	e := &Engine{
		exec:          exec,
		eval:          eval,
		logger:        slog.Default(),
		maxDepth:      defaultMaxDepth,
		maxIterations: defaultMaxIterations,
		flows:         make(map[string]spec.Flow),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With("component", "flow")
	return e
}

// Register replaces the flow registry. Called at startup and on reload.
func (e *Engine) Register(flows []spec.Flow) {
	next := make(map[string]spec.Flow, len(flows))
	for _, f := range flows {
		next[f.Name] = f
	}
	e.mu.Lock()
	e.flows = next
	e.mu.Unlock()
}

// Execute runs a registered flow by name from the top level.
func (e *Engine) Execute(ctx context.Context, name string, args map[string]any, ac *Context) FlowResult {
	return e.execute(ctx, name, args, ac, 0)
}

// RunActions interprets an action list as a short-lived anonymous flow.
// Event handlers, interactions, scheduler jobs, and automod responses
// all enter here.
func (e *Engine) RunActions(ctx context.Context, actions []spec.Action, ac *Context) []Result {
	frame := &flowFrame{}
	return e.runFrame(ctx, actions, ac, frame)
}

func (e *Engine) execute(ctx context.Context, name string, args map[string]any, ac *Context, depth int) FlowResult {
	if depth >= e.maxDepth {
		return FlowResult{Err: fmt.Errorf("%w: %q at depth %d", ErrMaxFlowDepth, name, depth)}
	}
	e.mu.RLock()
	flow, ok := e.flows[name]
	e.mu.RUnlock()
	if !ok {
		return FlowResult{Err: fmt.Errorf("%w: %q", ErrFlowNotFound, name)}
	}

	resolved, err := resolveArgs(flow, args)
	if err != nil {
		return FlowResult{Err: err}
	}

	frame := &flowFrame{depth: depth + 1}
	child := ac.Child(map[string]any{"args": resolved})
	results := e.runFrame(ctx, flow.Actions, child, frame)

	if frame.aborted {
		return FlowResult{
			Aborted:     true,
			AbortReason: frame.abortReason,
			Err:         fmt.Errorf("%w: %s", ErrFlowAborted, frame.abortReason),
			Results:     results,
		}
	}

	value := frame.returnValue
	if flow.Returns != "" {
		values := make([]any, len(results))
		for i, r := range results {
			values[i] = r.Value
		}
		returned, err := e.eval.EvaluateWithState(flow.Returns, child.Child(map[string]any{"results": values}).Data, e.state, child.Scope())
		if err != nil {
			e.logger.Warn("returns expression failed", "flow", name, "error", err)
		} else {
			value = returned
		}
	}
	return FlowResult{Success: true, Value: value, Results: results}
}

// runFrame walks one action list, dispatching control verbs itself and
// everything else through the executor. The frame's abort and return
// latches stop the walk.
func (e *Engine) runFrame(ctx context.Context, actions []spec.Action, ac *Context, frame *flowFrame) []Result {
	results := make([]Result, 0, len(actions))
	for _, action := range actions {
		if ctx.Err() != nil || frame.aborted || frame.returned {
			break
		}
		results = append(results, e.step(ctx, action, ac, frame))
	}
	return results
}

// step dispatches one action.
func (e *Engine) step(ctx context.Context, action spec.Action, ac *Context, frame *flowFrame) Result {
	if !isControlVerb(action.Verb) {
		return e.exec.ExecuteOne(ctx, action, ac)
	}
	if action.When != "" {
		val, err := e.eval.EvaluateWithState(action.When, ac.Data, e.state, ac.Scope())
		if err != nil {
			return Result{Verb: action.Verb, Err: err}
		}
		if !expr.Truthy(val) {
			return Result{Verb: action.Verb, Success: true, Skipped: true}
		}
	}
	switch action.Verb {
	case "abort":
		return e.controlAbort(action, ac, frame)
	case "return":
		return e.controlReturn(action, ac, frame)
	case "flow_if":
		return e.controlIf(ctx, action, ac, frame)
	case "flow_switch":
		return e.controlSwitch(ctx, action, ac, frame)
	case "flow_while":
		return e.controlWhile(ctx, action, ac, frame)
	case "repeat":
		return e.controlRepeat(ctx, action, ac, frame)
	case "parallel":
		return e.controlParallel(ctx, action, ac, frame)
	case "batch":
		return e.controlBatch(ctx, action, ac, frame)
	case "try":
		return e.controlTry(ctx, action, ac, frame)
	case "call_flow":
		return e.controlCallFlow(ctx, action, ac, frame)
	}
	return Result{Verb: action.Verb, Err: fmt.Errorf("%w: unhandled control verb %q", spec.ErrNormalization, action.Verb)}
}

var controlVerbs = map[string]bool{
	"abort": true, "return": true,
	"flow_if": true, "flow_switch": true, "flow_while": true,
	"repeat": true, "parallel": true, "batch": true,
	"try": true, "call_flow": true,
}

func isControlVerb(verb string) bool { return controlVerbs[verb] }

func (e *Engine) controlAbort(action spec.Action, ac *Context, frame *flowFrame) Result {
	reason := "aborted"
	if raw, ok := action.Params["reason"].(string); ok && raw != "" {
		if s, err := e.eval.Interpolate(raw, ac.Data); err == nil {
			reason = s
		} else {
			reason = raw
		}
	}
	frame.aborted = true
	frame.abortReason = reason
	return Result{Verb: action.Verb, Success: true, Value: reason}
}

func (e *Engine) controlReturn(action spec.Action, ac *Context, frame *flowFrame) Result {
	if raw, ok := action.Params["value"]; ok {
		val, err := e.resolveValue(raw, ac)
		if err != nil {
			return Result{Verb: action.Verb, Err: err}
		}
		frame.returnValue = val
	}
	frame.returned = true
	return Result{Verb: action.Verb, Success: true, Value: frame.returnValue}
}

func (e *Engine) controlIf(ctx context.Context, action spec.Action, ac *Context, frame *flowFrame) Result {
	cond, _ := action.Params["if"].(string)
	val, err := e.eval.EvaluateWithState(cond, ac.Data, e.state, ac.Scope())
	if err != nil {
		return Result{Verb: action.Verb, Err: err}
	}
	branch := actionsParam(action.Params, "then")
	if !expr.Truthy(val) {
		branch = actionsParam(action.Params, "else")
	}
	results := e.runFrame(ctx, branch, ac, frame)
	return Result{Verb: action.Verb, Success: true, Value: resultValues(results)}
}

func (e *Engine) controlSwitch(ctx context.Context, action spec.Action, ac *Context, frame *flowFrame) Result {
	raw, _ := action.Params["value"]
	val, err := e.resolveValue(raw, ac)
	if err != nil {
		return Result{Verb: action.Verb, Err: err}
	}
	key := expr.Stringify(val)
	branch := actionsParam(action.Params, "default")
	if cases, ok := action.Params["cases"].(map[string][]spec.Action); ok {
		if matched, ok := cases[key]; ok {
			branch = matched
		}
	}
	results := e.runFrame(ctx, branch, ac, frame)
	return Result{Verb: action.Verb, Success: true, Value: resultValues(results)}
}

func (e *Engine) controlWhile(ctx context.Context, action spec.Action, ac *Context, frame *flowFrame) Result {
	cond, _ := action.Params["while"].(string)
	body := actionsParam(action.Params, "do")
	cap := e.maxIterations
	if n, ok := intParam(action.Params["max_iterations"]); ok && n > 0 && n < cap {
		cap = n
	}
	iterations := 0
	for iterations < cap {
		if ctx.Err() != nil || frame.aborted || frame.returned {
			break
		}
		val, err := e.eval.EvaluateWithState(cond, ac.Data, e.state, ac.Scope())
		if err != nil {
			return Result{Verb: action.Verb, Err: err}
		}
		if !expr.Truthy(val) {
			break
		}
		e.runFrame(ctx, body, ac, frame)
		iterations++
	}
	return Result{Verb: action.Verb, Success: true, Value: float64(iterations)}
}

func (e *Engine) controlRepeat(ctx context.Context, action spec.Action, ac *Context, frame *flowFrame) Result {
	raw, _ := action.Params["times"]
	val, err := e.resolveValue(raw, ac)
	if err != nil {
		return Result{Verb: action.Verb, Err: err}
	}
	times, ok := asInteger(val)
	if !ok || times < 0 {
		return Result{Verb: action.Verb, Err: fmt.Errorf("repeat: times must be a non-negative integer, got %v", val)}
	}
	if times > e.maxIterations {
		times = e.maxIterations
	}
	as := "i"
	if s, ok := action.Params["as"].(string); ok && s != "" {
		as = s
	}
	body := actionsParam(action.Params, "do")
	for i := 0; i < times; i++ {
		if ctx.Err() != nil || frame.aborted || frame.returned {
			break
		}
		child := ac.Child(map[string]any{as: float64(i)})
		e.runFrame(ctx, body, child, frame)
	}
	return Result{Verb: action.Verb, Success: true, Value: float64(times)}
}

// controlParallel runs each branch in its own goroutine with a cloned
// frame so branch-local latches never race. Abort and return latches
// from branches are folded back in after the join; a return inside one
// branch never cancels its siblings.
func (e *Engine) controlParallel(ctx context.Context, action spec.Action, ac *Context, frame *flowFrame) Result {
	branches := actionsParam(action.Params, "actions")
	results := make([]Result, len(branches))
	frames := make([]*flowFrame, len(branches))
	var wg sync.WaitGroup
	for i, branch := range branches {
		wg.Add(1)
		frames[i] = &flowFrame{depth: frame.depth}
		go func(i int, branch spec.Action) {
			defer wg.Done()
			results[i] = e.step(ctx, branch, ac, frames[i])
		}(i, branch)
	}
	wg.Wait()
	for _, bf := range frames {
		if bf.aborted && !frame.aborted {
			frame.aborted = true
			frame.abortReason = bf.abortReason
		}
		if bf.returned && !frame.returned {
			frame.returned = true
			frame.returnValue = bf.returnValue
		}
	}
	return Result{Verb: action.Verb, Success: true, Value: resultValues(results)}
}

func (e *Engine) controlBatch(ctx context.Context, action spec.Action, ac *Context, frame *flowFrame) Result {
	raw, _ := action.Params["items"]
	val, err := e.resolveValue(raw, ac)
	if err != nil {
		return Result{Verb: action.Verb, Err: err}
	}
	items, ok := val.([]any)
	if !ok {
		return Result{Verb: action.Verb, Err: fmt.Errorf("batch: items must evaluate to an array, got %T", val)}
	}
	as := "item"
	if s, ok := action.Params["as"].(string); ok && s != "" {
		as = s
	}
	concurrency := 1
	if n, ok := intParam(action.Params["concurrency"]); ok && n > 1 {
		concurrency = n
	}
	body := actionsParam(action.Params, "each")

	if concurrency == 1 {
		for i, item := range items {
			if ctx.Err() != nil || frame.aborted || frame.returned {
				break
			}
			child := ac.Child(map[string]any{as: item, as + "_index": float64(i)})
			e.runFrame(ctx, body, child, frame)
		}
		return Result{Verb: action.Verb, Success: true, Value: float64(len(items))}
	}

	// Fixed-size chunks; each chunk joins before the next starts.
	for start := 0; start < len(items); start += concurrency {
		if ctx.Err() != nil || frame.aborted || frame.returned {
			break
		}
		end := start + concurrency
		if end > len(items) {
			end = len(items)
		}
		var wg sync.WaitGroup
		chunkFrames := make([]*flowFrame, end-start)
		for i := start; i < end; i++ {
			wg.Add(1)
			cf := &flowFrame{depth: frame.depth}
			chunkFrames[i-start] = cf
			child := ac.Child(map[string]any{as: items[i], as + "_index": float64(i)})
			go func(child *Context, cf *flowFrame) {
				defer wg.Done()
				e.runFrame(ctx, body, child, cf)
			}(child, cf)
		}
		wg.Wait()
		for _, cf := range chunkFrames {
			if cf.aborted && !frame.aborted {
				frame.aborted = true
				frame.abortReason = cf.abortReason
			}
			if cf.returned && !frame.returned {
				frame.returned = true
				frame.returnValue = cf.returnValue
			}
		}
	}
	return Result{Verb: action.Verb, Success: true, Value: float64(len(items))}
}

func (e *Engine) controlTry(ctx context.Context, action spec.Action, ac *Context, frame *flowFrame) Result {
	body := actionsParam(action.Params, "do")
	results := e.runFrame(ctx, body, ac, frame)

	var failure error
	for _, r := range results {
		if r.Err != nil {
			failure = r.Err
			break
		}
	}
	if failure != nil && !frame.aborted {
		catch := actionsParam(action.Params, "catch")
		if len(catch) > 0 {
			child := ac.Child(map[string]any{
				"error":        failure.Error(),
				"errorMessage": failure.Error(),
			})
			e.runFrame(ctx, catch, child, frame)
		}
	}
	// finally runs even after abort or return.
	if fin := actionsParam(action.Params, "finally"); len(fin) > 0 {
		finFrame := &flowFrame{depth: frame.depth}
		e.runFrame(ctx, fin, ac, finFrame)
	}
	return Result{Verb: action.Verb, Success: failure == nil, Err: failure, Value: resultValues(results)}
}

func (e *Engine) controlCallFlow(ctx context.Context, action spec.Action, ac *Context, frame *flowFrame) Result {
	name, _ := action.Params["flow"].(string)
	if interpolated, err := e.eval.Interpolate(name, ac.Data); err == nil {
		name = interpolated
	}
	args := make(map[string]any)
	if declared, ok := action.Params["args"].(map[string]any); ok {
		for key, raw := range declared {
			val, err := e.resolveValue(raw, ac)
			if err != nil {
				return Result{Verb: action.Verb, Err: err}
			}
			args[key] = val
		}
	}
	res := e.execute(ctx, name, args, ac, frame.depth)
	if res.Aborted {
		frame.aborted = true
		frame.abortReason = res.AbortReason
		return Result{Verb: action.Verb, Success: true, Value: res.Value}
	}
	if res.Err != nil {
		return Result{Verb: action.Verb, Err: res.Err}
	}
	if as, ok := action.Params["as"].(string); ok && as != "" {
		ac.Data[as] = res.Value
	}
	return Result{Verb: action.Verb, Success: true, Value: res.Value}
}

// resolveValue evaluates a parameter that may be an expression string or
// a literal tree with embedded interpolations.
func (e *Engine) resolveValue(raw any, ac *Context) (any, error) {
	if s, ok := raw.(string); ok {
		return e.eval.EvaluateWithState(s, ac.Data, e.state, ac.Scope())
	}
	return e.eval.InterpolateValue(raw, ac.Data)
}

// resolveArgs applies declared defaults and validates required flow
// parameters and their types.
func resolveArgs(flow spec.Flow, args map[string]any) (map[string]any, error) {
	resolved := make(map[string]any, len(args))
	for k, v := range args {
		resolved[k] = v
	}
	for _, param := range flow.Parameters {
		val, present := resolved[param.Name]
		if !present || val == nil {
			if param.Required && param.Default == nil {
				return nil, fmt.Errorf("%w: flow %q requires %q", ErrParameter, flow.Name, param.Name)
			}
			if param.Default != nil {
				resolved[param.Name] = param.Default
			}
			continue
		}
		if !typeMatches(param.Type, val) {
			return nil, fmt.Errorf("%w: flow %q parameter %q wants %s, got %T", ErrParameter, flow.Name, param.Name, param.Type, val)
		}
	}
	return resolved, nil
}

func typeMatches(declared string, val any) bool {
	switch declared {
	case "", "any":
		return true
	case "string":
		_, ok := val.(string)
		return ok
	case "number":
		_, ok := asNumber(val)
		return ok
	case "boolean":
		_, ok := val.(bool)
		return ok
	case "array":
		_, ok := val.([]any)
		return ok
	case "object":
		_, ok := val.(map[string]any)
		return ok
	}
	return true
}

func actionsParam(params map[string]any, key string) []spec.Action {
	if actions, ok := params[key].([]spec.Action); ok {
		return actions
	}
	return nil
}

func resultValues(results []Result) []any {
	values := make([]any, len(results))
	for i, r := range results {
		values[i] = r.Value
	}
	return values
}

func asNumber(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	}
	return 0, false
}

func asInteger(v any) (int, bool) {
	f, ok := asNumber(v)
	if !ok {
		return 0, false
	}
	if f != math.Trunc(f) || math.IsInf(f, 0) || math.IsNaN(f) {
		return 0, false
	}
	return int(f), true
}

func intParam(v any) (int, bool) {
	return asInteger(v)
}
