// Package expr implements the sandboxed expression language used throughout
// spec documents: member access, arithmetic, comparison, boolean logic,
// ternaries, array/object literals, a fixed transform set, and the pipe
// operator `x | fn:arg1:arg2`. Expressions are side-effect-free; evaluation
// never mutates the context.
package expr

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrExpression marks parse and evaluation failures. Callers that treat
// expression problems as recoverable match against this sentinel.
var ErrExpression = errors.New("expression error")

// StateReader exposes declared scoped variables to EvaluateWithState.
type StateReader interface {
	VariableNames() []string
	Get(name string, scope map[string]string) (any, error)
}

// Evaluator evaluates expressions against a context map.
type Evaluator struct {
	now func() time.Time
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithNow overrides the clock for tests.
func WithNow(now func() time.Time) Option {
	return func(e *Evaluator) {
		if now != nil {
			e.now = now
		}
	}
}

// New creates an Evaluator.
func New(opts ...Option) *Evaluator {
	e := &Evaluator{now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate parses and evaluates a single expression against ctx.
// The expression may be wrapped in ${...}; the wrapper is stripped.
func (e *Evaluator) Evaluate(input string, ctx map[string]any) (any, error) {
	src := strings.TrimSpace(input)
	if strings.HasPrefix(src, "${") && strings.HasSuffix(src, "}") {
		src = src[2 : len(src)-1]
	}
	if src == "" {
		return nil, nil
	}
	node, err := parse(src)
	if err != nil {
		return nil, fmt.Errorf("%w: parse %q: %v", ErrExpression, src, err)
	}
	val, err := e.eval(node, ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: evaluate %q: %v", ErrExpression, src, err)
	}
	return val, nil
}

// EvaluateWithState folds the state manager's declared variables for the
// given scope into the context before evaluating. Context keys win over
// state variables of the same name.
func (e *Evaluator) EvaluateWithState(input string, ctx map[string]any, state StateReader, scope map[string]string) (any, error) {
	if state == nil {
		return e.Evaluate(input, ctx)
	}
	merged := make(map[string]any, len(ctx)+8)
	for _, name := range state.VariableNames() {
		val, err := state.Get(name, scope)
		if err != nil {
			continue
		}
		merged[name] = val
	}
	for k, v := range ctx {
		merged[k] = v
	}
	return e.Evaluate(input, merged)
}

/// Truthy reports the boolean interpretation of a value: false, nil, zero,
// the empty string, and empty containers are falsy.
func Truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case float64:
		return t != 0
	case int:
		return t != 0
	case int64:
		return t != 0
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	default:
		return true
	}
}
