// Package events routes gateway and synthetic events to the when-guarded
// action lists declared in the loaded document.
package events

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/haasonsaas/specbot/internal/engine"
	"github.com/haasonsaas/specbot/internal/expr"
	"github.com/haasonsaas/specbot/internal/spec"
)

// Router fans one emission out to every subscribed handler, in
// registration order, isolating failures per handler.
type Router struct {
	engine *engine.Engine
	eval   *expr.Evaluator
	state  expr.StateReader
	logger *slog.Logger
	now    func() time.Time

	mu       sync.Mutex
	handlers map[string][]*registration
	// lastFire and lastAllow gate debounce and throttle per
	// (event, scope key); both prune nothing and stay small because
	// keys recur.
	lastFire  map[string]time.Time
	lastAllow map[string]time.Time
}

type registration struct {
	seq     int
	handler spec.EventHandler
}

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithNow overrides the clock for tests.
func WithNow(now func() time.Time) RouterOption {
	return func(r *Router) {
		if now != nil {
			r.now = now
		}
	}
}

// WithState attaches the scoped-variable reader for when guards.
func WithState(s expr.StateReader) RouterOption {
	return func(r *Router) { r.state = s }
}

// WithLogger overrides the default logger.
func WithLogger(logger *slog.Logger) RouterOption {
	return func(r *Router) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRouter creates an empty Router.
func NewRouter(eng *engine.Engine, eval *expr.Evaluator, opts ...RouterOption) *Router {
	r := &Router{
		engine:    eng,
		eval:      eval,
		logger:    slog.Default(),
		now:       time.Now,
		handlers:  make(map[string][]*registration),
		lastFire:  make(map[string]time.Time),
		lastAllow: make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "events")
	return r
}

// Subscribe registers one handler. The event name is canonicalized
// through the alias table.
func (r *Router) Subscribe(event string, handler spec.EventHandler) {
	event = spec.CanonicalEvent(event)
	r.mu.Lock()
	defer r.mu.Unlock()
	seq := 0
	for _, regs := range r.handlers {
		seq += len(regs)
	}
	r.handlers[event] = append(r.handlers[event], &registration{seq: seq, handler: handler})
}

// Register replaces all subscriptions with the document's handlers.
func (r *Router) Register(handlers []spec.EventHandler) {
	next := make(map[string][]*registration, len(handlers))
	for i, h := range handlers {
		event := spec.CanonicalEvent(h.Event)
		next[event] = append(next[event], &registration{seq: i, handler: h})
	}
	r.mu.Lock()
	r.handlers = next
	r.mu.Unlock()
}

// Emit runs every handler subscribed to the event against the given
// context data. Handlers run sequentially in registration order within
// one emission; a failing handler never blocks the rest.
func (r *Router) Emit(ctx context.Context, event string, ac *engine.Context) {
	event = spec.CanonicalEvent(event)
	r.mu.Lock()
	regs := append([]*registration(nil), r.handlers[event]...)
	r.mu.Unlock()

	for _, reg := range regs {
		if ctx.Err() != nil {
			return
		}
		r.runHandler(ctx, event, reg, ac)
	}
}

func (r *Router) runHandler(ctx context.Context, event string, reg *registration, ac *engine.Context) {
	h := reg.handler
	if h.When != "" {
		val, err := r.eval.EvaluateWithState(h.When, ac.Data, r.state, ac.Scope())
		if err != nil {
			r.logger.Warn("event guard failed", "event", event, "error", err)
			return
		}
		if !expr.Truthy(val) {
			return
		}
	}

	key := r.gateKey(event, reg.seq, ac)
	now := r.now()
	r.mu.Lock()
	if h.Debounce > 0 {
		if last, ok := r.lastFire[key]; ok && now.Sub(last) < h.Debounce {
			r.mu.Unlock()
			return
		}
	}
	if h.Throttle > 0 {
		if last, ok := r.lastAllow[key]; ok && now.Sub(last) < h.Throttle {
			r.mu.Unlock()
			return
		}
		r.lastAllow[key] = now
	}
	r.lastFire[key] = now
	r.mu.Unlock()

	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("event handler panic", "event", event, "panic", rec)
		}
	}()
	results := r.engine.RunActions(ctx, h.Actions, ac)
	for _, res := range results {
		if res.Err != nil {
			r.logger.Warn("event action failed", "event", event, "verb", res.Verb, "error", res.Err)
		}
	}
}

// gateKey scopes debounce/throttle windows to guild+channel+user.
func (r *Router) gateKey(event string, seq int, ac *engine.Context) string {
	scope := ac.Scope()
	parts := []string{event, strconv.Itoa(seq), scope["guild_id"], scope["channel_id"], scope["user_id"]}
	return strings.Join(parts, ":")
}
