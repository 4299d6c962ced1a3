// Package timers runs one-shot timers that emit synthetic events when
// they fire: first the timer's named event, then the generic
// timer_fire channel carrying the timer record.
package timers

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/specbot/internal/engine"
	"github.com/haasonsaas/specbot/internal/platform"
)

// Emitter delivers synthetic events. The event router satisfies this.
type Emitter interface {
	Emit(ctx context.Context, event string, ac *engine.Context)
}

// Manager owns the live timer set.
type Manager struct {
	emitter Emitter
	logger  *slog.Logger
	now     func() time.Time

	mu     sync.Mutex
	timers map[string]*entry
}

type entry struct {
	timer     *time.Timer
	event     string
	data      map[string]any
	expiresAt time.Time
}

// Option configures the manager.
type Option func(*Manager)

// WithLogger overrides the default logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithNow overrides the clock for tests.
func WithNow(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// NewManager creates an empty timer manager.
func NewManager(emitter Emitter, opts ...Option) *Manager {
	m := &Manager{
		emitter: emitter,
		logger:  slog.Default(),
		now:     time.Now,
		timers:  make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With("component", "timers")
	return m
}

// Create schedules a one-shot timer. An empty id gets a generated one;
// creating over an existing id replaces it. Returns the timer id.
func (m *Manager) Create(ctx context.Context, id, event string, data map[string]any, delay time.Duration) string {
	if id == "" {
		id = uuid.NewString()
	}
	if delay < 0 {
		delay = 0
	}
	expiresAt := m.now().Add(delay)

	m.mu.Lock()
	if prev, ok := m.timers[id]; ok {
		prev.timer.Stop()
	}
	e := &entry{event: event, data: data, expiresAt: expiresAt}
	e.timer = time.AfterFunc(delay, func() { m.fire(ctx, id) })
	m.timers[id] = e
	m.mu.Unlock()
	return id
}

// Cancel stops a pending timer, reporting whether it existed.
func (m *Manager) Cancel(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.timers[id]
	if !ok {
		return false
	}
	e.timer.Stop()
	delete(m.timers, id)
	return true
}

// StopAll cancels every pending timer.
func (m *Manager) StopAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, e := range m.timers {
		e.timer.Stop()
		delete(m.timers, id)
	}
}

// Pending reports how many timers are live.
func (m *Manager) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.timers)
}

func (m *Manager) fire(ctx context.Context, id string) {
	m.mu.Lock()
	e, ok := m.timers[id]
	if ok {
		delete(m.timers, id)
	}
	m.mu.Unlock()
	if !ok {
		return
	}

	record := map[string]any{
		"id":        id,
		"event":     e.event,
		"data":      e.data,
		"expiresAt": float64(e.expiresAt.UnixMilli()),
	}
	ac := engine.NewContext(map[string]any{"timer": record})
	if data, ok := e.data["context"].(map[string]any); ok {
		ac = ac.Child(data)
	}

	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("timer fire panic", "timer", id, "panic", r)
		}
	}()
	if e.event != "" {
		m.emitter.Emit(ctx, e.event, ac)
	}
	m.emitter.Emit(ctx, platform.EventTimerFire, ac)
}
