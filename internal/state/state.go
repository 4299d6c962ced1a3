// Package state layers scoped named variables over the storage adapter.
// Each declared variable lives at a key composed from its scope and the
// calling context's IDs, so "warns" at member scope is a distinct value
// per (guild, user) pair.
package state

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/haasonsaas/specbot/internal/spec"
	"github.com/haasonsaas/specbot/internal/storage"
)

// Scope context keys. Callers fill in whichever IDs the event carries.
const (
	ScopeGuildID   = "guild_id"
	ScopeChannelID = "channel_id"
	ScopeUserID    = "user_id"
)

// Manager resolves declared variables against storage.
type Manager struct {
	store  storage.Adapter
	logger *slog.Logger

	mu   sync.RWMutex
	vars map[string]spec.Variable
}

// NewManager creates a Manager with no declared variables.
func NewManager(store storage.Adapter, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:  store,
		logger: logger.With("component", "state"),
		vars:   make(map[string]spec.Variable),
	}
}

// Register replaces the declared variable set. Called at startup and on
// spec reload.
func (m *Manager) Register(vars []spec.Variable) {
	next := make(map[string]spec.Variable, len(vars))
	for _, v := range vars {
		next[v.Name] = v
	}
	m.mu.Lock()
	m.vars = next
	m.mu.Unlock()
}

// VariableNames returns the declared names, sorted.
func (m *Manager) VariableNames() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.vars))
	for name := range m.vars {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Get returns the stored value for a declared variable, or its declared
// default when nothing is stored. Scope carries the caller's IDs under
// the Scope* keys.
func (m *Manager) Get(name string, scope map[string]string) (any, error) {
	m.mu.RLock()
	decl, ok := m.vars[name]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown variable %q", name)
	}
	key, err := m.key(decl, scope)
	if err != nil {
		return nil, err
	}
	stored, err := m.store.Get(context.Background(), key)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return decl.Default, nil
	}
	return stored.Value, nil
}

// Set writes a declared variable for the given scope.
func (m *Manager) Set(ctx context.Context, name string, scope map[string]string, value any) error {
	m.mu.RLock()
	decl, ok := m.vars[name]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("unknown variable %q", name)
	}
	key, err := m.key(decl, scope)
	if err != nil {
		return err
	}
	return m.store.Set(ctx, key, storage.StoredValue{
		Value: value,
		Type:  storage.TypeOf(value),
	})
}

// Increment adds delta to a numeric variable and returns the new value.
// A missing or non-numeric stored value counts from the declared default
// (or zero).
func (m *Manager) Increment(ctx context.Context, name string, scope map[string]string, delta float64) (float64, error) {
	current, err := m.Get(name, scope)
	if err != nil {
		return 0, err
	}
	base := 0.0
	switch t := current.(type) {
	case float64:
		base = t
	case int:
		base = float64(t)
	case int64:
		base = float64(t)
	}
	next := base + delta
	if err := m.Set(ctx, name, scope, next); err != nil {
		return 0, err
	}
	return next, nil
}

// Delete removes a stored variable, reverting reads to the default.
func (m *Manager) Delete(ctx context.Context, name string, scope map[string]string) error {
	m.mu.RLock()
	decl, ok := m.vars[name]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("unknown variable %q", name)
	}
	key, err := m.key(decl, scope)
	if err != nil {
		return err
	}
	_, err = m.store.Delete(ctx, key)
	return err
}

// key composes the storage key for a declaration and scope IDs.
func (m *Manager) key(decl spec.Variable, scope map[string]string) (string, error) {
	switch decl.Scope {
	case "", "global":
		return "var:global:" + decl.Name, nil
	case "guild":
		id := scope[ScopeGuildID]
		if id == "" {
			return "", fmt.Errorf("variable %q needs a guild", decl.Name)
		}
		return "var:guild:" + id + ":" + decl.Name, nil
	case "channel":
		id := scope[ScopeChannelID]
		if id == "" {
			return "", fmt.Errorf("variable %q needs a channel", decl.Name)
		}
		return "var:channel:" + id + ":" + decl.Name, nil
	case "user":
		id := scope[ScopeUserID]
		if id == "" {
			return "", fmt.Errorf("variable %q needs a user", decl.Name)
		}
		return "var:user:" + id + ":" + decl.Name, nil
	case "member":
		guild, user := scope[ScopeGuildID], scope[ScopeUserID]
		if guild == "" || user == "" {
			return "", fmt.Errorf("variable %q needs a guild and user", decl.Name)
		}
		return "var:member:" + guild + ":" + user + ":" + decl.Name, nil
	default:
		return "", fmt.Errorf("variable %q has unknown scope %q", decl.Name, decl.Scope)
	}
}
