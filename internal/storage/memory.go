package storage

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"
)

// Memory is the in-memory reference backend. It is the default for tests
// and for bots that opt out of persistence.
type Memory struct {
	mu     sync.RWMutex
	kv     map[string]StoredValue
	tables map[string]*memTable
	now    func() time.Time
}

type memTable struct {
	def  TableDef
	rows []map[string]any
}

// MemoryOption configures the memory backend.
type MemoryOption func(*Memory)

// WithNow overrides the clock for tests.
func WithNow(now func() time.Time) MemoryOption {
	return func(m *Memory) {
		if now != nil {
			m.now = now
		}
	}
}

// NewMemory creates an in-memory adapter.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		kv:     make(map[string]StoredValue),
		tables: make(map[string]*memTable),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Get returns the stored value, lazily evicting it when expired.
func (m *Memory) Get(_ context.Context, key string) (*StoredValue, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.kv[key]
	if !ok {
		return nil, nil
	}
	if entry.Expired(m.now()) {
		delete(m.kv, key)
		return nil, nil
	}
	out := entry
	return &out, nil
}

// Set stores a value, stamping CreatedAt/UpdatedAt.
func (m *Memory) Set(_ context.Context, key string, value StoredValue) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if existing, ok := m.kv[key]; ok && !existing.Expired(now) {
		value.CreatedAt = existing.CreatedAt
	} else {
		value.CreatedAt = now
	}
	value.UpdatedAt = now
	m.kv[key] = value
	return nil
}

// Delete removes a key, reporting whether a live entry was present.
func (m *Memory) Delete(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.kv[key]
	if !ok {
		return false, nil
	}
	delete(m.kv, key)
	return !entry.Expired(m.now()), nil
}

// Has reports whether a live value exists for the key.
func (m *Memory) Has(ctx context.Context, key string) (bool, error) {
	v, err := m.Get(ctx, key)
	return v != nil, err
}

// Keys lists live keys matching the glob, sorted for stable output.
func (m *Memory) Keys(_ context.Context, glob string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	out := make([]string, 0, len(m.kv))
	for key, entry := range m.kv {
		if entry.Expired(now) {
			delete(m.kv, key)
			continue
		}
		if globMatch(glob, key) {
			out = append(out, key)
		}
	}
	sort.Strings(out)
	return out, nil
}

// Clear removes every key/value entry. Tables are unaffected.
func (m *Memory) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.kv = make(map[string]StoredValue)
	return nil
}

// CreateTable declares a table; re-declaring an existing one is a no-op.
func (m *Memory) CreateTable(_ context.Context, def TableDef) error {
	if err := checkTableDef(def); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tables[def.Name]; ok {
		return nil
	}
	m.tables[def.Name] = &memTable{def: def}
	return nil
}

// Insert adds a row, enforcing primary and unique column constraints.
func (m *Memory) Insert(_ context.Context, table string, row map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tables[table]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoTable, table)
	}
	for _, col := range t.def.Columns {
		if !col.Primary && !col.Unique {
			continue
		}
		val, present := row[col.Name]
		if !present {
			continue
		}
		for _, existing := range t.rows {
			if valueEqual(existing[col.Name], val) {
				return fmt.Errorf("%w: duplicate %s in %s", ErrConstraint, col.Name, table)
			}
		}
	}
	stored := make(map[string]any, len(row))
	for k, v := range row {
		stored[k] = v
	}
	t.rows = append(t.rows, stored)
	return nil
}

// Update patches matching rows, returning how many changed.
func (m *Memory) Update(_ context.Context, table string, where, patch map[string]any) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tables[table]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrNoTable, table)
	}
	count := 0
	for _, row := range t.rows {
		if !rowMatches(row, where) {
			continue
		}
		for k, v := range patch {
			row[k] = v
		}
		count++
	}
	return count, nil
}

// DeleteRows removes matching rows, returning how many were removed.
func (m *Memory) DeleteRows(_ context.Context, table string, where map[string]any) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tables[table]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrNoTable, table)
	}
	kept := t.rows[:0]
	count := 0
	for _, row := range t.rows {
		if rowMatches(row, where) {
			count++
			continue
		}
		kept = append(kept, row)
	}
	t.rows = kept
	return count, nil
}

// Query returns matching rows with ordering and paging applied.
func (m *Memory) Query(_ context.Context, table string, q Query) ([]map[string]any, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tables[table]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoTable, table)
	}
	matched := make([]map[string]any, 0, len(t.rows))
	for _, row := range t.rows {
		if rowMatches(row, q.Where) {
			matched = append(matched, row)
		}
	}
	if q.OrderBy != "" {
		column, desc := orderSpec(q.OrderBy)
		sort.SliceStable(matched, func(i, j int) bool {
			if desc {
				return valueLess(matched[j][column], matched[i][column])
			}
			return valueLess(matched[i][column], matched[j][column])
		})
	}
	start := q.Offset
	if start > len(matched) {
		start = len(matched)
	}
	end := len(matched)
	if q.Limit > 0 && start+q.Limit < end {
		end = start + q.Limit
	}
	out := make([]map[string]any, 0, end-start)
	for _, row := range matched[start:end] {
		copyRow := make(map[string]any, len(row))
		if len(q.Select) > 0 {
			for _, col := range q.Select {
				copyRow[col] = row[col]
			}
		} else {
			for k, v := range row {
				copyRow[k] = v
			}
		}
		out = append(out, copyRow)
	}
	return out, nil
}

// Close is a no-op for the memory backend.
func (m *Memory) Close() error { return nil }

func rowMatches(row, where map[string]any) bool {
	for k, v := range where {
		if !valueEqual(row[k], v) {
			return false
		}
	}
	return true
}

func valueEqual(a, b any) bool {
	if a == nil && b == nil {
		return true
	}
	if af, aok := asNumber(a); aok {
		if bf, bok := asNumber(b); bok {
			return af == bf
		}
	}
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

func valueLess(a, b any) bool {
	if af, aok := asNumber(a); aok {
		if bf, bok := asNumber(b); bok {
			return af < bf
		}
	}
	return fmt.Sprintf("%v", a) < fmt.Sprintf("%v", b)
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
	case bool:
		return 0, false
	case string:
		f, err := strconv.ParseFloat(t, 64)
		return f, err == nil
	}
	return 0, false
}
