// Package storage defines the persistence contract used by the runtime: a
// key/value surface with TTL and a tabular surface with typed columns,
// uniqueness constraints, and filtered queries. Three backends satisfy the
// same contract: in-memory, embedded sqlite, and networked Postgres.
package storage

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"
)

var (
	// ErrConstraint reports a primary-key or unique violation on insert.
	ErrConstraint = errors.New("constraint violation")
	// ErrBackend wraps backend I/O failures.
	ErrBackend = errors.New("storage backend error")
	// ErrNoTable reports an operation against an undeclared table.
	ErrNoTable = errors.New("table does not exist")
	// ErrIdentifier reports a table or column name outside the safe set.
	ErrIdentifier = errors.New("invalid identifier")
)

// ValueType tags a stored key/value entry.
type ValueType string

const (
	TypeString    ValueType = "string"
	TypeNumber    ValueType = "number"
	TypeBoolean   ValueType = "boolean"
	TypeObject    ValueType = "object"
	TypeArray     ValueType = "array"
	TypeNull      ValueType = "null"
	TypeJSON      ValueType = "json"
	TypeTimestamp ValueType = "timestamp"
)

// TypeOf classifies a dynamic value for storage.
func TypeOf(v any) ValueType {
	switch v.(type) {
	case nil:
		return TypeNull
	case bool:
		return TypeBoolean
	case float64, float32, int, int64:
		return TypeNumber
	case string:
		return TypeString
	case []any:
		return TypeArray
	default:
		return TypeObject
	}
}

// StoredValue is one key/value entry. A zero ExpiresAt means no expiry; an
// entry whose ExpiresAt has passed is semantically absent and is evicted on
// first observation.
type StoredValue struct {
	Value     any
	Type      ValueType
	CreatedAt time.Time
	UpdatedAt time.Time
	ExpiresAt time.Time
}

// Expired reports whether the entry is past its TTL at the given instant.
func (v StoredValue) Expired(now time.Time) bool {
	return !v.ExpiresAt.IsZero() && !v.ExpiresAt.After(now)
}

// ColumnDef declares one typed table column.
type ColumnDef struct {
	Name    string
	Type    string // string, number, boolean, json, timestamp
	Primary bool
	Unique  bool
	Index   bool
}

// TableDef declares a table: columns plus optional composite indexes.
type TableDef struct {
	Name    string
	Columns []ColumnDef
	Indexes [][]string
}

// Query selects rows: equality filters, one order column with an optional
// ASC|DESC suffix, and limit/offset paging.
type Query struct {
	Select  []string
	Where   map[string]any
	OrderBy string
	Limit   int
	Offset  int
}

// Adapter is the storage contract. All methods are safe for concurrent use.
type Adapter interface {
	Get(ctx context.Context, key string) (*StoredValue, error)
	Set(ctx context.Context, key string, value StoredValue) error
	Delete(ctx context.Context, key string) (bool, error)
	Has(ctx context.Context, key string) (bool, error)
	Keys(ctx context.Context, glob string) ([]string, error)
	Clear(ctx context.Context) error

	CreateTable(ctx context.Context, def TableDef) error
	Insert(ctx context.Context, table string, row map[string]any) error
	Update(ctx context.Context, table string, where, patch map[string]any) (int, error)
	DeleteRows(ctx context.Context, table string, where map[string]any) (int, error)
	Query(ctx context.Context, table string, q Query) ([]map[string]any, error)

	Close() error
}

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidIdent reports whether a table or column name is safe to compose into
// a backend query. Names come from the spec, but the check runs before any
// SQL is built regardless.
func ValidIdent(name string) bool {
	return identPattern.MatchString(name)
}

// checkTableDef validates every identifier in a table definition.
func checkTableDef(def TableDef) error {
	if !ValidIdent(def.Name) {
		return errInvalidIdent(def.Name)
	}
	if len(def.Columns) == 0 {
		return errors.New("table requires at least one column")
	}
	for _, col := range def.Columns {
		if !ValidIdent(col.Name) {
			return errInvalidIdent(col.Name)
		}
	}
	for _, idx := range def.Indexes {
		for _, col := range idx {
			if !ValidIdent(col) {
				return errInvalidIdent(col)
			}
		}
	}
	return nil
}

func errInvalidIdent(name string) error {
	return errors.Join(ErrIdentifier, errors.New("name "+name))
}

// globMatch matches a key against a glob where '*' spans any run and '?'
// one character. An empty glob matches everything.
func globMatch(glob, key string) bool {
	if glob == "" || glob == "*" {
		return true
	}
	return globMatchAt(glob, key)
}

func globMatchAt(glob, key string) bool {
	for len(glob) > 0 {
		switch glob[0] {
		case '*':
			glob = strings.TrimLeft(glob, "*")
			if glob == "" {
				return true
			}
			for i := 0; i <= len(key); i++ {
				if globMatchAt(glob, key[i:]) {
					return true
				}
			}
			return false
		case '?':
			if key == "" {
				return false
			}
			glob, key = glob[1:], key[1:]
		default:
			if key == "" || glob[0] != key[0] {
				return false
			}
			glob, key = glob[1:], key[1:]
		}
	}
	return key == ""
}

// orderSpec splits "col DESC" into its column and direction.
func orderSpec(orderBy string) (column string, desc bool) {
	fields := strings.Fields(orderBy)
	if len(fields) == 0 {
		return "", false
	}
	column = fields[0]
	if len(fields) > 1 && strings.EqualFold(fields[1], "DESC") {
		desc = true
	}
	return column, desc
}
