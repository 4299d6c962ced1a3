package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

const kvTable = "specbot_kv"

// dialect captures the differences between the two SQL backends.
type dialect struct {
	name            string
	placeholder     func(i int) string
	columnType      func(specType string) string
	isConstraintErr func(err error) bool
	// needsLimitForOffset is true where OFFSET requires a LIMIT clause.
	needsLimitForOffset bool
}

// sqlStore implements Adapter over database/sql for both dialects. Values
// on the key/value surface are stored as JSON; timestamps are 64-bit
// milliseconds since epoch.
type sqlStore struct {
	db  *sql.DB
	d   dialect
	now func() time.Time

	mu     sync.RWMutex
	tables map[string]TableDef
}

func newSQLStore(db *sql.DB, d dialect) (*sqlStore, error) {
	s := &sqlStore{db: db, d: d, now: time.Now, tables: map[string]TableDef{}}
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		type TEXT NOT NULL,
		created_at BIGINT NOT NULL,
		updated_at BIGINT NOT NULL,
		expires_at BIGINT NOT NULL DEFAULT 0
	)`, kvTable)
	if _, err := db.Exec(ddl); err != nil {
		return nil, fmt.Errorf("%w: init kv table: %v", ErrBackend, err)
	}
	return s, nil
}

func (s *sqlStore) Get(ctx context.Context, key string) (*StoredValue, error) {
	query := fmt.Sprintf(
		"SELECT value, type, created_at, updated_at, expires_at FROM %s WHERE key = %s",
		kvTable, s.d.placeholder(1),
	)
	var (
		encoded   string
		valueType string
		createdAt int64
		updatedAt int64
		expiresAt int64
	)
	err := s.db.QueryRowContext(ctx, query, key).Scan(&encoded, &valueType, &createdAt, &updatedAt, &expiresAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get: %v", ErrBackend, err)
	}
	value := StoredValue{
		Type:      ValueType(valueType),
		CreatedAt: time.UnixMilli(createdAt),
		UpdatedAt: time.UnixMilli(updatedAt),
	}
	if expiresAt > 0 {
		value.ExpiresAt = time.UnixMilli(expiresAt)
	}
	if value.Expired(s.now()) {
		del := fmt.Sprintf("DELETE FROM %s WHERE key = %s", kvTable, s.d.placeholder(1))
		if _, err := s.db.ExecContext(ctx, del, key); err != nil {
			return nil, fmt.Errorf("%w: evict: %v", ErrBackend, err)
		}
		return nil, nil
	}
	if err := json.Unmarshal([]byte(encoded), &value.Value); err != nil {
		return nil, fmt.Errorf("%w: decode value: %v", ErrBackend, err)
	}
	return &value, nil
}

func (s *sqlStore) Set(ctx context.Context, key string, value StoredValue) error {
	encoded, err := json.Marshal(value.Value)
	if err != nil {
		return fmt.Errorf("%w: encode value: %v", ErrBackend, err)
	}
	now := s.now().UnixMilli()
	var expiresAt int64
	if !value.ExpiresAt.IsZero() {
		expiresAt = value.ExpiresAt.UnixMilli()
	}
	query := fmt.Sprintf(`INSERT INTO %s (key, value, type, created_at, updated_at, expires_at)
		VALUES (%s, %s, %s, %s, %s, %s)
		ON CONFLICT (key) DO UPDATE SET
			value = excluded.value,
			type = excluded.type,
			updated_at = excluded.updated_at,
			expires_at = excluded.expires_at`,
		kvTable,
		s.d.placeholder(1), s.d.placeholder(2), s.d.placeholder(3),
		s.d.placeholder(4), s.d.placeholder(5), s.d.placeholder(6),
	)
	if _, err := s.db.ExecContext(ctx, query, key, string(encoded), string(value.Type), now, now, expiresAt); err != nil {
		return fmt.Errorf("%w: set: %v", ErrBackend, err)
	}
	return nil
}

func (s *sqlStore) Delete(ctx context.Context, key string) (bool, error) {
	live, err := s.Get(ctx, key)
	if err != nil {
		return false, err
	}
	query := fmt.Sprintf("DELETE FROM %s WHERE key = %s", kvTable, s.d.placeholder(1))
	if _, err := s.db.ExecContext(ctx, query, key); err != nil {
		return false, fmt.Errorf("%w: delete: %v", ErrBackend, err)
	}
	return live != nil, nil
}

func (s *sqlStore) Has(ctx context.Context, key string) (bool, error) {
	v, err := s.Get(ctx, key)
	return v != nil, err
}

func (s *sqlStore) Keys(ctx context.Context, glob string) ([]string, error) {
	purge := fmt.Sprintf("DELETE FROM %s WHERE expires_at > 0 AND expires_at <= %s", kvTable, s.d.placeholder(1))
	if _, err := s.db.ExecContext(ctx, purge, s.now().UnixMilli()); err != nil {
		return nil, fmt.Errorf("%w: purge expired: %v", ErrBackend, err)
	}
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf("SELECT key FROM %s ORDER BY key", kvTable))
	if err != nil {
		return nil, fmt.Errorf("%w: keys: %v", ErrBackend, err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("%w: keys scan: %v", ErrBackend, err)
		}
		if globMatch(glob, key) {
			out = append(out, key)
		}
	}
	return out, rows.Err()
}

func (s *sqlStore) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM "+kvTable); err != nil {
		return fmt.Errorf("%w: clear: %v", ErrBackend, err)
	}
	return nil
}

func (s *sqlStore) CreateTable(ctx context.Context, def TableDef) error {
	if err := checkTableDef(def); err != nil {
		return err
	}
	cols := make([]string, 0, len(def.Columns))
	for _, col := range def.Columns {
		clause := col.Name + " " + s.d.columnType(col.Type)
		if col.Primary {
			clause += " PRIMARY KEY"
		} else if col.Unique {
			clause += " UNIQUE"
		}
		cols = append(cols, clause)
	}
	ddl := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", def.Name, strings.Join(cols, ", "))
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("%w: create table %s: %v", ErrBackend, def.Name, err)
	}
	for _, col := range def.Columns {
		if !col.Index || col.Primary || col.Unique {
			continue
		}
		idx := fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_%s ON %s (%s)", def.Name, col.Name, def.Name, col.Name)
		if _, err := s.db.ExecContext(ctx, idx); err != nil {
			return fmt.Errorf("%w: index %s.%s: %v", ErrBackend, def.Name, col.Name, err)
		}
	}
	for _, composite := range def.Indexes {
		idx := fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_%s ON %s (%s)",
			def.Name, strings.Join(composite, "_"), def.Name, strings.Join(composite, ", "))
		if _, err := s.db.ExecContext(ctx, idx); err != nil {
			return fmt.Errorf("%w: composite index on %s: %v", ErrBackend, def.Name, err)
		}
	}
	s.mu.Lock()
	s.tables[def.Name] = def
	s.mu.Unlock()
	return nil
}

func (s *sqlStore) tableDef(table string) (TableDef, error) {
	s.mu.RLock()
	def, ok := s.tables[table]
	s.mu.RUnlock()
	if !ok {
		return TableDef{}, fmt.Errorf("%w: %s", ErrNoTable, table)
	}
	return def, nil
}

func (s *sqlStore) Insert(ctx context.Context, table string, row map[string]any) error {
	def, err := s.tableDef(table)
	if err != nil {
		return err
	}
	cols := make([]string, 0, len(row))
	placeholders := make([]string, 0, len(row))
	args := make([]any, 0, len(row))
	for _, name := range sortedColumnNames(row) {
		if !ValidIdent(name) {
			return errInvalidIdent(name)
		}
		encoded, err := encodeColumn(def, name, row[name])
		if err != nil {
			return err
		}
		cols = append(cols, name)
		placeholders = append(placeholders, s.d.placeholder(len(args)+1))
		args = append(args, encoded)
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		table, strings.Join(cols, ", "), strings.Join(placeholders, ", "))
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		if s.d.isConstraintErr(err) {
			return fmt.Errorf("%w: insert into %s: %v", ErrConstraint, table, err)
		}
		return fmt.Errorf("%w: insert into %s: %v", ErrBackend, table, err)
	}
	return nil
}

func (s *sqlStore) Update(ctx context.Context, table string, where, patch map[string]any) (int, error) {
	def, err := s.tableDef(table)
	if err != nil {
		return 0, err
	}
	sets := make([]string, 0, len(patch))
	args := make([]any, 0, len(patch)+len(where))
	for _, name := range sortedColumnNames(patch) {
		if !ValidIdent(name) {
			return 0, errInvalidIdent(name)
		}
		encoded, err := encodeColumn(def, name, patch[name])
		if err != nil {
			return 0, err
		}
		args = append(args, encoded)
		sets = append(sets, fmt.Sprintf("%s = %s", name, s.d.placeholder(len(args))))
	}
	clause, args, err := s.whereClause(def, where, args)
	if err != nil {
		return 0, err
	}
	query := fmt.Sprintf("UPDATE %s SET %s%s", table, strings.Join(sets, ", "), clause)
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("%w: update %s: %v", ErrBackend, table, err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *sqlStore) DeleteRows(ctx context.Context, table string, where map[string]any) (int, error) {
	def, err := s.tableDef(table)
	if err != nil {
		return 0, err
	}
	clause, args, err := s.whereClause(def, where, nil)
	if err != nil {
		return 0, err
	}
	query := fmt.Sprintf("DELETE FROM %s%s", table, clause)
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("%w: delete from %s: %v", ErrBackend, table, err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *sqlStore) Query(ctx context.Context, table string, q Query) ([]map[string]any, error) {
	def, err := s.tableDef(table)
	if err != nil {
		return nil, err
	}
	selectCols := q.Select
	if len(selectCols) == 0 {
		for _, col := range def.Columns {
			selectCols = append(selectCols, col.Name)
		}
	}
	for _, col := range selectCols {
		if !ValidIdent(col) {
			return nil, errInvalidIdent(col)
		}
	}
	clause, args, err := s.whereClause(def, q.Where, nil)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf("SELECT %s FROM %s%s", strings.Join(selectCols, ", "), table, clause)
	if q.OrderBy != "" {
		column, desc := orderSpec(q.OrderBy)
		if !ValidIdent(column) {
			return nil, errInvalidIdent(column)
		}
		query += " ORDER BY " + column
		if desc {
			query += " DESC"
		}
	}
	if q.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", q.Limit)
	} else if q.Offset > 0 && s.d.needsLimitForOffset {
		query += " LIMIT -1"
	}
	if q.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", q.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: query %s: %v", ErrBackend, table, err)
	}
	defer rows.Close()

	var out []map[string]any
	for rows.Next() {
		scan := make([]any, len(selectCols))
		for i := range scan {
			var cell any
			scan[i] = &cell
		}
		if err := rows.Scan(scan...); err != nil {
			return nil, fmt.Errorf("%w: scan %s: %v", ErrBackend, table, err)
		}
		row := make(map[string]any, len(selectCols))
		for i, col := range selectCols {
			cell := *(scan[i].(*any))
			decoded, err := decodeColumn(def, col, cell)
			if err != nil {
				return nil, err
			}
			row[col] = decoded
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (s *sqlStore) Close() error { return s.db.Close() }

func (s *sqlStore) whereClause(def TableDef, where map[string]any, args []any) (string, []any, error) {
	if len(where) == 0 {
		return "", args, nil
	}
	conds := make([]string, 0, len(where))
	for _, name := range sortedColumnNames(where) {
		if !ValidIdent(name) {
			return "", nil, errInvalidIdent(name)
		}
		encoded, err := encodeColumn(def, name, where[name])
		if err != nil {
			return "", nil, err
		}
		args = append(args, encoded)
		conds = append(conds, fmt.Sprintf("%s = %s", name, s.d.placeholder(len(args))))
	}
	return " WHERE " + strings.Join(conds, " AND "), args, nil
}

func sortedColumnNames(m map[string]any) []string {
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func columnType(def TableDef, name string) string {
	for _, col := range def.Columns {
		if col.Name == name {
			return col.Type
		}
	}
	return ""
}

// encodeColumn converts a row value to its driver representation. JSON
// columns are serialized structurally; timestamps go to millisecond ints.
func encodeColumn(def TableDef, name string, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch columnType(def, name) {
	case "json":
		encoded, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("%w: encode json column %s: %v", ErrBackend, name, err)
		}
		return string(encoded), nil
	case "timestamp":
		switch t := v.(type) {
		case time.Time:
			return t.UnixMilli(), nil
		case int64:
			return t, nil
		case int:
			return int64(t), nil
		case float64:
			return int64(t), nil
		}
		return v, nil
	case "boolean":
		if b, ok := v.(bool); ok {
			return b, nil
		}
		return v, nil
	default:
		return v, nil
	}
}

// decodeColumn converts a scanned cell back to its contract type.
func decodeColumn(def TableDef, name string, cell any) (any, error) {
	if cell == nil {
		return nil, nil
	}
	if b, ok := cell.([]byte); ok {
		cell = string(b)
	}
	switch columnType(def, name) {
	case "json":
		s, ok := cell.(string)
		if !ok {
			return nil, fmt.Errorf("%w: json column %s holds %T", ErrBackend, name, cell)
		}
		var out any
		if err := json.Unmarshal([]byte(s), &out); err != nil {
			return nil, fmt.Errorf("%w: decode json column %s: %v", ErrBackend, name, err)
		}
		return out, nil
	case "number":
		switch t := cell.(type) {
		case float64:
			return t, nil
		case int64:
			return float64(t), nil
		case string:
			var f float64
			if _, err := fmt.Sscanf(t, "%g", &f); err == nil {
				return f, nil
			}
		}
		return cell, nil
	case "boolean":
		switch t := cell.(type) {
		case bool:
			return t, nil
		case int64:
			return t != 0, nil
		}
		return cell, nil
	case "timestamp":
		switch t := cell.(type) {
		case int64:
			return t, nil
		case float64:
			return int64(t), nil
		}
		return cell, nil
	default:
		return cell, nil
	}
}
