package storage

import (
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"
)

// SQLite is the embedded single-file backend.
type SQLite struct {
	*sqlStore
}

// NewSQLite opens (creating if needed) a sqlite database at path. Pass
// ":memory:" for an ephemeral database.
func NewSQLite(path string) (*SQLite, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("%w: open sqlite: %v", ErrBackend, err)
	}
	// Single writer; the runtime serializes per-flow anyway.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%w: %s: %v", ErrBackend, pragma, err)
		}
	}
	store, err := newSQLStore(db, sqliteDialect)
	if err != nil {
		db.Close()
		return nil, err
	}
	return &SQLite{sqlStore: store}, nil
}

var sqliteDialect = dialect{
	name:        "sqlite",
	placeholder: func(int) string { return "?" },
	columnType: func(specType string) string {
		switch specType {
		case "number":
			return "REAL"
		case "boolean":
			return "INTEGER"
		case "timestamp":
			return "BIGINT"
		default: // string, json
			return "TEXT"
		}
	},
	isConstraintErr: func(err error) bool {
		if err == nil {
			return false
		}
		msg := err.Error()
		return strings.Contains(msg, "UNIQUE constraint failed") ||
			strings.Contains(msg, "constraint failed")
	},
	needsLimitForOffset: true,
}
