package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
)

// Postgres is the networked SQL backend.
type Postgres struct {
	*sqlStore
}

// NewPostgres connects to a Postgres database and verifies the connection.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("postgres dsn is required")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: open postgres: %v", ErrBackend, err)
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxIdleTime(5 * time.Minute)
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: ping postgres: %v", ErrBackend, err)
	}
	store, err := newSQLStore(db, postgresDialect)
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Postgres{sqlStore: store}, nil
}

var postgresDialect = dialect{
	name:        "postgres",
	placeholder: func(i int) string { return fmt.Sprintf("$%d", i) },
	columnType: func(specType string) string {
		switch specType {
		case "number":
			return "DOUBLE PRECISION"
		case "boolean":
			return "BOOLEAN"
		case "timestamp":
			return "BIGINT"
		case "json":
			return "JSONB"
		default:
			return "TEXT"
		}
	},
	isConstraintErr: func(err error) bool {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) {
			// Class 23: integrity constraint violations.
			return strings.HasPrefix(string(pqErr.Code), "23")
		}
		return false
	},
}
