// Package postgres provides the Postgres-backed attribute row store.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver

	"expandable/internal/infra/persistence/sqlrows"
	"expandable/pkg/domain"
)

// Compile-time contract assertion ensuring the store satisfies the domain interface.
var _ domain.RowStore = (*Store)(nil)

const (
	defaultDriver = "pgx"
	defaultDSN    = "postgres://localhost/expandable?sslmode=disable"
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

// Dialect is the Postgres flavour of the row store SQL.
var Dialect = sqlrows.Dialect{
	Name:    "postgres",
	Bind:    sqlrows.DollarBind,
	TimeArg: sqlrows.NativeTime,
	Schema: func(table string) []string {
		return []string{
			`CREATE TABLE IF NOT EXISTS ` + table + ` (
				id TEXT PRIMARY KEY,
				owner_id TEXT NOT NULL,
				"key" VARCHAR(128) NOT NULL,
				value TEXT NOT NULL DEFAULT '',
				created TIMESTAMPTZ NOT NULL,
				modified TIMESTAMPTZ NOT NULL,
				CONSTRAINT ` + table + `_owner_key UNIQUE (owner_id, "key")
			)`,
			`CREATE INDEX IF NOT EXISTS ` + table + `_owner_idx ON ` + table + ` (owner_id)`,
		}
	},
}

// Store persists attribute rows to Postgres.
type Store struct {
	*sqlrows.Store
}

// NewStore opens a Postgres-backed store using dsn (falls back to
// defaultDSN) and ensures table exists.
func NewStore(ctx context.Context, dsn, table string) (*Store, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	rows, err := sqlrows.New(ctx, db, table, Dialect)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{Store: rows}, nil
}

// OverrideSQLOpen swaps the sql.Open implementation for tests.
func OverrideSQLOpen(fn func(driverName, dsn string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}
