// Package sqlite provides the SQLite-backed attribute row store.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // pure go sqlite driver

	"expandable/internal/infra/persistence/sqlrows"
	"expandable/pkg/domain"
)

// Compile-time contract assertion ensuring the store satisfies the domain interface.
var _ domain.RowStore = (*Store)(nil)

const defaultPath = "expandable.db"

// Dialect is the SQLite flavour of the row store SQL.
var Dialect = sqlrows.Dialect{
	Name:    "sqlite",
	Bind:    sqlrows.QuestionBind,
	TimeArg: sqlrows.TextTime,
	Schema: func(table string) []string {
		return []string{
			`CREATE TABLE IF NOT EXISTS ` + table + ` (
				id TEXT PRIMARY KEY,
				owner_id TEXT NOT NULL,
				"key" TEXT NOT NULL,
				value TEXT NOT NULL DEFAULT '',
				created TEXT NOT NULL,
				modified TEXT NOT NULL,
				UNIQUE (owner_id, "key")
			)`,
			`CREATE INDEX IF NOT EXISTS ` + table + `_owner_idx ON ` + table + ` (owner_id)`,
		}
	},
}

// Store persists attribute rows to a SQLite database file.
type Store struct {
	*sqlrows.Store
	path string
}

// NewStore opens (creating when needed) the SQLite database at path and
// ensures table exists. Empty arguments fall back to defaults.
func NewStore(path, table string) (*Store, error) {
	if path == "" {
		path = defaultPath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single connection serialises writers and keeps ":memory:" databases shared.
	db.SetMaxOpenConns(1)
	rows, err := sqlrows.New(context.Background(), db, table, Dialect)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{Store: rows, path: path}, nil
}

// Path returns the database file path.
func (s *Store) Path() string { return s.path }
