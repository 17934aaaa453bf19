// Package sqlrows implements the attribute row store on database/sql. The
// sqlite and postgres packages supply the dialect and the connection.
package sqlrows

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"expandable/pkg/domain"
)

// Compile-time contract assertion ensuring the store satisfies the domain interface.
var _ domain.RowStore = (*Store)(nil)

// DefaultTable is the table attribute rows live in unless configured otherwise.
const DefaultTable = "attribute_rows"

// timeLayout is fixed-width so that text timestamps sort chronologically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

var tableName = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,62}$`)

// Dialect captures the SQL differences between drivers.
type Dialect struct {
	Name string
	// Bind returns the placeholder for the n-th (1-based) argument.
	Bind func(n int) string
	// Schema returns the statements creating table and its indexes.
	Schema func(table string) []string
	// TimeArg converts a timestamp into a driver argument.
	TimeArg func(t time.Time) any
}

// QuestionBind is the positional "?" placeholder style.
func QuestionBind(int) string { return "?" }

// DollarBind is the numbered "$n" placeholder style.
func DollarBind(n int) string { return fmt.Sprintf("$%d", n) }

// TextTime stores timestamps as fixed-width UTC text.
func TextTime(t time.Time) any { return t.UTC().Format(timeLayout) }

// NativeTime hands timestamps to the driver unchanged.
func NativeTime(t time.Time) any { return t.UTC() }

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type statements struct {
	find    string
	byOwner string
	upsert  string
}

// Store persists attribute rows in a single table with a unique
// (owner_id, key) constraint; upserts resolve conflicts in the database.
type Store struct {
	db      *sql.DB
	table   string
	dialect Dialect
	stmts   statements
	nowFn   func() time.Time
}

// New wraps db, creating table when it does not exist. An empty table
// selects DefaultTable.
func New(ctx context.Context, db *sql.DB, table string, dialect Dialect) (*Store, error) {
	if db == nil {
		return nil, errors.New("sqlrows: db is required")
	}
	if table == "" {
		table = DefaultTable
	}
	if !tableName.MatchString(table) {
		return nil, fmt.Errorf("sqlrows: invalid table name %q", table)
	}
	if dialect.Bind == nil || dialect.Schema == nil || dialect.TimeArg == nil {
		return nil, fmt.Errorf("sqlrows: incomplete dialect %q", dialect.Name)
	}
	for _, stmt := range dialect.Schema(table) {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("%s: ensure %s: %w", dialect.Name, table, err)
		}
	}
	return &Store{
		db:      db,
		table:   table,
		dialect: dialect,
		stmts:   buildStatements(table, dialect.Bind),
		nowFn:   func() time.Time { return time.Now().UTC() },
	}, nil
}

func buildStatements(table string, bind func(int) string) statements {
	return statements{
		find: fmt.Sprintf(`SELECT id FROM %s WHERE owner_id = %s AND "key" = %s`, table, bind(1), bind(2)),
		byOwner: fmt.Sprintf(`SELECT id, owner_id, "key", value, created, modified FROM %s WHERE owner_id = %s ORDER BY created, "key"`,
			table, bind(1)),
		upsert: fmt.Sprintf(`INSERT INTO %s (id, owner_id, "key", value, created, modified) VALUES (%s, %s, %s, %s, %s, %s) `+
			`ON CONFLICT (owner_id, "key") DO UPDATE SET value = excluded.value, modified = excluded.modified `+
			`RETURNING id, created, modified`,
			table, bind(1), bind(2), bind(3), bind(4), bind(5), bind(6)),
	}
}

// ForTable returns a store over table sharing s's connection, clock and
// dialect, creating the table when it does not exist. Closing either store
// closes the shared handle.
func (s *Store) ForTable(ctx context.Context, table string) (*Store, error) {
	other, err := New(ctx, s.db, table, s.dialect)
	if err != nil {
		return nil, err
	}
	other.nowFn = s.nowFn
	return other, nil
}

// SetNowFunc overrides the clock used for row timestamps.
func (s *Store) SetNowFunc(now func() time.Time) {
	if now != nil {
		s.nowFn = now
	}
}

// Table returns the backing table name.
func (s *Store) Table() string { return s.table }

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// FindAttributeRow implements domain.RowReader.
func (s *Store) FindAttributeRow(ctx context.Context, ownerID, key string) (string, bool, error) {
	return s.find(ctx, s.db, ownerID, key)
}

// FindRowsByOwner implements domain.RowReader.
func (s *Store) FindRowsByOwner(ctx context.Context, ownerID string) ([]domain.AttributeRow, error) {
	return s.byOwner(ctx, s.db, ownerID)
}

// UpsertAttributeRow implements domain.RowTx.
func (s *Store) UpsertAttributeRow(ctx context.Context, row domain.AttributeRow) (domain.AttributeRow, error) {
	return s.upsert(ctx, s.db, row)
}

// RunInTransaction runs fn inside a database transaction, committing when fn
// returns nil and rolling back otherwise.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx domain.RowTx) error) (err error) {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%s: begin: %w", s.dialect.Name, err)
	}
	defer func() {
		if err != nil {
			_ = sqlTx.Rollback()
		}
	}()
	if err = fn(&transaction{store: s, q: sqlTx}); err != nil {
		return err
	}
	if err = ctx.Err(); err != nil {
		return err
	}
	if err = sqlTx.Commit(); err != nil {
		return fmt.Errorf("%s: commit: %w", s.dialect.Name, err)
	}
	return nil
}

type transaction struct {
	store *Store
	q     querier
}

func (tx *transaction) FindAttributeRow(ctx context.Context, ownerID, key string) (string, bool, error) {
	return tx.store.find(ctx, tx.q, ownerID, key)
}

func (tx *transaction) FindRowsByOwner(ctx context.Context, ownerID string) ([]domain.AttributeRow, error) {
	return tx.store.byOwner(ctx, tx.q, ownerID)
}

func (tx *transaction) UpsertAttributeRow(ctx context.Context, row domain.AttributeRow) (domain.AttributeRow, error) {
	return tx.store.upsert(ctx, tx.q, row)
}

func (s *Store) find(ctx context.Context, q querier, ownerID, key string) (string, bool, error) {
	var id string
	err := q.QueryRowContext(ctx, s.stmts.find, ownerID, key).Scan(&id)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return "", false, nil
	case err != nil:
		return "", false, fmt.Errorf("%s: find %s/%s: %w", s.dialect.Name, ownerID, key, err)
	}
	return id, true, nil
}

func (s *Store) byOwner(ctx context.Context, q querier, ownerID string) ([]domain.AttributeRow, error) {
	rows, err := q.QueryContext(ctx, s.stmts.byOwner, ownerID)
	if err != nil {
		return nil, fmt.Errorf("%s: select rows for %s: %w", s.dialect.Name, ownerID, err)
	}
	defer func() { _ = rows.Close() }()

	var out []domain.AttributeRow
	for rows.Next() {
		var row domain.AttributeRow
		var value sql.NullString
		if err := rows.Scan(&row.ID, &row.OwnerID, &row.Key, &value, timeScanner{&row.Created}, timeScanner{&row.Modified}); err != nil {
			return nil, fmt.Errorf("%s: scan: %w", s.dialect.Name, err)
		}
		row.Value = value.String
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: iterate rows: %w", s.dialect.Name, err)
	}
	return out, nil
}

func (s *Store) upsert(ctx context.Context, q querier, row domain.AttributeRow) (domain.AttributeRow, error) {
	if row.OwnerID == "" {
		return domain.AttributeRow{}, domain.ErrEmptyOwner
	}
	if domain.IsBlankKey(row.Key) {
		return domain.AttributeRow{}, fmt.Errorf("%s: attribute key must not be blank", s.dialect.Name)
	}
	if row.ID == "" {
		row.ID = uuid.NewString()
	}
	now := s.nowFn()
	err := q.QueryRowContext(ctx, s.stmts.upsert,
		row.ID, row.OwnerID, row.Key, row.Value, s.dialect.TimeArg(now), s.dialect.TimeArg(now),
	).Scan(&row.ID, timeScanner{&row.Created}, timeScanner{&row.Modified})
	if err != nil {
		return domain.AttributeRow{}, fmt.Errorf("%s: upsert %s/%s: %w", s.dialect.Name, row.OwnerID, row.Key, err)
	}
	return row, nil
}

// timeScanner reads timestamps stored natively or as text.
type timeScanner struct {
	dst *time.Time
}

func (ts timeScanner) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*ts.dst = time.Time{}
	case time.Time:
		*ts.dst = v.UTC()
	case string:
		return ts.parse(v)
	case []byte:
		return ts.parse(string(v))
	default:
		return fmt.Errorf("unsupported timestamp type %T", src)
	}
	return nil
}

func (ts timeScanner) parse(raw string) error {
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return fmt.Errorf("parse timestamp %q: %w", raw, err)
	}
	*ts.dst = t.UTC()
	return nil
}
