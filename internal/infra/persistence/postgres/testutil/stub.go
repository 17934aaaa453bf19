// Package testutil provides a stub database for postgres store tests. It
// understands the small statement set the row store issues: DDL, filtered
// selects, and INSERT ... ON CONFLICT ... DO UPDATE ... RETURNING.
package testutil

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"io"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// StubConn keeps tables in memory and records executed statements.
type StubConn struct {
	mu         sync.Mutex
	Execs      []string
	Tables     map[string][]map[string]any
	FailExec   bool
	FailBegin  bool
	FailCommit bool
	FailQuery  bool
	RowsErr    error
	snapshot   map[string][]map[string]any
}

var stubSeq atomic.Int64

// NewStubDB registers a sql.DB backed by an in-memory stub connection.
func NewStubDB() (*sql.DB, *StubConn) {
	conn := &StubConn{Tables: make(map[string][]map[string]any)}
	name := fmt.Sprintf("stubpg%d_%d", time.Now().UnixNano(), stubSeq.Add(1))
	sql.Register(name, &stubDriver{conn: conn})
	db, err := sql.Open(name, "stub")
	if err != nil {
		panic(err)
	}
	return db, conn
}

// Rows returns a copy of the rows stored in table.
func (c *StubConn) Rows(table string) []map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return cloneRows(c.Tables[table])
}

type stubDriver struct {
	conn *StubConn
}

func (d *stubDriver) Open(string) (driver.Conn, error) {
	return d.conn, nil
}

// Prepare implements driver.Conn.
func (c *StubConn) Prepare(string) (driver.Stmt, error) { return nil, fmt.Errorf("not implemented") }

// Close implements driver.Conn.
func (c *StubConn) Close() error { return nil }

// Begin implements driver.Conn.
func (c *StubConn) Begin() (driver.Tx, error) {
	return c.BeginTx(context.Background(), driver.TxOptions{})
}

// Ping implements driver.Pinger.
func (c *StubConn) Ping(_ context.Context) error {
	if c.FailExec {
		return fmt.Errorf("ping fail")
	}
	return nil
}

// BeginTx implements driver.ConnBeginTx. Rollback restores the tables as
// they were when the transaction began.
func (c *StubConn) BeginTx(_ context.Context, _ driver.TxOptions) (driver.Tx, error) {
	if c.FailBegin {
		return nil, fmt.Errorf("begin fail")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snapshot = make(map[string][]map[string]any, len(c.Tables))
	for table, rows := range c.Tables {
		c.snapshot[table] = cloneRows(rows)
	}
	return &stubTx{conn: c}, nil
}

// ExecContext implements driver.ExecerContext.
func (c *StubConn) ExecContext(_ context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Execs = append(c.Execs, query)
	if c.FailExec {
		return nil, fmt.Errorf("exec fail")
	}
	upper := strings.ToUpper(strings.TrimSpace(query))
	switch {
	case strings.HasPrefix(upper, "CREATE"):
		return driver.RowsAffected(0), nil
	case strings.HasPrefix(upper, "INSERT INTO"):
		if _, err := c.insert(query, args); err != nil {
			return nil, err
		}
		return driver.RowsAffected(1), nil
	}
	return nil, fmt.Errorf("unsupported exec: %s", query)
}

// QueryContext implements driver.QueryerContext.
func (c *StubConn) QueryContext(_ context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.FailQuery {
		return nil, fmt.Errorf("query fail")
	}
	upper := strings.ToUpper(strings.TrimSpace(query))
	if strings.HasPrefix(upper, "INSERT INTO") {
		c.Execs = append(c.Execs, query)
		return c.insert(query, args)
	}
	table, cols, where, order, err := parseSelect(query)
	if err != nil {
		return nil, err
	}
	var matched []map[string]any
	for _, row := range c.Tables[table] {
		if matches(row, where, args) {
			matched = append(matched, row)
		}
	}
	slices.SortStableFunc(matched, func(a, b map[string]any) int {
		for _, col := range order {
			if cmp := compareValues(a[col], b[col]); cmp != 0 {
				return cmp
			}
		}
		return 0
	})
	values := make([][]driver.Value, 0, len(matched))
	for _, row := range matched {
		values = append(values, project(row, cols))
	}
	return &stubRows{cols: cols, rows: values, err: c.RowsErr}, nil
}

var (
	insertPattern   = regexp.MustCompile(`(?is)^insert\s+into\s+(\w+)\s*\(([^)]*)\)\s*values\s*\(([^)]*)\)(.*)$`)
	conflictPattern = regexp.MustCompile(`(?is)on\s+conflict\s*\(([^)]*)\)\s*do\s+update\s+set\s+(.*?)(?:\s+returning\s+(.*))?$`)
	returnPattern   = regexp.MustCompile(`(?is)returning\s+(.*)$`)
	selectPattern   = regexp.MustCompile(`(?is)^select\s+(.*?)\s+from\s+(\w+)(?:\s+where\s+(.*?))?(?:\s+order\s+by\s+(.*))?$`)
	bindPattern     = regexp.MustCompile(`^\$(\d+)$`)
)

func (c *StubConn) insert(query string, args []driver.NamedValue) (driver.Rows, error) {
	m := insertPattern.FindStringSubmatch(strings.TrimSpace(query))
	if m == nil {
		return nil, fmt.Errorf("cannot parse insert: %s", query)
	}
	table := strings.ToLower(m[1])
	cols := splitColumns(m[2])
	binds := splitColumns(m[3])
	if len(cols) != len(binds) {
		return nil, fmt.Errorf("column/value mismatch for %s", table)
	}
	row := make(map[string]any, len(cols))
	for i, col := range cols {
		v, err := bindValue(binds[i], args)
		if err != nil {
			return nil, err
		}
		row[col] = v
	}

	var returning []string
	tail := strings.TrimSpace(m[4])
	if cm := conflictPattern.FindStringSubmatch(tail); cm != nil {
		target := splitColumns(cm[1])
		if cm[3] != "" {
			returning = splitColumns(cm[3])
		}
		for _, existing := range c.Tables[table] {
			if !sameOn(existing, row, target) {
				continue
			}
			for _, assignment := range strings.Split(cm[2], ",") {
				parts := strings.SplitN(assignment, "=", 2)
				if len(parts) != 2 {
					return nil, fmt.Errorf("cannot parse assignment %q", assignment)
				}
				col := cleanIdent(parts[0])
				src := cleanIdent(parts[1])
				src = strings.TrimPrefix(src, "excluded.")
				existing[col] = row[src]
			}
			return &stubRows{cols: returning, rows: [][]driver.Value{project(existing, returning)}}, nil
		}
	} else if rm := returnPattern.FindStringSubmatch(tail); rm != nil {
		returning = splitColumns(rm[1])
	}
	if id, ok := row["id"]; ok {
		for _, existing := range c.Tables[table] {
			if existing["id"] == id {
				return nil, fmt.Errorf("duplicate key value violates unique constraint %s_pkey", table)
			}
		}
	}
	c.Tables[table] = append(c.Tables[table], row)
	return &stubRows{cols: returning, rows: [][]driver.Value{project(row, returning)}}, nil
}

func parseSelect(query string) (table string, cols []string, where [][2]string, order []string, err error) {
	m := selectPattern.FindStringSubmatch(strings.TrimSpace(query))
	if m == nil {
		return "", nil, nil, nil, fmt.Errorf("cannot parse select: %s", query)
	}
	cols = splitColumns(m[1])
	table = strings.ToLower(m[2])
	if m[3] != "" {
		for _, cond := range regexp.MustCompile(`(?i)\s+and\s+`).Split(m[3], -1) {
			parts := strings.SplitN(cond, "=", 2)
			if len(parts) != 2 {
				return "", nil, nil, nil, fmt.Errorf("cannot parse predicate %q", cond)
			}
			where = append(where, [2]string{cleanIdent(parts[0]), strings.TrimSpace(parts[1])})
		}
	}
	if m[4] != "" {
		order = splitColumns(m[4])
	}
	return table, cols, where, order, nil
}

func matches(row map[string]any, where [][2]string, args []driver.NamedValue) bool {
	for _, cond := range where {
		want, err := bindValue(cond[1], args)
		if err != nil || row[cond[0]] != want {
			return false
		}
	}
	return true
}

func bindValue(bind string, args []driver.NamedValue) (any, error) {
	m := bindPattern.FindStringSubmatch(strings.TrimSpace(bind))
	if m == nil {
		return nil, fmt.Errorf("unsupported bind %q", bind)
	}
	n, _ := strconv.Atoi(m[1])
	if n < 1 || n > len(args) {
		return nil, fmt.Errorf("missing arg $%d", n)
	}
	return args[n-1].Value, nil
}

func sameOn(a, b map[string]any, cols []string) bool {
	for _, col := range cols {
		if a[col] != b[col] {
			return false
		}
	}
	return true
}

func project(row map[string]any, cols []string) []driver.Value {
	vals := make([]driver.Value, len(cols))
	for i, col := range cols {
		vals[i] = row[col]
	}
	return vals
}

func compareValues(a, b any) int {
	if at, ok := a.(time.Time); ok {
		if bt, ok := b.(time.Time); ok {
			return at.Compare(bt)
		}
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

func cloneRows(rows []map[string]any) []map[string]any {
	out := make([]map[string]any, len(rows))
	for i, row := range rows {
		cp := make(map[string]any, len(row))
		for k, v := range row {
			cp[k] = v
		}
		out[i] = cp
	}
	return out
}

func cleanIdent(raw string) string {
	return strings.ToLower(strings.Trim(strings.TrimSpace(raw), `"`))
}

func splitColumns(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		out = append(out, cleanIdent(part))
	}
	return out
}

type stubTx struct {
	conn *StubConn
}

func (t *stubTx) Commit() error {
	t.conn.mu.Lock()
	defer t.conn.mu.Unlock()
	if t.conn.FailCommit {
		t.conn.Tables = t.conn.snapshot
		return fmt.Errorf("commit fail")
	}
	t.conn.snapshot = nil
	return nil
}

func (t *stubTx) Rollback() error {
	t.conn.mu.Lock()
	defer t.conn.mu.Unlock()
	if t.conn.snapshot != nil {
		t.conn.Tables = t.conn.snapshot
		t.conn.snapshot = nil
	}
	return nil
}

type stubRows struct {
	cols []string
	rows [][]driver.Value
	idx  int
	err  error
}

func (r *stubRows) Columns() []string { return r.cols }
func (r *stubRows) Close() error      { return nil }

func (r *stubRows) Next(dest []driver.Value) error {
	if r.idx >= len(r.rows) {
		if r.err != nil {
			return r.err
		}
		return io.EOF
	}
	copy(dest, r.rows[r.idx])
	r.idx++
	return nil
}
