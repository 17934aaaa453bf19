package testutil

import (
	"context"
	"database/sql/driver"
	"io"
	"testing"
)

func TestStubUpsertsOnConflictTarget(t *testing.T) {
	ctx := context.Background()
	_, conn := NewStubDB()

	if _, err := conn.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS rows (id TEXT)`, nil); err != nil {
		t.Fatalf("create: %v", err)
	}
	upsert := `INSERT INTO rows (id, owner_id, "key", value) VALUES ($1, $2, $3, $4) ` +
		`ON CONFLICT (owner_id, "key") DO UPDATE SET value = excluded.value RETURNING id, value`
	for i, value := range []string{"one", "two"} {
		id := []string{"r1", "r2"}[i]
		rows, err := conn.QueryContext(ctx, upsert, []driver.NamedValue{{Value: id}, {Value: "o"}, {Value: "k"}, {Value: value}})
		if err != nil {
			t.Fatalf("upsert %d: %v", i, err)
		}
		dest := make([]driver.Value, 2)
		if err := rows.Next(dest); err != nil {
			t.Fatalf("next: %v", err)
		}
		if dest[0] != "r1" || dest[1] != value {
			t.Fatalf("unexpected returning values: %v", dest)
		}
	}
	if got := conn.Rows("rows"); len(got) != 1 {
		t.Fatalf("expected a single row, got %v", got)
	}
}

func TestStubSelectFiltersAndOrders(t *testing.T) {
	ctx := context.Background()
	_, conn := NewStubDB()
	conn.Tables["rows"] = []map[string]any{
		{"id": "3", "owner_id": "a", "key": "z"},
		{"id": "1", "owner_id": "b", "key": "y"},
		{"id": "2", "owner_id": "a", "key": "m"},
	}
	rows, err := conn.QueryContext(ctx, `SELECT id, "key" FROM rows WHERE owner_id = $1 ORDER BY "key"`, []driver.NamedValue{{Value: "a"}})
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	dest := make([]driver.Value, 2)
	var keys []any
	for rows.Next(dest) != io.EOF {
		keys = append(keys, dest[1])
	}
	if len(keys) != 2 || keys[0] != "m" || keys[1] != "z" {
		t.Fatalf("unexpected keys: %v", keys)
	}
}

func TestStubTransactionRollbackRestoresTables(t *testing.T) {
	ctx := context.Background()
	_, conn := NewStubDB()
	tx, err := conn.BeginTx(ctx, driver.TxOptions{})
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if _, err := conn.ExecContext(ctx, `INSERT INTO rows (id) VALUES ($1)`, []driver.NamedValue{{Value: "r1"}}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := tx.Rollback(); err != nil {
		t.Fatalf("rollback: %v", err)
	}
	if len(conn.Rows("rows")) != 0 {
		t.Fatalf("expected rollback to restore empty table")
	}
	if _, err := conn.ExecContext(ctx, `INSERT INTO rows (id) VALUES ($1)`, []driver.NamedValue{{Value: "r1"}}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, err := conn.ExecContext(ctx, `INSERT INTO rows (id) VALUES ($1)`, []driver.NamedValue{{Value: "r1"}}); err == nil {
		t.Fatalf("expected duplicate primary key error")
	}
	if _, err := conn.ExecContext(ctx, `DROP TABLE rows`, nil); err == nil {
		t.Fatalf("expected unsupported statement error")
	}
}
