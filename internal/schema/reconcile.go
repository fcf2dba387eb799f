package schema

import (
	"context"
	"database/sql"
	"fmt"
)

// execer is the minimal *sql.DB/*sql.Tx/*sql.Conn surface Reconcile needs.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Reconcile attaches to an existing table whose physical layout may predate
// a newer Definition, adding any generated column/index the schema now
// declares but the table doesn't yet have. Mirrors the teacher's
// PRAGMA-table_info-driven idempotent migrations (e.g.
// 002_external_ref_column.go) generalised from one hand-written column to
// every generated column a Definition can produce.
func Reconcile(ctx context.Context, db execer, compiled *Compiled) error {
	existing, err := existingColumns(ctx, db, compiled.TableName)
	if err != nil {
		return fmt.Errorf("schema: reconcile %s: %w", compiled.TableName, err)
	}

	for _, gc := range compiled.GeneratedCols {
		if existing[gc.Column] {
			continue
		}
		stmt := fmt.Sprintf(
			`ALTER TABLE %s ADD COLUMN "%s" %s GENERATED ALWAYS AS (json_extract(body, '%s')) VIRTUAL`,
			compiled.TableName, gc.Column, gc.Type, gc.Path,
		)
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("schema: add generated column %s.%s: %w", compiled.TableName, gc.Column, err)
		}
	}

	for _, stmt := range compiled.CreateIndexes {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("schema: create index on %s: %w", compiled.TableName, err)
		}
	}
	return nil
}

// existingColumns returns the set of column names PRAGMA table_info reports
// for table, or an empty set if the table doesn't exist yet.
func existingColumns(ctx context.Context, db execer, table string) (map[string]bool, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols := make(map[string]bool)
	for rows.Next() {
		var cid int
		var name, typ string
		var notnull, pk int
		var dflt *string
		if err := rows.Scan(&cid, &name, &typ, &notnull, &dflt, &pk); err != nil {
			return nil, err
		}
		cols[name] = true
	}
	return cols, rows.Err()
}
