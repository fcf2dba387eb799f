package dbconn

import (
	"context"
	"database/sql"

	"github.com/jdbx/jdbx/internal/jdbxerr"
)

// Execer is the minimal *sql.DB/*sql.Tx surface collections run statements
// against, so coll.Collection can operate identically whether or not it's
// inside a transaction scope.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type txKey struct{}

// execerFromContext returns the transaction's Execer if ctx carries one
// (spec §4.8 "nested calls inside a transaction must reuse the same
// connection; they never open a new engine-level transaction").
func execerFromContext(ctx context.Context) (Execer, bool) {
	tx, ok := ctx.Value(txKey{}).(*sql.Tx)
	return tx, ok
}

// Execer resolves the Execer a collection should issue statements against
// for ctx: the enclosing transaction if one is active, otherwise the
// database's own connection.
func (d *Database) Execer(ctx context.Context) (Execer, error) {
	if tx, ok := execerFromContext(ctx); ok {
		return tx, nil
	}
	return d.Conn()
}

// InTransaction reports whether ctx is already inside a jdbx transaction
// scope.
func InTransaction(ctx context.Context) bool {
	_, ok := execerFromContext(ctx)
	return ok
}

// WithTransaction begins a transaction, runs fn with a context carrying
// it, and commits on success or rolls back on any failure — including
// ctx cancellation (spec §4.8 "execute(callback)", §5 "Cancellation
// during a transaction triggers rollback"). If ctx is already inside a
// transaction, fn runs directly against the same connection: no nested
// engine transaction is opened (spec §4.8).
//
// Grounded on the teacher's DoltStore.RunInTransaction/runTransactionOnce
// (internal/storage/dolt/transaction.go), simplified: jdbx's retry
// envelope (internal/retry) is the caller's responsibility to wrap around
// WithTransaction, rather than a transaction-specific serialization-retry
// loop, since SQLite's single-connection model has no concurrent-writer
// serialization conflicts to retry around.
func (d *Database) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if InTransaction(ctx) {
		return fn(ctx)
	}

	db, connErr := d.Conn()
	if connErr != nil {
		return connErr
	}

	sqlTx, beginErr := db.BeginTx(ctx, nil)
	if beginErr != nil {
		return jdbxerr.Classify("dbconn.WithTransaction", beginErr)
	}

	scoped := context.WithValue(ctx, txKey{}, sqlTx)

	defer func() {
		if r := recover(); r != nil {
			_ = sqlTx.Rollback()
			panic(r)
		}
	}()

	if err = fn(scoped); err != nil {
		_ = sqlTx.Rollback()
		return err
	}

	if ctx.Err() != nil {
		_ = sqlTx.Rollback()
		return jdbxerr.Wrap(jdbxerr.OperationAborted, "dbconn.WithTransaction", "operation aborted before commit", ctx.Err())
	}

	if commitErr := sqlTx.Commit(); commitErr != nil {
		return jdbxerr.Classify("dbconn.WithTransaction", commitErr)
	}
	return nil
}
