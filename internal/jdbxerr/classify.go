package jdbxerr

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"strings"
)

// uniqueConstraintPattern extracts the offending column from SQLite's
// "UNIQUE constraint failed: <table>.<column>" message. The engine names the
// generated column (e.g. "_email"), which Classify strips back to the
// schema field name.
var uniqueConstraintPattern = regexp.MustCompile(`UNIQUE constraint failed: [^.]+\.(\S+)`)

// Classify turns a raw error returned by the engine (via database/sql) into
// a *Error with the appropriate Code, following the teacher's string-match
// style (internal/storage/sqlite's wrapDBError family and the
// isUniqueConstraintError helpers scattered across cmd/bd) generalised into
// one place.
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if e, ok := err.(*Error); ok {
		_ = e
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return Wrap(OperationAborted, op, "operation aborted", err)
	}
	if errors.Is(err, sql.ErrNoRows) {
		return Wrap(NotFound, op, "document not found", err)
	}
	if errors.Is(err, sql.ErrConnDone) || errors.Is(err, sql.ErrTxDone) {
		return Wrap(Connection, op, "connection closed", err)
	}

	msg := err.Error()

	if strings.Contains(msg, "UNIQUE constraint failed") {
		e := Wrap(UniqueConstraint, op, "unique constraint violated", err)
		if m := uniqueConstraintPattern.FindStringSubmatch(msg); len(m) == 2 {
			e.Field = strings.TrimPrefix(m[1], "_")
		}
		return e
	}
	if strings.Contains(msg, "CHECK constraint failed") || strings.Contains(msg, "NOT NULL constraint failed") ||
		strings.Contains(msg, "FOREIGN KEY constraint failed") {
		return Wrap(Constraint, op, "constraint violated", err)
	}
	if strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_LOCKED") {
		e := Wrap(Database, op, "database locked", err)
		e.EngCode = "SQLITE_LOCKED"
		return e
	}
	if strings.Contains(msg, "database is busy") || strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "busy") {
		e := Wrap(Database, op, "database busy", err)
		e.EngCode = "SQLITE_BUSY"
		return e
	}
	if strings.Contains(msg, "out of memory") || strings.Contains(msg, "SQLITE_NOMEM") {
		e := Wrap(Database, op, "engine out of memory", err)
		e.EngCode = "SQLITE_NOMEM"
		return e
	}
	if strings.Contains(msg, "disk I/O error") || strings.Contains(msg, "SQLITE_IOERR") {
		e := Wrap(Database, op, "engine I/O error", err)
		e.EngCode = "SQLITE_IOERR"
		return e
	}
	if strings.Contains(msg, "cannot start a transaction") || strings.Contains(msg, "transaction") {
		return Wrap(Transaction, op, "transaction failed", err)
	}
	if strings.Contains(msg, "connection") {
		return Wrap(Connection, op, "connection error", err)
	}

	return Wrap(Database, op, "engine error", err)
}
