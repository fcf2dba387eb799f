// Package jdbxerr defines the closed error taxonomy shared by every layer
// of jdbx and the helpers that classify driver/engine errors into it.
package jdbxerr

import (
	"context"
	"errors"
	"fmt"
)

// Code is one of the closed set of error kinds a jdbx operation can fail with.
type Code int

const (
	// Validation failed the schema validator.
	Validation Code = iota
	// TypeMismatch means an operator was applied to a field whose declared type is incompatible.
	TypeMismatch
	// Query means the filter or options were malformed or used an unrecognised operator.
	Query
	// UniqueConstraint means the engine reported a unique-index violation.
	UniqueConstraint
	// Constraint means some other engine constraint was violated.
	Constraint
	// NotFound means a referenced document or collection was absent where required.
	NotFound
	// Connection means the engine connection failed, including post-close access.
	Connection
	// Transaction means the engine transaction failed, including busy/locked during commit.
	Transaction
	// Database is any other engine error, annotated with the engine's error code.
	Database
	// OperationAborted means a cancellation token fired before or during the operation.
	OperationAborted
)

func (c Code) String() string {
	switch c {
	case Validation:
		return "VALIDATION"
	case TypeMismatch:
		return "TYPE_MISMATCH"
	case Query:
		return "QUERY"
	case UniqueConstraint:
		return "UNIQUE_CONSTRAINT"
	case Constraint:
		return "CONSTRAINT"
	case NotFound:
		return "NOT_FOUND"
	case Connection:
		return "CONNECTION"
	case Transaction:
		return "TRANSACTION"
	case Database:
		return "DATABASE"
	case OperationAborted:
		return "OPERATION_ABORTED"
	default:
		return "UNKNOWN"
	}
}

// Error is the concrete error type every jdbx operation returns on failure.
// Message follows the "what happened — field/value/operator — remediation hint" shape.
type Error struct {
	Code    Code
	Message string
	Field   string
	Value   any
	Op      string
	EngCode string // engine-reported error code, set for Database errors
	Cause   error
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Field != "" {
		msg = fmt.Sprintf("%s (field=%q)", msg, e.Field)
	}
	if e.Op != "" {
		msg = fmt.Sprintf("%s [%s]", msg, e.Op)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Cause }

// Is supports errors.Is(err, SomeCode) by comparing codes when target is a *Error
// with no cause set, used for the sentinel-style comparisons tests rely on.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Cause == nil && t.Code == e.Code
}

// New constructs an *Error of the given kind.
func New(code Code, op, message string) *Error {
	return &Error{Code: code, Op: op, Message: message}
}

// Wrap constructs an *Error of the given kind wrapping cause.
func Wrap(code Code, op, message string, cause error) *Error {
	return &Error{Code: code, Op: op, Message: message, Cause: cause}
}

// WithField returns a copy of e with Field/Value populated, for error sites
// that learn the offending field after construction.
func (e *Error) WithField(field string, value any) *Error {
	c := *e
	c.Field = field
	c.Value = value
	return &c
}

// CodeOf extracts the Code of err if it is (or wraps) a *Error, and ok=true.
func CodeOf(err error) (Code, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Code, true
	}
	return 0, false
}

// IsAborted reports whether err is an OperationAborted jdbx error or a
// context cancellation/deadline error.
func IsAborted(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	code, ok := CodeOf(err)
	return ok && code == OperationAborted
}

// Retryable reports whether a jdbx-classified error kind is, by default,
// eligible for the retry envelope. Validation, type, query, constraint and
// abort errors are never retried; connection/transaction errors always are;
// Database errors depend on the engine code already classified at construction.
func Retryable(err error) bool {
	code, ok := CodeOf(err)
	if !ok {
		return false
	}
	switch code {
	case Connection, Transaction:
		return true
	case Database:
		var e *Error
		if errors.As(err, &e) {
			return isRetryableEngineCode(e.EngCode)
		}
		return false
	default:
		return false
	}
}

// isRetryableEngineCode matches the busy/locked/nomem/ioerr family the spec
// calls out as retryable Database errors.
func isRetryableEngineCode(code string) bool {
	switch code {
	case "SQLITE_BUSY", "SQLITE_LOCKED", "SQLITE_NOMEM", "SQLITE_IOERR",
		"SQLITE_BUSY_TIMEOUT", "SQLITE_LOCKED_SHAREDCACHE":
		return true
	default:
		return false
	}
}
