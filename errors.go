package jdbx

import "github.com/jdbx/jdbx/internal/jdbxerr"

// Error is the concrete error type every jdbx operation returns on
// failure.
type Error = jdbxerr.Error

// Code is one of the closed set of error kinds a jdbx operation can fail
// with (spec §7).
type Code = jdbxerr.Code

const (
	Validation       = jdbxerr.Validation
	TypeMismatch     = jdbxerr.TypeMismatch
	QueryError       = jdbxerr.Query
	UniqueConstraint = jdbxerr.UniqueConstraint
	Constraint       = jdbxerr.Constraint
	NotFound         = jdbxerr.NotFound
	Connection       = jdbxerr.Connection
	Transaction      = jdbxerr.Transaction
	DatabaseError    = jdbxerr.Database
	OperationAborted = jdbxerr.OperationAborted
)

// CodeOf extracts err's Code if it is (or wraps) a jdbx *Error.
func CodeOf(err error) (Code, bool) { return jdbxerr.CodeOf(err) }

// IsAborted reports whether err is an OPERATION_ABORTED jdbx error or a
// context cancellation/deadline error.
func IsAborted(err error) bool { return jdbxerr.IsAborted(err) }

// Retryable reports whether a jdbx-classified error is, by default,
// eligible for the retry envelope.
func Retryable(err error) bool { return jdbxerr.Retryable(err) }
