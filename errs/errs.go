// Package errs defines the error-kind taxonomy shared across the
// optimization engine. Kinds are not distinct Go types per error: a single
// Kind wraps whatever underlying error occurred so callers can categorize
// failures (for logging, telemetry, and task status) without string
// matching on error messages.
package errs

import (
	"errors"
	"fmt"
)

// Kind categorizes a failure per the error handling design.
type Kind string

// Recognized error kinds.
const (
	KindConfiguration Kind = "configuration"
	KindTransport     Kind = "transport"
	KindTimeout       Kind = "timeout"
	KindValidation    Kind = "validation"
	KindScorer        Kind = "scorer"
	KindPanel         Kind = "panel"
	KindCancellation  Kind = "cancellation"
	KindFatal         Kind = "fatal"
)

// Error wraps an underlying error with a categorization Kind.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

// Unwrap exposes the underlying error for errors.Is/As.
func (e *Error) Unwrap() error { return e.Err }

// New builds a categorized error.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Newf builds a categorized error from a format string.
func Newf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the Kind of err if it (or something it wraps) is an *Error,
// and false otherwise.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// Is reports whether err categorizes as kind.
func Is(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}

// ErrCancelled is the standard cancellation error surfaced by cooperative
// abort points.
var ErrCancelled = New(KindCancellation, "", errors.New("cancelled"))
