// Package fault carries the error taxonomy shared by the order and
// inventory services. Callers branch on Kind, never on message text.
package fault

import (
	"errors"
	"fmt"
)

type Kind int

const (
	// Unknown is the zero Kind; errors from outside this module map here.
	Unknown Kind = iota
	// Validation marks bad input. Never retried.
	Validation
	// NotFound marks a missing order, item or reservation. Never retried.
	NotFound
	// Conflict marks duplicate reservations, CAS losses and invariant
	// violations. May be retried once after re-reading state.
	Conflict
	// Transient marks store timeouts and broker unavailability. Retried by
	// the event layer with backoff.
	Transient
	// Fatal marks corrupted persisted state. Processing for the affected
	// order stops.
	Fatal
)

func (k Kind) String() string {
	switch k {
	case Validation:
		return "validation"
	case NotFound:
		return "not_found"
	case Conflict:
		return "conflict"
	case Transient:
		return "transient"
	case Fatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Error is a kinded error with the operation that produced it.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Msg != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	default:
		return fmt.Sprintf("%s: %s", e.Op, e.Msg)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// New creates a kinded error with a static message.
func New(kind Kind, op, msg string) error {
	return &Error{Kind: kind, Op: op, Msg: msg}
}

// Newf creates a kinded error with a formatted message.
func Newf(kind Kind, op, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and operation to an underlying error.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf extracts the Kind from err, walking the wrap chain. Errors that
// never passed through this package report Unknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Unknown
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
