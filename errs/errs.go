// Package errs defines the channel core's error taxonomy (spec §7): the
// kinds of failure a caller needs to distinguish, independent of which
// package raised them. Every *Error keeps its underlying cause and exposes
// it through Unwrap, so callers can still unwrap down to the original
// error while matching on kind with errors.Is/errors.As.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies an error raised by the channel core.
type Kind int

const (
	// KindInvalidArgument marks a malformed envelope at the API boundary:
	// missing id on a command request, wrong status, observe where not
	// allowed.
	KindInvalidArgument Kind = iota
	// KindInvalidState marks an operation attempted in a session state
	// that forbids it.
	KindInvalidState
	// KindDuplicate marks a correlator id collision.
	KindDuplicate
	// KindTimeout marks a consume, send, or close timeout.
	KindTimeout
	// KindTransport marks an I/O failure bubbling from the transport.
	KindTransport
	// KindCanceled marks a caller-initiated cancellation.
	KindCanceled
	// KindClosed marks an operation attempted on an already-closed channel.
	KindClosed
	// KindModule marks an error raised by a registered module.
	KindModule
)

func (k Kind) String() string {
	switch k {
	case KindInvalidArgument:
		return "invalid argument"
	case KindInvalidState:
		return "invalid state"
	case KindDuplicate:
		return "duplicate"
	case KindTimeout:
		return "timeout"
	case KindTransport:
		return "transport error"
	case KindCanceled:
		return "canceled"
	case KindClosed:
		return "closed"
	case KindModule:
		return "module error"
	default:
		return "unknown error"
	}
}

// Error is a channel-core error tagged with a Kind, so callers can branch
// on category with errors.As without parsing message text.
type Error struct {
	Kind Kind
	Op   string // operation that failed, e.g. "send message", "process command"
	Err  error  // underlying cause, may be nil
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error with the same Kind, so that
// errors.Is(err, &Error{Kind: KindInvalidState}) works without requiring an
// exact Op/Err match.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Kind == t.Kind
}

// New constructs an *Error of the given kind for the named operation,
// wrapping cause (which may be nil).
func New(kind Kind, op string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Err: cause}
}

// Of returns the Kind of err if it is (or wraps) an *Error, and ok=false
// otherwise.
func Of(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}

// Is reports whether err is (or wraps) an *Error of the given kind.
func Is(err error, kind Kind) bool {
	k, ok := Of(err)
	return ok && k == kind
}
