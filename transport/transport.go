// Package transport defines the duplex envelope transport contract the
// channel core consumes (spec §4.1). Transport implementations — TCP, TLS,
// WebSocket, in-memory pipe — live outside the channel core; this package
// only specifies the interface and a small embeddable helper
// (ClosingNotifier) for the closing/closed event pair every implementation
// needs.
//
// The core never issues overlapping Send calls or overlapping Receive calls
// on the same Transport; at most one of each is ever in flight, so
// implementations do not need to support concurrent callers on the same
// side.
package transport

import (
	"context"
	"time"

	"github.com/tenzoki/limechannel/envelope"
)

// DefaultClosingTimeout bounds how long a transport waits for registered
// closing deferrals to resolve before tearing down regardless (spec §4.1,
// §4.6).
const DefaultClosingTimeout = 5 * time.Second

// Deferral is a future registered on the closing event. The emitter awaits
// it (up to its own bound) before finishing the action the event announced.
type Deferral <-chan struct{}

// ClosingHandler is invoked synchronously when a transport begins closing.
// It may return deferrals the transport should await before tearing down
// its socket.
type ClosingHandler func(ctx context.Context) []Deferral

// ClosedHandler is invoked once, after the transport has finished teardown.
type ClosedHandler func()

// Transport is the duplex envelope I/O contract the channel core consumes.
// The core issues at most one Send and at most one Receive at a time, so
// implementations need not support concurrent callers on the same side;
// see the package doc.
type Transport interface {
	// Receive blocks until one envelope is framed, ctx is canceled, or the
	// peer closes gracefully (in which case it returns nil, nil).
	Receive(ctx context.Context) (envelope.Envelope, error)
	// Send blocks until e is handed to the wire or ctx is canceled.
	Send(ctx context.Context, e envelope.Envelope) error
	// Close initiates orderly shutdown. Idempotent.
	Close() error
	// Connected reports whether the transport currently believes it has a
	// live connection.
	Connected() bool
	// OnClosing registers a handler invoked before the transport tears
	// down its socket. Handlers are invoked in registration order.
	OnClosing(ClosingHandler)
	// OnClosed registers a handler invoked once, after teardown completes.
	OnClosed(ClosedHandler)
}

// OpenError reports a failure to establish a transport connection.
type OpenError struct {
	URI string
	Err error
}

func (e *OpenError) Error() string {
	return "transport: open " + e.URI + ": " + e.Err.Error()
}

func (e *OpenError) Unwrap() error { return e.Err }
