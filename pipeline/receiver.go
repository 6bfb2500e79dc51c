// Package pipeline implements the receiver and sender halves of a Channel
// (spec §4.3, §4.4): the receiver pulls envelopes off the transport, runs
// them through the per-type module chain, and routes them to ready queues
// or the command correlator; the sender accepts envelopes from callers,
// runs the send-side modules, batches, and writes to the transport.
//
// The read-loop-decodes-then-routes-to-a-channel shape is grounded on the
// teacher's BrokerClient.messageListener (internal/client/broker.go): one
// long-lived goroutine decodes off the wire and fans out by inspecting the
// decoded value's shape, delivering onto a per-destination buffered channel
// with a non-blocking-or-log policy. This package tightens that into a
// blocking, bounded enqueue with an explicit timeout, per spec §4.3's
// consume-timeout safety valve.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tenzoki/limechannel/correlator"
	"github.com/tenzoki/limechannel/envelope"
	"github.com/tenzoki/limechannel/errs"
	"github.com/tenzoki/limechannel/module"
	"github.com/tenzoki/limechannel/transport"
)

// Receiver pulls envelopes from a Transport and serves them to the
// application through per-type ready queues, or resolves them through the
// Correlator when they are command responses.
type Receiver struct {
	transport   transport.Transport
	chains      *module.Chains
	correlator  *correlator.Correlator
	consumeWait time.Duration

	msgQ  chan *envelope.Message
	notQ  chan *envelope.Notification
	cmdQ  chan *envelope.Command
	sessQ chan *envelope.Session

	onError func(error)

	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// NewReceiver builds a Receiver reading from t. bufferSize bounds each
// per-type ready queue (<=0 means unbounded, modeled as a large buffer
// since Go channels require a fixed capacity). consumeTimeout bounds how
// long the receiver will block trying to hand an envelope to a full ready
// queue before failing the channel (<=0 disables the timeout). onError is
// invoked at most once, with the error that ended the receive loop.
func NewReceiver(t transport.Transport, chains *module.Chains, corr *correlator.Correlator, bufferSize int, consumeTimeout time.Duration, onError func(error)) *Receiver {
	if bufferSize <= 0 {
		bufferSize = 4096
	}
	return &Receiver{
		transport:   t,
		chains:      chains,
		correlator:  corr,
		consumeWait: consumeTimeout,
		msgQ:        make(chan *envelope.Message, bufferSize),
		notQ:        make(chan *envelope.Notification, bufferSize),
		cmdQ:        make(chan *envelope.Command, bufferSize),
		sessQ:       make(chan *envelope.Session, bufferSize),
		onError:     onError,
		done:        make(chan struct{}),
	}
}

// Start launches the receive loop. It must be called at most once, when
// the channel's session enters established (spec §4.5).
func (r *Receiver) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	go r.run(ctx)
}

// Stop ends the receive loop and waits for it to exit.
func (r *Receiver) Stop() {
	r.once.Do(func() {
		if r.cancel != nil {
			r.cancel()
		}
		<-r.done
	})
}

func (r *Receiver) run(ctx context.Context) {
	defer close(r.done)

	for {
		e, err := r.transport.Receive(ctx)
		if err != nil {
			r.fail(errs.New(errs.KindTransport, "receive", err))
			return
		}
		if e == nil {
			// graceful peer close: nothing more will arrive.
			return
		}

		if err := r.dispatch(ctx, e); err != nil {
			r.fail(err)
			return
		}
	}
}

func (r *Receiver) dispatch(ctx context.Context, e envelope.Envelope) error {
	chain := r.chains.For(e.Kind())
	processed, err := chain.DispatchReceiving(ctx, e)
	if err != nil {
		return errs.New(errs.KindModule, "receive module", err)
	}
	if processed == nil {
		return nil // dropped by a module
	}

	switch v := processed.(type) {
	case *envelope.Command:
		if v.IsRequest() || v.IsObserve() {
			return r.enqueue(ctx, envelope.KindCommand, func() { r.cmdQ <- v })
		}
		// It's a response. A match consumes it silently; an unmatched
		// response (e.g. one arriving after its ProcessCommand caller
		// canceled, spec §8 scenario S6) is dropped rather than handed
		// to the application, since nothing can correlate it to anything
		// meaningful.
		r.correlator.TrySubmitResult(v)
		return nil
	case *envelope.Message:
		return r.enqueue(ctx, envelope.KindMessage, func() { r.msgQ <- v })
	case *envelope.Notification:
		return r.enqueue(ctx, envelope.KindNotification, func() { r.notQ <- v })
	case *envelope.Session:
		return r.enqueue(ctx, envelope.KindSession, func() { r.sessQ <- v })
	default:
		return nil
	}
}

// enqueue runs send, a closure that performs exactly one unbuffered or
// buffered channel send, on its own goroutine, racing it against the
// consume timeout and ctx. This lets one generic timeout/backpressure path
// serve all four differently-typed queues without reflection.
func (r *Receiver) enqueue(ctx context.Context, kind envelope.Kind, send func()) error {
	done := make(chan struct{})
	go func() {
		send()
		close(done)
	}()

	if r.consumeWait <= 0 {
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return errs.New(errs.KindCanceled, "receive enqueue", ctx.Err())
		}
	}

	timer := time.NewTimer(r.consumeWait)
	defer timer.Stop()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errs.New(errs.KindCanceled, "receive enqueue", ctx.Err())
	case <-timer.C:
		return errs.New(errs.KindTimeout, "receive enqueue", fmt.Errorf("consume timeout exceeded, queue depths: %s", r.depths()))
	}
}

func (r *Receiver) depths() string {
	return fmt.Sprintf("message=%d notification=%d command=%d session=%d",
		len(r.msgQ), len(r.notQ), len(r.cmdQ), len(r.sessQ))
}

func (r *Receiver) fail(err error) {
	if r.onError != nil {
		r.onError(err)
	}
}

// ReceiveMessage blocks until a message is ready, ctx is canceled, or the
// receiver has stopped.
func (r *Receiver) ReceiveMessage(ctx context.Context) (*envelope.Message, error) {
	select {
	case m := <-r.msgQ:
		return m, nil
	case <-ctx.Done():
		return nil, errs.New(errs.KindCanceled, "receive message", ctx.Err())
	case <-r.done:
		return nil, errs.New(errs.KindClosed, "receive message", nil)
	}
}

// ReceiveNotification blocks until a notification is ready.
func (r *Receiver) ReceiveNotification(ctx context.Context) (*envelope.Notification, error) {
	select {
	case n := <-r.notQ:
		return n, nil
	case <-ctx.Done():
		return nil, errs.New(errs.KindCanceled, "receive notification", ctx.Err())
	case <-r.done:
		return nil, errs.New(errs.KindClosed, "receive notification", nil)
	}
}

// ReceiveCommand blocks until a command request or observe command is
// ready. Responses are siphoned off by the Correlator before reaching this
// queue (spec §4.3 step 4); an unmatched response is dropped in dispatch.
func (r *Receiver) ReceiveCommand(ctx context.Context) (*envelope.Command, error) {
	select {
	case c := <-r.cmdQ:
		return c, nil
	case <-ctx.Done():
		return nil, errs.New(errs.KindCanceled, "receive command", ctx.Err())
	case <-r.done:
		return nil, errs.New(errs.KindClosed, "receive command", nil)
	}
}

// ReceiveSession blocks until a session envelope is ready. Only meaningful
// once the receiver has started (post-established); before that, the
// channel serves ReceiveSession directly from the transport (spec §4.3
// "Session receive special case").
func (r *Receiver) ReceiveSession(ctx context.Context) (*envelope.Session, error) {
	select {
	case s := <-r.sessQ:
		return s, nil
	case <-ctx.Done():
		return nil, errs.New(errs.KindCanceled, "receive session", ctx.Err())
	case <-r.done:
		return nil, errs.New(errs.KindClosed, "receive session", nil)
	}
}
