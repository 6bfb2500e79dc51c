package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/tenzoki/limechannel/envelope"
	"github.com/tenzoki/limechannel/errs"
	"github.com/tenzoki/limechannel/module"
	"github.com/tenzoki/limechannel/transport"
)

// Sender accepts envelopes from callers, runs the send-side module chain,
// batches them, and writes to the Transport (spec §4.4). There is exactly
// one writer to the transport at a time: Send calls from multiple callers
// serialize through the batch and its flush.
type Sender struct {
	transport transport.Transport
	chains    *module.Chains
	timeout   time.Duration

	batchSize     int
	flushInterval time.Duration

	mu        sync.Mutex
	batch     []envelope.Envelope
	flushTime *time.Timer
	writeMu   sync.Mutex

	onError func(error)
}

// NewSender builds a Sender writing to t. batchSize <= 1 disables
// batching: every Send flushes immediately. sendTimeout bounds each
// transport write.
func NewSender(t transport.Transport, chains *module.Chains, sendTimeout time.Duration, batchSize int, flushInterval time.Duration, onError func(error)) *Sender {
	if batchSize <= 0 {
		batchSize = 1
	}
	if flushInterval <= 0 {
		flushInterval = 50 * time.Millisecond
	}
	return &Sender{
		transport:     t,
		chains:        chains,
		timeout:       sendTimeout,
		batchSize:     batchSize,
		flushInterval: flushInterval,
		onError:       onError,
	}
}

// Send runs e through its type's send-side modules and queues it for
// delivery. A module that drops e (returns nil) is not an error. When
// batching is disabled (the default), Send only returns once the write to
// the transport has completed or failed.
func (s *Sender) Send(ctx context.Context, e envelope.Envelope) error {
	chain := s.chains.For(e.Kind())
	processed, err := chain.DispatchSending(ctx, e)
	if err != nil {
		return errs.New(errs.KindModule, "send module", err)
	}
	if processed == nil {
		return nil
	}

	s.mu.Lock()
	s.batch = append(s.batch, processed)
	full := len(s.batch) >= s.batchSize
	var flushNow []envelope.Envelope
	if full {
		flushNow = s.batch
		s.batch = nil
		if s.flushTime != nil {
			s.flushTime.Stop()
			s.flushTime = nil
		}
	} else if s.flushTime == nil {
		s.flushTime = time.AfterFunc(s.flushInterval, s.flushAsync)
	}
	s.mu.Unlock()

	if flushNow != nil {
		return s.writeAll(ctx, flushNow)
	}
	return nil
}

// flushAsync is invoked by the flush timer when a batch is still partially
// filled when its interval elapses. Errors here have no synchronous caller
// to return to, so they go to onError, same as a read-loop failure.
func (s *Sender) flushAsync() {
	s.mu.Lock()
	toSend := s.batch
	s.batch = nil
	s.flushTime = nil
	s.mu.Unlock()

	if len(toSend) == 0 {
		return
	}
	if err := s.writeAll(context.Background(), toSend); err != nil && s.onError != nil {
		s.onError(err)
	}
}

// Flush forces any partially-filled batch out immediately. Used by the
// channel's closing protocol so nothing queued is silently lost.
func (s *Sender) Flush(ctx context.Context) error {
	s.mu.Lock()
	toSend := s.batch
	s.batch = nil
	if s.flushTime != nil {
		s.flushTime.Stop()
		s.flushTime = nil
	}
	s.mu.Unlock()

	if len(toSend) == 0 {
		return nil
	}
	return s.writeAll(ctx, toSend)
}

func (s *Sender) writeAll(ctx context.Context, envs []envelope.Envelope) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	for _, e := range envs {
		if err := s.writeOne(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

func (s *Sender) writeOne(ctx context.Context, e envelope.Envelope) error {
	writeCtx := ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		writeCtx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	err := s.transport.Send(writeCtx, e)
	if err == nil {
		return nil
	}
	if writeCtx.Err() == context.DeadlineExceeded {
		return errs.New(errs.KindTimeout, "send", err)
	}
	return errs.New(errs.KindTransport, "send", err)
}
