package transport

import (
	"context"
	"errors"
	"sync"

	"github.com/tenzoki/limechannel/envelope"
)

// ErrClosed is returned by Send/Receive once the transport has been closed.
var ErrClosed = errors.New("transport: closed")

// Memory is an in-process, loopback Transport backed by Go channels. It
// exists for tests and for embedding two channel-core peers in a single
// process; it never touches the network. Each Memory instance is one end
// of a pair created by NewMemoryPair.
type Memory struct {
	ClosingNotifier

	out chan envelope.Envelope // envelopes this end sends, the peer receives
	in  chan envelope.Envelope // envelopes this end receives, the peer sent

	mu        sync.Mutex
	connected bool
	closeOnce sync.Once
}

// NewMemoryPair returns two Memory transports wired to each other: sending
// on one delivers to Receive on the other. bufferSize bounds the channel
// capacity in each direction (0 means unbuffered, i.e. Send blocks until
// the peer calls Receive).
func NewMemoryPair(bufferSize int) (a, b *Memory) {
	ab := make(chan envelope.Envelope, bufferSize)
	ba := make(chan envelope.Envelope, bufferSize)
	a = &Memory{out: ab, in: ba, connected: true}
	b = &Memory{out: ba, in: ab, connected: true}
	return a, b
}

// Receive blocks until an envelope arrives from the peer, ctx is canceled,
// or the peer closes (returns nil, nil).
func (m *Memory) Receive(ctx context.Context) (envelope.Envelope, error) {
	select {
	case e, ok := <-m.in:
		if !ok {
			return nil, nil
		}
		return e, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Send blocks until e is queued for the peer (on an unbuffered pair, until
// the peer's Receive takes it) or ctx is canceled.
func (m *Memory) Send(ctx context.Context, e envelope.Envelope) error {
	m.mu.Lock()
	connected := m.connected
	m.mu.Unlock()
	if !connected {
		return ErrClosed
	}

	select {
	case m.out <- e:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close tears down this end of the pair. Idempotent; safe to call
// concurrently or after the peer has already closed.
func (m *Memory) Close() error {
	m.closeOnce.Do(func() {
		ctx := context.Background()
		m.FireClosing(ctx)

		m.mu.Lock()
		m.connected = false
		m.mu.Unlock()

		close(m.out)
		m.FireClosed()
	})
	return nil
}

// Connected reports whether this end still believes it is live.
func (m *Memory) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

var _ Transport = (*Memory)(nil)
