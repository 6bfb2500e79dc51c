package transport

import (
	"context"
	"sync"
)

// ClosingNotifier manages the closing/closed handler lists shared by every
// Transport implementation in this module. Handlers are copied to a
// snapshot slice before dispatch so that a handler registering another
// handler mid-fire cannot deadlock on the registration mutex, and so that
// concurrent registration never observes a torn list.
type ClosingNotifier struct {
	mu       sync.Mutex
	closing  []ClosingHandler
	closed   []ClosedHandler
	firedMu  sync.Mutex
	closedFired bool
}

// OnClosing registers a closing handler.
func (n *ClosingNotifier) OnClosing(h ClosingHandler) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.closing = append(n.closing, h)
}

// OnClosed registers a closed handler.
func (n *ClosingNotifier) OnClosed(h ClosedHandler) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.closed = append(n.closed, h)
}

// FireClosing invokes every registered closing handler in registration
// order, collects their deferrals, and awaits all of them concurrently,
// bounded by DefaultClosingTimeout. It returns once every deferral has
// resolved or the bound elapses, whichever comes first.
func (n *ClosingNotifier) FireClosing(ctx context.Context) {
	n.mu.Lock()
	handlers := make([]ClosingHandler, len(n.closing))
	copy(handlers, n.closing)
	n.mu.Unlock()

	var deferrals []Deferral
	for _, h := range handlers {
		deferrals = append(deferrals, h(ctx)...)
	}
	if len(deferrals) == 0 {
		return
	}

	bound, cancel := context.WithTimeout(ctx, DefaultClosingTimeout)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for _, d := range deferrals {
			select {
			case <-d:
			case <-bound.Done():
				return
			}
		}
	}()

	select {
	case <-done:
	case <-bound.Done():
	}
}

// FireClosed invokes every registered closed handler exactly once, even if
// called multiple times (idempotent per spec §4.6's close idempotence
// requirement).
func (n *ClosingNotifier) FireClosed() {
	n.firedMu.Lock()
	defer n.firedMu.Unlock()
	if n.closedFired {
		return
	}
	n.closedFired = true

	n.mu.Lock()
	handlers := make([]ClosedHandler, len(n.closed))
	copy(handlers, n.closed)
	n.mu.Unlock()

	for _, h := range handlers {
		h()
	}
}
