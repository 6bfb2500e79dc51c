// Package module implements the per-envelope-type interceptor chain (spec
// §4.7, §5, §9 "Module snapshot"): a Module may observe state changes and
// inspect, rewrite, or drop an envelope as it is sent or received. Chains
// are kept separately per envelope Kind, matching spec.md §5's requirement
// that registration take effect on the next envelope rather than mid-dispatch
// — each Chain snapshots its module slice before iterating, so a concurrent
// Register never mutates an iteration already in progress.
//
// The interface generalizes the single-chain ChannelModule
// found in the takenet-lime-go reference kept in the retrieved pack: this
// package keeps its three hooks (StateChanged/Receiving/Sending) but gives
// every envelope Kind its own ordered chain instead of one chain shared
// across all four.
package module

import (
	"context"
	"sync"

	"github.com/tenzoki/limechannel/envelope"
)

// Module intercepts envelopes of one Kind as they pass through the channel,
// and observes session state transitions.
type Module interface {
	// StateChanged is invoked after the channel's session state changes,
	// before any subsequent envelope of this module's Kind is dispatched.
	StateChanged(ctx context.Context, state envelope.SessionState)

	// Receiving runs on an inbound envelope before it reaches the
	// application ready queue. Returning nil drops the envelope.
	Receiving(ctx context.Context, e envelope.Envelope) (envelope.Envelope, error)

	// Sending runs on an outbound envelope before it reaches the send
	// batch. Returning nil drops the envelope.
	Sending(ctx context.Context, e envelope.Envelope) (envelope.Envelope, error)
}

// Chain is an ordered, per-Kind list of Modules with copy-on-read snapshot
// semantics: Register is safe to call concurrently with Dispatch* (which may
// be running on the receiver or sender goroutine), and any registration
// takes effect starting with the next envelope, never the one mid-dispatch.
type Chain struct {
	mu      sync.RWMutex
	modules []Module
}

// NewChain returns a Chain seeded with the given modules, in order.
func NewChain(modules ...Module) *Chain {
	c := &Chain{}
	if len(modules) > 0 {
		c.modules = append([]Module(nil), modules...)
	}
	return c
}

// Register appends m to the chain. Safe to call concurrently with dispatch.
func (c *Chain) Register(m Module) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.modules = append(c.modules, m)
}

// snapshot returns the current module slice, safe for the caller to range
// over without holding any lock.
func (c *Chain) snapshot() []Module {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.modules) == 0 {
		return nil
	}
	out := make([]Module, len(c.modules))
	copy(out, c.modules)
	return out
}

// DispatchStateChanged notifies every module, in registration order, that
// the session state changed.
func (c *Chain) DispatchStateChanged(ctx context.Context, state envelope.SessionState) {
	for _, m := range c.snapshot() {
		m.StateChanged(ctx, state)
	}
}

// DispatchReceiving runs e through every module's Receiving hook in order.
// The first module to return a nil envelope (without error) short-circuits
// the remaining chain and the envelope is dropped. Cancellation of ctx also
// drops the envelope silently, per spec §4.3 step 3.
func (c *Chain) DispatchReceiving(ctx context.Context, e envelope.Envelope) (envelope.Envelope, error) {
	for _, m := range c.snapshot() {
		select {
		case <-ctx.Done():
			return nil, nil
		default:
		}
		next, err := m.Receiving(ctx, e)
		if err != nil {
			return nil, err
		}
		if next == nil {
			return nil, nil
		}
		e = next
	}
	return e, nil
}

// DispatchSending runs e through every module's Sending hook in order,
// mirroring DispatchReceiving.
func (c *Chain) DispatchSending(ctx context.Context, e envelope.Envelope) (envelope.Envelope, error) {
	for _, m := range c.snapshot() {
		select {
		case <-ctx.Done():
			return nil, nil
		default:
		}
		next, err := m.Sending(ctx, e)
		if err != nil {
			return nil, err
		}
		if next == nil {
			return nil, nil
		}
		e = next
	}
	return e, nil
}

// Chains bundles one Chain per envelope Kind, the shape the Channel and its
// Receiver/Sender pipelines hold.
type Chains struct {
	Message      *Chain
	Notification *Chain
	Command      *Chain
	Session      *Chain
}

// NewChains returns a Chains with an empty chain for every Kind.
func NewChains() *Chains {
	return &Chains{
		Message:      NewChain(),
		Notification: NewChain(),
		Command:      NewChain(),
		Session:      NewChain(),
	}
}

// For returns the chain for the given envelope Kind.
func (c *Chains) For(k envelope.Kind) *Chain {
	switch k {
	case envelope.KindMessage:
		return c.Message
	case envelope.KindNotification:
		return c.Notification
	case envelope.KindCommand:
		return c.Command
	case envelope.KindSession:
		return c.Session
	default:
		return nil
	}
}

// RegisterAll adds m to every chain, for modules that act across all
// envelope types (e.g. fill-recipients, remote-ping watchdog).
func (c *Chains) RegisterAll(m Module) {
	c.Message.Register(m)
	c.Notification.Register(m)
	c.Command.Register(m)
	c.Session.Register(m)
}

// DispatchStateChanged notifies every chain of a state transition.
func (c *Chains) DispatchStateChanged(ctx context.Context, state envelope.SessionState) {
	c.Message.DispatchStateChanged(ctx, state)
	c.Notification.DispatchStateChanged(ctx, state)
	c.Command.DispatchStateChanged(ctx, state)
	c.Session.DispatchStateChanged(ctx, state)
}
