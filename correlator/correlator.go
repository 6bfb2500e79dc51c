// Package correlator implements command request/response correlation
// (spec §4.2): a caller sends a request command and awaits its response,
// matched by correlation id, with cancellation, timeout, and orderly
// cleanup of the pending-command table.
package correlator

import (
	"context"
	"sync"

	"github.com/tenzoki/limechannel/envelope"
	"github.com/tenzoki/limechannel/errs"
)

// Sender is the subset of the channel's send surface the Correlator needs
// to dispatch a request command. The channel satisfies this trivially.
type Sender interface {
	SendCommand(ctx context.Context, cmd *envelope.Command) error
}

// slot is a single-shot response completion. The first of
// {fulfilled, canceled} to happen wins; a second attempt is a no-op.
type slot struct {
	ch chan *envelope.Command
}

// Correlator maps pending request ids to awaiting response slots. It may
// be constructed once per Channel or shared across several (entries are
// keyed by request id and remain disjoint as long as callers don't reuse
// ids across channels).
type Correlator struct {
	mu      sync.Mutex
	pending map[string]*slot
}

// New returns an empty Correlator.
func New() *Correlator {
	return &Correlator{pending: make(map[string]*slot)}
}

// ProcessCommand registers req's id, sends it via sender, and awaits the
// matching response. It implements spec §4.2's processCommand:
//
//   - req must be a pending, non-observe request with a non-empty id, or
//     this returns KindInvalidArgument without registering anything.
//   - a duplicate id (already pending) returns KindDuplicate.
//   - cancellation of ctx removes the registration and returns
//     KindCanceled; a response that later arrives for the same id is
//     silently dropped by TrySubmitResult (returns false).
func (c *Correlator) ProcessCommand(ctx context.Context, sender Sender, req *envelope.Command) (*envelope.Command, error) {
	const op = "process command"

	if req == nil || req.ID == "" || !req.IsRequest() || req.IsObserve() {
		return nil, errs.New(errs.KindInvalidArgument, op, nil)
	}

	s := &slot{ch: make(chan *envelope.Command, 1)}

	c.mu.Lock()
	if _, exists := c.pending[req.ID]; exists {
		c.mu.Unlock()
		return nil, errs.New(errs.KindDuplicate, op, nil)
	}
	c.pending[req.ID] = s
	c.mu.Unlock()

	remove := func() {
		c.mu.Lock()
		if c.pending[req.ID] == s {
			delete(c.pending, req.ID)
		}
		c.mu.Unlock()
	}

	if err := sender.SendCommand(ctx, req); err != nil {
		remove()
		return nil, err
	}

	select {
	case resp, ok := <-s.ch:
		if !ok {
			// CancelAll closed the slot out from under us (channel
			// closing protocol, spec §4.6 step 2).
			return nil, errs.New(errs.KindCanceled, op, context.Canceled)
		}
		return resp, nil
	case <-ctx.Done():
		remove()
		return nil, errs.New(errs.KindCanceled, op, ctx.Err())
	}
}

// TrySubmitResult delivers resp to its matching pending slot, if any.
// It implements spec §4.2's trySubmitCommandResult:
//
//   - rejects (returns false, without consuming anything) responses with
//     an empty id, status == pending, or method == observe.
//   - atomically removes the slot for resp.ID; absent means false.
//   - fulfills the slot and returns true. A slot fulfilled twice (e.g. by
//     a duplicate wire response racing cancellation) still returns false
//     on the second attempt, since the first removal already won.
func (c *Correlator) TrySubmitResult(resp *envelope.Command) bool {
	if resp == nil || resp.ID == "" || resp.IsRequest() || resp.IsObserve() {
		return false
	}

	c.mu.Lock()
	s, ok := c.pending[resp.ID]
	if ok {
		delete(c.pending, resp.ID)
	}
	c.mu.Unlock()

	if !ok {
		return false
	}

	s.ch <- resp
	return true
}

// CancelAll cancels every outstanding slot and empties the table. Each slot
// is closed, so a waiter blocked in ProcessCommand returns KindCanceled
// even if its own ctx is still live (used by the channel's closing
// protocol, spec §4.6 step 2).
func (c *Correlator) CancelAll() {
	c.mu.Lock()
	pending := c.pending
	c.pending = make(map[string]*slot)
	c.mu.Unlock()

	for _, s := range pending {
		close(s.ch)
	}
}

// Len reports the number of currently pending requests, for diagnostics.
func (c *Correlator) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}
