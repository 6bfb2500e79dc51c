package channel

import (
	"context"
	"log"

	"github.com/tenzoki/limechannel/envelope"
	"github.com/tenzoki/limechannel/transport"
)

// onTransportClosing is registered with the transport's closing event
// (spec §4.1, §4.6 case (b), peer-initiated). It only stops this channel's
// own pipelines and correlator; it must not call transport.Close() itself,
// since it runs synchronously inside the transport's own close sequence
// and a reentrant Close() call there would deadlock on the transport's
// idempotence guard.
func (ch *Channel) onTransportClosing(ctx context.Context) []transport.Deferral {
	ch.beginShutdown()
	return nil
}

// beginShutdown stops the receiver and sender pipelines and cancels every
// outstanding correlator entry. Idempotent; safe to call from Close() and
// from the transport's closing handler.
func (ch *Channel) beginShutdown() {
	ch.shutdownOnce.Do(func() {
		ch.stateMu.RLock()
		started := ch.receiverStarted
		ch.stateMu.RUnlock()
		if started {
			ch.receiver.Stop()
		}
		ch.sender.Flush(context.Background())
		ch.correlator.CancelAll()
		if ch.remotePing != nil {
			ch.remotePing.Stop()
		}
	})
}

// Close runs the closing protocol (spec §4.6): stop both pipelines, cancel
// all pending commands, close the transport if still connected, and move
// the session to a terminal state. Idempotent; concurrent callers collapse
// onto one execution and all observe its result.
func (ch *Channel) Close() error {
	ch.closeOnce.Do(func() {
		ch.beginShutdown()

		if ch.transport.Connected() {
			ch.closeErr = ch.transport.Close()
		}

		if !ch.State().IsTerminal() {
			if err := ch.transition(envelope.StateFinished); err != nil {
				log.Printf("channel: close transition to finished rejected: %v", err)
			}
		}
	})
	return ch.closeErr
}
