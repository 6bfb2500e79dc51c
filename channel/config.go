// Package channel wires the Transport, Sender, Receiver, Correlator, and
// Module chains into the Channel type: the state owner exposing the
// public Send/Receive/ProcessCommand/Close operations (spec §4.5).
package channel

import (
	"github.com/tenzoki/limechannel/config"
	"github.com/tenzoki/limechannel/correlator"
	"github.com/tenzoki/limechannel/envelope"
	"github.com/tenzoki/limechannel/transport"
)

// Config bundles a Channel's construction parameters (spec §4.5).
type Config struct {
	// Transport is required; the Channel owns it for its lifetime and is
	// responsible for closing it.
	Transport transport.Transport

	// Conf holds the timeouts, buffer sizes, and built-in module flags.
	// A nil Conf is treated as config.Default().
	Conf *config.Config

	// LocalNode and RemoteNode are used by the fill-recipients built-in.
	// The auto-reply-ping reply takes its routing fields from the request
	// it answers, with from and to swapped.
	LocalNode  envelope.Node
	RemoteNode envelope.Node

	// Correlator is optional; supplying one lets several channels share a
	// pending-command table (entries stay disjoint by request id). A nil
	// Correlator gets a fresh, unshared one.
	Correlator *correlator.Correlator
}
