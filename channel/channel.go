package channel

import (
	"context"
	"log"
	"sync"

	"github.com/tenzoki/limechannel/config"
	"github.com/tenzoki/limechannel/correlator"
	"github.com/tenzoki/limechannel/envelope"
	"github.com/tenzoki/limechannel/errs"
	"github.com/tenzoki/limechannel/module"
	"github.com/tenzoki/limechannel/module/builtin"
	"github.com/tenzoki/limechannel/pipeline"
	"github.com/tenzoki/limechannel/transport"
)

// Channel owns a Transport and the session state machine governing it, and
// exposes the public send/receive/correlate/close surface. See spec §4.5.
type Channel struct {
	transport transport.Transport
	conf      *config.Config
	chains    *module.Chains
	correlator *correlator.Correlator
	sender    *pipeline.Sender
	receiver  *pipeline.Receiver
	remotePing *builtin.RemotePing

	stateMu        sync.RWMutex
	state          envelope.SessionState
	receiverStarted bool

	sessionMu sync.Mutex // serializes pre-established ReceiveSession calls

	shutdownOnce sync.Once
	closeOnce    sync.Once
	closeErr     error
}

type senderAdapter struct{ s *pipeline.Sender }

func (a senderAdapter) SendCommand(ctx context.Context, cmd *envelope.Command) error {
	return a.s.Send(ctx, cmd)
}

// New constructs a Channel over cfg.Transport in envelope.StateNew.
func New(cfg Config) (*Channel, error) {
	if cfg.Transport == nil {
		return nil, errs.New(errs.KindInvalidArgument, "new channel", nil)
	}
	conf := cfg.Conf
	if conf == nil {
		conf = config.Default()
	}
	corr := cfg.Correlator
	if corr == nil {
		corr = correlator.New()
	}

	ch := &Channel{
		transport:  cfg.Transport,
		conf:       conf,
		chains:     module.NewChains(),
		correlator: corr,
		state:      envelope.StateNew,
	}

	ch.sender = pipeline.NewSender(cfg.Transport, ch.chains, conf.SendTimeout(), conf.SendBatchSize, conf.SendFlushInterval(), ch.onSenderError)
	ch.receiver = pipeline.NewReceiver(cfg.Transport, ch.chains, corr, conf.EnvelopeBufferSize, conf.ConsumeTimeout(), ch.onConsumerError)

	if conf.FillRecipients {
		ch.chains.RegisterAll(builtin.NewFillRecipients(cfg.LocalNode, cfg.RemoteNode))
	}
	if conf.AutoReplyPings {
		ch.chains.Command.Register(builtin.NewAutoPing(senderAdapter{ch.sender}))
	}
	if conf.RemotePingIntervalMillis > 0 && conf.RemoteIdleTimeoutMillis > 0 {
		rp := builtin.NewRemotePing(senderAdapter{ch.sender}, ch, conf.RemotePingInterval(), conf.RemoteIdleTimeout())
		ch.chains.RegisterAll(rp)
		ch.remotePing = rp
	}

	cfg.Transport.OnClosing(ch.onTransportClosing)
	cfg.Transport.OnClosed(func() { go ch.Close() })

	return ch, nil
}

func (ch *Channel) State() envelope.SessionState {
	ch.stateMu.RLock()
	defer ch.stateMu.RUnlock()
	return ch.state
}

// transition advances the session state, enforcing the forward-only
// progression of spec §3 (StateFailed is reachable from any non-terminal
// state). It starts the receiver on entering established and broadcasts
// the change to every module chain.
func (ch *Channel) transition(newState envelope.SessionState) error {
	ch.stateMu.Lock()
	cur := ch.state
	if cur.IsTerminal() {
		ch.stateMu.Unlock()
		return errs.New(errs.KindClosed, "session transition", nil)
	}
	if newState != envelope.StateFailed && newState.Step() < cur.Step() {
		ch.stateMu.Unlock()
		return errs.New(errs.KindInvalidState, "session transition", nil)
	}
	ch.state = newState
	startReceiver := newState == envelope.StateEstablished && !ch.receiverStarted
	if startReceiver {
		ch.receiverStarted = true
	}
	ch.stateMu.Unlock()

	if startReceiver {
		ch.receiver.Start(context.Background())
	}
	ch.chains.DispatchStateChanged(context.Background(), newState)
	return nil
}

func (ch *Channel) validateSend(kind envelope.Kind) error {
	state := ch.State()
	if state.IsTerminal() {
		return errs.New(errs.KindClosed, "send", nil)
	}
	if kind == envelope.KindSession {
		return nil
	}
	if state != envelope.StateEstablished {
		return errs.New(errs.KindInvalidState, "send", nil)
	}
	return nil
}

func (ch *Channel) validateReceive(kind envelope.Kind) error {
	state := ch.State()
	if state.IsTerminal() {
		return errs.New(errs.KindClosed, "receive", nil)
	}
	if kind == envelope.KindSession {
		return nil
	}
	if state != envelope.StateEstablished {
		return errs.New(errs.KindInvalidState, "receive", nil)
	}
	return nil
}

// SendMessage sends m, valid only while established.
func (ch *Channel) SendMessage(ctx context.Context, m *envelope.Message) error {
	if err := ch.validateSend(envelope.KindMessage); err != nil {
		return err
	}
	return ch.sender.Send(ctx, m)
}

// SendNotification sends n, valid only while established.
func (ch *Channel) SendNotification(ctx context.Context, n *envelope.Notification) error {
	if err := ch.validateSend(envelope.KindNotification); err != nil {
		return err
	}
	return ch.sender.Send(ctx, n)
}

// SendCommand sends cmd (request or response), valid only while
// established. It also satisfies correlator.Sender.
func (ch *Channel) SendCommand(ctx context.Context, cmd *envelope.Command) error {
	if err := ch.validateSend(envelope.KindCommand); err != nil {
		return err
	}
	return ch.sender.Send(ctx, cmd)
}

// SendSession sends s and, on success, advances the session state machine
// to s.State. Valid in any non-terminal state (spec §3).
func (ch *Channel) SendSession(ctx context.Context, s *envelope.Session) error {
	if err := ch.validateSend(envelope.KindSession); err != nil {
		return err
	}
	if err := ch.sender.Send(ctx, s); err != nil {
		return err
	}
	return ch.transition(s.State)
}

// ReceiveMessage blocks for the next message. Valid only while established.
func (ch *Channel) ReceiveMessage(ctx context.Context) (*envelope.Message, error) {
	if err := ch.validateReceive(envelope.KindMessage); err != nil {
		return nil, err
	}
	return ch.receiver.ReceiveMessage(ctx)
}

// ReceiveNotification blocks for the next notification.
func (ch *Channel) ReceiveNotification(ctx context.Context) (*envelope.Notification, error) {
	if err := ch.validateReceive(envelope.KindNotification); err != nil {
		return nil, err
	}
	return ch.receiver.ReceiveNotification(ctx)
}

// ReceiveCommand blocks for the next request or observe command.
// Responses are resolved by the Correlator before reaching this call; a
// response that matches no pending request is dropped.
func (ch *Channel) ReceiveCommand(ctx context.Context) (*envelope.Command, error) {
	if err := ch.validateReceive(envelope.KindCommand); err != nil {
		return nil, err
	}
	return ch.receiver.ReceiveCommand(ctx)
}

// ReceiveSession blocks for the next session envelope. Before established,
// it reads directly off the transport under a mutex that admits one caller
// at a time (spec §4.3's session receive special case); once established,
// it delegates to the receiver's ordinary demux path.
func (ch *Channel) ReceiveSession(ctx context.Context) (*envelope.Session, error) {
	if ch.State() == envelope.StateEstablished {
		sess, err := ch.receiver.ReceiveSession(ctx)
		if err != nil {
			return nil, err
		}
		if err := ch.transition(sess.State); err != nil {
			log.Printf("channel: session transition to %s rejected: %v", sess.State, err)
		}
		return sess, nil
	}
	if err := ch.validateReceive(envelope.KindSession); err != nil {
		return nil, err
	}

	ch.sessionMu.Lock()
	defer ch.sessionMu.Unlock()

	e, err := ch.transport.Receive(ctx)
	if err != nil {
		return nil, errs.New(errs.KindTransport, "receive session", err)
	}
	if e == nil {
		return nil, nil
	}
	sess, ok := e.(*envelope.Session)
	if !ok {
		return nil, errs.New(errs.KindInvalidArgument, "receive session", nil)
	}
	if err := ch.transition(sess.State); err != nil {
		log.Printf("channel: session transition to %s rejected: %v", sess.State, err)
	}
	return sess, nil
}

// ProcessCommand sends req and awaits its correlated response through the
// Correlator (spec §4.2).
func (ch *Channel) ProcessCommand(ctx context.Context, req *envelope.Command) (*envelope.Command, error) {
	if err := ch.validateSend(envelope.KindCommand); err != nil {
		return nil, err
	}
	return ch.correlator.ProcessCommand(ctx, ch, req)
}

func (ch *Channel) onConsumerError(err error) {
	log.Printf("channel: consumer error, closing: %v", err)
	go ch.Close()
}

func (ch *Channel) onSenderError(err error) {
	log.Printf("channel: sender error, closing: %v", err)
	go ch.Close()
}
