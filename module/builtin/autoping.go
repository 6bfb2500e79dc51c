package builtin

import (
	"context"
	"log"

	"github.com/tenzoki/limechannel/envelope"
	"github.com/tenzoki/limechannel/module"
)

const pingURI = "/ping"

// pingDocument is the resource carried by an auto-reply ping response. LIME
// serializes it as an application/vnd.lime.ping+json document; here it is
// simply an empty JSON object, which is all either side inspects.
type pingDocument struct{}

// commandSender is the subset of the channel's send surface AutoPing needs
// to dispatch its synthesized response.
type commandSender interface {
	SendCommand(ctx context.Context, cmd *envelope.Command) error
}

// AutoPing implements spec §4.7's auto-reply-ping built-in: a pending get
// request on /ping is answered immediately with a success response and
// never reaches the application's ReceiveCommand queue.
type AutoPing struct {
	sender commandSender
}

// NewAutoPing returns an AutoPing module that replies through sender.
func NewAutoPing(sender commandSender) *AutoPing {
	return &AutoPing{sender: sender}
}

func (p *AutoPing) StateChanged(ctx context.Context, state envelope.SessionState) {}

func (p *AutoPing) Receiving(ctx context.Context, e envelope.Envelope) (envelope.Envelope, error) {
	cmd, ok := e.(*envelope.Command)
	if !ok || !cmd.IsRequest() || cmd.Method != envelope.MethodGet || cmd.URI != pingURI {
		return e, nil
	}

	resp, err := envelope.NewCommandResponse(cmd, envelope.StatusSuccess, pingDocument{})
	if err != nil {
		return nil, err
	}
	resp.From, resp.To = cmd.To, cmd.From

	if err := p.sender.SendCommand(ctx, resp); err != nil {
		log.Printf("autoping: reply to %q failed: %v", cmd.ID, err)
	}
	return nil, nil
}

func (p *AutoPing) Sending(ctx context.Context, e envelope.Envelope) (envelope.Envelope, error) {
	return e, nil
}

var _ module.Module = (*AutoPing)(nil)
