package builtin

import (
	"context"

	"github.com/tenzoki/limechannel/envelope"
	"github.com/tenzoki/limechannel/module"
)

// FillRecipients implements spec §4.7's fill-envelope-recipients built-in:
// on send, an absent From is set to the local node and an absent To to the
// remote node; on receive, the symmetric fill runs so application code never
// has to special-case a blank routing field.
type FillRecipients struct {
	Local  envelope.Node
	Remote envelope.Node
}

// NewFillRecipients returns a FillRecipients module for the given local and
// remote node identities.
func NewFillRecipients(local, remote envelope.Node) *FillRecipients {
	return &FillRecipients{Local: local, Remote: remote}
}

func (f *FillRecipients) StateChanged(ctx context.Context, state envelope.SessionState) {}

func (f *FillRecipients) Receiving(ctx context.Context, e envelope.Envelope) (envelope.Envelope, error) {
	if e.GetFrom().IsEmpty() {
		e.SetFrom(f.Remote)
	}
	if e.GetTo().IsEmpty() {
		e.SetTo(f.Local)
	}
	return e, nil
}

func (f *FillRecipients) Sending(ctx context.Context, e envelope.Envelope) (envelope.Envelope, error) {
	if e.GetFrom().IsEmpty() {
		e.SetFrom(f.Local)
	}
	if e.GetTo().IsEmpty() {
		e.SetTo(f.Remote)
	}
	return e, nil
}

var _ module.Module = (*FillRecipients)(nil)
