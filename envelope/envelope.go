// Package envelope provides the four protocol unit types exchanged over a
// channel: Message, Notification, Command, and Session. Every variant embeds
// Base, which carries the fields common to all envelopes: a correlation id,
// routing (from/to/pp), and a free-form metadata map.
//
// The package treats serialized envelope bytes opaquely except where it
// itself implements the JSON wire format (see json.go): decoding an unknown
// byte stream into the right concrete type is the one place envelope content
// is inspected structurally, by checking which type-discriminating field is
// present (content/type, event, method, state).
package envelope

// Kind identifies which of the four envelope variants a value is.
type Kind string

const (
	KindMessage      Kind = "message"
	KindNotification Kind = "notification"
	KindCommand      Kind = "command"
	KindSession      Kind = "session"
)

// Envelope is implemented by Message, Notification, Command, and Session.
// It intentionally exposes only what the channel core needs to route and
// correlate envelopes; application payloads are reached through the
// concrete type via a Go type switch, mirroring how the core demultiplexes
// on the wire.
type Envelope interface {
	Kind() Kind
	GetID() string
	GetFrom() Node
	SetFrom(Node)
	GetTo() Node
	SetTo(Node)
}

// Base holds the fields shared by every envelope variant.
type Base struct {
	ID       string            `json:"id,omitempty"`
	From     Node              `json:"from,omitempty"`
	To       Node              `json:"to,omitempty"`
	Pp       *Node             `json:"pp,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// GetID returns the envelope's correlation id.
func (b Base) GetID() string { return b.ID }

// GetFrom returns the sending node.
func (b Base) GetFrom() Node { return b.From }

// SetFrom sets the sending node.
func (b *Base) SetFrom(n Node) { b.From = n }

// GetTo returns the destination node.
func (b Base) GetTo() Node { return b.To }

// SetTo sets the destination node.
func (b *Base) SetTo(n Node) { b.To = n }

// Reason carries a machine-readable code and human-readable description,
// used by Notification, Command, and Session to explain a failure or
// terminal state.
type Reason struct {
	Code        int    `json:"code"`
	Description string `json:"description,omitempty"`
}

func (r *Reason) Error() string {
	if r == nil {
		return ""
	}
	return r.Description
}
