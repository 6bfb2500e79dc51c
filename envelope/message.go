package envelope

import "encoding/json"

// Message carries an application payload (Content) of a given media Type.
// Messages have no terminal semantics: delivery outcome, if the sender
// cares, is reported out-of-band via Notification envelopes correlated by
// the message's ID.
type Message struct {
	Base
	Type    string          `json:"type,omitempty"`
	Content json.RawMessage `json:"content,omitempty"`
}

// Kind identifies this envelope as a message.
func (m *Message) Kind() Kind { return KindMessage }

// NewMessage builds a Message with the given media type and a JSON-marshaled
// payload.
func NewMessage(id string, mediaType string, content interface{}) (*Message, error) {
	raw, err := json.Marshal(content)
	if err != nil {
		return nil, err
	}
	return &Message{
		Base: Base{ID: id},
		Type: mediaType,
		Content: raw,
	}, nil
}

// UnmarshalContent decodes the message content into v.
func (m *Message) UnmarshalContent(v interface{}) error {
	return json.Unmarshal(m.Content, v)
}
