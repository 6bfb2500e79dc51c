package envelope

import (
	"encoding/json"
	"fmt"
)

// Serializer turns envelopes to and from their wire representation. The
// channel core consumes a Serializer only where it must frame bytes (i.e.
// inside a Transport implementation); the core itself never inspects
// serialized envelope content.
type Serializer interface {
	Marshal(e Envelope) ([]byte, error)
	Unmarshal(data []byte) (Envelope, error)
}

// JSONSerializer implements the LIME 2014 envelope JSON format: a single
// JSON object per envelope whose discriminator is the presence of
// type-specific fields. Decoding probes for, in order, "content" (message),
// "event" (notification), "method" (command), "state" (session) — these
// field names never collide across variants, so the first match wins.
type JSONSerializer struct{}

// Marshal encodes e using encoding/json; each concrete envelope type
// defines its own field tags, so this is a direct pass-through.
func (JSONSerializer) Marshal(e Envelope) ([]byte, error) {
	if e == nil {
		return nil, fmt.Errorf("envelope: cannot marshal nil envelope")
	}
	return json.Marshal(e)
}

// discriminator mirrors the union of fields used to tell envelope variants
// apart on the wire, without committing to any one variant's Go type.
type discriminator struct {
	Content json.RawMessage `json:"content"`
	Type    string          `json:"type"`
	Event   string          `json:"event"`
	Method  string          `json:"method"`
	State   string          `json:"state"`
}

// Unmarshal decodes data into the concrete envelope type indicated by its
// discriminating field, per the precedence documented on JSONSerializer.
func (JSONSerializer) Unmarshal(data []byte) (Envelope, error) {
	var d discriminator
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("envelope: unmarshal: %w", err)
	}

	switch {
	case d.Content != nil || (d.Type != "" && d.Event == "" && d.Method == "" && d.State == ""):
		var m Message
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("envelope: unmarshal message: %w", err)
		}
		return &m, nil
	case d.Event != "":
		var n Notification
		if err := json.Unmarshal(data, &n); err != nil {
			return nil, fmt.Errorf("envelope: unmarshal notification: %w", err)
		}
		return &n, nil
	case d.Method != "":
		var c Command
		if err := json.Unmarshal(data, &c); err != nil {
			return nil, fmt.Errorf("envelope: unmarshal command: %w", err)
		}
		return &c, nil
	case d.State != "":
		var s Session
		if err := json.Unmarshal(data, &s); err != nil {
			return nil, fmt.Errorf("envelope: unmarshal session: %w", err)
		}
		return &s, nil
	default:
		return nil, fmt.Errorf("envelope: cannot determine envelope type from %s", string(data))
	}
}
