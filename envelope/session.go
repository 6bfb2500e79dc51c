package envelope

import (
	"encoding/json"
	"fmt"
)

// SessionState is the channel-scoped session state machine. States move
// forward only: new -> negotiating -> authenticating -> established ->
// finishing -> finished, with failed reachable from any non-terminal state.
// Finished and failed are terminal.
type SessionState int

const (
	StateNew SessionState = iota
	StateNegotiating
	StateAuthenticating
	StateEstablished
	StateFinishing
	StateFinished
	StateFailed
)

var sessionStateNames = [...]string{
	StateNew:             "new",
	StateNegotiating:     "negotiating",
	StateAuthenticating:  "authenticating",
	StateEstablished:     "established",
	StateFinishing:       "finishing",
	StateFinished:        "finished",
	StateFailed:          "failed",
}

func (s SessionState) String() string {
	if int(s) < 0 || int(s) >= len(sessionStateNames) {
		return fmt.Sprintf("SessionState(%d)", int(s))
	}
	return sessionStateNames[s]
}

// Step returns the state's position in the forward-only progression, used
// to reject backward transitions. Failed is given the same step as
// Finished since both are terminal and reachable from any prior state.
func (s SessionState) Step() int {
	if s == StateFailed {
		return int(StateFinished)
	}
	return int(s)
}

// IsTerminal reports whether no further envelopes may be sent or received
// once the session is in this state.
func (s SessionState) IsTerminal() bool {
	return s == StateFinished || s == StateFailed
}

// ParseSessionState parses a wire state name into a SessionState.
func ParseSessionState(s string) (SessionState, error) {
	for i, name := range sessionStateNames {
		if name == s {
			return SessionState(i), nil
		}
	}
	return 0, fmt.Errorf("envelope: invalid session state %q", s)
}

func (s SessionState) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *SessionState) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	parsed, err := ParseSessionState(name)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// SessionCompression and SessionEncryption name the transport-level
// negotiation options offered or chosen during session establishment. The
// channel core treats these as opaque negotiation payloads; actual
// compression/encryption is a transport capability (see spec §4.1).
type SessionCompression string
type SessionEncryption string

const (
	CompressionNone SessionCompression = "none"
	CompressionGzip SessionCompression = "gzip"

	EncryptionNone SessionEncryption = "none"
	EncryptionTLS  SessionEncryption = "tls"
)

// AuthenticationScheme names a supported authentication mechanism offered
// by the server during the authenticating state.
type AuthenticationScheme string

const (
	AuthenticationSchemeGuest      AuthenticationScheme = "guest"
	AuthenticationSchemePlain      AuthenticationScheme = "plain"
	AuthenticationSchemeKey        AuthenticationScheme = "key"
	AuthenticationSchemeTransport  AuthenticationScheme = "transport"
	AuthenticationSchemeExternal   AuthenticationScheme = "external"
)

// Session carries the negotiation state for the relationship between two
// nodes over one transport. Session envelopes are the one variant exchanged
// outside the ordinary per-type demux path before the session reaches
// established (see Channel.ReceiveSession's session special case).
type Session struct {
	Base
	State SessionState `json:"state"`

	// Negotiation options offered by the server (negotiating state) or
	// chosen by the client in its reply.
	CompressionOptions []SessionCompression `json:"compressionOptions,omitempty"`
	Compression        SessionCompression   `json:"compression,omitempty"`
	EncryptionOptions   []SessionEncryption  `json:"encryptionOptions,omitempty"`
	Encryption          SessionEncryption    `json:"encryption,omitempty"`

	// Authentication negotiation (authenticating state).
	Schemes        []AuthenticationScheme `json:"schemes,omitempty"`
	Authentication json.RawMessage        `json:"authentication,omitempty"`

	Reason *Reason `json:"reason,omitempty"`
}

// Kind identifies this envelope as a session.
func (s *Session) Kind() Kind { return KindSession }

// NewSession builds a session envelope in the given state.
func NewSession(id string, state SessionState) *Session {
	return &Session{Base: Base{ID: id}, State: state}
}
