package envelope

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Node identifies a routable protocol identity in the form name@domain/instance.
// The instance segment is optional; a bare Node with no Instance addresses
// every instance of the identity.
type Node struct {
	Name     string
	Domain   string
	Instance string
}

// ParseNode parses a node identity string of the form "name@domain/instance".
// The instance segment is optional.
func ParseNode(s string) (Node, error) {
	if s == "" {
		return Node{}, nil
	}

	name, rest, ok := strings.Cut(s, "@")
	if !ok {
		return Node{}, fmt.Errorf("envelope: invalid node %q: missing domain", s)
	}

	domain := rest
	instance := ""
	if i := strings.Index(rest, "/"); i >= 0 {
		domain = rest[:i]
		instance = rest[i+1:]
	}

	if name == "" || domain == "" {
		return Node{}, fmt.Errorf("envelope: invalid node %q: empty name or domain", s)
	}

	return Node{Name: name, Domain: domain, Instance: instance}, nil
}

// String renders the node as name@domain/instance, omitting the instance
// segment when empty.
func (n Node) String() string {
	if n.Name == "" && n.Domain == "" {
		return ""
	}
	if n.Instance == "" {
		return fmt.Sprintf("%s@%s", n.Name, n.Domain)
	}
	return fmt.Sprintf("%s@%s/%s", n.Name, n.Domain, n.Instance)
}

// IsEmpty reports whether the node carries no identity at all.
func (n Node) IsEmpty() bool {
	return n.Name == "" && n.Domain == ""
}

// MarshalJSON renders the node as its string form, or null when empty.
func (n Node) MarshalJSON() ([]byte, error) {
	if n.IsEmpty() {
		return []byte("null"), nil
	}
	return json.Marshal(n.String())
}

// UnmarshalJSON parses the node from its string form.
func (n *Node) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*n = Node{}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		*n = Node{}
		return nil
	}
	parsed, err := ParseNode(s)
	if err != nil {
		return err
	}
	*n = parsed
	return nil
}
