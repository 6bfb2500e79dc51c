package envelope

import "encoding/json"

// CommandMethod names the verb a command performs against its URI.
type CommandMethod string

const (
	MethodGet         CommandMethod = "get"
	MethodSet         CommandMethod = "set"
	MethodDelete      CommandMethod = "delete"
	MethodSubscribe   CommandMethod = "subscribe"
	MethodUnsubscribe CommandMethod = "unsubscribe"
	MethodObserve     CommandMethod = "observe"
	MethodMerge       CommandMethod = "merge"
)

// CommandStatus distinguishes a request (pending) from a response
// (success or failure).
type CommandStatus string

const (
	StatusPending CommandStatus = "pending"
	StatusSuccess CommandStatus = "success"
	StatusFailure CommandStatus = "failure"
)

// Command is either a request (Status == StatusPending or empty) or a
// response reusing the request's ID (Status == StatusSuccess or
// StatusFailure). Method == MethodObserve marks a broadcast-style command
// that bypasses request/response correlation in both directions.
type Command struct {
	Base
	Method   CommandMethod   `json:"method"`
	URI      string          `json:"uri,omitempty"`
	Status   CommandStatus   `json:"status,omitempty"`
	Type     string          `json:"type,omitempty"`
	Resource json.RawMessage `json:"resource,omitempty"`
	Reason   *Reason         `json:"reason,omitempty"`
}

// Kind identifies this envelope as a command.
func (c *Command) Kind() Kind { return KindCommand }

// IsRequest reports whether c is a request awaiting a response, i.e. its
// status is empty or explicitly pending.
func (c *Command) IsRequest() bool {
	return c.Status == "" || c.Status == StatusPending
}

// IsObserve reports whether c uses the observe method, which is exempt
// from request/response correlation (see Correlator).
func (c *Command) IsObserve() bool {
	return c.Method == MethodObserve
}

// NewCommandRequest builds a pending request command.
func NewCommandRequest(id string, method CommandMethod, uri string) *Command {
	return &Command{
		Base:   Base{ID: id},
		Method: method,
		URI:    uri,
		Status: StatusPending,
	}
}

// NewCommandResponse builds a success or failure response reusing the
// request's id and method.
func NewCommandResponse(req *Command, status CommandStatus, resource interface{}) (*Command, error) {
	resp := &Command{
		Base:   Base{ID: req.ID},
		Method: req.Method,
		URI:    req.URI,
		Status: status,
	}
	if resource != nil {
		raw, err := json.Marshal(resource)
		if err != nil {
			return nil, err
		}
		resp.Resource = raw
	}
	return resp, nil
}

// UnmarshalResource decodes the command resource into v.
func (c *Command) UnmarshalResource(v interface{}) error {
	return json.Unmarshal(c.Resource, v)
}
