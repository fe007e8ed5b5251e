package jsonrpc

import (
	"encoding/json"
	"fmt"
)

var nullID = json.RawMessage("null")

type wireMessage struct {
	JSONRPC string       `json:"jsonrpc"`
	ID      any          `json:"id,omitempty"`
	Method  string       `json:"method,omitempty"`
	Params  *Document    `json:"params,omitempty"`
	Result  *Document    `json:"result,omitempty"`
	Error   *ErrorObject `json:"error,omitempty"`
}

// Encode renders msg as a single JSON line without the trailing newline.
// Shape invariants are checked again so hand-built values cannot break them.
func Encode(msg Message) ([]byte, error) {
	out := wireMessage{JSONRPC: Version}
	switch m := msg.(type) {
	case *Request:
		if m == nil {
			return nil, fmt.Errorf("jsonrpc: encode nil request")
		}
		if err := m.validate(); err != nil {
			return nil, err
		}
		out.ID = m.ID
		out.Method = m.Method
		out.Params = optional(m.Params)
	case *Response:
		if m == nil {
			return nil, fmt.Errorf("jsonrpc: encode nil response")
		}
		if err := m.validate(); err != nil {
			return nil, err
		}
		out.ID = idOrNull(m.ID)
		out.Result = m.Result
		out.Error = m.Error
	case *Notification:
		if m == nil {
			return nil, fmt.Errorf("jsonrpc: encode nil notification")
		}
		if err := m.validate(); err != nil {
			return nil, err
		}
		out.Method = m.Method
		out.Params = optional(m.Params)
	case *ErrorMessage:
		if m == nil {
			return nil, fmt.Errorf("jsonrpc: encode nil error message")
		}
		errObj := m.Error
		out.ID = idOrNull(m.ID)
		out.Error = &errObj
	case Null:
	default:
		return nil, fmt.Errorf("jsonrpc: encode unsupported message %T", msg)
	}
	return json.Marshal(out)
}

func optional(d Document) *Document {
	if d.IsZero() {
		return nil
	}
	return &d
}

func idOrNull(id ID) any {
	if id.IsZero() {
		return nullID
	}
	return id
}

func (r *Request) MarshalJSON() ([]byte, error)      { return Encode(r) }
func (r *Response) MarshalJSON() ([]byte, error)     { return Encode(r) }
func (n *Notification) MarshalJSON() ([]byte, error) { return Encode(n) }
func (e *ErrorMessage) MarshalJSON() ([]byte, error) { return Encode(e) }
