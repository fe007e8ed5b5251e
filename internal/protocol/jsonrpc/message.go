package jsonrpc

import "strings"

// Version is the protocol tag written on every outgoing message.
const Version = "2.0"

// Kind discriminates the Message variants.
type Kind uint8

const (
	KindNull Kind = iota
	KindRequest
	KindResponse
	KindNotification
	KindError
)

func (k Kind) String() string {
	switch k {
	case KindRequest:
		return "request"
	case KindResponse:
		return "response"
	case KindNotification:
		return "notification"
	case KindError:
		return "error"
	default:
		return "null"
	}
}

// Message is the closed set of classified wire messages:
// *Request, *Response, *Notification, *ErrorMessage and Null.
type Message interface {
	Kind() Kind
	isMessage()
}

// Request expects a response correlated by ID.
type Request struct {
	ID     ID
	Method string
	Params Document
}

// Response carries exactly one of Result or Error.
type Response struct {
	ID     ID
	Result *Document
	Error  *ErrorObject
}

// Notification is fire-and-forget and never carries an id.
type Notification struct {
	Method string
	Params Document
}

// ErrorMessage is an inbound line whose error member is set. ID may be absent.
type ErrorMessage struct {
	ID    ID
	Error ErrorObject
}

// Null is a line with none of id, method, result or error.
type Null struct{}

func (*Request) Kind() Kind      { return KindRequest }
func (*Response) Kind() Kind     { return KindResponse }
func (*Notification) Kind() Kind { return KindNotification }
func (*ErrorMessage) Kind() Kind { return KindError }
func (Null) Kind() Kind          { return KindNull }

func (*Request) isMessage()      {}
func (*Response) isMessage()     {}
func (*Notification) isMessage() {}
func (*ErrorMessage) isMessage() {}
func (Null) isMessage()          {}

func NewRequest(id ID, method string, params Document) (*Request, error) {
	req := &Request{ID: id, Method: method, Params: params}
	if err := req.validate(); err != nil {
		return nil, err
	}
	return req, nil
}

// NewResponse fails with ErrInvalidResponseShape unless exactly one of result or errObj is set.
func NewResponse(id ID, result *Document, errObj *ErrorObject) (*Response, error) {
	resp := &Response{ID: id, Result: result, Error: errObj}
	if err := resp.validate(); err != nil {
		return nil, err
	}
	return resp, nil
}

func NewResult(id ID, result Document) (*Response, error) {
	return NewResponse(id, &result, nil)
}

func NewErrorResponse(id ID, errObj ErrorObject) (*Response, error) {
	return NewResponse(id, nil, &errObj)
}

func NewNotification(method string, params Document) (*Notification, error) {
	n := &Notification{Method: method, Params: params}
	if err := n.validate(); err != nil {
		return nil, err
	}
	return n, nil
}

func (r *Request) validate() error {
	if r.ID.IsZero() {
		return malformed(r.present(), "request requires an id", nil)
	}
	if strings.TrimSpace(r.Method) == "" {
		return malformed(r.present(), "request requires a method", nil)
	}
	return nil
}

func (r *Request) present() []string {
	out := []string{"method"}
	if !r.ID.IsZero() {
		out = append([]string{"id"}, out...)
	}
	if !r.Params.IsZero() {
		out = append(out, "params")
	}
	return out
}

func (r *Response) validate() error {
	if (r.Result == nil) == (r.Error == nil) {
		return ErrInvalidResponseShape
	}
	return nil
}

func (n *Notification) validate() error {
	if strings.TrimSpace(n.Method) == "" {
		present := []string{}
		if !n.Params.IsZero() {
			present = append(present, "params")
		}
		return malformed(present, "notification requires a method", nil)
	}
	return nil
}
