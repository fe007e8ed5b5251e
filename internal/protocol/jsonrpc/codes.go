package jsonrpc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

const (
	ServerErrorMin = -32099
	ServerErrorMax = -32000
)

// ErrorCode is one of the named JSON-RPC codes or a ServerError in the reserved range.
// Its fields are unexported so an out-of-range code cannot be built.
type ErrorCode struct {
	value  int
	server bool
}

var (
	CodeParseError     = ErrorCode{value: -32700}
	CodeInvalidRequest = ErrorCode{value: -32600}
	CodeMethodNotFound = ErrorCode{value: -32601}
	CodeInvalidParams  = ErrorCode{value: -32602}
	CodeInternalError  = ErrorCode{value: -32603}
)

var namedCodes = map[int]ErrorCode{
	CodeParseError.value:     CodeParseError,
	CodeInvalidRequest.value: CodeInvalidRequest,
	CodeMethodNotFound.value: CodeMethodNotFound,
	CodeInvalidParams.value:  CodeInvalidParams,
	CodeInternalError.value:  CodeInternalError,
}

// ServerError builds an implementation-defined code; n must lie in [-32099, -32000].
func ServerError(n int) (ErrorCode, error) {
	if n < ServerErrorMin || n > ServerErrorMax {
		return ErrorCode{}, fmt.Errorf("%w: ServerError code must be in range %d..=%d (got %d)",
			ErrInvalidErrorCode, ServerErrorMin, ServerErrorMax, n)
	}
	return ErrorCode{value: n, server: true}, nil
}

// CodeFromInt maps a wire integer onto the closed code set.
func CodeFromInt(n int) (ErrorCode, error) {
	if code, ok := namedCodes[n]; ok {
		return code, nil
	}
	return ServerError(n)
}

func (c ErrorCode) Int() int {
	return c.value
}

func (c ErrorCode) IsZero() bool {
	return c.value == 0
}

func (c ErrorCode) IsServerError() bool {
	return c.server
}

func (c ErrorCode) String() string {
	switch c {
	case CodeParseError:
		return "ParseError"
	case CodeInvalidRequest:
		return "InvalidRequest"
	case CodeMethodNotFound:
		return "MethodNotFound"
	case CodeInvalidParams:
		return "InvalidParams"
	case CodeInternalError:
		return "InternalError"
	}
	if c.server {
		return "ServerError(" + strconv.Itoa(c.value) + ")"
	}
	return "ErrorCode(0)"
}

func (c ErrorCode) MarshalJSON() ([]byte, error) {
	if c.IsZero() {
		return nil, fmt.Errorf("%w: zero code", ErrInvalidErrorCode)
	}
	return []byte(strconv.Itoa(c.value)), nil
}

func (c *ErrorCode) UnmarshalJSON(data []byte) error {
	n, err := strconv.Atoi(string(bytes.TrimSpace(data)))
	if err != nil {
		return fmt.Errorf("%w: code must be an integer, got %s", ErrInvalidErrorCode, data)
	}
	code, err := CodeFromInt(n)
	if err != nil {
		return err
	}
	*c = code
	return nil
}

// ErrorObject is the error member of a JSON-RPC error response.
type ErrorObject struct {
	Code    ErrorCode
	Message string
	Data    Document
}

func NewErrorObject(code ErrorCode, message string, data Document) ErrorObject {
	return ErrorObject{Code: code, Message: message, Data: data}
}

func (e ErrorObject) Error() string {
	return fmt.Sprintf("jsonrpc error %d (%s): %s", e.Code.Int(), e.Code, e.Message)
}

type wireErrorObject struct {
	Code    *ErrorCode `json:"code"`
	Message *string    `json:"message"`
	Data    *Document  `json:"data,omitempty"`
}

func (e ErrorObject) MarshalJSON() ([]byte, error) {
	msg := e.Message
	out := wireErrorObject{Code: &e.Code, Message: &msg}
	if !e.Data.IsZero() {
		out.Data = &e.Data
	}
	return json.Marshal(out)
}

func (e *ErrorObject) UnmarshalJSON(data []byte) error {
	var in wireErrorObject
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	if in.Code == nil {
		return fmt.Errorf("%w: error object missing code", ErrInvalidErrorCode)
	}
	if in.Message == nil {
		return fmt.Errorf("error object missing message")
	}
	out := ErrorObject{Code: *in.Code, Message: *in.Message}
	if in.Data != nil {
		out.Data = *in.Data
	}
	*e = out
	return nil
}
