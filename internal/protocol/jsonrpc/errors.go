package jsonrpc

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrProtocolDecode       = errors.New("jsonrpc: invalid json")
	ErrMalformedMessage     = errors.New("jsonrpc: malformed message")
	ErrInvalidErrorCode     = errors.New("jsonrpc: invalid error code")
	ErrInvalidResponseShape = errors.New("jsonrpc: response must carry exactly one of result or error")
)

// MalformedMessageError reports valid JSON that is not a valid JSON-RPC shape.
// Present lists the envelope fields that were set, in wire order.
type MalformedMessageError struct {
	Present []string
	Reason  string
	Err     error
}

func (e *MalformedMessageError) Error() string {
	var b strings.Builder
	b.WriteString(ErrMalformedMessage.Error())
	if e.Reason != "" {
		b.WriteString(": ")
		b.WriteString(e.Reason)
	}
	fmt.Fprintf(&b, " (present: %s)", presentList(e.Present))
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *MalformedMessageError) Is(target error) bool {
	return target == ErrMalformedMessage
}

func (e *MalformedMessageError) Unwrap() error {
	return e.Err
}

func presentList(fields []string) string {
	if len(fields) == 0 {
		return "none"
	}
	return strings.Join(fields, ", ")
}

func malformed(present []string, reason string, err error) error {
	return &MalformedMessageError{Present: present, Reason: reason, Err: err}
}
