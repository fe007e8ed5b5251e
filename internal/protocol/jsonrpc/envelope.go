package jsonrpc

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Envelope is the untyped decode of one wire line. A nil pointer means the
// member was absent. JSON null counts as absent for every member except
// result, where null is a legal value.
type Envelope struct {
	Version string
	ID      *ID
	Method  *string
	Params  *Document
	Result  *Document
	Error   *ErrorObject
}

// Present lists the set members in wire order.
func (e Envelope) Present() []string {
	out := make([]string, 0, 5)
	if e.ID != nil {
		out = append(out, "id")
	}
	if e.Method != nil {
		out = append(out, "method")
	}
	if e.Params != nil {
		out = append(out, "params")
	}
	if e.Result != nil {
		out = append(out, "result")
	}
	if e.Error != nil {
		out = append(out, "error")
	}
	return out
}

// DecodeEnvelope parses one line. Invalid JSON fails with ErrProtocolDecode;
// a non-object or a mistyped member fails with ErrMalformedMessage.
func DecodeEnvelope(line []byte) (Envelope, error) {
	line = bytes.TrimSpace(line)
	if !json.Valid(line) {
		var probe any
		err := json.Unmarshal(line, &probe)
		if err == nil {
			err = fmt.Errorf("invalid json")
		}
		return Envelope{}, fmt.Errorf("%w: %w", ErrProtocolDecode, err)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(line, &fields); err != nil {
		return Envelope{}, malformed(nil, "message is not a JSON object", nil)
	}

	var env Envelope
	if raw, ok := present(fields, "jsonrpc"); ok {
		if err := json.Unmarshal(raw, &env.Version); err != nil {
			return Envelope{}, malformed(keysOf(fields), "jsonrpc must be a string", nil)
		}
	}
	if raw, ok := present(fields, "id"); ok {
		var id ID
		if err := json.Unmarshal(raw, &id); err != nil {
			return Envelope{}, malformed(keysOf(fields), "invalid id", err)
		}
		env.ID = &id
	}
	if raw, ok := present(fields, "method"); ok {
		var method string
		if err := json.Unmarshal(raw, &method); err != nil {
			return Envelope{}, malformed(keysOf(fields), "method must be a string", nil)
		}
		env.Method = &method
	}
	if raw, ok := present(fields, "params"); ok {
		doc, err := RawDocument(raw)
		if err != nil {
			return Envelope{}, malformed(keysOf(fields), "invalid params", err)
		}
		env.Params = &doc
	}
	if raw, ok := fields["result"]; ok {
		doc, err := RawDocument(raw)
		if err != nil {
			return Envelope{}, malformed(keysOf(fields), "invalid result", err)
		}
		env.Result = &doc
	}
	if raw, ok := present(fields, "error"); ok {
		var obj ErrorObject
		if err := json.Unmarshal(raw, &obj); err != nil {
			return Envelope{}, malformed(keysOf(fields), "invalid error object", err)
		}
		env.Error = &obj
	}
	return env, nil
}

func present(fields map[string]json.RawMessage, key string) (json.RawMessage, bool) {
	raw, ok := fields[key]
	if !ok || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return nil, false
	}
	return raw, true
}

var envelopeKeys = []string{"id", "method", "params", "result", "error"}

func keysOf(fields map[string]json.RawMessage) []string {
	out := make([]string, 0, len(envelopeKeys))
	for _, key := range envelopeKeys {
		if _, ok := fields[key]; ok {
			out = append(out, key)
		}
	}
	return out
}
