package jsonrpc

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"
)

// Document is an opaque JSON value carried in params, result and error data.
// It holds compacted JSON so two documents built from the same value compare equal.
// The zero value is an absent document.
type Document struct {
	raw []byte
}

// NewDocument marshals v into a Document.
func NewDocument(v any) (Document, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return Document{}, fmt.Errorf("document: %w", err)
	}
	return RawDocument(b)
}

// MustDocument is NewDocument for values known to marshal.
func MustDocument(v any) Document {
	d, err := NewDocument(v)
	if err != nil {
		panic(err)
	}
	return d
}

// RawDocument validates and compacts raw JSON. A JSON null yields the zero Document.
func RawDocument(raw []byte) (Document, error) {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return Document{}, fmt.Errorf("document: %w", err)
	}
	if bytes.Equal(buf.Bytes(), []byte("null")) {
		return Document{}, nil
	}
	return Document{raw: buf.Bytes()}, nil
}

func (d Document) IsZero() bool {
	return len(d.raw) == 0
}

// Bytes returns a copy of the compacted JSON.
func (d Document) Bytes() []byte {
	if d.IsZero() {
		return nil
	}
	out := make([]byte, len(d.raw))
	copy(out, d.raw)
	return out
}

func (d Document) String() string {
	if d.IsZero() {
		return "null"
	}
	return string(d.raw)
}

func (d Document) Equal(other Document) bool {
	return bytes.Equal(d.raw, other.raw)
}

// Decode extracts a typed view of the document.
func (d Document) Decode(v any) error {
	if d.IsZero() {
		return fmt.Errorf("document: absent")
	}
	return json.Unmarshal(d.raw, v)
}

// Get looks up a dotted path, e.g. "capabilities.roots.listChanged".
func (d Document) Get(path string) gjson.Result {
	if d.IsZero() {
		return gjson.Result{}
	}
	return gjson.GetBytes(d.raw, path)
}

func (d Document) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return d.raw, nil
}

func (d *Document) UnmarshalJSON(data []byte) error {
	doc, err := RawDocument(data)
	if err != nil {
		return err
	}
	*d = doc
	return nil
}
