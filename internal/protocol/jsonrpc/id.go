package jsonrpc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/google/uuid"
)

type idKind uint8

const (
	idAbsent idKind = iota
	idNumber
	idString
)

// ID is a request id: an integer or a string. The zero value is an absent id.
type ID struct {
	kind idKind
	num  int64
	str  string
}

func NumberID(n int64) ID {
	return ID{kind: idNumber, num: n}
}

func StringID(s string) ID {
	return ID{kind: idString, str: s}
}

// NewStringID returns a random string id for callers that correlate their own requests.
func NewStringID() ID {
	return StringID(uuid.NewString())
}

func (id ID) IsZero() bool {
	return id.kind == idAbsent
}

func (id ID) Number() (int64, bool) {
	return id.num, id.kind == idNumber
}

func (id ID) Str() (string, bool) {
	return id.str, id.kind == idString
}

func (id ID) String() string {
	switch id.kind {
	case idNumber:
		return strconv.FormatInt(id.num, 10)
	case idString:
		return strconv.Quote(id.str)
	default:
		return "<absent>"
	}
}

func (id ID) MarshalJSON() ([]byte, error) {
	switch id.kind {
	case idNumber:
		return []byte(strconv.FormatInt(id.num, 10)), nil
	case idString:
		return json.Marshal(id.str)
	default:
		return []byte("null"), nil
	}
}

func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0:
		return fmt.Errorf("id: empty value")
	case bytes.Equal(data, []byte("null")):
		*id = ID{}
		return nil
	case data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("id: %w", err)
		}
		*id = StringID(s)
		return nil
	}
	n, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return fmt.Errorf("id: must be an integer or string, got %s", data)
	}
	*id = NumberID(n)
	return nil
}
