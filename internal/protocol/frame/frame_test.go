package frame

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/danmuck/peerctl/internal/protocol/jsonrpc"
)

func TestWriteReadLineRoundTrip(t *testing.T) {
	req, err := jsonrpc.NewRequest(jsonrpc.NumberID(42), "tools/list", jsonrpc.Document{})
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	var buf bytes.Buffer
	w := NewWriter(&buf)
	if err := w.WriteMessage(req); err != nil {
		t.Fatalf("write message: %v", err)
	}
	if err := w.WriteLine([]byte(`{"jsonrpc":"2.0","method":"ping"}` + "\n")); err != nil {
		t.Fatalf("write line: %v", err)
	}
	if got := strings.Count(buf.String(), "\n"); got != 2 {
		t.Fatalf("expected 2 newlines, got %d in %q", got, buf.String())
	}

	r := NewReader(&buf, DefaultLimits())
	first, err := r.ReadLine()
	if err != nil {
		t.Fatalf("read first: %v", err)
	}
	msg, err := jsonrpc.Decode(first)
	if err != nil {
		t.Fatalf("decode first: %v", err)
	}
	if msg.Kind() != jsonrpc.KindRequest {
		t.Fatalf("expected request, got %s", msg.Kind())
	}
	second, err := r.ReadLine()
	if err != nil {
		t.Fatalf("read second: %v", err)
	}
	if string(second) != `{"jsonrpc":"2.0","method":"ping"}` {
		t.Fatalf("second line mismatch: %q", second)
	}
	if _, err := r.ReadLine(); !errors.Is(err, io.EOF) {
		t.Fatalf("expected io.EOF, got %v", err)
	}
}

func TestReadLineSkipsEmptyLinesAndTrimsCR(t *testing.T) {
	r := NewReader(strings.NewReader("\n\r\n  \n{\"a\":1}\r\n\n"), DefaultLimits())
	line, err := r.ReadLine()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(line) != `{"a":1}` {
		t.Fatalf("unexpected line: %q", line)
	}
	if _, err := r.ReadLine(); !errors.Is(err, io.EOF) {
		t.Fatalf("expected io.EOF, got %v", err)
	}
}

func TestReadLineReturnsUnterminatedTail(t *testing.T) {
	r := NewReader(strings.NewReader(`{"a":1}`), DefaultLimits())
	line, err := r.ReadLine()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(line) != `{"a":1}` {
		t.Fatalf("unexpected line: %q", line)
	}
}

func TestReadLineTooLongRecovers(t *testing.T) {
	long := strings.Repeat("x", 100)
	input := long + "\n" + `{"ok":true}` + "\n" + long
	r := NewReader(strings.NewReader(input), Limits{MaxLineBytes: 32})

	if _, err := r.ReadLine(); !errors.Is(err, ErrLineTooLong) {
		t.Fatalf("expected ErrLineTooLong, got %v", err)
	}
	line, err := r.ReadLine()
	if err != nil {
		t.Fatalf("read after overflow: %v", err)
	}
	if string(line) != `{"ok":true}` {
		t.Fatalf("unexpected line: %q", line)
	}
	if _, err := r.ReadLine(); !errors.Is(err, ErrLineTooLong) {
		t.Fatalf("expected ErrLineTooLong for unterminated tail, got %v", err)
	}
	if _, err := r.ReadLine(); !errors.Is(err, io.EOF) {
		t.Fatalf("expected io.EOF, got %v", err)
	}
}

func TestReadLineAtExactLimit(t *testing.T) {
	exact := strings.Repeat("y", 32)
	r := NewReader(strings.NewReader(exact+"\n"), Limits{MaxLineBytes: 32})
	line, err := r.ReadLine()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(line) != exact {
		t.Fatalf("unexpected line: %q", line)
	}
}

func TestWriteLineRejectsEmbeddedNewline(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	if err := w.WriteLine([]byte("{\"a\":\n1}")); !errors.Is(err, ErrEmbeddedNewline) {
		t.Fatalf("expected ErrEmbeddedNewline, got %v", err)
	}
	if err := w.WriteLine([]byte("  \n")); !errors.Is(err, ErrEmptyFrame) {
		t.Fatalf("expected ErrEmptyFrame, got %v", err)
	}
	if buf.Len() != 0 {
		t.Fatalf("rejected frames must not write bytes, got %q", buf.String())
	}
}

func TestScanContinuesPastBadLines(t *testing.T) {
	input := strings.Join([]string{
		`{"jsonrpc":"2.0","id":1,"result":{}}`,
		`not json`,
		`{"jsonrpc":"2.0","id":2}`,
		strings.Repeat("z", 64),
		`{"jsonrpc":"2.0","method":"notifications/progress"}`,
	}, "\n")

	var kinds []jsonrpc.Kind
	var failures []error
	err := Scan(NewReader(strings.NewReader(input), Limits{MaxLineBytes: 60}), SinkFuncs{
		OnMessage: func(_ []byte, msg jsonrpc.Message) { kinds = append(kinds, msg.Kind()) },
		OnFailure: func(_ []byte, err error) { failures = append(failures, err) },
	})
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(kinds) != 2 || kinds[0] != jsonrpc.KindResponse || kinds[1] != jsonrpc.KindNotification {
		t.Fatalf("unexpected kinds: %v", kinds)
	}
	if len(failures) != 3 {
		t.Fatalf("expected 3 failures, got %d: %v", len(failures), failures)
	}
	if !errors.Is(failures[0], jsonrpc.ErrProtocolDecode) {
		t.Fatalf("expected decode failure, got %v", failures[0])
	}
	if !errors.Is(failures[1], jsonrpc.ErrMalformedMessage) {
		t.Fatalf("expected malformed failure, got %v", failures[1])
	}
	if !errors.Is(failures[2], ErrLineTooLong) {
		t.Fatalf("expected line too long, got %v", failures[2])
	}
}
