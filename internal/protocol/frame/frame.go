// Package frame moves JSON-RPC messages over byte streams, one message per
// newline-terminated line.
package frame

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/danmuck/peerctl/internal/protocol/jsonrpc"
)

var (
	ErrLineTooLong     = errors.New("frame: line too long")
	ErrEmbeddedNewline = errors.New("frame: payload contains a newline")
	ErrEmptyFrame      = errors.New("frame: empty payload")
)

// Limits constrains line decode memory use.
type Limits struct {
	MaxLineBytes int
}

func DefaultLimits() Limits {
	return Limits{
		MaxLineBytes: 4 * 1024 * 1024,
	}
}

func (l Limits) withDefaults() Limits {
	if l.MaxLineBytes <= 0 {
		return DefaultLimits()
	}
	return l
}

// Reader splits a stream into lines. It is not safe for concurrent use.
type Reader struct {
	br     *bufio.Reader
	limits Limits
}

func NewReader(r io.Reader, limits Limits) *Reader {
	limits = limits.withDefaults()
	size := 64 * 1024
	if limits.MaxLineBytes+1 < size {
		size = max(limits.MaxLineBytes+1, 16)
	}
	return &Reader{br: bufio.NewReaderSize(r, size), limits: limits}
}

// ReadLine returns the next non-empty line without its line terminator.
// An over-long line is consumed through its newline and reported as
// ErrLineTooLong; the reader stays usable. The end of the stream is io.EOF.
func (r *Reader) ReadLine() ([]byte, error) {
	for {
		line, err := r.readRaw()
		if err != nil {
			return nil, err
		}
		line = bytes.TrimRight(line, "\r\n")
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		return line, nil
	}
}

func (r *Reader) readRaw() ([]byte, error) {
	var buf []byte
	tooLong := false
	for {
		chunk, err := r.br.ReadSlice('\n')
		if !tooLong {
			n := len(buf) + len(chunk)
			if err == nil {
				n--
			}
			if n > r.limits.MaxLineBytes {
				tooLong = true
				buf = nil
			} else {
				buf = append(buf, chunk...)
			}
		}

		switch {
		case err == nil:
			if tooLong {
				return nil, fmt.Errorf("%w: limit %d bytes", ErrLineTooLong, r.limits.MaxLineBytes)
			}
			return buf, nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF):
			if tooLong {
				return nil, fmt.Errorf("%w: limit %d bytes", ErrLineTooLong, r.limits.MaxLineBytes)
			}
			if len(buf) > 0 {
				return buf, nil
			}
			return nil, io.EOF
		default:
			return nil, err
		}
	}
}

// Sink receives the outcome of every line Scan reads.
type Sink interface {
	Message(line []byte, msg jsonrpc.Message)
	DecodeFailure(line []byte, err error)
}

// SinkFuncs adapts plain functions to Sink. Nil fields drop the event.
type SinkFuncs struct {
	OnMessage func(line []byte, msg jsonrpc.Message)
	OnFailure func(line []byte, err error)
}

func (s SinkFuncs) Message(line []byte, msg jsonrpc.Message) {
	if s.OnMessage != nil {
		s.OnMessage(line, msg)
	}
}

func (s SinkFuncs) DecodeFailure(line []byte, err error) {
	if s.OnFailure != nil {
		s.OnFailure(line, err)
	}
}

// Scan decodes lines until the stream ends. Per-line failures go to the sink
// and never stop the loop; a clean EOF returns nil.
func Scan(r *Reader, sink Sink) error {
	for {
		line, err := r.ReadLine()
		if err != nil {
			if errors.Is(err, ErrLineTooLong) {
				sink.DecodeFailure(nil, err)
				continue
			}
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		msg, err := jsonrpc.Decode(line)
		if err != nil {
			sink.DecodeFailure(line, err)
			continue
		}
		sink.Message(line, msg)
	}
}

// Writer emits one complete line per call and flushes before returning.
// It is not safe for concurrent use; callers serialize writes per stream.
type Writer struct {
	bw *bufio.Writer
}

func NewWriter(w io.Writer) *Writer {
	return &Writer{bw: bufio.NewWriter(w)}
}

// WriteLine writes raw as one frame. A single trailing line terminator is
// tolerated; any other CR or LF is rejected.
func (w *Writer) WriteLine(raw []byte) error {
	raw = bytes.TrimSuffix(raw, []byte("\n"))
	raw = bytes.TrimSuffix(raw, []byte("\r"))
	if len(bytes.TrimSpace(raw)) == 0 {
		return ErrEmptyFrame
	}
	if bytes.ContainsAny(raw, "\r\n") {
		return ErrEmbeddedNewline
	}
	if _, err := w.bw.Write(raw); err != nil {
		return err
	}
	if err := w.bw.WriteByte('\n'); err != nil {
		return err
	}
	return w.bw.Flush()
}

func (w *Writer) WriteMessage(msg jsonrpc.Message) error {
	line, err := jsonrpc.Encode(msg)
	if err != nil {
		return err
	}
	return w.WriteLine(line)
}
