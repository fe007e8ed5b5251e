// Package echopeer is a reference peer speaking the line protocol on a pair of
// streams. It answers initialize and ping, echoes every other request back as
// its result, and ignores notifications. Modes other than echo misbehave in
// specific ways for exercising the orchestrator.
package echopeer

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/danmuck/peerctl/internal/protocol/frame"
	"github.com/danmuck/peerctl/internal/protocol/jsonrpc"
	"github.com/danmuck/peerctl/internal/protocol/methods"
)

type Mode string

const (
	// ModeEcho is the well-behaved peer.
	ModeEcho Mode = "echo"
	// ModeSilent reads everything and never writes.
	ModeSilent Mode = "silent"
	// ModeReject answers initialize with an error.
	ModeReject Mode = "reject"
	// ModeGarbage writes undecodable lines ahead of its initialize response.
	ModeGarbage Mode = "garbage"
	// ModeExit answers initialize and then exits.
	ModeExit Mode = "exit"
)

// EnvMode selects the mode when a binary doubles as a peer.
const EnvMode = "ECHOPEER_MODE"

func ParseMode(raw string) (Mode, error) {
	switch m := Mode(raw); m {
	case ModeEcho, ModeSilent, ModeReject, ModeGarbage, ModeExit:
		return m, nil
	case "":
		return ModeEcho, nil
	default:
		return "", fmt.Errorf("echopeer: unknown mode %q", raw)
	}
}

type Options struct {
	Mode    Mode
	Name    string
	Version string
	// Stderr receives a ready banner; nil disables it.
	Stderr io.Writer
}

type server struct {
	opts Options
	out  *frame.Writer
}

// Serve runs until r ends, or right after the handshake in ModeExit.
func Serve(r io.Reader, w io.Writer, opts Options) error {
	if opts.Mode == "" {
		opts.Mode = ModeEcho
	}
	if opts.Name == "" {
		opts.Name = "echopeer"
	}
	if opts.Version == "" {
		opts.Version = "dev"
	}
	if opts.Stderr != nil {
		fmt.Fprintf(opts.Stderr, "echopeer ready mode=%s\n", opts.Mode)
	}

	s := &server{opts: opts, out: frame.NewWriter(w)}
	in := frame.NewReader(r, frame.DefaultLimits())
	for {
		line, err := in.ReadLine()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			if errors.Is(err, frame.ErrLineTooLong) {
				if werr := s.reply(jsonrpc.ID{}, jsonrpc.CodeInvalidRequest, err.Error()); werr != nil {
					return werr
				}
				continue
			}
			return err
		}
		if opts.Mode == ModeSilent {
			continue
		}

		done, err := s.handle(line)
		if err != nil || done {
			return err
		}
	}
}

// Main serves stdin/stdout in the given mode and returns a process exit code.
func Main(mode string) int {
	m, err := ParseMode(mode)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	if err := Serve(os.Stdin, os.Stdout, Options{Mode: m, Stderr: os.Stderr}); err != nil {
		fmt.Fprintf(os.Stderr, "echopeer: %v\n", err)
		return 1
	}
	return 0
}

func (s *server) handle(line []byte) (bool, error) {
	msg, err := jsonrpc.Decode(line)
	if err != nil {
		code := jsonrpc.CodeInvalidRequest
		if errors.Is(err, jsonrpc.ErrProtocolDecode) {
			code = jsonrpc.CodeParseError
		}
		return false, s.reply(jsonrpc.ID{}, code, err.Error())
	}

	req, ok := msg.(*jsonrpc.Request)
	if !ok {
		return false, nil
	}

	switch methods.Method(req.Method) {
	case methods.Initialize:
		return s.initialize(req)
	case methods.Ping:
		return false, s.result(req.ID, map[string]any{})
	default:
		echo := map[string]any{"method": req.Method}
		if !req.Params.IsZero() {
			echo["params"] = req.Params
		}
		return false, s.result(req.ID, echo)
	}
}

func (s *server) initialize(req *jsonrpc.Request) (bool, error) {
	if s.opts.Mode == ModeReject {
		return false, s.reply(req.ID, jsonrpc.CodeInvalidRequest, "initialize rejected")
	}
	if s.opts.Mode == ModeGarbage {
		for _, raw := range []string{`this is not json`, `{"jsonrpc":"2.0","id":99}`} {
			if err := s.out.WriteLine([]byte(raw)); err != nil {
				return false, err
			}
		}
	}

	version := req.Params.Get("protocolVersion").String()
	if version == "" {
		version = methods.DefaultProtocolVersion
	}
	err := s.result(req.ID, methods.InitializeResult{
		ProtocolVersion: version,
		Capabilities:    map[string]any{"echo": map[string]any{}},
		ServerInfo:      &methods.ClientInfo{Name: s.opts.Name, Version: s.opts.Version},
	})
	return s.opts.Mode == ModeExit, err
}

func (s *server) result(id jsonrpc.ID, v any) error {
	doc, err := jsonrpc.NewDocument(v)
	if err != nil {
		return err
	}
	resp, err := jsonrpc.NewResult(id, doc)
	if err != nil {
		return err
	}
	return s.out.WriteMessage(resp)
}

func (s *server) reply(id jsonrpc.ID, code jsonrpc.ErrorCode, message string) error {
	return s.out.WriteMessage(&jsonrpc.ErrorMessage{ID: id, Error: jsonrpc.NewErrorObject(code, message, jsonrpc.Document{})})
}
