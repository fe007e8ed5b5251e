package echopeer

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danmuck/peerctl/internal/protocol/frame"
	"github.com/danmuck/peerctl/internal/protocol/jsonrpc"
	"github.com/danmuck/peerctl/internal/protocol/methods"
)

func run(t *testing.T, mode Mode, input ...string) []jsonrpc.Message {
	t.Helper()
	var out bytes.Buffer
	require.NoError(t, Serve(strings.NewReader(strings.Join(input, "\n")+"\n"), &out, Options{Mode: mode}))

	var msgs []jsonrpc.Message
	r := frame.NewReader(&out, frame.DefaultLimits())
	for {
		line, err := r.ReadLine()
		if err != nil {
			break
		}
		msg, err := jsonrpc.Decode(line)
		if err != nil {
			msgs = append(msgs, nil)
			continue
		}
		msgs = append(msgs, msg)
	}
	return msgs
}

func initLine(t *testing.T) string {
	t.Helper()
	caps := methods.DefaultCapabilities()
	req, err := methods.NewInitializeRequest("2024-11-05", "test", "1", &caps)
	require.NoError(t, err)
	line, err := jsonrpc.Encode(req)
	require.NoError(t, err)
	return string(line)
}

func TestEchoAnswersInitializeAndEchoes(t *testing.T) {
	msgs := run(t, ModeEcho,
		initLine(t),
		`{"jsonrpc":"2.0","method":"notifications/initialized"}`,
		`{"jsonrpc":"2.0","id":2,"method":"ping"}`,
		`{"jsonrpc":"2.0","id":"x","method":"tools/call","params":{"name":"add"}}`,
	)
	require.Len(t, msgs, 3)

	init, ok := msgs[0].(*jsonrpc.Response)
	require.True(t, ok)
	assert.Equal(t, jsonrpc.NumberID(1), init.ID)
	result, err := methods.ParseInitializeResult(init)
	require.NoError(t, err)
	assert.Equal(t, "2024-11-05", result.ProtocolVersion)
	assert.Equal(t, "echopeer", result.ServerInfo.Name)

	echo, ok := msgs[2].(*jsonrpc.Response)
	require.True(t, ok)
	assert.Equal(t, jsonrpc.StringID("x"), echo.ID)
	assert.Equal(t, "add", echo.Result.Get("params.name").String())
}

func TestRejectMode(t *testing.T) {
	msgs := run(t, ModeReject, initLine(t))
	require.Len(t, msgs, 1)
	em, ok := msgs[0].(*jsonrpc.ErrorMessage)
	require.True(t, ok)
	assert.Equal(t, jsonrpc.CodeInvalidRequest, em.Error.Code)
}

func TestGarbageModePrefixesUndecodableLines(t *testing.T) {
	msgs := run(t, ModeGarbage, initLine(t))
	require.Len(t, msgs, 3)
	assert.Nil(t, msgs[0])
	assert.Nil(t, msgs[1])
	assert.Equal(t, jsonrpc.KindResponse, msgs[2].Kind())
}

func TestExitModeStopsAfterHandshake(t *testing.T) {
	msgs := run(t, ModeExit, initLine(t), `{"jsonrpc":"2.0","id":2,"method":"ping"}`)
	require.Len(t, msgs, 1)
}

func TestSilentModeWritesNothing(t *testing.T) {
	assert.Empty(t, run(t, ModeSilent, initLine(t)))
}

func TestBadLinesGetErrorsWithNullID(t *testing.T) {
	msgs := run(t, ModeEcho, `nope`, `{"jsonrpc":"2.0","id":4}`)
	require.Len(t, msgs, 2)

	first, ok := msgs[0].(*jsonrpc.ErrorMessage)
	require.True(t, ok)
	assert.True(t, first.ID.IsZero())
	assert.Equal(t, jsonrpc.CodeParseError, first.Error.Code)

	second, ok := msgs[1].(*jsonrpc.ErrorMessage)
	require.True(t, ok)
	assert.Equal(t, jsonrpc.CodeInvalidRequest, second.Error.Code)
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeEcho, m)
	_, err = ParseMode("loud")
	assert.Error(t, err)
}
