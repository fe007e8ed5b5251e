package peer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danmuck/peerctl/internal/echopeer"
	"github.com/danmuck/peerctl/internal/protocol/jsonrpc"
	"github.com/danmuck/peerctl/internal/protocol/methods"
)

func TestStartHandshakeAndEcho(t *testing.T) {
	s := newTestSupervisor(t)
	id := startPeer(t, s, echopeer.ModeEcho)

	init := readLine(t, s, id)
	require.NoError(t, init.Err)
	resp, ok := init.Message.(*jsonrpc.Response)
	require.True(t, ok, "expected initialize response, got %T", init.Message)
	assert.Equal(t, jsonrpc.NumberID(1), resp.ID)
	awaitReady(t, s, id)

	req, err := jsonrpc.NewRequest(jsonrpc.StringID("call-1"), methods.ToolsCall.String(),
		jsonrpc.MustDocument(map[string]any{"name": "add", "arguments": map[string]int{"a": 1}}))
	require.NoError(t, err)
	require.NoError(t, s.SendMessage(context.Background(), id, req))

	echo := readLine(t, s, id)
	require.NoError(t, echo.Err)
	out, ok := echo.Message.(*jsonrpc.Response)
	require.True(t, ok)
	assert.Equal(t, jsonrpc.StringID("call-1"), out.ID)
	assert.Equal(t, int64(1), out.Result.Get("params.arguments.a").Int())

	info, err := s.Info(id)
	require.NoError(t, err)
	assert.Equal(t, StateReady, info.State)
	require.NotNil(t, info.Server)
	assert.Equal(t, "echopeer", info.Server.ServerInfo.Name)
	assert.Positive(t, info.Pid)
	// initialize, notifications/initialized and the call.
	assert.EqualValues(t, 3, info.Sent)
}

func TestStartNStopK(t *testing.T) {
	s := newTestSupervisor(t)
	ids := make([]ID, 3)
	for i := range ids {
		ids[i] = startPeer(t, s, echopeer.ModeEcho)
	}
	assert.NotEqual(t, ids[0], ids[1])
	assert.NotEqual(t, ids[1], ids[2])

	second, err := s.At(1)
	require.NoError(t, err)
	require.Equal(t, ids[1], second)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx, second))

	assert.Equal(t, 2, s.Len())
	first, err := s.At(0)
	require.NoError(t, err)
	assert.Equal(t, ids[0], first)
	next, err := s.At(1)
	require.NoError(t, err)
	assert.Equal(t, ids[2], next)
	_, err = s.At(2)
	assert.ErrorIs(t, err, ErrUnknownPeer)

	for _, id := range []ID{ids[0], ids[2]} {
		awaitReady(t, s, id)
		require.NoError(t, s.Send(context.Background(), id, []byte(`{"jsonrpc":"2.0","id":7,"method":"ping"}`)))
	}

	_, err = s.ReadLine(ctx, second)
	assert.ErrorIs(t, err, ErrUnknownPeer)
	assert.ErrorIs(t, s.Send(ctx, second, []byte(`{}`)), ErrUnknownPeer)
	assert.ErrorIs(t, s.Stop(ctx, second), ErrUnknownPeer)

	third := startPeer(t, s, echopeer.ModeEcho)
	assert.Greater(t, uint64(third), uint64(ids[2]), "ids are never reused")
}

func TestStopRemovesAndPublishesExit(t *testing.T) {
	s := newTestSupervisor(t)
	id := startPeer(t, s, echopeer.ModeSilent)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx, id))
	assert.Zero(t, s.Len())

	select {
	case exit := <-s.Exits():
		assert.Equal(t, id, exit.Peer)
		assert.Equal(t, StatePending, exit.State)
	case <-ctx.Done():
		t.Fatalf("no exit published for peer %d", id)
	}
}

func TestSpawnError(t *testing.T) {
	s := newTestSupervisor(t)
	_, err := s.Start(context.Background(), "/nonexistent/peer-binary")
	assert.ErrorIs(t, err, ErrSpawn)
	assert.Zero(t, s.Len())
}

func TestSilentPeerBlocksOnlyItself(t *testing.T) {
	s := newTestSupervisor(t)
	silent := startPeer(t, s, echopeer.ModeSilent)
	live := startPeer(t, s, echopeer.ModeEcho)

	blocked := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 750*time.Millisecond)
		defer cancel()
		_, err := s.ReadLine(ctx, silent)
		blocked <- err
	}()

	readLine(t, s, live)
	awaitReady(t, s, live)
	for i := range 5 {
		raw := fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"method":"ping"}`, 100+i)
		require.NoError(t, s.Send(context.Background(), live, []byte(raw)))
		in := readLine(t, s, live)
		resp, ok := in.Message.(*jsonrpc.Response)
		require.True(t, ok)
		assert.Equal(t, jsonrpc.NumberID(int64(100+i)), resp.ID)
	}

	assert.ErrorIs(t, <-blocked, context.DeadlineExceeded)

	info, err := s.Info(silent)
	require.NoError(t, err)
	assert.Equal(t, StatePending, info.State)
}

func TestConcurrentWritersNeverInterleave(t *testing.T) {
	s := newTestSupervisor(t)
	id := startPeer(t, s, echopeer.ModeEcho)
	readLine(t, s, id)
	awaitReady(t, s, id)

	const perWriter = 20
	big := strings.Repeat("x", 256*1024)
	var wg sync.WaitGroup
	errs := make(chan error, 2*perWriter)
	for w, payload := range []string{big, "small"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range perWriter {
				req, err := jsonrpc.NewRequest(jsonrpc.StringID(fmt.Sprintf("w%d-%d", w, i)), "echo",
					jsonrpc.MustDocument(map[string]string{"data": payload}))
				if err != nil {
					errs <- err
					return
				}
				if err := s.SendMessage(context.Background(), id, req); err != nil {
					errs <- err
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	seen := map[string]bool{}
	for range 2 * perWriter {
		in := readLine(t, s, id)
		require.NoError(t, in.Err, "interleaved frame produced an undecodable line")
		resp, ok := in.Message.(*jsonrpc.Response)
		require.True(t, ok, "expected response, got %T", in.Message)
		key, _ := resp.ID.Str()
		data := resp.Result.Get("params.data").String()
		if strings.HasPrefix(key, "w0-") {
			assert.Len(t, data, len(big))
		} else {
			assert.Equal(t, "small", data)
		}
		seen[key] = true
	}
	assert.Len(t, seen, 2*perWriter)

	info, err := s.Info(id)
	require.NoError(t, err)
	assert.Zero(t, info.DecodeFailures)
}

func TestHandshakeFailure(t *testing.T) {
	s := newTestSupervisor(t)
	id := startPeer(t, s, echopeer.ModeReject)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := s.AwaitReady(ctx, id)
	require.ErrorIs(t, err, ErrHandshakeFailed)
	assert.Contains(t, err.Error(), "initialize rejected")

	assert.ErrorIs(t, s.Send(ctx, id, []byte(`{"jsonrpc":"2.0","id":2,"method":"ping"}`)), ErrHandshakeFailed)

	in := readLine(t, s, id)
	assert.Equal(t, jsonrpc.KindError, in.Message.Kind())

	info, err := s.Info(id)
	require.NoError(t, err)
	assert.Equal(t, StateHandshakeFailed, info.State)
}

func TestGarbageLinesAreSurvived(t *testing.T) {
	s := newTestSupervisor(t)
	id := startPeer(t, s, echopeer.ModeGarbage)

	first := readLine(t, s, id)
	assert.ErrorIs(t, first.Err, jsonrpc.ErrProtocolDecode)
	assert.Equal(t, "this is not json", string(first.Line))

	second := readLine(t, s, id)
	assert.ErrorIs(t, second.Err, jsonrpc.ErrMalformedMessage)

	third := readLine(t, s, id)
	require.NoError(t, third.Err)
	assert.Equal(t, jsonrpc.KindResponse, third.Message.Kind())
	awaitReady(t, s, id)

	assert.Less(t, first.Seq, second.Seq)
	info, err := s.Info(id)
	require.NoError(t, err)
	assert.EqualValues(t, 2, info.DecodeFailures)
}

func TestPeerExitIsObserved(t *testing.T) {
	s := newTestSupervisor(t)
	id := startPeer(t, s, echopeer.ModeExit)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	readLine(t, s, id)
	select {
	case exit := <-s.Exits():
		assert.Equal(t, id, exit.Peer)
		assert.NoError(t, exit.Err)
	case <-ctx.Done():
		t.Fatalf("no exit published")
	}

	_, err := s.ReadLine(ctx, id)
	assert.ErrorIs(t, err, ErrPeerIO)
	assert.ErrorIs(t, s.Send(ctx, id, []byte(`{"jsonrpc":"2.0","id":2,"method":"ping"}`)), ErrPeerIO)

	info, err := s.Info(id)
	require.NoError(t, err)
	assert.Equal(t, StateExited, info.State)

	require.NoError(t, s.Stop(ctx, id))
	assert.Zero(t, s.Len())
}

func TestSubscriptionClosesWithPeer(t *testing.T) {
	s := newTestSupervisor(t)
	id := startPeer(t, s, echopeer.ModeSilent)
	sub, err := s.Subscribe(id)
	require.NoError(t, err)
	defer sub.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx, id))

	_, err = sub.Next(ctx)
	assert.ErrorIs(t, err, ErrPeerIO)

	_, err = s.Subscribe(id)
	assert.ErrorIs(t, err, ErrUnknownPeer)
}

func TestSubscriptionAlongsideReadLine(t *testing.T) {
	s := newTestSupervisor(t)
	id := startPeer(t, s, echopeer.ModeEcho)
	readLine(t, s, id)
	awaitReady(t, s, id)

	sub, err := s.Subscribe(id)
	require.NoError(t, err)
	defer sub.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Send(ctx, id, []byte(`{"jsonrpc":"2.0","id":"sub","method":"ping"}`)))

	fromSub, err := sub.Next(ctx)
	require.NoError(t, err)
	fromInbox := readLine(t, s, id)
	assert.Equal(t, fromInbox.Seq, fromSub.Seq)
	assert.Equal(t, fromInbox.Line, fromSub.Line)
	assert.Zero(t, sub.Dropped())
}

func TestStderrTail(t *testing.T) {
	s := newTestSupervisor(t)
	id := startPeer(t, s, echopeer.ModeEcho)

	require.Eventually(t, func() bool {
		info, err := s.Info(id)
		return err == nil && len(info.StderrTail) > 0 && strings.Contains(info.StderrTail[0], "echopeer ready")
	}, 5*time.Second, 20*time.Millisecond)
}

func TestWithoutCapabilities(t *testing.T) {
	rec := &recordingLauncher{}
	s := NewSupervisor(testConfig(), WithLauncher(rec))
	t.Cleanup(func() { _ = s.StopAll(context.Background()) })

	_, err := s.Start(context.Background(), "peer", WithoutCapabilities())
	require.NoError(t, err)

	line := rec.firstLine(t)
	msg, err := jsonrpc.Decode(line)
	require.NoError(t, err)
	req, ok := msg.(*jsonrpc.Request)
	require.True(t, ok)
	assert.Equal(t, methods.Initialize.String(), req.Method)
	assert.False(t, req.Params.Get("capabilities").Exists())
	assert.Equal(t, "peerctl", req.Params.Get("clientInfo.name").String())
}

func TestHandshakeWriteFailureTerminates(t *testing.T) {
	rec := &recordingLauncher{failWrites: true}
	s := NewSupervisor(testConfig(), WithLauncher(rec))

	_, err := s.Start(context.Background(), "peer")
	require.ErrorIs(t, err, ErrPeerIO)
	assert.Zero(t, s.Len())
	assert.True(t, rec.proc.killedOrInterrupted())
}

func TestLaunchFailureIsSpawnError(t *testing.T) {
	s := NewSupervisor(testConfig(), WithLauncher(launcherFunc(func(context.Context, Spec) (Process, error) {
		return nil, errors.New("no such host")
	})))
	_, err := s.Start(context.Background(), "peer")
	assert.ErrorIs(t, err, ErrSpawn)
}

const fakeInitializeResult = `{"jsonrpc":"2.0","id":1,"result":{"protocolVersion":"2024-11-05","capabilities":{},"serverInfo":{"name":"fake","version":"0"}}}`

func TestInitializedWriteFailureFailsHandshake(t *testing.T) {
	rec := &recordingLauncher{failAfter: 1}
	s := NewSupervisor(testConfig(), WithLauncher(rec))
	t.Cleanup(func() { _ = s.StopAll(context.Background()) })

	id, err := s.Start(context.Background(), "peer")
	require.NoError(t, err)
	rec.firstLine(t)
	rec.reply(t, fakeInitializeResult)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err = s.AwaitReady(ctx, id)
	require.ErrorIs(t, err, ErrHandshakeFailed)
	assert.Contains(t, err.Error(), methods.Initialized.String())

	select {
	case exit := <-s.Exits():
		assert.Equal(t, id, exit.Peer)
		assert.Equal(t, StateHandshakeFailed, exit.State)
		assert.ErrorIs(t, exit.Err, ErrHandshakeFailed)
	case <-ctx.Done():
		t.Fatalf("handshake failure never reached Exits")
	}
	assert.True(t, rec.proc.killedOrInterrupted())

	info, err := s.Info(id)
	require.NoError(t, err)
	assert.NotEqual(t, StateReady, info.State)
	assert.EqualValues(t, 1, info.Sent)
	assert.Contains(t, info.Failure, "broken pipe")
	assert.ErrorIs(t, s.Send(ctx, id, []byte(`{"jsonrpc":"2.0","id":2,"method":"ping"}`)), ErrHandshakeFailed)
}

func TestExitCarriesProcessStatus(t *testing.T) {
	rec := &recordingLauncher{waitErr: errors.New("exit status 3")}
	s := NewSupervisor(testConfig(), WithLauncher(rec))
	t.Cleanup(func() { _ = s.StopAll(context.Background()) })

	id, err := s.Start(context.Background(), "peer")
	require.NoError(t, err)
	rec.firstLine(t)
	rec.proc.exit()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	select {
	case exit := <-s.Exits():
		assert.Equal(t, id, exit.Peer)
		assert.NoError(t, exit.Err)
		assert.EqualError(t, exit.Status, "exit status 3")
	case <-ctx.Done():
		t.Fatalf("no exit published")
	}

	info, err := s.Info(id)
	require.NoError(t, err)
	assert.Equal(t, StateExited, info.State)
	assert.Equal(t, "exit status 3", info.ExitStatus)
}

func TestInitializeIDReservedWhilePending(t *testing.T) {
	rec := &recordingLauncher{}
	s := NewSupervisor(testConfig(), WithLauncher(rec))
	t.Cleanup(func() { _ = s.StopAll(context.Background()) })

	id, err := s.Start(context.Background(), "peer")
	require.NoError(t, err)
	rec.firstLine(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	assert.ErrorIs(t, s.Send(ctx, id, []byte(`{"jsonrpc":"2.0","id":1,"method":"ping"}`)), ErrReservedID)
	clash, err := jsonrpc.NewRequest(jsonrpc.NumberID(1), "ping", jsonrpc.Document{})
	require.NoError(t, err)
	assert.ErrorIs(t, s.SendMessage(ctx, id, clash), ErrReservedID)

	// Other ids and notifications go through while pending.
	require.NoError(t, s.Send(ctx, id, []byte(`{"jsonrpc":"2.0","id":2,"method":"ping"}`)))
	require.NoError(t, s.Send(ctx, id, []byte(`{"jsonrpc":"2.0","method":"notifications/progress","params":{"id":1}}`)))

	rec.reply(t, fakeInitializeResult)
	require.NoError(t, s.AwaitReady(ctx, id))
	assert.NoError(t, s.SendMessage(ctx, id, clash))
}

func activePeersGauge(t *testing.T) float64 {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() == "peerctl_peer_active" {
			return mf.GetMetric()[0].GetGauge().GetValue()
		}
	}
	t.Fatalf("peerctl_peer_active not registered")
	return 0
}

func TestActivePeersGaugeTracksConcurrentStartStop(t *testing.T) {
	s := NewSupervisor(testConfig(), WithLauncher(launcherFunc(func(context.Context, Spec) (Process, error) {
		return newFakeProcess(false), nil
	})))
	t.Cleanup(func() { _ = s.StopAll(context.Background()) })

	const n = 16
	ids := make([]ID, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := s.Start(context.Background(), fmt.Sprintf("peer-%d", i))
			assert.NoError(t, err)
			ids[i] = id
		}()
	}
	wg.Wait()
	require.Equal(t, n, s.Len())
	assert.EqualValues(t, n, activePeersGauge(t))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, id := range ids {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, s.Stop(ctx, id))
		}()
	}
	wg.Wait()
	assert.Zero(t, s.Len())
	assert.Zero(t, activePeersGauge(t))
}
