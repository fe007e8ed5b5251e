package peer

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/danmuck/peerctl/internal/echopeer"
	"github.com/danmuck/peerctl/internal/testutil/testlog"
)

// The test binary doubles as the peer executable: with EnvMode set it serves
// the line protocol on stdin/stdout instead of running tests.
func TestMain(m *testing.M) {
	if mode, ok := os.LookupEnv(echopeer.EnvMode); ok {
		os.Exit(echopeer.Main(mode))
	}
	os.Exit(m.Run())
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.StopGrace = 500 * time.Millisecond
	return cfg
}

func newTestSupervisor(t *testing.T) *Supervisor {
	t.Helper()
	testlog.Start(t)
	s := NewSupervisor(testConfig())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = s.StopAll(ctx)
	})
	return s
}

func startPeer(t *testing.T, s *Supervisor, mode echopeer.Mode, opts ...StartOption) ID {
	t.Helper()
	opts = append([]StartOption{WithEnv(echopeer.EnvMode + "=" + string(mode))}, opts...)
	id, err := s.Start(context.Background(), os.Args[0], opts...)
	require.NoError(t, err)
	return id
}

func readLine(t *testing.T, s *Supervisor, id ID) Inbound {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	in, err := s.ReadLine(ctx, id)
	require.NoError(t, err)
	return in
}

func awaitReady(t *testing.T, s *Supervisor, id ID) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.AwaitReady(ctx, id))
}
