package peer

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	logs "github.com/danmuck/peerctl/internal/logging"
	"github.com/danmuck/peerctl/internal/observability"
	"github.com/danmuck/peerctl/internal/protocol/jsonrpc"
	"github.com/danmuck/peerctl/internal/protocol/methods"
)

// Supervisor owns the set of running peers. Each peer is addressed by its
// stable ID or by its index in start order.
type Supervisor struct {
	cfg      Config
	launcher Launcher
	exits    chan Exit

	mu     sync.Mutex
	peers  map[ID]*Handle
	order  []ID
	nextID ID
}

type Option func(*Supervisor)

// WithLauncher replaces the default LocalLauncher.
func WithLauncher(l Launcher) Option {
	return func(s *Supervisor) {
		if l != nil {
			s.launcher = l
		}
	}
}

type startOptions struct {
	spec     Spec
	caps     *methods.Capabilities
	launcher Launcher
}

type StartOption func(*startOptions)

func WithArgs(args ...string) StartOption {
	return func(o *startOptions) { o.spec.Args = append(o.spec.Args, args...) }
}

// WithEnv adds KEY=VALUE entries on top of the inherited environment.
func WithEnv(env ...string) StartOption {
	return func(o *startOptions) { o.spec.Env = append(o.spec.Env, env...) }
}

func WithDir(dir string) StartOption {
	return func(o *startOptions) { o.spec.Dir = dir }
}

func WithCapabilities(caps methods.Capabilities) StartOption {
	return func(o *startOptions) { o.caps = &caps }
}

func WithoutCapabilities() StartOption {
	return func(o *startOptions) { o.caps = nil }
}

// Via starts this peer with l instead of the supervisor's launcher.
func Via(l Launcher) StartOption {
	return func(o *startOptions) {
		if l != nil {
			o.launcher = l
		}
	}
}

func NewSupervisor(cfg Config, opts ...Option) *Supervisor {
	cfg = cfg.WithDefaults()
	s := &Supervisor{
		cfg:      cfg,
		launcher: LocalLauncher{},
		exits:    make(chan Exit, cfg.ExitBuffer),
		peers:    make(map[ID]*Handle),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Supervisor) Config() Config {
	return s.cfg
}

// Exits receives one Exit per peer whose output stream closed. Undrained
// exits beyond the buffer are dropped.
func (s *Supervisor) Exits() <-chan Exit {
	return s.exits
}

// Start launches a peer, writes the initialize request before anything else
// can reach it, starts its output monitor and registers it.
func (s *Supervisor) Start(ctx context.Context, path string, opts ...StartOption) (ID, error) {
	o := startOptions{spec: Spec{Path: path}, caps: s.cfg.Capabilities, launcher: s.launcher}
	for _, opt := range opts {
		opt(&o)
	}

	req, err := methods.NewInitializeRequest(s.cfg.ProtocolVersion, s.cfg.Client.Name, s.cfg.Client.Version, o.caps)
	if err != nil {
		return 0, err
	}

	proc, err := o.launcher.Launch(ctx, o.spec)
	if err != nil {
		logs.Errf("peer.Supervisor.Start spawn_failed path=%q err=%v", path, err)
		return 0, fmt.Errorf("%w: %s: %v", ErrSpawn, o.spec, err)
	}

	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.mu.Unlock()

	h := newHandle(id, o.spec, proc, s.cfg)
	go h.waitProcess()
	go h.drainStderr(s.cfg.Limits.MaxLineBytes)

	if err := h.guard.WriteMessage(ctx, req); err != nil {
		logs.Errf("peer.Supervisor.Start handshake_write_failed peer_id=%d err=%v", id, err)
		if termErr := s.terminate(context.Background(), h); termErr != nil {
			logs.Warnf("peer.Supervisor.Start terminate_failed peer_id=%d err=%v", id, termErr)
		}
		return 0, fmt.Errorf("%w: peer %d: initialize: %v", ErrPeerIO, id, err)
	}
	h.sent.Add(1)
	observability.RecordFrame("out", jsonrpc.KindRequest.String())

	go h.monitor(s.cfg.SendInitialized, s.cfg.StopGrace, s.exits)

	s.mu.Lock()
	s.peers[id] = h
	s.order = append(s.order, id)
	observability.SetActivePeers(len(s.order))
	s.mu.Unlock()

	logs.Infof("peer.Supervisor.Start started peer_id=%d pid=%d path=%q", id, proc.Pid(), path)
	return id, nil
}

// Stop terminates the peer and removes it. On failure the peer stays
// registered so Stop can be retried.
func (s *Supervisor) Stop(ctx context.Context, id ID) error {
	h, err := s.lookup(id)
	if err != nil {
		return err
	}
	if err := s.terminate(ctx, h); err != nil {
		logs.Errf("peer.Supervisor.Stop failed peer_id=%d err=%v", id, err)
		return fmt.Errorf("%w: stop peer %d: %v", ErrPeerIO, id, err)
	}

	select {
	case <-h.outputDone:
	case <-ctx.Done():
	}

	s.mu.Lock()
	delete(s.peers, id)
	s.order = slices.DeleteFunc(s.order, func(v ID) bool { return v == id })
	observability.SetActivePeers(len(s.order))
	s.mu.Unlock()

	logs.Infof("peer.Supervisor.Stop stopped peer_id=%d", id)
	return nil
}

// terminate interrupts the process, escalates to kill after StopGrace and
// waits for the exit, then releases the streams.
func (s *Supervisor) terminate(ctx context.Context, h *Handle) error {
	select {
	case <-h.exited:
	default:
		if err := h.proc.Interrupt(); err != nil {
			logs.Warnf("peer.Supervisor.terminate interrupt_failed peer_id=%d err=%v", h.id, err)
		}
		grace := time.NewTimer(s.cfg.StopGrace)
		defer grace.Stop()

		select {
		case <-h.exited:
		case <-grace.C:
			logs.Warnf("peer.Supervisor.terminate escalate peer_id=%d grace=%s", h.id, s.cfg.StopGrace)
			if err := h.proc.Kill(); err != nil {
				return err
			}
			select {
			case <-h.exited:
			case <-ctx.Done():
				return ctx.Err()
			}
		case <-ctx.Done():
			_ = h.proc.Kill()
			return ctx.Err()
		}
	}
	return h.release()
}

// StopAll stops every registered peer concurrently and returns the first failure.
func (s *Supervisor) StopAll(ctx context.Context) error {
	s.mu.Lock()
	ids := slices.Clone(s.order)
	s.mu.Unlock()

	var g errgroup.Group
	for _, id := range ids {
		g.Go(func() error {
			return s.Stop(ctx, id)
		})
	}
	return g.Wait()
}

// Send writes one raw line to the peer. Requests may go out while the
// handshake is pending, except with the initialize id (1), which fails with
// ErrReservedID until the handshake resolves.
func (s *Supervisor) Send(ctx context.Context, id ID, raw []byte) error {
	h, err := s.lookup(id)
	if err != nil {
		return err
	}
	if err := h.usable(); err != nil {
		return err
	}
	if env, err := jsonrpc.DecodeEnvelope(raw); err == nil && env.Method != nil {
		if err := h.checkReservedID(env.ID); err != nil {
			return err
		}
	}
	if err := h.guard.WriteLine(ctx, raw); err != nil {
		return err
	}
	h.sent.Add(1)
	observability.RecordFrame("out", "raw")
	return nil
}

// SendMessage encodes msg and writes it as one line. The initialize id is
// reserved the same way as for Send.
func (s *Supervisor) SendMessage(ctx context.Context, id ID, msg jsonrpc.Message) error {
	h, err := s.lookup(id)
	if err != nil {
		return err
	}
	if err := h.usable(); err != nil {
		return err
	}
	if req, ok := msg.(*jsonrpc.Request); ok {
		if err := h.checkReservedID(&req.ID); err != nil {
			return err
		}
	}
	if err := h.guard.WriteMessage(ctx, msg); err != nil {
		return err
	}
	h.sent.Add(1)
	observability.RecordFrame("out", msg.Kind().String())
	return nil
}

// ReadLine returns the next line the monitor read from the peer. It blocks
// until a line arrives, the output closes or ctx ends.
func (s *Supervisor) ReadLine(ctx context.Context, id ID) (Inbound, error) {
	h, err := s.lookup(id)
	if err != nil {
		return Inbound{}, err
	}
	in, ok, err := h.inbox.next(ctx)
	if err != nil {
		return Inbound{}, err
	}
	if !ok {
		return Inbound{}, fmt.Errorf("%w: peer %d output closed", ErrPeerIO, id)
	}
	return in, nil
}

// Subscribe observes the peer's output alongside ReadLine.
func (s *Supervisor) Subscribe(id ID) (*Subscription, error) {
	h, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	return h.subscribe(s.cfg.SubscriptionSize), nil
}

// AwaitReady blocks until the initialize exchange resolves.
func (s *Supervisor) AwaitReady(ctx context.Context, id ID) error {
	h, err := s.lookup(id)
	if err != nil {
		return err
	}
	return h.awaitReady(ctx)
}

// At maps a start-order index onto a peer id.
func (s *Supervisor) At(index int) (ID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index < 0 || index >= len(s.order) {
		return 0, fmt.Errorf("%w: index %d of %d", ErrUnknownPeer, index, len(s.order))
	}
	return s.order[index], nil
}

func (s *Supervisor) Info(id ID) (Info, error) {
	h, err := s.lookup(id)
	if err != nil {
		return Info{}, err
	}
	return h.Info(), nil
}

// Peers snapshots every registered peer in start order.
func (s *Supervisor) Peers() []Info {
	s.mu.Lock()
	handles := make([]*Handle, 0, len(s.order))
	for _, id := range s.order {
		handles = append(handles, s.peers[id])
	}
	s.mu.Unlock()

	out := make([]Info, 0, len(handles))
	for _, h := range handles {
		out = append(out, h.Info())
	}
	return out
}

func (s *Supervisor) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.order)
}

func (s *Supervisor) lookup(id ID) (*Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.peers[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownPeer, id)
	}
	return h, nil
}
