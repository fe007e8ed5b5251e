package peer

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	logs "github.com/danmuck/peerctl/internal/logging"
	"github.com/danmuck/peerctl/internal/protocol/jsonrpc"
	"github.com/danmuck/peerctl/internal/protocol/methods"
)

// ID identifies a peer for the lifetime of its Supervisor. Ids are never reused.
type ID uint64

func (id ID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// ParseID reads an id rendered by ID.String.
func ParseID(raw string) (ID, error) {
	n, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrUnknownPeer, raw)
	}
	return ID(n), nil
}

type State uint32

const (
	StatePending State = iota
	StateReady
	StateHandshakeFailed
	StateExited
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateReady:
		return "ready"
	case StateHandshakeFailed:
		return "handshake_failed"
	case StateExited:
		return "exited"
	default:
		return "unknown"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Inbound is one line read from a peer. Exactly one of Message and Err is set.
type Inbound struct {
	Peer     ID
	Seq      uint64
	Line     []byte
	Message  jsonrpc.Message
	Err      error
	Received time.Time
}

// Exit is published once per peer when its output stream closes. Err is the
// stream or handshake failure; Status is what waiting on the process returned,
// nil when it exited cleanly or had not exited yet.
type Exit struct {
	Peer   ID
	Path   string
	State  State
	Err    error
	Status error
}

// Info is a point-in-time view of a registered peer.
type Info struct {
	ID             ID                        `json:"id"`
	Pid            int                       `json:"pid"`
	Path           string                    `json:"path"`
	Args           []string                  `json:"args,omitempty"`
	State          State                     `json:"state"`
	Started        time.Time                 `json:"started"`
	Sent           uint64                    `json:"sent"`
	Received       uint64                    `json:"received"`
	DecodeFailures uint64                    `json:"decode_failures"`
	Dropped        uint64                    `json:"dropped"`
	Server         *methods.InitializeResult `json:"server,omitempty"`
	StderrTail     []string                  `json:"stderr_tail,omitempty"`
	Failure        string                    `json:"failure,omitempty"`
	ExitStatus     string                    `json:"exit_status,omitempty"`
}

// Handle owns one spawned peer. Its streams are only touched through guard.
type Handle struct {
	id      ID
	spec    Spec
	proc    Process
	guard   *Guard
	started time.Time

	state     atomic.Uint32
	handshake atomic.Bool
	readyOnce sync.Once
	ready     chan struct{}
	mu        sync.Mutex
	server    *methods.InitializeResult
	failure   error

	inbox   *mailbox
	subsMu  sync.Mutex
	subs    map[uint64]*mailbox
	nextSub uint64
	seq     atomic.Uint64

	sent     atomic.Uint64
	received atomic.Uint64
	failures atomic.Uint64

	stderr *tail

	exited     chan struct{}
	exitErr    error
	outputDone chan struct{}
	closeOnce  sync.Once
	closeErr   error
}

func newHandle(id ID, spec Spec, proc Process, cfg Config) *Handle {
	return &Handle{
		id:         id,
		spec:       spec,
		proc:       proc,
		guard:      NewGuard(proc.Stdin(), proc.Stdout(), cfg.Limits),
		started:    time.Now(),
		ready:      make(chan struct{}),
		inbox:      newMailbox("inbox", cfg.InboxSize),
		subs:       make(map[uint64]*mailbox),
		stderr:     newTail(cfg.StderrTailLines),
		exited:     make(chan struct{}),
		outputDone: make(chan struct{}),
	}
}

func (h *Handle) ID() ID {
	return h.id
}

func (h *Handle) State() State {
	return State(h.state.Load())
}

func (h *Handle) setState(s State) {
	h.state.Store(uint32(s))
}

func (h *Handle) Info() Info {
	_, dropped := h.inbox.stats()
	h.mu.Lock()
	server := h.server
	failure := h.failure
	h.mu.Unlock()
	info := Info{
		ID:             h.id,
		Pid:            h.proc.Pid(),
		Path:           h.spec.Path,
		Args:           append([]string(nil), h.spec.Args...),
		State:          h.State(),
		Started:        h.started,
		Sent:           h.sent.Load(),
		Received:       h.received.Load(),
		DecodeFailures: h.failures.Load(),
		Dropped:        dropped,
		Server:         server,
		StderrTail:     h.stderr.lines(),
	}
	if failure != nil {
		info.Failure = failure.Error()
	}
	if exited, status := h.exitStatus(); exited && status != nil {
		info.ExitStatus = status.Error()
	}
	return info
}

// exitStatus reports the process wait result once the process has exited.
func (h *Handle) exitStatus() (bool, error) {
	select {
	case <-h.exited:
		return true, h.exitErr
	default:
		return false, nil
	}
}

func (h *Handle) subscribe(size int) *Subscription {
	box := newMailbox("subscription", size)
	h.subsMu.Lock()
	h.nextSub++
	key := h.nextSub
	if h.State() == StateExited {
		box.close()
	} else {
		h.subs[key] = box
	}
	h.subsMu.Unlock()

	return &Subscription{
		peer: h.id,
		box:  box,
		cancel: func() {
			h.subsMu.Lock()
			delete(h.subs, key)
			h.subsMu.Unlock()
			box.close()
		},
	}
}

// publish hands one line to the inbox and every subscription.
func (h *Handle) publish(in Inbound) {
	in.Peer = h.id
	in.Seq = h.seq.Add(1)
	if in.Received.IsZero() {
		in.Received = time.Now()
	}
	h.inbox.push(in)

	h.subsMu.Lock()
	defer h.subsMu.Unlock()
	for _, box := range h.subs {
		box.push(in)
	}
}

func (h *Handle) closeSubscribers() {
	h.inbox.close()
	h.subsMu.Lock()
	defer h.subsMu.Unlock()
	for key, box := range h.subs {
		box.close()
		delete(h.subs, key)
	}
}

func (h *Handle) waitProcess() {
	err := h.proc.Wait()
	h.exitErr = err
	close(h.exited)
	logs.Debugf("peer.Handle.waitProcess exited peer_id=%d err=%v", h.id, err)
}

// release closes the process streams once; blocked readers then return.
func (h *Handle) release() error {
	h.closeOnce.Do(func() {
		h.closeErr = h.proc.Close()
	})
	return h.closeErr
}

func (h *Handle) drainStderr(maxLine int) {
	sc := bufio.NewScanner(h.proc.Stderr())
	sc.Buffer(make([]byte, 0, 4096), max(maxLine, 4096))
	for sc.Scan() {
		line := sc.Text()
		h.stderr.add(line)
		logs.Debugf("peer.Handle.stderr peer_id=%d line=%q", h.id, line)
	}
	if err := sc.Err(); err != nil && !errors.Is(err, os.ErrClosed) {
		logs.Warnf("peer.Handle.stderr peer_id=%d err=%v", h.id, err)
		_, _ = io.Copy(io.Discard, h.proc.Stderr())
	}
}

// tail keeps the last n stderr lines.
type tail struct {
	mu   sync.Mutex
	max  int
	buf  []string
	next int
	full bool
}

func newTail(n int) *tail {
	if n <= 0 {
		n = 1
	}
	return &tail{max: n, buf: make([]string, n)}
}

func (t *tail) add(line string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf[t.next] = line
	t.next = (t.next + 1) % t.max
	if t.next == 0 {
		t.full = true
	}
}

func (t *tail) lines() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.full {
		return append([]string(nil), t.buf[:t.next]...)
	}
	out := make([]string, 0, t.max)
	out = append(out, t.buf[t.next:]...)
	return append(out, t.buf[:t.next]...)
}
