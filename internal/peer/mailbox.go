package peer

import (
	"context"
	"fmt"
	"sync"

	"github.com/danmuck/peerctl/internal/observability"
)

// mailbox is a bounded queue that drops its oldest entry when full, so a slow
// consumer never stalls the monitor.
type mailbox struct {
	name string
	size int

	mu      sync.Mutex
	items   []Inbound
	closed  bool
	dropped uint64

	notify chan struct{}
	done   chan struct{}
}

func newMailbox(name string, size int) *mailbox {
	if size <= 0 {
		size = 1
	}
	return &mailbox{
		name:   name,
		size:   size,
		items:  make([]Inbound, 0, min(size, 64)),
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

func (m *mailbox) push(in Inbound) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	if len(m.items) >= m.size {
		m.items[0] = Inbound{}
		m.items = m.items[1:]
		m.dropped++
		observability.RecordDrop(m.name)
	}
	m.items = append(m.items, in)
	m.mu.Unlock()
	m.signal()
}

func (m *mailbox) signal() {
	select {
	case m.notify <- struct{}{}:
	default:
	}
}

// next pops the oldest entry. After close the remaining entries are still
// delivered before ok is false.
func (m *mailbox) next(ctx context.Context) (Inbound, bool, error) {
	for {
		m.mu.Lock()
		if len(m.items) > 0 {
			in := m.items[0]
			m.items[0] = Inbound{}
			m.items = m.items[1:]
			more := len(m.items) > 0
			m.mu.Unlock()
			if more {
				m.signal()
			}
			return in, true, nil
		}
		closed := m.closed
		m.mu.Unlock()
		if closed {
			return Inbound{}, false, nil
		}

		select {
		case <-m.notify:
		case <-m.done:
		case <-ctx.Done():
			return Inbound{}, false, ctx.Err()
		}
	}
}

func (m *mailbox) close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	close(m.done)
}

func (m *mailbox) stats() (pending int, dropped uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items), m.dropped
}

// Subscription receives every line a peer's monitor decodes after the
// subscription was created.
type Subscription struct {
	peer   ID
	box    *mailbox
	cancel func()
}

// Next blocks for the next line. Once the peer's output has closed and the
// backlog is drained it returns ErrPeerIO.
func (s *Subscription) Next(ctx context.Context) (Inbound, error) {
	in, ok, err := s.box.next(ctx)
	if err != nil {
		return Inbound{}, err
	}
	if !ok {
		return Inbound{}, fmt.Errorf("%w: peer %d output closed", ErrPeerIO, s.peer)
	}
	return in, nil
}

// Dropped reports how many lines were discarded because the subscriber fell behind.
func (s *Subscription) Dropped() uint64 {
	_, dropped := s.box.stats()
	return dropped
}

func (s *Subscription) Close() {
	s.cancel()
}
