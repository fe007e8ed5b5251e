package peer

import (
	"context"
	"errors"
	"fmt"
	"time"

	logs "github.com/danmuck/peerctl/internal/logging"
	"github.com/danmuck/peerctl/internal/observability"
	"github.com/danmuck/peerctl/internal/protocol/jsonrpc"
	"github.com/danmuck/peerctl/internal/protocol/methods"
)

var initializeID = jsonrpc.NumberID(methods.InitializeRequestID)

const initializedWriteTimeout = 5 * time.Second

// observeHandshake resolves the initialize exchange from the first response or
// error that carries the initialize id. Later lines with that id are ordinary traffic.
func (h *Handle) observeHandshake(msg jsonrpc.Message, sendInitialized bool) {
	if h.handshake.Load() {
		return
	}
	switch m := msg.(type) {
	case *jsonrpc.Response:
		if m.ID != initializeID || !h.handshake.CompareAndSwap(false, true) {
			return
		}
		result, err := methods.ParseInitializeResult(m)
		if err != nil {
			logs.Warnf("peer.Handle.handshake result_unparsed peer_id=%d err=%v", h.id, err)
		}
		if err == nil {
			h.mu.Lock()
			h.server = &result
			h.mu.Unlock()
		}
		observability.RecordHandshake(time.Since(h.started))

		if !sendInitialized {
			h.markReady()
			return
		}
		// Written off the monitor goroutine so output keeps draining.
		go h.sendInitialized()

	case *jsonrpc.ErrorMessage:
		if m.ID != initializeID || !h.handshake.CompareAndSwap(false, true) {
			return
		}
		h.markHandshakeFailed(fmt.Errorf("%w: peer %d: %s", ErrHandshakeFailed, h.id, m.Error.Error()))
	}
}

// sendInitialized completes the handshake. A peer whose input cannot take the
// notification is failed and killed, so its Exit reaches the supervisor with
// the failure attached.
func (h *Handle) sendInitialized() {
	ctx, cancel := context.WithTimeout(context.Background(), initializedWriteTimeout)
	defer cancel()
	if err := h.guard.WriteMessage(ctx, methods.NewInitializedNotification()); err != nil {
		h.markHandshakeFailed(fmt.Errorf("%w: peer %d: %s: %v", ErrHandshakeFailed, h.id, methods.Initialized, err))
		if killErr := h.proc.Kill(); killErr != nil {
			logs.Warnf("peer.Handle.handshake kill_failed peer_id=%d err=%v", h.id, killErr)
		}
		return
	}
	h.sent.Add(1)
	observability.RecordFrame("out", jsonrpc.KindNotification.String())
	h.markReady()
}

// checkReservedID refuses a request that reuses the initialize id while the
// handshake is unresolved; its reply would be taken as the initialize result.
func (h *Handle) checkReservedID(id *jsonrpc.ID) error {
	if id == nil || *id != initializeID || h.handshake.Load() {
		return nil
	}
	return fmt.Errorf("%w: peer %d: id %s", ErrReservedID, h.id, initializeID)
}

func (h *Handle) markReady() {
	if h.state.CompareAndSwap(uint32(StatePending), uint32(StateReady)) {
		logs.Infof("peer.Handle.handshake ready peer_id=%d", h.id)
	}
	h.readyOnce.Do(func() { close(h.ready) })
}

func (h *Handle) markHandshakeFailed(err error) {
	h.mu.Lock()
	h.failure = err
	h.mu.Unlock()
	if h.state.CompareAndSwap(uint32(StatePending), uint32(StateHandshakeFailed)) {
		logs.Warnf("peer.Handle.handshake failed peer_id=%d err=%v", h.id, err)
	}
	h.readyOnce.Do(func() { close(h.ready) })
}

func (h *Handle) markExited() {
	h.mu.Lock()
	if h.State() == StatePending && h.failure == nil {
		h.failure = fmt.Errorf("%w: peer %d exited before handshake", ErrPeerIO, h.id)
	}
	h.mu.Unlock()
	h.setState(StateExited)
	h.readyOnce.Do(func() { close(h.ready) })
}

func (h *Handle) failureErr() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.failure
}

// usable reports why the peer cannot take more input, if anything.
func (h *Handle) usable() error {
	switch h.State() {
	case StateHandshakeFailed:
		return h.failureErr()
	case StateExited:
		if err := h.failureErr(); errors.Is(err, ErrHandshakeFailed) {
			return err
		}
		return fmt.Errorf("%w: peer %d exited", ErrPeerIO, h.id)
	}
	return nil
}

func (h *Handle) awaitReady(ctx context.Context) error {
	select {
	case <-h.ready:
	case <-ctx.Done():
		return ctx.Err()
	}
	if h.State() == StateReady {
		return nil
	}
	if err := h.failureErr(); err != nil {
		return err
	}
	return fmt.Errorf("%w: peer %d exited", ErrPeerIO, h.id)
}
