package peer

import (
	"errors"
	"io"
	"os"
	"time"

	logs "github.com/danmuck/peerctl/internal/logging"
	"github.com/danmuck/peerctl/internal/observability"
	"github.com/danmuck/peerctl/internal/protocol/frame"
	"github.com/danmuck/peerctl/internal/protocol/jsonrpc"
)

// monitor is the single reader of the peer's output. Decode failures are
// published and skipped; closure of the stream ends the loop, publishes the
// Exit and closes every subscriber. Nothing here is reported to callers.
func (h *Handle) monitor(sendInitialized bool, exitWait time.Duration, exits chan<- Exit) {
	defer close(h.outputDone)
	logs.Debugf("peer.Handle.monitor start peer_id=%d", h.id)

	for {
		line, err := h.guard.ReadLine()
		if err != nil {
			if errors.Is(err, frame.ErrLineTooLong) {
				h.failures.Add(1)
				observability.RecordDecodeFailure()
				logs.Debugf("peer.Handle.monitor line_too_long peer_id=%d", h.id)
				h.publish(Inbound{Err: err})
				continue
			}
			h.finish(err, exitWait, exits)
			return
		}

		h.received.Add(1)
		msg, err := jsonrpc.Decode(line)
		if err != nil {
			h.failures.Add(1)
			observability.RecordDecodeFailure()
			logs.Debugf("peer.Handle.monitor decode_failure peer_id=%d err=%v", h.id, err)
			h.publish(Inbound{Line: line, Err: err})
			continue
		}

		observability.RecordFrame("in", msg.Kind().String())
		logs.Tracef("peer.Handle.monitor line peer_id=%d kind=%s", h.id, msg.Kind())
		h.observeHandshake(msg, sendInitialized)
		h.publish(Inbound{Line: line, Message: msg})
	}
}

// finish waits up to exitWait for the process so the Exit can carry its status.
func (h *Handle) finish(readErr error, exitWait time.Duration, exits chan<- Exit) {
	if errors.Is(readErr, io.EOF) || errors.Is(readErr, os.ErrClosed) {
		readErr = nil
	}
	final := h.State()
	if readErr == nil && final == StateHandshakeFailed {
		readErr = h.failureErr()
	}
	h.markExited()
	h.closeSubscribers()
	observability.RecordExit(final.String())

	wait := time.NewTimer(exitWait)
	defer wait.Stop()
	select {
	case <-h.exited:
	case <-wait.C:
		logs.Debugf("peer.Handle.monitor exit_status_pending peer_id=%d", h.id)
	}
	_, status := h.exitStatus()

	exit := Exit{Peer: h.id, Path: h.spec.Path, State: final, Err: readErr, Status: status}
	select {
	case exits <- exit:
	default:
		logs.Warnf("peer.Handle.monitor exit_dropped peer_id=%d", h.id)
	}
	logs.Infof("peer.Handle.monitor exited peer_id=%d state=%s err=%v status=%v", h.id, final, readErr, status)
}
