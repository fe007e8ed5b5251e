package peer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/danmuck/peerctl/internal/protocol/frame"
	"github.com/danmuck/peerctl/internal/protocol/jsonrpc"
)

// Guard serializes access to one peer's streams. The input side is held for
// one complete frame write plus flush; the output side for one line read.
// The two sides lock independently so a blocked read never stalls a send.
type Guard struct {
	in  chan struct{}
	w   *frame.Writer
	wc  io.Closer
	rmu sync.Mutex
	r   *frame.Reader
}

func NewGuard(stdin io.WriteCloser, stdout io.Reader, limits frame.Limits) *Guard {
	return &Guard{
		in: make(chan struct{}, 1),
		w:  frame.NewWriter(stdin),
		wc: stdin,
		r:  frame.NewReader(stdout, limits),
	}
}

func (g *Guard) lockInput(ctx context.Context) error {
	select {
	case g.in <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *Guard) unlockInput() {
	<-g.in
}

// WriteLine writes raw as one frame. Caller errors (an embedded newline or an
// empty payload) are returned as-is; stream failures wrap ErrPeerIO.
func (g *Guard) WriteLine(ctx context.Context, raw []byte) error {
	if err := g.lockInput(ctx); err != nil {
		return err
	}
	defer g.unlockInput()
	return wrapWrite(g.w.WriteLine(raw))
}

func (g *Guard) WriteMessage(ctx context.Context, msg jsonrpc.Message) error {
	line, err := jsonrpc.Encode(msg)
	if err != nil {
		return err
	}
	return g.WriteLine(ctx, line)
}

// ReadLine returns the next non-empty output line.
func (g *Guard) ReadLine() ([]byte, error) {
	g.rmu.Lock()
	defer g.rmu.Unlock()
	return g.r.ReadLine()
}

// CloseInput closes the peer's stdin once any in-flight frame is written.
func (g *Guard) CloseInput(ctx context.Context) error {
	if err := g.lockInput(ctx); err != nil {
		return err
	}
	defer g.unlockInput()
	return g.wc.Close()
}

func wrapWrite(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, frame.ErrEmbeddedNewline) || errors.Is(err, frame.ErrEmptyFrame) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrPeerIO, err)
}
