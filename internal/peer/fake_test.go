package peer

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type launcherFunc func(ctx context.Context, spec Spec) (Process, error)

func (f launcherFunc) Launch(ctx context.Context, spec Spec) (Process, error) {
	return f(ctx, spec)
}

// recordingLauncher hands out one in-memory process whose stdin is captured.
// failAfter > 0 lets that many writes through before stdin breaks.
type recordingLauncher struct {
	failWrites bool
	failAfter  int
	waitErr    error
	proc       *fakeProcess
}

func (l *recordingLauncher) Launch(context.Context, Spec) (Process, error) {
	l.proc = newFakeProcess(l.failWrites)
	l.proc.stdin.failAfter = l.failAfter
	l.proc.waitErr = l.waitErr
	return l.proc, nil
}

// reply writes one line to the fake process's stdout.
func (l *recordingLauncher) reply(t *testing.T, line string) {
	t.Helper()
	_, err := l.proc.outW.Write([]byte(line + "\n"))
	require.NoError(t, err)
}

func (l *recordingLauncher) firstLine(t *testing.T) []byte {
	t.Helper()
	var line []byte
	require.Eventually(t, func() bool {
		data := l.proc.stdin.bytes()
		i := bytes.IndexByte(data, '\n')
		if i < 0 {
			return false
		}
		line = data[:i]
		return true
	}, 2*time.Second, 10*time.Millisecond)
	return line
}

type recordingWriter struct {
	mu        sync.Mutex
	buf       bytes.Buffer
	fail      bool
	failAfter int
	writes    int
}

func (w *recordingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fail || (w.failAfter > 0 && w.writes >= w.failAfter) {
		return 0, errors.New("broken pipe")
	}
	w.writes++
	return w.buf.Write(p)
}

func (w *recordingWriter) Close() error { return nil }

func (w *recordingWriter) bytes() []byte {
	w.mu.Lock()
	defer w.mu.Unlock()
	return bytes.Clone(w.buf.Bytes())
}

type fakeProcess struct {
	stdin      *recordingWriter
	outR, errR *io.PipeReader
	outW, errW *io.PipeWriter

	once     sync.Once
	exited   chan struct{}
	waitErr  error
	mu       sync.Mutex
	signaled bool
}

func newFakeProcess(failWrites bool) *fakeProcess {
	outR, outW := io.Pipe()
	errR, errW := io.Pipe()
	return &fakeProcess{
		stdin:  &recordingWriter{fail: failWrites},
		outR:   outR,
		outW:   outW,
		errR:   errR,
		errW:   errW,
		exited: make(chan struct{}),
	}
}

func (p *fakeProcess) Stdin() io.WriteCloser { return p.stdin }
func (p *fakeProcess) Stdout() io.Reader     { return p.outR }
func (p *fakeProcess) Stderr() io.Reader     { return p.errR }
func (p *fakeProcess) Pid() int              { return 0 }

func (p *fakeProcess) exit() {
	p.mu.Lock()
	p.signaled = true
	p.mu.Unlock()
	p.once.Do(func() {
		p.outW.Close()
		p.errW.Close()
		close(p.exited)
	})
}

func (p *fakeProcess) Interrupt() error { p.exit(); return nil }
func (p *fakeProcess) Kill() error      { p.exit(); return nil }

func (p *fakeProcess) Wait() error {
	<-p.exited
	return p.waitErr
}

func (p *fakeProcess) Close() error {
	return errors.Join(p.outR.Close(), p.errR.Close())
}

func (p *fakeProcess) killedOrInterrupted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.signaled
}
