package peer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
)

// Spec describes one peer executable.
type Spec struct {
	Path string
	Args []string
	Env  []string
	Dir  string
}

func (s Spec) String() string {
	if len(s.Args) == 0 {
		return s.Path
	}
	return s.Path + " " + strings.Join(s.Args, " ")
}

// Process is a running peer with its three streams.
type Process interface {
	Stdin() io.WriteCloser
	Stdout() io.Reader
	Stderr() io.Reader
	// Pid is 0 when the process is not local.
	Pid() int
	// Interrupt asks the process to exit; Kill forces it.
	Interrupt() error
	Kill() error
	// Wait blocks until the process exits. It is called once.
	Wait() error
	// Close releases the stream handles so blocked readers return.
	Close() error
}

// Launcher starts peer processes.
type Launcher interface {
	Launch(ctx context.Context, spec Spec) (Process, error)
}

// LocalLauncher runs peers as child processes in their own process group.
type LocalLauncher struct{}

func (LocalLauncher) Launch(ctx context.Context, spec Spec) (Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(spec.Path) == "" {
		return nil, fmt.Errorf("peer path is required")
	}

	// The peer outlives ctx; it ends through Stop.
	cmd := exec.Command(spec.Path, spec.Args...)
	cmd.Dir = spec.Dir
	if len(spec.Env) > 0 {
		cmd.Env = append(os.Environ(), spec.Env...)
	}
	configureProcess(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	// os.Pipe instead of StdoutPipe: Wait must not close the read side while
	// the monitor still drains buffered output.
	outR, outW, err := os.Pipe()
	if err != nil {
		stdin.Close()
		return nil, err
	}
	errR, errW, err := os.Pipe()
	if err != nil {
		stdin.Close()
		outR.Close()
		outW.Close()
		return nil, err
	}
	cmd.Stdout = outW
	cmd.Stderr = errW

	if err := cmd.Start(); err != nil {
		stdin.Close()
		outR.Close()
		outW.Close()
		errR.Close()
		errW.Close()
		return nil, err
	}
	outW.Close()
	errW.Close()

	return &localProcess{cmd: cmd, stdin: stdin, stdout: outR, stderr: errR}, nil
}

type localProcess struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *os.File
	stderr *os.File
}

func (p *localProcess) Stdin() io.WriteCloser { return p.stdin }
func (p *localProcess) Stdout() io.Reader     { return p.stdout }
func (p *localProcess) Stderr() io.Reader     { return p.stderr }
func (p *localProcess) Pid() int              { return p.cmd.Process.Pid }

func (p *localProcess) Interrupt() error {
	return ignoreDone(interruptProcess(p.cmd.Process))
}

func (p *localProcess) Kill() error {
	return ignoreDone(killProcess(p.cmd.Process))
}

func (p *localProcess) Wait() error {
	return p.cmd.Wait()
}

func (p *localProcess) Close() error {
	_ = p.stdin.Close()
	return errors.Join(p.stdout.Close(), p.stderr.Close())
}

func ignoreDone(err error) error {
	if err == nil || errors.Is(err, os.ErrProcessDone) || isNoSuchProcess(err) {
		return nil
	}
	return err
}
