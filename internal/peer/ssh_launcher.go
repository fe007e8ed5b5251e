package peer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// SSHLauncher runs peers on a remote host over an SSH session. The session's
// stdin/stdout/stderr carry the peer's streams.
type SSHLauncher struct {
	Host                        string
	Port                        string
	User                        string
	KeyPath                     string
	Passphrase                  []byte
	KnownHostsPath              string
	InsecureSkipHostKeyChecking bool
	Timeout                     time.Duration
}

func (l SSHLauncher) Launch(ctx context.Context, spec Spec) (Process, error) {
	if strings.TrimSpace(spec.Path) == "" {
		return nil, fmt.Errorf("peer path is required")
	}
	client, err := l.dial(ctx)
	if err != nil {
		return nil, err
	}

	session, err := client.NewSession()
	if err != nil {
		client.Close()
		return nil, err
	}

	fail := func(err error) (Process, error) {
		session.Close()
		client.Close()
		return nil, err
	}

	stdin, err := session.StdinPipe()
	if err != nil {
		return fail(err)
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		return fail(err)
	}
	stderr, err := session.StderrPipe()
	if err != nil {
		return fail(err)
	}
	if err := session.Start(remoteCommand(spec)); err != nil {
		return fail(err)
	}

	return &sshProcess{client: client, session: session, stdin: stdin, stdout: stdout, stderr: stderr}, nil
}

// remoteCommand renders spec as one shell command line. Env goes through
// env(1) because most servers refuse session Setenv requests.
func remoteCommand(spec Spec) string {
	var b strings.Builder
	if spec.Dir != "" {
		b.WriteString("cd ")
		b.WriteString(shellEscape(spec.Dir))
		b.WriteString(" && ")
	}
	b.WriteString("exec ")
	if len(spec.Env) > 0 {
		b.WriteString("env")
		for _, kv := range spec.Env {
			b.WriteByte(' ')
			b.WriteString(shellEscape(kv))
		}
		b.WriteByte(' ')
	}
	b.WriteString(joinCommand(spec.Path, spec.Args))
	return b.String()
}

func joinCommand(cmd string, args []string) string {
	if len(args) == 0 {
		return shellEscape(cmd)
	}

	var builder strings.Builder
	builder.WriteString(shellEscape(cmd))
	for _, arg := range args {
		builder.WriteByte(' ')
		builder.WriteString(shellEscape(arg))
	}

	return builder.String()
}

func shellEscape(value string) string {
	if value == "" {
		return "''"
	}

	return "'" + strings.ReplaceAll(value, "'", `'"'"'`) + "'"
}

type sshProcess struct {
	client  *ssh.Client
	session *ssh.Session
	stdin   io.WriteCloser
	stdout  io.Reader
	stderr  io.Reader
}

func (p *sshProcess) Stdin() io.WriteCloser { return p.stdin }
func (p *sshProcess) Stdout() io.Reader     { return p.stdout }
func (p *sshProcess) Stderr() io.Reader     { return p.stderr }
func (p *sshProcess) Pid() int              { return 0 }

func (p *sshProcess) Interrupt() error {
	return ignoreEOF(p.session.Signal(ssh.SIGTERM))
}

// Kill signals the remote process and tears the session down; servers that
// ignore signal requests still end the command when its channel closes.
func (p *sshProcess) Kill() error {
	_ = p.session.Signal(ssh.SIGKILL)
	return ignoreEOF(p.session.Close())
}

func (p *sshProcess) Wait() error {
	err := p.session.Wait()
	var missing *ssh.ExitMissingError
	if errors.As(err, &missing) {
		return nil
	}
	return err
}

func (p *sshProcess) Close() error {
	_ = p.session.Close()
	return p.client.Close()
}

func ignoreEOF(err error) error {
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func (l SSHLauncher) dial(ctx context.Context) (*ssh.Client, error) {
	address, err := l.address()
	if err != nil {
		return nil, err
	}

	config, err := l.clientConfig()
	if err != nil {
		return nil, err
	}

	dialer := net.Dialer{Timeout: l.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, err
	}

	clientConn, chans, reqs, err := ssh.NewClientConn(conn, address, config)
	if err != nil {
		conn.Close()
		return nil, err
	}

	return ssh.NewClient(clientConn, chans, reqs), nil
}

func (l SSHLauncher) address() (string, error) {
	host := strings.TrimSpace(l.Host)
	if host == "" {
		return "", fmt.Errorf("ssh host is required")
	}

	if l.Port != "" {
		return net.JoinHostPort(host, l.Port), nil
	}

	if _, _, err := net.SplitHostPort(host); err == nil {
		return host, nil
	}

	return net.JoinHostPort(host, "22"), nil
}

func (l SSHLauncher) clientConfig() (*ssh.ClientConfig, error) {
	if l.User == "" {
		return nil, fmt.Errorf("ssh user is required")
	}

	signer, err := l.signer()
	if err != nil {
		return nil, err
	}

	var hostKeyCallback ssh.HostKeyCallback
	if l.InsecureSkipHostKeyChecking {
		hostKeyCallback = ssh.InsecureIgnoreHostKey()
	} else {
		callback, err := l.knownHostsCallback()
		if err != nil {
			return nil, err
		}
		hostKeyCallback = callback
	}

	return &ssh.ClientConfig{
		User:            l.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: hostKeyCallback,
		Timeout:         l.Timeout,
	}, nil
}

func (l SSHLauncher) signer() (ssh.Signer, error) {
	if l.KeyPath == "" {
		return nil, fmt.Errorf("ssh key path is required")
	}

	privateKey, err := os.ReadFile(l.KeyPath)
	if err != nil {
		return nil, err
	}

	if len(l.Passphrase) > 0 {
		return ssh.ParsePrivateKeyWithPassphrase(privateKey, l.Passphrase)
	}

	return ssh.ParsePrivateKey(privateKey)
}

func (l SSHLauncher) knownHostsCallback() (ssh.HostKeyCallback, error) {
	path := strings.TrimSpace(l.KnownHostsPath)
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("known hosts path not set and home dir unavailable")
		}
		path = filepath.Join(home, ".ssh", "known_hosts")
	}

	return knownhosts.New(path)
}
