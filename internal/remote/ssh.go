package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/ashureev/shsh-operator/internal/config"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// killGrace is how long Exec waits for the remote side to acknowledge a kill.
const killGrace = 2 * time.Second

// SSHTransport runs each command in its own channel over one SSH connection.
type SSHTransport struct {
	addr        string
	cfg         *ssh.ClientConfig
	dialTimeout time.Duration

	mu     sync.Mutex
	client *ssh.Client
}

// NewSSHDialer validates SSH settings once and returns a Dialer producing a
// new transport per run.
func NewSSHDialer(c config.SSHConfig) (Dialer, error) {
	clientCfg, err := ClientConfig(c)
	if err != nil {
		return nil, err
	}
	return func() Transport {
		return NewSSHTransport(c.Addr(), clientCfg, c.DialTimeout)
	}, nil
}

// NewSSHTransport creates an unconnected transport.
func NewSSHTransport(addr string, cfg *ssh.ClientConfig, dialTimeout time.Duration) *SSHTransport {
	if dialTimeout <= 0 {
		dialTimeout = 10 * time.Second
	}
	return &SSHTransport{addr: addr, cfg: cfg, dialTimeout: dialTimeout}
}

// ClientConfig builds authentication and host key verification from settings.
func ClientConfig(c config.SSHConfig) (*ssh.ClientConfig, error) {
	var auth []ssh.AuthMethod
	if c.KeyPath != "" {
		pem, err := os.ReadFile(c.KeyPath)
		if err != nil {
			return nil, fmt.Errorf("read ssh key: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(pem)
		if err != nil {
			return nil, fmt.Errorf("parse ssh key: %w", err)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}
	if c.Password != "" {
		password := c.Password
		auth = append(auth,
			ssh.Password(password),
			ssh.KeyboardInteractive(func(_, _ string, questions []string, _ []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = password
				}
				return answers, nil
			}),
		)
	}
	if len(auth) == 0 {
		return nil, errors.New("no ssh authentication method configured")
	}

	hostKey, err := hostKeyCallback(c)
	if err != nil {
		return nil, err
	}

	return &ssh.ClientConfig{
		User:            c.Username,
		Auth:            auth,
		HostKeyCallback: hostKey,
		Timeout:         c.DialTimeout,
	}, nil
}

func hostKeyCallback(c config.SSHConfig) (ssh.HostKeyCallback, error) {
	switch c.HostKeyPolicy {
	case config.HostKeyKnownHosts:
		cb, err := knownhosts.New(c.KnownHosts)
		if err != nil {
			return nil, fmt.Errorf("load known_hosts: %w", err)
		}
		return cb, nil
	case config.HostKeyFingerprint:
		want := c.Fingerprint
		return func(hostname string, _ net.Addr, key ssh.PublicKey) error {
			if got := ssh.FingerprintSHA256(key); got != want {
				return fmt.Errorf("host key mismatch for %s: got %s", hostname, got)
			}
			return nil
		}, nil
	case config.HostKeyInsecure, "":
		slog.Warn("SSH host key verification disabled", "host", c.Host)
		return ssh.InsecureIgnoreHostKey(), nil //nolint:gosec // Explicit opt-in via SSH_HOST_KEY_POLICY.
	default:
		return nil, fmt.Errorf("unknown host key policy %q", c.HostKeyPolicy)
	}
}

// Connect dials and performs the SSH handshake.
func (t *SSHTransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.client != nil {
		return nil
	}

	dialer := net.Dialer{Timeout: t.dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", t.addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", t.addr, err)
	}

	deadline := time.Now().Add(t.dialTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetDeadline(deadline)

	c, chans, reqs, err := ssh.NewClientConn(conn, t.addr, t.cfg)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("ssh handshake with %s: %w", t.addr, err)
	}
	_ = conn.SetDeadline(time.Time{})

	t.client = ssh.NewClient(c, chans, reqs)
	return nil
}

// Exec runs command in a new SSH session. On ctx expiry the remote process is
// sent SIGKILL and the channel is closed.
func (t *SSHTransport) Exec(ctx context.Context, command string, stdin io.Reader, stdout, stderr io.Writer) (int, error) {
	t.mu.Lock()
	client := t.client
	t.mu.Unlock()
	if client == nil {
		return 0, errors.New("ssh transport not connected")
	}

	sess, err := client.NewSession()
	if err != nil {
		return 0, fmt.Errorf("open ssh session: %w", err)
	}
	defer sess.Close()

	if stdin != nil {
		sess.Stdin = stdin
	}
	sess.Stdout = stdout
	sess.Stderr = stderr

	done := make(chan error, 1)
	go func() {
		done <- sess.Run(command)
	}()

	select {
	case err := <-done:
		return exitStatus(err)
	case <-ctx.Done():
		_ = sess.Signal(ssh.SIGKILL)
		_ = sess.Close()
		select {
		case <-done:
		case <-time.After(killGrace):
		}
		return 0, ctx.Err()
	}
}

func exitStatus(err error) (int, error) {
	if err == nil {
		return 0, nil
	}
	var exitErr *ssh.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitStatus(), nil
	}
	var missing *ssh.ExitMissingError
	if errors.As(err, &missing) {
		return 0, errors.New("remote command exited without status")
	}
	return 0, fmt.Errorf("run remote command: %w", err)
}

// Close closes the SSH connection.
func (t *SSHTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.client == nil {
		return nil
	}
	err := t.client.Close()
	t.client = nil
	if err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}
