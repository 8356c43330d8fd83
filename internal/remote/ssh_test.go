package remote

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/shsh-operator/internal/config"
	"github.com/ashureev/shsh-operator/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
)

type execHandler func(command string, stdin io.Reader, stdout, stderr io.Writer, killed <-chan struct{}) int

// startSSHServer runs an in-process SSH server accepting root/secret.
func startSSHServer(t *testing.T, handle execHandler) (string, ssh.PublicKey) {
	t.Helper()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	signer, err := ssh.NewSignerFromKey(priv)
	require.NoError(t, err)

	cfg := &ssh.ServerConfig{
		PasswordCallback: func(c ssh.ConnMetadata, pass []byte) (*ssh.Permissions, error) {
			if c.User() == "root" && string(pass) == "secret" {
				return nil, nil
			}
			return nil, errors.New("access denied")
		},
	}
	cfg.AddHostKey(signer)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go serveSSHConn(conn, cfg, handle)
		}
	}()

	return ln.Addr().String(), signer.PublicKey()
}

func serveSSHConn(conn net.Conn, cfg *ssh.ServerConfig, handle execHandler) {
	_, chans, reqs, err := ssh.NewServerConn(conn, cfg)
	if err != nil {
		_ = conn.Close()
		return
	}
	go ssh.DiscardRequests(reqs)

	for newCh := range chans {
		if newCh.ChannelType() != "session" {
			_ = newCh.Reject(ssh.UnknownChannelType, "unsupported")
			continue
		}
		ch, requests, err := newCh.Accept()
		if err != nil {
			continue
		}
		go serveSSHSession(ch, requests, handle)
	}
}

func serveSSHSession(ch ssh.Channel, requests <-chan *ssh.Request, handle execHandler) {
	killed := make(chan struct{})
	var once sync.Once
	kill := func() { once.Do(func() { close(killed) }) }
	defer kill()

	for req := range requests {
		switch req.Type {
		case "exec":
			var payload struct{ Command string }
			if err := ssh.Unmarshal(req.Payload, &payload); err != nil {
				_ = req.Reply(false, nil)
				continue
			}
			_ = req.Reply(true, nil)
			go func() {
				code := handle(payload.Command, ch, ch, ch.Stderr(), killed)
				_, _ = ch.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{uint32(code)}))
				_ = ch.Close()
			}()
		case "signal":
			kill()
			if req.WantReply {
				_ = req.Reply(true, nil)
			}
		default:
			if req.WantReply {
				_ = req.Reply(false, nil)
			}
		}
	}
}

func testHandler(command string, stdin io.Reader, stdout, stderr io.Writer, killed <-chan struct{}) int {
	switch {
	case strings.HasPrefix(command, "echo "):
		_, _ = io.WriteString(stdout, strings.TrimPrefix(command, "echo ")+"\n")
		return 0
	case command == "cat":
		data, _ := io.ReadAll(stdin)
		_, _ = stdout.Write(data)
		return 0
	case command == "fail":
		_, _ = io.WriteString(stderr, "bad things\n")
		return 3
	case command == "sleep":
		<-killed
		return 137
	default:
		_, _ = io.WriteString(stderr, "command not found\n")
		return 127
	}
}

func sshSettings(t *testing.T, addr string) config.SSHConfig {
	t.Helper()
	host, portStr, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return config.SSHConfig{
		Host:          host,
		Port:          port,
		Username:      "root",
		Password:      "secret",
		HostKeyPolicy: config.HostKeyInsecure,
		DialTimeout:   2 * time.Second,
	}
}

func newSSHSession(t *testing.T, settings config.SSHConfig, timeout time.Duration) *Session {
	t.Helper()
	dial, err := NewSSHDialer(settings)
	require.NoError(t, err)
	s := NewSession(dial(), nil, Options{Timeout: timeout})
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSSHTransportRunsCommands(t *testing.T) {
	t.Parallel()

	addr, _ := startSSHServer(t, testHandler)
	s := newSSHSession(t, sshSettings(t, addr), 5*time.Second)
	ctx := context.Background()
	require.NoError(t, s.Open(ctx))

	assert.Equal(t, domain.CommandOutcome{ExitCode: 0, Stdout: "hello"}, s.Run(ctx, "echo hello", ""))
	assert.Equal(t, domain.CommandOutcome{ExitCode: 0, Stdout: "piped"}, s.Run(ctx, "cat", "piped"))
	assert.Equal(t, domain.CommandOutcome{ExitCode: 3, Stderr: "bad things"}, s.Run(ctx, "fail", ""))
}

func TestSSHTransportTimeoutKillsCommand(t *testing.T) {
	t.Parallel()

	addr, _ := startSSHServer(t, testHandler)
	s := newSSHSession(t, sshSettings(t, addr), 200*time.Millisecond)

	start := time.Now()
	out := s.Run(context.Background(), "sleep", "")

	assert.Equal(t, domain.TimeoutOutcome(), out)
	assert.Less(t, time.Since(start), 5*time.Second)

	// The connection stays usable after a timed-out command.
	assert.Equal(t, "after", s.Run(context.Background(), "echo after", "").Stdout)
}

func TestSSHTransportRejectsBadPassword(t *testing.T) {
	t.Parallel()

	addr, _ := startSSHServer(t, testHandler)
	settings := sshSettings(t, addr)
	settings.Password = "wrong"
	s := newSSHSession(t, settings, time.Second)

	err := s.Open(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConnection))
}

func TestSSHTransportFingerprintPolicy(t *testing.T) {
	t.Parallel()

	addr, hostKey := startSSHServer(t, testHandler)

	pinned := sshSettings(t, addr)
	pinned.HostKeyPolicy = config.HostKeyFingerprint
	pinned.Fingerprint = ssh.FingerprintSHA256(hostKey)
	require.NoError(t, newSSHSession(t, pinned, time.Second).Open(context.Background()))

	wrong := sshSettings(t, addr)
	wrong.HostKeyPolicy = config.HostKeyFingerprint
	wrong.Fingerprint = "SHA256:AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"
	err := newSSHSession(t, wrong, time.Second).Open(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "host key mismatch")
}

func TestClientConfigRequiresAuth(t *testing.T) {
	t.Parallel()

	_, err := ClientConfig(config.SSHConfig{Username: "root", HostKeyPolicy: config.HostKeyInsecure})
	require.Error(t, err)

	_, err = ClientConfig(config.SSHConfig{Username: "root", Password: "p", HostKeyPolicy: config.HostKeyKnownHosts, KnownHosts: "/nonexistent/known_hosts"})
	require.Error(t, err)
}

func TestSSHTransportExecBeforeConnect(t *testing.T) {
	t.Parallel()

	tr := NewSSHTransport("127.0.0.1:1", &ssh.ClientConfig{}, time.Second)
	_, err := tr.Exec(context.Background(), "true", nil, io.Discard, io.Discard)
	require.Error(t, err)
	require.NoError(t, tr.Close())
}
