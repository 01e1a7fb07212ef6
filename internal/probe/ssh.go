package probe

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
)

// DefaultTimeout bounds the TCP dial and the SSH handshake.
const DefaultTimeout = 5 * time.Second

// ErrAuthRejected means the host answered but refused every credential offered.
var ErrAuthRejected = errors.New("ssh authentication rejected")

// SSHTarget is the address part of a remote repository location.
type SSHTarget struct {
	User string
	Host string
	Port string
}

// Addr returns host:port.
func (t SSHTarget) Addr() string {
	return net.JoinHostPort(t.Host, t.Port)
}

// ParseSSHTarget extracts user, host and port from ssh://user@host:port/path
// or scp-style user@host:path locations.
func ParseSSHTarget(location string) (SSHTarget, bool) {
	if rest, ok := strings.CutPrefix(location, "ssh://"); ok {
		hostPart, _, _ := strings.Cut(rest, "/")
		target := SSHTarget{Port: "22"}
		if at := strings.LastIndex(hostPart, "@"); at >= 0 {
			target.User = hostPart[:at]
			hostPart = hostPart[at+1:]
		}
		if host, port, err := net.SplitHostPort(hostPart); err == nil {
			target.Host, target.Port = host, port
		} else {
			target.Host = hostPart
		}
		if target.Host == "" {
			return SSHTarget{}, false
		}
		return target, true
	}

	if strings.Contains(location, "@") && strings.Contains(location, ":") {
		user, afterAt, _ := strings.Cut(location, "@")
		host, _, _ := strings.Cut(afterAt, ":")
		if host == "" {
			return SSHTarget{}, false
		}
		return SSHTarget{User: user, Host: host, Port: "22"}, true
	}

	return SSHTarget{}, false
}

// ExtractSSHHost returns only the host of a remote location.
func ExtractSSHHost(location string) (string, bool) {
	t, ok := ParseSSHTarget(location)
	if !ok {
		return "", false
	}
	return t.Host, true
}

// RemoteProber checks whether a remote host accepts our credentials.
type RemoteProber interface {
	Probe(ctx context.Context, target SSHTarget) error
}

// SSHProber performs a real handshake using the running ssh-agent and any
// unencrypted default identity files. It never prompts and never checks host
// keys.
type SSHProber struct {
	Timeout     time.Duration
	AgentSocket string
	KeyFiles    []string
	DefaultUser string
}

// NewSSHProber configures a prober from the environment.
func NewSSHProber() *SSHProber {
	p := &SSHProber{
		Timeout:     DefaultTimeout,
		AgentSocket: os.Getenv("SSH_AUTH_SOCK"),
		DefaultUser: os.Getenv("USER"),
	}
	if home, err := os.UserHomeDir(); err == nil {
		for _, name := range []string{"id_ed25519", "id_ecdsa", "id_rsa"} {
			p.KeyFiles = append(p.KeyFiles, filepath.Join(home, ".ssh", name))
		}
	}
	return p
}

// Probe dials target and completes an SSH handshake. It returns nil on
// success, an error wrapping ErrAuthRejected when authentication fails, and
// any other error when the host cannot be reached.
func (p *SSHProber) Probe(ctx context.Context, target SSHTarget) error {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	user := target.User
	if user == "" {
		user = p.DefaultUser
	}

	auth, closeAgent := p.authMethods()
	defer closeAgent()

	config := &ssh.ClientConfig{
		User:            user,
		Auth:            auth,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         timeout,
	}

	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", target.Addr())
	if err != nil {
		return fmt.Errorf("dial %s: %w", target.Addr(), err)
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(timeout))

	c, chans, reqs, err := ssh.NewClientConn(conn, target.Addr(), config)
	if err != nil {
		if strings.Contains(err.Error(), "unable to authenticate") {
			return fmt.Errorf("%w: %v", ErrAuthRejected, err)
		}
		return fmt.Errorf("ssh handshake with %s: %w", target.Addr(), err)
	}
	client := ssh.NewClient(c, chans, reqs)
	return client.Close()
}

func (p *SSHProber) authMethods() ([]ssh.AuthMethod, func()) {
	var signers []ssh.Signer
	closer := func() {}

	if p.AgentSocket != "" {
		if conn, err := net.Dial("unix", p.AgentSocket); err == nil {
			closer = func() { conn.Close() }
			if agentSigners, err := agent.NewClient(conn).Signers(); err == nil {
				signers = append(signers, agentSigners...)
			}
		}
	}

	for _, path := range p.KeyFiles {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		// Keys protected by a passphrase fail to parse and are skipped.
		if signer, err := ssh.ParsePrivateKey(data); err == nil {
			signers = append(signers, signer)
		}
	}

	if len(signers) == 0 {
		return nil, closer
	}
	return []ssh.AuthMethod{ssh.PublicKeys(signers...)}, closer
}
