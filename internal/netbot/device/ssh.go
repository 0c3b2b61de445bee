package device

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// SSHConfig configures SSH sessions to routers (CLI on port 22, NETCONF on 830).
type SSHConfig struct {
	Credentials Credentials
	// KnownHostsFile enables host key verification. When empty host keys are
	// accepted blindly, which is the norm for lab routers.
	KnownHostsFile string
	Timeout        time.Duration
	// KeyExchanges and Ciphers override the library defaults for routers
	// that only speak older algorithms.
	KeyExchanges []string
	Ciphers      []string
}

// Conn is an SSH client whose underlying TCP connection is closed when the
// dialing context is done.
type Conn struct {
	*ssh.Client
	stop func() bool
}

// Close releases the client and the context watcher.
func (c *Conn) Close() error {
	c.stop()
	return c.Client.Close()
}

func (cfg SSHConfig) clientConfig() (*ssh.ClientConfig, error) {
	hostKeyCallback := ssh.InsecureIgnoreHostKey()
	if cfg.KnownHostsFile != "" {
		cb, err := knownhosts.New(cfg.KnownHostsFile)
		if err != nil {
			return nil, fmt.Errorf("load known hosts %s: %w", cfg.KnownHostsFile, err)
		}
		hostKeyCallback = cb
	}

	password := cfg.Credentials.Password
	cc := &ssh.ClientConfig{
		User: cfg.Credentials.Username,
		Auth: []ssh.AuthMethod{
			ssh.Password(password),
			ssh.KeyboardInteractive(func(_, _ string, questions []string, _ []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = password
				}
				return answers, nil
			}),
		},
		HostKeyCallback: hostKeyCallback,
		Timeout:         cfg.Timeout,
	}
	if len(cfg.KeyExchanges) > 0 {
		cc.KeyExchanges = cfg.KeyExchanges
	}
	if len(cfg.Ciphers) > 0 {
		cc.Ciphers = cfg.Ciphers
	}
	return cc, nil
}

// DialSSH opens an SSH connection to address:port. The connection honours
// ctx for both the handshake and the lifetime of the session.
func DialSSH(ctx context.Context, address string, port int, cfg SSHConfig) (*Conn, error) {
	cc, err := cfg.clientConfig()
	if err != nil {
		return nil, err
	}
	addr := net.JoinHostPort(address, strconv.Itoa(port))

	d := net.Dialer{Timeout: cfg.Timeout}
	tcp, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	stop := context.AfterFunc(ctx, func() { _ = tcp.Close() })

	if deadline, ok := ctx.Deadline(); ok {
		_ = tcp.SetDeadline(deadline)
	}
	c, chans, reqs, err := ssh.NewClientConn(tcp, addr, cc)
	if err != nil {
		stop()
		_ = tcp.Close()
		return nil, fmt.Errorf("ssh handshake with %s: %w", addr, err)
	}
	if cfg.KnownHostsFile == "" {
		slog.Debug("ssh: host key not verified", "addr", addr)
	}
	return &Conn{Client: ssh.NewClient(c, chans, reqs), stop: stop}, nil
}
