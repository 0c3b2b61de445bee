package netconf_test

import (
	"bufio"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/bdobrica/Netbot/internal/netbot/device"
	"github.com/bdobrica/Netbot/internal/netbot/netconf"
)

const serverHello = `<?xml version="1.0" encoding="UTF-8"?>
<hello xmlns="urn:ietf:params:xml:ns:netconf:base:1.0">
  <capabilities><capability>urn:ietf:params:netconf:base:1.0</capability></capabilities>
  <session-id>42</session-id>
</hello>`

func readFrame(br *bufio.Reader) (string, error) {
	var sb strings.Builder
	for {
		chunk, err := br.ReadString('>')
		sb.WriteString(chunk)
		if strings.HasSuffix(sb.String(), "]]>]]>") {
			return strings.TrimSuffix(sb.String(), "]]>]]>"), nil
		}
		if err != nil {
			return "", err
		}
	}
}

func serveNetconf(ch ssh.Channel, router *fakeRouter) {
	defer ch.Close()
	if _, err := io.WriteString(ch, serverHello+"]]>]]>"); err != nil {
		return
	}
	br := bufio.NewReader(ch)
	if _, err := readFrame(br); err != nil {
		return
	}
	for {
		msg, err := readFrame(br)
		if err != nil {
			return
		}
		if strings.Contains(msg, "<close-session/>") {
			io.WriteString(ch, `<rpc-reply xmlns="urn:ietf:params:xml:ns:netconf:base:1.0"><ok/></rpc-reply>]]>]]>`)
			return
		}
		if _, err := io.WriteString(ch, router.reply(msg)+"]]>]]>"); err != nil {
			return
		}
	}
}

func serveConn(c net.Conn, cfg *ssh.ServerConfig, router *fakeRouter) {
	defer c.Close()
	_, chans, reqs, err := ssh.NewServerConn(c, cfg)
	if err != nil {
		return
	}
	go ssh.DiscardRequests(reqs)
	for nc := range chans {
		if nc.ChannelType() != "session" {
			nc.Reject(ssh.UnknownChannelType, "unsupported")
			continue
		}
		ch, requests, err := nc.Accept()
		if err != nil {
			return
		}
		go func() {
			for req := range requests {
				ok := req.Type == "subsystem" && len(req.Payload) > 4 && string(req.Payload[4:]) == "netconf"
				req.Reply(ok, nil)
				if ok {
					go serveNetconf(ch, router)
				}
			}
		}()
	}
}

// startServer runs an SSH server exposing a netconf subsystem backed by
// router and returns its port.
func startServer(t *testing.T, router *fakeRouter) int {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate host key: %v", err)
	}
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatalf("host signer: %v", err)
	}
	cfg := &ssh.ServerConfig{
		PasswordCallback: func(c ssh.ConnMetadata, pass []byte) (*ssh.Permissions, error) {
			if c.User() == "admin" && string(pass) == "cisco123" {
				return nil, nil
			}
			return nil, errors.New("access denied")
		},
	}
	cfg.AddHostKey(signer)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			go serveConn(c, cfg, router)
		}
	}()
	return ln.Addr().(*net.TCPAddr).Port
}

func TestSSHTransport_Lifecycle(t *testing.T) {
	router := newFakeRouter()
	port := startServer(t, router)

	c := netconf.NewSSH(device.SSHConfig{
		Credentials: device.Credentials{Username: "admin", Password: "cisco123"},
		Timeout:     5 * time.Second,
	}, port)

	steps := []struct {
		fn   func(context.Context, string, string) (string, error)
		want string
	}{
		{c.Create, "created"},
		{c.Create, "already exists"},
		{c.Disable, "shutdowned"},
		{c.Status, "disabled"},
		{c.Delete, "deleted"},
		{c.Status, "no interface"},
	}
	for i, s := range steps {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		got, err := s.fn(ctx, "127.0.0.1", user)
		cancel()
		if err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		if got != s.want {
			t.Fatalf("step %d: got %q, want %q", i, got, s.want)
		}
	}
}

func TestSSHTransport_BadPassword(t *testing.T) {
	port := startServer(t, newFakeRouter())
	c := netconf.NewSSH(device.SSHConfig{
		Credentials: device.Credentials{Username: "admin", Password: "wrong"},
		Timeout:     5 * time.Second,
	}, port)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := c.Status(ctx, "127.0.0.1", user); err == nil {
		t.Fatal("expected authentication failure")
	}
}
