// Package sshcli runs read-only show commands on routers over SSH exec
// channels and turns their output into chat-ready text.
package sshcli

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sirikothe/gotextfsm"

	"github.com/bdobrica/Netbot/internal/netbot/device"
)

// DefaultPort is the SSH port used when Config.Port is zero.
const DefaultPort = 22

const (
	cmdBrief  = "show ip interface brief"
	cmdBanner = "show banner motd"
)

// Exec runs one command on the device at address and returns its output.
type Exec func(ctx context.Context, address, command string) (string, error)

// Config configures a Client.
type Config struct {
	SSH  device.SSHConfig
	Port int
	// TemplatePath points at a TextFSM template (or an ntc-templates
	// directory) for "show ip interface brief".
	TemplatePath string
	// Exec replaces SSH execution, mainly for tests.
	Exec Exec
}

// Client implements the CLI reporting operations.
type Client struct {
	exec     Exec
	template *gotextfsm.TextFSM
}

// New builds a Client. A configured template that cannot be loaded is an
// error.
func New(cfg Config) (*Client, error) {
	c := &Client{exec: cfg.Exec}
	if c.exec == nil {
		port := cfg.Port
		if port == 0 {
			port = DefaultPort
		}
		c.exec = sshExec(cfg.SSH, port)
	}
	if cfg.TemplatePath != "" {
		fsm, err := loadTemplate(cfg.TemplatePath)
		if err != nil {
			return nil, err
		}
		c.template = fsm
	}
	return c, nil
}

func sshExec(cfg device.SSHConfig, port int) Exec {
	return func(ctx context.Context, address, command string) (string, error) {
		conn, err := device.DialSSH(ctx, address, port, cfg)
		if err != nil {
			return "", err
		}
		defer conn.Close()

		sess, err := conn.NewSession()
		if err != nil {
			return "", fmt.Errorf("open ssh session: %w", err)
		}
		defer sess.Close()

		out, err := sess.CombinedOutput(command)
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			return "", fmt.Errorf("run %q: %w", command, err)
		}
		return string(out), nil
	}
}

// PortSummary summarises the GigabitEthernet ports of the device.
func (c *Client) PortSummary(ctx context.Context, address string) (string, error) {
	raw, err := c.exec(ctx, address, cmdBrief)
	if err != nil {
		return "", err
	}

	var ports []Port
	if c.template != nil {
		ports, err = parseWithTemplate(c.template, raw)
		if err != nil {
			slog.Warn("sshcli: template parse failed, using column parser", "err", err)
			ports = nil
		}
	}
	if ports == nil {
		ports = ParseBrief(raw)
	}
	return Summarize(ports), nil
}

// ReadBanner returns the MOTD banner, or "" when none is configured.
func (c *Client) ReadBanner(ctx context.Context, address string) (string, error) {
	raw, err := c.exec(ctx, address, cmdBanner)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(raw), nil
}
