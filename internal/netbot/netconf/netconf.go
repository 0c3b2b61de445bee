// Package netconf manages the loopback interface through the IETF
// interfaces YANG model over NETCONF 1.0.
package netconf

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bdobrica/Netbot/internal/netbot/device"
)

// DefaultPort is the IANA NETCONF-over-SSH port.
const DefaultPort = 830

// Client implements the device transport over NETCONF. Every operation
// opens its own session.
type Client struct {
	dial Dialer
}

// New returns a Client that opens sessions with dial.
func New(dial Dialer) *Client {
	return &Client{dial: dial}
}

// NewSSH returns a Client speaking NETCONF over SSH on port (0 means 830).
func NewSSH(cfg device.SSHConfig, port int) *Client {
	if port == 0 {
		port = DefaultPort
	}
	return New(SSHDialer(cfg, port))
}

func (c *Client) withSession(ctx context.Context, address string, fn func(Session) (string, error)) (string, error) {
	s, err := c.dial(ctx, address)
	if err != nil {
		return "", fmt.Errorf("netconf connect %s: %w", address, err)
	}
	defer func() {
		if err := s.Close(); err != nil {
			slog.Debug("netconf: close session", "address", address, "err", err)
		}
	}()
	return fn(s)
}

func call(ctx context.Context, s Session, body string) (*rpcReply, error) {
	raw, err := s.Call(ctx, body)
	if err != nil {
		return nil, err
	}
	return parseReply(raw)
}

// configured reports whether name exists in the running datastore. A
// non-empty answer is an rpc-error to hand back verbatim.
func configured(ctx context.Context, s Session, name string) (bool, string, error) {
	r, err := call(ctx, s, getConfigRPC(name))
	if err != nil {
		return false, "", err
	}
	if msg := r.errorText(); msg != "" {
		return false, msg, nil
	}
	if r.Data == nil {
		return false, "", nil
	}
	for _, iface := range r.Data.Interfaces {
		if iface.Name == name {
			return true, "", nil
		}
	}
	return false, "", nil
}

func edit(ctx context.Context, s Session, config, okToken string) (string, error) {
	r, err := call(ctx, s, editConfigRPC(config))
	if err != nil {
		return "", err
	}
	if msg := r.errorText(); msg != "" {
		return msg, nil
	}
	if r.OK == nil {
		return "error no <ok/> in reply", nil
	}
	return okToken, nil
}

// Create adds the loopback with the derived address, or answers
// "already exists".
func (c *Client) Create(ctx context.Context, address, userID string) (string, error) {
	name := device.LoopbackName(userID)
	return c.withSession(ctx, address, func(s Session) (string, error) {
		found, msg, err := configured(ctx, s, name)
		if err != nil || msg != "" {
			return msg, err
		}
		if found {
			return "already exists", nil
		}
		cfg := createConfig(name, device.LoopbackAddress(userID), device.LoopbackMask)
		return edit(ctx, s, cfg, "created")
	})
}

// Delete removes the loopback, or answers "not found".
func (c *Client) Delete(ctx context.Context, address, userID string) (string, error) {
	name := device.LoopbackName(userID)
	return c.withSession(ctx, address, func(s Session) (string, error) {
		found, msg, err := configured(ctx, s, name)
		if err != nil || msg != "" {
			return msg, err
		}
		if !found {
			return "not found", nil
		}
		return edit(ctx, s, deleteConfig(name), "deleted")
	})
}

// Enable sets enabled=true on the loopback.
func (c *Client) Enable(ctx context.Context, address, userID string) (string, error) {
	return c.setEnabled(ctx, address, userID, true, "enabled")
}

// Disable sets enabled=false on the loopback.
func (c *Client) Disable(ctx context.Context, address, userID string) (string, error) {
	return c.setEnabled(ctx, address, userID, false, "shutdowned")
}

func (c *Client) setEnabled(ctx context.Context, address, userID string, enabled bool, okToken string) (string, error) {
	name := device.LoopbackName(userID)
	return c.withSession(ctx, address, func(s Session) (string, error) {
		found, msg, err := configured(ctx, s, name)
		if err != nil || msg != "" {
			return msg, err
		}
		if !found {
			return "not found", nil
		}
		return edit(ctx, s, enabledConfig(name, enabled), okToken)
	})
}

// Status reads the operational state: oper-status "up" reads as
// "enabled", anything else as "disabled".
func (c *Client) Status(ctx context.Context, address, userID string) (string, error) {
	name := device.LoopbackName(userID)
	return c.withSession(ctx, address, func(s Session) (string, error) {
		r, err := call(ctx, s, getStateRPC(name))
		if err != nil {
			return "", err
		}
		if msg := r.errorText(); msg != "" {
			return msg, nil
		}
		if r.Data != nil {
			for _, iface := range r.Data.State {
				if iface.Name != name {
					continue
				}
				if iface.OperStatus == "up" {
					return "enabled", nil
				}
				return "disabled", nil
			}
		}
		return "no interface", nil
	})
}
