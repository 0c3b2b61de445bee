// Package restconf manages the loopback interface through the IETF
// interfaces YANG model over RESTCONF (JSON encoding).
package restconf

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/bdobrica/Netbot/internal/netbot/device"
)

const (
	mediaType = "application/yang-data+json"
	// Colons are escaped for gjson/sjson path syntax.
	ifaceKey = `ietf-interfaces\:interface`
	ipv4Key  = `ietf-ip\:ipv4`

	// DefaultTimeout bounds each HTTP request.
	DefaultTimeout = 20 * time.Second
	maxErrorBody   = 256
)

// Config configures a Client.
type Config struct {
	Credentials device.Credentials
	// Port overrides the HTTPS port; 0 uses the scheme default.
	Port int
	// Insecure skips TLS verification (lab routers use self-signed certs).
	Insecure bool
	Timeout  time.Duration
	// HTTPClient replaces the default client; Insecure and Timeout are
	// ignored when set.
	HTTPClient *http.Client
}

// Client implements the device transport over RESTCONF.
type Client struct {
	cfg  Config
	http *http.Client
}

// New returns a Client for cfg.
func New(cfg Config) *Client {
	hc := cfg.HTTPClient
	if hc == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		hc = &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				Proxy:           http.ProxyFromEnvironment,
				TLSClientConfig: &tls.Config{InsecureSkipVerify: cfg.Insecure},
			},
		}
	}
	return &Client{cfg: cfg, http: hc}
}

func (c *Client) interfaceURL(address, name string) string {
	host := address
	if c.cfg.Port != 0 {
		host = net.JoinHostPort(address, strconv.Itoa(c.cfg.Port))
	}
	return fmt.Sprintf("https://%s/restconf/data/ietf-interfaces:interfaces/interface=%s", host, name)
}

func (c *Client) do(ctx context.Context, method, url string, body []byte) (int, []byte, error) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, rd)
	if err != nil {
		return 0, nil, fmt.Errorf("build %s request: %w", method, err)
	}
	req.SetBasicAuth(c.cfg.Credentials.Username, c.cfg.Credentials.Password)
	req.Header.Set("Accept", mediaType)
	if body != nil {
		req.Header.Set("Content-Type", mediaType)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("restconf %s: %w", method, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("restconf %s: read body: %w", method, err)
	}
	return resp.StatusCode, data, nil
}

func errorToken(code int, body []byte) string {
	text := strings.TrimSpace(string(body))
	if len(text) > maxErrorBody {
		cut := maxErrorBody
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		text = text[:cut] + "..."
	}
	return strings.TrimSpace(fmt.Sprintf("error %d %s", code, text))
}

// lookup fetches the interface. A non-empty token means the answer was
// neither 200 nor 404 and should be returned to the caller as-is.
func (c *Client) lookup(ctx context.Context, address, name string) (found bool, body []byte, token string, err error) {
	code, body, err := c.do(ctx, http.MethodGet, c.interfaceURL(address, name), nil)
	if err != nil {
		return false, nil, "", err
	}
	switch code {
	case http.StatusOK:
		return true, body, "", nil
	case http.StatusNotFound:
		return false, nil, "", nil
	default:
		return false, nil, errorToken(code, body), nil
	}
}

// Create puts a loopback with the derived address. It answers "already
// exists" without writing when the interface is present.
func (c *Client) Create(ctx context.Context, address, userID string) (string, error) {
	name := device.LoopbackName(userID)
	found, _, token, err := c.lookup(ctx, address, name)
	if err != nil || token != "" {
		return token, err
	}
	if found {
		return "already exists", nil
	}

	payload, err := createPayload(name, device.LoopbackAddress(userID), device.LoopbackMask)
	if err != nil {
		return "", err
	}
	code, body, err := c.do(ctx, http.MethodPut, c.interfaceURL(address, name), payload)
	if err != nil {
		return "", err
	}
	switch code {
	case http.StatusOK, http.StatusCreated, http.StatusNoContent:
		return "created", nil
	case http.StatusConflict:
		return "already exists", nil
	}
	return errorToken(code, body), nil
}

// Delete removes the loopback, or answers "not found".
func (c *Client) Delete(ctx context.Context, address, userID string) (string, error) {
	name := device.LoopbackName(userID)
	found, _, token, err := c.lookup(ctx, address, name)
	if err != nil || token != "" {
		return token, err
	}
	if !found {
		return "not found", nil
	}

	code, body, err := c.do(ctx, http.MethodDelete, c.interfaceURL(address, name), nil)
	if err != nil {
		return "", err
	}
	switch code {
	case http.StatusOK, http.StatusNoContent:
		return "deleted", nil
	case http.StatusNotFound:
		return "not found", nil
	}
	return errorToken(code, body), nil
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
	found, _, token, err := c.lookup(ctx, address, name)
	if err != nil || token != "" {
		return token, err
	}
	if !found {
		return "not found", nil
	}

	payload, err := sjson.SetBytes(nil, ifaceKey+".enabled", enabled)
	if err != nil {
		return "", fmt.Errorf("build patch body: %w", err)
	}
	code, body, err := c.do(ctx, http.MethodPatch, c.interfaceURL(address, name), payload)
	if err != nil {
		return "", err
	}
	switch code {
	case http.StatusOK, http.StatusNoContent:
		return okToken, nil
	case http.StatusNotFound:
		return "not found", nil
	}
	return errorToken(code, body), nil
}

// Status reports "enabled", "disabled" or "no interface".
func (c *Client) Status(ctx context.Context, address, userID string) (string, error) {
	found, body, token, err := c.lookup(ctx, address, device.LoopbackName(userID))
	if err != nil || token != "" {
		return token, err
	}
	if !found {
		return "no interface", nil
	}
	if gjson.GetBytes(body, ifaceKey+".enabled").Bool() {
		return "enabled", nil
	}
	return "disabled", nil
}

func createPayload(name, ip, mask string) ([]byte, error) {
	fields := []struct {
		path  string
		value any
	}{
		{ifaceKey + ".name", name},
		{ifaceKey + ".type", "iana-if-type:softwareLoopback"},
		{ifaceKey + ".enabled", true},
		{ifaceKey + "." + ipv4Key + ".address", []map[string]string{{"ip": ip, "netmask": mask}}},
	}
	var body []byte
	for _, f := range fields {
		var err error
		if body, err = sjson.SetBytes(body, f.path, f.value); err != nil {
			return nil, fmt.Errorf("build create body: %w", err)
		}
	}
	return body, nil
}
