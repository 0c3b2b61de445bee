package app

import (
	"errors"
	"fmt"
	"time"

	"github.com/bdobrica/Netbot/common/environment"
	"github.com/bdobrica/Netbot/common/redact"
	"github.com/bdobrica/Netbot/internal/netbot/ansible"
	"github.com/bdobrica/Netbot/internal/netbot/commands"
	"github.com/bdobrica/Netbot/internal/netbot/device"
	"github.com/bdobrica/Netbot/internal/netbot/matrix"
)

// Defaults for the poll loop.
const (
	DefaultPollInterval = 3 * time.Second
	DefaultWorkers      = 1
	DefaultSeenTTL      = 7 * 24 * time.Hour
)

// Config holds application configuration
type Config struct {
	DatabasePath string
	Matrix       matrix.Config
	// AuditRoomID is an optional Matrix room where the bot posts a short
	// notice for every device change. When empty notices are disabled.
	AuditRoomID string

	// OwnerID is the identifier commands must be addressed to ("/<OwnerID> ...").
	OwnerID string
	// AllowedRouters restricts the addresses commands may target. Nil allows
	// any address.
	AllowedRouters map[string]struct{}
	Router         device.Credentials

	PollInterval time.Duration
	// SkipBacklog marks the messages present at startup as seen without
	// running them.
	SkipBacklog bool
	Workers     int
	// SeenTTL is how long dedupe keys are kept in the database.
	SeenTTL time.Duration

	DeviceTimeout    time.Duration
	RestconfInsecure bool
	KnownHostsFile   string
	TextFSMTemplate  string

	AnsibleBinary      string
	AnsibleWorkDir     string
	AnsibleOutputDir   string
	AnsibleTimeout     time.Duration
	AnsibleDockerImage string
	AnsibleNetwork     string
	// AnsibleDockerPull pulls the image before every run instead of only
	// when it is missing.
	AnsibleDockerPull bool
	// AnsibleKeepRuns leaves generated run directories on disk.
	AnsibleKeepRuns bool

	// HTTPAddr is the TCP address for the optional health/status HTTP server
	// (e.g. ":8080"). When empty the server is disabled.
	HTTPAddr string
}

// LoadConfig reads the configuration from the process environment. Load a
// dotenv file with environment.LoadFile first when one is used.
func LoadConfig() (*Config, error) {
	var errs []error
	required := func(name string) string {
		v, err := environment.RequiredString(name)
		if err != nil {
			errs = append(errs, err)
		}
		return v
	}

	cfg := &Config{
		DatabasePath: environment.StringOr("DATABASE_PATH", "./netbot.db"),
		Matrix: matrix.Config{
			Homeserver:  required("MATRIX_HOMESERVER"),
			UserID:      required("MATRIX_USER_ID"),
			AccessToken: required("MATRIX_ACCESS_TOKEN"),
			RoomID:      required("MATRIX_ROOM_ID"),
			PollLimit:   environment.IntOr("POLL_LIMIT", matrix.DefaultPollLimit),
		},
		AuditRoomID:    environment.StringOr("MATRIX_AUDIT_ROOM", ""),
		OwnerID:        environment.FirstOf("OWNER_ID", "STUDENT_ID"),
		AllowedRouters: environment.StringSet("ALLOWED_ROUTERS"),
		Router: device.Credentials{
			Username: environment.StringOr("ROUTER_USERNAME", "admin"),
			Password: environment.StringOr("ROUTER_PASSWORD", ""),
		},
		PollInterval:       environment.DurationOr("POLL_INTERVAL", DefaultPollInterval),
		SkipBacklog:        environment.BoolOr("POLL_SKIP_BACKLOG", true),
		Workers:            environment.IntOr("WORKERS", DefaultWorkers),
		SeenTTL:            environment.DurationOr("SEEN_TTL", DefaultSeenTTL),
		DeviceTimeout:      environment.DurationOr("DEVICE_TIMEOUT", commands.DefaultDeviceTimeout),
		RestconfInsecure:   environment.BoolOr("RESTCONF_INSECURE", true),
		KnownHostsFile:     environment.StringOr("SSH_KNOWN_HOSTS", ""),
		TextFSMTemplate:    environment.StringOr("NET_TEXTFSM", ""),
		AnsibleBinary:      environment.StringOr("ANSIBLE_PLAYBOOK_BIN", "ansible-playbook"),
		AnsibleWorkDir:     environment.StringOr("ANSIBLE_WORK_DIR", ""),
		AnsibleOutputDir:   environment.StringOr("ANSIBLE_OUTPUT_DIR", "./showrun"),
		AnsibleTimeout:     environment.DurationOr("ANSIBLE_TIMEOUT", ansible.DefaultTimeout),
		AnsibleDockerImage: environment.StringOr("ANSIBLE_DOCKER_IMAGE", ""),
		AnsibleNetwork:     environment.StringOr("ANSIBLE_DOCKER_NETWORK", ""),
		AnsibleDockerPull:  environment.BoolOr("ANSIBLE_DOCKER_PULL", false),
		AnsibleKeepRuns:    environment.BoolOr("ANSIBLE_KEEP_RUNS", false),
		HTTPAddr:           environment.StringOr("HTTP_ADDR", ""),
	}
	if cfg.OwnerID == "" {
		errs = append(errs, errors.New(`required environment variable "OWNER_ID" is not set`))
	}
	if cfg.Workers < 1 {
		errs = append(errs, fmt.Errorf("WORKERS must be at least 1, got %d", cfg.Workers))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return cfg, nil
}

// secrets lists configured values that must never reach chat or logs.
func (c *Config) secrets() []string {
	return []string{c.Router.Password, c.Matrix.AccessToken}
}

// Summary returns the effective settings for the startup log with
// credentials masked.
func (c *Config) Summary() map[string]any {
	return redact.Map(map[string]any{
		"database_path":        c.DatabasePath,
		"matrix_homeserver":    c.Matrix.Homeserver,
		"matrix_user_id":       c.Matrix.UserID,
		"matrix_access_token":  c.Matrix.AccessToken,
		"matrix_room_id":       c.Matrix.RoomID,
		"matrix_audit_room":    c.AuditRoomID,
		"owner_id":             c.OwnerID,
		"allowed_routers":      len(c.AllowedRouters),
		"router_username":      c.Router.Username,
		"router_password":      c.Router.Password,
		"poll_interval":        c.PollInterval.String(),
		"workers":              c.Workers,
		"device_timeout":       c.DeviceTimeout.String(),
		"ansible_docker_image": c.AnsibleDockerImage,
		"ansible_docker_pull":  c.AnsibleDockerPull,
		"ansible_keep_runs":    c.AnsibleKeepRuns,
		"http_addr":            c.HTTPAddr,
	})
}
