package app_test

import (
	"strings"
	"testing"
	"time"

	"github.com/bdobrica/Netbot/internal/netbot/app"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("MATRIX_HOMESERVER", "https://matrix.example.org")
	t.Setenv("MATRIX_USER_ID", "@netbot:example.org")
	t.Setenv("MATRIX_ACCESS_TOKEN", "syt_secret_token")
	t.Setenv("MATRIX_ROOM_ID", "!cmd:example.org")
	t.Setenv("OWNER_ID", owner)
}

func TestLoadConfig_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := app.LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.OwnerID != owner || cfg.Matrix.RoomID != "!cmd:example.org" {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.PollInterval != 3*time.Second {
		t.Errorf("PollInterval = %v", cfg.PollInterval)
	}
	if !cfg.SkipBacklog {
		t.Error("SkipBacklog should default to true")
	}
	if cfg.Workers != 1 {
		t.Errorf("Workers = %d", cfg.Workers)
	}
	if cfg.DeviceTimeout != 60*time.Second {
		t.Errorf("DeviceTimeout = %v", cfg.DeviceTimeout)
	}
	if cfg.AnsibleTimeout != 10*time.Minute {
		t.Errorf("AnsibleTimeout = %v", cfg.AnsibleTimeout)
	}
	if cfg.AllowedRouters != nil {
		t.Errorf("AllowedRouters = %v, want nil", cfg.AllowedRouters)
	}
	if cfg.HTTPAddr != "" {
		t.Errorf("HTTPAddr = %q", cfg.HTTPAddr)
	}
	if cfg.AnsibleDockerPull || cfg.AnsibleKeepRuns {
		t.Errorf("AnsibleDockerPull = %v AnsibleKeepRuns = %v, want false", cfg.AnsibleDockerPull, cfg.AnsibleKeepRuns)
	}
}

func TestLoadConfig_Overrides(t *testing.T) {
	setRequired(t)
	t.Setenv("OWNER_ID", "")
	t.Setenv("STUDENT_ID", "65070001")
	t.Setenv("POLL_INTERVAL", "5")
	t.Setenv("POLL_SKIP_BACKLOG", "false")
	t.Setenv("WORKERS", "4")
	t.Setenv("DEVICE_TIMEOUT", "90s")
	t.Setenv("ALLOWED_ROUTERS", "10.0.15.61, 10.0.15.62")
	t.Setenv("ROUTER_USERNAME", "cisco")
	t.Setenv("ROUTER_PASSWORD", "cisco123!")
	t.Setenv("ANSIBLE_DOCKER_PULL", "true")
	t.Setenv("ANSIBLE_KEEP_RUNS", "1")

	cfg, err := app.LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.OwnerID != "65070001" {
		t.Errorf("OwnerID = %q, want STUDENT_ID fallback", cfg.OwnerID)
	}
	if cfg.PollInterval != 5*time.Second || cfg.SkipBacklog || cfg.Workers != 4 {
		t.Errorf("poll settings = %v %v %d", cfg.PollInterval, cfg.SkipBacklog, cfg.Workers)
	}
	if cfg.DeviceTimeout != 90*time.Second {
		t.Errorf("DeviceTimeout = %v", cfg.DeviceTimeout)
	}
	if _, ok := cfg.AllowedRouters["10.0.15.62"]; !ok || len(cfg.AllowedRouters) != 2 {
		t.Errorf("AllowedRouters = %v", cfg.AllowedRouters)
	}
	if cfg.Router.Username != "cisco" || cfg.Router.Password != "cisco123!" {
		t.Errorf("Router = %+v", cfg.Router)
	}
	if !cfg.AnsibleDockerPull || !cfg.AnsibleKeepRuns {
		t.Errorf("AnsibleDockerPull = %v AnsibleKeepRuns = %v", cfg.AnsibleDockerPull, cfg.AnsibleKeepRuns)
	}
}

func TestConfig_SummaryMasksCredentials(t *testing.T) {
	setRequired(t)
	t.Setenv("ROUTER_PASSWORD", "cisco123!")

	cfg, err := app.LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	got := cfg.Summary()
	for _, key := range []string{"router_password", "matrix_access_token"} {
		if got[key] != "[REDACTED]" {
			t.Errorf("%s = %v, want [REDACTED]", key, got[key])
		}
	}
	if got["router_username"] != "admin" || got["matrix_room_id"] != "!cmd:example.org" {
		t.Errorf("summary = %v", got)
	}
	if got["poll_interval"] != "3s" {
		t.Errorf("poll_interval = %v", got["poll_interval"])
	}
}

func TestLoadConfig_MissingRequired(t *testing.T) {
	for _, name := range []string{"MATRIX_HOMESERVER", "MATRIX_USER_ID", "MATRIX_ACCESS_TOKEN", "MATRIX_ROOM_ID", "OWNER_ID"} {
		t.Setenv(name, "")
	}
	t.Setenv("STUDENT_ID", "")

	_, err := app.LoadConfig()
	if err == nil {
		t.Fatal("expected error")
	}
	for _, name := range []string{"MATRIX_HOMESERVER", "MATRIX_ROOM_ID", "OWNER_ID"} {
		if !strings.Contains(err.Error(), name) {
			t.Errorf("error %q does not mention %s", err, name)
		}
	}
}

func TestLoadConfig_InvalidWorkers(t *testing.T) {
	setRequired(t)
	t.Setenv("WORKERS", "0")
	if _, err := app.LoadConfig(); err == nil {
		t.Fatal("expected error for WORKERS=0")
	}
}
