// Package app wires the bot together: the SQLite store, the Matrix room, the
// device transports, the dispatcher and the poll loop.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/bdobrica/Netbot/common/version"
	"github.com/bdobrica/Netbot/internal/netbot/ansible"
	"github.com/bdobrica/Netbot/internal/netbot/audit"
	"github.com/bdobrica/Netbot/internal/netbot/commands"
	"github.com/bdobrica/Netbot/internal/netbot/device"
	"github.com/bdobrica/Netbot/internal/netbot/matrix"
	"github.com/bdobrica/Netbot/internal/netbot/netconf"
	"github.com/bdobrica/Netbot/internal/netbot/restconf"
	"github.com/bdobrica/Netbot/internal/netbot/sshcli"
	"github.com/bdobrica/Netbot/internal/netbot/store"
)

// App is the running bot.
type App struct {
	config       *Config
	store        *store.Store
	matrix       *matrix.Client
	dispatcher   *commands.Dispatcher
	poller       *Poller
	healthServer *HealthServer
	closers      []io.Closer
}

// New builds the application. Nothing is contacted until Run.
func New(config *Config) (*App, error) {
	slog.Info("configuration", "settings", config.Summary())
	slog.Info("opening database", "path", config.DatabasePath)
	st, err := store.New(config.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	a := &App{config: config, store: st}

	if err := a.build(); err != nil {
		a.Stop()
		return nil, err
	}
	return a, nil
}

func (a *App) build() error {
	cfg := a.config

	mx, err := matrix.New(cfg.Matrix)
	if err != nil {
		return fmt.Errorf("failed to initialize Matrix client: %w", err)
	}
	a.matrix = mx

	var notifier audit.Notifier = audit.Noop{}
	if cfg.AuditRoomID != "" {
		notifier = audit.NewRoomNotifier(mx, cfg.AuditRoomID)
	}

	sshCfg := device.SSHConfig{
		Credentials:    cfg.Router,
		KnownHostsFile: cfg.KnownHostsFile,
		Timeout:        cfg.DeviceTimeout,
	}
	cli, err := sshcli.New(sshcli.Config{SSH: sshCfg, TemplatePath: cfg.TextFSMTemplate})
	if err != nil {
		return fmt.Errorf("failed to initialize SSH CLI: %w", err)
	}

	executor, err := a.executor()
	if err != nil {
		return err
	}
	runner, err := ansible.NewRunner(ansible.Config{
		Credentials: cfg.Router,
		WorkDir:     cfg.AnsibleWorkDir,
		OutputDir:   cfg.AnsibleOutputDir,
		Timeout:     cfg.AnsibleTimeout,
		KeepRuns:    cfg.AnsibleKeepRuns,
	}, executor)
	if err != nil {
		return fmt.Errorf("failed to initialize ansible runner: %w", err)
	}

	a.dispatcher, err = commands.NewDispatcher(commands.Config{
		OwnerID:          cfg.OwnerID,
		AllowedAddresses: cfg.AllowedRouters,
		DeviceTimeout:    cfg.DeviceTimeout,
		Sessions:         commands.NewSessionStore(),
		Restconf: restconf.New(restconf.Config{
			Credentials: cfg.Router,
			Insecure:    cfg.RestconfInsecure,
		}),
		Netconf:  netconf.NewSSH(sshCfg, 0),
		Runner:   runner,
		CLI:      cli,
		Audit:    a.store,
		Notifier: notifier,
		Secrets:  cfg.secrets(),
	})
	if err != nil {
		return fmt.Errorf("failed to initialize dispatcher: %w", err)
	}

	a.poller, err = NewPoller(PollerConfig{
		Room:        mx,
		Handler:     a.dispatcher,
		Ledger:      a.store,
		OwnerID:     cfg.OwnerID,
		Interval:    cfg.PollInterval,
		SkipBacklog: cfg.SkipBacklog,
		Workers:     cfg.Workers,
		SeenTTL:     cfg.SeenTTL,
	})
	if err != nil {
		return err
	}

	if cfg.HTTPAddr != "" {
		a.healthServer = NewHealthServer(cfg.HTTPAddr, a.store, a.poller, a.dispatcher.Sessions())
	}
	return nil
}

// executor runs playbooks in a container when an image is configured and
// on the host otherwise.
func (a *App) executor() (ansible.Executor, error) {
	cfg := a.config
	if cfg.AnsibleDockerImage == "" {
		return ansible.LocalExecutor{Binary: cfg.AnsibleBinary}, nil
	}
	slog.Info("running playbooks in docker", "image", cfg.AnsibleDockerImage)
	de, err := ansible.NewDockerExecutor(cfg.AnsibleDockerImage)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize docker executor: %w", err)
	}
	de.Network = cfg.AnsibleNetwork
	de.Pull = cfg.AnsibleDockerPull
	a.closers = append(a.closers, de)
	return de, nil
}

// Run joins the rooms and polls until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	slog.Info("joining Matrix rooms", "homeserver", a.config.Matrix.Homeserver, "user", a.matrix.UserID(), "room", a.config.Matrix.RoomID)
	if err := a.matrix.Join(ctx, a.config.AuditRoomID); err != nil {
		return fmt.Errorf("failed to start Matrix client: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	if a.healthServer != nil {
		g.Go(func() error { return a.healthServer.Serve(ctx) })
	}
	g.Go(func() error { return a.poller.Run(ctx) })

	if a.config.AuditRoomID != "" {
		notice := fmt.Sprintf("✅ netbot %s started; listening for /%s", version.Version, a.config.OwnerID)
		if err := a.matrix.SendNotice(ctx, a.config.AuditRoomID, notice); err != nil {
			slog.Warn("failed to post startup notice", "err", err)
		}
	}

	slog.Info("netbot is running; press Ctrl+C to stop")
	return g.Wait()
}

// Stop releases the database and the container engine client.
func (a *App) Stop() {
	var errs []error
	for _, c := range a.closers {
		errs = append(errs, c.Close())
	}
	if a.store != nil {
		slog.Info("closing database")
		errs = append(errs, a.store.Close())
	}
	if err := errors.Join(errs...); err != nil {
		slog.Warn("shutdown error", "err", err)
	}
}
