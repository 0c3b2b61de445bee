// Package ansible drives the declarative automation path: it renders an
// inventory and a playbook into a per-run directory and runs
// ansible-playbook, locally or in a container.
package ansible

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/bdobrica/Netbot/common/redact"
	"github.com/bdobrica/Netbot/internal/netbot/device"
)

// DefaultTimeout bounds one playbook run.
const DefaultTimeout = 10 * time.Minute

const runDirPrefix = "run-"

// ErrPlaybookFailed is returned when ansible-playbook exits non-zero.
var ErrPlaybookFailed = errors.New("playbook failed")

// Config configures a Runner.
type Config struct {
	Credentials device.Credentials
	// WorkDir holds the per-run directories; defaults to the OS temp dir.
	WorkDir string
	// OutputDir receives saved running configs.
	OutputDir string
	Timeout   time.Duration
	// KeepRuns leaves run directories in place for debugging.
	KeepRuns bool
}

// Runner implements the config-runner operations on top of an Executor.
type Runner struct {
	cfg  Config
	exec Executor
}

// NewRunner validates cfg and creates the output directory.
func NewRunner(cfg Config, exec Executor) (*Runner, error) {
	if exec == nil {
		return nil, errors.New("ansible executor is required")
	}
	if cfg.WorkDir == "" {
		cfg.WorkDir = os.TempDir()
	}
	if cfg.OutputDir == "" {
		cfg.OutputDir = "."
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	var err error
	if cfg.WorkDir, err = filepath.Abs(cfg.WorkDir); err != nil {
		return nil, fmt.Errorf("resolve work dir: %w", err)
	}
	if cfg.OutputDir, err = filepath.Abs(cfg.OutputDir); err != nil {
		return nil, fmt.Errorf("resolve output dir: %w", err)
	}
	for _, dir := range []string{cfg.WorkDir, cfg.OutputDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return &Runner{cfg: cfg, exec: exec}, nil
}

func runIDFromDir(dir string) string {
	return strings.TrimPrefix(filepath.Base(dir), runDirPrefix)
}

// run prepares a run directory, writes the inventory and the plays built for
// it, executes them and hands the directory to inspect before it is removed.
func (r *Runner) run(ctx context.Context, address string, build func(dir string) []play, inspect func(dir string) error) error {
	dir, err := os.MkdirTemp(r.cfg.WorkDir, runDirPrefix+uuid.NewString()+"-")
	if err != nil {
		return fmt.Errorf("create run dir: %w", err)
	}
	if !r.cfg.KeepRuns {
		defer os.RemoveAll(dir)
	}

	if err := writeYAML(dir, inventoryFile, inventory(address, r.cfg.Credentials)); err != nil {
		return err
	}
	if err := writeYAML(dir, playbookFile, build(dir)); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	start := time.Now()
	res, err := r.exec.Run(ctx, Job{
		Dir:    dir,
		Mounts: []string{r.cfg.OutputDir},
		Env:    []string{"ANSIBLE_HOST_KEY_CHECKING=False", "ANSIBLE_NOCOLOR=1", "ANSIBLE_RETRY_FILES_ENABLED=False"},
	})
	log := slog.With("run", runIDFromDir(dir), "address", address, "duration_ms", time.Since(start).Milliseconds())
	if err != nil {
		log.Warn("ansible: run failed", "err", err)
		return fmt.Errorf("ansible run: %w", err)
	}
	if res.ExitCode != 0 {
		tail := redact.String(lastLines(string(res.Output), 5), r.cfg.Credentials.Password)
		log.Warn("ansible: playbook failed", "exit_code", res.ExitCode, "output", tail)
		return fmt.Errorf("%w: exit code %d", ErrPlaybookFailed, res.ExitCode)
	}
	log.Info("ansible: playbook finished")
	if inspect != nil {
		return inspect(dir)
	}
	return nil
}

// ShowRunningConfig saves the running config of the device and returns
// where it went.
func (r *Runner) ShowRunningConfig(ctx context.Context, address, userID string) (device.ShowRunResult, error) {
	var result device.ShowRunResult
	err := r.run(ctx, address,
		func(dir string) []play {
			return showRunPlay(userID, r.cfg.OutputDir, filepath.Join(dir, sentinelFile))
		},
		func(dir string) error {
			var err error
			result, err = readSentinel(filepath.Join(dir, sentinelFile))
			return err
		},
	)
	if err != nil {
		return device.ShowRunResult{}, err
	}
	return result, nil
}

// SetBanner applies text as the MOTD banner.
func (r *Runner) SetBanner(ctx context.Context, address, text string) (bool, error) {
	build := func(string) []play { return bannerPlay(text) }
	if err := r.run(ctx, address, build, nil); err != nil {
		return false, err
	}
	return true, nil
}

// readSentinel parses the file written by the showrun play and checks that
// the saved config exists.
func readSentinel(path string) (device.ShowRunResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return device.ShowRunResult{}, fmt.Errorf("read showrun result: %w", err)
	}
	filePath := gjson.GetBytes(data, "filepath").String()
	name := gjson.GetBytes(data, "router_name").String()
	if filePath == "" {
		return device.ShowRunResult{}, errors.New("showrun result has no filepath")
	}
	if _, err := os.Stat(filePath); err != nil {
		return device.ShowRunResult{}, fmt.Errorf("saved config: %w", err)
	}
	return device.ShowRunResult{OK: true, FilePath: filePath, DeviceName: name}, nil
}

func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
