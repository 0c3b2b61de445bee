package ansible

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	dockerclient "github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
	"github.com/docker/docker/pkg/stdcopy"
)

const (
	labelManagedBy = "netbot.managed-by"
	labelRunID     = "netbot.run-id"
	managedByValue = "netbot"
)

// DockerExecutor runs ansible-playbook in a throwaway container. Job
// directories are bind-mounted at their host paths so file paths written by
// the playbook are valid on the host too.
type DockerExecutor struct {
	client *dockerclient.Client
	image  string
	// Network is the container network mode; "" uses the daemon default.
	Network string
	// Pull pulls the image before every run. Otherwise it is pulled only
	// when the engine does not have it.
	Pull bool
}

// imageClient is the part of the engine API ensureImage needs.
type imageClient interface {
	ImageInspectWithRaw(ctx context.Context, ref string) (types.ImageInspect, []byte, error)
	ImagePull(ctx context.Context, ref string, options image.PullOptions) (io.ReadCloser, error)
}

// NewDockerExecutor connects to the engine named by DOCKER_HOST (or the
// default socket).
func NewDockerExecutor(imageRef string) (*DockerExecutor, error) {
	if imageRef == "" {
		return nil, fmt.Errorf("ansible image is required")
	}
	cli, err := dockerclient.NewClientWithOpts(
		dockerclient.FromEnv,
		dockerclient.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return nil, fmt.Errorf("docker client: %w", err)
	}
	return &DockerExecutor{client: cli, image: imageRef}, nil
}

// Close releases the engine client.
func (e *DockerExecutor) Close() error {
	return e.client.Close()
}

// Run creates the container, waits for it to exit and collects its logs.
// The container is always removed.
func (e *DockerExecutor) Run(ctx context.Context, job Job) (Result, error) {
	if err := ensureImage(ctx, e.client, e.image, e.Pull); err != nil {
		return Result{}, err
	}

	cfg, hostCfg := containerSpec(e.image, e.Network, job)
	resp, err := e.client.ContainerCreate(ctx, cfg, hostCfg, nil, nil, "")
	if err != nil {
		return Result{}, fmt.Errorf("create container: %w", err)
	}
	defer func() {
		// The run context may already be cancelled; removal must still happen.
		if err := e.client.ContainerRemove(context.WithoutCancel(ctx), resp.ID, container.RemoveOptions{Force: true}); err != nil {
			slog.Warn("ansible: failed to remove container", "id", resp.ID, "err", err)
		}
	}()

	if err := e.client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return Result{}, fmt.Errorf("start container: %w", err)
	}

	var exitCode int
	statusCh, errCh := e.client.ContainerWait(ctx, resp.ID, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		if err != nil {
			return Result{}, fmt.Errorf("wait container: %w", err)
		}
	case st := <-statusCh:
		if st.Error != nil {
			return Result{}, fmt.Errorf("wait container: %s", st.Error.Message)
		}
		exitCode = int(st.StatusCode)
	}

	logs, err := e.client.ContainerLogs(ctx, resp.ID, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return Result{ExitCode: exitCode}, fmt.Errorf("container logs: %w", err)
	}
	defer logs.Close()

	var out bytes.Buffer
	if _, err := stdcopy.StdCopy(&out, &out, logs); err != nil {
		slog.Debug("ansible: incomplete container logs", "id", resp.ID, "err", err)
	}
	return Result{ExitCode: exitCode, Output: out.Bytes()}, nil
}

// ensureImage pulls ref when always is set or the engine does not have it.
func ensureImage(ctx context.Context, cli imageClient, ref string, always bool) error {
	if !always {
		_, _, err := cli.ImageInspectWithRaw(ctx, ref)
		if err == nil {
			return nil
		}
		if !errdefs.IsNotFound(err) {
			return fmt.Errorf("inspect %s: %w", ref, err)
		}
	}

	slog.Info("ansible: pulling image", "image", ref)
	rc, err := cli.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("pull %s: %w", ref, err)
	}
	defer rc.Close()
	// The pull completes only once the progress stream is drained.
	if _, err := io.Copy(io.Discard, rc); err != nil {
		return fmt.Errorf("pull %s: %w", ref, err)
	}
	return nil
}

func containerSpec(imageRef, networkMode string, job Job) (*container.Config, *container.HostConfig) {
	binds := []string{job.Dir + ":" + job.Dir}
	for _, m := range job.Mounts {
		if m != "" && m != job.Dir {
			binds = append(binds, m+":"+m)
		}
	}
	cfg := &container.Config{
		Image:      imageRef,
		Cmd:        append([]string{"ansible-playbook"}, job.args()...),
		Env:        job.Env,
		WorkingDir: job.Dir,
		Labels: map[string]string{
			labelManagedBy: managedByValue,
			labelRunID:     runIDFromDir(job.Dir),
		},
	}
	hostCfg := &container.HostConfig{Binds: binds}
	if networkMode != "" {
		hostCfg.NetworkMode = container.NetworkMode(networkMode)
	}
	return cfg, hostCfg
}
