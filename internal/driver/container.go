//go:build !nocontainer

package driver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	dockerclient "github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
)

// ContainerConfig describes a gateway image to run.
type ContainerConfig struct {
	Name        string // container name, replaced if it already exists
	Image       string
	Env         []string
	Cmd         []string
	NetworkMode string // default "host" so the health URL is reachable on 127.0.0.1
	Output      io.Writer
}

// ContainerDriver runs the gateway as a Docker container.
type ContainerDriver struct {
	cfg    ContainerConfig
	client *dockerclient.Client

	mu        sync.Mutex
	id        string
	state     State
	startedAt time.Time
	exitCode  int
	exitErr   string
	done      chan struct{}
}

// NewContainer creates a driver talking to the Docker daemon from the
// environment (DOCKER_HOST etc).
func NewContainer(cfg ContainerConfig) (*ContainerDriver, error) {
	cli, err := dockerclient.NewClientWithOpts(
		dockerclient.FromEnv,
		dockerclient.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return nil, fmt.Errorf("creating docker client: %w", err)
	}
	if cfg.NetworkMode == "" {
		cfg.NetworkMode = "host"
	}
	if cfg.Name == "" {
		cfg.Name = "gateboot-gateway"
	}
	if cfg.Output == nil {
		cfg.Output = io.Discard
	}
	return &ContainerDriver{cfg: cfg, client: cli, state: StateStopped}, nil
}

func (d *ContainerDriver) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state.Alive() {
		return errors.New("gateway container already running")
	}
	if d.cfg.Image == "" {
		d.state = StateFailed
		d.exitErr = "no image configured"
		return errors.New("starting container: no image configured")
	}
	d.state = StateStarting
	d.exitCode = 0
	d.exitErr = ""

	// A container left over from a previous launcher run holds the name.
	_ = d.client.ContainerRemove(ctx, d.cfg.Name, container.RemoveOptions{Force: true})

	resp, err := d.client.ContainerCreate(ctx,
		&container.Config{Image: d.cfg.Image, Env: d.cfg.Env, Cmd: d.cfg.Cmd},
		&container.HostConfig{
			NetworkMode:   container.NetworkMode(d.cfg.NetworkMode),
			RestartPolicy: container.RestartPolicy{Name: container.RestartPolicyDisabled},
		},
		nil, nil, d.cfg.Name)
	if err != nil {
		d.state = StateFailed
		d.exitErr = err.Error()
		return fmt.Errorf("creating container: %w", err)
	}

	if err := d.client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		d.state = StateFailed
		d.exitErr = err.Error()
		_ = d.client.ContainerRemove(context.Background(), resp.ID, container.RemoveOptions{Force: true})
		return fmt.Errorf("starting container: %w", err)
	}

	d.id = resp.ID
	d.state = StateRunning
	d.startedAt = time.Now()
	done := make(chan struct{})
	d.done = done

	go d.follow(resp.ID)
	go d.reap(resp.ID, done)
	return nil
}

func (d *ContainerDriver) follow(id string) {
	reader, err := d.client.ContainerLogs(context.Background(), id, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
	})
	if err != nil {
		return
	}
	defer reader.Close()

	// The log stream is multiplexed with 8-byte frame headers.
	_, _ = stdcopy.StdCopy(d.cfg.Output, d.cfg.Output, reader)
}

func (d *ContainerDriver) reap(id string, done chan struct{}) {
	statusCh, errCh := d.client.ContainerWait(context.Background(), id, container.WaitConditionNotRunning)

	var (
		code   int
		errMsg string
	)
	select {
	case err := <-errCh:
		if err != nil {
			errMsg = err.Error()
		}
	case status := <-statusCh:
		code = int(status.StatusCode)
		if status.Error != nil {
			errMsg = status.Error.Message
		}
	}

	d.mu.Lock()
	if d.state == StateStopping {
		d.state = StateStopped
	} else {
		d.state = StateExited
	}
	d.exitCode = code
	d.exitErr = errMsg
	close(done)
	d.mu.Unlock()
}

func (d *ContainerDriver) Stop(ctx context.Context, timeout time.Duration) error {
	d.mu.Lock()
	if d.state != StateRunning {
		d.mu.Unlock()
		return nil
	}
	d.state = StateStopping
	id := d.id
	done := d.done
	d.mu.Unlock()

	// Docker sends SIGTERM and escalates to SIGKILL after the timeout.
	secs := int(timeout.Seconds())
	if err := d.client.ContainerStop(ctx, id, container.StopOptions{Timeout: &secs}); err != nil {
		_ = d.client.ContainerRemove(context.Background(), id, container.RemoveOptions{Force: true})
	}

	select {
	case <-done:
	case <-time.After(timeout + killGrace):
		_ = d.client.ContainerRemove(context.Background(), id, container.RemoveOptions{Force: true})
	}

	if err := d.client.ContainerRemove(context.Background(), id, container.RemoveOptions{}); err != nil && !errdefs.IsNotFound(err) {
		return fmt.Errorf("removing container: %w", err)
	}
	return nil
}

func (d *ContainerDriver) Info() ProcessInfo {
	d.mu.Lock()
	defer d.mu.Unlock()
	return ProcessInfo{
		ID:        d.id,
		State:     d.state,
		StartedAt: d.startedAt,
		ExitCode:  d.exitCode,
		Error:     d.exitErr,
	}
}

func (d *ContainerDriver) Done() <-chan struct{} {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.done
}

// Close releases the Docker client.
func (d *ContainerDriver) Close() error {
	return d.client.Close()
}

// ImagePresent reports whether image is already in the local Docker image
// store. An unreachable daemon is an error.
func ImagePresent(ctx context.Context, image string) (bool, error) {
	cli, err := dockerclient.NewClientWithOpts(
		dockerclient.FromEnv,
		dockerclient.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return false, fmt.Errorf("creating docker client: %w", err)
	}
	defer cli.Close()

	if _, err := cli.ImageInspect(ctx, image); err != nil {
		if errdefs.IsNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("inspecting image %s: %w", image, err)
	}
	return true, nil
}
