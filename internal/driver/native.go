package driver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// killGrace bounds the wait after SIGKILL so a wedged child cannot hang Stop.
const killGrace = 5 * time.Second

// NativeConfig describes a gateway binary to fork/exec.
type NativeConfig struct {
	Command    string
	Args       []string
	Env        []string
	WorkingDir string
	Output     io.Writer // receives combined stdout/stderr; nil discards
}

// NativeDriver runs the gateway as a child process in its own process group.
type NativeDriver struct {
	cfg NativeConfig

	mu        sync.Mutex
	cmd       *exec.Cmd
	state     State
	startedAt time.Time
	exitCode  int
	exitErr   string
	done      chan struct{}
}

// NewNative creates a driver for cfg. Nothing runs until Start.
func NewNative(cfg NativeConfig) *NativeDriver {
	if cfg.Output == nil {
		cfg.Output = io.Discard
	}
	return &NativeDriver{cfg: cfg, state: StateStopped}
}

func (d *NativeDriver) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state.Alive() {
		return errors.New("gateway process already running")
	}
	if d.cfg.Command == "" {
		d.state = StateFailed
		d.exitErr = "no command configured"
		return errors.New("starting process: no command configured")
	}

	// Not CommandContext: the gateway must survive the request that started it.
	cmd := exec.Command(d.cfg.Command, d.cfg.Args...)
	cmd.Env = d.cfg.Env
	cmd.Dir = d.cfg.WorkingDir
	cmd.Stdout = d.cfg.Output
	cmd.Stderr = d.cfg.Output
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	d.state = StateStarting
	d.exitCode = 0
	d.exitErr = ""

	if err := cmd.Start(); err != nil {
		d.state = StateFailed
		d.exitErr = err.Error()
		return fmt.Errorf("starting process: %w", err)
	}

	d.cmd = cmd
	d.state = StateRunning
	d.startedAt = time.Now()
	done := make(chan struct{})
	d.done = done

	go d.reap(cmd, done)
	return nil
}

func (d *NativeDriver) reap(cmd *exec.Cmd, done chan struct{}) {
	err := cmd.Wait()

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state == StateStopping {
		d.state = StateStopped
	} else {
		d.state = StateExited
	}

	d.exitCode = cmd.ProcessState.ExitCode()
	if err != nil {
		d.exitErr = err.Error()
	}
	close(done)
}

func (d *NativeDriver) Stop(ctx context.Context, timeout time.Duration) error {
	d.mu.Lock()
	if d.state != StateRunning {
		d.mu.Unlock()
		return nil
	}
	d.state = StateStopping
	pid := d.cmd.Process.Pid
	done := d.done
	d.mu.Unlock()

	_ = unix.Kill(-pid, unix.SIGTERM)

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
	case <-ctx.Done():
	}

	_ = unix.Kill(-pid, unix.SIGKILL)
	select {
	case <-done:
	case <-time.After(killGrace):
		return fmt.Errorf("process %d did not exit after SIGKILL", pid)
	}
	return ctx.Err()
}

func (d *NativeDriver) Info() ProcessInfo {
	d.mu.Lock()
	defer d.mu.Unlock()

	info := ProcessInfo{
		State:     d.state,
		StartedAt: d.startedAt,
		ExitCode:  d.exitCode,
		Error:     d.exitErr,
	}
	if d.cmd != nil && d.cmd.Process != nil {
		info.PID = d.cmd.Process.Pid
	}
	return info
}

func (d *NativeDriver) Done() <-chan struct{} {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.done
}
