package driver

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

const (
	// adoptedCheckEvery is how often an adopted gateway's pid is checked.
	adoptedCheckEvery = time.Second
	// stopCheckEvery is how often Stop checks whether the pid is gone.
	stopCheckEvery = 50 * time.Millisecond
)

// AdoptedDriver follows a gateway started by an earlier daemon. It is not
// the parent, so exit is noticed by polling the pid rather than by wait.
type AdoptedDriver struct {
	pid int

	mu        sync.Mutex
	state     State
	startedAt time.Time
	exitCode  int
	exitErr   string
	done      chan struct{}

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewAdopted starts following pid. It fails if no such process exists.
func NewAdopted(pid int) (*AdoptedDriver, error) {
	if err := unix.Kill(pid, 0); err != nil {
		return nil, fmt.Errorf("process %d not alive: %w", pid, err)
	}
	d := &AdoptedDriver{
		pid:       pid,
		state:     StateRunning,
		startedAt: time.Now(),
		done:      make(chan struct{}),
		stopCh:    make(chan struct{}),
	}
	go d.monitor()
	return d, nil
}

func (d *AdoptedDriver) monitor() {
	ticker := time.NewTicker(adoptedCheckEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if unix.Kill(d.pid, 0) != nil {
				d.markExited(-1, "process exited")
				return
			}
		case <-d.stopCh:
			return
		}
	}
}

// markExited settles the driver once. An exit during Stop is a clean stop.
func (d *AdoptedDriver) markExited(code int, msg string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch d.state {
	case StateStopping:
		d.state = StateStopped
	case StateRunning:
		d.state = StateExited
	default:
		return
	}
	d.exitCode = code
	d.exitErr = msg
	close(d.done)
}

// Start is a no-op; the process is already running.
func (d *AdoptedDriver) Start(ctx context.Context) error { return nil }

func (d *AdoptedDriver) Stop(ctx context.Context, timeout time.Duration) error {
	d.mu.Lock()
	if d.state != StateRunning {
		d.mu.Unlock()
		return nil
	}
	d.state = StateStopping
	d.mu.Unlock()
	d.stopMonitor()

	if err := unix.Kill(d.pid, unix.SIGTERM); err != nil {
		d.markExited(0, "")
		return nil
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(stopCheckEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if unix.Kill(d.pid, 0) != nil {
				d.markExited(0, "")
				return nil
			}
		case <-deadline.C:
			d.kill()
			return nil
		case <-ctx.Done():
			d.kill()
			return ctx.Err()
		}
	}
}

func (d *AdoptedDriver) kill() {
	_ = unix.Kill(d.pid, unix.SIGKILL)
	time.Sleep(100 * time.Millisecond)
	d.markExited(137, "killed")
}

func (d *AdoptedDriver) Info() ProcessInfo {
	d.mu.Lock()
	defer d.mu.Unlock()
	return ProcessInfo{
		PID:       d.pid,
		State:     d.state,
		StartedAt: d.startedAt,
		ExitCode:  d.exitCode,
		Error:     d.exitErr,
	}
}

func (d *AdoptedDriver) Done() <-chan struct{} { return d.done }

// Close stops following the process without signalling it.
func (d *AdoptedDriver) Close() error {
	d.stopMonitor()
	return nil
}

func (d *AdoptedDriver) stopMonitor() {
	d.stopOnce.Do(func() { close(d.stopCh) })
}

// VerifyProcess reports whether pid still runs the recorded command and
// started at the recorded time, so a recycled pid is never adopted. Zero
// values skip their check; a record with neither always matches.
func VerifyProcess(pid int, command string, startTime int64) bool {
	if startTime != 0 {
		actual, err := processStartTime(pid)
		if err != nil || actual != startTime {
			return false
		}
	}
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return true
	}
	name, err := processName(pid)
	if err != nil {
		return false
	}
	return name == filepath.Base(fields[0])
}

// ProcessStartTime returns the OS start time of pid. Units differ by
// platform but the value is stable for the life of the process.
func ProcessStartTime(pid int) (int64, error) {
	return processStartTime(pid)
}
