// Package driver starts and stops the gateway process, either as a native
// child process or as a Docker container.
package driver

import (
	"context"
	"time"
)

// State is the lifecycle state of a gateway process.
type State string

const (
	StateStopped  State = "stopped"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateStopping State = "stopping"
	StateExited   State = "exited" // exited without being asked to
	StateFailed   State = "failed" // never got running
)

// Alive reports whether the process is up or on its way up.
func (s State) Alive() bool {
	return s == StateStarting || s == StateRunning
}

// ProcessInfo is a point-in-time view of a driver.
type ProcessInfo struct {
	PID       int
	ID        string // container ID, empty for native processes
	State     State
	StartedAt time.Time
	ExitCode  int
	Error     string
}

// Driver manages one gateway process.
type Driver interface {
	// Start spawns the process and returns once it is running. ctx bounds
	// the spawn only; the process outlives it.
	Start(ctx context.Context) error

	// Stop asks the process to exit, escalating after timeout. Stopping a
	// process that is not running is not an error.
	Stop(ctx context.Context, timeout time.Duration) error

	Info() ProcessInfo

	// Done is closed when the process exits. Nil before Start succeeds.
	Done() <-chan struct{}
}
