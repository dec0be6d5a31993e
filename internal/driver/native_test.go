package driver

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/benaskins/gateboot/internal/logbuf"
)

func waitDone(t *testing.T, d Driver) {
	t.Helper()
	select {
	case <-d.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("process did not exit")
	}
}

func TestNativeStartAndExit(t *testing.T) {
	out := logbuf.New(10)
	d := NewNative(NativeConfig{
		Command: "echo",
		Args:    []string{"gateway", "listening"},
		Output:  out,
	})

	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("failed to start: %v", err)
	}
	if info := d.Info(); info.PID <= 0 {
		t.Errorf("expected positive PID, got %d", info.PID)
	}

	waitDone(t, d)

	info := d.Info()
	// Nobody asked it to stop, so the exit is unexpected.
	if info.State != StateExited {
		t.Errorf("expected exited, got %v", info.State)
	}
	if info.ExitCode != 0 {
		t.Errorf("expected exit code 0, got %d", info.ExitCode)
	}
	lines := out.Lines()
	if len(lines) != 1 || lines[0] != "gateway listening" {
		t.Errorf("expected captured output, got %q", lines)
	}
}

func TestNativeStartOutlivesContext(t *testing.T) {
	d := NewNative(NativeConfig{Command: "sleep", Args: []string{"60"}})

	ctx, cancel := context.WithCancel(context.Background())
	if err := d.Start(ctx); err != nil {
		t.Fatalf("failed to start: %v", err)
	}
	cancel()
	defer d.Stop(context.Background(), time.Second)

	time.Sleep(100 * time.Millisecond)
	if info := d.Info(); info.State != StateRunning {
		t.Errorf("expected process to survive its start context, got %v", info.State)
	}
}

func TestNativeStopGraceful(t *testing.T) {
	d := NewNative(NativeConfig{Command: "sleep", Args: []string{"60"}})

	ctx := context.Background()
	if err := d.Start(ctx); err != nil {
		t.Fatalf("failed to start: %v", err)
	}
	if info := d.Info(); info.State != StateRunning {
		t.Fatalf("expected running, got %v", info.State)
	}

	if err := d.Stop(ctx, 5*time.Second); err != nil {
		t.Fatalf("failed to stop: %v", err)
	}
	if info := d.Info(); info.State != StateStopped {
		t.Errorf("expected stopped, got %v", info.State)
	}
}

func TestNativeStopEscalatesToKill(t *testing.T) {
	// Ignores SIGTERM so only SIGKILL ends it.
	d := NewNative(NativeConfig{Command: "sh", Args: []string{"-c", "trap '' TERM; sleep 60"}})

	ctx := context.Background()
	if err := d.Start(ctx); err != nil {
		t.Fatalf("failed to start: %v", err)
	}
	time.Sleep(100 * time.Millisecond)

	done := make(chan error, 1)
	go func() { done <- d.Stop(ctx, 50*time.Millisecond) }()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Stop hung after SIGKILL")
	}
	if info := d.Info(); info.State != StateStopped {
		t.Errorf("expected stopped, got %v", info.State)
	}
}

func TestNativeFailedExit(t *testing.T) {
	d := NewNative(NativeConfig{Command: "false"})

	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("failed to start: %v", err)
	}
	waitDone(t, d)

	info := d.Info()
	if info.ExitCode != 1 {
		t.Errorf("expected exit code 1, got %d", info.ExitCode)
	}
	if info.Error == "" {
		t.Error("expected exit error recorded")
	}
}

func TestNativeEnvironment(t *testing.T) {
	out := logbuf.New(10)
	d := NewNative(NativeConfig{
		Command: "printenv",
		Args:    []string{"PORT"},
		Env:     []string{"PORT=8484"},
		Output:  out,
	})

	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("failed to start: %v", err)
	}
	waitDone(t, d)

	lines := out.Lines()
	if len(lines) == 0 || strings.TrimSpace(lines[0]) != "8484" {
		t.Errorf("expected PORT in output, got %q", lines)
	}
}

func TestNativeMissingBinary(t *testing.T) {
	d := NewNative(NativeConfig{Command: "/nonexistent/local-runtime-gateway"})

	err := d.Start(context.Background())
	if err == nil {
		t.Fatal("expected spawn error")
	}
	info := d.Info()
	if info.State != StateFailed || info.Error == "" {
		t.Errorf("expected failed state with error, got %+v", info)
	}
	if d.Done() != nil {
		t.Error("expected nil done channel for a process that never started")
	}
}

func TestNativeNoCommand(t *testing.T) {
	if err := NewNative(NativeConfig{}).Start(context.Background()); err == nil {
		t.Fatal("expected error without a command")
	}
}

func TestNativeDoubleStart(t *testing.T) {
	d := NewNative(NativeConfig{Command: "sleep", Args: []string{"60"}})

	ctx := context.Background()
	if err := d.Start(ctx); err != nil {
		t.Fatalf("failed to start: %v", err)
	}
	defer d.Stop(ctx, 2*time.Second)

	if err := d.Start(ctx); err == nil {
		t.Error("expected error on double start")
	}
}

func TestNativeRestartAfterExit(t *testing.T) {
	d := NewNative(NativeConfig{Command: "true"})

	for i := 0; i < 2; i++ {
		if err := d.Start(context.Background()); err != nil {
			t.Fatalf("start %d: %v", i, err)
		}
		waitDone(t, d)
	}
}

func TestNativeStopNotRunning(t *testing.T) {
	d := NewNative(NativeConfig{Command: "true"})
	if err := d.Stop(context.Background(), time.Second); err != nil {
		t.Errorf("unexpected error stopping unstarted process: %v", err)
	}

	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("failed to start: %v", err)
	}
	waitDone(t, d)

	if err := d.Stop(context.Background(), time.Second); err != nil {
		t.Errorf("unexpected error stopping exited process: %v", err)
	}
}
