//go:build integration && !nocontainer

package driver

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/benaskins/gateboot/internal/logbuf"
)

// Requires a reachable Docker daemon.
// Run with: go test -tags integration ./internal/driver/ -run TestContainer

func TestContainerStartStop(t *testing.T) {
	out := logbuf.New(50)
	d, err := NewContainer(ContainerConfig{
		Name:        "gateboot-test-start-stop",
		Image:       "alpine:latest",
		Cmd:         []string{"sh", "-c", "echo gateway up; sleep 60"},
		NetworkMode: "bridge",
		Output:      out,
	})
	if err != nil {
		t.Fatalf("NewContainer: %v", err)
	}
	defer d.Close()

	ctx := context.Background()
	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if info := d.Info(); info.State != StateRunning || info.ID == "" {
		t.Fatalf("expected running container with ID, got %+v", info)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if strings.Contains(strings.Join(out.Lines(), "\n"), "gateway up") {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}

	if err := d.Stop(ctx, 2*time.Second); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if info := d.Info(); info.State != StateStopped {
		t.Errorf("expected stopped, got %v", info.State)
	}
	if !strings.Contains(strings.Join(out.Lines(), "\n"), "gateway up") {
		t.Errorf("expected container output captured, got %q", out.Lines())
	}
}

func TestContainerExitsOnItsOwn(t *testing.T) {
	d, err := NewContainer(ContainerConfig{
		Name:        "gateboot-test-exit",
		Image:       "alpine:latest",
		Cmd:         []string{"sh", "-c", "exit 3"},
		NetworkMode: "bridge",
	})
	if err != nil {
		t.Fatalf("NewContainer: %v", err)
	}
	defer d.Close()

	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	select {
	case <-d.Done():
	case <-time.After(30 * time.Second):
		t.Fatal("container did not exit")
	}

	info := d.Info()
	if info.State != StateExited || info.ExitCode != 3 {
		t.Errorf("expected exited with code 3, got %+v", info)
	}
	_ = d.Stop(context.Background(), time.Second)
}
