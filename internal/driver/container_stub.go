//go:build nocontainer

package driver

import (
	"context"
	"errors"
	"io"
	"time"
)

var errNoContainer = errors.New("container support excluded (built with nocontainer tag)")

// ContainerConfig describes a gateway image to run.
type ContainerConfig struct {
	Name        string
	Image       string
	Env         []string
	Cmd         []string
	NetworkMode string
	Output      io.Writer
}

// ContainerDriver is a placeholder when container support is compiled out.
type ContainerDriver struct{}

// NewContainer always fails under the nocontainer tag.
func NewContainer(cfg ContainerConfig) (*ContainerDriver, error) {
	return nil, errNoContainer
}

func (d *ContainerDriver) Start(ctx context.Context) error                 { return errNoContainer }
func (d *ContainerDriver) Stop(ctx context.Context, _ time.Duration) error { return nil }
func (d *ContainerDriver) Info() ProcessInfo                               { return ProcessInfo{State: StateStopped} }
func (d *ContainerDriver) Done() <-chan struct{}                           { return nil }
func (d *ContainerDriver) Close() error                                    { return nil }

// ImagePresent always fails under the nocontainer tag.
func ImagePresent(ctx context.Context, image string) (bool, error) {
	return false, errNoContainer
}
