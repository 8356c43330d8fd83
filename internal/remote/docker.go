package remote

import (
	"context"
	"fmt"
	"io"
)

// ContainerExecer runs processes inside a named container.
type ContainerExecer interface {
	IsRunning(ctx context.Context, containerID string) (bool, error)
	Exec(ctx context.Context, containerID string, cmd []string, stdin io.Reader, stdout, stderr io.Writer) (int, error)
}

// DockerTransport runs commands through `docker exec` in the sandbox container.
type DockerTransport struct {
	execer    ContainerExecer
	container string
}

// NewDockerDialer returns a Dialer bound to one container.
func NewDockerDialer(execer ContainerExecer, container string) Dialer {
	return func() Transport {
		return &DockerTransport{execer: execer, container: container}
	}
}

// Connect verifies the container is running.
func (t *DockerTransport) Connect(ctx context.Context) error {
	running, err := t.execer.IsRunning(ctx, t.container)
	if err != nil {
		return err
	}
	if !running {
		return fmt.Errorf("container %s is not running", t.container)
	}
	return nil
}

// Exec runs command under /bin/sh -c.
func (t *DockerTransport) Exec(ctx context.Context, command string, stdin io.Reader, stdout, stderr io.Writer) (int, error) {
	return t.execer.Exec(ctx, t.container, []string{"/bin/sh", "-c", command}, stdin, stdout, stderr)
}

// Close is a no-op; the container outlives the run.
func (t *DockerTransport) Close() error {
	return nil
}
