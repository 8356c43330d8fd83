// Package container manages the Docker sandbox the agent operates on.
package container

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"
)

const (
	stopTimeoutSecs  = 10
	sshContainerPort = "22"

	createRetryAttempts = 20
	createRetryDelay    = 250 * time.Millisecond
)

// SandboxSpec describes the sandbox container.
type SandboxSpec struct {
	Image               string
	Name                string
	Runtime             string // "" = default (runc), "runsc" = gVisor
	SSHPort             int    // host port bound to the container's sshd
	HostSharedPath      string
	ContainerSharedPath string
	Env                 map[string]string
}

// Manager defines the interface for managing the sandbox container.
type Manager interface {
	// EnsureSandbox ensures the sandbox container exists and is running.
	EnsureSandbox(ctx context.Context, spec SandboxSpec) (string, error)

	// StopContainer stops and removes a container.
	StopContainer(ctx context.Context, containerID string) error

	// IsRunning checks if a container is currently running.
	IsRunning(ctx context.Context, containerID string) (bool, error)

	// Exec runs cmd in the container and returns its exit code.
	Exec(ctx context.Context, containerID string, cmd []string, stdin io.Reader, stdout, stderr io.Writer) (int, error)

	// Close releases the Docker client.
	Close() error
}

// DockerManager implements Manager using the Docker API.
type DockerManager struct {
	cli *client.Client
}

// NewDockerManager creates a new Docker-backed container manager.
func NewDockerManager() (*DockerManager, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	slog.Info("Docker client initialized")
	return &DockerManager{cli: cli}, nil
}

// EnsureSandbox starts the named sandbox container, creating it if needed.
func (m *DockerManager) EnsureSandbox(ctx context.Context, spec SandboxSpec) (string, error) {
	inspect, err := m.cli.ContainerInspect(ctx, spec.Name)
	if err == nil {
		if inspect.State.Running {
			slog.Info("Sandbox already running", "container_id", inspect.ID, "name", spec.Name)
			return inspect.ID, nil
		}
		slog.Info("Starting stopped sandbox", "container_id", inspect.ID, "name", spec.Name)
		if err := m.cli.ContainerStart(ctx, inspect.ID, container.StartOptions{}); err != nil {
			return "", fmt.Errorf("start sandbox %s: %w", inspect.ID, err)
		}
		return inspect.ID, nil
	}
	if !errdefs.IsNotFound(err) {
		return "", fmt.Errorf("inspect sandbox %s: %w", spec.Name, err)
	}

	cfg, hostCfg, err := sandboxConfig(spec)
	if err != nil {
		return "", err
	}

	slog.Info("Creating sandbox container", "name", spec.Name, "image", spec.Image, "ssh_port", spec.SSHPort)

	var resp container.CreateResponse
	var createErr error
	for i := 0; i < createRetryAttempts; i++ {
		resp, createErr = m.cli.ContainerCreate(ctx, cfg, hostCfg, nil, nil, spec.Name)
		if createErr == nil {
			break
		}

		errStr := strings.ToLower(createErr.Error())
		if !strings.Contains(errStr, "is already in use") && !strings.Contains(errStr, "conflict") {
			return "", fmt.Errorf("create sandbox: %w", createErr)
		}

		// A delayed cleanup can leave the old named container briefly.
		slog.Warn("Sandbox name conflict during create, retrying",
			"name", spec.Name,
			"attempt", i+1,
			"error", createErr,
		)
		if existing, inspectErr := m.cli.ContainerInspect(ctx, spec.Name); inspectErr == nil {
			if stopErr := m.StopContainer(ctx, existing.ID); stopErr != nil {
				slog.Warn("Failed to stop conflicting sandbox before retry", "container_id", existing.ID, "error", stopErr)
			}
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(createRetryDelay):
		}
	}
	if createErr != nil {
		return "", fmt.Errorf("create sandbox after retries: %w", createErr)
	}

	if err := m.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		if removeErr := m.cli.ContainerRemove(ctx, resp.ID, container.RemoveOptions{Force: true}); removeErr != nil && !errors.Is(removeErr, context.Canceled) {
			slog.Warn("Failed to remove sandbox after start failure", "container_id", resp.ID, "error", removeErr)
		}
		return "", fmt.Errorf("start sandbox %s: %w", resp.ID, err)
	}

	// gVisor netstack often fails with Docker's embedded DNS.
	if spec.Runtime == "runsc" {
		if err := m.fixDNS(ctx, resp.ID); err != nil {
			slog.Warn("Failed to apply DNS fix", "error", err)
		}
	}

	slog.Info("Sandbox created and started", "container_id", resp.ID, "name", spec.Name)
	return resp.ID, nil
}

func sandboxConfig(spec SandboxSpec) (*container.Config, *container.HostConfig, error) {
	port, err := nat.NewPort("tcp", sshContainerPort)
	if err != nil {
		return nil, nil, fmt.Errorf("parse sandbox port: %w", err)
	}

	envVars := make([]string, 0, len(spec.Env))
	for k, v := range spec.Env {
		envVars = append(envVars, fmt.Sprintf("%s=%s", k, v))
	}

	cfg := &container.Config{
		Image:        spec.Image,
		Env:          envVars,
		ExposedPorts: nat.PortSet{port: struct{}{}},
	}

	hostCfg := &container.HostConfig{
		Runtime: spec.Runtime,
		PortBindings: nat.PortMap{
			port: []nat.PortBinding{{HostPort: strconv.Itoa(spec.SSHPort)}},
		},
		RestartPolicy: container.RestartPolicy{Name: container.RestartPolicyUnlessStopped},
	}

	if spec.HostSharedPath != "" && spec.ContainerSharedPath != "" {
		source, err := filepath.Abs(spec.HostSharedPath)
		if err != nil {
			return nil, nil, fmt.Errorf("resolve shared path: %w", err)
		}
		if err := os.MkdirAll(source, 0755); err != nil {
			return nil, nil, fmt.Errorf("create shared path: %w", err)
		}
		hostCfg.Mounts = []mount.Mount{{
			Type:   mount.TypeBind,
			Source: source,
			Target: spec.ContainerSharedPath,
		}}
	}

	return cfg, hostCfg, nil
}

// fixDNS forces public DNS servers into /etc/resolv.conf (gVisor workaround).
func (m *DockerManager) fixDNS(ctx context.Context, containerID string) error {
	cmd := []string{"sh", "-c", "echo 'nameserver 8.8.8.8' > /etc/resolv.conf && echo 'nameserver 8.8.4.4' >> /etc/resolv.conf"}
	code, err := m.Exec(ctx, containerID, cmd, nil, io.Discard, io.Discard)
	if err != nil {
		return fmt.Errorf("dns fix: %w", err)
	}
	if code != 0 {
		return fmt.Errorf("dns fix command failed with exit code %d", code)
	}
	return nil
}

// Exec runs cmd in the container with demultiplexed stdout/stderr. When ctx
// ends first the attach stream is closed and ctx.Err() is returned.
func (m *DockerManager) Exec(ctx context.Context, containerID string, cmd []string, stdin io.Reader, stdout, stderr io.Writer) (int, error) {
	resp, err := m.cli.ContainerExecCreate(ctx, containerID, container.ExecOptions{
		AttachStdin:  stdin != nil,
		AttachStdout: true,
		AttachStderr: true,
		Cmd:          cmd,
	})
	if err != nil {
		return 0, fmt.Errorf("create exec in container %s: %w", containerID, err)
	}

	attach, err := m.cli.ContainerExecAttach(ctx, resp.ID, container.ExecStartOptions{})
	if err != nil {
		return 0, fmt.Errorf("attach exec %s: %w", resp.ID, err)
	}
	defer attach.Close()

	if stdin != nil {
		go func() {
			if _, err := io.Copy(attach.Conn, stdin); err != nil {
				slog.Debug("Exec stdin copy failed", "exec_id", resp.ID, "error", err)
			}
			_ = attach.CloseWrite()
		}()
	}

	done := make(chan error, 1)
	go func() {
		_, err := stdcopy.StdCopy(stdout, stderr, attach.Reader)
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			return 0, fmt.Errorf("read exec output: %w", err)
		}
	case <-ctx.Done():
		attach.Close()
		return 0, ctx.Err()
	}

	inspect, err := m.cli.ContainerExecInspect(ctx, resp.ID)
	if err != nil {
		return 0, fmt.Errorf("inspect exec %s: %w", resp.ID, err)
	}
	return inspect.ExitCode, nil
}

// StopContainer stops and removes a container.
// It is idempotent and handles concurrent calls gracefully.
func (m *DockerManager) StopContainer(ctx context.Context, containerID string) error {
	slog.Info("Stopping container", "container_id", containerID)

	_, err := m.cli.ContainerInspect(ctx, containerID)
	if err != nil {
		if errdefs.IsNotFound(err) {
			slog.Debug("Container already removed", "container_id", containerID)
			return nil
		}
		return fmt.Errorf("inspect container %s: %w", containerID, err)
	}

	timeout := stopTimeoutSecs
	if err := m.cli.ContainerStop(ctx, containerID, container.StopOptions{Timeout: &timeout}); err != nil {
		if errdefs.IsNotFound(err) {
			slog.Debug("Container already stopped/removed", "container_id", containerID)
		} else {
			slog.Debug("Container stop returned error, continuing to remove", "container_id", containerID, "error", err)
		}
	}

	if err := m.cli.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true}); err != nil {
		if errdefs.IsNotFound(err) || strings.Contains(err.Error(), "is already in progress") {
			return nil
		}
		if ctx.Err() != nil {
			slog.Debug("Context canceled during remove, container may still be removed", "container_id", containerID, "error", err)
			return nil
		}
		return fmt.Errorf("remove container %s: %w", containerID, err)
	}

	slog.Info("Container stopped and removed", "container_id", containerID)
	return nil
}

// IsRunning checks if a container is currently running.
func (m *DockerManager) IsRunning(ctx context.Context, containerID string) (bool, error) {
	inspect, err := m.cli.ContainerInspect(ctx, containerID)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("inspect container %s: %w", containerID, err)
	}
	return inspect.State.Running, nil
}

// Close releases the Docker client.
func (m *DockerManager) Close() error {
	return m.cli.Close()
}
