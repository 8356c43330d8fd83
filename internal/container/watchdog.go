package container

import (
	"context"
	"log/slog"
	"time"
)

const watchdogInterval = 30 * time.Second

// StatusFunc receives the sandbox health after every check.
type StatusFunc func(running bool)

// StartWatchdog runs a background goroutine that periodically checks the
// sandbox container and restarts it when it is not running.
func StartWatchdog(ctx context.Context, mgr Manager, spec SandboxSpec, interval time.Duration, onStatus StatusFunc) {
	if interval <= 0 {
		interval = watchdogInterval
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		slog.Info("Sandbox watchdog started", "interval", interval, "name", spec.Name)

		for {
			select {
			case <-ticker.C:
				checkSandbox(ctx, mgr, spec, onStatus)
			case <-ctx.Done():
				slog.Info("Sandbox watchdog shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

func checkSandbox(ctx context.Context, mgr Manager, spec SandboxSpec, onStatus StatusFunc) {
	running, err := mgr.IsRunning(ctx, spec.Name)
	if err != nil {
		slog.Error("Sandbox watchdog failed to inspect container", "error", err, "name", spec.Name)
	}
	if !running && err == nil {
		slog.Warn("Sandbox not running, restarting", "name", spec.Name)
		if _, ensureErr := mgr.EnsureSandbox(ctx, spec); ensureErr != nil {
			slog.Error("Sandbox watchdog failed to restart container", "error", ensureErr, "name", spec.Name)
		} else {
			running = true
		}
	}
	if onStatus != nil {
		onStatus(running)
	}
}
