package store

import (
	"context"
	"log/slog"
	"time"
)

const retentionInterval = 5 * time.Minute

// StartRetentionWorker runs a background goroutine that periodically deletes
// runs and audit entries older than retention.
func StartRetentionWorker(ctx context.Context, repo Repository, retention time.Duration) {
	ticker := time.NewTicker(retentionInterval)
	go func() {
		defer ticker.Stop()
		slog.Info("Retention worker started", "interval", retentionInterval, "retention", retention)

		for {
			select {
			case <-ticker.C:
				pruneExpired(ctx, repo, retention, time.Now())
			case <-ctx.Done():
				slog.Info("Retention worker shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

func pruneExpired(ctx context.Context, repo Repository, retention time.Duration, now time.Time) {
	runs, entries, err := repo.PruneBefore(ctx, now.Add(-retention))
	if err != nil {
		if ctx.Err() != nil {
			slog.Debug("Retention worker interrupted", "error", err)
			return
		}
		slog.Error("Retention worker failed to prune", "error", err)
		return
	}
	if runs > 0 || entries > 0 {
		slog.Info("Retention worker pruned records", "runs", runs, "audit_entries", entries)
	}
}
