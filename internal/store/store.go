// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/ashureev/shsh-operator/internal/domain"
)

// AuditFilter selects audit entries.
type AuditFilter struct {
	RunID string
	Limit int
}

// Repository persists run records and mirrored audit entries.
type Repository interface {
	// CreateRun inserts a new run record.
	CreateRun(ctx context.Context, run *domain.Run) error

	// FinishRun records the terminal state of a run.
	FinishRun(ctx context.Context, runID string, state domain.RunState, steps int, errMsg string, finishedAt time.Time) error

	// GetRun retrieves a run by ID. Returns nil, nil if not found.
	GetRun(ctx context.Context, runID string) (*domain.Run, error)

	// ListRuns returns the most recent runs first.
	ListRuns(ctx context.Context, limit int) ([]*domain.Run, error)

	// AppendAudit stores one audit entry and sets its ID.
	AppendAudit(ctx context.Context, entry *domain.AuditEntry) error

	// ListAudit returns audit entries, newest first.
	ListAudit(ctx context.Context, filter AuditFilter) ([]*domain.AuditEntry, error)

	// PruneBefore deletes finished runs and audit entries older than cutoff.
	PruneBefore(ctx context.Context, cutoff time.Time) (runsDeleted int64, entriesDeleted int64, err error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
