// Package audit records every command execution attempt.
package audit

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ashureev/shsh-operator/internal/domain"
)

// Recorder is a sink for audit entries.
type Recorder interface {
	Record(ctx context.Context, entry domain.AuditEntry) error
}

// FileRecorder appends formatted entries to a text log. Each entry is written
// with a single append-mode write.
type FileRecorder struct {
	f *os.File
}

// NewFileRecorder opens path for appending, creating parent directories.
func NewFileRecorder(path string) (*FileRecorder, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create audit directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	return &FileRecorder{f: f}, nil
}

// Record appends one entry.
func (r *FileRecorder) Record(_ context.Context, entry domain.AuditEntry) error {
	if _, err := r.f.WriteString(entry.Format()); err != nil {
		return fmt.Errorf("write audit entry: %w", err)
	}
	return nil
}

// Close closes the log file.
func (r *FileRecorder) Close() error {
	return r.f.Close()
}

// EntryAppender persists structured audit entries.
type EntryAppender interface {
	AppendAudit(ctx context.Context, entry *domain.AuditEntry) error
}

// StoreRecorder mirrors entries into a repository.
type StoreRecorder struct {
	store EntryAppender
}

// NewStoreRecorder wraps a repository.
func NewStoreRecorder(store EntryAppender) *StoreRecorder {
	return &StoreRecorder{store: store}
}

// Record stores one entry.
func (r *StoreRecorder) Record(ctx context.Context, entry domain.AuditEntry) error {
	return r.store.AppendAudit(ctx, &entry)
}

type multiRecorder []Recorder

// Multi fans an entry out to every recorder. All recorders are attempted; the
// errors are joined.
func Multi(recorders ...Recorder) Recorder {
	var out multiRecorder
	for _, r := range recorders {
		if r != nil {
			out = append(out, r)
		}
	}
	return out
}

func (m multiRecorder) Record(ctx context.Context, entry domain.AuditEntry) error {
	var errs []error
	for _, r := range m {
		if err := r.Record(ctx, entry); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Func adapts a function to Recorder.
type Func func(ctx context.Context, entry domain.AuditEntry) error

// Record calls f.
func (f Func) Record(ctx context.Context, entry domain.AuditEntry) error {
	return f(ctx, entry)
}
