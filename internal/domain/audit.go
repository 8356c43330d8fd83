package domain

import (
	"fmt"
	"strings"
	"time"
)

// Preview widths for audit entries, in characters.
const (
	AuditInputPreview  = 50
	AuditOutputPreview = 100
)

const auditTimeLayout = "2006-01-02 15:04:05"

// AuditEntry records one command execution attempt with truncated previews.
type AuditEntry struct {
	ID        int64     `json:"id,omitempty"`
	RunID     string    `json:"run_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Command   string    `json:"command"`
	Input     string    `json:"input"`
	Stdout    string    `json:"stdout"`
	Stderr    string    `json:"stderr"`
	ExitCode  int       `json:"exit_code"`
}

// NewAuditEntry builds an entry, truncating input and outputs.
func NewAuditEntry(ts time.Time, runID, command, input string, outcome CommandOutcome) AuditEntry {
	return AuditEntry{
		RunID:     runID,
		Timestamp: ts,
		Command:   command,
		Input:     Truncate(input, AuditInputPreview),
		Stdout:    Truncate(outcome.Stdout, AuditOutputPreview),
		Stderr:    Truncate(outcome.Stderr, AuditOutputPreview),
		ExitCode:  outcome.ExitCode,
	}
}

// Format renders the multi-line text record.
func (e AuditEntry) Format() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] CMD: %s\n", e.Timestamp.Format(auditTimeLayout), e.Command)
	fmt.Fprintf(&b, "IN: %s...\n", e.Input)
	fmt.Fprintf(&b, "OUT: %s...\n", e.Stdout)
	fmt.Fprintf(&b, "ERR: %s...\n", e.Stderr)
	fmt.Fprintf(&b, "CODE: %d\n", e.ExitCode)
	b.WriteString(strings.Repeat("=", 50))
	b.WriteByte('\n')
	return b.String()
}

// Truncate returns the first n runes of s.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
