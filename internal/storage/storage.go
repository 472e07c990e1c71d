package storage

import (
	"context"
	"errors"
	"time"

	"github.com/Kintoyyy/codeshum-backend/internal/protocol"
)

// ErrNotFound is returned when no run matches an id or prefix.
var ErrNotFound = errors.New("run not found")

// RunStatus is the lifecycle state of a recorded run.
type RunStatus string

const (
	StatusCompiling    RunStatus = "compiling"
	StatusRunning      RunStatus = "running"
	StatusSucceeded    RunStatus = "succeeded"
	StatusFailed       RunStatus = "failed"
	StatusCompileError RunStatus = "compile_error"
	StatusTimedOut     RunStatus = "timed_out"
	StatusKilled       RunStatus = "killed"
	StatusSpawnError   RunStatus = "spawn_error"
)

// Final reports whether no further transition is expected.
func (s RunStatus) Final() bool {
	return s != StatusCompiling && s != StatusRunning
}

// Run is the audit record of one submit-and-run request.
type Run struct {
	ID          string                `json:"id"`
	SessionID   string                `json:"session_id"`
	Entry       string                `json:"entry"`
	Files       []string              `json:"files"`
	Status      RunStatus             `json:"status"`
	ExitCode    *int                  `json:"exit_code,omitempty"`
	Diagnostics []protocol.Diagnostic `json:"diagnostics,omitempty"`
	StartedAt   time.Time             `json:"started_at"`
	FinishedAt  time.Time             `json:"finished_at,omitzero"`
}

// Duration is zero while the run is still in progress.
func (r *Run) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// RunListOptions controls filtering and pagination for ListRuns.
type RunListOptions struct {
	SessionID string
	Status    RunStatus
	Limit     int
	Offset    int
}

// Store is the persistence interface for run history.
type Store interface {
	// CreateRun inserts a new run. The ID field must be set by the caller.
	CreateRun(ctx context.Context, r *Run) error

	// GetRun returns a run by ID or unique ID prefix.
	GetRun(ctx context.Context, id string) (*Run, error)

	// ListRuns returns runs ordered by started_at descending.
	ListRuns(ctx context.Context, opts RunListOptions) ([]Run, error)

	// UpdateRun writes the mutable fields (status, exit code, diagnostics).
	UpdateRun(ctx context.Context, r *Run) error

	// FinishRun stamps finished_at and writes the final state.
	FinishRun(ctx context.Context, r *Run) error

	// Close releases resources.
	Close() error
}
