package store

import (
	"context"
	"time"

	"github.com/modporter/api/internal/model"
)

// JobFilter narrows List results.
type JobFilter struct {
	Status model.JobStatus
}

// JobStore is the single source of truth for conversion jobs, their progress
// rows and their results. Implementations must apply every multi-field state
// change atomically and serialize concurrent mutations of the same job.
type JobStore interface {
	// Create inserts a new job in state queued with progress 0.
	Create(ctx context.Context, artifactID string, opts model.ConvertOptions) (*model.ConversionJob, error)

	// Get returns a job snapshot. ErrNotFound if unknown.
	Get(ctx context.Context, id string) (*model.ConversionJob, error)

	// List returns a page of job snapshots, newest first.
	List(ctx context.Context, filter JobFilter, page, pageSize int) ([]*model.ConversionJob, int, error)

	// Transition advances the job to next. ErrInvalidTransition unless next
	// is the declared successor of the current state.
	Transition(ctx context.Context, id string, next model.JobStatus) error

	// Fail moves a non-terminal job to failed with the given reason.
	// ErrConflict if the job is already terminal.
	Fail(ctx context.Context, id, reason string) error

	// UpdateProgress writes the progress row. ErrInvalidArgument if percent
	// is outside [0,100] or regresses while the job is active.
	UpdateProgress(ctx context.Context, id string, percent int, stage string) error

	// GetProgress returns the 1:1 progress row for a job.
	GetProgress(ctx context.Context, id string) (*model.JobProgress, error)

	// ClaimExecution acquires the per-job execution claim. Returns false if
	// another execution already holds it.
	ClaimExecution(ctx context.Context, id string, ttl time.Duration) (bool, error)

	// ReleaseExecution drops the execution claim.
	ReleaseExecution(ctx context.Context, id string) error

	// RequestCancel flags a non-terminal job for cancellation. The flag is
	// observed by the coordinator at the next stage boundary.
	RequestCancel(ctx context.Context, id, reason string) error

	// CancelRequested reports whether cancellation was requested.
	CancelRequested(ctx context.Context, id string) (string, bool, error)

	// FinalizeResult writes the conversion result and transitions the job to
	// completed in one atomic step. A result must never be observable for a
	// non-terminal job.
	FinalizeResult(ctx context.Context, id string, report model.ConversionReport) (*model.ConversionResult, error)

	// GetResult returns the finalized result. ErrNotFound before finalization.
	GetResult(ctx context.Context, id string) (*model.ConversionResult, error)

	// ListStuck returns ids of non-terminal jobs untouched since cutoff.
	ListStuck(ctx context.Context, cutoff time.Time) ([]string, error)
}
