package worker

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/hibiken/asynq"

	"github.com/modporter/api/internal/service"
	"github.com/modporter/api/internal/store"
)

// Reaper sweeps expired upload sessions and fails jobs that have been
// running past the deadline without reaching a terminal state.
type Reaper struct {
	uploads     *service.UploadService
	jobs        store.JobStore
	jobDeadline time.Duration
}

// NewReaper creates a new maintenance reaper
func NewReaper(uploads *service.UploadService, jobs store.JobStore, jobDeadline time.Duration) *Reaper {
	return &Reaper{
		uploads:     uploads,
		jobs:        jobs,
		jobDeadline: jobDeadline,
	}
}

// ProcessTask handles one sweep tick.
func (r *Reaper) ProcessTask(ctx context.Context, _ *asynq.Task) error {
	return r.Sweep(ctx, time.Now())
}

// Sweep performs a single maintenance pass. Per-entity failures are logged
// and skipped so one bad row cannot wedge the sweep.
func (r *Reaper) Sweep(ctx context.Context, now time.Time) error {
	swept, err := r.uploads.SweepExpired(ctx, now)
	if err != nil {
		log.Printf("Upload session sweep failed: %v", err)
	} else if swept > 0 {
		log.Printf("Reaped %d expired upload sessions", swept)
	}

	expired, err := r.uploads.SweepExpiredArtifacts(ctx, now)
	if err != nil {
		log.Printf("Artifact sweep failed: %v", err)
	} else if expired > 0 {
		log.Printf("Reaped %d expired artifacts", expired)
	}

	cutoff := now.Add(-r.jobDeadline)
	stuck, err := r.jobs.ListStuck(ctx, cutoff)
	if err != nil {
		log.Printf("Stuck job scan failed: %v", err)
		return nil
	}
	failed := 0
	for _, jobID := range stuck {
		if err := r.jobs.Fail(ctx, jobID, "conversion timed out"); err != nil {
			if !errors.Is(err, store.ErrNotFound) && !errors.Is(err, store.ErrConflict) {
				log.Printf("Failed to time out job %s: %v", jobID, err)
			}
			continue
		}
		failed++
	}
	if failed > 0 {
		log.Printf("Timed out %d stuck conversion jobs", failed)
	}
	return nil
}
