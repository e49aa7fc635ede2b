package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/hibiken/asynq"

	"github.com/modporter/api/internal/pipeline"
	"github.com/modporter/api/internal/service"
	"github.com/modporter/api/internal/store"
)

// ConvertWorker processes queued conversion jobs by handing them to the
// pipeline coordinator.
type ConvertWorker struct {
	convertService *service.ConvertService
	coordinator    *pipeline.Coordinator
}

// NewConvertWorker creates a new conversion worker
func NewConvertWorker(convertService *service.ConvertService, coordinator *pipeline.Coordinator) *ConvertWorker {
	return &ConvertWorker{
		convertService: convertService,
		coordinator:    coordinator,
	}
}

// ProcessTask handles one queued conversion task.
func (w *ConvertWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload service.ConvertTaskPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal task payload: %w", err)
	}

	log.Printf("Starting conversion job: %s", payload.JobID)

	job, err := w.convertService.Job(ctx, payload.JobID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Job row expired; nothing left to do.
			log.Printf("Job %s no longer exists, dropping task", payload.JobID)
			return nil
		}
		return fmt.Errorf("failed to load job %s: %w", payload.JobID, err)
	}
	if job.Status.Terminal() {
		log.Printf("Job %s already terminal (%s), dropping task", job.ID, job.Status)
		return nil
	}

	artifact, err := w.convertService.ResolveArtifact(ctx, job.ArtifactID)
	if err != nil {
		if failErr := w.convertService.FailJob(ctx, job.ID, "source artifact no longer available"); failErr != nil {
			return fmt.Errorf("failed to fail job %s: %w", job.ID, failErr)
		}
		return nil
	}

	return w.coordinator.Run(ctx, job, artifact)
}
