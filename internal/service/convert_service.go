package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/hibiken/asynq"

	"github.com/modporter/api/internal/model"
	"github.com/modporter/api/internal/store"
)

const (
	TaskTypeConvert = "convert:process"
	TaskTypeSweep   = "maintenance:sweep"
)

// ConvertTaskPayload is the queue payload for a conversion run. The job row
// itself is the source of truth; the task only names it.
type ConvertTaskPayload struct {
	JobID string `json:"jobId"`
}

// Runner executes a job's pipeline. Implemented by pipeline.Coordinator;
// the service only needs it for inline mode.
type Runner interface {
	Run(ctx context.Context, job *model.ConversionJob, artifact *model.ArtifactRef) error
}

// ConvertService handles conversion job management: creation, queueing and
// status/result queries.
type ConvertService struct {
	jobs        store.JobStore
	artifacts   store.ArtifactStore
	asynqClient *asynq.Client
	local       Runner
}

func NewConvertService(jobs store.JobStore, artifacts store.ArtifactStore, asynqClient *asynq.Client) *ConvertService {
	return &ConvertService{
		jobs:        jobs,
		artifacts:   artifacts,
		asynqClient: asynqClient,
	}
}

// SetLocalRunner installs an in-process runner used when no queue client is
// configured, so the service still works without Redis.
func (s *ConvertService) SetLocalRunner(r Runner) {
	s.local = r
}

// Start validates the artifact reference, creates the job and queues it.
func (s *ConvertService) Start(ctx context.Context, req *model.ConvertStartRequest) (*model.ConvertStartResponse, error) {
	artifact, err := s.artifacts.Get(ctx, req.ArtifactID)
	if err != nil {
		return nil, fmt.Errorf("artifact %s: %w", req.ArtifactID, err)
	}

	opts := req.Options
	if opts.Assumptions == "" {
		opts.Assumptions = model.AssumptionConservative
	}

	job, err := s.jobs.Create(ctx, artifact.ID, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}

	if s.asynqClient != nil {
		task, err := newConvertTask(job.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to create task: %w", err)
		}
		_, err = s.asynqClient.Enqueue(task,
			asynq.Queue("convert"),
			asynq.MaxRetry(3),
			asynq.Timeout(2*time.Hour),
			asynq.Retention(24*time.Hour),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to enqueue task: %w", err)
		}
	} else if s.local != nil {
		go func() {
			if err := s.local.Run(context.Background(), job, artifact); err != nil {
				log.Printf("Inline pipeline run for job %s failed: %v", job.ID, err)
			}
		}()
	}

	return &model.ConvertStartResponse{
		JobID:     job.ID,
		Status:    job.Status,
		CreatedAt: job.CreatedAt,
	}, nil
}

// GetStatus returns the job snapshot joined with its progress row.
func (s *ConvertService) GetStatus(ctx context.Context, jobID string) (*model.ConvertStatusResponse, error) {
	job, err := s.jobs.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	progress, err := s.jobs.GetProgress(ctx, jobID)
	if err != nil {
		return nil, err
	}

	return &model.ConvertStatusResponse{
		JobID:        job.ID,
		Status:       job.Status,
		Progress:     progress.Progress,
		CurrentStage: progress.CurrentStage,
		Error:        job.Error,
		CreatedAt:    job.CreatedAt,
		StartedAt:    job.StartedAt,
		CompletedAt:  job.CompletedAt,
	}, nil
}

// GetResult returns the finalized conversion report. store.ErrNotFound until
// the job has finalized.
func (s *ConvertService) GetResult(ctx context.Context, jobID string) (*model.ConversionResult, error) {
	return s.jobs.GetResult(ctx, jobID)
}

// Cancel flags the job for cancellation; the coordinator observes the flag
// at the next stage boundary.
func (s *ConvertService) Cancel(ctx context.Context, jobID, reason string) (*model.ConvertCancelResponse, error) {
	if err := s.jobs.RequestCancel(ctx, jobID, reason); err != nil {
		return nil, err
	}
	return &model.ConvertCancelResponse{Success: true, JobID: jobID}, nil
}

// List returns a page of job snapshots.
func (s *ConvertService) List(ctx context.Context, status string, page, pageSize int) (*model.JobListResponse, error) {
	filter := store.JobFilter{}
	if status != "" {
		st := model.JobStatus(status)
		if !st.Valid() {
			return nil, fmt.Errorf("%w: unknown status %q", store.ErrInvalidArgument, status)
		}
		filter.Status = st
	}

	jobs, total, err := s.jobs.List(ctx, filter, page, pageSize)
	if err != nil {
		return nil, err
	}
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	return &model.JobListResponse{
		Jobs:     jobs,
		Page:     page,
		PageSize: pageSize,
		Total:    total,
	}, nil
}

// ResolveArtifact loads the artifact for a job, for worker use.
func (s *ConvertService) ResolveArtifact(ctx context.Context, artifactID string) (*model.ArtifactRef, error) {
	return s.artifacts.Get(ctx, artifactID)
}

// Job loads a job snapshot, for worker use.
func (s *ConvertService) Job(ctx context.Context, jobID string) (*model.ConversionJob, error) {
	return s.jobs.Get(ctx, jobID)
}

// FailJob marks a job failed with a reason, for worker use.
func (s *ConvertService) FailJob(ctx context.Context, jobID, reason string) error {
	return s.jobs.Fail(ctx, jobID, reason)
}

func newConvertTask(jobID string) (*asynq.Task, error) {
	data, err := json.Marshal(ConvertTaskPayload{JobID: jobID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeConvert, data), nil
}
