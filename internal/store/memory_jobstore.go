package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/modporter/api/internal/model"
)

type memoryJob struct {
	job           model.ConversionJob
	progress      model.JobProgress
	result        *model.ConversionResult
	cancelPending bool
	cancelReason  string
	claimed       bool
}

// MemoryJobStore is the in-process JobStore used when Redis is not
// configured and in tests. Semantics mirror RedisJobStore; a single mutex
// stands in for the per-job atomicity the Lua scripts provide.
type MemoryJobStore struct {
	mu   sync.Mutex
	jobs map[string]*memoryJob
}

func NewMemoryJobStore() *MemoryJobStore {
	return &MemoryJobStore{jobs: make(map[string]*memoryJob)}
}

func (s *MemoryJobStore) Create(ctx context.Context, artifactID string, opts model.ConvertOptions) (*model.ConversionJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	job := model.ConversionJob{
		ID:         uuid.New().String(),
		Status:     model.JobStatusQueued,
		ArtifactID: artifactID,
		Options:    opts,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	s.jobs[job.ID] = &memoryJob{
		job:      job,
		progress: model.JobProgress{JobID: job.ID, LastUpdate: now},
	}

	snapshot := job
	return &snapshot, nil
}

func (s *MemoryJobStore) Get(ctx context.Context, id string) (*model.ConversionJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	snapshot := entry.job
	return &snapshot, nil
}

func (s *MemoryJobStore) List(ctx context.Context, filter JobFilter, page, pageSize int) ([]*model.ConversionJob, int, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	matched := make([]*model.ConversionJob, 0, len(s.jobs))
	for _, entry := range s.jobs {
		if filter.Status != "" && entry.job.Status != filter.Status {
			continue
		}
		snapshot := entry.job
		matched = append(matched, &snapshot)
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)
	start := (page - 1) * pageSize
	if start >= total {
		return []*model.ConversionJob{}, total, nil
	}
	end := start + pageSize
	if end > total {
		end = total
	}
	return matched[start:end], total, nil
}

func (s *MemoryJobStore) Transition(ctx context.Context, id string, next model.JobStatus) error {
	if !next.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidArgument, next)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if !entry.job.Status.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, entry.job.Status, next)
	}

	now := time.Now().UTC()
	if entry.job.Status == model.JobStatusQueued {
		entry.job.StartedAt = &now
	}
	entry.job.Status = next
	entry.job.UpdatedAt = now
	return nil
}

func (s *MemoryJobStore) Fail(ctx context.Context, id, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if entry.job.Status.Terminal() {
		return ErrConflict
	}

	now := time.Now().UTC()
	entry.job.Status = model.JobStatusFailed
	entry.job.Error = &reason
	entry.job.UpdatedAt = now
	entry.job.CompletedAt = &now
	return nil
}

func (s *MemoryJobStore) UpdateProgress(ctx context.Context, id string, percent int, stage string) error {
	if percent < 0 || percent > 100 {
		return fmt.Errorf("%w: progress %d outside [0,100]", ErrInvalidArgument, percent)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if entry.job.Status.Terminal() {
		return fmt.Errorf("%w: job is terminal", ErrInvalidArgument)
	}
	if percent < entry.progress.Progress {
		return fmt.Errorf("%w: progress may not decrease", ErrInvalidArgument)
	}

	now := time.Now().UTC()
	entry.progress.Progress = percent
	entry.progress.CurrentStage = stage
	entry.progress.LastUpdate = now
	entry.job.UpdatedAt = now
	return nil
}

func (s *MemoryJobStore) GetProgress(ctx context.Context, id string) (*model.JobProgress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	snapshot := entry.progress
	return &snapshot, nil
}

func (s *MemoryJobStore) ClaimExecution(ctx context.Context, id string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.jobs[id]
	if !ok {
		return false, ErrNotFound
	}
	if entry.claimed {
		return false, nil
	}
	entry.claimed = true
	return true, nil
}

func (s *MemoryJobStore) ReleaseExecution(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry, ok := s.jobs[id]; ok {
		entry.claimed = false
	}
	return nil
}

func (s *MemoryJobStore) RequestCancel(ctx context.Context, id, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if entry.job.Status.Terminal() {
		return ErrConflict
	}
	entry.cancelPending = true
	entry.cancelReason = reason
	entry.job.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryJobStore) CancelRequested(ctx context.Context, id string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.jobs[id]
	if !ok {
		return "", false, nil
	}
	return entry.cancelReason, entry.cancelPending, nil
}

func (s *MemoryJobStore) FinalizeResult(ctx context.Context, id string, report model.ConversionReport) (*model.ConversionResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	if entry.job.Status != model.JobStatusValidating {
		return nil, fmt.Errorf("%w: %s -> completed", ErrInvalidTransition, entry.job.Status)
	}

	now := time.Now().UTC()
	result := &model.ConversionResult{
		ID:        uuid.New().String(),
		JobID:     id,
		Output:    report,
		CreatedAt: now,
	}
	entry.result = result
	entry.job.Status = model.JobStatusCompleted
	entry.job.UpdatedAt = now
	entry.job.CompletedAt = &now

	snapshot := *result
	return &snapshot, nil
}

func (s *MemoryJobStore) GetResult(ctx context.Context, id string) (*model.ConversionResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.jobs[id]
	if !ok || entry.result == nil {
		return nil, ErrNotFound
	}
	snapshot := *entry.result
	return &snapshot, nil
}

func (s *MemoryJobStore) ListStuck(ctx context.Context, cutoff time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var stuck []string
	for id, entry := range s.jobs {
		if entry.job.Status.Terminal() {
			continue
		}
		if entry.job.UpdatedAt.Before(cutoff) {
			stuck = append(stuck, id)
		}
	}
	return stuck, nil
}
