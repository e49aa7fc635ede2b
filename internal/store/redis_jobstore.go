package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/modporter/api/internal/model"
)

const (
	jobKeyPrefix      = "job:"
	progressKeyPrefix = "job:progress:"
	resultKeyPrefix   = "result:"
	execKeyPrefix     = "job:exec:"
	jobsIndexKey      = "jobs:index"
	jobsActiveKey     = "jobs:active"

	jobRetention = 7 * 24 * time.Hour
)

// transitionScript applies a state transition only when the current status is
// one of the allowed predecessors (ARGV[3..]).
var transitionScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return 'notfound'
end
local cur = redis.call('HGET', KEYS[1], 'status')
for i = 3, #ARGV do
  if ARGV[i] == cur then
    redis.call('HSET', KEYS[1], 'status', ARGV[1], 'updated_at', ARGV[2])
    if cur == 'queued' then
      redis.call('HSET', KEYS[1], 'started_at', ARGV[2])
    end
    return 'ok'
  end
end
return 'invalid:' .. cur
`)

// failScript moves a non-terminal job to failed and drops it from the active set.
var failScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return 'notfound'
end
local cur = redis.call('HGET', KEYS[1], 'status')
if cur == 'completed' or cur == 'failed' then
  return 'terminal'
end
redis.call('HSET', KEYS[1], 'status', 'failed', 'error', ARGV[1], 'updated_at', ARGV[2], 'completed_at', ARGV[2])
redis.call('SREM', KEYS[2], ARGV[3])
return 'ok'
`)

// progressScript enforces monotonic progress inside the same write.
var progressScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[2]) == 0 then
  return 'notfound'
end
local status = redis.call('HGET', KEYS[2], 'status')
if status == 'completed' or status == 'failed' then
  return 'terminal'
end
local cur = tonumber(redis.call('HGET', KEYS[1], 'progress') or '0')
if tonumber(ARGV[1]) < cur then
  return 'regress'
end
redis.call('HSET', KEYS[1], 'progress', ARGV[1], 'current_stage', ARGV[2], 'last_update', ARGV[3])
redis.call('HSET', KEYS[2], 'updated_at', ARGV[3])
return 'ok'
`)

// finalizeScript writes the result and completes the job in one atomic step.
var finalizeScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return 'notfound'
end
local cur = redis.call('HGET', KEYS[1], 'status')
if cur ~= 'validating' then
  return 'invalid:' .. cur
end
redis.call('HSET', KEYS[1], 'status', 'completed', 'updated_at', ARGV[2], 'completed_at', ARGV[2])
redis.call('SET', KEYS[2], ARGV[1])
redis.call('SREM', KEYS[3], ARGV[3])
return 'ok'
`)

// cancelScript flags a non-terminal job for cancellation.
var cancelScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return 'notfound'
end
local cur = redis.call('HGET', KEYS[1], 'status')
if cur == 'completed' or cur == 'failed' then
  return 'terminal'
end
redis.call('HSET', KEYS[1], 'cancel_requested', '1', 'cancel_reason', ARGV[1], 'updated_at', ARGV[2])
return 'ok'
`)

// RedisJobStore stores jobs, progress rows and results in Redis. All
// multi-field state changes run as Lua scripts so they are atomic and
// transitions stay linearizable per job.
type RedisJobStore struct {
	rdb *redis.Client
}

func NewRedisJobStore(rdb *redis.Client) *RedisJobStore {
	return &RedisJobStore{rdb: rdb}
}

func (s *RedisJobStore) Create(ctx context.Context, artifactID string, opts model.ConvertOptions) (*model.ConversionJob, error) {
	now := time.Now().UTC()
	job := &model.ConversionJob{
		ID:         uuid.New().String(),
		Status:     model.JobStatusQueued,
		ArtifactID: artifactID,
		Options:    opts,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	optsJSON, err := json.Marshal(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal options: %w", err)
	}

	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, jobKeyPrefix+job.ID, map[string]interface{}{
		"id":          job.ID,
		"status":      string(job.Status),
		"artifact_id": artifactID,
		"options":     string(optsJSON),
		"created_at":  now.Format(time.RFC3339Nano),
		"updated_at":  now.Format(time.RFC3339Nano),
	})
	pipe.Expire(ctx, jobKeyPrefix+job.ID, jobRetention)
	pipe.HSet(ctx, progressKeyPrefix+job.ID, map[string]interface{}{
		"progress":      0,
		"current_stage": "",
		"last_update":   now.Format(time.RFC3339Nano),
	})
	pipe.Expire(ctx, progressKeyPrefix+job.ID, jobRetention)
	pipe.ZAdd(ctx, jobsIndexKey, redis.Z{Score: float64(now.UnixMilli()), Member: job.ID})
	pipe.SAdd(ctx, jobsActiveKey, job.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to save job: %w", err)
	}

	return job, nil
}

func (s *RedisJobStore) Get(ctx context.Context, id string) (*model.ConversionJob, error) {
	fields, err := s.rdb.HGetAll(ctx, jobKeyPrefix+id).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load job: %w", err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}
	return jobFromHash(fields)
}

func (s *RedisJobStore) List(ctx context.Context, filter JobFilter, page, pageSize int) ([]*model.ConversionJob, int, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	ids, err := s.rdb.ZRevRange(ctx, jobsIndexKey, 0, -1).Result()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list jobs: %w", err)
	}

	matched := make([]*model.ConversionJob, 0, len(ids))
	for _, id := range ids {
		job, err := s.Get(ctx, id)
		if err != nil {
			// Expired hash still referenced by the index; skip it.
			continue
		}
		if filter.Status != "" && job.Status != filter.Status {
			continue
		}
		matched = append(matched, job)
	}

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

func (s *RedisJobStore) Transition(ctx context.Context, id string, next model.JobStatus) error {
	if !next.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidArgument, next)
	}

	args := []interface{}{string(next), time.Now().UTC().Format(time.RFC3339Nano)}
	for _, from := range statusPredecessors(next) {
		args = append(args, string(from))
	}

	res, err := transitionScript.Run(ctx, s.rdb, []string{jobKeyPrefix + id}, args...).Text()
	if err != nil {
		return fmt.Errorf("failed to transition job: %w", err)
	}
	switch {
	case res == "ok":
		return nil
	case res == "notfound":
		return ErrNotFound
	case strings.HasPrefix(res, "invalid:"):
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, strings.TrimPrefix(res, "invalid:"), next)
	}
	return fmt.Errorf("unexpected transition result %q", res)
}

func (s *RedisJobStore) Fail(ctx context.Context, id, reason string) error {
	res, err := failScript.Run(ctx, s.rdb,
		[]string{jobKeyPrefix + id, jobsActiveKey},
		reason, time.Now().UTC().Format(time.RFC3339Nano), id,
	).Text()
	if err != nil {
		return fmt.Errorf("failed to fail job: %w", err)
	}
	switch res {
	case "ok":
		return nil
	case "notfound":
		return ErrNotFound
	case "terminal":
		return ErrConflict
	}
	return fmt.Errorf("unexpected fail result %q", res)
}

func (s *RedisJobStore) UpdateProgress(ctx context.Context, id string, percent int, stage string) error {
	if percent < 0 || percent > 100 {
		return fmt.Errorf("%w: progress %d outside [0,100]", ErrInvalidArgument, percent)
	}

	res, err := progressScript.Run(ctx, s.rdb,
		[]string{progressKeyPrefix + id, jobKeyPrefix + id},
		percent, stage, time.Now().UTC().Format(time.RFC3339Nano),
	).Text()
	if err != nil {
		return fmt.Errorf("failed to update progress: %w", err)
	}
	switch res {
	case "ok":
		return nil
	case "notfound":
		return ErrNotFound
	case "terminal":
		return fmt.Errorf("%w: job is terminal", ErrInvalidArgument)
	case "regress":
		return fmt.Errorf("%w: progress may not decrease", ErrInvalidArgument)
	}
	return fmt.Errorf("unexpected progress result %q", res)
}

func (s *RedisJobStore) GetProgress(ctx context.Context, id string) (*model.JobProgress, error) {
	fields, err := s.rdb.HGetAll(ctx, progressKeyPrefix+id).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load progress: %w", err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}

	p := &model.JobProgress{
		JobID:        id,
		CurrentStage: fields["current_stage"],
	}
	fmt.Sscanf(fields["progress"], "%d", &p.Progress)
	if t, err := time.Parse(time.RFC3339Nano, fields["last_update"]); err == nil {
		p.LastUpdate = t
	}
	return p, nil
}

func (s *RedisJobStore) ClaimExecution(ctx context.Context, id string, ttl time.Duration) (bool, error) {
	ok, err := s.rdb.SetNX(ctx, execKeyPrefix+id, "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to claim execution: %w", err)
	}
	return ok, nil
}

func (s *RedisJobStore) ReleaseExecution(ctx context.Context, id string) error {
	if err := s.rdb.Del(ctx, execKeyPrefix+id).Err(); err != nil {
		return fmt.Errorf("failed to release execution: %w", err)
	}
	return nil
}

func (s *RedisJobStore) RequestCancel(ctx context.Context, id, reason string) error {
	res, err := cancelScript.Run(ctx, s.rdb,
		[]string{jobKeyPrefix + id},
		reason, time.Now().UTC().Format(time.RFC3339Nano),
	).Text()
	if err != nil {
		return fmt.Errorf("failed to request cancel: %w", err)
	}
	switch res {
	case "ok":
		return nil
	case "notfound":
		return ErrNotFound
	case "terminal":
		return ErrConflict
	}
	return fmt.Errorf("unexpected cancel result %q", res)
}

func (s *RedisJobStore) CancelRequested(ctx context.Context, id string) (string, bool, error) {
	fields, err := s.rdb.HMGet(ctx, jobKeyPrefix+id, "cancel_requested", "cancel_reason").Result()
	if err != nil {
		return "", false, fmt.Errorf("failed to read cancel flag: %w", err)
	}
	if fields[0] == nil {
		return "", false, nil
	}
	reason := ""
	if fields[1] != nil {
		reason, _ = fields[1].(string)
	}
	return reason, true, nil
}

func (s *RedisJobStore) FinalizeResult(ctx context.Context, id string, report model.ConversionReport) (*model.ConversionResult, error) {
	result := &model.ConversionResult{
		ID:        uuid.New().String(),
		JobID:     id,
		Output:    report,
		CreatedAt: time.Now().UTC(),
	}

	data, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}

	res, err := finalizeScript.Run(ctx, s.rdb,
		[]string{jobKeyPrefix + id, resultKeyPrefix + id, jobsActiveKey},
		string(data), result.CreatedAt.Format(time.RFC3339Nano), id,
	).Text()
	if err != nil {
		return nil, fmt.Errorf("failed to finalize result: %w", err)
	}
	switch {
	case res == "ok":
		_ = s.rdb.Expire(ctx, resultKeyPrefix+id, jobRetention).Err()
		return result, nil
	case res == "notfound":
		return nil, ErrNotFound
	case strings.HasPrefix(res, "invalid:"):
		return nil, fmt.Errorf("%w: %s -> completed", ErrInvalidTransition, strings.TrimPrefix(res, "invalid:"))
	}
	return nil, fmt.Errorf("unexpected finalize result %q", res)
}

func (s *RedisJobStore) GetResult(ctx context.Context, id string) (*model.ConversionResult, error) {
	data, err := s.rdb.Get(ctx, resultKeyPrefix+id).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load result: %w", err)
	}

	var result model.ConversionResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal result: %w", err)
	}
	return &result, nil
}

func (s *RedisJobStore) ListStuck(ctx context.Context, cutoff time.Time) ([]string, error) {
	ids, err := s.rdb.SMembers(ctx, jobsActiveKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list active jobs: %w", err)
	}

	var stuck []string
	for _, id := range ids {
		fields, err := s.rdb.HMGet(ctx, jobKeyPrefix+id, "status", "updated_at").Result()
		if err != nil {
			continue
		}
		if fields[0] == nil {
			// Job hash expired; drop the dangling active entry.
			_ = s.rdb.SRem(ctx, jobsActiveKey, id).Err()
			continue
		}
		status := model.JobStatus(fields[0].(string))
		if status.Terminal() {
			_ = s.rdb.SRem(ctx, jobsActiveKey, id).Err()
			continue
		}
		if raw, ok := fields[1].(string); ok {
			if updated, err := time.Parse(time.RFC3339Nano, raw); err == nil && updated.Before(cutoff) {
				stuck = append(stuck, id)
			}
		}
	}
	return stuck, nil
}

// statusPredecessors returns the states allowed to transition into next.
func statusPredecessors(next model.JobStatus) []model.JobStatus {
	var preds []model.JobStatus
	for _, from := range []model.JobStatus{
		model.JobStatusQueued, model.JobStatusAnalyzing, model.JobStatusTranslating,
		model.JobStatusConvertingAssets, model.JobStatusPackaging, model.JobStatusValidating,
	} {
		if from.CanTransitionTo(next) {
			preds = append(preds, from)
		}
	}
	return preds
}

func jobFromHash(fields map[string]string) (*model.ConversionJob, error) {
	job := &model.ConversionJob{
		ID:         fields["id"],
		Status:     model.JobStatus(fields["status"]),
		ArtifactID: fields["artifact_id"],
	}

	if raw := fields["options"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &job.Options); err != nil {
			return nil, fmt.Errorf("failed to unmarshal options: %w", err)
		}
	}
	if msg := fields["error"]; msg != "" {
		job.Error = &msg
	}
	if t, err := time.Parse(time.RFC3339Nano, fields["created_at"]); err == nil {
		job.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339Nano, fields["updated_at"]); err == nil {
		job.UpdatedAt = t
	}
	if raw := fields["started_at"]; raw != "" {
		if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			job.StartedAt = &t
		}
	}
	if raw := fields["completed_at"]; raw != "" {
		if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			job.CompletedAt = &t
		}
	}
	return job, nil
}
