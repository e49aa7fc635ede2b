package store

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/modporter/api/internal/model"
)

const (
	sessionKeyPrefix   = "upsession:"
	sessionChunkSuffix = ":chunks"
	sessionExpiryKey   = "upsessions:expiry"
)

// markChunkScript records one chunk index. Returned as
// "<verb>:<received>:<total>" so status and counters come from one snapshot.
var markChunkScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return 'notfound'
end
if redis.call('HGET', KEYS[1], 'completing') == '1' then
  return 'notfound'
end
local total = tonumber(redis.call('HGET', KEYS[1], 'total'))
local idx = tonumber(ARGV[1])
if idx < 0 or idx >= total then
  return 'range'
end
local added = redis.call('SADD', KEYS[2], idx)
local count = redis.call('SCARD', KEYS[2])
if added == 0 then
  return 'dup:' .. count .. ':' .. total
end
if count == total then
  return 'complete:' .. count .. ':' .. total
end
return 'ok:' .. count .. ':' .. total
`)

// beginCompleteScript claims completion exactly once per session.
var beginCompleteScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return 'notfound'
end
if redis.call('HGET', KEYS[1], 'completing') == '1' then
  return 'notfound'
end
local total = tonumber(redis.call('HGET', KEYS[1], 'total'))
local count = redis.call('SCARD', KEYS[2])
if count < total then
  return 'incomplete:' .. count .. ':' .. total
end
redis.call('HSET', KEYS[1], 'completing', '1')
return 'ok:' .. total
`)

// RedisSessionStore keeps upload session metadata in Redis with a TTL; a
// companion sorted set drives the reaper's spool cleanup.
type RedisSessionStore struct {
	rdb *redis.Client
}

func NewRedisSessionStore(rdb *redis.Client) *RedisSessionStore {
	return &RedisSessionStore{rdb: rdb}
}

func (s *RedisSessionStore) Init(ctx context.Context, totalChunks int, ttl time.Duration) (*model.UploadSession, error) {
	if totalChunks <= 0 {
		return nil, fmt.Errorf("%w: totalChunks must be positive", ErrInvalidArgument)
	}

	now := time.Now().UTC()
	session := &model.UploadSession{
		ID:          uuid.New().String(),
		TotalChunks: totalChunks,
		CreatedAt:   now,
		ExpiresAt:   now.Add(ttl),
	}

	key := sessionKeyPrefix + session.ID
	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, key, map[string]interface{}{
		"total":      totalChunks,
		"created_at": now.Format(time.RFC3339Nano),
		"expires_at": session.ExpiresAt.Format(time.RFC3339Nano),
	})
	// Key TTLs run a grace period past expires_at so the reaper can still
	// observe the session and clean its spool directory.
	pipe.Expire(ctx, key, ttl+time.Hour)
	pipe.ZAdd(ctx, sessionExpiryKey, redis.Z{Score: float64(session.ExpiresAt.Unix()), Member: session.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	return session, nil
}

func (s *RedisSessionStore) Get(ctx context.Context, id string) (*model.UploadSession, error) {
	fields, err := s.rdb.HGetAll(ctx, sessionKeyPrefix+id).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}

	session := &model.UploadSession{ID: id}
	session.TotalChunks, _ = strconv.Atoi(fields["total"])
	session.Completing = fields["completing"] == "1"
	if t, err := time.Parse(time.RFC3339Nano, fields["created_at"]); err == nil {
		session.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339Nano, fields["expires_at"]); err == nil {
		session.ExpiresAt = t
	}
	if time.Now().After(session.ExpiresAt) {
		return nil, ErrNotFound
	}

	received, err := s.rdb.SCard(ctx, sessionKeyPrefix+id+sessionChunkSuffix).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to count chunks: %w", err)
	}
	session.Received = int(received)
	return session, nil
}

func (s *RedisSessionStore) MarkChunk(ctx context.Context, id string, index int) (*ChunkMark, error) {
	key := sessionKeyPrefix + id
	res, err := markChunkScript.Run(ctx, s.rdb, []string{key, key + sessionChunkSuffix}, index).Text()
	if err != nil {
		return nil, fmt.Errorf("failed to mark chunk: %w", err)
	}

	switch {
	case res == "notfound":
		return nil, ErrNotFound
	case res == "range":
		return nil, fmt.Errorf("%w: chunk index %d out of range", ErrInvalidArgument, index)
	}

	parts := strings.SplitN(res, ":", 3)
	if len(parts) != 3 {
		return nil, fmt.Errorf("unexpected mark result %q", res)
	}
	mark := &ChunkMark{}
	mark.Received, _ = strconv.Atoi(parts[1])
	mark.Total, _ = strconv.Atoi(parts[2])
	switch parts[0] {
	case "ok":
		mark.Status = model.ChunkAccepted
	case "dup":
		mark.Status = model.ChunkDuplicate
	case "complete":
		mark.Status = model.ChunkComplete
	default:
		return nil, fmt.Errorf("unexpected mark result %q", res)
	}
	return mark, nil
}

func (s *RedisSessionStore) BeginComplete(ctx context.Context, id string) (int, error) {
	key := sessionKeyPrefix + id
	res, err := beginCompleteScript.Run(ctx, s.rdb, []string{key, key + sessionChunkSuffix}).Text()
	if err != nil {
		return 0, fmt.Errorf("failed to claim completion: %w", err)
	}

	switch {
	case res == "notfound":
		return 0, ErrNotFound
	case strings.HasPrefix(res, "incomplete:"):
		return 0, fmt.Errorf("%w: %s chunks received", ErrIncomplete, strings.TrimPrefix(res, "incomplete:"))
	case strings.HasPrefix(res, "ok:"):
		total, _ := strconv.Atoi(strings.TrimPrefix(res, "ok:"))
		return total, nil
	}
	return 0, fmt.Errorf("unexpected completion result %q", res)
}

func (s *RedisSessionStore) AbortComplete(ctx context.Context, id string) error {
	if err := s.rdb.HDel(ctx, sessionKeyPrefix+id, "completing").Err(); err != nil {
		return fmt.Errorf("failed to abort completion: %w", err)
	}
	return nil
}

func (s *RedisSessionStore) Delete(ctx context.Context, id string) error {
	pipe := s.rdb.TxPipeline()
	pipe.Del(ctx, sessionKeyPrefix+id, sessionKeyPrefix+id+sessionChunkSuffix)
	pipe.ZRem(ctx, sessionExpiryKey, id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

func (s *RedisSessionStore) ListExpired(ctx context.Context, now time.Time) ([]string, error) {
	ids, err := s.rdb.ZRangeByScore(ctx, sessionExpiryKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.Unix(), 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list expired sessions: %w", err)
	}
	return ids, nil
}
