package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/modporter/api/internal/model"
)

const (
	artifactKeyPrefix = "artifact:"
	artifactIndexKey  = "artifacts:index"

	// ArtifactRetention bounds how long a materialized artifact stays
	// resolvable after upload.
	ArtifactRetention = 48 * time.Hour
)

// ArtifactStore registers materialized upload artifacts so job creation can
// resolve an artifact id to its storage location.
type ArtifactStore interface {
	Save(ctx context.Context, ref *model.ArtifactRef) error
	Get(ctx context.Context, id string) (*model.ArtifactRef, error)
	Delete(ctx context.Context, id string) error
	ListExpired(ctx context.Context, now time.Time) ([]string, error)
}

type RedisArtifactStore struct {
	rdb *redis.Client
}

func NewRedisArtifactStore(rdb *redis.Client) *RedisArtifactStore {
	return &RedisArtifactStore{rdb: rdb}
}

func (s *RedisArtifactStore) Save(ctx context.Context, ref *model.ArtifactRef) error {
	data, err := json.Marshal(ref)
	if err != nil {
		return fmt.Errorf("failed to marshal artifact: %w", err)
	}
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, artifactKeyPrefix+ref.ID, data, ArtifactRetention)
		pipe.ZAdd(ctx, artifactIndexKey, redis.Z{
			Score:  float64(ref.CreatedAt.Unix()),
			Member: ref.ID,
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save artifact: %w", err)
	}
	return nil
}

func (s *RedisArtifactStore) Get(ctx context.Context, id string) (*model.ArtifactRef, error) {
	data, err := s.rdb.Get(ctx, artifactKeyPrefix+id).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load artifact: %w", err)
	}

	var ref model.ArtifactRef
	if err := json.Unmarshal(data, &ref); err != nil {
		return nil, fmt.Errorf("failed to unmarshal artifact: %w", err)
	}
	return &ref, nil
}

func (s *RedisArtifactStore) Delete(ctx context.Context, id string) error {
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, artifactKeyPrefix+id)
		pipe.ZRem(ctx, artifactIndexKey, id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete artifact: %w", err)
	}
	return nil
}

// ListExpired returns ids created before the retention cutoff. The records
// themselves lapse via TTL; the index keeps the ids around so the stored
// objects can be deleted too.
func (s *RedisArtifactStore) ListExpired(ctx context.Context, now time.Time) ([]string, error) {
	cutoff := now.Add(-ArtifactRetention)
	ids, err := s.rdb.ZRangeByScore(ctx, artifactIndexKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(cutoff.Unix(), 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list expired artifacts: %w", err)
	}
	return ids, nil
}

// MemoryArtifactStore backs ArtifactStore with a map for tests and
// Redis-less runs.
type MemoryArtifactStore struct {
	mu   sync.Mutex
	refs map[string]model.ArtifactRef
}

func NewMemoryArtifactStore() *MemoryArtifactStore {
	return &MemoryArtifactStore{refs: make(map[string]model.ArtifactRef)}
}

func (s *MemoryArtifactStore) Save(ctx context.Context, ref *model.ArtifactRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refs[ref.ID] = *ref
	return nil
}

func (s *MemoryArtifactStore) Get(ctx context.Context, id string) (*model.ArtifactRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ref, ok := s.refs[id]
	if !ok {
		return nil, ErrNotFound
	}
	snapshot := ref
	return &snapshot, nil
}

func (s *MemoryArtifactStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.refs, id)
	return nil
}

func (s *MemoryArtifactStore) ListExpired(ctx context.Context, now time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := now.Add(-ArtifactRetention)
	var ids []string
	for id, ref := range s.refs {
		if ref.CreatedAt.Before(cutoff) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}
