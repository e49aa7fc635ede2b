package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/modporter/api/internal/model"
)

type memorySession struct {
	total      int
	chunks     map[int]struct{}
	completing bool
	createdAt  time.Time
	expiresAt  time.Time
}

// MemorySessionStore is the in-process SessionStore used when Redis is not
// configured and in tests.
type MemorySessionStore struct {
	mu       sync.Mutex
	sessions map[string]*memorySession
}

func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{sessions: make(map[string]*memorySession)}
}

func (s *MemorySessionStore) Init(ctx context.Context, totalChunks int, ttl time.Duration) (*model.UploadSession, error) {
	if totalChunks <= 0 {
		return nil, fmt.Errorf("%w: totalChunks must be positive", ErrInvalidArgument)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	id := uuid.New().String()
	s.sessions[id] = &memorySession{
		total:     totalChunks,
		chunks:    make(map[int]struct{}),
		createdAt: now,
		expiresAt: now.Add(ttl),
	}

	return &model.UploadSession{
		ID:          id,
		TotalChunks: totalChunks,
		CreatedAt:   now,
		ExpiresAt:   now.Add(ttl),
	}, nil
}

func (s *MemorySessionStore) Get(ctx context.Context, id string) (*model.UploadSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.sessions[id]
	if !ok || time.Now().After(entry.expiresAt) {
		return nil, ErrNotFound
	}
	return &model.UploadSession{
		ID:          id,
		TotalChunks: entry.total,
		Received:    len(entry.chunks),
		Completing:  entry.completing,
		CreatedAt:   entry.createdAt,
		ExpiresAt:   entry.expiresAt,
	}, nil
}

func (s *MemorySessionStore) MarkChunk(ctx context.Context, id string, index int) (*ChunkMark, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.sessions[id]
	if !ok || entry.completing || time.Now().After(entry.expiresAt) {
		return nil, ErrNotFound
	}
	if index < 0 || index >= entry.total {
		return nil, fmt.Errorf("%w: chunk index %d out of range", ErrInvalidArgument, index)
	}

	if _, dup := entry.chunks[index]; dup {
		return &ChunkMark{Status: model.ChunkDuplicate, Received: len(entry.chunks), Total: entry.total}, nil
	}
	entry.chunks[index] = struct{}{}

	status := model.ChunkAccepted
	if len(entry.chunks) == entry.total {
		status = model.ChunkComplete
	}
	return &ChunkMark{Status: status, Received: len(entry.chunks), Total: entry.total}, nil
}

func (s *MemorySessionStore) BeginComplete(ctx context.Context, id string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.sessions[id]
	if !ok || entry.completing {
		return 0, ErrNotFound
	}
	if len(entry.chunks) < entry.total {
		return 0, fmt.Errorf("%w: %d/%d chunks received", ErrIncomplete, len(entry.chunks), entry.total)
	}
	entry.completing = true
	return entry.total, nil
}

func (s *MemorySessionStore) AbortComplete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry, ok := s.sessions[id]; ok {
		entry.completing = false
	}
	return nil
}

func (s *MemorySessionStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, id)
	return nil
}

func (s *MemorySessionStore) ListExpired(ctx context.Context, now time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var expired []string
	for id, entry := range s.sessions {
		if now.After(entry.expiresAt) {
			expired = append(expired, id)
		}
	}
	return expired, nil
}
