package store

import (
	"context"
	"time"

	"github.com/modporter/api/internal/model"
)

// ChunkMark is the outcome of recording one received chunk.
type ChunkMark struct {
	Status   model.ChunkStatus
	Received int
	Total    int
}

// SessionStore persists chunked-upload session metadata: chunk bytes live in
// the assembler's spool directory, the store tracks which indices arrived and
// guards completion so exactly one materialization happens per session.
type SessionStore interface {
	// Init creates a session expiring after ttl.
	Init(ctx context.Context, totalChunks int, ttl time.Duration) (*model.UploadSession, error)

	// Get returns session metadata. ErrNotFound if unknown or expired.
	Get(ctx context.Context, id string) (*model.UploadSession, error)

	// MarkChunk records receipt of chunk index. Re-marking a received index
	// is a no-op reported as ChunkDuplicate. ErrInvalidArgument for an index
	// outside [0, totalChunks).
	MarkChunk(ctx context.Context, id string, index int) (*ChunkMark, error)

	// BeginComplete atomically claims the completion of a full session and
	// returns its chunk count. ErrIncomplete if chunks are missing;
	// ErrNotFound if the session is unknown or already claimed.
	BeginComplete(ctx context.Context, id string) (int, error)

	// AbortComplete releases a completion claim after a failed
	// materialization so a later attempt can retry.
	AbortComplete(ctx context.Context, id string) error

	// Delete removes the session. Idempotent.
	Delete(ctx context.Context, id string) error

	// ListExpired returns ids of sessions whose expiry has passed.
	ListExpired(ctx context.Context, now time.Time) ([]string, error)
}
