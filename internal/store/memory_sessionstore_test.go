package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modporter/api/internal/model"
)

func TestSessionStore_MarkChunkOutOfOrder(t *testing.T) {
	s := NewMemorySessionStore()
	ctx := context.Background()

	session, err := s.Init(ctx, 3, time.Hour)
	require.NoError(t, err)

	mark, err := s.MarkChunk(ctx, session.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, model.ChunkAccepted, mark.Status)
	assert.Equal(t, 1, mark.Received)

	mark, err = s.MarkChunk(ctx, session.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, model.ChunkAccepted, mark.Status)

	// last missing chunk flips the status to complete
	mark, err = s.MarkChunk(ctx, session.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, model.ChunkComplete, mark.Status)
	assert.Equal(t, 3, mark.Received)
}

func TestSessionStore_MarkChunkDuplicate(t *testing.T) {
	s := NewMemorySessionStore()
	ctx := context.Background()

	session, err := s.Init(ctx, 2, time.Hour)
	require.NoError(t, err)

	_, err = s.MarkChunk(ctx, session.ID, 0)
	require.NoError(t, err)

	mark, err := s.MarkChunk(ctx, session.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, model.ChunkDuplicate, mark.Status)
	assert.Equal(t, 1, mark.Received, "duplicate must not bump the count")
}

func TestSessionStore_MarkChunkOutOfRange(t *testing.T) {
	s := NewMemorySessionStore()
	ctx := context.Background()

	session, err := s.Init(ctx, 2, time.Hour)
	require.NoError(t, err)

	_, err = s.MarkChunk(ctx, session.ID, 2)
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = s.MarkChunk(ctx, session.ID, -1)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestSessionStore_BeginCompleteRequiresAllChunks(t *testing.T) {
	s := NewMemorySessionStore()
	ctx := context.Background()

	session, err := s.Init(ctx, 2, time.Hour)
	require.NoError(t, err)

	_, err = s.MarkChunk(ctx, session.ID, 0)
	require.NoError(t, err)

	_, err = s.BeginComplete(ctx, session.ID)
	assert.ErrorIs(t, err, ErrIncomplete)

	_, err = s.MarkChunk(ctx, session.ID, 1)
	require.NoError(t, err)

	total, err := s.BeginComplete(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
}

func TestSessionStore_BeginCompleteClaimedOnce(t *testing.T) {
	s := NewMemorySessionStore()
	ctx := context.Background()

	session, err := s.Init(ctx, 1, time.Hour)
	require.NoError(t, err)
	_, err = s.MarkChunk(ctx, session.ID, 0)
	require.NoError(t, err)

	_, err = s.BeginComplete(ctx, session.ID)
	require.NoError(t, err)

	// the losing caller observes the session as gone
	_, err = s.BeginComplete(ctx, session.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	// no further chunks are accepted mid-completion
	_, err = s.MarkChunk(ctx, session.ID, 0)
	assert.ErrorIs(t, err, ErrNotFound)

	// aborting restores the session for a retry
	require.NoError(t, s.AbortComplete(ctx, session.ID))
	total, err := s.BeginComplete(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
}

func TestSessionStore_ExpiredSessionInvisible(t *testing.T) {
	s := NewMemorySessionStore()
	ctx := context.Background()

	session, err := s.Init(ctx, 1, -time.Minute)
	require.NoError(t, err)

	_, err = s.Get(ctx, session.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.MarkChunk(ctx, session.ID, 0)
	assert.ErrorIs(t, err, ErrNotFound)

	expired, err := s.ListExpired(ctx, time.Now())
	require.NoError(t, err)
	assert.Contains(t, expired, session.ID)
}

func TestSessionStore_DeleteIdempotent(t *testing.T) {
	s := NewMemorySessionStore()
	ctx := context.Background()

	session, err := s.Init(ctx, 1, time.Hour)
	require.NoError(t, err)

	require.NoError(t, s.Delete(ctx, session.ID))
	require.NoError(t, s.Delete(ctx, session.ID))

	_, err = s.Get(ctx, session.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}
