package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/modporter/api/internal/client"
	"github.com/modporter/api/internal/config"
	"github.com/modporter/api/internal/model"
	"github.com/modporter/api/internal/store"
)

// UploadService assembles chunked mod uploads. Session metadata lives in the
// session store; chunk bytes spool to a per-session directory until the
// session completes and the artifact is materialized exactly once.
type UploadService struct {
	sessions  store.SessionStore
	artifacts store.ArtifactStore
	storage   client.StorageClient // nil: artifacts stay in the local spool
	spoolDir  string
	ttl       time.Duration
}

func NewUploadService(sessions store.SessionStore, artifacts store.ArtifactStore, storage client.StorageClient, cfg *config.UploadConfig) *UploadService {
	return &UploadService{
		sessions:  sessions,
		artifacts: artifacts,
		storage:   storage,
		spoolDir:  cfg.SpoolDir,
		ttl:       time.Duration(cfg.SessionTTLMin) * time.Minute,
	}
}

// InitSession creates an upload session for totalChunks chunks.
func (s *UploadService) InitSession(ctx context.Context, totalChunks int) (*model.UploadSession, error) {
	session, err := s.sessions.Init(ctx, totalChunks, s.ttl)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(s.sessionDir(session.ID), 0o755); err != nil {
		_ = s.sessions.Delete(ctx, session.ID)
		return nil, fmt.Errorf("failed to create spool directory: %w", err)
	}
	return session, nil
}

// PutChunk stores one chunk. Chunks may arrive in any order; re-sending an
// already received index is a no-op reported as duplicate.
func (s *UploadService) PutChunk(ctx context.Context, sessionID string, index int, payload io.Reader) (*store.ChunkMark, error) {
	session, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if index < 0 || index >= session.TotalChunks {
		return nil, fmt.Errorf("%w: chunk index %d outside [0,%d)", store.ErrInvalidArgument, index, session.TotalChunks)
	}

	// Bytes land before the receipt mark so a mark never points at a missing
	// chunk. The write is create-only: a resend of an index already on disk
	// keeps the original bytes untouched.
	if err := s.writeChunk(sessionID, index, payload); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, err
	}

	return s.sessions.MarkChunk(ctx, sessionID, index)
}

// Progress reports how many chunks have been received.
func (s *UploadService) Progress(ctx context.Context, sessionID string) (*model.UploadSession, error) {
	return s.sessions.Get(ctx, sessionID)
}

// Complete materializes the artifact from the received chunks, concatenated
// in index order. Exactly one materialization happens per session even under
// concurrent calls; afterwards the session is gone.
func (s *UploadService) Complete(ctx context.Context, sessionID string) (*model.ArtifactRef, error) {
	total, err := s.sessions.BeginComplete(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	ref, err := s.materialize(ctx, sessionID, total)
	if err != nil {
		// Leave the session intact so the client can retry completion.
		if abortErr := s.sessions.AbortComplete(ctx, sessionID); abortErr != nil {
			log.Printf("Failed to release completion claim for session %s: %v", sessionID, abortErr)
		}
		return nil, err
	}

	if err := s.artifacts.Save(ctx, ref); err != nil {
		// Release the claim so the client can retry; the retry materializes
		// under a fresh artifact id.
		if abortErr := s.sessions.AbortComplete(ctx, sessionID); abortErr != nil {
			log.Printf("Failed to release completion claim for session %s: %v", sessionID, abortErr)
		}
		if discardErr := s.discardArtifact(ctx, ref.ID); discardErr != nil {
			log.Printf("Failed to discard unregistered artifact %s: %v", ref.ID, discardErr)
		}
		return nil, fmt.Errorf("failed to register artifact: %w", err)
	}

	if err := s.sessions.Delete(ctx, sessionID); err != nil {
		log.Printf("Failed to delete session %s after completion: %v", sessionID, err)
	}
	if err := os.RemoveAll(s.sessionDir(sessionID)); err != nil {
		log.Printf("Failed to remove spool for session %s: %v", sessionID, err)
	}
	return ref, nil
}

// Cancel releases the session and its chunk storage. Idempotent.
func (s *UploadService) Cancel(ctx context.Context, sessionID string) error {
	if err := s.sessions.Delete(ctx, sessionID); err != nil {
		return err
	}
	if err := os.RemoveAll(s.sessionDir(sessionID)); err != nil {
		return fmt.Errorf("failed to remove spool: %w", err)
	}
	return nil
}

// SweepExpired cancels every session past its expiry. Per-session failures
// are logged and retried on the next sweep.
func (s *UploadService) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	ids, err := s.sessions.ListExpired(ctx, now)
	if err != nil {
		return 0, err
	}

	swept := 0
	for _, id := range ids {
		if err := s.Cancel(ctx, id); err != nil {
			log.Printf("Failed to expire session %s: %v", id, err)
			continue
		}
		swept++
	}
	return swept, nil
}

// ResolveArtifact looks up a previously materialized artifact.
func (s *UploadService) ResolveArtifact(ctx context.Context, id string) (*model.ArtifactRef, error) {
	return s.artifacts.Get(ctx, id)
}

// DeleteArtifact removes the stored object and then the artifact record.
// Idempotent.
func (s *UploadService) DeleteArtifact(ctx context.Context, id string) error {
	if err := s.discardArtifact(ctx, id); err != nil {
		return err
	}
	return s.artifacts.Delete(ctx, id)
}

// SweepExpiredArtifacts deletes every artifact past its retention window.
// Per-artifact failures are logged and retried on the next sweep.
func (s *UploadService) SweepExpiredArtifacts(ctx context.Context, now time.Time) (int, error) {
	ids, err := s.artifacts.ListExpired(ctx, now)
	if err != nil {
		return 0, err
	}

	swept := 0
	for _, id := range ids {
		if err := s.DeleteArtifact(ctx, id); err != nil {
			log.Printf("Failed to expire artifact %s: %v", id, err)
			continue
		}
		swept++
	}
	return swept, nil
}

// discardArtifact drops the artifact bytes from storage or the local spool.
func (s *UploadService) discardArtifact(ctx context.Context, id string) error {
	if s.storage != nil {
		if err := s.storage.Delete(ctx, artifactKey(id)); err != nil {
			return fmt.Errorf("failed to delete stored artifact: %w", err)
		}
		return nil
	}
	if err := os.Remove(s.artifactPath(id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove artifact file: %w", err)
	}
	return nil
}

func (s *UploadService) materialize(ctx context.Context, sessionID string, total int) (*model.ArtifactRef, error) {
	artifactID := uuid.New().String()
	outPath := s.artifactPath(artifactID)
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create artifact directory: %w", err)
	}

	out, err := os.Create(outPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create artifact file: %w", err)
	}

	var size int64
	for i := 0; i < total; i++ {
		chunk, err := os.Open(s.chunkPath(sessionID, i))
		if err != nil {
			out.Close()
			_ = os.Remove(outPath)
			return nil, fmt.Errorf("chunk %d missing from spool: %w", i, err)
		}
		n, err := io.Copy(out, chunk)
		chunk.Close()
		if err != nil {
			out.Close()
			_ = os.Remove(outPath)
			return nil, fmt.Errorf("failed to assemble chunk %d: %w", i, err)
		}
		size += n
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(outPath)
		return nil, fmt.Errorf("failed to finalize artifact file: %w", err)
	}

	url := "file://" + outPath
	if s.storage != nil {
		f, err := os.Open(outPath)
		if err != nil {
			return nil, fmt.Errorf("failed to reopen artifact: %w", err)
		}
		_, err = s.storage.Upload(ctx, artifactKey(artifactID), f, "application/java-archive")
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to upload artifact: %w", err)
		}
		// The bucket is private; the link is presigned for the artifact
		// record's retention window.
		url, err = s.storage.GetSignedURL(ctx, artifactKey(artifactID), store.ArtifactRetention)
		if err != nil {
			return nil, fmt.Errorf("failed to sign artifact URL: %w", err)
		}
		_ = os.Remove(outPath)
	}

	return &model.ArtifactRef{
		ID:        artifactID,
		URL:       url,
		Size:      size,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// writeChunk spools chunk bytes through a temp file and commits with a
// create-only link, so the chunk appears whole or not at all. Returns
// os.ErrExist, leaving the stored bytes untouched, when the index was
// already written.
func (s *UploadService) writeChunk(sessionID string, index int, payload io.Reader) error {
	path := s.chunkPath(sessionID, index)
	tmp := path + "." + uuid.New().String() + ".tmp"

	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create chunk file: %w", err)
	}
	if _, err := io.Copy(f, payload); err != nil {
		f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to write chunk: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to close chunk file: %w", err)
	}

	err = os.Link(tmp, path)
	_ = os.Remove(tmp)
	if err != nil {
		if os.IsExist(err) {
			return os.ErrExist
		}
		return fmt.Errorf("failed to commit chunk file: %w", err)
	}
	return nil
}

func (s *UploadService) sessionDir(sessionID string) string {
	return filepath.Join(s.spoolDir, "sessions", sessionID)
}

func (s *UploadService) artifactPath(id string) string {
	return filepath.Join(s.spoolDir, "artifacts", id+".jar")
}

func artifactKey(id string) string {
	return "mods/" + id + ".jar"
}

func (s *UploadService) chunkPath(sessionID string, index int) string {
	return filepath.Join(s.sessionDir(sessionID), fmt.Sprintf("%06d.part", index))
}
