package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modporter/api/internal/config"
	"github.com/modporter/api/internal/model"
	"github.com/modporter/api/internal/service"
	"github.com/modporter/api/internal/store"
)

func TestReaper_TimesOutStuckJobs(t *testing.T) {
	jobs := store.NewMemoryJobStore()
	sessions := store.NewMemorySessionStore()
	uploads := service.NewUploadService(sessions, store.NewMemoryArtifactStore(), nil, &config.UploadConfig{
		SpoolDir:      t.TempDir(),
		SessionTTLMin: 30,
	})
	ctx := context.Background()

	stuck, err := jobs.Create(ctx, "artifact-1", model.ConvertOptions{})
	require.NoError(t, err)
	require.NoError(t, jobs.Transition(ctx, stuck.ID, model.JobStatusAnalyzing))

	done, err := jobs.Create(ctx, "artifact-2", model.ConvertOptions{})
	require.NoError(t, err)
	require.NoError(t, jobs.Fail(ctx, done.ID, "boom"))

	// a deadline in the past makes every active job overdue
	r := NewReaper(uploads, jobs, -time.Minute)
	require.NoError(t, r.Sweep(ctx, time.Now()))

	got, err := jobs.Get(ctx, stuck.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusFailed, got.Status)
	require.NotNil(t, got.Error)
	assert.Equal(t, "conversion timed out", *got.Error)

	// the already terminal job keeps its original error
	got, err = jobs.Get(ctx, done.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Error)
	assert.Equal(t, "boom", *got.Error)
}

func TestReaper_LeavesFreshJobsAlone(t *testing.T) {
	jobs := store.NewMemoryJobStore()
	uploads := service.NewUploadService(store.NewMemorySessionStore(), store.NewMemoryArtifactStore(), nil, &config.UploadConfig{
		SpoolDir:      t.TempDir(),
		SessionTTLMin: 30,
	})
	ctx := context.Background()

	job, err := jobs.Create(ctx, "artifact-1", model.ConvertOptions{})
	require.NoError(t, err)

	r := NewReaper(uploads, jobs, time.Hour)
	require.NoError(t, r.Sweep(ctx, time.Now()))

	got, err := jobs.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusQueued, got.Status)
}

func TestReaper_SweepsExpiredSessions(t *testing.T) {
	jobs := store.NewMemoryJobStore()
	sessions := store.NewMemorySessionStore()
	uploads := service.NewUploadService(sessions, store.NewMemoryArtifactStore(), nil, &config.UploadConfig{
		SpoolDir:      t.TempDir(),
		SessionTTLMin: 30,
	})
	ctx := context.Background()

	expired, err := sessions.Init(ctx, 2, -time.Minute)
	require.NoError(t, err)

	r := NewReaper(uploads, jobs, time.Hour)
	require.NoError(t, r.Sweep(ctx, time.Now()))

	ids, err := sessions.ListExpired(ctx, time.Now())
	require.NoError(t, err)
	assert.NotContains(t, ids, expired.ID)
}

func TestReaper_SweepsExpiredArtifacts(t *testing.T) {
	jobs := store.NewMemoryJobStore()
	artifacts := store.NewMemoryArtifactStore()
	uploads := service.NewUploadService(store.NewMemorySessionStore(), artifacts, nil, &config.UploadConfig{
		SpoolDir:      t.TempDir(),
		SessionTTLMin: 30,
	})
	ctx := context.Background()

	require.NoError(t, artifacts.Save(ctx, &model.ArtifactRef{
		ID:        "stale",
		URL:       "file:///tmp/stale.jar",
		CreatedAt: time.Now().Add(-72 * time.Hour),
	}))
	require.NoError(t, artifacts.Save(ctx, &model.ArtifactRef{
		ID:        "fresh",
		URL:       "file:///tmp/fresh.jar",
		CreatedAt: time.Now(),
	}))

	r := NewReaper(uploads, jobs, time.Hour)
	require.NoError(t, r.Sweep(ctx, time.Now()))

	_, err := artifacts.Get(ctx, "stale")
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = artifacts.Get(ctx, "fresh")
	assert.NoError(t, err)
}
