package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modporter/api/internal/model"
)

func newTestJob(t *testing.T, s *MemoryJobStore) *model.ConversionJob {
	t.Helper()
	job, err := s.Create(context.Background(), "artifact-1", model.ConvertOptions{
		TargetVersion: "1.21",
		Assumptions:   model.AssumptionConservative,
	})
	require.NoError(t, err)
	return job
}

func TestJobStore_CreateStartsQueued(t *testing.T) {
	s := NewMemoryJobStore()
	job := newTestJob(t, s)

	assert.Equal(t, model.JobStatusQueued, job.Status)
	assert.NotEmpty(t, job.ID)
	assert.Nil(t, job.StartedAt)
	assert.Nil(t, job.CompletedAt)

	progress, err := s.GetProgress(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, progress.Progress)
}

func TestJobStore_TransitionFollowsPipelineOrder(t *testing.T) {
	s := NewMemoryJobStore()
	ctx := context.Background()
	job := newTestJob(t, s)

	order := []model.JobStatus{
		model.JobStatusAnalyzing,
		model.JobStatusTranslating,
		model.JobStatusConvertingAssets,
		model.JobStatusPackaging,
		model.JobStatusValidating,
	}
	for _, next := range order {
		require.NoError(t, s.Transition(ctx, job.ID, next))
	}

	got, err := s.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusValidating, got.Status)
	assert.NotNil(t, got.StartedAt, "leaving queued must stamp startedAt")
}

func TestJobStore_TransitionRejectsSkips(t *testing.T) {
	s := NewMemoryJobStore()
	ctx := context.Background()
	job := newTestJob(t, s)

	// queued -> packaging skips three states
	err := s.Transition(ctx, job.ID, model.JobStatusPackaging)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	// completed is only reachable through FinalizeResult
	err = s.Transition(ctx, job.ID, model.JobStatusCompleted)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	// job must still be where it was
	got, err := s.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusQueued, got.Status)
}

func TestJobStore_FailFromAnyNonTerminal(t *testing.T) {
	s := NewMemoryJobStore()
	ctx := context.Background()
	job := newTestJob(t, s)

	require.NoError(t, s.Transition(ctx, job.ID, model.JobStatusAnalyzing))
	require.NoError(t, s.Fail(ctx, job.ID, "boom"))

	got, err := s.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusFailed, got.Status)
	require.NotNil(t, got.Error)
	assert.Equal(t, "boom", *got.Error)
	assert.NotNil(t, got.CompletedAt)

	// failing a terminal job is a conflict
	assert.ErrorIs(t, s.Fail(ctx, job.ID, "again"), ErrConflict)
}

func TestJobStore_ProgressMonotonic(t *testing.T) {
	s := NewMemoryJobStore()
	ctx := context.Background()
	job := newTestJob(t, s)

	require.NoError(t, s.UpdateProgress(ctx, job.ID, 40, "Translating mod logic"))
	require.NoError(t, s.UpdateProgress(ctx, job.ID, 40, "Translating mod logic"))

	err := s.UpdateProgress(ctx, job.ID, 20, "Analyzing mod structure")
	assert.ErrorIs(t, err, ErrInvalidArgument)

	err = s.UpdateProgress(ctx, job.ID, 101, "")
	assert.ErrorIs(t, err, ErrInvalidArgument)

	progress, err := s.GetProgress(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 40, progress.Progress)
	assert.Equal(t, "Translating mod logic", progress.CurrentStage)
}

func TestJobStore_ProgressRejectedOnTerminal(t *testing.T) {
	s := NewMemoryJobStore()
	ctx := context.Background()
	job := newTestJob(t, s)

	require.NoError(t, s.Fail(ctx, job.ID, "boom"))
	err := s.UpdateProgress(ctx, job.ID, 50, "Packaging add-on")
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestJobStore_FinalizeRequiresValidating(t *testing.T) {
	s := NewMemoryJobStore()
	ctx := context.Background()
	job := newTestJob(t, s)

	_, err := s.FinalizeResult(ctx, job.ID, model.ConversionReport{SuccessRate: 1.0})
	assert.ErrorIs(t, err, ErrInvalidTransition)

	// no result row exists until finalization succeeds
	_, err = s.GetResult(ctx, job.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestJobStore_FinalizeIsAtomic(t *testing.T) {
	s := NewMemoryJobStore()
	ctx := context.Background()
	job := newTestJob(t, s)

	for _, next := range []model.JobStatus{
		model.JobStatusAnalyzing, model.JobStatusTranslating,
		model.JobStatusConvertingAssets, model.JobStatusPackaging,
		model.JobStatusValidating,
	} {
		require.NoError(t, s.Transition(ctx, job.ID, next))
	}

	report := model.ConversionReport{
		SuccessRate: 0.8,
		PackageURL:  "file://converted/out.mcaddon",
	}
	result, err := s.FinalizeResult(ctx, job.ID, report)
	require.NoError(t, err)
	assert.Equal(t, job.ID, result.JobID)
	assert.Equal(t, 0.8, result.Output.SuccessRate)

	got, err := s.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCompleted, got.Status)
	assert.NotNil(t, got.CompletedAt)

	stored, err := s.GetResult(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, result.ID, stored.ID)

	// finalizing twice is rejected, the first result stands
	_, err = s.FinalizeResult(ctx, job.ID, model.ConversionReport{SuccessRate: 1.0})
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestJobStore_ClaimExecutionExactlyOnce(t *testing.T) {
	s := NewMemoryJobStore()
	ctx := context.Background()
	job := newTestJob(t, s)

	first, err := s.ClaimExecution(ctx, job.ID, time.Hour)
	require.NoError(t, err)
	assert.True(t, first)

	second, err := s.ClaimExecution(ctx, job.ID, time.Hour)
	require.NoError(t, err)
	assert.False(t, second)

	require.NoError(t, s.ReleaseExecution(ctx, job.ID))
	again, err := s.ClaimExecution(ctx, job.ID, time.Hour)
	require.NoError(t, err)
	assert.True(t, again)
}

func TestJobStore_CancelFlag(t *testing.T) {
	s := NewMemoryJobStore()
	ctx := context.Background()
	job := newTestJob(t, s)

	_, requested, err := s.CancelRequested(ctx, job.ID)
	require.NoError(t, err)
	assert.False(t, requested)

	require.NoError(t, s.RequestCancel(ctx, job.ID, "user changed their mind"))

	reason, requested, err := s.CancelRequested(ctx, job.ID)
	require.NoError(t, err)
	assert.True(t, requested)
	assert.Equal(t, "user changed their mind", reason)
}

func TestJobStore_CancelConflictsOnTerminal(t *testing.T) {
	s := NewMemoryJobStore()
	ctx := context.Background()
	job := newTestJob(t, s)

	require.NoError(t, s.Fail(ctx, job.ID, "boom"))
	assert.ErrorIs(t, s.RequestCancel(ctx, job.ID, ""), ErrConflict)
}

func TestJobStore_ListPaginatesNewestFirst(t *testing.T) {
	s := NewMemoryJobStore()
	ctx := context.Background()

	var ids []string
	for i := 0; i < 5; i++ {
		job := newTestJob(t, s)
		ids = append(ids, job.ID)
		time.Sleep(time.Millisecond)
	}
	require.NoError(t, s.Fail(ctx, ids[0], "boom"))

	page1, total, err := s.List(ctx, JobFilter{}, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	require.Len(t, page1, 2)
	assert.Equal(t, ids[4], page1[0].ID, "newest job first")

	failed, total, err := s.List(ctx, JobFilter{Status: model.JobStatusFailed}, 1, 20)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, failed, 1)
	assert.Equal(t, ids[0], failed[0].ID)

	empty, total, err := s.List(ctx, JobFilter{}, 10, 2)
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	assert.Empty(t, empty)
}

func TestJobStore_ListStuck(t *testing.T) {
	s := NewMemoryJobStore()
	ctx := context.Background()

	running := newTestJob(t, s)
	require.NoError(t, s.Transition(ctx, running.ID, model.JobStatusAnalyzing))
	done := newTestJob(t, s)
	require.NoError(t, s.Fail(ctx, done.ID, "boom"))

	// nothing is stuck relative to a cutoff in the past
	stuck, err := s.ListStuck(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Empty(t, stuck)

	// with the cutoff in the future only the non-terminal job shows up
	stuck, err = s.ListStuck(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, stuck, 1)
	assert.Equal(t, running.ID, stuck[0])
}

func TestJobStore_GetMissing(t *testing.T) {
	s := NewMemoryJobStore()
	_, err := s.Get(context.Background(), "nope")
	assert.True(t, errors.Is(err, ErrNotFound))
}
