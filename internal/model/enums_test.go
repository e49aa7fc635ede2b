package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestJobStatus_Successors(t *testing.T) {
	order := []JobStatus{
		JobStatusQueued, JobStatusAnalyzing, JobStatusTranslating,
		JobStatusConvertingAssets, JobStatusPackaging, JobStatusValidating,
		JobStatusCompleted,
	}
	for i := 0; i < len(order)-1; i++ {
		assert.True(t, order[i].CanTransitionTo(order[i+1]), "%s -> %s", order[i], order[i+1])
	}

	// skipping ahead is never legal
	assert.False(t, JobStatusQueued.CanTransitionTo(JobStatusTranslating))
	assert.False(t, JobStatusAnalyzing.CanTransitionTo(JobStatusCompleted))
	// and neither is moving backwards
	assert.False(t, JobStatusPackaging.CanTransitionTo(JobStatusAnalyzing))
}

func TestJobStatus_FailedReachableFromNonTerminal(t *testing.T) {
	for _, s := range []JobStatus{
		JobStatusQueued, JobStatusAnalyzing, JobStatusTranslating,
		JobStatusConvertingAssets, JobStatusPackaging, JobStatusValidating,
	} {
		assert.True(t, s.CanTransitionTo(JobStatusFailed), "%s -> failed", s)
	}
	assert.False(t, JobStatusCompleted.CanTransitionTo(JobStatusFailed))
	assert.False(t, JobStatusFailed.CanTransitionTo(JobStatusFailed))
}

func TestJobStatus_Terminal(t *testing.T) {
	assert.True(t, JobStatusCompleted.Terminal())
	assert.True(t, JobStatusFailed.Terminal())
	assert.False(t, JobStatusValidating.Terminal())

	_, ok := JobStatusCompleted.Successor()
	assert.False(t, ok)
	_, ok = JobStatusFailed.Successor()
	assert.False(t, ok)
}

func TestJobStatus_Valid(t *testing.T) {
	assert.True(t, JobStatusQueued.Valid())
	assert.False(t, JobStatus("rendering").Valid())
	assert.False(t, JobStatus("").Valid())
}
