package model

// Job status
type JobStatus string

const (
	JobStatusQueued           JobStatus = "queued"
	JobStatusAnalyzing        JobStatus = "analyzing"
	JobStatusTranslating      JobStatus = "translating"
	JobStatusConvertingAssets JobStatus = "converting_assets"
	JobStatusPackaging        JobStatus = "packaging"
	JobStatusValidating       JobStatus = "validating"
	JobStatusCompleted        JobStatus = "completed"
	JobStatusFailed           JobStatus = "failed"
)

// statusSuccessor declares the single legal forward transition per state.
// "failed" is reachable from any non-terminal state and has no successor.
var statusSuccessor = map[JobStatus]JobStatus{
	JobStatusQueued:           JobStatusAnalyzing,
	JobStatusAnalyzing:        JobStatusTranslating,
	JobStatusTranslating:      JobStatusConvertingAssets,
	JobStatusConvertingAssets: JobStatusPackaging,
	JobStatusPackaging:        JobStatusValidating,
	JobStatusValidating:       JobStatusCompleted,
}

// Terminal reports whether the status is a terminal state.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Successor returns the declared next state in the pipeline order.
func (s JobStatus) Successor() (JobStatus, bool) {
	next, ok := statusSuccessor[s]
	return next, ok
}

// CanTransitionTo reports whether the state machine permits s -> next.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	if next == JobStatusFailed {
		return !s.Terminal()
	}
	return statusSuccessor[s] == next
}

// Valid reports whether s is a known job status.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusQueued, JobStatusAnalyzing, JobStatusTranslating,
		JobStatusConvertingAssets, JobStatusPackaging, JobStatusValidating,
		JobStatusCompleted, JobStatusFailed:
		return true
	}
	return false
}

// Assumption policy controls how aggressively the pipeline substitutes
// Bedrock-compatible approximations for features with no direct mapping.
type AssumptionPolicy string

const (
	AssumptionDisabled     AssumptionPolicy = "disabled"
	AssumptionConservative AssumptionPolicy = "conservative"
	AssumptionAggressive   AssumptionPolicy = "aggressive"
)

var ValidAssumptionPolicies = []AssumptionPolicy{
	AssumptionDisabled, AssumptionConservative, AssumptionAggressive,
}

// Chunk submission outcome
type ChunkStatus string

const (
	ChunkAccepted  ChunkStatus = "accepted"
	ChunkDuplicate ChunkStatus = "duplicate"
	ChunkComplete  ChunkStatus = "complete"
)

// Stage outcome, as recorded in the conversion report
type StageStatus string

const (
	StageSucceeded StageStatus = "succeeded"
	StageFallback  StageStatus = "fallback"
	StageFailed    StageStatus = "failed"
)
