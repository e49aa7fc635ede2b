package model

import "time"

// ConversionJob is the durable record of one mod conversion.
type ConversionJob struct {
	ID          string         `json:"id"`
	Status      JobStatus      `json:"status"`
	ArtifactID  string         `json:"artifactId"`
	Options     ConvertOptions `json:"options"`
	Error       *string        `json:"error,omitempty"`
	CreatedAt   time.Time      `json:"createdAt"`
	UpdatedAt   time.Time      `json:"updatedAt"`
	StartedAt   *time.Time     `json:"startedAt,omitempty"`
	CompletedAt *time.Time     `json:"completedAt,omitempty"`
}

// ConvertOptions are the client-supplied conversion parameters.
type ConvertOptions struct {
	Assumptions   AssumptionPolicy `json:"assumptions" validate:"omitempty,oneof=disabled conservative aggressive"`
	TargetVersion string           `json:"targetVersion" validate:"omitempty,max=32"`
}

// JobProgress is the 1:1 progress row for a job. Progress is monotonically
// non-decreasing while the job is active.
type JobProgress struct {
	JobID        string    `json:"jobId"`
	Progress     int       `json:"progress"`
	CurrentStage string    `json:"currentStage"`
	LastUpdate   time.Time `json:"lastUpdate"`
}

// ConversionResult is the append-only pipeline output for a completed job.
type ConversionResult struct {
	ID        string           `json:"id"`
	JobID     string           `json:"jobId"`
	Output    ConversionReport `json:"output"`
	CreatedAt time.Time        `json:"createdAt"`
}

// ConversionReport is the structured output of a conversion.
type ConversionReport struct {
	SuccessRate      float64        `json:"successRate"`
	Stages           []StageOutcome `json:"stages"`
	AppliedFallbacks []Fallback     `json:"appliedFallbacks"`
	Errors           []string       `json:"errors,omitempty"`
	PackageURL       string         `json:"packageUrl,omitempty"`
	PackageSize      int64          `json:"packageSize,omitempty"`
}

// StageOutcome records how a single stage ended.
type StageOutcome struct {
	Stage    string      `json:"stage"`
	Status   StageStatus `json:"status"`
	Attempts int         `json:"attempts"`
	Errors   []string    `json:"errors,omitempty"`
}

// Fallback is a recorded smart-assumption substitution applied when a
// best-effort stage could not produce its ideal output.
type Fallback struct {
	Stage  string `json:"stage"`
	Reason string `json:"reason"`
}
