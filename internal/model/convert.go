package model

import "time"

type ConvertStartRequest struct {
	ArtifactID string         `json:"artifactId" validate:"required,uuid4"`
	Options    ConvertOptions `json:"options"`
}

type ConvertStartResponse struct {
	JobID     string    `json:"jobId"`
	Status    JobStatus `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}

type ConvertStatusResponse struct {
	JobID        string     `json:"jobId"`
	Status       JobStatus  `json:"status"`
	Progress     int        `json:"progress"`
	CurrentStage string     `json:"currentStage,omitempty"`
	Error        *string    `json:"error,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	StartedAt    *time.Time `json:"startedAt,omitempty"`
	CompletedAt  *time.Time `json:"completedAt,omitempty"`
}

type ConvertCancelResponse struct {
	Success bool   `json:"success"`
	JobID   string `json:"jobId"`
}

type JobListResponse struct {
	Jobs     []*ConversionJob `json:"jobs"`
	Page     int              `json:"page"`
	PageSize int              `json:"pageSize"`
	Total    int              `json:"total"`
}

// ProgressEvent is pushed to websocket subscribers on every progress change.
type ProgressEvent struct {
	JobID        string    `json:"jobId"`
	Status       JobStatus `json:"status"`
	Progress     int       `json:"progress"`
	CurrentStage string    `json:"currentStage,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}
