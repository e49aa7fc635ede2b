package model

import "time"

// UploadSession tracks an in-progress chunked mod upload.
type UploadSession struct {
	ID          string    `json:"id"`
	TotalChunks int       `json:"totalChunks"`
	Received    int       `json:"received"`
	Completing  bool      `json:"-"`
	CreatedAt   time.Time `json:"createdAt"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// ArtifactRef points at a materialized upload artifact.
type ArtifactRef struct {
	ID        string    `json:"id"`
	URL       string    `json:"url"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"createdAt"`
}

type UploadInitRequest struct {
	TotalChunks int `json:"totalChunks" validate:"required,gt=0,lte=4096"`
}

type UploadInitResponse struct {
	SessionID   string `json:"sessionId"`
	TotalChunks int    `json:"totalChunks"`
}

type UploadChunkResponse struct {
	Status   ChunkStatus `json:"status"`
	Received int         `json:"received"`
	Total    int         `json:"total"`
}

type UploadProgressResponse struct {
	Received int `json:"received"`
	Total    int `json:"total"`
}

type UploadCompleteRequest struct {
	SessionID string `json:"sessionId" validate:"required,uuid4"`
}

type UploadCompleteResponse struct {
	ArtifactID string `json:"artifactId"`
	Size       int64  `json:"size"`
}
