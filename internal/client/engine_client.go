package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/modporter/api/internal/config"
	"github.com/modporter/api/internal/pipeline"
)

// EngineClient implements pipeline.StageExecutor against the conversion
// engine microservice. Each stage maps to one POST; the engine owns all
// content analysis and generation, this client only moves the context across.
type EngineClient struct {
	httpClient *http.Client
	baseURL    string
}

// NewEngineClient creates a new conversion engine client
func NewEngineClient(cfg *config.EngineConfig) *EngineClient {
	return &EngineClient{
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.Timeout) * time.Second,
		},
		baseURL: cfg.ServiceURL,
	}
}

type stageRequest struct {
	JobID       string            `json:"job_id"`
	ArtifactURL string            `json:"artifact_url"`
	Options     json.RawMessage   `json:"options"`
	Context     *pipeline.Context `json:"context"`
}

// Run executes one stage on the engine service.
func (c *EngineClient) Run(ctx context.Context, stage pipeline.StageName, jc *pipeline.Context) (*pipeline.StageResult, error) {
	opts, err := json.Marshal(jc.Options)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal options: %w", err)
	}

	req := &stageRequest{
		JobID:       jc.JobID,
		ArtifactURL: jc.ArtifactURL,
		Options:     opts,
		Context:     jc,
	}

	var result pipeline.StageResult
	if err := c.post(ctx, "/v1/stages/"+string(stage), req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// HealthCheck checks if the engine service is available
func (c *EngineClient) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("engine service unhealthy: status %d", resp.StatusCode)
	}

	return nil
}

// post sends a POST request with JSON body and parses the response
func (c *EngineClient) post(ctx context.Context, endpoint string, body interface{}, result interface{}) error {
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("engine service error (status %d): %s", resp.StatusCode, string(respBody))
	}

	if err := json.Unmarshal(respBody, result); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}

	return nil
}

// IsConfigured returns true if the client has valid configuration
func (c *EngineClient) IsConfigured() bool {
	return c.baseURL != ""
}
