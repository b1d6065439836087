package repo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/healstack/coord-engine/internal/models"
)

// ExecutorClient issues remediation actions to the platform-side executor
// service. It is the only pipeline stage expected to block for non-trivial
// wall-clock time; the pipeline bounds every call with a timeout.
type ExecutorClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewExecutorClient constructs a client targeting the executor service.
func NewExecutorClient(baseURL, apiKey string, timeout time.Duration) *ExecutorClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &ExecutorClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Execute submits the action and waits for the executor's completion report.
func (c *ExecutorClient) Execute(ctx context.Context, action models.Action) (models.ExecutionResult, error) {
	if c == nil || c.baseURL == "" {
		return models.ExecutionResult{}, fmt.Errorf("executor not configured")
	}

	payload := map[string]interface{}{
		"action_type": action.Type,
		"target":      action.Target,
		"parameters":  action.Parameters,
		"action_id":   action.ID,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return models.ExecutionResult{}, fmt.Errorf("encode execution request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/execute", bytes.NewReader(body))
	if err != nil {
		return models.ExecutionResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return models.ExecutionResult{}, fmt.Errorf("executor request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return models.ExecutionResult{}, fmt.Errorf("executor returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var result models.ExecutionResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return models.ExecutionResult{}, fmt.Errorf("decode execution result: %w", err)
	}
	if result.CompletedAt.IsZero() {
		result.CompletedAt = time.Now().UTC()
	}
	return result, nil
}
