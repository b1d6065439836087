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

// RecommenderClient calls the external AI recommendation service. The arbiter
// treats any transport failure as a zero-confidence recommendation, so this
// client only reports errors and never invents confidence values.
type RecommenderClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewRecommenderClient constructs a client targeting the configured service.
func NewRecommenderClient(baseURL, apiKey string, timeout time.Duration) *RecommenderClient {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &RecommenderClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Recommend requests an action recommendation for an anomalous verdict.
func (c *RecommenderClient) Recommend(ctx context.Context, verdict models.Verdict, target models.TargetContext) (models.RecommendedAction, error) {
	if c == nil || c.baseURL == "" {
		return models.RecommendedAction{}, fmt.Errorf("recommender not configured")
	}

	payload := map[string]interface{}{
		"verdict":        verdict,
		"target_context": target,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return models.RecommendedAction{}, fmt.Errorf("encode recommendation request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/recommendations", bytes.NewReader(body))
	if err != nil {
		return models.RecommendedAction{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return models.RecommendedAction{}, fmt.Errorf("recommender request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return models.RecommendedAction{}, fmt.Errorf("recommender returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var rec models.RecommendedAction
	if err := json.NewDecoder(resp.Body).Decode(&rec); err != nil {
		return models.RecommendedAction{}, fmt.Errorf("decode recommendation: %w", err)
	}
	if rec.Confidence < 0 || rec.Confidence > 1 {
		return models.RecommendedAction{}, fmt.Errorf("recommendation confidence %.3f out of range", rec.Confidence)
	}
	return rec, nil
}
