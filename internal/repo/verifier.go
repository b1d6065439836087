package repo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// MetricsVerifier performs the post-hoc remediation check against a metrics
// backend: it waits out a settle window, re-reads the target's metrics, and
// reports the condition resolved only when every metric that was elevated
// before the action has fallen back below the recovery fraction of its
// pre-action value.
type MetricsVerifier struct {
	baseURL        string
	httpClient     *http.Client
	settleWindow   time.Duration
	recoveryFactor float64
	sleep          func(ctx context.Context, d time.Duration) error
}

// NewMetricsVerifier constructs a verifier. recoveryFactor outside (0,1]
// falls back to 0.9.
func NewMetricsVerifier(baseURL string, timeout, settleWindow time.Duration, recoveryFactor float64) *MetricsVerifier {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if settleWindow < 0 {
		settleWindow = 0
	}
	if recoveryFactor <= 0 || recoveryFactor > 1 {
		recoveryFactor = 0.9
	}
	return &MetricsVerifier{
		baseURL:        strings.TrimRight(baseURL, "/"),
		httpClient:     &http.Client{Timeout: timeout},
		settleWindow:   settleWindow,
		recoveryFactor: recoveryFactor,
		sleep:          sleepContext,
	}
}

// Verify re-reads the target's metrics after the settle window.
func (v *MetricsVerifier) Verify(ctx context.Context, target string, before map[string]float64) (map[string]float64, bool, error) {
	if v == nil || v.baseURL == "" {
		return nil, false, fmt.Errorf("metrics backend not configured")
	}
	if len(before) == 0 {
		return nil, true, nil
	}

	if v.settleWindow > 0 {
		if err := v.sleep(ctx, v.settleWindow); err != nil {
			return nil, false, err
		}
	}

	after, err := v.fetch(ctx, target)
	if err != nil {
		return nil, false, err
	}

	resolved := true
	for name, prev := range before {
		current, ok := after[name]
		if !ok {
			continue
		}
		if prev > 0 && current > prev*v.recoveryFactor {
			resolved = false
			break
		}
	}
	return after, resolved, nil
}

func (v *MetricsVerifier) fetch(ctx context.Context, target string) (map[string]float64, error) {
	payload := map[string]string{"target": target}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.baseURL+"/v1/metrics/current", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("metrics request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("metrics backend returned %d", resp.StatusCode)
	}

	var response struct {
		Metrics map[string]float64 `json:"metrics"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("decode metrics: %w", err)
	}
	return response.Metrics, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
