package repo

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/healstack/coord-engine/internal/models"
)

func TestExecutorClientExecute(t *testing.T) {
	var gotAuth string
	var gotPayload map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/execute" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotPayload)
		_ = json.NewEncoder(w).Encode(models.ExecutionResult{Success: true, Message: "ok"})
	}))
	defer server.Close()

	client := NewExecutorClient(server.URL, "secret", time.Second)
	action := models.Action{
		ID:     "a1",
		Type:   models.ActionRestart,
		Target: "web",
		Parameters: map[string]string{
			"grace_period": "30s",
		},
	}
	result, err := client.Execute(context.Background(), action)
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	if !result.Success {
		t.Fatal("expected success")
	}
	if result.CompletedAt.IsZero() {
		t.Fatal("completed_at not defaulted")
	}
	if gotAuth != "Bearer secret" {
		t.Fatalf("auth header %q", gotAuth)
	}
	if gotPayload["action_type"] != "restart" || gotPayload["target"] != "web" {
		t.Fatalf("unexpected payload: %+v", gotPayload)
	}
}

func TestExecutorClientErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer server.Close()

	client := NewExecutorClient(server.URL, "", time.Second)
	if _, err := client.Execute(context.Background(), models.Action{ID: "a1", Target: "web"}); err == nil {
		t.Fatal("expected error for 502")
	}
}

func TestExecutorClientUnconfigured(t *testing.T) {
	client := NewExecutorClient("", "", time.Second)
	if _, err := client.Execute(context.Background(), models.Action{}); err == nil {
		t.Fatal("expected error when base URL unset")
	}
}

func TestRecommenderClientRecommend(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/recommendations" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(models.RecommendedAction{
			ActionType: "resource_scaling", Confidence: 0.88, ModelVersion: "v2",
		})
	}))
	defer server.Close()

	client := NewRecommenderClient(server.URL, "", time.Second)
	rec, err := client.Recommend(context.Background(), models.Verdict{Target: "web"}, models.TargetContext{Target: "web"})
	if err != nil {
		t.Fatalf("recommend failed: %v", err)
	}
	if rec.ActionType != "resource_scaling" || rec.Confidence != 0.88 {
		t.Fatalf("unexpected recommendation: %+v", rec)
	}
}

func TestRecommenderClientRejectsOutOfRangeConfidence(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(models.RecommendedAction{ActionType: "restart", Confidence: 1.5})
	}))
	defer server.Close()

	client := NewRecommenderClient(server.URL, "", time.Second)
	if _, err := client.Recommend(context.Background(), models.Verdict{}, models.TargetContext{}); err == nil {
		t.Fatal("expected rejection of confidence > 1")
	}
}

func TestMetricsVerifierResolved(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"metrics": map[string]float64{"cpu": 30, "memory": 40},
		})
	}))
	defer server.Close()

	verifier := NewMetricsVerifier(server.URL, time.Second, 0, 0.9)
	after, resolved, err := verifier.Verify(context.Background(), "web", map[string]float64{"cpu": 95, "memory": 80})
	if err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if !resolved {
		t.Fatal("recovered metrics reported unresolved")
	}
	if after["cpu"] != 30 {
		t.Fatalf("after metrics wrong: %+v", after)
	}
}

func TestMetricsVerifierUnresolved(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"metrics": map[string]float64{"cpu": 94},
		})
	}))
	defer server.Close()

	verifier := NewMetricsVerifier(server.URL, time.Second, 0, 0.9)
	_, resolved, err := verifier.Verify(context.Background(), "web", map[string]float64{"cpu": 95})
	if err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if resolved {
		t.Fatal("still-elevated metric reported resolved")
	}
}

func TestMetricsVerifierEmptyBaseline(t *testing.T) {
	verifier := NewMetricsVerifier("http://unused", time.Second, 0, 0.9)
	_, resolved, err := verifier.Verify(context.Background(), "web", nil)
	if err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if !resolved {
		t.Fatal("empty baseline must pass vacuously")
	}
}

func TestMetricsVerifierSettleWindowCancel(t *testing.T) {
	verifier := NewMetricsVerifier("http://unused", time.Second, time.Minute, 0.9)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, _, err := verifier.Verify(ctx, "web", map[string]float64{"cpu": 95}); err == nil {
		t.Fatal("expected cancellation error during settle window")
	}
}
