package engine

import (
	"context"
	"fmt"
	"math"
	"testing"

	"github.com/healstack/coord-engine/internal/ensemble"
	"github.com/healstack/coord-engine/internal/models"
	"github.com/healstack/coord-engine/internal/policy"
)

type stubVerifier struct {
	after    map[string]float64
	resolved bool
	err      error
	calls    int
}

func (s *stubVerifier) Verify(_ context.Context, _ string, _ map[string]float64) (map[string]float64, bool, error) {
	s.calls++
	return s.after, s.resolved, s.err
}

type memoryArchive struct {
	decisions []models.Decision
	outcomes  []models.RemediationOutcome
}

func (m *memoryArchive) SaveDecision(_ context.Context, decision models.Decision) error {
	m.decisions = append(m.decisions, decision)
	return nil
}

func (m *memoryArchive) SaveOutcome(_ context.Context, outcome models.RemediationOutcome) error {
	m.outcomes = append(m.outcomes, outcome)
	return nil
}

func trackedDecision(target string) models.Decision {
	return models.Decision{
		ID:     "d1",
		Target: target,
		Path:   models.PathRuleMatched,
		ChosenAction: &models.Action{
			ID:     "a1",
			Type:   models.ActionRestart,
			Source: models.SourceDeterministic,
			Target: target,
		},
		Verdict: models.Verdict{
			Target:    target,
			IsAnomaly: true,
			ContributingVotes: []models.Vote{
				{DetectorID: "agree", IsAnomaly: true, Weight: 0.5},
				{DetectorID: "dissent", IsAnomaly: false, Weight: 0.5},
			},
		},
	}
}

func TestRecordSuccessfulOutcome(t *testing.T) {
	archive := &memoryArchive{}
	store := policy.NewStore(nil, policy.StoreConfig{})
	tracker := NewTracker(nil, ensemble.NewWeightTable(0.9), store, nil, archive)

	result := models.ExecutionResult{Success: true, Message: "restarted"}
	outcome := tracker.Record(context.Background(), trackedDecision("web"), "a1", result, map[string]float64{"cpu": 95})

	if !outcome.Success {
		t.Fatal("expected success recorded")
	}
	if outcome.DecisionRef != "d1" || outcome.ActionID != "a1" {
		t.Fatalf("outcome refs wrong: %+v", outcome)
	}
	if outcome.ActionType != models.ActionRestart {
		t.Fatalf("expected action type carried onto outcome, got %s", outcome.ActionType)
	}
	if len(archive.outcomes) != 1 {
		t.Fatalf("outcome not archived: %d", len(archive.outcomes))
	}
}

func TestRecordVerificationDowngrade(t *testing.T) {
	verifier := &stubVerifier{after: map[string]float64{"cpu": 94}, resolved: false}
	tracker := NewTracker(nil, ensemble.NewWeightTable(0.9), policy.NewStore(nil, policy.StoreConfig{}), verifier, nil)

	result := models.ExecutionResult{Success: true}
	outcome := tracker.Record(context.Background(), trackedDecision("web"), "a1", result, map[string]float64{"cpu": 95})

	if outcome.Success {
		t.Fatal("unresolved condition must downgrade the outcome")
	}
	if outcome.Reason != "condition_not_resolved" {
		t.Fatalf("unexpected reason %q", outcome.Reason)
	}
	if outcome.MetricsAfter["cpu"] != 94 {
		t.Fatalf("after metrics not recorded: %+v", outcome.MetricsAfter)
	}
}

func TestRecordVerifierSkippedOnFailure(t *testing.T) {
	verifier := &stubVerifier{resolved: true}
	tracker := NewTracker(nil, ensemble.NewWeightTable(0.9), policy.NewStore(nil, policy.StoreConfig{}), verifier, nil)

	result := models.ExecutionResult{Success: false, Message: "exec error"}
	outcome := tracker.Record(context.Background(), trackedDecision("web"), "a1", result, nil)
	if verifier.calls != 0 {
		t.Fatal("verifier must not run for failed executions")
	}
	if outcome.Success {
		t.Fatal("failure recorded as success")
	}
	if outcome.Reason != "exec error" {
		t.Fatalf("expected executor message as reason, got %q", outcome.Reason)
	}
}

func TestRecordVerifierErrorKeepsExecutorResult(t *testing.T) {
	verifier := &stubVerifier{err: fmt.Errorf("metrics backend down")}
	tracker := NewTracker(nil, ensemble.NewWeightTable(0.9), policy.NewStore(nil, policy.StoreConfig{}), verifier, nil)

	result := models.ExecutionResult{Success: true}
	outcome := tracker.Record(context.Background(), trackedDecision("web"), "a1", result, map[string]float64{"cpu": 95})
	if !outcome.Success {
		t.Fatal("verification error must not fail the outcome")
	}
}

func TestRecordAdjustsOnlyAgreeingDetectors(t *testing.T) {
	weights := ensemble.NewWeightTable(0.9)
	tracker := NewTracker(nil, weights, policy.NewStore(nil, policy.StoreConfig{}), nil, nil)

	decision := trackedDecision("web")
	tracker.Record(context.Background(), decision, "a1", models.ExecutionResult{Success: true}, nil)

	// The agreeing detector moves toward reward 1: 0.9*0.5 + 0.1*1 = 0.55.
	agree := weights.Weight("web", "agree", 2)
	if math.Abs(agree-0.55) > 1e-9 {
		t.Fatalf("agreeing detector weight = %f, want 0.55", agree)
	}
	// The dissenting detector stays at cold start.
	dissent := weights.Weight("web", "dissent", 2)
	if dissent != 0.5 {
		t.Fatalf("dissenting detector weight moved: %f", dissent)
	}
}

func TestRecordFeedsBreaker(t *testing.T) {
	store := policy.NewStore(nil, policy.StoreConfig{BreakerFailureThreshold: 3})
	tracker := NewTracker(nil, ensemble.NewWeightTable(0.9), store, nil, nil)

	decision := trackedDecision("web")
	for i := 0; i < 3; i++ {
		tracker.Record(context.Background(), decision, "a1", models.ExecutionResult{Success: false, Reason: "timeout"}, nil)
	}
	if state := store.CircuitState("web"); state.State != policy.BreakerOpen {
		t.Fatalf("breaker did not open after repeated failures: %s", state.State)
	}
}
