package engine

import (
	"testing"

	"github.com/healstack/coord-engine/internal/models"
)

func makeAction(id, target string, actionType models.ActionType, source models.ActionSource, priority int, confidence float64) models.Action {
	return models.Action{
		ID:         id,
		Type:       actionType,
		Source:     source,
		Priority:   priority,
		Target:     target,
		Status:     models.StatusPending,
		Confidence: confidence,
	}
}

func TestConflictsSameTarget(t *testing.T) {
	resolver := NewConflictResolver(nil)
	a := makeAction("a", "web", models.ActionRestart, models.SourceDeterministic, 5, 1)
	b := makeAction("b", "web", models.ActionResourceScaling, models.SourceAIDriven, 5, 0.9)
	c := makeAction("c", "api", models.ActionRestart, models.SourceManual, 5, 1)

	pairs := resolver.Conflicts([]models.Action{a, b, c})
	if len(pairs) != 1 {
		t.Fatalf("expected 1 conflict, got %d", len(pairs))
	}
	if pairs[0][0].ID != "a" || pairs[0][1].ID != "b" {
		t.Fatalf("unexpected pair: %s vs %s", pairs[0][0].ID, pairs[0][1].ID)
	}
}

func TestConflictsInterferingTypesAcrossTargets(t *testing.T) {
	resolver := NewConflictResolver(nil)
	a := makeAction("a", "node-1", models.ActionNodeRemediation, models.SourceDeterministic, 5, 1)
	b := makeAction("b", "web", models.ActionResourceScaling, models.SourceAIDriven, 5, 0.9)

	if pairs := resolver.Conflicts([]models.Action{a, b}); len(pairs) != 1 {
		t.Fatalf("expected cross-target type conflict, got %d pairs", len(pairs))
	}
}

func TestResolveDeterministicBeatsAI(t *testing.T) {
	resolver := NewConflictResolver(nil)
	det := makeAction("det", "web", models.ActionRestart, models.SourceDeterministic, 3, 1)
	ai := makeAction("ai", "web", models.ActionResourceScaling, models.SourceAIDriven, 9, 0.95)

	if winner := resolver.Resolve(det, ai); winner.ID != "det" {
		t.Fatalf("deterministic action must win on the same target, got %s", winner.ID)
	}
	if winner := resolver.Resolve(ai, det); winner.ID != "det" {
		t.Fatal("resolution must be order-independent")
	}
}

func TestResolveHigherPriorityWins(t *testing.T) {
	resolver := NewConflictResolver(nil)
	low := makeAction("low", "web", models.ActionRestart, models.SourceManual, 3, 1)
	high := makeAction("high", "web", models.ActionResourceScaling, models.SourceManual, 8, 1)

	if winner := resolver.Resolve(low, high); winner.ID != "high" {
		t.Fatalf("expected higher priority to win, got %s", winner.ID)
	}
}

func TestResolveLowConfidenceAILoses(t *testing.T) {
	resolver := NewConflictResolver(nil)
	shaky := makeAction("shaky", "web", models.ActionRestart, models.SourceAIDriven, 5, 0.4)
	solid := makeAction("solid", "api", models.ActionRestart, models.SourceManual, 5, 1)

	if winner := resolver.Resolve(shaky, solid); winner.ID != "solid" {
		t.Fatalf("low-confidence AI action must lose, got %s", winner.ID)
	}
}

func TestApplyCancelsLosers(t *testing.T) {
	resolver := NewConflictResolver(nil)
	det := makeAction("det", "web", models.ActionRestart, models.SourceDeterministic, 5, 1)
	ai := makeAction("ai", "web", models.ActionResourceScaling, models.SourceAIDriven, 9, 0.95)
	other := makeAction("other", "api", models.ActionRestart, models.SourceManual, 5, 1)

	surviving, cancelled := resolver.Apply([]models.Action{det, ai, other})
	if len(surviving) != 2 || len(cancelled) != 1 {
		t.Fatalf("expected 2 survivors and 1 cancellation, got %d/%d", len(surviving), len(cancelled))
	}
	if cancelled[0].ID != "ai" {
		t.Fatalf("expected ai action cancelled, got %s", cancelled[0].ID)
	}
	if cancelled[0].Status != models.StatusCancelled {
		t.Fatalf("cancelled action not marked: %s", cancelled[0].Status)
	}
}
