package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/healstack/coord-engine/internal/ensemble"
	"github.com/healstack/coord-engine/internal/models"
	"github.com/healstack/coord-engine/internal/policy"
)

// Verifier performs the post-hoc check that a remediation actually resolved
// the underlying condition, returning the metric state observed afterwards.
type Verifier interface {
	Verify(ctx context.Context, target string, before map[string]float64) (after map[string]float64, resolved bool, err error)
}

// OutcomeArchive is the append-only archive collaborator for decisions and
// outcomes.
type OutcomeArchive interface {
	SaveDecision(ctx context.Context, decision models.Decision) error
	SaveOutcome(ctx context.Context, outcome models.RemediationOutcome) error
}

// Tracker closes the feedback loop: it records each remediation attempt,
// adjusts detector weights, and feeds the circuit breaker.
type Tracker struct {
	logger   *slog.Logger
	weights  *ensemble.WeightTable
	store    *policy.Store
	verifier Verifier
	archive  OutcomeArchive
}

// NewTracker constructs a Tracker. verifier and archive may be nil.
func NewTracker(logger *slog.Logger, weights *ensemble.WeightTable, store *policy.Store, verifier Verifier, archive OutcomeArchive) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{logger: logger, weights: weights, store: store, verifier: verifier, archive: archive}
}

// Record turns an execution result into an immutable outcome. An action that
// completed at the platform level but did not resolve the triggering condition
// is recorded as a failure.
func (t *Tracker) Record(ctx context.Context, decision models.Decision, actionID string, result models.ExecutionResult, metricsBefore map[string]float64) models.RemediationOutcome {
	outcome := models.RemediationOutcome{
		ID:            uuid.NewString(),
		DecisionRef:   decision.ID,
		ActionID:      actionID,
		Target:        decision.Target,
		Success:       result.Success,
		Reason:        result.Reason,
		MetricsBefore: copyMetrics(metricsBefore),
		Timestamp:     time.Now().UTC(),
	}
	if decision.ChosenAction != nil {
		outcome.ActionType = decision.ChosenAction.Type
	}
	if outcome.Reason == "" && !result.Success {
		outcome.Reason = result.Message
	}

	if t.verifier != nil && result.Success {
		after, resolved, err := t.verifier.Verify(ctx, decision.Target, metricsBefore)
		if err != nil {
			t.logger.Warn("outcome verification failed",
				slog.String("target", decision.Target),
				slog.Any("error", err))
		} else {
			outcome.MetricsAfter = copyMetrics(after)
			if !resolved {
				outcome.Success = false
				outcome.Reason = "condition_not_resolved"
			}
		}
	}

	t.adjustWeights(decision, outcome.Success)
	if t.store != nil {
		t.store.RecordOutcome(decision.Target, outcome.Success)
	}

	if t.archive != nil {
		if err := t.archive.SaveOutcome(ctx, outcome); err != nil {
			t.logger.Warn("failed to archive outcome",
				slog.String("outcome", outcome.ID),
				slog.Any("error", err))
		}
	}
	return outcome
}

// adjustWeights rewards detectors that agreed with a verdict that led to a
// successful remediation and penalises them when the remediation failed.
func (t *Tracker) adjustWeights(decision models.Decision, success bool) {
	if t.weights == nil {
		return
	}
	reward := 0.0
	if success {
		reward = 1.0
	}
	votes := decision.Verdict.ContributingVotes
	for _, vote := range votes {
		if vote.IsAnomaly != decision.Verdict.IsAnomaly {
			continue
		}
		updated := t.weights.UpdateWeight(decision.Target, vote.DetectorID, reward, len(votes))
		t.logger.Debug("detector weight adjusted",
			slog.String("target", decision.Target),
			slog.String("detector", vote.DetectorID),
			slog.Float64("weight", updated))
	}
}

func copyMetrics(in map[string]float64) map[string]float64 {
	if in == nil {
		return nil
	}
	out := make(map[string]float64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
