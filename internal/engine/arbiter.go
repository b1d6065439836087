package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/healstack/coord-engine/internal/models"
	"github.com/healstack/coord-engine/internal/policy"
)

// Recommender is the probabilistic recommendation collaborator. A transport
// failure or timeout is treated as a zero-confidence recommendation, never as
// a skipped evaluation.
type Recommender interface {
	Recommend(ctx context.Context, verdict models.Verdict, target models.TargetContext) (models.RecommendedAction, error)
}

// ArbiterConfig carries the confidence thresholds for the AI fallback path.
type ArbiterConfig struct {
	HighConfidence   float64
	LowConfidence    float64
	RecommendTimeout time.Duration
}

// Arbiter turns a verdict into a decision: deterministic when a rule matches,
// probabilistic via the recommender otherwise, escalating to a human when
// neither produces sufficient confidence.
type Arbiter struct {
	logger      *slog.Logger
	store       *policy.Store
	recommender Recommender
	cfg         ArbiterConfig
}

// NewArbiter constructs an Arbiter. The recommender may be nil; anomalies then
// escalate whenever no rule applies.
func NewArbiter(logger *slog.Logger, store *policy.Store, recommender Recommender, cfg ArbiterConfig) *Arbiter {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.HighConfidence <= 0 {
		cfg.HighConfidence = 0.90
	}
	if cfg.LowConfidence <= 0 {
		cfg.LowConfidence = 0.75
	}
	if cfg.RecommendTimeout <= 0 {
		cfg.RecommendTimeout = 5 * time.Second
	}
	return &Arbiter{logger: logger, store: store, recommender: recommender, cfg: cfg}
}

// Decide runs one pass of the per-cycle state machine:
// Start -> RuleCheck -> {RuleMatched | AIFallback} -> {Approved | Escalated}.
func (a *Arbiter) Decide(ctx context.Context, verdict models.Verdict, target models.TargetContext) models.Decision {
	decision := models.Decision{
		ID:            uuid.NewString(),
		Target:        verdict.Target,
		Verdict:       verdict,
		Freshness:     verdict.Freshness,
		TargetMetrics: target.Metrics,
		CreatedAt:     time.Now().UTC(),
	}

	if !verdict.IsAnomaly {
		decision.Path = models.PathNoAction
		decision.Rationale = "verdict not anomalous"
		return decision
	}

	// RuleCheck: highest-priority matching rule with rate budget left wins.
	matches := a.store.MatchRules(verdict, target)
	for _, rule := range matches {
		if !a.store.CheckRateLimit(rule, verdict.Target) {
			a.logger.Debug("rule rate-limited",
				slog.String("rule", rule.Name),
				slog.String("target", verdict.Target))
			continue
		}
		return a.ruleMatched(decision, rule)
	}

	return a.aiFallback(ctx, decision, verdict, target, len(matches) > 0)
}

func (a *Arbiter) ruleMatched(decision models.Decision, rule policy.Rule) models.Decision {
	now := time.Now().UTC()
	decision.Path = models.PathRuleMatched
	decision.RuleName = rule.Name
	decision.RuleVersion = rule.Version
	decision.Confidence = 1
	// Rules are pre-approved by the operator who authored them.
	decision.RequiresApproval = false
	decision.Rationale = fmt.Sprintf("rule %q (v%d) matched", rule.Name, rule.Version)
	decision.ChosenAction = &models.Action{
		ID:         uuid.NewString(),
		Type:       rule.Action.Type,
		Source:     models.SourceDeterministic,
		Priority:   rule.Action.Priority,
		Target:     decision.Target,
		Parameters: rule.Action.Parameters,
		Status:     models.StatusPending,
		Confidence: 1,
		CreatedAt:  now,
	}
	return decision
}

func (a *Arbiter) aiFallback(ctx context.Context, decision models.Decision, verdict models.Verdict, target models.TargetContext, rulesRateLimited bool) models.Decision {
	if a.recommender == nil {
		reason := "no rules configured"
		if rulesRateLimited {
			reason = "all matching rules rate-limited"
		}
		return a.escalate(decision, target, fmt.Sprintf("%s and no recommender configured", reason))
	}

	recCtx, cancel := context.WithTimeout(ctx, a.cfg.RecommendTimeout)
	defer cancel()

	rec, err := a.recommender.Recommend(recCtx, verdict, target)
	if err != nil {
		a.logger.Warn("recommender unavailable, treating as zero confidence",
			slog.String("target", verdict.Target),
			slog.Any("error", err))
		rec = models.RecommendedAction{Confidence: 0}
	}

	switch {
	case rec.Confidence >= a.cfg.HighConfidence:
		decision.Path = models.PathAIRecommended
		decision.Confidence = rec.Confidence
		decision.Rationale = fmt.Sprintf("model %s confidence %.2f", rec.ModelVersion, rec.Confidence)
		decision.ChosenAction = recommendedAction(decision.Target, rec)
	case rec.Confidence >= a.cfg.LowConfidence:
		decision.Path = models.PathAIRecommended
		decision.Confidence = rec.Confidence
		decision.MonitorClosely = true
		decision.Rationale = fmt.Sprintf("model %s confidence %.2f, monitoring closely", rec.ModelVersion, rec.Confidence)
		decision.ChosenAction = recommendedAction(decision.Target, rec)
	default:
		decision.Confidence = rec.Confidence
		return a.escalate(decision, target, fmt.Sprintf("recommendation confidence %.2f below %.2f", rec.Confidence, a.cfg.LowConfidence))
	}
	return decision
}

// escalate attaches a deterministic, conservative fallback action and flags
// the decision for human approval.
func (a *Arbiter) escalate(decision models.Decision, target models.TargetContext, reason string) models.Decision {
	decision.Path = models.PathEscalateHuman
	decision.RequiresApproval = true
	decision.Rationale = reason

	actionType := models.ActionEscalateToHuman
	if crashLoopShaped(target) {
		actionType = models.ActionRestart
	}
	decision.ChosenAction = &models.Action{
		ID:        uuid.NewString(),
		Type:      actionType,
		Source:    models.SourceAIDriven,
		Priority:  5,
		Target:    decision.Target,
		Status:    models.StatusPending,
		CreatedAt: time.Now().UTC(),
	}
	return decision
}

func recommendedAction(target string, rec models.RecommendedAction) *models.Action {
	return &models.Action{
		ID:         uuid.NewString(),
		Type:       models.ActionType(rec.ActionType),
		Source:     models.SourceAIDriven,
		Priority:   5,
		Target:     target,
		Parameters: rec.Parameters,
		Status:     models.StatusPending,
		Confidence: rec.Confidence,
		CreatedAt:  time.Now().UTC(),
	}
}

func crashLoopShaped(target models.TargetContext) bool {
	for _, event := range target.Events {
		if strings.Contains(strings.ToLower(event), "crashloop") {
			return true
		}
	}
	if restarts, ok := target.Metrics["container_restarts"]; ok && restarts >= 3 {
		return true
	}
	return false
}
