package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/healstack/coord-engine/internal/audit"
	"github.com/healstack/coord-engine/internal/ensemble"
	"github.com/healstack/coord-engine/internal/metrics"
	"github.com/healstack/coord-engine/internal/models"
)

// Executor is the remediation executor collaborator boundary. Implementations
// issue the actual action against the orchestration platform.
type Executor interface {
	Execute(ctx context.Context, action models.Action) (models.ExecutionResult, error)
}

// Pipeline runs one coordination cycle per (target, window): aggregate votes,
// arbitrate, pass the safety gate, execute, and record the outcome. Stages for
// one target run sequentially; separate targets run concurrently and only
// serialise on the per-target policy state.
type Pipeline struct {
	logger     *slog.Logger
	aggregator *ensemble.Aggregator
	arbiter    *Arbiter
	gate       *Gate
	tracker    *Tracker
	executor   Executor
	archive    OutcomeArchive
	auditor    audit.Recorder
	freshness  *FreshnessIndex
	detectors  []ensemble.Detector

	strategy    ensemble.Strategy
	execTimeout time.Duration
}

// PipelineConfig carries the pipeline tunables.
type PipelineConfig struct {
	Strategy       ensemble.Strategy
	ExecuteTimeout time.Duration
}

// NewPipeline constructs the coordination pipeline.
func NewPipeline(
	logger *slog.Logger,
	aggregator *ensemble.Aggregator,
	arbiter *Arbiter,
	gate *Gate,
	tracker *Tracker,
	executor Executor,
	archive OutcomeArchive,
	auditor audit.Recorder,
	freshness *FreshnessIndex,
	detectors []ensemble.Detector,
	cfg PipelineConfig,
) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	if auditor == nil {
		auditor = audit.Nop{}
	}
	if freshness == nil {
		freshness = NewFreshnessIndex()
	}
	if cfg.ExecuteTimeout <= 0 {
		cfg.ExecuteTimeout = 30 * time.Second
	}
	if cfg.Strategy.Kind == "" {
		cfg.Strategy.Kind = ensemble.StrategyMajority
	}
	return &Pipeline{
		logger:      logger,
		aggregator:  aggregator,
		arbiter:     arbiter,
		gate:        gate,
		tracker:     tracker,
		executor:    executor,
		archive:     archive,
		auditor:     auditor,
		freshness:   freshness,
		detectors:   detectors,
		strategy:    cfg.Strategy,
		execTimeout: cfg.ExecuteTimeout,
	}
}

// Freshness exposes the token index so callers can supersede stale cycles.
func (p *Pipeline) Freshness() *FreshnessIndex {
	return p.freshness
}

// RunCycle executes one full coordination cycle for a target.
func (p *Pipeline) RunCycle(ctx context.Context, req models.CycleRequest) (models.CycleResult, error) {
	if req.Target == "" {
		return models.CycleResult{}, fmt.Errorf("cycle target is required")
	}

	p.auditor.Record(ctx, audit.Event{Type: audit.EventCycleStarted, Target: req.Target})

	samples := append([]models.DetectorSample(nil), req.Samples...)
	if len(req.Series) > 0 {
		for _, detector := range p.detectors {
			if sample, ok := detector.Detect(req.Series); ok {
				samples = append(samples, sample)
			}
		}
	}

	token := p.freshness.Next(req.Target)
	votes := p.aggregator.Votes(req.Target, samples)
	verdict := p.aggregator.Aggregate(req.Target, votes, p.strategy, token)
	verdict.CreatedAt = time.Now().UTC()
	metrics.ObserveVerdict(verdict.Confidence)

	targetCtx := models.TargetContext{
		Target:    req.Target,
		Namespace: req.Namespace,
		Metrics:   req.Metrics,
		Events:    req.Events,
	}

	decision := p.arbiter.Decide(ctx, verdict, targetCtx)
	metrics.IncDecision(string(decision.Path))
	p.archiveDecision(ctx, decision)

	result := models.CycleResult{Verdict: verdict, Decision: decision}

	if !decision.HasAction() {
		p.auditor.Record(ctx, audit.Event{
			Type:       audit.EventCycleCompleted,
			Target:     req.Target,
			DecisionID: decision.ID,
			Detail:     string(decision.Path),
		})
		return result, nil
	}

	allow, reason := p.gate.Admit(decision)
	metrics.IncGate(allow, reason)
	if !allow {
		result.Reason = reason
		auditType := audit.EventActionRejected
		if decision.RequiresApproval && reason == "approval_pending" {
			auditType = audit.EventDecisionEscalated
		}
		p.auditor.Record(ctx, audit.Event{
			Type:       auditType,
			Target:     req.Target,
			DecisionID: decision.ID,
			ActionID:   decision.ChosenAction.ID,
			Detail:     reason,
		})
		return result, nil
	}
	result.Admitted = true
	p.auditor.Record(ctx, audit.Event{
		Type:       audit.EventActionAdmitted,
		Target:     req.Target,
		DecisionID: decision.ID,
		ActionID:   decision.ChosenAction.ID,
	})

	outcome := p.executeAndRecord(ctx, decision, req.Metrics)
	result.Outcome = &outcome

	p.auditor.Record(ctx, audit.Event{
		Type:       audit.EventCycleCompleted,
		Target:     req.Target,
		DecisionID: decision.ID,
		Detail:     string(decision.Path),
	})
	return result, nil
}

// ExecuteApproved runs a previously escalated decision once an approval has
// been recorded. The decision re-passes the safety gate first.
func (p *Pipeline) ExecuteApproved(ctx context.Context, decision models.Decision, metricsBefore map[string]float64) (models.CycleResult, error) {
	if !decision.HasAction() {
		return models.CycleResult{}, fmt.Errorf("decision %s carries no action", decision.ID)
	}

	result := models.CycleResult{Verdict: decision.Verdict, Decision: decision}
	allow, reason := p.gate.Admit(decision)
	metrics.IncGate(allow, reason)
	if !allow {
		result.Reason = reason
		return result, nil
	}
	result.Admitted = true

	outcome := p.executeAndRecord(ctx, decision, metricsBefore)
	result.Outcome = &outcome
	return result, nil
}

func (p *Pipeline) executeAndRecord(ctx context.Context, decision models.Decision, metricsBefore map[string]float64) models.RemediationOutcome {
	action := *decision.ChosenAction
	metrics.IncAction(string(action.Type), string(action.Source))

	execCtx, cancel := context.WithTimeout(ctx, p.execTimeout)
	defer cancel()

	started := time.Now().UTC()
	execResult, err := p.executor.Execute(execCtx, action)
	if err != nil {
		reason := "executor_error"
		if execCtx.Err() == context.DeadlineExceeded {
			reason = "timeout"
		}
		p.logger.Warn("action execution failed",
			slog.String("action", action.ID),
			slog.String("target", action.Target),
			slog.Any("error", err))
		execResult = models.ExecutionResult{
			Success:     false,
			Message:     err.Error(),
			Reason:      reason,
			CompletedAt: time.Now().UTC(),
		}
	}

	auditType := audit.EventActionExecuted
	if !execResult.Success {
		auditType = audit.EventActionFailed
	}
	p.auditor.Record(ctx, audit.Event{
		Type:       auditType,
		Target:     action.Target,
		DecisionID: decision.ID,
		ActionID:   action.ID,
		Detail:     execResult.Message,
		Fields:     map[string]string{"duration": time.Since(started).String()},
	})

	outcome := p.tracker.Record(ctx, decision, action.ID, execResult, metricsBefore)
	metrics.IncOutcome(outcome.Success)
	p.auditor.Record(ctx, audit.Event{
		Type:       audit.EventOutcomeRecorded,
		Target:     action.Target,
		DecisionID: decision.ID,
		ActionID:   action.ID,
		Detail:     outcome.Reason,
	})
	return outcome
}

func (p *Pipeline) archiveDecision(ctx context.Context, decision models.Decision) {
	if p.archive == nil {
		return
	}
	if err := p.archive.SaveDecision(ctx, decision); err != nil {
		p.logger.Warn("failed to archive decision",
			slog.String("decision", decision.ID),
			slog.Any("error", err))
	}
	p.auditor.Record(ctx, audit.Event{
		Type:       audit.EventDecisionMade,
		Target:     decision.Target,
		DecisionID: decision.ID,
		Detail:     decision.Rationale,
	})
}
