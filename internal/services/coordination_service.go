package services

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/healstack/coord-engine/internal/audit"
	"github.com/healstack/coord-engine/internal/engine"
	"github.com/healstack/coord-engine/internal/metrics"
	"github.com/healstack/coord-engine/internal/models"
	"github.com/healstack/coord-engine/internal/patterns"
	"github.com/healstack/coord-engine/internal/policy"
	"github.com/healstack/coord-engine/internal/utils"
)

// DecisionArchive defines the archive operations the service facade needs.
type DecisionArchive interface {
	GetDecision(ctx context.Context, id string) (models.Decision, error)
	ListDecisions(ctx context.Context, req models.ListDecisionsRequest) ([]models.Decision, error)
	ListEscalated(ctx context.Context, limit int) ([]models.Decision, error)
	ListOutcomes(ctx context.Context, req models.ListOutcomesRequest) ([]models.RemediationOutcome, error)
	SaveApproval(ctx context.Context, approval models.Approval) error
}

// CoordinationService is the facade the control-plane API talks to. It owns
// the action registry, routes cycles through the pipeline, and exposes the
// archive, rule, and safety surfaces.
type CoordinationService struct {
	logger    *slog.Logger
	pipeline  *engine.Pipeline
	store     *policy.Store
	archive   DecisionArchive
	resolver  *engine.ConflictResolver
	executor  engine.Executor
	miner     *patterns.Miner
	auditor   audit.Recorder
	latencies *utils.LatencyTracker

	mu      sync.RWMutex
	actions map[string]*models.Action

	execTimeout time.Duration
}

// NewCoordinationService constructs the service facade. archive, executor,
// and auditor may be nil when the corresponding surface is not configured.
func NewCoordinationService(
	logger *slog.Logger,
	pipeline *engine.Pipeline,
	store *policy.Store,
	archive DecisionArchive,
	executor engine.Executor,
	auditor audit.Recorder,
	execTimeout time.Duration,
) *CoordinationService {
	if logger == nil {
		logger = slog.Default()
	}
	if auditor == nil {
		auditor = audit.Nop{}
	}
	if execTimeout <= 0 {
		execTimeout = 30 * time.Second
	}
	return &CoordinationService{
		logger:      logger,
		pipeline:    pipeline,
		store:       store,
		archive:     archive,
		resolver:    engine.NewConflictResolver(logger),
		executor:    executor,
		miner:       patterns.NewMiner(logger, nil),
		auditor:     auditor,
		latencies:   utils.NewLatencyTracker(1024),
		actions:     make(map[string]*models.Action),
		execTimeout: execTimeout,
	}
}

// RunCycle executes one coordination cycle for a target.
func (s *CoordinationService) RunCycle(ctx context.Context, req models.CycleRequest) (models.CycleResult, error) {
	if s.pipeline == nil {
		return models.CycleResult{}, utils.NewAppError("RunCycle", "pipeline not configured", nil)
	}
	if req.Target == "" {
		return models.CycleResult{}, utils.NewAppError("RunCycle", "target is required", nil)
	}

	start := time.Now()
	result, err := s.pipeline.RunCycle(ctx, req)
	duration := time.Since(start)
	if err != nil {
		metrics.ObserveCycle(duration, metrics.OutcomeError)
		s.logger.Error("coordination cycle failed",
			slog.String("target", req.Target),
			slog.Any("error", err))
		return models.CycleResult{}, fmt.Errorf("cycle for %s: %w", req.Target, err)
	}
	s.latencies.Observe(duration)
	metrics.ObserveCycle(duration, metrics.OutcomeSuccess)
	if count := s.latencies.Count(); count >= 20 && count%20 == 0 {
		p95 := s.latencies.Percentile(95)
		s.logger.Info("cycle latency", slog.Duration("p95", p95), slog.Int("samples", count))
	}

	if result.Decision.HasAction() {
		s.trackAction(*result.Decision.ChosenAction, result)
	}
	return result, nil
}

// trackAction mirrors a pipeline action into the registry so operators can
// inspect the queue alongside manually submitted work.
func (s *CoordinationService) trackAction(action models.Action, result models.CycleResult) {
	switch {
	case result.Outcome != nil && result.Outcome.Success:
		action.Status = models.StatusCompleted
	case result.Outcome != nil:
		action.Status = models.StatusFailed
	case !result.Admitted && result.Reason == "approval_pending":
		// Held for sign-off; Approve re-tracks with the final state.
		action.Status = models.StatusPending
	case !result.Admitted:
		action.Status = models.StatusCancelled
		action.Error = result.Reason
	}
	now := time.Now().UTC()
	if action.Status == models.StatusCompleted || action.Status == models.StatusFailed {
		action.CompletedAt = &now
	}

	s.mu.Lock()
	s.actions[action.ID] = &action
	active := s.activeCountLocked()
	s.mu.Unlock()
	metrics.SetActiveActions(active)
}

// SubmitAction queues a manually submitted action, resolving conflicts with
// the active queue before it is accepted.
func (s *CoordinationService) SubmitAction(ctx context.Context, action models.Action) (models.Action, error) {
	if action.Target == "" {
		return models.Action{}, utils.NewAppError("SubmitAction", "target is required", nil)
	}
	if action.Type == "" {
		return models.Action{}, utils.NewAppError("SubmitAction", "action type is required", nil)
	}
	if action.ID == "" {
		action.ID = uuid.NewString()
	}
	if action.Source == "" {
		action.Source = models.SourceManual
	}
	if action.Priority < 1 || action.Priority > 10 {
		action.Priority = 5
	}
	action.Status = models.StatusPending
	action.CreatedAt = time.Now().UTC()

	s.mu.Lock()
	queue := make([]models.Action, 0, len(s.actions)+1)
	for _, existing := range s.actions {
		if existing.Active() {
			queue = append(queue, *existing)
		}
	}
	queue = append(queue, action)
	surviving, cancelled := s.resolver.Apply(queue)
	for i := range cancelled {
		metrics.IncConflict()
		c := cancelled[i]
		if stored, ok := s.actions[c.ID]; ok {
			stored.Status = models.StatusCancelled
		}
		if c.ID == action.ID {
			action.Status = models.StatusCancelled
		}
	}
	accepted := false
	for _, a := range surviving {
		if a.ID == action.ID {
			accepted = true
			break
		}
	}
	s.actions[action.ID] = &action
	active := s.activeCountLocked()
	s.mu.Unlock()

	metrics.IncAction(string(action.Type), string(action.Source))
	metrics.SetActiveActions(active)

	if !accepted {
		s.logger.Info("submitted action lost conflict resolution",
			slog.String("action", action.ID),
			slog.String("target", action.Target))
		return action, nil
	}

	s.auditor.Record(ctx, audit.Event{
		Type:     audit.EventActionAdmitted,
		Target:   action.Target,
		ActionID: action.ID,
		Detail:   "manual submission",
	})
	return action, nil
}

// ProcessPending executes queued manual actions through the configured
// executor. Cycle-produced actions are executed by the pipeline and skipped
// here. Manual actions pass the same per-target safety checks as pipeline
// ones: a rejected action returns to pending and is retried next tick, and
// every execution result feeds the target's circuit breaker.
func (s *CoordinationService) ProcessPending(ctx context.Context) int {
	if s.executor == nil {
		return 0
	}

	s.mu.Lock()
	var batch []*models.Action
	for _, action := range s.actions {
		if action.Status == models.StatusPending && action.Source == models.SourceManual {
			action.Status = models.StatusRunning
			now := time.Now().UTC()
			action.StartedAt = &now
			batch = append(batch, action)
		}
	}
	s.mu.Unlock()

	sort.Slice(batch, func(i, j int) bool {
		if batch[i].Priority != batch[j].Priority {
			return batch[i].Priority > batch[j].Priority
		}
		return batch[i].CreatedAt.Before(batch[j].CreatedAt)
	})

	executed := 0
	for _, action := range batch {
		if s.store != nil {
			if allow, reason := s.store.AdmitAction("", action.Target); !allow {
				metrics.IncGate(false, reason)
				s.mu.Lock()
				action.Status = models.StatusPending
				action.StartedAt = nil
				s.mu.Unlock()
				s.logger.Warn("manual action held by safety checks",
					slog.String("action", action.ID),
					slog.String("target", action.Target),
					slog.String("reason", reason))
				continue
			}
			metrics.IncGate(true, "")
		}
		executed++

		execCtx, cancel := context.WithTimeout(ctx, s.execTimeout)
		result, err := s.executor.Execute(execCtx, *action)
		cancel()

		success := err == nil && result.Success
		if s.store != nil {
			s.store.RecordOutcome(action.Target, success)
		}

		now := time.Now().UTC()
		s.mu.Lock()
		action.CompletedAt = &now
		if success {
			action.Status = models.StatusCompleted
		} else {
			action.Status = models.StatusFailed
			if err != nil {
				action.Error = err.Error()
			} else {
				action.Error = result.Message
			}
		}
		active := s.activeCountLocked()
		s.mu.Unlock()
		metrics.SetActiveActions(active)

		auditType := audit.EventActionExecuted
		if action.Status == models.StatusFailed {
			auditType = audit.EventActionFailed
			s.logger.Warn("manual action failed",
				slog.String("action", action.ID),
				slog.String("target", action.Target),
				slog.Any("error", err))
		}
		s.auditor.Record(ctx, audit.Event{
			Type:     auditType,
			Target:   action.Target,
			ActionID: action.ID,
		})
	}
	return executed
}

// StartProcessing runs the pending-action loop until the context is done.
func (s *CoordinationService) StartProcessing(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.ProcessPending(ctx)
		}
	}
}

// GetAction returns one registered action by id.
func (s *CoordinationService) GetAction(id string) (models.Action, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	action, ok := s.actions[id]
	if !ok {
		return models.Action{}, false
	}
	return *action, true
}

// ListActions returns registered actions, optionally filtered by status,
// newest first.
func (s *CoordinationService) ListActions(status models.ActionStatus) []models.Action {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Action, 0, len(s.actions))
	for _, action := range s.actions {
		if status != "" && action.Status != status {
			continue
		}
		out = append(out, *action)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// ActionStats summarises the registry by lifecycle state.
func (s *CoordinationService) ActionStats() models.ActionStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var stats models.ActionStats
	for _, action := range s.actions {
		stats.Total++
		switch action.Status {
		case models.StatusPending:
			stats.Pending++
		case models.StatusRunning:
			stats.Running++
		case models.StatusCompleted:
			stats.Completed++
		case models.StatusFailed:
			stats.Failed++
		case models.StatusCancelled:
			stats.Cancelled++
		}
	}
	return stats
}

func (s *CoordinationService) activeCountLocked() int {
	n := 0
	for _, action := range s.actions {
		if action.Active() {
			n++
		}
	}
	return n
}

// Approve records a human sign-off for an escalated decision and, when
// approved, executes it through the safety gate.
func (s *CoordinationService) Approve(ctx context.Context, approval models.Approval) (models.CycleResult, error) {
	if s.archive == nil {
		return models.CycleResult{}, utils.NewAppError("Approve", "archive not configured", nil)
	}
	if approval.DecisionID == "" {
		return models.CycleResult{}, utils.NewAppError("Approve", "decision_id is required", nil)
	}
	if approval.CreatedAt.IsZero() {
		approval.CreatedAt = time.Now().UTC()
	}

	decision, err := s.archive.GetDecision(ctx, approval.DecisionID)
	if err != nil {
		return models.CycleResult{}, fmt.Errorf("load decision %s: %w", approval.DecisionID, err)
	}

	if err := s.archive.SaveApproval(ctx, approval); err != nil {
		return models.CycleResult{}, fmt.Errorf("save approval: %w", err)
	}
	s.auditor.Record(ctx, audit.Event{
		Type:       audit.EventDecisionApproved,
		Target:     decision.Target,
		DecisionID: decision.ID,
		Detail:     fmt.Sprintf("approved=%t by %s", approval.Approved, approval.Approver),
	})

	result := models.CycleResult{Verdict: decision.Verdict, Decision: decision}
	if !approval.Approved {
		result.Reason = "approval_denied"
		return result, nil
	}
	if !decision.HasAction() {
		result.Reason = "no_action"
		return result, nil
	}

	// Resolution is verified against the metrics captured when the decision
	// was made, not whatever the target reports at approval time.
	result, err = s.pipeline.ExecuteApproved(ctx, decision, decision.TargetMetrics)
	if err == nil && result.Decision.HasAction() {
		s.trackAction(*result.Decision.ChosenAction, result)
	}
	return result, err
}

// PendingApprovals lists escalated decisions awaiting sign-off.
func (s *CoordinationService) PendingApprovals(ctx context.Context, limit int) ([]models.Decision, error) {
	if s.archive == nil {
		return nil, utils.NewAppError("PendingApprovals", "archive not configured", nil)
	}
	return s.archive.ListEscalated(ctx, limit)
}

// ListDecisions queries the decision archive.
func (s *CoordinationService) ListDecisions(ctx context.Context, req models.ListDecisionsRequest) ([]models.Decision, error) {
	if s.archive == nil {
		return nil, utils.NewAppError("ListDecisions", "archive not configured", nil)
	}
	return s.archive.ListDecisions(ctx, req)
}

// ListOutcomes queries the outcome archive.
func (s *CoordinationService) ListOutcomes(ctx context.Context, req models.ListOutcomesRequest) ([]models.RemediationOutcome, error) {
	if s.archive == nil {
		return nil, utils.NewAppError("ListOutcomes", "archive not configured", nil)
	}
	return s.archive.ListOutcomes(ctx, req)
}

// MinePatterns aggregates archived outcomes into per-target failure patterns.
func (s *CoordinationService) MinePatterns(ctx context.Context, req models.ListOutcomesRequest) ([]models.FailurePattern, error) {
	outcomes, err := s.ListOutcomes(ctx, req)
	if err != nil {
		return nil, err
	}
	return s.miner.Mine(ctx, outcomes)
}

// RegisterRule validates and installs a deterministic rule.
func (s *CoordinationService) RegisterRule(ctx context.Context, rule policy.Rule) error {
	if s.store == nil {
		return utils.NewAppError("RegisterRule", "policy store not configured", nil)
	}
	if err := s.store.Register(rule); err != nil {
		return err
	}
	s.auditor.Record(ctx, audit.Event{
		Type:   audit.EventRulePackLoaded,
		Detail: "rule registered: " + rule.Name,
	})
	return nil
}

// Rules returns the installed rules in evaluation order.
func (s *CoordinationService) Rules() []policy.Rule {
	if s.store == nil {
		return nil
	}
	return s.store.Rules()
}

// CircuitState reports the breaker state for one target.
func (s *CoordinationService) CircuitState(target string) policy.CircuitBreakerState {
	if s.store == nil {
		return policy.CircuitBreakerState{}
	}
	return s.store.CircuitState(target)
}

// OpenCircuit manually trips a target's breaker.
func (s *CoordinationService) OpenCircuit(ctx context.Context, target string) {
	if s.store == nil {
		return
	}
	s.store.OpenCircuit(target)
	s.auditor.Record(ctx, audit.Event{Type: audit.EventCircuitOpened, Target: target, Detail: "manual"})
}

// CloseCircuit manually resets a target's breaker.
func (s *CoordinationService) CloseCircuit(ctx context.Context, target string) {
	if s.store == nil {
		return
	}
	s.store.CloseCircuit(target)
	s.auditor.Record(ctx, audit.Event{Type: audit.EventCircuitClosed, Target: target, Detail: "manual"})
}

// LatencyP95 returns the current p95 cycle latency.
func (s *CoordinationService) LatencyP95() time.Duration {
	if s.latencies == nil {
		return 0
	}
	return s.latencies.Percentile(95)
}
