package engine

import (
	"log/slog"

	"github.com/healstack/coord-engine/internal/models"
	"github.com/healstack/coord-engine/internal/policy"
)

// ApprovalSource answers whether a human has signed off on an escalated
// decision. The default implementation rejects immediately and leaves the
// decision queued for human action rather than blocking the cycle.
type ApprovalSource interface {
	Approved(decisionID string) bool
}

// Gate enforces the safety policies every action must pass regardless of which
// path produced it: freshness, human approval, circuit breaker, and rate
// limits. The breaker and rate check plus counter increment are atomic per
// target inside the policy store.
type Gate struct {
	logger    *slog.Logger
	store     *policy.Store
	freshness *FreshnessIndex
	approvals ApprovalSource
}

// NewGate constructs a Gate. approvals may be nil, in which case every
// approval-requiring decision is rejected until one is recorded elsewhere.
func NewGate(logger *slog.Logger, store *policy.Store, freshness *FreshnessIndex, approvals ApprovalSource) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{logger: logger, store: store, freshness: freshness, approvals: approvals}
}

// Admit decides whether the action may execute. On admit the owning rule's
// rate counter has already been incremented; callers must follow through with
// execution and outcome recording.
func (g *Gate) Admit(decision models.Decision) (bool, string) {
	if !decision.HasAction() {
		return false, "no_action"
	}

	// Staleness is checked immediately before admit so a newer verdict for the
	// same target abandons the in-flight decision instead of acting on stale
	// information.
	if g.freshness != nil && decision.Freshness != 0 {
		if current := g.freshness.Current(decision.Target); current != decision.Freshness {
			g.logger.Info("decision superseded",
				slog.String("decision", decision.ID),
				slog.String("target", decision.Target),
				slog.Uint64("token", decision.Freshness),
				slog.Uint64("current", current))
			return false, "superseded"
		}
	}

	if decision.RequiresApproval {
		if g.approvals == nil || !g.approvals.Approved(decision.ID) {
			return false, "approval_pending"
		}
	}

	allow, reason := g.store.AdmitAction(decision.RuleName, decision.Target)
	if !allow {
		g.logger.Info("action rejected by safety gate",
			slog.String("decision", decision.ID),
			slog.String("target", decision.Target),
			slog.String("reason", reason))
		return false, reason
	}
	return true, ""
}
