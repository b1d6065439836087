package models

import "time"

// DecisionPath enumerates how a decision was reached.
type DecisionPath string

const (
	PathRuleMatched   DecisionPath = "rule_matched"
	PathAIRecommended DecisionPath = "ai_recommended"
	PathEscalateHuman DecisionPath = "escalate_human"
	PathNoAction      DecisionPath = "no_action"
)

// RecommendedAction is the output of the probabilistic recommender collaborator.
// It is never executed directly; it always passes through the arbiter thresholds
// and the safety gate.
type RecommendedAction struct {
	ActionType   string            `json:"action_type"`
	Parameters   map[string]string `json:"parameters"`
	Confidence   float64           `json:"confidence"`
	ModelVersion string            `json:"model_version"`
}

// Decision is the arbiter's terminal output for one verdict.
type Decision struct {
	ID               string       `json:"id"`
	Target           string       `json:"target"`
	Path             DecisionPath `json:"path"`
	ChosenAction     *Action      `json:"chosen_action,omitempty"`
	Rationale        string       `json:"rationale"`
	RequiresApproval bool         `json:"requires_approval"`
	MonitorClosely   bool         `json:"monitor_closely"`
	RuleName         string       `json:"rule_name,omitempty"`
	RuleVersion      int          `json:"rule_version,omitempty"`
	Confidence       float64      `json:"confidence"`
	Freshness        uint64       `json:"freshness"`
	Verdict          Verdict      `json:"verdict"`
	// TargetMetrics is the metric set observed in the cycle that produced
	// this decision. Deferred executions verify resolution against it.
	TargetMetrics map[string]float64 `json:"target_metrics,omitempty"`
	CreatedAt     time.Time          `json:"created_at"`
}

// HasAction reports whether the decision carries an executable action.
func (d Decision) HasAction() bool {
	return d.ChosenAction != nil && d.Path != PathNoAction
}
