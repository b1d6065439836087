package models

import "time"

// ActionType enumerates remediation action categories.
type ActionType string

const (
	ActionNodeRemediation  ActionType = "node_remediation"
	ActionModelInference   ActionType = "model_inference"
	ActionAlertCorrelation ActionType = "alert_correlation"
	ActionResourceScaling  ActionType = "resource_scaling"
	ActionRestart          ActionType = "restart"
	ActionEscalateToHuman  ActionType = "escalate_to_human"
)

// ActionSource identifies which decision path produced an action.
type ActionSource string

const (
	SourceDeterministic ActionSource = "deterministic"
	SourceAIDriven      ActionSource = "ai_driven"
	SourceManual        ActionSource = "manual"
)

// ActionStatus tracks an action through its lifecycle.
type ActionStatus string

const (
	StatusPending   ActionStatus = "pending"
	StatusRunning   ActionStatus = "running"
	StatusCompleted ActionStatus = "completed"
	StatusFailed    ActionStatus = "failed"
	StatusCancelled ActionStatus = "cancelled"
)

// Action is a remediation action submitted to or produced by the engine.
type Action struct {
	ID          string            `json:"id"`
	Type        ActionType        `json:"type"`
	Source      ActionSource      `json:"source"`
	Priority    int               `json:"priority"`
	Target      string            `json:"target"`
	Parameters  map[string]string `json:"parameters,omitempty"`
	Status      ActionStatus      `json:"status"`
	Confidence  float64           `json:"confidence"`
	Error       string            `json:"error,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	StartedAt   *time.Time        `json:"started_at,omitempty"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
}

// Active reports whether the action still occupies the queue.
func (a Action) Active() bool {
	return a.Status == StatusPending || a.Status == StatusRunning
}

// ActionStats summarises the registry by lifecycle state.
type ActionStats struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`
}
