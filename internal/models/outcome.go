package models

import "time"

// ExecutionResult is what the remediation executor collaborator reports back.
type ExecutionResult struct {
	Success     bool      `json:"success"`
	Message     string    `json:"message"`
	Reason      string    `json:"reason,omitempty"`
	CompletedAt time.Time `json:"completed_at"`
}

// RemediationOutcome records the result of one executed action. Outcomes are
// append-only; corrections are new records.
type RemediationOutcome struct {
	ID            string             `json:"id"`
	DecisionRef   string             `json:"decision_ref"`
	ActionID      string             `json:"action_id"`
	ActionType    ActionType         `json:"action_type,omitempty"`
	Target        string             `json:"target"`
	Success       bool               `json:"success"`
	Reason        string             `json:"reason,omitempty"`
	MetricsBefore map[string]float64 `json:"metrics_before"`
	MetricsAfter  map[string]float64 `json:"metrics_after"`
	Timestamp     time.Time          `json:"timestamp"`
}

// Approval records a human sign-off for an escalated decision.
type Approval struct {
	DecisionID string    `json:"decision_id"`
	Approver   string    `json:"approver"`
	Approved   bool      `json:"approved"`
	Notes      string    `json:"notes,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}
