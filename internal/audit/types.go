package audit

import "time"

// EventType classifies audit events.
type EventType string

const (
	EventCycleStarted   EventType = "cycle.started"
	EventCycleCompleted EventType = "cycle.completed"

	EventDecisionMade      EventType = "decision.made"
	EventDecisionEscalated EventType = "decision.escalated"
	EventDecisionApproved  EventType = "decision.approved"

	EventActionAdmitted EventType = "action.admitted"
	EventActionRejected EventType = "action.rejected"
	EventActionExecuted EventType = "action.executed"
	EventActionFailed   EventType = "action.failed"

	EventOutcomeRecorded EventType = "outcome.recorded"

	EventCircuitOpened EventType = "safety.circuit_opened"
	EventCircuitClosed EventType = "safety.circuit_closed"

	EventRulePackLoaded EventType = "policy.rule_pack_loaded"
)

// Event is a single append-only audit record.
type Event struct {
	Timestamp  time.Time         `json:"timestamp"`
	Type       EventType         `json:"type"`
	Target     string            `json:"target,omitempty"`
	DecisionID string            `json:"decision_id,omitempty"`
	ActionID   string            `json:"action_id,omitempty"`
	Detail     string            `json:"detail,omitempty"`
	Fields     map[string]string `json:"fields,omitempty"`
}
