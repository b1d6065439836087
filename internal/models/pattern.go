package models

import "time"

// FailurePattern represents a mined remediation-failure template for one target.
type FailurePattern struct {
	ID              string           `json:"id"`
	Target          string           `json:"target"`
	Name            string           `json:"name"`
	Description     string           `json:"description"`
	ActionTemplates []ActionTemplate `json:"action_templates"`
	Prevalence      float64          `json:"prevalence"`
	FailureRate     float64          `json:"failure_rate"`
	LastSeen        time.Time        `json:"last_seen"`
}

// ActionTemplate describes a recurring (action type, outcome) signature.
type ActionTemplate struct {
	Target      string  `json:"target"`
	ActionType  string  `json:"action_type"`
	Occurrences int     `json:"occurrences"`
	FailureRate float64 `json:"failure_rate"`
}
