package models

import "time"

// CycleRequest triggers one coordination cycle for a target.
type CycleRequest struct {
	Target    string           `json:"target"`
	Namespace string           `json:"namespace"`
	Samples   []DetectorSample `json:"samples"`
	Metrics   map[string]float64 `json:"metrics"`
	Events    []string         `json:"events"`
	Series    []MetricPoint    `json:"series,omitempty"`
}

// CycleResult summarises one completed coordination cycle.
type CycleResult struct {
	Verdict  Verdict             `json:"verdict"`
	Decision Decision            `json:"decision"`
	Admitted bool                `json:"admitted"`
	Reason   string              `json:"reason,omitempty"`
	Outcome  *RemediationOutcome `json:"outcome,omitempty"`
}

// ListOutcomesRequest captures filters for the outcome archive.
type ListOutcomesRequest struct {
	Target   string
	Start    time.Time
	End      time.Time
	PageSize int
}

// ListDecisionsRequest captures filters for the decision archive.
type ListDecisionsRequest struct {
	Target   string
	Path     DecisionPath
	Start    time.Time
	End      time.Time
	PageSize int
}
