package models

import "time"

// DetectorSample is the raw per-cycle output of an external anomaly detector.
type DetectorSample struct {
	DetectorID string    `json:"detector_id"`
	IsAnomaly  bool      `json:"is_anomaly"`
	Score      float64   `json:"score"`
	Timestamp  time.Time `json:"timestamp"`
}

// Vote is one detector's weighted opinion on one observation window.
type Vote struct {
	DetectorID string  `json:"detector_id"`
	IsAnomaly  bool    `json:"is_anomaly"`
	Score      float64 `json:"score"`
	Weight     float64 `json:"weight"`
}

// Verdict is the ensemble's fused decision for one observation window.
type Verdict struct {
	Target            string    `json:"target"`
	IsAnomaly         bool      `json:"is_anomaly"`
	VoteCount         int       `json:"vote_count"`
	TotalDetectors    int       `json:"total_detectors"`
	Confidence        float64   `json:"confidence"`
	ContributingVotes []Vote    `json:"contributing_votes"`
	Freshness         uint64    `json:"freshness"`
	CreatedAt         time.Time `json:"created_at"`
}

// TargetContext carries the metric map and metadata the Policy Store matches against.
type TargetContext struct {
	Target    string             `json:"target"`
	Namespace string             `json:"namespace"`
	Metrics   map[string]float64 `json:"metrics"`
	Events    []string           `json:"events"`
}

// MetricPoint is a single sample from a monitored metric series.
type MetricPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}
