package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OutcomeSuccess labels successful cycles and remediations.
	OutcomeSuccess = "success"
	// OutcomeError labels failed cycles and remediations.
	OutcomeError = "error"
)

var (
	cyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "coord_engine",
			Name:      "cycles_total",
			Help:      "Total coordination cycles processed, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	cycleDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "coord_engine",
			Name:      "cycle_seconds",
			Help:      "Coordination cycle latency in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 3, 5, 8, 10},
		},
	)

	verdictConfidence = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "coord_engine",
			Name:      "verdict_confidence",
			Help:      "Ensemble verdict confidence distribution.",
			Buckets:   prometheus.LinearBuckets(0, 0.1, 11),
		},
	)

	decisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "coord_engine",
			Name:      "decisions_total",
			Help:      "Decisions emitted, partitioned by arbitration path.",
		},
		[]string{"path"},
	)

	gateAdmissionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "coord_engine",
			Name:      "gate_admissions_total",
			Help:      "Safety gate verdicts, partitioned by result and reject reason.",
		},
		[]string{"result", "reason"},
	)

	remediationOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "coord_engine",
			Name:      "remediation_outcomes_total",
			Help:      "Recorded remediation outcomes partitioned by success.",
		},
		[]string{"outcome"},
	)

	actionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "coord_engine",
			Name:      "actions_total",
			Help:      "Total actions processed, partitioned by type and source.",
		},
		[]string{"action_type", "source"},
	)

	conflictsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "coord_engine",
			Name:      "conflicts_total",
			Help:      "Total action conflicts detected and resolved.",
		},
	)

	activeActions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "coord_engine",
			Name:      "active_actions",
			Help:      "Actions currently pending or running.",
		},
	)

	engineStatus = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "coord_engine",
			Name:      "engine_status",
			Help:      "Engine status (1=healthy, 0=unhealthy).",
		},
	)
)

// Register attaches coord-engine collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		cyclesTotal,
		cycleDurationSeconds,
		verdictConfidence,
		decisionsTotal,
		gateAdmissionsTotal,
		remediationOutcomesTotal,
		actionsTotal,
		conflictsTotal,
		activeActions,
		engineStatus,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveCycle records a cycle duration and outcome label.
func ObserveCycle(duration time.Duration, outcome string) {
	label := outcome
	if label != OutcomeError {
		label = OutcomeSuccess
	}
	cyclesTotal.WithLabelValues(label).Inc()
	if duration < 0 {
		duration = 0
	}
	cycleDurationSeconds.Observe(duration.Seconds())
}

// ObserveVerdict records an ensemble verdict confidence.
func ObserveVerdict(confidence float64) {
	verdictConfidence.Observe(confidence)
}

// IncDecision counts a decision by path.
func IncDecision(path string) {
	decisionsTotal.WithLabelValues(path).Inc()
}

// IncGate counts a safety gate verdict. reason is empty on admit.
func IncGate(allowed bool, reason string) {
	result := "allow"
	if !allowed {
		result = "deny"
		if reason == "" {
			reason = "unknown"
		}
	}
	gateAdmissionsTotal.WithLabelValues(result, reason).Inc()
}

// IncOutcome counts a recorded remediation outcome.
func IncOutcome(success bool) {
	label := OutcomeError
	if success {
		label = OutcomeSuccess
	}
	remediationOutcomesTotal.WithLabelValues(label).Inc()
}

// IncAction counts a processed action.
func IncAction(actionType, source string) {
	actionsTotal.WithLabelValues(actionType, source).Inc()
}

// IncConflict counts one resolved action conflict.
func IncConflict() {
	conflictsTotal.Inc()
}

// SetActiveActions updates the pending/running action gauge.
func SetActiveActions(n int) {
	activeActions.Set(float64(n))
}

// SetEngineStatus flips the engine health gauge.
func SetEngineStatus(healthy bool) {
	if healthy {
		engineStatus.Set(1)
	} else {
		engineStatus.Set(0)
	}
}
