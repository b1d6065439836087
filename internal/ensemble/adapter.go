package ensemble

import (
	"math"
	"time"

	"github.com/healstack/coord-engine/internal/models"
)

// Detector normalises a raw anomaly model into per-cycle samples. External
// detectors submit samples through the API; built-in detectors implement this
// directly.
type Detector interface {
	ID() string
	Detect(series []models.MetricPoint) (models.DetectorSample, bool)
}

// StatisticalDetector is the built-in z-score detector. It flags a window as
// anomalous when any sample deviates more than threshold standard deviations
// from the window mean.
type StatisticalDetector struct {
	id        string
	threshold float64
}

// NewStatisticalDetector creates the built-in detector. Threshold <= 0 falls
// back to 2.5 sigma.
func NewStatisticalDetector(threshold float64) *StatisticalDetector {
	if threshold <= 0 {
		threshold = 2.5
	}
	return &StatisticalDetector{id: "statistical", threshold: threshold}
}

// ID returns the detector identifier.
func (d *StatisticalDetector) ID() string { return d.id }

// Detect computes the maximum absolute z-score over the window. Windows with
// fewer than three samples produce no vote.
func (d *StatisticalDetector) Detect(series []models.MetricPoint) (models.DetectorSample, bool) {
	if len(series) < 3 {
		return models.DetectorSample{}, false
	}

	mean := 0.0
	for _, point := range series {
		mean += point.Value
	}
	mean /= float64(len(series))

	variance := 0.0
	for _, point := range series {
		variance += math.Pow(point.Value-mean, 2)
	}
	variance /= float64(len(series))
	stdDev := math.Sqrt(variance)
	if stdDev == 0 {
		stdDev = 0.01
	}

	maxZ := 0.0
	at := series[0].Timestamp
	for _, point := range series {
		z := math.Abs((point.Value - mean) / stdDev)
		if z > maxZ {
			maxZ = z
			at = point.Timestamp
		}
	}
	if at.IsZero() {
		at = time.Now().UTC()
	}

	return models.DetectorSample{
		DetectorID: d.id,
		IsAnomaly:  maxZ > d.threshold,
		Score:      math.Min(0.95, maxZ/4),
		Timestamp:  at,
	}, true
}
