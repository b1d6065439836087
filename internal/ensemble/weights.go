package ensemble

import (
	"sync"
)

// defaultDecay controls how much history an outcome-driven weight update keeps.
const defaultDecay = 0.9

// WeightTable owns per (target, detector) contribution weights. It is the only
// mutable state the aggregator reads, and UpdateWeight is its only mutator.
type WeightTable struct {
	mu      sync.RWMutex
	weights map[string]map[string]float64
	decay   float64
}

// NewWeightTable creates a table with the supplied EMA decay. Decay outside
// (0,1) falls back to the default.
func NewWeightTable(decay float64) *WeightTable {
	if decay <= 0 || decay >= 1 {
		decay = defaultDecay
	}
	return &WeightTable{
		weights: make(map[string]map[string]float64),
		decay:   decay,
	}
}

// Weight returns the stored weight for (target, detector), or the cold-start
// default 1/n when the pair has never been adjusted. n is the number of
// detectors voting in the current cycle.
func (t *WeightTable) Weight(target, detector string, n int) float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if byDetector, ok := t.weights[target]; ok {
		if w, ok := byDetector[detector]; ok {
			return w
		}
	}
	if n <= 0 {
		n = 1
	}
	return 1.0 / float64(n)
}

// UpdateWeight applies one outcome-driven adjustment using an exponential
// moving average so no single outcome dominates:
// new = decay*old + (1-decay)*reward.
func (t *WeightTable) UpdateWeight(target, detector string, reward float64, n int) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	byDetector, ok := t.weights[target]
	if !ok {
		byDetector = make(map[string]float64)
		t.weights[target] = byDetector
	}

	old, ok := byDetector[detector]
	if !ok {
		if n <= 0 {
			n = 1
		}
		old = 1.0 / float64(n)
	}

	updated := t.decay*old + (1-t.decay)*reward
	if updated < 0 {
		updated = 0
	}
	byDetector[detector] = updated
	return updated
}

// Snapshot returns a deep copy of the table keyed by (target, detector).
func (t *WeightTable) Snapshot() map[string]map[string]float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make(map[string]map[string]float64, len(t.weights))
	for target, byDetector := range t.weights {
		copied := make(map[string]float64, len(byDetector))
		for detector, w := range byDetector {
			copied[detector] = w
		}
		out[target] = copied
	}
	return out
}

// Restore replaces the table contents from a snapshot.
func (t *WeightTable) Restore(snapshot map[string]map[string]float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.weights = make(map[string]map[string]float64, len(snapshot))
	for target, byDetector := range snapshot {
		copied := make(map[string]float64, len(byDetector))
		for detector, w := range byDetector {
			copied[detector] = w
		}
		t.weights[target] = copied
	}
}
