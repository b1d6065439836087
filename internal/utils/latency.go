package utils

import (
	"sort"
	"sync"
	"time"
)

// LatencyTracker keeps the most recent cycle durations in a fixed-size ring
// and answers percentile queries over them. The ring bounds memory no matter
// how long the engine runs.
type LatencyTracker struct {
	mu     sync.RWMutex
	ring   []time.Duration
	next   int
	filled bool
}

// NewLatencyTracker creates a tracker retaining up to capacity samples.
func NewLatencyTracker(capacity int) *LatencyTracker {
	if capacity <= 0 {
		capacity = 512
	}
	return &LatencyTracker{ring: make([]time.Duration, capacity)}
}

// Observe records one cycle duration, evicting the oldest sample once the
// ring is full.
func (l *LatencyTracker) Observe(d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.ring[l.next] = d
	l.next++
	if l.next == len(l.ring) {
		l.next = 0
		l.filled = true
	}
}

// Count reports how many samples the tracker currently holds.
func (l *LatencyTracker) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.countLocked()
}

func (l *LatencyTracker) countLocked() int {
	if l.filled {
		return len(l.ring)
	}
	return l.next
}

// Percentile returns the duration at the given percentile (0-100) of the
// retained samples, zero when empty.
func (l *LatencyTracker) Percentile(p float64) time.Duration {
	l.mu.RLock()
	defer l.mu.RUnlock()

	n := l.countLocked()
	if n == 0 {
		return 0
	}

	sorted := append([]time.Duration(nil), l.ring[:n]...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	if p < 0 {
		p = 0
	}
	if p > 100 {
		p = 100
	}
	index := int((p / 100.0) * float64(n-1))
	return sorted[index]
}
