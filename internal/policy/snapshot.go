package policy

import (
	"strings"
	"time"
)

// StoreSnapshot is the serialisable policy state: rules by name, per-target
// breaker state, and rate counters keyed (target, rule name). Detector weights
// are owned by the aggregator and snapshotted alongside by the caller.
type StoreSnapshot struct {
	Rules        []Rule                           `json:"rules"`
	Breakers     map[string]CircuitBreakerState   `json:"breakers"`
	RateCounters map[string]map[string][]time.Time `json:"rate_counters"`
	TakenAt      time.Time                        `json:"taken_at"`
}

// Export captures the current store state.
func (s *Store) Export() StoreSnapshot {
	snapshot := StoreSnapshot{
		Rules:        s.Rules(),
		Breakers:     make(map[string]CircuitBreakerState),
		RateCounters: make(map[string]map[string][]time.Time),
		TakenAt:      s.now(),
	}

	s.targetsMu.Lock()
	names := make([]string, 0, len(s.targets))
	for target := range s.targets {
		names = append(names, target)
	}
	s.targetsMu.Unlock()

	for _, target := range names {
		state := s.target(target)
		state.mu.Lock()
		snapshot.Breakers[target] = state.breaker
		counters := make(map[string][]time.Time, len(state.actions))
		for rule, events := range state.actions {
			counters[rule] = append([]time.Time(nil), events...)
		}
		snapshot.RateCounters[target] = counters
		state.mu.Unlock()
	}
	return snapshot
}

// Import restores store state from a snapshot. Unknown fields default the same
// way a cold start does: circuits closed, counters empty.
func (s *Store) Import(snapshot StoreSnapshot) {
	if len(snapshot.Rules) > 0 {
		s.ReplaceRules(snapshot.Rules)
	}
	for target, breaker := range snapshot.Breakers {
		state := s.target(target)
		state.mu.Lock()
		if breaker.State == "" {
			breaker.State = BreakerClosed
		}
		if breaker.ResetTimeout <= 0 {
			breaker.ResetTimeout = s.resetTimeout
		}
		state.breaker = breaker
		state.mu.Unlock()
	}
	for target, counters := range snapshot.RateCounters {
		state := s.target(target)
		state.mu.Lock()
		for rule, events := range counters {
			state.actions[strings.ToLower(rule)] = append([]time.Time(nil), events...)
		}
		state.mu.Unlock()
	}
}
