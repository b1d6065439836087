package policy

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/healstack/coord-engine/internal/models"
)

// BreakerState enumerates circuit breaker states.
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half_open"
)

// CircuitBreakerState is the per-target safety state. While open, all actions
// against the target are rejected until resetTimeout has elapsed.
type CircuitBreakerState struct {
	State               BreakerState `json:"state"`
	ConsecutiveFailures int          `json:"consecutive_failures"`
	OpenedAt            time.Time    `json:"opened_at,omitempty"`
	ResetTimeout        time.Duration `json:"reset_timeout"`
}

// rateWindow is the trailing window rate limits are evaluated over.
const rateWindow = time.Hour

// Store holds the declarative rule set and all per-target safety state. Rules
// are replaced wholesale (load or hot reload); runtime state mutates only
// through the AdmitAction / OpenCircuit / CloseCircuit / RecordOutcome entry
// points here.
type Store struct {
	logger *slog.Logger

	mu      sync.RWMutex
	rules   map[string]Rule
	ordered []Rule
	version int

	targetsMu sync.Mutex
	targets   map[string]*targetState

	breakerThreshold int
	resetTimeout     time.Duration
	now              func() time.Time
}

type targetState struct {
	mu sync.Mutex
	// admitted action timestamps per rule name, pruned to the trailing window
	actions map[string][]time.Time
	// sustain tracking: when each rule's condition first held continuously
	sustainSince map[string]time.Time
	breaker      CircuitBreakerState
	halfOpenUsed bool
}

// StoreConfig carries the safety tunables.
type StoreConfig struct {
	BreakerFailureThreshold int
	BreakerResetTimeout     time.Duration
}

// NewStore constructs an empty policy store.
func NewStore(logger *slog.Logger, cfg StoreConfig) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BreakerFailureThreshold <= 0 {
		cfg.BreakerFailureThreshold = 3
	}
	if cfg.BreakerResetTimeout <= 0 {
		cfg.BreakerResetTimeout = 5 * time.Minute
	}
	return &Store{
		logger:           logger,
		rules:            make(map[string]Rule),
		targets:          make(map[string]*targetState),
		breakerThreshold: cfg.BreakerFailureThreshold,
		resetTimeout:     cfg.BreakerResetTimeout,
		now:              func() time.Time { return time.Now().UTC() },
	}
}

// Register validates and adds a single rule. A duplicate name is rejected.
func (s *Store) Register(rule Rule) error {
	if err := ValidateRule(rule); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := strings.ToLower(rule.Name)
	if _, exists := s.rules[key]; exists {
		return fmt.Errorf("rule %q already registered: %w", rule.Name, ErrValidation)
	}
	s.version++
	rule.Version = s.version
	s.rules[key] = rule
	s.reorderLocked()
	return nil
}

// ReplaceRules swaps the entire rule set, used by pack load and hot reload.
// The incoming rules must already be validated.
func (s *Store) ReplaceRules(rules []Rule) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.version++
	s.rules = make(map[string]Rule, len(rules))
	for _, rule := range rules {
		rule.Version = s.version
		s.rules[strings.ToLower(rule.Name)] = rule
	}
	s.reorderLocked()
	s.logger.Info("rule set replaced", slog.Int("rules", len(rules)), slog.Int("version", s.version))
}

func (s *Store) reorderLocked() {
	s.ordered = make([]Rule, 0, len(s.rules))
	for _, rule := range s.rules {
		s.ordered = append(s.ordered, rule)
	}
	// Priority ascending (lower value wins), then name for a stable tie-break.
	sort.Slice(s.ordered, func(i, j int) bool {
		if s.ordered[i].Priority != s.ordered[j].Priority {
			return s.ordered[i].Priority < s.ordered[j].Priority
		}
		return s.ordered[i].Name < s.ordered[j].Name
	})
}

// Rules returns the ordered rule set.
func (s *Store) Rules() []Rule {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Rule(nil), s.ordered...)
}

// Rule returns a rule by name.
func (s *Store) Rule(name string) (Rule, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rule, ok := s.rules[strings.ToLower(name)]
	return rule, ok
}

// MatchRules returns enabled rules whose conditions hold for the verdict and
// context, ordered by priority ascending then name ascending. Sustain
// conditions must have held continuously for their duration.
func (s *Store) MatchRules(verdict models.Verdict, ctx models.TargetContext) []Rule {
	s.mu.RLock()
	candidates := append([]Rule(nil), s.ordered...)
	s.mu.RUnlock()

	target := ctx.Target
	if target == "" {
		target = verdict.Target
	}
	state := s.target(target)
	now := s.now()

	matched := make([]Rule, 0, len(candidates))
	state.mu.Lock()
	defer state.mu.Unlock()
	for _, rule := range candidates {
		if !rule.Enabled {
			continue
		}
		holds := rule.Condition.evaluate(ctx)
		sustain := rule.Condition.maxSustain()
		if sustain <= 0 {
			if holds {
				matched = append(matched, rule)
			}
			continue
		}

		key := strings.ToLower(rule.Name)
		if !holds {
			delete(state.sustainSince, key)
			continue
		}
		since, ok := state.sustainSince[key]
		if !ok {
			state.sustainSince[key] = now
			continue
		}
		if now.Sub(since) >= sustain {
			matched = append(matched, rule)
		}
	}
	return matched
}

// CheckRateLimit reports whether the rule may still fire for the target within
// the trailing 1-hour window. Read-only; the authoritative check happens in
// AdmitAction.
func (s *Store) CheckRateLimit(rule Rule, target string) bool {
	state := s.target(target)
	state.mu.Lock()
	defer state.mu.Unlock()
	return s.rateRemainingLocked(state, rule) > 0
}

func (s *Store) rateRemainingLocked(state *targetState, rule Rule) int {
	key := strings.ToLower(rule.Name)
	cutoff := s.now().Add(-rateWindow)
	events := state.actions[key]
	kept := events[:0]
	for _, t := range events {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	state.actions[key] = kept
	return rule.MaxActionsPerHour - len(kept)
}

// AdmitAction atomically re-checks the breaker and the rule's rate limit and,
// on success, records the action. The check and the counter increment happen
// under one per-target lock so two concurrent cycles cannot both pass a limit
// of one.
func (s *Store) AdmitAction(ruleName, target string) (bool, string) {
	state := s.target(target)
	state.mu.Lock()
	defer state.mu.Unlock()

	if allow, reason := s.breakerAllowsLocked(state); !allow {
		return false, reason
	}

	if ruleName != "" {
		rule, ok := s.Rule(ruleName)
		if !ok {
			return false, fmt.Sprintf("rule %q not registered", ruleName)
		}
		if s.rateRemainingLocked(state, rule) <= 0 {
			return false, "rate_limited"
		}
		key := strings.ToLower(ruleName)
		state.actions[key] = append(state.actions[key], s.now())
	}
	return true, ""
}

func (s *Store) breakerAllowsLocked(state *targetState) (bool, string) {
	switch state.breaker.State {
	case BreakerOpen:
		if s.now().Sub(state.breaker.OpenedAt) < state.breaker.ResetTimeout {
			return false, "circuit_open"
		}
		// Reset timeout elapsed: admit exactly one trial action.
		state.breaker.State = BreakerHalfOpen
		state.halfOpenUsed = true
		return true, ""
	case BreakerHalfOpen:
		if state.halfOpenUsed {
			return false, "circuit_half_open_trial_in_flight"
		}
		state.halfOpenUsed = true
		return true, ""
	default:
		return true, ""
	}
}

// RecordOutcome feeds an execution result into the breaker state machine:
// three consecutive failures open the circuit; a half-open success closes it;
// a half-open failure re-opens it and resets the timer.
func (s *Store) RecordOutcome(target string, success bool) CircuitBreakerState {
	state := s.target(target)
	state.mu.Lock()
	defer state.mu.Unlock()

	if success {
		state.breaker.ConsecutiveFailures = 0
		if state.breaker.State != BreakerClosed {
			s.logger.Info("circuit closed", slog.String("target", target))
		}
		state.breaker.State = BreakerClosed
		state.breaker.OpenedAt = time.Time{}
		state.halfOpenUsed = false
		return state.breaker
	}

	state.breaker.ConsecutiveFailures++
	if state.breaker.State == BreakerHalfOpen || state.breaker.ConsecutiveFailures >= s.breakerThreshold {
		s.openLocked(state, target)
	}
	return state.breaker
}

// OpenCircuit forces the target's breaker open.
func (s *Store) OpenCircuit(target string) {
	state := s.target(target)
	state.mu.Lock()
	defer state.mu.Unlock()
	s.openLocked(state, target)
}

func (s *Store) openLocked(state *targetState, target string) {
	state.breaker.State = BreakerOpen
	state.breaker.OpenedAt = s.now()
	state.breaker.ResetTimeout = s.resetTimeout
	state.halfOpenUsed = false
	s.logger.Warn("circuit opened",
		slog.String("target", target),
		slog.Int("consecutive_failures", state.breaker.ConsecutiveFailures))
}

// CloseCircuit forces the target's breaker closed and clears failure history.
func (s *Store) CloseCircuit(target string) {
	state := s.target(target)
	state.mu.Lock()
	defer state.mu.Unlock()
	state.breaker.State = BreakerClosed
	state.breaker.ConsecutiveFailures = 0
	state.breaker.OpenedAt = time.Time{}
	state.halfOpenUsed = false
}

// CircuitState returns a copy of the target's breaker state.
func (s *Store) CircuitState(target string) CircuitBreakerState {
	state := s.target(target)
	state.mu.Lock()
	defer state.mu.Unlock()
	return state.breaker
}

func (s *Store) target(target string) *targetState {
	s.targetsMu.Lock()
	defer s.targetsMu.Unlock()
	state, ok := s.targets[target]
	if !ok {
		state = &targetState{
			actions:      make(map[string][]time.Time),
			sustainSince: make(map[string]time.Time),
			breaker: CircuitBreakerState{
				State:        BreakerClosed,
				ResetTimeout: s.resetTimeout,
			},
		}
		s.targets[target] = state
	}
	return state
}
