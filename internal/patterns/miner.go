package patterns

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/healstack/coord-engine/internal/models"
)

// Store abstracts persistence for mined patterns.
type Store interface {
	StorePatterns(ctx context.Context, patterns []models.FailurePattern) error
}

// Miner mines frequency-based remediation patterns from outcome history. A
// target whose remediations keep failing surfaces as a high failure-rate
// pattern that operators can turn into rule or rollout changes.
type Miner struct {
	store  Store
	logger *slog.Logger
}

// NewMiner constructs a Miner; store may be nil for dry runs.
func NewMiner(logger *slog.Logger, store Store) *Miner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Miner{store: store, logger: logger}
}

// Mine analyses remediation outcomes and returns aggregated patterns per
// target, ordered by prevalence.
func (m *Miner) Mine(ctx context.Context, outcomes []models.RemediationOutcome) ([]models.FailurePattern, error) {
	if len(outcomes) == 0 {
		return nil, nil
	}

	targetStats := make(map[string]*targetAggregate)
	for _, outcome := range outcomes {
		agg := ensureAggregate(targetStats, outcome.Target)
		agg.total++
		if !outcome.Success {
			agg.failures++
		}
		if outcome.Timestamp.After(agg.lastSeen) {
			agg.lastSeen = outcome.Timestamp
		}
		key := string(outcome.ActionType)
		if key == "" {
			key = "unknown"
		}
		agg.actionCounts[key]++
		if !outcome.Success {
			agg.actionFailures[key]++
		}
	}

	patterns := make([]models.FailurePattern, 0, len(targetStats))
	for target, agg := range targetStats {
		pattern := models.FailurePattern{
			ID:          "pattern-" + target,
			Target:      target,
			Name:        target + " remediation profile",
			Description: "Auto-mined from remediation outcome history",
			Prevalence:  float64(agg.total) / float64(len(outcomes)),
			FailureRate: float64(agg.failures) / float64(agg.total),
			LastSeen:    agg.lastSeen,
		}

		for _, actionType := range agg.topActions(3) {
			count := agg.actionCounts[actionType]
			pattern.ActionTemplates = append(pattern.ActionTemplates, models.ActionTemplate{
				Target:      target,
				ActionType:  actionType,
				Occurrences: count,
				FailureRate: float64(agg.actionFailures[actionType]) / float64(count),
			})
		}
		patterns = append(patterns, pattern)
	}

	sort.Slice(patterns, func(i, j int) bool {
		if patterns[i].Prevalence != patterns[j].Prevalence {
			return patterns[i].Prevalence > patterns[j].Prevalence
		}
		return patterns[i].Target < patterns[j].Target
	})

	if m.store != nil && len(patterns) > 0 {
		if err := m.store.StorePatterns(ctx, patterns); err != nil {
			m.logger.Warn("pattern store failed", slog.Any("error", err))
		}
	}

	return patterns, nil
}

type targetAggregate struct {
	total          int
	failures       int
	lastSeen       time.Time
	actionCounts   map[string]int
	actionFailures map[string]int
}

func ensureAggregate(m map[string]*targetAggregate, target string) *targetAggregate {
	if target == "" {
		target = "unknown"
	}
	agg, ok := m[target]
	if !ok {
		agg = &targetAggregate{
			actionCounts:   make(map[string]int),
			actionFailures: make(map[string]int),
		}
		m[target] = agg
	}
	return agg
}

func (agg *targetAggregate) topActions(limit int) []string {
	actions := make([]string, 0, len(agg.actionCounts))
	for a := range agg.actionCounts {
		actions = append(actions, a)
	}
	sort.Slice(actions, func(i, j int) bool {
		if agg.actionCounts[actions[i]] != agg.actionCounts[actions[j]] {
			return agg.actionCounts[actions[i]] > agg.actionCounts[actions[j]]
		}
		return actions[i] < actions[j]
	})
	if len(actions) > limit {
		actions = actions[:limit]
	}
	return actions
}
