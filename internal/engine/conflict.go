package engine

import (
	"log/slog"

	"github.com/healstack/coord-engine/internal/models"
)

// lowConfidenceCutoff is the confidence below which an AI-driven action loses
// a conflict outright.
const lowConfidenceCutoff = 0.7

// ConflictResolver arbitrates between queued actions competing for the same
// target or performing interfering work.
type ConflictResolver struct {
	logger *slog.Logger
}

// NewConflictResolver constructs a resolver.
func NewConflictResolver(logger *slog.Logger) *ConflictResolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConflictResolver{logger: logger}
}

// conflictingTypes lists action type pairs that interfere even on different
// targets.
var conflictingTypes = map[[2]models.ActionType]struct{}{
	{models.ActionNodeRemediation, models.ActionResourceScaling}: {},
	{models.ActionModelInference, models.ActionAlertCorrelation}: {},
}

// Conflicts returns every conflicting pair among the supplied actions.
func (r *ConflictResolver) Conflicts(actions []models.Action) [][2]models.Action {
	var pairs [][2]models.Action
	for i := range actions {
		for j := i + 1; j < len(actions); j++ {
			if actionsConflict(actions[i], actions[j]) {
				pairs = append(pairs, [2]models.Action{actions[i], actions[j]})
			}
		}
	}
	return pairs
}

func actionsConflict(a, b models.Action) bool {
	if a.Target == b.Target {
		return true
	}
	if _, ok := conflictingTypes[[2]models.ActionType{a.Type, b.Type}]; ok {
		return true
	}
	_, ok := conflictingTypes[[2]models.ActionType{b.Type, a.Type}]
	return ok
}

// Resolve picks the surviving action of a conflicting pair. Precedence:
// deterministic over AI-driven for the same target, then higher priority, then
// low-confidence AI actions lose. Falls back to higher priority.
func (r *ConflictResolver) Resolve(a, b models.Action) models.Action {
	if a.Target == b.Target {
		if a.Source == models.SourceDeterministic && b.Source == models.SourceAIDriven {
			return a
		}
		if b.Source == models.SourceDeterministic && a.Source == models.SourceAIDriven {
			return b
		}
	}

	if a.Priority != b.Priority {
		if a.Priority > b.Priority {
			return a
		}
		return b
	}

	if a.Source == models.SourceAIDriven && a.Confidence < lowConfidenceCutoff {
		return b
	}
	if b.Source == models.SourceAIDriven && b.Confidence < lowConfidenceCutoff {
		return a
	}

	if a.Priority >= b.Priority {
		return a
	}
	return b
}

// Apply cancels the losing side of each conflict and returns the surviving
// actions in their original order.
func (r *ConflictResolver) Apply(actions []models.Action) (surviving []models.Action, cancelled []models.Action) {
	removed := make(map[string]struct{})
	for _, pair := range r.Conflicts(actions) {
		first, second := pair[0], pair[1]
		if _, gone := removed[first.ID]; gone {
			continue
		}
		if _, gone := removed[second.ID]; gone {
			continue
		}
		winner := r.Resolve(first, second)
		loser := first
		if winner.ID == first.ID {
			loser = second
		}
		removed[loser.ID] = struct{}{}
		r.logger.Info("conflict resolved",
			slog.String("winner", winner.ID),
			slog.String("cancelled", loser.ID))
	}

	for _, action := range actions {
		if _, gone := removed[action.ID]; gone {
			action.Status = models.StatusCancelled
			cancelled = append(cancelled, action)
			continue
		}
		surviving = append(surviving, action)
	}
	return surviving, cancelled
}
