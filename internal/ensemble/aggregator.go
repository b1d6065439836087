package ensemble

import (
	"log/slog"
	"math"
	"sort"

	"github.com/healstack/coord-engine/internal/models"
)

// StrategyKind selects the voting rule used to fuse detector votes.
type StrategyKind string

const (
	StrategyAny      StrategyKind = "any"
	StrategyMajority StrategyKind = "majority"
	StrategyAll      StrategyKind = "all"
	StrategyWeighted StrategyKind = "weighted"
)

// Strategy bundles a voting rule with its tunables.
type Strategy struct {
	Kind StrategyKind
	// MajorityK is the agreement quorum for the majority strategy.
	// Zero means ceil(n/2) computed per cycle.
	MajorityK int
	// WeightedThreshold is the anomalous-weight share required by the
	// weighted strategy.
	WeightedThreshold float64
}

// Aggregator fuses per-detector votes into a single verdict. Aggregation is a
// pure function of its inputs plus a read-only snapshot of the weight table.
type Aggregator struct {
	logger  *slog.Logger
	weights *WeightTable
}

// NewAggregator constructs an Aggregator over the supplied weight table.
func NewAggregator(logger *slog.Logger, weights *WeightTable) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	if weights == nil {
		weights = NewWeightTable(0)
	}
	return &Aggregator{logger: logger, weights: weights}
}

// Weights exposes the table for the outcome feedback path.
func (a *Aggregator) Weights() *WeightTable {
	return a.weights
}

// Votes converts raw detector samples into weighted votes for one target,
// dropping samples with undefined scores rather than failing the cycle.
func (a *Aggregator) Votes(target string, samples []models.DetectorSample) []models.Vote {
	votes := make([]models.Vote, 0, len(samples))
	n := len(samples)
	for _, sample := range samples {
		if math.IsNaN(sample.Score) || math.IsInf(sample.Score, 0) {
			a.logger.Warn("dropping vote with undefined score",
				slog.String("detector", sample.DetectorID),
				slog.String("target", target))
			continue
		}
		votes = append(votes, models.Vote{
			DetectorID: sample.DetectorID,
			IsAnomaly:  sample.IsAnomaly,
			Score:      sample.Score,
			Weight:     a.weights.Weight(target, sample.DetectorID, n),
		})
	}
	sort.SliceStable(votes, func(i, j int) bool {
		return votes[i].DetectorID < votes[j].DetectorID
	})
	return votes
}

// Aggregate fuses votes under the given strategy. An empty vote set yields a
// non-anomalous verdict with zero confidence. Aggregate is a pure function of
// its arguments; callers stamp CreatedAt when the verdict enters a cycle.
func (a *Aggregator) Aggregate(target string, votes []models.Vote, strategy Strategy, freshness uint64) models.Verdict {
	verdict := models.Verdict{
		Target:            target,
		TotalDetectors:    len(votes),
		ContributingVotes: append([]models.Vote(nil), votes...),
		Freshness:         freshness,
	}
	if len(votes) == 0 {
		return verdict
	}

	var anomalous int
	var anomalousWeight, totalWeight float64
	for _, vote := range votes {
		totalWeight += vote.Weight
		if vote.IsAnomaly {
			anomalous++
			anomalousWeight += vote.Weight
		}
	}
	verdict.VoteCount = anomalous

	switch strategy.Kind {
	case StrategyAny:
		verdict.IsAnomaly = anomalous > 0
	case StrategyAll:
		verdict.IsAnomaly = anomalous == len(votes)
	case StrategyWeighted:
		threshold := strategy.WeightedThreshold
		if threshold <= 0 {
			threshold = 0.5
		}
		verdict.IsAnomaly = totalWeight > 0 && anomalousWeight/totalWeight >= threshold
	default:
		// Majority. A tied count resolves anomalous: the quorum is met at
		// exactly ceil(n/2), failing safe toward alerting.
		k := strategy.MajorityK
		if k <= 0 {
			k = (len(votes) + 1) / 2
		}
		verdict.IsAnomaly = anomalous >= k
	}

	if totalWeight > 0 {
		verdict.Confidence = anomalousWeight / totalWeight
	}
	return verdict
}
