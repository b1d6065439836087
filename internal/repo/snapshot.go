package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/healstack/coord-engine/internal/cache"
	"github.com/healstack/coord-engine/internal/policy"
)

const snapshotKey = "coord:snapshot:engine"

// EngineSnapshot captures the engine's mutable runtime state so a restarted
// instance resumes with warm safety counters and learned weights.
type EngineSnapshot struct {
	Policy    policy.StoreSnapshot          `json:"policy"`
	Weights   map[string]map[string]float64 `json:"weights"`
	Freshness map[string]uint64             `json:"freshness,omitempty"`
	TakenAt   time.Time                     `json:"taken_at"`
}

// SnapshotRepo persists EngineSnapshot blobs through a cache provider.
type SnapshotRepo struct {
	provider cache.Provider
	ttl      time.Duration
}

// NewSnapshotRepo wires a snapshot repo over the given provider. A zero ttl
// keeps snapshots until overwritten.
func NewSnapshotRepo(provider cache.Provider, ttl time.Duration) *SnapshotRepo {
	return &SnapshotRepo{provider: provider, ttl: ttl}
}

// Save serialises and stores the snapshot.
func (r *SnapshotRepo) Save(ctx context.Context, snap EngineSnapshot) error {
	if snap.TakenAt.IsZero() {
		snap.TakenAt = time.Now().UTC()
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := r.provider.Set(ctx, snapshotKey, data, r.ttl); err != nil {
		return fmt.Errorf("store snapshot: %w", err)
	}
	return nil
}

// Load fetches the last stored snapshot. Returns ok=false when none exists.
func (r *SnapshotRepo) Load(ctx context.Context) (EngineSnapshot, bool, error) {
	data, err := r.provider.Get(ctx, snapshotKey)
	if errors.Is(err, cache.ErrCacheMiss) {
		return EngineSnapshot{}, false, nil
	}
	if err != nil {
		return EngineSnapshot{}, false, fmt.Errorf("load snapshot: %w", err)
	}
	var snap EngineSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return EngineSnapshot{}, false, fmt.Errorf("decode snapshot: %w", err)
	}
	return snap, true, nil
}
