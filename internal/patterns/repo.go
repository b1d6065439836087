package patterns

import (
	"context"

	"github.com/healstack/coord-engine/internal/models"
)

// StoreFunc adapts a function to the Store interface.
type StoreFunc func(ctx context.Context, patterns []models.FailurePattern) error

// StorePatterns implements Store.
func (f StoreFunc) StorePatterns(ctx context.Context, patterns []models.FailurePattern) error {
	return f(ctx, patterns)
}
