package cmd

import (
	"context"
	"log/slog"

	"github.com/dukex/sellflow/pkg/idempotency"
)

// NewIdempotencyStore returns the Redis store when redisURL is set and the in-memory
// store otherwise.
func NewIdempotencyStore(ctx context.Context, logger *slog.Logger, redisURL string) (idempotency.Store, error) {
	if redisURL == "" {
		logger.InfoContext(ctx, "Using in-memory idempotency store")

		return idempotency.NewMemoryStore(), nil
	}

	store, err := idempotency.NewRedisStore(ctx, logger, redisURL)
	if err != nil {
		return nil, err
	}

	return store, nil
}
