// Package persistence provides the storage abstraction for run snapshots.
package persistence

import (
	"context"

	"github.com/dukex/sellflow/pkg/models"
)

type Persistence interface {
	RunRepository() RunRepository
	HealthCheck(ctx context.Context) error

	Close(ctx context.Context) error
}

// RunRepository stores the latest snapshot of each run.
type RunRepository interface {
	// Save inserts or replaces the snapshot of snap.ID.
	Save(ctx context.Context, snap models.RunSnapshot) error
	GetByID(ctx context.Context, id string) (*models.RunSnapshot, error)
	Delete(ctx context.Context, id string) error
	// List returns snapshots ordered by most recent update first.
	List(ctx context.Context) ([]*models.RunSnapshot, error)
}
