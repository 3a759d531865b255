package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/sellflow/pkg/models"
	"github.com/dukex/sellflow/pkg/persistence"
)

// RunRepository handles run snapshot database operations. The full snapshot is kept as
// JSONB; status, pointer and timestamps are duplicated into columns for querying.
type RunRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewRunRepository creates a new run repository.
func NewRunRepository(db *sql.DB, logger *slog.Logger) *RunRepository {
	return &RunRepository{db: db, logger: logger}
}

// Save upserts the snapshot of a run.
func (r *RunRepository) Save(ctx context.Context, snap models.RunSnapshot) error {
	if snap.ID == "" {
		return persistence.NewRunError("Save", snap.ID, persistence.ErrInvalidSnapshot)
	}

	now := time.Now().UTC()
	if snap.UpdatedAt.IsZero() {
		snap.UpdatedAt = now
	}

	if snap.CreatedAt.IsZero() {
		snap.CreatedAt = snap.UpdatedAt
	}

	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal run %s: %w", snap.ID, err)
	}

	query := `
		INSERT INTO run_snapshots (id, status, pointer, generation, snapshot, created_at, updated_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status
		  , pointer = EXCLUDED.pointer
		  , generation = EXCLUDED.generation
		  , snapshot = EXCLUDED.snapshot
		  , updated_at = EXCLUDED.updated_at
		  , completed_at = EXCLUDED.completed_at
	`

	_, err = r.db.ExecContext(ctx, query,
		snap.ID,
		string(snap.Status),
		snap.Pointer,
		int64(snap.Generation),
		payload,
		snap.CreatedAt,
		snap.UpdatedAt,
		snap.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save run %s: %w", snap.ID, err)
	}

	return nil
}

// GetByID returns the snapshot of a run.
func (r *RunRepository) GetByID(ctx context.Context, id string) (*models.RunSnapshot, error) {
	row := r.db.QueryRowContext(ctx, `SELECT snapshot FROM run_snapshots WHERE id = $1`, id)

	snap, err := scanSnapshot(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewRunError("GetByID", id, persistence.ErrRunNotFound)
		}

		return nil, fmt.Errorf("failed to scan run %s: %w", id, err)
	}

	return snap, nil
}

// Delete removes a run snapshot.
func (r *RunRepository) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM run_snapshots WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete run %s: %w", id, err)
	}

	return nil
}

// List returns all snapshots, most recently updated first.
func (r *RunRepository) List(ctx context.Context) ([]*models.RunSnapshot, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT snapshot FROM run_snapshots ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	runs := make([]*models.RunSnapshot, 0)

	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}

		runs = append(runs, snap)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}

	return runs, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSnapshot(row scanner) (*models.RunSnapshot, error) {
	var raw []byte

	if err := row.Scan(&raw); err != nil {
		return nil, err
	}

	var snap models.RunSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("%w: %w", persistence.ErrInvalidSnapshot, err)
	}

	return &snap, nil
}
