package file

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dukex/sellflow/pkg/models"
	"github.com/dukex/sellflow/pkg/persistence"
)

// RunRepository keeps one JSON file per run under <root>/runs.
type RunRepository struct {
	root string
	mu   sync.Mutex
}

// NewRunRepository creates a new run repository.
func NewRunRepository(root string) *RunRepository {
	return &RunRepository{root: root}
}

func (rr *RunRepository) dir() string {
	return path.Join(rr.root, "runs")
}

func (rr *RunRepository) filePath(id string) (string, error) {
	if id == "" || strings.ContainsAny(id, `/\`) || strings.Contains(id, "..") {
		return "", persistence.ErrInvalidSnapshot
	}

	return filepath.Clean(path.Join(rr.dir(), id+".json")), nil
}

// Save writes the snapshot atomically through a temporary file.
func (rr *RunRepository) Save(_ context.Context, snap models.RunSnapshot) error {
	filePath, err := rr.filePath(snap.ID)
	if err != nil {
		return persistence.NewRunError("Save", snap.ID, err)
	}

	rr.mu.Lock()
	defer rr.mu.Unlock()

	if err := os.MkdirAll(rr.dir(), 0750); err != nil {
		return fmt.Errorf("failed to create runs directory: %w", err)
	}

	if snap.UpdatedAt.IsZero() {
		snap.UpdatedAt = time.Now().UTC()
	}

	if snap.CreatedAt.IsZero() {
		snap.CreatedAt = snap.UpdatedAt
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal run %s: %w", snap.ID, err)
	}

	tmp := filePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write run %s: %w", snap.ID, err)
	}

	return os.Rename(tmp, filePath)
}

// GetByID reads the snapshot of a run.
func (rr *RunRepository) GetByID(_ context.Context, id string) (*models.RunSnapshot, error) {
	filePath, err := rr.filePath(id)
	if err != nil {
		return nil, persistence.NewRunError("GetByID", id, err)
	}

	body, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, persistence.NewRunError("GetByID", id, persistence.ErrRunNotFound)
		}

		return nil, fmt.Errorf("failed to fetch run %s: %w", id, err)
	}

	var snap models.RunSnapshot
	if err := json.Unmarshal(body, &snap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal run %s: %w", id, err)
	}

	return &snap, nil
}

// Delete removes a run snapshot. Deleting a missing run is not an error.
func (rr *RunRepository) Delete(_ context.Context, id string) error {
	filePath, err := rr.filePath(id)
	if err != nil {
		return persistence.NewRunError("Delete", id, err)
	}

	err = os.Remove(filePath)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete run %s: %w", id, err)
	}

	return nil
}

// List returns all snapshots, most recently updated first.
func (rr *RunRepository) List(ctx context.Context) ([]*models.RunSnapshot, error) {
	jsonFiles, err := fs.Glob(os.DirFS(rr.dir()), "*.json")
	if err != nil {
		return nil, fmt.Errorf("failed to list run files: %w", err)
	}

	runs := make([]*models.RunSnapshot, 0, len(jsonFiles))

	for _, file := range jsonFiles {
		snap, err := rr.GetByID(ctx, strings.TrimSuffix(file, ".json"))
		if err != nil {
			if persistence.IsRunNotFound(err) {
				continue
			}

			return nil, err
		}

		runs = append(runs, snap)
	}

	sort.Slice(runs, func(i, j int) bool {
		return runs[i].UpdatedAt.After(runs[j].UpdatedAt)
	})

	return runs, nil
}
