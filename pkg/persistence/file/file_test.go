package file

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dukex/sellflow/pkg/models"
	"github.com/dukex/sellflow/pkg/persistence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPersistence(t *testing.T) {
	// Test with regular path
	p := NewPersistence("/tmp/test")
	fp := p.(*Persistence)
	assert.Equal(t, "/tmp/test", fp.root)

	// Test with file:// prefix
	p = NewPersistence("file:///tmp/test")
	fp = p.(*Persistence)
	assert.Equal(t, "/tmp/test", fp.root)
}

func TestPersistence_Close(t *testing.T) {
	p := NewPersistence("./test-data")
	err := p.Close(t.Context())
	assert.NoError(t, err)
}

func TestPersistence_HealthCheck(t *testing.T) {
	assert.NoError(t, NewPersistence(t.TempDir()).HealthCheck(t.Context()))
	assert.Error(t, NewPersistence(filepath.Join(t.TempDir(), "missing")).HealthCheck(t.Context()))
}

func sampleSnapshot(id string, updated time.Time) models.RunSnapshot {
	return models.RunSnapshot{
		ID:         id,
		Status:     models.RunStatusCollecting,
		Pointer:    1,
		Generation: 3,
		Artifacts: []models.Artifact{
			{
				StageID: "recognition",
				Data: map[string]any{
					"product": map[string]any{"name": "Wireless Mouse", "category": "Electronics"},
				},
				Attempt:     1,
				CommittedAt: updated,
			},
		},
		UserInput: map[string]any{"cost_price": 50000.0},
		Attempts:  map[string]int{"recognition": 1},
		CreatedAt: updated.Add(-time.Minute),
		UpdatedAt: updated,
	}
}

func TestRunRepository_SaveAndGet(t *testing.T) {
	testDir := t.TempDir()
	repo := NewPersistence(testDir).RunRepository()

	now := time.Now().UTC().Truncate(time.Second)
	snap := sampleSnapshot("run-1", now)

	require.NoError(t, repo.Save(t.Context(), snap))

	_, err := os.Stat(filepath.Join(testDir, "runs", "run-1.json"))
	require.NoError(t, err)

	loaded, err := repo.GetByID(t.Context(), "run-1")
	require.NoError(t, err)

	assert.Equal(t, models.RunStatusCollecting, loaded.Status)
	assert.Equal(t, 1, loaded.Pointer)
	assert.Equal(t, uint64(3), loaded.Generation)
	require.Len(t, loaded.Artifacts, 1)
	assert.Equal(t, "recognition", loaded.Artifacts[0].StageID)
	assert.Equal(t, "Wireless Mouse", loaded.Artifacts[0].Data["product"].(map[string]any)["name"])
	assert.Equal(t, 50000.0, loaded.UserInput["cost_price"])
	assert.True(t, loaded.UpdatedAt.Equal(now))
}

func TestRunRepository_SaveReplaces(t *testing.T) {
	repo := NewPersistence(t.TempDir()).RunRepository()
	now := time.Now().UTC()

	snap := sampleSnapshot("run-1", now)
	require.NoError(t, repo.Save(t.Context(), snap))

	snap.Status = models.RunStatusCompleted
	snap.Pointer = 3
	require.NoError(t, repo.Save(t.Context(), snap))

	loaded, err := repo.GetByID(t.Context(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusCompleted, loaded.Status)
	assert.Equal(t, 3, loaded.Pointer)

	all, err := repo.List(t.Context())
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestRunRepository_NotFound(t *testing.T) {
	repo := NewPersistence(t.TempDir()).RunRepository()

	_, err := repo.GetByID(t.Context(), "missing")
	assert.True(t, persistence.IsRunNotFound(err))

	assert.NoError(t, repo.Delete(t.Context(), "missing"))
}

func TestRunRepository_RejectsUnsafeIDs(t *testing.T) {
	repo := NewPersistence(t.TempDir()).RunRepository()

	for _, id := range []string{"", "../escape", "a/b"} {
		err := repo.Save(t.Context(), sampleSnapshot(id, time.Now()))
		assert.ErrorIs(t, err, persistence.ErrInvalidSnapshot, id)
	}
}

func TestRunRepository_ListOrdersByUpdate(t *testing.T) {
	repo := NewPersistence(t.TempDir()).RunRepository()
	now := time.Now().UTC()

	require.NoError(t, repo.Save(t.Context(), sampleSnapshot("older", now.Add(-time.Hour))))
	require.NoError(t, repo.Save(t.Context(), sampleSnapshot("newer", now)))

	runs, err := repo.List(t.Context())
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "newer", runs[0].ID)
	assert.Equal(t, "older", runs[1].ID)

	require.NoError(t, repo.Delete(t.Context(), "newer"))

	runs, err = repo.List(t.Context())
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "older", runs[0].ID)
}
