package persistence_test

import (
	"errors"
	"testing"

	"github.com/dukex/sellflow/pkg/persistence"
	"github.com/stretchr/testify/assert"
)

func TestStandardizedErrors(t *testing.T) {
	t.Parallel()

	t.Run("error checking functions work correctly", func(t *testing.T) {
		err := persistence.NewRunError("GetByID", "run-123", persistence.ErrRunNotFound)

		assert.True(t, persistence.IsRunNotFound(err))
		assert.True(t, errors.Is(err, persistence.ErrRunNotFound))
		assert.False(t, persistence.IsRunNotFound(persistence.NewRunError("Save", "run-123", persistence.ErrInvalidSnapshot)))
	})

	t.Run("run error contains context", func(t *testing.T) {
		err := &persistence.RunError{Op: "Save", RunID: "run-123", Err: persistence.ErrInvalidSnapshot, Message: "empty id"}

		assert.Contains(t, err.Error(), "Save")
		assert.Contains(t, err.Error(), "run-123")
		assert.Contains(t, err.Error(), "empty id")
		assert.Contains(t, err.Error(), "invalid run snapshot")
	})
}
