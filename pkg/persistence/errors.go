// Package persistence provides standardized error types for persistence operations.
package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrRunNotFound indicates no snapshot was found for the given run id.
	ErrRunNotFound = errors.New("run not found")

	// ErrInvalidSnapshot indicates a snapshot that cannot be stored or decoded.
	ErrInvalidSnapshot = errors.New("invalid run snapshot")
)

// RunError wraps run storage errors with additional context.
type RunError struct {
	Op      string // Operation being performed (e.g., "GetByID", "Save", "Delete")
	RunID   string
	Err     error
	Message string
}

func (e *RunError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s operation failed for run %s: %s (%v)", e.Op, e.RunID, e.Message, e.Err)
	}

	return fmt.Sprintf("%s operation failed for run %s: %v", e.Op, e.RunID, e.Err)
}

func (e *RunError) Unwrap() error {
	return e.Err
}

// Is implements error comparison for run errors.
func (e *RunError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewRunError creates a new run error with context.
func NewRunError(op, runID string, err error) *RunError {
	return &RunError{
		Op:    op,
		RunID: runID,
		Err:   err,
	}
}

// IsRunNotFound checks if an error indicates a run snapshot was not found.
func IsRunNotFound(err error) bool {
	return errors.Is(err, ErrRunNotFound)
}
