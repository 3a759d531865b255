package workflow

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dukex/sellflow/pkg/models"
)

var (
	// ErrInvalidTransition indicates an action that the current run status does not accept.
	ErrInvalidTransition = errors.New("invalid transition")

	// ErrRunNotFound indicates no run exists for the given id.
	ErrRunNotFound = errors.New("run not found")

	// ErrNoStages indicates a run was started against an empty registry.
	ErrNoStages = errors.New("no stages registered")

	// ErrPublishInProgress indicates another call holds the idempotency key of the stage.
	ErrPublishInProgress = errors.New("an identical call is already in progress")

	// ErrStaleResult indicates a result whose generation no longer matches the run.
	ErrStaleResult = errors.New("stale stage result")

	// ErrChallengeMismatch indicates a challenge raised by a different stage than the one resolving it.
	ErrChallengeMismatch = errors.New("challenge does not belong to this stage")
)

// FieldError describes one invalid or missing input.
type FieldError struct {
	Key    string `json:"key"`
	Reason string `json:"reason"`
}

// ValidationError is a local input problem. It never reaches the network.
type ValidationError struct {
	StageID string
	Fields  []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Key+": "+f.Reason)
	}

	return fmt.Sprintf("invalid input for stage %s: %s", e.StageID, strings.Join(parts, "; "))
}

// Keys returns the offending input keys.
func (e *ValidationError) Keys() []string {
	keys := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		keys = append(keys, f.Key)
	}

	return keys
}

// TransitionError wraps ErrInvalidTransition with the action and status involved.
type TransitionError struct {
	Action string
	Status models.RunStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%v: %s is not allowed while %s", ErrInvalidTransition, e.Action, e.Status)
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}

// IsValidationError checks if an error is a local input validation error.
func IsValidationError(err error) bool {
	var target *ValidationError

	return errors.As(err, &target)
}

// IsInvalidTransition checks if an error rejects an action for the current status.
func IsInvalidTransition(err error) bool {
	return errors.Is(err, ErrInvalidTransition)
}

// IsRunNotFound checks if an error indicates a missing run.
func IsRunNotFound(err error) bool {
	return errors.Is(err, ErrRunNotFound)
}

// AsValidationError returns the validation error wrapped in err, if any.
func AsValidationError(err error) (*ValidationError, bool) {
	var target *ValidationError
	if errors.As(err, &target) {
		return target, true
	}

	return nil, false
}
