// Package web provides HTTP request and response types for the run API.
package web

import (
	"time"

	"github.com/dukex/sellflow/pkg/models"
	"github.com/dukex/sellflow/pkg/registry"
	"github.com/dukex/sellflow/pkg/workflow"
)

// SubmitRequest carries the user-entered inputs of the current stage.
type SubmitRequest struct {
	Input map[string]any `json:"input"`
}

// ChallengeRequest carries the supplemental fields a challenge prompted for.
type ChallengeRequest struct {
	Input map[string]any `json:"input" validate:"required,min=1"`
}

// StageResponse describes one registered stage.
type StageResponse struct {
	Position    int                `json:"position"`
	ID          string             `json:"id"`
	Label       string             `json:"label"`
	Description string             `json:"description,omitempty"`
	Inputs      []models.InputSpec `json:"inputs"`
	Required    []string           `json:"required"`
	Challenge   bool               `json:"challenge"`
	Idempotent  bool               `json:"idempotent"`
}

// RunResponse is the public view of a run. Pending payloads and generations stay internal.
type RunResponse struct {
	ID          string                `json:"id"`
	Status      models.RunStatus      `json:"status"`
	Pointer     int                   `json:"pointer"`
	Stage       *StageResponse        `json:"stage,omitempty"`
	Artifacts   []models.Artifact     `json:"artifacts"`
	UserInput   map[string]any        `json:"user_input,omitempty"`
	LastError   *models.RunError      `json:"last_error,omitempty"`
	Challenge   *models.Challenge     `json:"challenge,omitempty"`
	Indicator   models.StepIndicator  `json:"indicator"`
	CreatedAt   time.Time             `json:"created_at"`
	UpdatedAt   time.Time             `json:"updated_at"`
	CompletedAt *time.Time            `json:"completed_at,omitempty"`
	Errors      []workflow.FieldError `json:"errors,omitempty"`
}

// TransformStageResponse builds the view of the stage at position i.
func TransformStageResponse(i int, stage models.Stage) StageResponse {
	return StageResponse{
		Position:    i + 1,
		ID:          stage.ID,
		Label:       stage.Label,
		Description: stage.Description,
		Inputs:      stage.Inputs,
		Required:    stage.RequiredKeys(),
		Challenge:   stage.Challenge != nil,
		Idempotent:  stage.Idempotent,
	}
}

// TransformRunResponse builds the view of a run state.
func TransformRunResponse(state workflow.RunState, indicator models.StepIndicator, reg *registry.Registry) RunResponse {
	response := RunResponse{
		ID:          state.RunID,
		Status:      state.Status,
		Pointer:     state.Pointer,
		Artifacts:   state.Context.Artifacts(),
		UserInput:   state.UserInput,
		LastError:   state.LastError,
		Challenge:   state.Challenge,
		Indicator:   indicator,
		CreatedAt:   state.CreatedAt,
		UpdatedAt:   state.UpdatedAt,
		CompletedAt: state.CompletedAt,
	}

	if state.Status != models.RunStatusIdle && state.Status != models.RunStatusCompleted {
		if stage, ok := reg.At(state.Pointer); ok {
			view := TransformStageResponse(state.Pointer, stage)
			response.Stage = &view
		}
	}

	return response
}
