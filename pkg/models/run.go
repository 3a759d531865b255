package models

import "time"

// RunStatus represents the lifecycle state of a workflow run.
type RunStatus string

const (
	RunStatusIdle       RunStatus = "idle"
	RunStatusCollecting RunStatus = "collecting"
	RunStatusExecuting  RunStatus = "executing"
	RunStatusChallenged RunStatus = "challenged"
	RunStatusFailed     RunStatus = "failed"
	RunStatusCompleted  RunStatus = "completed"
)

// ErrorKind classifies the last error a run surfaced to the user.
type ErrorKind string

const (
	ErrorKindValidation ErrorKind = "validation"
	ErrorKindTransport  ErrorKind = "transport"
	ErrorKindRejection  ErrorKind = "rejection"
	ErrorKindInterrupt  ErrorKind = "interrupted" // in-flight call lost across a restart
)

// RunError is the user-facing description of why the current stage did not commit.
type RunError struct {
	Kind      ErrorKind `json:"kind"`
	StageID   string    `json:"stage_id"`
	Message   string    `json:"message"`
	Fields    []string  `json:"fields,omitempty"`
	Retryable bool      `json:"retryable"`
}

// RunSnapshot is the persisted form of a run. Challenges are transient and therefore never
// part of a snapshot.
type RunSnapshot struct {
	ID          string         `json:"id"`
	Flow        string         `json:"flow,omitempty"`
	Status      RunStatus      `json:"status"`
	Pointer     int            `json:"pointer"`
	Generation  uint64         `json:"generation"`
	Artifacts   []Artifact     `json:"artifacts"`
	Pending     map[string]any `json:"pending,omitempty"`
	UserInput   map[string]any `json:"user_input,omitempty"`
	LastError   *RunError      `json:"last_error,omitempty"`
	Attempts    map[string]int `json:"attempts,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
}

// StepIndicator is the read-only view page code renders: current stage, total and progress.
type StepIndicator struct {
	RunID   string    `json:"run_id"`
	Status  RunStatus `json:"status"`
	Current int       `json:"current"` // 1-based; 0 when idle
	Total   int       `json:"total"`
	StageID string    `json:"stage_id,omitempty"`
	Label   string    `json:"label,omitempty"`
	Percent int       `json:"percent"`
}
