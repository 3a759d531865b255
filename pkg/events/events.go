// Package events defines the lifecycle notifications a run emits.
package events

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

type EventType string

// Topic carries every run lifecycle event, keyed by run id.
const Topic = "sellflow.run-events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	RunStartedEvent   EventType = "run.started"
	RunCompletedEvent EventType = "run.completed"
	RunResetEvent     EventType = "run.reset"

	StageExecutingEvent  EventType = "stage.executing"
	StageCommittedEvent  EventType = "stage.committed"
	StageChallengedEvent EventType = "stage.challenged"
	StageFailedEvent     EventType = "stage.failed"
	StageRejectedEvent   EventType = "stage.rejected"
)

// Types lists every lifecycle event type, in the order a run usually emits them.
func Types() []EventType {
	return []EventType{
		RunStartedEvent,
		StageExecutingEvent,
		StageChallengedEvent,
		StageRejectedEvent,
		StageFailedEvent,
		StageCommittedEvent,
		RunCompletedEvent,
		RunResetEvent,
	}
}

var ErrMissingRunID = errors.New("run_id is required")

type BaseEvent struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	RunID     string         `json:"run_id"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

func NewBaseEvent(eventType EventType, runID string) BaseEvent {
	return BaseEvent{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		RunID:     runID,
	}
}

func (b BaseEvent) Validate() error {
	if b.RunID == "" {
		return ErrMissingRunID
	}

	return nil
}

type RunStarted struct {
	BaseEvent

	TotalStages int `json:"total_stages"`
}

func (RunStarted) GetType() EventType {
	return RunStartedEvent
}

type RunCompleted struct {
	BaseEvent

	Stages   []string      `json:"stages"`
	Duration time.Duration `json:"duration"`
}

func (RunCompleted) GetType() EventType {
	return RunCompletedEvent
}

type RunReset struct {
	BaseEvent

	DiscardedStages int `json:"discarded_stages"`
}

func (RunReset) GetType() EventType {
	return RunResetEvent
}

type StageExecuting struct {
	BaseEvent

	StageID    string `json:"stage_id"`
	Attempt    int    `json:"attempt"`
	Generation uint64 `json:"generation"`
}

func (StageExecuting) GetType() EventType {
	return StageExecutingEvent
}

type StageCommitted struct {
	BaseEvent

	StageID        string `json:"stage_id"`
	Attempt        int    `json:"attempt"`
	Duplicate      bool   `json:"duplicate,omitempty"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

func (StageCommitted) GetType() EventType {
	return StageCommittedEvent
}

type StageChallenged struct {
	BaseEvent

	StageID string `json:"stage_id"`
	Kind    string `json:"kind"`
}

func (StageChallenged) GetType() EventType {
	return StageChallengedEvent
}

type StageFailed struct {
	BaseEvent

	StageID   string `json:"stage_id"`
	Error     string `json:"error"`
	Retryable bool   `json:"retryable"`
}

func (StageFailed) GetType() EventType {
	return StageFailedEvent
}

type StageRejected struct {
	BaseEvent

	StageID string `json:"stage_id"`
	Reason  string `json:"reason"`
}

func (StageRejected) GetType() EventType {
	return StageRejectedEvent
}

// New returns an empty event value for eventType, ready to be decoded into.
func New(eventType EventType) (any, bool) {
	switch eventType {
	case RunStartedEvent:
		return &RunStarted{}, true
	case RunCompletedEvent:
		return &RunCompleted{}, true
	case RunResetEvent:
		return &RunReset{}, true
	case StageExecutingEvent:
		return &StageExecuting{}, true
	case StageCommittedEvent:
		return &StageCommitted{}, true
	case StageChallengedEvent:
		return &StageChallenged{}, true
	case StageFailedEvent:
		return &StageFailed{}, true
	case StageRejectedEvent:
		return &StageRejected{}, true
	default:
		return nil, false
	}
}
