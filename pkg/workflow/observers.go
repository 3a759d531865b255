package workflow

import (
	"context"
	"log/slog"

	"github.com/dukex/sellflow/pkg/eventbus"
	"github.com/dukex/sellflow/pkg/events"
	"github.com/dukex/sellflow/pkg/models"
	"github.com/dukex/sellflow/pkg/persistence"
	"github.com/dukex/sellflow/pkg/registry"
)

// SnapshotObserver saves the run after every transition.
type SnapshotObserver struct {
	repo   persistence.RunRepository
	logger *slog.Logger
}

// NewSnapshotObserver returns an observer saving a snapshot after every transition.
func NewSnapshotObserver(repo persistence.RunRepository, logger *slog.Logger) *SnapshotObserver {
	return &SnapshotObserver{repo: repo, logger: logger.With("module", "run_snapshots")}
}

func (o *SnapshotObserver) OnTransition(ctx context.Context, _, next RunState) {
	if err := o.repo.Save(context.WithoutCancel(ctx), next.Snapshot()); err != nil {
		o.logger.ErrorContext(ctx, "Failed to save run snapshot", "run_id", next.RunID, "error", err)
	}
}

// EventObserver publishes run lifecycle events derived from transitions.
type EventObserver struct {
	publisher eventbus.EventPublisher
	registry  *registry.Registry
	logger    *slog.Logger
}

// NewEventObserver returns an observer publishing lifecycle events.
func NewEventObserver(publisher eventbus.EventPublisher, reg *registry.Registry, logger *slog.Logger) *EventObserver {
	return &EventObserver{publisher: publisher, registry: reg, logger: logger.With("module", "run_events")}
}

func (o *EventObserver) OnTransition(ctx context.Context, prev, next RunState) {
	ctx = context.WithoutCancel(ctx)

	for _, event := range o.lifecycleEvents(prev, next) {
		if err := o.publisher.Publish(ctx, next.RunID, event); err != nil {
			o.logger.ErrorContext(ctx, "Failed to publish run event",
				"run_id", next.RunID,
				"event_type", event.GetType(),
				"error", err)
		}
	}
}

func (o *EventObserver) lifecycleEvents(prev, next RunState) []eventbus.Event {
	var out []eventbus.Event

	base := func(t events.EventType) events.BaseEvent {
		return events.NewBaseEvent(t, next.RunID)
	}

	stageID := func(pointer int) string {
		if stage, ok := o.registry.At(pointer); ok {
			return stage.ID
		}

		return ""
	}

	if next.Status == models.RunStatusIdle {
		if prev.Status != models.RunStatusIdle {
			out = append(out, events.RunReset{
				BaseEvent:       base(events.RunResetEvent),
				DiscardedStages: prev.Context.Len(),
			})
		}

		return out
	}

	if prev.Status == models.RunStatusIdle && next.Status == models.RunStatusCollecting {
		out = append(out, events.RunStarted{
			BaseEvent:   base(events.RunStartedEvent),
			TotalStages: o.registry.Len(),
		})
	}

	if next.Status == models.RunStatusExecuting && next.Generation != prev.Generation {
		id := stageID(next.Pointer)
		out = append(out, events.StageExecuting{
			BaseEvent:  base(events.StageExecutingEvent),
			StageID:    id,
			Attempt:    next.Attempts[id],
			Generation: next.Generation,
		})
	}

	if prev.Status != models.RunStatusExecuting {
		return out
	}

	switch next.Status {
	case models.RunStatusCollecting, models.RunStatusCompleted:
		if next.Context.Len() > prev.Context.Len() || next.Status == models.RunStatusCompleted {
			id := stageID(prev.Pointer)
			if artifact, ok := next.Context.Artifact(id); ok {
				out = append(out, events.StageCommitted{
					BaseEvent:      base(events.StageCommittedEvent),
					StageID:        id,
					Attempt:        artifact.Attempt,
					Duplicate:      artifact.Duplicate,
					IdempotencyKey: artifact.IdempotencyKey,
				})
			}
		} else if next.LastError != nil && next.LastError.Kind == models.ErrorKindRejection {
			out = append(out, events.StageRejected{
				BaseEvent: base(events.StageRejectedEvent),
				StageID:   next.LastError.StageID,
				Reason:    next.LastError.Message,
			})
		}

		if next.Status == models.RunStatusCompleted && next.CompletedAt != nil {
			out = append(out, events.RunCompleted{
				BaseEvent: base(events.RunCompletedEvent),
				Stages:    next.Context.StageIDs(),
				Duration:  next.CompletedAt.Sub(next.CreatedAt),
			})
		}
	case models.RunStatusChallenged:
		if next.Challenge != nil {
			out = append(out, events.StageChallenged{
				BaseEvent: base(events.StageChallengedEvent),
				StageID:   next.Challenge.StageID,
				Kind:      string(next.Challenge.Kind),
			})
		}
	case models.RunStatusFailed:
		if next.LastError != nil {
			out = append(out, events.StageFailed{
				BaseEvent: base(events.StageFailedEvent),
				StageID:   next.LastError.StageID,
				Error:     next.LastError.Message,
				Retryable: next.LastError.Retryable,
			})
		}
	}

	return out
}
