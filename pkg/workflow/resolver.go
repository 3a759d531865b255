package workflow

import (
	"context"
	"log/slog"

	"github.com/dukex/sellflow/pkg/models"
)

// Resolver answers a challenge by replaying the challenged stage's pending payload
// together with the supplemental input the challenge asked for.
type Resolver struct {
	runner *Runner
	logger *slog.Logger
}

// NewResolver returns a resolver calling challenge operations through runner.
func NewResolver(runner *Runner, logger *slog.Logger) *Resolver {
	return &Resolver{runner: runner, logger: logger.With("module", "challenge_resolver")}
}

// Check validates supplemental input against the prompt of a challenge.
func (r *Resolver) Check(stage models.Stage, challenge models.Challenge, supplemental map[string]any) error {
	if challenge.StageID != stage.ID {
		return ErrChallengeMismatch
	}

	var fields []FieldError

	for _, key := range challenge.Prompt {
		v, ok := supplemental[key]
		if !ok || isBlank(v) {
			fields = append(fields, FieldError{Key: key, Reason: "is required"})

			continue
		}

		if _, isString := v.(string); !isString {
			fields = append(fields, FieldError{Key: key, Reason: "must be text"})
		}
	}

	if len(fields) > 0 {
		return &ValidationError{StageID: stage.ID, Fields: fields}
	}

	return nil
}

// Resolve merges pending, the prompted supplemental fields and the challenge session and
// invokes the stage's challenge operation. The result may itself be a new challenge,
// which then replaces the one being resolved.
func (r *Resolver) Resolve(
	ctx context.Context,
	inv Invocation,
	stage models.Stage,
	challenge models.Challenge,
	pending map[string]any,
	supplemental map[string]any,
) (StageResult, error) {
	if err := r.Check(stage, challenge, supplemental); err != nil {
		return nil, err
	}

	payload := models.CloneMap(pending)
	if payload == nil {
		payload = map[string]any{}
	}

	for _, key := range challenge.Prompt {
		payload[key] = supplemental[key]
	}

	if challenge.SessionID != "" {
		payload["session_id"] = challenge.SessionID
	}

	r.logger.InfoContext(ctx, "Resolving challenge",
		"run_id", inv.RunID,
		"stage_id", stage.ID,
		"kind", challenge.Kind)

	return r.runner.Invoke(ctx, inv, stage, stage.ChallengeOperation(), payload), nil
}
