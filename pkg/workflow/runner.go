package workflow

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/dukex/sellflow/pkg/idempotency"
	"github.com/dukex/sellflow/pkg/models"
	"github.com/dukex/sellflow/pkg/otelhelper"
	"github.com/dukex/sellflow/pkg/registry"
	"github.com/dukex/sellflow/pkg/remote"
	"github.com/dukex/sellflow/pkg/template"
	"github.com/expr-lang/expr"
	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// IdempotencyField is the payload field carrying the key of an idempotent stage.
const IdempotencyField = "idempotency_key"

const defaultLockTTL = 2 * time.Minute

// ErrUnexpectedResponse indicates the server answered without a usable structured body.
var ErrUnexpectedResponse = errors.New("unexpected response")

// Invocation identifies one attempt of a stage within a run.
type Invocation struct {
	RunID   string
	Attempt int
}

// Runner validates stage inputs, performs the single remote call of a stage and
// classifies the answer into a StageResult.
type Runner struct {
	registry *registry.Registry
	invoker  remote.Invoker
	store    idempotency.Store
	tracer   trace.Tracer
	clock    clockwork.Clock
	lockTTL  time.Duration
	logger   *slog.Logger
}

type RunnerOption func(*Runner)

func WithIdempotencyStore(store idempotency.Store) RunnerOption {
	return func(r *Runner) { r.store = store }
}

func WithTracer(tracer trace.Tracer) RunnerOption {
	return func(r *Runner) { r.tracer = tracer }
}

func WithRunnerClock(clock clockwork.Clock) RunnerOption {
	return func(r *Runner) { r.clock = clock }
}

// WithLockTTL bounds how long an idempotency lock may outlive a crashed caller.
func WithLockTTL(ttl time.Duration) RunnerOption {
	return func(r *Runner) { r.lockTTL = ttl }
}

// NewRunner returns a runner with an in-memory idempotency store unless one is given.
func NewRunner(reg *registry.Registry, invoker remote.Invoker, logger *slog.Logger, opts ...RunnerOption) *Runner {
	r := &Runner{
		registry: reg,
		invoker:  invoker,
		store:    idempotency.NewMemoryStore(),
		tracer:   otel.Tracer("sellflow/workflow"),
		clock:    clockwork.NewRealClock(),
		lockTTL:  defaultLockTTL,
		logger:   logger.With("module", "stage_runner"),
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Execute validates the inputs of stage against wctx and input, then invokes the stage
// once. A *ValidationError is returned without any remote call being made.
func (r *Runner) Execute(
	ctx context.Context,
	inv Invocation,
	stage models.Stage,
	wctx Context,
	input map[string]any,
) (StageResult, map[string]any, error) {
	payload, err := r.Prepare(inv.RunID, stage, wctx, input)
	if err != nil {
		return nil, nil, err
	}

	return r.Invoke(ctx, inv, stage, stage.Operation, payload), payload, nil
}

// Prepare builds the request payload of a stage. The payload holds exactly the declared
// inputs, plus the idempotency key for idempotent stages, anchored on flow.
func (r *Runner) Prepare(flow string, stage models.Stage, wctx Context, input map[string]any) (map[string]any, error) {
	payload := make(map[string]any, len(stage.Inputs)+1)

	var fields []FieldError

	for _, spec := range stage.Inputs {
		value, found := r.resolveInput(spec, wctx, input)
		if !found {
			if spec.Optional {
				continue
			}

			reason := "is required"
			if !spec.IsUserEntry() && !wctx.Has(spec.From) {
				reason = fmt.Sprintf("requires stage %s to be completed", spec.From)
			}

			fields = append(fields, FieldError{Key: spec.Key, Reason: reason})

			continue
		}

		normalized, reason := coerce(spec.Type, value)
		if reason != "" {
			fields = append(fields, FieldError{Key: spec.Key, Reason: reason})

			continue
		}

		payload[spec.Key] = normalized
	}

	if len(fields) == 0 {
		fields = r.checkRules(stage, payload)
	}

	if len(fields) > 0 {
		return nil, &ValidationError{StageID: stage.ID, Fields: fields}
	}

	if stage.Idempotent {
		payload[IdempotencyField] = idempotency.Key(flow, stage.ID, skuFrom(stage.ID, wctx))
	}

	return payload, nil
}

// resolveInput reads user entries from input and everything else from committed
// artifacts only; input never overrides an earlier stage's result.
func (r *Runner) resolveInput(spec models.InputSpec, wctx Context, input map[string]any) (any, bool) {
	if spec.IsUserEntry() {
		if v, ok := input[spec.Key]; ok && !isBlank(v) {
			return v, true
		}
	} else if v, ok := wctx.Lookup(spec.From, spec.Field); ok && !isBlank(v) {
		return v, true
	}

	if spec.Default != nil {
		return models.CloneValue(spec.Default), true
	}

	return nil, false
}

func (r *Runner) checkRules(stage models.Stage, payload map[string]any) []FieldError {
	programs := r.registry.Rules(stage.ID)

	var fields []FieldError

	for i, program := range programs {
		if i >= len(stage.Rules) {
			break
		}

		rule := stage.Rules[i]

		out, err := expr.Run(program, payload)
		if err == nil {
			if ok, isBool := out.(bool); isBool && ok {
				continue
			}
		}

		fields = append(fields, FieldError{
			Key:    ruleSubject(rule, stage.Inputs),
			Reason: "must satisfy " + rule,
		})
	}

	return fields
}

// Invoke performs the remote call of op with an already prepared payload. It never
// returns an error: every outcome is a StageResult.
func (r *Runner) Invoke(
	ctx context.Context,
	inv Invocation,
	stage models.Stage,
	op models.OperationSpec,
	payload map[string]any,
) StageResult {
	key := ""
	if stage.Idempotent {
		key, _ = payload[IdempotencyField].(string)
	}

	ctx, span := otelhelper.StartSpan(ctx, r.tracer, "stage.invoke",
		attribute.String(otelhelper.RunIDKey, inv.RunID),
		attribute.String(otelhelper.StageIDKey, stage.ID),
		attribute.Int(otelhelper.StageAttemptKey, inv.Attempt),
		attribute.String(otelhelper.OperationNameKey, op.Name),
		attribute.String(otelhelper.IdempotencyKeyKey, key),
	)
	defer span.End()

	logger := r.logger.With("run_id", inv.RunID, "stage_id", stage.ID, "operation", op.Name, "attempt", inv.Attempt)

	result := r.invoke(ctx, logger, inv, stage, op, payload, key)

	span.SetAttributes(attribute.String(otelhelper.ResultKindKey, resultKind(result)))

	if failure, ok := result.(TransportFailure); ok {
		otelhelper.SetError(span, failure)
	}

	return result
}

func (r *Runner) invoke(
	ctx context.Context,
	logger *slog.Logger,
	inv Invocation,
	stage models.Stage,
	op models.OperationSpec,
	payload map[string]any,
	key string,
) StageResult {
	op, err := template.RenderOperation(op, template.NewData(inv.RunID, stage.ID, inv.Attempt))
	if err != nil {
		return TransportFailure{Retryable: false, Err: err}
	}

	if key != "" {
		rec, err := r.store.Get(ctx, key)
		if err == nil {
			logger.InfoContext(ctx, "Reusing recorded success for idempotency key", "idempotency_key", key)

			return r.success(stage, inv, key, rec.Data, true)
		}

		if !errors.Is(err, idempotency.ErrNotFound) {
			return TransportFailure{Retryable: true, Err: err}
		}

		unlock, err := r.store.Lock(ctx, key, r.lockTTL)
		if err != nil {
			if errors.Is(err, idempotency.ErrLocked) {
				logger.WarnContext(ctx, "Idempotency key is held by another call", "idempotency_key", key)

				return TransportFailure{Retryable: true, Err: ErrPublishInProgress}
			}

			return TransportFailure{Retryable: true, Err: err}
		}

		defer func() {
			if err := unlock(context.WithoutCancel(ctx)); err != nil {
				logger.WarnContext(ctx, "Failed to release idempotency lock", "error", err)
			}
		}()
	}

	resp, err := r.invoker.Invoke(ctx, remote.Request{
		RunID:          inv.RunID,
		StageID:        stage.ID,
		Operation:      op,
		Payload:        payload,
		IdempotencyKey: key,
	})
	if err != nil {
		return TransportFailure{Retryable: true, Err: err}
	}

	result := r.classify(stage, inv, key, resp)

	success, ok := result.(Success)
	if !ok || key == "" {
		return result
	}

	rec, err := r.store.Put(context.WithoutCancel(ctx), idempotency.Record{
		Key:     key,
		RunID:   inv.RunID,
		StageID: stage.ID,
		Data:    success.Artifact.Data,
	})
	if err != nil {
		logger.WarnContext(ctx, "Failed to record idempotent success", "error", err)

		return result
	}

	success.Artifact.Data = rec.Data

	return success
}

func (r *Runner) classify(stage models.Stage, inv Invocation, key string, resp *remote.Response) StageResult {
	if !resp.Structured() {
		return TransportFailure{
			Retryable: true,
			Err:       fmt.Errorf("%w: status %d without a structured body", ErrUnexpectedResponse, resp.StatusCode),
		}
	}

	body := resp.Body

	if isDuplicate(resp) {
		return r.success(stage, inv, key, payloadOf(body), true)
	}

	if kind, ok := challengeKind(body); ok {
		session, _ := body["session_id"].(string)

		return Challenged{Challenge: models.Challenge{
			StageID:   stage.ID,
			Kind:      kind,
			SessionID: session,
			Prompt:    models.PromptFields(kind),
			RaisedAt:  r.clock.Now(),
		}}
	}

	succeeded, declared := body["success"].(bool)

	switch {
	case succeeded || (!declared && resp.OK()):
		data := payloadOf(body)
		if err := remote.ValidateBody(stage.ResponseSchema, data); err != nil {
			return TransportFailure{Retryable: true, Err: err}
		}

		return r.success(stage, inv, key, data, false)
	case resp.StatusCode >= 500 || resp.StatusCode == 408 || resp.StatusCode == 429:
		return TransportFailure{
			Retryable: true,
			Err:       fmt.Errorf("%w: status %d: %s", ErrUnexpectedResponse, resp.StatusCode, reasonOf(body, "server error")),
		}
	default:
		return Rejected{Reason: reasonOf(body, "rejected by "+stage.Operation.Name), Details: models.CloneMap(body)}
	}
}

func (r *Runner) success(stage models.Stage, inv Invocation, key string, data map[string]any, duplicate bool) Success {
	return Success{Artifact: models.Artifact{
		StageID:        stage.ID,
		Data:           models.CloneMap(data),
		Attempt:        inv.Attempt,
		IdempotencyKey: key,
		Duplicate:      duplicate,
		CommittedAt:    r.clock.Now(),
	}}
}

// isDuplicate recognizes a server reporting that the identical operation already succeeded.
func isDuplicate(resp *remote.Response) bool {
	if dup, _ := resp.Body["duplicate"].(bool); dup {
		return true
	}

	if resp.StatusCode != 409 {
		return false
	}

	_, hasProduct := resp.Body["product_id"]
	_, hasSKU := resp.Body["sku"]

	return hasProduct || hasSKU
}

func challengeKind(body map[string]any) (models.ChallengeKind, bool) {
	if otp, _ := body["requires_otp"].(bool); otp {
		return models.ChallengeKindOTP, true
	}

	if creds, _ := body["requires_credentials"].(bool); creds {
		return models.ChallengeKindCredentials, true
	}

	return "", false
}

func payloadOf(body map[string]any) map[string]any {
	data := models.CloneMap(body)
	delete(data, "success")
	delete(data, "duplicate")

	return data
}

func reasonOf(body map[string]any, fallback string) string {
	for _, field := range []string{"error", "detail", "message", "reason"} {
		if s, ok := body[field].(string); ok && strings.TrimSpace(s) != "" {
			return s
		}
	}

	return fallback
}

func resultKind(result StageResult) string {
	switch result.(type) {
	case Success:
		return "success"
	case Challenged:
		return "challenged"
	case Rejected:
		return "rejected"
	case TransportFailure:
		return "transport_failure"
	default:
		return "unknown"
	}
}

// skuFrom finds a server-issued SKU committed by an earlier stage.
func skuFrom(stageID string, wctx Context) string {
	for _, id := range wctx.StageIDs() {
		if id == stageID {
			continue
		}

		for _, path := range []string{"sku", "product_card.sku"} {
			if v, ok := wctx.Lookup(id, path); ok {
				if s, ok := v.(string); ok && s != "" {
					return s
				}
			}
		}
	}

	return ""
}

// ruleSubject picks the first declared input a rule mentions.
func ruleSubject(rule string, inputs []models.InputSpec) string {
	words := strings.FieldsFunc(rule, func(c rune) bool {
		return !unicode.IsLetter(c) && !unicode.IsDigit(c) && c != '_'
	})

	for _, w := range words {
		for _, in := range inputs {
			if in.Key == w {
				return w
			}
		}
	}

	return "input"
}

func isBlank(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	case []byte:
		return len(t) == 0
	default:
		return false
	}
}

func coerce(kind models.InputType, v any) (any, string) {
	switch kind {
	case models.InputTypeNumber:
		n, ok := toNumber(v)
		if !ok {
			return nil, "must be a number"
		}

		return n, ""
	case models.InputTypeString:
		s, ok := v.(string)
		if !ok {
			return nil, "must be text"
		}

		return strings.TrimSpace(s), ""
	case models.InputTypeBytes:
		switch t := v.(type) {
		case []byte:
			return base64.StdEncoding.EncodeToString(t), ""
		case string:
			return t, ""
		default:
			return nil, "must be binary or base64 data"
		}
	case models.InputTypeList:
		switch t := v.(type) {
		case []any:
			return models.CloneValue(t), ""
		case []string:
			out := make([]any, len(t))
			for i, s := range t {
				out[i] = s
			}

			return out, ""
		default:
			return nil, "must be a list"
		}
	default:
		return v, ""
	}
}

func toNumber(v any) (float64, bool) {
	var n float64

	switch t := v.(type) {
	case float64:
		n = t
	case float32:
		n = float64(t)
	case int:
		n = float64(t)
	case int32:
		n = float64(t)
	case int64:
		n = float64(t)
	case uint:
		n = float64(t)
	case uint64:
		n = float64(t)
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return 0, false
		}

		n = f
	case string:
		f, err := strconv.ParseFloat(strings.ReplaceAll(strings.TrimSpace(t), " ", ""), 64)
		if err != nil {
			return 0, false
		}

		n = f
	default:
		return 0, false
	}

	if math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, false
	}

	return n, true
}
