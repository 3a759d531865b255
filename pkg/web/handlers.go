// Package web provides HTTP handlers and REST API endpoints for onboarding runs.
package web

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/dukex/sellflow/pkg/persistence"
	"github.com/dukex/sellflow/pkg/registry"
	"github.com/dukex/sellflow/pkg/workflow"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

const defaultWaitTimeout = 2 * time.Minute

type APIHandlers struct {
	manager     *workflow.Manager
	registry    *registry.Registry
	validator   *validator.Validate
	persistence persistence.Persistence
	waitTimeout time.Duration
}

// NewAPIHandlers wires the handlers. persistence may be nil when snapshots are disabled.
func NewAPIHandlers(
	manager *workflow.Manager,
	registry *registry.Registry,
	validator *validator.Validate,
	persistence persistence.Persistence,
) *APIHandlers {
	return &APIHandlers{
		manager:     manager,
		registry:    registry,
		validator:   validator,
		persistence: persistence,
		waitTimeout: defaultWaitTimeout,
	}
}

// runContext detaches run work from the request: fasthttp recycles request contexts
// once the handler returns, while stage calls outlive the request.
func runContext() context.Context {
	return context.Background()
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	registryCheck, regOk := h.registry.HealthCheck()
	runsCheck, runsOk := h.manager.HealthCheck()

	repositoryCheck, repOk := "disabled", true
	if h.persistence != nil {
		repositoryCheck = "ok"

		if err := h.persistence.HealthCheck(c.Context()); err != nil {
			repositoryCheck, repOk = err.Error(), false
		}
	}

	status := "unhealthy"
	message := "Sellflow API is unhealthy"
	httpStatus := http.StatusInternalServerError

	if regOk && runsOk && repOk {
		status = "healthy"
		message = "Sellflow API is healthy"
		httpStatus = http.StatusOK
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":  status,
		"message": message,
		"checkers": fiber.Map{
			"registry":   registryCheck,
			"runs":       runsCheck,
			"repository": repositoryCheck,
		},
		"timestamp": time.Now().UTC(),
	})
}

func (h *APIHandlers) GetStages(c fiber.Ctx) error {
	stages := h.registry.Stages()

	response := make([]StageResponse, 0, len(stages))
	for i, stage := range stages {
		response = append(response, TransformStageResponse(i, stage))
	}

	return c.JSON(response)
}

func (h *APIHandlers) CreateRun(c fiber.Ctx) error {
	ctrl, err := h.manager.Create(runContext())
	if err != nil {
		return handleRunError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(TransformRunResponse(ctrl.State(), ctrl.Indicator(), h.registry))
}

func (h *APIHandlers) GetRuns(c fiber.Ctx) error {
	runs := h.manager.Active()

	return c.JSON(fiber.Map{
		"runs":        runs,
		"total_count": len(runs),
	})
}

func (h *APIHandlers) GetRun(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Run ID is required")
	}

	ctrl, err := h.manager.Get(runContext(), id)
	if err != nil {
		return handleRunError(c, err)
	}

	return c.JSON(TransformRunResponse(ctrl.State(), ctrl.Indicator(), h.registry))
}

func (h *APIHandlers) GetIndicator(c fiber.Ctx) error {
	ctrl, err := h.manager.Get(runContext(), c.Params("id"))
	if err != nil {
		return handleRunError(c, err)
	}

	return c.JSON(ctrl.Indicator())
}

func (h *APIHandlers) SubmitRun(c fiber.Ctx) error {
	var req SubmitRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	return h.dispatch(c, workflow.Submit{Input: req.Input})
}

func (h *APIHandlers) ResolveChallenge(c fiber.Ctx) error {
	var req ChallengeRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	return h.dispatch(c, workflow.ResolveChallenge{Input: req.Input})
}

func (h *APIHandlers) RetryRun(c fiber.Ctx) error {
	return h.dispatch(c, workflow.Retry{})
}

func (h *APIHandlers) EditRun(c fiber.Ctx) error {
	return h.dispatch(c, workflow.Edit{})
}

func (h *APIHandlers) ResetRun(c fiber.Ctx) error {
	return h.dispatch(c, workflow.Reset{})
}

func (h *APIHandlers) DeleteRun(c fiber.Ctx) error {
	if err := h.manager.Remove(runContext(), c.Params("id")); err != nil {
		return handleRunError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

// dispatch applies action to the run named in the path. With ?wait=true the response is
// held until the stage call it started has settled.
func (h *APIHandlers) dispatch(c fiber.Ctx, action workflow.Action) error {
	wait := false
	if raw := c.Query("wait"); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			return badRequest(c, "Invalid query parameters: "+err.Error())
		}

		wait = parsed
	}

	ctrl, err := h.manager.Get(runContext(), c.Params("id"))
	if err != nil {
		return handleRunError(c, err)
	}

	state, err := ctrl.Dispatch(runContext(), action)
	if err != nil {
		if verr, ok := workflow.AsValidationError(err); ok {
			response := TransformRunResponse(state, ctrl.Indicator(), h.registry)
			response.Errors = verr.Fields

			return c.Status(fiber.StatusUnprocessableEntity).JSON(response)
		}

		return handleRunError(c, err)
	}

	if wait {
		ctx, cancel := context.WithTimeout(runContext(), h.waitTimeout)
		defer cancel()

		state, _ = ctrl.Wait(ctx)
	}

	return c.JSON(TransformRunResponse(state, ctrl.Indicator(), h.registry))
}
