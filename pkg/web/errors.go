package web

import (
	"errors"

	"github.com/dukex/sellflow/pkg/workflow"
	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"
)

func badRequest(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(400).
		WithInstance(c.Path()).
		WithType("validation_error").
		WithDetail(detail)

	return c.Status(fiber.StatusBadRequest).JSON(problem)
}

func notFound(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(404).
		WithInstance(c.Path()).
		WithType("not_found").
		WithDetail(detail)

	return c.Status(fiber.StatusNotFound).JSON(problem)
}

func conflict(c fiber.Ctx, kind string, err error) error {
	problem := problems.NewStatusProblem(409).
		WithInstance(c.Path()).
		WithType(kind).
		WithDetail(err.Error())

	return c.Status(fiber.StatusConflict).JSON(problem)
}

func internalError(c fiber.Ctx, err error) error {
	problem := problems.NewStatusProblem(500).
		WithInstance(c.Path()).
		WithType("internal_error").
		WithError(err)

	return c.Status(fiber.StatusInternalServerError).JSON(problem)
}

// handleRunError maps run manager errors onto problem responses.
func handleRunError(c fiber.Ctx, err error) error {
	switch {
	case workflow.IsRunNotFound(err):
		return notFound(c, "run not found")

	case workflow.IsInvalidTransition(err):
		return conflict(c, "invalid_transition", err)

	case errors.Is(err, workflow.ErrChallengeMismatch):
		return conflict(c, "challenge_mismatch", err)

	case errors.Is(err, workflow.ErrNoStages):
		problem := problems.NewStatusProblem(503).
			WithInstance(c.Path()).
			WithType("no_stages").
			WithDetail(err.Error())

		return c.Status(fiber.StatusServiceUnavailable).JSON(problem)

	default:
		return internalError(c, err)
	}
}
