package main

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/dukex/sellflow/pkg/persistence"
	"github.com/dukex/sellflow/pkg/registry"
	"github.com/dukex/sellflow/pkg/web"
	"github.com/dukex/sellflow/pkg/workflow"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
)

type API struct {
	logger      *slog.Logger
	manager     *workflow.Manager
	registry    *registry.Registry
	persistence persistence.Persistence
	validate    *validator.Validate
}

func NewAPI(
	logger *slog.Logger,
	manager *workflow.Manager,
	registry *registry.Registry,
	persistence persistence.Persistence,
) *API {
	return &API{
		logger:      logger,
		manager:     manager,
		registry:    registry,
		persistence: persistence,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (a *API) App() *fiber.App {
	handlers := web.NewAPIHandlers(a.manager, a.registry, a.validate, a.persistence)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker(healthcheck.Config{
		Probe: func(fiber.Ctx) bool {
			_, ok := a.registry.HealthCheck()

			return ok
		},
	}))

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Sellflow API")
	})

	app.Get("/stages", handlers.GetStages)

	r := app.Group("/runs")
	r.Get("/", handlers.GetRuns)
	r.Post("/", handlers.CreateRun)
	r.Get("/:id", handlers.GetRun)
	r.Delete("/:id", handlers.DeleteRun)
	r.Get("/:id/indicator", handlers.GetIndicator)
	r.Post("/:id/submit", handlers.SubmitRun)
	r.Post("/:id/challenge", handlers.ResolveChallenge)
	r.Post("/:id/retry", handlers.RetryRun)
	r.Post("/:id/edit", handlers.EditRun)
	r.Post("/:id/reset", handlers.ResetRun)

	app.Get("/health", handlers.HealthCheck)

	return app
}

// Start serves the API until ctx is cancelled.
func (a *API) Start(ctx context.Context, port int) error {
	app := a.App()

	go func() {
		<-ctx.Done()

		if err := app.Shutdown(); err != nil {
			a.logger.Error("Failed to shut down API server", "error", err)
		}
	}()

	return app.Listen(":" + strconv.Itoa(port))
}
