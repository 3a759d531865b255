package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dukex/sellflow/pkg/cmd"
	"github.com/dukex/sellflow/pkg/config"
	"github.com/dukex/sellflow/pkg/log"
	"github.com/dukex/sellflow/pkg/otelhelper"
	"github.com/dukex/sellflow/pkg/remote"
	"github.com/dukex/sellflow/pkg/workflow"
	cli "github.com/urfave/cli/v3"
)

const shutdownTimeout = 30 * time.Second

func ServeCommand() *cli.Command {
	return &cli.Command{
		Name:    "serve",
		Aliases: []string{"run", "r"},
		Usage:   "Start the run API server",
		Flags:   serveFlags(),
		Action: func(ctx context.Context, command *cli.Command) error {
			cfg := configFrom(command)
			log.Setup(cfg.LogLevel, cfg.LogFormat)

			logger := log.WithModule("api")

			if err := cfg.Validate(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			return serve(ctx, logger, cfg)
		},
	}
}

func serve(ctx context.Context, logger *slog.Logger, cfg config.Config) error {
	logger.InfoContext(ctx, "Initializing Sellflow API", "port", cfg.Port)

	var closers []func(context.Context)

	defer func() {
		// ctx is already cancelled once serving stops.
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()

		for i := len(closers) - 1; i >= 0; i-- {
			closers[i](closeCtx)
		}
	}()

	var runnerOpts []workflow.RunnerOption

	if cfg.Tracing {
		tracerProvider, err := otelhelper.InitTracer(ctx, cfg.ServiceName)
		if err != nil {
			return fmt.Errorf("failed to initialize tracer: %w", err)
		}

		closers = append(closers, func(ctx context.Context) {
			if err := tracerProvider.Shutdown(ctx); err != nil {
				logger.ErrorContext(ctx, "Failed to shutdown tracer provider", "error", err)
			}
		})

		runnerOpts = append(runnerOpts, workflow.WithTracer(tracerProvider.Tracer(cfg.ServiceName)))
	}

	reg, err := cmd.NewRegistry(logger, cfg)
	if err != nil {
		return err
	}

	persistence, err := cmd.NewPersistence(ctx, logger, cfg.DatabaseURL)
	if err != nil {
		return err
	}

	closers = append(closers, func(ctx context.Context) {
		if err := persistence.Close(ctx); err != nil {
			logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
		}
	})

	store, err := cmd.NewIdempotencyStore(ctx, logger, cfg.RedisURL)
	if err != nil {
		return err
	}

	closers = append(closers, func(ctx context.Context) {
		if err := store.Close(); err != nil {
			logger.ErrorContext(ctx, "Failed to close idempotency store", "error", err)
		}
	})

	runnerOpts = append(runnerOpts,
		workflow.WithIdempotencyStore(store),
		workflow.WithLockTTL(cfg.LockTTL))

	managerOpts := []workflow.ManagerOption{
		workflow.WithRepository(persistence.RunRepository()),
		workflow.WithReporterOptions(
			workflow.WithProgressCeiling(cfg.ProgressCeiling),
			workflow.WithProgressCadence(cfg.ProgressCadence),
			workflow.WithProgressTimeBase(cfg.ProgressTimeBase),
		),
	}

	eventBus, err := cmd.NewEventBus(cfg.EventBus, cfg.KafkaBrokers, cfg.ServiceName, logger)
	if err != nil {
		return err
	}

	if eventBus != nil {
		closers = append(closers, func(ctx context.Context) {
			if err := eventBus.Close(); err != nil {
				logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
			}
		})

		managerOpts = append(managerOpts, workflow.WithEventPublisher(eventBus))
	}

	runner := workflow.NewRunner(reg, remote.NewHTTPClient(logger), logger, runnerOpts...)
	manager := workflow.NewManager(reg, runner, logger, managerOpts...)

	closers = append(closers, manager.Shutdown)

	janitor, err := workflow.NewJanitor(manager, cfg.JanitorSchedule, cfg.RunIdleTTL, logger)
	if err != nil {
		return err
	}

	janitor.Start()

	closers = append(closers, janitor.Stop)

	api := NewAPI(logger, manager, reg, persistence)

	if err := api.Start(ctx, cfg.Port); err != nil {
		return fmt.Errorf("failed to start API server: %w", err)
	}

	logger.Info("Sellflow API stopped")

	return nil
}
