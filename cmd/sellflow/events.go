package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/dukex/sellflow/pkg/cmd"
	"github.com/dukex/sellflow/pkg/eventbus"
	"github.com/dukex/sellflow/pkg/events"
	"github.com/dukex/sellflow/pkg/log"
	cli "github.com/urfave/cli/v3"
)

func EventsCommand() *cli.Command {
	return &cli.Command{
		Name:  "events",
		Usage: "Work with run lifecycle events",
		Commands: []*cli.Command{
			{
				Name:  "tail",
				Usage: "Print lifecycle events as JSON lines until interrupted",
				Flags: append(logFlags(), eventBusFlags()...),
				Action: func(ctx context.Context, command *cli.Command) error {
					cfg := configFrom(command)
					log.Setup(cfg.LogLevel, cfg.LogFormat)

					if cfg.EventBus == "" {
						cfg.EventBus = "kafka"
					}

					logger := log.WithModule("events")

					bus, err := cmd.NewEventBus(cfg.EventBus, cfg.KafkaBrokers, cfg.ServiceName+"-tail", logger)
					if err != nil {
						return err
					}

					defer func() {
						if err := bus.Close(); err != nil {
							logger.Error("Failed to close event bus", "error", err)
						}
					}()

					ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
					defer stop()

					if err := tail(ctx, bus, command.Root().Writer); err != nil {
						return err
					}

					<-ctx.Done()

					return nil
				},
			},
		},
	}
}

// tail subscribes to every lifecycle event type and writes each event to w.
func tail(ctx context.Context, bus eventbus.EventSubscriber, w io.Writer) error {
	var mu sync.Mutex

	enc := json.NewEncoder(w)

	for _, eventType := range events.Types() {
		err := bus.Handle(eventType, func(_ context.Context, event any) error {
			mu.Lock()
			defer mu.Unlock()

			return enc.Encode(event)
		})
		if err != nil {
			return fmt.Errorf("failed to handle %s: %w", eventType, err)
		}
	}

	return bus.Subscribe(ctx)
}
