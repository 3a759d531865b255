package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Janitor periodically evicts idle runs from memory.
type Janitor struct {
	manager *Manager
	maxIdle time.Duration
	cron    *cron.Cron
	logger  *slog.Logger
}

// NewJanitor schedules eviction with a standard 5-field cron expression.
func NewJanitor(manager *Manager, schedule string, maxIdle time.Duration, logger *slog.Logger) (*Janitor, error) {
	j := &Janitor{
		manager: manager,
		maxIdle: maxIdle,
		logger:  logger.With("module", "run_janitor"),
		cron: cron.New(cron.WithChain(
			cron.SkipIfStillRunning(cron.DefaultLogger),
			cron.Recover(cron.DefaultLogger),
		)),
	}

	if _, err := j.cron.AddFunc(schedule, j.Sweep); err != nil {
		return nil, fmt.Errorf("invalid janitor schedule '%s': %w", schedule, err)
	}

	return j, nil
}

// Sweep runs one eviction pass.
func (j *Janitor) Sweep() {
	evicted := j.manager.EvictIdle(context.Background(), j.maxIdle)

	j.logger.Debug("Janitor sweep finished", "evicted", evicted)
}

// Start schedules the sweep.
func (j *Janitor) Start() {
	j.logger.Info("Starting run janitor", "max_idle", j.maxIdle)
	j.cron.Start()
}

// Stop waits for a running sweep to finish or ctx to end.
func (j *Janitor) Stop(ctx context.Context) {
	done := j.cron.Stop()

	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}
