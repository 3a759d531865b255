package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/dukex/sellflow/pkg/eventbus"
	"github.com/dukex/sellflow/pkg/models"
	"github.com/dukex/sellflow/pkg/persistence"
	"github.com/dukex/sellflow/pkg/registry"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

type managed struct {
	ctrl     *Controller
	lastSeen time.Time
}

// Manager owns the live runs of a process. Runs evicted from memory, or lost to a
// restart, are restored from their last snapshot on next access.
type Manager struct {
	registry *registry.Registry
	runner   *Runner
	resolver *Resolver
	reducer  *Reducer
	repo     persistence.RunRepository
	bus      eventbus.EventPublisher
	clock    clockwork.Clock
	base     *slog.Logger
	logger   *slog.Logger

	reporterOpts []ReporterOption

	mu   sync.Mutex
	runs map[string]*managed
}

type ManagerOption func(*Manager)

// WithRepository persists a snapshot after every transition.
func WithRepository(repo persistence.RunRepository) ManagerOption {
	return func(m *Manager) { m.repo = repo }
}

// WithEventPublisher publishes run lifecycle events.
func WithEventPublisher(bus eventbus.EventPublisher) ManagerOption {
	return func(m *Manager) { m.bus = bus }
}

func WithManagerClock(clock clockwork.Clock) ManagerOption {
	return func(m *Manager) { m.clock = clock }
}

// WithReporterOptions configures the progress reporter of every run.
func WithReporterOptions(opts ...ReporterOption) ManagerOption {
	return func(m *Manager) { m.reporterOpts = append(m.reporterOpts, opts...) }
}

// NewManager returns a manager that creates runs over the stages of reg.
func NewManager(reg *registry.Registry, runner *Runner, logger *slog.Logger, opts ...ManagerOption) *Manager {
	m := &Manager{
		registry: reg,
		runner:   runner,
		clock:    clockwork.NewRealClock(),
		base:     logger,
		logger:   logger.With("module", "run_manager"),
		runs:     make(map[string]*managed),
	}

	for _, opt := range opts {
		opt(m)
	}

	m.resolver = NewResolver(runner, logger)
	m.reducer = NewReducer(reg, runner, m.resolver, m.clock)

	return m
}

// Create starts a new run positioned at the first stage.
func (m *Manager) Create(ctx context.Context) (*Controller, error) {
	if m.registry.Len() == 0 {
		return nil, ErrNoStages
	}

	ctrl := m.newController(NewRunState(uuid.NewString(), m.clock.Now()))

	if _, err := ctrl.Start(ctx); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.runs[ctrl.State().RunID] = &managed{ctrl: ctrl, lastSeen: m.clock.Now()}
	m.mu.Unlock()

	m.logger.InfoContext(ctx, "Run created", "run_id", ctrl.State().RunID)

	return ctrl, nil
}

// Get returns the controller of a run, restoring it from its snapshot when needed.
func (m *Manager) Get(ctx context.Context, id string) (*Controller, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if entry, ok := m.runs[id]; ok {
		entry.lastSeen = m.clock.Now()

		return entry.ctrl, nil
	}

	if m.repo == nil {
		return nil, ErrRunNotFound
	}

	snap, err := m.repo.GetByID(ctx, id)
	if err != nil {
		if persistence.IsRunNotFound(err) {
			return nil, ErrRunNotFound
		}

		return nil, fmt.Errorf("failed to load run %s: %w", id, err)
	}

	state := RestoreState(*snap)
	if state.Pointer >= m.registry.Len() {
		return nil, fmt.Errorf("run %s points past the last stage", id)
	}

	ctrl := m.newController(state)
	m.runs[id] = &managed{ctrl: ctrl, lastSeen: m.clock.Now()}

	m.logger.InfoContext(ctx, "Run restored from snapshot",
		"run_id", id,
		"status", state.Status,
		"pointer", state.Pointer)

	return ctrl, nil
}

// Dispatch applies an action to a run.
func (m *Manager) Dispatch(ctx context.Context, id string, action Action) (RunState, error) {
	ctrl, err := m.Get(ctx, id)
	if err != nil {
		return RunState{}, err
	}

	return ctrl.Dispatch(ctx, action)
}

// Remove abandons a run: any in-flight call is cancelled and its snapshot deleted.
func (m *Manager) Remove(ctx context.Context, id string) error {
	m.mu.Lock()
	entry, ok := m.runs[id]
	delete(m.runs, id)
	m.mu.Unlock()

	if ok {
		entry.ctrl.Close()
	}

	if m.repo != nil {
		if err := m.repo.Delete(ctx, id); err != nil {
			return err
		}
	} else if !ok {
		return ErrRunNotFound
	}

	m.logger.InfoContext(ctx, "Run removed", "run_id", id)

	return nil
}

// Active returns the indicators of the runs held in memory, most recent first.
func (m *Manager) Active() []models.StepIndicator {
	m.mu.Lock()

	entries := make([]*managed, 0, len(m.runs))
	for _, entry := range m.runs {
		entries = append(entries, entry)
	}

	m.mu.Unlock()

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].lastSeen.After(entries[j].lastSeen)
	})

	out := make([]models.StepIndicator, 0, len(entries))
	for _, entry := range entries {
		out = append(out, entry.ctrl.Indicator())
	}

	return out
}

// EvictIdle drops runs untouched for longer than maxIdle from memory. Runs with a call
// in flight are kept. Snapshots stay, so an evicted run can still be resumed.
func (m *Manager) EvictIdle(ctx context.Context, maxIdle time.Duration) int {
	cutoff := m.clock.Now().Add(-maxIdle)

	m.mu.Lock()

	var evicted []*Controller

	for id, entry := range m.runs {
		if entry.lastSeen.After(cutoff) || entry.ctrl.State().Status == models.RunStatusExecuting {
			continue
		}

		if m.repo == nil && entry.ctrl.State().Status != models.RunStatusCompleted {
			continue
		}

		evicted = append(evicted, entry.ctrl)
		delete(m.runs, id)
	}

	m.mu.Unlock()

	for _, ctrl := range evicted {
		ctrl.Close()
	}

	if len(evicted) > 0 {
		m.logger.InfoContext(ctx, "Evicted idle runs", "count", len(evicted))
	}

	return len(evicted)
}

// Shutdown closes every live run.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	runs := m.runs
	m.runs = make(map[string]*managed)
	m.mu.Unlock()

	for _, entry := range runs {
		entry.ctrl.Close()
	}

	m.logger.InfoContext(ctx, "Run manager stopped", "runs", len(runs))
}

// HealthCheck reports the number of live runs.
func (m *Manager) HealthCheck() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return fmt.Sprintf("%d live runs", len(m.runs)), true
}

func (m *Manager) newController(state RunState) *Controller {
	opts := append([]ReporterOption{WithProgressClock(m.clock)}, m.reporterOpts...)

	var observers []Observer
	if m.repo != nil {
		observers = append(observers, NewSnapshotObserver(m.repo, m.base))
	}

	if m.bus != nil {
		observers = append(observers, NewEventObserver(m.bus, m.registry, m.base))
	}

	return NewController(state, m.reducer, m.registry, m.runner, m.resolver, NewReporter(opts...), m.base, observers...)
}
