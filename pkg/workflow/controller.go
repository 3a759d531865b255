package workflow

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/dukex/sellflow/pkg/models"
	"github.com/dukex/sellflow/pkg/registry"
)

// Observer is notified of every applied transition, in order.
type Observer interface {
	OnTransition(ctx context.Context, prev, next RunState)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, prev, next RunState)

func (f ObserverFunc) OnTransition(ctx context.Context, prev, next RunState) {
	f(ctx, prev, next)
}

// supersedeGrace bounds how long a new call waits for the call it superseded to return.
const supersedeGrace = 10 * time.Second

type flight struct {
	generation uint64
	cancel     context.CancelFunc
	done       chan struct{}
}

// Controller drives one run: it applies actions through the reducer, performs the remote
// calls transitions ask for and feeds their results back. A result is applied only if
// its generation still matches the run, so a cancelled or superseded call never lands.
type Controller struct {
	reducer  *Reducer
	registry *registry.Registry
	runner   *Runner
	resolver *Resolver
	reporter *Reporter
	logger   *slog.Logger

	mu        sync.Mutex
	state     RunState
	inflight  *flight
	observers []Observer
	closed    bool

	// notifyMu keeps observer calls in transition order.
	notifyMu sync.Mutex
}

// NewController returns a controller driving state.
func NewController(
	state RunState,
	reducer *Reducer,
	reg *registry.Registry,
	runner *Runner,
	resolver *Resolver,
	reporter *Reporter,
	logger *slog.Logger,
	observers ...Observer,
) *Controller {
	return &Controller{
		state:     state,
		reducer:   reducer,
		registry:  reg,
		runner:    runner,
		resolver:  resolver,
		reporter:  reporter,
		logger:    logger.With("module", "run_controller", "run_id", state.RunID),
		observers: observers,
	}
}

// Observe registers an additional observer.
func (c *Controller) Observe(o Observer) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.observers = append(c.observers, o)
}

// Dispatch applies action and returns the resulting state. Any call the transition
// starts runs in the background; use Wait to block until the run settles.
func (c *Controller) Dispatch(ctx context.Context, action Action) (RunState, error) {
	return c.apply(ctx, action)
}

// Start begins the run at its first stage.
func (c *Controller) Start(ctx context.Context) (RunState, error) {
	return c.apply(ctx, Start{})
}

// Submit sends the user input of the current stage.
func (c *Controller) Submit(ctx context.Context, input map[string]any) (RunState, error) {
	return c.apply(ctx, Submit{Input: input})
}

// ResolveChallenge answers the pending challenge.
func (c *Controller) ResolveChallenge(ctx context.Context, input map[string]any) (RunState, error) {
	return c.apply(ctx, ResolveChallenge{Input: input})
}

// Retry replays the stage that failed in transport.
func (c *Controller) Retry(ctx context.Context) (RunState, error) {
	return c.apply(ctx, Retry{})
}

// Edit returns a failed or challenged stage to input collection.
func (c *Controller) Edit(ctx context.Context) (RunState, error) {
	return c.apply(ctx, Edit{})
}

// Reset discards all progress.
func (c *Controller) Reset(ctx context.Context) (RunState, error) {
	return c.apply(ctx, Reset{})
}

func (c *Controller) apply(ctx context.Context, action Action) (RunState, error) {
	c.mu.Lock()

	if c.closed {
		state := c.state
		c.mu.Unlock()

		return state, ErrRunNotFound
	}

	prev := c.state

	next, cmd, err := c.reducer.Reduce(prev, action)
	if errors.Is(err, ErrStaleResult) {
		c.mu.Unlock()
		c.logger.DebugContext(ctx, "Discarding stale stage result", "generation", action.(settle).Generation)

		return prev, err
	}

	c.state = next

	var superseded <-chan struct{}

	if next.Generation != prev.Generation && c.inflight != nil {
		c.logger.InfoContext(ctx, "Cancelling superseded stage call", "generation", c.inflight.generation)
		c.inflight.cancel()
		superseded = c.inflight.done
		c.inflight = nil
	}

	if _, ok := action.(settle); ok && err == nil {
		c.inflight = nil
	}

	if cmd != nil {
		c.launch(ctx, *cmd, superseded)
	}

	c.progress(prev, next)

	changed := !sameState(prev, next)
	observers := c.observers

	c.notifyMu.Lock()
	c.mu.Unlock()

	if changed {
		for _, o := range observers {
			o.OnTransition(ctx, prev, next)
		}
	}

	c.notifyMu.Unlock()

	if err != nil {
		return next, err
	}

	c.logger.DebugContext(ctx, "Applied transition",
		"action", action.actionName(),
		"from", prev.Status,
		"to", next.Status,
		"pointer", next.Pointer,
		"generation", next.Generation)

	return next, nil
}

// launch must be called with c.mu held. The call starts only once the superseded call,
// if any, has returned and released what it held.
func (c *Controller) launch(ctx context.Context, cmd Command, superseded <-chan struct{}) {
	callCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	f := &flight{generation: cmd.Generation, cancel: cancel, done: make(chan struct{})}
	c.inflight = f

	go func() {
		defer close(f.done)
		defer cancel()

		if superseded != nil {
			timer := time.NewTimer(supersedeGrace)

			select {
			case <-superseded:
			case <-timer.C:
				c.logger.WarnContext(callCtx, "Superseded stage call is still running", "generation", cmd.Generation)
			}

			timer.Stop()

			// Superseded itself while waiting; done still closes only after the older call.
			if callCtx.Err() != nil {
				return
			}
		}

		var result StageResult

		switch cmd.Kind {
		case CommandResolve:
			res, err := c.resolver.Resolve(callCtx, cmd.Invocation, cmd.Stage, cmd.Challenge, cmd.Payload, cmd.Supplemental)
			if err != nil {
				result = TransportFailure{Retryable: true, Err: err}
			} else {
				result = res
			}
		default:
			result = c.runner.Invoke(callCtx, cmd.Invocation, cmd.Stage, cmd.Stage.Operation, cmd.Payload)
		}

		_, _ = c.apply(callCtx, settle{Generation: cmd.Generation, Result: result})
	}()
}

// progress must be called with c.mu held.
func (c *Controller) progress(prev, next RunState) {
	if c.reporter == nil {
		return
	}

	switch {
	case next.Status == models.RunStatusExecuting && next.Generation != prev.Generation:
		c.reporter.Start()
	case prev.Status == models.RunStatusExecuting && next.Status != models.RunStatusExecuting:
		if next.Context.Len() > prev.Context.Len() || next.Status == models.RunStatusCompleted {
			c.reporter.Complete()
		} else {
			c.reporter.Reset()
		}
	case next.Status == models.RunStatusIdle:
		c.reporter.Reset()
	}
}

// State returns the current state.
func (c *Controller) State() RunState {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.state
}

// Wait blocks until no stage call is in flight or ctx is done.
func (c *Controller) Wait(ctx context.Context) (RunState, error) {
	for {
		c.mu.Lock()
		f := c.inflight
		state := c.state
		c.mu.Unlock()

		if f == nil {
			return state, nil
		}

		select {
		case <-f.done:
		case <-ctx.Done():
			return c.State(), ctx.Err()
		}
	}
}

// Indicator returns the step indicator of the run.
func (c *Controller) Indicator() models.StepIndicator {
	c.mu.Lock()
	state := c.state
	c.mu.Unlock()

	ind := models.StepIndicator{
		RunID:  state.RunID,
		Status: state.Status,
		Total:  c.registry.Len(),
	}

	if state.Status == models.RunStatusIdle {
		return ind
	}

	ind.Current = state.Pointer + 1

	if stage, ok := c.registry.At(state.Pointer); ok {
		ind.StageID = stage.ID
		ind.Label = stage.Label
	}

	switch {
	case state.Status == models.RunStatusCompleted:
		ind.Percent = 100
	case c.reporter != nil:
		ind.Percent = c.reporter.Value()
	}

	return ind
}

// Close cancels any in-flight call and stops accepting actions. It is used when the
// caller navigates away from the run.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true

	if c.inflight != nil {
		c.inflight.cancel()
		c.inflight = nil
	}

	if c.reporter != nil {
		c.reporter.Reset()
	}
}

func sameState(a, b RunState) bool {
	return a.Status == b.Status &&
		a.Pointer == b.Pointer &&
		a.Generation == b.Generation &&
		a.Context.Len() == b.Context.Len() &&
		a.LastError == b.LastError &&
		a.Challenge == b.Challenge &&
		a.UpdatedAt.Equal(b.UpdatedAt)
}
