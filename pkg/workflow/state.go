package workflow

import (
	"errors"
	"fmt"
	"time"

	"github.com/dukex/sellflow/pkg/models"
	"github.com/dukex/sellflow/pkg/registry"
	"github.com/jonboulle/clockwork"
)

// RunState is the complete state of one run. Values are treated as immutable: the
// reducer always returns a fresh value and never writes into the one it was given.
type RunState struct {
	RunID       string
	Flow        string // anchors idempotency keys; a new one is taken on every Start
	Status      models.RunStatus
	Pointer     int
	Context     Context
	Pending     map[string]any // payload last sent for the stage at Pointer
	UserInput   map[string]any // raw input last submitted for the stage at Pointer
	Challenge   *models.Challenge
	LastError   *models.RunError
	Generation  uint64
	Attempts    map[string]int
	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt *time.Time
}

// NewRunState returns an idle run.
func NewRunState(runID string, now time.Time) RunState {
	return RunState{
		RunID:     runID,
		Status:    models.RunStatusIdle,
		Context:   NewContext(),
		Attempts:  map[string]int{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Snapshot returns the persistable form of the state. The challenge is left out.
func (s RunState) Snapshot() models.RunSnapshot {
	snap := models.RunSnapshot{
		ID:         s.RunID,
		Flow:       s.Flow,
		Status:     s.Status,
		Pointer:    s.Pointer,
		Generation: s.Generation,
		Artifacts:  s.Context.Artifacts(),
		Pending:    models.CloneMap(s.Pending),
		UserInput:  models.CloneMap(s.UserInput),
		Attempts:   cloneAttempts(s.Attempts),
		CreatedAt:  s.CreatedAt,
		UpdatedAt:  s.UpdatedAt,
	}

	if s.LastError != nil {
		e := *s.LastError
		snap.LastError = &e
	}

	if s.CompletedAt != nil {
		t := *s.CompletedAt
		snap.CompletedAt = &t
	}

	return snap
}

// RestoreState rebuilds a run from a snapshot. A stage that was executing or challenged
// when the snapshot was taken lost its call, so it comes back as a retryable failure
// that replays the pending payload.
func RestoreState(snap models.RunSnapshot) RunState {
	s := RunState{
		RunID:       snap.ID,
		Flow:        snap.Flow,
		Status:      snap.Status,
		Pointer:     snap.Pointer,
		Context:     ContextFrom(snap.Artifacts),
		Pending:     models.CloneMap(snap.Pending),
		UserInput:   models.CloneMap(snap.UserInput),
		Generation:  snap.Generation,
		Attempts:    cloneAttempts(snap.Attempts),
		CreatedAt:   snap.CreatedAt,
		UpdatedAt:   snap.UpdatedAt,
		CompletedAt: snap.CompletedAt,
	}

	if snap.LastError != nil {
		e := *snap.LastError
		s.LastError = &e
	}

	if s.Status == models.RunStatusExecuting || s.Status == models.RunStatusChallenged {
		s.Status = models.RunStatusFailed
		s.Generation++
		s.LastError = &models.RunError{
			Kind:      models.ErrorKindInterrupt,
			Message:   "the stage was interrupted before it finished",
			Retryable: s.Pending != nil,
		}
	}

	if s.Status == "" {
		s.Status = models.RunStatusIdle
	}

	return s
}

// keyAnchor identifies the current flow of the run. Snapshots written before flows were
// tracked fall back to the run id.
func (s RunState) keyAnchor() string {
	if s.Flow != "" {
		return s.Flow
	}

	return s.RunID
}

// Action is the closed set of inputs a run accepts.
type Action interface {
	actionName() string
}

// Start begins a run at the first stage.
type Start struct{}

// Submit provides the user-entered inputs of the current stage.
type Submit struct {
	Input map[string]any
}

// ResolveChallenge provides the supplemental input a challenge prompted for.
type ResolveChallenge struct {
	Input map[string]any
}

// Retry replays the last payload of a stage that failed in transport.
type Retry struct{}

// Edit returns a failed or challenged stage to input collection.
type Edit struct{}

// Reset discards all progress and returns the run to idle.
type Reset struct{}

// settle delivers the result of the call started under Generation.
type settle struct {
	Generation uint64
	Result     StageResult
}

func (Start) actionName() string            { return "start" }
func (Submit) actionName() string           { return "submit" }
func (ResolveChallenge) actionName() string { return "resolve_challenge" }
func (Retry) actionName() string            { return "retry" }
func (Edit) actionName() string             { return "edit" }
func (Reset) actionName() string            { return "reset" }
func (settle) actionName() string           { return "settle" }

// CommandKind tells the driver which remote operation of a stage to call.
type CommandKind int

const (
	CommandExecute CommandKind = iota + 1
	CommandResolve
)

// Command is the side effect a transition asks its driver to perform. Its result must
// be fed back with the same Generation.
type Command struct {
	Kind         CommandKind
	Generation   uint64
	Stage        models.Stage
	Invocation   Invocation
	Payload      map[string]any
	Challenge    models.Challenge
	Supplemental map[string]any
}

// Reducer is the pure transition function of a run.
type Reducer struct {
	registry *registry.Registry
	runner   *Runner
	resolver *Resolver
	clock    clockwork.Clock
}

// NewReducer returns a reducer over the stages of reg.
func NewReducer(reg *registry.Registry, runner *Runner, resolver *Resolver, clock clockwork.Clock) *Reducer {
	return &Reducer{registry: reg, runner: runner, resolver: resolver, clock: clock}
}

// Reduce applies action to state. On error the returned state is either state itself or
// state with the error recorded; the caller may store it either way.
func (r *Reducer) Reduce(state RunState, action Action) (RunState, *Command, error) {
	switch a := action.(type) {
	case Start:
		return r.start(state)
	case Submit:
		return r.submit(state, a)
	case ResolveChallenge:
		return r.resolve(state, a)
	case Retry:
		return r.retry(state)
	case Edit:
		return r.edit(state)
	case Reset:
		return r.reset(state), nil, nil
	case settle:
		return r.settle(state, a)
	default:
		return state, nil, fmt.Errorf("unknown action %T", action)
	}
}

func (r *Reducer) start(state RunState) (RunState, *Command, error) {
	if state.Status != models.RunStatusIdle {
		return state, nil, &TransitionError{Action: Start{}.actionName(), Status: state.Status}
	}

	if r.registry.Len() == 0 {
		return state, nil, ErrNoStages
	}

	next := r.touch(state)
	next.Status = models.RunStatusCollecting
	next.Pointer = 0
	// Generations only grow and Reset bumps them, so no two flows of a run share one.
	next.Flow = fmt.Sprintf("%s/%d", state.RunID, state.Generation)

	return next, nil, nil
}

func (r *Reducer) submit(state RunState, a Submit) (RunState, *Command, error) {
	switch state.Status {
	case models.RunStatusCollecting, models.RunStatusExecuting, models.RunStatusChallenged:
	default:
		return state, nil, &TransitionError{Action: a.actionName(), Status: state.Status}
	}

	stage, err := r.current(state)
	if err != nil {
		return state, nil, err
	}

	payload, err := r.runner.Prepare(state.keyAnchor(), stage, state.Context, a.Input)
	if err != nil {
		if state.Status != models.RunStatusCollecting {
			return state, nil, err
		}

		next := r.touch(state)
		next.UserInput = models.CloneMap(a.Input)
		next.LastError = validationRunError(stage.ID, err)

		return next, nil, err
	}

	next := r.touch(state)
	next.UserInput = models.CloneMap(a.Input)
	next.Pending = payload
	next.Challenge = nil
	next.LastError = nil

	return r.execute(next, stage, CommandExecute)
}

func (r *Reducer) resolve(state RunState, a ResolveChallenge) (RunState, *Command, error) {
	if state.Status != models.RunStatusChallenged || state.Challenge == nil {
		return state, nil, &TransitionError{Action: a.actionName(), Status: state.Status}
	}

	stage, err := r.current(state)
	if err != nil {
		return state, nil, err
	}

	if err := r.resolver.Check(stage, *state.Challenge, a.Input); err != nil {
		return state, nil, err
	}

	challenge := *state.Challenge

	next := r.touch(state)
	next.Challenge = nil
	next.LastError = nil

	next, cmd, err := r.execute(next, stage, CommandResolve)
	if cmd != nil {
		cmd.Challenge = challenge
		cmd.Supplemental = models.CloneMap(a.Input)
	}

	return next, cmd, err
}

func (r *Reducer) retry(state RunState) (RunState, *Command, error) {
	if state.Status != models.RunStatusFailed || state.LastError == nil || !state.LastError.Retryable {
		return state, nil, &TransitionError{Action: Retry{}.actionName(), Status: state.Status}
	}

	stage, err := r.current(state)
	if err != nil {
		return state, nil, err
	}

	next := r.touch(state)
	next.LastError = nil

	return r.execute(next, stage, CommandExecute)
}

func (r *Reducer) edit(state RunState) (RunState, *Command, error) {
	if state.Status != models.RunStatusFailed && state.Status != models.RunStatusChallenged {
		return state, nil, &TransitionError{Action: Edit{}.actionName(), Status: state.Status}
	}

	next := r.touch(state)
	next.Status = models.RunStatusCollecting
	next.Challenge = nil
	next.LastError = nil
	next.Generation++

	return next, nil, nil
}

func (r *Reducer) reset(state RunState) RunState {
	next := NewRunState(state.RunID, r.clock.Now())
	next.CreatedAt = state.CreatedAt
	next.Generation = state.Generation + 1

	return next
}

func (r *Reducer) settle(state RunState, a settle) (RunState, *Command, error) {
	if a.Generation != state.Generation || state.Status != models.RunStatusExecuting {
		return state, nil, ErrStaleResult
	}

	stage, err := r.current(state)
	if err != nil {
		return state, nil, err
	}

	next := r.touch(state)

	switch res := a.Result.(type) {
	case Success:
		artifact := res.Artifact.Clone()
		artifact.StageID = stage.ID
		artifact.Attempt = state.Attempts[stage.ID]
		artifact.CommittedAt = next.UpdatedAt

		next.Context = state.Context.Commit(artifact)
		next.Pending = nil
		next.UserInput = nil
		next.Challenge = nil
		next.LastError = nil

		if state.Pointer >= r.registry.Len()-1 {
			completed := next.UpdatedAt
			next.Status = models.RunStatusCompleted
			next.CompletedAt = &completed
		} else {
			next.Status = models.RunStatusCollecting
			next.Pointer = state.Pointer + 1
		}
	case Challenged:
		challenge := res.Challenge
		challenge.StageID = stage.ID

		if len(challenge.Prompt) == 0 {
			challenge.Prompt = models.PromptFields(challenge.Kind)
		}

		next.Status = models.RunStatusChallenged
		next.Challenge = &challenge
	case Rejected:
		next.Status = models.RunStatusCollecting
		next.Pending = nil
		next.LastError = &models.RunError{
			Kind:    models.ErrorKindRejection,
			StageID: stage.ID,
			Message: res.Reason,
		}
	case TransportFailure:
		next.Status = models.RunStatusFailed
		next.LastError = &models.RunError{
			Kind:      models.ErrorKindTransport,
			StageID:   stage.ID,
			Message:   res.Error(),
			Retryable: res.Retryable,
		}
	default:
		return state, nil, fmt.Errorf("unknown stage result %T", a.Result)
	}

	return next, nil, nil
}

func (r *Reducer) execute(state RunState, stage models.Stage, kind CommandKind) (RunState, *Command, error) {
	next := state
	next.Status = models.RunStatusExecuting
	next.Generation = state.Generation + 1
	next.Attempts = cloneAttempts(state.Attempts)
	next.Attempts[stage.ID]++

	return next, &Command{
		Kind:       kind,
		Generation: next.Generation,
		Stage:      stage,
		Invocation: Invocation{RunID: state.RunID, Attempt: next.Attempts[stage.ID]},
		Payload:    models.CloneMap(state.Pending),
	}, nil
}

func (r *Reducer) current(state RunState) (models.Stage, error) {
	stage, ok := r.registry.At(state.Pointer)
	if !ok {
		return models.Stage{}, fmt.Errorf("%w: no stage at position %d", registry.ErrStageNotFound, state.Pointer)
	}

	return stage, nil
}

func (r *Reducer) touch(state RunState) RunState {
	next := state
	next.UpdatedAt = r.clock.Now()

	return next
}

func validationRunError(stageID string, err error) *models.RunError {
	out := &models.RunError{Kind: models.ErrorKindValidation, StageID: stageID, Message: err.Error()}

	var verr *ValidationError
	if errors.As(err, &verr) {
		out.Fields = verr.Keys()
	}

	return out
}

func cloneAttempts(in map[string]int) map[string]int {
	out := make(map[string]int, len(in))
	for k, v := range in {
		out[k] = v
	}

	return out
}
