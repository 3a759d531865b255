// Package registry holds the ordered stage definitions of the onboarding pipeline.
package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/dukex/sellflow/pkg/models"
	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/go-playground/validator/v10"
)

var (
	// ErrStageNotFound indicates no stage is registered under the given id.
	ErrStageNotFound = errors.New("stage not found")

	// ErrDuplicateStage indicates a stage id was registered twice.
	ErrDuplicateStage = errors.New("stage already registered")

	// ErrForwardReference indicates an input refers to a stage that does not precede it.
	ErrForwardReference = errors.New("input references a stage that is not registered before it")
)

// DefinitionError wraps a stage definition problem with the offending stage id.
type DefinitionError struct {
	StageID string
	Err     error
}

func (e *DefinitionError) Error() string {
	return fmt.Sprintf("stage %s: %v", e.StageID, e.Err)
}

func (e *DefinitionError) Unwrap() error {
	return e.Err
}

// Registry is the ordered, append-only set of stage definitions. Stage order is the
// execution order; an input may only be sourced from an earlier stage.
type Registry struct {
	logger   *slog.Logger
	validate *validator.Validate

	mu     sync.RWMutex
	stages []models.Stage
	index  map[string]int
	rules  map[string][]*vm.Program
}

func NewRegistry(log *slog.Logger) *Registry {
	return &Registry{
		logger:   log.With("module", "stage_registry"),
		validate: validator.New(validator.WithRequiredStructEnabled()),
		index:    make(map[string]int),
		rules:    make(map[string][]*vm.Program),
	}
}

// Register appends a stage definition after validating it against the stages already known.
func (r *Registry) Register(stage models.Stage) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.validate.Struct(stage); err != nil {
		return &DefinitionError{StageID: stage.ID, Err: err}
	}

	if stage.Challenge != nil {
		if err := r.validate.Struct(stage.Challenge); err != nil {
			return &DefinitionError{StageID: stage.ID, Err: err}
		}
	}

	if _, exists := r.index[stage.ID]; exists {
		return &DefinitionError{StageID: stage.ID, Err: ErrDuplicateStage}
	}

	seen := make(map[string]struct{}, len(stage.Inputs))

	for _, in := range stage.Inputs {
		if _, dup := seen[in.Key]; dup {
			return &DefinitionError{StageID: stage.ID, Err: fmt.Errorf("duplicate input key %q", in.Key)}
		}

		seen[in.Key] = struct{}{}

		if in.IsUserEntry() {
			continue
		}

		if _, ok := r.index[in.From]; !ok {
			return &DefinitionError{StageID: stage.ID, Err: fmt.Errorf("%w: %s", ErrForwardReference, in.From)}
		}
	}

	programs := make([]*vm.Program, 0, len(stage.Rules))

	for _, rule := range stage.Rules {
		program, err := expr.Compile(rule, expr.AsBool())
		if err != nil {
			return &DefinitionError{StageID: stage.ID, Err: fmt.Errorf("compile rule %q: %w", rule, err)}
		}

		programs = append(programs, program)
	}

	r.index[stage.ID] = len(r.stages)
	r.stages = append(r.stages, stage.Clone())
	r.rules[stage.ID] = programs

	r.logger.Debug("Registered stage", "stage_id", stage.ID, "position", len(r.stages)-1)

	return nil
}

// Stage returns a copy of the stage registered under id.
func (r *Registry) Stage(id string) (models.Stage, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	i, ok := r.index[id]
	if !ok {
		return models.Stage{}, fmt.Errorf("%w: %s", ErrStageNotFound, id)
	}

	return r.stages[i].Clone(), nil
}

// At returns a copy of the stage at position i.
func (r *Registry) At(i int) (models.Stage, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if i < 0 || i >= len(r.stages) {
		return models.Stage{}, false
	}

	return r.stages[i].Clone(), true
}

// IndexOf returns the position of a stage, or -1.
func (r *Registry) IndexOf(id string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	i, ok := r.index[id]
	if !ok {
		return -1
	}

	return i
}

// Len returns the number of registered stages.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.stages)
}

// Stages returns copies of all stages in execution order.
func (r *Registry) Stages() []models.Stage {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.Stage, len(r.stages))
	for i, s := range r.stages {
		out[i] = s.Clone()
	}

	return out
}

// Rules returns the compiled input rules of a stage.
func (r *Registry) Rules(id string) []*vm.Program {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.rules[id]
}

func (r *Registry) HealthCheck() (string, bool) {
	if r.Len() == 0 {
		return "no stages registered", false
	}

	return fmt.Sprintf("%d stages registered", r.Len()), true
}
