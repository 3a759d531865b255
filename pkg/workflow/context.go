package workflow

import (
	"strings"

	"github.com/dukex/sellflow/pkg/models"
)

// Context is the append-only bag of committed artifacts of one run, keyed by stage id.
// A Context value is never mutated: Commit returns a new Context and earlier values keep
// observing exactly what they observed before.
type Context struct {
	order     []string
	artifacts map[string]models.Artifact
}

// NewContext returns an empty context.
func NewContext() Context {
	return Context{artifacts: map[string]models.Artifact{}}
}

// ContextFrom rebuilds a context from artifacts in commit order.
func ContextFrom(artifacts []models.Artifact) Context {
	ctx := NewContext()
	for _, a := range artifacts {
		ctx = ctx.Commit(a)
	}

	return ctx
}

// Commit returns a new context containing the artifact. A stage that already has an
// artifact has it replaced in place, so a stage never owns more than one artifact.
func (c Context) Commit(a models.Artifact) Context {
	next := Context{
		order:     make([]string, 0, len(c.order)+1),
		artifacts: make(map[string]models.Artifact, len(c.artifacts)+1),
	}

	next.order = append(next.order, c.order...)
	for id, existing := range c.artifacts {
		next.artifacts[id] = existing
	}

	if _, exists := next.artifacts[a.StageID]; !exists {
		next.order = append(next.order, a.StageID)
	}

	next.artifacts[a.StageID] = a.Clone()

	return next
}

// Has reports whether the stage has a committed artifact.
func (c Context) Has(stageID string) bool {
	_, ok := c.artifacts[stageID]

	return ok
}

// Artifact returns a copy of the stage's committed artifact.
func (c Context) Artifact(stageID string) (models.Artifact, bool) {
	a, ok := c.artifacts[stageID]
	if !ok {
		return models.Artifact{}, false
	}

	return a.Clone(), true
}

// Lookup resolves a dotted field path ("product.name") inside a stage artifact.
func (c Context) Lookup(stageID, path string) (any, bool) {
	a, ok := c.artifacts[stageID]
	if !ok {
		return nil, false
	}

	var current any = a.Data

	for _, part := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}

		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}

	return current, true
}

// Len returns the number of committed artifacts.
func (c Context) Len() int {
	return len(c.order)
}

// StageIDs returns the ids of committed stages in commit order.
func (c Context) StageIDs() []string {
	out := make([]string, len(c.order))
	copy(out, c.order)

	return out
}

// Artifacts returns copies of all committed artifacts in commit order.
func (c Context) Artifacts() []models.Artifact {
	out := make([]models.Artifact, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.artifacts[id].Clone())
	}

	return out
}
