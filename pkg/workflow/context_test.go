package workflow

import (
	"testing"

	"github.com/dukex/sellflow/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContext_CommitIsCopyOnWrite(t *testing.T) {
	empty := NewContext()
	one := empty.Commit(committed("recognition", map[string]any{"product": map[string]any{"name": "Mouse"}}))
	two := one.Commit(committed("pricing", map[string]any{"price": 10.0}))

	assert.Equal(t, 0, empty.Len())
	assert.Equal(t, 1, one.Len())
	assert.Equal(t, 2, two.Len())
	assert.False(t, one.Has("pricing"))
	assert.Equal(t, []string{"recognition", "pricing"}, two.StageIDs())
}

func TestContext_ReplaceKeepsOrder(t *testing.T) {
	c := NewContext().
		Commit(committed("recognition", map[string]any{"v": 1})).
		Commit(committed("pricing", map[string]any{"v": 2})).
		Commit(models.Artifact{StageID: "recognition", Data: map[string]any{"v": 3}, Attempt: 2})

	assert.Equal(t, []string{"recognition", "pricing"}, c.StageIDs())

	a, ok := c.Artifact("recognition")
	require.True(t, ok)
	assert.Equal(t, 3, a.Data["v"])
	assert.Equal(t, 2, a.Attempt)
}

func TestContext_ArtifactsCannotBeMutated(t *testing.T) {
	data := map[string]any{"product": map[string]any{"name": "Mouse"}}
	c := NewContext().Commit(committed("recognition", data))

	data["product"].(map[string]any)["name"] = "changed by caller"

	a, _ := c.Artifact("recognition")
	a.Data["product"].(map[string]any)["name"] = "changed by reader"

	name, ok := c.Lookup("recognition", "product.name")
	require.True(t, ok)
	assert.Equal(t, "Mouse", name)
}

func TestContext_Lookup(t *testing.T) {
	c := NewContext().Commit(committed("pricing", map[string]any{
		"price_optimization": map[string]any{"optimal": 86900.0},
		"title":              "Mouse",
	}))

	v, ok := c.Lookup("pricing", "price_optimization.optimal")
	require.True(t, ok)
	assert.Equal(t, 86900.0, v)

	_, ok = c.Lookup("pricing", "title.length")
	assert.False(t, ok)

	_, ok = c.Lookup("pricing", "price_optimization.max")
	assert.False(t, ok)

	_, ok = c.Lookup("creative", "image_base64")
	assert.False(t, ok)
}

func TestContextFrom(t *testing.T) {
	original := NewContext().
		Commit(committed("recognition", map[string]any{"a": 1})).
		Commit(committed("pricing", map[string]any{"b": 2}))

	rebuilt := ContextFrom(original.Artifacts())

	assert.Equal(t, original.StageIDs(), rebuilt.StageIDs())
	assert.Equal(t, original.Artifacts(), rebuilt.Artifacts())
}
