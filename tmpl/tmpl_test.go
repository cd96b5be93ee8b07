package tmpl

import (
	"testing"

	"github.com/marlowe-ops/flowcraft/store"
	"github.com/marlowe-ops/flowcraft/value"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveStepAndField(t *testing.T) {
	s := store.New()
	require.NoError(t, s.Put("A", map[string]interface{}{"text": "hello"}))

	got := Resolve("say {{A}}!", Context{Store: s})
	assert.Equal(t, "say hello!", got)

	got = Resolve("say {{A.text}}!", Context{Store: s})
	assert.Equal(t, "say hello!", got)
}

func TestUnknownReferenceKeepsLiteralText(t *testing.T) {
	s := store.New()
	got := Resolve("x={{missing_step}}", Context{Store: s})
	assert.Equal(t, "x={{missing_step}}", got)
}

func TestInputsAbsentResolvesEmpty(t *testing.T) {
	got := Resolve("v=[{{inputs.name}}]", Context{Inputs: map[string]value.Value{}})
	assert.Equal(t, "v=[]", got)

	got = Resolve("v=[{{inputs.name}}]", Context{Inputs: map[string]value.Value{"name": value.String("bob")}})
	assert.Equal(t, "v=[bob]", got)
}

func TestLoopNamespace(t *testing.T) {
	item := value.NewMap()
	item.Set("s", value.String("a"))
	loop := &LoopFrame{IteratorName: "item", Item: item, Index: 1, Total: 3}
	ctx := Context{Loop: loop}

	assert.Equal(t, "1", Resolve("{{loop.index}}", ctx))
	assert.Equal(t, "3", Resolve("{{loop.total}}", ctx))
	assert.Equal(t, "2", Resolve("{{loop.iteration}}", ctx))
	assert.Equal(t, "false", Resolve("{{loop.first}}", ctx))
	assert.Equal(t, "false", Resolve("{{loop.last}}", ctx))
	assert.Equal(t, "a", Resolve("{{loop.item.s}}", ctx))
}

func TestSinglePassNoRecursiveSubstitution(t *testing.T) {
	s := store.New()
	require.NoError(t, s.Put("A", map[string]interface{}{"text": "{{B}}"}))
	require.NoError(t, s.Put("B", map[string]interface{}{"text": "SECRET"}))

	got := Resolve("{{A}}", Context{Store: s})
	assert.Equal(t, "{{B}}", got, "substituted content must not be re-scanned for templates")
}

func TestWorkspaceDir(t *testing.T) {
	got := Resolve("{{workspace_dir}}/out.txt", Context{WorkspaceDir: "/tmp/ws"})
	assert.Equal(t, "/tmp/ws/out.txt", got)
}
