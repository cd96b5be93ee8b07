package checkpoint

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marlowe-ops/flowcraft/store"
	"github.com/marlowe-ops/flowcraft/value"
)

func TestStepAndManifestRoundTrip(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "checkpoints")
	c, err := New(dir)
	require.NoError(t, err)

	s := store.New()
	require.NoError(t, s.Put("A", "hello"))
	require.NoError(t, s.Put("B", map[string]interface{}{"success": true, "text": "world"}))

	require.NoError(t, c.Step("A", s))
	require.NoError(t, c.Step("B", s))
	require.NoError(t, c.Manifest(s.Order(), s.Summary()))

	m, err := c.LoadManifest()
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, m.Order)
	assert.Equal(t, 2, m.Summary.Total)
	assert.Equal(t, 2, m.Summary.Successful)

	recA, err := c.LoadStep("A")
	require.NoError(t, err)
	av := value.FromInterface(recA.Result)
	text, _ := av.Field("text")
	assert.Equal(t, "hello", text.AsString())
}

func TestResumeRebuildsStoreInOrder(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "checkpoints")
	c, err := New(dir)
	require.NoError(t, err)

	s := store.New()
	require.NoError(t, s.Put("first", "one"))
	require.NoError(t, s.Put("second", "two"))
	require.NoError(t, c.Step("first", s))
	require.NoError(t, c.Step("second", s))
	require.NoError(t, c.Manifest(s.Order(), s.Summary()))

	resumed, m, err := Resume(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second"}, m.Order)

	v, ok := resumed.Get("first")
	require.True(t, ok)
	text, _ := v.Field("text")
	assert.Equal(t, "one", text.AsString())
}

func TestLoadManifestMissingFileErrors(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "empty")
	c, err := New(dir)
	require.NoError(t, err)
	_, err = c.LoadManifest()
	assert.Error(t, err)
}
