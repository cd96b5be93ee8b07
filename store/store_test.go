package store

import (
	"encoding/json"
	"testing"

	"github.com/marlowe-ops/flowcraft/value"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPutWriteOnce(t *testing.T) {
	s := New()
	require.NoError(t, s.Put("A", "hello"))
	err := s.Put("A", "again")
	assert.ErrorIs(t, err, ErrAlreadyWritten)
}

func TestNormalizeBareString(t *testing.T) {
	s := New()
	require.NoError(t, s.Put("A", "hi"))
	v, ok := s.Get("A")
	require.True(t, ok)
	text, _ := v.Field("text")
	assert.Equal(t, "hi", text.AsString())
	succ, _ := v.Field("success")
	assert.True(t, succ.AsBool())
}

func TestExtractMissingVsPresent(t *testing.T) {
	s := New()
	m := value.NewMap()
	m.Set("nested", value.NewMap())
	require.NoError(t, s.Put("A", m.ToInterface()))

	_, ok := s.Extract("A", "nope")
	assert.False(t, ok)

	_, ok = s.Extract("A", "nested")
	assert.True(t, ok)

	_, ok = s.Extract("missing-step", "x")
	assert.False(t, ok)
}

func TestTransformForPromptPrefersTextThenContent(t *testing.T) {
	s := New()
	require.NoError(t, s.Put("A", map[string]interface{}{"text": "T"}))
	require.NoError(t, s.Put("B", map[string]interface{}{"content": "C"}))
	require.NoError(t, s.Put("C", map[string]interface{}{"foo": "bar"}))

	out, _ := s.TransformForPrompt("A", TransformOptions{})
	assert.Equal(t, "T", out)
	out, _ = s.TransformForPrompt("B", TransformOptions{})
	assert.Equal(t, "C", out)
	out, _ = s.TransformForPrompt("C", TransformOptions{})
	assert.Contains(t, out, "foo")
}

func TestSummary(t *testing.T) {
	s := New()
	require.NoError(t, s.Put("A", map[string]interface{}{"success": true, "cost": 0.5}))
	require.NoError(t, s.Put("B", map[string]interface{}{"success": false, "cost": 0.1}))
	sum := s.Summary()
	assert.Equal(t, 2, sum.Total)
	assert.Equal(t, 1, sum.Successful)
	assert.Equal(t, 1, sum.Failed)
	assert.InDelta(t, 0.6, sum.TotalCost, 1e-9)
}

func TestRoundTripSerialize(t *testing.T) {
	s := New()
	require.NoError(t, s.Put("A", "x"))
	require.NoError(t, s.Put("B", map[string]interface{}{"n": 3}))

	b, err := json.Marshal(s)
	require.NoError(t, err)

	back := New()
	require.NoError(t, json.Unmarshal(b, back))
	assert.Equal(t, s.Order(), back.Order())
	va, _ := s.Get("B")
	vb, _ := back.Get("B")
	assert.True(t, value.Equal(va, vb))
}
