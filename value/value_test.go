package value

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractMissingVsNull(t *testing.T) {
	m := NewMap()
	m.Set("present_null", Null())
	_, ok := Extract(m, "missing")
	assert.False(t, ok, "missing field must report not-found")

	got, ok := Extract(m, "present_null")
	assert.True(t, ok, "present-but-null field must report found")
	assert.True(t, got.IsNull())
}

func TestExtractDottedAndIndex(t *testing.T) {
	inner := NewMap()
	inner.Set("text", String("hello"))
	list := List(inner, String("skip"))
	root := NewMap()
	root.Set("items", list)

	got, ok := Extract(root, "items.0.text")
	require.True(t, ok)
	assert.Equal(t, "hello", got.AsString())

	_, ok = Extract(root, "items.5.text")
	assert.False(t, ok)
}

func TestRoundTripJSON(t *testing.T) {
	m := NewMap()
	m.Set("success", Bool(true))
	m.Set("cost", Number(0.02))
	m.Set("tags", List(String("a"), String("b")))

	b, err := json.Marshal(m)
	require.NoError(t, err)

	var back Value
	require.NoError(t, json.Unmarshal(b, &back))
	assert.True(t, Equal(m, back))
}

func TestAsStringScalarVsNonScalar(t *testing.T) {
	assert.Equal(t, "42", Number(42).AsString())
	assert.Equal(t, "true", Bool(true).AsString())
	m := NewMap()
	m.Set("a", Number(1))
	assert.Contains(t, m.AsString(), "\"a\":1")
}

func TestKeysPreserveInsertionOrder(t *testing.T) {
	m := NewMap()
	m.Set("z", Number(1))
	m.Set("a", Number(2))
	m.Set("m", Number(3))
	assert.Equal(t, []string{"z", "a", "m"}, m.Keys())
}
