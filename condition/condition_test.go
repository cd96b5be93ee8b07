package condition

import (
	"testing"

	"github.com/marlowe-ops/flowcraft/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmptyConditionIsTrue(t *testing.T) {
	ok, err := Evaluate("", store.New())
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSuccessAndFieldComparisons(t *testing.T) {
	s := store.New()
	require.NoError(t, s.Put("A", map[string]interface{}{"success": true, "score": 7}))

	ok, err := Evaluate("A.success && A.score > 5", s)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = Evaluate("A.score >= 10", s)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBooleanOperators(t *testing.T) {
	s := store.New()
	require.NoError(t, s.Put("A", map[string]interface{}{"success": false}))
	ok, err := Evaluate("!A.success || true", s)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMissingStepIsFalseNotError(t *testing.T) {
	s := store.New()
	ok, err := Evaluate("skipped_step.success", s)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStringAndNumericLiterals(t *testing.T) {
	s := store.New()
	require.NoError(t, s.Put("A", map[string]interface{}{"status": "ok"}))
	ok, err := Evaluate(`A.status == "ok"`, s)
	require.NoError(t, err)
	assert.True(t, ok)
}
