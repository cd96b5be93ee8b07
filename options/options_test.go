package options

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergeDeepMergesNestedMapsAndOverwritesScalars(t *testing.T) {
	preset := Builtin(Production)
	overrides := Map{
		"timeout_ms": 99999,
		"retry":      Map{"max_retries": 1},
	}
	merged := Merge(preset, overrides)

	assert.Equal(t, 99999, merged["timeout_ms"])
	retry := merged["retry"].(Map)
	assert.Equal(t, 1, retry["max_retries"])
	assert.Equal(t, 1000, retry["base_delay_ms"], "unmentioned nested key survives the merge")
}

func TestMergeDoesNotMutatePreset(t *testing.T) {
	preset := Builtin(Development)
	_ = Merge(preset, Map{"timeout_ms": 1})
	assert.Equal(t, 60000, preset["timeout_ms"], "merge must not mutate the source preset")
}

func TestApplyPresetOptimizationsIdempotent(t *testing.T) {
	base := Builtin(Production)
	once := ApplyPresetOptimizations(Production, base)
	twice := ApplyPresetOptimizations(Production, once)
	assert.Equal(t, once["system_prompt"], twice["system_prompt"])
	assert.Equal(t, []string{"read"}, twice["allowed_tools"])
}

func TestApplyPresetOptimizationsNoOpOutsideProduction(t *testing.T) {
	base := Builtin(Development)
	out := ApplyPresetOptimizations(Development, base)
	assert.Equal(t, base["system_prompt"], out["system_prompt"])
}

func TestResolvePrecedence(t *testing.T) {
	require.Equal(t, Preset("chat"), Resolve("chat", "production", EnvProduction))
	require.Equal(t, Preset("production"), Resolve("", "production", EnvTest))
	require.Equal(t, Test, Resolve("", "", EnvTest))
	require.Equal(t, Development, Resolve("", "", ""))
}
