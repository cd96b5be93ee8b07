package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
workflow:
  name: demo
  description: a demo workflow
  defaults:
    claude_preset: production
  steps:
    - A:
        type: gemini
        prompt:
          - kind: static
            content: "echo X"
    - B:
        type: claude
        prompt:
          - kind: previous_response
            step: A
`

func TestParsePreservesStepNameAndOrder(t *testing.T) {
	w, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)
	require.Len(t, w.Steps, 2)
	assert.Equal(t, "A", w.Steps[0].Name)
	assert.Equal(t, "B", w.Steps[1].Name)
	assert.Equal(t, StepGemini, w.Steps[0].Type)
}

func TestApplyDefaultsSeedsClaudePreset(t *testing.T) {
	w, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)
	w.ApplyDefaults()
	assert.Equal(t, "production", w.Steps[1].Preset, "claude step inherits workflow default preset")
	assert.Equal(t, "", w.Steps[0].Preset, "non-claude step is untouched")
}

func TestValidatePassesOnWellFormedWorkflow(t *testing.T) {
	w, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)
	assert.NoError(t, Validate(w))
}

func TestValidateRejectsDuplicateStepNames(t *testing.T) {
	w := &Workflow{Name: "demo", Steps: []Step{
		{Name: "A", Type: StepTestEcho},
		{Name: "A", Type: StepTestEcho},
	}}
	err := Validate(w)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate step name")
}

func TestValidateRejectsUnknownStepType(t *testing.T) {
	w := &Workflow{Name: "demo", Steps: []Step{{Name: "A", Type: "bogus"}}}
	err := Validate(w)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown type")
}

func TestValidateRejectsForwardReferenceInPreviousResponse(t *testing.T) {
	w := &Workflow{Name: "demo", Steps: []Step{
		{Name: "A", Type: StepTestEcho, Prompt: []PromptPart{{Kind: "previous_response", Step: "B"}}},
		{Name: "B", Type: StepTestEcho},
	}}
	err := Validate(w)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "has not run earlier")
}

func TestValidateRejectsUnknownFunctionReference(t *testing.T) {
	w := &Workflow{Name: "demo", Steps: []Step{
		{Name: "A", Type: StepGemini, Functions: []string{"nonexistent"}},
	}}
	err := Validate(w)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not present in the function table")
}
