package engine

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/marlowe-ops/flowcraft/options"
	"github.com/marlowe-ops/flowcraft/providers"
	"github.com/marlowe-ops/flowcraft/safety"
	"github.com/marlowe-ops/flowcraft/session"
	"github.com/marlowe-ops/flowcraft/store"
	"github.com/marlowe-ops/flowcraft/variables"
	"github.com/marlowe-ops/flowcraft/workflow"
)

// fakeAssistant is a scriptable providers.Assistant for exercising the
// claude_* dispatch handlers without a real Claude Agent SDK client.
type fakeAssistant struct {
	calls int32
	fn    func(ctx context.Context, prompt string, opts providers.Options) (providers.Response, error)
}

func (f *fakeAssistant) Query(ctx context.Context, prompt string, opts providers.Options) (providers.Response, error) {
	atomic.AddInt32(&f.calls, 1)
	return f.fn(ctx, prompt, opts)
}

// fakeStructured is a scriptable providers.StructuredLLM.
type fakeStructured struct {
	fn func(ctx context.Context, prompt string, opts providers.StructuredOptions) (providers.StructuredResponse, error)
}

func (f *fakeStructured) Query(ctx context.Context, prompt string, opts providers.StructuredOptions) (providers.StructuredResponse, error) {
	return f.fn(ctx, prompt, opts)
}

func steps(t *testing.T, doc string) []workflow.Step {
	t.Helper()
	w, err := workflow.Parse([]byte(doc))
	require.NoError(t, err)
	return w.Steps
}

func newTestContext() *Context {
	reg := providers.NewRegistry()
	return &Context{
		Store:          store.New(),
		Vars:           variables.New(),
		WorkspaceDir:   "/tmp",
		Providers:      reg,
		Sessions:       session.NewManager(session.NewMemoryStore()),
		SafetyRegistry: safety.NewRegistry(),
		EnvMode:        options.EnvDevelopment,
	}
}

func TestStaticChainGeminiThenClaude(t *testing.T) {
	doc := `
workflow:
  name: chain
  steps:
    - A:
        type: gemini
        prompt:
          - kind: static
            content: "hello gemini"
    - B:
        type: claude
        prompt:
          - kind: previous_response
            step: A
`
	ws := steps(t, doc)
	ec := newTestContext()
	ec.Providers.RegisterStructuredLLM("gemini", &fakeStructured{
		fn: func(ctx context.Context, prompt string, opts providers.StructuredOptions) (providers.StructuredResponse, error) {
			return providers.StructuredResponse{Success: true, Text: "gemini says hi"}, nil
		},
	})
	var seenPrompt string
	ec.Providers.RegisterAssistant("claude", &fakeAssistant{
		fn: func(ctx context.Context, prompt string, opts providers.Options) (providers.Response, error) {
			seenPrompt = prompt
			return providers.Response{Success: true, Text: "claude reply"}, nil
		},
	})

	require.NoError(t, Run(context.Background(), ec, ws))

	a, ok := ec.Store.Get("A")
	require.True(t, ok)
	text, _ := a.Field("text")
	assert.Equal(t, "gemini says hi", text.AsString())

	b, ok := ec.Store.Get("B")
	require.True(t, ok)
	btext, _ := b.Field("text")
	assert.Equal(t, "claude reply", btext.AsString())
	assert.Contains(t, seenPrompt, "gemini says hi")
}

func TestDataTransformFilterThenAggregate(t *testing.T) {
	doc := `
workflow:
  name: filter-aggregate
  steps:
    - source:
        type: test_echo
        value:
          - {s: a, n: 1}
          - {s: b, n: 2}
          - {s: a, n: 3}
    - filtered:
        type: data_transform
        input_source: "source:value"
        operations:
          - op: filter
            field: s
            condition: "=="
            value: a
          - op: aggregate
            field: n
            aggregate: sum
`
	ws := steps(t, doc)
	ec := newTestContext()
	require.NoError(t, Run(context.Background(), ec, ws))

	out, ok := ec.Store.Get("filtered")
	require.True(t, ok)
	n, ok := out.AsNumber()
	require.True(t, ok)
	assert.Equal(t, 4.0, n)
}

func TestWhileLoopStopsAtMaxIterations(t *testing.T) {
	step := workflow.Step{Name: "loop", Type: workflow.StepWhileLoop}

	var node yaml.Node
	require.NoError(t, yaml.Unmarshal([]byte(`
condition: "true"
max_iterations: 5
steps:
  - tick:
      type: test_echo
      value: "x"
`), &node))
	step.Raw = *node.Content[0]

	ec := newTestContext()
	result, err := dispatchWhileLoop(context.Background(), ec, step)
	require.NoError(t, err)

	success, _ := result.Field("success")
	assert.False(t, success.AsBool())
	iters, _ := result.Field("iterations")
	n, _ := iters.AsNumber()
	assert.Equal(t, 5.0, n)
	reached, _ := result.Field("max_iterations_reached")
	assert.True(t, reached.AsBool())
}

func TestClaudeBatchTimeoutPerTask(t *testing.T) {
	var node yaml.Node
	require.NoError(t, yaml.Unmarshal([]byte(`
max_parallel: 2
timeout_per_task: 50ms
tasks:
  - id: t1
    prompt: [{kind: static, content: "1"}]
  - id: t2
    prompt: [{kind: static, content: "2"}]
  - id: t3
    prompt: [{kind: static, content: "3"}]
`), &node))
	step := workflow.Step{Name: "batch", Type: workflow.StepClaudeBatch, Raw: *node.Content[0]}

	ec := newTestContext()
	ec.Providers.RegisterAssistant("claude", &fakeAssistant{
		fn: func(ctx context.Context, prompt string, opts providers.Options) (providers.Response, error) {
			select {
			case <-time.After(time.Second):
				return providers.Response{Success: true, Text: "too slow"}, nil
			case <-ctx.Done():
				return providers.Response{}, ctx.Err()
			}
		},
	})

	result, err := Dispatch(context.Background(), ec, step)
	require.NoError(t, err)

	success, _ := result.Field("success")
	assert.True(t, success.AsBool())
	tasks, _ := result.Field("tasks")
	recs := tasks.AsList()
	require.Len(t, recs, 3)
	for _, rec := range recs {
		status, _ := rec.Field("status")
		assert.Equal(t, "timeout", status.AsString())
	}
}

func TestClaudeRobustRetriesThenFallsBack(t *testing.T) {
	var node yaml.Node
	require.NoError(t, yaml.Unmarshal([]byte(`
max_retries: 2
backoff: fixed
base_delay_ms: 5
retry_conditions: ["timeout"]
fallback_action: graceful_degradation
`), &node))
	step := workflow.Step{Name: "robust", Type: workflow.StepClaudeRobust, Raw: *node.Content[0]}

	ec := newTestContext()
	ec.Providers.RegisterAssistant("claude", &fakeAssistant{
		fn: func(ctx context.Context, prompt string, opts providers.Options) (providers.Response, error) {
			return providers.Response{}, fmt.Errorf("request timeout")
		},
	})

	result, err := Dispatch(context.Background(), ec, step)
	require.NoError(t, err)

	success, _ := result.Field("success")
	assert.True(t, success.AsBool())
	degraded, _ := result.Field("degraded_mode")
	assert.True(t, degraded.AsBool())
	fallbackType, _ := result.Field("fallback_type")
	assert.Equal(t, "graceful_degradation", fallbackType.AsString())

	meta, ok := result.Field("robustness_metadata")
	require.True(t, ok)
	history, _ := meta.Field("error_history")
	assert.Len(t, history.AsList(), 3)
}

func TestForLoopIsolatesIterationsAndAggregates(t *testing.T) {
	doc := `
workflow:
  name: for-loop
  steps:
    - seed:
        type: test_echo
        value: "base"
    - loop:
        type: for_loop
        iterator: item
        data_source: "[1, 2, 3]"
        steps:
          - doubled:
              type: test_echo
              value: "x"
`
	ws := steps(t, doc)
	ec := newTestContext()
	require.NoError(t, Run(context.Background(), ec, ws))

	result, ok := ec.Store.Get("loop")
	require.True(t, ok)
	success, _ := result.Field("success")
	assert.True(t, success.AsBool())

	iters, _ := result.Field("iterations")
	recs := iters.AsList()
	require.Len(t, recs, 3)
	for i, rec := range recs {
		idx, _ := rec.Field("index")
		n, _ := idx.AsNumber()
		assert.Equal(t, float64(i), n)
	}

	assert.False(t, ec.Store.Has("doubled"))
}

func TestNestedPipelineDetectsCircularDependency(t *testing.T) {
	var node yaml.Node
	require.NoError(t, yaml.Unmarshal([]byte(`
pipeline:
  workflow:
    name: self
    steps:
      - again:
          type: nested_pipeline
          pipeline:
            workflow:
              name: self
              steps: []
`), &node))

	step := workflow.Step{Name: "recurse", Type: workflow.StepNestedPipeline, Raw: *node.Content[0]}

	ec := newTestContext()
	root, err := safety.Enter(ec.SafetyRegistry, nil, "self", safety.DefaultProbe)
	require.NoError(t, err)
	ec.Safety = root
	ec.Probe = safety.DefaultProbe

	_, err = Dispatch(context.Background(), ec, step)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "circular")
}

func TestNestedPipelineDepthExceeded(t *testing.T) {
	ec := newTestContext()
	ec.Probe = safety.DefaultProbe

	limits := safety.DefaultLimits
	limits.MaxDepth = 2
	parent := safety.Root("root", limits)
	ec.SafetyRegistry.Register(parent)
	ec.Safety = parent

	// Manually deepen the chain past MaxDepth so the next nested_pipeline
	// step is rejected for depth, not for circularity.
	cur := parent
	for i := 0; i < 3; i++ {
		next, err := safety.Enter(ec.SafetyRegistry, cur, fmt.Sprintf("level-%d", i), safety.DefaultProbe)
		if err != nil {
			var node yaml.Node
			require.NoError(t, yaml.Unmarshal([]byte(`
pipeline:
  workflow:
    name: one-more
    steps: []
`), &node))
			step := workflow.Step{Name: "nested", Type: workflow.StepNestedPipeline, Raw: *node.Content[0]}
			ec.Safety = cur
			_, derr := Dispatch(context.Background(), ec, step)
			require.Error(t, derr)
			assert.Contains(t, derr.Error(), "depth")
			return
		}
		cur = next
	}
	t.Fatal("expected depth limit to be hit within 3 levels of MaxDepth=2")
}
