// Control-flow step handlers: for_loop, while_loop, nested_pipeline.
//
// for_loop/while_loop are grounded on the teacher's
// utils/processor/loop_orchestrator.go (iterate a data source or
// condition, run a sub-step list, track per-iteration history) and
// loop_state.go's LoopState (iteration/history bookkeeping, adapted
// here into each loop's result payload rather than a resumable
// on-disk state file — checkpointing is handled at the Executor level
// instead). nested_pipeline is grounded on ProcessStepConfig in
// dsl.go, generalized with the Safety Manager's depth/circular checks
// from spec.md §4.9.
package engine

import (
	"context"
	"fmt"
	"os"

	"github.com/marlowe-ops/flowcraft/condition"
	"github.com/marlowe-ops/flowcraft/safety"
	"github.com/marlowe-ops/flowcraft/store"
	"github.com/marlowe-ops/flowcraft/tmpl"
	"github.com/marlowe-ops/flowcraft/value"
	"github.com/marlowe-ops/flowcraft/workflow"
	"gopkg.in/yaml.v3"
)

type forLoopConfig struct {
	Iterator   string    `yaml:"iterator"`
	DataSource string    `yaml:"data_source"`
	Steps      yaml.Node `yaml:"steps"`
}

// runLoopBody executes bodySteps against a fresh, parent-seeded
// Result Store — so previous_response inside the loop body can still
// resolve steps that ran before the loop, while writes made by one
// iteration never collide with (or leak into) another — and returns
// only the entries the body itself wrote.
func runLoopBody(ctx context.Context, ec *Context, bodySteps []workflow.Step, loop *tmpl.LoopFrame) (map[string]value.Value, error) {
	bodyStore := store.New()
	for _, name := range ec.Store.Order() {
		v, _ := ec.Store.Get(name)
		_ = bodyStore.Put(name, v.ToInterface())
	}

	child := ec.withLoop(loop)
	child.Store = bodyStore

	if err := Run(ctx, child, bodySteps); err != nil {
		return nil, err
	}

	out := map[string]value.Value{}
	for _, s := range bodySteps {
		if v, ok := bodyStore.Get(s.Name); ok {
			out[s.Name] = v
		}
	}
	return out, nil
}

func resultsMapValue(results map[string]value.Value) value.Value {
	v := value.NewMap()
	for k, val := range results {
		v.Set(k, val)
	}
	return v
}

func dispatchForLoop(ctx context.Context, ec *Context, step workflow.Step) (value.Value, error) {
	var cfg forLoopConfig
	if err := step.Raw.Decode(&cfg); err != nil {
		return value.Null(), fmt.Errorf("validation: decode for_loop: %w", err)
	}
	bodySteps, err := workflow.ParseSteps(cfg.Steps)
	if err != nil {
		return value.Null(), fmt.Errorf("validation: for_loop steps: %w", err)
	}

	rendered := tmpl.Resolve(cfg.DataSource, ec.tmplContext())
	data, err := value.ParseJSONOrString(rendered)
	if err != nil {
		return value.Null(), fmt.Errorf("template: for_loop data_source: %w", err)
	}
	items := data.AsList()

	iterations := make([]value.Value, len(items))
	allSucceeded := true
	for i, item := range items {
		loop := &tmpl.LoopFrame{IteratorName: cfg.Iterator, Item: item, Index: i, Total: len(items)}

		rec := value.NewMap()
		rec.Set("index", value.Number(float64(i)))

		results, berr := runLoopBody(ctx, ec, bodySteps, loop)
		if berr != nil {
			allSucceeded = false
			rec.Set("success", value.Bool(false))
			rec.Set("error", value.String(berr.Error()))
		} else {
			rec.Set("success", value.Bool(true))
			rec.Set("results", resultsMapValue(results))
		}
		iterations[i] = rec
	}

	v := value.NewMap()
	v.Set("success", value.Bool(allSucceeded))
	v.Set("iterations", value.List(iterations...))
	return v, nil
}

type whileLoopConfig struct {
	Condition     string    `yaml:"condition"`
	Steps         yaml.Node `yaml:"steps"`
	MaxIterations int       `yaml:"max_iterations,omitempty"`
}

const whileLoopHardCap = 1000

func dispatchWhileLoop(ctx context.Context, ec *Context, step workflow.Step) (value.Value, error) {
	var cfg whileLoopConfig
	if err := step.Raw.Decode(&cfg); err != nil {
		return value.Null(), fmt.Errorf("validation: decode while_loop: %w", err)
	}
	bodySteps, err := workflow.ParseSteps(cfg.Steps)
	if err != nil {
		return value.Null(), fmt.Errorf("validation: while_loop steps: %w", err)
	}

	maxIter := cfg.MaxIterations
	if maxIter <= 0 {
		maxIter = 100
	}
	if maxIter > whileLoopHardCap {
		maxIter = whileLoopHardCap
	}

	iterations := 0
	for iterations < maxIter {
		ok, cerr := condition.Evaluate(cfg.Condition, ec.Store)
		if cerr != nil {
			return value.Null(), fmt.Errorf("condition: while_loop: %w", cerr)
		}
		if !ok {
			break
		}

		loop := &tmpl.LoopFrame{Index: iterations, Total: -1}
		child := ec.withLoop(loop)

		for _, bodyStep := range bodySteps {
			shouldRun, cerr := condition.Evaluate(bodyStep.Condition, child.Store)
			if cerr != nil {
				return value.Null(), fmt.Errorf("condition: while_loop iteration %d: %w", iterations, cerr)
			}
			if !shouldRun {
				continue
			}
			result, derr := Dispatch(ctx, child, bodyStep)
			if derr != nil {
				return value.Null(), fmt.Errorf("while_loop iteration %d, step %q: %w", iterations, bodyStep.Name, derr)
			}
			ec.Store.PutOrReplace(bodyStep.Name, result.ToInterface())
		}
		iterations++
	}

	v := value.NewMap()
	if iterations >= maxIter {
		v.Set("success", value.Bool(false))
		v.Set("iterations", value.Number(float64(iterations)))
		v.Set("max_iterations_reached", value.Bool(true))
		return v, nil
	}
	v.Set("success", value.Bool(true))
	v.Set("iterations", value.Number(float64(iterations)))
	return v, nil
}

type nestedPipelineConfig struct {
	PipelineFile string            `yaml:"pipeline_file,omitempty"`
	Pipeline     yaml.Node         `yaml:"pipeline,omitempty"`
	Inputs       map[string]string `yaml:"inputs,omitempty"`
	Outputs      []string          `yaml:"outputs,omitempty"`
}

// dispatchNestedPipeline resolves `inputs` against the parent
// context, loads the child workflow, runs the four Safety Manager
// pre-checks (circular/depth/step-count/resource) via safety.Enter,
// executes it with the same Executor, and copies the requested
// `outputs` subset back into the parent Result Store under the step
// name.
func dispatchNestedPipeline(ctx context.Context, ec *Context, step workflow.Step) (value.Value, error) {
	var cfg nestedPipelineConfig
	if err := step.Raw.Decode(&cfg); err != nil {
		return value.Null(), fmt.Errorf("validation: decode nested_pipeline: %w", err)
	}

	var childWF *workflow.Workflow
	switch {
	case cfg.PipelineFile != "":
		path := tmpl.Resolve(cfg.PipelineFile, ec.tmplContext())
		data, rerr := os.ReadFile(path)
		if rerr != nil {
			return value.Null(), fmt.Errorf("file: nested_pipeline read %s: %w", path, rerr)
		}
		w, perr := workflow.Parse(data)
		if perr != nil {
			return value.Null(), fmt.Errorf("validation: nested_pipeline parse: %w", perr)
		}
		childWF = w
	case cfg.Pipeline.Kind != 0:
		var doc struct {
			Workflow struct {
				Name  string    `yaml:"name"`
				Steps yaml.Node `yaml:"steps"`
			} `yaml:"workflow"`
		}
		if derr := cfg.Pipeline.Decode(&doc); derr != nil {
			return value.Null(), fmt.Errorf("validation: nested_pipeline inline decode: %w", derr)
		}
		steps, serr := workflow.ParseSteps(doc.Workflow.Steps)
		if serr != nil {
			return value.Null(), fmt.Errorf("validation: nested_pipeline inline steps: %w", serr)
		}
		childWF = &workflow.Workflow{Name: doc.Workflow.Name, Steps: steps}
	default:
		return value.Null(), fmt.Errorf("validation: nested_pipeline requires pipeline_file or pipeline")
	}
	if err := workflow.Validate(childWF); err != nil {
		return value.Null(), fmt.Errorf("validation: nested_pipeline: %w", err)
	}
	childWF.ApplyDefaults()

	inputs := map[string]value.Value{}
	for k, raw := range cfg.Inputs {
		rendered := tmpl.Resolve(raw, ec.tmplContext())
		parsed, perr := value.ParseJSONOrString(rendered)
		if perr != nil {
			parsed = value.String(rendered)
		}
		inputs[k] = parsed
	}

	pipelineID := childWF.Name
	childSafety, serr := safety.Enter(ec.SafetyRegistry, ec.Safety, pipelineID, ec.Probe)
	if serr != nil {
		return value.Null(), fmt.Errorf("recursion: %w", serr)
	}
	defer ec.SafetyRegistry.Unregister(childSafety)

	childWorkspace := ec.WorkspaceDir
	if childWF.WorkspaceDir != "" {
		childWorkspace = childWF.WorkspaceDir
	}

	child := &Context{
		Store:                 store.New(),
		Vars:                  ec.Vars,
		WorkspaceDir:          childWorkspace,
		OutputDir:             ec.OutputDir,
		Providers:             ec.Providers,
		Sessions:              ec.Sessions,
		Safety:                childSafety,
		SafetyRegistry:        ec.SafetyRegistry,
		Probe:                 ec.Probe,
		EnvMode:               ec.EnvMode,
		WorkflowDefaultPreset: childWF.Defaults.ClaudePreset,
		Functions:             childWF.Functions,
		Inputs:                inputs,
		Checkpoint:            ec.Checkpoint,
	}

	if err := Run(ctx, child, childWF.Steps); err != nil {
		return value.Null(), err
	}

	v := value.NewMap()
	v.Set("success", value.Bool(true))
	for _, name := range cfg.Outputs {
		if out, ok := child.Store.Get(name); ok {
			v.Set(name, out)
		}
	}
	return v, nil
}
