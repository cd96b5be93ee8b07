// Package engine implements the Step Dispatcher, the Executor driver,
// and the control-flow step family in one package — claude.go,
// utility.go, and controlflow.go below — so the three layers that
// mutually reference each other (Dispatch calls into control-flow
// handlers, control-flow handlers recurse back into the Executor's
// step loop) don't need an import-cycle-breaking split.
//
// Grounded on the teacher's utils/processor/dsl.go (*DSLConfig).Process,
// which walks a step list, dispatches per step.Type, and records
// results into p.results/p.lastOutput — generalized here into the
// Result Store / Safety Manager / Session Manager / Option Builder
// wiring spec.md §4.11 requires.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/marlowe-ops/flowcraft/condition"
	"github.com/marlowe-ops/flowcraft/fileops"
	"github.com/marlowe-ops/flowcraft/options"
	"github.com/marlowe-ops/flowcraft/providers"
	"github.com/marlowe-ops/flowcraft/safety"
	"github.com/marlowe-ops/flowcraft/session"
	"github.com/marlowe-ops/flowcraft/store"
	"github.com/marlowe-ops/flowcraft/tmpl"
	"github.com/marlowe-ops/flowcraft/value"
	"github.com/marlowe-ops/flowcraft/variables"
	"github.com/marlowe-ops/flowcraft/workflow"
)

// Checkpointer persists Executor progress. Implemented by package
// checkpoint; kept as an interface here so engine has no import-cycle
// risk and runs checkpoint-free (Checkpoint == nil) in tests.
type Checkpointer interface {
	Step(stepName string, s *store.Store) error
	Manifest(order []string, summary store.Summary) error
}

// Context bundles everything a dispatch needs: the shared Result
// Store, variable state, collaborator registries, and the current
// position in the safety/loop/nesting trees. One Context is built per
// pipeline (root or nested); for_loop/while_loop bodies run against a
// shallow copy with a fresh Loop frame (see controlflow.go).
type Context struct {
	Store *store.Store
	Vars  *variables.State

	WorkspaceDir string
	OutputDir    string

	Providers *providers.Registry
	Sessions  *session.Manager

	Safety         *safety.Context
	SafetyRegistry *safety.Registry
	Probe          safety.ResourceProbe

	EnvMode               options.EnvironmentMode
	WorkflowDefaultPreset string
	Functions             []workflow.Function

	Inputs map[string]value.Value
	Loop   *tmpl.LoopFrame

	Checkpoint Checkpointer
}

// tmplContext builds the Template Engine context for the current
// position (store + loop frame + nested-pipeline inputs + workspace).
func (ec *Context) tmplContext() tmpl.Context {
	return tmpl.Context{Store: ec.Store, Loop: ec.Loop, Inputs: ec.Inputs, WorkspaceDir: ec.WorkspaceDir}
}

// withLoop returns a shallow copy of ec with Loop set and a freshly
// cloned loop-scoped Vars — used by for_loop/while_loop iterations so
// sibling iterations don't see each other's loop-scope writes.
func (ec *Context) withLoop(loop *tmpl.LoopFrame) *Context {
	clone := *ec
	clone.Loop = loop
	clone.Vars = ec.Vars.CloneForLoopIteration()
	return &clone
}

// Run is the top-level Executor loop (spec.md §4.11 item 4): walk
// steps in declared order, evaluate each step's condition, dispatch,
// normalize into the Result Store, validate output_schema, write
// output_to_file, and checkpoint.
func Run(ctx context.Context, ec *Context, steps []workflow.Step) error {
	for _, s := range steps {
		ok, err := condition.Evaluate(s.Condition, ec.Store)
		if err != nil {
			return fmt.Errorf("step %q failed: condition: %w", s.Name, err)
		}
		if !ok {
			continue // skipped steps have no Result Store entry
		}

		result, err := Dispatch(ctx, ec, s)
		if err != nil {
			return fmt.Errorf("step %q failed: %w", s.Name, err)
		}

		if err := ec.Store.Put(s.Name, result.ToInterface()); err != nil {
			return fmt.Errorf("step %q failed: %w", s.Name, err)
		}
		if ec.Safety != nil {
			ec.Safety.StepCount++
		}

		if len(s.OutputSchema) > 0 {
			if verr := validateSchema(result, s.OutputSchema); verr != nil {
				return fmt.Errorf("step %q failed: schema: %w", s.Name, verr)
			}
		}

		if s.OutputToFile != "" {
			if werr := writeOutputToFile(ec, s.OutputToFile, result); werr != nil {
				return fmt.Errorf("step %q failed: file: %w", s.Name, werr)
			}
		}

		if ec.Checkpoint != nil {
			if cerr := ec.Checkpoint.Step(s.Name, ec.Store); cerr != nil {
				return fmt.Errorf("step %q failed: %w", s.Name, cerr)
			}
		}
	}

	if ec.Checkpoint != nil {
		if cerr := ec.Checkpoint.Manifest(ec.Store.Order(), ec.Store.Summary()); cerr != nil {
			return fmt.Errorf("checkpoint manifest: %w", cerr)
		}
	}
	return nil
}

// Dispatch executes a single step per its type and returns its raw
// (pre-Normalize) result value.
func Dispatch(ctx context.Context, ec *Context, step workflow.Step) (value.Value, error) {
	switch step.Type {
	case workflow.StepClaude:
		return dispatchClaude(ctx, ec, step)
	case workflow.StepClaudeSmart:
		return dispatchClaudeSmart(ctx, ec, step)
	case workflow.StepClaudeSession:
		return dispatchClaudeSession(ctx, ec, step)
	case workflow.StepClaudeExtract:
		return dispatchClaudeExtract(ctx, ec, step)
	case workflow.StepClaudeBatch:
		return dispatchClaudeBatch(ctx, ec, step)
	case workflow.StepClaudeRobust:
		return dispatchClaudeRobust(ctx, ec, step)
	case workflow.StepParallelClaude:
		return dispatchParallelClaude(ctx, ec, step)
	case workflow.StepGemini, workflow.StepGeminiInstruct:
		return dispatchGemini(ctx, ec, step)
	case workflow.StepSetVariable:
		return dispatchSetVariable(ec, step)
	case workflow.StepDataTransform:
		return dispatchDataTransform(ec, step)
	case workflow.StepFileOps:
		return dispatchFileOps(ec, step)
	case workflow.StepCodebaseQuery:
		return dispatchCodebaseQuery(ec, step)
	case workflow.StepForLoop:
		return dispatchForLoop(ctx, ec, step)
	case workflow.StepWhileLoop:
		return dispatchWhileLoop(ctx, ec, step)
	case workflow.StepNestedPipeline:
		return dispatchNestedPipeline(ctx, ec, step)
	case workflow.StepTestEcho:
		return dispatchTestEcho(step)
	default:
		return value.Null(), fmt.Errorf("unknown_step_type: %q", step.Type)
	}
}

// writeOutputToFile resolves output_to_file beneath the workspace
// directory and writes result: plain text for a scalar string, pretty
// JSON otherwise.
func writeOutputToFile(ec *Context, rel string, result value.Value) error {
	path := fileops.Resolve(ec.WorkspaceDir, rel)
	if err := os.MkdirAll(dirOf(path), 0755); err != nil {
		return err
	}
	if result.Kind() == value.KindString {
		return os.WriteFile(path, []byte(result.AsString()), 0644)
	}
	return os.WriteFile(path, []byte(result.PrettyJSON()), 0644)
}

func dirOf(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[:i]
		}
	}
	return "."
}

// validateSchema checks result against a minimal JSON-schema subset:
// "type" (object/array/string/number/boolean), "properties", and
// "required". No pack example carries a JSON-schema library, so this
// is hand-rolled rather than adopted (see DESIGN.md).
func validateSchema(v value.Value, schema map[string]interface{}) error {
	return validateSchemaValue(v, schema, "")
}

func validateSchemaValue(v value.Value, schema map[string]interface{}, path string) error {
	if typ, ok := schema["type"].(string); ok {
		if !kindMatchesSchemaType(v.Kind(), typ) {
			return fmt.Errorf("%s: expected type %q, got %s", label(path), typ, v.Kind())
		}
	}

	if required, ok := schema["required"].([]interface{}); ok {
		for _, r := range required {
			name, _ := r.(string)
			if _, present := v.Field(name); !present {
				return fmt.Errorf("%s: missing required field %q", label(path), name)
			}
		}
	}

	if props, ok := schema["properties"].(map[string]interface{}); ok {
		for name, sub := range props {
			subSchema, ok := sub.(map[string]interface{})
			if !ok {
				continue
			}
			if fv, present := v.Field(name); present {
				if err := validateSchemaValue(fv, subSchema, joinPath(path, name)); err != nil {
					return err
				}
			}
		}
	}

	if items, ok := schema["items"].(map[string]interface{}); ok {
		for i, item := range v.AsList() {
			if err := validateSchemaValue(item, items, fmt.Sprintf("%s[%d]", path, i)); err != nil {
				return err
			}
		}
	}

	return nil
}

func kindMatchesSchemaType(k value.Kind, typ string) bool {
	switch typ {
	case "object":
		return k == value.KindMap
	case "array":
		return k == value.KindList
	case "string":
		return k == value.KindString
	case "number", "integer":
		return k == value.KindNumber
	case "boolean":
		return k == value.KindBool
	case "null":
		return k == value.KindNull
	default:
		return true
	}
}

func label(path string) string {
	if path == "" {
		return "$"
	}
	return path
}

func joinPath(path, name string) string {
	if path == "" {
		return name
	}
	return path + "." + name
}

// marshalValue is a small helper used by a couple of step handlers
// that need to round-trip a Value through encoding/json (e.g. to
// merge a function call's arguments map into a result map).
func marshalValue(v interface{}) (value.Value, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return value.Null(), err
	}
	var raw interface{}
	if err := json.Unmarshal(b, &raw); err != nil {
		return value.Null(), err
	}
	return value.FromInterface(raw), nil
}
