// Utility step handlers: gemini/gemini_instructor, set_variable,
// data_transform, file_ops, codebase_query, test_echo.
//
// Grounded on utils/models/google.go (structured Gemini call shape)
// for the gemini family, dsl.go's p.variables/p.cliVariables for
// set_variable, and the transform/fileops/codebase packages'
// standalone Run entry points for the remaining three — this file is
// the thin adapter translating a workflow.Step's raw YAML body into
// each package's Config/Query type and its result back into a Value.
package engine

import (
	"context"
	"fmt"

	"github.com/marlowe-ops/flowcraft/codebase"
	"github.com/marlowe-ops/flowcraft/fileops"
	"github.com/marlowe-ops/flowcraft/promptbuilder"
	"github.com/marlowe-ops/flowcraft/providers"
	"github.com/marlowe-ops/flowcraft/tmpl"
	"github.com/marlowe-ops/flowcraft/transform"
	"github.com/marlowe-ops/flowcraft/value"
	"github.com/marlowe-ops/flowcraft/variables"
	"github.com/marlowe-ops/flowcraft/workflow"
)

type geminiConfig struct {
	Model           string  `yaml:"model,omitempty"`
	Temperature     float64 `yaml:"temperature,omitempty"`
	MaxOutputTokens int     `yaml:"max_output_tokens,omitempty"`
}

// dispatchGemini handles both gemini and gemini_instructor: a
// synchronous structured call, with function-calling enabled and the
// first function call's arguments merged into the result when the
// step declares `functions`.
func dispatchGemini(ctx context.Context, ec *Context, step workflow.Step) (value.Value, error) {
	var cfg geminiConfig
	_ = step.Raw.Decode(&cfg)

	prompt, err := promptbuilder.Build(toPromptParts(step.Prompt), ec.Store, ec.tmplContext(), ec.Sessions)
	if err != nil {
		return value.Null(), fmt.Errorf("provider: build prompt: %w", err)
	}

	structured, err := ec.Providers.StructuredLLM("gemini")
	if err != nil {
		return value.Null(), fmt.Errorf("provider: %w", err)
	}

	opts := providers.StructuredOptions{
		Model:           cfg.Model,
		Temperature:     cfg.Temperature,
		MaxOutputTokens: cfg.MaxOutputTokens,
		Tools:           step.Functions,
	}
	if len(step.Functions) > 0 {
		opts.ResponseSchema = buildToolSchema(ec.Functions, step.Functions)
	}

	resp, err := structured.Query(ctx, prompt, opts)
	if err != nil {
		return value.Null(), fmt.Errorf("provider: %w", err)
	}

	v := value.NewMap()
	v.Set("success", value.Bool(resp.Success))
	v.Set("text", value.String(resp.Text))
	v.Set("cost", value.Number(resp.Cost))
	if len(resp.Structured) > 0 {
		sv, _ := marshalValue(resp.Structured)
		v.Set("structured", sv)
	}
	if len(resp.FunctionCalls) > 0 {
		call := resp.FunctionCalls[0]
		args, _ := marshalValue(call.Arguments)
		for _, k := range args.Keys() {
			fv, _ := args.Field(k)
			v.Set(k, fv)
		}
		v.Set("function_called", value.String(call.Name))
	}
	return v, nil
}

// buildToolSchema assembles a JSON-schema-shaped tool list from the
// workflow function table, restricted to the names a step declares.
func buildToolSchema(functions []workflow.Function, names []string) map[string]interface{} {
	wanted := map[string]bool{}
	for _, n := range names {
		wanted[n] = true
	}
	var tools []interface{}
	for _, fn := range functions {
		if !wanted[fn.Name] {
			continue
		}
		tools = append(tools, map[string]interface{}{
			"name":        fn.Name,
			"description": fn.Description,
			"parameters":  fn.Parameters,
		})
	}
	return map[string]interface{}{"tools": tools}
}

type setVariableConfig struct {
	Variables map[string]string `yaml:"variables"`
	Scope     string             `yaml:"scope,omitempty"`
}

func dispatchSetVariable(ec *Context, step workflow.Step) (value.Value, error) {
	var cfg setVariableConfig
	_ = step.Raw.Decode(&cfg)

	scope := variables.Scope(cfg.Scope)
	if scope == "" {
		scope = variables.ScopeGlobal
	}

	var keys []string
	for k, raw := range cfg.Variables {
		rendered := tmpl.Resolve(raw, ec.tmplContext())
		ec.Vars.Set(scope, k, rendered)
		keys = append(keys, k)
	}

	v := value.NewMap()
	v.Set("success", value.Bool(true))
	v.Set("variables_set", stringListValue(keys))
	v.Set("scope", value.String(string(scope)))
	return v, nil
}

func dispatchDataTransform(ec *Context, step workflow.Step) (value.Value, error) {
	var cfg transform.Config
	if err := step.Raw.Decode(&cfg); err != nil {
		return value.Null(), fmt.Errorf("template: decode data_transform: %w", err)
	}
	resolver := transform.NewResolver(ec.Store, ec.tmplContext())
	result, err := transform.Run(cfg, resolver)
	if err != nil {
		return value.Null(), err
	}
	return result, nil
}

func dispatchFileOps(ec *Context, step workflow.Step) (value.Value, error) {
	var cfg fileops.Config
	if err := step.Raw.Decode(&cfg); err != nil {
		return value.Null(), fmt.Errorf("file: decode file_ops: %w", err)
	}
	result, err := fileops.Run(cfg, ec.WorkspaceDir)
	if err != nil {
		return value.Null(), fmt.Errorf("file: %w", err)
	}
	v := value.NewMap()
	v.Set("success", value.Bool(result.Success))
	if len(result.Failed) > 0 {
		v.Set("failed", stringListValue(result.Failed))
	}
	if len(result.Entries) > 0 {
		v.Set("entries", stringListValue(result.Entries))
	}
	if !result.Success {
		return v, fmt.Errorf("file: validate: %d criteria failed", len(result.Failed))
	}
	return v, nil
}

type codebaseQueryConfig struct {
	Root    string                     `yaml:"root,omitempty"`
	Queries map[string]codebase.Query `yaml:"queries"`
}

func dispatchCodebaseQuery(ec *Context, step workflow.Step) (value.Value, error) {
	var cfg codebaseQueryConfig
	if err := step.Raw.Decode(&cfg); err != nil {
		return value.Null(), fmt.Errorf("validation: decode codebase_query: %w", err)
	}
	root := cfg.Root
	if root == "" {
		root = ec.WorkspaceDir
	}
	idx, err := codebase.Scan(root)
	if err != nil {
		return value.Null(), fmt.Errorf("file: codebase scan: %w", err)
	}
	out := codebase.Run(idx, cfg.Queries)
	result, err := marshalValue(out)
	if err != nil {
		return value.Null(), err
	}
	result.Set("success", value.Bool(true))
	return result, nil
}

type testEchoConfig struct {
	Value interface{} `yaml:"value,omitempty"`
}

// dispatchTestEcho mirrors the teacher's own test-only step kind: it
// performs no provider or I/O work and simply echoes its configured
// value back through the Result Store, used by tests that exercise
// conditions, loops, and the Executor without a real collaborator.
func dispatchTestEcho(step workflow.Step) (value.Value, error) {
	var cfg testEchoConfig
	_ = step.Raw.Decode(&cfg)
	v := value.NewMap()
	v.Set("success", value.Bool(true))
	v.Set("value", value.FromInterface(cfg.Value))
	return v, nil
}
