// Package workflow implements the workflow document: its types, a
// custom YAML unmarshaler mirroring the teacher's mixed-step-type
// root decoding, default application, and the structural validation
// required before execution.
//
// Grounded on utils/processor/dsl.go's DSLConfig/StepConfig/Step types
// and its (*DSLConfig) UnmarshalYAML, which walks the root mapping
// node by hand to tell an ordinary step apart from a `parallel:`
// block; generalized here to the spec's step-type closed set (no
// `generate`/`defer`/`agentic-loop` special-casing, since those are
// teacher-specific step kinds outside this spec).
package workflow

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// StepType is one of the closed set of step kinds.
type StepType string

const (
	StepClaude         StepType = "claude"
	StepClaudeSmart    StepType = "claude_smart"
	StepClaudeSession  StepType = "claude_session"
	StepClaudeExtract  StepType = "claude_extract"
	StepClaudeBatch    StepType = "claude_batch"
	StepClaudeRobust   StepType = "claude_robust"
	StepParallelClaude StepType = "parallel_claude"
	StepGemini         StepType = "gemini"
	StepGeminiInstruct StepType = "gemini_instructor"
	StepSetVariable    StepType = "set_variable"
	StepDataTransform  StepType = "data_transform"
	StepFileOps        StepType = "file_ops"
	StepCodebaseQuery  StepType = "codebase_query"
	StepForLoop        StepType = "for_loop"
	StepWhileLoop      StepType = "while_loop"
	StepNestedPipeline StepType = "nested_pipeline"
	StepTestEcho       StepType = "test_echo"
)

var knownStepTypes = map[StepType]bool{
	StepClaude: true, StepClaudeSmart: true, StepClaudeSession: true,
	StepClaudeExtract: true, StepClaudeBatch: true, StepClaudeRobust: true,
	StepParallelClaude: true, StepGemini: true, StepGeminiInstruct: true,
	StepSetVariable: true, StepDataTransform: true, StepFileOps: true,
	StepCodebaseQuery: true, StepForLoop: true, StepWhileLoop: true,
	StepNestedPipeline: true, StepTestEcho: true,
}

// PromptPart mirrors promptbuilder.Part in document form, decoded
// straight off YAML before being translated to a promptbuilder.Part.
type PromptPart struct {
	Kind string `yaml:"kind"`

	Content string `yaml:"content,omitempty"`
	Path    string `yaml:"path,omitempty"`

	Step    string `yaml:"step,omitempty"`
	Extract string `yaml:"extract,omitempty"`

	SessionID    string `yaml:"session_id,omitempty"`
	IncludeLastN int    `yaml:"include_last_n,omitempty"`
}

// Step is one named step in the workflow. Config holds a raw YAML
// node so step-type-specific decoding can happen once Type is known;
// the engine package owns interpreting it per type.
type Step struct {
	Name         string                 `yaml:"-"`
	Type         StepType               `yaml:"type"`
	Condition    string                 `yaml:"condition,omitempty"`
	OutputToFile string                 `yaml:"output_to_file,omitempty"`
	OutputSchema map[string]interface{} `yaml:"output_schema,omitempty"`
	Preset       string                 `yaml:"preset,omitempty"`

	Prompt    []PromptPart `yaml:"prompt,omitempty"`
	Functions []string     `yaml:"functions,omitempty"` // gemini/gemini_instructor function-calling references

	Raw yaml.Node `yaml:"-"`
}

// Defaults holds the workflow-level default values applied before
// execution (spec.md §4.11 item 1).
type Defaults struct {
	GeminiModel   string                 `yaml:"gemini_model,omitempty"`
	ClaudePreset  string                 `yaml:"claude_preset,omitempty"`
	ClaudeOptions map[string]interface{} `yaml:"claude_options,omitempty"`
	OutputDir     string                 `yaml:"output_dir,omitempty"`
	WorkspaceDir  string                 `yaml:"workspace_dir,omitempty"`
}

// Function is one entry in the workflow's function-definitions table,
// used by gemini/gemini_instructor function calling.
type Function struct {
	Name        string                 `yaml:"name"`
	Description string                 `yaml:"description,omitempty"`
	Parameters  map[string]interface{} `yaml:"parameters,omitempty"`
}

// Workflow is the top-level document.
type Workflow struct {
	Name              string     `yaml:"name"`
	Description       string     `yaml:"description,omitempty"`
	WorkspaceDir      string     `yaml:"workspace_dir,omitempty"`
	CheckpointEnabled bool       `yaml:"checkpoint_enabled,omitempty"`
	CheckpointDir     string     `yaml:"checkpoint_dir,omitempty"`
	Defaults          Defaults   `yaml:"defaults,omitempty"`
	Functions         []Function `yaml:"functions,omitempty"`
	Steps             []Step     `yaml:"steps,omitempty"`
}

// document is the wire shape: a single `workflow:` root key.
type document struct {
	Workflow rawWorkflow `yaml:"workflow"`
}

type rawWorkflow struct {
	Name              string     `yaml:"name"`
	Description       string     `yaml:"description"`
	WorkspaceDir      string     `yaml:"workspace_dir"`
	CheckpointEnabled bool       `yaml:"checkpoint_enabled"`
	CheckpointDir     string     `yaml:"checkpoint_dir"`
	Defaults          Defaults   `yaml:"defaults"`
	Functions         []Function `yaml:"functions"`
	Steps             yaml.Node  `yaml:"steps"`
}

// Parse decodes a workflow document from YAML bytes. The `steps` key
// is a YAML sequence of single-key mappings (`- step_name: {...}`),
// decoded by hand here — the same mapping-node walk the teacher's
// (*DSLConfig).UnmarshalYAML performs over its root — so each step
// keeps its declared name and order.
func Parse(data []byte) (*Workflow, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("workflow: parse: %w", err)
	}

	w := &Workflow{
		Name:              doc.Workflow.Name,
		Description:       doc.Workflow.Description,
		WorkspaceDir:      doc.Workflow.WorkspaceDir,
		CheckpointEnabled: doc.Workflow.CheckpointEnabled,
		CheckpointDir:     doc.Workflow.CheckpointDir,
		Defaults:          doc.Workflow.Defaults,
		Functions:         doc.Workflow.Functions,
	}

	steps, err := ParseSteps(doc.Workflow.Steps)
	if err != nil {
		return nil, err
	}
	w.Steps = steps
	return w, nil
}

// ParseSteps walks a `steps:` sequence node by hand — the same
// single-key-mapping-per-item walk Parse uses at the document root —
// so nested step lists (a for_loop/while_loop body, an inline
// nested_pipeline) keep step name and declared order exactly like the
// top-level steps do.
func ParseSteps(node yaml.Node) ([]Step, error) {
	if node.Kind == 0 {
		return nil, nil
	}
	if node.Kind != yaml.SequenceNode {
		return nil, fmt.Errorf("workflow: steps must be a sequence")
	}

	var steps []Step
	for _, item := range node.Content {
		if item.Kind != yaml.MappingNode || len(item.Content) != 2 {
			return nil, fmt.Errorf("workflow: each step must be a single-key mapping {name: {...}}")
		}
		name := item.Content[0].Value
		var step Step
		if err := item.Content[1].Decode(&step); err != nil {
			return nil, fmt.Errorf("workflow: decode step %q: %w", name, err)
		}
		step.Name = name
		step.Raw = *item.Content[1]
		steps = append(steps, step)
	}
	return steps, nil
}

// ApplyDefaults deep-merges workflow.defaults into any step missing
// the corresponding value (spec.md §4.11 item 1). claude_options
// itself is left to the engine/options package's preset-merge step;
// here we only seed Preset when a step doesn't declare its own.
func (w *Workflow) ApplyDefaults() {
	for i := range w.Steps {
		s := &w.Steps[i]
		if s.Preset == "" {
			if isClaudeStep(s.Type) {
				s.Preset = w.Defaults.ClaudePreset
			}
		}
	}
}

func isClaudeStep(t StepType) bool {
	switch t {
	case StepClaude, StepClaudeSmart, StepClaudeSession, StepClaudeExtract,
		StepClaudeBatch, StepClaudeRobust, StepParallelClaude:
		return true
	default:
		return false
	}
}

// Validate checks the structural invariants of spec.md §4.11 item 2:
// unique step names, known step types, well-formed prompts (previous_response
// parts refer only to earlier steps), and function references in any
// step resolve against the function table.
func Validate(w *Workflow) error {
	if w.Name == "" {
		return fmt.Errorf("workflow: validation: name is required")
	}

	seen := map[string]bool{}
	functionNames := map[string]bool{}
	for _, fn := range w.Functions {
		functionNames[fn.Name] = true
	}

	for i, s := range w.Steps {
		if s.Name == "" {
			return fmt.Errorf("workflow: validation: step %d has no name", i)
		}
		if seen[s.Name] {
			return fmt.Errorf("workflow: validation: duplicate step name %q", s.Name)
		}
		seen[s.Name] = true

		if !knownStepTypes[s.Type] {
			return fmt.Errorf("workflow: validation: step %q has unknown type %q", s.Name, s.Type)
		}

		for _, part := range s.Prompt {
			if part.Kind == "previous_response" {
				if part.Step == "" {
					return fmt.Errorf("workflow: validation: step %q has a previous_response prompt part with no step", s.Name)
				}
				if !seen[part.Step] {
					return fmt.Errorf("workflow: validation: step %q's previous_response part refers to %q, which has not run earlier in the workflow", s.Name, part.Step)
				}
			}
		}

		for _, fnName := range s.Functions {
			if !functionNames[fnName] {
				return fmt.Errorf("workflow: validation: step %q references function %q, not present in the function table", s.Name, fnName)
			}
		}
	}

	return nil
}
