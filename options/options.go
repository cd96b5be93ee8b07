// Package options implements the Option Builder: five named presets
// of provider options, deep-merge semantics between a preset and
// step-local overrides, and environment-aware preset selection.
//
// Grounded on the teacher's per-step model/temperature/token defaults
// (ModelConfig in utils/models/provider.go), generalized into the
// five fixed option maps spec.md §4.8 names.
package options

// Preset names the five built-in bundles.
type Preset string

const (
	Development Preset = "development"
	Production  Preset = "production"
	Analysis    Preset = "analysis"
	Chat        Preset = "chat"
	Test        Preset = "test"
)

// Map is a nested option bundle: map[string]interface{} where a value
// may itself be a map[string]interface{}, enabling deep merge.
type Map map[string]interface{}

// builtins holds the fixed option map for each preset. Values here are
// deliberately concrete and small — these are authored defaults, not
// computed — matching the teacher's static per-environment model
// configs.
var builtins = map[Preset]Map{
	Development: {
		"max_turns":       10,
		"timeout_ms":      60000,
		"allowed_tools":   []string{"read", "write", "bash"},
		"system_prompt":   "You are a development assistant. Be verbose and explain your reasoning.",
		"verbose":         true,
		"debug_mode":      true,
		"retry":           Map{"max_retries": 2, "base_delay_ms": 500},
		"permission_mode": "prompt",
	},
	Production: {
		"max_turns":       5,
		"timeout_ms":      30000,
		"allowed_tools":   []string{"read"},
		"system_prompt":   "You are a production assistant. Be concise and precise.",
		"verbose":         false,
		"debug_mode":      false,
		"retry":           Map{"max_retries": 5, "base_delay_ms": 1000},
		"permission_mode": "auto",
	},
	Analysis: {
		"max_turns":     8,
		"timeout_ms":    120000,
		"allowed_tools": []string{"read"},
		"system_prompt": "You are a data analyst. Provide structured, thorough analysis.",
		"retry":         Map{"max_retries": 3, "base_delay_ms": 1000},
	},
	Chat: {
		"max_turns":     1,
		"timeout_ms":    20000,
		"system_prompt": "You are a helpful conversational assistant.",
		"retry":         Map{"max_retries": 1, "base_delay_ms": 250},
	},
	Test: {
		"max_turns":       1,
		"timeout_ms":      5000,
		"allowed_tools":   []string{},
		"system_prompt":   "You are a test assistant.",
		"verbose":         true,
		"debug_mode":      true,
		"retry":           Map{"max_retries": 0, "base_delay_ms": 0},
		"permission_mode": "auto",
	},
}

// Builtin returns a fresh copy of a preset's fixed option map.
func Builtin(p Preset) Map {
	src, ok := builtins[p]
	if !ok {
		return Map{}
	}
	return deepCopy(src)
}

// Merge returns deep_merge(preset, overrides): nested maps merge
// key-wise, non-map values (including slices) are overwritten wholesale.
func Merge(preset Map, overrides Map) Map {
	out := deepCopy(preset)
	mergeInto(out, overrides)
	return out
}

func mergeInto(dst Map, src Map) {
	for k, v := range src {
		if srcMap, ok := v.(Map); ok {
			if dstMap, ok := dst[k].(Map); ok {
				mergeInto(dstMap, srcMap)
				continue
			}
			dst[k] = deepCopy(srcMap)
			continue
		}
		if srcMap, ok := v.(map[string]interface{}); ok {
			if dstMap, ok := dst[k].(Map); ok {
				mergeInto(dstMap, Map(srcMap))
				continue
			}
			dst[k] = deepCopy(Map(srcMap))
			continue
		}
		dst[k] = v
	}
}

func deepCopy(m Map) Map {
	out := make(Map, len(m))
	for k, v := range m {
		switch vv := v.(type) {
		case Map:
			out[k] = deepCopy(vv)
		case map[string]interface{}:
			out[k] = deepCopy(Map(vv))
		default:
			out[k] = v
		}
	}
	return out
}

// ApplyPresetOptimizations is an idempotent post-merge step that can
// further restrict tools and append to the system prompt. Its effect
// is preset-specific: production tightens allowed_tools to read-only
// and appends a safety reminder; the other presets are no-ops.
// Idempotent: running it twice on the same map produces the same
// result as running it once.
func ApplyPresetOptimizations(preset Preset, opts Map) Map {
	out := deepCopy(opts)
	if preset != Production {
		return out
	}
	out["allowed_tools"] = []string{"read"}
	const reminder = " Follow production safety guidelines."
	prompt, _ := out["system_prompt"].(string)
	if !hasSuffix(prompt, reminder) {
		out["system_prompt"] = prompt + reminder
	}
	out["preset_applied"] = string(preset)
	return out
}

func hasSuffix(s, suffix string) bool {
	return len(s) >= len(suffix) && s[len(s)-len(suffix):] == suffix
}

// EnvironmentMode is the declared environment mode. The run command
// reads it from the PIPELINE_ENV_MODE environment variable; the
// workflow document has no environment block that sets it.
type EnvironmentMode string

const (
	EnvDevelopment EnvironmentMode = "development"
	EnvProduction  EnvironmentMode = "production"
	EnvTest        EnvironmentMode = "test"
)

// SelectForEnvironment returns the preset whose name matches mode,
// falling back to Development when mode is unrecognized.
func SelectForEnvironment(mode EnvironmentMode) Preset {
	switch mode {
	case EnvProduction:
		return Production
	case EnvTest:
		return Test
	default:
		return Development
	}
}

// Resolve implements the documented precedence between a step's own
// preset, the workflow's default preset, and environment-aware
// detection (see DESIGN.md's Open Question resolution): step-level
// `preset` wins if set; otherwise the workflow's `defaults.claude_preset`;
// otherwise the environment-aware preset for envMode; Development if
// none apply.
func Resolve(stepPreset, workflowDefaultPreset string, envMode EnvironmentMode) Preset {
	if stepPreset != "" {
		return Preset(stepPreset)
	}
	if workflowDefaultPreset != "" {
		return Preset(workflowDefaultPreset)
	}
	if envMode != "" {
		return SelectForEnvironment(envMode)
	}
	return Development
}
