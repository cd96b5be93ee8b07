// Package tmpl implements the Template Engine: single-pass `{{ expr }}`
// substitution over the Result Store, loop variables, nested-pipeline
// inputs, and the workspace directory.
//
// Grounded on the teacher's `{{var}}` CLI-variable substitution
// (cliVariables in utils/processor/dsl.go), generalized to the fuller
// reference grammar of spec.md §4.3.
package tmpl

import (
	"strconv"
	"strings"

	"github.com/marlowe-ops/flowcraft/store"
	"github.com/marlowe-ops/flowcraft/value"
)

// LoopFrame carries the synthetic "loop" namespace for one sub-step
// invocation inside a for_loop/while_loop iteration.
type LoopFrame struct {
	IteratorName string
	Item         value.Value
	Index        int
	Total        int
}

// Context bundles everything a template may reference.
type Context struct {
	Store        *store.Store
	Loop         *LoopFrame // nil outside a loop body
	Inputs       map[string]value.Value
	WorkspaceDir string
}

// Resolve performs single-pass substitution of every `{{ ... }}` token
// in tmplStr. Substitution does not recurse into the replacement text,
// so a result value containing "{{" is never re-interpreted — this is
// a deliberate defense against templating injected user data.
func Resolve(tmplStr string, ctx Context) string {
	var out strings.Builder
	i := 0
	for i < len(tmplStr) {
		start := strings.Index(tmplStr[i:], "{{")
		if start == -1 {
			out.WriteString(tmplStr[i:])
			break
		}
		start += i
		end := strings.Index(tmplStr[start:], "}}")
		if end == -1 {
			out.WriteString(tmplStr[start:])
			break
		}
		end += start
		out.WriteString(tmplStr[i:start])
		expr := strings.TrimSpace(tmplStr[start+2 : end])
		resolved, ok := resolveExpr(expr, ctx)
		if ok {
			out.WriteString(resolved)
		} else {
			// Unknown reference: keep the literal template text so
			// downstream prompts observe the author's intent rather
			// than silently dropping it.
			out.WriteString(tmplStr[start : end+2])
		}
		i = end + 2
	}
	return out.String()
}

func resolveExpr(expr string, ctx Context) (string, bool) {
	switch {
	case expr == "workspace_dir":
		return ctx.WorkspaceDir, true
	case strings.HasPrefix(expr, "loop."):
		return resolveLoop(strings.TrimPrefix(expr, "loop."), ctx.Loop)
	case strings.HasPrefix(expr, "inputs."):
		key := strings.TrimPrefix(expr, "inputs.")
		if ctx.Inputs == nil {
			return "", true // policy: inputs.* is empty-string-on-absent, never left literal
		}
		v, ok := ctx.Inputs[key]
		if !ok {
			return "", true
		}
		return v.AsString(), true
	case strings.HasPrefix(expr, "previous_response:"):
		return resolvePreviousResponseRef(expr, ctx.Store)
	default:
		return resolveStepPath(expr, ctx.Store)
	}
}

func resolveLoop(rest string, loop *LoopFrame) (string, bool) {
	if loop == nil {
		return "", false
	}
	switch rest {
	case "index":
		return strconv.Itoa(loop.Index), true
	case "total":
		return strconv.Itoa(loop.Total), true
	case "iteration":
		return strconv.Itoa(loop.Index + 1), true
	case "first":
		return strconv.FormatBool(loop.Index == 0), true
	case "last":
		return strconv.FormatBool(loop.Index == loop.Total-1), true
	case loop.IteratorName:
		return loop.Item.AsString(), true
	default:
		if strings.HasPrefix(rest, loop.IteratorName+".") {
			field := strings.TrimPrefix(rest, loop.IteratorName+".")
			v, ok := value.Extract(loop.Item, field)
			if !ok {
				return "", false
			}
			return v.AsString(), true
		}
		return "", false
	}
}

// resolveStepPath resolves "step_name" or "step_name.field.sub" against
// the Result Store.
func resolveStepPath(expr string, s *store.Store) (string, bool) {
	if s == nil {
		return "", false
	}
	step, path := splitFirst(expr)
	if !s.Has(step) {
		return "", false
	}
	if path == "" {
		text, ok := s.TransformForPrompt(step, store.TransformOptions{})
		return text, ok
	}
	v, ok := s.Extract(step, path)
	if !ok {
		return "", false
	}
	return store.RenderForPrompt(v, store.TransformOptions{}), true
}

// resolvePreviousResponseRef resolves the colon-delimited
// "previous_response:step_name:field" form used outside {{ }}
// (e.g. data_transform input_source).
func resolvePreviousResponseRef(expr string, s *store.Store) (string, bool) {
	parts := strings.SplitN(expr, ":", 3)
	if len(parts) < 2 {
		return "", false
	}
	step := parts[1]
	field := ""
	if len(parts) == 3 {
		field = parts[2]
	}
	if s == nil || !s.Has(step) {
		return "", false
	}
	if field == "" {
		text, ok := s.TransformForPrompt(step, store.TransformOptions{})
		return text, ok
	}
	v, ok := s.Extract(step, field)
	if !ok {
		return "", false
	}
	return store.RenderForPrompt(v, store.TransformOptions{}), true
}

func splitFirst(expr string) (head, rest string) {
	idx := strings.Index(expr, ".")
	if idx == -1 {
		return expr, ""
	}
	return expr[:idx], expr[idx+1:]
}

// ResolvePreviousResponse is the exported entry point data_transform
// uses directly (outside the {{ }} wrapper) for its
// "previous_response:<step>[:<field>]" input_source pattern.
func ResolvePreviousResponse(ref string, s *store.Store) (value.Value, bool) {
	parts := strings.SplitN(ref, ":", 3)
	if len(parts) < 2 {
		return value.Null(), false
	}
	step := parts[1]
	if s == nil || !s.Has(step) {
		return value.Null(), false
	}
	if len(parts) == 3 {
		return s.Extract(step, parts[2])
	}
	v, _ := s.Get(step)
	return v, true
}
