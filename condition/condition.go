// Package condition implements the Condition Engine: a boolean
// expression language over Result Store fields, evaluated with
// github.com/expr-lang/expr rather than a hand-rolled parser — the
// same choice Soochol-Upal makes (internal/agents/eval.go) for
// evaluating a small boolean language over a session-state map.
package condition

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/marlowe-ops/flowcraft/store"
)

// stepFieldRef matches "<step>.<rest>" so referenced-but-not-yet-run
// steps can be given a default {success:false} environment entry
// instead of failing compilation outright.
var stepFieldRef = regexp.MustCompile(`\b([A-Za-z_][A-Za-z0-9_]*)\.[A-Za-z_]`)

// reserved words must never be treated as step names.
var reserved = map[string]bool{
	"true": true, "false": true, "nil": true, "and": true, "or": true,
	"not": true, "in": true, "len": true,
}

// Evaluate runs expression against the current Result Store and
// returns its boolean result. An empty expression is always true. A
// step name referenced in the expression that has no stored result
// (because it was skipped, or hasn't executed yet) evaluates as
// "missing": its .success is false and any other field is nil, rather
// than failing evaluation.
func Evaluate(expression string, s *store.Store) (bool, error) {
	trimmed := strings.TrimSpace(expression)
	if trimmed == "" {
		return true, nil
	}

	env := map[string]interface{}{}
	for _, name := range s.Order() {
		v, _ := s.Get(name)
		env[name] = v.ToInterface()
	}
	for _, m := range stepFieldRef.FindAllStringSubmatch(expression, -1) {
		name := m[1]
		if reserved[name] {
			continue
		}
		if _, ok := env[name]; !ok {
			env[name] = map[string]interface{}{"success": false}
		}
	}

	program, err := expr.Compile(trimmed, expr.Env(env))
	if err != nil {
		return false, fmt.Errorf("condition: compile %q: %w", expression, err)
	}
	result, err := expr.Run(program, env)
	if err != nil {
		return false, fmt.Errorf("condition: evaluate %q: %w", expression, err)
	}
	return isTruthy(result), nil
}

func isTruthy(v interface{}) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case string:
		return val != ""
	case int:
		return val != 0
	case int64:
		return val != 0
	case float64:
		return val != 0
	default:
		return true
	}
}
