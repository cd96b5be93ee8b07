// Package promptbuilder implements the Prompt Builder: it assembles
// one provider prompt string from an ordered list of typed Prompt
// Parts, resolving `{{…}}` templates in every string field before use.
//
// Grounded on the teacher's ad hoc prompt assembly in
// utils/processor/action_handler.go (fmt.Sprintf("Input:\n%s\nAction:
// %s", ...)), generalized into an ordered list of typed parts.
package promptbuilder

import (
	"fmt"
	"os"

	"github.com/marlowe-ops/flowcraft/session"
	"github.com/marlowe-ops/flowcraft/store"
	"github.com/marlowe-ops/flowcraft/tmpl"
)

// PartKind discriminates a Prompt Part's tagged variant.
type PartKind string

const (
	PartStatic           PartKind = "static"
	PartFile             PartKind = "file"
	PartPreviousResponse PartKind = "previous_response"
	PartSessionContext   PartKind = "session_context"
)

// Part is one element of an ordered prompt. Only the fields relevant
// to Kind are used.
type Part struct {
	Kind PartKind

	Content string // static

	Path string // file

	Step    string // previous_response
	Extract string // previous_response (optional dotted path)

	SessionID     string // session_context
	IncludeLastN  int    // session_context
}

// ErrFileNotFound is returned when a `file` part's path cannot be read.
type ErrFileNotFound struct{ Path string }

func (e *ErrFileNotFound) Error() string { return fmt.Sprintf("file not found: %s", e.Path) }

// Build assembles parts into a single prompt string, applying template
// resolution to every string field before use and concatenating part
// outputs in declared order with no added separator.
func Build(parts []Part, s *store.Store, tctx tmpl.Context, sessions *session.Manager) (string, error) {
	var out string
	for _, p := range parts {
		rendered, err := renderPart(p, s, tctx, sessions)
		if err != nil {
			return "", err
		}
		out += rendered
	}
	return out, nil
}

func renderPart(p Part, s *store.Store, tctx tmpl.Context, sessions *session.Manager) (string, error) {
	switch p.Kind {
	case PartStatic:
		return tmpl.Resolve(p.Content, tctx), nil

	case PartFile:
		path := tmpl.Resolve(p.Path, tctx)
		data, err := os.ReadFile(path)
		if err != nil {
			return "", &ErrFileNotFound{Path: path}
		}
		return string(data), nil

	case PartPreviousResponse:
		step := tmpl.Resolve(p.Step, tctx)
		if p.Extract != "" {
			path := tmpl.Resolve(p.Extract, tctx)
			v, ok := s.Extract(step, path)
			if !ok {
				return "nil", nil
			}
			if v.Scalar() {
				return v.AsString(), nil
			}
			return v.PrettyJSON(), nil
		}
		text, ok := s.TransformForPrompt(step, store.TransformOptions{})
		if !ok {
			return "nil", nil
		}
		return text, nil

	case PartSessionContext:
		sessName := tmpl.Resolve(p.SessionID, tctx)
		sess, err := sessions.GetOrCreate(sessName, 0, false, false)
		if err != nil {
			return "", fmt.Errorf("session_context: %w", err)
		}
		return renderSessionContext(sess, p.IncludeLastN), nil

	default:
		return "", fmt.Errorf("promptbuilder: unknown part kind %q", p.Kind)
	}
}

// renderSessionContext renders the last N interactions of a session as
// provider-neutral text — no assumption about the wire format of any
// concrete assistant SDK.
func renderSessionContext(sess *session.Session, n int) string {
	var out string
	for _, interaction := range sess.LastN(n) {
		out += fmt.Sprintf("User: %s\nAssistant: %s\n", interaction.Prompt, interaction.Response)
	}
	return out
}
