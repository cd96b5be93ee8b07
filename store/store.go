// Package store implements the Result Store: an append-only, keyed
// map from step name to step result, with typed field extraction and
// the transform_for_prompt rendering used by the Prompt Builder.
//
// Grounded on the teacher's per-step output tracking in
// utils/processor/dsl.go (p.lastOutput, per-step capture) and
// loop_state.go's per-iteration result bookkeeping, generalized into
// an explicit, order-preserving store.
package store

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/marlowe-ops/flowcraft/value"
)

// ErrAlreadyWritten is returned by Put when a step name has already
// been written; the Result Store is append-only within one execution.
var ErrAlreadyWritten = fmt.Errorf("step result already written")

// TransformOptions controls how transform_for_prompt renders a result.
type TransformOptions struct {
	Format string // "" (auto) or "json"
}

// Store is the Result Store. Zero value is not usable; use New().
type Store struct {
	mu    sync.RWMutex
	order []string
	data  map[string]value.Value
}

// New returns an empty Result Store.
func New() *Store {
	return &Store{data: map[string]value.Value{}}
}

// Normalize converts a raw step result into the canonical Value shape:
// a bare string becomes {success: true, text: <s>, cost: 0}; anything
// else is converted through value.FromInterface and, if it decodes to
// a map lacking "success", gains a default success:true.
func Normalize(raw interface{}) value.Value {
	if s, ok := raw.(string); ok {
		m := value.NewMap()
		m.Set("success", value.Bool(true))
		m.Set("text", value.String(s))
		m.Set("cost", value.Number(0))
		return m
	}
	v := value.FromInterface(raw)
	if v.Kind() == value.KindMap {
		if _, ok := v.Field("success"); !ok {
			v.Set("success", value.Bool(true))
		}
	}
	return v
}

// Put writes a result under stepName exactly once. A second write for
// the same name is a programmer error.
func (s *Store) Put(stepName string, raw interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.data[stepName]; exists {
		return fmt.Errorf("%w: %q", ErrAlreadyWritten, stepName)
	}
	s.data[stepName] = Normalize(raw)
	s.order = append(s.order, stepName)
	return nil
}

// PutOrReplace writes or overwrites a result under stepName. The one
// documented exception to the Result Store's write-once rule: a
// while_loop's sub-steps merge their output back into the shared
// store on every iteration (spec.md §4.10), so the same step name is
// legitimately written more than once across iterations.
func (s *Store) PutOrReplace(stepName string, raw interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.data[stepName]; !exists {
		s.order = append(s.order, stepName)
	}
	s.data[stepName] = Normalize(raw)
}

// Get returns the result for stepName, or ok=false if not found.
func (s *Store) Get(stepName string) (value.Value, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[stepName]
	return v, ok
}

// Has reports whether a step has a stored result.
func (s *Store) Has(stepName string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.data[stepName]
	return ok
}

// Extract traverses stepName's result by a dotted field path. An empty
// path returns the whole result.
func (s *Store) Extract(stepName, dottedPath string) (value.Value, bool) {
	v, ok := s.Get(stepName)
	if !ok {
		return value.Null(), false
	}
	return value.Extract(v, dottedPath)
}

// TransformForPrompt renders stepName's result as a string suitable
// for inclusion in a prompt: prefer "text", then "content", else
// pretty-printed JSON if the caller asked for JSON or the value is
// non-scalar.
func (s *Store) TransformForPrompt(stepName string, opts TransformOptions) (string, bool) {
	v, ok := s.Get(stepName)
	if !ok {
		return "", false
	}
	return RenderForPrompt(v, opts), true
}

// RenderForPrompt applies the same rendering rule directly to a Value,
// used both by the store and by prompt parts that resolve a field
// rather than a whole step result.
func RenderForPrompt(v value.Value, opts TransformOptions) string {
	if v.Kind() == value.KindMap {
		if text, ok := v.Field("text"); ok && text.Kind() == value.KindString {
			if opts.Format != "json" {
				return text.AsString()
			}
		}
		if content, ok := v.Field("content"); ok && content.Kind() == value.KindString {
			if opts.Format != "json" {
				return content.AsString()
			}
		}
	}
	if opts.Format == "json" || !v.Scalar() {
		return v.PrettyJSON()
	}
	return v.AsString()
}

// Summary reports step counts and cumulative cost across the store.
type Summary struct {
	Total      int
	Successful int
	Failed     int
	TotalCost  float64
}

// Summary computes aggregate statistics over all stored results.
func (s *Store) Summary() Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var sum Summary
	for _, name := range s.order {
		v := s.data[name]
		sum.Total++
		if succ, ok := v.Field("success"); ok && succ.AsBool() {
			sum.Successful++
		} else {
			sum.Failed++
		}
		if cost, ok := v.Field("cost"); ok {
			if n, ok := cost.AsNumber(); ok {
				sum.TotalCost += n
			}
		}
	}
	return sum
}

// Order returns step names in insertion order.
func (s *Store) Order() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// serialized is the on-disk/JSON shape of a Store: an ordered list
// keeps round-tripping deterministic.
type serialized struct {
	Order   []string                 `json:"order"`
	Results map[string]value.Value `json:"results"`
}

// MarshalJSON implements json.Marshaler for checkpointing.
func (s *Store) MarshalJSON() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := serialized{Order: append([]string(nil), s.order...), Results: map[string]value.Value{}}
	for k, v := range s.data {
		out.Results[k] = v
	}
	return json.Marshal(out)
}

// UnmarshalJSON implements json.Unmarshaler for checkpoint restore.
func (s *Store) UnmarshalJSON(data []byte) error {
	var in serialized
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.order = append([]string(nil), in.Order...)
	s.data = make(map[string]value.Value, len(in.Results))
	for k, v := range in.Results {
		s.data[k] = v
	}
	return nil
}
