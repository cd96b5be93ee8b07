// Package value implements the tagged-union Value type that backs the
// Result Store, the Template Engine, the Condition Engine, and
// output_schema validation. Everything that flows between steps is a
// Value so that extraction, JSON encoding, and schema checks all
// operate on one representation instead of a grab-bag of interface{}.
package value

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Kind discriminates the variant held by a Value.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindList
	KindMap
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindList:
		return "list"
	case KindMap:
		return "map"
	default:
		return "unknown"
	}
}

// Value is the closed tagged union described in the orchestrator's
// design notes: Null, Bool, Number, String, List, Map. Map preserves
// insertion order via keys/fields so Summary() and prompt rendering
// are deterministic.
type Value struct {
	kind   Kind
	b      bool
	n      float64
	s      string
	list   []Value
	keys   []string
	fields map[string]Value
}

// Null returns the null value.
func Null() Value { return Value{kind: KindNull} }

// Bool wraps a boolean.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Number wraps a float64. Integers are represented as whole-number floats.
func Number(n float64) Value { return Value{kind: KindNumber, n: n} }

// String wraps a string.
func String(s string) Value { return Value{kind: KindString, s: s} }

// List wraps a slice of values.
func List(items ...Value) Value {
	return Value{kind: KindList, list: append([]Value(nil), items...)}
}

// NewMap returns an empty, order-preserving map value.
func NewMap() Value {
	return Value{kind: KindMap, fields: map[string]Value{}}
}

// Set writes key=v into a map value, preserving first-insertion order.
// It is a no-op (mutates in place) and panics if v is not a map.
func (v *Value) Set(key string, val Value) {
	if v.kind != KindMap {
		*v = NewMap()
	}
	if _, exists := v.fields[key]; !exists {
		v.keys = append(v.keys, key)
	}
	v.fields[key] = val
}

// Kind reports which variant is held.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether this is the null value (or a zero Value).
func (v Value) IsNull() bool { return v.kind == KindNull }

// Scalar reports whether the value is Null, Bool, Number, or String
// (i.e. not List or Map) — used by Result Store rendering to decide
// between plain text and pretty-printed JSON.
func (v Value) Scalar() bool {
	return v.kind == KindNull || v.kind == KindBool || v.kind == KindNumber || v.kind == KindString
}

// AsBool returns the boolean value; non-bool values coerce: non-zero
// numbers and non-empty strings are true, null/empty are false.
func (v Value) AsBool() bool {
	switch v.kind {
	case KindBool:
		return v.b
	case KindNumber:
		return v.n != 0
	case KindString:
		return v.s != ""
	case KindNull:
		return false
	default:
		return true
	}
}

// AsNumber returns the numeric value, parsing strings when possible.
func (v Value) AsNumber() (float64, bool) {
	switch v.kind {
	case KindNumber:
		return v.n, true
	case KindString:
		f, err := strconv.ParseFloat(v.s, 64)
		return f, err == nil
	case KindBool:
		if v.b {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}

// AsString renders the value as a string. Scalars render in their
// natural form; non-scalars render as compact JSON.
func (v Value) AsString() string {
	switch v.kind {
	case KindNull:
		return ""
	case KindBool:
		if v.b {
			return "true"
		}
		return "false"
	case KindNumber:
		if v.n == float64(int64(v.n)) {
			return strconv.FormatInt(int64(v.n), 10)
		}
		return strconv.FormatFloat(v.n, 'g', -1, 64)
	case KindString:
		return v.s
	default:
		b, err := json.Marshal(v.ToInterface())
		if err != nil {
			return fmt.Sprintf("%v", v.ToInterface())
		}
		return string(b)
	}
}

// AsList returns the underlying slice, or nil if not a list.
func (v Value) AsList() []Value {
	if v.kind != KindList {
		return nil
	}
	return v.list
}

// Keys returns the insertion-ordered keys of a map value, or nil.
func (v Value) Keys() []string {
	if v.kind != KindMap {
		return nil
	}
	out := make([]string, len(v.keys))
	copy(out, v.keys)
	return out
}

// Field looks up a map key. The second return reports presence,
// distinguishing a present-but-null field from a missing one.
func (v Value) Field(key string) (Value, bool) {
	if v.kind != KindMap {
		return Value{}, false
	}
	val, ok := v.fields[key]
	return val, ok
}

// PrettyJSON renders the value as indented JSON.
func (v Value) PrettyJSON() string {
	b, err := json.MarshalIndent(v.ToInterface(), "", "  ")
	if err != nil {
		return v.AsString()
	}
	return string(b)
}

// ToInterface converts a Value into plain Go data (map[string]interface{},
// []interface{}, string, float64, bool, nil) for JSON encoding or
// external consumption (e.g. schema validators).
func (v Value) ToInterface() interface{} {
	switch v.kind {
	case KindNull:
		return nil
	case KindBool:
		return v.b
	case KindNumber:
		return v.n
	case KindString:
		return v.s
	case KindList:
		out := make([]interface{}, len(v.list))
		for i, it := range v.list {
			out[i] = it.ToInterface()
		}
		return out
	case KindMap:
		out := make(map[string]interface{}, len(v.fields))
		for _, k := range v.keys {
			out[k] = v.fields[k].ToInterface()
		}
		return out
	default:
		return nil
	}
}

// FromInterface converts plain Go data (as produced by encoding/json
// or yaml.v3 decoding into interface{}) into a Value.
func FromInterface(in interface{}) Value {
	switch t := in.(type) {
	case nil:
		return Null()
	case bool:
		return Bool(t)
	case string:
		return String(t)
	case float64:
		return Number(t)
	case float32:
		return Number(float64(t))
	case int:
		return Number(float64(t))
	case int64:
		return Number(float64(t))
	case []interface{}:
		items := make([]Value, len(t))
		for i, it := range t {
			items[i] = FromInterface(it)
		}
		return List(items...)
	case []Value:
		return List(t...)
	case map[string]interface{}:
		out := NewMap()
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			out.Set(k, FromInterface(t[k]))
		}
		return out
	case map[interface{}]interface{}:
		// gopkg.in/yaml.v3 decodes nested maps this way when the
		// target is interface{} rather than a typed struct.
		out := NewMap()
		keys := make([]string, 0, len(t))
		strKeyed := make(map[string]interface{}, len(t))
		for k, val := range t {
			ks := fmt.Sprintf("%v", k)
			keys = append(keys, ks)
			strKeyed[ks] = val
		}
		sort.Strings(keys)
		for _, k := range keys {
			out.Set(k, FromInterface(strKeyed[k]))
		}
		return out
	case Value:
		return t
	default:
		return String(fmt.Sprintf("%v", t))
	}
}

// MarshalJSON implements json.Marshaler.
func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.ToInterface())
}

// UnmarshalJSON implements json.Unmarshaler.
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*v = FromInterface(raw)
	return nil
}

// ParseJSONOrString parses s as JSON if it looks like a JSON document
// (object, array, number, bool, or quoted string) and falls back to
// wrapping it as a plain String otherwise — used by input sources that
// may hold either a literal value or a rendered {{ }} expression.
func ParseJSONOrString(s string) (Value, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return Null(), nil
	}
	switch trimmed[0] {
	case '{', '[', '"':
		var raw interface{}
		if err := json.Unmarshal([]byte(trimmed), &raw); err != nil {
			return Null(), err
		}
		return FromInterface(raw), nil
	}
	if trimmed == "true" || trimmed == "false" {
		return Bool(trimmed == "true"), nil
	}
	if n, err := strconv.ParseFloat(trimmed, 64); err == nil {
		return Number(n), nil
	}
	return String(s), nil
}

// Extract traverses a dotted field path (e.g. "choices.0.text") against
// a Value, following map keys and list indices. It returns the value
// and whether the path resolved to a present field; a missing
// intermediate key or out-of-range index yields (Null(), false).
func Extract(v Value, dottedPath string) (Value, bool) {
	if dottedPath == "" {
		return v, true
	}
	parts := splitPath(dottedPath)
	cur := v
	for _, part := range parts {
		switch cur.kind {
		case KindMap:
			next, ok := cur.fields[part]
			if !ok {
				return Null(), false
			}
			cur = next
		case KindList:
			idx, err := strconv.Atoi(part)
			if err != nil || idx < 0 || idx >= len(cur.list) {
				return Null(), false
			}
			cur = cur.list[idx]
		default:
			return Null(), false
		}
	}
	return cur, true
}

func splitPath(path string) []string {
	var parts []string
	start := 0
	for i := 0; i < len(path); i++ {
		if path[i] == '.' {
			parts = append(parts, path[start:i])
			start = i + 1
		}
	}
	parts = append(parts, path[start:])
	return parts
}

// Equal reports deep equality between two values.
func Equal(a, b Value) bool {
	if a.kind != b.kind {
		return false
	}
	switch a.kind {
	case KindNull:
		return true
	case KindBool:
		return a.b == b.b
	case KindNumber:
		return a.n == b.n
	case KindString:
		return a.s == b.s
	case KindList:
		if len(a.list) != len(b.list) {
			return false
		}
		for i := range a.list {
			if !Equal(a.list[i], b.list[i]) {
				return false
			}
		}
		return true
	case KindMap:
		if len(a.keys) != len(b.keys) {
			return false
		}
		for _, k := range a.keys {
			bv, ok := b.fields[k]
			if !ok || !Equal(a.fields[k], bv) {
				return false
			}
		}
		return true
	default:
		return false
	}
}
