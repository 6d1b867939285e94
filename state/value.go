// Package state models the JSON-like values that make up global and agent
// state. Value is a closed sum type: only the variants declared in this
// package implement it, so traversal and comparison are exhaustive type
// switches instead of open-ended reflection.
package state

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Value is one node of a state document.
type Value interface{ isValue() }

// Null is the JSON null value.
type Null struct{}

// Bool is a JSON boolean.
type Bool bool

// Number is a JSON number. Integers and floats share one representation.
type Number float64

// String is a JSON string.
type String string

// Array is an ordered list of values.
type Array []Value

// Object maps keys to values. Every top-level state document is an Object.
type Object map[string]Value

func (Null) isValue()   {}
func (Bool) isValue()   {}
func (Number) isValue() {}
func (String) isValue() {}
func (Array) isValue()  {}
func (Object) isValue() {}

// Kind names the variant of v, used in error messages.
func Kind(v Value) string {
	switch v.(type) {
	case nil, Null:
		return "null"
	case Bool:
		return "bool"
	case Number:
		return "number"
	case String:
		return "string"
	case Array:
		return "array"
	case Object:
		return "object"
	default:
		return fmt.Sprintf("%T", v)
	}
}

// FromAny converts a decoded JSON value (as produced by encoding/json into
// an any) into a Value. Go integer and float kinds are accepted as numbers.
func FromAny(v any) (Value, error) {
	switch t := v.(type) {
	case nil:
		return Null{}, nil
	case Value:
		return t, nil
	case bool:
		return Bool(t), nil
	case float64:
		return Number(t), nil
	case float32:
		return Number(t), nil
	case int:
		return Number(t), nil
	case int32:
		return Number(t), nil
	case int64:
		return Number(t), nil
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return nil, fmt.Errorf("invalid number %q: %w", t, err)
		}
		return Number(f), nil
	case string:
		return String(t), nil
	case []any:
		arr := make(Array, len(t))
		for i, e := range t {
			ev, err := FromAny(e)
			if err != nil {
				return nil, err
			}
			arr[i] = ev
		}
		return arr, nil
	case map[string]any:
		obj := make(Object, len(t))
		for k, e := range t {
			ev, err := FromAny(e)
			if err != nil {
				return nil, err
			}
			obj[k] = ev
		}
		return obj, nil
	default:
		return nil, fmt.Errorf("unsupported state value type %T", v)
	}
}

// ToAny converts v back into plain Go values suitable for encoding/json.
func ToAny(v Value) any {
	switch t := v.(type) {
	case nil, Null:
		return nil
	case Bool:
		return bool(t)
	case Number:
		return float64(t)
	case String:
		return string(t)
	case Array:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = ToAny(e)
		}
		return out
	case Object:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = ToAny(e)
		}
		return out
	default:
		return nil
	}
}

// Parse decodes JSON text into a Value.
func Parse(data []byte) (Value, error) {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	return FromAny(raw)
}

// ParseObject decodes JSON text that must hold an object. Empty input and
// JSON null yield an empty Object.
func ParseObject(data []byte) (Object, error) {
	if len(data) == 0 {
		return Object{}, nil
	}
	v, err := Parse(data)
	if err != nil {
		return nil, err
	}
	switch t := v.(type) {
	case Null:
		return Object{}, nil
	case Object:
		return t, nil
	default:
		return nil, fmt.Errorf("state must be a JSON object, got %s", Kind(v))
	}
}

// MarshalJSON encodes the object as a JSON object.
func (o Object) MarshalJSON() ([]byte, error) {
	if o == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(ToAny(o))
}

// UnmarshalJSON decodes a JSON object.
func (o *Object) UnmarshalJSON(data []byte) error {
	obj, err := ParseObject(data)
	if err != nil {
		return err
	}
	*o = obj
	return nil
}

// Clone returns a deep copy of the object.
func (o Object) Clone() Object {
	if o == nil {
		return Object{}
	}
	return clone(o).(Object)
}

func clone(v Value) Value {
	switch t := v.(type) {
	case Array:
		out := make(Array, len(t))
		for i, e := range t {
			out[i] = clone(e)
		}
		return out
	case Object:
		out := make(Object, len(t))
		for k, e := range t {
			out[k] = clone(e)
		}
		return out
	default:
		return v
	}
}

// Merge overlays overlay onto base at the top level. Keys present in both
// take the overlay value. Neither input is modified.
func Merge(base, overlay Object) Object {
	out := make(Object, len(base)+len(overlay))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range overlay {
		out[k] = v
	}
	return out
}

// Keys returns the object keys in sorted order.
func (o Object) Keys() []string {
	keys := make([]string, 0, len(o))
	for k := range o {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
