package docval

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Value is a sealed interface representing one JSON value inside a record's
// data bag. Only Null, String, Number, Bool, Array, and Object implement it.
//
// Record shapes are determined entirely by caller-supplied scripts at
// runtime, so the data bag is a tagged value container rather than a fixed
// struct. Numbers are always float64 to match script-engine arithmetic.
type Value interface {
	value() // Sealed - only these types implement it
}

// Null represents a JSON null.
type Null struct{}

func (Null) value() {}

// MarshalJSON implements json.Marshaler for Null.
func (Null) MarshalJSON() ([]byte, error) {
	return []byte("null"), nil
}

// String represents a string value.
type String string

func (String) value() {}

// Number represents a numeric value. Scripts do floating-point arithmetic,
// so there is no separate integer type; integral values round-trip exactly
// up to 2^53.
type Number float64

func (Number) value() {}

// Bool represents a boolean value.
type Bool bool

func (Bool) value() {}

// Array represents an ordered list of values.
type Array []Value

func (Array) value() {}

// Object represents a string-keyed map of values. This is the type of every
// record's data bag.
type Object map[string]Value

func (Object) value() {}

// Clone returns a shallow copy of the object. Used to capture previousData
// before a merge so the change log holds a valid undo record.
func (obj Object) Clone() Object {
	if obj == nil {
		return nil
	}
	out := make(Object, len(obj))
	for k, v := range obj {
		out[k] = v
	}
	return out
}

// FromAny converts an arbitrary decoded Go value (as produced by
// encoding/json or a script engine export) into a Value.
// Unsupported types are an error, never a silent drop.
func FromAny(v any) (Value, error) {
	switch val := v.(type) {
	case nil:
		return Null{}, nil
	case bool:
		return Bool(val), nil
	case string:
		return String(val), nil
	case float64:
		return Number(val), nil
	case float32:
		return Number(val), nil
	case int:
		return Number(val), nil
	case int32:
		return Number(val), nil
	case int64:
		// goja exports integral numbers as int64
		return Number(val), nil
	case json.Number:
		f, err := val.Float64()
		if err != nil {
			return nil, fmt.Errorf("number out of range: %s", val)
		}
		return Number(f), nil
	case time.Time:
		return String(val.UTC().Format(time.RFC3339Nano)), nil
	case []any:
		arr := make(Array, len(val))
		for i, elem := range val {
			ev, err := FromAny(elem)
			if err != nil {
				return nil, fmt.Errorf("array[%d]: %w", i, err)
			}
			arr[i] = ev
		}
		return arr, nil
	case map[string]any:
		obj := make(Object, len(val))
		for k, elem := range val {
			ev, err := FromAny(elem)
			if err != nil {
				return nil, fmt.Errorf("object[%q]: %w", k, err)
			}
			obj[k] = ev
		}
		return obj, nil
	case Value:
		return val, nil
	default:
		return nil, fmt.Errorf("unsupported value type: %T", v)
	}
}

// ObjectFromAny converts a decoded map into an Object.
// A nil map converts to a nil Object.
func ObjectFromAny(m map[string]any) (Object, error) {
	if m == nil {
		return nil, nil
	}
	v, err := FromAny(m)
	if err != nil {
		return nil, err
	}
	return v.(Object), nil
}

// ToAny converts a Value back into plain Go types (map[string]any,
// []any, float64, string, bool, nil) for handing to a script engine or
// JSON encoder.
func ToAny(v Value) any {
	switch val := v.(type) {
	case nil, Null:
		return nil
	case String:
		return string(val)
	case Number:
		return float64(val)
	case Bool:
		return bool(val)
	case Array:
		out := make([]any, len(val))
		for i, elem := range val {
			out[i] = ToAny(elem)
		}
		return out
	case Object:
		out := make(map[string]any, len(val))
		for k, elem := range val {
			out[k] = ToAny(elem)
		}
		return out
	default:
		return nil
	}
}

// ToAny converts the object into a map[string]any.
func (obj Object) ToAny() map[string]any {
	if obj == nil {
		return nil
	}
	return ToAny(obj).(map[string]any)
}

// Equal reports whether two values are strictly equal: same type, same
// contents. Numbers compare numerically, so a value written as 1 matches a
// filter written as 1.0. This is the only comparison the query engine
// supports - no operators, no partial matching.
func Equal(a, b Value) bool {
	switch av := a.(type) {
	case nil, Null:
		_, null := b.(Null)
		return b == nil || null
	case String:
		bv, ok := b.(String)
		return ok && av == bv
	case Number:
		bv, ok := b.(Number)
		return ok && av == bv
	case Bool:
		bv, ok := b.(Bool)
		return ok && av == bv
	case Array:
		bv, ok := b.(Array)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !Equal(av[i], bv[i]) {
				return false
			}
		}
		return true
	case Object:
		bv, ok := b.(Object)
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, v := range av {
			other, present := bv[k]
			if !present || !Equal(v, other) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// UnmarshalJSON implements json.Unmarshaler for Object.
func (obj *Object) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*obj = make(Object, len(raw))
	for k, v := range raw {
		val, err := unmarshalValue(v)
		if err != nil {
			return fmt.Errorf("object key %q: %w", k, err)
		}
		(*obj)[k] = val
	}
	return nil
}

// UnmarshalJSON implements json.Unmarshaler for Array.
func (arr *Array) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*arr = make(Array, len(raw))
	for i, v := range raw {
		val, err := unmarshalValue(v)
		if err != nil {
			return fmt.Errorf("array index %d: %w", i, err)
		}
		(*arr)[i] = val
	}
	return nil
}

// unmarshalValue decodes a JSON value into the appropriate Value type,
// dispatching on the first byte.
func unmarshalValue(data []byte) (Value, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty JSON value")
	}

	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return nil, err
		}
		return String(s), nil

	case 't', 'f':
		var b bool
		if err := json.Unmarshal(data, &b); err != nil {
			return nil, err
		}
		return Bool(b), nil

	case 'n':
		return Null{}, nil

	case '[':
		var arr Array
		if err := json.Unmarshal(data, &arr); err != nil {
			return nil, err
		}
		return arr, nil

	case '{':
		var obj Object
		if err := json.Unmarshal(data, &obj); err != nil {
			return nil, err
		}
		return obj, nil

	default:
		var f float64
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, err
		}
		return Number(f), nil
	}
}

// Marshal serializes a Value to JSON bytes.
func Marshal(v Value) ([]byte, error) {
	switch val := v.(type) {
	case nil, Null:
		return []byte("null"), nil
	case String:
		return json.Marshal(string(val))
	case Number:
		return json.Marshal(float64(val))
	case Bool:
		return json.Marshal(bool(val))
	case Array:
		var buf bytes.Buffer
		buf.WriteByte('[')
		for i, elem := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			b, err := Marshal(elem)
			if err != nil {
				return nil, fmt.Errorf("array[%d]: %w", i, err)
			}
			buf.Write(b)
		}
		buf.WriteByte(']')
		return buf.Bytes(), nil
	case Object:
		// Delegate to encoding/json for the map so keys come out sorted.
		return json.Marshal(map[string]Value(val))
	default:
		return nil, fmt.Errorf("unknown value type: %T", v)
	}
}

// MarshalJSON implements json.Marshaler for Array.
func (arr Array) MarshalJSON() ([]byte, error) {
	return Marshal(arr)
}
