package value

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Value is a sealed interface representing attribute values.
// Only Null, String, Int, Float and Bool implement it.
type Value interface {
	scalar() // Sealed - only these types implement it
}

// Null is the absent value. A nil Value is treated as Null everywhere.
type Null struct{}

func (Null) scalar() {}

// String is a text value.
type String string

func (String) scalar() {}

// Int is a 64-bit integer value.
type Int int64

func (Int) scalar() {}

// Float is a 64-bit floating point value.
type Float float64

func (Float) scalar() {}

// Bool is a boolean value.
type Bool bool

func (Bool) scalar() {}

// Type names the scalar type of an attribute.
type Type string

const (
	TypeString Type = "string"
	TypeInt    Type = "int"
	TypeFloat  Type = "float"
	TypeBool   Type = "bool"
)

// Valid reports whether t is one of the known scalar types.
func (t Type) Valid() bool {
	switch t {
	case TypeString, TypeInt, TypeFloat, TypeBool:
		return true
	}
	return false
}

// IsNumeric reports whether t is int or float.
func (t Type) IsNumeric() bool {
	return t == TypeInt || t == TypeFloat
}

// IsNull reports whether v is nil or Null.
func IsNull(v Value) bool {
	if v == nil {
		return true
	}
	_, ok := v.(Null)
	return ok
}

// TypeOf returns the scalar type of v. Returns false for Null.
func TypeOf(v Value) (Type, bool) {
	switch v.(type) {
	case String:
		return TypeString, true
	case Int:
		return TypeInt, true
	case Float:
		return TypeFloat, true
	case Bool:
		return TypeBool, true
	default:
		return "", false
	}
}

// Conforms reports whether v may be stored in an attribute of type t.
// Null conforms to every type; Int conforms to float.
func Conforms(t Type, v Value) bool {
	if IsNull(v) {
		return true
	}
	vt, _ := TypeOf(v)
	if vt == t {
		return true
	}
	return t == TypeFloat && vt == TypeInt
}

// Coerce converts v to the representation of type t.
// Int widens to Float; an integral Float narrows to Int. Anything else
// that does not already have type t is an error.
func Coerce(t Type, v Value) (Value, error) {
	if IsNull(v) {
		return Null{}, nil
	}
	switch t {
	case TypeFloat:
		switch n := v.(type) {
		case Float:
			return n, nil
		case Int:
			return Float(n), nil
		}
	case TypeInt:
		switch n := v.(type) {
		case Int:
			return n, nil
		case Float:
			if math.Trunc(float64(n)) == float64(n) && !math.IsInf(float64(n), 0) {
				return Int(int64(n)), nil
			}
		}
	default:
		if vt, _ := TypeOf(v); vt == t {
			return v, nil
		}
	}
	return nil, fmt.Errorf("cannot use %s as %s", Describe(v), t)
}

// FromGo converts a native Go value into a Value.
// Supports nil, string, bool, all int kinds, float32/64 and json.Number.
func FromGo(v any) (Value, error) {
	switch val := v.(type) {
	case nil:
		return Null{}, nil
	case Value:
		return val, nil
	case string:
		return String(val), nil
	case []byte:
		return String(val), nil
	case bool:
		return Bool(val), nil
	case int:
		return Int(val), nil
	case int8:
		return Int(val), nil
	case int16:
		return Int(val), nil
	case int32:
		return Int(val), nil
	case int64:
		return Int(val), nil
	case uint8:
		return Int(val), nil
	case uint16:
		return Int(val), nil
	case uint32:
		return Int(val), nil
	case float32:
		return Float(val), nil
	case float64:
		return Float(val), nil
	case json.Number:
		return fromNumber(string(val))
	default:
		return nil, fmt.Errorf("unsupported type: %T", v)
	}
}

// ToGo converts a Value into the native Go value used as a SQL parameter.
func ToGo(v Value) any {
	switch val := v.(type) {
	case String:
		return string(val)
	case Int:
		return int64(val)
	case Float:
		return float64(val)
	case Bool:
		return bool(val)
	default:
		return nil
	}
}

// Describe renders v for error messages, e.g. `string "abc"` or `null`.
func Describe(v Value) string {
	switch val := v.(type) {
	case String:
		return fmt.Sprintf("string %q", string(val))
	case Int:
		return fmt.Sprintf("int %d", int64(val))
	case Float:
		return fmt.Sprintf("float %s", strconv.FormatFloat(float64(val), 'g', -1, 64))
	case Bool:
		return fmt.Sprintf("bool %t", bool(val))
	default:
		return "null"
	}
}

// Marshal encodes v as a JSON scalar.
func Marshal(v Value) ([]byte, error) {
	switch val := v.(type) {
	case nil, Null:
		return []byte("null"), nil
	case String:
		return json.Marshal(string(val))
	case Int:
		return json.Marshal(int64(val))
	case Float:
		f := float64(val)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, fmt.Errorf("cannot encode %v", f)
		}
		return json.Marshal(f)
	case Bool:
		return json.Marshal(bool(val))
	default:
		return nil, fmt.Errorf("unknown Value type: %T", v)
	}
}

// Unmarshal decodes a JSON scalar into a Value.
// Numbers without fraction or exponent decode as Int, all others as Float.
// Arrays and objects are rejected.
func Unmarshal(data []byte) (Value, error) {
	data = bytes.TrimSpace(data)
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
	case '[', '{':
		return nil, fmt.Errorf("composite JSON values are not scalars: %s", string(data))
	default:
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return nil, err
		}
		return fromNumber(string(n))
	}
}

func fromNumber(s string) (Value, error) {
	if !strings.ContainsAny(s, ".eE") {
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return Int(i), nil
		}
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid number %q: %w", s, err)
	}
	return Float(f), nil
}

// MarshalMap encodes an attribute map as a JSON object with sorted keys.
func MarshalMap(m map[string]Value) ([]byte, error) {
	keys := SortedKeys(m)
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		keyBytes, err := json.Marshal(k)
		if err != nil {
			return nil, fmt.Errorf("marshal key %q: %w", k, err)
		}
		buf.Write(keyBytes)
		buf.WriteByte(':')

		valBytes, err := Marshal(m[k])
		if err != nil {
			return nil, fmt.Errorf("marshal value for key %q: %w", k, err)
		}
		buf.Write(valBytes)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalMap decodes a JSON object of scalars into an attribute map.
func UnmarshalMap(data []byte) (map[string]Value, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	m := make(map[string]Value, len(raw))
	for k, v := range raw {
		val, err := Unmarshal(v)
		if err != nil {
			return nil, fmt.Errorf("key %q: %w", k, err)
		}
		m[k] = val
	}
	return m, nil
}
