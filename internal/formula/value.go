package formula

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Type is the runtime type of a Value.
type Type int

const (
	TypeNumber Type = iota
	TypeBool
	TypeString
)

func (t Type) String() string {
	switch t {
	case TypeNumber:
		return "number"
	case TypeBool:
		return "boolean"
	case TypeString:
		return "string"
	}
	return "unknown"
}

// Value is the result of evaluating an expression: a number, a boolean or a
// string.
type Value struct {
	typ Type
	num float64
	b   bool
	str string
}

// Number returns a numeric Value.
func Number(f float64) Value { return Value{typ: TypeNumber, num: f} }

// Bool returns a boolean Value.
func Bool(b bool) Value { return Value{typ: TypeBool, b: b} }

// String returns a string Value.
func String(s string) Value { return Value{typ: TypeString, str: s} }

// Type returns the value's runtime type.
func (v Value) Type() Type { return v.typ }

// Number returns the numeric form of the value. Strings holding a finite
// decimal number are coerced, since select variables often arrive as text.
func (v Value) Number() (float64, bool) {
	switch v.typ {
	case TypeNumber:
		return v.num, true
	case TypeString:
		f, err := strconv.ParseFloat(strings.TrimSpace(v.str), 64)
		if err != nil || math.IsInf(f, 0) || math.IsNaN(f) {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

// Bool returns the boolean form of the value.
func (v Value) Bool() (bool, bool) {
	if v.typ != TypeBool {
		return false, false
	}
	return v.b, true
}

// Text returns the string form of a string value.
func (v Value) Text() (string, bool) {
	if v.typ != TypeString {
		return "", false
	}
	return v.str, true
}

// Interface returns the value as a plain Go value.
func (v Value) Interface() any {
	switch v.typ {
	case TypeNumber:
		return v.num
	case TypeBool:
		return v.b
	default:
		return v.str
	}
}

func (v Value) String() string {
	switch v.typ {
	case TypeNumber:
		return strconv.FormatFloat(v.num, 'f', -1, 64)
	case TypeBool:
		return strconv.FormatBool(v.b)
	default:
		return strconv.Quote(v.str)
	}
}

// ValueOf converts a caller-supplied Go value into a Value.
func ValueOf(x any) (Value, bool) {
	switch tv := x.(type) {
	case Value:
		return tv, true
	case float64:
		return Number(tv), true
	case float32:
		return Number(float64(tv)), true
	case int:
		return Number(float64(tv)), true
	case int32:
		return Number(float64(tv)), true
	case int64:
		return Number(float64(tv)), true
	case uint:
		return Number(float64(tv)), true
	case uint64:
		return Number(float64(tv)), true
	case bool:
		return Bool(tv), true
	case string:
		return String(tv), true
	case json.Number:
		f, err := tv.Float64()
		if err != nil {
			return Value{}, false
		}
		return Number(f), true
	}
	return Value{}, false
}

// Scope resolves identifiers during evaluation.
type Scope interface {
	Lookup(name string) (Value, bool)
}

// MapScope is a Scope over a plain map of Go values.
type MapScope map[string]any

// Lookup implements Scope.
func (m MapScope) Lookup(name string) (Value, bool) {
	x, ok := m[name]
	if !ok {
		return Value{}, false
	}
	return ValueOf(x)
}
