package schema

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Kind is the semantic type of a field.
type Kind string

const (
	Numeric     Kind = "numeric"
	Categorical Kind = "categorical"
)

// ParseKind accepts the kind names used in schema definitions.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "numeric", "number", "num", "float", "int":
		return Numeric, nil
	case "categorical", "category", "cat", "string", "str":
		return Categorical, nil
	default:
		return "", fmt.Errorf("unknown field kind %q", s)
	}
}

// Value is one coerced field value. Only the member matching Kind is meaningful.
type Value struct {
	Kind Kind
	Num  float64
	Str  string
}

// Number returns a numeric value.
func Number(f float64) Value { return Value{Kind: Numeric, Num: f} }

// Category returns a categorical value.
func Category(s string) Value { return Value{Kind: Categorical, Str: s} }

// Interface returns the value as float64 or string.
func (v Value) Interface() interface{} {
	if v.Kind == Numeric {
		return v.Num
	}
	return v.Str
}

func (v Value) String() string {
	if v.Kind == Numeric {
		return strconv.FormatFloat(v.Num, 'f', -1, 64)
	}
	return v.Str
}

// Coerce converts a raw scalar to k. It reports false when the value has the
// wrong shape or, for numeric fields, does not parse to a finite number.
func (k Kind) Coerce(raw interface{}) (Value, bool) {
	switch k {
	case Numeric:
		f, ok := toFloat(raw)
		if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
			return Value{}, false
		}
		return Number(f), true
	case Categorical:
		s, ok := toString(raw)
		if !ok {
			return Value{}, false
		}
		return Category(s), true
	default:
		return Value{}, false
	}
}

func toFloat(raw interface{}) (float64, bool) {
	switch v := raw.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int8:
		return float64(v), true
	case int16:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint:
		return float64(v), true
	case uint8:
		return float64(v), true
	case uint16:
		return float64(v), true
	case uint32:
		return float64(v), true
	case uint64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func toString(raw interface{}) (string, bool) {
	switch v := raw.(type) {
	case string:
		return v, true
	case json.Number:
		return v.String(), true
	case bool:
		return strconv.FormatBool(v), true
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32), true
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return fmt.Sprint(v), true
	default:
		return "", false
	}
}
