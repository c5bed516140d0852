package pipeline

import (
	"math"
	"strings"

	"churnrisk/errs"
	"churnrisk/schema"
)

// missingMarkers are cell texts read as "no value", as spreadsheet exports
// and pandas write them.
var missingMarkers = map[string]bool{
	"":     true,
	"nan":  true,
	"NaN":  true,
	"-nan": true,
	"NA":   true,
	"N/A":  true,
	"n/a":  true,
	"#N/A": true,
	"<NA>": true,
	"null": true,
	"NULL": true,
	"None": true,
}

// Substitution records a batch value that failed coercion and was replaced
// by the field default.
type Substitution struct {
	Row     int         `json:"row"`
	Field   string      `json:"field"`
	Value   interface{} `json:"value"`
	Default interface{} `json:"default"`
}

// Normalize coerces one record strictly: a value of the wrong kind fails with
// a TypeMismatchError. Only absent or null fields take their defaults; a
// present string such as "NaN" or "" is coerced like any other value. Fields
// outside the schema are dropped.
func Normalize(raw RawRecord, registry *schema.Registry) (NormalizedRecord, error) {
	return normalize(raw, registry.Fields(), registry.FieldNames(), -1, nil)
}

// NormalizeAll coerces a batch leniently and never fails. Blank cells and
// missing markers such as "NaN" or "N/A" take the default silently. A value
// that cannot be coerced is treated as missing; each such replacement is returned as a
// Substitution. Output order matches input order.
func NormalizeAll(raws []RawRecord, registry *schema.Registry) ([]NormalizedRecord, []Substitution) {
	fields := registry.Fields()
	names := registry.FieldNames()
	out := make([]NormalizedRecord, len(raws))
	var subs []Substitution
	for i, raw := range raws {
		onMismatch := func(spec schema.FieldSpec, value interface{}) {
			subs = append(subs, Substitution{Row: i, Field: spec.Name, Value: value, Default: spec.Default.Interface()})
		}
		// lenient mode never returns an error
		out[i], _ = normalize(raw, fields, names, i, onMismatch)
	}
	return out, subs
}

// normalize fails on the first mismatch when onMismatch is nil, otherwise it
// reports the mismatch and falls back to the default.
func normalize(raw RawRecord, fields []schema.FieldSpec, names []string, row int, onMismatch func(schema.FieldSpec, interface{})) (NormalizedRecord, error) {
	values := make([]schema.Value, len(fields))
	for i, spec := range fields {
		value, ok := raw.Get(spec.Name)
		if !ok || value == nil || (onMismatch != nil && isMissing(value)) {
			values[i] = spec.Default
			continue
		}
		coerced, ok := spec.Kind.Coerce(value)
		if !ok {
			if onMismatch == nil {
				return NormalizedRecord{}, &errs.TypeMismatchError{Row: row, Field: spec.Name, Kind: string(spec.Kind), Value: value}
			}
			onMismatch(spec, value)
			coerced = spec.Default
		}
		values[i] = coerced
	}
	return NormalizedRecord{names: names, values: values}, nil
}

func isMissing(value interface{}) bool {
	switch v := value.(type) {
	case nil:
		return true
	case string:
		return missingMarkers[strings.TrimSpace(v)]
	case float64:
		return math.IsNaN(v)
	default:
		return false
	}
}
