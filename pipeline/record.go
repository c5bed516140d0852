// Package pipeline turns raw customer records into scored, risk-labelled
// results: normalize, score, classify, assemble.
package pipeline

import (
	"sort"

	"churnrisk/schema"
)

// Field is one named value of a raw record.
type Field struct {
	Name  string
	Value interface{}
}

// RawRecord is a record as supplied by a form or an uploaded table. It keeps
// its fields in arrival order and may hold fields outside the schema.
type RawRecord struct {
	fields []Field
}

// NewRawRecord builds a record. A repeated name replaces the earlier value in
// place.
func NewRawRecord(fields ...Field) RawRecord {
	r := RawRecord{fields: make([]Field, 0, len(fields))}
	for _, f := range fields {
		r = r.With(f.Name, f.Value)
	}
	return r
}

// RawRecordFromMap orders the map's keys by order first, then the remaining
// keys alphabetically.
func RawRecordFromMap(values map[string]interface{}, order []string) RawRecord {
	fields := make([]Field, 0, len(values))
	seen := make(map[string]bool, len(values))
	for _, name := range order {
		if v, ok := values[name]; ok && !seen[name] {
			fields = append(fields, Field{Name: name, Value: v})
			seen[name] = true
		}
	}
	rest := make([]string, 0, len(values)-len(fields))
	for name := range values {
		if !seen[name] {
			rest = append(rest, name)
		}
	}
	sort.Strings(rest)
	for _, name := range rest {
		fields = append(fields, Field{Name: name, Value: values[name]})
	}
	return RawRecord{fields: fields}
}

// Get returns the value of name.
func (r RawRecord) Get(name string) (interface{}, bool) {
	for _, f := range r.fields {
		if f.Name == name {
			return f.Value, true
		}
	}
	return nil, false
}

// Names returns the field names in order.
func (r RawRecord) Names() []string {
	names := make([]string, len(r.fields))
	for i, f := range r.fields {
		names[i] = f.Name
	}
	return names
}

// Fields returns a copy of the fields.
func (r RawRecord) Fields() []Field {
	return append([]Field(nil), r.fields...)
}

// Len returns the number of fields.
func (r RawRecord) Len() int { return len(r.fields) }

// With returns a copy of r with name set to value. An existing field keeps its
// position; a new one is appended. r itself is not modified.
func (r RawRecord) With(name string, value interface{}) RawRecord {
	fields := make([]Field, len(r.fields), len(r.fields)+1)
	copy(fields, r.fields)
	for i := range fields {
		if fields[i].Name == name {
			fields[i].Value = value
			return RawRecord{fields: fields}
		}
	}
	return RawRecord{fields: append(fields, Field{Name: name, Value: value})}
}

// NormalizedRecord holds exactly the registry's fields, in registry order,
// coerced to their kinds.
type NormalizedRecord struct {
	names  []string
	values []schema.Value
}

// Names returns the field names in registry order.
func (n NormalizedRecord) Names() []string {
	return append([]string(nil), n.names...)
}

// Values returns the coerced values in registry order.
func (n NormalizedRecord) Values() []schema.Value {
	return append([]schema.Value(nil), n.values...)
}

// Get returns the value of name.
func (n NormalizedRecord) Get(name string) (schema.Value, bool) {
	for i, fieldName := range n.names {
		if fieldName == name {
			return n.values[i], true
		}
	}
	return schema.Value{}, false
}

// Len returns the number of fields.
func (n NormalizedRecord) Len() int { return len(n.values) }

// Map returns the record as name -> float64 or string.
func (n NormalizedRecord) Map() map[string]interface{} {
	out := make(map[string]interface{}, len(n.names))
	for i, name := range n.names {
		out[name] = n.values[i].Interface()
	}
	return out
}
