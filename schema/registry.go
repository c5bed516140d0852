// Package schema holds the ordered field contract the scoring model requires.
package schema

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v2"

	"churnrisk/errs"
)

// DefaultCategory fills categorical fields that declare no default.
const DefaultCategory = "No"

// FieldSpec describes one required input field.
type FieldSpec struct {
	Name    string
	Kind    Kind
	Default Value
}

// Registry is the immutable, ordered set of fields. It has no mutators; the
// accessors hand out copies.
type Registry struct {
	fields []FieldSpec
	index  map[string]int
}

// knownKinds types fields when the definition is a bare list of column names.
var knownKinds = map[string]Kind{
	"tenure":         Numeric,
	"MonthlyCharges": Numeric,
	"TotalCharges":   Numeric,
	"SeniorCitizen":  Numeric,
}

type definition struct {
	Fields []fieldDefinition `yaml:"fields"`
}

type fieldDefinition struct {
	Name    string      `yaml:"name"`
	Kind    string      `yaml:"kind"`
	Default *scalarText `yaml:"default"`
}

// scalarText keeps a default's source text. Decoding straight into interface{}
// would turn an unquoted No into false.
type scalarText string

func (s *scalarText) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var text string
	if err := unmarshal(&text); err != nil {
		return err
	}
	*s = scalarText(text)
	return nil
}

// New builds a registry from specs, rejecting empty or duplicate names.
func New(specs ...FieldSpec) (*Registry, error) {
	if len(specs) == 0 {
		return nil, fmt.Errorf("schema has no fields")
	}
	r := &Registry{
		fields: make([]FieldSpec, len(specs)),
		index:  make(map[string]int, len(specs)),
	}
	for i, spec := range specs {
		if strings.TrimSpace(spec.Name) == "" {
			return nil, fmt.Errorf("field %d has no name", i)
		}
		if _, dup := r.index[spec.Name]; dup {
			return nil, fmt.Errorf("duplicate field %q", spec.Name)
		}
		if spec.Kind != Numeric && spec.Kind != Categorical {
			return nil, fmt.Errorf("field %q: unknown kind %q", spec.Name, spec.Kind)
		}
		if spec.Default.Kind != spec.Kind {
			return nil, fmt.Errorf("field %q: default is %s, field is %s", spec.Name, spec.Default.Kind, spec.Kind)
		}
		r.fields[i] = spec
		r.index[spec.Name] = i
	}
	return r, nil
}

// Load reads a schema definition file. Any problem is a ConfigurationError.
func Load(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &errs.ConfigurationError{Artifact: "schema", Path: path, Err: err}
	}
	r, err := Parse(data)
	if err != nil {
		return nil, &errs.ConfigurationError{Artifact: "schema", Path: path, Err: err}
	}
	return r, nil
}

// Parse decodes either a YAML field list or a JSON array of column names.
func Parse(data []byte) (*Registry, error) {
	var names []string
	if err := yaml.Unmarshal(data, &names); err == nil && len(names) > 0 {
		return fromNames(names)
	}

	var def definition
	if err := yaml.UnmarshalStrict(data, &def); err != nil {
		return nil, fmt.Errorf("decode schema: %w", err)
	}
	specs := make([]FieldSpec, 0, len(def.Fields))
	for _, fd := range def.Fields {
		spec, err := fd.spec()
		if err != nil {
			return nil, err
		}
		specs = append(specs, spec)
	}
	return New(specs...)
}

func fromNames(names []string) (*Registry, error) {
	specs := make([]FieldSpec, len(names))
	for i, name := range names {
		kind, ok := knownKinds[name]
		if !ok {
			kind = Categorical
		}
		specs[i] = FieldSpec{Name: name, Kind: kind, Default: zeroDefault(kind)}
	}
	return New(specs...)
}

func (fd fieldDefinition) spec() (FieldSpec, error) {
	kind, err := ParseKind(fd.Kind)
	if err != nil {
		return FieldSpec{}, fmt.Errorf("field %q: %w", fd.Name, err)
	}
	def := zeroDefault(kind)
	if fd.Default != nil {
		v, ok := kind.Coerce(string(*fd.Default))
		if !ok {
			return FieldSpec{}, fmt.Errorf("field %q: default %q is not %s", fd.Name, string(*fd.Default), kind)
		}
		def = v
	}
	return FieldSpec{Name: fd.Name, Kind: kind, Default: def}, nil
}

func zeroDefault(kind Kind) Value {
	if kind == Numeric {
		return Number(0)
	}
	return Category(DefaultCategory)
}

// Fields returns the field specs in registry order.
func (r *Registry) Fields() []FieldSpec {
	out := make([]FieldSpec, len(r.fields))
	copy(out, r.fields)
	return out
}

// FieldNames returns the field names in registry order.
func (r *Registry) FieldNames() []string {
	out := make([]string, len(r.fields))
	for i, f := range r.fields {
		out[i] = f.Name
	}
	return out
}

// Lookup finds a field by name.
func (r *Registry) Lookup(name string) (FieldSpec, bool) {
	i, ok := r.index[name]
	if !ok {
		return FieldSpec{}, false
	}
	return r.fields[i], true
}

// Len returns the number of fields.
func (r *Registry) Len() int { return len(r.fields) }
