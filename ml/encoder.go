package ml

import (
	"github.com/pkg/errors"

	"churnrisk/schema"
)

// Encoder turns schema values into the numeric vector the estimator was
// trained on. Numeric fields pass through; categorical fields are one-hot
// encoded over the categories seen in training. An unseen category encodes
// as all zeros.
type Encoder struct {
	features []schema.FieldSpec
	offsets  []int
	lookup   []map[string]int
	width    int
}

// NewEncoder builds an encoder. categories must list the known levels of
// every categorical feature and nothing else.
func NewEncoder(features []schema.FieldSpec, categories map[string][]string) (*Encoder, error) {
	if len(features) == 0 {
		return nil, errors.New("model has no features")
	}
	e := &Encoder{
		features: append([]schema.FieldSpec(nil), features...),
		offsets:  make([]int, len(features)),
		lookup:   make([]map[string]int, len(features)),
	}
	for i, f := range features {
		e.offsets[i] = e.width
		levels, hasLevels := categories[f.Name]
		switch f.Kind {
		case schema.Numeric:
			if hasLevels {
				return nil, errors.Errorf("numeric feature %q has categories", f.Name)
			}
			e.width++
		case schema.Categorical:
			if len(levels) == 0 {
				return nil, errors.Errorf("categorical feature %q has no categories", f.Name)
			}
			idx := make(map[string]int, len(levels))
			for j, level := range levels {
				if _, dup := idx[level]; dup {
					return nil, errors.Errorf("feature %q: duplicate category %q", f.Name, level)
				}
				idx[level] = j
			}
			e.lookup[i] = idx
			e.width += len(levels)
		default:
			return nil, errors.Errorf("feature %q: unknown kind %q", f.Name, f.Kind)
		}
	}
	for name := range categories {
		if !e.has(name) {
			return nil, errors.Errorf("categories given for unknown feature %q", name)
		}
	}
	return e, nil
}

func (e *Encoder) has(name string) bool {
	for _, f := range e.features {
		if f.Name == name {
			return true
		}
	}
	return false
}

// Width is the length of encoded vectors.
func (e *Encoder) Width() int { return e.width }

// Features returns the input feature names in order.
func (e *Encoder) Features() []string {
	names := make([]string, len(e.features))
	for i, f := range e.features {
		names[i] = f.Name
	}
	return names
}

// Encode builds a fresh vector; values are not retained.
func (e *Encoder) Encode(values []schema.Value) ([]float64, error) {
	if len(values) != len(e.features) {
		return nil, errors.Errorf("expected %d values, got %d", len(e.features), len(values))
	}
	x := make([]float64, e.width)
	for i, v := range values {
		f := e.features[i]
		if v.Kind != f.Kind {
			return nil, errors.Errorf("feature %q: expected %s value, got %s", f.Name, f.Kind, v.Kind)
		}
		if f.Kind == schema.Numeric {
			x[e.offsets[i]] = v.Num
			continue
		}
		if j, ok := e.lookup[i][v.Str]; ok {
			x[e.offsets[i]+j] = 1
		}
	}
	return x, nil
}
