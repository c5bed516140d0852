package ml

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"

	"github.com/pkg/errors"

	"churnrisk/errs"
	"churnrisk/schema"
)

const (
	TypeDecisionTree       = "decision_tree"
	TypeRandomForest       = "random_forest"
	TypeLogisticRegression = "logistic_regression"
)

// artifact is the serialized form of a trained pipeline.
type artifact struct {
	Name       string              `json:"name"`
	Version    string              `json:"version"`
	Type       string              `json:"type"`
	Features   []string            `json:"features"`
	Categories map[string][]string `json:"categories"`
	Tree       []TreeNode          `json:"tree,omitempty"`
	Trees      [][]TreeNode        `json:"trees,omitempty"`
	Logistic   *LogisticRegression `json:"logistic,omitempty"`
}

// LoadModel reads a model artifact and checks it against the schema: the
// artifact's features must be the registry's fields, in registry order.
// Every failure is a ConfigurationError.
func LoadModel(path string, registry *schema.Registry) (*Pipeline, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		return nil, &errs.ConfigurationError{Artifact: "model", Path: path, Err: err}
	}
	model, err := ParseModel(payload, registry)
	if err != nil {
		return nil, &errs.ConfigurationError{Artifact: "model", Path: path, Err: err}
	}
	return model, nil
}

// ParseModel decodes an artifact from memory.
func ParseModel(payload []byte, registry *schema.Registry) (*Pipeline, error) {
	if registry == nil {
		return nil, errors.New("schema registry is required")
	}
	var art artifact
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&art); err != nil {
		return nil, errors.Wrap(err, "decode model")
	}

	features, err := matchSchema(art.Features, registry)
	if err != nil {
		return nil, err
	}
	encoder, err := NewEncoder(features, art.Categories)
	if err != nil {
		return nil, err
	}
	estimator, err := art.estimator()
	if err != nil {
		return nil, err
	}

	sum := sha256.Sum256(payload)
	info := Info{
		Name:    art.Name,
		Version: art.Version,
		Type:    art.Type,
		SHA256:  hex.EncodeToString(sum[:]),
	}
	return NewPipeline(info, encoder, estimator)
}

func matchSchema(names []string, registry *schema.Registry) ([]schema.FieldSpec, error) {
	want := registry.FieldNames()
	if len(names) != len(want) {
		return nil, errors.Errorf("model expects %d features, schema has %d", len(names), len(want))
	}
	specs := make([]schema.FieldSpec, len(names))
	for i, name := range names {
		if name != want[i] {
			return nil, errors.Errorf("feature %d is %q, schema has %q", i, name, want[i])
		}
		specs[i], _ = registry.Lookup(name)
	}
	return specs, nil
}

func (a artifact) estimator() (Estimator, error) {
	switch a.Type {
	case TypeDecisionTree:
		return NewDecisionTree(a.Tree), nil
	case TypeRandomForest:
		trees := make([]*DecisionTree, len(a.Trees))
		for i, nodes := range a.Trees {
			trees[i] = NewDecisionTree(nodes)
		}
		return NewRandomForest(trees...), nil
	case TypeLogisticRegression:
		if a.Logistic == nil {
			return nil, errors.New("logistic regression artifact has no coefficients")
		}
		return a.Logistic, nil
	default:
		return nil, errors.Errorf("unsupported model type %q", a.Type)
	}
}
