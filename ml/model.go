package ml

import (
	"github.com/pkg/errors"

	"churnrisk/schema"
)

// Estimator maps an encoded feature vector to the positive-class probability.
type Estimator interface {
	Probability(x []float64) (float64, error)
	Validate(width int) error
}

// Info describes a loaded model artifact.
type Info struct {
	Name     string   `json:"name"`
	Version  string   `json:"version"`
	Type     string   `json:"type"`
	Features []string `json:"features"`
	SHA256   string   `json:"sha256"`
}

// Pipeline is a pre-trained scoring capability: a categorical encoder
// followed by an estimator. It is immutable after loading and safe for
// concurrent use.
type Pipeline struct {
	info      Info
	encoder   *Encoder
	estimator Estimator
}

// NewPipeline assembles a pipeline from parts.
func NewPipeline(info Info, encoder *Encoder, estimator Estimator) (*Pipeline, error) {
	if encoder == nil || estimator == nil {
		return nil, errors.New("encoder and estimator are required")
	}
	if err := estimator.Validate(encoder.Width()); err != nil {
		return nil, err
	}
	info.Features = encoder.Features()
	return &Pipeline{info: info, encoder: encoder, estimator: estimator}, nil
}

// Info returns the artifact metadata.
func (p *Pipeline) Info() Info {
	info := p.info
	info.Features = append([]string(nil), p.info.Features...)
	return info
}

// PredictProbability scores one record given in feature order.
func (p *Pipeline) PredictProbability(values []schema.Value) (float64, error) {
	x, err := p.encoder.Encode(values)
	if err != nil {
		return 0, err
	}
	return p.estimator.Probability(x)
}

// PredictProbabilities scores records in order and stops at the first failure.
func (p *Pipeline) PredictProbabilities(rows [][]schema.Value) ([]float64, error) {
	out := make([]float64, len(rows))
	for i, row := range rows {
		prob, err := p.PredictProbability(row)
		if err != nil {
			return nil, errors.Wrapf(err, "row %d", i)
		}
		out[i] = prob
	}
	return out, nil
}
