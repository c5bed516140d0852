package ml

import (
	"math"

	"github.com/pkg/errors"
)

// RandomForest averages the leaf probabilities of its trees.
type RandomForest struct {
	trees []*DecisionTree
}

func NewRandomForest(trees ...*DecisionTree) *RandomForest {
	return &RandomForest{trees: trees}
}

func (rf *RandomForest) Validate(width int) error {
	if len(rf.trees) == 0 {
		return errors.New("forest has no trees")
	}
	for i, tree := range rf.trees {
		if err := tree.Validate(width); err != nil {
			return errors.Wrapf(err, "tree %d", i)
		}
	}
	return nil
}

func (rf *RandomForest) Probability(features []float64) (float64, error) {
	if len(rf.trees) == 0 {
		return 0, errors.New("model not loaded")
	}
	sum := 0.0
	for i, tree := range rf.trees {
		p, err := tree.Probability(features)
		if err != nil {
			return 0, errors.Wrapf(err, "tree %d", i)
		}
		sum += p
	}
	return sum / float64(len(rf.trees)), nil
}

// LogisticRegression scores sigmoid(intercept + w·z) where z is the
// standardized input (x - mean) / scale.
type LogisticRegression struct {
	Intercept float64   `json:"intercept"`
	Weights   []float64 `json:"weights"`
	Means     []float64 `json:"means,omitempty"`
	Scales    []float64 `json:"scales,omitempty"`
}

func (lr *LogisticRegression) Validate(width int) error {
	if len(lr.Weights) != width {
		return errors.Errorf("logistic regression has %d weights, encoder width is %d", len(lr.Weights), width)
	}
	if lr.Means != nil && len(lr.Means) != width {
		return errors.Errorf("logistic regression has %d means, encoder width is %d", len(lr.Means), width)
	}
	if lr.Scales != nil {
		if len(lr.Scales) != width {
			return errors.Errorf("logistic regression has %d scales, encoder width is %d", len(lr.Scales), width)
		}
		for i, s := range lr.Scales {
			if s == 0 {
				return errors.Errorf("scale %d is zero", i)
			}
		}
	}
	return nil
}

func (lr *LogisticRegression) Probability(features []float64) (float64, error) {
	if len(features) != len(lr.Weights) {
		return 0, errors.Errorf("expected %d features, got %d", len(lr.Weights), len(features))
	}
	z := lr.Intercept
	for i, x := range features {
		if lr.Means != nil {
			x -= lr.Means[i]
		}
		if lr.Scales != nil {
			x /= lr.Scales[i]
		}
		z += lr.Weights[i] * x
	}
	return 1 / (1 + math.Exp(-z)), nil
}
