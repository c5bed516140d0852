package ml

import (
	"math"

	"github.com/pkg/errors"
)

// DecisionTree is a binary tree stored as a flat node slice with the root at
// index 0 and every child stored after its parent.
type DecisionTree struct {
	nodes []TreeNode
}

// TreeNode is one split or leaf. Leaves carry the positive-class probability.
type TreeNode struct {
	FeatureIdx  int     `json:"feature_idx"`
	Threshold   float64 `json:"threshold"`
	LeftChild   int     `json:"left_child"`
	RightChild  int     `json:"right_child"`
	Probability float64 `json:"probability"`
	IsLeaf      bool    `json:"is_leaf"`
}

// NewDecisionTree wraps nodes; call Validate before predicting.
func NewDecisionTree(nodes []TreeNode) *DecisionTree {
	return &DecisionTree{nodes: append([]TreeNode(nil), nodes...)}
}

// Validate checks that every path terminates at a leaf within range.
func (dt *DecisionTree) Validate(width int) error {
	if len(dt.nodes) == 0 {
		return errors.New("tree has no nodes")
	}
	for i, node := range dt.nodes {
		if node.IsLeaf {
			if node.Probability < 0 || node.Probability > 1 || math.IsNaN(node.Probability) {
				return errors.Errorf("node %d: leaf probability %v out of range", i, node.Probability)
			}
			continue
		}
		if node.FeatureIdx < 0 || node.FeatureIdx >= width {
			return errors.Errorf("node %d: feature index %d out of range", i, node.FeatureIdx)
		}
		for _, child := range []int{node.LeftChild, node.RightChild} {
			if child <= i || child >= len(dt.nodes) {
				return errors.Errorf("node %d: invalid child %d", i, child)
			}
		}
	}
	return nil
}

// Probability walks the tree. Values equal to a threshold go left.
func (dt *DecisionTree) Probability(features []float64) (float64, error) {
	if len(dt.nodes) == 0 {
		return 0, errors.New("model not loaded")
	}
	idx := 0
	for {
		node := dt.nodes[idx]
		if node.IsLeaf {
			return node.Probability, nil
		}
		if node.FeatureIdx < 0 || node.FeatureIdx >= len(features) {
			return 0, errors.New("feature index out of range")
		}
		if features[node.FeatureIdx] <= node.Threshold {
			idx = node.LeftChild
		} else {
			idx = node.RightChild
		}
		if idx < 0 || idx >= len(dt.nodes) {
			return 0, errors.New("invalid tree state")
		}
	}
}

// Depth returns the longest root-to-leaf path length.
func (dt *DecisionTree) Depth() int {
	if len(dt.nodes) == 0 {
		return 0
	}
	return dt.depthFrom(0)
}

func (dt *DecisionTree) depthFrom(idx int) int {
	node := dt.nodes[idx]
	if node.IsLeaf {
		return 1
	}
	left := dt.depthFrom(node.LeftChild)
	right := dt.depthFrom(node.RightChild)
	if left > right {
		return left + 1
	}
	return right + 1
}
