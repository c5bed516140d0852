package pipeline

import (
	"math"

	"churnrisk/errs"
)

// RiskLabel buckets a churn probability.
type RiskLabel string

const (
	RiskLow    RiskLabel = "LOW"
	RiskMedium RiskLabel = "MEDIUM"
	RiskHigh   RiskLabel = "HIGH"
)

// Bucket lower bounds. A probability equal to a bound belongs to the upper
// bucket.
const (
	MediumThreshold = 0.4
	HighThreshold   = 0.6
)

// RiskLabels lists the labels from lowest to highest.
var RiskLabels = []RiskLabel{RiskLow, RiskMedium, RiskHigh}

// Classify maps p to its risk label: [0, 0.4) LOW, [0.4, 0.6) MEDIUM,
// [0.6, 1] HIGH.
func Classify(p float64) (RiskLabel, error) {
	if math.IsNaN(p) || p < 0 || p > 1 {
		return "", &errs.InvalidProbabilityError{Value: p}
	}
	switch {
	case p >= HighThreshold:
		return RiskHigh, nil
	case p >= MediumThreshold:
		return RiskMedium, nil
	default:
		return RiskLow, nil
	}
}

// Title is the display form, e.g. "High risk".
func (l RiskLabel) Title() string {
	switch l {
	case RiskLow:
		return "Low risk"
	case RiskMedium:
		return "Medium risk"
	case RiskHigh:
		return "High risk"
	default:
		return string(l)
	}
}

// LabelCounts tallies records per label.
type LabelCounts map[RiskLabel]int

// CountLabels tallies the labels of scored records; every label is present.
func CountLabels(records []ScoredRecord) LabelCounts {
	counts := LabelCounts{RiskLow: 0, RiskMedium: 0, RiskHigh: 0}
	for _, rec := range records {
		counts[rec.Risk]++
	}
	return counts
}
