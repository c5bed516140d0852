package pipeline

import (
	"math"

	"churnrisk/errs"
)

// Output columns appended to every scored record.
const (
	ProbabilityColumn = "churn_probability"
	RiskColumn        = "risk_label"
)

// ScoredRecord is a raw record with its probability and label. Record holds
// every original field in original order followed by the two output
// columns.
type ScoredRecord struct {
	Record      RawRecord
	Probability float64
	Risk        RiskLabel
}

// RoundProbability rounds p to 4 decimal places.
func RoundProbability(p float64) float64 {
	return math.Round(p*1e4) / 1e4
}

// Assemble pairs raws[i] with probabilities[i]. Order is preserved and no
// record is dropped. An input column already named churn_probability or
// risk_label is overwritten in place.
func Assemble(raws []RawRecord, probabilities []float64) ([]ScoredRecord, error) {
	if len(raws) != len(probabilities) {
		return nil, &errs.ArityMismatchError{Records: len(raws), Probabilities: len(probabilities)}
	}
	out := make([]ScoredRecord, len(raws))
	for i, raw := range raws {
		label, err := Classify(probabilities[i])
		if err != nil {
			return nil, err
		}
		rounded := RoundProbability(probabilities[i])
		out[i] = ScoredRecord{
			Record:      raw.With(ProbabilityColumn, rounded).With(RiskColumn, string(label)),
			Probability: rounded,
			Risk:        label,
		}
	}
	return out, nil
}
