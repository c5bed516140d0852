package pipeline

import (
	"errors"
	"fmt"
	"math"

	"churnrisk/errs"
	"churnrisk/schema"
)

// Model is the opaque scoring capability. Values arrive in schema order.
type Model interface {
	PredictProbability(values []schema.Value) (float64, error)
}

// BatchModel is a Model that can score many records in one call.
type BatchModel interface {
	Model
	PredictProbabilities(rows [][]schema.Value) ([]float64, error)
}

// Scorer adapts a Model to normalized records. Any failure of the model,
// including a panic or an out-of-range output, surfaces as a
// ScoringUnavailableError. Nothing is retried.
type Scorer struct {
	model Model
}

func NewScorer(model Model) *Scorer {
	return &Scorer{model: model}
}

// Score returns one probability per record, in input order.
func (s *Scorer) Score(records []NormalizedRecord) (probs []float64, err error) {
	if s == nil || s.model == nil {
		return nil, &errs.ScoringUnavailableError{Err: errors.New("no model loaded")}
	}
	if len(records) == 0 {
		return []float64{}, nil
	}

	defer func() {
		if r := recover(); r != nil {
			probs = nil
			err = &errs.ScoringUnavailableError{Err: fmt.Errorf("model panicked: %v", r)}
		}
	}()

	rows := make([][]schema.Value, len(records))
	for i, rec := range records {
		rows[i] = rec.Values()
	}

	if batch, ok := s.model.(BatchModel); ok {
		probs, err = batch.PredictProbabilities(rows)
		if err != nil {
			return nil, &errs.ScoringUnavailableError{Err: err}
		}
	} else {
		probs = make([]float64, len(rows))
		for i, row := range rows {
			p, err := s.model.PredictProbability(row)
			if err != nil {
				return nil, &errs.ScoringUnavailableError{Err: fmt.Errorf("row %d: %w", i, err)}
			}
			probs[i] = p
		}
	}

	if len(probs) != len(records) {
		return nil, &errs.ScoringUnavailableError{Err: fmt.Errorf("model returned %d probabilities for %d records", len(probs), len(records))}
	}
	for i, p := range probs {
		if math.IsNaN(p) || p < 0 || p > 1 {
			return nil, &errs.ScoringUnavailableError{Err: fmt.Errorf("row %d: model returned probability %v", i, p)}
		}
	}
	return probs, nil
}

// ScoreOne is Score for a single record.
func (s *Scorer) ScoreOne(record NormalizedRecord) (float64, error) {
	probs, err := s.Score([]NormalizedRecord{record})
	if err != nil {
		return 0, err
	}
	return probs[0], nil
}
