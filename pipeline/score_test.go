package pipeline

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"churnrisk/errs"
	"churnrisk/schema"
)

// fakeModel returns probabilities keyed by tenure.
type fakeModel struct {
	byTenure map[float64]float64
	err      error
	calls    int
}

func (f *fakeModel) PredictProbability(values []schema.Value) (float64, error) {
	f.calls++
	if f.err != nil {
		return 0, f.err
	}
	p, ok := f.byTenure[values[0].Num]
	if !ok {
		return 0.5, nil
	}
	return p, nil
}

type fakeBatchModel struct {
	fakeModel
	batchCalls int
	short      bool
}

func (f *fakeBatchModel) PredictProbabilities(rows [][]schema.Value) ([]float64, error) {
	f.batchCalls++
	out := make([]float64, 0, len(rows))
	for _, row := range rows {
		p, err := f.PredictProbability(row)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if f.short {
		out = out[:len(out)-1]
	}
	return out, nil
}

type panicModel struct{}

func (panicModel) PredictProbability([]schema.Value) (float64, error) {
	panic("index out of range")
}

func normalized(t *testing.T, tenures ...float64) []NormalizedRecord {
	t.Helper()
	raws := make([]RawRecord, len(tenures))
	for i, tenure := range tenures {
		raws[i] = NewRawRecord(Field{"tenure", tenure})
	}
	recs, subs := NormalizeAll(raws, telcoRegistry(t))
	require.Empty(t, subs)
	return recs
}

func TestScorePreservesOrder(t *testing.T) {
	model := &fakeModel{byTenure: map[float64]float64{1: 0.9, 2: 0.1, 3: 0.45}}
	probs, err := NewScorer(model).Score(normalized(t, 1, 2, 3))
	require.NoError(t, err)
	assert.Equal(t, []float64{0.9, 0.1, 0.45}, probs)
	assert.Equal(t, 3, model.calls)
}

func TestScoreUsesBatchModel(t *testing.T) {
	model := &fakeBatchModel{fakeModel: fakeModel{byTenure: map[float64]float64{1: 0.2}}}
	probs, err := NewScorer(model).Score(normalized(t, 1, 1))
	require.NoError(t, err)
	assert.Equal(t, []float64{0.2, 0.2}, probs)
	assert.Equal(t, 1, model.batchCalls)
}

func TestScoreOne(t *testing.T) {
	model := &fakeModel{byTenure: map[float64]float64{7: 0.55}}
	p, err := NewScorer(model).ScoreOne(normalized(t, 7)[0])
	require.NoError(t, err)
	assert.Equal(t, 0.55, p)
}

func TestScoreEmptyBatchSkipsModel(t *testing.T) {
	model := &fakeModel{}
	probs, err := NewScorer(model).Score(nil)
	require.NoError(t, err)
	assert.Empty(t, probs)
	assert.Zero(t, model.calls)
}

func TestScoreFailuresAreUnavailable(t *testing.T) {
	cases := map[string]Model{
		"error":        &fakeModel{err: errors.New("model file truncated")},
		"panic":        panicModel{},
		"out of range": &fakeModel{byTenure: map[float64]float64{1: 1.5}},
		"nan":          &fakeModel{byTenure: map[float64]float64{1: math.NaN()}},
		"short batch":  &fakeBatchModel{short: true},
		"nil model":    nil,
	}
	for name, model := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := NewScorer(model).Score(normalized(t, 1))
			var unavailable *errs.ScoringUnavailableError
			assert.True(t, errors.As(err, &unavailable), "got %v", err)
		})
	}
}

func TestScoreDoesNotRetry(t *testing.T) {
	model := &fakeModel{err: errors.New("boom")}
	_, err := NewScorer(model).Score(normalized(t, 1, 2))
	require.Error(t, err)
	assert.Equal(t, 1, model.calls)
}

func TestScoreDoesNotMutateInput(t *testing.T) {
	recs := normalized(t, 4)
	before := recs[0].Values()
	_, err := NewScorer(&fakeModel{}).Score(recs)
	require.NoError(t, err)
	assert.Equal(t, before, recs[0].Values())
}
