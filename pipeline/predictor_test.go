package pipeline

import (
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"churnrisk/errs"
	"churnrisk/schema"
)

type recordingObserver struct {
	mu   sync.Mutex
	runs []RunSummary
}

func (r *recordingObserver) ObserveRun(s RunSummary) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, s)
}

type lockedModel struct {
	mu    sync.Mutex
	inner *fakeModel
}

func (l *lockedModel) PredictProbability(values []schema.Value) (float64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.inner.PredictProbability(values)
}

func TestPredictOne(t *testing.T) {
	obs := &recordingObserver{}
	model := &fakeModel{byTenure: map[float64]float64{2: 0.612345}}
	p := NewPredictor(telcoRegistry(t), model, WithObserver(obs))

	res, err := p.PredictOne(NewRawRecord(Field{"tenure", "2"}, Field{"Contract", "Month-to-month"}))
	require.NoError(t, err)
	assert.Equal(t, 0.6123, res.Probability)
	assert.Equal(t, RiskHigh, res.Risk)
	assert.NotEmpty(t, res.RunID)

	require.Len(t, obs.runs, 1)
	assert.Equal(t, ModeSingle, obs.runs[0].Mode)
	assert.Equal(t, 1, obs.runs[0].Labels[RiskHigh])
	assert.Empty(t, obs.runs[0].ErrorKind)
}

func TestPredictOneRejectsBadType(t *testing.T) {
	obs := &recordingObserver{}
	model := &fakeModel{}
	p := NewPredictor(telcoRegistry(t), model, WithObserver(obs))

	_, err := p.PredictOne(NewRawRecord(Field{"MonthlyCharges", "seventy"}))
	var mismatch *errs.TypeMismatchError
	require.True(t, errors.As(err, &mismatch))
	assert.Equal(t, "MonthlyCharges", mismatch.Field)
	assert.Zero(t, model.calls)

	require.Len(t, obs.runs, 1)
	assert.Equal(t, "type_mismatch", obs.runs[0].ErrorKind)
}

func TestFailedRunSummaryOmitsInputValue(t *testing.T) {
	obs := &recordingObserver{}
	p := NewPredictor(telcoRegistry(t), &fakeModel{}, WithObserver(obs))

	_, err := p.PredictOne(NewRawRecord(Field{"tenure", "jane.doe@example.com"}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "jane.doe@example.com")

	require.Len(t, obs.runs, 1)
	assert.Equal(t, `field "tenure": not a valid numeric value`, obs.runs[0].Error)
	assert.NotContains(t, obs.runs[0].Error, "jane.doe")
}

func TestPredictBatch(t *testing.T) {
	input := "customerID,tenure,MonthlyCharges\n" +
		"a,1,abc\n" +
		"b,2,50\n" +
		"c,3,70\n"
	table, err := ReadTable(strings.NewReader(input), ReadOptions{})
	require.NoError(t, err)

	core, logs := observer.New(zap.DebugLevel)
	model := &fakeModel{byTenure: map[float64]float64{1: 0.1, 2: 0.45, 3: 0.95}}
	p := NewPredictor(telcoRegistry(t), model, WithLogger(zap.New(core)))

	res, err := p.PredictBatch(table)
	require.NoError(t, err)

	require.Len(t, res.Records, 3)
	assert.Equal(t, []RiskLabel{RiskLow, RiskMedium, RiskHigh}, []RiskLabel{res.Records[0].Risk, res.Records[1].Risk, res.Records[2].Risk})
	assert.Equal(t, LabelCounts{RiskLow: 1, RiskMedium: 1, RiskHigh: 1}, res.Labels)
	assert.Equal(t, []string{"customerID", "tenure", "MonthlyCharges", ProbabilityColumn, RiskColumn}, res.Header)

	require.Len(t, res.Substitutions, 1)
	assert.Equal(t, Substitution{Row: 0, Field: "MonthlyCharges", Value: "abc", Default: 0.0}, res.Substitutions[0])
	assert.Equal(t, 1, logs.FilterMessage("substituted default for malformed value").Len())
	assert.Equal(t, 1, logs.FilterMessage("prediction completed").Len())
}

func TestPredictBatchTooLarge(t *testing.T) {
	model := &fakeModel{}
	p := NewPredictor(telcoRegistry(t), model, WithMaxRows(2))
	table := &Table{Header: []string{"tenure"}, Rows: make([]RawRecord, 3)}

	_, err := p.PredictBatch(table)
	var tooLarge *errs.BatchTooLargeError
	require.True(t, errors.As(err, &tooLarge))
	assert.Equal(t, 3, tooLarge.Rows)
	assert.Equal(t, 2, tooLarge.Limit)
	assert.Zero(t, model.calls)
}

func TestPredictBatchScoringUnavailable(t *testing.T) {
	obs := &recordingObserver{}
	p := NewPredictor(telcoRegistry(t), &fakeModel{err: errors.New("corrupt")}, WithObserver(obs))
	table := &Table{Header: []string{"tenure"}, Rows: []RawRecord{NewRawRecord(Field{"tenure", "1"})}}

	_, err := p.PredictBatch(table)
	var unavailable *errs.ScoringUnavailableError
	require.True(t, errors.As(err, &unavailable))
	assert.Equal(t, "scoring_unavailable", obs.runs[0].ErrorKind)
}

func TestPredictorDefaults(t *testing.T) {
	p := NewPredictor(telcoRegistry(t), &fakeModel{}, WithMaxRows(0), WithLogger(nil))
	assert.Equal(t, DefaultMaxRows, p.MaxRows())
	assert.Equal(t, 5, p.Registry().Len())
}

func TestConcurrentRequestsDoNotShareRecords(t *testing.T) {
	model := &fakeModel{byTenure: map[float64]float64{}}
	for i := 0; i < 20; i++ {
		model.byTenure[float64(i)] = float64(i) / 20
	}
	safe := &lockedModel{inner: model}
	p := NewPredictor(telcoRegistry(t), safe)

	var wg sync.WaitGroup
	results := make([]*SingleResult, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := p.PredictOne(NewRawRecord(Field{"tenure", i}))
			if err == nil {
				results[i] = res
			}
		}(i)
	}
	wg.Wait()

	for i, res := range results {
		require.NotNil(t, res)
		assert.Equal(t, RoundProbability(float64(i)/20), res.Probability)
		tenure, _ := res.Normalized.Get("tenure")
		assert.Equal(t, float64(i), tenure.Num)
	}
}

func TestObserversFanOut(t *testing.T) {
	a, b := &recordingObserver{}, &recordingObserver{}
	Observers(a, nil, b).ObserveRun(RunSummary{ID: "x"})
	assert.Len(t, a.runs, 1)
	assert.Len(t, b.runs, 1)
}
