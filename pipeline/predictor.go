package pipeline

import (
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"churnrisk/errs"
	"churnrisk/schema"
)

// DefaultMaxRows bounds a batch when no limit is configured.
const DefaultMaxRows = 10000

const (
	ModeSingle = "single"
	ModeBatch  = "batch"
)

// RunSummary describes one completed or failed pass through the pipeline.
// It carries counts only, never record values; Error is built by errs.Summary
// and names the failing field without its value.
type RunSummary struct {
	ID            string        `json:"id"`
	Mode          string        `json:"mode"`
	Rows          int           `json:"rows"`
	Labels        LabelCounts   `json:"labels"`
	Substitutions int           `json:"substitutions"`
	Duration      time.Duration `json:"duration"`
	ErrorKind     string        `json:"error_kind,omitempty"`
	Error         string        `json:"error,omitempty"`
	StartedAt     time.Time     `json:"started_at"`
}

// Observer is notified after every run.
type Observer interface {
	ObserveRun(RunSummary)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(RunSummary)

func (f ObserverFunc) ObserveRun(s RunSummary) { f(s) }

// Observers fans a summary out to several observers in order.
func Observers(obs ...Observer) Observer {
	return ObserverFunc(func(s RunSummary) {
		for _, o := range obs {
			if o != nil {
				o.ObserveRun(s)
			}
		}
	})
}

// SingleResult is the outcome of scoring one record.
type SingleResult struct {
	RunID       string           `json:"run_id"`
	Probability float64          `json:"churn_probability"`
	Risk        RiskLabel        `json:"risk_label"`
	Normalized  NormalizedRecord `json:"-"`
}

// BatchResult is the outcome of scoring a table.
type BatchResult struct {
	RunID         string
	Header        []string
	Records       []ScoredRecord
	Substitutions []Substitution
	Labels        LabelCounts
}

// Predictor runs normalize, score, classify and assemble. It holds only
// immutable handles; every call works on its own data.
type Predictor struct {
	registry *schema.Registry
	scorer   *Scorer
	maxRows  int
	logger   *zap.Logger
	observer Observer
	now      func() time.Time
}

// Option configures a Predictor.
type Option func(*Predictor)

// WithMaxRows sets the batch row ceiling. Non-positive values keep the default.
func WithMaxRows(n int) Option {
	return func(p *Predictor) {
		if n > 0 {
			p.maxRows = n
		}
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(p *Predictor) {
		if logger != nil {
			p.logger = logger
		}
	}
}

func WithObserver(o Observer) Option {
	return func(p *Predictor) { p.observer = o }
}

func NewPredictor(registry *schema.Registry, model Model, opts ...Option) *Predictor {
	p := &Predictor{
		registry: registry,
		scorer:   NewScorer(model),
		maxRows:  DefaultMaxRows,
		logger:   zap.NewNop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Registry returns the schema the predictor normalizes against.
func (p *Predictor) Registry() *schema.Registry { return p.registry }

// MaxRows returns the batch row ceiling.
func (p *Predictor) MaxRows() int { return p.maxRows }

// PredictOne scores a single record in strict mode: a field of the wrong
// kind aborts the request with a TypeMismatchError.
func (p *Predictor) PredictOne(raw RawRecord) (*SingleResult, error) {
	run := p.begin(ModeSingle, 1)

	normalized, err := Normalize(raw, p.registry)
	if err != nil {
		return nil, p.fail(run, err)
	}
	prob, err := p.scorer.ScoreOne(normalized)
	if err != nil {
		return nil, p.fail(run, err)
	}
	label, err := Classify(prob)
	if err != nil {
		return nil, p.fail(run, err)
	}

	run.Labels[label]++
	p.finish(run)
	return &SingleResult{RunID: run.ID, Probability: RoundProbability(prob), Risk: label, Normalized: normalized}, nil
}

// PredictBatch scores a table in lenient mode. Tables above the row ceiling
// are rejected before any scoring.
func (p *Predictor) PredictBatch(table *Table) (*BatchResult, error) {
	run := p.begin(ModeBatch, len(table.Rows))

	if len(table.Rows) > p.maxRows {
		return nil, p.fail(run, &errs.BatchTooLargeError{Rows: len(table.Rows), Limit: p.maxRows})
	}

	normalized, subs := NormalizeAll(table.Rows, p.registry)
	run.Substitutions = len(subs)
	for _, sub := range subs {
		p.logger.Debug("substituted default for malformed value",
			zap.String("run_id", run.ID),
			zap.Int("row", sub.Row),
			zap.String("field", sub.Field),
			zap.Any("value", sub.Value))
	}

	probs, err := p.scorer.Score(normalized)
	if err != nil {
		return nil, p.fail(run, err)
	}
	records, err := Assemble(table.Rows, probs)
	if err != nil {
		return nil, p.fail(run, err)
	}

	run.Labels = CountLabels(records)
	p.finish(run)
	return &BatchResult{
		RunID:         run.ID,
		Header:        ExportHeader(table.Header),
		Records:       records,
		Substitutions: subs,
		Labels:        run.Labels,
	}, nil
}

func (p *Predictor) begin(mode string, rows int) *RunSummary {
	return &RunSummary{
		ID:        uuid.NewString(),
		Mode:      mode,
		Rows:      rows,
		Labels:    LabelCounts{RiskLow: 0, RiskMedium: 0, RiskHigh: 0},
		StartedAt: p.now(),
	}
}

func (p *Predictor) fail(run *RunSummary, err error) error {
	run.ErrorKind = errs.Kind(err)
	run.Error = errs.Summary(err)
	run.Duration = p.now().Sub(run.StartedAt)
	fields := []zap.Field{
		zap.String("run_id", run.ID),
		zap.String("mode", run.Mode),
		zap.Int("rows", run.Rows),
		zap.String("error_kind", run.ErrorKind),
		zap.Error(err),
	}
	if errs.IsUserError(err) {
		p.logger.Info("prediction rejected", fields...)
	} else {
		p.logger.Error("prediction failed", fields...)
	}
	p.notify(*run)
	return err
}

func (p *Predictor) finish(run *RunSummary) {
	run.Duration = p.now().Sub(run.StartedAt)
	p.logger.Info("prediction completed",
		zap.String("run_id", run.ID),
		zap.String("mode", run.Mode),
		zap.Int("rows", run.Rows),
		zap.Int("substitutions", run.Substitutions),
		zap.Duration("duration", run.Duration))
	p.notify(*run)
}

func (p *Predictor) notify(run RunSummary) {
	if p.observer != nil {
		p.observer.ObserveRun(run)
	}
}
