// Package validation runs walk-forward evaluation: a fresh forecaster is
// fitted on each sliding training window and scored on the window after it.
package validation

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"time"

	"stockcast/internal/ml/base"
	"stockcast/internal/ml/common"
	"stockcast/internal/ml/ensemble"
	"stockcast/internal/ml/folds"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const DefaultMaxSkipRatio = 0.5

// Forecaster is anything the validator can fit and score.
type Forecaster interface {
	Fit(ctx context.Context, ds *base.Dataset) error
	Forecast(X [][]float64) ([]float64, error)
}

// Factory returns a fresh, unfitted forecaster for one fold.
type Factory func() (Forecaster, error)

// FromEnsemble adapts an ensemble constructor.
func FromEnsemble(newEnsemble func() (ensemble.Ensemble, error)) Factory {
	return func() (Forecaster, error) {
		ens, err := newEnsemble()
		if err != nil {
			return nil, err
		}
		return ensembleForecaster{ens}, nil
	}
}

// FromModel adapts a single base model constructor.
func FromModel(newModel func() base.Model) Factory {
	return func() (Forecaster, error) {
		return &modelForecaster{model: newModel()}, nil
	}
}

type ensembleForecaster struct{ ens ensemble.Ensemble }

func (f ensembleForecaster) Fit(ctx context.Context, ds *base.Dataset) error {
	return f.ens.Fit(ctx, ds)
}

func (f ensembleForecaster) Forecast(X [][]float64) ([]float64, error) {
	combined, err := f.ens.Predict(X)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(combined))
	for i, c := range combined {
		out[i] = c.Value
	}
	return out, nil
}

type modelForecaster struct{ model base.Model }

func (f *modelForecaster) Fit(_ context.Context, ds *base.Dataset) error {
	return base.SafeFit(f.model, ds.X(0, ds.Len()), ds.Y(0, ds.Len()))
}

func (f *modelForecaster) Forecast(X [][]float64) ([]float64, error) {
	return base.SafePredict("model", f.model, X)
}

type FoldReport struct {
	Index               int     `json:"index"`
	TrainStart          int     `json:"train_start"`
	TrainEnd            int     `json:"train_end"`
	TestStart           int     `json:"test_start"`
	TestEnd             int     `json:"test_end"`
	Skipped             bool    `json:"skipped"`
	Error               string  `json:"error,omitempty"`
	Predictions         int     `json:"predictions"`
	DirectionalAccuracy float64 `json:"directional_accuracy"`
	MAE                 float64 `json:"mae"`
}

type Report struct {
	RunID               string        `json:"run_id"`
	NoFolds             bool          `json:"no_folds"`
	FoldsTotal          int           `json:"folds_total"`
	FoldsEvaluated      int           `json:"folds_evaluated"`
	FoldsSkipped        int           `json:"folds_skipped"`
	TotalPredictions    int           `json:"total_predictions"`
	DirectionalAccuracy float64       `json:"directional_accuracy"`
	MAE                 float64       `json:"mae"`
	RMSE                float64       `json:"rmse"`
	MAPE                float64       `json:"mape"`
	Duration            time.Duration `json:"duration"`
	Folds               []FoldReport  `json:"folds"`
}

type Validator struct {
	folds        folds.Config
	maxSkipRatio float64
	workers      int
	log          zerolog.Logger
}

type Option func(*Validator)

func WithMaxSkipRatio(r float64) Option {
	return func(v *Validator) { v.maxSkipRatio = r }
}

// WithWorkers bounds concurrently evaluated folds. Values <= 0 mean GOMAXPROCS.
func WithWorkers(n int) Option {
	return func(v *Validator) { v.workers = n }
}

func WithLogger(l zerolog.Logger) Option {
	return func(v *Validator) { v.log = l }
}

func New(cfg folds.Config, opts ...Option) (*Validator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	v := &Validator{folds: cfg, maxSkipRatio: DefaultMaxSkipRatio, log: zerolog.Nop()}
	for _, opt := range opts {
		opt(v)
	}
	if v.maxSkipRatio < 0 || v.maxSkipRatio > 1 {
		return nil, common.NewConfigurationError("max_skip_ratio", "must be in [0,1], got %g", v.maxSkipRatio)
	}
	if v.workers <= 0 {
		v.workers = runtime.GOMAXPROCS(0)
	}
	return v, nil
}

type foldOutcome struct {
	preds   []float64
	targets []float64
	err     error
}

// Validate evaluates factory across every fold of ds. A fold whose fit or
// forecast fails is skipped; more skips than the configured ratio is an
// InsufficientDataError. A dataset too short for any fold yields a report
// with NoFolds set.
func (v *Validator) Validate(ctx context.Context, factory Factory, ds *base.Dataset) (*Report, error) {
	started := time.Now()
	if err := ds.Validate(); err != nil {
		return nil, err
	}
	foldList, err := folds.Collect(ds.Len(), v.folds)
	if err != nil {
		return nil, err
	}
	runID := uuid.NewString()
	log := v.log.With().Str("run_id", runID).Logger()
	report := &Report{RunID: runID, FoldsTotal: len(foldList), Folds: make([]FoldReport, 0, len(foldList))}
	if len(foldList) == 0 {
		report.NoFolds = true
		log.Warn().Int("rows", ds.Len()).Msg("walk-forward validation produced no folds")
		return report, nil
	}

	outcomes := make([]foldOutcome, len(foldList))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(v.workers)
	for i := range foldList {
		f := foldList[i]
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			outcomes[i] = v.runFold(gctx, factory, ds, f)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("walk-forward validation: %w", err)
	}

	var allPreds, allTargets []float64
	for i, f := range foldList {
		out := outcomes[i]
		fr := FoldReport{Index: f.Index, TrainStart: f.TrainStart, TrainEnd: f.TrainEnd, TestStart: f.TestStart, TestEnd: f.TestEnd}
		if out.err != nil {
			fr.Skipped = true
			fr.Error = out.err.Error()
			report.FoldsSkipped++
			log.Warn().Err(out.err).Int("fold_index", f.Index).Msg("walk-forward fold skipped")
		} else {
			m := ComputeMetrics(out.preds, out.targets)
			fr.Predictions = m.Count
			fr.DirectionalAccuracy = m.DirectionalAccuracy
			fr.MAE = m.MAE
			report.FoldsEvaluated++
			allPreds = append(allPreds, out.preds...)
			allTargets = append(allTargets, out.targets...)
		}
		report.Folds = append(report.Folds, fr)
	}

	skipRatio := float64(report.FoldsSkipped) / float64(report.FoldsTotal)
	if skipRatio > v.maxSkipRatio {
		return nil, &common.InsufficientDataError{Reason: "too many walk-forward folds skipped", Ratio: skipRatio, Limit: v.maxSkipRatio}
	}

	m := ComputeMetrics(allPreds, allTargets)
	report.TotalPredictions = m.Count
	report.DirectionalAccuracy = m.DirectionalAccuracy
	report.MAE = m.MAE
	report.RMSE = m.RMSE
	report.MAPE = m.MAPE
	report.Duration = time.Since(started)

	log.Info().
		Int("folds", report.FoldsTotal).
		Int("skipped", report.FoldsSkipped).
		Int("predictions", report.TotalPredictions).
		Float64("directional_accuracy", report.DirectionalAccuracy).
		Float64("mae", report.MAE).
		Msg("walk-forward validation finished")
	return report, nil
}

func (v *Validator) runFold(ctx context.Context, factory Factory, ds *base.Dataset, f folds.Fold) foldOutcome {
	fc, err := factory()
	if err != nil {
		return foldOutcome{err: fmt.Errorf("build forecaster: %w", err)}
	}
	if err := fc.Fit(ctx, ds.Slice(f.TrainStart, f.TrainEnd)); err != nil {
		return foldOutcome{err: fmt.Errorf("fit fold %d: %w", f.Index, err)}
	}
	preds, err := fc.Forecast(ds.X(f.TestStart, f.TestEnd))
	if err != nil {
		return foldOutcome{err: fmt.Errorf("forecast fold %d: %w", f.Index, err)}
	}
	if len(preds) != f.TestLen() {
		return foldOutcome{err: &common.DimensionMismatchError{ModelID: "forecaster", Want: f.TestLen(), Got: len(preds)}}
	}
	return foldOutcome{preds: preds, targets: ds.Y(f.TestStart, f.TestEnd)}
}

// Metrics summarises forecasts against realised values.
type Metrics struct {
	Count               int
	DirectionalAccuracy float64
	MAE                 float64
	RMSE                float64
	MAPE                float64
}

// ComputeMetrics scores preds against actual. Direction counts only strict
// sign agreement; MAPE skips zero actuals.
func ComputeMetrics(preds, actual []float64) Metrics {
	n := min(len(preds), len(actual))
	if n == 0 {
		return Metrics{}
	}
	var hits, absSum, sqSum, pctSum float64
	pctCount := 0
	for i := 0; i < n; i++ {
		p, a := preds[i], actual[i]
		if (p > 0 && a > 0) || (p < 0 && a < 0) {
			hits++
		}
		d := math.Abs(p - a)
		absSum += d
		sqSum += d * d
		if a != 0 {
			pctSum += d / math.Abs(a)
			pctCount++
		}
	}
	m := Metrics{
		Count:               n,
		DirectionalAccuracy: hits / float64(n),
		MAE:                 absSum / float64(n),
		RMSE:                math.Sqrt(sqSum / float64(n)),
	}
	if pctCount > 0 {
		m.MAPE = pctSum / float64(pctCount)
	}
	return m
}
