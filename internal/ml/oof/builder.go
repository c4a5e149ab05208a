// Package oof builds out-of-fold prediction matrices for stacking and fits
// the production copies of every base model.
package oof

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	"stockcast/internal/ml/base"
	"stockcast/internal/ml/common"
	"stockcast/internal/ml/folds"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const DefaultMaxUncoveredRatio = 0.20

// Recorder observes every (model, fold) unit of work.
type Recorder interface {
	ObserveUnit(modelID string, failed bool, elapsed time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) ObserveUnit(string, bool, time.Duration) {}

type Builder struct {
	folds        folds.Config
	maxUncovered float64
	workers      int
	unitTimeout  time.Duration
	log          zerolog.Logger
	rec          Recorder
}

type Option func(*Builder)

func WithMaxUncoveredRatio(r float64) Option {
	return func(b *Builder) { b.maxUncovered = r }
}

// WithWorkers bounds concurrent units. Values <= 0 mean GOMAXPROCS.
func WithWorkers(n int) Option {
	return func(b *Builder) { b.workers = n }
}

// WithUnitTimeout limits one clone's fit+predict. Zero disables the limit.
func WithUnitTimeout(d time.Duration) Option {
	return func(b *Builder) { b.unitTimeout = d }
}

func WithLogger(l zerolog.Logger) Option {
	return func(b *Builder) { b.log = l }
}

func WithRecorder(r Recorder) Option {
	return func(b *Builder) {
		if r != nil {
			b.rec = r
		}
	}
}

func NewBuilder(cfg folds.Config, opts ...Option) (*Builder, error) {
	b := &Builder{
		folds:        cfg,
		maxUncovered: DefaultMaxUncoveredRatio,
		log:          zerolog.Nop(),
		rec:          nopRecorder{},
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.maxUncovered < 0 || b.maxUncovered > 1 {
		return nil, common.NewConfigurationError("max_uncovered_ratio", "must be in [0,1], got %g", b.maxUncovered)
	}
	if b.unitTimeout < 0 {
		return nil, common.NewConfigurationError("unit_timeout", "must be >= 0")
	}
	if b.workers <= 0 {
		b.workers = runtime.GOMAXPROCS(0)
	}
	return b, nil
}

// Matrix is the n×m out-of-fold prediction matrix. Uncovered cells hold the
// target mean.
type Matrix struct {
	ModelIDs    []string
	Values      [][]float64
	Covered     []bool
	CellCovered [][]bool
	Folds       []folds.Fold
	Failures    []error
	Warnings    []string
}

func (m *Matrix) UncoveredRatio() float64 {
	if len(m.Covered) == 0 {
		return 1
	}
	missing := 0
	for _, ok := range m.Covered {
		if !ok {
			missing++
		}
	}
	return float64(missing) / float64(len(m.Covered))
}

type Result struct {
	Matrix *Matrix
	// Production holds full-dataset fits aligned with the input specs.
	Production []base.Model
}

// Build fills the OOF matrix and fits the production models.
func (b *Builder) Build(ctx context.Context, ds *base.Dataset, specs []base.Spec) (*Result, error) {
	if err := base.ValidateSpecs(specs); err != nil {
		return nil, err
	}
	if err := ds.Validate(); err != nil {
		return nil, err
	}
	n, m := ds.Len(), len(specs)
	foldList, err := folds.Collect(n, b.folds)
	if err != nil {
		return nil, err
	}

	// One slot per unit; merged in fold order once every unit is done so
	// overlapping sliding test ranges resolve deterministically.
	slots := make([][]float64, len(foldList)*m)
	failures := make([]error, len(foldList)*m)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.workers)
	for fi := range foldList {
		f := foldList[fi]
		trainX, trainY := ds.X(f.TrainStart, f.TrainEnd), ds.Y(f.TrainStart, f.TrainEnd)
		testX := ds.X(f.TestStart, f.TestEnd)
		for j := range specs {
			spec := specs[j]
			slot := fi*m + j
			g.Go(func() error {
				_, preds, err := b.runUnit(gctx, spec, trainX, trainY, testX)
				if err != nil {
					if ctx.Err() != nil {
						return ctx.Err()
					}
					failures[slot] = &common.BaseModelTrainingError{ModelID: spec.ID, FoldIndex: f.Index, Err: err}
					b.log.Warn().Err(err).Str("model_id", spec.ID).Int("fold_index", f.Index).Msg("base model failed on fold")
					return nil
				}
				slots[slot] = preds
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("build oof matrix: %w", err)
	}

	mat := &Matrix{
		ModelIDs:    base.IDs(specs),
		Values:      make([][]float64, n),
		Covered:     make([]bool, n),
		CellCovered: make([][]bool, n),
		Folds:       foldList,
	}
	for i := 0; i < n; i++ {
		mat.Values[i] = make([]float64, m)
		mat.CellCovered[i] = make([]bool, m)
	}
	for fi, f := range foldList {
		for j := 0; j < m; j++ {
			preds := slots[fi*m+j]
			if preds == nil {
				continue
			}
			for r, v := range preds {
				row := f.TestStart + r
				mat.Values[row][j] = v
				mat.CellCovered[row][j] = true
				mat.Covered[row] = true
			}
		}
	}
	for _, err := range failures {
		if err != nil {
			mat.Failures = append(mat.Failures, err)
		}
	}

	ratio := mat.UncoveredRatio()
	if ratio > b.maxUncovered {
		reason := "too many rows outside every fold's test range"
		if len(foldList) == 0 {
			reason = "no fold fits the dataset"
		}
		return nil, &common.InsufficientDataError{Reason: reason, Ratio: ratio, Limit: b.maxUncovered}
	}
	b.impute(mat, ds.TargetMean())

	production, errs := b.FitFull(ctx, ds, specs)
	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return &Result{Matrix: mat, Production: production}, nil
}

func (b *Builder) impute(mat *Matrix, mean float64) {
	missingRows := 0
	missingCells := make([]int, len(mat.ModelIDs))
	for i := range mat.Values {
		if !mat.Covered[i] {
			missingRows++
		}
		for j := range mat.Values[i] {
			if !mat.CellCovered[i][j] {
				mat.Values[i][j] = mean
				if mat.Covered[i] {
					missingCells[j]++
				}
			}
		}
	}
	if missingRows > 0 {
		msg := fmt.Sprintf("%d of %d rows outside every test range imputed with target mean %.6g", missingRows, len(mat.Values), mean)
		mat.Warnings = append(mat.Warnings, msg)
		b.log.Warn().Int("rows", missingRows).Float64("target_mean", mean).Msg("imputed uncovered oof rows")
	}
	for j, count := range missingCells {
		if count == 0 {
			continue
		}
		msg := fmt.Sprintf("model %q: %d failed cells imputed with target mean %.6g", mat.ModelIDs[j], count, mean)
		mat.Warnings = append(mat.Warnings, msg)
		b.log.Warn().Str("model_id", mat.ModelIDs[j]).Int("cells", count).Msg("imputed failed oof cells")
	}
}

// FitFull fits a fresh clone of every spec on the whole dataset. The returned
// slices are aligned with specs; a failed model has a nil entry and a
// *common.BaseModelTrainingError with FoldIndex -1.
func (b *Builder) FitFull(ctx context.Context, ds *base.Dataset, specs []base.Spec) ([]base.Model, []error) {
	models := make([]base.Model, len(specs))
	errs := make([]error, len(specs))
	X, y := ds.X(0, ds.Len()), ds.Y(0, ds.Len())

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.workers)
	for j := range specs {
		spec := specs[j]
		g.Go(func() error {
			model, _, err := b.runUnit(gctx, spec, X, y, nil)
			if err != nil {
				if ctx.Err() != nil {
					err = ctx.Err()
				}
				errs[j] = &common.BaseModelTrainingError{ModelID: spec.ID, FoldIndex: -1, Err: err}
				b.log.Error().Err(err).Str("model_id", spec.ID).Msg("production fit failed")
				return nil
			}
			models[j] = model
			return nil
		})
	}
	_ = g.Wait()
	return models, errs
}

var errUnitTimeout = errors.New("unit timed out")

type unitOutcome struct {
	model base.Model
	preds []float64
	err   error
}

// runUnit clones, fits and optionally predicts. A timed-out unit keeps
// running in its goroutine but its result is discarded.
func (b *Builder) runUnit(ctx context.Context, spec base.Spec, trainX [][]float64, trainY []float64, testX [][]float64) (base.Model, []float64, error) {
	started := time.Now()
	if b.unitTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.unitTimeout)
		defer cancel()
	}

	done := make(chan unitOutcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- unitOutcome{err: fmt.Errorf("clone panicked: %v", r)}
			}
		}()
		model := spec.New()
		if err := base.SafeFit(model, trainX, trainY); err != nil {
			done <- unitOutcome{err: err}
			return
		}
		if testX == nil {
			done <- unitOutcome{model: model}
			return
		}
		preds, err := base.SafePredict(spec.ID, model, testX)
		done <- unitOutcome{model: model, preds: preds, err: err}
	}()

	var out unitOutcome
	select {
	case <-ctx.Done():
		out.err = errUnitTimeout
		if !errors.Is(ctx.Err(), context.DeadlineExceeded) {
			out.err = ctx.Err()
		}
	case out = <-done:
	}
	b.rec.ObserveUnit(spec.ID, out.err != nil, time.Since(started))
	return out.model, out.preds, out.err
}
