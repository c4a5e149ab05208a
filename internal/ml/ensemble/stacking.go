package ensemble

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"stockcast/internal/ml/base"
	"stockcast/internal/ml/common"
	"stockcast/internal/ml/models/linear"
	"stockcast/internal/ml/oof"
)

const metaModelID = "meta"

// Stacking fits a meta-model on out-of-fold base model predictions.
type Stacking struct {
	cfg     Config
	specs   []base.Spec
	newMeta func() base.Model
	settings

	fitMu sync.Mutex
	state atomic.Pointer[stackingState]
}

type stackingState struct {
	ids        []string
	production []base.Model
	meta       base.Model
	matrix     *oof.Matrix
}

var _ Ensemble = (*Stacking)(nil)

func NewStacking(cfg Config, specs []base.Spec, opts ...Option) (*Stacking, error) {
	cfg.Mode = ModeStacking
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := base.ValidateSpecs(specs); err != nil {
		return nil, err
	}
	newMeta := cfg.MetaModel
	if newMeta == nil {
		newMeta = linear.Factory(linear.DefaultAlpha)
	}
	return &Stacking{
		cfg:      cfg,
		specs:    copySpecs(specs),
		newMeta:  newMeta,
		settings: applyOptions(ModeStacking, opts),
	}, nil
}

func (s *Stacking) Mode() Mode { return ModeStacking }

// Fit re-runs the full pipeline: OOF matrix, production fits, meta-model.
func (s *Stacking) Fit(ctx context.Context, ds *base.Dataset) error {
	s.fitMu.Lock()
	defer s.fitMu.Unlock()

	builder, err := s.builder(s.cfg)
	if err != nil {
		return err
	}
	res, err := builder.Build(ctx, ds, s.specs)
	if err != nil {
		return err
	}

	meta := s.newMeta()
	if err := base.SafeFit(meta, res.Matrix.Values, ds.Y(0, ds.Len())); err != nil {
		return &common.BaseModelTrainingError{ModelID: metaModelID, FoldIndex: -1, Err: err}
	}

	s.state.Store(&stackingState{
		ids:        base.IDs(s.specs),
		production: res.Production,
		meta:       meta,
		matrix:     res.Matrix,
	})
	s.log.Info().
		Int("rows", ds.Len()).
		Int("folds", len(res.Matrix.Folds)).
		Float64("uncovered_ratio", res.Matrix.UncoveredRatio()).
		Int("failures", len(res.Matrix.Failures)).
		Msg("stacking ensemble fitted")
	return nil
}

func (s *Stacking) Predict(X [][]float64) ([]CombinedPrediction, error) {
	st := s.state.Load()
	if st == nil {
		return nil, common.ErrNotFitted
	}
	rows := make([][]float64, len(X))
	for i := range rows {
		rows[i] = make([]float64, len(st.production))
	}
	for j, model := range st.production {
		preds, err := base.SafePredict(st.ids[j], model, X)
		if err != nil {
			return nil, fmt.Errorf("predict %s: %w", st.ids[j], err)
		}
		for i, v := range preds {
			rows[i][j] = v
		}
	}
	values, err := base.SafePredict(metaModelID, st.meta, rows)
	if err != nil {
		return nil, fmt.Errorf("predict meta-model: %w", err)
	}
	out := make([]CombinedPrediction, len(X))
	for i := range out {
		out[i] = CombinedPrediction{Value: values[i], ContributingModels: append([]string(nil), st.ids...)}
	}
	return out, nil
}

func (s *Stacking) ModelPredictions(X [][]float64) (map[string][]float64, error) {
	st := s.state.Load()
	if st == nil {
		return nil, common.ErrNotFitted
	}
	return predictEach(st.ids, st.production, X)
}

func (s *Stacking) ProductionModels() (map[string]base.Model, error) {
	st := s.state.Load()
	if st == nil {
		return nil, common.ErrNotFitted
	}
	out := make(map[string]base.Model, len(st.ids))
	for j, id := range st.ids {
		out[id] = st.production[j]
	}
	return out, nil
}

// MetaModel returns the fitted combiner.
func (s *Stacking) MetaModel() (base.Model, error) {
	st := s.state.Load()
	if st == nil {
		return nil, common.ErrNotFitted
	}
	return st.meta, nil
}

// Matrix returns the out-of-fold matrix from the last Fit.
func (s *Stacking) Matrix() (*oof.Matrix, error) {
	st := s.state.Load()
	if st == nil {
		return nil, common.ErrNotFitted
	}
	return st.matrix, nil
}

func predictEach(ids []string, models []base.Model, X [][]float64) (map[string][]float64, error) {
	out := make(map[string][]float64, len(ids))
	for j, id := range ids {
		preds, err := base.SafePredict(id, models[j], X)
		if err != nil {
			return nil, fmt.Errorf("predict %s: %w", id, err)
		}
		out[id] = preds
	}
	return out, nil
}
