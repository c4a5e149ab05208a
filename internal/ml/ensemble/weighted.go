package ensemble

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"stockcast/internal/ml/base"
	"stockcast/internal/ml/common"
)

// weightedState is published whole through an atomic pointer; nothing in it
// is mutated after Store.
type weightedState struct {
	ids       []string
	models    []base.Model
	weights   WeightVector
	histories map[string]*History
	diversity float64
	regime    string
}

func (st *weightedState) next() *weightedState {
	cp := *st
	cp.histories = make(map[string]*History, len(st.histories))
	for id, h := range st.histories {
		cp.histories[id] = h.Clone()
	}
	cp.regime = ""
	return &cp
}

// weighted carries the fit/predict/publish plumbing shared by the three
// weighting strategies.
type weighted struct {
	mode  Mode
	cfg   Config
	specs []base.Spec
	settings

	// mu serialises writers; readers only Load.
	mu    sync.Mutex
	state atomic.Pointer[weightedState]
}

func newWeighted(mode Mode, cfg Config, specs []base.Spec, opts []Option) (*weighted, error) {
	cfg.Mode = mode
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := base.ValidateSpecs(specs); err != nil {
		return nil, err
	}
	return &weighted{mode: mode, cfg: cfg, specs: copySpecs(specs), settings: applyOptions(mode, opts)}, nil
}

func (w *weighted) Mode() Mode { return w.mode }

// fit trains every model on the full dataset. A model whose fit fails is
// excluded from the weight vector; all failing is an error.
func (w *weighted) fit(ctx context.Context, ds *base.Dataset, initial func(*weightedState)) error {
	if err := ds.Validate(); err != nil {
		return err
	}
	builder, err := w.builder(w.cfg)
	if err != nil {
		return err
	}
	models, errs := builder.FitFull(ctx, ds, w.specs)
	if err := ctx.Err(); err != nil {
		return err
	}

	st := &weightedState{histories: make(map[string]*History)}
	var failed []error
	for j, spec := range w.specs {
		if errs[j] != nil {
			failed = append(failed, errs[j])
			continue
		}
		st.ids = append(st.ids, spec.ID)
		st.models = append(st.models, models[j])
		st.histories[spec.ID] = NewHistory(w.cfg.RollingWindow)
	}
	if len(st.ids) == 0 {
		return fmt.Errorf("every base model failed: %w", errors.Join(failed...))
	}
	if len(failed) > 0 {
		w.log.Warn().Int("excluded", len(failed)).Strs("models", st.ids).Msg("base models excluded after failed fit")
	}
	st.weights = UniformWeights(st.ids)
	if initial != nil {
		initial(st)
	}

	w.mu.Lock()
	w.state.Store(st)
	w.mu.Unlock()
	w.publish(st)
	w.log.Info().Int("rows", ds.Len()).Int("models", len(st.ids)).Msg("weighted ensemble fitted")
	return nil
}

// update recomputes the weight state from a batch and swaps it in.
func (w *weighted) update(batch Batch, needTargets bool, recompute func(prev *weightedState, next *weightedState, preds [][]float64) error) (WeightVector, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	prev := w.state.Load()
	if prev == nil {
		return WeightVector{}, common.ErrNotFitted
	}
	if len(prev.ids) == 0 {
		return WeightVector{}, common.NewConfigurationError("models", "weight update with zero models")
	}
	preds, err := alignBatch(prev.ids, batch, needTargets)
	if err != nil {
		return WeightVector{}, err
	}
	next := prev.next()
	if err := recompute(prev, next, preds); err != nil {
		return WeightVector{}, err
	}
	w.state.Store(next)
	w.publish(next)
	return next.weights, nil
}

func (w *weighted) publish(st *weightedState) {
	w.rec.ObserveWeights(string(w.mode), st.weights.Map())
	ev := w.log.Debug().Interface("weights", st.weights.Map())
	if st.regime != "" {
		ev = ev.Str("regime", st.regime)
	}
	ev.Msg("weights published")
}

// alignBatch orders batch predictions by ids and checks lengths.
func alignBatch(ids []string, batch Batch, needTargets bool) ([][]float64, error) {
	if len(batch.Predictions) == 0 {
		return nil, common.NewConfigurationError("batch", "has no model predictions")
	}
	want := -1
	if needTargets {
		want = len(batch.Targets)
		if want == 0 {
			return nil, common.NewConfigurationError("batch", "has no targets")
		}
	}
	out := make([][]float64, len(ids))
	for j, id := range ids {
		p, ok := batch.Predictions[id]
		if !ok {
			return nil, common.NewConfigurationError("batch", "missing predictions for model %q", id)
		}
		if want < 0 {
			want = len(p)
		}
		if len(p) != want {
			return nil, &common.DimensionMismatchError{ModelID: id, Want: want, Got: len(p)}
		}
		out[j] = p
	}
	return out, nil
}

func (w *weighted) Predict(X [][]float64) ([]CombinedPrediction, error) {
	st := w.state.Load()
	if st == nil {
		return nil, common.ErrNotFitted
	}
	values := make([]float64, len(X))
	contributing := make([]string, 0, len(st.ids))
	for j, id := range st.ids {
		weight := st.weights.at(j)
		if weight == 0 {
			continue
		}
		preds, err := base.SafePredict(id, st.models[j], X)
		if err != nil {
			return nil, fmt.Errorf("predict %s: %w", id, err)
		}
		for i, v := range preds {
			values[i] += weight * v
		}
		contributing = append(contributing, id)
	}
	out := make([]CombinedPrediction, len(X))
	for i := range out {
		out[i] = CombinedPrediction{Value: values[i], WeightsUsed: st.weights, ContributingModels: contributing}
	}
	return out, nil
}

func (w *weighted) ModelPredictions(X [][]float64) (map[string][]float64, error) {
	st := w.state.Load()
	if st == nil {
		return nil, common.ErrNotFitted
	}
	return predictEach(st.ids, st.models, X)
}

func (w *weighted) ProductionModels() (map[string]base.Model, error) {
	st := w.state.Load()
	if st == nil {
		return nil, common.ErrNotFitted
	}
	out := make(map[string]base.Model, len(st.ids))
	for j, id := range st.ids {
		out[id] = st.models[j]
	}
	return out, nil
}

func (w *weighted) Weights() (WeightVector, error) {
	st := w.state.Load()
	if st == nil {
		return WeightVector{}, common.ErrNotFitted
	}
	return st.weights, nil
}

// HistorySnapshot returns a copy of a model's rolling error history.
func (w *weighted) HistorySnapshot(id string) []float64 {
	st := w.state.Load()
	if st == nil {
		return nil
	}
	h, ok := st.histories[id]
	if !ok {
		return nil
	}
	return h.Snapshot()
}
