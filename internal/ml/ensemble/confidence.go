package ensemble

import (
	"context"

	"stockcast/internal/ml/base"
)

// Confidence weights models by their recent validation loss. Models that
// report a validation history seed it at Fit; every UpdateWeights appends
// the batch MSE as a new validation entry.
type Confidence struct {
	*weighted
}

var _ Weighted = (*Confidence)(nil)

func NewConfidence(cfg Config, specs []base.Spec, opts ...Option) (*Confidence, error) {
	w, err := newWeighted(ModeConfidence, cfg, specs, opts)
	if err != nil {
		return nil, err
	}
	return &Confidence{weighted: w}, nil
}

func (c *Confidence) Fit(ctx context.Context, ds *base.Dataset) error {
	return c.fit(ctx, ds, func(st *weightedState) {
		for j, id := range st.ids {
			st.histories[id] = c.seedHistory(st.models[j])
		}
		st.weights = NewWeightVector(st.ids, c.compute(st))
	})
}

func (c *Confidence) UpdateWeights(batch Batch) (WeightVector, error) {
	return c.update(batch, true, func(_, next *weightedState, preds [][]float64) error {
		for j, id := range next.ids {
			next.histories[id].Push(mse(preds[j], batch.Targets))
		}
		next.weights = NewWeightVector(next.ids, c.compute(next))
		return nil
	})
}

func (c *Confidence) compute(st *weightedState) []float64 {
	scores := make([]float64, len(st.ids))
	for j, id := range st.ids {
		mean, ok := st.histories[id].Mean()
		if !ok {
			scores[j] = 1
			continue
		}
		scores[j] = 1 / (mean + c.cfg.Epsilon)
	}
	return applyFloor(normalize(scores), c.cfg.MinWeightFloor)
}
