package ensemble

import (
	"context"
	"slices"

	"stockcast/internal/ml/base"
)

const (
	regimeNormal     = "normal"
	regimeDefensive  = "defensive"
	regimeCorrelated = "correlated"
)

// Dynamic weights models by the inverse of their rolling mean squared error.
type Dynamic struct {
	*weighted
}

var _ Weighted = (*Dynamic)(nil)

func NewDynamic(cfg Config, specs []base.Spec, opts ...Option) (*Dynamic, error) {
	w, err := newWeighted(ModeDynamic, cfg, specs, opts)
	if err != nil {
		return nil, err
	}
	return &Dynamic{weighted: w}, nil
}

func (d *Dynamic) Fit(ctx context.Context, ds *base.Dataset) error {
	return d.fit(ctx, ds, nil)
}

// UpdateWeights pushes each model's batch MSE into its history and republishes.
func (d *Dynamic) UpdateWeights(batch Batch) (WeightVector, error) {
	return d.update(batch, true, func(_, next *weightedState, preds [][]float64) error {
		for j, id := range next.ids {
			next.histories[id].Push(mse(preds[j], batch.Targets))
		}
		weights, regime := d.compute(next, preds, batch.Volatility)
		next.weights = NewWeightVector(next.ids, weights)
		next.regime = regime
		return nil
	})
}

func (d *Dynamic) compute(st *weightedState, preds [][]float64, volatility float64) ([]float64, string) {
	scores := make([]float64, len(st.ids))
	for j, id := range st.ids {
		mean, ok := st.histories[id].Mean()
		if !ok {
			scores[j] = 1
			continue
		}
		scores[j] = 1 / (mean + d.cfg.Epsilon)
	}
	weights := normalize(scores)
	regime := regimeNormal

	stable := d.stableMask(st.ids)
	switch {
	case volatility > d.cfg.VolatilityThreshold && stable != nil:
		regime = regimeDefensive
		count := 0
		for _, ok := range stable {
			if ok {
				count++
			}
		}
		beta := d.cfg.DefensiveBias
		for j := range weights {
			u := 0.0
			if stable[j] {
				u = 1 / float64(count)
			}
			weights[j] = (1-beta)*weights[j] + beta*u
		}
	case d.cfg.CorrelationThreshold > 0 && meanPairwise(absCorrelations(preds)) > d.cfg.CorrelationThreshold:
		regime = regimeCorrelated
		weights = normalize(make([]float64, len(weights)))
	}
	if regime != regimeNormal {
		d.log.Info().Str("regime", regime).Float64("volatility", volatility).Msg("dynamic weighting regime switch")
	}
	return applyFloor(weights, d.cfg.MinWeightFloor), regime
}

// stableMask marks fitted models listed in StableModels; nil when none are.
func (d *Dynamic) stableMask(ids []string) []bool {
	mask := make([]bool, len(ids))
	found := false
	for j, id := range ids {
		if slices.Contains(d.cfg.StableModels, id) {
			mask[j] = true
			found = true
		}
	}
	if !found {
		return nil
	}
	return mask
}

func mse(pred, target []float64) float64 {
	if len(pred) == 0 {
		return 0
	}
	sum := 0.0
	for i := range pred {
		e := pred[i] - target[i]
		sum += e * e
	}
	return sum / float64(len(pred))
}

// Regime reports the regime chosen by the last weight update.
func (d *Dynamic) Regime() string {
	st := d.state.Load()
	if st == nil || st.regime == "" {
		return regimeNormal
	}
	return st.regime
}
