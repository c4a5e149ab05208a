package ensemble

import (
	"context"
	"math"

	"stockcast/internal/ml/base"
	"stockcast/internal/ml/common"
)

// Diversity favours models whose predictions are least correlated with the
// rest of the ensemble.
type Diversity struct {
	*weighted
}

var _ Weighted = (*Diversity)(nil)

func NewDiversity(cfg Config, specs []base.Spec, opts ...Option) (*Diversity, error) {
	w, err := newWeighted(ModeDiversity, cfg, specs, opts)
	if err != nil {
		return nil, err
	}
	return &Diversity{weighted: w}, nil
}

// Fit starts from uniform weights; the first batch sets diversity weights.
func (d *Diversity) Fit(ctx context.Context, ds *base.Dataset) error {
	return d.fit(ctx, ds, nil)
}

// UpdateWeights recomputes weights from the correlation of the batch
// predictions. Targets are not required.
func (d *Diversity) UpdateWeights(batch Batch) (WeightVector, error) {
	return d.update(batch, false, func(_, next *weightedState, preds [][]float64) error {
		corr := absCorrelations(preds)
		m := len(next.ids)
		scores := make([]float64, m)
		if m == 1 {
			scores[0] = 1
		}
		for i := 0; m > 1 && i < m; i++ {
			sum := 0.0
			for j := 0; j < m; j++ {
				if j != i {
					sum += corr[i][j]
				}
			}
			scores[i] = math.Max(1-sum/float64(m-1), d.cfg.MinWeightFloor)
		}
		next.weights = NewWeightVector(next.ids, normalize(scores))
		next.diversity = 0
		if m > 1 {
			next.diversity = 1 - meanPairwise(corr)
		}
		d.rec.ObserveDiversity(next.diversity)
		return nil
	})
}

// DiversityIndex is one minus the mean pairwise |correlation| of the last
// batch. Zero before any update and for a single model.
func (d *Diversity) DiversityIndex() (float64, error) {
	st := d.state.Load()
	if st == nil {
		return 0, common.ErrNotFitted
	}
	return st.diversity, nil
}
