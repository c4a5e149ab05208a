package features

import (
	"cmp"
	"slices"
	"time"

	"stockcast/internal/domain"
	"stockcast/internal/ml/base"
	"stockcast/internal/ml/common"
)

// ToDataset orders labeled rows by bar then symbol and converts them into a
// base.Dataset. Rows sharing a bar are spaced one nanosecond apart so the
// dataset keeps strictly increasing timestamps. Unlabeled rows are dropped.
// The returned rows line up with the dataset observations.
func ToDataset(rows []domain.MLFeatureRow) (*base.Dataset, []domain.MLFeatureRow) {
	labeled := make([]domain.MLFeatureRow, 0, len(rows))
	for _, row := range rows {
		if _, ok := common.TargetValue(row); ok {
			labeled = append(labeled, row)
		}
	}
	slices.SortStableFunc(labeled, func(a, b domain.MLFeatureRow) int {
		if c := a.OpenTime.Compare(b.OpenTime); c != 0 {
			return c
		}
		return cmp.Compare(a.Symbol, b.Symbol)
	})

	ds := &base.Dataset{
		Observations: make([]base.Observation, 0, len(labeled)),
		FeatureNames: append([]string(nil), common.FeatureNames...),
	}
	var last time.Time
	for i, row := range labeled {
		ts := row.OpenTime.UTC()
		if i > 0 && !ts.After(last) {
			ts = last.Add(time.Nanosecond)
		}
		last = ts
		target, _ := common.TargetValue(row)
		ds.Observations = append(ds.Observations, base.Observation{
			Time:     ts,
			Features: common.FeatureVector(row),
			Target:   target,
		})
	}
	return ds, labeled
}

// Matrix returns the feature vectors of rows in order.
func Matrix(rows []domain.MLFeatureRow) [][]float64 {
	out := make([][]float64, len(rows))
	for i := range rows {
		out[i] = common.FeatureVector(rows[i])
	}
	return out
}
