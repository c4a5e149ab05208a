package base

import (
	"math"
	"time"

	"stockcast/internal/ml/common"
)

type Observation struct {
	Time     time.Time
	Features []float64
	Target   float64
}

// Dataset is an ordered sequence of observations. The core never mutates it.
type Dataset struct {
	Observations []Observation
	FeatureNames []string
}

func (d *Dataset) Len() int {
	if d == nil {
		return 0
	}
	return len(d.Observations)
}

// Validate checks ordering, feature width and finite targets.
func (d *Dataset) Validate() error {
	if d.Len() == 0 {
		return common.NewConfigurationError("dataset", "is empty")
	}
	width := len(d.Observations[0].Features)
	if width == 0 {
		return common.NewConfigurationError("dataset", "has empty feature vectors")
	}
	for i := range d.Observations {
		o := d.Observations[i]
		if len(o.Features) != width {
			return common.NewConfigurationError("dataset", "row %d has %d features, want %d", i, len(o.Features), width)
		}
		if math.IsNaN(o.Target) || math.IsInf(o.Target, 0) {
			return common.NewConfigurationError("dataset", "row %d has non-finite target", i)
		}
		if i > 0 && !o.Time.After(d.Observations[i-1].Time) {
			return common.NewConfigurationError("dataset", "timestamps must be strictly increasing (row %d)", i)
		}
	}
	return nil
}

// X returns feature rows in [lo, hi). Rows alias the dataset.
func (d *Dataset) X(lo, hi int) [][]float64 {
	out := make([][]float64, 0, hi-lo)
	for i := lo; i < hi; i++ {
		out = append(out, d.Observations[i].Features)
	}
	return out
}

func (d *Dataset) Y(lo, hi int) []float64 {
	out := make([]float64, 0, hi-lo)
	for i := lo; i < hi; i++ {
		out = append(out, d.Observations[i].Target)
	}
	return out
}

func (d *Dataset) TargetMean() float64 {
	if d.Len() == 0 {
		return 0
	}
	sum := 0.0
	for i := range d.Observations {
		sum += d.Observations[i].Target
	}
	return sum / float64(len(d.Observations))
}

// Slice returns a view over [lo, hi).
func (d *Dataset) Slice(lo, hi int) *Dataset {
	return &Dataset{Observations: d.Observations[lo:hi], FeatureNames: d.FeatureNames}
}
