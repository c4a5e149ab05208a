// Package base defines the capability every forecasting model exposes to the
// ensemble core, and the time-ordered dataset the core operates on.
package base

import (
	"fmt"

	"stockcast/internal/ml/common"
)

// Model is a fit/predict-capable regressor.
type Model interface {
	Fit(X [][]float64, y []float64) error
	Predict(X [][]float64) ([]float64, error)
}

// ValidationHistorian is implemented by models that keep a per-epoch
// validation loss trail.
type ValidationHistorian interface {
	ValidationHistory() []float64
}

// Spec is a handle on one base model: a stable ID plus a constructor for
// fresh, unfitted clones.
type Spec struct {
	ID  string
	New func() Model
}

func ValidateSpecs(specs []Spec) error {
	if len(specs) == 0 {
		return common.NewConfigurationError("models", "must not be empty")
	}
	seen := make(map[string]struct{}, len(specs))
	for i, s := range specs {
		if s.ID == "" {
			return common.NewConfigurationError("models", "entry %d has empty id", i)
		}
		if s.New == nil {
			return common.NewConfigurationError("models", "%q has no constructor", s.ID)
		}
		if _, dup := seen[s.ID]; dup {
			return common.NewConfigurationError("models", "duplicate id %q", s.ID)
		}
		seen[s.ID] = struct{}{}
	}
	return nil
}

func IDs(specs []Spec) []string {
	out := make([]string, len(specs))
	for i := range specs {
		out[i] = specs[i].ID
	}
	return out
}

// SafeFit runs m.Fit and turns a panic into an error.
func SafeFit(m Model, X [][]float64, y []float64) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("fit panicked: %v", r)
		}
	}()
	if m == nil {
		return fmt.Errorf("nil model")
	}
	return m.Fit(X, y)
}

// SafePredict runs m.Predict, recovers panics and checks the output length.
func SafePredict(id string, m Model, X [][]float64) (out []float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, fmt.Errorf("predict panicked: %v", r)
		}
	}()
	if m == nil {
		return nil, fmt.Errorf("nil model")
	}
	out, err = m.Predict(X)
	if err != nil {
		return nil, err
	}
	if len(out) != len(X) {
		return nil, &common.DimensionMismatchError{ModelID: id, Want: len(X), Got: len(out)}
	}
	return out, nil
}
