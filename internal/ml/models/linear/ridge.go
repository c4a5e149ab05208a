// Package linear implements closed-form ridge regression, the default
// stacking meta-model.
package linear

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"stockcast/internal/ml/base"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

const DefaultAlpha = 1.0

type Artifact struct {
	FeatureNames []string  `json:"feature_names,omitempty"`
	Weights      []float64 `json:"weights"`
	Bias         float64   `json:"bias"`
	Means        []float64 `json:"means"`
	Stds         []float64 `json:"stds"`
	Alpha        float64   `json:"alpha"`
}

// Ridge solves (ZᵀZ + αI)w = Zᵀ(y − ȳ) on z-scored features.
type Ridge struct {
	alpha    float64
	names    []string
	artifact *Artifact
}

var _ base.Model = (*Ridge)(nil)

func NewRidge(alpha float64, featureNames ...string) *Ridge {
	if alpha <= 0 {
		alpha = DefaultAlpha
	}
	return &Ridge{alpha: alpha, names: featureNames}
}

// Factory returns a constructor suitable for base.Spec.New.
func Factory(alpha float64, featureNames ...string) func() base.Model {
	return func() base.Model { return NewRidge(alpha, featureNames...) }
}

func (r *Ridge) Fit(X [][]float64, y []float64) error {
	n := len(X)
	if n == 0 || n != len(y) {
		return errors.New("invalid training dataset")
	}
	p := len(X[0])
	if p == 0 {
		return errors.New("empty feature vectors")
	}

	means := make([]float64, p)
	stds := make([]float64, p)
	col := make([]float64, n)
	for j := 0; j < p; j++ {
		for i := range X {
			if len(X[i]) != p {
				return fmt.Errorf("row %d has %d features, want %d", i, len(X[i]), p)
			}
			col[i] = X[i][j]
		}
		means[j], stds[j] = stat.PopMeanStdDev(col, nil)
		if stds[j] == 0 || math.IsNaN(stds[j]) {
			stds[j] = 1
		}
	}
	yMean := stat.Mean(y, nil)

	z := mat.NewDense(n, p, nil)
	yc := mat.NewVecDense(n, nil)
	for i := range X {
		for j := 0; j < p; j++ {
			z.Set(i, j, (X[i][j]-means[j])/stds[j])
		}
		yc.SetVec(i, y[i]-yMean)
	}

	gram := mat.NewSymDense(p, nil)
	gram.SymOuterK(1, z.T())
	for j := 0; j < p; j++ {
		gram.SetSym(j, j, gram.At(j, j)+r.alpha)
	}
	var zty mat.VecDense
	zty.MulVec(z.T(), yc)

	var chol mat.Cholesky
	if ok := chol.Factorize(gram); !ok {
		return errors.New("ridge system is not positive definite")
	}
	var w mat.VecDense
	if err := chol.SolveVecTo(&w, &zty); err != nil {
		return fmt.Errorf("solve ridge system: %w", err)
	}

	weights := make([]float64, p)
	for j := range weights {
		weights[j] = w.AtVec(j)
	}
	names := r.names
	if len(names) != p {
		names = nil
	}
	r.artifact = &Artifact{
		FeatureNames: names,
		Weights:      weights,
		Bias:         yMean,
		Means:        means,
		Stds:         stds,
		Alpha:        r.alpha,
	}
	return nil
}

func (r *Ridge) Predict(X [][]float64) ([]float64, error) {
	if r == nil || r.artifact == nil {
		return nil, errors.New("ridge model is not fitted")
	}
	a := r.artifact
	out := make([]float64, len(X))
	for i := range X {
		if len(X[i]) != len(a.Weights) {
			return nil, fmt.Errorf("row %d has %d features, want %d", i, len(X[i]), len(a.Weights))
		}
		v := a.Bias
		for j, x := range X[i] {
			v += a.Weights[j] * (x - a.Means[j]) / a.Stds[j]
		}
		out[i] = v
	}
	return out, nil
}

// Coefficients returns the weights on the original (unscaled) features.
func (r *Ridge) Coefficients() []float64 {
	if r == nil || r.artifact == nil {
		return nil
	}
	out := make([]float64, len(r.artifact.Weights))
	for j := range out {
		out[j] = r.artifact.Weights[j] / r.artifact.Stds[j]
	}
	return out
}

func (r *Ridge) MarshalBinary() ([]byte, error) {
	if r == nil || r.artifact == nil {
		return nil, errors.New("nil model")
	}
	return json.Marshal(r.artifact)
}

func UnmarshalBinary(data []byte) (*Ridge, error) {
	if len(data) == 0 {
		return nil, errors.New("empty artifact")
	}
	var a Artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, err
	}
	if len(a.Weights) == 0 || len(a.Weights) != len(a.Means) || len(a.Weights) != len(a.Stds) {
		return nil, errors.New("invalid artifact")
	}
	return &Ridge{alpha: a.Alpha, names: a.FeatureNames, artifact: &a}, nil
}
