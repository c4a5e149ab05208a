// Package logreg trains an L2-regularised logistic model on the direction of
// the forward return and exposes it as a return forecaster.
package logreg

import (
	"encoding/json"
	"errors"
	"math"
	"strconv"

	"stockcast/internal/ml/base"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

type TrainOptions struct {
	LearningRate float64
	Epochs       int
	L2           float64
	// HoldoutFraction is the trailing share of rows kept out of training to
	// score validation loss. Zero disables the holdout.
	HoldoutFraction float64
	// LossEvery records holdout log-loss every this many epochs.
	LossEvery int
}

type Artifact struct {
	FeatureNames   []string  `json:"feature_names"`
	Weights        []float64 `json:"weights"`
	Bias           float64   `json:"bias"`
	Means          []float64 `json:"means"`
	Stds           []float64 `json:"stds"`
	L2             float64   `json:"l2"`
	LearningRate   float64   `json:"learning_rate"`
	Epochs         int       `json:"epochs"`
	Scale          float64   `json:"scale"`
	ValidationLoss []float64 `json:"validation_loss,omitempty"`
}

type Model struct {
	artifact Artifact
}

func DefaultTrainOptions() TrainOptions {
	return TrainOptions{
		LearningRate:    0.05,
		Epochs:          600,
		L2:              0.0001,
		HoldoutFraction: 0.2,
		LossEvery:       100,
	}
}

func (o TrainOptions) withDefaults() TrainOptions {
	d := DefaultTrainOptions()
	if o.LearningRate <= 0 {
		o.LearningRate = d.LearningRate
	}
	if o.Epochs <= 0 {
		o.Epochs = d.Epochs
	}
	if o.L2 < 0 {
		o.L2 = d.L2
	}
	if o.HoldoutFraction < 0 || o.HoldoutFraction >= 1 {
		o.HoldoutFraction = d.HoldoutFraction
	}
	if o.LossEvery <= 0 {
		o.LossEvery = d.LossEvery
	}
	return o
}

// Train fits binary labels (1 = up) on every sample, without a holdout.
func Train(samples [][]float64, labels []float64, featureNames []string, opts TrainOptions) (*Model, error) {
	return train(samples, labels, nil, nil, featureNames, opts.withDefaults())
}

func train(samples [][]float64, labels []float64, holdoutX [][]float64, holdoutY []float64, featureNames []string, opts TrainOptions) (*Model, error) {
	if len(samples) == 0 || len(samples) != len(labels) {
		return nil, errors.New("invalid training dataset")
	}
	featCount := len(samples[0])
	if featCount == 0 {
		return nil, errors.New("empty feature vectors")
	}

	means := make([]float64, featCount)
	stds := make([]float64, featCount)
	col := make([]float64, len(samples))
	for j := 0; j < featCount; j++ {
		for i := range samples {
			if len(samples[i]) != featCount {
				return nil, errors.New("ragged feature matrix")
			}
			col[i] = samples[i][j]
		}
		means[j], stds[j] = stat.PopMeanStdDev(col, nil)
		if stds[j] == 0 || math.IsNaN(stds[j]) {
			stds[j] = 1
		}
	}

	m := &Model{artifact: Artifact{
		Weights:      make([]float64, featCount),
		Means:        means,
		Stds:         stds,
		L2:           opts.L2,
		LearningRate: opts.LearningRate,
		Epochs:       opts.Epochs,
		Scale:        1,
	}}
	a := &m.artifact

	xs := make([][]float64, len(samples))
	for i := range samples {
		xs[i] = normalize(samples[i], means, stds)
	}
	n := float64(len(samples))
	grads := make([]float64, featCount)
	for epoch := 1; epoch <= opts.Epochs; epoch++ {
		for j := range grads {
			grads[j] = 0
		}
		gradBias := 0.0
		for i, x := range xs {
			err := sigmoid(floats.Dot(a.Weights, x)+a.Bias) - labels[i]
			floats.AddScaled(grads, err, x)
			gradBias += err
		}
		for j := range a.Weights {
			a.Weights[j] -= opts.LearningRate * (grads[j]/n + opts.L2*a.Weights[j])
		}
		a.Bias -= opts.LearningRate * (gradBias / n)

		if len(holdoutX) > 0 && (epoch%opts.LossEvery == 0 || epoch == opts.Epochs) {
			a.ValidationLoss = append(a.ValidationLoss, m.logLoss(holdoutX, holdoutY))
		}
	}

	if len(featureNames) != featCount {
		featureNames = defaultFeatureNames(featCount)
	}
	a.FeatureNames = append([]string(nil), featureNames...)
	return m, nil
}

func (m *Model) logLoss(X [][]float64, labels []float64) float64 {
	const eps = 1e-12
	sum := 0.0
	for i := range X {
		p := math.Min(math.Max(m.PredictProb(X[i]), eps), 1-eps)
		sum -= labels[i]*math.Log(p) + (1-labels[i])*math.Log(1-p)
	}
	return sum / float64(len(X))
}

func (m *Model) PredictProb(sample []float64) float64 {
	if m == nil || len(sample) != len(m.artifact.Weights) {
		return 0.5
	}
	x := normalize(sample, m.artifact.Means, m.artifact.Stds)
	return sigmoid(floats.Dot(m.artifact.Weights, x) + m.artifact.Bias)
}

func (m *Model) PredictBatch(samples [][]float64) []float64 {
	probs := make([]float64, len(samples))
	for i := range samples {
		probs[i] = m.PredictProb(samples[i])
	}
	return probs
}

func (m *Model) MarshalBinary() ([]byte, error) {
	if m == nil {
		return nil, errors.New("nil model")
	}
	return json.Marshal(m.artifact)
}

func UnmarshalBinary(data []byte) (*Model, error) {
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
	if a.Scale == 0 {
		a.Scale = 1
	}
	return &Model{artifact: a}, nil
}

func (m *Model) FeatureNames() []string {
	if m == nil {
		return nil
	}
	return append([]string(nil), m.artifact.FeatureNames...)
}

// Regressor forecasts a return as (2p−1)·scale, where p is the probability
// of an up move and scale the mean absolute training return.
type Regressor struct {
	opts  TrainOptions
	names []string
	model *Model
}

var (
	_ base.Model               = (*Regressor)(nil)
	_ base.ValidationHistorian = (*Regressor)(nil)
)

func NewRegressor(opts TrainOptions, featureNames ...string) *Regressor {
	return &Regressor{opts: opts.withDefaults(), names: featureNames}
}

// Factory returns a constructor suitable for base.Spec.New.
func Factory(opts TrainOptions, featureNames ...string) func() base.Model {
	return func() base.Model { return NewRegressor(opts, featureNames...) }
}

// RegressorFromModel wraps a previously trained model.
func RegressorFromModel(m *Model) *Regressor {
	return &Regressor{opts: DefaultTrainOptions(), model: m}
}

func (r *Regressor) Fit(X [][]float64, y []float64) error {
	if len(X) == 0 || len(X) != len(y) {
		return errors.New("invalid training dataset")
	}
	labels := make([]float64, len(y))
	for i, v := range y {
		if v > 0 {
			labels[i] = 1
		}
	}
	scale := 0.0
	for _, v := range y {
		scale += math.Abs(v)
	}
	scale /= float64(len(y))
	if scale == 0 {
		scale = 1
	}

	cut := len(X)
	if hold := int(float64(len(X)) * r.opts.HoldoutFraction); hold > 0 && len(X)-hold >= 2 {
		cut = len(X) - hold
	}
	m, err := train(X[:cut], labels[:cut], X[cut:], labels[cut:], r.names, r.opts)
	if err != nil {
		return err
	}
	m.artifact.Scale = scale
	r.model = m
	return nil
}

func (r *Regressor) Predict(X [][]float64) ([]float64, error) {
	if r.model == nil {
		return nil, errors.New("logreg regressor is not fitted")
	}
	out := make([]float64, len(X))
	for i := range X {
		if len(X[i]) != len(r.model.artifact.Weights) {
			return nil, errors.New("feature width mismatch")
		}
		out[i] = (2*r.model.PredictProb(X[i]) - 1) * r.model.artifact.Scale
	}
	return out, nil
}

func (r *Regressor) ValidationHistory() []float64 {
	if r.model == nil {
		return nil
	}
	return append([]float64(nil), r.model.artifact.ValidationLoss...)
}

// Model returns the underlying classifier, nil before Fit.
func (r *Regressor) Model() *Model { return r.model }

func sigmoid(x float64) float64 {
	if x > 35 {
		return 1
	}
	if x < -35 {
		return 0
	}
	return 1 / (1 + math.Exp(-x))
}

func normalize(in, means, stds []float64) []float64 {
	out := make([]float64, len(in))
	for i := range in {
		out[i] = (in[i] - means[i]) / stds[i]
	}
	return out
}

func defaultFeatureNames(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = "f" + strconv.Itoa(i)
	}
	return out
}
