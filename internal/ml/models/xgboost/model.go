// Package xgboost wraps boo's gradient-boosted multi-class trees as an
// up/down classifier and a return forecaster.
package xgboost

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"math"
	"strconv"

	"stockcast/internal/ml/base"
	"stockcast/internal/ml/common"

	"github.com/rmera/boo"
	"github.com/rmera/boo/utils"
)

type TrainOptions struct {
	Rounds       int
	LearningRate float64
	MaxDepth     int
}

type artifact struct {
	FeatureNames []string `json:"feature_names"`
	ModelText    string   `json:"model_text"`
	Scale        float64  `json:"scale,omitempty"`
}

type Model struct {
	featureNames []string
	boost        *boo.MultiClass
	scale        float64
}

func DefaultTrainOptions() TrainOptions {
	return TrainOptions{
		Rounds:       40,
		LearningRate: 0.08,
		MaxDepth:     4,
	}
}

// Train fits the classifier on labels >= 0.5 meaning up.
func Train(samples [][]float64, labels []float64, featureNames []string, opts TrainOptions) (*Model, error) {
	if len(samples) == 0 || len(samples) != len(labels) {
		return nil, errors.New("invalid training dataset")
	}
	if len(samples[0]) == 0 {
		return nil, errors.New("empty feature vectors")
	}
	classSet := make(map[int]struct{}, 2)
	intLabels := make([]int, len(labels))
	for i, v := range labels {
		label := 0
		if v >= 0.5 {
			label = 1
		}
		intLabels[i] = label
		classSet[label] = struct{}{}
	}
	if len(classSet) < 2 {
		return nil, errors.New("boosted trees need both up and down samples")
	}
	d := DefaultTrainOptions()
	if opts.Rounds <= 0 {
		opts.Rounds = d.Rounds
	}
	if opts.LearningRate <= 0 {
		opts.LearningRate = d.LearningRate
	}
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = d.MaxDepth
	}
	if len(featureNames) != len(samples[0]) {
		featureNames = make([]string, len(samples[0]))
		for i := range featureNames {
			featureNames[i] = "f" + strconv.Itoa(i)
		}
	}

	o := boo.DefaultXOptions()
	o.Rounds = opts.Rounds
	o.LearningRate = opts.LearningRate
	o.MaxDepth = opts.MaxDepth
	o.Verbose = false
	o.EarlyStop = 0

	data := &utils.DataBunch{
		Data:   samples,
		Labels: intLabels,
		Keys:   featureNames,
	}
	model := boo.NewMultiClass(data, o)
	if model == nil {
		return nil, errors.New("boosted tree training returned no model")
	}
	return &Model{featureNames: append([]string(nil), featureNames...), boost: model, scale: 1}, nil
}

func (m *Model) PredictProb(sample []float64) float64 {
	if m == nil || m.boost == nil {
		return 0.5
	}
	probs := m.boost.PredictSingle(sample)
	labels := m.boost.ClassLabels()
	for i := range labels {
		if labels[i] == 1 && i < len(probs) {
			return common.Clamp01(probs[i])
		}
	}
	if len(probs) == 0 {
		return 0.5
	}
	return common.Clamp01(probs[len(probs)-1])
}

func (m *Model) PredictBatch(samples [][]float64) []float64 {
	out := make([]float64, len(samples))
	for i := range samples {
		out[i] = m.PredictProb(samples[i])
	}
	return out
}

func (m *Model) MarshalBinary() ([]byte, error) {
	if m == nil || m.boost == nil {
		return nil, errors.New("nil model")
	}
	var buf bytes.Buffer
	if err := boo.JSONMultiClass(m.boost, "softmax", &buf); err != nil {
		return nil, err
	}
	return json.Marshal(artifact{
		FeatureNames: m.featureNames,
		ModelText:    buf.String(),
		Scale:        m.scale,
	})
}

func UnmarshalBinary(blob []byte) (*Model, error) {
	if len(blob) == 0 {
		return nil, errors.New("empty artifact")
	}
	var a artifact
	if err := json.Unmarshal(blob, &a); err != nil {
		return nil, err
	}
	model, err := boo.UnJSONMultiClass(bufio.NewReader(bytes.NewReader([]byte(a.ModelText))))
	if err != nil {
		return nil, err
	}
	if a.Scale == 0 {
		a.Scale = 1
	}
	return &Model{featureNames: append([]string(nil), a.FeatureNames...), boost: model, scale: a.Scale}, nil
}

func (m *Model) FeatureNames() []string {
	if m == nil {
		return nil
	}
	return append([]string(nil), m.featureNames...)
}

// Regressor maps the up probability p to a return forecast (2p−1)·scale,
// scale being the mean absolute training return.
type Regressor struct {
	opts  TrainOptions
	names []string
	model *Model
}

var _ base.Model = (*Regressor)(nil)

func NewRegressor(opts TrainOptions, featureNames ...string) *Regressor {
	return &Regressor{opts: opts, names: featureNames}
}

func Factory(opts TrainOptions, featureNames ...string) func() base.Model {
	return func() base.Model { return NewRegressor(opts, featureNames...) }
}

func RegressorFromModel(m *Model) *Regressor { return &Regressor{model: m} }

func (r *Regressor) Fit(X [][]float64, y []float64) error {
	if len(X) != len(y) {
		return errors.New("invalid training dataset")
	}
	labels := make([]float64, len(y))
	scale := 0.0
	for i, v := range y {
		if v > 0 {
			labels[i] = 1
		}
		scale += math.Abs(v)
	}
	m, err := Train(X, labels, r.names, r.opts)
	if err != nil {
		return err
	}
	if scale > 0 {
		m.scale = scale / float64(len(y))
	}
	r.model = m
	return nil
}

func (r *Regressor) Predict(X [][]float64) ([]float64, error) {
	if r.model == nil {
		return nil, errors.New("boosted regressor is not fitted")
	}
	out := make([]float64, len(X))
	for i := range X {
		out[i] = (2*r.model.PredictProb(X[i]) - 1) * r.model.scale
	}
	return out, nil
}

func (r *Regressor) Model() *Model { return r.model }
