// Package models maps configured model definitions onto base model specs.
package models

import (
	"stockcast/internal/ml/base"
	"stockcast/internal/ml/common"
	"stockcast/internal/ml/models/linear"
	"stockcast/internal/ml/models/logreg"
	"stockcast/internal/ml/models/xgboost"
)

const (
	KindRidge  = "ridge"
	KindLogReg = "logreg"
	KindBoost  = "boost"
)

// Definition configures one base model. Zero tuning fields take the
// model's own defaults.
type Definition struct {
	ID           string
	Kind         string
	Alpha        float64
	LearningRate float64
	Epochs       int
	Rounds       int
	MaxDepth     int
}

// Defaults is the production line-up: a ridge on the raw features plus
// both direction classifiers.
func Defaults() []Definition {
	return []Definition{
		{ID: common.ModelKeyRidge, Kind: KindRidge, Alpha: 1},
		{ID: common.ModelKeyLogReg, Kind: KindLogReg},
		{ID: common.ModelKeyXGBoost, Kind: KindBoost},
	}
}

// Build turns definitions into specs over the given feature names.
func Build(defs []Definition, featureNames []string) ([]base.Spec, error) {
	specs := make([]base.Spec, 0, len(defs))
	for _, d := range defs {
		var ctor func() base.Model
		switch d.Kind {
		case KindRidge:
			ctor = linear.Factory(d.Alpha, featureNames...)
		case KindLogReg:
			opts := logreg.DefaultTrainOptions()
			if d.Alpha > 0 {
				opts.L2 = d.Alpha
			}
			if d.LearningRate > 0 {
				opts.LearningRate = d.LearningRate
			}
			if d.Epochs > 0 {
				opts.Epochs = d.Epochs
			}
			ctor = logreg.Factory(opts, featureNames...)
		case KindBoost:
			ctor = xgboost.Factory(xgboost.TrainOptions{
				Rounds:       d.Rounds,
				LearningRate: d.LearningRate,
				MaxDepth:     d.MaxDepth,
			}, featureNames...)
		default:
			return nil, common.NewConfigurationError("models", "unknown kind %q for %q", d.Kind, d.ID)
		}
		specs = append(specs, base.Spec{ID: d.ID, New: ctor})
	}
	if err := base.ValidateSpecs(specs); err != nil {
		return nil, err
	}
	return specs, nil
}

// Artifact formats written by Marshal.
const (
	FormatRidge  = "json/ridge-v1"
	FormatLogReg = "json/logreg-v2"
	FormatBoost  = "json/boo-v2"
)

// ArtifactFormat names the serialisation used by a model kind.
func ArtifactFormat(m base.Model) string {
	switch m.(type) {
	case *linear.Ridge:
		return FormatRidge
	case *logreg.Regressor:
		return FormatLogReg
	case *xgboost.Regressor:
		return FormatBoost
	default:
		return ""
	}
}

// Marshal serialises a fitted model when its kind supports it.
func Marshal(m base.Model) ([]byte, bool, error) {
	switch v := m.(type) {
	case *linear.Ridge:
		b, err := v.MarshalBinary()
		return b, true, err
	case *logreg.Regressor:
		if v.Model() == nil {
			return nil, false, nil
		}
		b, err := v.Model().MarshalBinary()
		return b, true, err
	case *xgboost.Regressor:
		if v.Model() == nil {
			return nil, false, nil
		}
		b, err := v.Model().MarshalBinary()
		return b, true, err
	default:
		return nil, false, nil
	}
}

// Unmarshal restores a model saved by Marshal.
func Unmarshal(format string, blob []byte) (base.Model, error) {
	switch format {
	case FormatRidge:
		return linear.UnmarshalBinary(blob)
	case FormatLogReg:
		m, err := logreg.UnmarshalBinary(blob)
		if err != nil {
			return nil, err
		}
		return logreg.RegressorFromModel(m), nil
	case FormatBoost:
		m, err := xgboost.UnmarshalBinary(blob)
		if err != nil {
			return nil, err
		}
		return xgboost.RegressorFromModel(m), nil
	default:
		return nil, common.NewConfigurationError("artifact_format", "unsupported %q", format)
	}
}
