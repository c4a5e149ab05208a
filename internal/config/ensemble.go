package config

import (
	"fmt"
	"os"
	"time"

	"stockcast/internal/ml/base"
	"stockcast/internal/ml/common"
	"stockcast/internal/ml/ensemble"
	"stockcast/internal/ml/folds"
	"stockcast/internal/ml/models"
	"stockcast/internal/ml/models/linear"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// EnsembleFile is the YAML ensemble definition.
type EnsembleFile struct {
	Splitter   Splitter      `yaml:"splitter"`
	Ensemble   Ensemble      `yaml:"ensemble"`
	Validation Validation    `yaml:"validation"`
	Models     []ModelConfig `yaml:"models" validate:"dive"`
}

type Splitter struct {
	Mode         string `yaml:"mode" default:"expanding" validate:"oneof=expanding sliding"`
	NFolds       int    `yaml:"n_folds" default:"5" validate:"gte=0"`
	Gap          int    `yaml:"gap" validate:"gte=0"`
	TrainSize    int    `yaml:"train_size" validate:"gte=0"`
	TestSize     int    `yaml:"test_size" validate:"gte=0"`
	Step         int    `yaml:"step" validate:"gte=0"`
	MinTrainSize int    `yaml:"min_train_size" validate:"gte=0"`
}

type Ensemble struct {
	Mode                 string        `yaml:"mode" default:"stacking" validate:"oneof=stacking dynamic diversity confidence"`
	RollingWindow        int           `yaml:"rolling_window" default:"10" validate:"gt=0"`
	ValidationWindow     int           `yaml:"validation_window" default:"5" validate:"gt=0"`
	Epsilon              float64       `yaml:"epsilon" default:"1e-8" validate:"gt=0"`
	MinWeightFloor       float64       `yaml:"min_weight_floor" validate:"gte=0,lt=1"`
	MaxUncoveredRatio    float64       `yaml:"max_uncovered_ratio" default:"0.2" validate:"gte=0,lte=1"`
	Workers              int           `yaml:"workers" validate:"gte=0"`
	UnitTimeout          time.Duration `yaml:"unit_timeout" validate:"gte=0"`
	StableModels         []string      `yaml:"stable_models"`
	VolatilityThreshold  float64       `yaml:"volatility_threshold" default:"0.02" validate:"gte=0"`
	DefensiveBias        float64       `yaml:"defensive_bias" default:"0.5" validate:"gte=0,lte=1"`
	CorrelationThreshold float64       `yaml:"correlation_threshold" validate:"gte=0,lte=1"`
	MetaAlpha            float64       `yaml:"meta_alpha" default:"1" validate:"gt=0"`
}

// Validation configures the sliding walk-forward evaluation.
type Validation struct {
	TrainSize    int     `yaml:"train_size" default:"500" validate:"gt=0"`
	TestSize     int     `yaml:"test_size" default:"50" validate:"gt=0"`
	Step         int     `yaml:"step" default:"50" validate:"gt=0"`
	Gap          int     `yaml:"gap" validate:"gte=0"`
	MaxSkipRatio float64 `yaml:"max_skip_ratio" default:"0.5" validate:"gte=0,lte=1"`
}

type ModelConfig struct {
	ID           string  `yaml:"id" validate:"required"`
	Kind         string  `yaml:"kind" validate:"oneof=ridge logreg boost"`
	Alpha        float64 `yaml:"alpha" validate:"gte=0"`
	LearningRate float64 `yaml:"learning_rate" validate:"gte=0"`
	Epochs       int     `yaml:"epochs" validate:"gte=0"`
	Rounds       int     `yaml:"rounds" validate:"gte=0"`
	MaxDepth     int     `yaml:"max_depth" validate:"gte=0"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// DefaultEnsembleFile returns the definition used when no file is given.
func DefaultEnsembleFile() (*EnsembleFile, error) {
	return ParseEnsemble(nil)
}

// LoadEnsemble reads and validates the YAML file at path.
func LoadEnsemble(path string) (*EnsembleFile, error) {
	if path == "" {
		return DefaultEnsembleFile()
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read ensemble config: %w", err)
	}
	return ParseEnsemble(raw)
}

// ParseEnsemble decodes raw YAML, fills defaults and validates the result.
// Validation failures surface as *common.ConfigurationError.
func ParseEnsemble(raw []byte) (*EnsembleFile, error) {
	var f EnsembleFile
	if err := defaults.Set(&f); err != nil {
		return nil, fmt.Errorf("ensemble config defaults: %w", err)
	}
	if len(raw) > 0 {
		if err := yaml.Unmarshal(raw, &f); err != nil {
			return nil, common.NewConfigurationError("ensemble_config", "invalid yaml: %v", err)
		}
	}
	if len(f.Models) == 0 {
		for _, d := range models.Defaults() {
			f.Models = append(f.Models, ModelConfig{ID: d.ID, Kind: d.Kind, Alpha: d.Alpha})
		}
	}
	if err := validate.Struct(&f); err != nil {
		return nil, common.NewConfigurationError("ensemble_config", "%v", err)
	}
	if err := f.EnsembleConfig().Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// EnsembleConfig maps the file onto the ensemble configuration.
func (f *EnsembleFile) EnsembleConfig() ensemble.Config {
	e := f.Ensemble
	return ensemble.Config{
		Mode: ensemble.Mode(e.Mode),
		Folds: folds.Config{
			Mode:         folds.Mode(f.Splitter.Mode),
			NFolds:       f.Splitter.NFolds,
			Gap:          f.Splitter.Gap,
			TrainSize:    f.Splitter.TrainSize,
			TestSize:     f.Splitter.TestSize,
			Step:         f.Splitter.Step,
			MinTrainSize: f.Splitter.MinTrainSize,
		},
		RollingWindow:        e.RollingWindow,
		ValidationWindow:     e.ValidationWindow,
		Epsilon:              e.Epsilon,
		MinWeightFloor:       e.MinWeightFloor,
		MaxUncoveredRatio:    e.MaxUncoveredRatio,
		Workers:              e.Workers,
		UnitTimeout:          e.UnitTimeout,
		StableModels:         append([]string(nil), e.StableModels...),
		VolatilityThreshold:  e.VolatilityThreshold,
		DefensiveBias:        e.DefensiveBias,
		CorrelationThreshold: e.CorrelationThreshold,
		MetaModel:            linear.Factory(e.MetaAlpha),
	}
}

// ValidationFolds is the sliding split used for walk-forward evaluation.
func (f *EnsembleFile) ValidationFolds() folds.Config {
	v := f.Validation
	return folds.Config{Mode: folds.Sliding, TrainSize: v.TrainSize, TestSize: v.TestSize, Step: v.Step, Gap: v.Gap}
}

// ReserveLabelSpan widens the splitter and validation gaps to at least span
// rows so no training target reaches into a test window. It reports whether
// either gap grew.
func (f *EnsembleFile) ReserveLabelSpan(span int) bool {
	grew := false
	if f.Splitter.Gap < span {
		f.Splitter.Gap = span
		grew = true
	}
	if f.Validation.Gap < span {
		f.Validation.Gap = span
		grew = true
	}
	return grew
}

// Specs builds base model specs over featureNames.
func (f *EnsembleFile) Specs(featureNames []string) ([]base.Spec, error) {
	defs := make([]models.Definition, len(f.Models))
	for i, m := range f.Models {
		defs[i] = models.Definition{
			ID:           m.ID,
			Kind:         m.Kind,
			Alpha:        m.Alpha,
			LearningRate: m.LearningRate,
			Epochs:       m.Epochs,
			Rounds:       m.Rounds,
			MaxDepth:     m.MaxDepth,
		}
	}
	return models.Build(defs, featureNames)
}
