// Package ensemble combines base model forecasts into one prediction, either
// through a learned stacking meta-model or through explicit weight vectors
// that adapt as model performance drifts.
package ensemble

import (
	"context"
	"slices"
	"time"

	"stockcast/internal/ml/base"
	"stockcast/internal/ml/common"
	"stockcast/internal/ml/folds"
	"stockcast/internal/ml/oof"

	"github.com/rs/zerolog"
)

type Mode string

const (
	ModeStacking   Mode = "stacking"
	ModeDynamic    Mode = "dynamic"
	ModeDiversity  Mode = "diversity"
	ModeConfidence Mode = "confidence"
)

// CombinedPrediction is one ensemble output. WeightsUsed is empty for
// stacking, where the combination is learned.
type CombinedPrediction struct {
	Value              float64      `json:"value"`
	WeightsUsed        WeightVector `json:"weights_used"`
	ContributingModels []string     `json:"contributing_models"`
}

// Ensemble is the behaviour shared by every combination strategy.
type Ensemble interface {
	Mode() Mode
	Fit(ctx context.Context, ds *base.Dataset) error
	Predict(X [][]float64) ([]CombinedPrediction, error)
	// ModelPredictions returns each production model's raw output.
	ModelPredictions(X [][]float64) (map[string][]float64, error)
	// ProductionModels returns the full-dataset fits keyed by model ID.
	ProductionModels() (map[string]base.Model, error)
}

// Weighted is implemented by the dynamic, diversity and confidence strategies.
type Weighted interface {
	Ensemble
	UpdateWeights(batch Batch) (WeightVector, error)
	Weights() (WeightVector, error)
}

// Batch is a recent evaluation window: per-model predictions aligned with
// realised targets. Volatility is an optional market signal used by
// defensive mode.
type Batch struct {
	Predictions map[string][]float64
	Targets     []float64
	Volatility  float64
}

type Config struct {
	Mode              Mode
	Folds             folds.Config
	RollingWindow     int
	ValidationWindow  int
	Epsilon           float64
	MinWeightFloor    float64
	MaxUncoveredRatio float64
	Workers           int
	UnitTimeout       time.Duration

	// StableModels lists the IDs favoured in defensive mode.
	StableModels         []string
	VolatilityThreshold  float64
	DefensiveBias        float64
	CorrelationThreshold float64

	// MetaModel builds the stacking combiner; nil means ridge regression.
	MetaModel func() base.Model
}

func DefaultConfig() Config {
	return Config{
		Mode:                ModeStacking,
		Folds:               folds.Config{Mode: folds.Expanding, NFolds: 5},
		RollingWindow:       10,
		ValidationWindow:    5,
		Epsilon:             1e-8,
		MaxUncoveredRatio:   oof.DefaultMaxUncoveredRatio,
		VolatilityThreshold: 0.02,
		DefensiveBias:       0.5,
	}
}

func (c Config) Validate() error {
	switch c.Mode {
	case ModeStacking, ModeDynamic, ModeDiversity, ModeConfidence:
	default:
		return common.NewConfigurationError("ensemble_mode", "unknown mode %q", c.Mode)
	}
	if c.Mode == ModeStacking {
		if err := c.Folds.Validate(); err != nil {
			return err
		}
	}
	if c.RollingWindow <= 0 {
		return common.NewConfigurationError("rolling_window", "must be > 0, got %d", c.RollingWindow)
	}
	if c.ValidationWindow <= 0 {
		return common.NewConfigurationError("validation_window", "must be > 0, got %d", c.ValidationWindow)
	}
	if !(c.Epsilon > 0) {
		return common.NewConfigurationError("epsilon", "must be > 0, got %g", c.Epsilon)
	}
	if c.MinWeightFloor < 0 || c.MinWeightFloor >= 1 {
		return common.NewConfigurationError("min_weight_floor", "must be in [0,1), got %g", c.MinWeightFloor)
	}
	if c.MaxUncoveredRatio < 0 || c.MaxUncoveredRatio > 1 {
		return common.NewConfigurationError("max_uncovered_ratio", "must be in [0,1], got %g", c.MaxUncoveredRatio)
	}
	if c.DefensiveBias < 0 || c.DefensiveBias > 1 {
		return common.NewConfigurationError("defensive_bias", "must be in [0,1], got %g", c.DefensiveBias)
	}
	if c.CorrelationThreshold < 0 || c.CorrelationThreshold > 1 {
		return common.NewConfigurationError("correlation_threshold", "must be in [0,1], got %g", c.CorrelationThreshold)
	}
	if c.UnitTimeout < 0 {
		return common.NewConfigurationError("unit_timeout", "must be >= 0")
	}
	return nil
}

// Recorder receives unit timings and published weight vectors.
type Recorder interface {
	oof.Recorder
	ObserveWeights(mode string, weights map[string]float64)
	ObserveDiversity(index float64)
}

type nopRecorder struct{}

func (nopRecorder) ObserveUnit(string, bool, time.Duration)   {}
func (nopRecorder) ObserveWeights(string, map[string]float64) {}
func (nopRecorder) ObserveDiversity(float64)                  {}

type settings struct {
	log zerolog.Logger
	rec Recorder
}

type Option func(*settings)

func WithLogger(l zerolog.Logger) Option {
	return func(s *settings) { s.log = l }
}

func WithRecorder(r Recorder) Option {
	return func(s *settings) {
		if r != nil {
			s.rec = r
		}
	}
}

func applyOptions(mode Mode, opts []Option) settings {
	s := settings{log: zerolog.Nop(), rec: nopRecorder{}}
	for _, opt := range opts {
		opt(&s)
	}
	s.log = s.log.With().Str("ensemble_mode", string(mode)).Logger()
	return s
}

func (s settings) builder(cfg Config) (*oof.Builder, error) {
	return oof.NewBuilder(cfg.Folds,
		oof.WithMaxUncoveredRatio(cfg.MaxUncoveredRatio),
		oof.WithWorkers(cfg.Workers),
		oof.WithUnitTimeout(cfg.UnitTimeout),
		oof.WithLogger(s.log),
		oof.WithRecorder(s.rec),
	)
}

func copySpecs(specs []base.Spec) []base.Spec {
	return slices.Clone(specs)
}
