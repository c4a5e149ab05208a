package ensemble

import (
	"context"
	"testing"

	"stockcast/internal/domain"
	"stockcast/internal/ml/base/basetest"
	"stockcast/internal/ml/common"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDispatchesOnMode(t *testing.T) {
	for _, mode := range []Mode{ModeStacking, ModeDynamic, ModeDiversity, ModeConfidence} {
		t.Run(string(mode), func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Mode = mode
			ens, err := New(cfg, basetest.ScenarioSpecs())
			require.NoError(t, err)
			assert.Equal(t, mode, ens.Mode())

			_, weighted := ens.(Weighted)
			assert.Equal(t, mode != ModeStacking, weighted)
		})
	}

	cfg := DefaultConfig()
	cfg.Mode = "bayesian"
	_, err := New(cfg, basetest.ScenarioSpecs())
	assert.True(t, common.IsConfigurationError(err))
}

func TestFactoryBuildsIndependentEnsembles(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Mode = ModeDynamic
	factory := Factory(cfg, basetest.ScenarioSpecs())

	first, err := factory()
	require.NoError(t, err)
	second, err := factory()
	require.NoError(t, err)
	require.NoError(t, first.Fit(context.Background(), basetest.Scenario(40)))

	_, err = second.Predict([][]float64{{0, 0}})
	assert.ErrorIs(t, err, common.ErrNotFitted)
}

func TestHolder(t *testing.T) {
	var h Holder
	ens, version := h.Load()
	assert.Nil(t, ens)
	assert.Zero(t, version)

	d, err := NewDynamic(DefaultConfig(), basetest.ScenarioSpecs())
	require.NoError(t, err)
	h.Store(d, 4)
	got, version := h.Load()
	assert.Same(t, d, got)
	assert.Equal(t, 4, version)
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	tests := map[string]func(*Config){
		"rolling window": func(c *Config) { c.RollingWindow = 0 },
		"validation":     func(c *Config) { c.ValidationWindow = -1 },
		"epsilon":        func(c *Config) { c.Epsilon = 0 },
		"floor":          func(c *Config) { c.MinWeightFloor = 1 },
		"uncovered":      func(c *Config) { c.MaxUncoveredRatio = 2 },
		"defensive bias": func(c *Config) { c.DefensiveBias = 1.5 },
		"correlation":    func(c *Config) { c.CorrelationThreshold = -0.1 },
		"folds":          func(c *Config) { c.Folds.NFolds = 0 },
		"unknown mode":   func(c *Config) { c.Mode = "" },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultConfig()
			mutate(&cfg)
			assert.True(t, common.IsConfigurationError(cfg.Validate()))
		})
	}
}

func TestDirection(t *testing.T) {
	assert.Equal(t, domain.DirectionLong, Direction(0.01, DefaultDirectionThreshold))
	assert.Equal(t, domain.DirectionShort, Direction(-0.01, DefaultDirectionThreshold))
	assert.Equal(t, domain.DirectionHold, Direction(0.001, DefaultDirectionThreshold))
}
