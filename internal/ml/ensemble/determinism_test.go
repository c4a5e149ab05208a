package ensemble

import (
	"context"
	"testing"

	"stockcast/internal/ml/base/basetest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type runOutput struct {
	weights map[string]float64
	update  map[string]float64
	preds   []CombinedPrediction
}

// TestRefitIsDeterministic fits the same instance twice on identical data
// and replays an identical weight update after each fit. Both runs must
// produce bit-identical weights and forecasts.
func TestRefitIsDeterministic(t *testing.T) {
	ds := basetest.Scenario(160)
	train := ds.Slice(0, 120)

	for _, mode := range []Mode{ModeStacking, ModeDynamic, ModeDiversity, ModeConfidence} {
		t.Run(string(mode), func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Mode = mode
			ens, err := New(cfg, basetest.ScenarioSpecs())
			require.NoError(t, err)

			run := func() runOutput {
				require.NoError(t, ens.Fit(context.Background(), train))

				var out runOutput
				if w, ok := ens.(Weighted); ok {
					preds, err := ens.ModelPredictions(ds.X(120, 140))
					require.NoError(t, err)
					updated, err := w.UpdateWeights(Batch{Predictions: preds, Targets: ds.Y(120, 140), Volatility: 0.01})
					require.NoError(t, err)
					out.update = updated.Map()
				}
				summary, err := Describe(ens)
				require.NoError(t, err)
				out.weights = summary.Weights

				out.preds, err = ens.Predict(ds.X(140, 160))
				require.NoError(t, err)
				return out
			}

			first := run()
			second := run()
			require.NotEmpty(t, first.weights)
			assert.Equal(t, first.weights, second.weights)
			assert.Equal(t, first.update, second.update)
			assert.Equal(t, first.preds, second.preds)
		})
	}
}
