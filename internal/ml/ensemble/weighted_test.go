package ensemble

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"

	"stockcast/internal/ml/base"
	"stockcast/internal/ml/base/basetest"
	"stockcast/internal/ml/common"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func constSpecs(values map[string]float64, order ...string) []base.Spec {
	specs := make([]base.Spec, 0, len(order))
	for _, id := range order {
		v := values[id]
		specs = append(specs, base.Spec{ID: id, New: func() base.Model { return basetest.Constant{Value: v} }})
	}
	return specs
}

func threeConst() []base.Spec {
	return constSpecs(map[string]float64{"a": 1, "b": 2, "c": 3}, "a", "b", "c")
}

func fitted[T Weighted](t *testing.T, ctor func(Config, []base.Spec, ...Option) (T, error), cfg Config, specs []base.Spec) T {
	t.Helper()
	ens, err := ctor(cfg, specs)
	require.NoError(t, err)
	require.NoError(t, ens.Fit(context.Background(), basetest.Linear(30)))
	return ens
}

// offsetBatch builds a batch where each model's predictions sit a constant
// offset from the targets, so its MSE is offset².
func offsetBatch(targets []float64, offsets map[string]float64) Batch {
	preds := make(map[string][]float64, len(offsets))
	for id, off := range offsets {
		p := make([]float64, len(targets))
		for i, y := range targets {
			p[i] = y + off
		}
		preds[id] = p
	}
	return Batch{Predictions: preds, Targets: targets}
}

var batchTargets = []float64{0.3, -0.1, 0.4, 0.2, -0.5, 0.1}

func assertSimplex(t *testing.T, w WeightVector) {
	t.Helper()
	assert.InDelta(t, 1.0, w.Sum(), 1e-9)
	for _, v := range w.Values() {
		assert.GreaterOrEqual(t, v, 0.0)
	}
}

func TestDynamicStartsUniform(t *testing.T) {
	d := fitted(t, NewDynamic, DefaultConfig(), threeConst())
	w, err := d.Weights()
	require.NoError(t, err)
	for _, v := range w.Values() {
		assert.InDelta(t, 1.0/3, v, 1e-12)
	}

	out, err := d.Predict([][]float64{{0, 0}, {1, 1}})
	require.NoError(t, err)
	assert.InDelta(t, 2.0, out[0].Value, 1e-12)
	assert.Equal(t, []string{"a", "b", "c"}, out[1].ContributingModels)
	assert.Equal(t, 3, out[1].WeightsUsed.Len())
}

func TestDynamicPenalisesDegradingModel(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RollingWindow = 2
	d := fitted(t, NewDynamic, cfg, threeConst())

	steady := map[string]float64{"a": 1, "b": 1, "c": 1}
	for range 2 {
		w, err := d.UpdateWeights(offsetBatch(batchTargets, steady))
		require.NoError(t, err)
		assertSimplex(t, w)
	}
	before, err := d.Weights()
	require.NoError(t, err)
	prior, _ := before.Get("a")
	assert.InDelta(t, 1.0/3, prior, 1e-6)

	// Model a's squared error jumps to 5, tripling its window mean to 3.
	after, err := d.UpdateWeights(offsetBatch(batchTargets, map[string]float64{"a": math.Sqrt(5), "b": 1, "c": 1}))
	require.NoError(t, err)
	assertSimplex(t, after)
	got, _ := after.Get("a")
	assert.InDelta(t, 1.0/7, got, 1e-6)
	assert.Less(t, got, 0.7*prior)
	assert.InDelta(t, 3.0, mean(d.HistorySnapshot("a")), 1e-9)
}

func TestDynamicDefensiveMode(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StableModels = []string{"a"}
	d := fitted(t, NewDynamic, cfg, threeConst())

	batch := offsetBatch(batchTargets, map[string]float64{"a": 1, "b": 1, "c": 1})
	calm, err := d.UpdateWeights(batch)
	require.NoError(t, err)
	a, _ := calm.Get("a")
	assert.InDelta(t, 1.0/3, a, 1e-6)

	batch.Volatility = 0.05
	stressed, err := d.UpdateWeights(batch)
	require.NoError(t, err)
	assertSimplex(t, stressed)
	a, _ = stressed.Get("a")
	b, _ := stressed.Get("b")
	assert.InDelta(t, 2.0/3, a, 1e-6)
	assert.InDelta(t, 1.0/6, b, 1e-6)
}

func TestDynamicDefensiveModeNeedsStableModels(t *testing.T) {
	d := fitted(t, NewDynamic, DefaultConfig(), threeConst())
	batch := offsetBatch(batchTargets, map[string]float64{"a": 1, "b": 1, "c": 1})
	batch.Volatility = 0.5
	w, err := d.UpdateWeights(batch)
	require.NoError(t, err)
	for _, v := range w.Values() {
		assert.InDelta(t, 1.0/3, v, 1e-6)
	}
}

func TestDynamicCorrelatedRegimeFallsBackToUniform(t *testing.T) {
	specs := constSpecs(map[string]float64{"a": 0, "b": 0}, "a", "b")
	batch := offsetBatch(batchTargets, map[string]float64{"a": 1, "b": 2})

	plain := fitted(t, NewDynamic, DefaultConfig(), specs)
	w, err := plain.UpdateWeights(batch)
	require.NoError(t, err)
	a, _ := w.Get("a")
	assert.InDelta(t, 0.8, a, 1e-6)

	cfg := DefaultConfig()
	cfg.CorrelationThreshold = 0.7
	guarded := fitted(t, NewDynamic, cfg, specs)
	w, err = guarded.UpdateWeights(batch)
	require.NoError(t, err)
	a, _ = w.Get("a")
	assert.InDelta(t, 0.5, a, 1e-12)
}

func TestDynamicWeightFloor(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinWeightFloor = 0.1
	d := fitted(t, NewDynamic, cfg, threeConst())

	w, err := d.UpdateWeights(offsetBatch(batchTargets, map[string]float64{"a": 0.01, "b": 10, "c": 10}))
	require.NoError(t, err)
	assertSimplex(t, w)
	for _, v := range w.Values() {
		assert.GreaterOrEqual(t, v, 0.1-1e-12)
	}
	a, _ := w.Get("a")
	assert.InDelta(t, 0.8, a, 1e-6)
}

func TestWeightedBatchValidation(t *testing.T) {
	d := fitted(t, NewDynamic, DefaultConfig(), threeConst())

	_, err := d.UpdateWeights(offsetBatch(batchTargets, map[string]float64{"a": 1, "b": 1}))
	assert.True(t, common.IsConfigurationError(err))

	_, err = d.UpdateWeights(Batch{})
	assert.True(t, common.IsConfigurationError(err))

	batch := offsetBatch(batchTargets, map[string]float64{"a": 1, "b": 1, "c": 1})
	batch.Predictions["b"] = batch.Predictions["b"][:2]
	_, err = d.UpdateWeights(batch)
	var dim *common.DimensionMismatchError
	require.True(t, errors.As(err, &dim))
	assert.Equal(t, "b", dim.ModelID)

	// A rejected batch leaves the published state untouched.
	assert.Empty(t, d.HistorySnapshot("a"))
}

func TestWeightedNotFitted(t *testing.T) {
	for _, mode := range []Mode{ModeDynamic, ModeDiversity, ModeConfidence} {
		t.Run(string(mode), func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Mode = mode
			ens, err := New(cfg, threeConst())
			require.NoError(t, err)
			w := ens.(Weighted)

			_, err = w.Predict([][]float64{{1}})
			assert.ErrorIs(t, err, common.ErrNotFitted)
			_, err = w.Weights()
			assert.ErrorIs(t, err, common.ErrNotFitted)
			_, err = w.UpdateWeights(offsetBatch(batchTargets, map[string]float64{"a": 1, "b": 1, "c": 1}))
			assert.ErrorIs(t, err, common.ErrNotFitted)
		})
	}
}

func TestWeightedExcludesModelsThatFailToFit(t *testing.T) {
	specs := append(threeConst(), base.Spec{ID: "broken", New: func() base.Model { return basetest.Failing{} }})
	d := fitted(t, NewDynamic, DefaultConfig(), specs)

	w, err := d.Weights()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, w.IDs())
	_, ok := w.Get("broken")
	assert.False(t, ok)

	models, err := d.ProductionModels()
	require.NoError(t, err)
	assert.Len(t, models, 3)
}

func TestWeightedFailsWhenEveryModelFails(t *testing.T) {
	specs := []base.Spec{{ID: "broken", New: func() base.Model { return basetest.Failing{} }}}
	d, err := NewDynamic(DefaultConfig(), specs)
	require.NoError(t, err)

	err = d.Fit(context.Background(), basetest.Linear(20))
	var tErr *common.BaseModelTrainingError
	require.True(t, errors.As(err, &tErr))
	assert.Equal(t, "broken", tErr.ModelID)
}

func TestDiversitySingleModelGetsFullWeight(t *testing.T) {
	specs := constSpecs(map[string]float64{"solo": 1}, "solo")
	d := fitted(t, NewDiversity, DefaultConfig(), specs)

	w, err := d.UpdateWeights(Batch{Predictions: map[string][]float64{"solo": {1, 2, 3}}})
	require.NoError(t, err)
	got, _ := w.Get("solo")
	assert.Equal(t, 1.0, got)
	idx, err := d.DiversityIndex()
	require.NoError(t, err)
	assert.Equal(t, 0.0, idx)
}

func TestDiversityPerfectlyAntiCorrelatedPair(t *testing.T) {
	specs := constSpecs(map[string]float64{"up": 0, "down": 0}, "up", "down")
	d := fitted(t, NewDiversity, DefaultConfig(), specs)

	w, err := d.UpdateWeights(Batch{Predictions: map[string][]float64{
		"up":   {1, 2, 3, 4},
		"down": {4, 3, 2, 1},
	}})
	require.NoError(t, err)
	up, _ := w.Get("up")
	down, _ := w.Get("down")
	assert.InDelta(t, 0.5, up, 1e-12)
	assert.InDelta(t, 0.5, down, 1e-12)
	idx, err := d.DiversityIndex()
	require.NoError(t, err)
	assert.InDelta(t, 0.0, idx, 1e-12)
}

func TestDiversityFavoursIndependentModel(t *testing.T) {
	specs := constSpecs(map[string]float64{"a": 0, "b": 0, "c": 0}, "a", "b", "c")
	d := fitted(t, NewDiversity, DefaultConfig(), specs)

	sin := make([]float64, 8)
	cos := make([]float64, 8)
	for k := range sin {
		sin[k] = math.Sin(2 * math.Pi * float64(k) / 8)
		cos[k] = math.Cos(2 * math.Pi * float64(k) / 8)
	}
	w, err := d.UpdateWeights(Batch{Predictions: map[string][]float64{"a": sin, "b": sin, "c": cos}})
	require.NoError(t, err)
	assertSimplex(t, w)
	a, _ := w.Get("a")
	c, _ := w.Get("c")
	assert.InDelta(t, 0.25, a, 1e-9)
	assert.InDelta(t, 0.5, c, 1e-9)
	idx, err := d.DiversityIndex()
	require.NoError(t, err)
	assert.InDelta(t, 2.0/3, idx, 1e-9)
}

func TestDiversityConstantPredictionsCountAsUncorrelated(t *testing.T) {
	specs := constSpecs(map[string]float64{"a": 0, "b": 0}, "a", "b")
	d := fitted(t, NewDiversity, DefaultConfig(), specs)

	w, err := d.UpdateWeights(Batch{Predictions: map[string][]float64{"a": {1, 1, 1}, "b": {1, 2, 3}}})
	require.NoError(t, err)
	a, _ := w.Get("a")
	assert.InDelta(t, 0.5, a, 1e-12)
	idx, _ := d.DiversityIndex()
	assert.InDelta(t, 1.0, idx, 1e-12)
}

func TestConfidenceUsesValidationHistory(t *testing.T) {
	specs := []base.Spec{
		{ID: "sharp", New: func() base.Model {
			return basetest.WithHistory{Losses: []float64{9, 9, 0.1, 0.1, 0.1, 0.1, 0.1}}
		}},
		{ID: "blunt", New: func() base.Model { return basetest.WithHistory{Losses: []float64{0.4}} }},
		{ID: "plain", New: func() base.Model { return basetest.Constant{} }},
	}
	c := fitted(t, NewConfidence, DefaultConfig(), specs)

	w, err := c.Weights()
	require.NoError(t, err)
	assertSimplex(t, w)
	// Scores: 1/0.1, 1/0.4 and 1 for the model without history.
	total := 10.0 + 2.5 + 1
	sharp, _ := w.Get("sharp")
	blunt, _ := w.Get("blunt")
	plain, _ := w.Get("plain")
	assert.InDelta(t, 10/total, sharp, 1e-6)
	assert.InDelta(t, 2.5/total, blunt, 1e-6)
	assert.InDelta(t, 1/total, plain, 1e-6)
}

func TestConfidenceUpdateAppendsBatchLoss(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ValidationWindow = 1
	specs := constSpecs(map[string]float64{"a": 0, "b": 0}, "a", "b")
	c := fitted(t, NewConfidence, cfg, specs)

	w, err := c.UpdateWeights(offsetBatch(batchTargets, map[string]float64{"a": 1, "b": 2}))
	require.NoError(t, err)
	a, _ := w.Get("a")
	assert.InDelta(t, 0.8, a, 1e-6)
	assert.Equal(t, []float64{1}, roundAll(c.HistorySnapshot("a")))
}

func TestWeightedConcurrentReadersSeeConsistentVectors(t *testing.T) {
	d := fitted(t, NewDynamic, DefaultConfig(), threeConst())

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				out, err := d.Predict([][]float64{{0, 0}})
				if !assert.NoError(t, err) {
					return
				}
				assert.InDelta(t, 1.0, out[0].WeightsUsed.Sum(), 1e-9)
			}
		}()
	}
	for i := range 50 {
		off := 1 + float64(i%5)
		_, err := d.UpdateWeights(offsetBatch(batchTargets, map[string]float64{"a": off, "b": 1, "c": 2}))
		require.NoError(t, err)
	}
	close(stop)
	wg.Wait()
}

func mean(xs []float64) float64 {
	s := 0.0
	for _, x := range xs {
		s += x
	}
	return s / float64(len(xs))
}

func roundAll(xs []float64) []float64 {
	out := make([]float64, len(xs))
	for i, x := range xs {
		out[i] = math.Round(x*1e9) / 1e9
	}
	return out
}
