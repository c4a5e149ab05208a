package linear

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRidgeRecoversLinearRelation(t *testing.T) {
	X := make([][]float64, 0, 60)
	y := make([]float64, 0, 60)
	for i := 0; i < 60; i++ {
		a := float64(i) / 10
		b := math.Sin(float64(i))
		X = append(X, []float64{a, b})
		y = append(y, 2*a-3*b+0.5)
	}

	model := NewRidge(1e-6, "a", "b")
	require.NoError(t, model.Fit(X, y))

	coef := model.Coefficients()
	require.Len(t, coef, 2)
	assert.InDelta(t, 2, coef[0], 1e-4)
	assert.InDelta(t, -3, coef[1], 1e-4)

	preds, err := model.Predict([][]float64{{1, 0}, {0, 1}})
	require.NoError(t, err)
	assert.InDelta(t, 2.5, preds[0], 1e-4)
	assert.InDelta(t, -2.5, preds[1], 1e-4)
}

func TestRidgeHandlesConstantColumn(t *testing.T) {
	X := [][]float64{{1, 7}, {2, 7}, {3, 7}, {4, 7}}
	y := []float64{2, 4, 6, 8}
	model := NewRidge(0.01)
	require.NoError(t, model.Fit(X, y))
	preds, err := model.Predict([][]float64{{5, 7}})
	require.NoError(t, err)
	assert.InDelta(t, 10, preds[0], 0.05)
}

func TestRidgeRoundTrip(t *testing.T) {
	model := NewRidge(DefaultAlpha)
	require.NoError(t, model.Fit([][]float64{{0}, {1}, {2}, {3}}, []float64{1, 3, 5, 7}))
	blob, err := model.MarshalBinary()
	require.NoError(t, err)

	restored, err := UnmarshalBinary(blob)
	require.NoError(t, err)
	want, _ := model.Predict([][]float64{{10}})
	got, err := restored.Predict([][]float64{{10}})
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestRidgeErrors(t *testing.T) {
	model := NewRidge(1)
	_, err := model.Predict([][]float64{{1}})
	assert.Error(t, err)
	assert.Error(t, model.Fit(nil, nil))
	assert.Error(t, model.Fit([][]float64{{1}, {2, 3}}, []float64{1, 2}))

	require.NoError(t, model.Fit([][]float64{{1}, {2}}, []float64{1, 2}))
	_, err = model.Predict([][]float64{{1, 2}})
	assert.Error(t, err)
}
