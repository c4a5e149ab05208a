// Package basetest provides deterministic models and datasets for tests of
// the ensemble core.
package basetest

import (
	"errors"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"stockcast/internal/ml/base"
)

var Epoch = time.Date(2026, 1, 5, 14, 30, 0, 0, time.UTC)

// Scenario builds n hourly observations with features [x, s+e] and target
// x + s, where x is a stationary low-discrepancy sequence in [-2, 2), s a
// two-tone cycle and e a small high-frequency disturbance. A linear model on
// x misses s, the second feature carries s plus e, so their combination
// beats either alone.
func Scenario(n int) *base.Dataset {
	obs := make([]base.Observation, n)
	for i := range obs {
		t := float64(i)
		x := 4 * (math.Mod(0.6180339887*t, 1) - 0.5)
		s := 0.8*math.Sin(0.9*t) + 0.4*math.Sin(2.3*t+0.5)
		e := 0.3 * math.Cos(3.1*t+1.3)
		obs[i] = base.Observation{
			Time:     Epoch.Add(time.Duration(i) * time.Hour),
			Features: []float64{x, s + e},
			Target:   x + s,
		}
	}
	return &base.Dataset{Observations: obs, FeatureNames: []string{"x", "cycle"}}
}

// Linear returns n observations with target 2·x₀ − x₁ + 0.5.
func Linear(n int) *base.Dataset {
	obs := make([]base.Observation, n)
	for i := range obs {
		t := float64(i)
		x0 := math.Sin(0.7 * t)
		x1 := math.Cos(1.3*t + 0.4)
		obs[i] = base.Observation{
			Time:     Epoch.Add(time.Duration(i) * time.Hour),
			Features: []float64{x0, x1},
			Target:   2*x0 - x1 + 0.5,
		}
	}
	return &base.Dataset{Observations: obs, FeatureNames: []string{"x0", "x1"}}
}

// Mean predicts the training target mean.
type Mean struct{ v float64 }

func (m *Mean) Fit(_ [][]float64, y []float64) error {
	if len(y) == 0 {
		return errors.New("no targets")
	}
	sum := 0.0
	for _, v := range y {
		sum += v
	}
	m.v = sum / float64(len(y))
	return nil
}

func (m *Mean) Predict(X [][]float64) ([]float64, error) {
	out := make([]float64, len(X))
	for i := range out {
		out[i] = m.v
	}
	return out, nil
}

// LinearOn fits an ordinary least squares line on one feature column.
type LinearOn struct {
	Column    int
	intercept float64
	slope     float64
}

func (m *LinearOn) Fit(X [][]float64, y []float64) error {
	if len(X) == 0 {
		return errors.New("no rows")
	}
	n := float64(len(X))
	var mx, my float64
	for i := range X {
		mx += X[i][m.Column]
		my += y[i]
	}
	mx /= n
	my /= n
	var sxx, sxy float64
	for i := range X {
		dx := X[i][m.Column] - mx
		sxx += dx * dx
		sxy += dx * (y[i] - my)
	}
	m.slope = 0
	if sxx > 0 {
		m.slope = sxy / sxx
	}
	m.intercept = my - m.slope*mx
	return nil
}

func (m *LinearOn) Predict(X [][]float64) ([]float64, error) {
	out := make([]float64, len(X))
	for i := range X {
		out[i] = m.intercept + m.slope*X[i][m.Column]
	}
	return out, nil
}

// Column echoes one feature column without learning anything.
type Column struct{ Index int }

func (Column) Fit([][]float64, []float64) error { return nil }

func (c Column) Predict(X [][]float64) ([]float64, error) {
	out := make([]float64, len(X))
	for i := range X {
		out[i] = X[i][c.Index]
	}
	return out, nil
}

// Failing always errors on Fit.
type Failing struct{}

var ErrFit = errors.New("fit refused")

func (Failing) Fit([][]float64, []float64) error { return ErrFit }

func (Failing) Predict(X [][]float64) ([]float64, error) { return make([]float64, len(X)), nil }

// Picky fails to fit on fewer than Min rows and otherwise delegates.
type Picky struct {
	Min   int
	Inner base.Model
}

func (p *Picky) Fit(X [][]float64, y []float64) error {
	if len(X) < p.Min {
		return fmt.Errorf("need %d rows, got %d", p.Min, len(X))
	}
	return p.Inner.Fit(X, y)
}

func (p *Picky) Predict(X [][]float64) ([]float64, error) { return p.Inner.Predict(X) }

// Panicking panics on Fit.
type Panicking struct{}

func (Panicking) Fit([][]float64, []float64) error { panic("boom") }

func (Panicking) Predict(X [][]float64) ([]float64, error) { return make([]float64, len(X)), nil }

// Short returns one prediction fewer than asked for.
type Short struct{}

func (Short) Fit([][]float64, []float64) error { return nil }

func (Short) Predict(X [][]float64) ([]float64, error) {
	if len(X) == 0 {
		return nil, nil
	}
	return make([]float64, len(X)-1), nil
}

// Slow sleeps in Fit.
type Slow struct{ Delay time.Duration }

func (s Slow) Fit([][]float64, []float64) error {
	time.Sleep(s.Delay)
	return nil
}

func (Slow) Predict(X [][]float64) ([]float64, error) { return make([]float64, len(X)), nil }

// Constant predicts a fixed value.
type Constant struct{ Value float64 }

func (Constant) Fit([][]float64, []float64) error { return nil }

func (c Constant) Predict(X [][]float64) ([]float64, error) {
	out := make([]float64, len(X))
	for i := range out {
		out[i] = c.Value
	}
	return out, nil
}

// WithHistory is a Constant that reports a fixed validation history.
type WithHistory struct {
	Constant
	Losses []float64
}

func (w WithHistory) ValidationHistory() []float64 { return append([]float64(nil), w.Losses...) }

// Counter counts constructor calls across goroutines.
type Counter struct{ n atomic.Int64 }

func (c *Counter) Wrap(newModel func() base.Model) func() base.Model {
	return func() base.Model {
		c.n.Add(1)
		return newModel()
	}
}

func (c *Counter) Count() int64 { return c.n.Load() }

func Spec(id string, newModel func() base.Model) base.Spec {
	return base.Spec{ID: id, New: newModel}
}

// ScenarioSpecs are the three base models used with Scenario.
func ScenarioSpecs() []base.Spec {
	return []base.Spec{
		Spec("mean", func() base.Model { return &Mean{} }),
		Spec("trend", func() base.Model { return &LinearOn{Column: 0} }),
		Spec("noisy", func() base.Model { return Column{Index: 1} }),
	}
}

// MSE of pred against target.
func MSE(pred, target []float64) float64 {
	sum := 0.0
	for i := range pred {
		d := pred[i] - target[i]
		sum += d * d
	}
	return sum / float64(len(pred))
}
