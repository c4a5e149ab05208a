// Package ta computes technical indicator series over bar closes and
// volumes. Every series has the length of its input; positions without
// enough history hold NaN.
package ta

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

func nanSeries(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}

// MeanStd returns the mean and population standard deviation.
func MeanStd(values []float64) (float64, float64) {
	if len(values) == 0 {
		return 0, 0
	}
	return stat.PopMeanStdDev(values, nil)
}

// Returns is the simple return over lag bars. A zero base yields NaN.
func Returns(closes []float64, lag int) []float64 {
	out := nanSeries(len(closes))
	if lag <= 0 {
		return out
	}
	for i := lag; i < len(closes); i++ {
		if base := closes[i-lag]; base != 0 {
			out[i] = closes[i]/base - 1
		}
	}
	return out
}

// RollingStd is the population deviation of the window ending at each
// position. Windows touching a NaN stay NaN.
func RollingStd(values []float64, window int) []float64 {
	out := nanSeries(len(values))
	if window <= 1 {
		return out
	}
	for i := window - 1; i < len(values); i++ {
		w := values[i-window+1 : i+1]
		if floats.HasNaN(w) {
			continue
		}
		_, out[i] = MeanStd(w)
	}
	return out
}

// ZScore scores each value against the window of bars before it. A flat
// window scores zero.
func ZScore(values []float64, window int) []float64 {
	out := nanSeries(len(values))
	if window <= 0 {
		return out
	}
	for i := window; i < len(values); i++ {
		mean, std := MeanStd(values[i-window : i])
		if std == 0 {
			out[i] = 0
			continue
		}
		out[i] = (values[i] - mean) / std
	}
	return out
}

// EMA seeds with the first value and smooths with alpha 2/(period+1).
func EMA(values []float64, period int) []float64 {
	out := make([]float64, len(values))
	if len(values) == 0 {
		return out
	}
	if period <= 1 {
		copy(out, values)
		return out
	}
	alpha := 2 / float64(period+1)
	out[0] = values[0]
	for i := 1; i < len(values); i++ {
		out[i] = out[i-1] + alpha*(values[i]-out[i-1])
	}
	return out
}

// RSI uses Wilder smoothing; the first value lands at index period.
func RSI(closes []float64, period int) []float64 {
	out := nanSeries(len(closes))
	if period <= 0 || len(closes) <= period {
		return out
	}
	var up, down float64
	for i := 1; i <= period; i++ {
		d := closes[i] - closes[i-1]
		up += math.Max(d, 0)
		down += math.Max(-d, 0)
	}
	p := float64(period)
	up, down = up/p, down/p
	out[period] = relativeStrength(up, down)
	for i := period + 1; i < len(closes); i++ {
		d := closes[i] - closes[i-1]
		up = (up*(p-1) + math.Max(d, 0)) / p
		down = (down*(p-1) + math.Max(-d, 0)) / p
		out[i] = relativeStrength(up, down)
	}
	return out
}

func relativeStrength(up, down float64) float64 {
	if down == 0 {
		return 100
	}
	return 100 - 100/(1+up/down)
}

type MACD struct {
	Line   []float64
	Signal []float64
	Hist   []float64
}

// NewMACD builds the fast-minus-slow EMA line, its signal EMA and the
// histogram between them.
func NewMACD(closes []float64, fast, slow, signal int) MACD {
	line := EMA(closes, fast)
	floats.Sub(line, EMA(closes, slow))
	sig := EMA(line, signal)
	hist := make([]float64, len(line))
	floats.SubTo(hist, line, sig)
	return MACD{Line: line, Signal: sig, Hist: hist}
}

type Bands struct {
	Middle []float64
	Upper  []float64
	Lower  []float64
}

// Bollinger places bands k population deviations around a simple moving
// average of period bars.
func Bollinger(closes []float64, period int, k float64) Bands {
	b := Bands{Middle: nanSeries(len(closes)), Upper: nanSeries(len(closes)), Lower: nanSeries(len(closes))}
	if period <= 0 {
		return b
	}
	for i := period - 1; i < len(closes); i++ {
		mean, std := MeanStd(closes[i-period+1 : i+1])
		b.Middle[i] = mean
		b.Upper[i] = mean + k*std
		b.Lower[i] = mean - k*std
	}
	return b
}

// Width is the band spread relative to the middle, zero for a zero middle.
func (b Bands) Width(i int) float64 {
	if b.Middle[i] == 0 {
		return 0
	}
	return (b.Upper[i] - b.Lower[i]) / b.Middle[i]
}

// Position locates price within the bands: 0 at the lower band, 1 at the
// upper. Collapsed bands report 0.5.
func (b Bands) Position(i int, price float64) float64 {
	if b.Upper[i] == b.Lower[i] {
		return 0.5
	}
	return (price - b.Lower[i]) / (b.Upper[i] - b.Lower[i])
}
