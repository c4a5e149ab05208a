package ensemble

import (
	"encoding/json"
	"math"
)

// WeightVector maps model IDs to non-negative weights summing to one. It is
// immutable once built; every update produces a new vector.
type WeightVector struct {
	ids     []string
	weights []float64
}

func NewWeightVector(ids []string, weights []float64) WeightVector {
	return WeightVector{
		ids:     append([]string(nil), ids...),
		weights: append([]float64(nil), weights...),
	}
}

func UniformWeights(ids []string) WeightVector {
	w := make([]float64, len(ids))
	for i := range w {
		w[i] = 1 / float64(len(ids))
	}
	if len(ids) == 1 {
		w[0] = 1
	}
	return NewWeightVector(ids, w)
}

func (v WeightVector) Len() int { return len(v.ids) }

func (v WeightVector) IDs() []string { return append([]string(nil), v.ids...) }

func (v WeightVector) Values() []float64 { return append([]float64(nil), v.weights...) }

func (v WeightVector) Get(id string) (float64, bool) {
	for i := range v.ids {
		if v.ids[i] == id {
			return v.weights[i], true
		}
	}
	return 0, false
}

func (v WeightVector) at(i int) float64 { return v.weights[i] }

func (v WeightVector) Sum() float64 {
	s := 0.0
	for _, w := range v.weights {
		s += w
	}
	return s
}

func (v WeightVector) Map() map[string]float64 {
	out := make(map[string]float64, len(v.ids))
	for i := range v.ids {
		out[v.ids[i]] = v.weights[i]
	}
	return out
}

func (v WeightVector) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Map())
}

// normalize turns non-negative scores into weights summing to one. Scores
// that are not positive and finite count as zero; an all-zero vector becomes
// uniform.
func normalize(scores []float64) []float64 {
	n := len(scores)
	out := make([]float64, n)
	if n == 0 {
		return out
	}
	if n == 1 {
		out[0] = 1
		return out
	}
	total := 0.0
	for i, s := range scores {
		if s > 0 && !math.IsInf(s, 0) {
			out[i] = s
			total += s
		}
	}
	if total <= 0 {
		for i := range out {
			out[i] = 1 / float64(n)
		}
		return out
	}
	for i := range out {
		out[i] /= total
	}
	return out
}

// applyFloor raises every weight to at least floor and rescales the rest so
// the total stays one. Weights pinned at the floor never drop below it.
func applyFloor(w []float64, floor float64) []float64 {
	n := len(w)
	if floor <= 0 || n < 2 {
		return w
	}
	if floor*float64(n) >= 1 {
		return normalize(make([]float64, n))
	}
	pinned := make([]bool, n)
	for {
		freeMass, freeSum, free := 1.0, 0.0, 0
		for i := range w {
			if pinned[i] {
				freeMass -= floor
				continue
			}
			freeSum += w[i]
			free++
		}
		scaled := func(i int) float64 {
			if freeSum <= 0 {
				return freeMass / float64(free)
			}
			return w[i] / freeSum * freeMass
		}
		changed := false
		for i := range w {
			if !pinned[i] && scaled(i) < floor {
				pinned[i] = true
				changed = true
			}
		}
		if changed {
			continue
		}
		out := make([]float64, n)
		for i := range w {
			if pinned[i] {
				out[i] = floor
			} else {
				out[i] = scaled(i)
			}
		}
		return out
	}
}
