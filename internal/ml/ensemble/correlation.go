package ensemble

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// absCorrelations returns the symmetric matrix of |Pearson correlation|
// between prediction series. Undefined correlations (constant series, fewer
// than two points) count as zero. The diagonal is one.
func absCorrelations(preds [][]float64) [][]float64 {
	m := len(preds)
	out := make([][]float64, m)
	for i := range out {
		out[i] = make([]float64, m)
		out[i][i] = 1
	}
	for i := 0; i < m; i++ {
		for j := i + 1; j < m; j++ {
			c := 0.0
			if len(preds[i]) >= 2 {
				c = math.Abs(stat.Correlation(preds[i], preds[j], nil))
			}
			if math.IsNaN(c) || math.IsInf(c, 0) {
				c = 0
			}
			if c > 1 {
				c = 1
			}
			out[i][j], out[j][i] = c, c
		}
	}
	return out
}

// meanPairwise is the mean off-diagonal entry; zero for fewer than two series.
func meanPairwise(corr [][]float64) float64 {
	m := len(corr)
	if m < 2 {
		return 0
	}
	sum := 0.0
	for i := 0; i < m; i++ {
		for j := i + 1; j < m; j++ {
			sum += corr[i][j]
		}
	}
	return sum / float64(m*(m-1)/2)
}
