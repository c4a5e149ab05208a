package common

import (
	"math"

	"stockcast/internal/domain"
)

const (
	ModelKeyLogReg   = "logreg_direction"
	ModelKeyXGBoost  = "boo_direction"
	ModelKeyRidge    = "ridge_return"
	ModelKeyMeta     = "stacking_meta"
	ModelKeyEnsemble = "ensemble"
)

// FeatureNames is the column order produced by FeatureVector.
var FeatureNames = []string{
	"ret_1",
	"ret_4",
	"ret_12",
	"ret_24",
	"volatility_6",
	"volatility_24",
	"volume_z_24",
	"rsi_14",
	"macd_line",
	"macd_signal",
	"macd_hist",
	"bb_pos",
	"bb_width",
}

func FeatureVector(row domain.MLFeatureRow) []float64 {
	return []float64{
		row.Ret1,
		row.Ret4,
		row.Ret12,
		row.Ret24,
		row.Volatility6,
		row.Volatility24,
		row.VolumeZ24,
		row.RSI14 / 100,
		row.MACDLine,
		row.MACDSignal,
		row.MACDHist,
		row.BBPos,
		row.BBWidth,
	}
}

// TargetValue returns the forward return label when the row is labeled.
func TargetValue(row domain.MLFeatureRow) (float64, bool) {
	if row.TargetReturn == nil {
		return 0, false
	}
	v := *row.TargetReturn
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

func Clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0.5
	}
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
