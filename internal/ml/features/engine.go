package features

import (
	"math"
	"slices"
	"time"

	"stockcast/internal/domain"
	"stockcast/internal/ta"
)

const (
	featureSpecVersion = "v2-return"
	// DefaultHorizon is the forward distance, in bars, of the target return.
	DefaultHorizon = 4
	rsiPeriod      = 14
	macdFast       = 12
	macdSlow       = 26
	macdSignal     = 9
	bbPeriod       = 20
	bbStdDevs      = 2.0
	warmupBars     = 24
)

type Engine struct {
	now func() time.Time
}

func NewEngine(now func() time.Time) *Engine {
	if now == nil {
		now = time.Now
	}
	return &Engine{now: now}
}

func FeatureSpecVersion() string {
	return featureSpecVersion
}

// BuildRows derives one feature row per bar once 24 bars of history exist.
// The last bar is skipped; rows within horizon bars of the end stay
// unlabeled.
func (e *Engine) BuildRows(candles []*domain.Candle, horizon int) []domain.MLFeatureRow {
	normalized := normalizeCandles(candles)
	if len(normalized) == 0 {
		return nil
	}
	if horizon <= 0 {
		horizon = DefaultHorizon
	}

	closes := make([]float64, len(normalized))
	volumes := make([]float64, len(normalized))
	for i := range normalized {
		closes[i] = normalized[i].Close
		volumes[i] = normalized[i].Volume
	}

	ret1 := ta.Returns(closes, 1)
	ret4 := ta.Returns(closes, 4)
	ret12 := ta.Returns(closes, 12)
	ret24 := ta.Returns(closes, 24)
	forward := ta.Returns(closes, horizon)
	vol6 := ta.RollingStd(ret1, 6)
	vol24 := ta.RollingStd(ret1, 24)
	volumeZ := ta.ZScore(volumes, 24)
	rsi := ta.RSI(closes, rsiPeriod)
	macd := ta.NewMACD(closes, macdFast, macdSlow, macdSignal)
	bands := ta.Bollinger(closes, bbPeriod, bbStdDevs)

	now := e.now().UTC()
	rows := make([]domain.MLFeatureRow, 0, len(normalized))
	for i := warmupBars; i < len(normalized)-1; i++ {
		if anyNaN(ret1[i], ret4[i], ret12[i], ret24[i], vol6[i], vol24[i], volumeZ[i],
			rsi[i], macd.Line[i], macd.Signal[i], bands.Middle[i], bands.Upper[i], bands.Lower[i]) {
			continue
		}

		var target *float64
		if j := i + horizon; j < len(forward) && !math.IsNaN(forward[j]) {
			r := forward[j]
			target = &r
		}

		c := normalized[i]
		rows = append(rows, domain.MLFeatureRow{
			Symbol:       c.Symbol,
			Interval:     c.Interval,
			OpenTime:     c.OpenTime.UTC(),
			Ret1:         ret1[i],
			Ret4:         ret4[i],
			Ret12:        ret12[i],
			Ret24:        ret24[i],
			Volatility6:  vol6[i],
			Volatility24: vol24[i],
			VolumeZ24:    volumeZ[i],
			RSI14:        rsi[i],
			MACDLine:     macd.Line[i],
			MACDSignal:   macd.Signal[i],
			MACDHist:     macd.Hist[i],
			BBPos:        bands.Position(i, closes[i]),
			BBWidth:      bands.Width(i),
			TargetReturn: target,
			CreatedAt:    now,
			UpdatedAt:    now,
		})
	}
	return rows
}

func normalizeCandles(in []*domain.Candle) []domain.Candle {
	out := make([]domain.Candle, 0, len(in))
	for _, c := range in {
		if c == nil {
			continue
		}
		out = append(out, *c)
	}
	slices.SortFunc(out, func(a, b domain.Candle) int { return a.OpenTime.Compare(b.OpenTime) })
	return out
}

func anyNaN(values ...float64) bool {
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return true
		}
	}
	return false
}
