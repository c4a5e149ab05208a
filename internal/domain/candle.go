package domain

import (
	"slices"
	"time"
)

// Candle represents a single OHLCV bar for a stock at a given interval.
type Candle struct {
	Symbol   string    `json:"symbol"`
	Interval string    `json:"interval"`
	OpenTime time.Time `json:"open_time"`
	Open     float64   `json:"open"`
	High     float64   `json:"high"`
	Low      float64   `json:"low"`
	Close    float64   `json:"close"`
	Volume   float64   `json:"volume"`
}

// DefaultWatchlist lists the symbols tracked when no watchlist is configured.
var DefaultWatchlist = []string{
	"AAPL", "MSFT", "NVDA", "AMZN", "GOOGL",
	"META", "TSLA", "JPM", "V", "SPY",
}

// SupportedIntervals defines the bar intervals we store.
var SupportedIntervals = []string{"1h", "1d"}

func IsSupportedInterval(interval string) bool {
	return slices.Contains(SupportedIntervals, interval)
}
