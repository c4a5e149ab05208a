package handler

import (
	"net/http"
	"regexp"
	"strings"
	"time"

	"stockcast/internal/domain"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
)

var tickerPattern = regexp.MustCompile(`^[A-Z][A-Z0-9.\-]{0,9}$`)

// GetCandles godoc
// @Summary      Get historical OHLCV candles
// @Description  Returns stored candles for a ticker and interval, newest first
// @Tags         prices
// @Produce      json
// @Param        symbol    path   string  true   "Ticker (e.g., AAPL)"
// @Param        interval  query  string  false  "Candle interval (1h, 1d)"  default(1h)
// @Param        limit     query  int     false  "Number of candles (default 100, max 500)"  default(100)
// @Success      200  {object}  map[string]interface{}
// @Failure      400  {object}  map[string]string
// @Router       /api/candles/{symbol} [get]
func (h *Handler) GetCandles(c *gin.Context) {
	if h.candles == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "candle store unavailable"})
		return
	}
	ctx, span := h.tracer.Start(c.Request.Context(), "handler.get-candles")
	defer span.End()

	symbol, ok := parseSymbol(c)
	if !ok {
		return
	}
	span.SetAttributes(attribute.String("symbol", symbol))

	interval := c.DefaultQuery("interval", "1h")
	if !domain.IsSupportedInterval(interval) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":               "unsupported interval: " + interval,
			"supported_intervals": domain.SupportedIntervals,
		})
		return
	}

	candles, err := h.candles.GetCandles(ctx, symbol, interval, queryLimit(c, 100, 500))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"symbol":   symbol,
		"interval": interval,
		"candles":  candles,
	})
}

func parseSymbol(c *gin.Context) (string, bool) {
	symbol := strings.ToUpper(strings.TrimSpace(c.Param("symbol")))
	if !tickerPattern.MatchString(symbol) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid symbol: " + symbol})
		return "", false
	}
	return symbol, true
}

type candleInput struct {
	Symbol   string    `json:"symbol" binding:"required"`
	Interval string    `json:"interval" binding:"required"`
	OpenTime time.Time `json:"open_time" binding:"required"`
	Open     float64   `json:"open" binding:"gt=0"`
	High     float64   `json:"high" binding:"gt=0,gtefield=Low"`
	Low      float64   `json:"low" binding:"gt=0"`
	Close    float64   `json:"close" binding:"gt=0"`
	Volume   float64   `json:"volume" binding:"gte=0"`
}

type importCandlesRequest struct {
	Candles []candleInput `json:"candles" binding:"required,min=1,max=5000,dive"`
}

// ImportCandles godoc
// @Summary      Import OHLCV candles
// @Description  Upserts a batch of candles keyed by symbol, interval and open time
// @Tags         prices
// @Accept       json
// @Produce      json
// @Param        body  body  importCandlesRequest  true  "Candles to store"
// @Success      200  {object}  map[string]interface{}
// @Failure      400  {object}  map[string]string
// @Security     ApiKeyAuth
// @Router       /api/candles [post]
func (h *Handler) ImportCandles(c *gin.Context) {
	if h.candles == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "candle store unavailable"})
		return
	}
	ctx, span := h.tracer.Start(c.Request.Context(), "handler.import-candles")
	defer span.End()

	var req importCandlesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	candles := make([]*domain.Candle, 0, len(req.Candles))
	for _, in := range req.Candles {
		symbol := strings.ToUpper(strings.TrimSpace(in.Symbol))
		if !tickerPattern.MatchString(symbol) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid symbol: " + symbol})
			return
		}
		if !domain.IsSupportedInterval(in.Interval) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported interval: " + in.Interval})
			return
		}
		candles = append(candles, &domain.Candle{
			Symbol: symbol, Interval: in.Interval, OpenTime: in.OpenTime.UTC(),
			Open: in.Open, High: in.High, Low: in.Low, Close: in.Close, Volume: in.Volume,
		})
	}
	span.SetAttributes(attribute.Int("candles", len(candles)))

	if err := h.candles.UpsertCandles(ctx, candles); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "stored": len(candles)})
}
