package handler

import (
	"errors"
	"net/http"
	"strconv"

	"stockcast/internal/ml/common"
	"stockcast/internal/ml/ensemble"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
)

// TriggerMLTraining godoc
// @Summary      Train the ensemble
// @Description  Fits a fresh ensemble on the trailing window, registers it and installs it when promoted
// @Tags         ml
// @Produce      json
// @Success      200  {object}  training.Result
// @Failure      422  {object}  map[string]string
// @Failure      503  {object}  map[string]string
// @Security     ApiKeyAuth
// @Router       /api/ml/train [post]
func (h *Handler) TriggerMLTraining(c *gin.Context) {
	if h.trainer == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "ml training service unavailable"})
		return
	}
	ctx, span := h.tracer.Start(c.Request.Context(), "handler.trigger-ml-training")
	defer span.End()

	res, err := h.trainer.RunTraining(ctx, h.now())
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	span.SetAttributes(attribute.Int("version", res.Version))
	c.JSON(http.StatusOK, res)
}

// TriggerMLPrediction godoc
// @Summary      Score the latest bars
// @Description  Refreshes feature rows and stores an ensemble forecast for every watched symbol
// @Tags         ml
// @Produce      json
// @Success      200  {object}  inference.RunResult
// @Failure      409  {object}  map[string]string
// @Failure      503  {object}  map[string]string
// @Security     ApiKeyAuth
// @Router       /api/ml/predict [post]
func (h *Handler) TriggerMLPrediction(c *gin.Context) {
	if h.predictor == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "ml inference service unavailable"})
		return
	}
	ctx, span := h.tracer.Start(c.Request.Context(), "handler.trigger-ml-prediction")
	defer span.End()

	now := h.now()
	if c.Query("refresh") != "false" {
		if _, err := h.predictor.RefreshFeatures(ctx, now); err != nil {
			c.JSON(statusFor(err), gin.H{"error": err.Error()})
			return
		}
	}
	res, err := h.predictor.RunInference(ctx, now)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, res)
}

// TriggerMLValidation godoc
// @Summary      Walk-forward validation
// @Description  Evaluates the configured ensemble across walk-forward folds without installing it
// @Tags         ml
// @Produce      json
// @Success      200  {object}  validation.Report
// @Failure      400  {object}  map[string]string
// @Failure      503  {object}  map[string]string
// @Security     ApiKeyAuth
// @Router       /api/ml/validate [post]
func (h *Handler) TriggerMLValidation(c *gin.Context) {
	if h.trainer == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "ml training service unavailable"})
		return
	}
	ctx, span := h.tracer.Start(c.Request.Context(), "handler.trigger-ml-validation")
	defer span.End()

	report, err := h.trainer.RunValidation(ctx, h.now())
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, report)
}

// GetEnsembleWeights godoc
// @Summary      Current ensemble weights
// @Description  Returns the last published weight snapshot, or the installed ensemble's weights
// @Tags         ml
// @Produce      json
// @Success      200  {object}  cache.WeightSnapshot
// @Failure      404  {object}  map[string]string
// @Router       /api/ml/weights [get]
func (h *Handler) GetEnsembleWeights(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "handler.get-ensemble-weights")
	defer span.End()

	if h.weights != nil {
		snap, err := h.weights.Latest(ctx)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if snap != nil {
			c.JSON(http.StatusOK, snap)
			return
		}
	}
	if h.holder != nil {
		if ens, version := h.holder.Load(); ens != nil {
			summary, err := ensemble.Describe(ens)
			if err == nil {
				c.JSON(http.StatusOK, gin.H{"version": version, "summary": summary})
				return
			}
		}
	}
	c.JSON(http.StatusNotFound, gin.H{"error": "no ensemble weights published yet"})
}

// GetEnsembleWeightHistory godoc
// @Summary      Weight snapshot history
// @Tags         ml
// @Produce      json
// @Param        limit  query  int  false  "Snapshots to return (default 20, max 100)"  default(20)
// @Success      200  {object}  map[string]interface{}
// @Failure      503  {object}  map[string]string
// @Router       /api/ml/weights/history [get]
func (h *Handler) GetEnsembleWeightHistory(c *gin.Context) {
	if h.weights == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "weight cache unavailable"})
		return
	}
	ctx, span := h.tracer.Start(c.Request.Context(), "handler.get-ensemble-weight-history")
	defer span.End()

	history, err := h.weights.History(ctx, queryLimit(c, 20, 100))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"history": history})
}

// GetPredictions godoc
// @Summary      Recent forecasts for a symbol
// @Tags         ml
// @Produce      json
// @Param        symbol  path   string  true   "Ticker (e.g., AAPL)"
// @Param        limit   query  int     false  "Forecasts to return (default 50, max 500)"  default(50)
// @Success      200  {object}  map[string]interface{}
// @Failure      400  {object}  map[string]string
// @Router       /api/ml/predictions/{symbol} [get]
func (h *Handler) GetPredictions(c *gin.Context) {
	if h.predictions == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "prediction store unavailable"})
		return
	}
	ctx, span := h.tracer.Start(c.Request.Context(), "handler.get-predictions")
	defer span.End()

	symbol, ok := parseSymbol(c)
	if !ok {
		return
	}
	span.SetAttributes(attribute.String("symbol", symbol))

	preds, err := h.predictions.ListRecent(ctx, symbol, queryLimit(c, 50, 500))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"symbol": symbol, "predictions": preds})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, common.ErrNotFitted):
		return http.StatusConflict
	case errors.Is(err, common.ErrNotReady):
		return http.StatusServiceUnavailable
	case errors.Is(err, common.ErrVersionNotFound):
		return http.StatusNotFound
	case common.IsConfigurationError(err):
		return http.StatusBadRequest
	case common.IsInsufficientData(err):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func queryLimit(c *gin.Context, def, upper int) int {
	if l := c.Query("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 && n <= upper {
			return n
		}
	}
	return def
}
