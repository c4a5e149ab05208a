package handler

import (
	"context"
	"time"

	"stockcast/internal/cache"
	"stockcast/internal/domain"
	"stockcast/internal/ml/ensemble"
	"stockcast/internal/ml/inference"
	"stockcast/internal/ml/training"
	"stockcast/internal/ml/validation"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/trace"
)

type MLTrainer interface {
	RunTraining(ctx context.Context, now time.Time) (*training.Result, error)
	RunValidation(ctx context.Context, now time.Time) (*validation.Report, error)
}

type MLPredictor interface {
	RefreshFeatures(ctx context.Context, now time.Time) (int, error)
	RunInference(ctx context.Context, now time.Time) (*inference.RunResult, error)
}

type MLVersionManager interface {
	ListVersions(ctx context.Context, limit int) ([]domain.MLModelVersion, error)
	ActivateVersion(ctx context.Context, version int, now time.Time) (*training.Activation, error)
}

type WeightReader interface {
	Latest(ctx context.Context) (*cache.WeightSnapshot, error)
	History(ctx context.Context, n int) ([]cache.WeightSnapshot, error)
}

type PredictionLister interface {
	ListRecent(ctx context.Context, symbol string, limit int) ([]domain.MLPrediction, error)
}

type CandleStore interface {
	GetCandles(ctx context.Context, symbol, interval string, limit int) ([]*domain.Candle, error)
	UpsertCandles(ctx context.Context, candles []*domain.Candle) error
}

type Handler struct {
	tracer      trace.Tracer
	now         func() time.Time
	trainer     MLTrainer
	predictor   MLPredictor
	versions    MLVersionManager
	weights     WeightReader
	predictions PredictionLister
	candles     CandleStore
	holder      *ensemble.Holder
}

func New(tracer trace.Tracer) *Handler {
	return &Handler{tracer: tracer, now: time.Now}
}

func (h *Handler) SetMLTrainer(t MLTrainer)               { h.trainer = t }
func (h *Handler) SetMLPredictor(p MLPredictor)           { h.predictor = p }
func (h *Handler) SetMLVersionManager(v MLVersionManager) { h.versions = v }
func (h *Handler) SetWeightReader(w WeightReader)         { h.weights = w }
func (h *Handler) SetPredictionLister(p PredictionLister) { h.predictions = p }
func (h *Handler) SetCandleStore(c CandleStore)           { h.candles = c }

// SetEnsembleHolder lets the weights endpoint fall back to the in-process
// ensemble when the cache has no snapshot.
func (h *Handler) SetEnsembleHolder(e *ensemble.Holder) { h.holder = e }

// RegisterRoutes mounts every route. Mutating ML routes sit behind
// APIKeyAuth(apiKey).
func (h *Handler) RegisterRoutes(r *gin.Engine, apiKey string) {
	r.GET("/health", h.Health)
	r.GET("/api/candles/:symbol", h.GetCandles)

	ml := r.Group("/api/ml")
	ml.GET("/weights", h.GetEnsembleWeights)
	ml.GET("/weights/history", h.GetEnsembleWeightHistory)
	ml.GET("/predictions/:symbol", h.GetPredictions)
	ml.GET("/versions", h.ListEnsembleVersions)

	admin := ml.Group("", APIKeyAuth(apiKey))
	admin.POST("/train", h.TriggerMLTraining)
	admin.POST("/predict", h.TriggerMLPrediction)
	admin.POST("/validate", h.TriggerMLValidation)
	admin.POST("/versions/:version/activate", h.ActivateEnsembleVersion)

	r.POST("/api/candles", APIKeyAuth(apiKey), h.ImportCandles)
}
