package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "stockcast/docs"
	"stockcast/internal/cache"
	"stockcast/internal/config"
	"stockcast/internal/db"
	"stockcast/internal/handler"
	"stockcast/internal/job"
	"stockcast/internal/metrics"
	"stockcast/internal/ml/common"
	"stockcast/internal/ml/ensemble"
	"stockcast/internal/ml/features"
	"stockcast/internal/ml/inference"
	"stockcast/internal/ml/predictions"
	"stockcast/internal/ml/registry"
	"stockcast/internal/ml/training"
	"stockcast/internal/ml/validation"
	"stockcast/internal/repository"
	"stockcast/pkg/logger"
	"stockcast/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel/trace"
)

var (
	loadEnvFunc            = godotenv.Load
	loadConfigFunc         = config.Load
	loadEnsembleFunc       = config.LoadEnsemble
	initPostgresFunc       = db.InitPostgres
	initRedisFunc          = cache.InitRedis
	initTracerFunc         = tracing.InitTracer
	startJobFunc           = func(ctx context.Context, start func(context.Context)) { go start(ctx) }
	newRouterFunc          = gin.New
	setupSignalNotify      = signal.Notify
	waitForSignalFunc      = func(quit <-chan os.Signal) { <-quit }
	startHTTPServerFunc    = func(srv *http.Server) error { return srv.ListenAndServe() }
	shutdownHTTPServerFunc = func(srv *http.Server, ctx context.Context) error { return srv.Shutdown(ctx) }
	exitFunc               = os.Exit
)

// @title           Stockcast API
// @version         1.0
// @description     Ensemble return forecasts for a watchlist of stocks.

// @host      localhost:8080
// @BasePath  /
// @securityDefinitions.apikey ApiKeyAuth
// @in header
// @name X-API-Key
func main() {
	_ = loadEnvFunc()

	log, err := logger.New(logger.Config{Level: os.Getenv("LOG_LEVEL"), Format: os.Getenv("LOG_FORMAT")})
	if err != nil {
		log, _ = logger.New(logger.Config{})
		log.Warn().Err(err).Msg("invalid logger settings, using defaults")
	}
	cfg := loadConfigFunc(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tp, tracer, err := initTracerFunc(ctx)
	if err != nil {
		log.Error().Err(err).Msg("failed to initialize tracer")
		exitFunc(1)
		return
	}
	defer func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			log.Warn().Err(err).Msg("error shutting down tracer provider")
		}
	}()

	pool, err := initPostgresFunc(ctx, cfg.DatabaseURL, log)
	if err != nil {
		log.Warn().Err(err).Msg("postgres unavailable, ML endpoints disabled")
		pool = nil
	} else {
		defer pool.Close()
	}
	redisClient, err := initRedisFunc(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Warn().Err(err).Msg("redis unavailable, weight snapshots disabled")
		redisClient = nil
	} else {
		defer redisClient.Close()
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	rec := metrics.New(reg)

	h := handler.New(tracer)
	app, err := buildML(ctx, cfg, log, tracer, rec, pool, redisClient)
	if err != nil {
		log.Error().Err(err).Msg("invalid ensemble configuration")
		exitFunc(1)
		return
	}
	app.wire(h)
	if cfg.MLEnabled && app.trainer != nil {
		startJobFunc(ctx, job.NewMLTrainingJob(tracer, log, rec, app.trainer, cfg.MLTrainHourUTC, cfg.MLTrainOnStart).Start)
		startJobFunc(ctx, job.NewMLFeatureInferenceJob(tracer, log, rec, app.inferencer, time.Duration(cfg.MLInferPollSecs)*time.Second).Start)
		startJobFunc(ctx, job.NewMLOutcomeResolverJob(tracer, log, rec, app.inferencer, time.Duration(cfg.MLResolvePollSecs)*time.Second).Start)
	}

	r := newRouterFunc()
	r.Use(gin.Recovery(), handler.RequestLogger(log), otelgin.Middleware(tracing.ServiceName))
	h.RegisterRoutes(r, cfg.APIKey)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})))
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := startHTTPServerFunc(srv); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("http server failed")
			cancel()
		}
	}()
	log.Info().Str("addr", srv.Addr).Bool("ml_jobs", cfg.MLEnabled).Msg("server started")

	quit := make(chan os.Signal, 1)
	setupSignalNotify(quit, syscall.SIGINT, syscall.SIGTERM)
	waitForSignalFunc(quit)
	log.Info().Msg("shutting down server")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := shutdownHTTPServerFunc(srv, shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}
	log.Info().Msg("server exiting")
}

// mlApp holds the ML services; they stay nil without Postgres.
type mlApp struct {
	holder      *ensemble.Holder
	trainer     *training.Service
	inferencer  *inference.Service
	candles     *repository.CandleRepository
	predictions *predictions.Repository
	weights     *cache.WeightStore
}

func buildML(ctx context.Context, cfg *config.Config, log zerolog.Logger, tracer trace.Tracer, rec *metrics.Recorder, pool *pgxpool.Pool, redisClient *redis.Client) (*mlApp, error) {
	ef, err := loadEnsembleFunc(cfg.EnsembleConfigPath)
	if err != nil {
		return nil, err
	}
	if span := cfg.LabelSpan(); ef.ReserveLabelSpan(span) {
		log.Info().Int("gap", span).Msg("fold gaps widened to cover the label horizon")
	}
	specs, err := ef.Specs(common.FeatureNames)
	if err != nil {
		return nil, err
	}
	ensCfg := ef.EnsembleConfig()
	newEnsemble := ensemble.Factory(ensCfg, specs,
		ensemble.WithLogger(log.With().Str("component", "ensemble").Logger()),
		ensemble.WithRecorder(rec),
	)
	validator, err := validation.New(ef.ValidationFolds(), validation.WithLogger(log.With().Str("component", "validation").Logger()))
	if err != nil {
		return nil, err
	}
	log.Info().Str("mode", string(ensCfg.Mode)).Int("models", len(specs)).Msg("ensemble configured")

	app := &mlApp{holder: &ensemble.Holder{}}
	if redisClient != nil {
		app.weights = cache.NewWeightStore(redisClient)
	}
	if pool == nil {
		return app, nil
	}

	app.candles = repository.NewCandleRepository(pool, tracer)
	app.predictions = predictions.NewRepository(pool, tracer)
	featureRepo := features.NewRepository(pool, tracer)

	trainOpts := []training.Option{
		training.WithLogger(log.With().Str("component", "training").Logger()),
		training.WithValidator(validator),
	}
	inferOpts := []inference.Option{
		inference.WithLogger(log.With().Str("component", "inference").Logger()),
		inference.WithRecorder(rec),
	}
	if app.weights != nil {
		trainOpts = append(trainOpts, training.WithPublisher(app.weights))
		inferOpts = append(inferOpts, inference.WithPublisher(app.weights))
	}

	app.trainer = training.NewService(tracer, featureRepo, registry.NewRepository(pool, tracer), app.holder, newEnsemble,
		training.Config{
			Interval:        cfg.MLInterval,
			TrainWindowDays: cfg.MLTrainWindowDays,
			MinTrainSamples: cfg.MLMinTrainSamples,
			ValidateOnTrain: cfg.MLValidateOnTrain,
		}, trainOpts...)
	app.inferencer = inference.NewService(tracer, app.candles, featureRepo, app.predictions, app.holder,
		inference.Config{
			Interval:  cfg.MLInterval,
			Horizon:   cfg.MLHorizonBars,
			Watchlist: cfg.Watchlist,
		}, inferOpts...)

	restoreCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if act, ok, err := app.trainer.RestoreActive(restoreCtx); err != nil {
		log.Warn().Err(err).Msg("active ensemble not restored, serving none until the next training run")
	} else if ok {
		log.Info().Int("version", act.Version).Str("mode", string(act.Mode)).Msg("serving restored ensemble")
	}
	return app, nil
}

// wire hands the non-nil services to h so missing backends answer 503.
func (a *mlApp) wire(h *handler.Handler) {
	h.SetEnsembleHolder(a.holder)
	if a.weights != nil {
		h.SetWeightReader(a.weights)
	}
	if a.trainer != nil {
		h.SetMLTrainer(a.trainer)
		h.SetMLVersionManager(a.trainer)
		h.SetMLPredictor(a.inferencer)
		h.SetPredictionLister(a.predictions)
		h.SetCandleStore(a.candles)
	}
}
