package job

import (
	"context"
	"time"

	"stockcast/internal/ml/inference"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

type MLFeatureInferencer interface {
	RefreshFeatures(ctx context.Context, now time.Time) (int, error)
	RunInference(ctx context.Context, now time.Time) (*inference.RunResult, error)
}

type MLFeatureInferenceJob struct {
	tracer       trace.Tracer
	log          zerolog.Logger
	obs          RunObserver
	service      MLFeatureInferencer
	pollInterval time.Duration
}

func NewMLFeatureInferenceJob(tracer trace.Tracer, log zerolog.Logger, obs RunObserver, service MLFeatureInferencer, pollInterval time.Duration) *MLFeatureInferenceJob {
	if pollInterval <= 0 {
		pollInterval = 15 * time.Minute
	}
	return &MLFeatureInferenceJob{
		tracer:       tracer,
		log:          log.With().Str("job", "ml_feature_inference").Logger(),
		obs:          observerOrNop(obs),
		service:      service,
		pollInterval: pollInterval,
	}
}

func (j *MLFeatureInferenceJob) Start(ctx context.Context) {
	if j.service == nil {
		j.log.Info().Msg("ML feature/inference job disabled: no service")
		<-ctx.Done()
		return
	}
	pollLoop(ctx, j.pollInterval, j.runOnce)
}

func (j *MLFeatureInferenceJob) runOnce(ctx context.Context) {
	ctx, span := j.tracer.Start(ctx, "ml-feature-inference-job.run-once")
	defer span.End()

	now := time.Now().UTC()
	rows, err := j.service.RefreshFeatures(ctx, now)
	j.obs.ObserveRun("ml_feature_refresh", err)
	if err != nil {
		j.log.Error().Err(err).Msg("ML feature refresh failed")
		return
	}
	res, err := j.service.RunInference(ctx, now)
	j.obs.ObserveRun("ml_inference", err)
	if err != nil {
		if skippable(err) {
			j.log.Debug().Err(err).Msg("ML inference skipped")
			return
		}
		j.log.Error().Err(err).Msg("ML inference failed")
		return
	}
	j.log.Info().
		Int("feature_rows", rows).
		Int("predictions", len(res.Predictions)).
		Str("mode", string(res.Mode)).
		Msg("ML feature/inference cycle complete")
}
