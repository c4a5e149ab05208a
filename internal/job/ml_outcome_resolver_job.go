package job

import (
	"context"
	"time"

	"stockcast/internal/ml/inference"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

type MLOutcomeResolver interface {
	ResolveOutcomes(ctx context.Context, now time.Time) (*inference.ResolveResult, error)
}

type MLOutcomeResolverJob struct {
	tracer       trace.Tracer
	log          zerolog.Logger
	obs          RunObserver
	service      MLOutcomeResolver
	pollInterval time.Duration
}

func NewMLOutcomeResolverJob(tracer trace.Tracer, log zerolog.Logger, obs RunObserver, service MLOutcomeResolver, pollInterval time.Duration) *MLOutcomeResolverJob {
	if pollInterval <= 0 {
		pollInterval = 30 * time.Minute
	}
	return &MLOutcomeResolverJob{
		tracer:       tracer,
		log:          log.With().Str("job", "ml_outcome_resolver").Logger(),
		obs:          observerOrNop(obs),
		service:      service,
		pollInterval: pollInterval,
	}
}

func (j *MLOutcomeResolverJob) Start(ctx context.Context) {
	if j.service == nil {
		j.log.Info().Msg("ML outcome resolver job disabled: no service")
		<-ctx.Done()
		return
	}
	pollLoop(ctx, j.pollInterval, j.runOnce)
}

func (j *MLOutcomeResolverJob) runOnce(ctx context.Context) {
	ctx, span := j.tracer.Start(ctx, "ml-outcome-resolver-job.run-once")
	defer span.End()

	res, err := j.service.ResolveOutcomes(ctx, time.Now().UTC())
	j.obs.ObserveRun("ml_outcome_resolver", err)
	if err != nil {
		j.log.Error().Err(err).Msg("ML outcome resolver failed")
		return
	}
	if res.Resolved > 0 {
		j.log.Info().
			Int("resolved", res.Resolved).
			Int("due", res.Due).
			Bool("weights_updated", res.WeightsUpdated).
			Msg("ML outcome resolver updated predictions")
	}
}
