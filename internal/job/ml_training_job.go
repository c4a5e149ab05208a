package job

import (
	"context"
	"time"

	"stockcast/internal/ml/training"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

type MLTrainer interface {
	RunTraining(ctx context.Context, now time.Time) (*training.Result, error)
}

// MLTrainingJob retrains the ensemble once a day at trainHour UTC.
type MLTrainingJob struct {
	tracer    trace.Tracer
	log       zerolog.Logger
	obs       RunObserver
	service   MLTrainer
	trainHour int
	// trainOnStart runs one cycle immediately so a fresh process has an
	// ensemble before the first scheduled hour.
	trainOnStart bool
}

func NewMLTrainingJob(tracer trace.Tracer, log zerolog.Logger, obs RunObserver, service MLTrainer, trainHourUTC int, trainOnStart bool) *MLTrainingJob {
	if trainHourUTC < 0 || trainHourUTC > 23 {
		trainHourUTC = 0
	}
	return &MLTrainingJob{
		tracer:       tracer,
		log:          log.With().Str("job", "ml_training").Logger(),
		obs:          observerOrNop(obs),
		service:      service,
		trainHour:    trainHourUTC,
		trainOnStart: trainOnStart,
	}
}

func (j *MLTrainingJob) Start(ctx context.Context) {
	if j.service == nil {
		j.log.Info().Msg("ML training job disabled: no service")
		<-ctx.Done()
		return
	}
	if j.trainOnStart {
		j.runOnce(ctx)
	}
	for {
		next := nextRunUTC(time.Now().UTC(), j.trainHour)
		wait := time.Until(next)
		if wait < time.Second {
			wait = time.Second
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			j.runOnce(ctx)
		}
	}
}

func (j *MLTrainingJob) runOnce(ctx context.Context) {
	ctx, span := j.tracer.Start(ctx, "ml-training-job.run-once")
	defer span.End()

	res, err := j.service.RunTraining(ctx, time.Now().UTC())
	j.obs.ObserveRun("ml_training", err)
	if err != nil {
		if skippable(err) {
			j.log.Warn().Err(err).Msg("ML training skipped")
			return
		}
		j.log.Error().Err(err).Msg("ML training failed")
		return
	}
	j.log.Info().
		Str("mode", string(res.Mode)).
		Int("version", res.Version).
		Int("samples", res.Samples).
		Bool("promoted", res.Promoted).
		Msg("ML training result")
}

func nextRunUTC(now time.Time, hour int) time.Time {
	run := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, time.UTC)
	if !run.After(now) {
		run = run.Add(24 * time.Hour)
	}
	return run
}
