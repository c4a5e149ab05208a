// Package training fits the ensemble on stored feature rows, records every
// fitted model in the registry and installs the result for inference.
package training

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"stockcast/internal/cache"
	"stockcast/internal/domain"
	"stockcast/internal/ml/common"
	"stockcast/internal/ml/ensemble"
	"stockcast/internal/ml/features"
	"stockcast/internal/ml/models"
	"stockcast/internal/ml/validation"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type FeatureRowStore interface {
	ListLabeledRows(ctx context.Context, interval string, from, to time.Time) ([]domain.MLFeatureRow, error)
}

type ModelRegistry interface {
	Register(ctx context.Context, model domain.MLModelVersion, activate bool) (*domain.MLModelVersion, error)
	GetActive(ctx context.Context, modelKey string) (*domain.MLModelVersion, error)
	GetVersion(ctx context.Context, modelKey string, version int) (*domain.MLModelVersion, error)
	ListVersions(ctx context.Context, modelKey string, limit int) ([]domain.MLModelVersion, error)
	Activate(ctx context.Context, versions map[string]int) error
}

type WeightPublisher interface {
	Publish(ctx context.Context, snap cache.WeightSnapshot) error
}

// EnsembleArtifactFormat tags the ensemble-level registry record.
const EnsembleArtifactFormat = "json/ensemble-v1"

type Config struct {
	Interval        string
	TrainWindowDays int
	MinTrainSamples int
	// PromotionTolerance is how far walk-forward directional accuracy may
	// fall below the active ensemble's before a new fit is not promoted.
	PromotionTolerance float64
	// ValidateOnTrain runs walk-forward validation before every fit when a
	// validator is configured.
	ValidateOnTrain bool
}

type Service struct {
	tracer      trace.Tracer
	log         zerolog.Logger
	features    FeatureRowStore
	registry    ModelRegistry
	holder      *ensemble.Holder
	publisher   WeightPublisher
	newEnsemble func() (ensemble.Ensemble, error)
	validator   *validation.Validator
	cfg         Config
}

type Option func(*Service)

func WithLogger(l zerolog.Logger) Option {
	return func(s *Service) { s.log = l }
}

// WithValidator backs RunValidation and, with Config.ValidateOnTrain, a
// walk-forward run before every fit whose report drives promotion.
func WithValidator(v *validation.Validator) Option {
	return func(s *Service) { s.validator = v }
}

func WithPublisher(p WeightPublisher) Option {
	return func(s *Service) { s.publisher = p }
}

func NewService(
	tracer trace.Tracer,
	features FeatureRowStore,
	registry ModelRegistry,
	holder *ensemble.Holder,
	newEnsemble func() (ensemble.Ensemble, error),
	cfg Config,
	opts ...Option,
) *Service {
	if cfg.Interval == "" {
		cfg.Interval = "1h"
	}
	if cfg.TrainWindowDays <= 0 {
		cfg.TrainWindowDays = 180
	}
	if cfg.MinTrainSamples <= 0 {
		cfg.MinTrainSamples = 500
	}
	if cfg.PromotionTolerance <= 0 {
		cfg.PromotionTolerance = 0.01
	}
	s := &Service{
		tracer:      tracer,
		log:         zerolog.Nop(),
		features:    features,
		registry:    registry,
		holder:      holder,
		newEnsemble: newEnsemble,
		cfg:         cfg,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type ModelResult struct {
	ID      string `json:"id"`
	Version int    `json:"version"`
	Format  string `json:"format,omitempty"`
	Stored  bool   `json:"stored"`
}

type Result struct {
	RunID        string             `json:"run_id"`
	Mode         ensemble.Mode      `json:"mode"`
	Version      int                `json:"version"`
	Samples      int                `json:"samples"`
	TrainedFrom  time.Time          `json:"trained_from"`
	TrainedTo    time.Time          `json:"trained_to"`
	Promoted     bool               `json:"promoted"`
	Models       []ModelResult      `json:"models"`
	Summary      ensemble.Summary   `json:"summary"`
	Validation   *validation.Report `json:"validation,omitempty"`
	PromoteError string             `json:"promote_error,omitempty"`
}

// ensembleArtifact is the blob stored for the ensemble-level record. Models
// keeps the fitted order, which the stacking meta-model depends on.
type ensembleArtifact struct {
	Mode          ensemble.Mode      `json:"mode"`
	Models        []string           `json:"models"`
	ModelVersions map[string]int     `json:"model_versions"`
	Weights       map[string]float64 `json:"weights"`
	Meta          json.RawMessage    `json:"meta,omitempty"`
	MetaFormat    string             `json:"meta_format,omitempty"`
}

// RunTraining fits a fresh ensemble on the trailing window ending at now.
func (s *Service) RunTraining(ctx context.Context, now time.Time) (*Result, error) {
	ctx, span := s.tracer.Start(ctx, "ml-training.run")
	defer span.End()

	res, err := s.run(ctx, now.UTC())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(
		attribute.String("mode", string(res.Mode)),
		attribute.Int("version", res.Version),
		attribute.Bool("promoted", res.Promoted),
	)
	return res, nil
}

func (s *Service) run(ctx context.Context, now time.Time) (*Result, error) {
	if s.features == nil || s.registry == nil || s.holder == nil || s.newEnsemble == nil {
		return nil, fmt.Errorf("ml training: %w", common.ErrNotReady)
	}
	runID := uuid.NewString()
	log := s.log.With().Str("run_id", runID).Logger()

	from := now.AddDate(0, 0, -s.cfg.TrainWindowDays)
	rows, err := s.features.ListLabeledRows(ctx, s.cfg.Interval, from, now)
	if err != nil {
		return nil, fmt.Errorf("load feature rows: %w", err)
	}
	ds, _ := features.ToDataset(rows)
	if ds.Len() < s.cfg.MinTrainSamples {
		return nil, &common.InsufficientDataError{
			Reason: fmt.Sprintf("%d labeled rows, need %d", ds.Len(), s.cfg.MinTrainSamples),
		}
	}

	res := &Result{RunID: runID, Samples: ds.Len(), TrainedFrom: from, TrainedTo: now}
	if s.validator != nil && s.cfg.ValidateOnTrain {
		report, err := s.validator.Validate(ctx, validation.FromEnsemble(s.newEnsemble), ds)
		if err != nil {
			return nil, fmt.Errorf("walk-forward validation: %w", err)
		}
		res.Validation = report
	}

	ens, err := s.newEnsemble()
	if err != nil {
		return nil, err
	}
	if err := ens.Fit(ctx, ds); err != nil {
		return nil, fmt.Errorf("fit %s ensemble: %w", ens.Mode(), err)
	}
	res.Mode = ens.Mode()
	if res.Summary, err = ensemble.Describe(ens); err != nil {
		return nil, err
	}
	for _, w := range res.Summary.Warnings {
		log.Warn().Str("mode", string(res.Mode)).Msg(w)
	}

	promote, err := s.shouldPromote(ctx, res.Validation)
	if err != nil {
		res.PromoteError = err.Error()
		log.Warn().Err(err).Msg("promotion check failed, keeping the active ensemble")
	}

	if err := s.register(ctx, ens, res, promote); err != nil {
		return nil, err
	}
	res.Promoted = promote

	if promote {
		s.holder.Store(ens, res.Version)
		s.publish(ctx, res)
	}
	log.Info().
		Str("mode", string(res.Mode)).
		Int("version", res.Version).
		Int("samples", res.Samples).
		Bool("promoted", res.Promoted).
		Msg("ensemble training finished")
	return res, nil
}

// RunValidation runs walk-forward validation of the configured ensemble on
// the trailing window without fitting or registering anything.
func (s *Service) RunValidation(ctx context.Context, now time.Time) (*validation.Report, error) {
	ctx, span := s.tracer.Start(ctx, "ml-training.validate")
	defer span.End()

	if s.validator == nil {
		return nil, common.NewConfigurationError("validation", "walk-forward validation is not configured")
	}
	if s.features == nil || s.newEnsemble == nil {
		return nil, fmt.Errorf("ml validation: %w", common.ErrNotReady)
	}
	now = now.UTC()
	rows, err := s.features.ListLabeledRows(ctx, s.cfg.Interval, now.AddDate(0, 0, -s.cfg.TrainWindowDays), now)
	if err != nil {
		return nil, fmt.Errorf("load feature rows: %w", err)
	}
	ds, _ := features.ToDataset(rows)
	report, err := s.validator.Validate(ctx, validation.FromEnsemble(s.newEnsemble), ds)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("folds", report.FoldsEvaluated))
	return report, nil
}

// register stores each production model, then the ensemble record that
// references their versions.
func (s *Service) register(ctx context.Context, ens ensemble.Ensemble, res *Result, activate bool) error {
	prod, err := ens.ProductionModels()
	if err != nil {
		return err
	}
	artifact := ensembleArtifact{
		Mode:          res.Mode,
		Models:        res.Summary.Models,
		ModelVersions: make(map[string]int, len(prod)),
		Weights:       res.Summary.Weights,
	}
	tmpl := domain.MLModelVersion{
		FeatureSpecVersion: features.FeatureSpecVersion(),
		TrainedFrom:        res.TrainedFrom,
		TrainedTo:          res.TrainedTo,
		TrainedAt:          res.TrainedTo,
	}

	for _, id := range res.Summary.Models {
		model := prod[id]
		blob, ok, err := models.Marshal(model)
		if err != nil {
			return fmt.Errorf("marshal %s: %w", id, err)
		}
		mr := ModelResult{ID: id, Stored: ok}
		if ok {
			mv := tmpl
			mv.ModelKey = id
			mv.ArtifactFormat = models.ArtifactFormat(model)
			mv.ArtifactBlob = blob
			mv.HyperparamsJSON = mustJSON(map[string]any{"run_id": res.RunID, "ensemble_mode": res.Mode})
			stored, err := s.registry.Register(ctx, mv, activate)
			if err != nil {
				return fmt.Errorf("register %s: %w", id, err)
			}
			mr.Version = stored.Version
			mr.Format = stored.ArtifactFormat
			artifact.ModelVersions[id] = stored.Version
		}
		res.Models = append(res.Models, mr)
	}

	if st, ok := ens.(*ensemble.Stacking); ok {
		if meta, err := st.MetaModel(); err == nil {
			if blob, ok, err := models.Marshal(meta); err == nil && ok {
				artifact.Meta = blob
				artifact.MetaFormat = models.ArtifactFormat(meta)
			}
		}
	}

	blob, err := json.Marshal(artifact)
	if err != nil {
		return fmt.Errorf("encode ensemble artifact: %w", err)
	}
	mv := tmpl
	mv.ModelKey = common.ModelKeyEnsemble
	mv.ArtifactFormat = EnsembleArtifactFormat
	mv.ArtifactBlob = blob
	mv.HyperparamsJSON = mustJSON(map[string]any{"run_id": res.RunID, "mode": res.Mode, "models": res.Summary.Models})
	mv.MetricsJSON = mustJSON(metricsOf(res))
	stored, err := s.registry.Register(ctx, mv, activate)
	if err != nil {
		return fmt.Errorf("register ensemble: %w", err)
	}
	res.Version = stored.Version
	return nil
}

func (s *Service) shouldPromote(ctx context.Context, report *validation.Report) (bool, error) {
	active, err := s.registry.GetActive(ctx, common.ModelKeyEnsemble)
	if err != nil {
		return false, err
	}
	if active == nil || report == nil || report.NoFolds {
		return true, nil
	}
	prev, ok := metricValue(active.MetricsJSON, "directional_accuracy")
	if !ok {
		return true, nil
	}
	return report.DirectionalAccuracy >= prev-s.cfg.PromotionTolerance, nil
}

func (s *Service) publish(ctx context.Context, res *Result) {
	if s.publisher == nil {
		return
	}
	snap := cache.WeightSnapshot{
		Mode:           string(res.Mode),
		Version:        res.Version,
		Weights:        res.Summary.Weights,
		Regime:         res.Summary.Regime,
		DiversityIndex: res.Summary.DiversityIndex,
		UpdatedAt:      res.TrainedTo,
	}
	if err := s.publisher.Publish(ctx, snap); err != nil {
		s.log.Warn().Err(err).Msg("publish weight snapshot")
	}
}

func metricsOf(res *Result) map[string]float64 {
	m := map[string]float64{"samples": float64(res.Samples)}
	if r := res.Validation; r != nil && !r.NoFolds {
		m["directional_accuracy"] = r.DirectionalAccuracy
		m["mae"] = r.MAE
		m["rmse"] = r.RMSE
		m["mape"] = r.MAPE
		m["folds_evaluated"] = float64(r.FoldsEvaluated)
		m["folds_skipped"] = float64(r.FoldsSkipped)
	}
	return m
}

func metricValue(metricsJSON, key string) (float64, bool) {
	var m map[string]float64
	if err := json.Unmarshal([]byte(metricsJSON), &m); err != nil {
		return 0, false
	}
	v, ok := m[key]
	return v, ok
}

func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(b)
}
