// Package inference refreshes feature rows from stored candles, scores the
// latest bars with the installed ensemble and resolves forecasts whose
// horizon has elapsed.
package inference

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"stockcast/internal/cache"
	"stockcast/internal/domain"
	"stockcast/internal/ml/common"
	"stockcast/internal/ml/ensemble"
	"stockcast/internal/ml/features"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type CandleReader interface {
	GetCandlesInRange(ctx context.Context, symbol, interval string, from, to time.Time) ([]*domain.Candle, error)
}

type FeatureStore interface {
	UpsertRows(ctx context.Context, rows []domain.MLFeatureRow) error
	ListLatestByInterval(ctx context.Context, interval string) ([]domain.MLFeatureRow, error)
	ListLabeledRows(ctx context.Context, interval string, from, to time.Time) ([]domain.MLFeatureRow, error)
}

type PredictionStore interface {
	UpsertPrediction(ctx context.Context, p domain.MLPrediction) (*domain.MLPrediction, error)
	ListUnresolvedDue(ctx context.Context, cutoff time.Time, limit int) ([]domain.MLPrediction, error)
	Resolve(ctx context.Context, id int64, actualReturn, absError float64, isCorrect bool) error
}

type WeightPublisher interface {
	Publish(ctx context.Context, snap cache.WeightSnapshot) error
}

// PredictionRecorder counts persisted forecasts.
type PredictionRecorder interface {
	ObservePrediction(mode, direction string)
}

type Config struct {
	Interval  string
	Horizon   int
	Watchlist []string
	// LookbackBars is how many bars of candles feed each feature refresh.
	LookbackBars       int
	DirectionThreshold float64
	ResolveLimit       int
}

type Service struct {
	tracer      trace.Tracer
	log         zerolog.Logger
	candles     CandleReader
	features    FeatureStore
	predictions PredictionStore
	holder      *ensemble.Holder
	publisher   WeightPublisher
	recorder    PredictionRecorder
	engine      *features.Engine
	cfg         Config
}

type Option func(*Service)

func WithLogger(l zerolog.Logger) Option {
	return func(s *Service) { s.log = l }
}

func WithPublisher(p WeightPublisher) Option {
	return func(s *Service) { s.publisher = p }
}

func WithRecorder(r PredictionRecorder) Option {
	return func(s *Service) { s.recorder = r }
}

func WithEngine(e *features.Engine) Option {
	return func(s *Service) { s.engine = e }
}

func NewService(
	tracer trace.Tracer,
	candles CandleReader,
	featureStore FeatureStore,
	predictions PredictionStore,
	holder *ensemble.Holder,
	cfg Config,
	opts ...Option,
) *Service {
	if cfg.Interval == "" {
		cfg.Interval = "1h"
	}
	if cfg.Horizon <= 0 {
		cfg.Horizon = features.DefaultHorizon
	}
	if len(cfg.Watchlist) == 0 {
		cfg.Watchlist = domain.DefaultWatchlist
	}
	if cfg.LookbackBars <= 0 {
		cfg.LookbackBars = 240
	}
	if cfg.DirectionThreshold <= 0 {
		cfg.DirectionThreshold = ensemble.DefaultDirectionThreshold
	}
	if cfg.ResolveLimit <= 0 {
		cfg.ResolveLimit = 500
	}
	s := &Service{
		tracer:      tracer,
		log:         zerolog.Nop(),
		candles:     candles,
		features:    featureStore,
		predictions: predictions,
		holder:      holder,
		cfg:         cfg,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.engine == nil {
		s.engine = features.NewEngine(nil)
	}
	return s
}

// IntervalDuration returns the bar length for interval.
func IntervalDuration(interval string) (time.Duration, error) {
	switch interval {
	case "1d":
		return 24 * time.Hour, nil
	case "1w":
		return 7 * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(interval)
	if err != nil || d <= 0 {
		return 0, common.NewConfigurationError("interval", "unsupported interval %q", interval)
	}
	return d, nil
}

// RefreshFeatures rebuilds feature rows for every watched symbol from the
// trailing LookbackBars candles. It returns the number of rows written.
func (s *Service) RefreshFeatures(ctx context.Context, now time.Time) (int, error) {
	ctx, span := s.tracer.Start(ctx, "ml-inference.refresh-features")
	defer span.End()

	if s.candles == nil || s.features == nil {
		return 0, fmt.Errorf("ml inference: %w", common.ErrNotReady)
	}
	bar, err := IntervalDuration(s.cfg.Interval)
	if err != nil {
		return 0, err
	}
	to := now.UTC()
	from := to.Add(-time.Duration(s.cfg.LookbackBars) * bar)

	written := 0
	for _, symbol := range s.cfg.Watchlist {
		candles, err := s.candles.GetCandlesInRange(ctx, symbol, s.cfg.Interval, from, to)
		if err != nil {
			span.RecordError(err)
			return written, fmt.Errorf("load %s candles: %w", symbol, err)
		}
		rows := s.engine.BuildRows(candles, s.cfg.Horizon)
		if len(rows) == 0 {
			s.log.Debug().Str("symbol", symbol).Int("candles", len(candles)).Msg("not enough candles for features")
			continue
		}
		if err := s.features.UpsertRows(ctx, rows); err != nil {
			span.RecordError(err)
			return written, fmt.Errorf("store %s features: %w", symbol, err)
		}
		written += len(rows)
	}
	span.SetAttributes(attribute.Int("rows", written))
	return written, nil
}

type RunResult struct {
	Mode        ensemble.Mode         `json:"mode"`
	Version     int                   `json:"version"`
	Predictions []domain.MLPrediction `json:"predictions"`
}

// details is stored with every forecast so resolution can replay the
// per-model outputs into a weight update.
type details struct {
	Models       map[string]float64 `json:"models"`
	Contributing []string           `json:"contributing,omitempty"`
	Horizon      int                `json:"horizon"`
}

// RunInference scores the latest feature row of every symbol with the
// installed ensemble. It returns common.ErrNotFitted when none is installed.
func (s *Service) RunInference(ctx context.Context, now time.Time) (*RunResult, error) {
	ctx, span := s.tracer.Start(ctx, "ml-inference.run")
	defer span.End()

	res, err := s.runInference(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("predictions", len(res.Predictions)))
	return res, nil
}

func (s *Service) runInference(ctx context.Context) (*RunResult, error) {
	if s.features == nil || s.predictions == nil || s.holder == nil {
		return nil, fmt.Errorf("ml inference: %w", common.ErrNotReady)
	}
	ens, version := s.holder.Load()
	if ens == nil {
		return nil, common.ErrNotFitted
	}
	bar, err := IntervalDuration(s.cfg.Interval)
	if err != nil {
		return nil, err
	}

	rows, err := s.features.ListLatestByInterval(ctx, s.cfg.Interval)
	if err != nil {
		return nil, fmt.Errorf("load latest features: %w", err)
	}
	res := &RunResult{Mode: ens.Mode(), Version: version, Predictions: make([]domain.MLPrediction, 0, len(rows))}
	if len(rows) == 0 {
		return res, nil
	}

	X := features.Matrix(rows)
	combined, err := ens.Predict(X)
	if err != nil {
		return nil, fmt.Errorf("ensemble predict: %w", err)
	}
	perModel, err := ens.ModelPredictions(X)
	if err != nil {
		return nil, fmt.Errorf("model predictions: %w", err)
	}

	for i, row := range rows {
		c := combined[i]
		d := details{Models: make(map[string]float64, len(perModel)), Contributing: c.ContributingModels, Horizon: s.cfg.Horizon}
		for id, preds := range perModel {
			d.Models[id] = roundFloat(preds[i])
		}
		weightsJSON := "{}"
		if c.WeightsUsed.Len() > 0 {
			if b, err := json.Marshal(c.WeightsUsed); err == nil {
				weightsJSON = string(b)
			}
		}
		direction := ensemble.Direction(c.Value, s.cfg.DirectionThreshold)
		pred, err := s.predictions.UpsertPrediction(ctx, domain.MLPrediction{
			Symbol:       row.Symbol,
			Interval:     row.Interval,
			OpenTime:     row.OpenTime.UTC(),
			TargetTime:   row.OpenTime.UTC().Add(time.Duration(s.cfg.Horizon) * bar),
			ModelKey:     common.ModelKeyEnsemble,
			ModelVersion: version,
			Mode:         string(ens.Mode()),
			Value:        c.Value,
			Direction:    direction,
			WeightsJSON:  weightsJSON,
			DetailsJSON:  mustJSON(d),
		})
		if err != nil {
			return res, fmt.Errorf("store %s prediction: %w", row.Symbol, err)
		}
		res.Predictions = append(res.Predictions, *pred)
		if s.recorder != nil {
			s.recorder.ObservePrediction(string(ens.Mode()), string(direction))
		}
	}
	s.log.Info().
		Str("mode", string(res.Mode)).
		Int("version", version).
		Int("predictions", len(res.Predictions)).
		Msg("ensemble inference finished")
	return res, nil
}

type ResolveResult struct {
	Due            int                   `json:"due"`
	Resolved       int                   `json:"resolved"`
	WeightsUpdated bool                  `json:"weights_updated"`
	Weights        map[string]float64    `json:"weights,omitempty"`
	Snapshot       *cache.WeightSnapshot `json:"-"`
	Outcomes       []domain.MLPrediction `json:"-"`
}

// ResolveOutcomes records realised returns for forecasts whose target time
// has passed. Resolved forecasts of the installed weighted ensemble are
// replayed as a batch into its weight update.
func (s *Service) ResolveOutcomes(ctx context.Context, now time.Time) (*ResolveResult, error) {
	ctx, span := s.tracer.Start(ctx, "ml-inference.resolve-outcomes")
	defer span.End()

	res, err := s.resolve(ctx, now.UTC())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("resolved", res.Resolved), attribute.Bool("weights_updated", res.WeightsUpdated))
	return res, nil
}

func (s *Service) resolve(ctx context.Context, now time.Time) (*ResolveResult, error) {
	if s.features == nil || s.predictions == nil {
		return nil, fmt.Errorf("ml inference: %w", common.ErrNotReady)
	}
	due, err := s.predictions.ListUnresolvedDue(ctx, now, s.cfg.ResolveLimit)
	if err != nil {
		return nil, fmt.Errorf("list due predictions: %w", err)
	}
	res := &ResolveResult{Due: len(due)}
	if len(due) == 0 {
		return res, nil
	}

	from, to := due[0].OpenTime, due[0].OpenTime
	for _, p := range due[1:] {
		if p.OpenTime.Before(from) {
			from = p.OpenTime
		}
		if p.OpenTime.After(to) {
			to = p.OpenTime
		}
	}
	labeled, err := s.features.ListLabeledRows(ctx, s.cfg.Interval, from, to)
	if err != nil {
		return nil, fmt.Errorf("load labeled rows: %w", err)
	}
	byKey := make(map[string]domain.MLFeatureRow, len(labeled))
	for _, row := range labeled {
		byKey[rowKey(row.Symbol, row.OpenTime)] = row
	}

	var (
		ens     ensemble.Ensemble
		version int
	)
	if s.holder != nil {
		ens, version = s.holder.Load()
	}
	weighted, _ := ens.(ensemble.Weighted)
	var ids []string
	if weighted != nil {
		if w, err := weighted.Weights(); err == nil {
			ids = w.IDs()
		}
	}
	batch := ensemble.Batch{Predictions: make(map[string][]float64, len(ids))}
	volSum := 0.0

	for _, p := range due {
		row, ok := byKey[rowKey(p.Symbol, p.OpenTime)]
		if !ok {
			continue
		}
		actual, ok := common.TargetValue(row)
		if !ok {
			continue
		}
		absErr := math.Abs(p.Value - actual)
		correct := (p.Value > 0 && actual > 0) || (p.Value < 0 && actual < 0)
		if err := s.predictions.Resolve(ctx, p.ID, actual, absErr, correct); err != nil {
			return res, fmt.Errorf("resolve prediction %d: %w", p.ID, err)
		}
		resolvedAt := now
		p.ResolvedAt, p.ActualReturn, p.AbsError, p.IsCorrect = &resolvedAt, &actual, &absErr, &correct
		res.Outcomes = append(res.Outcomes, p)
		res.Resolved++

		// Only forecasts of the served version feed its weights.
		if weighted == nil || p.Mode != string(weighted.Mode()) || p.ModelVersion != version {
			continue
		}
		if models, ok := modelOutputs(p.DetailsJSON, ids); ok {
			for _, id := range ids {
				batch.Predictions[id] = append(batch.Predictions[id], models[id])
			}
			batch.Targets = append(batch.Targets, actual)
			volSum += row.Volatility24
		}
	}

	if len(batch.Targets) == 0 {
		return res, nil
	}
	batch.Volatility = volSum / float64(len(batch.Targets))
	w, err := weighted.UpdateWeights(batch)
	if err != nil {
		s.log.Warn().Err(err).Int("batch", len(batch.Targets)).Msg("ensemble weight update failed")
		return res, nil
	}
	res.WeightsUpdated = true
	res.Weights = w.Map()
	s.publishWeights(ctx, weighted, now, res)
	s.log.Info().
		Int("resolved", res.Resolved).
		Int("batch", len(batch.Targets)).
		Float64("volatility", batch.Volatility).
		Msg("ensemble weights updated from resolved outcomes")
	return res, nil
}

func (s *Service) publishWeights(ctx context.Context, ens ensemble.Ensemble, now time.Time, res *ResolveResult) {
	summary, err := ensemble.Describe(ens)
	if err != nil {
		return
	}
	_, version := s.holder.Load()
	snap := cache.WeightSnapshot{
		Mode:           string(summary.Mode),
		Version:        version,
		Weights:        summary.Weights,
		Regime:         summary.Regime,
		DiversityIndex: summary.DiversityIndex,
		UpdatedAt:      now,
	}
	res.Snapshot = &snap
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, snap); err != nil {
		s.log.Warn().Err(err).Msg("publish weight snapshot")
	}
}

// modelOutputs decodes the stored per-model outputs. It reports false
// unless every id is present.
func modelOutputs(detailsJSON string, ids []string) (map[string]float64, bool) {
	if len(ids) == 0 {
		return nil, false
	}
	var d details
	if err := json.Unmarshal([]byte(detailsJSON), &d); err != nil {
		return nil, false
	}
	for _, id := range ids {
		if _, ok := d.Models[id]; !ok {
			return nil, false
		}
	}
	return d.Models, true
}

func rowKey(symbol string, openTime time.Time) string {
	return symbol + "|" + openTime.UTC().Format(time.RFC3339)
}

func roundFloat(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return math.Round(v*1e8) / 1e8
}

func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(b)
}
