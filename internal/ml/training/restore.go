package training

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"time"

	"stockcast/internal/domain"
	"stockcast/internal/ml/base"
	"stockcast/internal/ml/common"
	"stockcast/internal/ml/ensemble"
	"stockcast/internal/ml/models"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Activation describes an ensemble version installed from the registry.
type Activation struct {
	Version       int              `json:"version"`
	Mode          ensemble.Mode    `json:"mode"`
	ModelVersions map[string]int   `json:"model_versions"`
	Summary       ensemble.Summary `json:"summary"`
}

// RestoreActive rebuilds the active ensemble record from the registry and
// installs it when nothing is served yet. It reports whether it installed
// anything.
func (s *Service) RestoreActive(ctx context.Context) (*Activation, bool, error) {
	ctx, span := s.tracer.Start(ctx, "ml-training.restore-active")
	defer span.End()

	if s.registry == nil || s.holder == nil || s.newEnsemble == nil {
		return nil, false, fmt.Errorf("ml restore: %w", common.ErrNotReady)
	}
	if ens, _ := s.holder.Load(); ens != nil {
		return nil, false, nil
	}
	rec, err := s.registry.GetActive(ctx, common.ModelKeyEnsemble)
	if err != nil {
		return nil, false, fmt.Errorf("load active ensemble: %w", err)
	}
	if rec == nil {
		return nil, false, nil
	}
	ens, act, err := s.rebuild(ctx, rec)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, false, err
	}
	s.holder.Store(ens, act.Version)
	span.SetAttributes(attribute.Int("version", act.Version))
	s.log.Info().Int("version", act.Version).Str("mode", string(act.Mode)).Msg("active ensemble restored from registry")
	return act, true, nil
}

// ListVersions returns recent ensemble records, newest first.
func (s *Service) ListVersions(ctx context.Context, limit int) ([]domain.MLModelVersion, error) {
	if s.registry == nil {
		return nil, fmt.Errorf("ml registry: %w", common.ErrNotReady)
	}
	return s.registry.ListVersions(ctx, common.ModelKeyEnsemble, limit)
}

// ActivateVersion rolls the served ensemble to a stored version. The
// ensemble record and the model versions it references become active
// together.
func (s *Service) ActivateVersion(ctx context.Context, version int, now time.Time) (*Activation, error) {
	ctx, span := s.tracer.Start(ctx, "ml-training.activate-version")
	defer span.End()
	span.SetAttributes(attribute.Int("version", version))

	if s.registry == nil || s.holder == nil || s.newEnsemble == nil {
		return nil, fmt.Errorf("ml activate: %w", common.ErrNotReady)
	}
	rec, err := s.registry.GetVersion(ctx, common.ModelKeyEnsemble, version)
	if err != nil {
		return nil, fmt.Errorf("load ensemble version %d: %w", version, err)
	}
	if rec == nil {
		return nil, fmt.Errorf("ensemble version %d: %w", version, common.ErrVersionNotFound)
	}
	ens, act, err := s.rebuild(ctx, rec)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	keys := maps.Clone(act.ModelVersions)
	keys[common.ModelKeyEnsemble] = version
	if err := s.registry.Activate(ctx, keys); err != nil {
		return nil, fmt.Errorf("activate ensemble version %d: %w", version, err)
	}
	s.holder.Store(ens, version)
	s.publish(ctx, &Result{Mode: act.Mode, Version: version, Summary: act.Summary, TrainedTo: now.UTC()})
	s.log.Info().Int("version", version).Str("mode", string(act.Mode)).Msg("ensemble version activated")
	return act, nil
}

// rebuild decodes an ensemble record and its model artifacts into a ready
// ensemble of the configured mode.
func (s *Service) rebuild(ctx context.Context, rec *domain.MLModelVersion) (ensemble.Ensemble, *Activation, error) {
	if rec.ArtifactFormat != EnsembleArtifactFormat {
		return nil, nil, common.NewConfigurationError("artifact_format", "ensemble version %d has format %q", rec.Version, rec.ArtifactFormat)
	}
	var art ensembleArtifact
	if err := json.Unmarshal(rec.ArtifactBlob, &art); err != nil {
		return nil, nil, fmt.Errorf("decode ensemble version %d: %w", rec.Version, err)
	}

	ens, err := s.newEnsemble()
	if err != nil {
		return nil, nil, err
	}
	if ens.Mode() != art.Mode {
		return nil, nil, common.NewConfigurationError("mode", "ensemble version %d was trained as %q, serving %q", rec.Version, art.Mode, ens.Mode())
	}

	ids := art.Models
	if len(ids) == 0 {
		ids = slices.Sorted(maps.Keys(art.ModelVersions))
	}
	fitted := ensemble.Fitted{IDs: ids, Models: make([]base.Model, len(ids))}
	for j, id := range ids {
		v, ok := art.ModelVersions[id]
		if !ok {
			return nil, nil, common.NewConfigurationError("models", "ensemble version %d has no stored artifact for %q", rec.Version, id)
		}
		mv, err := s.registry.GetVersion(ctx, id, v)
		if err != nil {
			return nil, nil, fmt.Errorf("load %s version %d: %w", id, v, err)
		}
		if mv == nil {
			return nil, nil, fmt.Errorf("%s version %d: %w", id, v, common.ErrVersionNotFound)
		}
		if fitted.Models[j], err = models.Unmarshal(mv.ArtifactFormat, mv.ArtifactBlob); err != nil {
			return nil, nil, fmt.Errorf("decode %s version %d: %w", id, v, err)
		}
	}

	if art.Mode == ensemble.ModeStacking {
		if len(art.Meta) == 0 {
			return nil, nil, common.NewConfigurationError("meta_model", "ensemble version %d has no stored meta-model", rec.Version)
		}
		format := art.MetaFormat
		if format == "" {
			format = models.FormatRidge
		}
		if fitted.Meta, err = models.Unmarshal(format, art.Meta); err != nil {
			return nil, nil, fmt.Errorf("decode meta-model: %w", err)
		}
	} else {
		fitted.Weights = storedWeights(ids, art.Weights)
	}

	if err := ensemble.Restore(ens, fitted); err != nil {
		return nil, nil, fmt.Errorf("restore ensemble version %d: %w", rec.Version, err)
	}
	summary, err := ensemble.Describe(ens)
	if err != nil {
		return nil, nil, err
	}
	return ens, &Activation{
		Version:       rec.Version,
		Mode:          art.Mode,
		ModelVersions: art.ModelVersions,
		Summary:       summary,
	}, nil
}

// storedWeights aligns stored weights with ids, or returns nil when any is
// missing so the ensemble starts uniform.
func storedWeights(ids []string, stored map[string]float64) []float64 {
	out := make([]float64, len(ids))
	for j, id := range ids {
		w, ok := stored[id]
		if !ok {
			return nil
		}
		out[j] = w
	}
	return out
}
